package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"prism-client/session"
)

type sessionResponse struct {
	Subject   string    `json:"subject"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

func toSessionResponse(s session.Session) sessionResponse {
	return sessionResponse{Subject: s.Subject, Role: s.Role, ExpiresAt: s.ExpiresAt}
}

func getSession(sessions Sessions) echo.HandlerFunc {
	return func(c echo.Context) error {
		s, ok := sessions.Current()
		if !ok {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: session.ErrNoSession.Error(), Code: codeAuth})
		}
		return c.JSON(http.StatusOK, toSessionResponse(s))
	}
}

// signIn takes the bearer token from the Authorization header and makes it
// the active session. Any previous session's data is dropped.
func signIn(sessions Sessions) echo.HandlerFunc {
	return func(c echo.Context) error {
		m := metricsFrom(c)
		token, err := session.BearerToken(c.Request().Header)
		if err != nil {
			m.SetErrorStage("auth_header")
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error(), Code: codeAuth})
		}
		s, err := sessions.SignIn(token)
		if err != nil {
			m.SetErrorStage("auth")
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error(), Code: codeAuth})
		}
		return c.JSON(http.StatusOK, toSessionResponse(s))
	}
}

func signOut(sessions Sessions) echo.HandlerFunc {
	return func(c echo.Context) error {
		sessions.SignOut("user")
		return c.NoContent(http.StatusNoContent)
	}
}

func requireSession(sessions Sessions) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := sessions.Current(); !ok {
				metricsFrom(c).SetErrorStage("session")
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: session.ErrNoSession.Error(), Code: codeAuth})
			}
			return next(c)
		}
	}
}

func requireRole(sessions Sessions, role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s, ok := sessions.Current()
			if !ok {
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: session.ErrNoSession.Error(), Code: codeAuth})
			}
			if s.Role != role {
				metricsFrom(c).SetErrorStage("role")
				return c.JSON(http.StatusForbidden, errorResponse{Error: role + " role required", Code: codeForbidden})
			}
			return next(c)
		}
	}
}
