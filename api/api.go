// Package api is the local gateway the UI shell binds to. It exposes the
// mirrored resources over HTTP, routes user actions through the mutation
// controller and streams store changes over SSE.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-client/domain"
	"prism-client/mutation"
	"prism-client/session"
	"prism-client/store"
)

const (
	maxBodySize      = 64 << 10
	defaultHeartbeat = 30 * time.Second
)

// Controller is the mutation controller as seen by the gateway.
type Controller interface {
	Apply(ctx context.Context, in mutation.Intent) (mutation.Result, error)
	ApplyAll(ctx context.Context, intents []mutation.Intent) ([]mutation.Result, error)
	Load(ctx context.Context, kind domain.Kind, id string) (domain.Resource, error)
	LoadAll(ctx context.Context, kind domain.Kind) ([]domain.Resource, error)
}

var _ Controller = (*mutation.Controller)(nil)

// Sessions manages the signed-in identity.
type Sessions interface {
	SignIn(token string) (session.Session, error)
	SignOut(reason string)
	Current() (session.Session, bool)
}

var _ Sessions = (*session.Provider)(nil)

// Register wires up all gateway routes on the provided Echo instance.
func Register(e *echo.Echo, ctrl Controller, reader store.Reader, p mutation.Performer, sessions Sessions, logger *log.Logger) {
	e.JSONSerializer = SonicSerializer{}
	e.Use(RequestMetrics(logger))
	e.Use(decompressRequest())

	e.GET("/healthz", healthz(sessions))
	e.GET("/api/session", getSession(sessions))
	e.POST("/api/session", signIn(sessions))
	e.DELETE("/api/session", signOut(sessions))

	g := e.Group("/api", requireSession(sessions))
	g.GET("/:kind", listResources(ctrl))
	g.GET("/:kind/:id", getResource(ctrl))

	g.POST("/tasks", createTask(ctrl, reader, p))
	g.PATCH("/tasks/:id", updateTask(ctrl, reader, p))
	g.DELETE("/tasks/:id", deleteTask(ctrl, reader, p))
	g.POST("/tasks/:id/cycle", cycleTask(ctrl, reader, p))

	manager := requireRole(sessions, session.RoleManager)
	g.POST("/projects/:id/archive", archiveProject(ctrl, reader, p, true), manager)
	g.POST("/projects/:id/unarchive", archiveProject(ctrl, reader, p, false), manager)

	g.POST("/notifications/:id/read", readNotification(ctrl, reader, p))
	g.POST("/notifications/read-all", readAllNotifications(ctrl, reader, p))

	e.GET("/stream/:kind/:id", streamResource(reader, defaultHeartbeat), requireSession(sessions))
}

type healthResponse struct {
	Status   string `json:"status"`
	SignedIn bool   `json:"signedIn"`
}

func healthz(sessions Sessions) echo.HandlerFunc {
	return func(c echo.Context) error {
		_, ok := sessions.Current()
		return c.JSON(http.StatusOK, healthResponse{Status: "ok", SignedIn: ok})
	}
}
