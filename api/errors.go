package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"prism-client/domain"
	"prism-client/mutation"
	"prism-client/remote"
	"prism-client/session"
	"prism-client/store"
)

const (
	codeNotFound   = "not_found"
	codeValidation = "validation"
	codeAuth       = "auth"
	codeForbidden  = "forbidden"
	codeNetwork    = "network"
	codeServer     = "server"
	codeInvalid    = "invalid_request"
	codeInternal   = "internal"
)

// errorResponse reports a failure together with the resource as it stands
// locally after rollback, so a view can re-render in the same pass.
type errorResponse struct {
	Error    string            `json:"error"`
	Code     string            `json:"code"`
	Fields   map[string]string `json:"fields,omitempty"`
	Mutation mutation.Status   `json:"mutation,omitempty"`
	Seq      uint64            `json:"seq,omitempty"`
	Resource domain.Resource   `json:"resource,omitempty"`
}

func statusFor(err error) (int, string) {
	var (
		nf *remote.NotFoundError
		ve *remote.ValidationError
		ae *remote.AuthError
		ne *remote.NetworkError
		se *remote.ServerError
	)
	switch {
	case errors.Is(err, mutation.ErrNotFound), errors.As(err, &nf), errors.Is(err, domain.ErrUnknownKind):
		return http.StatusNotFound, codeNotFound
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity, codeValidation
	case errors.As(err, &ae), errors.Is(err, session.ErrNoSession):
		return http.StatusUnauthorized, codeAuth
	case errors.As(err, &ne):
		return http.StatusServiceUnavailable, codeNetwork
	case errors.As(err, &se):
		return http.StatusBadGateway, codeServer
	case errors.Is(err, mutation.ErrInvalidIntent):
		return http.StatusBadRequest, codeInvalid
	}
	return http.StatusInternalServerError, codeInternal
}

func newErrorResponse(err error, reader store.Reader, key domain.Key) (int, errorResponse) {
	status, code := statusFor(err)
	body := errorResponse{Error: err.Error(), Code: code}
	var ve *remote.ValidationError
	if errors.As(err, &ve) {
		body.Fields = ve.Fields
	}
	var me *mutation.Error
	if errors.As(err, &me) {
		body.Mutation = me.Status
		body.Seq = me.Seq
	}
	if reader != nil && key.ID != "" {
		if r, ok := reader.Get(key.Kind, key.ID); ok {
			body.Resource = r
		}
	}
	return status, body
}

func writeError(c echo.Context, err error, reader store.Reader, key domain.Key) error {
	status, body := newErrorResponse(err, reader, key)
	m := metricsFrom(c)
	m.SetErrorStage(body.Code)
	return c.JSON(status, body)
}
