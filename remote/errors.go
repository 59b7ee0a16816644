package remote

import (
	"errors"
	"fmt"
	"net/http"

	"prism-client/domain"
)

// NetworkError reports a call that produced no response, including client
// timeouts and cancelled contexts.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError reports a rejected or missing credential (401/403).
type AuthError struct {
	Status  int
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("auth error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("auth error (%d)", e.Status)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ValidationError reports a rejected payload (400/422).
type ValidationError struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("validation error (%d): %s %v", e.Status, e.Message, e.Fields)
	}
	return fmt.Sprintf("validation error (%d): %s", e.Status, e.Message)
}

// NotFoundError reports that the resource no longer exists server-side (404).
type NotFoundError struct {
	Kind domain.Kind
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ServerError reports any other non-2xx response.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server error (%d)", e.Status)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAuth reports whether err wraps an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields"`
}

func classify(status int, body []byte, kind domain.Kind, id string) error {
	var eb errorBody
	msg := ""
	if len(body) > 0 {
		if err := codec.Unmarshal(body, &eb); err == nil {
			msg = eb.Error
			if msg == "" {
				msg = eb.Message
			}
		} else {
			msg = string(body)
		}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Status: status, Message: msg}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &ValidationError{Status: status, Message: msg, Fields: eb.Fields}
	case status == http.StatusNotFound:
		return &NotFoundError{Kind: kind, ID: id}
	default:
		return &ServerError{Status: status, Message: msg}
	}
}
