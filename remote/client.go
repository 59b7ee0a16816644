// Package remote performs single create/update/patch/delete calls against the
// backend REST API and maps failures onto a typed error taxonomy.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"prism-client/domain"
)

// Op is a mutating remote operation.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpPatch  Op = "patch"
	OpDelete Op = "delete"
)

const (
	tracerName           = "prism-client/remote"
	headerIdempotencyKey = "Idempotency-Key"
	maxResponseSize      = 1 << 20 // 1 MiB
)

var codec = sonic.ConfigStd

var errMissingID = errors.New("resource id is required")

// TokenSource supplies the bearer credential for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to the backend of record. It never retries.
type Client struct {
	baseURL     string
	http        *http.Client
	tokens      TokenSource
	logger      *log.Logger
	tracer      trace.Tracer
	onAuthError func(error)
	newKey      func() string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			return
		}
		hc := *c.http
		hc.Timeout = d
		c.http = &hc
	}
}

// WithAuthErrorHandler registers fn for 401/403 responses, typically to end
// the session.
func WithAuthErrorHandler(fn func(error)) Option {
	return func(c *Client) { c.onAuthError = fn }
}

// New creates a Client for the API rooted at baseURL.
func New(baseURL string, tokens TokenSource, logger *log.Logger, opts ...Option) *Client {
	if logger == nil {
		panic("remote.New: logger is nil")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		tokens:  tokens,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		newKey:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Perform issues one mutating call and returns the server's canonical
// representation of the resource, or a tombstone for deletes. A 2xx reply
// without a body yields a nil resource and a nil error.
func (c *Client) Perform(ctx context.Context, op Op, kind domain.Kind, id string, payload any) (domain.Resource, error) {
	return c.PerformAction(ctx, op, kind, id, "", payload)
}

// PerformAction is Perform against a sub-resource endpoint such as
// PATCH /tasks/{id}/status. An empty id with a non-empty action targets the
// collection, e.g. PATCH /notifications/read-all.
func (c *Client) PerformAction(ctx context.Context, op Op, kind domain.Kind, id, action string, payload any) (domain.Resource, error) {
	method, path, err := route(op, kind, id, action)
	if err != nil {
		return nil, err
	}
	status, body, err := c.do(ctx, method, path, kind, id, payload, true)
	if err != nil {
		return nil, err
	}
	if op == OpDelete {
		return domain.Tombstone{ResourceKind: kind, ID: id}, nil
	}
	if status == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
		// applied without a representation; the caller keeps its own state
		return nil, nil
	}
	return domain.Decode(kind, body)
}

// Fetch reads the canonical state of one resource.
func (c *Client) Fetch(ctx context.Context, kind domain.Kind, id string) (domain.Resource, error) {
	if id == "" {
		return nil, errMissingID
	}
	_, body, err := c.do(ctx, http.MethodGet, "/"+kind.Collection()+"/"+url.PathEscape(id), kind, id, nil, false)
	if err != nil {
		return nil, err
	}
	return domain.Decode(kind, body)
}

type listPage struct {
	Items         []sonic.NoCopyRawMessage `json:"items"`
	NextPageToken string                   `json:"nextPageToken,omitempty"`
}

// List reads every resource of kind, following page tokens.
func (c *Client) List(ctx context.Context, kind domain.Kind) ([]domain.Resource, error) {
	out := []domain.Resource{}
	token := ""
	for {
		path := "/" + kind.Collection()
		if token != "" {
			path += "?pageToken=" + url.QueryEscape(token)
		}
		_, body, err := c.do(ctx, http.MethodGet, path, kind, "", nil, false)
		if err != nil {
			return nil, err
		}
		trimmed := bytes.TrimSpace(body)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			items, err := domain.DecodeList(kind, trimmed)
			if err != nil {
				return nil, err
			}
			return append(out, items...), nil
		}
		var page listPage
		if err := codec.Unmarshal(trimmed, &page); err != nil {
			return nil, fmt.Errorf("decode %s page: %w", kind, err)
		}
		for _, item := range page.Items {
			r, err := domain.Decode(kind, item)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		if page.NextPageToken == "" || page.NextPageToken == token {
			return out, nil
		}
		token = page.NextPageToken
	}
}

func route(op Op, kind domain.Kind, id, action string) (string, string, error) {
	if _, err := domain.New(kind); err != nil {
		return "", "", err
	}
	base := "/" + kind.Collection()
	// created resources carry their provisional id in the payload
	if id != "" && op != OpCreate {
		base += "/" + url.PathEscape(id)
	}
	if action != "" {
		base += "/" + strings.Trim(action, "/")
	}
	switch op {
	case OpCreate:
		return http.MethodPost, base, nil
	case OpUpdate, OpPatch, OpDelete:
		if id == "" && action == "" {
			return "", "", fmt.Errorf("%s %s: %w", op, kind, errMissingID)
		}
		switch op {
		case OpUpdate:
			return http.MethodPut, base, nil
		case OpPatch:
			return http.MethodPatch, base, nil
		default:
			return http.MethodDelete, base, nil
		}
	}
	return "", "", fmt.Errorf("unsupported op %q", op)
}

func (c *Client) do(ctx context.Context, method, path string, kind domain.Kind, id string, payload any, mutating bool) (status int, body []byte, err error) {
	ctx, span := c.tracer.Start(ctx, "remote.perform", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
		attribute.String("prism.resource.kind", string(kind)),
	)
	start := time.Now()
	defer func() {
		span.SetAttributes(attribute.Int("http.status_code", status))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		c.logger.WithFields(log.Fields{
			"method":   method,
			"path":     path,
			"status":   status,
			"total_ms": float64(time.Since(start)) / float64(time.Millisecond),
		}).Debug("remote.request")
	}()

	var reader io.Reader
	if payload != nil {
		data, merr := codec.Marshal(payload)
		if merr != nil {
			return 0, nil, fmt.Errorf("encode payload: %w", merr)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if mutating {
		req.Header.Set(headerIdempotencyKey, c.newKey())
	}
	if c.tokens != nil {
		tok, terr := c.tokens.Token(ctx)
		if terr != nil {
			aerr := &AuthError{Status: http.StatusUnauthorized, Message: terr.Error(), Err: terr}
			return 0, nil, aerr
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &NetworkError{Method: method, URL: c.baseURL + path, Err: err}
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, nil, &NetworkError{Method: method, URL: c.baseURL + path, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, body, nil
	}

	err = classify(resp.StatusCode, body, kind, id)
	if c.onAuthError != nil && IsAuth(err) {
		c.onAuthError(err)
	}
	return resp.StatusCode, nil, err
}
