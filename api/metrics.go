package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"prism-client/domain"
	"prism-client/mutation"
	"prism-client/remote"
)

const (
	requestEventName   = "gateway.request"
	requestEventDomain = "prism.client"
	requestSpanName    = "gateway.request"
	tracerName         = "prism-client/api"
	metricsContextKey  = "prism.request.metrics"
)

type requestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	method         string
	route          string
	kind           domain.Kind
	id             string
	op             remote.Op
	mutationStatus mutation.Status
	itemsReturned  int
	errorStage     string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		))
	return &requestMetrics{
		logger:        logger,
		span:          span,
		start:         time.Now(),
		method:        method,
		route:         route,
		itemsReturned: -1,
	}, ctx
}

func (m *requestMetrics) SetResource(kind domain.Kind, id string) {
	if m == nil {
		return
	}
	m.kind = kind
	m.id = id
}

func (m *requestMetrics) SetMutationOp(op remote.Op) {
	if m == nil {
		return
	}
	m.op = op
}

func (m *requestMetrics) SetMutationStatus(status mutation.Status) {
	if m == nil {
		return
	}
	m.mutationStatus = status
}

func (m *requestMetrics) SetItemsReturned(count int) {
	if m == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	m.itemsReturned = count
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if m == nil || stage == "" {
		return
	}
	m.errorStage = stage
}

// Log emits one observability event to the logger and the request span, then
// ends the span.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	defer m.span.End()

	total := durationToMillis(time.Since(m.start))
	attrs := map[string]any{
		"http.method":               m.method,
		"http.route":                m.route,
		"http.status_code":          status,
		"prism.gateway.total_ms":    total,
		"prism.gateway.has_error":   err != nil || status >= http.StatusBadRequest,
		"prism.gateway.error_stage": m.errorStage,
	}
	spanAttrs := []attribute.KeyValue{
		attribute.Int("http.status_code", status),
		attribute.Float64("prism.gateway.total_ms", total),
	}
	if m.kind != "" {
		attrs["prism.resource.kind"] = string(m.kind)
		spanAttrs = append(spanAttrs, attribute.String("prism.resource.kind", string(m.kind)))
	}
	if m.id != "" {
		attrs["prism.resource.id"] = m.id
		spanAttrs = append(spanAttrs, attribute.String("prism.resource.id", m.id))
	}
	if m.op != "" {
		attrs["prism.mutation.op"] = string(m.op)
		spanAttrs = append(spanAttrs, attribute.String("prism.mutation.op", string(m.op)))
	}
	if m.mutationStatus != "" {
		attrs["prism.mutation.status"] = string(m.mutationStatus)
		spanAttrs = append(spanAttrs, attribute.String("prism.mutation.status", string(m.mutationStatus)))
	}
	if m.itemsReturned >= 0 {
		attrs["prism.gateway.items_returned"] = m.itemsReturned
		spanAttrs = append(spanAttrs, attribute.Int("prism.gateway.items_returned", m.itemsReturned))
	}
	if m.errorStage != "" {
		spanAttrs = append(spanAttrs, attribute.String("prism.gateway.error_stage", m.errorStage))
	} else {
		delete(attrs, "prism.gateway.error_stage")
	}

	severityText, severityNumber := severityForStatus(status, err)
	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", requestEventName),
		attribute.String("event.domain", requestEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, spanAttrs...)
	if err != nil {
		attrs["error.message"] = err.Error()
		eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
	}

	m.span.SetAttributes(spanAttrs...)
	m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
	switch {
	case err != nil:
		m.span.RecordError(err)
		m.span.SetStatus(codes.Error, err.Error())
	case status >= http.StatusInternalServerError:
		m.span.SetStatus(codes.Error, http.StatusText(status))
	default:
		m.span.SetStatus(codes.Ok, "")
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"attributes":      attrs,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if sc := m.span.SpanContext(); sc.IsValid() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	m.logger.WithFields(fields).Log(levelForSeverity(severityNumber), "observability.event")
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func levelForSeverity(n int) log.Level {
	switch {
	case n >= 17:
		return log.ErrorLevel
	case n >= 13:
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

// RequestMetrics records one observability event and span per request.
func RequestMetrics(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			m, ctx := newRequestMetrics(req.Context(), logger, req.Method, c.Path())
			c.SetRequest(req.WithContext(ctx))
			c.Set(metricsContextKey, m)

			err := next(c)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			m.Log(status, err)
			return err
		}
	}
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(metricsContextKey).(*requestMetrics)
	return m
}
