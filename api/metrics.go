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
)

const (
	tracerName      = "tasklist/api"
	requestSpanName = "tasks.request"
	metricsLogMsg   = "tasks.request.metrics"
	metricsCtxKey   = "tasks.metrics"
)

type requestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	route         string
	start         time.Time
	storeDuration time.Duration
	filter        string
	tasksReturned int
	errorStage    string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*requestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.route", route)),
	)
	return &requestMetrics{
		logger:        logger,
		span:          span,
		route:         route,
		start:         time.Now(),
		tasksReturned: -1,
	}, spanCtx
}

func (m *requestMetrics) ObserveStore(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.storeDuration = duration
}

func (m *requestMetrics) SetFilter(filter string) {
	if m == nil {
		return
	}
	m.filter = filter
}

func (m *requestMetrics) SetTasksReturned(count int) {
	if m == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if m == nil || stage == "" {
		return
	}
	m.errorStage = stage
}

// Log ends the request span and emits one structured log entry.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	total := durationToMillis(time.Since(m.start))

	fields := log.Fields{
		"route":    m.route,
		"status":   status,
		"total_ms": total,
	}
	attrs := []attribute.KeyValue{
		attribute.Int("http.status_code", status),
		attribute.Float64("tasks.total_ms", total),
	}
	if m.storeDuration > 0 {
		fields["store_ms"] = durationToMillis(m.storeDuration)
		attrs = append(attrs, attribute.Float64("tasks.store_ms", durationToMillis(m.storeDuration)))
	}
	if m.filter != "" {
		fields["filter"] = m.filter
		attrs = append(attrs, attribute.String("tasks.filter", m.filter))
	}
	if m.tasksReturned >= 0 {
		fields["tasks_returned"] = m.tasksReturned
		attrs = append(attrs, attribute.Int("tasks.returned", m.tasksReturned))
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
		attrs = append(attrs, attribute.String("tasks.error_stage", m.errorStage))
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		switch {
		case err != nil:
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		case status >= http.StatusInternalServerError:
			m.span.SetStatus(codes.Error, http.StatusText(status))
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger != nil {
		m.logger.WithFields(fields).Info(metricsLogMsg)
	}
}

// instrument wraps h with a request span and a metrics log entry.
func instrument(route string, logger *log.Logger, h echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, spanCtx := newRequestMetrics(c.Request().Context(), logger, route)
		c.SetRequest(c.Request().WithContext(spanCtx))
		c.Set(metricsCtxKey, metrics)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()
		return h(c)
	}
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(metricsCtxKey).(*requestMetrics)
	return m
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
