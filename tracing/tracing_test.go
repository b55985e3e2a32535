package tracing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRecordingProvider(t *testing.T) (*Provider, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewProvider(tp, discardLogger()), sr
}

func attrValue(span sdktrace.ReadOnlySpan, key string) (string, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}

func TestSetup_Disabled(t *testing.T) {
	p, err := Setup(context.Background(), Options{Enabled: false}, discardLogger())
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetup_EnabledWithUnreachableCollector(t *testing.T) {
	p, err := Setup(context.Background(), Options{
		Enabled:        true,
		Endpoint:       "127.0.0.1:1",
		ServiceName:    "task-service",
		ServiceVersion: "test",
		Environment:    "test",
	}, discardLogger())
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "work")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Export fails, but shutdown must still return.
	_ = p.Shutdown(ctx)
}

func TestStartDB(t *testing.T) {
	p, sr := newRecordingProvider(t)

	_, span := StartDB(context.Background(), p.Tracer(), "postgresql", "SELECT", "tasks")
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "SELECT tasks", spans[0].Name())
	assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind())

	v, ok := attrValue(spans[0], "db.collection.name")
	assert.True(t, ok)
	assert.Equal(t, "tasks", v)
	v, _ = attrValue(spans[0], "db.operation.name")
	assert.Equal(t, "SELECT", v)
}

func TestRecordError(t *testing.T) {
	p, sr := newRecordingProvider(t)

	_, span := p.Tracer().Start(context.Background(), "op")
	RecordError(span, nil, "ignored")
	End(span, errors.New("boom"), "storage_unavailable")

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	v, _ := attrValue(spans[0], "error.type")
	assert.Equal(t, "storage_unavailable", v)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}

func newTracedApp(p *Provider) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(Middleware(p.Tracer(), p.Propagator(), time.Second))
	app.Get("/tasks/:id", func(c *fiber.Ctx) error {
		_, child := p.Tracer().Start(c.UserContext(), "child")
		child.End()
		return c.SendString("ok")
	})
	app.Get("/fail", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusServiceUnavailable, "down")
	})
	return app
}

func TestMiddleware_ContinuesInboundTrace(t *testing.T) {
	p, sr := newRecordingProvider(t)
	app := newTracedApp(p)

	req := httptest.NewRequest("GET", "/tasks/42", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", resp.Header.Get(TraceIDHeader))

	spans := sr.Ended()
	require.Len(t, spans, 2)

	child, root := spans[0], spans[1]
	assert.Equal(t, "GET /tasks/:id", root.Name())
	assert.Equal(t, trace.SpanKindServer, root.SpanKind())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", root.SpanContext().TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", root.Parent().SpanID().String())
	assert.Equal(t, root.SpanContext().SpanID(), child.Parent().SpanID())

	v, _ := attrValue(root, "http.response.status_code")
	assert.Equal(t, "200", v)
}

func TestMiddleware_MarksServerErrors(t *testing.T) {
	p, sr := newRecordingProvider(t)
	app := newTracedApp(p)

	resp, err := app.Test(httptest.NewRequest("GET", "/fail", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	v, _ := attrValue(spans[0], "http.response.status_code")
	assert.Equal(t, "503", v)
}
