package tracing

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDHeader echoes the trace id back to the caller.
const TraceIDHeader = "X-Trace-Id"

// headerCarrier adapts fiber request and response headers to the
// propagation API. Reads come from the request, writes go to the response.
type headerCarrier struct {
	c *fiber.Ctx
}

func (h headerCarrier) Get(key string) string {
	return h.c.Get(key)
}

func (h headerCarrier) Set(key, value string) {
	h.c.Set(key, value)
}

func (h headerCarrier) Keys() []string {
	var keys []string
	h.c.Request().Header.VisitAll(func(k, _ []byte) {
		keys = append(keys, string(k))
	})
	return keys
}

var _ propagation.TextMapCarrier = headerCarrier{}

// Middleware starts the root server span of every request, continuing an
// inbound trace when one is propagated, and installs the span context with
// the request deadline as the fiber user context.
func Middleware(tracer trace.Tracer, propagator propagation.TextMapPropagator, timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		parent := propagator.Extract(c.UserContext(), headerCarrier{c: c})

		ctx, span := tracer.Start(parent, "HTTP "+c.Method(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Method()),
				attribute.String("url.path", c.Path()),
				attribute.String("client.address", c.IP()),
			),
		)
		defer span.End()

		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		c.SetUserContext(ctx)

		if sc := span.SpanContext(); sc.HasTraceID() {
			c.Set(TraceIDHeader, sc.TraceID().String())
		}

		err := c.Next()

		route := c.Route().Path
		span.SetName(c.Method() + " " + route)
		span.SetAttributes(attribute.String("http.route", route))

		status := c.Response().StatusCode()
		if err != nil {
			// The app error handler has not written the response yet.
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
			span.RecordError(err)
		}
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= fiber.StatusInternalServerError {
			span.SetStatus(codes.Error, strconv.Itoa(status))
		}

		return err
	}
}
