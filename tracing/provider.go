// Package tracing sets up OpenTelemetry and provides the span helpers used
// at every component boundary.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName names the tracer handed to every component.
const InstrumentationName = "github.com/example/task-service"

const serviceNamespace = "devops-platform"

// Options configures the tracer provider.
type Options struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Console adds a stdout exporter, used in debug mode.
	Console bool
}

// Provider owns the SDK tracer provider and the propagator.
type Provider struct {
	sdk        *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	logger     *slog.Logger
}

// Setup builds the tracer provider. When tracing is disabled the returned
// provider hands out a no-op tracer. Exporter failures after startup are
// routed to the logger and never reach request handling.
func Setup(ctx context.Context, opts Options, logger *slog.Logger) (*Provider, error) {
	propagator := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)

	if !opts.Enabled {
		logger.Info("tracing disabled")
		return &Provider{
			tracer:     noop.NewTracerProvider().Tracer(InstrumentationName),
			propagator: propagator,
			logger:     logger,
		}, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", opts.ServiceName),
		attribute.String("service.version", opts.ServiceVersion),
		attribute.String("deployment.environment", opts.Environment),
		attribute.String("service.namespace", serviceNamespace),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if opts.Console {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create console exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
		logger.Info("console span exporter enabled")
	}

	if opts.Endpoint != "" {
		exp, err := otlptracegrpc.New(ctx, endpointOptions(opts.Endpoint)...)
		if err != nil {
			// Startup continues without remote export.
			logger.Error("failed to create OTLP exporter", "endpoint", opts.Endpoint, "error", err)
		} else {
			tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
			logger.Info("OTLP span exporter enabled", "endpoint", opts.Endpoint)
		}
	} else if !opts.Console {
		logger.Warn("tracing enabled without an exporter endpoint, spans are not exported")
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagator)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		logger.Warn("span export failed, dropping spans", "error", err)
	}))

	logger.Info("tracing enabled",
		"service", opts.ServiceName,
		"version", opts.ServiceVersion,
		"environment", opts.Environment)

	return &Provider{
		sdk:        tp,
		tracer:     tp.Tracer(InstrumentationName),
		propagator: propagator,
		logger:     logger,
	}, nil
}

// NewProvider wraps an existing SDK provider. Used by tests with a span
// recorder.
func NewProvider(tp *sdktrace.TracerProvider, logger *slog.Logger) *Provider {
	return &Provider{
		sdk:        tp,
		tracer:     tp.Tracer(InstrumentationName),
		propagator: propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
		logger:     logger,
	}
}

// Tracer returns the tracer to inject into components.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Propagator returns the propagator used for inbound context extraction.
func (p *Provider) Propagator() propagation.TextMapPropagator {
	return p.propagator
}

// Shutdown flushes pending spans and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	flushErr := p.sdk.ForceFlush(ctx)
	if flushErr != nil {
		p.logger.Warn("failed to flush spans", "error", flushErr)
	}
	if err := p.sdk.Shutdown(ctx); err != nil {
		return errors.Join(flushErr, fmt.Errorf("failed to shut down tracer provider: %w", err))
	}
	return nil
}

func endpointOptions(endpoint string) []otlptracegrpc.Option {
	if strings.Contains(endpoint, "://") {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpointURL(endpoint)}
		if strings.HasPrefix(endpoint, "http://") {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return opts
	}
	return []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	}
}
