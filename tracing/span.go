package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrDBSystem     = attribute.Key("db.system")
	AttrDBCollection = attribute.Key("db.collection.name")
	AttrDBOperation  = attribute.Key("db.operation.name")
	AttrErrorType    = attribute.Key("error.type")
)

// StartDB starts a client span for one storage statement. Only the query
// shape is recorded; parameter values never are.
func StartDB(ctx context.Context, tracer trace.Tracer, system, operation, table string) (context.Context, trace.Span) {
	return tracer.Start(ctx, operation+" "+table,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrDBSystem.String(system),
			AttrDBCollection.String(table),
			AttrDBOperation.String(operation),
		),
	)
}

// RecordError marks span failed and tags it with the error kind.
// It does nothing for a nil error.
func RecordError(span trace.Span, err error, kind string) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
	span.SetAttributes(AttrErrorType.String(kind))
}

// End records err on span when non-nil and ends it.
func End(span trace.Span, err error, kind string) {
	RecordError(span, err, kind)
	span.End()
}
