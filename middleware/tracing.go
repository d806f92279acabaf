package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	rspc "github.com/specta-rs/rspc-sub002"
)

const instrumentationName = "github.com/specta-rs/rspc-sub002"

// Tracing starts one server span per call. The span lives until the result
// stream is closed and records every error item. A nil tp uses the global
// tracer provider.
func Tracing(tp trace.TracerProvider) rspc.Middleware {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(instrumentationName)

	return rspc.Transparent("tracing", func(ctx context.Context, in *rspc.Input, meta rspc.ProcedureMeta, next func(context.Context, *rspc.Input) *rspc.Stream) *rspc.Stream {
		attrs := []attribute.KeyValue{
			attribute.String("rpc.system", "rspc"),
			attribute.String("rpc.method", meta.Name),
			attribute.String("rspc.kind", meta.Kind.String()),
		}
		if id, ok := CorrelationIDFromContext(ctx); ok {
			attrs = append(attrs, attribute.String("rspc.correlation_id", id))
		}
		ctx, span := tracer.Start(ctx, "rspc/"+meta.Name,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)

		var items int
		var last *rspc.Error
		return next(ctx, in).Map(func(it rspc.Item) rspc.Item {
			items++
			if it.Err != nil {
				last = rspc.AsError(it.Err)
				span.RecordError(it.Err, trace.WithAttributes(
					attribute.Int("rspc.error.code", last.Code),
					attribute.String("rspc.error.type", rspc.CodeName(last.Code)),
				))
			}
			return it
		}).OnClose(func() {
			span.SetAttributes(attribute.Int("rspc.items", items))
			if last != nil {
				span.SetStatus(codes.Error, last.Message)
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()
		})
	})
}
