package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	rspc "github.com/specta-rs/rspc-sub002"
)

// Logging logs the start and end of every call and each error item in
// between. Starts and ends are logged at debug level, errors at warn.
func Logging(log *zap.Logger) rspc.Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("procedure")

	return rspc.Transparent("logging", func(ctx context.Context, in *rspc.Input, meta rspc.ProcedureMeta, next func(context.Context, *rspc.Input) *rspc.Stream) *rspc.Stream {
		fields := []zap.Field{
			zap.String("procedure", meta.Name),
			zap.Stringer("kind", meta.Kind),
		}
		if id, ok := CorrelationIDFromContext(ctx); ok {
			fields = append(fields, zap.String("correlation_id", id))
		}
		if id, ok := rspc.RequestIDFromContext(ctx); ok {
			fields = append(fields, zap.Stringer("request_id", id))
		}
		l := log.With(fields...)

		start := time.Now()
		l.Debug("call started")

		var items, failures int
		return next(ctx, in).Map(func(it rspc.Item) rspc.Item {
			items++
			if it.Err != nil {
				failures++
				e := rspc.AsError(it.Err)
				l.Warn("call yielded an error",
					zap.Int("code", e.Code),
					zap.String("code_name", rspc.CodeName(e.Code)),
					zap.Error(it.Err),
				)
			}
			return it
		}).OnClose(func() {
			l.Debug("call finished",
				zap.Duration("duration", time.Since(start)),
				zap.Int("items", items),
				zap.Int("errors", failures),
			)
		})
	})
}
