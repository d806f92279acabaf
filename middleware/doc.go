// Package middleware provides context-agnostic layers for rspc procedures:
// correlation ids, structured logging, Prometheus metrics, OpenTelemetry
// tracing, per-key rate limiting and timeouts.
//
// Every layer is built with rspc.Transparent, so it can sit anywhere in a
// chain regardless of the procedure context type:
//
//	base := rspc.NewBuilder[AppCtx]().With(
//		middleware.CorrelationID(),
//		middleware.Logging(log),
//		middleware.Timeout(5*time.Second),
//	)
package middleware
