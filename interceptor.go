package rspc

import "context"

// RequestInterceptor allows external packages to hook into the request
// lifecycle of the WebSocket adapter. BeforeRequest is called before the
// procedure is invoked and may enrich the context. AfterRequest is called once
// the request is done: after the single response of a query or mutation, or
// when a subscription ends. err is the last error item, if any.
type RequestInterceptor interface {
	BeforeRequest(ctx context.Context, meta ProcedureMeta) context.Context
	AfterRequest(ctx context.Context, meta ProcedureMeta, err error)
}
