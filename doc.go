// Package rspc is the execution core of a typed remote procedure framework.
//
// A [Procedure] is a named query, mutation or subscription: a chain of
// [Middleware] ending in a resolver, compiled once and shared by every call.
// Invoking a procedure never fails synchronously; it returns a [Stream] whose
// items are the results. Queries and mutations yield exactly one item,
// subscriptions yield items until they end, are stopped or their connection
// goes away.
//
// Arguments and results cross the non-generic dispatch path as an [Input] or
// [Output]: either a native Go value handed over in-process or a payload that
// is decoded (or serialized) at the edge. Both are consumed at most once.
//
// # Building procedures
//
//	base := rspc.NewBuilder[AppCtx]()
//	echo, err := rspc.Query(base, func(ctx context.Context, c AppCtx, in string) (string, error) {
//		return in, nil
//	})
//
// Middleware may change the procedure context type handed to the rest of the
// chain. Adjacent layers are checked when the procedure is built, so a
// mismatch is a construction error rather than a runtime one:
//
//	authed := base.With(rspc.NewMiddleware("auth",
//		func(ctx context.Context, c AppCtx, in *rspc.Input, meta rspc.ProcedureMeta, next rspc.Next[UserCtx]) *rspc.Stream {
//			user, err := c.Authenticate()
//			if err != nil {
//				return rspc.Fail(rspc.ErrUnauthorized(err.Error()))
//			}
//			return next(ctx, UserCtx{AppCtx: c, User: user}, in)
//		}))
//
// Procedures are collected into a [Router] that is frozen by
// [RouterBuilder.Build] and read concurrently afterwards.
//
// # Subscriptions
//
// A subscription resolver returns an iter.Seq2. The stream pulls it on
// demand, so a slow consumer stalls the producer instead of buffering. A
// connection tracks its live subscriptions in a [Subscriptions] registry keyed
// by [RequestID]; stopping an entry cancels the context the stream was
// invoked with.
//
// # WebSocket adapter
//
// [Server] is an http.Handler exposing a Router over WebSocket with the
// envelope {id, method, params: {path, input}} and replies of the form
// {id, result: {type: response|event|error, data}}.
package rspc
