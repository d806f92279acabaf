package rspc

import "context"

type contextKey int

const (
	metaKey contextKey = iota
	connectionKey
	requestIDKey
)

// MetaFromContext returns the metadata of the procedure being executed.
func MetaFromContext(ctx context.Context) (ProcedureMeta, bool) {
	meta, ok := ctx.Value(metaKey).(ProcedureMeta)
	return meta, ok
}

// Connection returns the Conn that issued the request.
// Returns nil if not present.
func Connection(ctx context.Context) *Conn {
	if c, ok := ctx.Value(connectionKey).(*Conn); ok {
		return c
	}
	return nil
}

// RequestIDFromContext returns the id of the wire request being served.
func RequestIDFromContext(ctx context.Context) (RequestID, bool) {
	id, ok := ctx.Value(requestIDKey).(RequestID)
	return id, ok
}

func withMeta(ctx context.Context, meta ProcedureMeta) context.Context {
	return context.WithValue(ctx, metaKey, meta)
}

func withConnection(ctx context.Context, c *Conn) context.Context {
	return context.WithValue(ctx, connectionKey, c)
}

func withRequestID(ctx context.Context, id RequestID) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}
