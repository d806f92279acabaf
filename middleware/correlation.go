package middleware

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	rspc "github.com/specta-rs/rspc-sub002"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewCorrelationID returns a time-sortable ULID encoded as a 26-character string.
func NewCorrelationID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

type correlationKey struct{}

// WithCorrelationID returns a context carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFromContext returns the correlation id attached to ctx.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationKey{}).(string)
	return id, ok && id != ""
}

// CorrelationID attaches a fresh correlation id to the context of every call
// that does not carry one yet.
func CorrelationID() rspc.Middleware {
	return rspc.Transparent("correlation_id", func(ctx context.Context, in *rspc.Input, meta rspc.ProcedureMeta, next func(context.Context, *rspc.Input) *rspc.Stream) *rspc.Stream {
		if _, ok := CorrelationIDFromContext(ctx); !ok {
			ctx = WithCorrelationID(ctx, NewCorrelationID())
		}
		return next(ctx, in)
	})
}
