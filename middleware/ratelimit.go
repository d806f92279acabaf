package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	rspc "github.com/specta-rs/rspc-sub002"
)

// Limiter holds one token bucket per key. Buckets of a connection live until
// it disconnects; register ForgetConnection as a disconnect hook.
type Limiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLimiter returns a limiter refilling rps tokens per second up to burst.
// A nil Limiter, returned when either is not positive, allows every call.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &Limiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow takes one token from key's bucket at now. An empty key is never
// limited.
func (l *Limiter) Allow(key string, now time.Time) bool {
	if l == nil || key == "" {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	return b.AllowN(now, 1)
}

// Forget drops key's bucket.
func (l *Limiter) Forget(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// ForgetConnection is an rspc.DisconnectHook for limiters keyed by
// ConnectionKey. It drops the connection's bucket and prunes the rest.
func (l *Limiter) ForgetConnection(_ context.Context, conn *rspc.Conn) {
	if l == nil || conn == nil {
		return
	}
	l.Forget(conn.ID())
	l.Prune(time.Now())
}

// Prune drops every bucket that has refilled completely at now, since a full
// bucket behaves like a new one. It returns the number of buckets dropped.
func (l *Limiter) Prune(now time.Time) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for key, b := range l.buckets {
		if b.TokensAt(now) >= float64(l.burst) {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// KeyFunc picks the bucket a call is charged to. An empty key is never limited.
type KeyFunc func(ctx context.Context, meta rspc.ProcedureMeta) string

// ConnectionKey charges calls to the connection that issued them, falling
// back to the procedure name for in-process calls.
func ConnectionKey(ctx context.Context, meta rspc.ProcedureMeta) string {
	if conn := rspc.Connection(ctx); conn != nil {
		return conn.ID()
	}
	return meta.Name
}

// RateLimit rejects calls whose key has run out of tokens. Rejected calls
// yield a CodeRateLimited error and never reach the rest of the chain.
func RateLimit(l *Limiter, key KeyFunc) rspc.Middleware {
	if key == nil {
		key = ConnectionKey
	}
	return rspc.Transparent("rate_limit", func(ctx context.Context, in *rspc.Input, meta rspc.ProcedureMeta, next func(context.Context, *rspc.Input) *rspc.Stream) *rspc.Stream {
		k := key(ctx, meta)
		if !l.Allow(k, time.Now()) {
			return rspc.Fail(rspc.ErrRateLimited(k))
		}
		return next(ctx, in)
	})
}
