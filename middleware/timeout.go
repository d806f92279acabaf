package middleware

import (
	"context"
	"errors"
	"iter"
	"time"

	rspc "github.com/specta-rs/rspc-sub002"
)

// Timeout bounds the lifetime of every call's result stream by d. The rest of
// the chain sees a context with that deadline; a resolver that ignores it is
// raced against the deadline anyway and its result dropped. Expiry yields a
// CodeTimeout error item and ends the stream. A non-positive d disables the
// layer.
func Timeout(d time.Duration) rspc.Middleware {
	return rspc.Transparent("timeout", func(ctx context.Context, in *rspc.Input, meta rspc.ProcedureMeta, next func(context.Context, *rspc.Input) *rspc.Stream) *rspc.Stream {
		if d <= 0 {
			return next(ctx, in)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		inner := next(ctx, in)

		started := false
		out := rspc.FromSeq(func(yield func(*rspc.Output, error) bool) {
			started = true
			raceDeadline(ctx, cancel, inner)(yield)
		})
		return out.OnClose(func() {
			cancel()
			if !started {
				inner.Close()
			}
		})
	})
}

// raceDeadline hands inner to a goroutine that pulls one item per request, so
// the consumer can give up waiting when ctx expires. The goroutine owns inner
// and closes it on exit.
func raceDeadline(ctx context.Context, cancel context.CancelFunc, inner *rspc.Stream) iter.Seq2[*rspc.Output, error] {
	return func(yield func(*rspc.Output, error) bool) {
		pull := make(chan struct{})
		items := make(chan rspc.Item)
		go func() {
			defer close(items)
			defer inner.Close()
			for range pull {
				it, ok := inner.Next()
				if !ok {
					return
				}
				select {
				case items <- it:
				case <-ctx.Done():
					return
				}
			}
		}()
		defer func() {
			close(pull)
			cancel()
		}()

		for {
			select {
			case pull <- struct{}{}:
			case <-ctx.Done():
				yield(nil, expired(ctx))
				return
			}
			select {
			case it, ok := <-items:
				if !ok {
					if ctx.Err() != nil {
						yield(nil, expired(ctx))
					}
					return
				}
				if !yield(it.Output, it.Err) {
					return
				}
			case <-ctx.Done():
				yield(nil, expired(ctx))
				return
			}
		}
	}
}

func expired(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return rspc.ErrTimeout(ctx.Err())
	}
	return ctx.Err()
}
