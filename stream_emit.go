package rspc

import (
	"context"
	"iter"
)

// Emit adapts a push-style producer to a pull sequence. produce runs in its
// own goroutine and hands values over an unbuffered channel, so emit blocks
// until the consumer pulls the value. When the consumer stops, the producer's
// context is canceled and Emit waits for produce to return.
//
// An error returned by produce is yielded as a final item unless it was
// caused by the cancellation.
func Emit[T any](ctx context.Context, produce func(ctx context.Context, emit func(T) error) error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		slot := make(chan T)
		done := make(chan error, 1)

		go func() {
			done <- produce(ctx, func(v T) error {
				select {
				case slot <- v:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}()

		finished := false
		defer func() {
			cancel()
			if !finished {
				<-done
			}
		}()

		for {
			select {
			case v := <-slot:
				if !yield(v, nil) {
					return
				}
			case err := <-done:
				finished = true
				if err != nil && ctx.Err() == nil {
					var zero T
					yield(zero, err)
				}
				return
			}
		}
	}
}
