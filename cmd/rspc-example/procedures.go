package main

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	rspc "github.com/specta-rs/rspc-sub002"
	"github.com/specta-rs/rspc-sub002/middleware"
)

// AppCtx is the procedure context of every connection.
type AppCtx struct {
	Token string
}

// UserCtx is the procedure context after authentication.
type UserCtx struct {
	AppCtx
	User string
}

// Tick is one ticker event.
type Tick struct {
	Seq int       `json:"seq"`
	At  time.Time `json:"at"`
}

// TickerInput configures the ticker subscription.
type TickerInput struct {
	IntervalMs int `json:"intervalMs"`
	Limit      int `json:"limit,omitzero"`
}

// Counter is shared state for the counter procedures.
type Counter struct {
	n atomic.Int64
}

// appContext builds the AppCtx of a connection from its bearer token, taken
// from the Authorization header or the token query parameter.
func appContext(_ context.Context, conn *rspc.Conn) (any, error) {
	return AppCtx{Token: tokenFrom(conn.Request())}, nil
}

func tokenFrom(r *http.Request) string {
	if r == nil {
		return ""
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// authenticate narrows AppCtx to UserCtx, rejecting unknown tokens.
func authenticate(tokens map[string]string) rspc.Middleware {
	return rspc.NewMiddleware("auth", func(ctx context.Context, c AppCtx, in *rspc.Input, _ rspc.ProcedureMeta, next rspc.Next[UserCtx]) *rspc.Stream {
		user, ok := tokens[c.Token]
		if c.Token == "" || !ok {
			return rspc.Fail(rspc.ErrUnauthorized("authentication required"))
		}
		return next(ctx, UserCtx{AppCtx: c, User: user}, in)
	})
}

// newRouter builds the demo router. A nil metrics skips the metrics layer and
// a nil limiter allows every call.
func newRouter(cfg Config, log *zap.Logger, metrics *middleware.Metrics, limiter *middleware.Limiter) (*rspc.Router, error) {
	layers := []rspc.Middleware{
		middleware.CorrelationID(),
		middleware.Logging(log),
		middleware.Tracing(nil),
	}
	if metrics != nil {
		layers = append(layers, metrics.Middleware())
	}
	layers = append(layers, middleware.RateLimit(limiter, middleware.ConnectionKey))

	base := rspc.NewBuilder[AppCtx]().With(layers...)
	bounded := base.With(middleware.Timeout(cfg.Timeout))
	authed := bounded.With(authenticate(cfg.Tokens))

	rb := rspc.NewRouter()
	var errs error
	add := func(name string, p *rspc.Procedure, err error) {
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		rb.Procedure(name, p)
	}

	p, err := rspc.Query(bounded, func(_ context.Context, _ AppCtx, in string) (string, error) {
		return in, nil
	})
	add("echo", p, err)

	p, err = rspc.Query(bounded, func(_ context.Context, _ AppCtx, _ struct{}) (string, error) {
		return "", errors.New("something went wrong")
	})
	add("boom", p, err)

	p, err = rspc.Query(authed, func(_ context.Context, c UserCtx, _ struct{}) (string, error) {
		return c.User, nil
	})
	add("whoami", p, err)

	p, err = rspc.Subscription(base, func(_ context.Context, _ AppCtx, n int) (iter.Seq2[int, error], error) {
		if n < 0 {
			return nil, rspc.NewError(rspc.CodeInvalidParams, "count must not be negative")
		}
		return func(yield func(int, error) bool) {
			for i := range n {
				if !yield(i, nil) {
					return
				}
			}
		}, nil
	})
	add("count", p, err)

	p, err = rspc.Subscription(base, ticker)
	add("ticker", p, err)

	counter, err := counterRouter(bounded)
	if err != nil {
		errs = multierr.Append(errs, err)
	} else {
		rb.Merge("counter", counter)
	}

	if errs != nil {
		return nil, errs
	}
	return rb.WithState(&Counter{}).Build()
}

func ticker(ctx context.Context, _ AppCtx, in TickerInput) (iter.Seq2[Tick, error], error) {
	if in.IntervalMs <= 0 {
		return nil, rspc.NewError(rspc.CodeInvalidParams, "intervalMs must be positive")
	}
	interval := time.Duration(in.IntervalMs) * time.Millisecond
	return rspc.Emit(ctx, func(ctx context.Context, emit func(Tick) error) error {
		t := time.NewTicker(interval)
		defer t.Stop()
		for seq := 0; in.Limit == 0 || seq < in.Limit; seq++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case at := <-t.C:
				if err := emit(Tick{Seq: seq, At: at.UTC()}); err != nil {
					return err
				}
			}
		}
		return nil
	}), nil
}

// counterRouter serves the shared Counter found in the router state.
func counterRouter(b *rspc.ProcedureBuilder) (*rspc.Router, error) {
	current := func(ctx context.Context) (*Counter, error) {
		meta, _ := rspc.MetaFromContext(ctx)
		c, ok := rspc.StateValue[*Counter](meta.State)
		if !ok {
			return nil, rspc.ErrInternal(errors.New("counter state missing"))
		}
		return c, nil
	}

	get, err := rspc.Query(b, func(ctx context.Context, _ AppCtx, _ struct{}) (int64, error) {
		c, err := current(ctx)
		if err != nil {
			return 0, err
		}
		return c.n.Load(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("counter.get: %w", err)
	}
	add, err := rspc.Mutation(b, func(ctx context.Context, _ AppCtx, delta int64) (int64, error) {
		c, err := current(ctx)
		if err != nil {
			return 0, err
		}
		return c.n.Add(delta), nil
	})
	if err != nil {
		return nil, fmt.Errorf("counter.add: %w", err)
	}
	return rspc.NewRouter().Procedure("get", get).Procedure("add", add).Build()
}
