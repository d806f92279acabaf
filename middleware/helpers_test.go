package middleware

import (
	"testing"

	"github.com/stretchr/testify/require"

	rspc "github.com/specta-rs/rspc-sub002"
)

func route(t *testing.T, name string, p *rspc.Procedure) *rspc.Procedure {
	t.Helper()
	r, err := rspc.NewRouter().Procedure(name, p).Build()
	require.NoError(t, err)
	got, ok := r.Get(name)
	require.True(t, ok)
	return got
}

func query[TIn, TOut any](t *testing.T, name string, fn rspc.ResolverFunc[struct{}, TIn, TOut], mws ...rspc.Middleware) *rspc.Procedure {
	t.Helper()
	p, err := rspc.Query(rspc.NewBuilder[struct{}]().With(mws...), fn)
	require.NoError(t, err)
	return route(t, name, p)
}

func subscription[TIn, TOut any](t *testing.T, name string, fn rspc.SubscriptionFunc[struct{}, TIn, TOut], mws ...rspc.Middleware) *rspc.Procedure {
	t.Helper()
	p, err := rspc.Subscription(rspc.NewBuilder[struct{}]().With(mws...), fn)
	require.NoError(t, err)
	return route(t, name, p)
}

func outputOf[T any](t *testing.T, it rspc.Item) T {
	t.Helper()
	require.NoError(t, it.Err)
	require.NotNil(t, it.Output)
	v, err := rspc.OutputAs[T](it.Output)
	require.NoError(t, err)
	return v
}
