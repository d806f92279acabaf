package rspc

import (
	"context"
	"fmt"
	"reflect"
)

// Next continues a middleware chain with a possibly different procedure
// context and input.
type Next[TCtx any] func(ctx context.Context, c TCtx, in *Input) *Stream

// handler is a compiled chain, innermost resolver included.
type handler func(ctx context.Context, c any, in *Input, meta ProcedureMeta) *Stream

type layerFunc func(ctx context.Context, c any, in *Input, meta ProcedureMeta, next handler) *Stream

// Middleware is one layer of a procedure's chain. A layer consumes a
// procedure context of type In and hands a context of type Out to the rest of
// the chain. Transparent layers have neither and pass the context through.
type Middleware struct {
	name   string
	in     reflect.Type
	out    reflect.Type
	fn     layerFunc
	layers []Middleware
}

// NewMiddleware builds a layer that consumes a TCtx and calls next with a
// TNextCtx. The layer may transform the input, call next with a derived
// context, post-process next's stream, or return its own stream without
// calling next at all.
func NewMiddleware[TCtx, TNextCtx any](name string, fn func(ctx context.Context, c TCtx, in *Input, meta ProcedureMeta, next Next[TNextCtx]) *Stream) Middleware {
	in := reflect.TypeFor[TCtx]()
	return Middleware{
		name: name,
		in:   in,
		out:  reflect.TypeFor[TNextCtx](),
		fn: func(ctx context.Context, c any, input *Input, meta ProcedureMeta, next handler) *Stream {
			typed, ok := c.(TCtx)
			if !ok {
				return Fail(ErrTypeMismatch(in, reflect.TypeOf(c)))
			}
			return fn(ctx, typed, input, meta, func(ctx context.Context, c TNextCtx, input *Input) *Stream {
				return next(ctx, c, input, meta)
			})
		},
	}
}

// TransparentFunc is a layer that does not look at the procedure context.
type TransparentFunc func(ctx context.Context, in *Input, meta ProcedureMeta, next func(ctx context.Context, in *Input) *Stream) *Stream

// Transparent builds a layer that works with any procedure context and passes
// it through unchanged.
func Transparent(name string, fn TransparentFunc) Middleware {
	return Middleware{
		name: name,
		fn: func(ctx context.Context, c any, input *Input, meta ProcedureMeta, next handler) *Stream {
			return fn(ctx, input, meta, func(ctx context.Context, input *Input) *Stream {
				return next(ctx, c, input, meta)
			})
		},
	}
}

// Name returns the layer name.
func (m Middleware) Name() string { return m.name }

// In returns the consumed context type, nil for a transparent layer.
func (m Middleware) In() reflect.Type { return m.in }

// Out returns the produced context type, nil for a transparent layer.
func (m Middleware) Out() reflect.Type { return m.out }

func (m Middleware) flatten() []Middleware {
	if m.layers != nil {
		return m.layers
	}
	return []Middleware{m}
}

// Chain composes layers into a single layer, outermost first. Adjacent layers
// must agree on the context type handed between them.
func Chain(mws ...Middleware) (Middleware, error) {
	var layers []Middleware
	for _, mw := range mws {
		layers = append(layers, mw.flatten()...)
	}
	in, out, err := checkChain(nil, "", layers)
	if err != nil {
		return Middleware{}, err
	}

	names := make([]string, len(layers))
	for i, l := range layers {
		names[i] = l.name
	}
	return Middleware{
		name:   fmt.Sprint(names),
		in:     in,
		out:    out,
		layers: layers,
		fn: func(ctx context.Context, c any, input *Input, meta ProcedureMeta, next handler) *Stream {
			return compile(layers, next)(ctx, c, input, meta)
		},
	}, nil
}

// ChainError reports two adjacent layers that disagree on the context type.
type ChainError struct {
	Layer    string
	Produces reflect.Type
	Next     string
	Expects  reflect.Type
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("rspc: %q produces context %s but %q expects %s",
		e.Layer, typeName(e.Produces), e.Next, typeName(e.Expects))
}

// checkChain walks layers starting from context type start (nil when
// unknown) and returns the first consumed and the last produced type.
func checkChain(start reflect.Type, startName string, layers []Middleware) (in, out reflect.Type, err error) {
	cur, curName := start, startName
	for _, l := range layers {
		if l.in == nil {
			continue
		}
		if cur != nil && cur != l.in {
			return nil, nil, &ChainError{Layer: curName, Produces: cur, Next: l.name, Expects: l.in}
		}
		if in == nil {
			in = l.in
		}
		cur, curName = l.out, l.name
	}
	if in == nil {
		return nil, nil, nil
	}
	return in, cur, nil
}

// compile nests layers around terminal, innermost last.
func compile(layers []Middleware, terminal handler) handler {
	h := terminal
	for i := len(layers) - 1; i >= 0; i-- {
		layer, next := layers[i], h
		h = func(ctx context.Context, c any, in *Input, meta ProcedureMeta) *Stream {
			if s := layer.fn(ctx, c, in, meta, next); s != nil {
				return s
			}
			return Fail(ErrInternal(fmt.Errorf("middleware %q returned no stream", layer.name)))
		}
	}
	return h
}
