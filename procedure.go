package rspc

import (
	"context"
	"errors"
	"iter"
	"reflect"
)

// ProcedureMeta describes the procedure being executed. It is passed to every
// layer of the chain alongside the context.
type ProcedureMeta struct {
	Name  string
	Kind  ProcedureKind
	State *State
}

// Procedure is a named operation: a compiled middleware chain ending in a
// resolver. Procedures are immutable and safe for concurrent use.
type Procedure struct {
	meta    ProcedureMeta
	ctxType reflect.Type
	input   reflect.Type
	output  reflect.Type
	layers  []string
	accepts func(any) bool
	handler handler
}

// Invoke runs the procedure. It never fails synchronously: every failure is an
// error item of the returned stream. Query and mutation streams yield exactly
// one item. Closing the stream cancels the context handed to the chain.
func (p *Procedure) Invoke(ctx context.Context, c any, in *Input) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	ctx = withMeta(ctx, p.meta)

	var s *Stream
	if !p.accepts(c) {
		s = Fail(ErrTypeMismatch(p.ctxType, reflect.TypeOf(c)))
	} else {
		s = p.handler(ctx, c, in, p.meta)
	}
	if s == nil {
		s = Fail(ErrInternal(errors.New("middleware returned no stream")))
	}
	return s.bind(ctx, cancel, p.meta.Kind.Single())
}

// Meta returns the procedure metadata.
func (p *Procedure) Meta() ProcedureMeta { return p.meta }

// Kind returns the procedure kind.
func (p *Procedure) Kind() ProcedureKind { return p.meta.Kind }

// ContextType returns the procedure context type the chain expects.
func (p *Procedure) ContextType() reflect.Type { return p.ctxType }

// InputType returns the resolver's argument type.
func (p *Procedure) InputType() reflect.Type { return p.input }

// OutputType returns the resolver's result type; for subscriptions, the item type.
func (p *Procedure) OutputType() reflect.Type { return p.output }

// Middleware returns the names of the chain's layers, outermost first.
func (p *Procedure) Middleware() []string {
	return append([]string(nil), p.layers...)
}

func (p *Procedure) bound(name string, state *State) *Procedure {
	cp := *p
	cp.meta.Name = name
	cp.meta.State = state
	return &cp
}

// ProcedureBuilder accumulates the middleware of a procedure. Builders never
// change in place; With returns a new builder so a base builder can be shared.
type ProcedureBuilder struct {
	root    reflect.Type
	accepts func(any) bool
	layers  []Middleware
}

// NewBuilder starts a chain whose callers supply a TCtx.
func NewBuilder[TCtx any]() *ProcedureBuilder {
	return &ProcedureBuilder{
		root: reflect.TypeFor[TCtx](),
		accepts: func(c any) bool {
			_, ok := c.(TCtx)
			return ok
		},
	}
}

// With appends layers to the chain.
func (b *ProcedureBuilder) With(mws ...Middleware) *ProcedureBuilder {
	layers := make([]Middleware, len(b.layers), len(b.layers)+len(mws))
	copy(layers, b.layers)
	for _, mw := range mws {
		layers = append(layers, mw.flatten()...)
	}
	return &ProcedureBuilder{root: b.root, accepts: b.accepts, layers: layers}
}

// resolverContext validates the chain and checks it ends in want.
func (b *ProcedureBuilder) resolverContext(want reflect.Type) error {
	in, out, err := checkChain(b.root, "caller", b.layers)
	if err != nil {
		return err
	}
	final, finalName := b.root, "caller"
	if in != nil {
		final = out
		for i := len(b.layers) - 1; i >= 0; i-- {
			if b.layers[i].in != nil {
				finalName = b.layers[i].name
				break
			}
		}
	}
	if final != want {
		return &ChainError{Layer: finalName, Produces: final, Next: "resolver", Expects: want}
	}
	return nil
}

func (b *ProcedureBuilder) build(kind ProcedureKind, ctxType, input, output reflect.Type, terminal handler) (*Procedure, error) {
	if err := b.resolverContext(ctxType); err != nil {
		return nil, err
	}
	names := make([]string, len(b.layers))
	for i, l := range b.layers {
		names[i] = l.name
	}
	return &Procedure{
		meta:    ProcedureMeta{Kind: kind},
		ctxType: b.root,
		input:   input,
		output:  output,
		layers:  names,
		accepts: b.accepts,
		handler: compile(b.layers, terminal),
	}, nil
}

// ResolverFunc resolves a query or mutation.
type ResolverFunc[TCtx, TIn, TOut any] func(ctx context.Context, c TCtx, in TIn) (TOut, error)

// SubscriptionFunc starts a subscription. An error returned here is the
// stream's only item; errors yielded by the sequence are items of their own.
type SubscriptionFunc[TCtx, TIn, TOut any] func(ctx context.Context, c TCtx, in TIn) (iter.Seq2[TOut, error], error)

// Query builds a query procedure.
func Query[TCtx, TIn, TOut any](b *ProcedureBuilder, fn ResolverFunc[TCtx, TIn, TOut]) (*Procedure, error) {
	return single(b, KindQuery, fn)
}

// Mutation builds a mutation procedure.
func Mutation[TCtx, TIn, TOut any](b *ProcedureBuilder, fn ResolverFunc[TCtx, TIn, TOut]) (*Procedure, error) {
	return single(b, KindMutation, fn)
}

func single[TCtx, TIn, TOut any](b *ProcedureBuilder, kind ProcedureKind, fn ResolverFunc[TCtx, TIn, TOut]) (*Procedure, error) {
	ctxType := reflect.TypeFor[TCtx]()
	terminal := func(ctx context.Context, c any, in *Input, _ ProcedureMeta) *Stream {
		typed, ok := c.(TCtx)
		if !ok {
			return Fail(ErrTypeMismatch(ctxType, reflect.TypeOf(c)))
		}
		arg, err := ExtractInput[TIn](in)
		if err != nil {
			return Fail(err)
		}
		return Once(func() (*Output, error) {
			v, err := fn(ctx, typed, arg)
			if err != nil {
				return nil, err
			}
			return OutputFromValue(v), nil
		})
	}
	return b.build(kind, ctxType, reflect.TypeFor[TIn](), reflect.TypeFor[TOut](), terminal)
}

// Subscription builds a subscription procedure.
func Subscription[TCtx, TIn, TOut any](b *ProcedureBuilder, fn SubscriptionFunc[TCtx, TIn, TOut]) (*Procedure, error) {
	ctxType := reflect.TypeFor[TCtx]()
	terminal := func(ctx context.Context, c any, in *Input, _ ProcedureMeta) *Stream {
		typed, ok := c.(TCtx)
		if !ok {
			return Fail(ErrTypeMismatch(ctxType, reflect.TypeOf(c)))
		}
		arg, err := ExtractInput[TIn](in)
		if err != nil {
			return Fail(err)
		}
		return Lazy(func() *Stream {
			seq, err := fn(ctx, typed, arg)
			if err != nil {
				return Fail(err)
			}
			return FromSeq(func(yield func(*Output, error) bool) {
				for v, err := range seq {
					var out *Output
					if err == nil {
						out = OutputFromValue(v)
					}
					if !yield(out, err) {
						return
					}
				}
			})
		})
	}
	return b.build(KindSubscription, ctxType, reflect.TypeFor[TIn](), reflect.TypeFor[TOut](), terminal)
}
