package rspc

import (
	"fmt"
	"reflect"
	"sort"

	"go.uber.org/multierr"
)

// RouterBuilder collects procedures before they are frozen into a Router.
type RouterBuilder struct {
	procs map[string]*Procedure
	state map[reflect.Type]any
	err   error
}

// NewRouter starts a router.
func NewRouter() *RouterBuilder {
	return &RouterBuilder{
		procs: make(map[string]*Procedure),
		state: make(map[reflect.Type]any),
	}
}

// Procedure registers p under name.
func (b *RouterBuilder) Procedure(name string, p *Procedure) *RouterBuilder {
	switch {
	case name == "":
		b.err = multierr.Append(b.err, fmt.Errorf("rspc: procedure name is required"))
	case p == nil:
		b.err = multierr.Append(b.err, fmt.Errorf("rspc: procedure %q is nil", name))
	default:
		if _, ok := b.procs[name]; ok {
			b.err = multierr.Append(b.err, fmt.Errorf("rspc: procedure %q registered twice", name))
			return b
		}
		b.procs[name] = p
	}
	return b
}

// Merge registers every procedure of other under prefix. Names are joined
// with a dot; an empty prefix keeps them as they are.
func (b *RouterBuilder) Merge(prefix string, other *Router) *RouterBuilder {
	for _, name := range other.Names() {
		full := name
		if prefix != "" {
			full = prefix + "." + name
		}
		b.Procedure(full, other.procs[name])
	}
	return b
}

// WithState stores v as shared state, keyed by its dynamic type.
// Procedures reach it through ProcedureMeta.State.
func (b *RouterBuilder) WithState(v any) *RouterBuilder {
	if v == nil {
		b.err = multierr.Append(b.err, fmt.Errorf("rspc: state value is nil"))
		return b
	}
	b.state[reflect.TypeOf(v)] = v
	return b
}

// Build freezes the router. Every registration problem is reported at once.
func (b *RouterBuilder) Build() (*Router, error) {
	if b.err != nil {
		return nil, b.err
	}
	state := newState(b.state)
	procs := make(map[string]*Procedure, len(b.procs))
	for name, p := range b.procs {
		procs[name] = p.bound(name, state)
	}
	return &Router{procs: procs, state: state}, nil
}

// Router is an immutable set of named procedures, safe for concurrent use.
type Router struct {
	procs map[string]*Procedure
	state *State
}

// Get returns the procedure registered under name.
func (r *Router) Get(name string) (*Procedure, bool) {
	p, ok := r.procs[name]
	return p, ok
}

// Names returns all procedure names, sorted.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.procs))
	for name := range r.procs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// State returns the router's shared state.
func (r *Router) State() *State { return r.state }

// Len returns the number of procedures.
func (r *Router) Len() int { return len(r.procs) }
