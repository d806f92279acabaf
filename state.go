package rspc

import "reflect"

// State is a read-only bag of shared values keyed by their type. It is built
// once with the router and never modified afterwards.
type State struct {
	values map[reflect.Type]any
}

func newState(values map[reflect.Type]any) *State {
	frozen := make(map[reflect.Type]any, len(values))
	for t, v := range values {
		frozen[t] = v
	}
	return &State{values: frozen}
}

// StateValue returns the value of type T stored in s.
func StateValue[T any](s *State) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	v, ok := s.values[reflect.TypeFor[T]()]
	if !ok {
		return zero, false
	}
	return v.(T), true
}

// Len returns the number of stored values.
func (s *State) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}
