package rspc

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// CancelHandle stops one subscription. Fire is idempotent.
type CancelHandle struct {
	cancel   context.CancelFunc
	fired    atomic.Bool
	released atomic.Bool
}

// NewCancelHandle derives a context that is canceled when the handle fires.
func NewCancelHandle(parent context.Context) (context.Context, *CancelHandle) {
	ctx, cancel := context.WithCancel(parent)
	return ctx, &CancelHandle{cancel: cancel}
}

// Fire cancels the subscription. It reports whether this call fired it.
func (h *CancelHandle) Fire() bool {
	if !h.fired.CompareAndSwap(false, true) {
		return false
	}
	h.cancel()
	return true
}

// Release marks the subscription's stream as finished and frees the context.
// Nothing is left to cancel afterwards.
func (h *CancelHandle) Release() {
	if h.released.CompareAndSwap(false, true) {
		h.cancel()
	}
}

// Fired reports whether Fire was called.
func (h *CancelHandle) Fired() bool { return h.fired.Load() }

// Armed reports whether the handle still guards a running stream.
func (h *CancelHandle) Armed() bool {
	return !h.fired.Load() && !h.released.Load()
}

// Subscriptions tracks the live subscriptions of one connection.
// It must not be shared between connections.
type Subscriptions struct {
	mu      sync.Mutex
	entries map[RequestID]*CancelHandle
	log     *zap.Logger
}

// NewSubscriptions creates an empty registry. A nil logger discards reports.
func NewSubscriptions(log *zap.Logger) *Subscriptions {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscriptions{
		entries: make(map[RequestID]*CancelHandle),
		log:     log,
	}
}

// Start registers h under id. Reusing a live id is an error; the existing
// entry is left untouched.
func (s *Subscriptions) Start(id RequestID, h *CancelHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		return ErrDuplicateSubscription(id)
	}
	s.entries[id] = h
	return nil
}

// Stop fires and removes the subscription registered under id. It returns
// false when there is no such subscription.
func (s *Subscriptions) Stop(id RequestID) bool {
	s.mu.Lock()
	h, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()
	if ok {
		h.Fire()
	}
	return ok
}

// StopAll fires and removes every subscription. Calling it again is a no-op.
func (s *Subscriptions) StopAll() {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[RequestID]*CancelHandle)
	s.mu.Unlock()
	for _, h := range entries {
		h.Fire()
	}
}

// Remove drops the entry for a subscription whose stream ended on its own,
// without firing it. The stream must have released its handle by then; a
// handle that is still armed points at a lifecycle bug and is reported with
// DPanic, which panics under a development logger.
func (s *Subscriptions) Remove(id RequestID) {
	s.remove(id, nil)
}

// remove is Remove restricted to the entry holding want, so a finished stream
// never drops a newer subscription that reused its id.
func (s *Subscriptions) remove(id RequestID, want *CancelHandle) {
	s.mu.Lock()
	h, ok := s.entries[id]
	if ok && want != nil && h != want {
		ok = false
	}
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if ok && h.Armed() {
		s.log.DPanic("subscription removed while its stream is still running", zap.Stringer("id", id))
	}
}

// Has reports whether id is live.
func (s *Subscriptions) Has(id RequestID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// Len returns the number of live subscriptions.
func (s *Subscriptions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
