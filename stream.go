package rspc

import (
	"context"
	"iter"
)

// Item is one result produced by a Stream: either an Output or an error.
type Item struct {
	Output *Output
	Err    error
}

// Error returns the item's error normalized to an *Error, or nil.
func (it Item) Error() *Error {
	return AsError(it.Err)
}

type source interface {
	next() (Item, bool)
	stop()
}

// Stream is the pull-based sequence of results returned by invoking a
// procedure. Items are produced only on demand, one per call to Next.
//
// A Stream has a single consumer: Next and Close must not be called
// concurrently. To stop a stream from another goroutine, cancel the context
// it was invoked with; the stream observes it at its next poll.
type Stream struct {
	src     source
	ctx     context.Context
	cancel  context.CancelFunc
	single  bool
	yielded int
	done    bool
	closed  bool
	onClose []func()
}

func newStream(src source) *Stream {
	return &Stream{src: src}
}

// Next produces the next item. It returns false once the stream has ended;
// the stream is closed at that point.
func (s *Stream) Next() (Item, bool) {
	if s.done {
		return Item{}, false
	}
	if s.single && s.yielded > 0 {
		s.Close()
		return Item{}, false
	}
	if s.ctx != nil && s.ctx.Err() != nil {
		return s.canceled()
	}

	it, ok := s.src.next()
	if !ok {
		if s.single && s.yielded == 0 {
			s.yielded++
			return Item{Err: ErrEmptyStream()}, true
		}
		s.Close()
		return Item{}, false
	}
	if !s.single && s.ctx != nil && s.ctx.Err() != nil {
		return s.canceled()
	}
	s.yielded++
	return it, true
}

func (s *Stream) canceled() (Item, bool) {
	owed := s.single && s.yielded == 0
	s.Close()
	if owed {
		s.yielded++
		return Item{Err: ErrCanceled()}, true
	}
	return Item{}, false
}

// Close releases the stream and everything it holds. It is safe to call more
// than once.
func (s *Stream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.done = true
	if s.cancel != nil {
		s.cancel()
	}
	if s.src != nil {
		s.src.stop()
	}
	for i := len(s.onClose) - 1; i >= 0; i-- {
		s.onClose[i]()
	}
	s.onClose = nil
}

// OnClose registers fn to run when the stream is closed, whether it ended
// naturally or was discarded. Callbacks run once, most recent first.
func (s *Stream) OnClose(fn func()) *Stream {
	if s.closed {
		fn()
		return s
	}
	s.onClose = append(s.onClose, fn)
	return s
}

// Map returns a stream that passes every item of s through fn.
func (s *Stream) Map(fn func(Item) Item) *Stream {
	return newStream(&mapSource{inner: s, fn: fn})
}

// All returns an iterator over the remaining items. The stream is closed when
// iteration stops.
func (s *Stream) All() iter.Seq[Item] {
	return func(yield func(Item) bool) {
		defer s.Close()
		for {
			it, ok := s.Next()
			if !ok || !yield(it) {
				return
			}
		}
	}
}

// bind wraps s in a stream that observes ctx at every poll, cancels it on
// close and, when single is set, yields exactly one item.
func (s *Stream) bind(ctx context.Context, cancel context.CancelFunc, single bool) *Stream {
	out := newStream(&mapSource{inner: s})
	out.ctx = ctx
	out.cancel = cancel
	out.single = single
	return out
}

// Once returns a single-item stream whose item is computed by fn on the first
// pull.
func Once(fn func() (*Output, error)) *Stream {
	return newStream(&onceSource{fn: fn})
}

// Value returns a stream yielding out.
func Value(out *Output) *Stream {
	return Once(func() (*Output, error) { return out, nil })
}

// Fail returns a stream yielding a single error item.
func Fail(err error) *Stream {
	return Once(func() (*Output, error) { return nil, err })
}

// Empty returns a stream with no items.
func Empty() *Stream {
	return newStream(emptySource{})
}

// FromSeq returns a stream pulling items from seq. Nothing runs until the
// first pull and seq never runs ahead of the consumer.
func FromSeq(seq iter.Seq2[*Output, error]) *Stream {
	return newStream(&seqSource{seq: seq})
}

// Lazy defers building a stream until its first pull.
func Lazy(fn func() *Stream) *Stream {
	return newStream(&lazySource{fn: fn})
}

type emptySource struct{}

func (emptySource) next() (Item, bool) { return Item{}, false }
func (emptySource) stop()              {}

type onceSource struct {
	fn   func() (*Output, error)
	done bool
}

func (o *onceSource) next() (Item, bool) {
	if o.done {
		return Item{}, false
	}
	o.done = true
	fn := o.fn
	o.fn = nil
	out, err := fn()
	return Item{Output: out, Err: err}, true
}

func (o *onceSource) stop() {
	o.done = true
	o.fn = nil
}

type seqSource struct {
	seq   iter.Seq2[*Output, error]
	pull  func() (*Output, error, bool)
	halt  func()
	ended bool
}

func (q *seqSource) next() (Item, bool) {
	if q.ended {
		return Item{}, false
	}
	if q.pull == nil {
		q.pull, q.halt = iter.Pull2(q.seq)
	}
	out, err, ok := q.pull()
	if !ok {
		q.ended = true
		return Item{}, false
	}
	return Item{Output: out, Err: err}, true
}

func (q *seqSource) stop() {
	q.ended = true
	if q.halt != nil {
		q.halt()
	}
}

type mapSource struct {
	inner *Stream
	fn    func(Item) Item
}

func (m *mapSource) next() (Item, bool) {
	it, ok := m.inner.Next()
	if !ok {
		return Item{}, false
	}
	if m.fn != nil {
		it = m.fn(it)
	}
	return it, true
}

func (m *mapSource) stop() {
	m.inner.Close()
}

type lazySource struct {
	fn    func() *Stream
	inner *Stream
	done  bool
}

func (l *lazySource) next() (Item, bool) {
	if l.done {
		return Item{}, false
	}
	if l.inner == nil {
		l.inner = l.fn()
		l.fn = nil
	}
	return l.inner.Next()
}

func (l *lazySource) stop() {
	l.done = true
	if l.inner != nil {
		l.inner.Close()
	}
}
