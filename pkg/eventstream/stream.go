// Package eventstream implements the Event Stream (C3): a typed,
// terminating async stream of events E that resolves to a result R
// once a terminal event is observed.
package eventstream

import (
	"context"
	"sync"
)

// Stream is a typed stream of events E terminating with result R.
// Construct with New, supplying a predicate that identifies the
// terminal event and an extractor that turns it into R. The zero
// value is not usable.
type Stream[E any, R any] struct {
	mu     sync.Mutex
	buf    []E
	closed bool
	result R

	isTerminal func(E) bool
	extract    func(E) R

	notify chan struct{}
	done   chan struct{}
}

// New constructs a Stream. isTerminal reports whether an event is the
// stream's terminal event; extract turns that event into the stream's
// result.
func New[E any, R any](isTerminal func(E) bool, extract func(E) R) *Stream[E, R] {
	return &Stream[E, R]{
		isTerminal: isTerminal,
		extract:    extract,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Push appends an event to the stream. Pushing never drops events,
// even before any consumer has started iterating — they buffer until
// the first call to Events. Once a terminal event has been pushed,
// all further pushes are silently ignored.
func (s *Stream[E, R]) Push(e E) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.buf = append(s.buf, e)
	terminal := s.isTerminal(e)
	if terminal {
		s.closed = true
		s.result = s.extract(e)
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	if terminal {
		close(s.done)
	}
}

// Events returns a channel a single consumer ranges over. The channel
// closes once every buffered event up to and including the terminal
// event has been delivered, or the context is cancelled.
func (s *Stream[E, R]) Events(ctx context.Context) <-chan E {
	out := make(chan E)
	go func() {
		defer close(out)
		idx := 0
		for {
			s.mu.Lock()
			pending := append([]E(nil), s.buf[idx:]...)
			idx = len(s.buf)
			isClosed := s.closed
			s.mu.Unlock()

			for _, e := range pending {
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
			if isClosed {
				return
			}

			select {
			case <-s.notify:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Result blocks until the terminal event has been observed and
// returns its extracted R, or returns ctx.Err() if ctx is cancelled
// first.
func (s *Stream[E, R]) Result(ctx context.Context) (R, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.result, nil
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Done returns a channel closed once the terminal event has been
// observed, for callers that want to select on it alongside other
// work instead of blocking in Result.
func (s *Stream[E, R]) Done() <-chan struct{} {
	return s.done
}
