// Package emit defers delivery of items by a fixed delay while keeping them in
// submission order.
package emit

import (
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Schedule after Close.
var ErrClosed = errors.New("scheduler closed")

type entry[T any] struct {
	item T
	due  time.Time
}

// Scheduler releases each scheduled item after a fixed delay. Items are
// released one at a time, from a single goroutine, strictly in the order they
// were scheduled: an item's due time is never earlier than its predecessor's.
//
// With a zero delay, Schedule releases synchronously in the caller.
type Scheduler[T any] struct {
	delay   time.Duration
	release func(T)
	discard func(T)

	mu      sync.Mutex
	pending []entry[T]
	lastDue time.Time
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// New creates a Scheduler. release receives items when they are due; discard
// receives items that are cancelled by Close or scheduled after it. discard
// may be nil.
func New[T any](delay time.Duration, release, discard func(T)) *Scheduler[T] {
	if delay < 0 {
		delay = 0
	}
	if discard == nil {
		discard = func(T) {}
	}
	s := &Scheduler[T]{
		delay:   delay,
		release: release,
		discard: discard,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if delay == 0 {
		close(s.done)
	} else {
		go s.run()
	}
	return s
}

// Delay returns the configured delay.
func (s *Scheduler[T]) Delay() time.Duration { return s.delay }

// Schedule queues item for release after the delay. After Close the item is
// handed to discard and ErrClosed is returned.
func (s *Scheduler[T]) Schedule(item T) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.discard(item)
		return ErrClosed
	}
	if s.delay == 0 {
		s.mu.Unlock()
		s.release(item)
		return nil
	}

	due := time.Now().Add(s.delay)
	if due.Before(s.lastDue) {
		due = s.lastDue
	}
	s.lastDue = due
	s.pending = append(s.pending, entry[T]{item: item, due: due})
	s.mu.Unlock()

	s.signal()
	return nil
}

// Pending returns the number of items waiting for release.
func (s *Scheduler[T]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close stops accepting items. With flush, it blocks until every pending item
// has been released at its due time. Without flush, pending items are handed
// to discard instead and their number is returned. Close is idempotent.
func (s *Scheduler[T]) Close(flush bool) int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return 0
	}
	s.closed = true
	var cancelled []entry[T]
	if !flush {
		cancelled = s.pending
		s.pending = nil
	}
	s.mu.Unlock()

	s.signal()
	<-s.done

	for _, e := range cancelled {
		s.discard(e.item)
	}
	return len(cancelled)
}

func (s *Scheduler[T]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler[T]) run() {
	defer close(s.done)

	timer := time.NewTimer(s.delay)
	timer.Stop()
	defer timer.Stop()

	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			<-s.wake
			continue
		}

		next := s.pending[0]
		wait := time.Until(next.due)
		if wait <= 0 {
			var zero entry[T]
			s.pending[0] = zero
			s.pending = s.pending[1:]
			s.mu.Unlock()
			s.release(next.item)
			continue
		}
		s.mu.Unlock()

		timer.Reset(wait)
		select {
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
		}
	}
}
