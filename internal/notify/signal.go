// Package notify provides a generation-counted broadcast signal, used to
// wake HTTP requests blocked on /debug/wait-rebuild when the ingester
// finishes a rebuild or merge.
package notify

import "sync"

// Signal is a broadcast notification mechanism with a monotonic generation
// counter. Plain "close a channel, wake everyone" signals drop a
// notification that fires before a waiter calls C(): a caller that reads
// the channel and then blocks on it has a window, between the read and the
// receive, where a Notify() is silently missed. Tracking the generation a
// waiter last observed closes that window: Wait can check Generation()
// first and return immediately if it already moved.
type Signal struct {
	mu  sync.Mutex
	ch  chan struct{}
	gen uint64
}

// NewSignal creates a ready-to-use Signal at generation 0.
func NewSignal() *Signal { return &Signal{ch: make(chan struct{})} }

// Notify wakes all current waiters and advances the generation counter.
func (s *Signal) Notify() {
	s.mu.Lock()
	close(s.ch)
	s.ch = make(chan struct{})
	s.gen++
	s.mu.Unlock()
}

// C returns the channel that closes on the next Notify call, and the
// current generation as of this read (the close advances it by one). Callers that need to
// avoid the missed-wakeup window should use Wait instead.
func (s *Signal) C() (<-chan struct{}, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch, s.gen
}

// Generation returns the number of times Notify has been called.
func (s *Signal) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Wait blocks until the generation counter advances past since, or ctxDone
// closes first. It returns the new generation and true, or the last known
// generation and false if ctxDone fired first. Passing the generation a
// caller last observed (rather than always waiting on a fresh C()) means a
// Notify that raced ahead of the call to Wait is not missed.
func (s *Signal) Wait(since uint64, ctxDone <-chan struct{}) (uint64, bool) {
	for {
		ch, gen := s.C()
		if gen > since {
			return gen, true
		}
		select {
		case <-ch:
			continue
		case <-ctxDone:
			return gen, false
		}
	}
}
