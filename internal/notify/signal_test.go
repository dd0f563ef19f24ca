package notify

import (
	"testing"
	"time"
)

func TestNotifyClosesChannelAndAdvancesGeneration(t *testing.T) {
	s := NewSignal()
	ch, gen := s.C()
	if gen != 0 {
		t.Fatalf("expected initial generation 0, got %d", gen)
	}

	s.Notify()
	select {
	case <-ch:
	default:
		t.Fatalf("expected channel to be closed after Notify")
	}
	if s.Generation() != 1 {
		t.Fatalf("expected generation 1 after one Notify, got %d", s.Generation())
	}
}

func TestWaitReturnsImmediatelyIfAlreadyPastSince(t *testing.T) {
	s := NewSignal()
	s.Notify()
	s.Notify()

	done := make(chan struct{})
	close(done) // never actually consulted since gen > since already
	gen, ok := s.Wait(0, nil)
	if !ok || gen != 2 {
		t.Fatalf("expected (2, true), got (%d, %v)", gen, ok)
	}
}

func TestWaitWakesOnNotify(t *testing.T) {
	s := NewSignal()
	result := make(chan uint64, 1)
	go func() {
		gen, ok := s.Wait(s.Generation(), nil)
		if !ok {
			return
		}
		result <- gen
	}()

	time.Sleep(20 * time.Millisecond)
	s.Notify()

	select {
	case gen := <-result:
		if gen != 1 {
			t.Fatalf("expected generation 1, got %d", gen)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait never returned after Notify")
	}
}

func TestWaitStopsOnCtxDone(t *testing.T) {
	s := NewSignal()
	ctxDone := make(chan struct{})
	close(ctxDone)

	gen, ok := s.Wait(s.Generation(), ctxDone)
	if ok {
		t.Fatalf("expected Wait to stop on ctxDone, got ok=true gen=%d", gen)
	}
}

// TestNotifyBeforeWaitIsNotMissed is the motivating case for tracking
// generations instead of only a channel: a Notify that happens between a
// waiter reading the current generation and actually blocking must still
// be observed.
func TestNotifyBeforeWaitIsNotMissed(t *testing.T) {
	s := NewSignal()
	since := s.Generation()
	s.Notify() // races ahead of the call to Wait below

	gen, ok := s.Wait(since, nil)
	if !ok || gen != since+1 {
		t.Fatalf("expected (%d, true), got (%d, %v)", since+1, gen, ok)
	}
}
