package dispatch

import (
	"sync"
	"testing"
	"time"
)

func TestTimersCancelIdempotent(t *testing.T) {
	timers := newOfferTimers()
	timers.fire = func(string) { t.Errorf("cancelled timer fired") }

	timers.Arm("off1", time.Now().Add(time.Hour))
	timers.Cancel("off1")
	timers.Cancel("off1")
	timers.Cancel("does-not-exist")

	if timers.armed() != 0 {
		t.Fatalf("expected no armed timers, got %d", timers.armed())
	}
}

func TestTimersFireOnce(t *testing.T) {
	timers := newOfferTimers()
	var mu sync.Mutex
	fired := 0
	done := make(chan struct{})
	timers.fire = func(string) {
		mu.Lock()
		fired++
		mu.Unlock()
		close(done)
	}

	timers.Arm("off1", time.Now().Add(5*time.Millisecond))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timer did not fire")
	}

	// Cancel after fire must be safe.
	timers.Cancel("off1")

	mu.Lock()
	defer mu.Unlock()
	if fired != 1 {
		t.Fatalf("expected one firing, got %d", fired)
	}
}

func TestTimersRearmReplaces(t *testing.T) {
	timers := newOfferTimers()
	done := make(chan struct{}, 2)
	timers.fire = func(string) { done <- struct{}{} }

	timers.Arm("off1", time.Now().Add(time.Hour))
	timers.Arm("off1", time.Now().Add(5*time.Millisecond))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("rearmed timer did not fire")
	}
	select {
	case <-done:
		t.Fatalf("replaced timer fired as well")
	case <-time.After(50 * time.Millisecond):
	}
	if timers.armed() != 0 {
		t.Fatalf("expected no armed timers, got %d", timers.armed())
	}
}
