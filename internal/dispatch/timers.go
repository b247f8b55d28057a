package dispatch

import (
	"sync"
	"time"
)

// offerTimers tracks the one-shot deadline timer of each pending offer.
// Cancel must be safe to call repeatedly and after the timer fired: the
// accept path and the sweep both cancel without knowing who resolved the
// offer first.
type offerTimers struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	fire   func(offerID string)
}

func newOfferTimers() *offerTimers {
	return &offerTimers{timers: make(map[string]*time.Timer)}
}

func (t *offerTimers) Arm(offerID string, deadline time.Time) {
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.timers[offerID]; ok {
		old.Stop()
	}
	t.timers[offerID] = time.AfterFunc(d, func() {
		t.mu.Lock()
		delete(t.timers, offerID)
		t.mu.Unlock()
		t.fire(offerID)
	})
}

func (t *offerTimers) Cancel(offerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tm, ok := t.timers[offerID]; ok {
		tm.Stop()
		delete(t.timers, offerID)
	}
}

func (t *offerTimers) armed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}
