// Package realtime keeps a client-facing view of the queue and rotation in
// step with the store's change feed. It is a cache over the feed, not a
// source of truth: every merge is keyed by id and re-sorted, so duplicate
// or out-of-order delivery cannot diverge the view, and relevant changes
// ask the dispatcher to run at most once per debounce window.
package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/atendo/dispatchd/internal/models"
)

// Predicate decides which tickets a view keeps. Each view defines its own.
type Predicate func(models.Ticket) bool

// WaitingUnassigned is the dispatch queue view: tickets that still need an
// operator.
func WaitingUnassigned(t models.Ticket) bool {
	return t.Status == models.TicketWaiting && t.AssignedOperator == nil
}

type Reconciler struct {
	pred   Predicate
	kick   func()
	window time.Duration
	logger zerolog.Logger

	mu        sync.Mutex
	tickets   map[string]models.Ticket
	operators map[string]models.Operator

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

func New(pred Predicate, kick func(), window time.Duration, logger zerolog.Logger) *Reconciler {
	if window <= 0 {
		window = 500 * time.Millisecond
	}
	return &Reconciler{
		pred:      pred,
		kick:      kick,
		window:    window,
		logger:    logger.With().Str("component", "reconciler").Logger(),
		tickets:   make(map[string]models.Ticket),
		operators: make(map[string]models.Operator),
	}
}

// Run consumes events until ctx is done or the channel closes.
func (r *Reconciler) Run(ctx context.Context, events <-chan models.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Apply(ev)
		}
	}
}

// Apply merges one event into the view, keyed by id, and schedules a
// dispatcher kick when the change could make an assignment possible.
func (r *Reconciler) Apply(ev models.ChangeEvent) {
	switch ev.Table {
	case models.TableTickets:
		if ev.Ticket == nil {
			return
		}
		r.applyTicket(ev)
	case models.TableOperators:
		if ev.Operator == nil {
			return
		}
		r.applyOperator(ev)
	}
}

func (r *Reconciler) applyTicket(ev models.ChangeEvent) {
	t := *ev.Ticket
	relevant := ev.Op != "DELETE" && r.pred(t)

	r.mu.Lock()
	if relevant {
		r.tickets[t.ID] = t
	} else {
		delete(r.tickets, t.ID)
	}
	r.mu.Unlock()

	if relevant {
		r.scheduleKick("ticket " + t.ID)
	}
}

func (r *Reconciler) applyOperator(ev models.ChangeEvent) {
	op := *ev.Operator

	r.mu.Lock()
	if ev.Op == "DELETE" {
		delete(r.operators, op.ID)
	} else {
		r.operators[op.ID] = op
	}
	r.mu.Unlock()

	if ev.Op != "DELETE" && op.Enabled && op.Reachable {
		r.scheduleKick("operator " + op.ID)
	}
}

// scheduleKick coalesces bursts: many events within the window trigger a
// single downstream dispatch request.
func (r *Reconciler) scheduleKick(trigger string) {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()

	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceTimer = time.AfterFunc(r.window, func() {
		r.logger.Debug().Str("trigger", trigger).Msg("debounced dispatch kick")
		r.kick()
	})
}

// Queue returns the view's tickets ordered by creation time. The sort runs
// on every read so out-of-order event delivery never shows a shuffled list.
func (r *Reconciler) Queue() []models.Ticket {
	r.mu.Lock()
	out := make([]models.Ticket, 0, len(r.tickets))
	for _, t := range r.tickets {
		out = append(out, t)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Ring returns the known enabled operators in rotation order.
func (r *Reconciler) Ring() []models.Operator {
	r.mu.Lock()
	out := make([]models.Operator, 0, len(r.operators))
	for _, op := range r.operators {
		if op.Enabled && op.Position != nil {
			out = append(out, op)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return *out[i].Position < *out[j].Position })
	return out
}
