// Package dispatch pairs waiting tickets with available ring operators and
// resolves the resulting offers. Every write is a conditional update against
// the store, so any number of passes and responses may run concurrently; a
// lost race is a skip, never a double assignment.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atendo/dispatchd/internal/apperr"
	"github.com/atendo/dispatchd/internal/metrics"
	"github.com/atendo/dispatchd/internal/models"
	"github.com/atendo/dispatchd/internal/notify"
	"github.com/atendo/dispatchd/internal/rotation"
)

type Store interface {
	ListWaiting(ctx context.Context) ([]models.Ticket, error)
	CreateOffer(ctx context.Context, offer models.Offer) error
	GetOffer(ctx context.Context, id string) (models.Offer, error)
	AcceptOffer(ctx context.Context, id string) (models.Offer, error)
	ReleaseOffer(ctx context.Context, id string, to models.OfferState) (models.Offer, error)
	ListExpiredPending(ctx context.Context) ([]models.Offer, error)
}

type Config struct {
	// OfferWindow is how long an operator has to answer an offer.
	OfferWindow time.Duration
	// ExpireTimeout bounds the store round-trip when a deadline timer fires.
	ExpireTimeout time.Duration
}

type Dispatcher struct {
	store    Store
	ring     *rotation.Ring
	timers   *offerTimers
	notifier notify.Notifier
	window   time.Duration
	logger   zerolog.Logger
	kickCh   chan struct{}
}

// New builds the dispatcher and its response handler over a shared timer
// registry: the responder cancels timers the dispatcher armed, and a fired
// timer expires through the responder.
func New(store Store, ring *rotation.Ring, notifier notify.Notifier, cfg Config, logger zerolog.Logger) (*Dispatcher, *Responder) {
	if cfg.OfferWindow <= 0 {
		cfg.OfferWindow = 45 * time.Second
	}
	if cfg.ExpireTimeout <= 0 {
		cfg.ExpireTimeout = 10 * time.Second
	}
	timers := newOfferTimers()
	d := &Dispatcher{
		store:    store,
		ring:     ring,
		timers:   timers,
		notifier: notifier,
		window:   cfg.OfferWindow,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		kickCh:   make(chan struct{}, 1),
	}
	r := &Responder{
		store:    store,
		ring:     ring,
		timers:   timers,
		notifier: notifier,
		kick:     d.Kick,
		logger:   logger.With().Str("component", "responder").Logger(),
	}
	timers.fire = func(offerID string) {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ExpireTimeout)
		defer cancel()
		if _, err := r.Expire(ctx, offerID); err != nil {
			r.logger.Error().Err(err).Str("offer_id", offerID).Msg("deadline expiry failed")
		}
	}
	return d, r
}

type PassResult struct {
	Offers    int `json:"offers"`
	Conflicts int `json:"conflicts"`
}

// Kick schedules a pass on the run loop. Bursts coalesce into one pass.
func (d *Dispatcher) Kick() {
	select {
	case d.kickCh <- struct{}{}:
	default:
	}
}

// Run serves kicks until ctx is done. Pass failures are logged and the
// loop waits for the next trigger, matching the abort-and-report contract.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.kickCh:
			if _, err := d.RunPass(ctx); err != nil {
				d.logger.Error().Err(err).Msg("dispatch pass aborted")
			}
		}
	}
}

// RunPass drives toward the fixed point "no waiting ticket while an
// available operator exists". It repeats the pairing step until a step
// makes no progress, so offers freed mid-pass are picked up. Safe to run
// concurrently with itself: each assignment is one conditional write.
func (d *Dispatcher) RunPass(ctx context.Context) (PassResult, error) {
	var res PassResult
	for {
		created, conflicts, err := d.pairOnce(ctx)
		res.Offers += created
		res.Conflicts += conflicts
		if err != nil {
			metrics.DispatchPasses.WithLabelValues("error").Inc()
			return res, err
		}
		if created == 0 {
			break
		}
	}
	metrics.DispatchPasses.WithLabelValues("ok").Inc()
	if res.Offers > 0 || res.Conflicts > 0 {
		d.logger.Info().Int("offers", res.Offers).Int("conflicts", res.Conflicts).Msg("dispatch pass")
	}
	return res, nil
}

func (d *Dispatcher) pairOnce(ctx context.Context) (created, conflicts int, err error) {
	tickets, err := d.store.ListWaiting(ctx)
	if err != nil {
		return 0, 0, err
	}
	metrics.WaitingTickets.Set(float64(len(tickets)))

	avail, err := d.ring.Available(ctx)
	if err != nil {
		return 0, 0, err
	}
	metrics.RingAvailable.Set(float64(len(avail)))

	next := 0
	for _, t := range tickets {
		if next >= len(avail) {
			break
		}
		op := avail[next]
		now := time.Now().UTC()
		offer := models.Offer{
			ID:         uuid.NewString(),
			TicketID:   t.ID,
			OperatorID: op.ID,
			State:      models.OfferPending,
			CreatedAt:  now,
			Deadline:   now.Add(d.window),
		}
		if err := d.store.CreateOffer(ctx, offer); err != nil {
			if apperr.IsConflict(err) {
				// Another run won this ticket or operator; skip the
				// ticket for this pass and keep the operator in play.
				conflicts++
				metrics.OfferConflicts.Inc()
				continue
			}
			return created, conflicts, err
		}
		next++
		created++
		metrics.OffersCreated.Inc()
		d.timers.Arm(offer.ID, offer.Deadline)
		if err := d.notifier.OfferCreated(ctx, offer); err != nil {
			d.logger.Warn().Err(err).Str("offer_id", offer.ID).Msg("offer notification failed")
		}
		d.logger.Info().
			Str("offer_id", offer.ID).
			Str("ticket_id", t.ID).
			Str("operator_id", op.ID).
			Time("deadline", offer.Deadline).
			Msg("offer created")
	}
	return created, conflicts, nil
}
