package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/atendo/dispatchd/internal/apperr"
	"github.com/atendo/dispatchd/internal/metrics"
	"github.com/atendo/dispatchd/internal/models"
	"github.com/atendo/dispatchd/internal/notify"
	"github.com/atendo/dispatchd/internal/rotation"
)

// Outcome distinguishes an applied resolution from the silent no-op taken
// when the offer was already resolved by a racing path.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeNoop    Outcome = "noop"
)

// Responder resolves offers. Accept, reject, and expiry all race through
// the store's conditional updates: whichever commits first wins and the
// loser observes a conflict.
type Responder struct {
	store    Store
	ring     *rotation.Ring
	timers   *offerTimers
	notifier notify.Notifier
	kick     func()
	logger   zerolog.Logger
}

// Accept moves Pending -> Accepted and the ticket to Active. Returns a
// Conflict error if the offer is already resolved and Expired if its
// deadline passed before the accept committed.
func (r *Responder) Accept(ctx context.Context, offerID string) (models.Offer, error) {
	offer, err := r.store.AcceptOffer(ctx, offerID)
	if err != nil {
		return models.Offer{}, err
	}
	r.timers.Cancel(offerID)
	metrics.OffersResolved.WithLabelValues(string(models.OfferAccepted)).Inc()
	if err := r.notifier.OfferResolved(ctx, offer); err != nil {
		r.logger.Warn().Err(err).Str("offer_id", offerID).Msg("resolution notification failed")
	}
	r.logger.Info().
		Str("offer_id", offerID).
		Str("ticket_id", offer.TicketID).
		Str("operator_id", offer.OperatorID).
		Msg("offer accepted")
	return offer, nil
}

// Reject returns the ticket to the waiting pool and moves the operator to
// the back of the rotation. Rejecting an already-resolved offer is a
// logged no-op, never an error surfaced to the operator.
func (r *Responder) Reject(ctx context.Context, offerID string) (Outcome, error) {
	return r.release(ctx, offerID, models.OfferRejected)
}

// Expire has the same effect as Reject but is driven by the deadline
// timer. Idempotent against a concurrent accept: if the accept committed
// first the expiry degrades to a no-op.
func (r *Responder) Expire(ctx context.Context, offerID string) (Outcome, error) {
	return r.release(ctx, offerID, models.OfferExpired)
}

func (r *Responder) release(ctx context.Context, offerID string, to models.OfferState) (Outcome, error) {
	offer, err := r.store.ReleaseOffer(ctx, offerID, to)
	if err != nil {
		if apperr.IsConflict(err) {
			r.timers.Cancel(offerID)
			r.logger.Debug().Str("offer_id", offerID).Str("wanted", string(to)).Msg("offer already resolved")
			return OutcomeNoop, nil
		}
		return "", err
	}
	r.timers.Cancel(offerID)
	if err := r.ring.MoveToBack(ctx, offer.OperatorID); err != nil {
		return "", err
	}
	metrics.OffersResolved.WithLabelValues(string(to)).Inc()
	if err := r.notifier.OfferResolved(ctx, offer); err != nil {
		r.logger.Warn().Err(err).Str("offer_id", offerID).Msg("resolution notification failed")
	}
	r.logger.Info().
		Str("offer_id", offerID).
		Str("ticket_id", offer.TicketID).
		Str("operator_id", offer.OperatorID).
		Str("state", string(to)).
		Msg("offer released")
	r.kick()
	return OutcomeApplied, nil
}

// SweepExpired expires every pending offer past its deadline. Covers
// timers lost to a restart; live timers make this sweep a set of no-ops.
func (r *Responder) SweepExpired(ctx context.Context) (int, error) {
	offers, err := r.store.ListExpiredPending(ctx)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, offer := range offers {
		outcome, err := r.Expire(ctx, offer.ID)
		if err != nil {
			return expired, err
		}
		if outcome == OutcomeApplied {
			expired++
		}
	}
	return expired, nil
}
