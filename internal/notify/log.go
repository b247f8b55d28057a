package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/atendo/dispatchd/internal/models"
)

// LogNotifier is the default delivery channel: clients pick offers up from
// the change feed, so the server side only records that one went out.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) OfferCreated(_ context.Context, offer models.Offer) error {
	n.Logger.Info().
		Str("offer_id", offer.ID).
		Str("ticket_id", offer.TicketID).
		Str("operator_id", offer.OperatorID).
		Time("deadline", offer.Deadline).
		Msg("offer created")
	return nil
}

func (n LogNotifier) OfferResolved(_ context.Context, offer models.Offer) error {
	n.Logger.Info().
		Str("offer_id", offer.ID).
		Str("ticket_id", offer.TicketID).
		Str("operator_id", offer.OperatorID).
		Str("state", string(offer.State)).
		Msg("offer resolved")
	return nil
}
