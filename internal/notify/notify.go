// Package notify delivers offer events to the targeted operator's client.
// The client owns the visible countdown and calls expire when it reaches
// zero; delivery failures are logged, never propagated, because the
// deadline timer covers an operator that did not see the offer.
package notify

import (
	"context"

	"github.com/atendo/dispatchd/internal/models"
)

type Notifier interface {
	OfferCreated(ctx context.Context, offer models.Offer) error
	OfferResolved(ctx context.Context, offer models.Offer) error
}
