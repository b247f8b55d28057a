package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/atendo/dispatchd/internal/apperr"
	"github.com/atendo/dispatchd/internal/dispatch"
)

func (h *Handler) OfferDetails(c *gin.Context) {
	offer, err := h.Store.GetOffer(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeTaxonomy(c, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

// @Summary Accept an offer
// @Description Pending -> Accepted; the ticket goes Active. Fails if the offer is resolved or past deadline.
// @Produce json
// @Success 200 {object} models.Offer
// @Failure 409 {object} map[string]any
// @Failure 410 {object} map[string]any
// @Router /api/offers/{id}/accept [post]
func (h *Handler) OfferAccept(c *gin.Context) {
	offer, err := h.Responder.Accept(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeTaxonomy(c, err)
		return
	}
	c.JSON(http.StatusOK, offer)
}

// @Summary Reject an offer
// @Description A normal outcome: the ticket returns to waiting and the operator moves to the back of the rotation. Never errors for an already-resolved offer.
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/offers/{id}/reject [post]
func (h *Handler) OfferReject(c *gin.Context) {
	h.resolveOffer(c, h.Responder.Reject)
}

// OfferExpire is called by the client when its countdown reaches zero.
func (h *Handler) OfferExpire(c *gin.Context) {
	h.resolveOffer(c, h.Responder.Expire)
}

// resolveOffer never surfaces a race to the caller: losing to a concurrent
// accept reports outcome "noop" with 200. Only a missing offer or an
// unreachable store produce an error response.
func (h *Handler) resolveOffer(c *gin.Context, resolve func(ctx context.Context, offerID string) (dispatch.Outcome, error)) {
	outcome, err := resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		if apperr.IsNotFound(err) || apperr.IsUnavailable(err) {
			h.writeTaxonomy(c, err)
			return
		}
		h.Logger.Warn().Err(err).Str("offer_id", c.Param("id")).Msg("offer resolution swallowed")
		outcome = dispatch.OutcomeNoop
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}
