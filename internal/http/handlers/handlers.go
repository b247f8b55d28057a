package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/atendo/dispatchd/internal/apperr"
	"github.com/atendo/dispatchd/internal/dispatch"
	"github.com/atendo/dispatchd/internal/models"
	"github.com/atendo/dispatchd/internal/realtime"
	"github.com/atendo/dispatchd/internal/rotation"
)

// Store is the read/write surface the HTTP layer needs from the store.
type Store interface {
	Ping(ctx context.Context) error
	CreateTicket(ctx context.Context, priority int) (models.Ticket, error)
	GetTicket(ctx context.Context, id string) (models.Ticket, error)
	GetOffer(ctx context.Context, id string) (models.Offer, error)
	ListOperators(ctx context.Context) ([]models.Operator, error)
	SetReachable(ctx context.Context, id string, reachable bool) error
	UpdateTicketStatus(ctx context.Context, id string, from, to models.TicketStatus) error
}

type Handler struct {
	Store      Store
	Dispatcher *dispatch.Dispatcher
	Responder  *dispatch.Responder
	Ring       *rotation.Ring
	Recon      *realtime.Reconciler
	Validator  *validator.Validate
	Logger     zerolog.Logger
	AdminKey   string
}

// @Summary Health check
// @Produce json
// @Success 200 {object} map[string]any
// @Router /healthz [get]
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Live queue view
// @Description Waiting tickets and the rotation ring as seen by the reconciler
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/queue [get]
func (h *Handler) QueueView(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tickets": h.Recon.Queue(),
		"ring":    h.Recon.Ring(),
	})
}

func (h *Handler) OperatorsList(c *gin.Context) {
	operators, err := h.Store.ListOperators(c.Request.Context())
	if err != nil {
		h.writeTaxonomy(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operators": operators})
}

// @Summary Run a dispatch pass now
// @Description Operator-facing "distribute now"; funnels into the same pass as the tick
// @Produce json
// @Success 200 {object} dispatch.PassResult
// @Router /api/dispatch [post]
func (h *Handler) DispatchNow(c *gin.Context) {
	res, err := h.Dispatcher.RunPass(c.Request.Context())
	if err != nil {
		h.writeTaxonomy(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// writeTaxonomy maps the error taxonomy onto HTTP statuses. Conflict and
// Expired stay visible here because a direct user action hit them; the
// silent-swallow rule for reject/expiry is applied in those handlers
// before this mapping is reached.
func (h *Handler) writeTaxonomy(c *gin.Context, err error) {
	switch apperr.KindOf(err) {
	case apperr.NotFound:
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Resource not found", err.Error())
	case apperr.Conflict:
		writeError(c, http.StatusConflict, "CONFLICT", "State changed concurrently", err.Error())
	case apperr.Expired:
		writeError(c, http.StatusGone, "OFFER_EXPIRED", "Offer deadline has passed", err.Error())
	case apperr.Unavailable:
		writeError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Could not reach service, try again", nil)
	default:
		h.Logger.Error().Err(err).Msg("unhandled error")
		writeError(c, http.StatusInternalServerError, "INTERNAL", "Internal error", nil)
	}
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
