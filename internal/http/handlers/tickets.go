package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/atendo/dispatchd/internal/models"
)

type CreateTicketRequest struct {
	Priority int `json:"priority" validate:"gte=0,lte=10"`
}

// @Summary Create a ticket
// @Description Intake entry point: the ticket joins the waiting pool and a dispatch pass is requested
// @Accept json
// @Produce json
// @Param body body CreateTicketRequest true "ticket"
// @Success 201 {object} models.Ticket
// @Failure 400 {object} map[string]any
// @Router /api/tickets [post]
func (h *Handler) TicketCreate(c *gin.Context) {
	var req CreateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Malformed body", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Validation failed", err.Error())
		return
	}

	ticket, err := h.Store.CreateTicket(c.Request.Context(), req.Priority)
	if err != nil {
		h.writeTaxonomy(c, err)
		return
	}
	h.Dispatcher.Kick()
	c.JSON(http.StatusCreated, ticket)
}

func (h *Handler) TicketDetails(c *gin.Context) {
	ticket, err := h.Store.GetTicket(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeTaxonomy(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// TicketPause suspends an active ticket. The staleness sweep abandons it
// if the operator never resumes.
func (h *Handler) TicketPause(c *gin.Context) {
	h.transitionTicket(c, models.TicketActive, models.TicketPaused)
}

func (h *Handler) TicketResume(c *gin.Context) {
	h.transitionTicket(c, models.TicketPaused, models.TicketActive)
}

func (h *Handler) TicketFinish(c *gin.Context) {
	h.transitionTicket(c, models.TicketActive, models.TicketFinished)
}

// TicketUnserve closes a waiting ticket without service. Admin action.
func (h *Handler) TicketUnserve(c *gin.Context) {
	h.transitionTicket(c, models.TicketWaiting, models.TicketUnserved)
}

func (h *Handler) transitionTicket(c *gin.Context, from, to models.TicketStatus) {
	id := c.Param("id")
	if err := h.Store.UpdateTicketStatus(c.Request.Context(), id, from, to); err != nil {
		h.writeTaxonomy(c, err)
		return
	}
	ticket, err := h.Store.GetTicket(c.Request.Context(), id)
	if err != nil {
		h.writeTaxonomy(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}
