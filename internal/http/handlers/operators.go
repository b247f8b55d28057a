package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// @Summary Enable an operator
// @Description Puts the operator at the back of the rotation ring. Idempotent; administrators never join.
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/operators/{id}/enable [post]
func (h *Handler) OperatorEnable(c *gin.Context) {
	id := c.Param("id")
	if err := h.Ring.Enable(c.Request.Context(), id); err != nil {
		h.writeTaxonomy(c, err)
		return
	}
	h.Dispatcher.Kick()
	c.JSON(http.StatusOK, gin.H{"operator_id": id, "enabled": true})
}

func (h *Handler) OperatorDisable(c *gin.Context) {
	id := c.Param("id")
	if err := h.Ring.Disable(c.Request.Context(), id); err != nil {
		h.writeTaxonomy(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operator_id": id, "enabled": false})
}

type ReachableRequest struct {
	Reachable *bool `json:"reachable" validate:"required"`
}

// OperatorReachable records presence changes pushed by the operator's
// client. Coming online can unblock waiting tickets, so it kicks dispatch.
func (h *Handler) OperatorReachable(c *gin.Context) {
	var req ReachableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Malformed body", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Validation failed", err.Error())
		return
	}

	id := c.Param("id")
	if err := h.Store.SetReachable(c.Request.Context(), id, *req.Reachable); err != nil {
		h.writeTaxonomy(c, err)
		return
	}
	if *req.Reachable {
		h.Dispatcher.Kick()
	}
	c.JSON(http.StatusOK, gin.H{"operator_id": id, "reachable": *req.Reachable})
}
