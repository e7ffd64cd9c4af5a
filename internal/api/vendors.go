package api

import (
	"net/http"

	"booking-service/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) updatePricing(c *gin.Context) {
	productID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var upd service.PricingUpdate
	if !bindJSON(c, &upd) {
		return
	}
	product, err := h.deps.Products.UpdatePricing(c.Request.Context(), callerFrom(c), productID, &upd)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) listBlocks(c *gin.Context) {
	blocks, err := h.deps.Calendar.ListBlocks(c.Request.Context(), callerFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocks": blocks})
}

func (h *Handler) createBlock(c *gin.Context) {
	var req service.CreateBlockRequest
	if !bindJSON(c, &req) {
		return
	}
	block, err := h.deps.Calendar.CreateBlock(c.Request.Context(), callerFrom(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, block)
}

func (h *Handler) deleteBlock(c *gin.Context) {
	blockID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.deps.Calendar.DeleteBlock(c.Request.Context(), callerFrom(c), blockID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) submitProfileEdit(c *gin.Context) {
	var req service.SubmitEditRequest
	if !bindJSON(c, &req) {
		return
	}
	edit, err := h.deps.ProfileEdits.Submit(c.Request.Context(), callerFrom(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, edit)
}

func (h *Handler) listProfileEdits(c *gin.Context) {
	edits, err := h.deps.ProfileEdits.ListPending(c.Request.Context(), callerFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile_edits": edits})
}

func (h *Handler) approveProfileEdit(c *gin.Context) {
	editID, ok := pathID(c, "id")
	if !ok {
		return
	}
	edit, err := h.deps.ProfileEdits.Approve(c.Request.Context(), callerFrom(c), editID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, edit)
}

func (h *Handler) rejectProfileEdit(c *gin.Context) {
	editID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.deps.ProfileEdits.Reject(c.Request.Context(), callerFrom(c), editID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}
