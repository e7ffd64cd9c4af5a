package api

import (
	"io"
	"net/http"

	"booking-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const signatureHeader = "X-Gateway-Signature"

// maxWebhookBody bounds what is read from the gateway.
const maxWebhookBody = 1 << 20

func (h *Handler) listPayments(c *gin.Context) {
	bookingID, ok := pathID(c, "id")
	if !ok {
		return
	}
	payments, err := h.deps.Payments.ListPayments(c.Request.Context(), callerFrom(c), bookingID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func (h *Handler) createAdvanceOrder(c *gin.Context) {
	bookingID, ok := pathID(c, "id")
	if !ok {
		return
	}
	handle, err := h.deps.Payments.CreateAdvanceOrder(c.Request.Context(), callerFrom(c), bookingID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, handle)
}

func (h *Handler) createRemainingOrder(c *gin.Context) {
	bookingID, ok := pathID(c, "id")
	if !ok {
		return
	}
	handle, err := h.deps.Payments.CreateRemainingOrder(c.Request.Context(), callerFrom(c), bookingID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, handle)
}

// verifyPayment handles the checkout callback relayed by the client
func (h *Handler) verifyPayment(c *gin.Context) {
	var req service.VerifyPaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.deps.Reconciler.VerifyClientPayment(c.Request.Context(), callerFrom(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// gatewayWebhook receives server-to-server payment events. The body must be
// read raw because the signature covers the exact bytes sent.
func (h *Handler) gatewayWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
		return
	}

	outcome, err := h.deps.Reconciler.HandleWebhook(c.Request.Context(), body, c.GetHeader(signatureHeader))
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.logger.Info("Webhook handled",
		zap.Int64("event_id", outcome.EventID),
		zap.String("status", outcome.Status),
		zap.Bool("duplicate", outcome.Duplicate))
	c.JSON(http.StatusOK, outcome)
}

func (h *Handler) replayWebhook(c *gin.Context) {
	eventID, ok := pathID(c, "id")
	if !ok {
		return
	}
	outcome, err := h.deps.Reconciler.ReplayWebhook(c.Request.Context(), callerFrom(c), eventID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}
