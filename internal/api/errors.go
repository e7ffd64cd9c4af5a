package api

import (
	"errors"
	"net/http"

	"booking-service/internal/models"
	"booking-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusOf maps domain errors onto HTTP status codes.
func statusOf(err error) int {
	var rc *service.RangeConflictError
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrSignatureMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &rc), errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrExpired):
		return http.StatusGone
	case errors.Is(err, service.ErrPaymentInitiationFailed):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrBankDetailsMissing), errors.Is(err, service.ErrReconciliation):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusOf(err)
	body := gin.H{"error": err.Error()}

	var rc *service.RangeConflictError
	if errors.As(err, &rc) {
		body["conflict_until"] = models.FormatDate(rc.ConflictUntil)
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		body["error"] = "Internal server error"
	}
	c.JSON(status, body)
}
