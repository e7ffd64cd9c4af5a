package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"booking-service/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const idempotencyHeader = "Idempotency-Key"

// IdempotencyStore caches responses of retried write requests.
type IdempotencyStore interface {
	ReserveIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	StoreIdempotentResponse(ctx context.Context, key string, response []byte, ttl time.Duration) error
	GetIdempotentResponse(ctx context.Context, key string) (response []byte, pending, found bool, err error)
	ForgetIdempotencyKey(ctx context.Context, key string) error
}

type cachedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// bodyRecorder keeps a copy of what the handler writes.
type bodyRecorder struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

// withIdempotency replays the stored response when the same caller retries
// with the same Idempotency-Key. Requests without the header pass through.
func (h *Handler) withIdempotency(c *gin.Context, next func(c *gin.Context)) {
	header := c.GetHeader(idempotencyHeader)
	if header == "" || h.deps.Idempotency == nil {
		next(c)
		return
	}

	ctx := c.Request.Context()
	caller := callerFrom(c)
	key := scopedKey(caller, c.FullPath(), header)

	reserved, err := h.deps.Idempotency.ReserveIdempotencyKey(ctx, key, h.deps.IdempotencyTTL)
	if err != nil {
		// Redis being down should not block bookings.
		h.logger.Warn("Idempotency reserve failed", zap.String("key", key), zap.Error(err))
		next(c)
		return
	}

	if !reserved {
		resp, pending, found, err := h.deps.Idempotency.GetIdempotentResponse(ctx, key)
		switch {
		case err != nil:
			h.logger.Warn("Idempotency lookup failed", zap.String("key", key), zap.Error(err))
			next(c)
		case pending || !found:
			c.JSON(http.StatusConflict, gin.H{"error": "A request with this Idempotency-Key is in progress"})
		default:
			var cached cachedResponse
			if err := json.Unmarshal(resp, &cached); err != nil {
				h.logger.Warn("Idempotency cache corrupt", zap.String("key", key), zap.Error(err))
				next(c)
				return
			}
			c.Header("Idempotent-Replayed", "true")
			c.Data(cached.Status, "application/json; charset=utf-8", cached.Body)
		}
		return
	}

	rec := &bodyRecorder{ResponseWriter: c.Writer}
	c.Writer = rec
	next(c)

	status := rec.Status()
	if status >= http.StatusInternalServerError {
		if err := h.deps.Idempotency.ForgetIdempotencyKey(ctx, key); err != nil {
			h.logger.Warn("Idempotency release failed", zap.String("key", key), zap.Error(err))
		}
		return
	}

	payload, err := json.Marshal(cachedResponse{Status: status, Body: rec.buf.Bytes()})
	if err == nil {
		err = h.deps.Idempotency.StoreIdempotentResponse(ctx, key, payload, h.deps.IdempotencyTTL)
	}
	if err != nil {
		h.logger.Warn("Idempotency store failed", zap.String("key", key), zap.Error(err))
	}
}

func scopedKey(caller models.CallerIdentity, route, key string) string {
	return strconv.FormatInt(caller.VendorID, 10) + ":" + route + ":" + key
}
