package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/service"
	"booking-service/internal/util"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// BookingManager is the booking lifecycle as used over HTTP.
type BookingManager interface {
	Availability(ctx context.Context, productID int64, start, end string) (*service.Availability, error)
	CreateBooking(ctx context.Context, caller models.CallerIdentity, req *service.CreateBookingRequest) (*models.Booking, error)
	Decide(ctx context.Context, caller models.CallerIdentity, bookingID int64, decision string) (*models.Booking, error)
	Cancel(ctx context.Context, caller models.CallerIdentity, bookingID int64) (*models.Booking, error)
	GetBookingByReference(ctx context.Context, caller models.CallerIdentity, ref string) (*models.Booking, error)
	ListBookings(ctx context.Context, caller models.CallerIdentity, limit, offset int) ([]models.Booking, error)
}

type PaymentManager interface {
	CreateAdvanceOrder(ctx context.Context, caller models.CallerIdentity, bookingID int64) (*service.OrderHandle, error)
	CreateRemainingOrder(ctx context.Context, caller models.CallerIdentity, bookingID int64) (*service.OrderHandle, error)
	ListPayments(ctx context.Context, caller models.CallerIdentity, bookingID int64) ([]models.Payment, error)
}

type Reconciler interface {
	VerifyClientPayment(ctx context.Context, caller models.CallerIdentity, req *service.VerifyPaymentRequest) (*service.ReconcileResult, error)
	HandleWebhook(ctx context.Context, rawBody []byte, signature string) (*service.WebhookOutcome, error)
	ReplayWebhook(ctx context.Context, caller models.CallerIdentity, eventID int64) (*service.WebhookOutcome, error)
}

type CalendarManager interface {
	CreateBlock(ctx context.Context, caller models.CallerIdentity, req *service.CreateBlockRequest) (*models.CalendarBlock, error)
	DeleteBlock(ctx context.Context, caller models.CallerIdentity, blockID int64) error
	ListBlocks(ctx context.Context, caller models.CallerIdentity) ([]models.CalendarBlock, error)
}

type PricingManager interface {
	UpdatePricing(ctx context.Context, caller models.CallerIdentity, productID int64, upd *service.PricingUpdate) (*models.Product, error)
}

type ProfileEditManager interface {
	Submit(ctx context.Context, caller models.CallerIdentity, req *service.SubmitEditRequest) (*models.ProfileEditRequest, error)
	ListPending(ctx context.Context, caller models.CallerIdentity) ([]models.ProfileEditRequest, error)
	Approve(ctx context.Context, caller models.CallerIdentity, editID int64) (*models.ProfileEditRequest, error)
	Reject(ctx context.Context, caller models.CallerIdentity, editID int64) error
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the handler. Idempotency may be nil.
type Deps struct {
	Bookings       BookingManager
	Payments       PaymentManager
	Reconciler     Reconciler
	Calendar       CalendarManager
	Products       PricingManager
	ProfileEdits   ProfileEditManager
	Idempotency    IdempotencyStore
	IdempotencyTTL time.Duration
	JWTSecret      string
	AllowedOrigins []string
	Readiness      map[string]Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	deps   Deps
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) *Handler {
	if deps.IdempotencyTTL <= 0 {
		deps.IdempotencyTTL = 24 * time.Hour
	}
	return &Handler{deps: deps, logger: util.GetLogger()}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(cors.New(h.corsConfig()))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	// The gateway authenticates with the body signature, not a bearer token.
	v1.POST("/webhooks/gateway", h.gatewayWebhook)

	authed := v1.Group("", AuthMiddleware(h.deps.JWTSecret))
	{
		authed.GET("/products/:id/availability", h.availability)
		authed.PUT("/products/:id/pricing", h.updatePricing)

		authed.POST("/bookings", h.createBooking)
		authed.GET("/bookings", h.listBookings)
		authed.GET("/booking-references/:ref", h.getBookingByReference)
		authed.POST("/bookings/:id/decision", h.decide)
		authed.POST("/bookings/:id/cancel", h.cancel)
		authed.GET("/bookings/:id/payments", h.listPayments)
		authed.POST("/bookings/:id/payments/advance", h.createAdvanceOrder)
		authed.POST("/bookings/:id/payments/remaining", h.createRemainingOrder)
		authed.POST("/payments/verify", h.verifyPayment)

		authed.GET("/calendar/blocks", h.listBlocks)
		authed.POST("/calendar/blocks", h.createBlock)
		authed.DELETE("/calendar/blocks/:id", h.deleteBlock)

		authed.POST("/profile-edits", h.submitProfileEdit)
	}

	admin := authed.Group("/admin", RequireAdmin())
	{
		admin.GET("/profile-edits", h.listProfileEdits)
		admin.POST("/profile-edits/:id/approve", h.approveProfileEdit)
		admin.POST("/profile-edits/:id/reject", h.rejectProfileEdit)
		admin.POST("/webhooks/:id/replay", h.replayWebhook)
	}
}

func (h *Handler) corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	if len(h.deps.AllowedOrigins) > 0 {
		cfg.AllowOrigins = h.deps.AllowedOrigins
	} else {
		cfg.AllowAllOrigins = true
	}
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", idempotencyHeader)
	cfg.MaxAge = 12 * time.Hour
	return cfg
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, p := range h.deps.Readiness {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
