package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/gateway"
	"booking-service/internal/models"
	"booking-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Gateway webhook event types
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
)

// Reconciliation paths, used as metric labels.
const (
	pathClient  = "client"
	pathWebhook = "webhook"
)

// VerifyPaymentRequest is what the checkout returns to the client
type VerifyPaymentRequest struct {
	OrderID   string `json:"order_id" binding:"required"`
	PaymentID string `json:"payment_id" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// ReconcileResult reports the state after a verification.
type ReconcileResult struct {
	Payment *models.Payment `json:"payment"`
	Booking *models.Booking `json:"booking"`
}

// WebhookOutcome reports what happened to one delivery.
type WebhookOutcome struct {
	EventID   int64  `json:"event_id"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// webhookEnvelope is the subset of the gateway's webhook body we read.
type webhookEnvelope struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity webhookPayment `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type webhookPayment struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	ErrorDescription string `json:"error_description"`
}

// ReconciliationService confirms payments from the client and from the gateway.
// Both paths race on the same CREATED -> PAID guarded update; whichever wins
// runs the post-capture transitions, which are themselves guarded.
type ReconciliationService struct {
	store         PaymentStore
	gateway       gateway.Client
	keySecret     string
	webhookSecret string
	notify        *notifications
	logger        *zap.Logger
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(store PaymentStore, gw gateway.Client, keySecret, webhookSecret string, notifier Notifier) *ReconciliationService {
	return &ReconciliationService{
		store:         store,
		gateway:       gw,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		notify:        newNotifications(store, notifier),
		logger:        util.GetLogger(),
	}
}

// VerifyClientPayment checks the checkout signature and records the capture
func (r *ReconciliationService) VerifyClientPayment(ctx context.Context, caller models.CallerIdentity, req *VerifyPaymentRequest) (*ReconcileResult, error) {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.VerifyClientPayment",
		attribute.String("order_id", req.OrderID))
	defer span.End()

	if !r.gateway.VerifySignature(gateway.CheckoutPayload(req.OrderID, req.PaymentID), req.Signature, r.keySecret) {
		util.SignatureFailuresTotal.WithLabelValues(pathClient).Inc()
		r.logger.Error("Client payment signature mismatch",
			zap.String("order_id", req.OrderID),
			zap.String("payment_id", req.PaymentID),
			zap.Int64("caller_id", caller.VendorID))
		return nil, ErrSignatureMismatch
	}

	payment, err := r.store.GetPaymentByOrderID(ctx, req.OrderID)
	if err != nil {
		return nil, fromStore(err)
	}
	booking, err := r.store.GetBookingByID(ctx, payment.BookingID)
	if err != nil {
		return nil, fromStore(err)
	}
	if caller.VendorID != booking.BookedByVendorID {
		return nil, ErrForbidden
	}

	if err := r.capture(ctx, payment, req.PaymentID, req.Signature, pathClient); err != nil {
		return nil, util.SpanError(span, err)
	}
	return r.result(ctx, req.OrderID)
}

// HandleWebhook verifies and applies one gateway delivery. Every body is
// retained; redeliveries of a processed event are no-ops.
func (r *ReconciliationService) HandleWebhook(ctx context.Context, rawBody []byte, signature string) (*WebhookOutcome, error) {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.HandleWebhook")
	defer span.End()

	var env webhookEnvelope
	parseErr := json.Unmarshal(rawBody, &env)

	event := &models.WebhookEvent{
		EventKey:  eventKey(env.ID, rawBody),
		EventType: env.Event,
		Signature: signature,
		RawBody:   string(rawBody),
		Status:    models.WebhookStatusReceived,
	}
	if orderID := env.Payload.Payment.Entity.OrderID; orderID != "" {
		event.OrderID = sql.NullString{String: orderID, Valid: true}
	}

	if !r.gateway.VerifySignature(rawBody, signature, r.webhookSecret) {
		util.SignatureFailuresTotal.WithLabelValues(pathWebhook).Inc()
		util.WebhookEventsTotal.WithLabelValues("rejected").Inc()
		// Rejected bodies get their own key so a forged copy cannot shadow the real delivery.
		event.EventKey = "rejected:" + uuid.New().String()
		event.Status = models.WebhookStatusRejected
		event.Error = sql.NullString{String: ErrSignatureMismatch.Error(), Valid: true}
		if _, err := r.store.SaveWebhookEvent(ctx, event); err != nil {
			r.logger.Warn("Failed to retain rejected webhook", zap.Error(err))
		}
		r.logger.Error("Webhook signature mismatch",
			zap.String("event_type", env.Event),
			zap.Int64("webhook_event_id", event.ID))
		return nil, ErrSignatureMismatch
	}

	duplicate, err := r.store.SaveWebhookEvent(ctx, event)
	if err != nil {
		return nil, util.SpanError(span, fmt.Errorf("failed to store webhook event: %w", err))
	}
	if duplicate && event.Status != models.WebhookStatusReceived && event.Status != models.WebhookStatusFailed {
		util.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
		r.logger.Info("Duplicate webhook delivery",
			zap.Int64("webhook_event_id", event.ID),
			zap.String("status", event.Status))
		return &WebhookOutcome{EventID: event.ID, Status: event.Status, Duplicate: true}, nil
	}

	if parseErr != nil {
		r.finish(ctx, event, models.WebhookStatusFailed, parseErr)
		return nil, fmt.Errorf("%w: malformed webhook body: %v", ErrValidation, parseErr)
	}

	outcome, err := r.process(ctx, event, &env)
	if err != nil {
		return nil, util.SpanError(span, err)
	}
	outcome.Duplicate = duplicate
	return outcome, nil
}

// ReplayWebhook re-runs a stored event that was received but never processed,
// or whose processing failed.
func (r *ReconciliationService) ReplayWebhook(ctx context.Context, caller models.CallerIdentity, eventID int64) (*WebhookOutcome, error) {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.ReplayWebhook", attribute.Int64("webhook_event_id", eventID))
	defer span.End()

	if !caller.IsAdmin() {
		return nil, ErrForbidden
	}

	event, err := r.store.GetWebhookEvent(ctx, eventID)
	if err != nil {
		return nil, fromStore(err)
	}
	if event.Status != models.WebhookStatusReceived && event.Status != models.WebhookStatusFailed {
		return nil, fmt.Errorf("%w: webhook event is %s", ErrInvalidState, event.Status)
	}

	var env webhookEnvelope
	if err := json.Unmarshal([]byte(event.RawBody), &env); err != nil {
		return nil, fmt.Errorf("%w: stored body is not valid JSON", ErrValidation)
	}

	r.logger.Info("Replaying webhook",
		zap.Int64("webhook_event_id", event.ID),
		zap.Int64("admin_id", caller.VendorID))
	return r.process(ctx, event, &env)
}

func (r *ReconciliationService) process(ctx context.Context, event *models.WebhookEvent, env *webhookEnvelope) (*WebhookOutcome, error) {
	entity := env.Payload.Payment.Entity

	var err error
	status := models.WebhookStatusProcessed
	switch env.Event {
	case EventPaymentCaptured:
		err = r.applyCaptured(ctx, &entity)
	case EventPaymentFailed:
		err = r.applyFailed(ctx, &entity)
	default:
		status = models.WebhookStatusIgnored
	}

	if err != nil {
		r.finish(ctx, event, models.WebhookStatusFailed, err)
		util.WebhookEventsTotal.WithLabelValues("failed").Inc()
		r.logger.Error("Webhook reconciliation failed",
			zap.Int64("webhook_event_id", event.ID),
			zap.String("event_type", env.Event),
			zap.String("order_id", entity.OrderID),
			zap.Error(err))
		if errors.Is(err, ErrReconciliation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrReconciliation, err)
	}

	r.finish(ctx, event, status, nil)
	util.WebhookEventsTotal.WithLabelValues(status).Inc()
	return &WebhookOutcome{EventID: event.ID, Status: status}, nil
}

func (r *ReconciliationService) applyCaptured(ctx context.Context, entity *webhookPayment) error {
	payment, err := r.store.GetPaymentByOrderID(ctx, entity.OrderID)
	if err != nil {
		return fromStore(err)
	}
	if entity.Amount != payment.Amount {
		return fmt.Errorf("%w: captured %d but order %s was for %d", ErrReconciliation, entity.Amount, entity.OrderID, payment.Amount)
	}
	return r.capture(ctx, payment, entity.ID, "", pathWebhook)
}

func (r *ReconciliationService) applyFailed(ctx context.Context, entity *webhookPayment) error {
	reason := entity.ErrorDescription
	if reason == "" {
		reason = "payment failed at gateway"
	}
	won, err := r.store.MarkPaymentFailed(ctx, entity.OrderID, reason)
	if err != nil {
		return fmt.Errorf("failed to mark payment failed: %w", err)
	}
	if won {
		util.PaymentsFailedTotal.Inc()
		r.logger.Info("Payment failed",
			zap.String("order_id", entity.OrderID),
			zap.String("reason", reason))
	}
	return nil
}

// capture moves the payment to PAID and then settles the booking. Losing the
// PAID race is not an error: the loser re-runs the guarded booking transitions
// so a crash between the two steps on the winning side still converges.
func (r *ReconciliationService) capture(ctx context.Context, payment *models.Payment, gatewayPaymentID, signature, path string) error {
	won, err := r.store.MarkPaymentPaid(ctx, payment.GatewayOrderID, gatewayPaymentID, signature)
	if err != nil {
		return fmt.Errorf("failed to mark payment paid: %w", err)
	}

	if won {
		util.PaymentsCapturedTotal.WithLabelValues(path).Inc()
		r.logger.Info("Payment captured",
			zap.String("order_id", payment.GatewayOrderID),
			zap.String("gateway_payment_id", gatewayPaymentID),
			zap.String("path", path))
	} else {
		current, err := r.store.GetPaymentByOrderID(ctx, payment.GatewayOrderID)
		if err != nil {
			return fromStore(err)
		}
		switch current.Status {
		case models.PaymentStatusPaid, models.PaymentStatusCompleted:
		case models.PaymentStatusFailed:
			return fmt.Errorf("%w: order %s was captured after it failed", ErrReconciliation, payment.GatewayOrderID)
		default:
			return fmt.Errorf("%w: order %s is %s", ErrReconciliation, payment.GatewayOrderID, current.Status)
		}
	}

	return r.settle(ctx, payment)
}

// settle applies the booking transition that a paid payment implies and closes
// out the booking's payments once the final amount has been collected.
func (r *ReconciliationService) settle(ctx context.Context, payment *models.Payment) error {
	booking, err := r.store.GetBookingByID(ctx, payment.BookingID)
	if err != nil {
		return fromStore(err)
	}

	switch payment.Kind {
	case models.PaymentKindAdvance:
		won, err := r.store.ConfirmBooking(ctx, booking.ID)
		if err != nil {
			return fmt.Errorf("failed to confirm booking: %w", err)
		}
		if won {
			util.BookingTransitionsTotal.WithLabelValues(models.BookingStatusConfirmed).Inc()
			confirmed := r.notify.reload(ctx, r.store, booking)
			r.notify.booking(ctx, confirmed.VendorID, models.NotifyBookingConfirmed, confirmed, nil)
			r.notify.booking(ctx, confirmed.BookedByVendorID, models.NotifyBookingConfirmed, confirmed, nil)
		} else if status, err := r.bookingStatus(ctx, booking.ID); err != nil {
			return err
		} else if status != models.BookingStatusConfirmed && status != models.BookingStatusCompleted {
			return fmt.Errorf("%w: advance captured on %s booking %d", ErrReconciliation, status, booking.ID)
		}
	case models.PaymentKindRemaining:
		won, err := r.store.CompleteBooking(ctx, booking.ID)
		if err != nil {
			return fmt.Errorf("failed to complete booking: %w", err)
		}
		if won {
			util.BookingTransitionsTotal.WithLabelValues(models.BookingStatusCompleted).Inc()
			settled := r.notify.reload(ctx, r.store, booking)
			r.notify.booking(ctx, settled.VendorID, models.NotifyBookingSettled, settled, nil)
			r.notify.booking(ctx, settled.BookedByVendorID, models.NotifyBookingSettled, settled, nil)
		} else if status, err := r.bookingStatus(ctx, booking.ID); err != nil {
			return err
		} else if status != models.BookingStatusCompleted {
			return fmt.Errorf("%w: balance captured on %s booking %d", ErrReconciliation, status, booking.ID)
		}
	}

	paid, err := r.store.SumPaidForBooking(ctx, booking.ID, "")
	if err != nil {
		return fmt.Errorf("failed to sum payments: %w", err)
	}
	if paid < booking.FinalAmount {
		return nil
	}

	payments, err := r.store.ListPaymentsForBooking(ctx, booking.ID)
	if err != nil {
		return fmt.Errorf("failed to list payments: %w", err)
	}
	for _, p := range payments {
		if p.Status != models.PaymentStatusPaid {
			continue
		}
		if _, err := r.store.MarkPaymentCompleted(ctx, p.ID); err != nil {
			return fmt.Errorf("failed to complete payment %d: %w", p.ID, err)
		}
	}
	return nil
}

func (r *ReconciliationService) bookingStatus(ctx context.Context, id int64) (string, error) {
	b, err := r.store.GetBookingByID(ctx, id)
	if err != nil {
		return "", fromStore(err)
	}
	return b.Status, nil
}

func (r *ReconciliationService) result(ctx context.Context, orderID string) (*ReconcileResult, error) {
	payment, err := r.store.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, fromStore(err)
	}
	booking, err := r.store.GetBookingByID(ctx, payment.BookingID)
	if err != nil {
		return nil, fromStore(err)
	}
	return &ReconcileResult{Payment: payment, Booking: booking}, nil
}

func (r *ReconciliationService) finish(ctx context.Context, event *models.WebhookEvent, status string, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := r.store.UpdateWebhookEventStatus(ctx, event.ID, status, msg); err != nil {
		r.logger.Error("Failed to record webhook outcome",
			zap.Int64("webhook_event_id", event.ID),
			zap.String("status", status),
			zap.Error(err))
		return
	}
	event.Status = status
	event.ProcessedAt = sql.NullTime{Time: time.Now(), Valid: true}
}

// eventKey prefers the gateway's event id and falls back to a body digest.
func eventKey(id string, body []byte) string {
	if id != "" {
		return id
	}
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}
