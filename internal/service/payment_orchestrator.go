package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/gateway"
	"booking-service/internal/models"
	"booking-service/internal/store"
	"booking-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderHandle is what the client needs to open the gateway checkout.
// Settled is set when nothing was due and the booking was confirmed directly.
type OrderHandle struct {
	PaymentID        int64  `json:"payment_id,omitempty"`
	OrderID          string `json:"order_id,omitempty"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	KeyID            string `json:"key_id,omitempty"`
	BookingReference string `json:"booking_reference"`
	Kind             string `json:"kind"`
	Settled          bool   `json:"settled,omitempty"`
}

// PaymentOrchestrator opens gateway orders for advances and balances
type PaymentOrchestrator struct {
	store    PaymentStore
	gateway  gateway.Client
	currency string
	notify   *notifications
	logger   *zap.Logger
	now      func() time.Time
}

// NewPaymentOrchestrator creates a new payment orchestrator
func NewPaymentOrchestrator(store PaymentStore, gw gateway.Client, currency string, notifier Notifier) *PaymentOrchestrator {
	return &PaymentOrchestrator{
		store:    store,
		gateway:  gw,
		currency: currency,
		notify:   newNotifications(store, notifier),
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// CreateAdvanceOrder opens the advance order of a PAYMENT_PENDING booking.
// The amount is the one frozen at approval.
func (o *PaymentOrchestrator) CreateAdvanceOrder(ctx context.Context, caller models.CallerIdentity, bookingID int64) (*OrderHandle, error) {
	ctx, span := util.StartSpan(ctx, "PaymentOrchestrator.CreateAdvanceOrder", attribute.Int64("booking_id", bookingID))
	defer span.End()

	booking, err := o.payableBooking(ctx, caller, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingStatusPaymentPending {
		return nil, fmt.Errorf("%w: booking is %s", ErrInvalidState, booking.Status)
	}
	if err := checkFrozenAmounts(booking); err != nil {
		o.logger.Error("Frozen amounts inconsistent", zap.Int64("booking_id", booking.ID), zap.Error(err))
		return nil, util.SpanError(span, err)
	}

	live, err := o.store.GetLivePaymentForBooking(ctx, booking.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load live payment: %w", err)
	}
	if live != nil {
		if live.Kind != models.PaymentKindAdvance {
			return nil, fmt.Errorf("%w: a %s order is open", ErrInvalidState, live.Kind)
		}
		return o.handle(booking, live), nil
	}

	if booking.AdvanceAmount == 0 {
		return o.confirmWithoutPayment(ctx, booking)
	}

	return o.openOrder(ctx, booking, models.PaymentKindAdvance, booking.AdvanceAmount, models.BookingStatusPaymentPending)
}

// CreateRemainingOrder opens the balance order of a CONFIRMED booking whose
// event has ended.
func (o *PaymentOrchestrator) CreateRemainingOrder(ctx context.Context, caller models.CallerIdentity, bookingID int64) (*OrderHandle, error) {
	ctx, span := util.StartSpan(ctx, "PaymentOrchestrator.CreateRemainingOrder", attribute.Int64("booking_id", bookingID))
	defer span.End()

	booking, err := o.payableBooking(ctx, caller, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status == models.BookingStatusCompleted {
		return nil, ErrAlreadySettled
	}
	if booking.Status != models.BookingStatusConfirmed {
		return nil, fmt.Errorf("%w: booking is %s", ErrInvalidState, booking.Status)
	}
	if !booking.EndDate.Before(models.Day(o.now())) {
		return nil, fmt.Errorf("%w: balance is due after %s", ErrInvalidState, models.FormatDate(booking.EndDate))
	}

	advancePaid, err := o.store.SumPaidForBooking(ctx, booking.ID, models.PaymentKindAdvance)
	if err != nil {
		return nil, fmt.Errorf("failed to sum advance payments: %w", err)
	}
	if booking.AdvanceAmount > 0 && advancePaid == 0 {
		return nil, fmt.Errorf("%w: no paid advance on record", ErrInvalidState)
	}
	balancePaid, err := o.store.SumPaidForBooking(ctx, booking.ID, models.PaymentKindRemaining)
	if err != nil {
		return nil, fmt.Errorf("failed to sum balance payments: %w", err)
	}

	amount := booking.FinalAmount - advancePaid - balancePaid
	if amount <= 0 {
		return nil, ErrAlreadySettled
	}
	if balancePaid == 0 && amount != booking.RemainingAmount {
		o.logger.Error("Remaining amount diverges from frozen value",
			zap.Int64("booking_id", booking.ID),
			zap.Int64("computed", amount),
			zap.Int64("frozen", booking.RemainingAmount))
		return nil, util.SpanError(span, fmt.Errorf("%w: computed balance %d differs from frozen %d", ErrReconciliation, amount, booking.RemainingAmount))
	}

	live, err := o.store.GetLivePaymentForBooking(ctx, booking.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load live payment: %w", err)
	}
	if live != nil {
		if live.Kind != models.PaymentKindRemaining {
			return nil, fmt.Errorf("%w: a %s order is open", ErrInvalidState, live.Kind)
		}
		return o.handle(booking, live), nil
	}

	return o.openOrder(ctx, booking, models.PaymentKindRemaining, amount, models.BookingStatusConfirmed)
}

// openOrder calls the gateway first and only then persists, so a gateway
// failure leaves no trace in the store.
func (o *PaymentOrchestrator) openOrder(ctx context.Context, booking *models.Booking, kind string, amount int64, bookingStatus string) (*OrderHandle, error) {
	receipt := fmt.Sprintf("%s-%s", booking.Reference, kind[:3])
	order, err := o.gateway.CreateOrder(ctx, amount, o.currency, receipt)
	if err != nil {
		o.logger.Error("Gateway order creation failed",
			zap.Int64("booking_id", booking.ID),
			zap.String("kind", kind),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPaymentInitiationFailed, err)
	}

	payment := &models.Payment{
		BookingID:       booking.ID,
		VendorID:        booking.VendorID,
		VendorProductID: booking.VendorProductID,
		Kind:            kind,
		GatewayOrderID:  order.ID,
		Amount:          amount,
		Currency:        o.currency,
		Status:          models.PaymentStatusCreated,
	}

	if err := o.store.CreatePaymentForBooking(ctx, payment, bookingStatus); err != nil {
		if errors.Is(err, store.ErrActivePaymentExists) {
			// A concurrent request opened one first; hand that one out instead.
			o.logger.Warn("Discarding duplicate gateway order",
				zap.Int64("booking_id", booking.ID),
				zap.String("order_id", order.ID))
			live, lerr := o.store.GetLivePaymentForBooking(ctx, booking.ID)
			if lerr != nil || live == nil {
				return nil, fmt.Errorf("%w: live payment vanished", ErrInvalidState)
			}
			return o.handle(booking, live), nil
		}
		return nil, fromStore(err)
	}

	util.PaymentOrdersCreatedTotal.WithLabelValues(kind).Inc()
	o.logger.Info("Payment order created",
		zap.Int64("booking_id", booking.ID),
		zap.Int64("payment_id", payment.ID),
		zap.String("order_id", order.ID),
		zap.String("kind", kind),
		zap.Int64("amount", amount))

	return o.handle(booking, payment), nil
}

func (o *PaymentOrchestrator) confirmWithoutPayment(ctx context.Context, booking *models.Booking) (*OrderHandle, error) {
	won, err := o.store.ConfirmBooking(ctx, booking.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm booking: %w", err)
	}
	if !won {
		return nil, fmt.Errorf("%w: booking left PAYMENT_PENDING", ErrInvalidState)
	}

	util.BookingTransitionsTotal.WithLabelValues(models.BookingStatusConfirmed).Inc()
	o.logger.Info("Booking confirmed without advance", zap.Int64("booking_id", booking.ID))
	confirmed := o.notify.reload(ctx, o.store, booking)
	o.notify.booking(ctx, confirmed.VendorID, models.NotifyBookingConfirmed, confirmed, nil)
	o.notify.booking(ctx, confirmed.BookedByVendorID, models.NotifyBookingConfirmed, confirmed, nil)

	return &OrderHandle{
		Amount:           0,
		Currency:         o.currency,
		BookingReference: booking.Reference,
		Kind:             models.PaymentKindAdvance,
		Settled:          true,
	}, nil
}

// ListPayments lists every order raised against a booking, oldest first.
func (o *PaymentOrchestrator) ListPayments(ctx context.Context, caller models.CallerIdentity, bookingID int64) ([]models.Payment, error) {
	booking, err := o.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, fromStore(err)
	}
	if !isParty(caller, booking) && !caller.IsAdmin() {
		return nil, ErrForbidden
	}
	return o.store.ListPaymentsForBooking(ctx, booking.ID)
}

func (o *PaymentOrchestrator) payableBooking(ctx context.Context, caller models.CallerIdentity, bookingID int64) (*models.Booking, error) {
	booking, err := o.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, fromStore(err)
	}
	if caller.VendorID != booking.BookedByVendorID {
		return nil, fmt.Errorf("%w: only the requester pays for a booking", ErrForbidden)
	}
	return booking, nil
}

func (o *PaymentOrchestrator) handle(b *models.Booking, p *models.Payment) *OrderHandle {
	return &OrderHandle{
		PaymentID:        p.ID,
		OrderID:          p.GatewayOrderID,
		Amount:           p.Amount,
		Currency:         p.Currency,
		KeyID:            o.gateway.KeyID(),
		BookingReference: b.Reference,
		Kind:             p.Kind,
	}
}

// checkFrozenAmounts verifies the split stored at approval is self-consistent.
func checkFrozenAmounts(b *models.Booking) error {
	if b.AdvanceAmount < 0 || b.AdvanceAmount > b.FinalAmount {
		return fmt.Errorf("%w: advance %d outside [0, %d]", ErrReconciliation, b.AdvanceAmount, b.FinalAmount)
	}
	if b.RemainingAmount != b.FinalAmount-b.AdvanceAmount {
		return fmt.Errorf("%w: remaining %d != final %d - advance %d", ErrReconciliation, b.RemainingAmount, b.FinalAmount, b.AdvanceAmount)
	}
	return nil
}
