package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxNoteWords = 50

// Decisions a provider can take on a REQUESTED booking.
const (
	DecisionApprove = "APPROVE"
	DecisionReject  = "REJECT"
)

// BookingPolicy holds the lifecycle deadlines.
type BookingPolicy struct {
	ApprovalWindow time.Duration
	PaymentWindow  time.Duration
	// CheckoutGrace is how long past the payment due time an open order may
	// still be captured before the sweep abandons it.
	CheckoutGrace time.Duration
}

// BookingService owns the booking state machine
type BookingService struct {
	store        BookingStore
	availability *AvailabilityChecker
	notify       *notifications
	policy       BookingPolicy
	logger       *zap.Logger
	now          func() time.Time
}

// NewBookingService creates a new booking service
func NewBookingService(store BookingStore, notifier Notifier, policy BookingPolicy) *BookingService {
	return &BookingService{
		store:        store,
		availability: NewAvailabilityChecker(store),
		notify:       newNotifications(store, notifier),
		policy:       policy,
		logger:       util.GetLogger(),
		now:          time.Now,
	}
}

// CreateBookingRequest represents a request to book another vendor's product
type CreateBookingRequest struct {
	ProductID  int64  `json:"product_id" binding:"required"`
	StartDate  string `json:"start_date" binding:"required"`
	EndDate    string `json:"end_date" binding:"required"`
	StartTime  string `json:"start_time,omitempty"`
	EndTime    string `json:"end_time,omitempty"`
	CouponCode string `json:"coupon_code,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// DecideRequest carries a provider's decision
type DecideRequest struct {
	Decision string `json:"decision" binding:"required,oneof=APPROVE REJECT"`
}

// Availability answers a read-only availability query for a product.
func (s *BookingService) Availability(ctx context.Context, productID int64, start, end string) (*Availability, error) {
	r, err := parseRange(start, end)
	if err != nil {
		return nil, err
	}
	return s.availability.IsAvailable(ctx, productID, r.Start, r.End)
}

// CreateBooking validates, prices and inserts a REQUESTED booking
func (s *BookingService) CreateBooking(ctx context.Context, caller models.CallerIdentity, req *CreateBookingRequest) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.CreateBooking",
		attribute.Int64("product_id", req.ProductID),
		attribute.Int64("requester_id", caller.VendorID))
	defer span.End()

	r, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		util.BookingsRejectedTotal.WithLabelValues("invalid_dates").Inc()
		return nil, err
	}
	if n := len(strings.Fields(req.Notes)); n > maxNoteWords {
		return nil, validationError("notes must be at most %d words, got %d", maxNoteWords, n)
	}

	product, err := s.store.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return nil, fromStore(err)
	}
	if !product.IsActive {
		return nil, validationError("product %d is not bookable", product.ID)
	}
	if caller.VendorID == product.VendorID {
		util.BookingsRejectedTotal.WithLabelValues("self_booking").Inc()
		return nil, fmt.Errorf("%w: vendors cannot book their own products", ErrForbidden)
	}

	var session *SessionWindow
	if product.PricingType == models.PricingSession {
		session = &SessionWindow{StartTime: req.StartTime, EndTime: req.EndTime}
	}

	now := s.now()
	var coupon *models.Coupon
	if req.CouponCode != "" {
		coupon, err = s.store.GetCouponByCode(ctx, req.CouponCode)
		if err != nil {
			if errors.Is(fromStore(err), ErrNotFound) {
				return nil, validationError("unknown coupon %s", req.CouponCode)
			}
			return nil, err
		}
	}

	quote, err := QuoteBooking(product, r, session, coupon, now)
	if err != nil {
		util.BookingsRejectedTotal.WithLabelValues("pricing").Inc()
		return nil, err
	}

	held, err := s.store.HasActiveBookingForRequester(ctx, caller.VendorID, product.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing bookings: %w", err)
	}
	if held {
		util.BookingsRejectedTotal.WithLabelValues("active_booking").Inc()
		return nil, ErrActiveBooking
	}

	avail, err := s.availability.check(ctx, product, r)
	if err != nil {
		return nil, fmt.Errorf("failed to check availability: %w", err)
	}
	if !avail.Available {
		util.BookingsRejectedTotal.WithLabelValues("unavailable").Inc()
		return nil, &RangeConflictError{ConflictUntil: *avail.ConflictUntil}
	}

	booking := &models.Booking{
		Reference:         newReference(),
		VendorID:          product.VendorID,
		BookedByVendorID:  caller.VendorID,
		VendorProductID:   product.ID,
		BookingType:       r.BookingType(),
		StartDate:         r.Start,
		EndDate:           r.End,
		TotalDays:         quote.TotalDays,
		TotalAmount:       quote.TotalAmount,
		DiscountAmount:    quote.DiscountAmount,
		FinalAmount:       quote.FinalAmount,
		RemainingAmount:   quote.FinalAmount,
		Status:            models.BookingStatusRequested,
		ApprovalExpiresAt: sql.NullTime{Time: now.Add(s.policy.ApprovalWindow), Valid: true},
		Notes:             strings.TrimSpace(req.Notes),
	}
	if session != nil {
		booking.StartTime = sql.NullString{String: session.StartTime, Valid: true}
		booking.EndTime = sql.NullString{String: session.EndTime, Valid: true}
	}
	if coupon != nil {
		booking.CouponCode = sql.NullString{String: coupon.Code, Valid: true}
	}

	if err := s.store.CreateBookingExclusive(ctx, booking); err != nil {
		err = fromStore(err)
		if errors.Is(err, ErrConflict) {
			util.BookingsRejectedTotal.WithLabelValues("unavailable").Inc()
			return nil, err
		}
		return nil, util.SpanError(span, fmt.Errorf("failed to create booking: %w", err))
	}

	util.BookingsRequestedTotal.Inc()
	s.logger.Info("Booking requested",
		zap.Int64("booking_id", booking.ID),
		zap.String("reference", booking.Reference),
		zap.Int64("product_id", product.ID),
		zap.String("range", r.String()),
		zap.Int64("final_amount", booking.FinalAmount))

	s.notify.booking(ctx, booking.VendorID, models.NotifyBookingRequested, booking, map[string]any{
		"approval_expires_at": booking.ApprovalExpiresAt.Time,
	})

	return booking, nil
}

// Decide approves or rejects a REQUESTED booking on behalf of its provider.
// Concurrent decisions race on a guarded update; exactly one wins.
func (s *BookingService) Decide(ctx context.Context, caller models.CallerIdentity, bookingID int64, decision string) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Decide",
		attribute.Int64("booking_id", bookingID),
		attribute.String("decision", decision))
	defer span.End()

	if decision != DecisionApprove && decision != DecisionReject {
		return nil, validationError("decision must be APPROVE or REJECT")
	}

	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, fromStore(err)
	}
	if caller.VendorID != booking.VendorID {
		return nil, fmt.Errorf("%w: only the provider can decide a booking", ErrForbidden)
	}

	now := s.now()
	if booking.Status == models.BookingStatusExpired {
		return nil, ErrExpired
	}
	if booking.Status == models.BookingStatusRequested && approvalLapsed(booking, now) {
		s.expire(ctx, booking, now)
		return nil, ErrExpired
	}
	if booking.Status != models.BookingStatusRequested {
		return nil, fmt.Errorf("%w: booking is %s", ErrInvalidState, booking.Status)
	}

	var won bool
	var template string
	switch decision {
	case DecisionApprove:
		vendor, err := s.store.GetVendorByID(ctx, booking.VendorID)
		if err != nil {
			return nil, fromStore(err)
		}
		if !vendor.PayoutCapable() {
			return nil, ErrBankDetailsMissing
		}

		product, err := s.store.GetProductByID(ctx, booking.VendorProductID)
		if err != nil {
			return nil, fromStore(err)
		}
		advance := AdvanceOf(product, booking.FinalAmount)
		remaining := booking.FinalAmount - advance

		won, err = s.store.ApproveBooking(ctx, booking.ID, advance, remaining, now.Add(s.policy.PaymentWindow), now)
		if err != nil {
			return nil, util.SpanError(span, fmt.Errorf("failed to approve booking: %w", err))
		}
		template = models.NotifyBookingApproved
	case DecisionReject:
		won, err = s.store.RejectBooking(ctx, booking.ID, now)
		if err != nil {
			return nil, util.SpanError(span, fmt.Errorf("failed to reject booking: %w", err))
		}
		template = models.NotifyBookingRejected
	}

	current, err := s.store.GetBookingByID(ctx, booking.ID)
	if err != nil {
		return nil, fromStore(err)
	}

	if !won {
		util.BookingDecisionConflicts.Inc()
		s.logger.Info("Decision lost guarded update",
			zap.Int64("booking_id", booking.ID),
			zap.String("decision", decision),
			zap.String("status", current.Status))
		if current.Status == models.BookingStatusExpired ||
			(current.Status == models.BookingStatusRequested && approvalLapsed(current, s.now())) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: booking is %s", ErrInvalidState, current.Status)
	}

	util.BookingTransitionsTotal.WithLabelValues(current.Status).Inc()
	s.logger.Info("Booking decided",
		zap.Int64("booking_id", current.ID),
		zap.String("status", current.Status),
		zap.Int64("advance_amount", current.AdvanceAmount),
		zap.Int64("remaining_amount", current.RemainingAmount))

	s.notify.booking(ctx, current.BookedByVendorID, template, current, map[string]any{
		"advance_amount":   current.AdvanceAmount,
		"remaining_amount": current.RemainingAmount,
	})

	return current, nil
}

// Cancel withdraws a booking that has not been paid for. Either party may cancel.
func (s *BookingService) Cancel(ctx context.Context, caller models.CallerIdentity, bookingID int64) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Cancel", attribute.Int64("booking_id", bookingID))
	defer span.End()

	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, fromStore(err)
	}
	if !isParty(caller, booking) {
		return nil, ErrForbidden
	}
	if booking.Status != models.BookingStatusRequested && booking.Status != models.BookingStatusPaymentPending {
		return nil, fmt.Errorf("%w: booking is %s", ErrInvalidState, booking.Status)
	}

	won, err := s.store.CancelBooking(ctx, booking.ID)
	if err != nil {
		return nil, util.SpanError(span, fmt.Errorf("failed to cancel booking: %w", err))
	}

	current, err := s.store.GetBookingByID(ctx, booking.ID)
	if err != nil {
		return nil, fromStore(err)
	}
	if !won {
		return nil, fmt.Errorf("%w: booking is %s", ErrInvalidState, current.Status)
	}

	util.BookingTransitionsTotal.WithLabelValues(models.BookingStatusCancelled).Inc()
	s.logger.Info("Booking cancelled",
		zap.Int64("booking_id", current.ID),
		zap.Int64("cancelled_by", caller.VendorID))

	other := current.VendorID
	if caller.VendorID == current.VendorID {
		other = current.BookedByVendorID
	}
	s.notify.booking(ctx, other, models.NotifyBookingCancelled, current, nil)

	return current, nil
}

// SweepResult counts what one sweep changed.
type SweepResult struct {
	ExpiredRequests int `json:"expired_requests"`
	ExpiredUnpaid   int `json:"expired_unpaid"`
	Completed       int `json:"completed"`
}

// ExpirySweep expires lapsed requests and unpaid approvals, and completes
// settled bookings whose end date has passed. Safe to run concurrently.
func (s *BookingService) ExpirySweep(ctx context.Context) (*SweepResult, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.ExpirySweep")
	defer span.End()

	now := s.now()
	result := &SweepResult{}

	expired, err := s.store.ExpireOverdueRequests(ctx, now)
	if err != nil {
		return nil, util.SpanError(span, fmt.Errorf("failed to expire requests: %w", err))
	}
	result.ExpiredRequests = len(expired)
	for i := range expired {
		s.notify.booking(ctx, expired[i].BookedByVendorID, models.NotifyBookingExpired, &expired[i], nil)
	}

	unpaid, err := s.store.ExpireUnpaidBookings(ctx, now, now.Add(-s.policy.CheckoutGrace))
	if err != nil {
		return result, util.SpanError(span, fmt.Errorf("failed to expire unpaid bookings: %w", err))
	}
	result.ExpiredUnpaid = len(unpaid)
	for i := range unpaid {
		s.notify.booking(ctx, unpaid[i].BookedByVendorID, models.NotifyBookingExpired, &unpaid[i], nil)
		s.notify.booking(ctx, unpaid[i].VendorID, models.NotifyBookingExpired, &unpaid[i], nil)
	}

	completed, err := s.store.CompleteSettledBookings(ctx, models.Day(now))
	if err != nil {
		return result, util.SpanError(span, fmt.Errorf("failed to complete bookings: %w", err))
	}
	result.Completed = len(completed)

	util.SweepExpiredTotal.WithLabelValues(models.BookingStatusExpired).Add(float64(result.ExpiredRequests + result.ExpiredUnpaid))
	util.SweepExpiredTotal.WithLabelValues(models.BookingStatusCompleted).Add(float64(result.Completed))

	if result.ExpiredRequests+result.ExpiredUnpaid+result.Completed > 0 {
		s.logger.Info("Sweep finished",
			zap.Int("expired_requests", result.ExpiredRequests),
			zap.Int("expired_unpaid", result.ExpiredUnpaid),
			zap.Int("completed", result.Completed))
	}
	return result, nil
}

// GetBookingByReference returns a booking visible to the caller
func (s *BookingService) GetBookingByReference(ctx context.Context, caller models.CallerIdentity, ref string) (*models.Booking, error) {
	booking, err := s.store.GetBookingByReference(ctx, ref)
	if err != nil {
		return nil, fromStore(err)
	}
	if !isParty(caller, booking) && !caller.IsAdmin() {
		return nil, ErrForbidden
	}
	return booking, nil
}

// ListBookings lists the caller's bookings as provider or requester
func (s *BookingService) ListBookings(ctx context.Context, caller models.CallerIdentity, limit, offset int) ([]models.Booking, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListBookingsForVendor(ctx, caller.VendorID, limit, offset)
}

// expire opportunistically flips a lapsed request. Losing the race is fine.
func (s *BookingService) expire(ctx context.Context, booking *models.Booking, now time.Time) {
	won, err := s.store.ExpireBooking(ctx, booking.ID, now)
	if err != nil {
		s.logger.Warn("Failed to expire booking", zap.Int64("booking_id", booking.ID), zap.Error(err))
		return
	}
	if won {
		util.BookingTransitionsTotal.WithLabelValues(models.BookingStatusExpired).Inc()
		s.notify.booking(ctx, booking.BookedByVendorID, models.NotifyBookingExpired, s.notify.reload(ctx, s.store, booking), nil)
	}
}

func approvalLapsed(b *models.Booking, now time.Time) bool {
	return b.ApprovalExpiresAt.Valid && now.After(b.ApprovalExpiresAt.Time)
}

func isParty(caller models.CallerIdentity, b *models.Booking) bool {
	return caller.VendorID == b.VendorID || caller.VendorID == b.BookedByVendorID
}

// maxRangeDays bounds any requested window so prices stay within int64.
const maxRangeDays = 366

func parseRange(start, end string) (models.DateRange, error) {
	s, err := models.ParseDate(start)
	if err != nil {
		return models.DateRange{}, validationError("start date %q must be YYYY-MM-DD", start)
	}
	e, err := models.ParseDate(end)
	if err != nil {
		return models.DateRange{}, validationError("end date %q must be YYYY-MM-DD", end)
	}
	r, err := models.NewDateRange(s, e)
	if err != nil {
		return models.DateRange{}, validationError("%v", err)
	}
	if r.Days() > maxRangeDays {
		return models.DateRange{}, validationError("a range covers at most %d days, got %d", maxRangeDays, r.Days())
	}
	return r, nil
}

func newReference() string {
	return "BK" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:16])
}
