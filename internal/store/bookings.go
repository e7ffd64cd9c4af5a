package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateBookingExclusive inserts a booking only if its window is free.
// The product row is locked for the duration of the check so two requests for
// the same product serialize; the vendor row is share-locked so calendar
// blocks (which take the vendor lock exclusively) cannot interleave.
func (s *Store) CreateBookingExclusive(ctx context.Context, b *models.Booking) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var productID int64
	err = tx.GetContext(ctx, &productID,
		"SELECT id FROM products WHERE id = $1 FOR UPDATE", b.VendorProductID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: product %d", ErrNotFound, b.VendorProductID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock product: %w", err)
	}

	var vendorID int64
	if err := tx.GetContext(ctx, &vendorID,
		"SELECT id FROM vendors WHERE id = $1 FOR SHARE", b.VendorID); err != nil {
		return fmt.Errorf("failed to lock vendor: %w", err)
	}

	var held bool
	if err := tx.GetContext(ctx, &held, `
		SELECT EXISTS(
			SELECT 1 FROM bookings
			WHERE booked_by_vendor_id = $1 AND vendor_product_id = $2 AND status = ANY($3)
		)`, b.BookedByVendorID, b.VendorProductID, activeStatuses()); err != nil {
		return fmt.Errorf("failed to check requester bookings: %w", err)
	}
	if held {
		return ErrActiveBookingExists
	}

	until, err := earliestConflict(ctx, tx, b.VendorProductID, b.VendorID, b.StartDate, b.EndDate)
	if err != nil {
		return err
	}
	if until != nil {
		return &RangeConflictError{Until: *until}
	}

	query := `
		INSERT INTO bookings (
			reference, vendor_id, booked_by_vendor_id, vendor_product_id, booking_type,
			start_date, end_date, start_time, end_time, total_days,
			total_amount, discount_amount, final_amount, advance_amount, remaining_amount,
			coupon_code, status, approval_expires_at, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id, created_at, updated_at`

	row := tx.QueryRowxContext(ctx, query,
		b.Reference, b.VendorID, b.BookedByVendorID, b.VendorProductID, b.BookingType,
		b.StartDate, b.EndDate, b.StartTime, b.EndTime, b.TotalDays,
		b.TotalAmount, b.DiscountAmount, b.FinalAmount, b.AdvanceAmount, b.RemainingAmount,
		b.CouponCode, b.Status, b.ApprovalExpiresAt, b.Notes)
	if err := row.Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if pgCode(err) == pgExclusionViolation {
			return &RangeConflictError{Until: b.EndDate}
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if pgCode(err) == pgExclusionViolation {
			return &RangeConflictError{Until: b.EndDate}
		}
		return fmt.Errorf("failed to commit booking: %w", err)
	}
	return nil
}

// earliestConflict returns the smallest end date among active bookings of the
// product and blocks of the vendor that overlap [start, end], or nil if free.
func earliestConflict(ctx context.Context, tx *sqlx.Tx, productID, vendorID int64, start, end time.Time) (*time.Time, error) {
	var until sql.NullTime
	err := tx.GetContext(ctx, &until, `
		SELECT MIN(end_date) FROM (
			SELECT end_date FROM bookings
			WHERE vendor_product_id = $1 AND status = ANY($2)
			  AND start_date <= $4 AND end_date >= $3
			UNION ALL
			SELECT end_date FROM calendar_blocks
			WHERE vendor_id = $5 AND start_date <= $4 AND end_date >= $3
		) conflicts`, productID, activeStatuses(), start, end, vendorID)
	if err != nil {
		return nil, fmt.Errorf("failed to check availability: %w", err)
	}
	if !until.Valid {
		return nil, nil
	}
	t := models.Day(until.Time)
	return &t, nil
}

// GetBookingByID retrieves a booking by ID
func (s *Store) GetBookingByID(ctx context.Context, id int64) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.GetContext(ctx, &booking, "SELECT * FROM bookings WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: booking %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// GetBookingByReference retrieves a booking by its public reference
func (s *Store) GetBookingByReference(ctx context.Context, ref string) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.GetContext(ctx, &booking, "SELECT * FROM bookings WHERE reference = $1", ref)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: booking %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// ListBookingsForVendor lists bookings where the vendor is provider or requester
func (s *Store) ListBookingsForVendor(ctx context.Context, vendorID int64, limit, offset int) ([]models.Booking, error) {
	var bookings []models.Booking
	err := s.db.SelectContext(ctx, &bookings, `
		SELECT * FROM bookings
		WHERE vendor_id = $1 OR booked_by_vendor_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, vendorID, limit, offset)
	return bookings, err
}

// ListActiveBookingsInRange lists active bookings of a product overlapping the range
func (s *Store) ListActiveBookingsInRange(ctx context.Context, productID int64, r models.DateRange) ([]models.Booking, error) {
	var bookings []models.Booking
	err := s.db.SelectContext(ctx, &bookings, `
		SELECT * FROM bookings
		WHERE vendor_product_id = $1 AND status = ANY($2)
		  AND start_date <= $4 AND end_date >= $3
		ORDER BY start_date`, productID, activeStatuses(), r.Start, r.End)
	return bookings, err
}

// HasActiveBookingForRequester checks whether the requester holds a live booking of the product
func (s *Store) HasActiveBookingForRequester(ctx context.Context, requesterID, productID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM bookings
			WHERE booked_by_vendor_id = $1 AND vendor_product_id = $2 AND status = ANY($3)
		)`, requesterID, productID, activeStatuses())
	return exists, err
}

// ApproveBooking moves REQUESTED to PAYMENT_PENDING and freezes the split.
// Returns false if the booking was no longer REQUESTED or its window had lapsed.
func (s *Store) ApproveBooking(ctx context.Context, id, advance, remaining int64, paymentDueAt, now time.Time) (bool, error) {
	return affected(s.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = $2, advance_amount = $3, remaining_amount = $4,
		    payment_due_at = $5, approval_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $6 AND approval_expires_at >= $7`,
		id, models.BookingStatusPaymentPending, advance, remaining, paymentDueAt,
		models.BookingStatusRequested, now))
}

// RejectBooking moves REQUESTED to REJECTED while the approval window is open
func (s *Store) RejectBooking(ctx context.Context, id int64, now time.Time) (bool, error) {
	return affected(s.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = $2, approval_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $3 AND approval_expires_at >= $4`,
		id, models.BookingStatusRejected, models.BookingStatusRequested, now))
}

// ExpireBooking moves REQUESTED to EXPIRED once the approval window has lapsed
func (s *Store) ExpireBooking(ctx context.Context, id int64, now time.Time) (bool, error) {
	return affected(s.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = $2, approval_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $3 AND approval_expires_at < $4`,
		id, models.BookingStatusExpired, models.BookingStatusRequested, now))
}

// CancelBooking moves a booking that has not been paid for to CANCELLED and
// fails any order still open against it. The booking row and then its
// payment rows are locked first, so a capture racing the cancel either
// commits before the check and blocks the cancel, or waits and loses its CAS.
func (s *Store) CancelBooking(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.GetContext(ctx, &status, "SELECT status FROM bookings WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock booking: %w", err)
	}
	if status != models.BookingStatusRequested && status != models.BookingStatusPaymentPending {
		return false, nil
	}

	var paymentStatuses []string
	if err := tx.SelectContext(ctx, &paymentStatuses,
		"SELECT status FROM payments WHERE booking_id = $1 FOR UPDATE", id); err != nil {
		return false, fmt.Errorf("failed to lock payments: %w", err)
	}
	for _, ps := range paymentStatuses {
		if ps == models.PaymentStatusPaid || ps == models.PaymentStatusCompleted {
			return false, nil
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE payments SET status = $1, failure_reason = $2, updated_at = NOW()
		WHERE booking_id = $3 AND status = $4`,
		models.PaymentStatusFailed, "booking cancelled", id, models.PaymentStatusCreated); err != nil {
		return false, fmt.Errorf("failed to close open payment: %w", err)
	}

	ok, err := affected(tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = $2, approval_expires_at = NULL, payment_id = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)`,
		id, models.BookingStatusCancelled,
		models.BookingStatusRequested, models.BookingStatusPaymentPending))
	if err != nil || !ok {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit cancellation: %w", err)
	}
	return true, nil
}

// ConfirmBooking moves PAYMENT_PENDING to CONFIRMED
func (s *Store) ConfirmBooking(ctx context.Context, id int64) (bool, error) {
	return affected(s.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, models.BookingStatusConfirmed, models.BookingStatusPaymentPending))
}

// CompleteBooking moves CONFIRMED to COMPLETED and zeroes the balance
func (s *Store) CompleteBooking(ctx context.Context, id int64) (bool, error) {
	return affected(s.db.ExecContext(ctx, `
		UPDATE bookings
		SET status = $2, remaining_amount = 0, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, models.BookingStatusCompleted, models.BookingStatusConfirmed))
}

// ExpireOverdueRequests expires every REQUESTED booking whose window lapsed before now
func (s *Store) ExpireOverdueRequests(ctx context.Context, now time.Time) ([]models.Booking, error) {
	var bookings []models.Booking
	err := s.db.SelectContext(ctx, &bookings, `
		UPDATE bookings
		SET status = $1, approval_expires_at = NULL, updated_at = NOW()
		WHERE status = $2 AND approval_expires_at < $3
		RETURNING *`,
		models.BookingStatusExpired, models.BookingStatusRequested, now)
	return bookings, err
}

// ExpireUnpaidBookings expires PAYMENT_PENDING bookings past their payment due
// time that have no payment order in flight or captured. Orders still CREATED
// on bookings whose due time is before staleBefore are abandoned checkouts;
// they are failed first so their bookings expire in the same pass.
func (s *Store) ExpireUnpaidBookings(ctx context.Context, now, staleBefore time.Time) ([]models.Booking, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE payments p
		SET status = $1, failure_reason = $2, updated_at = NOW()
		FROM bookings b
		WHERE p.booking_id = b.id AND p.status = $3
		  AND b.status = $4 AND b.payment_due_at < $5`,
		models.PaymentStatusFailed, "checkout abandoned", models.PaymentStatusCreated,
		models.BookingStatusPaymentPending, staleBefore); err != nil {
		return nil, fmt.Errorf("failed to close abandoned orders: %w", err)
	}

	var bookings []models.Booking
	err = tx.SelectContext(ctx, &bookings, `
		UPDATE bookings b
		SET status = $1, payment_id = NULL, updated_at = NOW()
		WHERE b.status = $2 AND b.payment_due_at < $3
		  AND NOT EXISTS (
			SELECT 1 FROM payments p
			WHERE p.booking_id = b.id AND p.status IN ($4, $5, $6)
		  )
		RETURNING b.*`,
		models.BookingStatusExpired, models.BookingStatusPaymentPending, now,
		models.PaymentStatusCreated, models.PaymentStatusPaid, models.PaymentStatusCompleted)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit expiry: %w", err)
	}
	return bookings, nil
}

// CompleteSettledBookings completes CONFIRMED bookings that ended before today
// and owe nothing further.
func (s *Store) CompleteSettledBookings(ctx context.Context, today time.Time) ([]models.Booking, error) {
	var bookings []models.Booking
	err := s.db.SelectContext(ctx, &bookings, `
		UPDATE bookings
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND remaining_amount = 0 AND end_date < $3
		RETURNING *`,
		models.BookingStatusCompleted, models.BookingStatusConfirmed, today)
	return bookings, err
}

// IsRangeConflict reports whether err came from an availability check.
func IsRangeConflict(err error) (*RangeConflictError, bool) {
	var rc *RangeConflictError
	if errors.As(err, &rc) {
		return rc, true
	}
	return nil, false
}
