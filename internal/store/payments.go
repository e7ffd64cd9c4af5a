package store

import (
	"context"
	"database/sql"
	"fmt"

	"booking-service/internal/models"
)

// GetLivePaymentForBooking returns the booking's CREATED payment, or nil if none is open
func (s *Store) GetLivePaymentForBooking(ctx context.Context, bookingID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE booking_id = $1 AND status = $2",
		bookingID, models.PaymentStatusCreated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// SumPaidForBooking totals captured payments of a booking. An empty kind sums all kinds.
func (s *Store) SumPaidForBooking(ctx context.Context, bookingID int64, kind string) (int64, error) {
	var total int64
	err := s.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(amount), 0) FROM payments
		WHERE booking_id = $1 AND status IN ($2, $3) AND ($4 = '' OR kind = $4)`,
		bookingID, models.PaymentStatusPaid, models.PaymentStatusCompleted, kind)
	return total, err
}

// CreatePaymentForBooking inserts a CREATED payment and links it to the booking,
// provided the booking is still in bookingStatus.
func (s *Store) CreatePaymentForBooking(ctx context.Context, p *models.Payment, bookingStatus string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO payments (booking_id, vendor_id, vendor_product_id, kind, gateway_order_id, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	row := tx.QueryRowxContext(ctx, query,
		p.BookingID, p.VendorID, p.VendorProductID, p.Kind, p.GatewayOrderID, p.Amount, p.Currency, p.Status)
	if err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if pgCode(err) == pgUniqueViolation {
			return ErrActivePaymentExists
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	ok, err := affected(tx.ExecContext(ctx,
		"UPDATE bookings SET payment_id = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		p.ID, p.BookingID, bookingStatus))
	if err != nil {
		return fmt.Errorf("failed to link payment: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: booking %d left %s", ErrStatusChanged, p.BookingID, bookingStatus)
	}

	return tx.Commit()
}

// GetPaymentByOrderID retrieves a payment by its gateway order id
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment, "SELECT * FROM payments WHERE gateway_order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: payment order %s", ErrNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListPaymentsForBooking lists every payment raised against a booking
func (s *Store) ListPaymentsForBooking(ctx context.Context, bookingID int64) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments,
		"SELECT * FROM payments WHERE booking_id = $1 ORDER BY created_at", bookingID)
	return payments, err
}

// MarkPaymentPaid moves CREATED to PAID. Only one caller ever wins.
func (s *Store) MarkPaymentPaid(ctx context.Context, orderID, gatewayPaymentID, signature string) (bool, error) {
	return affected(s.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $1, gateway_payment_id = $2, signature = NULLIF($3, ''), updated_at = NOW()
		WHERE gateway_order_id = $4 AND status = $5`,
		models.PaymentStatusPaid, gatewayPaymentID, signature, orderID, models.PaymentStatusCreated))
}

// MarkPaymentFailed moves CREATED to FAILED and unlinks it from its booking
func (s *Store) MarkPaymentFailed(ctx context.Context, orderID, reason string) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var failed struct {
		ID        int64 `db:"id"`
		BookingID int64 `db:"booking_id"`
	}
	err = tx.GetContext(ctx, &failed, `
		UPDATE payments
		SET status = $1, failure_reason = $2, updated_at = NOW()
		WHERE gateway_order_id = $3 AND status = $4
		RETURNING id, booking_id`,
		models.PaymentStatusFailed, reason, orderID, models.PaymentStatusCreated)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE bookings SET payment_id = NULL, updated_at = NOW() WHERE id = $1 AND payment_id = $2",
		failed.BookingID, failed.ID); err != nil {
		return false, fmt.Errorf("failed to unlink payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// MarkPaymentCompleted moves PAID to COMPLETED once the booking is fully settled
func (s *Store) MarkPaymentCompleted(ctx context.Context, paymentID int64) (bool, error) {
	return affected(s.db.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		models.PaymentStatusCompleted, paymentID, models.PaymentStatusPaid))
}
