package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrRangeConflict       = errors.New("date range conflicts with an active booking or calendar block")
	ErrActiveBookingExists = errors.New("requester already holds an active booking for this product")
	ErrActivePaymentExists = errors.New("booking already has a live payment order")
	ErrStatusChanged       = errors.New("row no longer in the expected state")
)

// RangeConflictError reports the earliest end date among the conflicting windows.
type RangeConflictError struct {
	Until time.Time
}

func (e *RangeConflictError) Error() string {
	return fmt.Sprintf("%s (until %s)", ErrRangeConflict.Error(), models.FormatDate(e.Until))
}

func (e *RangeConflictError) Unwrap() error { return ErrRangeConflict }

// PostgreSQL error codes the store translates.
const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"
)

type Store struct {
	db *sqlx.DB
}

// Options configures the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewStore creates a new database store
func NewStore(databaseURL string, opts Options) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection.
func NewStoreWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetVendorByID retrieves a vendor by ID
func (s *Store) GetVendorByID(ctx context.Context, id int64) (*models.Vendor, error) {
	var vendor models.Vendor
	err := s.db.GetContext(ctx, &vendor, "SELECT * FROM vendors WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: vendor %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &vendor, nil
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: product %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// UpdateProductPricing replaces the pricing and advance rule of a product
func (s *Store) UpdateProductPricing(ctx context.Context, p *models.Product) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET pricing_type = $1, base_price = $2, hourly_rate = $3,
		    advance_type = $4, advance_value = $5, is_active = $6, updated_at = NOW()
		WHERE id = $7 AND vendor_id = $8`,
		p.PricingType, p.BasePrice, p.HourlyRate, p.AdvanceType, p.AdvanceValue, p.IsActive, p.ID, p.VendorID)
	if err != nil {
		return fmt.Errorf("failed to update product pricing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: product %d", ErrNotFound, p.ID)
	}
	return nil
}

// GetCouponByCode retrieves a coupon by its code
func (s *Store) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := s.db.GetContext(ctx, &coupon, "SELECT * FROM coupons WHERE code = $1", code)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: coupon %s", ErrNotFound, code)
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

// affected converts an Exec result into "did the guarded update win".
func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func pgCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func activeStatuses() interface{} {
	return pq.Array(models.ActiveBookingStatuses)
}
