package store

import (
	"context"
	"database/sql"
	"fmt"

	"booking-service/internal/models"
)

// ListCalendarBlocks lists a vendor's blocks in date order
func (s *Store) ListCalendarBlocks(ctx context.Context, vendorID int64) ([]models.CalendarBlock, error) {
	var blocks []models.CalendarBlock
	err := s.db.SelectContext(ctx, &blocks,
		"SELECT * FROM calendar_blocks WHERE vendor_id = $1 ORDER BY start_date", vendorID)
	return blocks, err
}

// ListCalendarBlocksInRange lists a vendor's blocks overlapping the range
func (s *Store) ListCalendarBlocksInRange(ctx context.Context, vendorID int64, r models.DateRange) ([]models.CalendarBlock, error) {
	var blocks []models.CalendarBlock
	err := s.db.SelectContext(ctx, &blocks, `
		SELECT * FROM calendar_blocks
		WHERE vendor_id = $1 AND start_date <= $3 AND end_date >= $2
		ORDER BY start_date`, vendorID, r.Start, r.End)
	return blocks, err
}

// CreateCalendarBlockExclusive inserts a block unless an active booking of any
// of the vendor's products overlaps it. Holds the vendor row lock exclusively.
func (s *Store) CreateCalendarBlockExclusive(ctx context.Context, blk *models.CalendarBlock) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var vendorID int64
	err = tx.GetContext(ctx, &vendorID, "SELECT id FROM vendors WHERE id = $1 FOR UPDATE", blk.VendorID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: vendor %d", ErrNotFound, blk.VendorID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock vendor: %w", err)
	}

	var until sql.NullTime
	if err := tx.GetContext(ctx, &until, `
		SELECT MIN(end_date) FROM bookings
		WHERE vendor_id = $1 AND status = ANY($2)
		  AND start_date <= $4 AND end_date >= $3`,
		blk.VendorID, activeStatuses(), blk.StartDate, blk.EndDate); err != nil {
		return fmt.Errorf("failed to check bookings: %w", err)
	}
	if until.Valid {
		return &RangeConflictError{Until: models.Day(until.Time)}
	}

	row := tx.QueryRowxContext(ctx, `
		INSERT INTO calendar_blocks (vendor_id, start_date, end_date, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		blk.VendorID, blk.StartDate, blk.EndDate, blk.Reason)
	if err := row.Scan(&blk.ID, &blk.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert calendar block: %w", err)
	}

	return tx.Commit()
}

// DeleteCalendarBlock removes a block owned by the vendor
func (s *Store) DeleteCalendarBlock(ctx context.Context, id, vendorID int64) (bool, error) {
	return affected(s.db.ExecContext(ctx,
		"DELETE FROM calendar_blocks WHERE id = $1 AND vendor_id = $2", id, vendorID))
}
