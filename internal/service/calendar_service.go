package service

import (
	"context"
	"errors"
	"fmt"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

const maxBlockDays = 10

// CreateBlockRequest declares a window the vendor is unavailable
type CreateBlockRequest struct {
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`
	Reason    string `json:"reason,omitempty" validate:"max=200"`
}

// CalendarService manages vendor calendar blocks
type CalendarService struct {
	store  CalendarStore
	logger *zap.Logger
}

func NewCalendarService(store CalendarStore) *CalendarService {
	return &CalendarService{store: store, logger: util.GetLogger()}
}

// CreateBlock inserts a block of at most ten days that does not overlap any
// active booking of the vendor's products.
func (s *CalendarService) CreateBlock(ctx context.Context, caller models.CallerIdentity, req *CreateBlockRequest) (*models.CalendarBlock, error) {
	ctx, span := util.StartSpan(ctx, "CalendarService.CreateBlock")
	defer span.End()

	if err := validateStruct(req); err != nil {
		return nil, err
	}
	r, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	if r.Days() > maxBlockDays {
		return nil, validationError("a block covers at most %d days, got %d", maxBlockDays, r.Days())
	}

	blk := &models.CalendarBlock{
		VendorID:  caller.VendorID,
		StartDate: r.Start,
		EndDate:   r.End,
		Reason:    req.Reason,
	}
	if err := s.store.CreateCalendarBlockExclusive(ctx, blk); err != nil {
		err = fromStore(err)
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, util.SpanError(span, fmt.Errorf("failed to create block: %w", err))
	}

	s.logger.Info("Calendar block created",
		zap.Int64("vendor_id", blk.VendorID),
		zap.Int64("block_id", blk.ID),
		zap.String("range", r.String()))
	return blk, nil
}

// DeleteBlock removes one of the caller's blocks
func (s *CalendarService) DeleteBlock(ctx context.Context, caller models.CallerIdentity, blockID int64) error {
	ok, err := s.store.DeleteCalendarBlock(ctx, blockID, caller.VendorID)
	if err != nil {
		return fmt.Errorf("failed to delete block: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: calendar block %d", ErrNotFound, blockID)
	}
	return nil
}

// ListBlocks lists the caller's blocks
func (s *CalendarService) ListBlocks(ctx context.Context, caller models.CallerIdentity) ([]models.CalendarBlock, error) {
	return s.store.ListCalendarBlocks(ctx, caller.VendorID)
}
