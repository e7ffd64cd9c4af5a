package service

import (
	"context"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// Availability is the answer for one product and window.
type Availability struct {
	Available     bool       `json:"available"`
	ConflictUntil *time.Time `json:"conflict_until,omitempty"`
}

// AvailabilityChecker answers read-only availability queries. Inserts re-check
// under a lock in the store.
type AvailabilityChecker struct {
	store  AvailabilityStore
	logger *zap.Logger
}

func NewAvailabilityChecker(store AvailabilityStore) *AvailabilityChecker {
	return &AvailabilityChecker{
		store:  store,
		logger: util.GetLogger(),
	}
}

// IsAvailable checks active bookings of the product and calendar blocks of its vendor.
func (a *AvailabilityChecker) IsAvailable(ctx context.Context, productID int64, start, end time.Time) (*Availability, error) {
	ctx, span := util.StartSpan(ctx, "AvailabilityChecker.IsAvailable")
	defer span.End()

	r, err := models.NewDateRange(start, end)
	if err != nil {
		return nil, validationError("%v", err)
	}

	product, err := a.store.GetProductByID(ctx, productID)
	if err != nil {
		return nil, fromStore(err)
	}
	return a.check(ctx, product, r)
}

func (a *AvailabilityChecker) check(ctx context.Context, product *models.Product, r models.DateRange) (*Availability, error) {
	start := time.Now()
	defer func() {
		util.AvailabilityCheckLatency.Observe(time.Since(start).Seconds())
	}()

	bookings, err := a.store.ListActiveBookingsInRange(ctx, product.ID, r)
	if err != nil {
		return nil, err
	}
	blocks, err := a.store.ListCalendarBlocksInRange(ctx, product.VendorID, r)
	if err != nil {
		return nil, err
	}

	var until *time.Time
	earliest := func(t time.Time) {
		if until == nil || t.Before(*until) {
			d := t
			until = &d
		}
	}
	for i := range bookings {
		if bookings[i].IsActive() && bookings[i].Range().Overlaps(r) {
			earliest(bookings[i].EndDate)
		}
	}
	for i := range blocks {
		if blocks[i].Range().Overlaps(r) {
			earliest(blocks[i].EndDate)
		}
	}

	if until != nil {
		a.logger.Debug("Range unavailable",
			zap.Int64("product_id", product.ID),
			zap.String("range", r.String()),
			zap.String("until", models.FormatDate(*until)))
		return &Availability{Available: false, ConflictUntil: until}, nil
	}
	return &Availability{Available: true}, nil
}
