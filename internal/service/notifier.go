package service

import (
	"context"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// Notifier hands a rendered-later notification to a transport.
type Notifier interface {
	Notify(ctx context.Context, template, recipient string, data map[string]any) error
}

// notifications resolves vendor addresses and sends best-effort. Failures are
// logged and counted, never returned.
type notifications struct {
	vendors  VendorReader
	notifier Notifier
	logger   *zap.Logger
}

func newNotifications(vendors VendorReader, notifier Notifier) *notifications {
	return &notifications{vendors: vendors, notifier: notifier, logger: util.GetLogger()}
}

type bookingReader interface {
	GetBookingByID(ctx context.Context, id int64) (*models.Booking, error)
}

// reload fetches the booking a guarded update just moved. A failed read falls
// back to the snapshot taken before the update.
func (n *notifications) reload(ctx context.Context, bookings bookingReader, b *models.Booking) *models.Booking {
	current, err := bookings.GetBookingByID(ctx, b.ID)
	if err != nil {
		n.logger.Warn("Booking reload before notification failed",
			zap.Int64("booking_id", b.ID),
			zap.Error(err))
		return b
	}
	return current
}

func (n *notifications) booking(ctx context.Context, vendorID int64, template string, b *models.Booking, extra map[string]any) {
	if n.notifier == nil {
		return
	}

	vendor, err := n.vendors.GetVendorByID(ctx, vendorID)
	if err != nil {
		n.logger.Warn("Notification recipient lookup failed",
			zap.Int64("vendor_id", vendorID),
			zap.String("template", template),
			zap.Error(err))
		util.NotificationsTotal.WithLabelValues(template, "failed").Inc()
		return
	}

	data := map[string]any{
		"booking_reference": b.Reference,
		"status":            b.Status,
		"start_date":        models.FormatDate(b.StartDate),
		"end_date":          models.FormatDate(b.EndDate),
		"final_amount":      b.FinalAmount,
		"vendor_name":       vendor.BusinessName,
	}
	for k, v := range extra {
		data[k] = v
	}

	if err := n.notifier.Notify(ctx, template, vendor.Email, data); err != nil {
		n.logger.Warn("Notification failed",
			zap.String("template", template),
			zap.String("booking_reference", b.Reference),
			zap.Error(err))
		util.NotificationsTotal.WithLabelValues(template, "failed").Inc()
		return
	}
	util.NotificationsTotal.WithLabelValues(template, "sent").Inc()
}
