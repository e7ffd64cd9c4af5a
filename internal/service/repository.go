package service

import (
	"context"
	"time"

	"booking-service/internal/models"
)

// VendorReader resolves vendors, mainly for notification addresses.
type VendorReader interface {
	GetVendorByID(ctx context.Context, id int64) (*models.Vendor, error)
}

type AvailabilityStore interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	ListActiveBookingsInRange(ctx context.Context, productID int64, r models.DateRange) ([]models.Booking, error)
	ListCalendarBlocksInRange(ctx context.Context, vendorID int64, r models.DateRange) ([]models.CalendarBlock, error)
}

// BookingStore is everything the lifecycle manager reads and writes. Every
// status-changing method is a guarded update reporting whether it won.
type BookingStore interface {
	VendorReader
	AvailabilityStore
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	HasActiveBookingForRequester(ctx context.Context, requesterID, productID int64) (bool, error)
	CreateBookingExclusive(ctx context.Context, b *models.Booking) error
	GetBookingByID(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingByReference(ctx context.Context, ref string) (*models.Booking, error)
	ListBookingsForVendor(ctx context.Context, vendorID int64, limit, offset int) ([]models.Booking, error)
	ApproveBooking(ctx context.Context, id, advance, remaining int64, paymentDueAt, now time.Time) (bool, error)
	RejectBooking(ctx context.Context, id int64, now time.Time) (bool, error)
	ExpireBooking(ctx context.Context, id int64, now time.Time) (bool, error)
	CancelBooking(ctx context.Context, id int64) (bool, error)
	ExpireOverdueRequests(ctx context.Context, now time.Time) ([]models.Booking, error)
	ExpireUnpaidBookings(ctx context.Context, now, staleBefore time.Time) ([]models.Booking, error)
	CompleteSettledBookings(ctx context.Context, today time.Time) ([]models.Booking, error)
}

// PaymentStore backs the orchestrator and the reconciliation service.
type PaymentStore interface {
	VendorReader
	GetBookingByID(ctx context.Context, id int64) (*models.Booking, error)
	GetLivePaymentForBooking(ctx context.Context, bookingID int64) (*models.Payment, error)
	SumPaidForBooking(ctx context.Context, bookingID int64, kind string) (int64, error)
	CreatePaymentForBooking(ctx context.Context, p *models.Payment, bookingStatus string) error
	GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	ListPaymentsForBooking(ctx context.Context, bookingID int64) ([]models.Payment, error)
	MarkPaymentPaid(ctx context.Context, orderID, gatewayPaymentID, signature string) (bool, error)
	MarkPaymentFailed(ctx context.Context, orderID, reason string) (bool, error)
	MarkPaymentCompleted(ctx context.Context, paymentID int64) (bool, error)
	ConfirmBooking(ctx context.Context, id int64) (bool, error)
	CompleteBooking(ctx context.Context, id int64) (bool, error)
	SaveWebhookEvent(ctx context.Context, e *models.WebhookEvent) (bool, error)
	GetWebhookEvent(ctx context.Context, id int64) (*models.WebhookEvent, error)
	UpdateWebhookEventStatus(ctx context.Context, id int64, status, errMsg string) error
}

type ProductStore interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	UpdateProductPricing(ctx context.Context, p *models.Product) error
}

type CalendarStore interface {
	ListCalendarBlocks(ctx context.Context, vendorID int64) ([]models.CalendarBlock, error)
	CreateCalendarBlockExclusive(ctx context.Context, blk *models.CalendarBlock) error
	DeleteCalendarBlock(ctx context.Context, id, vendorID int64) (bool, error)
}

type ProfileEditStore interface {
	VendorReader
	CreateProfileEdit(ctx context.Context, r *models.ProfileEditRequest) error
	GetProfileEdit(ctx context.Context, id int64) (*models.ProfileEditRequest, error)
	ListPendingProfileEdits(ctx context.Context) ([]models.ProfileEditRequest, error)
	ApplyProfileEdit(ctx context.Context, req *models.ProfileEditRequest, reviewerID int64) error
	RejectProfileEdit(ctx context.Context, id, reviewerID int64) (bool, error)
}
