package models

import (
	"database/sql"
	"time"
)

// Vendor is a marketplace participant. The same vendor can provide products
// and book products of other vendors.
type Vendor struct {
	ID                int64     `db:"id" json:"id"`
	BusinessName      string    `db:"business_name" json:"business_name"`
	Email             string    `db:"email" json:"email"`
	Phone             string    `db:"phone" json:"phone"`
	Address           string    `db:"address" json:"address"`
	BankAccountHolder string    `db:"bank_account_holder" json:"-"`
	BankAccountNumber string    `db:"bank_account_number" json:"-"`
	BankIFSC          string    `db:"bank_ifsc" json:"-"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// PayoutCapable reports whether the vendor can receive settlements.
func (v *Vendor) PayoutCapable() bool {
	return v.BankAccountNumber != "" && v.BankIFSC != ""
}

// Product is a bookable service owned by a vendor
type Product struct {
	ID           int64     `db:"id" json:"id"`
	VendorID     int64     `db:"vendor_id" json:"vendor_id"`
	Name         string    `db:"name" json:"name"`
	PricingType  string    `db:"pricing_type" json:"pricing_type"`
	BasePrice    int64     `db:"base_price" json:"base_price"`
	HourlyRate   int64     `db:"hourly_rate" json:"hourly_rate"`
	AdvanceType  string    `db:"advance_type" json:"advance_type"`
	AdvanceValue int64     `db:"advance_value" json:"advance_value"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// UnitPrice is the price a FIXED advance is compared against.
func (p *Product) UnitPrice() int64 {
	if p.PricingType == PricingSession {
		return p.HourlyRate
	}
	return p.BasePrice
}

// Coupon is a discount code applied at booking time
type Coupon struct {
	ID           int64         `db:"id" json:"id"`
	Code         string        `db:"code" json:"code"`
	DiscountType string        `db:"discount_type" json:"discount_type"`
	Value        int64         `db:"value" json:"value"`
	MaxDiscount  sql.NullInt64 `db:"max_discount" json:"-"`
	MinAmount    int64         `db:"min_amount" json:"min_amount"`
	IsActive     bool          `db:"is_active" json:"is_active"`
	ExpiresAt    sql.NullTime  `db:"expires_at" json:"-"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
}

// Booking is a reservation of a product window by another vendor
type Booking struct {
	ID                int64          `db:"id" json:"id"`
	Reference         string         `db:"reference" json:"reference"`
	VendorID          int64          `db:"vendor_id" json:"vendor_id"`
	BookedByVendorID  int64          `db:"booked_by_vendor_id" json:"booked_by_vendor_id"`
	VendorProductID   int64          `db:"vendor_product_id" json:"vendor_product_id"`
	BookingType       string         `db:"booking_type" json:"booking_type"`
	StartDate         time.Time      `db:"start_date" json:"start_date"`
	EndDate           time.Time      `db:"end_date" json:"end_date"`
	StartTime         sql.NullString `db:"start_time" json:"-"`
	EndTime           sql.NullString `db:"end_time" json:"-"`
	TotalDays         int            `db:"total_days" json:"total_days"`
	TotalAmount       int64          `db:"total_amount" json:"total_amount"`
	DiscountAmount    int64          `db:"discount_amount" json:"discount_amount"`
	FinalAmount       int64          `db:"final_amount" json:"final_amount"`
	AdvanceAmount     int64          `db:"advance_amount" json:"advance_amount"`
	RemainingAmount   int64          `db:"remaining_amount" json:"remaining_amount"`
	CouponCode        sql.NullString `db:"coupon_code" json:"-"`
	Status            string         `db:"status" json:"status"`
	ApprovalExpiresAt sql.NullTime   `db:"approval_expires_at" json:"-"`
	PaymentDueAt      sql.NullTime   `db:"payment_due_at" json:"-"`
	PaymentID         sql.NullInt64  `db:"payment_id" json:"-"`
	Notes             string         `db:"notes" json:"notes,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// Range returns the booked calendar window.
func (b *Booking) Range() DateRange {
	return DateRange{Start: b.StartDate, End: b.EndDate}
}

// IsActive reports whether the booking still holds its calendar window.
func (b *Booking) IsActive() bool {
	switch b.Status {
	case BookingStatusRequested, BookingStatusPaymentPending, BookingStatusConfirmed:
		return true
	}
	return false
}

// Payment is one gateway order raised against a booking
type Payment struct {
	ID               int64          `db:"id" json:"id"`
	BookingID        int64          `db:"booking_id" json:"booking_id"`
	VendorID         int64          `db:"vendor_id" json:"vendor_id"`
	VendorProductID  int64          `db:"vendor_product_id" json:"vendor_product_id"`
	Kind             string         `db:"kind" json:"kind"`
	GatewayOrderID   string         `db:"gateway_order_id" json:"gateway_order_id"`
	GatewayPaymentID sql.NullString `db:"gateway_payment_id" json:"-"`
	Signature        sql.NullString `db:"signature" json:"-"`
	Amount           int64          `db:"amount" json:"amount"`
	Currency         string         `db:"currency" json:"currency"`
	Status           string         `db:"status" json:"status"`
	FailureReason    sql.NullString `db:"failure_reason" json:"-"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// CalendarBlock is a vendor-declared unavailable window
type CalendarBlock struct {
	ID        int64     `db:"id" json:"id"`
	VendorID  int64     `db:"vendor_id" json:"vendor_id"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	Reason    string    `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Range returns the blocked calendar window.
func (c *CalendarBlock) Range() DateRange {
	return DateRange{Start: c.StartDate, End: c.EndDate}
}

// WebhookEvent retains every gateway callback body so failed deliveries can be replayed
type WebhookEvent struct {
	ID          int64          `db:"id" json:"id"`
	EventKey    string         `db:"event_key" json:"event_key"`
	EventType   string         `db:"event_type" json:"event_type"`
	OrderID     sql.NullString `db:"order_id" json:"-"`
	Signature   string         `db:"signature" json:"-"`
	RawBody     string         `db:"raw_body" json:"raw_body"`
	Status      string         `db:"status" json:"status"`
	Error       sql.NullString `db:"error" json:"-"`
	ReceivedAt  time.Time      `db:"received_at" json:"received_at"`
	ProcessedAt sql.NullTime   `db:"processed_at" json:"-"`
}

// ProfileEditRequest is a vendor-submitted set of profile changes awaiting admin review
type ProfileEditRequest struct {
	ID         int64         `db:"id" json:"id"`
	VendorID   int64         `db:"vendor_id" json:"vendor_id"`
	Changes    FieldChanges  `db:"changes" json:"changes"`
	Status     string        `db:"status" json:"status"`
	ReviewedBy sql.NullInt64 `db:"reviewed_by" json:"-"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
	ReviewedAt sql.NullTime  `db:"reviewed_at" json:"-"`
}

// CallerIdentity is the verified actor on whose behalf a core method runs
type CallerIdentity struct {
	VendorID int64
	Role     string
}

// IsAdmin reports whether the caller holds the admin role.
func (c CallerIdentity) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// Pricing types
const (
	PricingDaily   = "DAILY"
	PricingSession = "SESSION"
)

// Advance types
const (
	AdvancePercentage = "PERCENTAGE"
	AdvanceFixed      = "FIXED"
)

// Coupon discount types
const (
	DiscountFlat    = "FLAT"
	DiscountPercent = "PERCENT"
	DiscountUpto    = "UPTO"
)

// Booking types
const (
	BookingTypeSingleDay = "SINGLE_DAY"
	BookingTypeMultiDay  = "MULTI_DAY"
)

// Booking statuses
const (
	BookingStatusRequested      = "REQUESTED"
	BookingStatusPaymentPending = "PAYMENT_PENDING"
	BookingStatusConfirmed      = "CONFIRMED"
	BookingStatusCompleted      = "COMPLETED"
	BookingStatusRejected       = "REJECTED"
	BookingStatusExpired        = "EXPIRED"
	BookingStatusCancelled      = "CANCELLED"
)

// ActiveBookingStatuses hold a calendar window.
var ActiveBookingStatuses = []string{
	BookingStatusRequested,
	BookingStatusPaymentPending,
	BookingStatusConfirmed,
}

// Payment statuses
const (
	PaymentStatusCreated   = "CREATED"
	PaymentStatusPaid      = "PAID"
	PaymentStatusFailed    = "FAILED"
	PaymentStatusCompleted = "COMPLETED"
)

// Payment kinds
const (
	PaymentKindAdvance   = "ADVANCE"
	PaymentKindRemaining = "REMAINING"
)

// Webhook event statuses
const (
	WebhookStatusReceived  = "RECEIVED"
	WebhookStatusProcessed = "PROCESSED"
	WebhookStatusIgnored   = "IGNORED"
	WebhookStatusFailed    = "FAILED"
	WebhookStatusRejected  = "REJECTED"
)

// Profile edit statuses
const (
	EditStatusPending  = "PENDING"
	EditStatusApproved = "APPROVED"
	EditStatusRejected = "REJECTED"
)

// Roles
const (
	RoleVendor = "VENDOR"
	RoleAdmin  = "ADMIN"
)

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
