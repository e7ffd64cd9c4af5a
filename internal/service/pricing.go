package service

import (
	"math"
	"time"

	"booking-service/internal/models"
)

const clockLayout = "15:04"

// Quote is the priced form of a booking request, in minor units.
type Quote struct {
	TotalDays      int
	TotalAmount    int64
	DiscountAmount int64
	FinalAmount    int64
}

// SessionWindow is the time-of-day span of a SESSION booking.
type SessionWindow struct {
	StartTime string
	EndTime   string
}

// Hours rounds the window up to whole billable hours.
func (w SessionWindow) Hours() (int64, error) {
	start, err := time.Parse(clockLayout, w.StartTime)
	if err != nil {
		return 0, validationError("start time %q must be HH:MM", w.StartTime)
	}
	end, err := time.Parse(clockLayout, w.EndTime)
	if err != nil {
		return 0, validationError("end time %q must be HH:MM", w.EndTime)
	}
	if !end.After(start) {
		return 0, validationError("end time must be after start time")
	}
	minutes := int64(end.Sub(start) / time.Minute)
	return (minutes + 59) / 60, nil
}

// QuoteBooking prices a date range for a product and applies an optional coupon.
// session is required for SESSION products and ignored otherwise.
func QuoteBooking(product *models.Product, r models.DateRange, session *SessionWindow, coupon *models.Coupon, now time.Time) (Quote, error) {
	q := Quote{TotalDays: r.Days()}

	switch product.PricingType {
	case models.PricingDaily:
		if q.TotalDays < 1 || product.BasePrice > math.MaxInt64/int64(q.TotalDays) {
			return Quote{}, validationError("price for %d days is out of range", q.TotalDays)
		}
		q.TotalAmount = product.BasePrice * int64(q.TotalDays)
	case models.PricingSession:
		if session == nil || session.StartTime == "" || session.EndTime == "" {
			return Quote{}, validationError("session products need a start and end time")
		}
		if q.TotalDays != 1 {
			return Quote{}, validationError("session bookings cover a single day")
		}
		hours, err := session.Hours()
		if err != nil {
			return Quote{}, err
		}
		q.TotalAmount = product.HourlyRate * hours
	default:
		return Quote{}, validationError("unknown pricing type %q", product.PricingType)
	}

	if coupon != nil {
		discount, err := CouponDiscount(coupon, q.TotalAmount, now)
		if err != nil {
			return Quote{}, err
		}
		q.DiscountAmount = discount
	}

	q.FinalAmount = q.TotalAmount - q.DiscountAmount
	return q, nil
}

// CouponDiscount computes the discount a coupon grants on total. The result
// never exceeds total.
func CouponDiscount(c *models.Coupon, total int64, now time.Time) (int64, error) {
	if !c.IsActive {
		return 0, validationError("coupon %s is inactive", c.Code)
	}
	if c.ExpiresAt.Valid && now.After(c.ExpiresAt.Time) {
		return 0, validationError("coupon %s has expired", c.Code)
	}
	if total < c.MinAmount {
		return 0, validationError("coupon %s requires a minimum amount of %d", c.Code, c.MinAmount)
	}

	var discount int64
	switch c.DiscountType {
	case models.DiscountFlat:
		discount = c.Value
	case models.DiscountPercent, models.DiscountUpto:
		discount = percentOf(total, c.Value)
		if c.MaxDiscount.Valid && discount > c.MaxDiscount.Int64 {
			discount = c.MaxDiscount.Int64
		}
	default:
		return 0, validationError("unknown discount type %q", c.DiscountType)
	}

	return clamp(discount, 0, total), nil
}

// AdvanceOf is the amount due at approval. Approval and payment-order creation
// both go through here.
func AdvanceOf(product *models.Product, finalAmount int64) int64 {
	var advance int64
	switch product.AdvanceType {
	case models.AdvancePercentage:
		advance = percentOf(finalAmount, product.AdvanceValue)
	case models.AdvanceFixed:
		advance = product.AdvanceValue
	}
	return clamp(advance, 0, finalAmount)
}

// ValidateAdvanceRule checks the product's advance configuration against its price.
func ValidateAdvanceRule(p *models.Product) error {
	switch p.AdvanceType {
	case models.AdvancePercentage:
		if p.AdvanceValue <= 0 || p.AdvanceValue > 100 {
			return validationError("percentage advance must be in (0, 100], got %d", p.AdvanceValue)
		}
	case models.AdvanceFixed:
		if p.AdvanceValue <= 0 || p.AdvanceValue >= p.UnitPrice() {
			return validationError("fixed advance %d must be positive and below the unit price %d", p.AdvanceValue, p.UnitPrice())
		}
	default:
		return validationError("unknown advance type %q", p.AdvanceType)
	}
	return nil
}

// percentOf rounds amount*pct/100 half up in integer arithmetic.
func percentOf(amount, pct int64) int64 {
	return (amount*pct + 50) / 100
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
