package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/store"
)

// memStore mirrors the guarded updates of the SQL store under one mutex so
// concurrency tests exercise the same win/lose semantics.
type memStore struct {
	mu sync.Mutex

	vendors  map[int64]*models.Vendor
	products map[int64]*models.Product
	coupons  map[string]*models.Coupon
	bookings map[int64]*models.Booking
	payments map[int64]*models.Payment
	blocks   map[int64]*models.CalendarBlock
	webhooks map[int64]*models.WebhookEvent
	edits    map[int64]*models.ProfileEditRequest

	nextID int64
}

func newMemStore() *memStore {
	return &memStore{
		vendors:  map[int64]*models.Vendor{},
		products: map[int64]*models.Product{},
		coupons:  map[string]*models.Coupon{},
		bookings: map[int64]*models.Booking{},
		payments: map[int64]*models.Payment{},
		blocks:   map[int64]*models.CalendarBlock{},
		webhooks: map[int64]*models.WebhookEvent{},
		edits:    map[int64]*models.ProfileEditRequest{},
		nextID:   1000,
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func isActive(status string) bool {
	for _, s := range models.ActiveBookingStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (m *memStore) GetVendorByID(_ context.Context, id int64) (*models.Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vendors[id]
	if !ok {
		return nil, fmt.Errorf("%w: vendor %d", store.ErrNotFound, id)
	}
	cp := *v
	return &cp, nil
}

func (m *memStore) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) UpdateProductPricing(_ context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.products[p.ID]
	if !ok || cur.VendorID != p.VendorID {
		return fmt.Errorf("%w: product %d", store.ErrNotFound, p.ID)
	}
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *memStore) GetCouponByCode(_ context.Context, code string) (*models.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[code]
	if !ok {
		return nil, fmt.Errorf("%w: coupon %s", store.ErrNotFound, code)
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ListActiveBookingsInRange(_ context.Context, productID int64, r models.DateRange) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if b.VendorProductID == productID && isActive(b.Status) && b.Range().Overlaps(r) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memStore) ListCalendarBlocksInRange(_ context.Context, vendorID int64, r models.DateRange) ([]models.CalendarBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CalendarBlock
	for _, blk := range m.blocks {
		if blk.VendorID == vendorID && blk.Range().Overlaps(r) {
			out = append(out, *blk)
		}
	}
	return out, nil
}

func (m *memStore) HasActiveBookingForRequester(_ context.Context, requesterID, productID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.BookedByVendorID == requesterID && b.VendorProductID == productID && isActive(b.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) CreateBookingExclusive(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := b.Range()
	var until *time.Time
	for _, other := range m.bookings {
		if other.BookedByVendorID == b.BookedByVendorID && other.VendorProductID == b.VendorProductID && isActive(other.Status) {
			return store.ErrActiveBookingExists
		}
		if other.VendorProductID == b.VendorProductID && isActive(other.Status) && other.Range().Overlaps(r) {
			if until == nil || other.EndDate.Before(*until) {
				t := other.EndDate
				until = &t
			}
		}
	}
	for _, blk := range m.blocks {
		if blk.VendorID == b.VendorID && blk.Range().Overlaps(r) {
			if until == nil || blk.EndDate.Before(*until) {
				t := blk.EndDate
				until = &t
			}
		}
	}
	if until != nil {
		return &store.RangeConflictError{Until: *until}
	}

	b.ID = m.id()
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *memStore) GetBookingByID(_ context.Context, id int64) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%w: booking %d", store.ErrNotFound, id)
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) GetBookingByReference(_ context.Context, ref string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.Reference == ref {
			cp := *b
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: booking %s", store.ErrNotFound, ref)
}

func (m *memStore) ListBookingsForVendor(_ context.Context, vendorID int64, limit, offset int) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if b.VendorID == vendorID || b.BookedByVendorID == vendorID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// transition applies fn to the booking if guard holds.
func (m *memStore) transition(id int64, guard func(*models.Booking) bool, fn func(*models.Booking)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || !guard(b) {
		return false
	}
	fn(b)
	b.UpdatedAt = time.Now()
	return true
}

func (m *memStore) ApproveBooking(_ context.Context, id, advance, remaining int64, paymentDueAt, now time.Time) (bool, error) {
	return m.transition(id, func(b *models.Booking) bool {
		return b.Status == models.BookingStatusRequested && !b.ApprovalExpiresAt.Time.Before(now)
	}, func(b *models.Booking) {
		b.Status = models.BookingStatusPaymentPending
		b.AdvanceAmount = advance
		b.RemainingAmount = remaining
		b.PaymentDueAt = sql.NullTime{Time: paymentDueAt, Valid: true}
		b.ApprovalExpiresAt = sql.NullTime{}
	}), nil
}

func (m *memStore) RejectBooking(_ context.Context, id int64, now time.Time) (bool, error) {
	return m.transition(id, func(b *models.Booking) bool {
		return b.Status == models.BookingStatusRequested && !b.ApprovalExpiresAt.Time.Before(now)
	}, func(b *models.Booking) {
		b.Status = models.BookingStatusRejected
		b.ApprovalExpiresAt = sql.NullTime{}
	}), nil
}

func (m *memStore) ExpireBooking(_ context.Context, id int64, now time.Time) (bool, error) {
	return m.transition(id, func(b *models.Booking) bool {
		return b.Status == models.BookingStatusRequested && b.ApprovalExpiresAt.Time.Before(now)
	}, func(b *models.Booking) {
		b.Status = models.BookingStatusExpired
		b.ApprovalExpiresAt = sql.NullTime{}
	}), nil
}

func (m *memStore) CancelBooking(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || (b.Status != models.BookingStatusRequested && b.Status != models.BookingStatusPaymentPending) {
		return false, nil
	}
	for _, p := range m.payments {
		if p.BookingID == id && (p.Status == models.PaymentStatusPaid || p.Status == models.PaymentStatusCompleted) {
			return false, nil
		}
	}
	b.Status = models.BookingStatusCancelled
	b.ApprovalExpiresAt = sql.NullTime{}
	b.PaymentID = sql.NullInt64{}
	for _, p := range m.payments {
		if p.BookingID == id && p.Status == models.PaymentStatusCreated {
			p.Status = models.PaymentStatusFailed
			p.FailureReason = sql.NullString{String: "booking cancelled", Valid: true}
		}
	}
	return true, nil
}

func (m *memStore) ConfirmBooking(_ context.Context, id int64) (bool, error) {
	return m.transition(id, func(b *models.Booking) bool {
		return b.Status == models.BookingStatusPaymentPending
	}, func(b *models.Booking) {
		b.Status = models.BookingStatusConfirmed
	}), nil
}

func (m *memStore) CompleteBooking(_ context.Context, id int64) (bool, error) {
	return m.transition(id, func(b *models.Booking) bool {
		return b.Status == models.BookingStatusConfirmed
	}, func(b *models.Booking) {
		b.Status = models.BookingStatusCompleted
		b.RemainingAmount = 0
	}), nil
}

func (m *memStore) ExpireOverdueRequests(_ context.Context, now time.Time) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if b.Status == models.BookingStatusRequested && b.ApprovalExpiresAt.Time.Before(now) {
			b.Status = models.BookingStatusExpired
			b.ApprovalExpiresAt = sql.NullTime{}
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memStore) ExpireUnpaidBookings(_ context.Context, now, staleBefore time.Time) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if b.Status != models.BookingStatusPaymentPending || !b.PaymentDueAt.Time.Before(now) {
			continue
		}
		if b.PaymentDueAt.Time.Before(staleBefore) {
			for _, p := range m.payments {
				if p.BookingID == b.ID && p.Status == models.PaymentStatusCreated {
					p.Status = models.PaymentStatusFailed
					p.FailureReason = sql.NullString{String: "checkout abandoned", Valid: true}
				}
			}
		}
		inFlight := false
		for _, p := range m.payments {
			if p.BookingID == b.ID && p.Status != models.PaymentStatusFailed {
				inFlight = true
			}
		}
		if inFlight {
			continue
		}
		b.Status = models.BookingStatusExpired
		b.PaymentID = sql.NullInt64{}
		out = append(out, *b)
	}
	return out, nil
}

func (m *memStore) CompleteSettledBookings(_ context.Context, today time.Time) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if b.Status == models.BookingStatusConfirmed && b.RemainingAmount == 0 && b.EndDate.Before(today) {
			b.Status = models.BookingStatusCompleted
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memStore) GetLivePaymentForBooking(_ context.Context, bookingID int64) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.BookingID == bookingID && p.Status == models.PaymentStatusCreated {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) SumPaidForBooking(_ context.Context, bookingID int64, kind string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, p := range m.payments {
		if p.BookingID != bookingID || (kind != "" && p.Kind != kind) {
			continue
		}
		if p.Status == models.PaymentStatusPaid || p.Status == models.PaymentStatusCompleted {
			total += p.Amount
		}
	}
	return total, nil
}

func (m *memStore) CreatePaymentForBooking(_ context.Context, p *models.Payment, bookingStatus string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.payments {
		if other.BookingID == p.BookingID && other.Status == models.PaymentStatusCreated {
			return store.ErrActivePaymentExists
		}
	}
	b, ok := m.bookings[p.BookingID]
	if !ok || b.Status != bookingStatus {
		return fmt.Errorf("%w: booking %d left %s", store.ErrStatusChanged, p.BookingID, bookingStatus)
	}
	p.ID = m.id()
	p.CreatedAt = time.Now()
	cp := *p
	m.payments[p.ID] = &cp
	b.PaymentID = sql.NullInt64{Int64: p.ID, Valid: true}
	return nil
}

func (m *memStore) GetPaymentByOrderID(_ context.Context, orderID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.GatewayOrderID == orderID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: payment order %s", store.ErrNotFound, orderID)
}

func (m *memStore) ListPaymentsForBooking(_ context.Context, bookingID int64) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.payments {
		if p.BookingID == bookingID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) MarkPaymentPaid(_ context.Context, orderID, gatewayPaymentID, signature string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.GatewayOrderID == orderID && p.Status == models.PaymentStatusCreated {
			p.Status = models.PaymentStatusPaid
			p.GatewayPaymentID = sql.NullString{String: gatewayPaymentID, Valid: true}
			p.Signature = sql.NullString{String: signature, Valid: signature != ""}
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) MarkPaymentFailed(_ context.Context, orderID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.GatewayOrderID == orderID && p.Status == models.PaymentStatusCreated {
			p.Status = models.PaymentStatusFailed
			p.FailureReason = sql.NullString{String: reason, Valid: true}
			if b, ok := m.bookings[p.BookingID]; ok && b.PaymentID.Int64 == p.ID {
				b.PaymentID = sql.NullInt64{}
			}
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) MarkPaymentCompleted(_ context.Context, paymentID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok || p.Status != models.PaymentStatusPaid {
		return false, nil
	}
	p.Status = models.PaymentStatusCompleted
	return true, nil
}

func (m *memStore) SaveWebhookEvent(_ context.Context, e *models.WebhookEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.webhooks {
		if existing.EventKey == e.EventKey {
			*e = *existing
			return true, nil
		}
	}
	e.ID = m.id()
	e.ReceivedAt = time.Now()
	cp := *e
	m.webhooks[e.ID] = &cp
	return false, nil
}

func (m *memStore) GetWebhookEvent(_ context.Context, id int64) (*models.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.webhooks[id]
	if !ok {
		return nil, fmt.Errorf("%w: webhook event %d", store.ErrNotFound, id)
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) UpdateWebhookEventStatus(_ context.Context, id int64, status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.webhooks[id]
	if !ok {
		return fmt.Errorf("%w: webhook event %d", store.ErrNotFound, id)
	}
	e.Status = status
	e.Error = sql.NullString{String: errMsg, Valid: errMsg != ""}
	e.ProcessedAt = sql.NullTime{Time: time.Now(), Valid: true}
	return nil
}

func (m *memStore) ListCalendarBlocks(_ context.Context, vendorID int64) ([]models.CalendarBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CalendarBlock
	for _, blk := range m.blocks {
		if blk.VendorID == vendorID {
			out = append(out, *blk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (m *memStore) CreateCalendarBlockExclusive(_ context.Context, blk *models.CalendarBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vendors[blk.VendorID]; !ok {
		return fmt.Errorf("%w: vendor %d", store.ErrNotFound, blk.VendorID)
	}
	var until *time.Time
	for _, b := range m.bookings {
		if b.VendorID == blk.VendorID && isActive(b.Status) && b.Range().Overlaps(blk.Range()) {
			if until == nil || b.EndDate.Before(*until) {
				t := b.EndDate
				until = &t
			}
		}
	}
	if until != nil {
		return &store.RangeConflictError{Until: *until}
	}
	blk.ID = m.id()
	cp := *blk
	m.blocks[blk.ID] = &cp
	return nil
}

func (m *memStore) DeleteCalendarBlock(_ context.Context, id, vendorID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blk, ok := m.blocks[id]
	if !ok || blk.VendorID != vendorID {
		return false, nil
	}
	delete(m.blocks, id)
	return true, nil
}

func (m *memStore) CreateProfileEdit(_ context.Context, r *models.ProfileEditRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.id()
	cp := *r
	m.edits[r.ID] = &cp
	return nil
}

func (m *memStore) GetProfileEdit(_ context.Context, id int64) (*models.ProfileEditRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.edits[id]
	if !ok {
		return nil, fmt.Errorf("%w: profile edit %d", store.ErrNotFound, id)
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ListPendingProfileEdits(_ context.Context) ([]models.ProfileEditRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ProfileEditRequest
	for _, r := range m.edits {
		if r.Status == models.EditStatusPending {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) ApplyProfileEdit(_ context.Context, req *models.ProfileEditRequest, reviewerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.edits[req.ID]
	if !ok || r.Status != models.EditStatusPending {
		return fmt.Errorf("%w: profile edit %d is no longer pending", store.ErrStatusChanged, req.ID)
	}
	v := m.vendors[req.VendorID]
	next := *v
	for _, c := range req.Changes {
		cur, _ := vendorField(&next, c.Field)
		if cur != c.OldValue {
			return fmt.Errorf("%w: vendor %d profile changed since the request", store.ErrStatusChanged, req.VendorID)
		}
		setVendorField(&next, c.Field, c.NewValue)
	}
	*v = next
	r.Status = models.EditStatusApproved
	r.ReviewedBy = sql.NullInt64{Int64: reviewerID, Valid: true}
	return nil
}

func (m *memStore) RejectProfileEdit(_ context.Context, id, reviewerID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.edits[id]
	if !ok || r.Status != models.EditStatusPending {
		return false, nil
	}
	r.Status = models.EditStatusRejected
	r.ReviewedBy = sql.NullInt64{Int64: reviewerID, Valid: true}
	return true, nil
}

func setVendorField(v *models.Vendor, field, value string) {
	switch field {
	case "business_name":
		v.BusinessName = value
	case "email":
		v.Email = value
	case "phone":
		v.Phone = value
	case "address":
		v.Address = value
	case "bank_account_holder":
		v.BankAccountHolder = value
	case "bank_account_number":
		v.BankAccountNumber = value
	case "bank_ifsc":
		v.BankIFSC = value
	}
}
