package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"booking-service/internal/gateway"
	"booking-service/internal/models"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testKeySecret     = "key-secret"
	testWebhookSecret = "webhook-secret"

	providerID  int64 = 1
	requesterID int64 = 2
	noBankID    int64 = 3
	otherID     int64 = 4
	adminID     int64 = 99

	dailyProductID   int64 = 10
	noBankProductID  int64 = 11
	sessionProductID int64 = 12
)

var testNow = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

var (
	provider  = models.CallerIdentity{VendorID: providerID, Role: models.RoleVendor}
	requester = models.CallerIdentity{VendorID: requesterID, Role: models.RoleVendor}
	other     = models.CallerIdentity{VendorID: otherID, Role: models.RoleVendor}
	admin     = models.CallerIdentity{VendorID: adminID, Role: models.RoleAdmin}
)

// fakeGateway hands out sequential order ids, or fails when err is set.
type fakeGateway struct {
	mu    sync.Mutex
	seq   int
	calls int
	err   error
}

func (g *fakeGateway) CreateOrder(_ context.Context, amount int64, currency, receipt string) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	g.seq++
	return &gateway.Order{
		ID:       fmt.Sprintf("order_%03d", g.seq),
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

func (g *fakeGateway) VerifySignature(payload []byte, signature, secret string) bool {
	return gateway.Verify(payload, signature, secret)
}

func (g *fakeGateway) KeyID() string { return "key_test" }

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type mockNotifier struct {
	mock.Mock
}

func (n *mockNotifier) Notify(ctx context.Context, template, recipient string, data map[string]any) error {
	args := n.Called(ctx, template, recipient, data)
	return args.Error(0)
}

// sent counts deliveries of template to recipient.
func (n *mockNotifier) sent(template, recipient string) int {
	count := 0
	for _, c := range n.Calls {
		if c.Method == "Notify" && c.Arguments.String(1) == template && c.Arguments.String(2) == recipient {
			count++
		}
	}
	return count
}

// lastData returns the payload of the latest template sent to recipient.
func (n *mockNotifier) lastData(template, recipient string) map[string]any {
	var data map[string]any
	for _, c := range n.Calls {
		if c.Method == "Notify" && c.Arguments.String(1) == template && c.Arguments.String(2) == recipient {
			data, _ = c.Arguments.Get(3).(map[string]any)
		}
	}
	return data
}

type fixture struct {
	t        *testing.T
	store    *memStore
	gw       *fakeGateway
	notifier *mockNotifier

	bookings *BookingService
	payments *PaymentOrchestrator
	recon    *ReconciliationService

	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		t:        t,
		store:    newMemStore(),
		gw:       &fakeGateway{},
		notifier: &mockNotifier{},
		now:      testNow,
	}
	f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.seed()

	clock := func() time.Time { return f.now }
	f.bookings = NewBookingService(f.store, f.notifier, BookingPolicy{
		ApprovalWindow: 8 * time.Hour,
		PaymentWindow:  48 * time.Hour,
		CheckoutGrace:  time.Hour,
	})
	f.bookings.now = clock
	f.payments = NewPaymentOrchestrator(f.store, f.gw, "INR", f.notifier)
	f.payments.now = clock
	f.recon = NewReconciliationService(f.store, f.gw, testKeySecret, testWebhookSecret, f.notifier)
	return f
}

func (f *fixture) seed() {
	m := f.store
	m.vendors[providerID] = &models.Vendor{
		ID: providerID, BusinessName: "Lens and Light", Email: "provider@example.com", Phone: "+919800000001",
		BankAccountHolder: "Lens and Light", BankAccountNumber: "123456789012", BankIFSC: "HDFC0001234",
	}
	m.vendors[requesterID] = &models.Vendor{
		ID: requesterID, BusinessName: "Bright Events", Email: "requester@example.com", Phone: "+919800000002",
	}
	m.vendors[noBankID] = &models.Vendor{
		ID: noBankID, BusinessName: "Sound Hire", Email: "nobank@example.com", Phone: "+919800000003",
	}
	m.vendors[otherID] = &models.Vendor{
		ID: otherID, BusinessName: "Party Co", Email: "other@example.com", Phone: "+919800000004",
	}

	m.products[dailyProductID] = &models.Product{
		ID: dailyProductID, VendorID: providerID, Name: "Studio hire", PricingType: models.PricingDaily,
		BasePrice: 2000000, AdvanceType: models.AdvancePercentage, AdvanceValue: 30, IsActive: true,
	}
	m.products[noBankProductID] = &models.Product{
		ID: noBankProductID, VendorID: noBankID, Name: "PA system", PricingType: models.PricingDaily,
		BasePrice: 500000, AdvanceType: models.AdvanceFixed, AdvanceValue: 100000, IsActive: true,
	}
	m.products[sessionProductID] = &models.Product{
		ID: sessionProductID, VendorID: providerID, Name: "Photo session", PricingType: models.PricingSession,
		HourlyRate: 150000, AdvanceType: models.AdvanceFixed, AdvanceValue: 50000, IsActive: true,
	}

	m.coupons["FLAT1000"] = &models.Coupon{
		ID: 1, Code: "FLAT1000", DiscountType: models.DiscountFlat, Value: 100000, IsActive: true,
	}
	m.coupons["FREE"] = &models.Coupon{
		ID: 2, Code: "FREE", DiscountType: models.DiscountFlat, Value: 100000000, IsActive: true,
	}
}

func (f *fixture) request(caller models.CallerIdentity, productID int64, start, end, coupon string) *models.Booking {
	f.t.Helper()
	b, err := f.bookings.CreateBooking(context.Background(), caller, &CreateBookingRequest{
		ProductID:  productID,
		StartDate:  start,
		EndDate:    end,
		CouponCode: coupon,
	})
	require.NoError(f.t, err)
	return b
}

func (f *fixture) approved(start, end, coupon string) *models.Booking {
	f.t.Helper()
	b := f.request(requester, dailyProductID, start, end, coupon)
	b, err := f.bookings.Decide(context.Background(), provider, b.ID, DecisionApprove)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) advanceOrder(b *models.Booking) *OrderHandle {
	f.t.Helper()
	h, err := f.payments.CreateAdvanceOrder(context.Background(), requester, b.ID)
	require.NoError(f.t, err)
	return h
}

func (f *fixture) booking(id int64) *models.Booking {
	f.t.Helper()
	b, err := f.store.GetBookingByID(context.Background(), id)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) payment(orderID string) *models.Payment {
	f.t.Helper()
	p, err := f.store.GetPaymentByOrderID(context.Background(), orderID)
	require.NoError(f.t, err)
	return p
}

func clientSignature(orderID, paymentID string) string {
	return gateway.Sign(gateway.CheckoutPayload(orderID, paymentID), testKeySecret)
}

func webhookBody(t *testing.T, eventID, event, orderID, paymentID string, amount int64) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":    eventID,
		"event": event,
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":       paymentID,
					"order_id": orderID,
					"amount":   amount,
					"currency": "INR",
					"status":   "captured",
				},
			},
		},
	})
	require.NoError(t, err)
	return body, gateway.Sign(body, testWebhookSecret)
}
