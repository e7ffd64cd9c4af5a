package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"booking-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreateBooking(t *testing.T) {
	f := newFixture(t)

	b := f.request(requester, dailyProductID, "2026-11-10", "2026-11-10", "FLAT1000")

	assert.Equal(t, models.BookingStatusRequested, b.Status)
	assert.Equal(t, models.BookingTypeSingleDay, b.BookingType)
	assert.True(t, strings.HasPrefix(b.Reference, "BK"))
	assert.Len(t, b.Reference, 18)
	assert.Equal(t, int64(1900000), b.FinalAmount)
	assert.Equal(t, b.FinalAmount, b.RemainingAmount)
	assert.Equal(t, testNow.Add(8*time.Hour), b.ApprovalExpiresAt.Time)
	assert.Equal(t, 1, f.notifier.sent(models.NotifyBookingRequested, "provider@example.com"))
}

func TestCreateBookingRejects(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		caller  models.CallerIdentity
		req     CreateBookingRequest
		wantErr error
	}{
		{
			name:    "self booking",
			caller:  provider,
			req:     CreateBookingRequest{ProductID: dailyProductID, StartDate: "2026-11-10", EndDate: "2026-11-10"},
			wantErr: ErrForbidden,
		},
		{
			name:    "start after end",
			caller:  requester,
			req:     CreateBookingRequest{ProductID: dailyProductID, StartDate: "2026-11-12", EndDate: "2026-11-10"},
			wantErr: ErrValidation,
		},
		{
			name:    "range longer than a year",
			caller:  requester,
			req:     CreateBookingRequest{ProductID: dailyProductID, StartDate: "0001-01-01", EndDate: "2500-01-01"},
			wantErr: ErrValidation,
		},
		{
			name:    "malformed date",
			caller:  requester,
			req:     CreateBookingRequest{ProductID: dailyProductID, StartDate: "10/11/2026", EndDate: "2026-11-10"},
			wantErr: ErrValidation,
		},
		{
			name:    "session without times",
			caller:  requester,
			req:     CreateBookingRequest{ProductID: sessionProductID, StartDate: "2026-11-10", EndDate: "2026-11-10"},
			wantErr: ErrValidation,
		},
		{
			name:    "unknown coupon",
			caller:  requester,
			req:     CreateBookingRequest{ProductID: dailyProductID, StartDate: "2026-11-10", EndDate: "2026-11-10", CouponCode: "NOPE"},
			wantErr: ErrValidation,
		},
		{
			name:    "notes too long",
			caller:  requester,
			req:     CreateBookingRequest{ProductID: dailyProductID, StartDate: "2026-11-10", EndDate: "2026-11-10", Notes: strings.Repeat("word ", 51)},
			wantErr: ErrValidation,
		},
		{
			name:    "unknown product",
			caller:  requester,
			req:     CreateBookingRequest{ProductID: 404, StartDate: "2026-11-10", EndDate: "2026-11-10"},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.bookings.CreateBooking(ctx, tt.caller, &tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.store.bookings)
		})
	}
}

func TestCreateBookingSession(t *testing.T) {
	f := newFixture(t)

	b, err := f.bookings.CreateBooking(context.Background(), requester, &CreateBookingRequest{
		ProductID: sessionProductID,
		StartDate: "2026-11-10",
		EndDate:   "2026-11-10",
		StartTime: "10:00",
		EndTime:   "12:00",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(300000), b.FinalAmount)
	assert.Equal(t, "10:00", b.StartTime.String)
}

func TestCreateBookingOverlapReportsEarliestEnd(t *testing.T) {
	f := newFixture(t)
	f.request(requester, dailyProductID, "2026-11-10", "2026-11-12", "")

	_, err := f.bookings.CreateBooking(context.Background(), other, &CreateBookingRequest{
		ProductID: dailyProductID, StartDate: "2026-11-11", EndDate: "2026-11-13",
	})

	var rc *RangeConflictError
	require.True(t, errors.As(err, &rc))
	assert.Equal(t, day("2026-11-12"), rc.ConflictUntil)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCreateBookingAdjacentRangesDoNotOverlap(t *testing.T) {
	f := newFixture(t)
	f.request(requester, dailyProductID, "2026-11-10", "2026-11-12", "")

	b := f.request(other, dailyProductID, "2026-11-13", "2026-11-14", "")
	assert.Equal(t, models.BookingTypeMultiDay, b.BookingType)
	assert.Equal(t, 2, b.TotalDays)
}

func TestCreateBookingHonoursCalendarBlocks(t *testing.T) {
	f := newFixture(t)
	f.store.blocks[1] = &models.CalendarBlock{ID: 1, VendorID: providerID, StartDate: day("2026-11-20"), EndDate: day("2026-11-22")}

	_, err := f.bookings.CreateBooking(context.Background(), requester, &CreateBookingRequest{
		ProductID: dailyProductID, StartDate: "2026-11-21", EndDate: "2026-11-21",
	})

	var rc *RangeConflictError
	require.True(t, errors.As(err, &rc))
	assert.Equal(t, day("2026-11-22"), rc.ConflictUntil)
}

func TestCreateBookingRejectsStacking(t *testing.T) {
	f := newFixture(t)
	f.request(requester, dailyProductID, "2026-11-10", "2026-11-10", "")

	_, err := f.bookings.CreateBooking(context.Background(), requester, &CreateBookingRequest{
		ProductID: dailyProductID, StartDate: "2026-12-01", EndDate: "2026-12-01",
	})
	assert.ErrorIs(t, err, ErrActiveBooking)
}

func TestCreateBookingAfterRejectionFreesRange(t *testing.T) {
	f := newFixture(t)
	b := f.request(requester, dailyProductID, "2026-11-10", "2026-11-10", "")

	_, err := f.bookings.Decide(context.Background(), provider, b.ID, DecisionReject)
	require.NoError(t, err)

	again := f.request(requester, dailyProductID, "2026-11-10", "2026-11-10", "")
	assert.NotEqual(t, b.ID, again.ID)
}

func TestAvailability(t *testing.T) {
	f := newFixture(t)
	f.request(requester, dailyProductID, "2026-11-10", "2026-11-12", "")

	a, err := f.bookings.Availability(context.Background(), dailyProductID, "2026-11-12", "2026-11-15")
	require.NoError(t, err)
	assert.False(t, a.Available)
	require.NotNil(t, a.ConflictUntil)
	assert.Equal(t, day("2026-11-12"), *a.ConflictUntil)

	a, err = f.bookings.Availability(context.Background(), dailyProductID, "2026-11-13", "2026-11-15")
	require.NoError(t, err)
	assert.True(t, a.Available)
	assert.Nil(t, a.ConflictUntil)

	_, err = f.bookings.Availability(context.Background(), dailyProductID, "2026-11-15", "2026-11-13")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDecideApproveFreezesAmounts(t *testing.T) {
	f := newFixture(t)

	b := f.approved("2026-11-10", "2026-11-10", "FLAT1000")

	assert.Equal(t, models.BookingStatusPaymentPending, b.Status)
	assert.Equal(t, int64(570000), b.AdvanceAmount)
	assert.Equal(t, int64(1330000), b.RemainingAmount)
	assert.False(t, b.ApprovalExpiresAt.Valid)
	assert.Equal(t, testNow.Add(48*time.Hour), b.PaymentDueAt.Time)
	assert.Equal(t, 1, f.notifier.sent(models.NotifyBookingApproved, "requester@example.com"))
}

func TestDecideReject(t *testing.T) {
	f := newFixture(t)
	b := f.request(requester, dailyProductID, "2026-11-10", "2026-11-10", "")

	got, err := f.bookings.Decide(context.Background(), provider, b.ID, DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusRejected, got.Status)
	assert.Equal(t, 1, f.notifier.sent(models.NotifyBookingRejected, "requester@example.com"))

	_, err = f.bookings.Decide(context.Background(), provider, b.ID, DecisionApprove)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestDecideGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("only the provider decides", func(t *testing.T) {
		f := newFixture(t)
		b := f.request(requester, dailyProductID, "2026-11-10", "2026-11-10", "")
		_, err := f.bookings.Decide(ctx, requester, b.ID, DecisionApprove)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("unknown decision", func(t *testing.T) {
		f := newFixture(t)
		b := f.request(requester, dailyProductID, "2026-11-10", "2026-11-10", "")
		_, err := f.bookings.Decide(ctx, provider, b.ID, "MAYBE")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("approval needs bank details", func(t *testing.T) {
		f := newFixture(t)
		b := f.request(requester, noBankProductID, "2026-11-10", "2026-11-10", "")
		_, err := f.bookings.Decide(ctx, models.CallerIdentity{VendorID: noBankID}, b.ID, DecisionApprove)
		assert.ErrorIs(t, err, ErrBankDetailsMissing)
		assert.Equal(t, models.BookingStatusRequested, f.booking(b.ID).Status)
	})

	t.Run("missing booking", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.bookings.Decide(ctx, provider, 404, DecisionApprove)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDecideAfterApprovalWindow(t *testing.T) {
	f := newFixture(t)
	b := f.request(requester, dailyProductID, "2026-11-10", "2026-11-10", "")

	f.now = testNow.Add(8*time.Hour + time.Minute)

	_, err := f.bookings.Decide(context.Background(), provider, b.ID, DecisionApprove)
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, models.BookingStatusExpired, f.booking(b.ID).Status)
	assert.Equal(t, 1, f.notifier.sent(models.NotifyBookingExpired, "requester@example.com"))

	_, err = f.bookings.Decide(context.Background(), provider, b.ID, DecisionReject)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestDecideConcurrentExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	b := f.request(requester, dailyProductID, "2026-11-10", "2026-11-10", "")

	const attempts = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		winners []string
	)
	for i := 0; i < attempts; i++ {
		decision := DecisionApprove
		if i%2 == 1 {
			decision = DecisionReject
		}
		wg.Add(1)
		go func(decision string) {
			defer wg.Done()
			got, err := f.bookings.Decide(context.Background(), provider, b.ID, decision)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				winners = append(winners, got.Status)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidState)
		}(decision)
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	assert.Equal(t, winners[0], f.booking(b.ID).Status)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("requester cancels a request", func(t *testing.T) {
		f := newFixture(t)
		b := f.request(requester, dailyProductID, "2026-11-10", "2026-11-10", "")

		got, err := f.bookings.Cancel(ctx, requester, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BookingStatusCancelled, got.Status)
		assert.Equal(t, 1, f.notifier.sent(models.NotifyBookingCancelled, "provider@example.com"))
	})

	t.Run("provider cancel fails the open order", func(t *testing.T) {
		f := newFixture(t)
		b := f.approved("2026-11-10", "2026-11-10", "")
		h := f.advanceOrder(b)

		_, err := f.bookings.Cancel(ctx, provider, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusFailed, f.payment(h.OrderID).Status)
		assert.Equal(t, 1, f.notifier.sent(models.NotifyBookingCancelled, "requester@example.com"))
	})

	t.Run("stranger cannot cancel", func(t *testing.T) {
		f := newFixture(t)
		b := f.request(requester, dailyProductID, "2026-11-10", "2026-11-10", "")
		_, err := f.bookings.Cancel(ctx, other, b.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("confirmed bookings stay", func(t *testing.T) {
		f := newFixture(t)
		b := f.approved("2026-11-10", "2026-11-10", "")
		h := f.advanceOrder(b)
		_, err := f.recon.VerifyClientPayment(ctx, requester, &VerifyPaymentRequest{
			OrderID: h.OrderID, PaymentID: "pay_1", Signature: clientSignature(h.OrderID, "pay_1"),
		})
		require.NoError(t, err)

		_, err = f.bookings.Cancel(ctx, requester, b.ID)
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestExpirySweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lapsed := f.request(requester, dailyProductID, "2026-11-10", "2026-11-10", "")
	unpaid := f.request(other, dailyProductID, "2026-11-20", "2026-11-20", "")
	_, err := f.bookings.Decide(ctx, provider, unpaid.ID, DecisionApprove)
	require.NoError(t, err)

	f.store.bookings[900] = &models.Booking{
		ID: 900, Reference: "BKSETTLED", VendorID: providerID, BookedByVendorID: noBankID,
		VendorProductID: dailyProductID, StartDate: day("2026-10-01"), EndDate: day("2026-10-02"),
		FinalAmount: 100000, AdvanceAmount: 100000, RemainingAmount: 0,
		Status: models.BookingStatusConfirmed,
	}

	f.now = testNow.Add(49 * time.Hour)
	res, err := f.bookings.ExpirySweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.ExpiredRequests)
	assert.Equal(t, 1, res.ExpiredUnpaid)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, models.BookingStatusExpired, f.booking(lapsed.ID).Status)
	assert.Equal(t, models.BookingStatusExpired, f.booking(unpaid.ID).Status)
	assert.Equal(t, models.BookingStatusCompleted, f.booking(900).Status)

	res, err = f.bookings.ExpirySweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, &SweepResult{}, res)
}

func TestExpirySweepSparesBookingsWithOpenOrder(t *testing.T) {
	f := newFixture(t)
	b := f.approved("2026-11-10", "2026-11-10", "")
	h := f.advanceOrder(b)

	f.now = testNow.Add(48*time.Hour + 30*time.Minute)
	res, err := f.bookings.ExpirySweep(context.Background())
	require.NoError(t, err)

	assert.Zero(t, res.ExpiredUnpaid)
	assert.Equal(t, models.BookingStatusPaymentPending, f.booking(b.ID).Status)
	assert.Equal(t, models.PaymentStatusCreated, f.payment(h.OrderID).Status)
}

func TestExpirySweepReleasesAbandonedCheckout(t *testing.T) {
	f := newFixture(t)
	b := f.approved("2026-11-10", "2026-11-10", "")
	h := f.advanceOrder(b)

	f.now = testNow.Add(50 * time.Hour)
	res, err := f.bookings.ExpirySweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.ExpiredUnpaid)
	assert.Equal(t, models.BookingStatusExpired, f.booking(b.ID).Status)
	abandoned := f.payment(h.OrderID)
	assert.Equal(t, models.PaymentStatusFailed, abandoned.Status)
	assert.Equal(t, "checkout abandoned", abandoned.FailureReason.String)
}

func TestGetBookingByReference(t *testing.T) {
	f := newFixture(t)
	b := f.request(requester, dailyProductID, "2026-11-10", "2026-11-10", "")
	ctx := context.Background()

	for _, caller := range []models.CallerIdentity{requester, provider, admin} {
		got, err := f.bookings.GetBookingByReference(ctx, caller, b.Reference)
		require.NoError(t, err)
		assert.Equal(t, b.ID, got.ID)
	}

	_, err := f.bookings.GetBookingByReference(ctx, other, b.Reference)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.bookings.GetBookingByReference(ctx, requester, "BKMISSING")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListBookings(t *testing.T) {
	f := newFixture(t)
	f.request(requester, dailyProductID, "2026-11-10", "2026-11-10", "")
	f.request(other, dailyProductID, "2026-11-12", "2026-11-12", "")

	mine, err := f.bookings.ListBookings(context.Background(), requester, 0, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	theirs, err := f.bookings.ListBookings(context.Background(), provider, 10, 0)
	require.NoError(t, err)
	assert.Len(t, theirs, 2)
}

func TestNotificationFailureDoesNotFailBooking(t *testing.T) {
	f := newFixture(t)
	f.notifier.ExpectedCalls = nil
	f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	b := f.request(requester, dailyProductID, "2026-11-10", "2026-11-10", "")
	assert.Equal(t, models.BookingStatusRequested, b.Status)
}
