package engine

import (
	"context"
	"testing"

	"agrilink/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) directBooking(t *testing.T) *models.Booking {
	t.Helper()
	req := baseRequest()
	req.ItemID = "t-1"
	b, err := f.eng.CreateBookingRequest(context.Background(), req)
	require.NoError(t, err)
	return b
}

func (f *fixture) confirmedBooking(t *testing.T) *models.Booking {
	t.Helper()
	b := f.directBooking(t)
	got, err := f.eng.AcceptBookingRequest(context.Background(), AcceptCommand{
		BookingID:  b.ID,
		SupplierID: "supplier-1",
	})
	require.NoError(t, err)
	return got
}

func TestRejectRebroadcasts(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "t-1", "supplier-1", 1500)

	b := f.directBooking(t)
	f.sink.reset()

	got, err := f.eng.RejectBooking(context.Background(), b.ID, "supplier-1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusSearching, got.Status)
	assert.Empty(t, got.SupplierID)
	assert.Empty(t, got.ItemID)
	assert.True(t, got.IsRebroadcast)

	notes := f.sink.byType("booking_rebroadcast")
	require.Len(t, notes, 1)
	assert.Equal(t, "farmer-1", notes[0].UserID)
	assert.Contains(t, notes[0].Message, "price may vary")
}

func TestRepeatedRejectionsAlertAdmins(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "t-1", "supplier-1", 1500)

	for i := 0; i < 3; i++ {
		b := f.directBooking(t)
		_, err := f.eng.RejectBooking(context.Background(), b.ID, "supplier-1")
		require.NoError(t, err)
	}

	alerts := f.sink.byType("supplier_rejections")
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AdminBroadcastID, alerts[0].UserID)
}

func TestRejectOnlyFromPendingConfirmation(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "t-1", "supplier-1", 1500)

	b := f.confirmedBooking(t)
	_, err := f.eng.RejectBooking(context.Background(), b.ID, "supplier-1")
	assert.True(t, IsKind(err, KindConflict))
}

func TestCancelRestoresItemCapacity(t *testing.T) {
	f := newFixture(t)
	seedLabourPool(t, f, "l-1", "supplier-1", 6)

	req := baseRequest()
	req.ItemCategory = models.CategoryLabour
	req.WorkPurpose = "weeding"
	req.Quantity = 6
	b, err := f.eng.CreateBookingRequest(context.Background(), req)
	require.NoError(t, err)

	confirmed, err := f.eng.AcceptBookingRequest(context.Background(), AcceptCommand{
		BookingID:  b.ID,
		SupplierID: "supplier-1",
		ItemID:     "l-1",
	})
	require.NoError(t, err)

	item, err := f.db.GetItem(context.Background(), "l-1")
	require.NoError(t, err)
	require.Zero(t, item.QuantityAvailable)

	got, err := f.eng.CancelBooking(context.Background(), confirmed.ID, "farmer")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, "farmer", got.CancelledBy)

	item, err = f.db.GetItem(context.Background(), "l-1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), item.QuantityAvailable)
	assert.True(t, item.Available)
}

func TestCancelParkedBookingRestoresItem(t *testing.T) {
	f := newFixture(t)
	seedSprayerPool(t, f, "s-1", "supplier-1", 2)
	ctx := context.Background()

	parked := f.parkedSprayerBooking(t)

	item, err := f.db.GetItem(ctx, "s-1")
	require.NoError(t, err)
	require.Zero(t, item.QuantityAvailable)

	got, err := f.eng.CancelBooking(ctx, parked.ID, "farmer")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)

	item, err = f.db.GetItem(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), item.QuantityAvailable)
	assert.True(t, item.Available)
}

func TestCancelIllegalOnceWorkStarted(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "t-1", "supplier-1", 1500)

	b := f.inProcessBooking(t)
	_, err := f.eng.CancelBooking(context.Background(), b.ID, "farmer")
	assert.True(t, IsKind(err, KindConflict))
}

func TestArrivalAndOTPFlow(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "t-1", "supplier-1", 1500)
	ctx := context.Background()

	b := f.confirmedBooking(t)
	f.sink.reset()

	arrived, err := f.eng.MarkAsArrived(ctx, b.ID, "supplier-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusArrived, arrived.Status)
	require.Len(t, arrived.OTPCode, models.OTPLength)

	notes := f.sink.byType("supplier_arrived")
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Message, arrived.OTPCode)

	// Wrong code burns an attempt each time.
	wrong := "000000"
	if wrong == arrived.OTPCode {
		wrong = "000001"
	}
	for i := 0; i < 4; i++ {
		_, err = f.eng.VerifyOTPAndStartWork(ctx, b.ID, wrong)
		assert.True(t, IsKind(err, KindValidation))
	}

	// Fifth miss voids the code entirely.
	_, err = f.eng.VerifyOTPAndStartWork(ctx, b.ID, wrong)
	assert.True(t, IsKind(err, KindValidation))
	require.Len(t, f.sink.byType("otp_locked"), 1)

	_, err = f.eng.VerifyOTPAndStartWork(ctx, b.ID, arrived.OTPCode)
	assert.True(t, IsKind(err, KindValidation), "voided code must not verify")

	reissued, err := f.eng.ReissueOTP(ctx, b.ID, "supplier-1")
	require.NoError(t, err)
	require.Len(t, reissued.OTPCode, models.OTPLength)

	started, err := f.eng.VerifyOTPAndStartWork(ctx, b.ID, reissued.OTPCode)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProcess, started.Status)
	assert.True(t, started.OTPVerified)
	assert.Equal(t, f.clock.Now(), started.WorkStartTime)
}

func TestMarkAsArrivedOwnership(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "t-1", "supplier-1", 1500)

	b := f.confirmedBooking(t)
	_, err := f.eng.MarkAsArrived(context.Background(), b.ID, "supplier-2")
	assert.True(t, IsKind(err, KindValidation))
}

func (f *fixture) inProcessBooking(t *testing.T) *models.Booking {
	t.Helper()
	ctx := context.Background()
	b := f.confirmedBooking(t)
	arrived, err := f.eng.MarkAsArrived(ctx, b.ID, "supplier-1")
	require.NoError(t, err)
	started, err := f.eng.VerifyOTPAndStartWork(ctx, b.ID, arrived.OTPCode)
	require.NoError(t, err)
	return started
}

func TestCompleteFullyPrepaidSettlesImmediately(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "t-1", "supplier-1", 1500)
	ctx := context.Background()

	b := f.inProcessBooking(t)
	require.NoError(t, f.db.UpdateBookingFields(ctx, b.ID, map[string]any{
		"advance_paid": int64(4500),
	}))

	got, err := f.eng.CompleteBooking(ctx, b.ID, "supplier")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.Payment)
	assert.Equal(t, "advance", got.Payment.Method)
	assert.Equal(t, int64(4500), got.Payment.FarmerAmount)
	assert.Equal(t, int64(4500), got.Payment.SupplierAmount) // zero commission
}

func TestCompleteThenFinalPayment(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "t-1", "supplier-1", 1500)
	ctx := context.Background()

	b := f.inProcessBooking(t)
	f.sink.reset()

	done, err := f.eng.CompleteBooking(ctx, b.ID, "supplier")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingPayment, done.Status)
	require.Len(t, f.sink.byType("payment_due"), 1)

	paid, err := f.eng.MakeFinalPayment(ctx, b.ID, "cash")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, paid.Status)
	require.NotNil(t, paid.Payment)
	assert.Equal(t, "cash", paid.Payment.Method)
	assert.NotEmpty(t, paid.Payment.Reference)
	assert.Equal(t, int64(4500), paid.FinalPrice)
}

func TestPaymentSpikeAlertsAdmins(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "t-1", "supplier-1", 1500)
	f.eng.cfg.PaymentSpikeThreshold = 2
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		b := f.inProcessBooking(t)
		_, err := f.eng.CompleteBooking(ctx, b.ID, "supplier")
		require.NoError(t, err)
		_, err = f.eng.MakeFinalPayment(ctx, b.ID, "upi")
		require.NoError(t, err)
	}

	alerts := f.sink.byType("payment_spike")
	require.NotEmpty(t, alerts)
	assert.Equal(t, models.PriorityCritical, alerts[0].Priority)
	assert.Equal(t, models.AdminBroadcastID, alerts[0].UserID)
}

func TestDisputeLifecycle(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "t-1", "supplier-1", 1500)
	ctx := context.Background()

	b := f.confirmedBooking(t)

	got, err := f.eng.RaiseDispute(ctx, b.ID, "farmer", "work not finished")
	require.NoError(t, err)
	assert.True(t, got.DisputeRaised)
	require.Len(t, f.sink.byType("dispute"), 1)

	_, err = f.eng.RaiseDispute(ctx, b.ID, "farmer", "again")
	assert.True(t, IsKind(err, KindConflict))

	got, err = f.eng.ResolveDispute(ctx, b.ID, "partial refund agreed")
	require.NoError(t, err)
	assert.True(t, got.DisputeResolved)

	_, err = f.eng.ResolveDispute(ctx, b.ID, "nothing open")
	assert.True(t, IsKind(err, KindConflict))
}

func TestReportDamage(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "t-1", "supplier-1", 1500)
	ctx := context.Background()

	b := f.confirmedBooking(t)
	// No on-site work yet.
	_, err := f.eng.ReportDamage(ctx, b.ID, "supplier", "broken blade")
	assert.True(t, IsKind(err, KindConflict))

	// Free the machine so the next flow gets a real direct request.
	_, err = f.eng.CancelBooking(ctx, b.ID, "farmer")
	require.NoError(t, err)

	started := f.inProcessBooking(t)
	got, err := f.eng.ReportDamage(ctx, started.ID, "supplier", "broken blade")
	require.NoError(t, err)
	assert.True(t, got.DamageReported)
	require.Len(t, f.sink.byType("damage"), 1)
}

func TestSubmitReview(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "t-1", "supplier-1", 1500)
	ctx := context.Background()

	b := f.inProcessBooking(t)

	_, err := f.eng.SubmitReview(ctx, b.ID, "farmer-1", 5, "great work")
	assert.True(t, IsKind(err, KindConflict), "review before completion")

	_, err = f.eng.CompleteBooking(ctx, b.ID, "supplier")
	require.NoError(t, err)
	_, err = f.eng.MakeFinalPayment(ctx, b.ID, "cash")
	require.NoError(t, err)

	_, err = f.eng.SubmitReview(ctx, b.ID, "farmer-1", 6, "")
	assert.True(t, IsKind(err, KindValidation))
	_, err = f.eng.SubmitReview(ctx, b.ID, "farmer-2", 5, "")
	assert.True(t, IsKind(err, KindValidation))

	review, err := f.eng.SubmitReview(ctx, b.ID, "farmer-1", 5, "great work")
	require.NoError(t, err)
	assert.Equal(t, "supplier-1", review.SupplierID)

	stored, err := f.db.GetReviewsBySupplier(ctx, "supplier-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, int64(5), stored[0].Rating)
}

func TestForceCompleteAndExpire(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "t-1", "supplier-1", 1500)
	ctx := context.Background()

	b := f.confirmedBooking(t)
	got, err := f.eng.ForceComplete(ctx, b.ID, "long past end")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Nil(t, got.Payment)

	_, err = f.eng.ExpireBooking(ctx, b.ID, "already closed")
	assert.True(t, IsKind(err, KindConflict))

	open, err := f.eng.CreateBookingRequest(ctx, baseRequest())
	require.NoError(t, err)
	expired, err := f.eng.ExpireBooking(ctx, open.ID, "no supplier found")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, expired.Status)
	assert.Equal(t, "system", expired.CancelledBy)
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to models.BookingStatus }{
		{models.StatusSearching, models.StatusConfirmed},
		{models.StatusSearching, models.StatusAwaitingOperator},
		{models.StatusSearching, models.StatusExpired},
		{models.StatusPendingConfirmation, models.StatusSearching},
		{models.StatusConfirmed, models.StatusArrived},
		{models.StatusConfirmed, models.StatusCompleted},
		{models.StatusArrived, models.StatusInProcess},
		{models.StatusInProcess, models.StatusPendingPayment},
		{models.StatusPendingPayment, models.StatusCompleted},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to models.BookingStatus }{
		{models.StatusSearching, models.StatusInProcess},
		{models.StatusInProcess, models.StatusCancelled},
		{models.StatusPendingPayment, models.StatusCancelled},
		{models.StatusCompleted, models.StatusSearching},
		{models.StatusCancelled, models.StatusConfirmed},
		{models.StatusExpired, models.StatusSearching},
	}
	for _, tc := range denied {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	// Work that has begun can only move forward.
	assert.False(t, CanTransition(models.StatusInProcess, models.StatusExpired))
}

func TestVerifyOTPAttemptsPersist(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "t-1", "supplier-1", 1500)
	ctx := context.Background()

	b := f.confirmedBooking(t)
	arrived, err := f.eng.MarkAsArrived(ctx, b.ID, "supplier-1")
	require.NoError(t, err)

	wrong := "999999"
	if wrong == arrived.OTPCode {
		wrong = "999998"
	}
	_, err = f.eng.VerifyOTPAndStartWork(ctx, b.ID, wrong)
	require.Error(t, err)

	stored, err := f.db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.OTPAttempts)
	assert.Equal(t, models.StatusArrived, stored.Status)
}
