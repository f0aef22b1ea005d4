package engine

import (
	"context"
	"testing"

	"agrilink/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptDirectConfirms(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "t-1", "supplier-1", 1500)

	req := baseRequest()
	req.ItemID = "t-1"
	b, err := f.eng.CreateBookingRequest(context.Background(), req)
	require.NoError(t, err)
	f.sink.reset()

	got, err := f.eng.AcceptBookingRequest(context.Background(), AcceptCommand{
		BookingID:  b.ID,
		SupplierID: "supplier-1",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, int64(4500), got.FinalPrice)
	assert.Equal(t, int64(0), got.DistanceCharge)

	// The indivisible machine is now held by the booking.
	item, err := f.db.GetItem(context.Background(), "t-1")
	require.NoError(t, err)
	assert.False(t, item.Available)

	notes := f.sink.byType("booking_confirmed")
	require.Len(t, notes, 1)
	assert.Equal(t, "farmer-1", notes[0].UserID)
}

func TestAcceptDirectWrongSupplier(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "t-1", "supplier-1", 1500)

	req := baseRequest()
	req.ItemID = "t-1"
	b, err := f.eng.CreateBookingRequest(context.Background(), req)
	require.NoError(t, err)

	_, err = f.eng.AcceptBookingRequest(context.Background(), AcceptCommand{
		BookingID:  b.ID,
		SupplierID: "supplier-2",
	})
	assert.True(t, IsKind(err, KindValidation))
}

func TestAcceptBroadcastFirstWins(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "t-1", "supplier-1", 1500)
	f.seedItem(t, "t-2", "supplier-2", 1200)

	b, err := f.eng.CreateBookingRequest(context.Background(), baseRequest())
	require.NoError(t, err)

	first, err := f.eng.AcceptBookingRequest(context.Background(), AcceptCommand{
		BookingID:  b.ID,
		SupplierID: "supplier-1",
		ItemID:     "t-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, first.Status)
	assert.Equal(t, "supplier-1", first.SupplierID)

	// The second supplier arrives too late and must refresh.
	_, err = f.eng.AcceptBookingRequest(context.Background(), AcceptCommand{
		BookingID:  b.ID,
		SupplierID: "supplier-2",
		ItemID:     "t-2",
	})
	assert.True(t, IsKind(err, KindConflict), "got %v", err)
}

func TestAcceptBroadcastForeignItem(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "t-1", "supplier-1", 1500)

	b, err := f.eng.CreateBookingRequest(context.Background(), baseRequest())
	require.NoError(t, err)

	_, err = f.eng.AcceptBookingRequest(context.Background(), AcceptCommand{
		BookingID:  b.ID,
		SupplierID: "supplier-2",
		ItemID:     "t-1",
	})
	assert.True(t, IsKind(err, KindValidation))
}

func seedLabourPool(t *testing.T, f *fixture, id, supplierID string, headcount int64) {
	t.Helper()
	require.NoError(t, f.db.CreateItem(context.Background(), &models.Item{
		ID:                id,
		SupplierID:        supplierID,
		Name:              id,
		Category:          models.CategoryLabour,
		PurposeRates:      map[string]int64{"weeding": 100},
		IsActive:          true,
		Available:         true,
		QuantityAvailable: headcount,
	}))
}

func TestAcceptPartialSplitsBooking(t *testing.T) {
	f := newFixture(t)
	seedLabourPool(t, f, "l-1", "supplier-1", 6)

	req := baseRequest()
	req.ItemCategory = models.CategoryLabour
	req.WorkPurpose = "weeding"
	req.Quantity = 10
	req.AllowMultipleSuppliers = true
	b, err := f.eng.CreateBookingRequest(context.Background(), req)
	require.NoError(t, err)

	part, err := f.eng.AcceptBookingRequest(context.Background(), AcceptCommand{
		BookingID:  b.ID,
		SupplierID: "supplier-1",
		ItemID:     "l-1",
	})
	require.NoError(t, err)

	// Six workers confirmed under a new booking, the original keeps its ID
	// and stays in search for the remaining four.
	assert.NotEqual(t, b.ID, part.ID)
	assert.Equal(t, models.StatusConfirmed, part.Status)
	assert.Equal(t, int64(6), part.Quantity)
	assert.Equal(t, int64(1800), part.FinalPrice) // 100 x 6 x 3h

	rest, err := f.db.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSearching, rest.Status)
	assert.Equal(t, int64(4), rest.Quantity)

	item, err := f.db.GetItem(context.Background(), "l-1")
	require.NoError(t, err)
	assert.Zero(t, item.QuantityAvailable)
	assert.False(t, item.Available)
}

func TestAcceptPartialNeedsMultiSupplierFlag(t *testing.T) {
	f := newFixture(t)
	seedLabourPool(t, f, "l-1", "supplier-1", 6)

	req := baseRequest()
	req.ItemCategory = models.CategoryLabour
	req.WorkPurpose = "weeding"
	req.Quantity = 10
	b, err := f.eng.CreateBookingRequest(context.Background(), req)
	require.NoError(t, err)

	_, err = f.eng.AcceptBookingRequest(context.Background(), AcceptCommand{
		BookingID:  b.ID,
		SupplierID: "supplier-1",
		ItemID:     "l-1",
	})
	assert.True(t, IsKind(err, KindCapacity), "got %v", err)
}

func TestAcceptDailyHourCap(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "t-1", "supplier-1", 1500)
	f.seedSupplier(t, "supplier-1", models.RoleSupplier)

	// Ten booked hours already on the machine for that date.
	busy := baseRequest()
	existing := &models.Booking{
		ID:                "busy-1",
		FarmerID:          "farmer-2",
		SupplierID:        "supplier-1",
		ItemID:            "t-1",
		ItemCategory:      models.CategoryTractor,
		WorkPurpose:       "ploughing",
		Quantity:          1,
		Date:              busy.Date,
		StartTime:         "05:00",
		EstimatedDuration: 10,
		Location:          busy.Location,
		Status:            models.StatusConfirmed,
	}
	require.NoError(t, f.db.CreateBooking(context.Background(), existing))

	b, err := f.eng.CreateBookingRequest(context.Background(), baseRequest())
	require.NoError(t, err)

	_, err = f.eng.AcceptBookingRequest(context.Background(), AcceptCommand{
		BookingID:  b.ID,
		SupplierID: "supplier-1",
		ItemID:     "t-1",
	})
	assert.True(t, IsKind(err, KindCapacity), "got %v", err)
}

func TestAcceptDailyHourCapAgentExempt(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "t-1", "agent-1", 1500)
	f.seedSupplier(t, "agent-1", models.RoleAgent)

	req := baseRequest()
	existing := &models.Booking{
		ID:                "busy-1",
		FarmerID:          "farmer-2",
		SupplierID:        "agent-1",
		ItemID:            "t-1",
		ItemCategory:      models.CategoryTractor,
		WorkPurpose:       "ploughing",
		Quantity:          1,
		Date:              req.Date,
		StartTime:         "05:00",
		EstimatedDuration: 10,
		Location:          req.Location,
		Status:            models.StatusConfirmed,
	}
	require.NoError(t, f.db.CreateBooking(context.Background(), existing))

	b, err := f.eng.CreateBookingRequest(context.Background(), baseRequest())
	require.NoError(t, err)

	got, err := f.eng.AcceptBookingRequest(context.Background(), AcceptCommand{
		BookingID:  b.ID,
		SupplierID: "agent-1",
		ItemID:     "t-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
}

func TestAcceptMachineThenOperator(t *testing.T) {
	f := newFixture(t)
	f.seedItem(t, "t-1", "supplier-1", 1500)
	require.NoError(t, f.db.CreateItem(context.Background(), &models.Item{
		ID:           "op-1",
		SupplierID:   "op-user",
		Name:         "op-1",
		Category:     models.CategoryOperator,
		PurposeRates: map[string]int64{},
		OperatorRate: 300,
		IsActive:     true,
		Available:    true,
	}))
	f.seedSupplier(t, "op-user", models.RoleOperator)

	req := baseRequest()
	req.OperatorRequired = true
	b, err := f.eng.CreateBookingRequest(context.Background(), req)
	require.NoError(t, err)

	parked, err := f.eng.AcceptBookingRequest(context.Background(), AcceptCommand{
		BookingID:        b.ID,
		SupplierID:       "supplier-1",
		ItemID:           "t-1",
		DeclineToOperate: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingOperator, parked.Status)
	assert.Equal(t, int64(4500), parked.FinalPrice) // machine only
	require.Len(t, f.sink.byType("operator_needed"), 1)

	confirmed, err := f.eng.AcceptBookingRequest(context.Background(), AcceptCommand{
		BookingID:  b.ID,
		SupplierID: "op-user",
		ItemID:     "op-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, confirmed.Status)
	assert.Equal(t, "op-user", confirmed.OperatorID)
	assert.Equal(t, int64(5400), confirmed.FinalPrice) // + 300 x 3h
}

func seedSprayerPool(t *testing.T, f *fixture, id, supplierID string, units int64) {
	t.Helper()
	require.NoError(t, f.db.CreateItem(context.Background(), &models.Item{
		ID:                id,
		SupplierID:        supplierID,
		Name:              id,
		Category:          models.CategorySprayer,
		PurposeRates:      map[string]int64{"spraying": 200},
		OperatorRate:      250,
		IsActive:          true,
		Available:         true,
		QuantityAvailable: units,
	}))
}

func (f *fixture) parkedSprayerBooking(t *testing.T) *models.Booking {
	t.Helper()
	req := baseRequest()
	req.ItemCategory = models.CategorySprayer
	req.WorkPurpose = "spraying"
	req.Quantity = 2
	req.OperatorRequired = true
	b, err := f.eng.CreateBookingRequest(context.Background(), req)
	require.NoError(t, err)

	parked, err := f.eng.AcceptBookingRequest(context.Background(), AcceptCommand{
		BookingID:        b.ID,
		SupplierID:       "supplier-1",
		ItemID:           "s-1",
		DeclineToOperate: true,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusAwaitingOperator, parked.Status)
	return parked
}

func TestParkedBookingHoldsItemUnits(t *testing.T) {
	f := newFixture(t)
	seedSprayerPool(t, f, "s-1", "supplier-1", 2)
	require.NoError(t, f.db.CreateItem(context.Background(), &models.Item{
		ID:           "op-1",
		SupplierID:   "op-user",
		Name:         "op-1",
		Category:     models.CategoryOperator,
		PurposeRates: map[string]int64{},
		OperatorRate: 300,
		IsActive:     true,
		Available:    true,
	}))
	f.seedSupplier(t, "op-user", models.RoleOperator)
	ctx := context.Background()

	parked := f.parkedSprayerBooking(t)

	// The machine is held from the moment it is parked.
	item, err := f.db.GetItem(ctx, "s-1")
	require.NoError(t, err)
	assert.Zero(t, item.QuantityAvailable)
	assert.False(t, item.Available)

	confirmed, err := f.eng.AcceptBookingRequest(ctx, AcceptCommand{
		BookingID:  parked.ID,
		SupplierID: "op-user",
		ItemID:     "op-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, confirmed.Status)

	// The operator joining does not touch the machine's pool.
	item, err = f.db.GetItem(ctx, "s-1")
	require.NoError(t, err)
	assert.Zero(t, item.QuantityAvailable)
	assert.False(t, item.Available)

	// Cancelling gives the two units back exactly once.
	_, err = f.eng.CancelBooking(ctx, confirmed.ID, "farmer")
	require.NoError(t, err)
	item, err = f.db.GetItem(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), item.QuantityAvailable)
	assert.True(t, item.Available)
}
