package database

import (
	"context"
	"testing"
	"time"

	"agrilink/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	return db
}

func testBooking(id string) *models.Booking {
	return &models.Booking{
		ID:                id,
		FarmerID:          "farmer-1",
		ItemCategory:      models.CategoryTractor,
		WorkPurpose:       "ploughing",
		Quantity:          1,
		Date:              time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC),
		StartTime:         "09:00",
		EstimatedDuration: 3,
		Location:          models.GeoPoint{Lat: 12.97, Lng: 77.59},
		Status:            models.StatusSearching,
	}
}

func TestBookingRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	b := testBooking("b-1")
	require.NoError(t, db.CreateBooking(ctx, b))
	assert.Equal(t, int64(1), b.Version)

	got, err := db.GetBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, b.FarmerID, got.FarmerID)
	assert.Equal(t, models.StatusSearching, got.Status)
	assert.Equal(t, "09:00", got.StartTime)
	assert.Equal(t, b.Date.Format("2006-01-02"), got.Date.Format("2006-01-02"))
	assert.InDelta(t, 12.97, got.Location.Lat, 1e-9)

	_, err = db.GetBooking(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVersionedStatusUpdate(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	b := testBooking("b-cas")
	require.NoError(t, db.CreateBooking(ctx, b))

	err := db.UpdateBookingStatusWithVersion(ctx, b.ID, 1, models.StatusConfirmed, map[string]any{
		"supplier_id": "supplier-1",
		"final_price": int64(4500),
	})
	require.NoError(t, err)

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, "supplier-1", got.SupplierID)
	assert.Equal(t, int64(4500), got.FinalPrice)
	assert.Equal(t, int64(2), got.Version)

	// A writer holding the old version loses.
	err = db.UpdateBookingStatusWithVersion(ctx, b.ID, 1, models.StatusCancelled, nil)
	assert.ErrorIs(t, err, ErrConcurrentModification)

	got, err = db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
}

func TestUpdateBookingFieldsWhitelist(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	b := testBooking("b-fields")
	require.NoError(t, db.CreateBooking(ctx, b))

	// Status must go through the versioned update, never a field merge.
	err := db.UpdateBookingFields(ctx, b.ID, map[string]any{"status": "completed"})
	require.Error(t, err)

	require.NoError(t, db.UpdateBookingFields(ctx, b.ID, map[string]any{
		"late_start":        true,
		"admin_alert_count": int64(2),
	}))
	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.LateStart)
	assert.Equal(t, int64(2), got.AdminAlertCount)
	// Field merges never bump the version.
	assert.Equal(t, int64(1), got.Version)

	err = db.UpdateBookingFields(ctx, "missing", map[string]any{"late_start": true})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSumActiveHours(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	date := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)

	mk := func(id string, status models.BookingStatus, hours float64, d time.Time) {
		b := testBooking(id)
		b.SupplierID = "supplier-1"
		b.ItemID = "item-1"
		b.Status = status
		b.EstimatedDuration = hours
		b.Date = d
		require.NoError(t, db.CreateBooking(ctx, b))
	}

	mk("h-1", models.StatusConfirmed, 2.5, date)
	mk("h-2", models.StatusArrived, 0.5, date) // below minimum, billed as 1h
	mk("h-3", models.StatusCancelled, 8, date)
	mk("h-4", models.StatusConfirmed, 4, date.AddDate(0, 0, 1))

	total, err := db.SumActiveHours(ctx, "supplier-1", "item-1", date)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, total, 1e-9)

	total, err = db.SumActiveHours(ctx, "supplier-1", "other-item", date)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestGetBookingsByStatusAndCategory(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	b1 := testBooking("s-1")
	b2 := testBooking("s-2")
	b2.ItemCategory = models.CategoryHarvester
	b3 := testBooking("s-3")
	b3.Status = models.StatusConfirmed
	for _, b := range []*models.Booking{b1, b2, b3} {
		require.NoError(t, db.CreateBooking(ctx, b))
	}

	searching, err := db.GetBookingsByStatus(ctx, models.StatusSearching)
	require.NoError(t, err)
	assert.Len(t, searching, 2)

	both, err := db.GetBookingsByStatus(ctx, models.StatusSearching, models.StatusConfirmed)
	require.NoError(t, err)
	assert.Len(t, both, 3)

	tractors, err := db.GetSearchingByCategory(ctx, models.CategoryTractor)
	require.NoError(t, err)
	require.Len(t, tractors, 1)
	assert.Equal(t, "s-1", tractors[0].ID)
}

func TestSyncItems(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	catalog := []models.Item{
		{
			ID: "tractor-1", SupplierID: "supplier-1", Name: "Mahindra 575",
			Category:     models.CategoryTractor,
			PurposeRates: map[string]int64{"ploughing": 1500},
			IsActive:     true, QuantityAvailable: 1,
		},
	}
	require.NoError(t, db.SyncItems(ctx, catalog))

	item, err := db.GetItem(ctx, "tractor-1")
	require.NoError(t, err)
	assert.True(t, item.Available)

	// Simulate a live reservation, then re-sync with a new rate card.
	item.Available = false
	item.QuantityAvailable = 0
	require.NoError(t, db.UpdateItem(ctx, item))

	catalog[0].PurposeRates = map[string]int64{"ploughing": 1600}
	catalog[0].QuantityAvailable = 1
	require.NoError(t, db.SyncItems(ctx, catalog))

	item, err = db.GetItem(ctx, "tractor-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1600), item.RateFor("ploughing"))
	// Live availability survives the re-sync; the pool size does not.
	assert.False(t, item.Available)
	assert.Zero(t, item.QuantityAvailable)
	assert.Equal(t, int64(1), item.QuantityTotal)
}

func TestGetActiveItems(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	mk := func(id string, active bool, sortOrder int64) {
		require.NoError(t, db.CreateItem(ctx, &models.Item{
			ID: id, SupplierID: "supplier-1", Name: id,
			Category:     models.CategoryTractor,
			PurposeRates: map[string]int64{"ploughing": 1500},
			IsActive:     active, Available: true, SortOrder: sortOrder,
		}))
	}
	mk("i-b", true, 2)
	mk("i-a", true, 1)
	mk("i-retired", false, 0)

	active, err := db.GetActiveItems(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "i-a", active[0].ID)
	assert.Equal(t, "i-b", active[1].ID)
}

func TestUserWARFields(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.CreateUser(ctx, &models.User{ID: "supplier-1", Name: "Ravi", Role: models.RoleSupplier}))

	now := time.Now()
	require.NoError(t, db.UpdateUserFields(ctx, "supplier-1", map[string]any{
		"war_total_jobs":      int64(12),
		"war_on_time_count":   int64(10),
		"war_final_rating":    4.2,
		"war_last_calculated": now,
	}))

	u, err := db.GetUser(ctx, "supplier-1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), u.WARTotalJobs)
	assert.Equal(t, int64(10), u.WAROnTimeCount)
	assert.InDelta(t, 4.2, u.WARFinalRating, 1e-9)
	assert.False(t, u.WARLastCalculated.IsZero())

	// Role changes are not a partial-merge concern.
	err = db.UpdateUserFields(ctx, "supplier-1", map[string]any{"role": "admin"})
	require.Error(t, err)
}

func TestReviewsAndNotifications(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.CreateReview(ctx, &models.Review{
		ID: "r-1", BookingID: "b-1", SupplierID: "supplier-1", FarmerID: "farmer-1", Rating: 5,
	}))
	reviews, err := db.GetReviewsBySupplier(ctx, "supplier-1")
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, int64(5), reviews[0].Rating)
	assert.False(t, reviews[0].CreatedAt.IsZero())

	require.NoError(t, db.CreateNotification(ctx, &models.Notification{
		ID: "n-1", UserID: "farmer-1", Message: "hello", Type: "test", Category: "booking", Priority: models.PriorityNormal,
	}))
	notes, err := db.GetNotificationsForUser(ctx, "farmer-1", 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "hello", notes[0].Message)
}

func TestSyncQueue(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	task := &models.SyncTask{TaskType: "upsert", BookingID: "b-1", Payload: "{}", Status: "pending"}
	require.NoError(t, db.CreateSyncTask(ctx, task))
	assert.NotZero(t, task.ID)

	pending, err := db.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// A retry scheduled for the future stays out of the pending set.
	later := time.Now().Add(time.Hour)
	require.NoError(t, db.UpdateSyncTaskStatus(ctx, task.ID, "retry", "boom", &later))
	pending, err = db.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, db.UpdateSyncTaskStatus(ctx, task.ID, "completed", "", nil))
	pending, err = db.GetPendingSyncTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
