package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 9, h)
	assert.Equal(t, 30, m)

	h, m, err = ParseClock("23:59")
	require.NoError(t, err)
	assert.Equal(t, 23, h)
	assert.Equal(t, 59, m)

	for _, bad := range []string{"", "nine", "24:00", "12:60", "-1:30"} {
		_, _, err := ParseClock(bad)
		assert.Error(t, err, "%q", bad)
	}
}

func TestScheduledStart(t *testing.T) {
	date := time.Date(2026, 6, 12, 0, 0, 0, 0, time.UTC)
	b := &Booking{Date: date, StartTime: "09:00"}
	assert.Equal(t, date.Add(9*time.Hour), b.ScheduledStart())

	// Unparsable start falls back to midnight.
	b.StartTime = "soonish"
	assert.Equal(t, date, b.ScheduledStart())
}

func TestScheduledEnd(t *testing.T) {
	date := time.Date(2026, 6, 12, 0, 0, 0, 0, time.UTC)

	b := &Booking{Date: date, StartTime: "09:00", EstimatedDuration: 3}
	assert.Equal(t, date.Add(12*time.Hour), b.ScheduledEnd())

	b.EndTime = "13:30"
	assert.Equal(t, date.Add(13*time.Hour+30*time.Minute), b.ScheduledEnd())

	// An end before the start wraps to the next day (overnight borewell job).
	b.StartTime = "22:00"
	b.EndTime = "04:00"
	assert.Equal(t, date.AddDate(0, 0, 1).Add(4*time.Hour), b.ScheduledEnd())
}

func TestBillableHours(t *testing.T) {
	b := &Booking{EstimatedDuration: 0.5}
	assert.Equal(t, 1.0, b.BillableHours())

	b.EstimatedDuration = 2.5
	assert.Equal(t, 2.5, b.BillableHours())
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []BookingStatus{StatusCompleted, StatusCancelled, StatusExpired} {
		assert.True(t, s.IsTerminal(), "%s", s)
	}
	for _, s := range []BookingStatus{StatusSearching, StatusConfirmed, StatusInProcess, StatusPendingPayment} {
		assert.False(t, s.IsTerminal(), "%s", s)
	}
}

func TestDailyHourCap(t *testing.T) {
	assert.Equal(t, 12.0, DailyHourCap(CategoryTractor))
	assert.Equal(t, 16.0, DailyHourCap(CategoryHarvester))
	assert.Equal(t, 16.0, DailyHourCap(CategoryBorewellRig))
	assert.Equal(t, 13.0, DailyHourCap(CategoryLabour))
	assert.Equal(t, 12.0, DailyHourCap(CategorySprayer))
}

func TestFreeTravelRadiusKm(t *testing.T) {
	assert.Equal(t, 3.0, FreeTravelRadiusKm(CategoryTractor))
	assert.Equal(t, 10.0, FreeTravelRadiusKm(CategoryHarvester))
	assert.Equal(t, 15.0, FreeTravelRadiusKm(CategoryBorewellRig))
	assert.Equal(t, 3.0, FreeTravelRadiusKm(CategoryLabour))
}

func TestCategoryRequiresOperator(t *testing.T) {
	assert.True(t, CategoryRequiresOperator(CategoryTractor))
	assert.True(t, CategoryRequiresOperator(CategoryHarvester))
	assert.False(t, CategoryRequiresOperator(CategoryLabour))
	assert.False(t, CategoryRequiresOperator(CategorySprayer))
}

func TestGeoPointIsZero(t *testing.T) {
	assert.True(t, GeoPoint{}.IsZero())
	assert.False(t, GeoPoint{Lat: 12.97, Lng: 77.59}.IsZero())
}
