package models

import (
	"fmt"
	"time"
)

// BookingStatus is the closed set of lifecycle states a booking moves through.
type BookingStatus string

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// IsZero reports whether the point is unset.
func (p GeoPoint) IsZero() bool {
	return p.Lat == 0 && p.Lng == 0
}

// PaymentDetails records the settlement of a completed booking.
// Amounts are whole rupees; the platform does not process money itself.
type PaymentDetails struct {
	FarmerAmount   int64     `json:"farmer_amount"`
	SupplierAmount int64     `json:"supplier_amount"`
	Commission     int64     `json:"commission"`
	Method         string    `json:"method,omitempty"`
	Reference      string    `json:"reference,omitempty"`
	PaidAt         time.Time `json:"paid_at,omitempty"`
}

// Booking is the central marketplace entity: one time-boxed job matching a
// farmer to a supplier's equipment or labour.
type Booking struct {
	ID string `json:"id"`

	FarmerID          string `json:"farmer_id"`
	SupplierID        string `json:"supplier_id,omitempty"`
	OperatorID        string `json:"operator_id,omitempty"`
	BookedByAgentID   string `json:"booked_by_agent_id,omitempty"`
	BookedForFarmerID string `json:"booked_for_farmer_id,omitempty"`

	ItemCategory      string   `json:"item_category"`
	ItemID            string   `json:"item_id,omitempty"`
	WorkPurpose       string   `json:"work_purpose"`
	Quantity          int64    `json:"quantity"`
	OperatorRequired  bool     `json:"operator_required"`
	Date              time.Time `json:"date"`
	StartTime         string   `json:"start_time"`          // HH:MM, 24h
	EndTime           string   `json:"end_time,omitempty"`  // HH:MM, 24h
	EstimatedDuration float64  `json:"estimated_duration"`  // hours
	Location          GeoPoint `json:"location"`

	EstimatedPrice int64           `json:"estimated_price"`
	FinalPrice     int64           `json:"final_price,omitempty"`
	DistanceCharge int64           `json:"distance_charge,omitempty"`
	AdvancePaid    int64           `json:"advance_paid,omitempty"`
	Payment        *PaymentDetails `json:"payment_details,omitempty"`

	Status      BookingStatus `json:"status"`
	CancelledBy string        `json:"cancelled_by,omitempty"` // farmer, supplier, system

	OTPCode     string `json:"otp_code,omitempty"`
	OTPVerified bool   `json:"otp_verified"`
	OTPAttempts int64  `json:"otp_attempts,omitempty"`

	DisputeRaised   bool `json:"dispute_raised"`
	DisputeResolved bool `json:"dispute_resolved"`
	DamageReported  bool `json:"damage_reported"`

	IsRebroadcast          bool `json:"is_rebroadcast"`
	AllowMultipleSuppliers bool `json:"allow_multiple_suppliers"`

	SearchTimeoutNotified bool      `json:"search_timeout_notified"`
	AdminAlertCount       int64     `json:"admin_alert_count"`
	LastAdminAlertTime    time.Time `json:"last_admin_alert_time,omitempty"`
	LateStart             bool      `json:"late_start"`

	WorkStartTime time.Time `json:"work_start_time,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// ScheduledStart combines Date and StartTime into an absolute instant.
// Bookings with an unparsable StartTime fall back to midnight of Date.
func (b *Booking) ScheduledStart() time.Time {
	h, m, err := ParseClock(b.StartTime)
	if err != nil {
		return b.Date
	}
	return time.Date(b.Date.Year(), b.Date.Month(), b.Date.Day(), h, m, 0, 0, b.Date.Location())
}

// ScheduledEnd is EndTime when present, otherwise start plus the estimated
// duration.
func (b *Booking) ScheduledEnd() time.Time {
	if b.EndTime != "" {
		if h, m, err := ParseClock(b.EndTime); err == nil {
			end := time.Date(b.Date.Year(), b.Date.Month(), b.Date.Day(), h, m, 0, 0, b.Date.Location())
			if end.Before(b.ScheduledStart()) {
				end = end.Add(24 * time.Hour)
			}
			return end
		}
	}
	return b.ScheduledStart().Add(time.Duration(b.EstimatedDuration * float64(time.Hour)))
}

// BillableHours applies the one-hour minimum billing rule.
func (b *Booking) BillableHours() float64 {
	if b.EstimatedDuration < MinBillableHours {
		return MinBillableHours
	}
	return b.EstimatedDuration
}

// IsTerminal reports whether the booking can no longer change state.
func (s BookingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

// ParseClock parses an HH:MM 24-hour string.
func ParseClock(s string) (hour, minute int, err error) {
	if _, err = fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time of day %q out of range", s)
	}
	return hour, minute, nil
}
