package models

import "time"

// User covers every marketplace party: farmers, suppliers, operators, agents
// and admins. The WAR* fields are the supplier reliability record, written
// only by the reliability scorer.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Role      string    `json:"role"`
	IsBlocked bool      `json:"is_blocked"`
	Location  *GeoPoint `json:"location,omitempty"`

	WARTotalJobs           int64     `json:"war_total_jobs"`
	WAROnTimeCount         int64     `json:"war_on_time_count"`
	WARDisputeCount6M      int64     `json:"war_dispute_count_6m"`
	WARCancellationCount6M int64     `json:"war_cancellation_count_6m"`
	WARFinalRating         float64   `json:"war_final_rating"`
	WARLastCalculated      time.Time `json:"war_last_calculated,omitempty"`

	LastActivity time.Time `json:"last_activity,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsAgent reports whether the user is a privileged booking agent. Agents are
// exempt from the daily working-hour cap.
func (u *User) IsAgent() bool {
	return u.Role == RoleAgent
}

// Review is a farmer's star rating of a completed booking.
type Review struct {
	ID         string    `json:"id"`
	BookingID  string    `json:"booking_id"`
	SupplierID string    `json:"supplier_id"`
	FarmerID   string    `json:"farmer_id"`
	Rating     int64     `json:"rating"` // 1..5
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Notification is one fire-and-forget message row for the delivery layer.
// UserID "0" broadcasts to all admins.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Category  string    `json:"category"`
	Priority  string    `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}
