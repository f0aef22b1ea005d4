package domain

import (
	"context"
	"time"

	"agrilink/internal/models"
)

// BookingStore persists bookings. Updates are partial merges; status changes
// go through the versioned compare-and-swap so concurrent writers lose
// cleanly instead of clobbering each other.
type BookingStore interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	CreateBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingFields(ctx context.Context, id string, fields map[string]any) error
	UpdateBookingStatusWithVersion(ctx context.Context, id string, fromVersion int64, status models.BookingStatus, fields map[string]any) error
	GetBookingsByStatus(ctx context.Context, statuses ...models.BookingStatus) ([]*models.Booking, error)
	GetSearchingByCategory(ctx context.Context, category string) ([]*models.Booking, error)
	GetBookingsBySupplier(ctx context.Context, supplierID string) ([]*models.Booking, error)
	SumActiveHours(ctx context.Context, supplierID, itemID string, date time.Time) (float64, error)
}

// ItemStore persists supplier equipment. UpdateItem is a full replace of the
// mutable fields, matching the availability-arbitration contract.
type ItemStore interface {
	GetItem(ctx context.Context, id string) (*models.Item, error)
	GetItemsByCategory(ctx context.Context, category string) ([]*models.Item, error)
	CreateItem(ctx context.Context, item *models.Item) error
	UpdateItem(ctx context.Context, item *models.Item) error
}

// UserStore persists marketplace parties and the supplier reliability record.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUsersByRole(ctx context.Context, role string) ([]*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdateUserFields(ctx context.Context, id string, fields map[string]any) error
}

// ReviewStore persists star ratings of completed bookings.
type ReviewStore interface {
	CreateReview(ctx context.Context, review *models.Review) error
	GetReviewsBySupplier(ctx context.Context, supplierID string) ([]*models.Review, error)
}

// NotificationStore persists notification rows for the delivery layer.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// NotificationSink accepts fire-and-forget notifications. No delivery
// guarantee is required of the core.
type NotificationSink interface {
	Notify(ctx context.Context, n *models.Notification) error
}

// WindowCounter is a sliding-window counter keyed by string. Bump increments
// the counter and returns the count accumulated within the window. Counters
// survive restarts when backed by Redis.
type WindowCounter interface {
	Bump(ctx context.Context, key string, window time.Duration) (int64, error)
}

// EventPublisher fans out lifecycle events to in-process subscribers.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// SyncWorker queues booking snapshots for the operations ledger mirror.
type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType string, bookingID string, booking *models.Booking, status string) error
}

// Clock abstracts time.Now so the scheduler and scorer are testable with a
// manually advanced clock.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
