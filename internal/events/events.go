package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventBookingCreated       = "booking_created"
	EventBookingConfirmed     = "booking_confirmed"
	EventBookingRejected      = "booking_rejected"
	EventBookingCancelled     = "booking_cancelled"
	EventBookingSplit         = "booking_split"
	EventSupplierArrived      = "supplier_arrived"
	EventWorkStarted          = "work_started"
	EventBookingCompleted     = "booking_completed"
	EventPaymentRecorded      = "payment_recorded"
	EventDisputeRaised        = "dispute_raised"
	EventBookingAutoCancelled = "booking_auto_cancelled"
	EventBookingAutoCompleted = "booking_auto_completed"
)

// BookingEventPayload is the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID    string    `json:"booking_id"`
	FarmerID     string    `json:"farmer_id"`
	SupplierID   string    `json:"supplier_id,omitempty"`
	ItemID       string    `json:"item_id,omitempty"`
	ItemCategory string    `json:"item_category"`
	Status       string    `json:"status"`
	Quantity     int64     `json:"quantity,omitempty"`
	FinalPrice   int64     `json:"final_price,omitempty"`
	Date         time.Time `json:"date"`
	ChangedBy    string    `json:"changed_by,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
