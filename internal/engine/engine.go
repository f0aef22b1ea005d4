// Package engine implements the booking lifecycle state machine and the
// matching/allocation flow between farmers and suppliers.
package engine

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"agrilink/internal/domain"
	"agrilink/internal/events"
	"agrilink/internal/metrics"
	"agrilink/internal/models"
	"agrilink/internal/pricing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// demandRadiusKm bounds the "same location" neighbourhood when counting
// concurrent searching bookings for the demand multiplier.
const demandRadiusKm = 25.0

// Config carries the engine's policy knobs.
type Config struct {
	OTPMaxAttempts          int64
	RejectionAlertThreshold int64
	RejectionWindow         time.Duration
	PaymentSpikeThreshold   int64
	PaymentSpikeWindow      time.Duration
}

func (c *Config) applyDefaults() {
	if c.OTPMaxAttempts == 0 {
		c.OTPMaxAttempts = 5
	}
	if c.RejectionAlertThreshold == 0 {
		c.RejectionAlertThreshold = 3
	}
	if c.RejectionWindow == 0 {
		c.RejectionWindow = 24 * time.Hour
	}
	if c.PaymentSpikeThreshold == 0 {
		c.PaymentSpikeThreshold = 10
	}
	if c.PaymentSpikeWindow == 0 {
		c.PaymentSpikeWindow = 10 * time.Minute
	}
}

// Engine is the booking matching engine. All state lives in the stores; the
// engine itself is stateless and safe for concurrent use.
type Engine struct {
	bookings domain.BookingStore
	items    domain.ItemStore
	users    domain.UserStore
	reviews  domain.ReviewStore
	counters domain.WindowCounter
	notifier domain.NotificationSink
	pricer   *pricing.Engine
	bus      domain.EventPublisher
	sync     domain.SyncWorker
	clock    domain.Clock
	logger   *zerolog.Logger
	cfg      Config
}

func NewEngine(
	bookings domain.BookingStore,
	items domain.ItemStore,
	users domain.UserStore,
	reviews domain.ReviewStore,
	counters domain.WindowCounter,
	notifier domain.NotificationSink,
	pricer *pricing.Engine,
	bus domain.EventPublisher,
	syncWorker domain.SyncWorker,
	clock domain.Clock,
	cfg Config,
	logger *zerolog.Logger,
) *Engine {
	cfg.applyDefaults()
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Engine{
		bookings: bookings,
		items:    items,
		users:    users,
		reviews:  reviews,
		counters: counters,
		notifier: notifier,
		pricer:   pricer,
		bus:      bus,
		sync:     syncWorker,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
	}
}

// CreateRequest is the client's booking intent.
type CreateRequest struct {
	FarmerID          string
	BookedByAgentID   string
	BookedForFarmerID string

	ItemCategory      string
	ItemID            string // set for a direct request
	WorkPurpose       string
	Quantity          int64
	OperatorRequired  bool
	Date              time.Time
	StartTime         string
	EndTime           string
	EstimatedDuration float64
	Location          models.GeoPoint

	AllowMultipleSuppliers bool
	AdvancePaid            int64
}

// CreateBookingRequest validates the intent, prices it, and persists it as
// either a direct request (Pending Confirmation, owned by the item's
// supplier) or a broadcast request (Searching, visible to all qualifying
// suppliers).
func (e *Engine) CreateBookingRequest(ctx context.Context, req CreateRequest) (*models.Booking, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	quantity := req.Quantity
	if quantity < 1 {
		quantity = 1
	}

	b := &models.Booking{
		ID:                     uuid.NewString(),
		FarmerID:               req.FarmerID,
		BookedByAgentID:        req.BookedByAgentID,
		BookedForFarmerID:      req.BookedForFarmerID,
		ItemCategory:           req.ItemCategory,
		WorkPurpose:            req.WorkPurpose,
		Quantity:               quantity,
		OperatorRequired:       req.OperatorRequired,
		Date:                   req.Date,
		StartTime:              req.StartTime,
		EndTime:                req.EndTime,
		EstimatedDuration:      req.EstimatedDuration,
		Location:               req.Location,
		AllowMultipleSuppliers: req.AllowMultipleSuppliers,
		AdvancePaid:            req.AdvancePaid,
		Status:                 models.StatusSearching,
	}

	concurrent, err := e.countConcurrentSearching(ctx, req.ItemCategory, req.Location, "")
	if err != nil {
		return nil, err
	}

	if req.ItemID != "" {
		item, err := e.items.GetItem(ctx, req.ItemID)
		if err != nil {
			return nil, storeFailure(err, "item")
		}
		// A direct request whose purpose the item does not offer falls back
		// to broadcast instead of failing.
		if item.IsActive && item.Available && item.OffersPurpose(req.WorkPurpose) {
			b.Status = models.StatusPendingConfirmation
			b.ItemID = item.ID
			b.SupplierID = item.SupplierID
			b.EstimatedPrice = e.priceForItem(item, b, concurrent).Total
		}
	}

	if b.Status == models.StatusSearching {
		if r, ok := e.quoteRange(ctx, b, concurrent); ok {
			b.EstimatedPrice = r.Min.Total
		}
	}

	if err := e.bookings.CreateBooking(ctx, b); err != nil {
		return nil, storeFailure(err, "booking")
	}
	metrics.IncBookingTransition(string(b.Status))

	if b.Status == models.StatusPendingConfirmation {
		e.notify(ctx, b.SupplierID,
			fmt.Sprintf("New booking request for %s on %s at %s.", b.WorkPurpose, b.Date.Format("02 Jan"), b.StartTime),
			"booking_request", "booking", models.PriorityHigh)
	}

	e.publishEvent(events.EventBookingCreated, b, "farmer")
	e.enqueueSync(ctx, b, "upsert")
	return b, nil
}

// QuoteBroadcastRange prices a broadcast request against every qualifying
// item and returns independent per-component min/max bounds.
func (e *Engine) QuoteBroadcastRange(ctx context.Context, req CreateRequest) (pricing.Range, error) {
	if err := validateCreateRequest(req); err != nil {
		return pricing.Range{}, err
	}
	concurrent, err := e.countConcurrentSearching(ctx, req.ItemCategory, req.Location, "")
	if err != nil {
		return pricing.Range{}, err
	}

	b := &models.Booking{
		ItemCategory:      req.ItemCategory,
		WorkPurpose:       req.WorkPurpose,
		Quantity:          req.Quantity,
		OperatorRequired:  req.OperatorRequired,
		Date:              req.Date,
		EstimatedDuration: req.EstimatedDuration,
		Location:          req.Location,
	}
	r, ok := e.quoteRange(ctx, b, concurrent)
	if !ok {
		return pricing.Range{}, failf(KindNotFound, "no qualifying items for %s / %s", req.ItemCategory, req.WorkPurpose)
	}
	return r, nil
}

func validateCreateRequest(req CreateRequest) error {
	if req.FarmerID == "" {
		return failf(KindValidation, "farmer id is required")
	}
	if req.ItemCategory == "" {
		return failf(KindValidation, "item category is required")
	}
	if req.WorkPurpose == "" {
		return failf(KindValidation, "work purpose is required")
	}
	if req.Date.IsZero() {
		return failf(KindValidation, "date is required")
	}
	if req.EstimatedDuration <= 0 {
		return failf(KindValidation, "estimated duration must be positive")
	}
	if req.Location.IsZero() {
		return failf(KindValidation, "job location is required")
	}
	if _, _, err := models.ParseClock(req.StartTime); err != nil {
		return failf(KindValidation, "start time must be HH:MM")
	}
	if req.EndTime != "" {
		if _, _, err := models.ParseClock(req.EndTime); err != nil {
			return failf(KindValidation, "end time must be HH:MM")
		}
	}
	return nil
}

// countConcurrentSearching counts other Searching bookings of the same
// category within the demand neighbourhood. The booking being priced never
// counts toward its own demand.
func (e *Engine) countConcurrentSearching(ctx context.Context, category string, loc models.GeoPoint, excludeID string) (int, error) {
	open, err := e.bookings.GetSearchingByCategory(ctx, category)
	if err != nil {
		return 0, storeFailure(err, "booking")
	}
	count := 0
	for _, other := range open {
		if excludeID != "" && other.ID == excludeID {
			continue
		}
		if loc.IsZero() || other.Location.IsZero() {
			count++
			continue
		}
		if pricing.HaversineKm(loc, other.Location) <= demandRadiusKm {
			count++
		}
	}
	return count, nil
}

// priceForItem prices the booking against one concrete item's rate card.
func (e *Engine) priceForItem(item *models.Item, b *models.Booking, concurrent int) pricing.Breakdown {
	var operatorRate int64
	if b.OperatorRequired {
		operatorRate = item.OperatorRate
	}
	var distanceKm float64
	if item.Location != nil && !b.Location.IsZero() {
		distanceKm = pricing.HaversineKm(*item.Location, b.Location)
	}
	return e.pricer.Price(pricing.Inputs{
		MachineRate:         item.RateFor(b.WorkPurpose),
		OperatorRate:        operatorRate,
		Quantity:            b.Quantity,
		DurationHours:       b.EstimatedDuration,
		Date:                b.Date,
		ConcurrentSearching: concurrent,
		DistanceKm:          distanceKm,
		Category:            item.Category,
	})
}

func (e *Engine) quoteRange(ctx context.Context, b *models.Booking, concurrent int) (pricing.Range, bool) {
	candidates, err := e.items.GetItemsByCategory(ctx, b.ItemCategory)
	if err != nil {
		e.logger.Error().Err(err).Str("category", b.ItemCategory).Msg("quote range: item query failed")
		return pricing.Range{}, false
	}
	in := pricing.Inputs{
		Quantity:            b.Quantity,
		DurationHours:       b.EstimatedDuration,
		Date:                b.Date,
		ConcurrentSearching: concurrent,
	}
	return e.pricer.QuoteRange(candidates, b.WorkPurpose, in, b.Location, b.OperatorRequired)
}

func (e *Engine) notify(ctx context.Context, userID, message, typ, category, priority string) {
	if e.notifier == nil {
		return
	}
	n := &models.Notification{
		UserID:   userID,
		Message:  message,
		Type:     typ,
		Category: category,
		Priority: priority,
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Error().Err(err).Str("user_id", userID).Str("type", typ).Msg("notify error")
	}
}

func (e *Engine) publishEvent(eventType string, b *models.Booking, changedBy string) {
	if e.bus == nil {
		return
	}
	payload := events.BookingEventPayload{
		BookingID:    b.ID,
		FarmerID:     b.FarmerID,
		SupplierID:   b.SupplierID,
		ItemID:       b.ItemID,
		ItemCategory: b.ItemCategory,
		Status:       string(b.Status),
		Quantity:     b.Quantity,
		FinalPrice:   b.FinalPrice,
		Date:         b.Date,
		ChangedBy:    changedBy,
	}
	if err := e.bus.PublishJSON(eventType, payload); err != nil {
		e.logger.Error().Err(err).Str("event_type", eventType).Str("booking_id", b.ID).Msg("publish event error")
	}
}

func (e *Engine) enqueueSync(ctx context.Context, b *models.Booking, taskType string) {
	if e.sync == nil {
		return
	}
	var status string
	if taskType == "update_status" {
		status = string(b.Status)
	}
	if err := e.sync.EnqueueTask(ctx, taskType, b.ID, b, status); err != nil {
		e.logger.Error().Err(err).Str("booking_id", b.ID).Str("task", taskType).Msg("sync enqueue error")
	}
}

// generateOTP returns a random 6-digit arrival code.
func generateOTP() string {
	max := big.NewInt(1)
	for i := 0; i < models.OTPLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		n = big.NewInt(time.Now().UnixNano() % 1000000)
	}
	return fmt.Sprintf("%0*d", models.OTPLength, n.Int64())
}
