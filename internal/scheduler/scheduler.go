// Package scheduler runs the periodic escalation sweeps: late-start alerts,
// search timeouts, stuck-search admin escalation and overdue auto-completes.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"agrilink/internal/domain"
	"agrilink/internal/engine"
	"agrilink/internal/metrics"
	"agrilink/internal/models"

	"github.com/rs/zerolog"
)

// Config holds the sweep cadence and the escalation thresholds.
type Config struct {
	FastInterval time.Duration // late-start and stuck-search sweeps
	SlowInterval time.Duration // search-timeout and auto-complete sweeps

	SearchTimeout     time.Duration // searching older than this alerts farmer and admins
	LateStartGrace    time.Duration // no-show grace after scheduled start
	AutoCancelAfter   time.Duration // unmatched-at-start cancel deadline past start
	AutoCompleteAfter time.Duration // active jobs this far past end auto-complete
}

// preStartAlertOffsets are the staged admin alerts for an unmatched booking:
// two hours before start, one hour before, and at start. Each stage is gated
// by adminAlertCount so it fires exactly once regardless of sweep cadence.
var preStartAlertOffsets = [...]time.Duration{2 * time.Hour, time.Hour, 0}

func (c *Config) applyDefaults() {
	if c.FastInterval == 0 {
		c.FastInterval = time.Minute
	}
	if c.SlowInterval == 0 {
		c.SlowInterval = time.Hour
	}
	if c.SearchTimeout == 0 {
		c.SearchTimeout = 6 * time.Hour
	}
	if c.LateStartGrace == 0 {
		c.LateStartGrace = 30 * time.Minute
	}
	if c.AutoCancelAfter == 0 {
		c.AutoCancelAfter = 15 * time.Minute
	}
	if c.AutoCompleteAfter == 0 {
		c.AutoCompleteAfter = 24 * time.Hour
	}
}

// Scheduler drives the escalation sweeps. Each sweep is idempotent and logs
// and continues on per-booking errors, so a bad row never stalls the rest.
type Scheduler struct {
	engine   *engine.Engine
	bookings domain.BookingStore
	notifier domain.NotificationSink
	clock    domain.Clock
	logger   *zerolog.Logger
	cfg      Config
}

func NewScheduler(
	eng *engine.Engine,
	bookings domain.BookingStore,
	notifier domain.NotificationSink,
	clock domain.Clock,
	cfg Config,
	logger *zerolog.Logger,
) *Scheduler {
	cfg.applyDefaults()
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Scheduler{
		engine:   eng,
		bookings: bookings,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
	}
}

// Run blocks until the context is cancelled, firing the fast sweeps every
// FastInterval and the slow sweeps every SlowInterval.
func (s *Scheduler) Run(ctx context.Context) {
	fast := time.NewTicker(s.cfg.FastInterval)
	slow := time.NewTicker(s.cfg.SlowInterval)
	defer fast.Stop()
	defer slow.Stop()

	s.logger.Info().
		Dur("fast_interval", s.cfg.FastInterval).
		Dur("slow_interval", s.cfg.SlowInterval).
		Msg("escalation scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("escalation scheduler stopped")
			return
		case <-fast.C:
			s.SweepLateStarts(ctx)
			s.SweepStuckSearches(ctx)
		case <-slow.C:
			s.SweepSearchTimeouts(ctx)
			s.SweepOverdueCompletions(ctx)
		}
	}
}

// SweepLateStarts flags confirmed bookings whose work has not begun past the
// grace window. Fires at most once per booking via the lateStart flag; a
// flagged booking also unlocks cancellation for the farmer.
func (s *Scheduler) SweepLateStarts(ctx context.Context) {
	metrics.IncSweep("late_start")
	now := s.clock.Now()

	bookings, err := s.bookings.GetBookingsByStatus(ctx, models.StatusConfirmed)
	if err != nil {
		s.logger.Error().Err(err).Msg("late-start sweep: query failed")
		return
	}
	for _, b := range bookings {
		if b.LateStart || b.OTPVerified {
			continue
		}
		if now.Before(b.ScheduledStart().Add(s.cfg.LateStartGrace)) {
			continue
		}
		if err := s.bookings.UpdateBookingFields(ctx, b.ID, map[string]any{
			"late_start": true,
		}); err != nil {
			s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("late-start sweep: mark failed")
			continue
		}
		metrics.IncSchedulerAction("late_start_alert")

		s.sendNotification(ctx, models.AdminBroadcastID,
			fmt.Sprintf("Supplier %s is late for booking %s (%s at %s).", b.SupplierID, b.ID, b.Date.Format("02 Jan"), b.StartTime),
			"late_start", models.PriorityCritical)
		s.sendNotification(ctx, b.SupplierID,
			fmt.Sprintf("You are late for booking %s (%s at %s). Please update the farmer.", b.ID, b.Date.Format("02 Jan"), b.StartTime),
			"late_start", models.PriorityHigh)
		s.sendNotification(ctx, b.FarmerID,
			fmt.Sprintf("Your supplier is running late for the %s job scheduled at %s. You may cancel the booking.", b.WorkPurpose, b.StartTime),
			"late_start", models.PriorityNormal)
	}
}

// SweepSearchTimeouts notifies on broadcast requests that found no supplier
// within the search window. The booking stays open; only the staged pre-start
// escalation ever cancels it.
func (s *Scheduler) SweepSearchTimeouts(ctx context.Context) {
	metrics.IncSweep("search_timeout")
	now := s.clock.Now()

	bookings, err := s.bookings.GetBookingsByStatus(ctx, models.StatusSearching, models.StatusAwaitingOperator)
	if err != nil {
		s.logger.Error().Err(err).Msg("search-timeout sweep: query failed")
		return
	}
	for _, b := range bookings {
		if b.SearchTimeoutNotified {
			continue
		}
		since := b.CreatedAt
		if since.IsZero() {
			since = b.Date
		}
		if now.Sub(since) < s.cfg.SearchTimeout {
			continue
		}

		if err := s.bookings.UpdateBookingFields(ctx, b.ID, map[string]any{
			"search_timeout_notified": true,
		}); err != nil {
			s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("search-timeout sweep: mark failed")
			continue
		}
		metrics.IncSchedulerAction("search_timeout")

		s.sendNotification(ctx, b.FarmerID,
			fmt.Sprintf("Still searching for a supplier for your %s job. Consider widening the search area.", b.WorkPurpose),
			"search_timeout", models.PriorityNormal)
		s.sendNotification(ctx, models.AdminBroadcastID,
			fmt.Sprintf("Booking %s (%s, %s) is still unmatched after %s.", b.ID, b.ItemCategory, b.WorkPurpose, s.cfg.SearchTimeout),
			"search_timeout", models.PriorityNormal)
	}
}

// SweepStuckSearches escalates requests still unmatched as their scheduled
// start approaches: staged admin alerts at two hours before, one hour before
// and at start, then auto-cancel once the post-start deadline passes with all
// alerts exhausted.
func (s *Scheduler) SweepStuckSearches(ctx context.Context) {
	metrics.IncSweep("stuck_search")
	now := s.clock.Now()

	bookings, err := s.bookings.GetBookingsByStatus(ctx, models.StatusSearching)
	if err != nil {
		s.logger.Error().Err(err).Msg("stuck-search sweep: query failed")
		return
	}
	for _, b := range bookings {
		start := b.ScheduledStart()

		if b.AdminAlertCount >= int64(len(preStartAlertOffsets)) {
			if now.Sub(start) < s.cfg.AutoCancelAfter {
				continue
			}
			if _, err := s.engine.ExpireBooking(ctx, b.ID, "no supplier found by the scheduled start"); err != nil {
				s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("stuck-search sweep: expire failed")
				continue
			}
			metrics.IncSchedulerAction("auto_cancel")
			s.sendNotification(ctx, b.FarmerID,
				fmt.Sprintf("No supplier could be found for your %s job; the booking was cancelled. Please try again with a wider area or a later date.", b.WorkPurpose),
				"auto_cancel", models.PriorityHigh)
			if b.BookedByAgentID != "" {
				s.sendNotification(ctx, b.BookedByAgentID,
					fmt.Sprintf("Booking %s was cancelled: no supplier found by the scheduled start.", b.ID),
					"auto_cancel", models.PriorityNormal)
			}
			continue
		}

		stage := int(b.AdminAlertCount)
		if now.Before(start.Add(-preStartAlertOffsets[stage])) {
			continue
		}

		if err := s.bookings.UpdateBookingFields(ctx, b.ID, map[string]any{
			"admin_alert_count":     b.AdminAlertCount + 1,
			"last_admin_alert_time": now,
		}); err != nil {
			s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("stuck-search sweep: mark failed")
			continue
		}
		metrics.IncSchedulerAction("admin_alert")

		s.sendNotification(ctx, models.AdminBroadcastID,
			fmt.Sprintf("Booking %s (%s, %s) starting at %s still has no supplier (alert %d of %d).",
				b.ID, b.ItemCategory, b.WorkPurpose, b.StartTime, stage+1, len(preStartAlertOffsets)),
			"stuck_search", models.PriorityHigh)
	}
}

// SweepOverdueCompletions force-completes jobs far past their scheduled end
// that nobody closed out.
func (s *Scheduler) SweepOverdueCompletions(ctx context.Context) {
	metrics.IncSweep("overdue_completion")
	now := s.clock.Now()

	bookings, err := s.bookings.GetBookingsByStatus(ctx, models.StatusConfirmed, models.StatusArrived, models.StatusInProcess)
	if err != nil {
		s.logger.Error().Err(err).Msg("overdue sweep: query failed")
		return
	}
	for _, b := range bookings {
		if now.Sub(b.ScheduledEnd()) < s.cfg.AutoCompleteAfter {
			continue
		}
		if _, err := s.engine.ForceComplete(ctx, b.ID,
			fmt.Sprintf("job more than %s past its scheduled end", s.cfg.AutoCompleteAfter)); err != nil {
			s.logger.Error().Err(err).Str("booking_id", b.ID).Msg("overdue sweep: complete failed")
			continue
		}
		metrics.IncSchedulerAction("auto_complete")

		s.sendNotification(ctx, b.FarmerID,
			fmt.Sprintf("Booking %s was closed automatically; raise a dispute if the work is unfinished.", b.ID),
			"auto_complete", models.PriorityNormal)
		if b.SupplierID != "" {
			s.sendNotification(ctx, b.SupplierID,
				fmt.Sprintf("Booking %s was closed automatically.", b.ID),
				"auto_complete", models.PriorityNormal)
		}
	}
}

func (s *Scheduler) sendNotification(ctx context.Context, userID, message, typ, priority string) {
	if s.notifier == nil || userID == "" {
		return
	}
	n := &models.Notification{
		UserID:   userID,
		Message:  message,
		Type:     typ,
		Category: "scheduler",
		Priority: priority,
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("type", typ).Msg("scheduler notify error")
	}
}
