// Package rating computes the supplier reliability score shown next to a
// supplier's name: a Bayesian blend of star reviews, punctuality, disputes
// and cancellations, damped towards a neutral prior for thin histories.
package rating

import (
	"context"
	"math"
	"time"

	"agrilink/internal/domain"
	"agrilink/internal/metrics"
	"agrilink/internal/models"

	"github.com/rs/zerolog"
)

const (
	priorWeight = 5.0
	priorRating = 3.0

	starWeight   = 0.6
	onTimeWeight = 0.4

	disputePenalty      = 0.5
	cancellationPenalty = 0.75

	minRating = 0.0
	maxRating = 5.0

	onTimeGrace  = 30 * time.Minute
	recentWindow = 6 * 30 * 24 * time.Hour // disputes and cancellations age out

	// Reviews fade with age: full weight for three months, half weight for
	// the next three, then ignored.
	fullWeightAge = 90 * 24 * time.Hour
	halfWeightAge = 180 * 24 * time.Hour
)

// Stats is the raw input to the score. Star totals carry the review age
// weights already applied.
type Stats struct {
	CompletedJobs   int64
	OnTimeJobs      int64
	StarSum         float64
	StarWeight      float64
	Disputes6M      int64
	Cancellations6M int64
}

// Score maps stats to the 0.0-5.0 display rating, rounded to one decimal.
// With no history the prior carries and the score is exactly 3.0.
func Score(s Stats) float64 {
	n := float64(s.CompletedJobs)

	starMean := priorRating
	if s.StarWeight > 0 {
		starMean = s.StarSum / s.StarWeight
	}
	onTimeRate := 1.0
	if s.CompletedJobs > 0 {
		onTimeRate = float64(s.OnTimeJobs) / float64(s.CompletedJobs)
	}

	observed := starWeight*starMean +
		onTimeWeight*onTimeRate*maxRating -
		disputePenalty*float64(s.Disputes6M) -
		cancellationPenalty*float64(s.Cancellations6M)
	if observed < 0 {
		observed = 0
	}

	blended := (n*observed + priorWeight*priorRating) / (n + priorWeight)
	clamped := math.Min(maxRating, math.Max(minRating, blended))
	return math.Round(clamped*10) / 10
}

// reviewAgeWeight returns the recency weight for a review of the given age.
func reviewAgeWeight(age time.Duration) float64 {
	switch {
	case age <= fullWeightAge:
		return 1.0
	case age <= halfWeightAge:
		return 0.5
	default:
		return 0
	}
}

// Scorer recomputes supplier scores from store history and persists them on
// the user record. Scores are display-only; matching never filters on them.
type Scorer struct {
	users    domain.UserStore
	bookings domain.BookingStore
	reviews  domain.ReviewStore
	clock    domain.Clock
	logger   *zerolog.Logger
}

func NewScorer(users domain.UserStore, bookings domain.BookingStore, reviews domain.ReviewStore, clock domain.Clock, logger *zerolog.Logger) *Scorer {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Scorer{users: users, bookings: bookings, reviews: reviews, clock: clock, logger: logger}
}

// Recompute rebuilds one supplier's stats from bookings and reviews and
// writes the refreshed score back.
func (s *Scorer) Recompute(ctx context.Context, supplierID string) (float64, error) {
	stats, err := s.collectStats(ctx, supplierID)
	if err != nil {
		return 0, err
	}
	score := Score(stats)
	now := s.clock.Now()

	err = s.users.UpdateUserFields(ctx, supplierID, map[string]any{
		"war_total_jobs":            stats.CompletedJobs,
		"war_on_time_count":         stats.OnTimeJobs,
		"war_dispute_count_6m":      stats.Disputes6M,
		"war_cancellation_count_6m": stats.Cancellations6M,
		"war_final_rating":          score,
		"war_last_calculated":       now,
	})
	if err != nil {
		return 0, err
	}
	metrics.IncWARRecompute()
	return score, nil
}

func (s *Scorer) collectStats(ctx context.Context, supplierID string) (Stats, error) {
	var stats Stats
	now := s.clock.Now()
	cutoff := now.Add(-recentWindow)

	bookings, err := s.bookings.GetBookingsBySupplier(ctx, supplierID)
	if err != nil {
		return stats, err
	}
	for _, b := range bookings {
		switch b.Status {
		case models.StatusCompleted:
			stats.CompletedJobs++
			// A job with no recorded start (auto-completed, old data) counts
			// as on time rather than punishing the supplier for a gap.
			if b.WorkStartTime.IsZero() || !b.WorkStartTime.After(b.ScheduledStart().Add(onTimeGrace)) {
				stats.OnTimeJobs++
			}
			if b.DisputeRaised && b.UpdatedAt.After(cutoff) {
				stats.Disputes6M++
			}
		case models.StatusCancelled:
			if b.CancelledBy == "supplier" && b.UpdatedAt.After(cutoff) {
				stats.Cancellations6M++
			}
		}
	}

	reviews, err := s.reviews.GetReviewsBySupplier(ctx, supplierID)
	if err != nil {
		return stats, err
	}
	for _, r := range reviews {
		w := reviewAgeWeight(now.Sub(r.CreatedAt))
		stats.StarSum += w * float64(r.Rating)
		stats.StarWeight += w
	}
	return stats, nil
}

// SweepAll recomputes every supplier. Per-supplier errors are logged and do
// not stop the sweep.
func (s *Scorer) SweepAll(ctx context.Context) {
	suppliers, err := s.users.GetUsersByRole(ctx, models.RoleSupplier)
	if err != nil {
		s.logger.Error().Err(err).Msg("rating sweep: supplier query failed")
		return
	}
	for _, u := range suppliers {
		if _, err := s.Recompute(ctx, u.ID); err != nil {
			s.logger.Error().Err(err).Str("supplier_id", u.ID).Msg("rating sweep: recompute failed")
		}
	}
	s.logger.Info().Int("suppliers", len(suppliers)).Msg("rating sweep complete")
}

// Run recomputes all suppliers once a day at the given hour.
func (s *Scorer) Run(ctx context.Context, hour int) {
	timer := time.NewTimer(timeUntilNextHour(hour))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.SweepAll(ctx)
			timer.Reset(24 * time.Hour)
		}
	}
}

func timeUntilNextHour(hour int) time.Duration {
	now := time.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
