package repository

import (
	"context"
	"sync/atomic"
	"time"

	"agrilink/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverCounterRepository prefers the primary (Redis) counter store and
// degrades to the in-memory fallback while the primary is down, retrying the
// primary after a minute.
type FailoverCounterRepository struct {
	primary   domain.WindowCounter
	fallback  domain.WindowCounter
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64 // unix nanos of the last failed primary attempt
}

func NewFailoverCounterRepository(primary, fallback domain.WindowCounter, logger *zerolog.Logger) *FailoverCounterRepository {
	return &FailoverCounterRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverCounterRepository) Bump(ctx context.Context, key string, window time.Duration) (int64, error) {
	if !r.isDown.Load() {
		count, err := r.primary.Bump(ctx, key, window)
		if err == nil {
			return count, nil
		}
		r.logger.Error().Err(err).Str("key", key).Msg("primary counter repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck.Store(time.Now().UnixNano())
	}

	// Try to recover after 1 minute.
	if r.isDown.Load() && time.Since(time.Unix(0, r.lastCheck.Load())) > time.Minute {
		count, err := r.primary.Bump(ctx, key, window)
		if err == nil {
			r.isDown.Store(false)
			return count, nil
		}
		r.lastCheck.Store(time.Now().UnixNano())
	}

	return r.fallback.Bump(ctx, key, window)
}
