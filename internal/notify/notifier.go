// Package notify persists notifications and throttles per-recipient delivery
// so a noisy booking cannot flood one user.
package notify

import (
	"context"
	"sync"

	"agrilink/internal/domain"
	"agrilink/internal/metrics"
	"agrilink/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Notifier writes notifications to the store. Critical-priority messages
// bypass the limiter; everything else waits for a per-recipient token.
type Notifier struct {
	store  domain.NotificationStore
	logger *zerolog.Logger

	perSecond rate.Limit
	burst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewNotifier(store domain.NotificationStore, perSecond float64, burst int, logger *zerolog.Logger) *Notifier {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 5
	}
	return &Notifier{
		store:     store,
		logger:    logger,
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Notify stores one notification, waiting for the recipient's rate token
// first. The wait respects ctx cancellation.
func (n *Notifier) Notify(ctx context.Context, notification *models.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.Priority == "" {
		notification.Priority = models.PriorityNormal
	}

	if notification.Priority != models.PriorityCritical {
		if err := n.limiterFor(notification.UserID).Wait(ctx); err != nil {
			return err
		}
	}

	if err := n.store.CreateNotification(ctx, notification); err != nil {
		return err
	}
	metrics.IncNotification(notification.Category)
	n.logger.Debug().
		Str("user_id", notification.UserID).
		Str("type", notification.Type).
		Str("priority", notification.Priority).
		Msg("notification stored")
	return nil
}

func (n *Notifier) limiterFor(userID string) *rate.Limiter {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.limiters[userID]
	if !ok {
		l = rate.NewLimiter(n.perSecond, n.burst)
		n.limiters[userID] = l
	}
	return l
}
