package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agrilink",
			Name:      "booking_transitions_total",
			Help:      "Booking status transitions by target status.",
		},
		[]string{"status"},
	)

	schedulerSweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agrilink",
			Name:      "scheduler_sweeps_total",
			Help:      "Escalation sweeps by sweep name.",
		},
		[]string{"sweep"},
	)

	schedulerActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agrilink",
			Name:      "scheduler_actions_total",
			Help:      "Bookings acted on by the escalation scheduler, by action.",
		},
		[]string{"action"},
	)

	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agrilink",
			Name:      "notifications_sent_total",
			Help:      "Notifications delivered, by category.",
		},
		[]string{"category"},
	)

	warRecomputes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "agrilink",
			Name:      "war_recomputes_total",
			Help:      "Supplier reliability score recomputations.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookingTransitions, schedulerSweeps, schedulerActions, notificationsSent, warRecomputes)
	})
}

// IncBookingTransition counts a status change by its target status.
func IncBookingTransition(status string) {
	bookingTransitions.WithLabelValues(status).Inc()
}

// IncSweep counts one scheduler sweep pass.
func IncSweep(sweep string) {
	schedulerSweeps.WithLabelValues(sweep).Inc()
}

// IncSchedulerAction counts a booking acted on by the scheduler.
func IncSchedulerAction(action string) {
	schedulerActions.WithLabelValues(action).Inc()
}

// IncNotification counts one delivered notification.
func IncNotification(category string) {
	notificationsSent.WithLabelValues(category).Inc()
}

// IncWARRecompute counts one reliability score recomputation.
func IncWARRecompute() {
	warRecomputes.Inc()
}
