package engine

import "agrilink/internal/models"

// allowedTransitions is the booking state flow as code. Every status change
// in the engine and the escalation scheduler is validated here; nothing else
// decides reachability.
var allowedTransitions = map[models.BookingStatus][]models.BookingStatus{
	models.StatusSearching: {
		models.StatusAwaitingOperator,
		models.StatusConfirmed,
		models.StatusCancelled,
		models.StatusExpired,
	},
	models.StatusAwaitingOperator: {
		models.StatusConfirmed,
		models.StatusCancelled,
		models.StatusExpired,
	},
	models.StatusPendingConfirmation: {
		models.StatusConfirmed,
		models.StatusSearching, // rejection rebroadcast
		models.StatusCancelled,
		models.StatusExpired,
	},
	models.StatusConfirmed: {
		models.StatusArrived,
		models.StatusCompleted, // scheduler auto-complete
		models.StatusCancelled,
		models.StatusExpired,
	},
	models.StatusArrived: {
		models.StatusInProcess,
		models.StatusCompleted, // scheduler auto-complete
		models.StatusCancelled,
		models.StatusExpired,
	},
	models.StatusInProcess: {
		models.StatusPendingPayment,
		models.StatusCompleted,
	},
	models.StatusPendingPayment: {
		models.StatusCompleted,
	},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to models.BookingStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
