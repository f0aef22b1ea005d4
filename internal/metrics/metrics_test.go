package metrics

import (
	"testing"
)

func TestRegisterIsIdempotent(t *testing.T) {
	// MustRegister panics on duplicate registration; the sync.Once guard must
	// swallow repeat calls.
	Register()
	Register()

	IncBookingTransition("confirmed")
	IncSweep("late_starts")
	IncSchedulerAction("auto_cancel")
	IncNotification("booking")
	IncWARRecompute()
}
