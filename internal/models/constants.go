package models

// Booking lifecycle statuses.
const (
	StatusSearching           BookingStatus = "searching"
	StatusAwaitingOperator    BookingStatus = "awaiting_operator"
	StatusPendingConfirmation BookingStatus = "pending_confirmation"
	StatusConfirmed           BookingStatus = "confirmed"
	StatusArrived             BookingStatus = "arrived"
	StatusInProcess           BookingStatus = "in_process"
	StatusPendingPayment      BookingStatus = "pending_payment"
	StatusCompleted           BookingStatus = "completed"
	StatusCancelled           BookingStatus = "cancelled"
	StatusExpired             BookingStatus = "expired"
)

// Equipment categories.
const (
	CategoryTractor     = "tractor"
	CategoryHarvester   = "harvester"
	CategoryBorewellRig = "borewell_rig"
	CategoryRotavator   = "rotavator"
	CategorySprayer     = "sprayer"
	CategoryLabour      = "labour"
	CategoryOperator    = "operator"
)

// User roles.
const (
	RoleFarmer   = "farmer"
	RoleSupplier = "supplier"
	RoleOperator = "operator"
	RoleAgent    = "agent"
	RoleAdmin    = "admin"
)

// AdminBroadcastID addresses a notification to every admin user.
const AdminBroadcastID = "0"

// Notification priorities.
const (
	PriorityLow      = "low"
	PriorityNormal   = "normal"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

const (
	// DefaultDailyHourCap limits a supplier+item pair to this many booked hours per day.
	DefaultDailyHourCap = 12.0

	// HeavyMachineDailyHourCap applies to harvesters and borewell rigs.
	HeavyMachineDailyHourCap = 16.0

	// LabourDailyHourCap applies to labour gangs.
	LabourDailyHourCap = 13.0
)

const (
	// MinBillableHours is the minimum billed duration for any job.
	MinBillableHours = 1.0

	// OTPLength is the number of digits in the arrival code.
	OTPLength = 6
)

// DailyHourCap returns the booked-hours ceiling for a supplier+item+date.
func DailyHourCap(category string) float64 {
	switch category {
	case CategoryHarvester, CategoryBorewellRig:
		return HeavyMachineDailyHourCap
	case CategoryLabour:
		return LabourDailyHourCap
	default:
		return DefaultDailyHourCap
	}
}

// FreeTravelRadiusKm returns the distance a supplier travels without charge.
func FreeTravelRadiusKm(category string) float64 {
	switch category {
	case CategoryHarvester:
		return 10.0
	case CategoryBorewellRig:
		return 15.0
	default:
		return 3.0
	}
}

// CategoryRequiresOperator reports whether the machine category is normally
// driven by a dedicated operator.
func CategoryRequiresOperator(category string) bool {
	switch category {
	case CategoryTractor, CategoryHarvester, CategoryBorewellRig, CategoryRotavator:
		return true
	default:
		return false
	}
}
