// Package pricing computes job prices from base rates, duration, quantity,
// operator charges, travel distance and seasonal/demand surge. It holds no
// state: identical inputs always produce identical output.
package pricing

import (
	"math"
	"time"

	"agrilink/internal/models"
)

// Seasonal bands and demand steps for the surge multiplier. Season and demand
// combine through max, never by stacking.
const (
	peakSeasonMultiplier   = 1.25 // Sep-Nov harvest window
	sowingSeasonMultiplier = 1.15 // Mar-May sowing window
	highDemandMultiplier   = 1.4  // >10 concurrent searches
	raisedDemandMultiplier = 1.25 // >5 concurrent searches
	highDemandThreshold    = 10
	raisedDemandThreshold  = 5
)

// Engine prices jobs. Per-km travel rate and platform commission are policy
// knobs from config; commission currently defaults to zero.
type Engine struct {
	perKmCharge   int64
	commissionPct float64
}

func NewEngine(perKmCharge int64, commissionPct float64) *Engine {
	if perKmCharge <= 0 {
		perKmCharge = 50
	}
	return &Engine{perKmCharge: perKmCharge, commissionPct: commissionPct}
}

// Inputs captures everything that influences a price. The clock and the
// demand snapshot are passed in so pricing stays deterministic.
type Inputs struct {
	MachineRate         int64 // rupees per hour per unit
	OperatorRate        int64 // rupees per hour, zero when no operator
	Quantity            int64
	DurationHours       float64
	Date                time.Time
	ConcurrentSearching int // other searching bookings, same category+area
	DistanceKm          float64
	Category            string
}

// Breakdown is a priced job split into its components. Total follows
// round((machine + operator) × surge) + travel; the per-component amounts are
// rounded individually for display.
type Breakdown struct {
	MachineAmount  int64   `json:"machine_amount"`
	OperatorAmount int64   `json:"operator_amount"`
	TravelCharge   int64   `json:"travel_charge"`
	Commission     int64   `json:"commission"`
	Surge          float64 `json:"surge"`
	Total          int64   `json:"total"`
	SupplierAmount int64   `json:"supplier_amount"`
}

// Range bounds a broadcast quote. Min and Max are built from independent
// per-component minima/maxima across qualifying items, not from any single
// cheapest or dearest item.
type Range struct {
	Min Breakdown `json:"min"`
	Max Breakdown `json:"max"`
}

// Price computes the full breakdown for one item's rates.
func (e *Engine) Price(in Inputs) Breakdown {
	hours := billableHours(in.DurationHours)
	qty := in.Quantity
	if qty < 1 {
		qty = 1
	}
	surge := e.Surge(in.Date, in.ConcurrentSearching)

	machine := float64(in.MachineRate) * float64(qty) * hours
	operator := float64(in.OperatorRate) * hours
	travel := e.DistanceCharge(in.Category, in.DistanceKm)

	total := int64(math.Round((machine+operator)*surge)) + travel
	commission := int64(math.Round(float64(total) * e.commissionPct / 100))

	return Breakdown{
		MachineAmount:  int64(math.Round(machine * surge)),
		OperatorAmount: int64(math.Round(operator * surge)),
		TravelCharge:   travel,
		Commission:     commission,
		Surge:          surge,
		Total:          total,
		SupplierAmount: total - commission,
	}
}

// CommissionFor returns the platform cut of a settled amount.
func (e *Engine) CommissionFor(amount int64) int64 {
	return int64(math.Round(float64(amount) * e.commissionPct / 100))
}

// Surge is the combined seasonal/demand multiplier, joined through max.
func (e *Engine) Surge(date time.Time, concurrentSearching int) float64 {
	return math.Max(seasonalMultiplier(date.Month()), demandMultiplier(concurrentSearching))
}

func seasonalMultiplier(m time.Month) float64 {
	switch m {
	case time.September, time.October, time.November:
		return peakSeasonMultiplier
	case time.March, time.April, time.May:
		return sowingSeasonMultiplier
	default:
		return 1.0
	}
}

func demandMultiplier(concurrent int) float64 {
	switch {
	case concurrent > highDemandThreshold:
		return highDemandMultiplier
	case concurrent > raisedDemandThreshold:
		return raisedDemandMultiplier
	default:
		return 1.0
	}
}

// DistanceCharge bills distance beyond the category's free radius at the
// per-km rate, rounded to the nearest rupee.
func (e *Engine) DistanceCharge(category string, distanceKm float64) int64 {
	excess := distanceKm - models.FreeTravelRadiusKm(category)
	if excess <= 0 {
		return 0
	}
	return int64(math.Round(excess * float64(e.perKmCharge)))
}

// QuoteRange prices a broadcast request against every qualifying item and
// returns per-component min/max bounds. Items that are inactive, unavailable
// or do not offer the purpose are skipped; when an operator is required only
// items with an operator rate qualify.
func (e *Engine) QuoteRange(items []*models.Item, purpose string, in Inputs, jobLocation models.GeoPoint, operatorRequired bool) (Range, bool) {
	var (
		first bool = true
		r     Range
	)

	for _, item := range items {
		if !item.IsActive || !item.Available || !item.OffersPurpose(purpose) {
			continue
		}
		if operatorRequired && item.OperatorRate == 0 {
			continue
		}

		itemIn := in
		itemIn.MachineRate = item.RateFor(purpose)
		if operatorRequired {
			itemIn.OperatorRate = item.OperatorRate
		} else {
			itemIn.OperatorRate = 0
		}
		itemIn.Category = item.Category
		if item.Location != nil && !jobLocation.IsZero() {
			itemIn.DistanceKm = HaversineKm(*item.Location, jobLocation)
		} else {
			itemIn.DistanceKm = 0
		}

		bd := e.Price(itemIn)
		if first {
			r.Min, r.Max = bd, bd
			first = false
			continue
		}
		r.Min.MachineAmount = min64(r.Min.MachineAmount, bd.MachineAmount)
		r.Min.OperatorAmount = min64(r.Min.OperatorAmount, bd.OperatorAmount)
		r.Min.TravelCharge = min64(r.Min.TravelCharge, bd.TravelCharge)
		r.Min.Commission = min64(r.Min.Commission, bd.Commission)
		r.Max.MachineAmount = max64(r.Max.MachineAmount, bd.MachineAmount)
		r.Max.OperatorAmount = max64(r.Max.OperatorAmount, bd.OperatorAmount)
		r.Max.TravelCharge = max64(r.Max.TravelCharge, bd.TravelCharge)
		r.Max.Commission = max64(r.Max.Commission, bd.Commission)
	}
	if first {
		return Range{}, false
	}

	// Each bound is the sum of its own components.
	r.Min.Total = r.Min.MachineAmount + r.Min.OperatorAmount + r.Min.TravelCharge
	r.Min.SupplierAmount = r.Min.Total - r.Min.Commission
	r.Max.Total = r.Max.MachineAmount + r.Max.OperatorAmount + r.Max.TravelCharge
	r.Max.SupplierAmount = r.Max.Total - r.Max.Commission
	return r, true
}

func billableHours(d float64) float64 {
	if d < models.MinBillableHours {
		return models.MinBillableHours
	}
	return d
}

// HaversineKm is the great-circle distance between two points.
func HaversineKm(a, b models.GeoPoint) float64 {
	const earthRadiusKm = 6371.0
	lat1 := a.Lat * math.Pi / 180.0
	lat2 := b.Lat * math.Pi / 180.0
	dlat := (b.Lat - a.Lat) * math.Pi / 180.0
	dlng := (b.Lng - a.Lng) * math.Pi / 180.0
	h := math.Sin(dlat/2)*math.Sin(dlat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlng/2)*math.Sin(dlng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
