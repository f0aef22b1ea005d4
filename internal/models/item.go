package models

import "time"

// Item is a supplier-owned piece of equipment or a labour pool. Items come
// from the catalog file at startup and live in the items table afterwards.
type Item struct {
	ID         string `yaml:"id" json:"id"`
	SupplierID string `yaml:"supplier_id" json:"supplier_id"`
	Name       string `yaml:"name" json:"name"`
	Category   string `yaml:"category" json:"category"`

	// PurposeRates maps a work purpose to its price per hour in whole rupees.
	// A purpose missing from the map is not offered by this item.
	PurposeRates map[string]int64 `yaml:"purpose_rates" json:"purpose_rates"`

	// OperatorRate is the per-hour charge when the supplier also operates the
	// machine. Zero means no operator service.
	OperatorRate int64 `yaml:"operator_rate" json:"operator_rate,omitempty"`

	Available bool `yaml:"available" json:"available"`

	// QuantityTotal is the full pool size of a divisible resource (labour
	// head-count, sprayer units). Zero or negative means the item is a
	// single indivisible unit.
	QuantityTotal int64 `yaml:"quantity_total" json:"quantity_total,omitempty"`

	// QuantityAvailable is the part of the pool not held by active bookings.
	QuantityAvailable int64 `yaml:"quantity_available" json:"quantity_available,omitempty"`

	Location  *GeoPoint `yaml:"location" json:"location,omitempty"`
	IsActive  bool      `yaml:"is_active" json:"is_active"`
	SortOrder int64     `yaml:"sort_order" json:"sort_order"`

	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// OffersPurpose reports whether the item serves the given work purpose.
func (i *Item) OffersPurpose(purpose string) bool {
	_, ok := i.PurposeRates[purpose]
	return ok
}

// RateFor returns the hourly rate for a purpose, zero when not offered.
func (i *Item) RateFor(purpose string) int64 {
	return i.PurposeRates[purpose]
}

// Divisible reports whether the item can be split across bookings. The
// decision rests on the pool size, not the live remainder, so a fully
// booked pool is still divisible.
func (i *Item) Divisible() bool {
	return i.QuantityTotal > 0
}
