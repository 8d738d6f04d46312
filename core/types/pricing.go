// Package types - Pricing types
package types

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"energy-quote/core/confidence"
)

// EquipmentCategory identifies a priced equipment family
type EquipmentCategory string

const (
	CategoryBattery   EquipmentCategory = "bess"
	CategoryPCS       EquipmentCategory = "pcs"
	CategorySolar     EquipmentCategory = "solar_pv"
	CategoryGenerator EquipmentCategory = "generator"
	CategoryEVL2      EquipmentCategory = "ev_l2"
	CategoryEVDCFC    EquipmentCategory = "ev_dcfc"
	CategoryEVHPC     EquipmentCategory = "ev_hpc"
)

// Unit is a measurement unit for sizes and prices
type Unit string

const (
	UnitKW   Unit = "kW"
	UnitKWh  Unit = "kWh"
	UnitEach Unit = "each"
)

// SourceKind says which link of the pricing chain produced a tier
type SourceKind string

const (
	SourceOverride SourceKind = "override"
	SourceTable    SourceKind = "tier_table"
	SourceFallback SourceKind = "fallback"
)

// PriceTier is a size-banded unit price for an equipment category.
// The band [Min, Max) is expressed in SizeUnit; UnitPrice is per PriceUnit.
// Max == 0 means the band is unbounded above.
type PriceTier struct {
	Category  EquipmentCategory `json:"category"`
	Vendor    string            `json:"vendor,omitempty"`
	Min       float64           `json:"min"`
	Max       float64           `json:"max"`
	SizeUnit  Unit              `json:"size_unit"`
	PriceUnit Unit              `json:"price_unit"`
	UnitPrice decimal.Decimal   `json:"unit_price"`

	// MarketUnitPrice is a market comparable per PriceUnit (zero = none known)
	MarketUnitPrice decimal.Decimal `json:"market_unit_price"`

	Source        string           `json:"source"`
	Confidence    confidence.Level `json:"confidence"`
	EffectiveFrom time.Time        `json:"effective_from"`
	EffectiveTo   *time.Time       `json:"effective_to,omitempty"`

	// Resolution metadata filled in by the pricing service
	ResolvedFrom SourceKind `json:"resolved_from,omitempty"`
	Nearest      bool       `json:"nearest,omitempty"`
}

// Unbounded reports whether the band has no upper limit
func (t PriceTier) Unbounded() bool {
	return t.Max <= 0
}

// Contains reports whether size falls in [Min, Max)
func (t PriceTier) Contains(size float64) bool {
	if size < t.Min {
		return false
	}
	return t.Unbounded() || size < t.Max
}

// Distance returns how far size lies outside the band (0 when contained)
func (t PriceTier) Distance(size float64) float64 {
	if t.Contains(size) {
		return 0
	}
	if size < t.Min {
		return t.Min - size
	}
	return size - t.Max
}

// EffectiveAt reports whether the tier applies at time at (zero at = always)
func (t PriceTier) EffectiveAt(at time.Time) bool {
	if at.IsZero() {
		return true
	}
	if !t.EffectiveFrom.IsZero() && at.Before(t.EffectiveFrom) {
		return false
	}
	if t.EffectiveTo != nil && !at.Before(*t.EffectiveTo) {
		return false
	}
	return true
}

// Overlaps reports whether two bands of the same category and unit intersect
func (t PriceTier) Overlaps(o PriceTier) bool {
	if t.Category != o.Category || t.SizeUnit != o.SizeUnit || t.Vendor != o.Vendor {
		return false
	}
	tMax, oMax := t.Max, o.Max
	if t.Unbounded() {
		tMax = math.MaxFloat64
	}
	if o.Unbounded() {
		oMax = math.MaxFloat64
	}
	return t.Min < oMax && o.Min < tMax
}

// String renders the band for audit output
func (t PriceTier) String() string {
	upper := "inf"
	if !t.Unbounded() {
		upper = fmt.Sprintf("%g", t.Max)
	}
	return fmt.Sprintf("%s [%g,%s)%s @ %s/%s (%s, %s)",
		t.Category, t.Min, upper, t.SizeUnit, t.UnitPrice.StringFixed(2), t.PriceUnit, t.Source, t.Confidence)
}

// LineItem is one priced piece of equipment. Base costs are engine-internal:
// only the margin render envelope crosses the export boundary.
type LineItem struct {
	Category     EquipmentCategory `json:"category"`
	Quantity     float64           `json:"quantity"`
	Unit         Unit              `json:"unit"`
	BaseUnitCost decimal.Decimal   `json:"base_unit_cost"`
	BaseCost     decimal.Decimal   `json:"base_cost"`
	MarketCost   decimal.Decimal   `json:"market_cost"`
	Tier         PriceTier         `json:"tier"`
}

// NewLineItem prices quantity against a resolved tier, rounding to cents
func NewLineItem(category EquipmentCategory, quantity float64, tier PriceTier) LineItem {
	qty := decimal.NewFromFloat(quantity)
	item := LineItem{
		Category:     category,
		Quantity:     quantity,
		Unit:         tier.PriceUnit,
		BaseUnitCost: tier.UnitPrice,
		BaseCost:     tier.UnitPrice.Mul(qty).Round(2),
		Tier:         tier,
	}
	if tier.MarketUnitPrice.IsPositive() {
		item.MarketCost = tier.MarketUnitPrice.Mul(qty).Round(2)
	}
	return item
}
