// Package pricing resolves base unit costs for equipment.
// Sources are consulted in priority order: vendor override, tier tables,
// then fallback constants.
package pricing

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"energy-quote/core/confidence"
	"energy-quote/core/determinism"
	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
)

// Request identifies one price lookup
type Request struct {
	Category types.EquipmentCategory `json:"category"`
	Size     float64                 `json:"size"`
	Unit     types.Unit              `json:"unit"`

	// AltSizes are the same equipment's size in other units. Tables banded
	// in one of them are used when none is banded in Unit.
	AltSizes map[types.Unit]float64 `json:"alt_sizes,omitempty"`

	// Vendor selects vendor-specific overrides and tiers; "" means any
	Vendor string `json:"vendor,omitempty"`

	// AsOf filters tiers by effective date; zero means now
	AsOf time.Time `json:"as_of,omitempty"`
}

// Key returns the cache key. Requests on the same day share an entry.
func (r Request) Key() string {
	day := ""
	if !r.AsOf.IsZero() {
		day = r.AsOf.UTC().Format("2006-01-02")
	}
	parts := []string{
		string(r.Category),
		strconv.FormatFloat(r.Size, 'g', -1, 64),
		string(r.Unit),
		strings.ToLower(r.Vendor),
		day,
	}
	for _, u := range r.units()[1:] {
		parts = append(parts, string(u)+"="+strconv.FormatFloat(r.AltSizes[u], 'g', -1, 64))
	}
	return strings.Join(parts, "|")
}

// SizeIn returns the request size expressed in unit
func (r Request) SizeIn(unit types.Unit) (float64, bool) {
	if unit == r.Unit {
		return r.Size, true
	}
	size, ok := r.AltSizes[unit]
	return size, ok
}

// units lists Unit first, then the alternate units in sorted order
func (r Request) units() []types.Unit {
	out := []types.Unit{r.Unit}
	for _, u := range determinism.SortedKeys(r.AltSizes) {
		if u != r.Unit {
			out = append(out, u)
		}
	}
	return out
}

// TierSource reads size-banded tiers, e.g. a database or a catalog file
type TierSource interface {
	// Name labels the source in logs and audit records
	Name() string

	// Tiers returns every tier known for a category, in any unit.
	// An empty result means the source does not know the category.
	Tiers(ctx context.Context, category types.EquipmentCategory) ([]types.PriceTier, error)
}

// OverrideSource returns vendor/product-specific prices
type OverrideSource interface {
	Name() string

	// Override returns the override for a request, or nil when none applies
	Override(ctx context.Context, req Request) (*types.PriceTier, error)
}

// StaticTierSource serves an in-memory tier table
type StaticTierSource struct {
	name  string
	tiers map[types.EquipmentCategory][]types.PriceTier
}

// NewStaticTierSource validates and indexes a tier table.
// Overlapping bands in the same category, unit and vendor are rejected.
func NewStaticTierSource(name string, tiers []types.PriceTier) (*StaticTierSource, error) {
	if err := ValidateTiers(tiers); err != nil {
		return nil, err
	}
	s := &StaticTierSource{name: name, tiers: make(map[types.EquipmentCategory][]types.PriceTier)}
	for _, t := range tiers {
		if t.Source == "" {
			t.Source = name
		}
		s.tiers[t.Category] = append(s.tiers[t.Category], t)
	}
	return s, nil
}

// Name returns the source name
func (s *StaticTierSource) Name() string { return s.name }

// Tiers returns a copy of the category's tiers
func (s *StaticTierSource) Tiers(_ context.Context, category types.EquipmentCategory) ([]types.PriceTier, error) {
	return append([]types.PriceTier(nil), s.tiers[category]...), nil
}

// ValidateTiers checks each tier and rejects overlapping bands.
// Tiers whose effective windows do not intersect may share a band.
func ValidateTiers(tiers []types.PriceTier) error {
	for i, t := range tiers {
		if t.Category == "" || t.SizeUnit == "" || t.PriceUnit == "" {
			return qerrors.Newf(qerrors.TypeConfig, "tier %d: category, size unit and price unit are required", i)
		}
		if t.Min < 0 || (!t.Unbounded() && t.Max <= t.Min) {
			return qerrors.Newf(qerrors.TypeConfig, "tier %s: invalid band", t)
		}
		if !t.UnitPrice.IsPositive() {
			return qerrors.Newf(qerrors.TypeConfig, "tier %s: unit price must be positive", t)
		}
		if t.Confidence != "" && !t.Confidence.Valid() {
			return qerrors.Newf(qerrors.TypeConfig, "tier %s: unknown confidence %q", t, t.Confidence)
		}
		for _, o := range tiers[i+1:] {
			if t.Overlaps(o) && windowsIntersect(t, o) {
				return qerrors.Newf(qerrors.TypeConfig, "tiers overlap: %s and %s", t, o).
					WithContext("category", string(t.Category))
			}
		}
	}
	return nil
}

func windowsIntersect(a, b types.PriceTier) bool {
	if a.EffectiveTo != nil && !b.EffectiveFrom.IsZero() && !a.EffectiveTo.After(b.EffectiveFrom) {
		return false
	}
	if b.EffectiveTo != nil && !a.EffectiveFrom.IsZero() && !b.EffectiveTo.After(a.EffectiveFrom) {
		return false
	}
	return true
}

// StaticOverrideSource serves overrides keyed by category and vendor
type StaticOverrideSource struct {
	name      string
	overrides []types.PriceTier
}

// NewStaticOverrideSource creates an override source. Overrides are tiers;
// a zero band matches any size.
func NewStaticOverrideSource(name string, overrides []types.PriceTier) *StaticOverrideSource {
	return &StaticOverrideSource{name: name, overrides: append([]types.PriceTier(nil), overrides...)}
}

// Name returns the source name
func (s *StaticOverrideSource) Name() string { return s.name }

// Override returns the first override matching category, vendor, size and
// date. The size is compared in the override's own size unit.
func (s *StaticOverrideSource) Override(_ context.Context, req Request) (*types.PriceTier, error) {
	for _, o := range s.overrides {
		if o.Category != req.Category {
			continue
		}
		size, ok := req.SizeIn(o.SizeUnit)
		if !ok {
			continue
		}
		if o.Vendor != "" && !strings.EqualFold(o.Vendor, req.Vendor) {
			continue
		}
		if !o.Contains(size) || !o.EffectiveAt(req.AsOf) {
			continue
		}
		match := o
		if match.Source == "" {
			match.Source = s.name
		}
		return &match, nil
	}
	return nil, nil
}

// FallbackPrice is a static constant used when no table can price a category
type FallbackPrice struct {
	Category  types.EquipmentCategory `json:"category"`
	PriceUnit types.Unit              `json:"price_unit"`
	UnitPrice decimal.Decimal         `json:"unit_price"`
	Source    string                  `json:"source,omitempty"`
}

// tier converts the constant into an unbounded fallback-confidence tier
func (f FallbackPrice) tier(req Request) types.PriceTier {
	source := f.Source
	if source == "" {
		source = "fallback constant"
	}
	return types.PriceTier{
		Category:     f.Category,
		SizeUnit:     req.Unit,
		PriceUnit:    f.PriceUnit,
		UnitPrice:    f.UnitPrice,
		Source:       source,
		Confidence:   confidence.Fallback,
		ResolvedFrom: types.SourceFallback,
	}
}

// DefaultFallbacks returns conservative built-in constants
func DefaultFallbacks() []FallbackPrice {
	return []FallbackPrice{
		{Category: types.CategoryBattery, PriceUnit: types.UnitKWh, UnitPrice: decimal.NewFromInt(350)},
		{Category: types.CategoryPCS, PriceUnit: types.UnitKW, UnitPrice: decimal.NewFromInt(150)},
		{Category: types.CategorySolar, PriceUnit: types.UnitKW, UnitPrice: decimal.NewFromInt(1400)},
		{Category: types.CategoryGenerator, PriceUnit: types.UnitKW, UnitPrice: decimal.NewFromInt(800)},
		{Category: types.CategoryEVL2, PriceUnit: types.UnitEach, UnitPrice: decimal.NewFromInt(6000)},
		{Category: types.CategoryEVDCFC, PriceUnit: types.UnitEach, UnitPrice: decimal.NewFromInt(95000)},
		{Category: types.CategoryEVHPC, PriceUnit: types.UnitEach, UnitPrice: decimal.NewFromInt(180000)},
	}
}

// sortTiers orders tiers deterministically: by unit, vendor, then band
func sortTiers(tiers []types.PriceTier) {
	sort.SliceStable(tiers, func(i, j int) bool {
		a, b := tiers[i], tiers[j]
		if a.SizeUnit != b.SizeUnit {
			return a.SizeUnit < b.SizeUnit
		}
		if a.Vendor != b.Vendor {
			return a.Vendor < b.Vendor
		}
		return a.Min < b.Min
	})
}
