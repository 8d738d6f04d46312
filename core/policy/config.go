// Package policy holds the injected quote policy: margin rules, sizing ratios,
// financial assumptions, incentive rules and benchmark bands.
// A Config is a value passed into each pipeline invocation; nothing in core
// reads policy from global state.
package policy

import (
	"encoding/json"
	"sort"
	"strings"

	"energy-quote/core/determinism"
	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
)

// DefaultRegion is the region row used when no other row matches
const DefaultRegion = "default"

// Config is the complete, versioned policy
type Config struct {
	Version    string                 `json:"version"`
	Margin     MarginPolicy           `json:"margin"`
	Sizing     SizingPolicy           `json:"sizing"`
	Finance    FinancePolicy          `json:"finance"`
	Incentives IncentivePolicy        `json:"incentives"`
	Benchmarks BenchmarkPolicy        `json:"benchmarks"`
	Regions    map[string]RegionRates `json:"regions"`

	// PostalPrefixes maps a postal code prefix to a region key
	PostalPrefixes map[string]string `json:"postal_prefixes,omitempty"`
}

// MarginPolicy converts base cost into sell price.
// FloorRate, CeilingRate and ReviewBelowMarketRate have no defaults: the
// policy owner must supply them.
type MarginPolicy struct {
	// DefaultRate applies to categories without their own rate
	DefaultRate float64 `json:"default_rate"`

	// CategoryRates overrides DefaultRate per equipment category
	CategoryRates map[types.EquipmentCategory]float64 `json:"category_rates,omitempty"`

	// SegmentAdjustments is added to the rate for a facility segment (industry)
	SegmentAdjustments map[string]float64 `json:"segment_adjustments,omitempty"`

	// FloorRate is the minimum margin rate; sell >= base * (1 + FloorRate)
	FloorRate *float64 `json:"floor_rate"`

	// CeilingRate is the maximum margin rate
	CeilingRate *float64 `json:"ceiling_rate"`

	// ReviewBelowMarketRate flags review when (sell - market) / market falls below it
	ReviewBelowMarketRate *float64 `json:"review_below_market_rate"`

	// ReviewOnFallbackPricing flags review when any line was priced from a fallback constant
	ReviewOnFallbackPricing bool `json:"review_on_fallback_pricing"`
}

// RateFor returns the configured (pre-clamp) margin rate for a category and segment
func (m MarginPolicy) RateFor(category types.EquipmentCategory, segment string) float64 {
	rate := m.DefaultRate
	if r, ok := m.CategoryRates[category]; ok {
		rate = r
	}
	return rate + m.SegmentAdjustments[segment]
}

// SizingPolicy holds storage, solar and generator sizing ratios
type SizingPolicy struct {
	// DefaultStoragePowerRatio is storage kW / peak kW when the template sets none
	DefaultStoragePowerRatio float64 `json:"default_storage_power_ratio"`

	// MinStoragePowerRatio and MaxStoragePowerRatio bound template ratios
	MinStoragePowerRatio float64 `json:"min_storage_power_ratio"`
	MaxStoragePowerRatio float64 `json:"max_storage_power_ratio"`

	// DefaultDurationHours is storage kWh / storage kW when the template sets none
	DefaultDurationHours float64 `json:"default_duration_hours"`

	// DefaultOperatingHours is used when the facility does not answer operatingHours
	DefaultOperatingHours float64 `json:"default_operating_hours"`

	// DefaultLoadFactor is average load / peak when the template sets none
	DefaultLoadFactor float64 `json:"default_load_factor"`

	// SolarRatio is solar kW / peak kW before any roof cap
	SolarRatio float64 `json:"solar_ratio"`

	// SolarWattsPerSqFt and RoofUsableFraction cap solar by facility area
	SolarWattsPerSqFt  float64 `json:"solar_watts_per_sqft"`
	RoofUsableFraction float64 `json:"roof_usable_fraction"`

	// GeneratorReserveRatio is generator kW / peak kW on weak or absent grids
	GeneratorReserveRatio float64 `json:"generator_reserve_ratio"`

	// GeneratorGridConnections lists gridConnection answers that need a generator
	GeneratorGridConnections []string `json:"generator_grid_connections"`

	// PCSRatio is power conversion kW per storage kW
	PCSRatio float64 `json:"pcs_ratio"`
}

// FinancePolicy holds cash-flow assumptions
type FinancePolicy struct {
	DiscountRate     float64 `json:"discount_rate"`
	HorizonYears     int     `json:"horizon_years"`
	EscalationRate   float64 `json:"escalation_rate"`
	OMRate           float64 `json:"om_rate"`
	OMEscalationRate float64 `json:"om_escalation_rate"`

	// DefaultChemistry selects a degradation rate when the facility names none
	DefaultChemistry string             `json:"default_chemistry"`
	DegradationRates map[string]float64 `json:"degradation_rates"`

	CyclesPerYear       float64 `json:"cycles_per_year"`
	RoundTripEfficiency float64 `json:"round_trip_efficiency"`

	// PeakShavingFactor is the share of storage kW that reduces billed demand
	PeakShavingFactor float64 `json:"peak_shaving_factor"`

	MonteCarlo MonteCarloPolicy `json:"monte_carlo"`
}

// DegradationRate returns the annual degradation for a chemistry
func (f FinancePolicy) DegradationRate(chemistry string) (float64, bool) {
	if chemistry == "" {
		chemistry = f.DefaultChemistry
	}
	r, ok := f.DegradationRates[strings.ToLower(chemistry)]
	return r, ok
}

// MonteCarloPolicy configures risk sampling distributions
type MonteCarloPolicy struct {
	Iterations int `json:"iterations"`

	// EscalationSD is the standard deviation of the sampled escalation rate
	EscalationSD float64 `json:"escalation_sd"`

	// DegradationSD is the standard deviation of the sampled degradation rate
	DegradationSD float64 `json:"degradation_sd"`

	// UtilizationMin and UtilizationMax bound the uniform utilization multiplier
	UtilizationMin float64 `json:"utilization_min"`
	UtilizationMax float64 `json:"utilization_max"`

	// VolatilityRatio derives a quick-estimate sd as |baseNPV| * ratio
	VolatilityRatio float64 `json:"volatility_ratio"`
}

// IncentivePolicy holds investment-credit rules
type IncentivePolicy struct {
	BaseRate           float64                   `json:"base_rate"`
	MaxRate            float64                   `json:"max_rate"`
	EligibleCategories []types.EquipmentCategory `json:"eligible_categories"`
	Adders             []CreditAdder             `json:"adders,omitempty"`
}

// Eligible reports whether a category earns the credit
func (p IncentivePolicy) Eligible(category types.EquipmentCategory) bool {
	for _, c := range p.EligibleCategories {
		if c == category {
			return true
		}
	}
	return false
}

// CreditAdder is a bonus rate gated by its own eligibility predicate
type CreditAdder struct {
	Name      string          `json:"name"`
	Rate      float64         `json:"rate"`
	Condition types.Condition `json:"condition"`
}

// BenchmarkPolicy holds reference ranges and tolerance bands
type BenchmarkPolicy struct {
	WarningTolerance  float64     `json:"warning_tolerance"`
	CriticalTolerance float64     `json:"critical_tolerance"`
	References        []Benchmark `json:"references"`
}

// Benchmark is a known-good industry range for one metric
type Benchmark struct {
	Metric string  `json:"metric"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Source string  `json:"source,omitempty"`
}

// RegionRates are the utility rates used to value savings
type RegionRates struct {
	// EnergyRate is $/kWh
	EnergyRate float64 `json:"energy_rate"`

	// DemandCharge is $/kW-month
	DemandCharge float64 `json:"demand_charge"`

	// PeakSpread is the on-peak minus off-peak $/kWh
	PeakSpread float64 `json:"peak_spread"`

	// SolarYield is kWh per kW of solar per year
	SolarYield float64 `json:"solar_yield"`
}

// RatesFor resolves utility rates for a location: region code, then the
// longest matching postal prefix, then the default row.
func (c *Config) RatesFor(loc types.Location) (RegionRates, string) {
	if loc.RegionCode != "" {
		key := strings.ToLower(loc.RegionCode)
		if r, ok := c.Regions[key]; ok {
			return r, key
		}
	}
	if loc.PostalCode != "" {
		best := ""
		for prefix := range c.PostalPrefixes {
			if strings.HasPrefix(loc.PostalCode, prefix) && len(prefix) > len(best) {
				best = prefix
			}
		}
		if best != "" {
			key := c.PostalPrefixes[best]
			if r, ok := c.Regions[key]; ok {
				return r, key
			}
		}
	}
	return c.Regions[DefaultRegion], DefaultRegion
}

// Hash returns a content hash identifying this policy version in audit records
func (c *Config) Hash() string {
	data, _ := json.Marshal(c)
	return determinism.ComputeHash(data).Hex()[:16]
}

// Validate checks the required thresholds are present and consistent
func (m MarginPolicy) Validate() error {
	switch {
	case m.FloorRate == nil:
		return qerrors.InvalidPolicy("margin floor_rate is required")
	case m.CeilingRate == nil:
		return qerrors.InvalidPolicy("margin ceiling_rate is required")
	case m.ReviewBelowMarketRate == nil:
		return qerrors.InvalidPolicy("margin review_below_market_rate is required")
	case *m.FloorRate < 0:
		return qerrors.InvalidPolicy("margin floor_rate %v is negative", *m.FloorRate)
	case *m.FloorRate > *m.CeilingRate:
		return qerrors.InvalidPolicy("margin floor_rate %v exceeds ceiling_rate %v", *m.FloorRate, *m.CeilingRate)
	case m.DefaultRate < -1:
		return qerrors.InvalidPolicy("margin default_rate %v is below -100%%", m.DefaultRate)
	}
	return nil
}

// Validate checks every threshold the engine relies on.
// Any inconsistency is an InvalidPolicyConfig hard failure.
func (c *Config) Validate() error {
	if err := c.Margin.Validate(); err != nil {
		return err
	}

	s := c.Sizing
	switch {
	case s.MinStoragePowerRatio <= 0 || s.MaxStoragePowerRatio > 1:
		return qerrors.InvalidPolicy("storage power ratio bounds [%v,%v] must lie in (0,1]", s.MinStoragePowerRatio, s.MaxStoragePowerRatio)
	case s.MinStoragePowerRatio > s.MaxStoragePowerRatio:
		return qerrors.InvalidPolicy("min_storage_power_ratio %v exceeds max %v", s.MinStoragePowerRatio, s.MaxStoragePowerRatio)
	case s.DefaultStoragePowerRatio < s.MinStoragePowerRatio || s.DefaultStoragePowerRatio > s.MaxStoragePowerRatio:
		return qerrors.InvalidPolicy("default_storage_power_ratio %v outside [%v,%v]", s.DefaultStoragePowerRatio, s.MinStoragePowerRatio, s.MaxStoragePowerRatio)
	case s.DefaultDurationHours <= 0:
		return qerrors.InvalidPolicy("default_duration_hours must be positive")
	case s.DefaultOperatingHours <= 0 || s.DefaultOperatingHours > 24:
		return qerrors.InvalidPolicy("default_operating_hours %v outside (0,24]", s.DefaultOperatingHours)
	case s.DefaultLoadFactor <= 0 || s.DefaultLoadFactor > 1:
		return qerrors.InvalidPolicy("default_load_factor %v outside (0,1]", s.DefaultLoadFactor)
	case s.SolarRatio < 0 || s.GeneratorReserveRatio < 0 || s.PCSRatio < 0:
		return qerrors.InvalidPolicy("sizing ratios must not be negative")
	}

	f := c.Finance
	switch {
	case f.DiscountRate <= -1:
		return qerrors.InvalidPolicy("discount_rate %v must exceed -100%%", f.DiscountRate)
	case f.HorizonYears < 1:
		return qerrors.InvalidPolicy("horizon_years must be at least 1")
	case f.RoundTripEfficiency <= 0 || f.RoundTripEfficiency > 1:
		return qerrors.InvalidPolicy("round_trip_efficiency %v outside (0,1]", f.RoundTripEfficiency)
	case f.CyclesPerYear < 0:
		return qerrors.InvalidPolicy("cycles_per_year must not be negative")
	}
	if _, ok := f.DegradationRate(""); !ok {
		return qerrors.InvalidPolicy("default_chemistry %q has no degradation rate", f.DefaultChemistry)
	}
	for chem, r := range f.DegradationRates {
		if r < 0 || r >= 1 {
			return qerrors.InvalidPolicy("degradation rate for %q is %v, must be in [0,1)", chem, r)
		}
	}
	mc := f.MonteCarlo
	if mc.UtilizationMin > mc.UtilizationMax || mc.EscalationSD < 0 || mc.DegradationSD < 0 || mc.VolatilityRatio < 0 {
		return qerrors.InvalidPolicy("monte_carlo distribution parameters are inconsistent")
	}

	inc := c.Incentives
	if inc.BaseRate < 0 || inc.MaxRate < inc.BaseRate {
		return qerrors.InvalidPolicy("incentive base_rate %v must be >= 0 and <= max_rate %v", inc.BaseRate, inc.MaxRate)
	}
	for _, a := range inc.Adders {
		if a.Rate < 0 {
			return qerrors.InvalidPolicy("incentive adder %q has negative rate", a.Name)
		}
		if err := a.Condition.Validate(); err != nil {
			return qerrors.Wrap(qerrors.TypeInvalidPolicyConfig, "incentive adder "+a.Name, err)
		}
	}

	b := c.Benchmarks
	if b.WarningTolerance < 0 || b.CriticalTolerance < b.WarningTolerance {
		return qerrors.InvalidPolicy("benchmark warning_tolerance %v must be >= 0 and <= critical_tolerance %v", b.WarningTolerance, b.CriticalTolerance)
	}
	for _, ref := range b.References {
		if ref.Max < ref.Min {
			return qerrors.InvalidPolicy("benchmark %q has max below min", ref.Metric)
		}
	}

	if _, ok := c.Regions[DefaultRegion]; !ok {
		return qerrors.InvalidPolicy("regions must include a %q row", DefaultRegion)
	}
	for _, key := range sortedRegionTargets(c.PostalPrefixes) {
		if _, ok := c.Regions[key]; !ok {
			return qerrors.InvalidPolicy("postal prefix maps to unknown region %q", key)
		}
	}
	return nil
}

func sortedRegionTargets(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
