// Package hcl - Policy files
package hcl

import (
	"energy-quote/core/policy"
	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
)

type policyFile struct {
	Version        string            `hcl:"version"`
	Margin         marginBlock       `hcl:"margin,block"`
	Sizing         sizingBlock       `hcl:"sizing,block"`
	Finance        financeBlock      `hcl:"finance,block"`
	Incentives     incentivesBlock   `hcl:"incentives,block"`
	Benchmarks     benchmarksBlock   `hcl:"benchmarks,block"`
	Regions        []regionBlock     `hcl:"region,block"`
	PostalPrefixes map[string]string `hcl:"postal_prefixes,optional"`
}

type marginBlock struct {
	DefaultRate             float64            `hcl:"default_rate"`
	CategoryRates           map[string]float64 `hcl:"category_rates,optional"`
	SegmentAdjustments      map[string]float64 `hcl:"segment_adjustments,optional"`
	FloorRate               *float64           `hcl:"floor_rate,optional"`
	CeilingRate             *float64           `hcl:"ceiling_rate,optional"`
	ReviewBelowMarketRate   *float64           `hcl:"review_below_market_rate,optional"`
	ReviewOnFallbackPricing bool               `hcl:"review_on_fallback_pricing,optional"`
}

type sizingBlock struct {
	DefaultStoragePowerRatio float64  `hcl:"default_storage_power_ratio"`
	MinStoragePowerRatio     float64  `hcl:"min_storage_power_ratio"`
	MaxStoragePowerRatio     float64  `hcl:"max_storage_power_ratio"`
	DefaultDurationHours     float64  `hcl:"default_duration_hours"`
	DefaultOperatingHours    float64  `hcl:"default_operating_hours"`
	DefaultLoadFactor        float64  `hcl:"default_load_factor"`
	SolarRatio               float64  `hcl:"solar_ratio,optional"`
	SolarWattsPerSqFt        float64  `hcl:"solar_watts_per_sqft,optional"`
	RoofUsableFraction       float64  `hcl:"roof_usable_fraction,optional"`
	GeneratorReserveRatio    float64  `hcl:"generator_reserve_ratio,optional"`
	GeneratorGridConnections []string `hcl:"generator_grid_connections,optional"`
	PCSRatio                 float64  `hcl:"pcs_ratio,optional"`
}

type financeBlock struct {
	DiscountRate        float64            `hcl:"discount_rate"`
	HorizonYears        int                `hcl:"horizon_years"`
	EscalationRate      float64            `hcl:"escalation_rate,optional"`
	OMRate              float64            `hcl:"om_rate,optional"`
	OMEscalationRate    float64            `hcl:"om_escalation_rate,optional"`
	DefaultChemistry    string             `hcl:"default_chemistry"`
	DegradationRates    map[string]float64 `hcl:"degradation_rates"`
	CyclesPerYear       float64            `hcl:"cycles_per_year"`
	RoundTripEfficiency float64            `hcl:"round_trip_efficiency"`
	PeakShavingFactor   float64            `hcl:"peak_shaving_factor"`
	MonteCarlo          *monteCarloBlock   `hcl:"monte_carlo,block"`
}

type monteCarloBlock struct {
	Iterations      int     `hcl:"iterations,optional"`
	EscalationSD    float64 `hcl:"escalation_sd,optional"`
	DegradationSD   float64 `hcl:"degradation_sd,optional"`
	UtilizationMin  float64 `hcl:"utilization_min,optional"`
	UtilizationMax  float64 `hcl:"utilization_max,optional"`
	VolatilityRatio float64 `hcl:"volatility_ratio,optional"`
}

type incentivesBlock struct {
	BaseRate           float64      `hcl:"base_rate"`
	MaxRate            float64      `hcl:"max_rate"`
	EligibleCategories []string     `hcl:"eligible_categories"`
	Adders             []adderBlock `hcl:"adder,block"`
}

type adderBlock struct {
	Name string         `hcl:"name,label"`
	Rate float64        `hcl:"rate"`
	When conditionBlock `hcl:"when,block"`
}

type conditionBlock struct {
	Field     string   `hcl:"field"`
	Op        string   `hcl:"op,optional"`
	Threshold float64  `hcl:"threshold,optional"`
	Values    []string `hcl:"values,optional"`
}

func (c conditionBlock) condition() types.Condition {
	op := types.ConditionOp(c.Op)
	if op == "" {
		op = types.OpTruthy
	}
	return types.Condition{Field: c.Field, Op: op, Threshold: c.Threshold, Values: c.Values}
}

type benchmarksBlock struct {
	WarningTolerance  float64          `hcl:"warning_tolerance"`
	CriticalTolerance float64          `hcl:"critical_tolerance"`
	References        []referenceBlock `hcl:"reference,block"`
}

type referenceBlock struct {
	Metric string  `hcl:"metric,label"`
	Min    float64 `hcl:"min"`
	Max    float64 `hcl:"max"`
	Source string  `hcl:"source,optional"`
}

type regionBlock struct {
	Name         string  `hcl:"name,label"`
	EnergyRate   float64 `hcl:"energy_rate"`
	DemandCharge float64 `hcl:"demand_charge"`
	PeakSpread   float64 `hcl:"peak_spread"`
	SolarYield   float64 `hcl:"solar_yield,optional"`
}

// LoadPolicy reads and validates a policy file
func LoadPolicy(path string) (*policy.Config, error) {
	var f policyFile
	if err := decodeFile(path, &f); err != nil {
		return nil, err
	}
	return f.config()
}

// DecodePolicy decodes and validates policy source; filename selects the syntax
func DecodePolicy(filename string, src []byte) (*policy.Config, error) {
	var f policyFile
	if err := decode(filename, src, &f); err != nil {
		return nil, err
	}
	return f.config()
}

func (f policyFile) config() (*policy.Config, error) {
	cfg := &policy.Config{
		Version: f.Version,
		Margin: policy.MarginPolicy{
			DefaultRate:             f.Margin.DefaultRate,
			CategoryRates:           categoryRates(f.Margin.CategoryRates),
			SegmentAdjustments:      f.Margin.SegmentAdjustments,
			FloorRate:               f.Margin.FloorRate,
			CeilingRate:             f.Margin.CeilingRate,
			ReviewBelowMarketRate:   f.Margin.ReviewBelowMarketRate,
			ReviewOnFallbackPricing: f.Margin.ReviewOnFallbackPricing,
		},
		Sizing: policy.SizingPolicy{
			DefaultStoragePowerRatio: f.Sizing.DefaultStoragePowerRatio,
			MinStoragePowerRatio:     f.Sizing.MinStoragePowerRatio,
			MaxStoragePowerRatio:     f.Sizing.MaxStoragePowerRatio,
			DefaultDurationHours:     f.Sizing.DefaultDurationHours,
			DefaultOperatingHours:    f.Sizing.DefaultOperatingHours,
			DefaultLoadFactor:        f.Sizing.DefaultLoadFactor,
			SolarRatio:               f.Sizing.SolarRatio,
			SolarWattsPerSqFt:        f.Sizing.SolarWattsPerSqFt,
			RoofUsableFraction:       f.Sizing.RoofUsableFraction,
			GeneratorReserveRatio:    f.Sizing.GeneratorReserveRatio,
			GeneratorGridConnections: f.Sizing.GeneratorGridConnections,
			PCSRatio:                 f.Sizing.PCSRatio,
		},
		Finance: policy.FinancePolicy{
			DiscountRate:        f.Finance.DiscountRate,
			HorizonYears:        f.Finance.HorizonYears,
			EscalationRate:      f.Finance.EscalationRate,
			OMRate:              f.Finance.OMRate,
			OMEscalationRate:    f.Finance.OMEscalationRate,
			DefaultChemistry:    f.Finance.DefaultChemistry,
			DegradationRates:    f.Finance.DegradationRates,
			CyclesPerYear:       f.Finance.CyclesPerYear,
			RoundTripEfficiency: f.Finance.RoundTripEfficiency,
			PeakShavingFactor:   f.Finance.PeakShavingFactor,
		},
		Incentives: policy.IncentivePolicy{
			BaseRate: f.Incentives.BaseRate,
			MaxRate:  f.Incentives.MaxRate,
		},
		Benchmarks: policy.BenchmarkPolicy{
			WarningTolerance:  f.Benchmarks.WarningTolerance,
			CriticalTolerance: f.Benchmarks.CriticalTolerance,
		},
		Regions:        make(map[string]policy.RegionRates, len(f.Regions)),
		PostalPrefixes: f.PostalPrefixes,
	}

	if mc := f.Finance.MonteCarlo; mc != nil {
		cfg.Finance.MonteCarlo = policy.MonteCarloPolicy{
			Iterations:      mc.Iterations,
			EscalationSD:    mc.EscalationSD,
			DegradationSD:   mc.DegradationSD,
			UtilizationMin:  mc.UtilizationMin,
			UtilizationMax:  mc.UtilizationMax,
			VolatilityRatio: mc.VolatilityRatio,
		}
	}
	for _, c := range f.Incentives.EligibleCategories {
		cfg.Incentives.EligibleCategories = append(cfg.Incentives.EligibleCategories, types.EquipmentCategory(c))
	}
	for _, a := range f.Incentives.Adders {
		cfg.Incentives.Adders = append(cfg.Incentives.Adders, policy.CreditAdder{
			Name:      a.Name,
			Rate:      a.Rate,
			Condition: a.When.condition(),
		})
	}
	for _, ref := range f.Benchmarks.References {
		cfg.Benchmarks.References = append(cfg.Benchmarks.References, policy.Benchmark{
			Metric: ref.Metric,
			Min:    ref.Min,
			Max:    ref.Max,
			Source: ref.Source,
		})
	}
	for _, r := range f.Regions {
		if _, dup := cfg.Regions[r.Name]; dup {
			return nil, qerrors.InvalidPolicy("region %q is declared twice", r.Name)
		}
		cfg.Regions[r.Name] = policy.RegionRates{
			EnergyRate:   r.EnergyRate,
			DemandCharge: r.DemandCharge,
			PeakSpread:   r.PeakSpread,
			SolarYield:   r.SolarYield,
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func categoryRates(in map[string]float64) map[types.EquipmentCategory]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[types.EquipmentCategory]float64, len(in))
	for k, v := range in {
		out[types.EquipmentCategory(k)] = v
	}
	return out
}
