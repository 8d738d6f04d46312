// Package policytest provides a complete policy for tests.
// The numbers are illustrative fixtures, not recommended production values.
package policytest

import (
	"energy-quote/core/policy"
	"energy-quote/core/types"
)

// Rate returns a pointer to r for the required margin thresholds
func Rate(r float64) *float64 {
	return &r
}

// Fixture returns a fresh, valid policy. Callers may mutate the result.
func Fixture() *policy.Config {
	return &policy.Config{
		Version: "test-1",
		Margin: policy.MarginPolicy{
			DefaultRate: 0.20,
			CategoryRates: map[types.EquipmentCategory]float64{
				types.CategoryBattery: 0.25,
				types.CategorySolar:   0.18,
			},
			SegmentAdjustments: map[string]float64{
				"data_center": -0.05,
			},
			FloorRate:               Rate(0.0),
			CeilingRate:             Rate(0.45),
			ReviewBelowMarketRate:   Rate(-0.15),
			ReviewOnFallbackPricing: true,
		},
		Sizing: policy.SizingPolicy{
			DefaultStoragePowerRatio: 0.6,
			MinStoragePowerRatio:     0.5,
			MaxStoragePowerRatio:     0.7,
			DefaultDurationHours:     4,
			DefaultOperatingHours:    12,
			DefaultLoadFactor:        0.55,
			SolarRatio:               0.4,
			SolarWattsPerSqFt:        12,
			RoofUsableFraction:       0.6,
			GeneratorReserveRatio:    0.8,
			GeneratorGridConnections: []string{"unreliable", "off_grid", "microgrid"},
			PCSRatio:                 1.0,
		},
		Finance: policy.FinancePolicy{
			DiscountRate:     0.08,
			HorizonYears:     25,
			EscalationRate:   0.03,
			OMRate:           0.015,
			OMEscalationRate: 0.02,
			DefaultChemistry: "lfp",
			DegradationRates: map[string]float64{
				"lfp": 0.02,
				"nmc": 0.025,
			},
			CyclesPerYear:       350,
			RoundTripEfficiency: 0.88,
			PeakShavingFactor:   0.75,
			MonteCarlo: policy.MonteCarloPolicy{
				Iterations:      2000,
				EscalationSD:    0.01,
				DegradationSD:   0.005,
				UtilizationMin:  0.8,
				UtilizationMax:  1.1,
				VolatilityRatio: 0.3,
			},
		},
		Incentives: policy.IncentivePolicy{
			BaseRate: 0.30,
			MaxRate:  0.50,
			EligibleCategories: []types.EquipmentCategory{
				types.CategoryBattery, types.CategoryPCS, types.CategorySolar,
			},
			Adders: []policy.CreditAdder{
				{Name: "energy_community", Rate: 0.10, Condition: types.Condition{Field: "energyCommunity", Op: types.OpTruthy}},
				{Name: "domestic_content", Rate: 0.10, Condition: types.Condition{Field: "domesticContent", Op: types.OpTruthy}},
				{Name: "low_income", Rate: 0.10, Condition: types.Condition{Field: "lowIncomeSiting", Op: types.OpTruthy}},
			},
		},
		Benchmarks: policy.BenchmarkPolicy{
			WarningTolerance:  0.03,
			CriticalTolerance: 0.15,
			References: []policy.Benchmark{
				{Metric: "storage_cost_per_kwh", Min: 110, Max: 200, Source: "industry survey"},
				{Metric: "payback_years", Min: 3, Max: 12, Source: "industry survey"},
			},
		},
		Regions: map[string]policy.RegionRates{
			policy.DefaultRegion: {EnergyRate: 0.15, DemandCharge: 18, PeakSpread: 0.10, SolarYield: 1400},
			"ca":                 {EnergyRate: 0.24, DemandCharge: 28, PeakSpread: 0.18, SolarYield: 1650},
		},
		PostalPrefixes: map[string]string{
			"9": "ca",
		},
	}
}
