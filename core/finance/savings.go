// Package finance - Annual savings and levelized cost
package finance

import (
	"energy-quote/core/policy"
	"energy-quote/core/types"
)

// Savings is the simplified annual-average savings model
type Savings struct {
	DemandCharge float64 `json:"demand_charge"`
	Arbitrage    float64 `json:"arbitrage"`
	Solar        float64 `json:"solar"`
	Total        float64 `json:"total"`
}

// AnnualSavings values a sized system against regional rates:
// demand shaving, daily peak/off-peak arbitrage and solar offset.
func AnnualSavings(s *types.SizingResult, f policy.FinancePolicy, r policy.RegionRates) Savings {
	out := Savings{
		DemandCharge: s.StoragePowerKW * f.PeakShavingFactor * r.DemandCharge * 12,
		Arbitrage:    s.StorageEnergyKWh * f.CyclesPerYear * f.RoundTripEfficiency * r.PeakSpread,
		Solar:        s.SolarKW * r.SolarYield * r.EnergyRate,
	}
	out.Total = out.DemandCharge + out.Arbitrage + out.Solar
	return out
}

// LCOS returns (capex + Σ O&M) / Σ delivered kWh, with delivered energy
// degraded each year. nil when the system delivers no storage energy.
func LCOS(capex float64, storageKWh float64, f policy.FinancePolicy, degradation float64) *float64 {
	if storageKWh <= 0 || f.CyclesPerYear <= 0 {
		return nil
	}
	curve := DegradationCurve(degradation, f.HorizonYears)

	cost := capex
	delivered := 0.0
	om := capex * f.OMRate
	for t, retention := range curve {
		cost += om * pow1p(f.OMEscalationRate, t)
		delivered += storageKWh * f.CyclesPerYear * f.RoundTripEfficiency * retention
	}
	if delivered <= 0 {
		return nil
	}
	lcos := cost / delivered
	return &lcos
}

// pow1p returns (1+r)^n for small integer n
func pow1p(r float64, n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= 1 + r
	}
	return out
}
