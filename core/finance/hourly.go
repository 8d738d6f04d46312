// Package finance - 8760 hourly dispatch
package finance

import (
	"math"
	"sort"

	"energy-quote/core/policy"
	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
)

// HoursPerYear is the length of an hourly profile
const HoursPerYear = 8760

// peak price window, inclusive start, exclusive end
const (
	peakPriceStart = 16
	peakPriceEnd   = 22
)

// bisection steps when solving the daily shaving threshold
const shaveIterations = 40

var daysPerMonth = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// loadShape is the fraction of peak load by hour of day
var loadShape = [24]float64{
	0.45, 0.45, 0.45, 0.45, 0.45, 0.45,
	0.70, 0.70, 0.70, 0.70,
	0.85, 0.85, 0.85, 0.85,
	1.00, 1.00, 1.00, 1.00, 1.00, 1.00,
	0.60, 0.60, 0.60, 0.60,
}

// HourlyProfile is a year of hourly load and energy price
type HourlyProfile struct {
	LoadKW      []float64 `json:"load_kw"`
	PricePerKWh []float64 `json:"price_per_kwh"`
}

// Validate checks both series cover the whole year
func (p *HourlyProfile) Validate() error {
	if len(p.LoadKW) != HoursPerYear || len(p.PricePerKWh) != HoursPerYear {
		return qerrors.Input("hourly profile must have 8760 load and price values").
			WithContext("load_hours", len(p.LoadKW)).
			WithContext("price_hours", len(p.PricePerKWh))
	}
	return nil
}

// SynthesizeProfile builds a year from a daily load shape with a summer peak
// and a two-level tariff whose evening window carries the peak spread.
func SynthesizeProfile(peakKW float64, r policy.RegionRates) *HourlyProfile {
	p := &HourlyProfile{
		LoadKW:      make([]float64, HoursPerYear),
		PricePerKWh: make([]float64, HoursPerYear),
	}
	for h := 0; h < HoursPerYear; h++ {
		day, hour := h/24, h%24
		season := 0.85 + 0.15*math.Cos(2*math.Pi*float64(day-196)/365)
		p.LoadKW[h] = peakKW * loadShape[hour] * season

		p.PricePerKWh[h] = r.EnergyRate
		if hour >= peakPriceStart && hour < peakPriceEnd {
			p.PricePerKWh[h] += r.PeakSpread
		}
	}
	return p
}

// HourlyAnalysis is the year-one result of hour-by-hour dispatch
type HourlyAnalysis struct {
	DemandCharge float64 `json:"demand_charge"`
	Arbitrage    float64 `json:"arbitrage"`
	Solar        float64 `json:"solar"`
	Total        float64 `json:"total"`

	// SimplifiedTotal is the annual-average estimate being cross-checked
	SimplifiedTotal float64 `json:"simplified_total"`

	// Deviation is (Total - SimplifiedTotal) / SimplifiedTotal
	Deviation float64 `json:"deviation"`

	// PeakReductionKW is the billed demand reduction per month
	PeakReductionKW [12]float64 `json:"peak_reduction_kw"`

	DischargedKWh float64 `json:"discharged_kwh"`
	Synthesized   bool    `json:"synthesized"`
}

// HourlyInputs configures a dispatch run. Profile may be nil.
type HourlyInputs struct {
	Sizing     *types.SizingResult
	Finance    policy.FinancePolicy
	Rates      policy.RegionRates
	Profile    *HourlyProfile
	Simplified Savings
}

// Hourly dispatches storage day by day against the profile. Each day the
// battery first shaves the daily peak down to the lowest threshold its power
// and energy allow, spends leftover energy on the highest-priced hours, then
// recharges in the cheapest hours without exceeding the threshold.
func Hourly(in HourlyInputs) (*HourlyAnalysis, error) {
	out := &HourlyAnalysis{SimplifiedTotal: in.Simplified.Total}

	profile := in.Profile
	if profile == nil {
		profile = SynthesizeProfile(in.Sizing.PeakDemandKW, in.Rates)
		out.Synthesized = true
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	powerKW := in.Sizing.StoragePowerKW
	energyKWh := in.Sizing.StorageEnergyKWh
	rte := in.Finance.RoundTripEfficiency

	net := make([]float64, HoursPerYear)
	copy(net, profile.LoadKW)

	if powerKW > 0 && energyKWh > 0 {
		for day := 0; day < HoursPerYear/24; day++ {
			lo, hi := day*24, day*24+24
			dis, chg := dispatchDay(profile.LoadKW[lo:hi], profile.PricePerKWh[lo:hi], powerKW, energyKWh, rte)
			for i := range dis {
				net[lo+i] += chg[i] - dis[i]
				out.Arbitrage += (dis[i] - chg[i]) * profile.PricePerKWh[lo+i]
				out.DischargedKWh += dis[i]
			}
		}
	}

	h := 0
	for m, days := range daysPerMonth {
		end := h + days*24
		before, after := maxOf(profile.LoadKW[h:end]), maxOf(net[h:end])
		out.PeakReductionKW[m] = before - after
		out.DemandCharge += (before - after) * in.Rates.DemandCharge
		h = end
	}

	out.Solar = solarValue(in.Sizing.SolarKW, in.Rates.SolarYield, profile.PricePerKWh)

	out.Total = out.DemandCharge + out.Arbitrage + out.Solar
	if out.SimplifiedTotal != 0 {
		out.Deviation = (out.Total - out.SimplifiedTotal) / out.SimplifiedTotal
	}
	return out, nil
}

func dispatchDay(load, price []float64, powerKW, energyKWh, rte float64) (dis, chg []float64) {
	dis = make([]float64, len(load))
	chg = make([]float64, len(load))

	threshold := shaveThreshold(load, powerKW, energyKWh, rte)
	used := 0.0
	for i, l := range load {
		dis[i] = math.Min(powerKW, math.Max(0, l-threshold))
		used += dis[i]
	}

	// leftover energy goes to the highest-priced hours while it can still be
	// recharged under the threshold
	energyLeft := energyKWh - used
	chargeLeft := rte*rechargeRoom(load, dis, threshold, powerKW) - used
	cheapest := minOf(price)
	for _, i := range hoursBy(price, true) {
		if energyLeft <= 0 || chargeLeft <= 0 || price[i]*rte <= cheapest {
			break
		}
		lost := 0.0
		if dis[i] == 0 {
			lost = rte * math.Min(powerKW, math.Max(0, threshold-load[i]))
		}
		d := math.Min(math.Min(powerKW-dis[i], load[i]-dis[i]), math.Min(energyLeft, chargeLeft-lost))
		if d <= 0 {
			continue
		}
		dis[i] += d
		energyLeft -= d
		chargeLeft -= d + lost
	}

	needed := 0.0
	for _, d := range dis {
		needed += d / rte
	}
	for _, i := range hoursBy(price, false) {
		if needed <= 0 {
			break
		}
		if dis[i] > 0 {
			continue
		}
		c := math.Min(math.Min(powerKW, math.Max(0, threshold-load[i])), needed)
		chg[i] = c
		needed -= c
	}
	return dis, chg
}

// shaveThreshold finds the lowest load level the battery can hold the day to,
// given that the energy discharged above it must be recharged below it
func shaveThreshold(load []float64, powerKW, energyKWh, rte float64) float64 {
	peak := maxOf(load)
	none := make([]float64, len(load))
	feasible := func(t float64) bool {
		need := 0.0
		for _, l := range load {
			need += math.Min(powerKW, math.Max(0, l-t))
		}
		return need <= energyKWh && need <= rte*rechargeRoom(load, none, t, powerKW)
	}

	lo, hi := math.Max(0, peak-powerKW), peak
	if feasible(lo) {
		return lo
	}
	for i := 0; i < shaveIterations; i++ {
		mid := (lo + hi) / 2
		if feasible(mid) {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi
}

// rechargeRoom is the grid energy that can be drawn in non-discharging hours
// without pushing load above the threshold
func rechargeRoom(load, dis []float64, threshold, powerKW float64) float64 {
	room := 0.0
	for i, l := range load {
		if dis[i] == 0 && l < threshold {
			room += math.Min(powerKW, threshold-l)
		}
	}
	return room
}

// hoursBy returns hour indexes ordered by price, ties by index
func hoursBy(price []float64, descending bool) []int {
	idx := make([]int, len(price))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		if descending {
			return price[idx[a]] > price[idx[b]]
		}
		return price[idx[a]] < price[idx[b]]
	})
	return idx
}

// solarValue spreads annual yield over daylight hours with a half-sine shape
func solarValue(kw, yield float64, price []float64) float64 {
	if kw <= 0 || yield <= 0 {
		return 0
	}
	var shape [24]float64
	daily := 0.0
	for hour := 6; hour <= 18; hour++ {
		shape[hour] = math.Sin(math.Pi * float64(hour-6) / 12)
		daily += shape[hour]
	}
	scale := kw * yield / (daily * HoursPerYear / 24)

	value := 0.0
	for h, p := range price {
		value += shape[h%24] * scale * p
	}
	return value
}

func maxOf(v []float64) float64 {
	m := math.Inf(-1)
	for _, x := range v {
		m = math.Max(m, x)
	}
	return m
}

func minOf(v []float64) float64 {
	m := math.Inf(1)
	for _, x := range v {
		m = math.Min(m, x)
	}
	return m
}
