// Package finance - Cash-flow metrics
package finance

import (
	"math"

	qerrors "energy-quote/internal/errors"
)

// IRR solver settings
const (
	IRRInitialGuess   = 0.10
	IRRTolerance      = 1e-5
	IRRMaxIterations  = 100
	irrMinDerivative  = 1e-12
	irrLowerRateLimit = -0.9999
)

// CashFlowInputs drive the annual cash-flow series
type CashFlowInputs struct {
	AnnualSavings    float64
	AnnualOM         float64
	DegradationRate  float64
	EscalationRate   float64
	OMEscalationRate float64
	Years            int
}

// CashFlows returns CF_1..CF_n where
// CF_t = savings × (1-d)^t × (1+e)^(t-1) - O&M × (1+omEsc)^(t-1)
func CashFlows(in CashFlowInputs) []float64 {
	flows := make([]float64, in.Years)
	for t := 1; t <= in.Years; t++ {
		retention := math.Pow(1-in.DegradationRate, float64(t))
		escalation := math.Pow(1+in.EscalationRate, float64(t-1))
		om := in.AnnualOM * math.Pow(1+in.OMEscalationRate, float64(t-1))
		flows[t-1] = in.AnnualSavings*retention*escalation - om
	}
	return flows
}

// DegradationCurve returns annual capacity retention (1-d)^t for t = 1..years
func DegradationCurve(rate float64, years int) []float64 {
	curve := make([]float64, years)
	for t := 1; t <= years; t++ {
		curve[t-1] = math.Pow(1-rate, float64(t))
	}
	return curve
}

// NPV returns -investment + Σ CF_t / (1+r)^t
func NPV(rate, investment float64, flows []float64) float64 {
	npv := -investment
	for t, cf := range flows {
		npv += cf / math.Pow(1+rate, float64(t+1))
	}
	return npv
}

// npvDerivative is d NPV / d r
func npvDerivative(rate float64, flows []float64) float64 {
	d := 0.0
	for i, cf := range flows {
		t := float64(i + 1)
		d -= t * cf / math.Pow(1+rate, t+1)
	}
	return d
}

// IRR solves NPV(r) = 0 by Newton-Raphson from a 10% guess. A series with no
// sign change, a flat derivative, or no convergence within the iteration
// limit is IrrNotConvergent; no approximate rate is returned.
func IRR(investment float64, flows []float64) (float64, error) {
	if !hasSignChange(investment, flows) {
		return 0, qerrors.IrrNotConvergent(0, math.NaN()).
			WithContext("reason", "cash flows never change sign")
	}

	r := IRRInitialGuess
	for i := 1; i <= IRRMaxIterations; i++ {
		f := NPV(r, investment, flows)
		df := npvDerivative(r, flows)
		if math.Abs(df) < irrMinDerivative || math.IsNaN(df) {
			return 0, qerrors.IrrNotConvergent(i, r).WithContext("reason", "flat derivative")
		}
		next := r - f/df
		if next <= irrLowerRateLimit || math.IsNaN(next) || math.IsInf(next, 0) {
			return 0, qerrors.IrrNotConvergent(i, next).WithContext("reason", "rate left the valid domain")
		}
		if math.Abs(next-r) < IRRTolerance {
			return next, nil
		}
		r = next
	}
	return 0, qerrors.IrrNotConvergent(IRRMaxIterations, r)
}

func hasSignChange(investment float64, flows []float64) bool {
	pos, neg := investment < 0, investment > 0
	for _, cf := range flows {
		if cf > 0 {
			pos = true
		} else if cf < 0 {
			neg = true
		}
	}
	return pos && neg
}

// Payback returns the fractional year in which cumulative undiscounted cash
// flow first covers the investment, or nil if it never does.
func Payback(investment float64, flows []float64) *float64 {
	if investment <= 0 {
		zero := 0.0
		return &zero
	}
	remaining := investment
	for i, cf := range flows {
		if cf > 0 && cf >= remaining {
			years := float64(i) + remaining/cf
			return &years
		}
		remaining -= cf
	}
	return nil
}
