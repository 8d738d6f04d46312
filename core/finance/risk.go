// Package finance - Risk bands
package finance

import (
	"context"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"energy-quote/core/determinism"
	"energy-quote/core/policy"
	qerrors "energy-quote/internal/errors"
)

// Risk band methods
const (
	MethodMonteCarlo          = "monte_carlo"
	MethodNormalApproximation = "normal_approximation"
)

// z-score of the 90th percentile of a standard normal
const z90 = 1.2815515655446004

// blockSize is the number of iterations drawn from one seeded stream.
// Streams are keyed by block, so results do not depend on the worker count.
const blockSize = 256

// RiskBands summarizes the NPV distribution
type RiskBands struct {
	Method              string  `json:"method"`
	Iterations          int     `json:"iterations,omitempty"`
	P10                 float64 `json:"p10"`
	P50                 float64 `json:"p50"`
	P90                 float64 `json:"p90"`
	StdDev              float64 `json:"std_dev"`
	ProbabilityPositive float64 `json:"probability_positive"`
}

// MonteCarloInputs configures a simulation run
type MonteCarloInputs struct {
	Investment   float64
	Base         CashFlowInputs
	DiscountRate float64
	Policy       policy.MonteCarloPolicy
	Iterations   int
	Workers      int
	Seed         uint64
}

// MonteCarlo resamples escalation, degradation and utilization for each
// iteration and recomputes NPV. Iterations run in parallel blocks; results
// are written by index and sorted before percentiles are taken.
func MonteCarlo(ctx context.Context, in MonteCarloInputs) (RiskBands, error) {
	n := in.Iterations
	if n <= 0 {
		return RiskBands{}, qerrors.Input("monte carlo needs a positive iteration count")
	}
	workers := in.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]float64, n)
	blocks := (n + blockSize - 1) / blockSize

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for b := 0; b < blocks; b++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(in.Seed, uint64(b)))
			for i := b * blockSize; i < min((b+1)*blockSize, n); i++ {
				results[i] = sampleNPV(rng, in)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RiskBands{}, err
	}

	bands := summarize(results)
	bands.Method = MethodMonteCarlo
	bands.Iterations = n
	return bands, nil
}

func sampleNPV(rng *rand.Rand, in MonteCarloInputs) float64 {
	cf := in.Base
	p := in.Policy

	cf.EscalationRate += p.EscalationSD * rng.NormFloat64()
	cf.DegradationRate = clamp(cf.DegradationRate+p.DegradationSD*rng.NormFloat64(), 0, 0.5)

	util := 1.0
	if p.UtilizationMax > 0 {
		util = p.UtilizationMin + (p.UtilizationMax-p.UtilizationMin)*rng.Float64()
	}
	cf.AnnualSavings *= util

	return NPV(in.DiscountRate, in.Investment, CashFlows(cf))
}

func summarize(npvs []float64) RiskBands {
	sorted := append([]float64(nil), npvs...)
	sort.Float64s(sorted)
	positive := 0
	mean := 0.0
	for _, v := range sorted {
		if v > 0 {
			positive++
		}
		mean += v
	}
	mean /= float64(len(sorted))

	variance := 0.0
	for _, v := range sorted {
		variance += (v - mean) * (v - mean)
	}
	if len(sorted) > 1 {
		variance /= float64(len(sorted) - 1)
	}

	return RiskBands{
		P10:                 determinism.Percentile(sorted, 10),
		P50:                 determinism.Percentile(sorted, 50),
		P90:                 determinism.Percentile(sorted, 90),
		StdDev:              math.Sqrt(variance),
		ProbabilityPositive: float64(positive) / float64(len(sorted)),
	}
}

// QuickRiskBands approximates the NPV distribution as normal around baseNPV
// with sd = |baseNPV| × volatility. The absolute value keeps a negative base
// NPV from inverting the probability.
func QuickRiskBands(baseNPV, volatility float64) RiskBands {
	sd := math.Abs(baseNPV) * volatility
	bands := RiskBands{
		Method: MethodNormalApproximation,
		P10:    baseNPV - z90*sd,
		P50:    baseNPV,
		P90:    baseNPV + z90*sd,
		StdDev: sd,
	}
	switch {
	case sd > 0:
		bands.ProbabilityPositive = normalCDF(baseNPV / sd)
	case baseNPV > 0:
		bands.ProbabilityPositive = 1
	}
	return bands
}

func normalCDF(z float64) float64 {
	return 0.5 * math.Erfc(-z/math.Sqrt2)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
