// Package benchmark - Benchmark validation of finished quotes
// Compares key outputs against industry reference ranges. Findings annotate
// the quote; they never block it.
package benchmark

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"energy-quote/core/determinism"
	"energy-quote/core/finance"
	"energy-quote/core/margin"
	"energy-quote/core/policy"
	"energy-quote/core/types"
	"energy-quote/internal/logging"
)

// Metric names observable on a quote
const (
	MetricStorageCostPerKWh = "storage_cost_per_kwh"
	MetricStorageCostPerKW  = "storage_cost_per_kw"
	MetricSolarCostPerWatt  = "solar_cost_per_watt"
	MetricCostPerPeakKW     = "cost_per_peak_kw"
	MetricPaybackYears      = "payback_years"
	MetricLCOS              = "lcos_per_kwh"
	MetricIRR               = "irr"
)

// Severity of a finding
type Severity string

const (
	SeverityPass     Severity = "pass"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Finding is the result of one reference check
type Finding struct {
	Metric    string   `json:"metric"`
	Actual    float64  `json:"actual"`
	Min       float64  `json:"min"`
	Max       float64  `json:"max"`
	Deviation float64  `json:"deviation"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Source    string   `json:"source,omitempty"`
}

// Report is the compliance annotation attached to a quote
type Report struct {
	Passed   bool      `json:"passed"`
	Findings []Finding `json:"findings"`
	Warnings int       `json:"warnings"`
	Critical int       `json:"critical"`

	// Skipped lists references whose metric the quote does not produce
	Skipped []string `json:"skipped,omitempty"`
}

// Inputs are the parts of a finished quote the validator reads
type Inputs struct {
	Sizing   *types.SizingResult
	Envelope *margin.Envelope
	Metrics  *finance.Metrics
}

// Observe extracts the benchmarkable metrics. A metric the quote cannot
// produce (no storage, no payback) is absent rather than zero.
func Observe(in Inputs) map[string]float64 {
	out := make(map[string]float64)
	s := in.Sizing

	if in.Envelope != nil {
		storage := in.Envelope.SellFor(types.CategoryBattery, types.CategoryPCS).Float64()
		if s.StorageEnergyKWh > 0 {
			out[MetricStorageCostPerKWh] = storage / s.StorageEnergyKWh
		}
		if s.StoragePowerKW > 0 {
			out[MetricStorageCostPerKW] = storage / s.StoragePowerKW
		}
		if s.SolarKW > 0 {
			out[MetricSolarCostPerWatt] = in.Envelope.SellFor(types.CategorySolar).Float64() / (s.SolarKW * 1000)
		}
		if s.PeakDemandKW > 0 {
			out[MetricCostPerPeakKW] = in.Envelope.SellPriceTotal().Float64() / s.PeakDemandKW
		}
	}

	if m := in.Metrics; m != nil {
		if m.PaybackYears != nil {
			out[MetricPaybackYears] = *m.PaybackYears
		}
		if m.LCOS != nil {
			out[MetricLCOS] = *m.LCOS
		}
		out[MetricIRR] = m.IRR
	}
	return out
}

// Validator checks quotes against reference ranges
type Validator struct {
	logger *zap.Logger
}

// NewValidator creates a validator
func NewValidator(logger *zap.Logger) *Validator {
	return &Validator{logger: logging.OrNop(logger)}
}

// Validate runs every reference in p against the quote
func Validate(in Inputs, p policy.BenchmarkPolicy) Report {
	return NewValidator(nil).Validate(in, p)
}

// Validate runs every reference in p against the quote.
// Deviation is measured from the nearest bound, relative to that bound;
// beyond WarningTolerance is a warning, beyond CriticalTolerance is critical.
func (v *Validator) Validate(in Inputs, p policy.BenchmarkPolicy) Report {
	observed := Observe(in)
	report := Report{Passed: true}

	for _, ref := range p.References {
		actual, ok := observed[ref.Metric]
		if !ok {
			report.Skipped = append(report.Skipped, ref.Metric)
			continue
		}

		f := check(ref, actual, p)
		switch f.Severity {
		case SeverityWarning:
			report.Warnings++
			report.Passed = false
		case SeverityCritical:
			report.Critical++
			report.Passed = false
		}
		if f.Severity != SeverityPass {
			v.logger.Info("benchmark deviation",
				zap.String("metric", f.Metric),
				zap.String("severity", string(f.Severity)),
				zap.Float64("actual", f.Actual),
				zap.Float64("deviation", f.Deviation))
		}
		report.Findings = append(report.Findings, f)
	}

	determinism.SortSlice(report.Findings, func(a, b Finding) bool {
		return a.Metric < b.Metric
	})
	return report
}

func check(ref policy.Benchmark, actual float64, p policy.BenchmarkPolicy) Finding {
	f := Finding{
		Metric:   ref.Metric,
		Actual:   actual,
		Min:      ref.Min,
		Max:      ref.Max,
		Source:   ref.Source,
		Severity: SeverityPass,
	}

	switch {
	case actual < ref.Min:
		f.Deviation = relative(ref.Min-actual, ref.Min)
		f.Message = fmt.Sprintf("%s %.4g is %.1f%% below the reference minimum %.4g", ref.Metric, actual, f.Deviation*100, ref.Min)
	case actual > ref.Max:
		f.Deviation = relative(actual-ref.Max, ref.Max)
		f.Message = fmt.Sprintf("%s %.4g is %.1f%% above the reference maximum %.4g", ref.Metric, actual, f.Deviation*100, ref.Max)
	default:
		f.Message = fmt.Sprintf("%s %.4g within [%.4g, %.4g]", ref.Metric, actual, ref.Min, ref.Max)
		return f
	}

	switch {
	case f.Deviation > p.CriticalTolerance:
		f.Severity = SeverityCritical
	case f.Deviation > p.WarningTolerance:
		f.Severity = SeverityWarning
	}
	return f
}

// relative divides by the bound, or returns the absolute gap for a zero bound
func relative(gap, bound float64) float64 {
	if bound == 0 {
		return gap
	}
	return gap / math.Abs(bound)
}

// ToCLI formats findings for CLI output
func (r Report) ToCLI() string {
	if r.Passed {
		return "All benchmarks within tolerance\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Benchmark findings: %d critical, %d warning\n", r.Critical, r.Warnings)
	for _, f := range r.Findings {
		if f.Severity == SeverityPass {
			continue
		}
		fmt.Fprintf(&b, "   • [%s] %s\n", f.Severity, f.Message)
	}
	return b.String()
}
