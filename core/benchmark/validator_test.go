package benchmark

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"energy-quote/core/confidence"
	"energy-quote/core/finance"
	"energy-quote/core/margin"
	"energy-quote/core/policy/policytest"
	"energy-quote/core/types"
)

func quoteInputs(t *testing.T, payback *float64) Inputs {
	t.Helper()
	item := func(cat types.EquipmentCategory, qty float64, price string) types.LineItem {
		return types.NewLineItem(cat, qty, types.PriceTier{
			Category:   cat,
			PriceUnit:  types.UnitKWh,
			UnitPrice:  decimal.RequireFromString(price),
			Confidence: confidence.High,
		})
	}
	// storage sell: 2000 × 100 × 1.25 + 500 × 150 × 1.20 = 340000, 170/kWh
	env, err := margin.ApplyPolicy([]types.LineItem{
		item(types.CategoryBattery, 2000, "100"),
		item(types.CategoryPCS, 500, "150"),
	}, policytest.Fixture().Margin, "office")
	if err != nil {
		t.Fatalf("ApplyPolicy: %v", err)
	}
	in := Inputs{
		Sizing:   &types.SizingResult{PeakDemandKW: 1000, StoragePowerKW: 500, StorageEnergyKWh: 2000},
		Envelope: env,
	}
	if payback != nil {
		in.Metrics = &finance.Metrics{PaybackYears: payback, IRR: 0.12}
	}
	return in
}

func years(y float64) *float64 { return &y }

func TestObserve(t *testing.T) {
	obs := Observe(quoteInputs(t, years(6)))

	if got := obs[MetricStorageCostPerKWh]; got != 170 {
		t.Errorf("storage cost per kWh = %v, want 170", got)
	}
	if got := obs[MetricStorageCostPerKW]; got != 680 {
		t.Errorf("storage cost per kW = %v, want 680", got)
	}
	if _, ok := obs[MetricSolarCostPerWatt]; ok {
		t.Error("solar metric observed without solar")
	}
	if _, ok := obs[MetricLCOS]; ok {
		t.Error("LCOS observed while nil")
	}
	if obs[MetricPaybackYears] != 6 {
		t.Errorf("payback = %v", obs[MetricPaybackYears])
	}
}

func TestValidateSeverities(t *testing.T) {
	p := policytest.Fixture().Benchmarks

	tests := []struct {
		name    string
		payback float64
		want    Severity
	}{
		{"inside range", 6, SeverityPass},
		{"outside range within tolerance", 2.95, SeverityPass},
		{"beyond warning tolerance", 2.85, SeverityWarning},
		{"beyond critical tolerance", 2.0, SeverityCritical},
		{"far above maximum", 20, SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := Validate(quoteInputs(t, years(tt.payback)), p)

			var found *Finding
			for i := range report.Findings {
				if report.Findings[i].Metric == MetricPaybackYears {
					found = &report.Findings[i]
				}
			}
			if found == nil {
				t.Fatalf("no payback finding in %+v", report)
			}
			if found.Severity != tt.want {
				t.Errorf("severity = %s (deviation %v), want %s", found.Severity, found.Deviation, tt.want)
			}
			if report.Passed != (tt.want == SeverityPass) {
				t.Errorf("passed = %v", report.Passed)
			}
		})
	}
}

func TestValidateSkipsUnavailableMetrics(t *testing.T) {
	report := Validate(quoteInputs(t, nil), policytest.Fixture().Benchmarks)

	if len(report.Skipped) != 1 || report.Skipped[0] != MetricPaybackYears {
		t.Errorf("skipped = %v", report.Skipped)
	}
	if len(report.Findings) != 1 || report.Findings[0].Metric != MetricStorageCostPerKWh {
		t.Errorf("findings = %+v", report.Findings)
	}
	if !report.Passed {
		t.Errorf("report should pass: %s", report.ToCLI())
	}
}

func TestReportToCLI(t *testing.T) {
	report := Validate(quoteInputs(t, years(2)), policytest.Fixture().Benchmarks)
	out := report.ToCLI()
	if !strings.Contains(out, "1 critical") || !strings.Contains(out, "[critical]") {
		t.Errorf("unexpected CLI output:\n%s", out)
	}
}
