package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"energy-quote/core/confidence"
	"energy-quote/core/policy/policytest"
	"energy-quote/core/pricing"
	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
)

var testClock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func tier(cat types.EquipmentCategory, min, max float64, unit types.Unit, price int64) types.PriceTier {
	return types.PriceTier{
		Category:   cat,
		Min:        min,
		Max:        max,
		SizeUnit:   unit,
		PriceUnit:  unit,
		UnitPrice:  decimal.NewFromInt(price),
		Confidence: confidence.High,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return newEngineWithTiers(t,
		tier(types.CategoryBattery, 0, 1000, types.UnitKWh, 180),
		tier(types.CategoryBattery, 1000, 5000, types.UnitKWh, 140),
		tier(types.CategoryBattery, 5000, 0, types.UnitKWh, 115),
		tier(types.CategoryPCS, 0, 0, types.UnitKW, 150),
		tier(types.CategorySolar, 0, 0, types.UnitKW, 1400),
	)
}

func newEngineWithTiers(t *testing.T, tiers ...types.PriceTier) *Engine {
	t.Helper()
	table, err := pricing.NewStaticTierSource("test-table", tiers)
	if err != nil {
		t.Fatalf("NewStaticTierSource: %v", err)
	}
	svc := pricing.NewService(pricing.WithTierSources(table), pricing.WithClock(func() time.Time { return testClock }))

	n := 0
	return New(svc,
		WithClock(func() time.Time { return testClock }),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("q-%d", n)
		}))
}

func hotel(extra types.Answers) types.FacilityDescriptor {
	answers := types.Answers{"rooms": types.Number(200)}
	for k, v := range extra {
		answers[k] = v
	}
	return types.NewFacilityDescriptor("hotel", "midscale", answers, types.Location{PostalCode: "94105"})
}

func TestQuoteEndToEnd(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Quote(context.Background(), QuoteRequest{
		Facility: hotel(nil),
		Policy:   policytest.Fixture(),
	})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}

	if res.ID() != "q-1" {
		t.Errorf("ID = %q", res.ID())
	}
	if res.Industry() != "hotel" || res.Subtype() != "midscale" {
		t.Errorf("resolved %s/%s", res.Industry(), res.Subtype())
	}
	if res.Region() != "ca" {
		t.Errorf("region = %q, want ca", res.Region())
	}

	s := res.Sizing()
	// 200 rooms × 4 kW, storage 0.6 × 800 for 4 h
	if s.PeakDemandKW != 800 || s.StoragePowerKW != 480 || s.StorageEnergyKWh != 1920 {
		t.Errorf("sizing = %v kW peak, %v kW / %v kWh", s.PeakDemandKW, s.StoragePowerKW, s.StorageEnergyKWh)
	}
	if len(s.Steps) == 0 {
		t.Error("sizing has no calculation steps")
	}

	env := res.Envelope()
	if got := env.BaseCostTotal().Add(env.MarginDollars()); got.Cmp(env.SellPriceTotal()) != 0 {
		t.Errorf("base + margin = %s, sell = %s", got, env.SellPriceTotal())
	}
	// 1920 kWh in the 1000-5000 band at 140, sold at 25% margin
	if got := env.SellFor(types.CategoryBattery).String(); got != "336000.00 USD" {
		t.Errorf("battery sell = %s, want 336000", got)
	}
	if res.Confidence() != confidence.High {
		t.Errorf("confidence = %s", res.Confidence())
	}

	audit := res.Pricing()
	if len(audit) != 3 || audit[0].Category != types.CategoryBattery || audit[0].BandMin != 1000 {
		t.Errorf("pricing audit = %+v", audit)
	}

	m := res.Metrics()
	if len(m.CashFlows) != policytest.Fixture().Finance.HorizonYears {
		t.Errorf("cash flows = %d years", len(m.CashFlows))
	}
	if m.MonteCarlo != nil || m.Hourly != nil {
		t.Error("optional analyses ran without being requested")
	}

	report := res.Benchmarks()
	if len(report.Findings)+len(report.Skipped) == 0 {
		t.Error("benchmark report is empty")
	}

	version, hash := res.PolicyVersion()
	if version != "test-1" || hash == "" {
		t.Errorf("policy version = %q %q", version, hash)
	}
}

func TestQuoteJSONHidesUnitPrices(t *testing.T) {
	res, err := newTestEngine(t).Quote(context.Background(), QuoteRequest{
		Facility: hotel(nil),
		Policy:   policytest.Fixture(),
	})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	data, err := res.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"id":"q-1"`) {
		t.Errorf("missing id: %s", out)
	}
	for _, leak := range []string{`"unit_price"`, `"base_unit_cost"`} {
		if strings.Contains(out, leak) {
			t.Errorf("export contains %s", leak)
		}
	}
}

func TestQuoteErrors(t *testing.T) {
	tests := []struct {
		name     string
		facility types.FacilityDescriptor
		mutate   func(*QuoteRequest)
		want     qerrors.Type
	}{
		{
			name:     "unknown industry",
			facility: types.NewFacilityDescriptor("spaceport", "", nil, types.Location{}),
			want:     qerrors.TypeUnknownIndustry,
		},
		{
			name:     "unknown subtype",
			facility: types.NewFacilityDescriptor("hotel", "palace", types.Answers{"rooms": types.Number(10)}, types.Location{}),
			want:     qerrors.TypeUnknownSubtype,
		},
		{
			name:     "missing required answer",
			facility: types.NewFacilityDescriptor("hotel", "midscale", nil, types.Location{}),
			want:     qerrors.TypeInsufficientInput,
		},
		{
			name:     "invalid policy",
			facility: hotel(nil),
			mutate: func(r *QuoteRequest) {
				r.Policy.Margin.FloorRate = policytest.Rate(0.5)
				r.Policy.Margin.CeilingRate = policytest.Rate(0.2)
			},
			want: qerrors.TypeInvalidPolicyConfig,
		},
		{
			name:     "missing policy",
			facility: hotel(nil),
			mutate:   func(r *QuoteRequest) { r.Policy = nil },
			want:     qerrors.TypeInvalidPolicyConfig,
		},
		{
			name:     "budget below power conversion",
			facility: hotel(types.Answers{"budget": types.Number(50000)}),
			want:     qerrors.TypeInput,
		},
		{
			name:     "unknown chemistry",
			facility: hotel(types.Answers{"chemistry": types.Enum("unobtainium")}),
			want:     qerrors.TypeInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := QuoteRequest{Facility: tt.facility, Policy: policytest.Fixture()}
			if tt.mutate != nil {
				tt.mutate(&req)
			}
			res, err := newTestEngine(t).Quote(context.Background(), req)
			if err == nil {
				t.Fatal("expected an error")
			}
			if res != nil {
				t.Error("a failed quote returned a result")
			}
			if !qerrors.IsType(err, tt.want) {
				t.Errorf("error type = %s, want %s (%v)", qerrors.TypeOf(err), tt.want, err)
			}
		})
	}
}

func TestBudgetLimitsOnBaseCost(t *testing.T) {
	res, err := newTestEngine(t).Quote(context.Background(), QuoteRequest{
		Facility: hotel(types.Answers{"budget": types.Number(200000)}),
		Policy:   policytest.Fixture(),
	})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}

	s := res.Sizing()
	if _, ok := s.StepFor("storage energy: budget limit"); !ok {
		t.Fatal("no budget limit step")
	}
	// 200000 − 480 kW × 150 leaves 128000; the smaller system lands in the 180/kWh band
	want := 128000.0 / 180
	if math.Abs(s.StorageEnergyKWh-want) > 0.01 {
		t.Errorf("storage = %v kWh, want %v", s.StorageEnergyKWh, want)
	}
	if s.StoragePowerKW != 480 {
		t.Errorf("storage power changed to %v", s.StoragePowerKW)
	}

	// the sell price exceeds what the budget left; sizing used base cost
	if sell := res.Envelope().SellFor(types.CategoryBattery).Float64(); sell <= 128000 {
		t.Errorf("battery sell = %v, expected margin on top of the budget", sell)
	}
	if audit := res.Pricing()[0]; audit.BandMax != 1000 {
		t.Errorf("battery priced in band %v-%v, want 0-1000", audit.BandMin, audit.BandMax)
	}
}

func TestBudgetAboveCostLeavesSizing(t *testing.T) {
	res, err := newTestEngine(t).Quote(context.Background(), QuoteRequest{
		Facility: hotel(types.Answers{"budget": types.Number(5000000)}),
		Policy:   policytest.Fixture(),
	})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	s := res.Sizing()
	if _, ok := s.StepFor("storage energy: budget limit"); ok {
		t.Error("budget limit applied to an affordable system")
	}
	if s.StorageEnergyKWh != 1920 {
		t.Errorf("storage = %v kWh", s.StorageEnergyKWh)
	}
}

// powerBandedBattery bands battery tiers by storage power and prices them per kWh
func powerBandedBattery(lo, hi float64, price int64) types.PriceTier {
	bt := tier(types.CategoryBattery, lo, hi, types.UnitKW, price)
	bt.PriceUnit = types.UnitKWh
	return bt
}

func TestBatteryPricedFromPowerBands(t *testing.T) {
	e := newEngineWithTiers(t,
		powerBandedBattery(100, 1000, 180),
		powerBandedBattery(1000, 3000, 140),
		powerBandedBattery(3000, 10000, 115),
		tier(types.CategoryPCS, 0, 0, types.UnitKW, 150),
		tier(types.CategorySolar, 0, 0, types.UnitKW, 1400),
	)

	tests := []struct {
		name      string
		rooms     float64
		powerKW   float64
		energyKWh float64
		bandMin   float64
	}{
		// 2000 rooms × 4 kW × 0.6 = 4800 kW for 4 h
		{"five megawatt class", 2000, 4800, 19200, 3000},
		{"sub megawatt", 200, 480, 1920, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Quote(context.Background(), QuoteRequest{
				Facility: hotel(types.Answers{"rooms": types.Number(tt.rooms)}),
				Policy:   policytest.Fixture(),
			})
			if err != nil {
				t.Fatalf("Quote: %v", err)
			}

			audit := res.Pricing()[0]
			if audit.Category != types.CategoryBattery || audit.ResolvedFrom != types.SourceTable || audit.Source != "test-table" {
				t.Fatalf("battery audit = %+v", audit)
			}
			if audit.SizeUnit != types.UnitKW || audit.Size != tt.powerKW || audit.BandMin != tt.bandMin {
				t.Errorf("banded on %v %s in band from %v", audit.Size, audit.SizeUnit, audit.BandMin)
			}
			if audit.PriceUnit != types.UnitKWh || audit.Quantity != tt.energyKWh {
				t.Errorf("priced %v %s", audit.Quantity, audit.PriceUnit)
			}
			if audit.Confidence != confidence.High || audit.Nearest {
				t.Errorf("confidence = %s nearest=%v", audit.Confidence, audit.Nearest)
			}
		})
	}
}

func TestBudgetWithPowerPricedBattery(t *testing.T) {
	perKW := tier(types.CategoryBattery, 0, 0, types.UnitKW, 600)
	e := newEngineWithTiers(t, perKW,
		tier(types.CategoryPCS, 0, 0, types.UnitKW, 150),
		tier(types.CategorySolar, 0, 0, types.UnitKW, 1400),
	)

	res, err := e.Quote(context.Background(), QuoteRequest{
		Facility: hotel(types.Answers{"budget": types.Number(200000)}),
		Policy:   policytest.Fixture(),
	})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}

	s := res.Sizing()
	if _, ok := s.StepFor("storage power: budget limit"); !ok {
		t.Fatal("no power budget step")
	}
	// 200000 / (600 + 150) per kW, still 4 h of storage
	if want := 200000.0 / 750; math.Abs(s.StoragePowerKW-want) > 0.01 {
		t.Errorf("storage power = %v kW, want %v", s.StoragePowerKW, want)
	}
	if math.Abs(s.StorageEnergyKWh/s.StoragePowerKW-4) > 1e-9 {
		t.Errorf("duration changed to %v h", s.StorageEnergyKWh/s.StoragePowerKW)
	}

	var storage float64
	for _, a := range res.Pricing() {
		switch a.Category {
		case types.CategoryBattery:
			if a.PriceUnit != types.UnitKW || a.Quantity != s.StoragePowerKW {
				t.Errorf("battery priced %v %s", a.Quantity, a.PriceUnit)
			}
			storage += a.Quantity * 600
		case types.CategoryPCS:
			storage += a.Quantity * 150
		}
	}
	if storage > 200000.01 || storage < 199999.99 {
		t.Errorf("storage base cost = %v, want the 200000 budget", storage)
	}
}

func TestQuoteDeterministic(t *testing.T) {
	e := newTestEngine(t)
	req := QuoteRequest{
		Facility:             hotel(nil),
		Policy:               policytest.Fixture(),
		MonteCarloIterations: 600,
		Workers:              1,
		Seed:                 7,
	}

	first, err := e.Quote(context.Background(), req)
	if err != nil {
		t.Fatalf("first Quote: %v", err)
	}
	req.Workers = 4
	second, err := e.Quote(context.Background(), req)
	if err != nil {
		t.Fatalf("second Quote: %v", err)
	}

	if first.ID() == second.ID() {
		t.Error("two quotes share an ID")
	}
	if first.Envelope().SellPriceTotal().Cmp(second.Envelope().SellPriceTotal()) != 0 {
		t.Error("sell totals differ")
	}
	a, b := first.Metrics(), second.Metrics()
	if a.NPV != b.NPV || a.IRR != b.IRR {
		t.Errorf("metrics differ: %v/%v vs %v/%v", a.NPV, a.IRR, b.NPV, b.IRR)
	}
	if a.MonteCarlo == nil || b.MonteCarlo == nil {
		t.Fatal("Monte Carlo was requested")
	}
	if a.MonteCarlo.P10 != b.MonteCarlo.P10 || a.MonteCarlo.P50 != b.MonteCarlo.P50 || a.MonteCarlo.P90 != b.MonteCarlo.P90 {
		t.Errorf("Monte Carlo bands depend on worker count: %+v vs %+v", a.MonteCarlo, b.MonteCarlo)
	}
}

func TestQuoteHourly(t *testing.T) {
	res, err := newTestEngine(t).Quote(context.Background(), QuoteRequest{
		Facility: hotel(nil),
		Policy:   policytest.Fixture(),
		Hourly:   true,
	})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	h := res.Metrics().Hourly
	if h == nil {
		t.Fatal("hourly analysis missing")
	}
	if !h.Synthesized || h.Total <= 0 {
		t.Errorf("hourly = %+v", h)
	}
}

func TestSizingCopyDoesNotLeak(t *testing.T) {
	res, err := newTestEngine(t).Quote(context.Background(), QuoteRequest{
		Facility: hotel(nil),
		Policy:   policytest.Fixture(),
	})
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	s := res.Sizing()
	original := s.Steps[0].Output
	s.Steps[0].Output = -1
	s.StorageEnergyKWh = 0

	again := res.Sizing()
	if again.Steps[0].Output != original || again.StorageEnergyKWh != 1920 {
		t.Error("mutating a returned sizing changed the quote")
	}

	m := res.Metrics()
	m.CashFlows[0] = math.NaN()
	if math.IsNaN(res.Metrics().CashFlows[0]) {
		t.Error("mutating returned cash flows changed the quote")
	}
}

func TestUnsealedResultPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for unsealed result")
		} else {
			t.Logf("Correctly panicked: %v", r)
		}
	}()
	var q QuoteResult
	_ = q.ID()
}

func TestBuildIncompleteRunPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for incomplete run")
		} else {
			t.Logf("Correctly panicked: %v", r)
		}
	}()
	r := newRun()
	_ = r.advance(PhaseResolved)
	newSealedResultBuilder("q", types.FacilityDescriptor{}, testClock).build(r, "v", "h", 0)
}

func TestBlockedPaths(t *testing.T) {
	blocked := map[string]func(){
		"AmendQuoteResult":   func() { AmendQuoteResult(nil) },
		"RepriceQuoteResult": func() { RepriceQuoteResult(nil) },
	}
	for name, fn := range blocked {
		t.Run(name, func(t *testing.T) {
			defer func() {
				r := recover()
				if r == nil {
					t.Fatal("expected panic")
				}
				if !strings.Contains(fmt.Sprint(r), "BYPASS BLOCKED") {
					t.Errorf("panic = %v", r)
				}
				t.Logf("Correctly panicked: %v", r)
			}()
			fn()
		})
	}
}

func TestPhaseOrder(t *testing.T) {
	r := newRun()
	if err := r.advance(PhaseResolved); err != nil {
		t.Fatalf("advance to resolve: %v", err)
	}

	err := r.advance(PhasePriced)
	var orderErr *PhaseOrderError
	if !errors.As(err, &orderErr) {
		t.Fatalf("skipping sizing returned %v", err)
	}
	if orderErr.Required != PhasePriced || orderErr.Current != PhaseResolved {
		t.Errorf("error = %+v", orderErr)
	}
	if !strings.Contains(err.Error(), "size") {
		t.Errorf("message = %q", err.Error())
	}

	if err := r.advance(PhaseResolved); err == nil {
		t.Error("repeating a phase should fail")
	}
}
