package finance

import (
	"context"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"energy-quote/core/confidence"
	"energy-quote/core/margin"
	"energy-quote/core/policy"
	"energy-quote/core/policy/policytest"
	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
)

func approx(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %v, want %v (±%v)", name, got, want, tol)
	}
}

func line(cat types.EquipmentCategory, qty float64, unitPrice string) types.LineItem {
	return types.NewLineItem(cat, qty, types.PriceTier{
		Category:   cat,
		SizeUnit:   types.UnitKW,
		PriceUnit:  types.UnitKWh,
		UnitPrice:  decimal.RequireFromString(unitPrice),
		Confidence: confidence.High,
		Source:     "test",
	})
}

func envelope(t *testing.T, items ...types.LineItem) *margin.Envelope {
	t.Helper()
	env, err := margin.ApplyPolicy(items, policytest.Fixture().Margin, "office")
	if err != nil {
		t.Fatalf("ApplyPolicy: %v", err)
	}
	return env
}

func TestCashFlowsAndDegradation(t *testing.T) {
	flows := CashFlows(CashFlowInputs{
		AnnualSavings:    1000,
		AnnualOM:         100,
		DegradationRate:  0.02,
		EscalationRate:   0.03,
		OMEscalationRate: 0.02,
		Years:            2,
	})
	if len(flows) != 2 {
		t.Fatalf("len = %d", len(flows))
	}
	approx(t, "CF1", flows[0], 880, 1e-9)
	approx(t, "CF2", flows[1], 1000*0.9604*1.03-102, 1e-9)

	curve := DegradationCurve(0.02, 3)
	for i, want := range []float64{0.98, 0.9604, 0.941192} {
		approx(t, "retention", curve[i], want, 1e-12)
	}
}

func TestNPV(t *testing.T) {
	approx(t, "NPV at 0%", NPV(0, 100, []float64{50, 50}), 0, 1e-12)
	approx(t, "NPV at 10%", NPV(0.10, 1000, []float64{1100}), 0, 1e-9)
}

func TestIRRRecoversKnownRate(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		flow float64
		n    int
	}{
		{"annuity 12%", 0.12, 300, 6},
		{"annuity 3%", 0.03, 50, 25},
		{"annuity 35%", 0.35, 4000, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flows := make([]float64, tt.n)
			investment := 0.0
			for i := range flows {
				flows[i] = tt.flow
				investment += tt.flow / math.Pow(1+tt.rate, float64(i+1))
			}
			irr, err := IRR(investment, flows)
			if err != nil {
				t.Fatalf("IRR: %v", err)
			}
			approx(t, "irr", irr, tt.rate, 1e-4)
			approx(t, "NPV(irr)", NPV(irr, investment, flows), 0, 1e-3)
		})
	}
}

func TestIRRWithoutSignChangeFails(t *testing.T) {
	for name, c := range map[string]struct {
		investment float64
		flows      []float64
	}{
		"all outflows":    {1000, []float64{-10, -10}},
		"all inflows":     {-5, []float64{10, 10}},
		"zero investment": {0, []float64{0, 0}},
	} {
		if _, err := IRR(c.investment, c.flows); !qerrors.IsType(err, qerrors.TypeIrrNotConvergent) {
			t.Errorf("%s: expected IrrNotConvergent, got %v", name, err)
		}
	}
}

func TestPayback(t *testing.T) {
	p := Payback(1000, []float64{300, 300, 300, 300})
	if p == nil {
		t.Fatal("payback is nil")
	}
	approx(t, "payback", *p, 3+100.0/300, 1e-12)

	if p := Payback(1000, []float64{100, 100}); p != nil {
		t.Errorf("payback = %v, want nil when never reached", *p)
	}
	if p := Payback(0, nil); p == nil || *p != 0 {
		t.Errorf("zero investment payback = %v", p)
	}
}

func TestLCOS(t *testing.T) {
	f := policy.FinancePolicy{HorizonYears: 1, CyclesPerYear: 100, RoundTripEfficiency: 1}
	l := LCOS(1000, 10, f, 0)
	if l == nil {
		t.Fatal("LCOS is nil")
	}
	approx(t, "lcos", *l, 1.0, 1e-12)

	f.OMRate = 0.1
	f.HorizonYears = 2
	f.OMEscalationRate = 0.5
	// cost 1000 + 100 + 150, delivered 1000 × (0.5 + 0.25)
	l = LCOS(1000, 10, f, 0.5)
	approx(t, "lcos with O&M", *l, 1250.0/750, 1e-12)

	if LCOS(1000, 0, f, 0) != nil {
		t.Error("LCOS without storage should be nil")
	}
}

func TestInvestmentCreditCapsAdders(t *testing.T) {
	env := envelope(t,
		line(types.CategoryBattery, 100, "100"),
		line(types.CategoryGenerator, 10, "800"),
	)
	incentives := policytest.Fixture().Incentives

	c := InvestmentCredit(env, incentives, types.Answers{})
	if c.Rate != 0.30 || c.Capped || len(c.Adders) != 0 {
		t.Errorf("credit = %+v", c)
	}
	// bess 10000 × 1.25; generator is not eligible
	if !c.EligibleBasis.Amount().Equal(decimal.NewFromInt(12500)) {
		t.Errorf("eligible basis = %s", c.EligibleBasis)
	}

	all := types.Answers{
		"energyCommunity": types.Bool(true),
		"domesticContent": types.Bool(true),
		"lowIncomeSiting": types.Enum("yes"),
	}
	c = InvestmentCredit(env, incentives, all)
	if !c.Capped || c.Rate != incentives.MaxRate || len(c.Adders) != 3 {
		t.Errorf("credit = %+v", c)
	}
	approx(t, "uncapped rate", c.UncappedRate, 0.60, 1e-12)
	if !c.Amount.Amount().Equal(decimal.NewFromInt(6250)) {
		t.Errorf("amount = %s, want 6250", c.Amount)
	}

	c = InvestmentCredit(env, incentives, types.Answers{"energyCommunity": types.Bool(true)})
	if c.Capped || len(c.Adders) != 1 {
		t.Errorf("credit = %+v", c)
	}
	approx(t, "single adder rate", c.Rate, 0.40, 1e-12)
}

func TestQuickRiskBandsUseAbsoluteNPV(t *testing.T) {
	neg := QuickRiskBands(-500000, 0.3)
	if neg.ProbabilityPositive >= 0.5 {
		t.Errorf("negative NPV probability = %v, want < 0.5", neg.ProbabilityPositive)
	}
	if !(neg.P10 < neg.P50 && neg.P50 < neg.P90) {
		t.Errorf("bands out of order: %+v", neg)
	}

	pos := QuickRiskBands(500000, 0.3)
	if pos.ProbabilityPositive <= 0.5 {
		t.Errorf("positive NPV probability = %v", pos.ProbabilityPositive)
	}
	approx(t, "symmetry", pos.ProbabilityPositive+neg.ProbabilityPositive, 1, 1e-12)

	if b := QuickRiskBands(100, 0); b.ProbabilityPositive != 1 {
		t.Errorf("zero volatility positive NPV probability = %v", b.ProbabilityPositive)
	}
	if b := QuickRiskBands(-100, 0); b.ProbabilityPositive != 0 {
		t.Errorf("zero volatility negative NPV probability = %v", b.ProbabilityPositive)
	}
}

func monteCarloInputs(workers int) MonteCarloInputs {
	return MonteCarloInputs{
		Investment: 800000,
		Base: CashFlowInputs{
			AnnualSavings:    180000,
			AnnualOM:         17000,
			DegradationRate:  0.02,
			EscalationRate:   0.03,
			OMEscalationRate: 0.02,
			Years:            25,
		},
		DiscountRate: 0.08,
		Policy:       policytest.Fixture().Finance.MonteCarlo,
		Iterations:   1000,
		Workers:      workers,
		Seed:         42,
	}
}

func TestMonteCarloIsIndependentOfWorkerCount(t *testing.T) {
	ctx := context.Background()
	one, err := MonteCarlo(ctx, monteCarloInputs(1))
	if err != nil {
		t.Fatalf("MonteCarlo: %v", err)
	}
	many, err := MonteCarlo(ctx, monteCarloInputs(8))
	if err != nil {
		t.Fatalf("MonteCarlo: %v", err)
	}
	if one != many {
		t.Errorf("results differ by worker count:\n%+v\n%+v", one, many)
	}
	if !(one.P10 <= one.P50 && one.P50 <= one.P90) {
		t.Errorf("bands out of order: %+v", one)
	}
	if one.Iterations != 1000 || one.Method != MethodMonteCarlo {
		t.Errorf("bands = %+v", one)
	}
}

func TestMonteCarloRejectsZeroIterations(t *testing.T) {
	in := monteCarloInputs(1)
	in.Iterations = 0
	if _, err := MonteCarlo(context.Background(), in); !qerrors.IsType(err, qerrors.TypeInput) {
		t.Errorf("expected input error, got %v", err)
	}
}

func TestHourlyDispatchShavesMonthlyPeaks(t *testing.T) {
	f := policytest.Fixture()
	s := &types.SizingResult{PeakDemandKW: 1000, StoragePowerKW: 500, StorageEnergyKWh: 2000}

	h, err := Hourly(HourlyInputs{
		Sizing:     s,
		Finance:    f.Finance,
		Rates:      f.Regions[policy.DefaultRegion],
		Simplified: Savings{Total: 100000},
	})
	if err != nil {
		t.Fatalf("Hourly: %v", err)
	}
	if !h.Synthesized {
		t.Error("expected a synthesized profile")
	}
	for m, r := range h.PeakReductionKW {
		if r <= 0 || r > s.StoragePowerKW+1e-9 {
			t.Errorf("month %d peak reduction = %v", m+1, r)
		}
	}
	if h.DischargedKWh <= 0 || h.DischargedKWh > 365*s.StorageEnergyKWh+1e-6 {
		t.Errorf("discharged = %v", h.DischargedKWh)
	}
	approx(t, "total", h.Total, h.DemandCharge+h.Arbitrage+h.Solar, 1e-6)
	approx(t, "deviation", h.Deviation, (h.Total-100000)/100000, 1e-12)
}

func TestHourlyWithoutStorage(t *testing.T) {
	f := policytest.Fixture()
	h, err := Hourly(HourlyInputs{
		Sizing:  &types.SizingResult{PeakDemandKW: 1000, SolarKW: 100},
		Finance: f.Finance,
		Rates:   f.Regions[policy.DefaultRegion],
	})
	if err != nil {
		t.Fatalf("Hourly: %v", err)
	}
	if h.DemandCharge != 0 || h.Arbitrage != 0 {
		t.Errorf("storage savings without storage: %+v", h)
	}
	// 100 kW × 1400 kWh/kW at no less than the off-peak rate
	if h.Solar < 100*1400*0.15-1e-6 {
		t.Errorf("solar = %v", h.Solar)
	}
}

func TestHourlyRejectsShortProfile(t *testing.T) {
	f := policytest.Fixture()
	_, err := Hourly(HourlyInputs{
		Sizing:  &types.SizingResult{},
		Finance: f.Finance,
		Profile: &HourlyProfile{LoadKW: make([]float64, 24), PricePerKWh: make([]float64, 24)},
	})
	if !qerrors.IsType(err, qerrors.TypeInput) {
		t.Errorf("expected input error, got %v", err)
	}
}

func computeFixture(t *testing.T) (*types.SizingResult, *margin.Envelope, Assumptions) {
	t.Helper()
	f := policytest.Fixture()
	s := &types.SizingResult{
		PeakDemandKW:     1000,
		StoragePowerKW:   500,
		StorageEnergyKWh: 2000,
		SolarKW:          200,
	}
	env := envelope(t,
		line(types.CategoryBattery, 2000, "300"),
		line(types.CategoryPCS, 500, "150"),
		line(types.CategorySolar, 200, "1400"),
	)
	return s, env, Assumptions{
		Finance:    f.Finance,
		Incentives: f.Incentives,
		Rates:      f.Regions[policy.DefaultRegion],
		Region:     policy.DefaultRegion,
		Answers:    types.Answers{},
	}
}

func TestComputeMetrics(t *testing.T) {
	s, env, a := computeFixture(t)
	a.MonteCarloIterations = 300
	a.Seed = 3
	a.Hourly = true

	m, err := NewEngine(nil).Compute(context.Background(), s, env, a)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	// 750000 + 90000 + 330400 sell, all eligible at 30%
	if !m.Credit.Amount.Amount().Equal(decimal.NewFromInt(351120)) {
		t.Errorf("credit = %s", m.Credit.Amount)
	}
	if !m.NetInvestment.Amount().Equal(decimal.NewFromInt(819280)) {
		t.Errorf("net investment = %s", m.NetInvestment)
	}
	approx(t, "savings", m.Savings.Total, 81000+61600+42000, 1e-6)
	approx(t, "annual O&M", m.AnnualOM, 1170400*0.015, 1e-6)
	approx(t, "NPV(irr)", NPV(m.IRR, m.NetInvestment.Float64(), m.CashFlows), 0, 1)

	if m.Chemistry != "lfp" || m.DegradationRate != 0.02 || len(m.DegradationCurve) != 25 {
		t.Errorf("degradation = %s %v %d", m.Chemistry, m.DegradationRate, len(m.DegradationCurve))
	}
	if m.PaybackYears == nil || m.LCOS == nil {
		t.Fatalf("payback=%v lcos=%v", m.PaybackYears, m.LCOS)
	}
	if m.MonteCarlo == nil || m.MonteCarlo.Iterations != 300 {
		t.Errorf("monte carlo = %+v", m.MonteCarlo)
	}
	if m.Hourly == nil || m.Hourly.SimplifiedTotal != m.Savings.Total {
		t.Errorf("hourly = %+v", m.Hourly)
	}
}

func TestComputeChemistryFromAnswers(t *testing.T) {
	s, env, a := computeFixture(t)
	a.Answers = types.Answers{FieldChemistry: types.Enum("NMC")}
	m, err := NewEngine(nil).Compute(context.Background(), s, env, a)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if m.DegradationRate != 0.025 {
		t.Errorf("degradation = %v", m.DegradationRate)
	}

	a.Answers = types.Answers{FieldChemistry: types.Enum("lead_acid")}
	if _, err := NewEngine(nil).Compute(context.Background(), s, env, a); !qerrors.IsType(err, qerrors.TypeInput) {
		t.Errorf("expected input error for unknown chemistry, got %v", err)
	}
}

func TestComputeFailsWhenIRRCannotConverge(t *testing.T) {
	_, env, a := computeFixture(t)
	// no savings at all: every cash flow is O&M outflow
	m, err := NewEngine(nil).Compute(context.Background(), &types.SizingResult{}, env, a)
	if !qerrors.IsType(err, qerrors.TypeIrrNotConvergent) || m != nil {
		t.Fatalf("expected IrrNotConvergent, got %v", err)
	}
}
