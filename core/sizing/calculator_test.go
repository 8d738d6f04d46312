package sizing

import (
	"math"
	"testing"

	"energy-quote/core/policy/policytest"
	"energy-quote/core/template"
	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
)

func resolve(t *testing.T, industry, subtype string, answers types.Answers) template.SizingTemplate {
	t.Helper()
	tmpl, err := template.NewResolver(nil, nil, nil).Resolve(industry, subtype, answers)
	if err != nil {
		t.Fatalf("Resolve(%s, %s): %v", industry, subtype, err)
	}
	return tmpl
}

func newCalculator() *Calculator {
	return NewCalculator(policytest.Fixture().Sizing, nil)
}

func TestHotelUpscaleScenario(t *testing.T) {
	tmpl := resolve(t, "hotel", "upscale", types.Answers{
		"rooms":            types.Number(400),
		"restaurant":       types.Bool(true),
		"pool":             types.Bool(true),
		"spa":              types.Bool(true),
		"conferenceCenter": types.Bool(true),
	})

	res, err := newCalculator().Size(tmpl, tmpl.Answers)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}

	base, ok := res.StepFor("base load: hotel")
	if !ok || base.Output != 2200 {
		t.Fatalf("base load = %+v", base)
	}
	// 2200 × 1.15 × 1.10 × 1.05 × 1.20
	if math.Abs(res.PeakDemandKW-3506.58) > 0.01 {
		t.Errorf("peak = %.2f, want ≈3506.58", res.PeakDemandKW)
	}

	var applied []string
	for _, s := range res.Steps {
		if len(s.Label) > 10 && s.Label[:10] == "modifier: " {
			applied = append(applied, s.Label[10:])
		}
	}
	want := []string{"restaurant", "spa", "pool", "conference center"}
	if len(applied) != len(want) {
		t.Fatalf("modifiers applied = %v", applied)
	}
	for i := range want {
		if applied[i] != want[i] {
			t.Errorf("modifier %d = %s, want %s", i, applied[i], want[i])
		}
	}
}

func TestModifiersSkippedWhenAbsent(t *testing.T) {
	tmpl := resolve(t, "hotel", "upscale", types.Answers{"rooms": types.Number(400), "pool": types.Bool(false)})
	res, err := newCalculator().Size(tmpl, tmpl.Answers)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if res.PeakDemandKW != 2200 {
		t.Errorf("peak = %v, want 2200", res.PeakDemandKW)
	}
}

func TestInsufficientInput(t *testing.T) {
	tests := []struct {
		industry string
		subtype  string
		answers  types.Answers
	}{
		{"hotel", "midscale", types.Answers{}},
		{"hotel", "midscale", types.Answers{"rooms": types.Number(0)}},
		{"office", "", types.Answers{"unrelated": types.Bool(true)}},
		{"ev_charging", "", types.Answers{}},
		{"truck_stop", "", types.Answers{"dcfcCount": types.Number(2)}},
	}
	for _, tt := range tests {
		t.Run(tt.industry, func(t *testing.T) {
			tmpl := resolve(t, tt.industry, tt.subtype, tt.answers)
			res, err := newCalculator().Size(tmpl, tmpl.Answers)
			if !qerrors.IsType(err, qerrors.TypeInsufficientInput) {
				t.Fatalf("expected InsufficientInput, got %v", err)
			}
			if res != nil {
				t.Error("partial result returned with error")
			}
		})
	}
}

func TestEveryOutputHasAStep(t *testing.T) {
	tmpl := resolve(t, "office", "", types.Answers{"sqft": types.Number(100000)})
	res, err := newCalculator().Size(tmpl, tmpl.Answers)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}

	outputs := map[string]float64{
		"peak demand":        res.PeakDemandKW,
		"annual energy":      res.AnnualEnergyKWh,
		"storage power":      res.StoragePowerKW,
		"storage energy":     res.StorageEnergyKWh,
		"solar capacity":     res.SolarKW,
		"generator capacity": res.GeneratorKW,
	}
	for label, value := range outputs {
		found := false
		for _, s := range res.Steps {
			if (s.Label == label || len(s.Label) > len(label) && s.Label[:len(label)] == label) && s.Output == value {
				found = true
			}
		}
		if !found {
			t.Errorf("%s = %v has no matching step", label, value)
		}
	}
}

func TestOperatingHoursAssumption(t *testing.T) {
	tmpl := resolve(t, "office", "", types.Answers{"squareFootage": types.Number(50000)})
	res, err := newCalculator().Size(tmpl, tmpl.Answers)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if len(res.Assumptions) == 0 || res.Assumptions[0].Field != FieldOperatingHours || res.Assumptions[0].Source != "template" {
		t.Fatalf("assumptions = %+v", res.Assumptions)
	}

	// 300 kW × 0.45 × 12 h × 365
	if math.Abs(res.AnnualEnergyKWh-591300) > 1e-6 {
		t.Errorf("annual energy = %v", res.AnnualEnergyKWh)
	}

	tmpl = resolve(t, "office", "", types.Answers{"squareFootage": types.Number(50000), "hoursPerDay": types.Number(10)})
	res, _ = newCalculator().Size(tmpl, tmpl.Answers)
	if len(res.Assumptions) != 0 {
		t.Errorf("answered hours still assumed: %+v", res.Assumptions)
	}
}

func TestOperatingHoursOutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		hours types.Value
	}{
		{"zero", types.Number(0)},
		{"negative", types.Number(-4)},
		{"weekly figure", types.Number(168)},
		{"not a number", types.Enum("all day")},
		{"boolean", types.Bool(true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := resolve(t, "office", "", types.Answers{"squareFootage": types.Number(50000), "operatingHours": tt.hours})
			res, err := newCalculator().Size(tmpl, tmpl.Answers)
			if !qerrors.IsType(err, qerrors.TypeInput) {
				t.Fatalf("expected InputError, got %v", err)
			}
			if res != nil {
				t.Error("result returned with error")
			}
		})
	}

	tmpl := resolve(t, "office", "", types.Answers{"squareFootage": types.Number(50000), "operatingHours": types.Number(24)})
	if _, err := newCalculator().Size(tmpl, tmpl.Answers); err != nil {
		t.Errorf("24 h/day rejected: %v", err)
	}
}

func TestPeakLoadOverride(t *testing.T) {
	tmpl := resolve(t, "office", "", types.Answers{"squareFootage": types.Number(50000), "peakLoad": types.Number(1.2)})
	res, err := newCalculator().Size(tmpl, tmpl.Answers)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if res.PeakDemandKW != 1200 {
		t.Errorf("peak = %v, want measured 1200", res.PeakDemandKW)
	}
	if _, ok := res.StepFor("peak demand override"); !ok {
		t.Error("override not recorded")
	}
}

func TestGridConnectionDrivesGenerator(t *testing.T) {
	tests := []struct {
		grid string
		want bool
	}{
		{"reliable", false},
		{"unreliable", true},
		{"off_grid", true},
		{"Microgrid", true},
		{"limited", false},
	}
	for _, tt := range tests {
		t.Run(tt.grid, func(t *testing.T) {
			tmpl := resolve(t, "retail", "", types.Answers{
				"squareFootage":   types.Number(20000),
				"utilityRateType": types.Enum(tt.grid),
			})
			res, err := newCalculator().Size(tmpl, tmpl.Answers)
			if err != nil {
				t.Fatalf("Size: %v", err)
			}
			if got := res.GeneratorKW > 0; got != tt.want {
				t.Errorf("generator = %v kW", res.GeneratorKW)
			}
		})
	}
}

func TestBackupRequiredTemplate(t *testing.T) {
	tmpl := resolve(t, "hospital", "regional", types.Answers{"beds": types.Number(200)})
	res, err := newCalculator().Size(tmpl, tmpl.Answers)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	// 2000 kW × 0.8 reserve
	if res.GeneratorKW != 1600 {
		t.Errorf("generator = %v", res.GeneratorKW)
	}
	// hospital ratio 0.7 sits at the policy max
	if math.Abs(res.StoragePowerKW-1400) > 1e-9 {
		t.Errorf("storage power = %v", res.StoragePowerKW)
	}
}

func TestLimitedGridShortfall(t *testing.T) {
	tmpl := resolve(t, "retail", "", types.Answers{
		"squareFootage":  types.Number(100000),
		"gridConnection": types.Enum("limited"),
		"gridCapacity":   types.Number(0.2),
	})
	res, err := newCalculator().Size(tmpl, tmpl.Answers)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	// peak 1000 kW, grid 200 kW, ratio power 600 kW
	if res.StoragePowerKW != 800 {
		t.Errorf("storage power = %v, want 800", res.StoragePowerKW)
	}
	if res.StorageEnergyKWh != 3200 {
		t.Errorf("storage energy = %v, want 3200", res.StorageEnergyKWh)
	}
}

func TestSolarRoofCap(t *testing.T) {
	tmpl := resolve(t, "warehouse", "cold_storage", types.Answers{"squareFootage": types.Number(10000)})
	res, err := newCalculator().Size(tmpl, tmpl.Answers)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	// peak 60 kW → 24 kW by ratio; roof 10000 × 0.6 × 12 / 1000 = 72 kW
	if math.Abs(res.SolarKW-24) > 1e-9 {
		t.Errorf("solar = %v", res.SolarKW)
	}

	tmpl = resolve(t, "data_center", "hyperscale", types.Answers{"racks": types.Number(100), "squareFootage": types.Number(5000)})
	res, err = newCalculator().Size(tmpl, tmpl.Answers)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if math.Abs(res.SolarKW-36) > 1e-9 {
		t.Errorf("capped solar = %v, want 36", res.SolarKW)
	}
}

func TestChargerSumAndComposite(t *testing.T) {
	tmpl := resolve(t, "ev_charging", "", types.Answers{"dcfcCount": types.Number(4), "level2Count": types.Number(10)})
	res, err := newCalculator().Size(tmpl, tmpl.Answers)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	// (4×150 + 10×7.2) × 0.7
	if math.Abs(res.PeakDemandKW-470.4) > 1e-9 {
		t.Errorf("peak = %v", res.PeakDemandKW)
	}
	if res.Chargers[types.CategoryEVDCFC] != 4 || res.Chargers[types.CategoryEVL2] != 10 {
		t.Errorf("chargers = %v", res.Chargers)
	}

	tmpl = resolve(t, "truck_stop", "", types.Answers{
		"dcfcCount":          types.Number(4),
		"squareFootage":      types.Number(5000),
		"truckParkingSpaces": types.Number(80),
	})
	res, err = newCalculator().Size(tmpl, tmpl.Answers)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	// (420 + 50) × 1.10
	if math.Abs(res.PeakDemandKW-517) > 1e-9 {
		t.Errorf("composite peak = %v", res.PeakDemandKW)
	}
}

func TestApplyBudget(t *testing.T) {
	res := &types.SizingResult{StorageEnergyKWh: 4000, Steps: []types.CalculationStep{{Label: "storage energy", Output: 4000}}}

	out, changed := ApplyBudget(res, 230000, 115)
	if !changed || out.StorageEnergyKWh != 2000 {
		t.Fatalf("budget sizing = %v, %v", out.StorageEnergyKWh, changed)
	}
	if res.StorageEnergyKWh != 4000 || len(res.Steps) != 1 {
		t.Error("ApplyBudget mutated its input")
	}
	if _, ok := out.StepFor("storage energy: budget limit"); !ok {
		t.Error("budget step missing")
	}

	if _, changed := ApplyBudget(res, 1e9, 115); changed {
		t.Error("ample budget should not change sizing")
	}
}

func TestLimitPowerKeepsDuration(t *testing.T) {
	res := &types.SizingResult{StoragePowerKW: 480, StorageEnergyKWh: 1920}

	// 600/kW battery plus 150/kW power conversion
	out, changed := LimitPower(res, 200000, 750)
	if !changed {
		t.Fatal("expected a power limit")
	}
	if math.Abs(out.StoragePowerKW-800.0/3) > 1e-9 || math.Abs(out.StorageEnergyKWh/out.StoragePowerKW-4) > 1e-9 {
		t.Errorf("limited to %v kW / %v kWh", out.StoragePowerKW, out.StorageEnergyKWh)
	}
	if res.StoragePowerKW != 480 || len(res.Steps) != 0 {
		t.Error("LimitPower mutated its input")
	}
	for _, label := range []string{"storage power: budget limit", "storage energy: budget limit"} {
		if _, ok := out.StepFor(label); !ok {
			t.Errorf("%s step missing", label)
		}
	}

	if _, changed := LimitPower(res, 1e9, 750); changed {
		t.Error("ample budget should not change sizing")
	}
}
