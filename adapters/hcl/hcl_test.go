package hcl

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/zclconf/go-cty/cty"

	"energy-quote/core/confidence"
	"energy-quote/core/pricing"
	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
)

const minimalPolicy = `
version = "t1"

margin {
  default_rate             = 20 * percent
  category_rates           = { bess = 0.25 }
  floor_rate               = 0
  ceiling_rate             = 0.45
  review_below_market_rate = -0.15
}

sizing {
  default_storage_power_ratio = 0.6
  min_storage_power_ratio     = 0.5
  max_storage_power_ratio     = 0.7
  default_duration_hours      = 4
  default_operating_hours     = 12
  default_load_factor         = 0.55
  pcs_ratio                   = 1
}

finance {
  discount_rate         = 0.08
  horizon_years         = 20
  default_chemistry     = "lfp"
  degradation_rates     = { lfp = 0.02 }
  cycles_per_year       = 300
  round_trip_efficiency = 0.9
  peak_shaving_factor   = 0.75
}

incentives {
  base_rate           = 0.3
  max_rate            = 0.4
  eligible_categories = ["bess"]

  adder "energy_community" {
    rate = 0.1
    when {
      field = "energyCommunity"
    }
  }
}

benchmarks {
  warning_tolerance  = 0.03
  critical_tolerance = 0.15

  reference "payback_years" {
    min = 3
    max = 12
  }
}

region "default" {
  energy_rate   = 0.15
  demand_charge = 18
  peak_spread   = 0.1
}
`

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestDecodePolicy(t *testing.T) {
	p, err := DecodePolicy("policy.hcl", []byte(minimalPolicy))
	if err != nil {
		t.Fatalf("DecodePolicy: %v", err)
	}

	if p.Version != "t1" {
		t.Errorf("version = %q", p.Version)
	}
	if !approx(p.Margin.DefaultRate, 0.20) {
		t.Errorf("default rate = %v, want 0.20 from 20 * percent", p.Margin.DefaultRate)
	}
	if !approx(p.Margin.CategoryRates[types.CategoryBattery], 0.25) {
		t.Errorf("category rates = %v", p.Margin.CategoryRates)
	}
	if p.Margin.FloorRate == nil || *p.Margin.FloorRate != 0 {
		t.Error("explicit zero floor was not kept")
	}
	if p.Finance.HorizonYears != 20 {
		t.Errorf("horizon = %d", p.Finance.HorizonYears)
	}
	if len(p.Incentives.Adders) != 1 || p.Incentives.Adders[0].Condition.Op != types.OpTruthy {
		t.Errorf("adders = %+v", p.Incentives.Adders)
	}
	if _, ok := p.Regions["default"]; !ok {
		t.Error("default region missing")
	}
}

func TestDecodePolicyMissingThreshold(t *testing.T) {
	src := strings.Replace(minimalPolicy, "floor_rate               = 0\n", "", 1)
	_, err := DecodePolicy("policy.hcl", []byte(src))
	if !qerrors.IsType(err, qerrors.TypeInvalidPolicyConfig) {
		t.Fatalf("missing floor_rate: got %v, want InvalidPolicyConfig", err)
	}
}

func TestDecodePolicySyntaxError(t *testing.T) {
	_, err := DecodePolicy("policy.hcl", []byte("version = \"x\"\nmargin {\n  default_rate = \n}\n"))
	if !qerrors.IsType(err, qerrors.TypeConfig) {
		t.Fatalf("got %v, want ConfigError", err)
	}
	if !strings.Contains(err.Error(), "line ") {
		t.Errorf("error has no line: %v", err)
	}
}

func TestLoadShippedPolicy(t *testing.T) {
	p, err := LoadPolicy("../../configs/policy.hcl")
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if _, region := p.RatesFor(types.Location{PostalCode: "77002"}); region != "tx" {
		t.Errorf("postal 77002 resolved to %q", region)
	}
	if len(p.Benchmarks.References) == 0 {
		t.Error("no benchmark references")
	}
}

func TestDecodeCatalog(t *testing.T) {
	src := `
synonyms {
  fields     = { keys = "rooms" }
  industries = { motel = "hotel" }
}

template "cold_storage" {
  method      = "per_area"
  field       = "squareFootage"
  coefficient = 15

  modifier "blast freezer" {
    multiplier = 1.25
    when {
      field = "blastFreezer"
    }
  }
}

tier "bess" {
  min        = 0
  max        = 2 * mwh
  size_unit  = "kWh"
  unit_price = 175
  confidence = "high"
}

tier "bess" {
  min        = 2 * mwh
  size_unit  = "kWh"
  unit_price = "148.50"
}

fallback "solar_pv" {
  price_unit = "kW"
  unit_price = "1500"
}
`
	c, err := DecodeCatalog("catalog.hcl", []byte(src))
	if err != nil {
		t.Fatalf("DecodeCatalog: %v", err)
	}

	if c.Synonyms.Field("keys") != "rooms" || c.Synonyms.Industry("motel") != "hotel" {
		t.Error("synonyms not merged")
	}
	if c.Synonyms.Field("numberOfRooms") != "rooms" {
		t.Error("built-in synonyms lost")
	}
	if _, ok := c.Templates.Lookup("cold_storage"); !ok {
		t.Error("template not registered")
	}
	if _, ok := c.Templates.Lookup("hotel"); !ok {
		t.Error("built-in templates lost")
	}

	if len(c.Tiers) != 2 {
		t.Fatalf("tiers = %d", len(c.Tiers))
	}
	if c.Tiers[0].Max != 2000 || c.Tiers[0].PriceUnit != types.UnitKWh {
		t.Errorf("tier 0 = %s", c.Tiers[0])
	}
	if c.Tiers[0].UnitPrice.String() != "175" || c.Tiers[1].UnitPrice.String() != "148.5" {
		t.Errorf("unit prices = %s, %s", c.Tiers[0].UnitPrice, c.Tiers[1].UnitPrice)
	}
	if c.Tiers[0].Confidence != confidence.High {
		t.Errorf("confidence = %s", c.Tiers[0].Confidence)
	}

	found := false
	for _, f := range c.Fallbacks {
		if f.Category == types.CategorySolar {
			found = f.UnitPrice.String() == "1500"
		}
	}
	if !found {
		t.Error("solar fallback not replaced")
	}
}

func TestDecodeCatalogRejectsOverlap(t *testing.T) {
	src := `
tier "bess" {
  min        = 0
  max        = 1000
  size_unit  = "kWh"
  unit_price = 200
}

tier "bess" {
  min        = 500
  max        = 2000
  size_unit  = "kWh"
  unit_price = 180
}
`
	if _, err := DecodeCatalog("catalog.hcl", []byte(src)); !qerrors.IsType(err, qerrors.TypeConfig) {
		t.Fatalf("overlapping tiers: got %v", err)
	}
}

func TestShippedCatalogPricesThroughService(t *testing.T) {
	c, err := LoadCatalog("../../configs/catalog.hcl")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	opts, err := c.PricingOptions("catalog")
	if err != nil {
		t.Fatalf("PricingOptions: %v", err)
	}
	svc := pricing.NewService(opts...)

	tier, err := svc.Resolve(context.Background(), pricing.Request{
		Category: types.CategoryBattery,
		Size:     3000,
		Unit:     types.UnitKWh,
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if tier.ResolvedFrom != types.SourceTable || tier.UnitPrice.String() != "148" {
		t.Errorf("3 MWh resolved to %s from %s", tier, tier.ResolvedFrom)
	}
}

func TestDecodeFacility(t *testing.T) {
	src := `
industry = "hotel"
subtype  = "upscale"

answers = {
  rooms      = 240
  restaurant = true
  peakLoad   = 1.5 * mw / 1000
  grid       = "on_grid"
}

location {
  postal_code = "94105"
}
`
	f, err := DecodeFacility("facility.hcl", []byte(src))
	if err != nil {
		t.Fatalf("DecodeFacility: %v", err)
	}
	if f.Industry() != "hotel" || f.Subtype() != "upscale" {
		t.Errorf("facility = %s/%s", f.Industry(), f.Subtype())
	}
	if v, _ := f.Answer("rooms"); v.Kind != types.KindNumber || v.Num != 240 {
		t.Errorf("rooms = %+v", v)
	}
	if v, _ := f.Answer("restaurant"); !v.Truthy() {
		t.Errorf("restaurant = %+v", v)
	}
	if v, _ := f.Answer("grid"); v.Str != "on_grid" {
		t.Errorf("grid = %+v", v)
	}
	if f.Location().PostalCode != "94105" {
		t.Errorf("location = %+v", f.Location())
	}
}

func TestValueFromCty(t *testing.T) {
	tests := []struct {
		name    string
		val     cty.Value
		want    types.Value
		wantErr bool
	}{
		{"string", cty.StringVal("lfp"), types.Enum("lfp"), false},
		{"number", cty.NumberFloatVal(2.5), types.Number(2.5), false},
		{"bool", cty.True, types.Bool(true), false},
		{"unknown", cty.UnknownVal(cty.String), types.Value{}, true},
		{"null", cty.NullVal(cty.Number), types.Value{}, true},
		{"list", cty.ListVal([]cty.Value{cty.StringVal("a")}), types.Value{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValueFromCty(tt.val)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAnswersFromCtyAbsent(t *testing.T) {
	answers, err := AnswersFromCty(cty.NilVal)
	if err != nil || len(answers) != 0 {
		t.Errorf("absent answers = %v, %v", answers, err)
	}
}
