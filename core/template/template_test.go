package template

import (
	"reflect"
	"testing"

	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
)

func TestResolveHotelUpscale(t *testing.T) {
	r := NewResolver(nil, nil, nil)

	tmpl, err := r.Resolve("Hotel", "Upscale", types.Answers{"roomCount": types.Number(400)})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if tmpl.Method != MethodPerUnit || tmpl.Coefficient != 5.5 || tmpl.Subtype != "upscale" {
		t.Fatalf("unexpected template %+v", tmpl.Template)
	}
	if _, ok := tmpl.Answers["rooms"]; !ok {
		t.Error("roomCount was not normalized to rooms")
	}

	var order []string
	for _, m := range tmpl.Modifiers {
		order = append(order, m.Name)
	}
	want := []string{"restaurant", "spa", "pool", "conference center"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("modifier order = %v, want %v", order, want)
	}
}

func TestResolveUnknownIndustry(t *testing.T) {
	r := NewResolver(nil, nil, nil)
	_, err := r.Resolve("spaceport", "", nil)
	if !qerrors.IsType(err, qerrors.TypeUnknownIndustry) {
		t.Fatalf("expected UnknownIndustry, got %v", err)
	}
}

func TestResolveSubtypeNeverDefaults(t *testing.T) {
	r := NewResolver(nil, nil, nil)

	for _, subtype := range []string{"", "boutique"} {
		t.Run("subtype="+subtype, func(t *testing.T) {
			_, err := r.Resolve("hotel", subtype, types.Answers{"rooms": types.Number(10)})
			if !qerrors.IsType(err, qerrors.TypeUnknownSubtype) {
				t.Fatalf("expected UnknownSubtype, got %v", err)
			}
		})
	}
}

func TestResolveIndustryAliases(t *testing.T) {
	r := NewResolver(nil, nil, nil)
	tmpl, err := r.Resolve("Data-Center", "edge", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if tmpl.Industry != "data_center" {
		t.Errorf("industry = %s", tmpl.Industry)
	}

	tmpl, err = r.Resolve("hospitality", "luxury", nil)
	if err != nil || tmpl.Coefficient != 7.0 {
		t.Errorf("alias hospitality: %+v %v", tmpl.Template, err)
	}
}

func TestResolveComposite(t *testing.T) {
	r := NewResolver(nil, nil, nil)
	tmpl, err := r.Resolve("truck_stop", "", types.Answers{"dcfcCount": types.Number(4)})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(tmpl.Components) != 2 {
		t.Fatalf("components = %d", len(tmpl.Components))
	}
	if tmpl.Components[0].Method != MethodChargerSum || tmpl.Components[1].Method != MethodPerArea {
		t.Error("components resolved out of declared order")
	}
	fields := tmpl.RequiredFields()
	if len(fields) != 4 {
		t.Errorf("required fields = %v", fields)
	}
}

func TestNormalizeCanonicalWins(t *testing.T) {
	s := DefaultSynonyms()
	out := s.Normalize(types.Answers{
		"squareFootage":   types.Number(1000),
		"sqft":            types.Number(5),
		"facilitySize":    types.Number(7),
		"utilityRateType": types.Enum("limited"),
		"unrelated":       types.Bool(true),
	})

	if v := out["squareFootage"]; v.Num != 1000 {
		t.Errorf("squareFootage = %v, canonical spelling must win", v.Num)
	}
	if v := out["gridConnection"]; v.Str != "limited" {
		t.Errorf("gridConnection = %q", v.Str)
	}
	if _, ok := out["unrelated"]; !ok {
		t.Error("extra fields must pass through")
	}
	if _, ok := out["sqft"]; ok {
		t.Error("alias key left in output")
	}
}

func TestNormalizeAliasOnlyIsDeterministic(t *testing.T) {
	s := DefaultSynonyms()
	answers := types.Answers{"sqft": types.Number(5), "facilitySize": types.Number(7)}
	first := s.Normalize(answers)["squareFootage"]
	for i := 0; i < 20; i++ {
		if got := s.Normalize(answers)["squareFootage"]; got != first {
			t.Fatalf("normalization is order dependent: %v vs %v", got, first)
		}
	}
}

func TestSynonymsAreData(t *testing.T) {
	s := DefaultSynonyms()
	s.Merge(map[string]string{"keys": "rooms"}, nil)
	if got := s.Field("KEYS"); got != "rooms" {
		t.Errorf("merged alias = %s", got)
	}
}

func TestCatalogRejectsInvalidTemplates(t *testing.T) {
	tests := []struct {
		name string
		tmpl Template
	}{
		{"no industry", Template{Method: MethodPerUnit, Field: "x", Coefficient: 1}},
		{"unknown method", Template{Industry: "x", Method: "magic"}},
		{"per unit without field", Template{Industry: "x", Method: MethodPerUnit, Coefficient: 1}},
		{"zero coefficient", Template{Industry: "x", Method: MethodPerArea, Field: "squareFootage"}},
		{"bad concurrency", Template{Industry: "x", Method: MethodChargerSum, Chargers: []Charger{{Field: "a", PowerKW: 1}}, Concurrency: 2}},
		{"bad modifier", Template{Industry: "x", Method: MethodPerUnit, Field: "n", Coefficient: 1,
			Modifiers: []Modifier{{Name: "m", Condition: truthy("y"), Multiplier: 0}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewCatalog().Register(tt.tmpl)
			if !qerrors.IsType(err, qerrors.TypeConfig) {
				t.Fatalf("expected CONFIG_ERROR, got %v", err)
			}
		})
	}
}

func TestCatalogCheckFindsMissingParts(t *testing.T) {
	c := NewCatalog()
	if err := c.Register(Template{Industry: "campus", Method: MethodComposite, Parts: []string{"dorm"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := c.Check(); !qerrors.IsType(err, qerrors.TypeConfig) {
		t.Fatalf("expected missing part CONFIG_ERROR, got %v", err)
	}
}

func TestDefaultCatalogIndustries(t *testing.T) {
	want := []string{"car_wash", "data_center", "ev_charging", "hospital", "hotel", "office", "retail", "truck_stop", "warehouse"}
	if got := DefaultCatalog().Industries(); !reflect.DeepEqual(got, want) {
		t.Errorf("industries = %v", got)
	}
}
