// Package template - Industry sizing templates
// A template is data: a calculation method, a base coefficient and an ordered
// modifier list. The resolver turns an industry/subtype pair into one.
package template

import (
	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
)

// Method is the base-load calculation method
type Method string

const (
	// MethodPerUnit is base kW = coefficient x count
	MethodPerUnit Method = "per_unit"
	// MethodPerArea is base kW = W/sqft x area / 1000
	MethodPerArea Method = "per_area"
	// MethodChargerSum sums charger power weighted by concurrency
	MethodChargerSum Method = "charger_sum"
	// MethodComposite adds the base loads of its parts
	MethodComposite Method = "composite"
)

// Modifier multiplies the running load when its condition holds
type Modifier struct {
	Name       string          `json:"name"`
	Condition  types.Condition `json:"condition"`
	Multiplier float64         `json:"multiplier"`
}

// Charger is one charger type counted by a charger_sum template
type Charger struct {
	Category types.EquipmentCategory `json:"category"`
	Field    string                  `json:"field"`
	PowerKW  float64                 `json:"power_kw"`
}

// Template is a registered industry sizing template
type Template struct {
	Industry    string  `json:"industry"`
	Description string  `json:"description,omitempty"`
	Method      Method  `json:"method"`
	Field       string  `json:"field,omitempty"`
	Unit        string  `json:"unit,omitempty"`
	Coefficient float64 `json:"coefficient"`

	// Variants maps subtype to coefficient. A template with variants
	// requires a known subtype.
	Variants map[string]float64 `json:"variants,omitempty"`

	Chargers    []Charger `json:"chargers,omitempty"`
	Concurrency float64   `json:"concurrency,omitempty"`

	// Parts names the industries a composite template adds together
	Parts []string `json:"parts,omitempty"`

	// Modifiers apply in declared order
	Modifiers []Modifier `json:"modifiers,omitempty"`

	// Sizing overrides; zero means use the policy default
	StoragePowerRatio float64 `json:"storage_power_ratio,omitempty"`
	DurationHours     float64 `json:"duration_hours,omitempty"`
	LoadFactor        float64 `json:"load_factor,omitempty"`
	OperatingHours    float64 `json:"operating_hours,omitempty"`

	// BackupRequired forces generator sizing regardless of grid quality
	BackupRequired bool `json:"backup_required,omitempty"`
}

// Validate checks the template is internally consistent
func (t Template) Validate() error {
	if t.Industry == "" {
		return qerrors.New(qerrors.TypeConfig, "template has no industry")
	}
	switch t.Method {
	case MethodPerUnit, MethodPerArea:
		if t.Field == "" {
			return qerrors.Newf(qerrors.TypeConfig, "template %s: %s needs a field", t.Industry, t.Method)
		}
		if t.Coefficient <= 0 && len(t.Variants) == 0 {
			return qerrors.Newf(qerrors.TypeConfig, "template %s: coefficient must be positive", t.Industry)
		}
		for name, c := range t.Variants {
			if c <= 0 {
				return qerrors.Newf(qerrors.TypeConfig, "template %s: variant %s coefficient must be positive", t.Industry, name)
			}
		}
	case MethodChargerSum:
		if len(t.Chargers) == 0 {
			return qerrors.Newf(qerrors.TypeConfig, "template %s: charger_sum needs chargers", t.Industry)
		}
		if t.Concurrency <= 0 || t.Concurrency > 1 {
			return qerrors.Newf(qerrors.TypeConfig, "template %s: concurrency %v outside (0,1]", t.Industry, t.Concurrency)
		}
		for _, c := range t.Chargers {
			if c.Field == "" || c.PowerKW <= 0 {
				return qerrors.Newf(qerrors.TypeConfig, "template %s: charger %s needs a field and positive power", t.Industry, c.Category)
			}
		}
	case MethodComposite:
		if len(t.Parts) == 0 {
			return qerrors.Newf(qerrors.TypeConfig, "template %s: composite needs parts", t.Industry)
		}
	default:
		return qerrors.Newf(qerrors.TypeConfig, "template %s: unknown method %q", t.Industry, t.Method)
	}
	for _, m := range t.Modifiers {
		if m.Multiplier <= 0 {
			return qerrors.Newf(qerrors.TypeConfig, "template %s: modifier %s multiplier must be positive", t.Industry, m.Name)
		}
		if err := m.Condition.Validate(); err != nil {
			return qerrors.Wrapf(qerrors.TypeConfig, err, "template %s: modifier %s", t.Industry, m.Name)
		}
	}
	if t.LoadFactor < 0 || t.LoadFactor > 1 {
		return qerrors.Newf(qerrors.TypeConfig, "template %s: load factor %v outside [0,1]", t.Industry, t.LoadFactor)
	}
	if t.OperatingHours < 0 || t.OperatingHours > 24 {
		return qerrors.Newf(qerrors.TypeConfig, "template %s: operating hours %v outside [0,24]", t.Industry, t.OperatingHours)
	}
	return nil
}

// SizingTemplate is a resolved template ready for the calculator
type SizingTemplate struct {
	Template

	// Subtype is the normalized variant, "" when the template has none
	Subtype string `json:"subtype,omitempty"`

	// Parts are the resolved composite parts
	Components []SizingTemplate `json:"components,omitempty"`

	// Answers are the facility answers with canonical field names
	Answers types.Answers `json:"-"`
}

// RequiredFields lists the canonical fields the base load needs.
// For charger_sum any one charger field is enough.
func (s SizingTemplate) RequiredFields() []string {
	switch s.Method {
	case MethodPerUnit, MethodPerArea:
		return []string{s.Field}
	case MethodChargerSum:
		out := make([]string, len(s.Chargers))
		for i, c := range s.Chargers {
			out[i] = c.Field
		}
		return out
	case MethodComposite:
		var out []string
		for _, c := range s.Components {
			out = append(out, c.RequiredFields()...)
		}
		return out
	}
	return nil
}
