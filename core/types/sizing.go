// Package types - Sizing result types
package types

// CalculationStep is one replayable line of the sizing audit trail
type CalculationStep struct {
	// Label names the step (e.g. "base load", "modifier: spa")
	Label string `json:"label"`

	// Formula describes the arithmetic in words a reviewer can redo by hand
	Formula string `json:"formula"`

	// Inputs are the named operands
	Inputs map[string]float64 `json:"inputs"`

	// Output is the step result
	Output float64 `json:"output"`

	// Unit of Output
	Unit string `json:"unit"`
}

// Assumption records a value the calculator supplied because the facility did not
type Assumption struct {
	Field  string  `json:"field"`
	Value  float64 `json:"value"`
	Unit   string  `json:"unit"`
	Source string  `json:"source"`
	Reason string  `json:"reason"`
}

// SizingResult is the load and system sizing envelope
type SizingResult struct {
	PeakDemandKW     float64 `json:"peak_demand_kw"`
	AnnualEnergyKWh  float64 `json:"annual_energy_kwh"`
	StoragePowerKW   float64 `json:"storage_power_kw"`
	StorageEnergyKWh float64 `json:"storage_energy_kwh"`
	SolarKW          float64 `json:"solar_kw"`
	GeneratorKW      float64 `json:"generator_kw"`

	// Chargers counts EV chargers by equipment category
	Chargers map[EquipmentCategory]int `json:"chargers,omitempty"`

	// Steps is the ordered audit trail
	Steps []CalculationStep `json:"steps"`

	// Assumptions lists defaults applied in place of missing optional answers
	Assumptions []Assumption `json:"assumptions,omitempty"`
}

// StepFor returns the last step with the given label
func (s *SizingResult) StepFor(label string) (CalculationStep, bool) {
	for i := len(s.Steps) - 1; i >= 0; i-- {
		if s.Steps[i].Label == label {
			return s.Steps[i], true
		}
	}
	return CalculationStep{}, false
}

// Clone returns a deep copy
func (s SizingResult) Clone() SizingResult {
	out := s
	out.Steps = make([]CalculationStep, len(s.Steps))
	for i, st := range s.Steps {
		st.Inputs = cloneInputs(st.Inputs)
		out.Steps[i] = st
	}
	out.Assumptions = append([]Assumption(nil), s.Assumptions...)
	if s.Chargers != nil {
		out.Chargers = make(map[EquipmentCategory]int, len(s.Chargers))
		for k, v := range s.Chargers {
			out.Chargers[k] = v
		}
	}
	return out
}

func cloneInputs(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
