// Package sizing - Calculation trail
// Every number the calculator produces is recorded as a step, and every
// default it supplies is recorded as an assumption.
package sizing

import (
	"energy-quote/core/types"
)

// AssumptionSource indicates where an assumed value came from
type AssumptionSource int

const (
	AssumptionFromTemplate AssumptionSource = iota // Industry template default
	AssumptionFromPolicy                           // Sizing policy default
	AssumptionFromHeuristic                        // Derived from other answers
)

// String returns the source name
func (s AssumptionSource) String() string {
	switch s {
	case AssumptionFromTemplate:
		return "template"
	case AssumptionFromPolicy:
		return "policy"
	case AssumptionFromHeuristic:
		return "heuristic"
	default:
		return "unknown"
	}
}

// trail accumulates steps and assumptions for one sizing run
type trail struct {
	steps       []types.CalculationStep
	assumptions []types.Assumption
}

// step records a step and returns its output
func (t *trail) step(label, formula string, inputs map[string]float64, output float64, unit string) float64 {
	t.steps = append(t.steps, types.CalculationStep{
		Label:   label,
		Formula: formula,
		Inputs:  inputs,
		Output:  output,
		Unit:    unit,
	})
	return output
}

// assume records a default supplied for a missing answer
func (t *trail) assume(field string, value float64, unit string, source AssumptionSource, reason string) {
	t.assumptions = append(t.assumptions, types.Assumption{
		Field:  field,
		Value:  value,
		Unit:   unit,
		Source: source.String(),
		Reason: reason,
	})
}
