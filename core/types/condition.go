// Package types - Field conditions shared by template modifiers and incentive eligibility
package types

import (
	"fmt"
	"strings"
)

// ConditionOp is the comparison a Condition applies
type ConditionOp string

const (
	// OpTruthy holds when the field is present and truthy
	OpTruthy ConditionOp = "truthy"
	// OpAtLeast holds when the field is numerically >= Threshold
	OpAtLeast ConditionOp = "gte"
	// OpAbove holds when the field is numerically > Threshold
	OpAbove ConditionOp = "gt"
	// OpAtMost holds when the field is numerically <= Threshold
	OpAtMost ConditionOp = "lte"
	// OpOneOf holds when the enum field equals one of Values (case-insensitive)
	OpOneOf ConditionOp = "in"
)

// Condition is a predicate over one normalized facility field
type Condition struct {
	Field     string      `json:"field"`
	Op        ConditionOp `json:"op"`
	Threshold float64     `json:"threshold,omitempty"`
	Values    []string    `json:"values,omitempty"`
}

// Validate checks the condition is well formed
func (c Condition) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("condition has no field")
	}
	switch c.Op {
	case OpTruthy, OpAtLeast, OpAbove, OpAtMost:
		return nil
	case OpOneOf:
		if len(c.Values) == 0 {
			return fmt.Errorf("condition on %q: %q needs values", c.Field, c.Op)
		}
		return nil
	default:
		return fmt.Errorf("condition on %q: unknown op %q", c.Field, c.Op)
	}
}

// Holds evaluates the condition. A missing field never holds.
func (c Condition) Holds(answers Answers) bool {
	v, ok := answers[c.Field]
	if !ok {
		return false
	}
	switch c.Op {
	case OpTruthy, "":
		return v.Truthy()
	case OpAtLeast, OpAbove, OpAtMost:
		n, ok := v.AsNumber()
		if !ok {
			return false
		}
		switch c.Op {
		case OpAtLeast:
			return n >= c.Threshold
		case OpAbove:
			return n > c.Threshold
		default:
			return n <= c.Threshold
		}
	case OpOneOf:
		s := strings.ToLower(strings.TrimSpace(v.String()))
		for _, want := range c.Values {
			if s == strings.ToLower(want) {
				return true
			}
		}
	}
	return false
}

// String renders the condition for audit steps
func (c Condition) String() string {
	switch c.Op {
	case OpTruthy, "":
		return c.Field
	case OpOneOf:
		return fmt.Sprintf("%s in %v", c.Field, c.Values)
	default:
		return fmt.Sprintf("%s %s %g", c.Field, c.Op, c.Threshold)
	}
}
