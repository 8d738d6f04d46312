// Package types - Facility input types
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValueKind identifies the type of a facility answer
type ValueKind int

const (
	KindNumber ValueKind = iota
	KindBool
	KindEnum
)

// String returns the kind name
func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// Value is a typed answer from the question flow
type Value struct {
	Kind ValueKind
	Num  float64
	Flag bool
	Str  string
}

// Number creates a numeric value
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// Bool creates a boolean value
func Bool(b bool) Value { return Value{Kind: KindBool, Flag: b} }

// Enum creates an enum value
func Enum(s string) Value { return Value{Kind: KindEnum, Str: s} }

// AsNumber returns the numeric reading of the value
func (v Value) AsNumber() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindEnum:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		return f, err == nil
	case KindBool:
		if v.Flag {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Truthy reports whether the value counts as "present/yes"
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindBool:
		return v.Flag
	case KindNumber:
		return v.Num != 0
	case KindEnum:
		switch strings.ToLower(strings.TrimSpace(v.Str)) {
		case "", "no", "false", "0", "none":
			return false
		}
		return true
	}
	return false
}

// String renders the value for audit trails
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Flag)
	default:
		return v.Str
	}
}

// MarshalJSON renders the value as its natural JSON type
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Flag)
	default:
		return json.Marshal(v.Str)
	}
}

// ValueOf converts a decoded JSON/YAML scalar into a Value
func ValueOf(raw interface{}) (Value, error) {
	switch x := raw.(type) {
	case float64:
		return Number(x), nil
	case float32:
		return Number(float64(x)), nil
	case int:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case bool:
		return Bool(x), nil
	case string:
		return Enum(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	default:
		return Value{}, fmt.Errorf("unsupported answer type %T", raw)
	}
}

// Answers is a flat mapping of field name to typed value
type Answers map[string]Value

// Location identifies where the facility is, for rate resolution
type Location struct {
	PostalCode string `json:"postal_code,omitempty"`
	RegionCode string `json:"region_code,omitempty"`
}

// FacilityDescriptor is the question-flow output consumed once by the pipeline.
// It is immutable once constructed: accessors return copies.
type FacilityDescriptor struct {
	industry string
	subtype  string
	answers  Answers
	location Location
}

// NewFacilityDescriptor copies answers so later caller mutation cannot leak in
func NewFacilityDescriptor(industry, subtype string, answers Answers, loc Location) FacilityDescriptor {
	cp := make(Answers, len(answers))
	for k, v := range answers {
		cp[k] = v
	}
	return FacilityDescriptor{
		industry: industry,
		subtype:  subtype,
		answers:  cp,
		location: loc,
	}
}

// Industry returns the industry identifier
func (f FacilityDescriptor) Industry() string { return f.industry }

// Subtype returns the subtype, "" when none was given
func (f FacilityDescriptor) Subtype() string { return f.subtype }

// Location returns the facility location
func (f FacilityDescriptor) Location() Location { return f.location }

// Answer returns a single raw answer
func (f FacilityDescriptor) Answer(field string) (Value, bool) {
	v, ok := f.answers[field]
	return v, ok
}

// Answers returns a copy of the raw answers
func (f FacilityDescriptor) Answers() Answers {
	cp := make(Answers, len(f.answers))
	for k, v := range f.answers {
		cp[k] = v
	}
	return cp
}

// MarshalJSON exposes the descriptor for audit records
func (f FacilityDescriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Industry string   `json:"industry"`
		Subtype  string   `json:"subtype,omitempty"`
		Answers  Answers  `json:"answers"`
		Location Location `json:"location"`
	}{f.industry, f.subtype, f.answers, f.location})
}
