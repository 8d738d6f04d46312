// Package hcl - Facility descriptor files
// CTY values are NEVER blindly passed through: every answer must be a known,
// non-null string, number or bool.
package hcl

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"energy-quote/core/determinism"
	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
)

type facilityFile struct {
	Industry string         `hcl:"industry"`
	Subtype  string         `hcl:"subtype,optional"`
	Answers  cty.Value      `hcl:"answers,optional"`
	Location *locationBlock `hcl:"location,block"`
}

type locationBlock struct {
	PostalCode string `hcl:"postal_code,optional"`
	RegionCode string `hcl:"region_code,optional"`
}

// LoadFacility reads a facility descriptor file
func LoadFacility(path string) (types.FacilityDescriptor, error) {
	var f facilityFile
	if err := decodeFile(path, &f); err != nil {
		return types.FacilityDescriptor{}, err
	}
	return f.descriptor()
}

// DecodeFacility decodes facility source; filename selects the syntax
func DecodeFacility(filename string, src []byte) (types.FacilityDescriptor, error) {
	var f facilityFile
	if err := decode(filename, src, &f); err != nil {
		return types.FacilityDescriptor{}, err
	}
	return f.descriptor()
}

func (f facilityFile) descriptor() (types.FacilityDescriptor, error) {
	answers, err := AnswersFromCty(f.Answers)
	if err != nil {
		return types.FacilityDescriptor{}, err
	}
	var loc types.Location
	if f.Location != nil {
		loc = types.Location{PostalCode: f.Location.PostalCode, RegionCode: f.Location.RegionCode}
	}
	return types.NewFacilityDescriptor(f.Industry, f.Subtype, answers, loc), nil
}

// AnswersFromCty converts an object or map of scalars into answers.
// An absent value yields no answers.
func AnswersFromCty(val cty.Value) (types.Answers, error) {
	answers := types.Answers{}
	if val.Type() == cty.NilType || val.IsNull() {
		return answers, nil
	}
	if !val.IsKnown() {
		return nil, qerrors.Input("answers are not known")
	}
	ty := val.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, qerrors.Input("answers must be an object, got " + ty.FriendlyName())
	}

	elems := val.AsValueMap()
	for _, field := range determinism.SortedKeys(elems) {
		v, err := ValueFromCty(elems[field])
		if err != nil {
			return nil, qerrors.Input(fmt.Sprintf("answer %q: %v", field, err)).WithContext("field", field)
		}
		answers[field] = v
	}
	return answers, nil
}

// ValueFromCty converts one scalar. Unknown, null and collection values are rejected.
func ValueFromCty(val cty.Value) (types.Value, error) {
	// unknown first: an unknown value has no usable type
	if !val.IsKnown() {
		return types.Value{}, fmt.Errorf("value is not known")
	}
	if val.IsNull() {
		return types.Value{}, fmt.Errorf("value is null")
	}

	switch ty := val.Type(); {
	case ty == cty.String:
		return types.Enum(val.AsString()), nil
	case ty == cty.Number:
		f, _ := val.AsBigFloat().Float64()
		return types.Number(f), nil
	case ty == cty.Bool:
		return types.Bool(val.True()), nil
	default:
		return types.Value{}, fmt.Errorf("unsupported %s value, answers are scalars", ty.FriendlyName())
	}
}
