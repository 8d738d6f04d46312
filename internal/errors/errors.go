// Package errors provides the quote engine's error taxonomy.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Type identifies the category of error
type Type string

const (
	// TypeUnknownIndustry means no sizing template exists for the industry
	TypeUnknownIndustry Type = "UNKNOWN_INDUSTRY"

	// TypeUnknownSubtype means the subtype does not map to a template variant
	TypeUnknownSubtype Type = "UNKNOWN_SUBTYPE"

	// TypeInsufficientInput means required sizing fields are missing
	TypeInsufficientInput Type = "INSUFFICIENT_INPUT"

	// TypeUnknownEquipmentCategory means no pricing source knows the category
	TypeUnknownEquipmentCategory Type = "UNKNOWN_EQUIPMENT_CATEGORY"

	// TypeIrrNotConvergent means the IRR solver did not converge
	TypeIrrNotConvergent Type = "IRR_NOT_CONVERGENT"

	// TypeInvalidPolicyConfig means the injected policy is inconsistent
	TypeInvalidPolicyConfig Type = "INVALID_POLICY_CONFIG"

	// TypeInput indicates an input validation error
	TypeInput Type = "INPUT_ERROR"

	// TypeConfig indicates an application configuration error
	TypeConfig Type = "CONFIG_ERROR"

	// TypePricing indicates a pricing source error
	TypePricing Type = "PRICING_ERROR"

	// TypeInternal indicates an internal error
	TypeInternal Type = "INTERNAL_ERROR"
)

// Error represents a domain error with context
type Error struct {
	Type    Type                   `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same type.
// This lets callers compare against the package sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Type == e.Type
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Sentinels for errors.Is comparisons
var (
	ErrUnknownIndustry          = &Error{Type: TypeUnknownIndustry}
	ErrUnknownSubtype           = &Error{Type: TypeUnknownSubtype}
	ErrInsufficientInput        = &Error{Type: TypeInsufficientInput}
	ErrUnknownEquipmentCategory = &Error{Type: TypeUnknownEquipmentCategory}
	ErrIrrNotConvergent         = &Error{Type: TypeIrrNotConvergent}
	ErrInvalidPolicyConfig      = &Error{Type: TypeInvalidPolicyConfig}
)

// New creates a new error
func New(errType Type, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new formatted error
func Newf(errType Type, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with context
func Wrap(errType Type, message string, cause error) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an error with formatted context
func Wrapf(errType Type, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// IsType checks if an error, or anything it wraps, is of a specific type
func IsType(err error, t Type) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type == t
	}
	return false
}

// TypeOf returns the type of the first *Error in the chain, or "" if none
func TypeOf(err error) Type {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ""
}

// UnknownIndustry creates an unknown industry error
func UnknownIndustry(industry string) *Error {
	return Newf(TypeUnknownIndustry, "no sizing template for industry %q", industry).
		WithContext("industry", industry)
}

// UnknownSubtype creates an unknown subtype error
func UnknownSubtype(industry, subtype string, known []string) *Error {
	return Newf(TypeUnknownSubtype, "subtype %q is not a variant of %q (known: %v)", subtype, industry, known).
		WithContext("industry", industry).
		WithContext("subtype", subtype)
}

// InsufficientInput creates an insufficient input error listing the missing fields
func InsufficientInput(industry string, missing []string) *Error {
	return Newf(TypeInsufficientInput, "industry %q is missing required fields %v", industry, missing).
		WithContext("missing", missing)
}

// UnknownEquipmentCategory creates an unknown category error
func UnknownEquipmentCategory(category string) *Error {
	return Newf(TypeUnknownEquipmentCategory, "no pricing source knows equipment category %q", category).
		WithContext("category", category)
}

// IrrNotConvergent creates an IRR convergence error
func IrrNotConvergent(iterations int, last float64) *Error {
	return Newf(TypeIrrNotConvergent, "IRR did not converge after %d iterations (last estimate %.6f)", iterations, last)
}

// InvalidPolicy creates an invalid policy configuration error
func InvalidPolicy(format string, args ...interface{}) *Error {
	return Newf(TypeInvalidPolicyConfig, format, args...)
}

// Input creates an input error
func Input(message string) *Error {
	return New(TypeInput, message)
}

// Pricing creates a pricing error
func Pricing(message string, cause error) *Error {
	return Wrap(TypePricing, message, cause)
}

// Config creates a configuration error
func Config(message string, cause error) *Error {
	return Wrap(TypeConfig, message, cause)
}

// Internal creates an internal error
func Internal(message string, cause error) *Error {
	return Wrap(TypeInternal, message, cause)
}
