// Package envelope - Input normalization and envelope creation
// The engine NEVER sees raw input - only normalized envelopes.
// This ensures determinism and auditability.
package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"energy-quote/core/determinism"
	"energy-quote/core/engine"
	"energy-quote/core/policy"
	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
)

// FieldAmenities is the list-valued answer expanded into one boolean per entry
const FieldAmenities = "amenities"

// InputEnvelope is the normalized, hashed representation of a quote request.
// The engine receives ONLY this - never raw input.
type InputEnvelope struct {
	Facility types.FacilityDescriptor `json:"facility"`
	Vendor   string                   `json:"vendor,omitempty"`
	AsOf     time.Time                `json:"as_of,omitempty"`
	Options  Options                  `json:"options"`

	// Identity
	InputHash string `json:"input_hash"`

	// Timing
	NormalizedAt time.Time `json:"normalized_at"`
}

// Options are the normalized analysis options
type Options struct {
	MonteCarloIterations int    `json:"monte_carlo_iterations,omitempty"`
	Seed                 uint64 `json:"seed,omitempty"`
	Hourly               bool   `json:"hourly,omitempty"`
}

// RawFacility represents unnormalized question-flow output
type RawFacility struct {
	Industry string                 `json:"industry" yaml:"industry"`
	Subtype  string                 `json:"subtype" yaml:"subtype"`
	Answers  map[string]interface{} `json:"answers" yaml:"answers"`
	Location RawLocation            `json:"location" yaml:"location"`
	Vendor   string                 `json:"vendor" yaml:"vendor"`
	AsOf     string                 `json:"as_of" yaml:"as_of"`
	Options  RawOptions             `json:"options" yaml:"options"`
}

// RawLocation is an unnormalized location
type RawLocation struct {
	PostalCode string `json:"postal_code" yaml:"postal_code"`
	RegionCode string `json:"region_code" yaml:"region_code"`
}

// RawOptions are unnormalized options
type RawOptions struct {
	MonteCarloIterations int    `json:"monte_carlo_iterations" yaml:"monte_carlo_iterations"`
	Seed                 uint64 `json:"seed" yaml:"seed"`
	Hourly               bool   `json:"hourly" yaml:"hourly"`
}

// Normalizer normalizes raw input into envelopes
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer creates a normalizer
func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// WithClock sets the time source used for NormalizedAt
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// Normalize transforms raw input to a deterministic envelope
func (n *Normalizer) Normalize(raw RawFacility) (*InputEnvelope, error) {
	industry := strings.TrimSpace(raw.Industry)
	if industry == "" {
		return nil, qerrors.Input("industry is required")
	}

	answers, err := normalizeAnswers(raw.Answers)
	if err != nil {
		return nil, err
	}

	facility := types.NewFacilityDescriptor(
		strings.ToLower(industry),
		strings.ToLower(strings.TrimSpace(raw.Subtype)),
		answers,
		types.Location{
			PostalCode: normalizePostalCode(raw.Location.PostalCode),
			RegionCode: strings.ToLower(strings.TrimSpace(raw.Location.RegionCode)),
		})
	return n.envelope(facility, raw.Vendor, raw.AsOf, raw.Options)
}

// FromDescriptor wraps a facility that is already typed, such as one decoded
// from HCL, applying the same option checks and hashing as Normalize.
func (n *Normalizer) FromDescriptor(f types.FacilityDescriptor, vendor, asOf string, opts RawOptions) (*InputEnvelope, error) {
	if strings.TrimSpace(f.Industry()) == "" {
		return nil, qerrors.Input("industry is required")
	}
	loc := f.Location()
	loc.PostalCode = normalizePostalCode(loc.PostalCode)
	loc.RegionCode = strings.ToLower(strings.TrimSpace(loc.RegionCode))
	facility := types.NewFacilityDescriptor(
		strings.ToLower(strings.TrimSpace(f.Industry())),
		strings.ToLower(strings.TrimSpace(f.Subtype())),
		f.Answers(),
		loc)
	return n.envelope(facility, vendor, asOf, opts)
}

func (n *Normalizer) envelope(f types.FacilityDescriptor, vendor, asOf string, opts RawOptions) (*InputEnvelope, error) {
	if opts.MonteCarloIterations < 0 {
		return nil, qerrors.Input("monte_carlo_iterations must not be negative")
	}

	env := &InputEnvelope{
		Facility:     f,
		Vendor:       strings.TrimSpace(vendor),
		NormalizedAt: n.now().UTC(),
		Options: Options{
			MonteCarloIterations: opts.MonteCarloIterations,
			Seed:                 opts.Seed,
			Hourly:               opts.Hourly,
		},
	}

	if asOf = strings.TrimSpace(asOf); asOf != "" {
		at, err := parseAsOf(asOf)
		if err != nil {
			return nil, qerrors.Input(fmt.Sprintf("as_of %q is not a date", asOf))
		}
		env.AsOf = at
	}

	env.InputHash = computeInputHash(env)
	return env, nil
}

// normalizeAnswers converts scalars and expands the amenities list.
// An explicit answer wins over the same name listed as an amenity.
func normalizeAnswers(raw map[string]interface{}) (types.Answers, error) {
	answers := make(types.Answers, len(raw))
	var amenities []interface{}

	for _, field := range determinism.SortedKeys(raw) {
		name := strings.TrimSpace(field)
		switch v := raw[field].(type) {
		case nil:
			continue
		case []interface{}:
			if name != FieldAmenities {
				return nil, qerrors.Input(fmt.Sprintf("answer %q is a list; only %s may be", name, FieldAmenities)).
					WithContext("field", name)
			}
			amenities = v
		default:
			val, err := types.ValueOf(v)
			if err != nil {
				return nil, qerrors.Input(fmt.Sprintf("answer %q: %v", name, err)).WithContext("field", name)
			}
			if val.Kind == types.KindEnum {
				val = types.Enum(strings.TrimSpace(val.Str))
			}
			answers[name] = val
		}
	}

	for _, a := range amenities {
		s, ok := a.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, qerrors.Input(fmt.Sprintf("amenity %v must be a name", a)).WithContext("field", FieldAmenities)
		}
		name := strings.TrimSpace(s)
		if _, explicit := answers[name]; !explicit {
			answers[name] = types.Bool(true)
		}
	}
	return answers, nil
}

func normalizePostalCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	// ZIP+4 resolves like its five-digit prefix
	if i := strings.IndexByte(code, '-'); i > 0 {
		code = code[:i]
	}
	return code
}

func parseAsOf(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func computeInputHash(env *InputEnvelope) string {
	// Hash only the fields that affect the quote
	asOf := ""
	if !env.AsOf.IsZero() {
		asOf = env.AsOf.UTC().Format(time.RFC3339)
	}
	hashData := struct {
		Facility types.FacilityDescriptor
		Vendor   string
		AsOf     string
		Options  Options
	}{env.Facility, env.Vendor, asOf, env.Options}

	data, _ := json.Marshal(hashData)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// QuoteRequest builds the engine request for this envelope
func (e *InputEnvelope) QuoteRequest(p *policy.Config, workers int) engine.QuoteRequest {
	return engine.QuoteRequest{
		Facility:             e.Facility,
		Policy:               p,
		Vendor:               e.Vendor,
		AsOf:                 e.AsOf,
		MonteCarloIterations: e.Options.MonteCarloIterations,
		Workers:              workers,
		Seed:                 e.Options.Seed,
		Hourly:               e.Options.Hourly,
	}
}

// Validate validates the envelope
func (e *InputEnvelope) Validate() error {
	if e.Facility.Industry() == "" {
		return fmt.Errorf("industry is required")
	}
	if e.InputHash == "" {
		return fmt.Errorf("input hash is required")
	}
	return nil
}

// ShortHash returns first 12 characters of hash
func (e *InputEnvelope) ShortHash() string {
	if len(e.InputHash) >= 12 {
		return e.InputHash[:12]
	}
	return e.InputHash
}
