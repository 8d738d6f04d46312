// Package engine - Sealed quote result
// A QuoteResult is built exactly once, at the end of the pipeline.
// There is ONE way to produce one - no exceptions.
package engine

import (
	"encoding/json"
	"time"

	"energy-quote/core/benchmark"
	"energy-quote/core/confidence"
	"energy-quote/core/finance"
	"energy-quote/core/margin"
	"energy-quote/core/types"
)

// PricingAudit records which source priced a line. Unit prices are omitted;
// base cost stays inside the envelope.
type PricingAudit struct {
	Category     types.EquipmentCategory `json:"category"`
	Size         float64                 `json:"size"`
	SizeUnit     types.Unit              `json:"size_unit"`
	Quantity     float64                 `json:"quantity"`
	PriceUnit    types.Unit              `json:"price_unit"`
	Source       string                  `json:"source"`
	ResolvedFrom types.SourceKind        `json:"resolved_from"`
	Confidence   confidence.Level        `json:"confidence"`
	BandMin      float64                 `json:"band_min"`
	BandMax      float64                 `json:"band_max"`
	Nearest      bool                    `json:"nearest,omitempty"`
}

// QuoteResult is the immutable output of one pipeline invocation.
// Corrections require a new quote from adjusted inputs.
type QuoteResult struct {
	id            string
	createdAt     time.Time
	duration      time.Duration
	facility      types.FacilityDescriptor
	industry      string
	subtype       string
	region        string
	policyVersion string
	policyHash    string
	sizing        types.SizingResult
	pricing       []PricingAudit
	envelope      *margin.Envelope
	metrics       finance.Metrics
	benchmarks    benchmark.Report
	sealed        bool
}

// sealedResultBuilder is the ONLY way to build a QuoteResult
type sealedResultBuilder struct {
	result *QuoteResult
	built  bool
}

func newSealedResultBuilder(id string, facility types.FacilityDescriptor, createdAt time.Time) *sealedResultBuilder {
	if id == "" {
		panic("SEALED: cannot build quote result - id is empty")
	}
	return &sealedResultBuilder{result: &QuoteResult{
		id:        id,
		facility:  facility,
		createdAt: createdAt,
	}}
}

// build seals the result from a completed run. Panics if the run is incomplete.
func (b *sealedResultBuilder) build(r *run, policyVersion, policyHash string, duration time.Duration) *QuoteResult {
	if b.built {
		panic("SEALED: quote result already built")
	}
	if r.phase != PhaseValidated {
		panic("SEALED: cannot build quote result - pipeline stopped at " + r.phase.String())
	}

	q := b.result
	q.industry = r.template.Industry
	q.subtype = r.template.Subtype
	q.region = r.region
	q.policyVersion = policyVersion
	q.policyHash = policyHash
	q.sizing = r.sizing.Clone()
	q.pricing = append([]PricingAudit(nil), r.audit...)
	q.envelope = r.envelope
	q.metrics = *r.metrics
	q.benchmarks = r.report
	q.duration = duration
	q.sealed = true

	b.built = true
	return q
}

func (q *QuoteResult) mustBeSealed() {
	if q == nil || !q.sealed {
		panic("SEALED: QuoteResult was not produced by Engine.Quote")
	}
}

// ID returns the quote identifier
func (q *QuoteResult) ID() string { q.mustBeSealed(); return q.id }

// CreatedAt returns when the quote was generated
func (q *QuoteResult) CreatedAt() time.Time { q.mustBeSealed(); return q.createdAt }

// Duration returns the pipeline wall time
func (q *QuoteResult) Duration() time.Duration { q.mustBeSealed(); return q.duration }

// Facility returns the input descriptor
func (q *QuoteResult) Facility() types.FacilityDescriptor { q.mustBeSealed(); return q.facility }

// Industry returns the resolved canonical industry
func (q *QuoteResult) Industry() string { q.mustBeSealed(); return q.industry }

// Subtype returns the resolved variant, "" when the template has none
func (q *QuoteResult) Subtype() string { q.mustBeSealed(); return q.subtype }

// Region returns the rate region used for savings
func (q *QuoteResult) Region() string { q.mustBeSealed(); return q.region }

// PolicyVersion returns the version label and content hash of the applied policy
func (q *QuoteResult) PolicyVersion() (version, hash string) {
	q.mustBeSealed()
	return q.policyVersion, q.policyHash
}

// Sizing returns a copy of the sizing result
func (q *QuoteResult) Sizing() types.SizingResult { q.mustBeSealed(); return q.sizing.Clone() }

// Pricing returns a copy of the pricing audit
func (q *QuoteResult) Pricing() []PricingAudit {
	q.mustBeSealed()
	return append([]PricingAudit(nil), q.pricing...)
}

// Envelope returns the sealed margin envelope
func (q *QuoteResult) Envelope() *margin.Envelope { q.mustBeSealed(); return q.envelope }

// Metrics returns a copy of the financial metrics
func (q *QuoteResult) Metrics() finance.Metrics {
	q.mustBeSealed()
	m := q.metrics
	m.CashFlows = append([]float64(nil), q.metrics.CashFlows...)
	m.DegradationCurve = append([]float64(nil), q.metrics.DegradationCurve...)
	m.Credit.Adders = append([]finance.AppliedAdder(nil), q.metrics.Credit.Adders...)
	return m
}

// Benchmarks returns the compliance report
func (q *QuoteResult) Benchmarks() benchmark.Report {
	q.mustBeSealed()
	r := q.benchmarks
	r.Findings = append([]benchmark.Finding(nil), q.benchmarks.Findings...)
	r.Skipped = append([]string(nil), q.benchmarks.Skipped...)
	return r
}

// Confidence returns the quote badge: the lowest line confidence
func (q *QuoteResult) Confidence() confidence.Level { q.mustBeSealed(); return q.envelope.Confidence() }

// NeedsHumanReview reports whether the margin policy flagged the quote
func (q *QuoteResult) NeedsHumanReview() bool { q.mustBeSealed(); return q.envelope.NeedsHumanReview() }

// MarshalJSON exports the quote
func (q *QuoteResult) MarshalJSON() ([]byte, error) {
	q.mustBeSealed()
	return json.Marshal(struct {
		ID               string                   `json:"id"`
		CreatedAt        time.Time                `json:"created_at"`
		DurationMS       float64                  `json:"duration_ms"`
		Facility         types.FacilityDescriptor `json:"facility"`
		Industry         string                   `json:"industry"`
		Subtype          string                   `json:"subtype,omitempty"`
		Region           string                   `json:"region"`
		PolicyVersion    string                   `json:"policy_version"`
		PolicyHash       string                   `json:"policy_hash"`
		Confidence       confidence.Level         `json:"confidence"`
		NeedsHumanReview bool                     `json:"needs_human_review"`
		Sizing           types.SizingResult       `json:"sizing"`
		Pricing          []PricingAudit           `json:"pricing"`
		Envelope         *margin.Envelope         `json:"envelope"`
		Metrics          finance.Metrics          `json:"metrics"`
		Benchmarks       benchmark.Report         `json:"benchmarks"`
	}{
		q.id, q.createdAt, float64(q.duration.Microseconds()) / 1000, q.facility,
		q.industry, q.subtype, q.region, q.policyVersion, q.policyHash,
		q.envelope.Confidence(), q.envelope.NeedsHumanReview(),
		q.sizing, q.pricing, q.envelope, q.metrics, q.benchmarks,
	})
}

// BLOCKED PATHS - These exist only to provide clear error messages

// AmendQuoteResult is BLOCKED
func AmendQuoteResult(*QuoteResult) {
	panic("BYPASS BLOCKED: QuoteResult is immutable - generate a new quote from adjusted inputs")
}

// RepriceQuoteResult is BLOCKED
func RepriceQuoteResult(*QuoteResult) {
	panic("BYPASS BLOCKED: pricing a finished quote would re-apply margin - run Engine.Quote")
}
