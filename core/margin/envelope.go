// Package margin - Render envelope
// The envelope is the only margin output that leaves the engine. It exposes
// final rendered figures and no per-line base costs, so nothing downstream
// can re-derive a rate and apply it a second time.
package margin

import (
	"encoding/json"

	"energy-quote/core/confidence"
	"energy-quote/core/determinism"
	"energy-quote/core/types"
)

// RenderedLine is one line item as shown to the customer
type RenderedLine struct {
	Category   types.EquipmentCategory `json:"category"`
	Quantity   float64                 `json:"quantity"`
	Unit       types.Unit              `json:"unit"`
	SellPrice  determinism.Money       `json:"sell_price"`
	Confidence confidence.Level        `json:"confidence"`
	Source     string                  `json:"source"`
}

// Envelope is the sealed result of ApplyPolicy. Every figure is final.
type Envelope struct {
	sellTotal   determinism.Money
	baseTotal   determinism.Money
	margin      determinism.Money
	review      bool
	badge       confidence.Level
	lines       []RenderedLine
	clamps      []ClampEvent
	reviews     []ReviewEvent
	policyLabel string
	sealed      bool
}

func (e *Envelope) mustBeSealed() {
	if e == nil || !e.sealed {
		panic("SEALED: envelope was not produced by ApplyPolicy")
	}
}

// SellPriceTotal is the customer-facing total
func (e *Envelope) SellPriceTotal() determinism.Money {
	e.mustBeSealed()
	return e.sellTotal
}

// BaseCostTotal is shown for transparency only
func (e *Envelope) BaseCostTotal() determinism.Money {
	e.mustBeSealed()
	return e.baseTotal
}

// MarginDollars equals SellPriceTotal - BaseCostTotal exactly
func (e *Envelope) MarginDollars() determinism.Money {
	e.mustBeSealed()
	return e.margin
}

// NeedsHumanReview reports whether any review event was raised
func (e *Envelope) NeedsHumanReview() bool {
	e.mustBeSealed()
	return e.review
}

// Confidence is the lowest confidence of any priced line
func (e *Envelope) Confidence() confidence.Level {
	e.mustBeSealed()
	return e.badge
}

// Lines returns a copy of the rendered lines
func (e *Envelope) Lines() []RenderedLine {
	e.mustBeSealed()
	return append([]RenderedLine(nil), e.lines...)
}

// ClampEvents returns a copy of the clamp audit
func (e *Envelope) ClampEvents() []ClampEvent {
	e.mustBeSealed()
	return append([]ClampEvent(nil), e.clamps...)
}

// ReviewEvents returns a copy of the review audit
func (e *Envelope) ReviewEvents() []ReviewEvent {
	e.mustBeSealed()
	return append([]ReviewEvent(nil), e.reviews...)
}

// SellFor sums the rendered sell price of the given categories
func (e *Envelope) SellFor(categories ...types.EquipmentCategory) determinism.Money {
	e.mustBeSealed()
	total := determinism.Zero(e.sellTotal.Currency())
	for _, l := range e.lines {
		for _, c := range categories {
			if l.Category == c {
				total = total.Add(l.SellPrice)
				break
			}
		}
	}
	return total
}

// MarshalJSON exports the envelope
func (e *Envelope) MarshalJSON() ([]byte, error) {
	e.mustBeSealed()
	return json.Marshal(struct {
		SellPriceTotal   determinism.Money `json:"sell_price_total"`
		BaseCostTotal    determinism.Money `json:"base_cost_total"`
		MarginDollars    determinism.Money `json:"margin_dollars"`
		NeedsHumanReview bool              `json:"needs_human_review"`
		Confidence       confidence.Level  `json:"confidence"`
		Lines            []RenderedLine    `json:"lines"`
		ClampEvents      []ClampEvent      `json:"clamp_events"`
		ReviewEvents     []ReviewEvent     `json:"review_events"`
		Policy           string            `json:"policy,omitempty"`
	}{e.sellTotal, e.baseTotal, e.margin, e.review, e.badge, e.lines, e.clamps, e.reviews, e.policyLabel})
}

// BLOCKED PATH - exists only to give a clear message

// ReapplyPolicy is BLOCKED: margin is applied once, to base-cost line items
func ReapplyPolicy(*Envelope) {
	panic("BYPASS BLOCKED: margin cannot be applied to a rendered envelope - call ApplyPolicy on line items")
}
