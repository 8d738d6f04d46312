// Package margin - Policy events
package margin

import (
	"fmt"

	"energy-quote/core/determinism"
	"energy-quote/core/types"
)

// ClampKind says which bound overrode a price
type ClampKind string

const (
	// ClampFloor raised a price to base × (1 + floor rate)
	ClampFloor ClampKind = "floor"
	// ClampCeiling lowered a configured rate to the ceiling rate
	ClampCeiling ClampKind = "ceiling"
)

// ClampEvent records the policy overriding a computed price
type ClampEvent struct {
	Category      types.EquipmentCategory `json:"category"`
	Kind          ClampKind               `json:"kind"`
	RequestedRate float64                 `json:"requested_rate"`
	AppliedRate   float64                 `json:"applied_rate"`
	Before        determinism.Money       `json:"before"`
	After         determinism.Money       `json:"after"`
}

// String renders the event for logs
func (e ClampEvent) String() string {
	return fmt.Sprintf("%s clamp on %s: rate %.4f -> %.4f, %s -> %s",
		e.Kind, e.Category, e.RequestedRate, e.AppliedRate, e.Before, e.After)
}

// ReviewReason says why a human must confirm pricing
type ReviewReason string

const (
	// ReviewBelowMarket means the sell price sits too far under the market comparable
	ReviewBelowMarket ReviewReason = "below_market"
	// ReviewFallbackPricing means a line was priced from a fallback constant
	ReviewFallbackPricing ReviewReason = "fallback_pricing"
)

// ReviewEvent flags a quote for manual confirmation. Category is empty for
// quote-level events.
type ReviewEvent struct {
	Category  types.EquipmentCategory `json:"category,omitempty"`
	Reason    ReviewReason            `json:"reason"`
	Detail    string                  `json:"detail"`
	Implied   float64                 `json:"implied_rate,omitempty"`
	Threshold float64                 `json:"threshold,omitempty"`
}
