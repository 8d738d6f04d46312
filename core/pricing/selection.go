// Package pricing - Tier selection
package pricing

import (
	"math"
	"strings"
	"time"

	"energy-quote/core/confidence"
	"energy-quote/core/types"
)

// candidates filters tiers to one size unit, the vendor and the effective
// date. A zero at skips the date filter.
func candidates(tiers []types.PriceTier, unit types.Unit, vendor string, at time.Time) []types.PriceTier {
	out := make([]types.PriceTier, 0, len(tiers))
	for _, t := range tiers {
		if t.SizeUnit != unit || !t.EffectiveAt(at) {
			continue
		}
		if t.Vendor != "" && !strings.EqualFold(t.Vendor, vendor) {
			continue
		}
		out = append(out, t)
	}
	sortTiers(out)
	return out
}

// selectForRequest bands on the request's own unit first, then on each
// alternate size it carries
func selectForRequest(tiers []types.PriceTier, req Request, at time.Time) (types.PriceTier, bool) {
	for _, u := range req.units() {
		size, _ := req.SizeIn(u)
		if tier, ok := SelectTier(candidates(tiers, u, req.Vendor, at), size); ok {
			return tier, true
		}
	}
	return types.PriceTier{}, false
}

// SelectTier picks the narrowest tier whose band contains size. Ties go to the
// most specific band (higher Min), then to vendor-specific tiers.
// When no band contains size the nearest band is returned with its
// confidence lowered one level. ok is false only when tiers is empty.
func SelectTier(tiers []types.PriceTier, size float64) (types.PriceTier, bool) {
	if len(tiers) == 0 {
		return types.PriceTier{}, false
	}

	best := -1
	for i, t := range tiers {
		if !t.Contains(size) {
			continue
		}
		if best < 0 || narrower(t, tiers[best]) {
			best = i
		}
	}
	if best >= 0 {
		chosen := tiers[best]
		chosen.Confidence = labelled(chosen.Confidence)
		return chosen, true
	}

	for i, t := range tiers {
		if best < 0 || nearer(t, tiers[best], size) {
			best = i
		}
	}
	chosen := tiers[best]
	chosen.Confidence = labelled(chosen.Confidence).Downgrade()
	chosen.Nearest = true
	return chosen, true
}

// narrower reports whether a is a better containing match than b
func narrower(a, b types.PriceTier) bool {
	wa, wb := width(a), width(b)
	if wa != wb {
		return wa < wb
	}
	if a.Min != b.Min {
		return a.Min > b.Min
	}
	return a.Vendor != "" && b.Vendor == ""
}

// nearer reports whether a lies closer to size than b
func nearer(a, b types.PriceTier, size float64) bool {
	da, db := a.Distance(size), b.Distance(size)
	if da != db {
		return da < db
	}
	return narrower(a, b)
}

func width(t types.PriceTier) float64 {
	if t.Unbounded() {
		return math.Inf(1)
	}
	return t.Max - t.Min
}

// labelled treats an unlabelled tier as medium confidence
func labelled(l confidence.Level) confidence.Level {
	if l == "" {
		return confidence.Medium
	}
	return l
}
