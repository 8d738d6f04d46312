// Package confidence provides confidence levels for priced equipment and the
// badge shown on a quote. Every downgrade is recorded; nothing hides uncertainty.
package confidence

import (
	"fmt"
	"strings"
)

// Level is a discrete confidence label attached to a price
type Level string

const (
	High     Level = "high"
	Medium   Level = "medium"
	Low      Level = "low"
	Fallback Level = "fallback"
)

var rank = map[Level]int{
	High:     3,
	Medium:   2,
	Low:      1,
	Fallback: 0,
}

// Valid reports whether l is a known level
func (l Level) Valid() bool {
	_, ok := rank[l]
	return ok
}

// Rank orders levels: high > medium > low > fallback
func (l Level) Rank() int {
	r, ok := rank[l]
	if !ok {
		return -1
	}
	return r
}

// Downgrade returns the level one step lower. Fallback stays fallback.
func (l Level) Downgrade() Level {
	switch l {
	case High:
		return Medium
	case Medium:
		return Low
	default:
		return Fallback
	}
}

// Lowest returns the least confident of the given levels (High for none)
func Lowest(levels ...Level) Level {
	lowest := High
	for _, l := range levels {
		if l.Rank() < lowest.Rank() {
			lowest = l
		}
	}
	return lowest
}

// Parse converts a string into a level
func Parse(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("unknown confidence level %q", s)
	}
	return l, nil
}

// Decay records a single confidence reduction
type Decay struct {
	Subject string `json:"subject"`
	Reason  string `json:"reason"`
	From    Level  `json:"from"`
	To      Level  `json:"to"`
}

// Tracker aggregates per-item confidence into a quote badge with reasoning
type Tracker struct {
	levels []Level
	decays []Decay
}

// NewTracker creates an empty tracker (badge High)
func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe records the confidence of one priced subject
func (t *Tracker) Observe(subject string, l Level) {
	t.levels = append(t.levels, l)
	if l != High {
		t.decays = append(t.decays, Decay{
			Subject: subject,
			Reason:  fmt.Sprintf("priced at %s confidence", l),
			From:    High,
			To:      l,
		})
	}
}

// Downgrade records an explicit one-level downgrade and returns the new level
func (t *Tracker) Downgrade(subject, reason string, from Level) Level {
	to := from.Downgrade()
	t.decays = append(t.decays, Decay{Subject: subject, Reason: reason, From: from, To: to})
	return to
}

// Badge returns the quote-level confidence
func (t *Tracker) Badge() Level {
	return Lowest(t.levels...)
}

// Decays returns all recorded reductions
func (t *Tracker) Decays() []Decay {
	out := make([]Decay, len(t.decays))
	copy(out, t.decays)
	return out
}

// Explain returns human-readable explanation
func (t *Tracker) Explain() string {
	if len(t.decays) == 0 {
		return "Full confidence - every price came from a matching tier"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Confidence: %s\n", t.Badge()))
	for i, d := range t.decays {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s -> %s (%s)\n", i+1, d.Subject, d.From, d.To, d.Reason))
	}
	return sb.String()
}
