// Package finance - Investment credit
package finance

import (
	"github.com/shopspring/decimal"

	"energy-quote/core/determinism"
	"energy-quote/core/margin"
	"energy-quote/core/policy"
	"energy-quote/core/types"
)

// AppliedAdder is one bonus rate that passed its eligibility check
type AppliedAdder struct {
	Name string  `json:"name"`
	Rate float64 `json:"rate"`
}

// Credit is the investment-credit breakdown
type Credit struct {
	BaseRate      float64           `json:"base_rate"`
	Adders        []AppliedAdder    `json:"adders,omitempty"`
	UncappedRate  float64           `json:"uncapped_rate"`
	Rate          float64           `json:"rate"`
	Capped        bool              `json:"capped"`
	EligibleBasis determinism.Money `json:"eligible_basis"`
	Amount        determinism.Money `json:"amount"`
}

// InvestmentCredit computes the credit on the rendered sell price of eligible
// categories: base rate plus each adder whose condition holds, capped at the
// policy maximum.
func InvestmentCredit(env *margin.Envelope, p policy.IncentivePolicy, answers types.Answers) Credit {
	c := Credit{BaseRate: p.BaseRate}
	rate := p.BaseRate
	for _, a := range p.Adders {
		if a.Condition.Holds(answers) {
			c.Adders = append(c.Adders, AppliedAdder{Name: a.Name, Rate: a.Rate})
			rate += a.Rate
		}
	}
	c.UncappedRate = rate
	if rate > p.MaxRate {
		rate = p.MaxRate
		c.Capped = true
	}
	c.Rate = rate

	c.EligibleBasis = env.SellFor(p.EligibleCategories...)
	c.Amount = c.EligibleBasis.Mul(decimal.NewFromFloat(rate)).RoundCents()
	return c
}
