// Package margin converts base cost into sell price under a margin policy.
// Floor and ceiling clamps and review triggers are all recorded as events,
// and the result is frozen into an Envelope.
package margin

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"energy-quote/core/confidence"
	"energy-quote/core/determinism"
	"energy-quote/core/policy"
	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
	"energy-quote/internal/logging"
)

// quote is the engine-internal margin computation. It never leaves this package.
type quote struct {
	baseTotal   determinism.Money
	marketTotal determinism.Money
	sellTotal   determinism.Money
	lines       []RenderedLine
	clamps      []ClampEvent
	reviews     []ReviewEvent
	tracker     *confidence.Tracker
}

// Engine applies margin policies
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a margin engine
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logging.OrNop(logger)}
}

// ApplyPolicy applies p with a no-op logger
func ApplyPolicy(items []types.LineItem, p policy.MarginPolicy, segment string) (*Envelope, error) {
	return NewEngine(nil).ApplyPolicy(items, p, segment)
}

// ApplyPolicy converts line items into a sealed envelope.
// Each line is priced at base × (1 + rate), with rate capped at the ceiling,
// then raised to base × (1 + floor) if it falls short. Lines are rounded to
// cents and totals are sums of rounded lines, so sell == base + margin exactly.
func (e *Engine) ApplyPolicy(items []types.LineItem, p policy.MarginPolicy, segment string) (*Envelope, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, qerrors.Input("margin policy needs at least one line item")
	}

	floor, ceiling, reviewAt := *p.FloorRate, *p.CeilingRate, *p.ReviewBelowMarketRate
	q := &quote{
		baseTotal:   determinism.Zero(determinism.CurrencyUSD),
		marketTotal: determinism.Zero(determinism.CurrencyUSD),
		sellTotal:   determinism.Zero(determinism.CurrencyUSD),
		tracker:     confidence.NewTracker(),
	}

	for _, item := range items {
		if item.BaseCost.IsNegative() {
			return nil, qerrors.Newf(qerrors.TypeInput, "line %s has negative base cost %s", item.Category, item.BaseCost)
		}
		base := determinism.USD(item.BaseCost.Round(2))

		rate := p.RateFor(item.Category, segment)
		if rate > ceiling {
			clamped := base.Mul(onePlus(ceiling)).RoundCents()
			q.clamp(ClampEvent{
				Category:      item.Category,
				Kind:          ClampCeiling,
				RequestedRate: rate,
				AppliedRate:   ceiling,
				Before:        base.Mul(onePlus(rate)).RoundCents(),
				After:         clamped,
			})
			rate = ceiling
		}

		sell := base.Mul(onePlus(rate)).RoundCents()
		floorPrice := base.Mul(onePlus(floor)).RoundCents()
		if sell.Cmp(floorPrice) < 0 {
			q.clamp(ClampEvent{
				Category:      item.Category,
				Kind:          ClampFloor,
				RequestedRate: rate,
				AppliedRate:   floor,
				Before:        sell,
				After:         floorPrice,
			})
			sell = floorPrice
		}

		level := item.Tier.Confidence
		if level == "" {
			level = confidence.Medium
		}
		q.tracker.Observe(string(item.Category), level)

		if level == confidence.Fallback && p.ReviewOnFallbackPricing {
			q.review(ReviewEvent{
				Category: item.Category,
				Reason:   ReviewFallbackPricing,
				Detail:   "priced from fallback constant " + item.Tier.Source,
			})
		}

		if item.MarketCost.IsPositive() {
			market := determinism.USD(item.MarketCost)
			q.marketTotal = q.marketTotal.Add(market)
			if implied := impliedRate(sell, market); implied < reviewAt {
				q.review(ReviewEvent{
					Category:  item.Category,
					Reason:    ReviewBelowMarket,
					Detail:    "sell " + sell.String() + " vs market " + market.String(),
					Implied:   implied,
					Threshold: reviewAt,
				})
			}
		}

		q.baseTotal = q.baseTotal.Add(base)
		q.sellTotal = q.sellTotal.Add(sell)
		q.lines = append(q.lines, RenderedLine{
			Category:   item.Category,
			Quantity:   item.Quantity,
			Unit:       item.Unit,
			SellPrice:  sell,
			Confidence: level,
			Source:     item.Tier.Source,
		})
	}

	if q.marketTotal.Amount().IsPositive() {
		if implied := impliedRate(q.sellTotal, q.marketTotal); implied < reviewAt {
			q.review(ReviewEvent{
				Reason:    ReviewBelowMarket,
				Detail:    "quote total " + q.sellTotal.String() + " vs market " + q.marketTotal.String(),
				Implied:   implied,
				Threshold: reviewAt,
			})
		}
	}

	env := q.seal(segment)
	for _, c := range env.clamps {
		e.logger.Info("margin clamp", zap.String("event", c.String()))
	}
	for _, r := range env.reviews {
		e.logger.Info("margin review required",
			zap.String("category", string(r.Category)),
			zap.String("reason", string(r.Reason)),
			zap.String("detail", r.Detail))
	}
	e.logger.Debug("margin applied",
		zap.String("base_total", env.baseTotal.String()),
		zap.String("sell_total", env.sellTotal.String()),
		zap.Int("clamps", len(env.clamps)),
		zap.Bool("needs_review", env.review))
	return env, nil
}

func (q *quote) clamp(ev ClampEvent) {
	q.clamps = append(q.clamps, ev)
}

func (q *quote) review(ev ReviewEvent) {
	q.reviews = append(q.reviews, ev)
}

// seal freezes the computation. Margin is derived once, here.
func (q *quote) seal(segment string) *Envelope {
	margin := q.sellTotal.Sub(q.baseTotal)
	if margin.IsNegative() {
		panic("INVARIANT VIOLATED: sell price below base cost after floor clamp")
	}
	return &Envelope{
		sellTotal:   q.sellTotal,
		baseTotal:   q.baseTotal,
		margin:      margin,
		review:      len(q.reviews) > 0,
		badge:       q.tracker.Badge(),
		lines:       q.lines,
		clamps:      q.clamps,
		reviews:     q.reviews,
		policyLabel: segment,
		sealed:      true,
	}
}

func onePlus(rate float64) decimal.Decimal {
	return decimal.NewFromInt(1).Add(decimal.NewFromFloat(rate))
}

// impliedRate is (sell - market) / market
func impliedRate(sell, market determinism.Money) float64 {
	r, _ := sell.Amount().Sub(market.Amount()).Div(market.Amount()).Float64()
	return r
}
