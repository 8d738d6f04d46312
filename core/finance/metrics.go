// Package finance computes the financial metrics that justify a quote:
// NPV, IRR, payback, LCOS, investment credit, degradation and risk bands.
// Cash flows are float64; prices coming from the envelope are decimal and
// are converted once at the boundary.
package finance

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"energy-quote/core/determinism"
	"energy-quote/core/margin"
	"energy-quote/core/policy"
	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
	"energy-quote/internal/logging"
)

// FieldChemistry selects the battery chemistry for degradation
const FieldChemistry = "chemistry"

// Assumptions are the per-quote financial inputs
type Assumptions struct {
	Finance    policy.FinancePolicy
	Incentives policy.IncentivePolicy
	Rates      policy.RegionRates
	Region     string

	// Answers gate credit adders and may name a chemistry
	Answers types.Answers

	// MonteCarloIterations > 0 enables sampling; otherwise only quick bands are computed
	MonteCarloIterations int
	Workers              int
	Seed                 uint64

	// Hourly enables the 8760 cross-check; Profile is synthesized when nil
	Hourly  bool
	Profile *HourlyProfile
}

// Metrics is the financial result for one quote
type Metrics struct {
	Region           string            `json:"region"`
	Savings          Savings           `json:"annual_savings"`
	AnnualOM         float64           `json:"annual_om"`
	Credit           Credit            `json:"investment_credit"`
	NetInvestment    determinism.Money `json:"net_investment"`
	CashFlows        []float64         `json:"cash_flows"`
	NPV              float64           `json:"npv"`
	IRR              float64           `json:"irr"`
	PaybackYears     *float64          `json:"payback_years"`
	LCOS             *float64          `json:"lcos"`
	Chemistry        string            `json:"chemistry"`
	DegradationRate  float64           `json:"degradation_rate"`
	DegradationCurve []float64         `json:"degradation_curve"`
	QuickRisk        RiskBands         `json:"quick_risk"`
	MonteCarlo       *RiskBands        `json:"monte_carlo,omitempty"`
	Hourly           *HourlyAnalysis   `json:"hourly,omitempty"`
}

// Engine computes financial metrics
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a finance engine
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logging.OrNop(logger)}
}

// Compute derives the metrics from the sizing result and the sealed envelope.
// Investment is the rendered sell price net of the credit; the envelope is
// read only through its totals and per-category sell prices.
func (e *Engine) Compute(ctx context.Context, s *types.SizingResult, env *margin.Envelope, a Assumptions) (*Metrics, error) {
	f := a.Finance

	chemistry := f.DefaultChemistry
	if v, ok := a.Answers[FieldChemistry]; ok && strings.TrimSpace(v.Str) != "" {
		chemistry = strings.ToLower(strings.TrimSpace(v.Str))
	}
	degradation, ok := f.DegradationRate(chemistry)
	if !ok {
		return nil, qerrors.Input("no degradation rate for battery chemistry").WithContext("chemistry", chemistry)
	}

	m := &Metrics{
		Region:           a.Region,
		Chemistry:        chemistry,
		DegradationRate:  degradation,
		DegradationCurve: DegradationCurve(degradation, f.HorizonYears),
	}

	sell := env.SellPriceTotal()
	m.Savings = AnnualSavings(s, f, a.Rates)
	m.AnnualOM = sell.Float64() * f.OMRate
	m.Credit = InvestmentCredit(env, a.Incentives, a.Answers)
	m.NetInvestment = sell.Sub(m.Credit.Amount)
	investment := m.NetInvestment.Float64()

	base := CashFlowInputs{
		AnnualSavings:    m.Savings.Total,
		AnnualOM:         m.AnnualOM,
		DegradationRate:  degradation,
		EscalationRate:   f.EscalationRate,
		OMEscalationRate: f.OMEscalationRate,
		Years:            f.HorizonYears,
	}
	m.CashFlows = CashFlows(base)
	m.NPV = NPV(f.DiscountRate, investment, m.CashFlows)

	irr, err := IRR(investment, m.CashFlows)
	if err != nil {
		return nil, err
	}
	m.IRR = irr
	m.PaybackYears = Payback(investment, m.CashFlows)

	storageCapex := env.SellFor(types.CategoryBattery, types.CategoryPCS).Float64()
	m.LCOS = LCOS(storageCapex, s.StorageEnergyKWh, f, degradation)

	m.QuickRisk = QuickRiskBands(m.NPV, f.MonteCarlo.VolatilityRatio)

	if a.MonteCarloIterations > 0 {
		bands, err := MonteCarlo(ctx, MonteCarloInputs{
			Investment:   investment,
			Base:         base,
			DiscountRate: f.DiscountRate,
			Policy:       f.MonteCarlo,
			Iterations:   a.MonteCarloIterations,
			Workers:      a.Workers,
			Seed:         a.Seed,
		})
		if err != nil {
			return nil, err
		}
		m.MonteCarlo = &bands
		e.logger.Debug("monte carlo complete",
			zap.Int("iterations", bands.Iterations),
			zap.Float64("p50", bands.P50),
			zap.Float64("probability_positive", bands.ProbabilityPositive))
	}

	if a.Hourly {
		hourly, err := Hourly(HourlyInputs{
			Sizing:     s,
			Finance:    f,
			Rates:      a.Rates,
			Profile:    a.Profile,
			Simplified: m.Savings,
		})
		if err != nil {
			return nil, err
		}
		m.Hourly = hourly
		e.logger.Debug("hourly cross-check",
			zap.Float64("hourly_total", hourly.Total),
			zap.Float64("simplified_total", hourly.SimplifiedTotal),
			zap.Float64("deviation", hourly.Deviation))
	}

	e.logger.Debug("financial metrics computed",
		zap.Float64("npv", m.NPV),
		zap.Float64("irr", m.IRR),
		zap.String("net_investment", m.NetInvestment.String()))
	return m, nil
}
