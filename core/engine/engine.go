// Package engine provides the quote pipeline entry point.
// CLI and any other surface are thin wrappers around this engine.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"energy-quote/core/benchmark"
	"energy-quote/core/finance"
	"energy-quote/core/margin"
	"energy-quote/core/policy"
	"energy-quote/core/pricing"
	"energy-quote/core/sizing"
	"energy-quote/core/template"
	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
	"energy-quote/internal/logging"
)

const tracerName = "energy-quote/core/engine"

// PriceResolver resolves the tier used to price one piece of equipment
type PriceResolver interface {
	Resolve(ctx context.Context, req pricing.Request) (types.PriceTier, error)
}

// Engine is the primary API for quote generation.
// It holds no per-quote state; concurrent Quote calls share only the
// price resolver and its cache.
type Engine struct {
	resolver *template.Resolver
	prices   PriceResolver
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string
}

// Option configures an Engine
type Option func(*Engine)

// WithResolver sets the template resolver (default: built-in catalog and synonyms)
func WithResolver(r *template.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the tracer (default: the global otel provider)
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator sets the quote ID source
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// New creates an engine over a price resolver
func New(prices PriceResolver, opts ...Option) *Engine {
	e := &Engine{
		prices: prices,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNop(e.logger)
	if e.resolver == nil {
		e.resolver = template.NewResolver(nil, nil, e.logger.Named("template"))
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e
}

// QuoteRequest is the input to one pipeline invocation
type QuoteRequest struct {
	// REQUIRED: facility from the question flow
	Facility types.FacilityDescriptor

	// REQUIRED: policy to apply; validated before any stage runs
	Policy *policy.Config

	// Optional: preferred vendor and pricing date
	Vendor string
	AsOf   time.Time

	// Optional: Monte Carlo sampling (0 = quick bands only)
	MonteCarloIterations int
	Workers              int
	Seed                 uint64

	// Optional: 8760 cross-check, against Profile or a synthesized year
	Hourly  bool
	Profile *finance.HourlyProfile
}

// Quote runs the pipeline once. Any hard failure returns no result.
func (e *Engine) Quote(ctx context.Context, req QuoteRequest) (*QuoteResult, error) {
	start := e.now()
	id := e.newID()

	ctx, span := e.tracer.Start(ctx, "quote",
		trace.WithAttributes(
			attribute.String("quote.id", id),
			attribute.String("facility.industry", req.Facility.Industry()),
			attribute.String("facility.subtype", req.Facility.Subtype()),
		))
	defer span.End()

	logger := e.logger.With(zap.String("quote_id", id), zap.String("industry", req.Facility.Industry()))

	result, err := e.quote(ctx, id, req, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("quote failed",
			zap.String("error_type", string(qerrors.TypeOf(err))),
			zap.Error(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.String("quote.sell_total", result.Envelope().SellPriceTotal().String()),
		attribute.Bool("quote.needs_review", result.NeedsHumanReview()),
		attribute.String("quote.confidence", string(result.Confidence())),
	)
	logger.Info("quote generated",
		zap.String("sell_total", result.Envelope().SellPriceTotal().String()),
		zap.Bool("needs_review", result.NeedsHumanReview()),
		zap.String("confidence", string(result.Confidence())),
		zap.Duration("duration", result.Duration()))
	return result, nil
}

func (e *Engine) quote(ctx context.Context, id string, req QuoteRequest, start time.Time) (*QuoteResult, error) {
	if req.Policy == nil {
		return nil, qerrors.InvalidPolicy("a policy is required")
	}
	if err := req.Policy.Validate(); err != nil {
		return nil, err
	}
	if e.prices == nil {
		return nil, qerrors.Internal("engine has no price resolver", nil)
	}
	p := req.Policy
	r := newRun()

	err := e.stage(ctx, r, PhaseResolved, func(context.Context) error {
		tmpl, err := e.resolver.Resolve(req.Facility.Industry(), req.Facility.Subtype(), req.Facility.Answers())
		r.template = tmpl
		return err
	})
	if err != nil {
		return nil, err
	}

	err = e.stage(ctx, r, PhaseSized, func(context.Context) error {
		calc := sizing.NewCalculator(p.Sizing, e.logger.Named("sizing"))
		res, err := calc.Size(r.template, r.template.Answers)
		r.sizing = res
		return err
	})
	if err != nil {
		return nil, err
	}

	err = e.stage(ctx, r, PhasePriced, func(ctx context.Context) error {
		for _, eq := range billOfMaterials(r.sizing, p.Sizing) {
			item, audit, err := e.priceEquipment(ctx, eq, req)
			if err != nil {
				return err
			}
			r.lines = append(r.lines, item)
			r.audit = append(r.audit, audit)
		}
		if len(r.lines) == 0 {
			return qerrors.InsufficientInput(r.template.Industry, nil).
				WithContext("reason", "sizing produced no equipment to price")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = e.stage(ctx, r, PhaseBudgeted, func(ctx context.Context) error {
		return e.applyBudget(ctx, r, req, p.Sizing)
	})
	if err != nil {
		return nil, err
	}

	err = e.stage(ctx, r, PhaseMargined, func(context.Context) error {
		env, err := margin.NewEngine(e.logger.Named("margin")).ApplyPolicy(r.lines, p.Margin, r.template.Industry)
		r.envelope = env
		return err
	})
	if err != nil {
		return nil, err
	}

	err = e.stage(ctx, r, PhaseFinanced, func(ctx context.Context) error {
		rates, region := p.RatesFor(req.Facility.Location())
		r.region = region
		m, err := finance.NewEngine(e.logger.Named("finance")).Compute(ctx, r.sizing, r.envelope, finance.Assumptions{
			Finance:              p.Finance,
			Incentives:           p.Incentives,
			Rates:                rates,
			Region:               region,
			Answers:              r.template.Answers,
			MonteCarloIterations: req.MonteCarloIterations,
			Workers:              req.Workers,
			Seed:                 req.Seed,
			Hourly:               req.Hourly,
			Profile:              req.Profile,
		})
		r.metrics = m
		return err
	})
	if err != nil {
		return nil, err
	}

	err = e.stage(ctx, r, PhaseValidated, func(context.Context) error {
		r.report = benchmark.NewValidator(e.logger.Named("benchmark")).Validate(benchmark.Inputs{
			Sizing:   r.sizing,
			Envelope: r.envelope,
			Metrics:  r.metrics,
		}, p.Benchmarks)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug("quote stage timings", zap.String("quote_id", id), zap.Any("timings", r.timings))

	builder := newSealedResultBuilder(id, req.Facility, start.UTC())
	return builder.build(r, p.Version, p.Hash(), e.now().Sub(start)), nil
}
