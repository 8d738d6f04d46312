// Package engine - Quote pipeline orchestration
// ENFORCES the execution order of one quote:
// 1. Template resolution
// 2. Sizing
// 3. Pricing (base cost)
// 4. Budget limit (pre-margin)
// 5. Margin policy (sealed envelope)
// 6. Financial metrics
// 7. Benchmark validation
package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"energy-quote/core/benchmark"
	"energy-quote/core/finance"
	"energy-quote/core/margin"
	"energy-quote/core/template"
	"energy-quote/core/types"
)

// Phase is a pipeline stage. Phases only move forward.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseResolved            // template resolved
	PhaseSized               // system sized
	PhasePriced              // base cost resolved
	PhaseBudgeted            // budget limit applied
	PhaseMargined            // envelope sealed
	PhaseFinanced            // metrics computed
	PhaseValidated           // benchmarks checked
)

// String returns the phase name
func (p Phase) String() string {
	names := []string{
		"uninitialized", "resolve", "size", "price",
		"budget", "margin", "finance", "benchmark",
	}
	if int(p) < len(names) {
		return names[p]
	}
	return "unknown"
}

// PhaseOrderError indicates phases executed out of order
type PhaseOrderError struct {
	Required Phase
	Current  Phase
}

func (e *PhaseOrderError) Error() string {
	return fmt.Sprintf("phase %s requires %s to be complete, but current phase is %s", e.Required, e.Required-1, e.Current)
}

// run holds the intermediate state of one quote. Each field is nil until its phase.
type run struct {
	phase Phase

	template template.SizingTemplate
	sizing   *types.SizingResult
	lines    []types.LineItem
	audit    []PricingAudit
	envelope *margin.Envelope
	metrics  *finance.Metrics
	report   benchmark.Report
	region   string

	timings map[string]time.Duration
}

func newRun() *run {
	return &run{phase: PhaseUninitialized, timings: make(map[string]time.Duration)}
}

// advance moves to the next phase; skipping or repeating a phase is an error
func (r *run) advance(to Phase) error {
	if to != r.phase+1 {
		return &PhaseOrderError{Required: to, Current: r.phase}
	}
	r.phase = to
	return nil
}

// stage runs one phase inside its own span and records its duration
func (e *Engine) stage(ctx context.Context, r *run, phase Phase, fn func(context.Context) error) error {
	if r.phase != phase-1 {
		return &PhaseOrderError{Required: phase, Current: r.phase}
	}

	ctx, span := e.tracer.Start(ctx, "quote."+phase.String())
	defer span.End()

	start := e.now()
	err := fn(ctx)
	elapsed := e.now().Sub(start)
	r.timings[phase.String()] = elapsed

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int64("duration_us", elapsed.Microseconds()))

	e.logger.Debug("quote stage complete",
		zap.String("stage", phase.String()),
		zap.Duration("duration", elapsed))
	return r.advance(phase)
}
