// Package engine - Bill of materials and budget limiting
package engine

import (
	"context"

	"go.uber.org/zap"

	"energy-quote/core/determinism"
	"energy-quote/core/policy"
	"energy-quote/core/pricing"
	"energy-quote/core/sizing"
	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
)

// maxBudgetPasses bounds re-resolution when a smaller size lands in a pricier band
const maxBudgetPasses = 3

// equipment is one priced component of the sized system
type equipment struct {
	category types.EquipmentCategory
	size     float64
	unit     types.Unit

	// quantities in each unit a tier may be banded or priced by
	quantities map[types.Unit]float64
}

// request builds the price request; every quantity other than the primary
// size is offered as an alternate banding size
func (eq equipment) request(req QuoteRequest) pricing.Request {
	alt := make(map[types.Unit]float64, len(eq.quantities))
	for u, q := range eq.quantities {
		if u != eq.unit {
			alt[u] = q
		}
	}
	if len(alt) == 0 {
		alt = nil
	}
	return pricing.Request{
		Category: eq.category,
		Size:     eq.size,
		Unit:     eq.unit,
		AltSizes: alt,
		Vendor:   req.Vendor,
		AsOf:     req.AsOf,
	}
}

// billOfMaterials lists what the sized system needs priced, in a fixed order
func billOfMaterials(s *types.SizingResult, p policy.SizingPolicy) []equipment {
	var out []equipment
	if s.StorageEnergyKWh > 0 {
		out = append(out, equipment{
			category:   types.CategoryBattery,
			size:       s.StorageEnergyKWh,
			unit:       types.UnitKWh,
			quantities: map[types.Unit]float64{types.UnitKWh: s.StorageEnergyKWh, types.UnitKW: s.StoragePowerKW},
		})
	}
	if pcs := s.StoragePowerKW * p.PCSRatio; pcs > 0 {
		out = append(out, equipment{
			category:   types.CategoryPCS,
			size:       pcs,
			unit:       types.UnitKW,
			quantities: map[types.Unit]float64{types.UnitKW: pcs},
		})
	}
	if s.SolarKW > 0 {
		out = append(out, equipment{
			category:   types.CategorySolar,
			size:       s.SolarKW,
			unit:       types.UnitKW,
			quantities: map[types.Unit]float64{types.UnitKW: s.SolarKW},
		})
	}
	if s.GeneratorKW > 0 {
		out = append(out, equipment{
			category:   types.CategoryGenerator,
			size:       s.GeneratorKW,
			unit:       types.UnitKW,
			quantities: map[types.Unit]float64{types.UnitKW: s.GeneratorKW},
		})
	}
	for _, cat := range determinism.SortedKeys(s.Chargers) {
		n := float64(s.Chargers[cat])
		out = append(out, equipment{
			category:   cat,
			size:       n,
			unit:       types.UnitEach,
			quantities: map[types.Unit]float64{types.UnitEach: n},
		})
	}
	return out
}

// priceEquipment resolves a tier and builds the base-cost line item
func (e *Engine) priceEquipment(ctx context.Context, eq equipment, req QuoteRequest) (types.LineItem, PricingAudit, error) {
	preq := eq.request(req)
	tier, err := e.prices.Resolve(ctx, preq)
	if err != nil {
		return types.LineItem{}, PricingAudit{}, err
	}

	qty, ok := eq.quantities[tier.PriceUnit]
	if !ok {
		return types.LineItem{}, PricingAudit{}, qerrors.Pricing("tier is priced in a unit the equipment has no quantity for", nil).
			WithContext("category", string(eq.category)).
			WithContext("price_unit", string(tier.PriceUnit)).
			WithContext("source", tier.Source)
	}

	size, sizeUnit := eq.size, eq.unit
	if banded, ok := preq.SizeIn(tier.SizeUnit); ok {
		size, sizeUnit = banded, tier.SizeUnit
	}

	item := types.NewLineItem(eq.category, qty, tier)
	audit := PricingAudit{
		Category:     eq.category,
		Size:         size,
		SizeUnit:     sizeUnit,
		Quantity:     qty,
		PriceUnit:    tier.PriceUnit,
		Source:       tier.Source,
		ResolvedFrom: tier.ResolvedFrom,
		Confidence:   tier.Confidence,
		BandMin:      tier.Min,
		BandMax:      tier.Max,
		Nearest:      tier.Nearest,
	}
	return item, audit, nil
}

// applyBudget shrinks storage until its pre-margin base cost fits the
// facility budget. A battery priced per kWh gives up energy and keeps its
// power, so power conversion is paid first. A battery priced per kW gives up
// power and energy together, since both lines then scale with power.
func (e *Engine) applyBudget(ctx context.Context, r *run, req QuoteRequest, sp policy.SizingPolicy) error {
	v, ok := r.template.Answers[sizing.FieldBudget]
	if !ok {
		return nil
	}
	budget, ok := v.AsNumber()
	if !ok || budget <= 0 {
		return nil
	}

	bess, pcs := -1, -1
	for i, l := range r.lines {
		switch l.Category {
		case types.CategoryBattery:
			bess = i
		case types.CategoryPCS:
			pcs = i
		}
	}
	if bess < 0 {
		return nil
	}

	var (
		current *types.SizingResult
		err     error
	)
	if r.lines[bess].Tier.PriceUnit == types.UnitKW {
		current, err = e.limitPower(ctx, r, req, sp, budget, bess, pcs)
	} else {
		current, err = e.limitEnergy(ctx, r, req, sp, budget, bess, pcs)
	}
	if err != nil {
		return err
	}

	if current != r.sizing {
		e.logger.Info("storage limited by budget",
			zap.Float64("budget", budget),
			zap.Float64("unconstrained_kw", r.sizing.StoragePowerKW),
			zap.Float64("unconstrained_kwh", r.sizing.StorageEnergyKWh),
			zap.Float64("storage_kw", current.StoragePowerKW),
			zap.Float64("storage_kwh", current.StorageEnergyKWh))
		r.sizing = current
	}
	return nil
}

// limitEnergy fits the battery into what the budget leaves after power conversion
func (e *Engine) limitEnergy(ctx context.Context, r *run, req QuoteRequest, sp policy.SizingPolicy, budget float64, bess, pcs int) (*types.SizingResult, error) {
	available := budget
	if pcs >= 0 {
		available -= r.lines[pcs].BaseCost.InexactFloat64()
	}
	if available <= 0 {
		return nil, qerrors.Input("budget does not cover power conversion for the sized storage").
			WithContext("budget", budget)
	}

	current := r.sizing
	for pass := 0; pass < maxBudgetPasses; pass++ {
		unitCost := r.lines[bess].BaseCost.InexactFloat64() / current.StorageEnergyKWh
		next, applied := sizing.ApplyBudget(current, available, unitCost)
		if !applied {
			break
		}
		current = &next
		if err := e.repriceStorage(ctx, r, req, current, sp, bess, -1); err != nil {
			return nil, err
		}
	}

	// a smaller size may land in a pricier band; hold the last tier's price
	if r.lines[bess].BaseCost.InexactFloat64() > available {
		unitCost := r.lines[bess].BaseCost.InexactFloat64() / current.StorageEnergyKWh
		next, _ := sizing.ApplyBudget(current, available, unitCost)
		current = &next
		r.hold(bess, storageBill(current, sp)[types.CategoryBattery])
	}
	return current, nil
}

// limitPower scales storage power, and energy at the same duration, until the
// battery and power conversion together fit the budget
func (e *Engine) limitPower(ctx context.Context, r *run, req QuoteRequest, sp policy.SizingPolicy, budget float64, bess, pcs int) (*types.SizingResult, error) {
	storageCost := func() float64 {
		cost := r.lines[bess].BaseCost
		if pcs >= 0 {
			cost = cost.Add(r.lines[pcs].BaseCost)
		}
		return cost.InexactFloat64()
	}

	current := r.sizing
	for pass := 0; pass < maxBudgetPasses; pass++ {
		next, applied := sizing.LimitPower(current, budget, storageCost()/current.StoragePowerKW)
		if !applied {
			break
		}
		current = &next
		if err := e.repriceStorage(ctx, r, req, current, sp, bess, pcs); err != nil {
			return nil, err
		}
	}

	if storageCost() > budget {
		next, _ := sizing.LimitPower(current, budget, storageCost()/current.StoragePowerKW)
		current = &next
		bill := storageBill(current, sp)
		r.hold(bess, bill[types.CategoryBattery])
		if pcs >= 0 {
			r.hold(pcs, bill[types.CategoryPCS])
		}
	}
	return current, nil
}

// repriceStorage resolves the battery, and power conversion when pcs >= 0,
// again at the limited size
func (e *Engine) repriceStorage(ctx context.Context, r *run, req QuoteRequest, s *types.SizingResult, sp policy.SizingPolicy, bess, pcs int) error {
	bill := storageBill(s, sp)
	targets := map[types.EquipmentCategory]int{types.CategoryBattery: bess}
	if pcs >= 0 {
		targets[types.CategoryPCS] = pcs
	}
	for _, cat := range determinism.SortedKeys(targets) {
		eq, ok := bill[cat]
		if !ok {
			continue
		}
		item, audit, err := e.priceEquipment(ctx, eq, req)
		if err != nil {
			return err
		}
		i := targets[cat]
		r.lines[i], r.audit[i] = item, audit
	}
	return nil
}

// storageBill indexes the storage equipment of a sized system by category
func storageBill(s *types.SizingResult, sp policy.SizingPolicy) map[types.EquipmentCategory]equipment {
	out := make(map[types.EquipmentCategory]equipment, 2)
	for _, eq := range billOfMaterials(s, sp) {
		if eq.category == types.CategoryBattery || eq.category == types.CategoryPCS {
			out[eq.category] = eq
		}
	}
	return out
}

// hold re-quantifies line i at eq's size without resolving a new tier
func (r *run) hold(i int, eq equipment) {
	tier := r.lines[i].Tier
	qty := eq.quantities[tier.PriceUnit]
	r.lines[i] = types.NewLineItem(eq.category, qty, tier)
	r.audit[i].Quantity = qty
	if size, ok := eq.quantities[r.audit[i].SizeUnit]; ok {
		r.audit[i].Size = size
	}
}
