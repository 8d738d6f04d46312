// Package sizing - Load & sizing calculator
package sizing

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"energy-quote/core/policy"
	"energy-quote/core/template"
	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
	"energy-quote/internal/logging"
)

// Universal facility fields understood by every template
const (
	FieldSquareFootage  = "squareFootage"
	FieldOperatingHours = "operatingHours"
	FieldPeakLoad       = "peakLoad"
	FieldGridConnection = "gridConnection"
	FieldGridCapacity   = "gridCapacity"
	FieldBudget         = "budget"
)

const daysPerYear = 365.0

type vars = map[string]float64

// Calculator sizes an energy system from a resolved template
type Calculator struct {
	policy policy.SizingPolicy
	logger *zap.Logger
}

// NewCalculator creates a calculator for a sizing policy
func NewCalculator(p policy.SizingPolicy, logger *zap.Logger) *Calculator {
	return &Calculator{policy: p, logger: logging.OrNop(logger)}
}

// Size computes peak demand, annual energy and the recommended system.
// answers must carry canonical field names (see template.Resolver).
func (c *Calculator) Size(tmpl template.SizingTemplate, answers types.Answers) (*types.SizingResult, error) {
	if missing := missingFields(tmpl, answers); len(missing) > 0 {
		return nil, qerrors.InsufficientInput(tmpl.Industry, missing)
	}
	hours, err := operatingHours(answers)
	if err != nil {
		return nil, err
	}

	tr := &trail{}
	chargers := map[types.EquipmentCategory]int{}

	base := c.baseLoad(tmpl, answers, tr, chargers)
	peak := applyModifiers(tmpl, answers, base, tr)
	peak = tr.step("peak demand", "base load after modifiers", vars{"modified_load_kw": peak}, peak, "kW")

	if mw, ok := number(answers, FieldPeakLoad); ok && mw > 0 {
		peak = tr.step("peak demand override", "measured peak MW × 1000",
			vars{"peak_load_mw": mw, "computed_peak_kw": peak}, mw*1000, "kW")
	}

	res := &types.SizingResult{PeakDemandKW: peak}
	res.AnnualEnergyKWh = c.annualEnergy(tmpl, hours, peak, tr)
	res.StoragePowerKW, res.StorageEnergyKWh = c.storage(tmpl, answers, peak, tr)
	res.SolarKW = c.solar(answers, peak, tr)
	res.GeneratorKW = c.generator(tmpl, answers, peak, tr)

	if len(chargers) > 0 {
		res.Chargers = chargers
	}
	res.Steps = tr.steps
	res.Assumptions = tr.assumptions

	c.logger.Debug("sizing complete",
		zap.String("industry", tmpl.Industry),
		zap.Float64("peak_kw", res.PeakDemandKW),
		zap.Float64("storage_kw", res.StoragePowerKW),
		zap.Float64("storage_kwh", res.StorageEnergyKWh),
		zap.Int("steps", len(res.Steps)))
	return res, nil
}

func (c *Calculator) baseLoad(tmpl template.SizingTemplate, answers types.Answers, tr *trail, chargers map[types.EquipmentCategory]int) float64 {
	switch tmpl.Method {
	case template.MethodPerUnit:
		count, _ := number(answers, tmpl.Field)
		return tr.step("base load: "+tmpl.Industry, fmt.Sprintf("%s kW/%s × %s", fmtNum(tmpl.Coefficient), unitName(tmpl), tmpl.Field),
			vars{"coefficient": tmpl.Coefficient, tmpl.Field: count}, tmpl.Coefficient*count, "kW")

	case template.MethodPerArea:
		area, _ := number(answers, tmpl.Field)
		return tr.step("base load: "+tmpl.Industry, "(W/sqft × area) / 1000",
			vars{"watts_per_sqft": tmpl.Coefficient, tmpl.Field: area}, tmpl.Coefficient*area/1000, "kW")

	case template.MethodChargerSum:
		connected := 0.0
		for _, ch := range tmpl.Chargers {
			count, ok := number(answers, ch.Field)
			if !ok || count <= 0 {
				continue
			}
			chargers[ch.Category] += int(count)
			connected += tr.step("chargers: "+string(ch.Category), "count × kW per charger",
				vars{ch.Field: count, "kw_per_charger": ch.PowerKW}, count*ch.PowerKW, "kW")
		}
		return tr.step("base load: "+tmpl.Industry, "connected charger kW × concurrency",
			vars{"connected_kw": connected, "concurrency": tmpl.Concurrency}, connected*tmpl.Concurrency, "kW")

	case template.MethodComposite:
		total := 0.0
		inputs := vars{}
		for _, part := range tmpl.Components {
			partBase := c.baseLoad(part, answers, tr, chargers)
			partLoad := applyModifiers(part, answers, partBase, tr)
			inputs[part.Industry+"_kw"] = partLoad
			total += partLoad
		}
		return tr.step("base load: "+tmpl.Industry, "sum of part loads", inputs, total, "kW")
	}
	return 0
}

// applyModifiers multiplies the running load by each holding modifier in declared order
func applyModifiers(tmpl template.SizingTemplate, answers types.Answers, load float64, tr *trail) float64 {
	for _, m := range tmpl.Modifiers {
		if !m.Condition.Holds(answers) {
			continue
		}
		load = tr.step("modifier: "+m.Name, fmt.Sprintf("running load × %s (%s)", fmtNum(m.Multiplier), m.Condition),
			vars{"running_kw": load, "multiplier": m.Multiplier}, load*m.Multiplier, "kW")
	}
	return load
}

// operatingHours returns the answered hours per day, or 0 when unanswered.
// An answer that is not a number in (0,24] is an input error.
func operatingHours(answers types.Answers) (float64, error) {
	v, ok := answers[FieldOperatingHours]
	if !ok || (v.Kind == types.KindEnum && strings.TrimSpace(v.Str) == "") {
		return 0, nil
	}
	hours, ok := v.AsNumber()
	if v.Kind == types.KindBool || !ok || hours <= 0 || hours > 24 {
		return 0, qerrors.Newf(qerrors.TypeInput, "operatingHours %s is not a daily figure in (0,24]", v).
			WithContext("field", FieldOperatingHours)
	}
	return hours, nil
}

// annualEnergy uses the answered hours, or the template then policy default when hours is 0
func (c *Calculator) annualEnergy(tmpl template.SizingTemplate, hours, peak float64, tr *trail) float64 {
	if hours <= 0 {
		hours = tmpl.OperatingHours
		source := AssumptionFromTemplate
		if hours <= 0 {
			hours = c.policy.DefaultOperatingHours
			source = AssumptionFromPolicy
		}
		tr.assume(FieldOperatingHours, hours, "h/day", source, "operatingHours not answered")
		tr.step("assumed operating hours", source.String()+" default", vars{"operating_hours": hours}, hours, "h/day")
	}

	lf := tmpl.LoadFactor
	if lf <= 0 {
		lf = c.policy.DefaultLoadFactor
		tr.assume("loadFactor", lf, "ratio", AssumptionFromPolicy, "template has no load factor")
	}

	return tr.step("annual energy", "peak × load factor × operating hours × 365",
		vars{"peak_kw": peak, "load_factor": lf, "operating_hours": hours, "days": daysPerYear},
		peak*lf*hours*daysPerYear, "kWh")
}

func (c *Calculator) storage(tmpl template.SizingTemplate, answers types.Answers, peak float64, tr *trail) (float64, float64) {
	ratio := tmpl.StoragePowerRatio
	if ratio <= 0 {
		ratio = c.policy.DefaultStoragePowerRatio
	}
	if ratio < c.policy.MinStoragePowerRatio || ratio > c.policy.MaxStoragePowerRatio {
		clamped := clamp(ratio, c.policy.MinStoragePowerRatio, c.policy.MaxStoragePowerRatio)
		ratio = tr.step("storage ratio clamp", "template ratio clamped to policy bounds",
			vars{"template_ratio": ratio, "min": c.policy.MinStoragePowerRatio, "max": c.policy.MaxStoragePowerRatio}, clamped, "ratio")
	}

	power := tr.step("storage power", "peak × storage power ratio",
		vars{"peak_kw": peak, "ratio": ratio}, peak*ratio, "kW")

	if strings.EqualFold(enum(answers, FieldGridConnection), "limited") {
		if capMW, ok := number(answers, FieldGridCapacity); ok && capMW > 0 {
			shortfall := peak - capMW*1000
			if shortfall > power {
				power = tr.step("storage power: grid shortfall", "peak − grid capacity MW × 1000",
					vars{"peak_kw": peak, "grid_capacity_mw": capMW, "ratio_power_kw": power}, shortfall, "kW")
			}
		}
	}

	duration := tmpl.DurationHours
	if duration <= 0 {
		duration = c.policy.DefaultDurationHours
	}
	energy := tr.step("storage energy", "storage power × duration hours",
		vars{"storage_kw": power, "duration_hours": duration}, power*duration, "kWh")
	return power, energy
}

func (c *Calculator) solar(answers types.Answers, peak float64, tr *trail) float64 {
	kw := tr.step("solar capacity", "peak × solar ratio",
		vars{"peak_kw": peak, "solar_ratio": c.policy.SolarRatio}, peak*c.policy.SolarRatio, "kW")

	area, ok := number(answers, FieldSquareFootage)
	if !ok || area <= 0 {
		return kw
	}
	roofCap := area * c.policy.RoofUsableFraction * c.policy.SolarWattsPerSqFt / 1000
	if kw > roofCap {
		kw = tr.step("solar capacity: roof cap", "area × usable fraction × W/sqft / 1000",
			vars{"area_sqft": area, "usable_fraction": c.policy.RoofUsableFraction, "watts_per_sqft": c.policy.SolarWattsPerSqFt}, roofCap, "kW")
	}
	return kw
}

func (c *Calculator) generator(tmpl template.SizingTemplate, answers types.Answers, peak float64, tr *trail) float64 {
	grid := strings.ToLower(enum(answers, FieldGridConnection))
	needed := tmpl.BackupRequired
	for _, g := range c.policy.GeneratorGridConnections {
		if grid != "" && grid == strings.ToLower(g) {
			needed = true
		}
	}
	if !needed {
		return tr.step("generator capacity", "grid adequate and no critical load", vars{"peak_kw": peak}, 0, "kW")
	}
	return tr.step("generator capacity", "peak × generator reserve ratio",
		vars{"peak_kw": peak, "reserve_ratio": c.policy.GeneratorReserveRatio}, peak*c.policy.GeneratorReserveRatio, "kW")
}

// ApplyBudget reduces storage energy so its pre-margin base cost fits the
// budget. unitCost is the obtainable base cost per kWh, never a sell price.
func ApplyBudget(res *types.SizingResult, budget, unitCost float64) (types.SizingResult, bool) {
	out := res.Clone()
	if budget <= 0 || unitCost <= 0 {
		return out, false
	}
	affordable := budget / unitCost
	if affordable >= out.StorageEnergyKWh {
		return out, false
	}
	out.StorageEnergyKWh = affordable
	out.Steps = append(out.Steps, types.CalculationStep{
		Label:   "storage energy: budget limit",
		Formula: "budget / obtainable cost per kWh (pre-margin, not exported)",
		Inputs:  vars{"budget": budget, "unconstrained_kwh": res.StorageEnergyKWh},
		Output:  affordable,
		Unit:    "kWh",
	})
	return out, true
}

// LimitPower reduces storage power, and energy with it at the same duration,
// so a storage cost of unitCost per kW fits the budget. It serves batteries
// priced per kW, where the battery and power conversion both scale with power.
func LimitPower(res *types.SizingResult, budget, unitCost float64) (types.SizingResult, bool) {
	out := res.Clone()
	if budget <= 0 || unitCost <= 0 || out.StoragePowerKW <= 0 {
		return out, false
	}
	affordable := budget / unitCost
	if affordable >= out.StoragePowerKW {
		return out, false
	}
	hours := out.StorageEnergyKWh / out.StoragePowerKW
	out.StoragePowerKW = affordable
	out.StorageEnergyKWh = affordable * hours
	out.Steps = append(out.Steps,
		types.CalculationStep{
			Label:   "storage power: budget limit",
			Formula: "budget / obtainable storage cost per kW (pre-margin, not exported)",
			Inputs:  vars{"budget": budget, "unconstrained_kw": res.StoragePowerKW},
			Output:  affordable,
			Unit:    "kW",
		},
		types.CalculationStep{
			Label:   "storage energy: budget limit",
			Formula: "limited power × storage duration",
			Inputs:  vars{"storage_kw": affordable, "duration_h": hours},
			Output:  out.StorageEnergyKWh,
			Unit:    "kWh",
		})
	return out, true
}

// missingFields returns canonical fields the base load needs but the answers lack
func missingFields(tmpl template.SizingTemplate, answers types.Answers) []string {
	var missing []string
	switch tmpl.Method {
	case template.MethodPerUnit, template.MethodPerArea:
		if v, ok := number(answers, tmpl.Field); !ok || v <= 0 {
			missing = append(missing, tmpl.Field)
		}
	case template.MethodChargerSum:
		found := false
		for _, ch := range tmpl.Chargers {
			if v, ok := number(answers, ch.Field); ok && v > 0 {
				found = true
			}
		}
		if !found {
			missing = append(missing, tmpl.RequiredFields()...)
		}
	case template.MethodComposite:
		for _, part := range tmpl.Components {
			missing = append(missing, missingFields(part, answers)...)
		}
	}
	sort.Strings(missing)
	return missing
}

func number(answers types.Answers, field string) (float64, bool) {
	v, ok := answers[field]
	if !ok {
		return 0, false
	}
	return v.AsNumber()
}

func enum(answers types.Answers, field string) string {
	v, ok := answers[field]
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.String())
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func unitName(tmpl template.SizingTemplate) string {
	if tmpl.Unit != "" {
		return tmpl.Unit
	}
	return "unit"
}

func fmtNum(f float64) string {
	return fmt.Sprintf("%g", f)
}
