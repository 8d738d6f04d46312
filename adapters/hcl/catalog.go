// Package hcl - Template and pricing catalog files
package hcl

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"energy-quote/core/confidence"
	"energy-quote/core/pricing"
	"energy-quote/core/template"
	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
)

type catalogFile struct {
	Synonyms  *synonymsBlock  `hcl:"synonyms,block"`
	Templates []templateBlock `hcl:"template,block"`
	Tiers     []tierBlock     `hcl:"tier,block"`
	Overrides []tierBlock     `hcl:"override,block"`
	Fallbacks []fallbackBlock `hcl:"fallback,block"`
}

type synonymsBlock struct {
	Fields     map[string]string `hcl:"fields,optional"`
	Industries map[string]string `hcl:"industries,optional"`
}

type templateBlock struct {
	Industry          string             `hcl:"industry,label"`
	Description       string             `hcl:"description,optional"`
	Method            string             `hcl:"method"`
	Field             string             `hcl:"field,optional"`
	Unit              string             `hcl:"unit,optional"`
	Coefficient       float64            `hcl:"coefficient,optional"`
	Variants          map[string]float64 `hcl:"variants,optional"`
	Concurrency       float64            `hcl:"concurrency,optional"`
	Parts             []string           `hcl:"parts,optional"`
	StoragePowerRatio float64            `hcl:"storage_power_ratio,optional"`
	DurationHours     float64            `hcl:"duration_hours,optional"`
	LoadFactor        float64            `hcl:"load_factor,optional"`
	OperatingHours    float64            `hcl:"operating_hours,optional"`
	BackupRequired    bool               `hcl:"backup_required,optional"`
	Chargers          []chargerBlock     `hcl:"charger,block"`
	Modifiers         []modifierBlock    `hcl:"modifier,block"`
}

type chargerBlock struct {
	Category string  `hcl:"category,label"`
	Field    string  `hcl:"field"`
	Power    float64 `hcl:"power"`
}

type modifierBlock struct {
	Name       string         `hcl:"name,label"`
	Multiplier float64        `hcl:"multiplier"`
	When       conditionBlock `hcl:"when,block"`
}

type tierBlock struct {
	Category        string  `hcl:"category,label"`
	Vendor          string  `hcl:"vendor,optional"`
	Min             float64 `hcl:"min,optional"`
	Max             float64 `hcl:"max,optional"`
	SizeUnit        string  `hcl:"size_unit"`
	PriceUnit       string  `hcl:"price_unit,optional"`
	UnitPrice       string  `hcl:"unit_price"`
	MarketUnitPrice string  `hcl:"market_unit_price,optional"`
	Source          string  `hcl:"source,optional"`
	Confidence      string  `hcl:"confidence,optional"`
	EffectiveFrom   string  `hcl:"effective_from,optional"`
	EffectiveTo     string  `hcl:"effective_to,optional"`
}

type fallbackBlock struct {
	Category  string `hcl:"category,label"`
	PriceUnit string `hcl:"price_unit"`
	UnitPrice string `hcl:"unit_price"`
	Source    string `hcl:"source,optional"`
}

// Catalog is a decoded catalog file: templates and synonyms layered over the
// built-in ones, plus the pricing tables it declares.
type Catalog struct {
	Templates *template.Catalog
	Synonyms  *template.Synonyms
	Tiers     []types.PriceTier
	Overrides []types.PriceTier
	Fallbacks []pricing.FallbackPrice
}

// LoadCatalog reads a catalog file
func LoadCatalog(path string) (*Catalog, error) {
	var f catalogFile
	if err := decodeFile(path, &f); err != nil {
		return nil, err
	}
	return f.catalog(path)
}

// DecodeCatalog decodes catalog source; filename selects the syntax
func DecodeCatalog(filename string, src []byte) (*Catalog, error) {
	var f catalogFile
	if err := decode(filename, src, &f); err != nil {
		return nil, err
	}
	return f.catalog(filename)
}

func (f catalogFile) catalog(name string) (*Catalog, error) {
	c := &Catalog{
		Templates: template.DefaultCatalog(),
		Synonyms:  template.DefaultSynonyms(),
	}
	if f.Synonyms != nil {
		c.Synonyms.Merge(f.Synonyms.Fields, f.Synonyms.Industries)
	}

	for _, b := range f.Templates {
		if err := c.Templates.Register(b.template()); err != nil {
			return nil, qerrors.Config("invalid template in "+name, err)
		}
	}
	if err := c.Templates.Check(); err != nil {
		return nil, qerrors.Config("invalid template catalog in "+name, err)
	}

	var err error
	if c.Tiers, err = priceTiers(f.Tiers); err != nil {
		return nil, qerrors.Config("invalid tier in "+name, err)
	}
	if err := pricing.ValidateTiers(c.Tiers); err != nil {
		return nil, qerrors.Config("invalid tier table in "+name, err)
	}
	if c.Overrides, err = priceTiers(f.Overrides); err != nil {
		return nil, qerrors.Config("invalid override in "+name, err)
	}

	c.Fallbacks = pricing.DefaultFallbacks()
	for _, b := range f.Fallbacks {
		price, err := decimal.NewFromString(b.UnitPrice)
		if err != nil || !price.IsPositive() {
			return nil, qerrors.Config(fmt.Sprintf("fallback %s: unit price %q must be a positive number", b.Category, b.UnitPrice), err)
		}
		c.Fallbacks = setFallback(c.Fallbacks, pricing.FallbackPrice{
			Category:  types.EquipmentCategory(b.Category),
			PriceUnit: types.Unit(b.PriceUnit),
			UnitPrice: price,
			Source:    b.Source,
		})
	}
	return c, nil
}

// PricingOptions wires the catalog's tables into a pricing service
func (c *Catalog) PricingOptions(name string) ([]pricing.Option, error) {
	table, err := pricing.NewStaticTierSource(name, c.Tiers)
	if err != nil {
		return nil, qerrors.Config("invalid tier table", err)
	}
	opts := []pricing.Option{
		pricing.WithTierSources(table),
		pricing.WithFallbacks(c.Fallbacks),
	}
	if len(c.Overrides) > 0 {
		opts = append(opts, pricing.WithOverrides(pricing.NewStaticOverrideSource(name+" overrides", c.Overrides)))
	}
	return opts, nil
}

func (b templateBlock) template() template.Template {
	t := template.Template{
		Industry:          b.Industry,
		Description:       b.Description,
		Method:            template.Method(b.Method),
		Field:             b.Field,
		Unit:              b.Unit,
		Coefficient:       b.Coefficient,
		Variants:          b.Variants,
		Concurrency:       b.Concurrency,
		Parts:             b.Parts,
		StoragePowerRatio: b.StoragePowerRatio,
		DurationHours:     b.DurationHours,
		LoadFactor:        b.LoadFactor,
		OperatingHours:    b.OperatingHours,
		BackupRequired:    b.BackupRequired,
	}
	for _, c := range b.Chargers {
		t.Chargers = append(t.Chargers, template.Charger{
			Category: types.EquipmentCategory(c.Category),
			Field:    c.Field,
			PowerKW:  c.Power,
		})
	}
	for _, m := range b.Modifiers {
		t.Modifiers = append(t.Modifiers, template.Modifier{
			Name:       m.Name,
			Condition:  m.When.condition(),
			Multiplier: m.Multiplier,
		})
	}
	return t
}

func priceTiers(blocks []tierBlock) ([]types.PriceTier, error) {
	out := make([]types.PriceTier, 0, len(blocks))
	for _, b := range blocks {
		t, err := b.tier()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (b tierBlock) tier() (types.PriceTier, error) {
	t := types.PriceTier{
		Category:  types.EquipmentCategory(b.Category),
		Vendor:    b.Vendor,
		Min:       b.Min,
		Max:       b.Max,
		SizeUnit:  types.Unit(b.SizeUnit),
		PriceUnit: types.Unit(b.PriceUnit),
		Source:    b.Source,
	}
	if t.PriceUnit == "" {
		t.PriceUnit = t.SizeUnit
	}

	var err error
	if t.UnitPrice, err = decimal.NewFromString(b.UnitPrice); err != nil {
		return t, fmt.Errorf("%s: unit_price %q: %w", b.Category, b.UnitPrice, err)
	}
	if b.MarketUnitPrice != "" {
		if t.MarketUnitPrice, err = decimal.NewFromString(b.MarketUnitPrice); err != nil {
			return t, fmt.Errorf("%s: market_unit_price %q: %w", b.Category, b.MarketUnitPrice, err)
		}
	}
	if b.Confidence != "" {
		if t.Confidence, err = confidence.Parse(b.Confidence); err != nil {
			return t, fmt.Errorf("%s: %w", b.Category, err)
		}
	}
	if b.EffectiveFrom != "" {
		if t.EffectiveFrom, err = parseDate(b.EffectiveFrom); err != nil {
			return t, fmt.Errorf("%s: effective_from: %w", b.Category, err)
		}
	}
	if b.EffectiveTo != "" {
		to, err := parseDate(b.EffectiveTo)
		if err != nil {
			return t, fmt.Errorf("%s: effective_to: %w", b.Category, err)
		}
		t.EffectiveTo = &to
	}
	return t, nil
}

// parseDate accepts a date or a full RFC 3339 timestamp
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func setFallback(list []pricing.FallbackPrice, f pricing.FallbackPrice) []pricing.FallbackPrice {
	for i := range list {
		if list[i].Category == f.Category {
			list[i] = f
			return list
		}
	}
	return append(list, f)
}
