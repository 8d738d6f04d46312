// Package template - Template catalog
package template

import (
	"fmt"
	"sort"
	"sync"

	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
)

// Catalog holds templates keyed by canonical industry identifier
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{templates: make(map[string]Template)}
}

// Register adds a template, replacing any existing one for the industry
func (c *Catalog) Register(t Template) error {
	t.Industry = normalizeID(t.Industry)
	if err := t.Validate(); err != nil {
		return err
	}
	variants := make(map[string]float64, len(t.Variants))
	for name, coeff := range t.Variants {
		variants[normalizeID(name)] = coeff
	}
	if len(variants) > 0 {
		t.Variants = variants
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates[t.Industry] = t
	return nil
}

// Lookup returns the template for a canonical industry
func (c *Catalog) Lookup(industry string) (Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[industry]
	return t, ok
}

// Industries returns the registered industries, sorted
func (c *Catalog) Industries() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.templates))
	for k := range c.templates {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Check verifies every composite part names a registered template
// and that composites do not nest into cycles.
func (c *Catalog) Check() error {
	for _, industry := range c.Industries() {
		if err := c.checkParts(industry, map[string]bool{}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) checkParts(industry string, visiting map[string]bool) error {
	if visiting[industry] {
		return qerrors.Newf(qerrors.TypeConfig, "template %s: composite cycle", industry)
	}
	t, ok := c.Lookup(industry)
	if !ok {
		return qerrors.Newf(qerrors.TypeConfig, "composite part %s is not registered", industry)
	}
	visiting[industry] = true
	defer delete(visiting, industry)
	for _, part := range t.Parts {
		p, ok := c.Lookup(normalizeID(part))
		if !ok {
			return qerrors.Newf(qerrors.TypeConfig, "template %s: part %s is not registered", industry, part)
		}
		if len(p.Variants) > 0 {
			return qerrors.Newf(qerrors.TypeConfig, "template %s: part %s has variants", industry, part)
		}
		if err := c.checkParts(p.Industry, visiting); err != nil {
			return err
		}
	}
	return nil
}

func truthy(field string) types.Condition {
	return types.Condition{Field: field, Op: types.OpTruthy}
}

// DefaultCatalog returns the built-in templates
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	for _, t := range builtinTemplates() {
		if err := c.Register(t); err != nil {
			panic(fmt.Sprintf("builtin template %s: %v", t.Industry, err))
		}
	}
	if err := c.Check(); err != nil {
		panic(fmt.Sprintf("builtin catalog: %v", err))
	}
	return c
}

func builtinTemplates() []Template {
	return []Template{
		{
			Industry:    "hotel",
			Description: "kW per guest room",
			Method:      MethodPerUnit,
			Field:       "rooms",
			Unit:        "room",
			Variants: map[string]float64{
				"economy":  3.0,
				"midscale": 4.0,
				"upscale":  5.5,
				"luxury":   7.0,
			},
			Modifiers: []Modifier{
				{Name: "restaurant", Condition: truthy("restaurant"), Multiplier: 1.15},
				{Name: "spa", Condition: truthy("spa"), Multiplier: 1.10},
				{Name: "pool", Condition: truthy("pool"), Multiplier: 1.05},
				{Name: "conference center", Condition: truthy("conferenceCenter"), Multiplier: 1.20},
			},
			LoadFactor:     0.55,
			OperatingHours: 24,
		},
		{
			Industry:    "office",
			Description: "W per square foot",
			Method:      MethodPerArea,
			Field:       "squareFootage",
			Unit:        "sqft",
			Coefficient: 6.0,
			Modifiers: []Modifier{
				{Name: "server room", Condition: truthy("serverRoom"), Multiplier: 1.10},
			},
			LoadFactor:     0.45,
			OperatingHours: 12,
		},
		{
			Industry:    "hospital",
			Description: "kW per licensed bed",
			Method:      MethodPerUnit,
			Field:       "beds",
			Unit:        "bed",
			Variants: map[string]float64{
				"community": 8.0,
				"regional":  10.0,
				"teaching":  12.0,
			},
			Modifiers: []Modifier{
				{Name: "surgical suites", Condition: truthy("surgicalSuites"), Multiplier: 1.15},
				{Name: "imaging center", Condition: truthy("imagingCenter"), Multiplier: 1.10},
			},
			StoragePowerRatio: 0.7,
			LoadFactor:        0.65,
			OperatingHours:    24,
			BackupRequired:    true,
		},
		{
			Industry:    "data_center",
			Description: "kW per rack",
			Method:      MethodPerUnit,
			Field:       "racks",
			Unit:        "rack",
			Variants: map[string]float64{
				"edge":       5.0,
				"enterprise": 8.0,
				"hyperscale": 12.0,
			},
			Modifiers: []Modifier{
				{Name: "high PUE cooling", Condition: types.Condition{Field: "pue", Op: types.OpAtLeast, Threshold: 1.5}, Multiplier: 1.20},
			},
			StoragePowerRatio: 0.7,
			LoadFactor:        0.85,
			OperatingHours:    24,
			BackupRequired:    true,
		},
		{
			Industry:    "warehouse",
			Description: "W per square foot",
			Method:      MethodPerArea,
			Field:       "squareFootage",
			Unit:        "sqft",
			Variants: map[string]float64{
				"dry":          1.5,
				"fulfillment":  3.0,
				"cold_storage": 6.0,
			},
			Modifiers: []Modifier{
				{Name: "automation", Condition: truthy("automation"), Multiplier: 1.25},
			},
			LoadFactor:     0.5,
			OperatingHours: 16,
		},
		{
			Industry:    "retail",
			Description: "W per square foot",
			Method:      MethodPerArea,
			Field:       "squareFootage",
			Unit:        "sqft",
			Coefficient: 10.0,
			Modifiers: []Modifier{
				{Name: "refrigeration", Condition: truthy("refrigeration"), Multiplier: 1.20},
			},
			LoadFactor:     0.5,
			OperatingHours: 14,
		},
		{
			Industry:    "car_wash",
			Description: "kW per wash bay",
			Method:      MethodPerUnit,
			Field:       "bays",
			Unit:        "bay",
			Variants: map[string]float64{
				"self_serve": 15.0,
				"in_bay":     40.0,
				"tunnel":     100.0,
			},
			Modifiers: []Modifier{
				{Name: "heated dryers", Condition: truthy("heatedDryers"), Multiplier: 1.10},
			},
			LoadFactor:     0.4,
			OperatingHours: 12,
		},
		{
			Industry:    "ev_charging",
			Description: "sum of charger power with concurrency",
			Method:      MethodChargerSum,
			Chargers: []Charger{
				{Category: types.CategoryEVL2, Field: "level2Count", PowerKW: 7.2},
				{Category: types.CategoryEVDCFC, Field: "dcfcCount", PowerKW: 150},
				{Category: types.CategoryEVHPC, Field: "hpcCount", PowerKW: 350},
			},
			Concurrency:    0.7,
			LoadFactor:     0.3,
			OperatingHours: 18,
		},
		{
			Industry:    "truck_stop",
			Description: "charging plus convenience retail",
			Method:      MethodComposite,
			Parts:       []string{"ev_charging", "retail"},
			Modifiers: []Modifier{
				{Name: "truck parking", Condition: types.Condition{Field: "truckParkingSpaces", Op: types.OpAtLeast, Threshold: 50}, Multiplier: 1.10},
			},
			LoadFactor:     0.4,
			OperatingHours: 24,
		},
	}
}
