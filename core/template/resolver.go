// Package template - Industry template resolution
package template

import (
	"sort"

	"go.uber.org/zap"

	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
	"energy-quote/internal/logging"
)

// Resolver maps an industry and subtype to a SizingTemplate
type Resolver struct {
	catalog  *Catalog
	synonyms *Synonyms
	logger   *zap.Logger
}

// NewResolver creates a resolver over a catalog and synonym table
func NewResolver(catalog *Catalog, synonyms *Synonyms, logger *zap.Logger) *Resolver {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if synonyms == nil {
		synonyms = DefaultSynonyms()
	}
	return &Resolver{
		catalog:  catalog,
		synonyms: synonyms,
		logger:   logging.OrNop(logger),
	}
}

// Synonyms returns the resolver's synonym table
func (r *Resolver) Synonyms() *Synonyms {
	return r.synonyms
}

// Resolve returns the template for an industry. A template with variants
// requires a known subtype; there is no fallback variant.
func (r *Resolver) Resolve(industryID, subtype string, answers types.Answers) (SizingTemplate, error) {
	industry := r.synonyms.Industry(industryID)
	t, ok := r.catalog.Lookup(industry)
	if !ok {
		return SizingTemplate{}, qerrors.UnknownIndustry(industryID)
	}

	normalized := r.synonyms.Normalize(answers)
	resolved, err := r.resolve(t, subtype, normalized)
	if err != nil {
		return SizingTemplate{}, err
	}

	r.logger.Debug("template resolved",
		zap.String("industry", resolved.Industry),
		zap.String("subtype", resolved.Subtype),
		zap.String("method", string(resolved.Method)),
		zap.Float64("coefficient", resolved.Coefficient))
	return resolved, nil
}

func (r *Resolver) resolve(t Template, subtype string, answers types.Answers) (SizingTemplate, error) {
	out := SizingTemplate{Template: t, Answers: answers}

	if len(t.Variants) > 0 {
		key := normalizeID(subtype)
		coeff, ok := t.Variants[key]
		if !ok {
			return SizingTemplate{}, qerrors.UnknownSubtype(t.Industry, subtype, variantNames(t))
		}
		out.Subtype = key
		out.Coefficient = coeff
	}

	for _, part := range t.Parts {
		pt, ok := r.catalog.Lookup(normalizeID(part))
		if !ok {
			return SizingTemplate{}, qerrors.Internal("composite "+t.Industry+" references missing part "+part, nil)
		}
		sub, err := r.resolve(pt, "", answers)
		if err != nil {
			return SizingTemplate{}, err
		}
		out.Components = append(out.Components, sub)
	}
	return out, nil
}

func variantNames(t Template) []string {
	out := make([]string, 0, len(t.Variants))
	for name := range t.Variants {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
