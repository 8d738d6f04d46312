// Package cmd - Service wiring shared by the commands
package cmd

import (
	"go.uber.org/zap"

	"energy-quote/adapters/hcl"
	"energy-quote/adapters/postgres"
	"energy-quote/core/pricing"
	"energy-quote/core/template"
	"energy-quote/internal/config"
)

// services holds the components one command invocation needs
type services struct {
	catalog  *hcl.Catalog
	pricing  *pricing.Service
	resolver *template.Resolver
	store    *postgres.Store
}

// Close releases the database handle, if one was opened
func (s *services) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// loadCatalog reads the catalog file, or uses the built-in templates,
// synonyms and fallback prices when no file is configured.
func loadCatalog(path string) (*hcl.Catalog, error) {
	if path == "" {
		return &hcl.Catalog{
			Templates: template.DefaultCatalog(),
			Synonyms:  template.DefaultSynonyms(),
			Fallbacks: pricing.DefaultFallbacks(),
		}, nil
	}
	return hcl.LoadCatalog(path)
}

// buildServices wires the catalog, the optional postgres tier table and the
// pricing cache. Database tiers are consulted before catalog tiers.
func buildServices(cfg *config.Config, catalogPath string, logger *zap.Logger) (*services, error) {
	cat, err := loadCatalog(catalogPath)
	if err != nil {
		return nil, err
	}

	s := &services{catalog: cat}
	opts := []pricing.Option{
		pricing.WithCache(pricing.NewCache(cfg.Pricing.CacheTTL())),
		pricing.WithUpstreamTimeout(cfg.Pricing.UpstreamTimeout()),
		pricing.WithLogger(logger.Named("pricing")),
	}

	if cfg.Pricing.DatabaseDSN != "" {
		store, err := postgres.Open(cfg.Pricing.DatabaseDSN,
			postgres.WithName("postgres"),
			postgres.WithLogger(logger.Named("postgres")))
		if err != nil {
			return nil, err
		}
		s.store = store
		opts = append(opts, pricing.WithOverrides(store), pricing.WithTierSources(store))
	}

	catalogOpts, err := cat.PricingOptions("catalog")
	if err != nil {
		s.Close()
		return nil, err
	}
	opts = append(opts, catalogOpts...)

	s.pricing = pricing.NewService(opts...)
	s.resolver = template.NewResolver(cat.Templates, cat.Synonyms, logger.Named("template"))
	return s, nil
}
