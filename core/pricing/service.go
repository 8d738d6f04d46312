// Package pricing - Pricing resolution service
package pricing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
	"energy-quote/internal/logging"
)

// DefaultUpstreamTimeout bounds each source read
const DefaultUpstreamTimeout = 250 * time.Millisecond

// Service resolves a PriceTier for a request. It is safe for concurrent use;
// its only shared state is the read-mostly cache.
type Service struct {
	overrides []OverrideSource
	tables    []TierSource
	fallbacks map[types.EquipmentCategory]FallbackPrice

	cache   *Cache
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Service
type Option func(*Service)

// WithOverrides adds override sources, consulted first
func WithOverrides(sources ...OverrideSource) Option {
	return func(s *Service) { s.overrides = append(s.overrides, sources...) }
}

// WithTierSources adds tier tables, consulted in order
func WithTierSources(sources ...TierSource) Option {
	return func(s *Service) { s.tables = append(s.tables, sources...) }
}

// WithFallbacks replaces the fallback constants
func WithFallbacks(prices []FallbackPrice) Option {
	return func(s *Service) {
		s.fallbacks = make(map[types.EquipmentCategory]FallbackPrice, len(prices))
		for _, p := range prices {
			s.fallbacks[p.Category] = p
		}
	}
}

// WithCache sets the resolution cache
func WithCache(c *Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithUpstreamTimeout bounds each source read
func WithUpstreamTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = logging.OrNop(l) }
}

// WithClock sets the clock used when a request has no as-of time
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a pricing service
func NewService(opts ...Option) *Service {
	s := &Service{
		timeout: DefaultUpstreamTimeout,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	WithFallbacks(DefaultFallbacks())(s)
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewCache(DefaultCacheTTL)
	}
	return s
}

// Cache returns the service cache
func (s *Service) Cache() *Cache {
	return s.cache
}

// Resolve returns the tier used to price a request. Identical requests
// within the cache interval return the identical tier. The shared lookup is
// detached from the caller's cancellation and bounded by the upstream timeout
// per source; tiers resolved while a source was failing are not cached.
func (s *Service) Resolve(ctx context.Context, req Request) (types.PriceTier, error) {
	if req.Category == "" || req.Unit == "" {
		return types.PriceTier{}, qerrors.Input("price request needs a category and a unit")
	}
	if req.Size < 0 {
		return types.PriceTier{}, qerrors.Newf(qerrors.TypeInput, "negative size %v for %s", req.Size, req.Category)
	}
	if err := ctx.Err(); err != nil {
		return types.PriceTier{}, err
	}

	key := req.Key()
	loadCtx := context.WithoutCancel(ctx)
	tier, hit, err := s.cache.GetOrLoad(ctx, key, func() (types.PriceTier, bool, error) {
		tier, degraded, err := s.lookup(loadCtx, req)
		if err == nil && degraded {
			s.logger.Warn("resolved while a pricing source was failing, not caching",
				zap.String("key", key),
				zap.String("from", string(tier.ResolvedFrom)))
		}
		return tier, !degraded, err
	})
	if err != nil {
		return types.PriceTier{}, err
	}
	if hit {
		s.logger.Debug("price cache hit", zap.String("key", key))
	}
	return tier, nil
}

// lookup walks the source chain: overrides, tier tables, fallback constants.
// degraded reports that at least one source failed along the way.
func (s *Service) lookup(ctx context.Context, req Request) (types.PriceTier, bool, error) {
	at := req.AsOf
	if at.IsZero() {
		at = s.now()
	}
	var (
		seen    []types.PriceTier
		lastErr error
	)

	for _, src := range s.overrides {
		o, err := callWithTimeout(ctx, s.timeout, func(ctx context.Context) (*types.PriceTier, error) {
			return src.Override(ctx, req)
		})
		if err != nil {
			s.failover(src.Name(), req, err)
			lastErr = err
			continue
		}
		if o != nil {
			tier := *o
			tier.Confidence = labelled(tier.Confidence)
			tier.ResolvedFrom = types.SourceOverride
			s.resolved(req, tier)
			return tier, lastErr != nil, nil
		}
	}

	for _, src := range s.tables {
		tiers, err := callWithTimeout(ctx, s.timeout, func(ctx context.Context) ([]types.PriceTier, error) {
			return src.Tiers(ctx, req.Category)
		})
		if err != nil {
			s.failover(src.Name(), req, err)
			lastErr = err
			continue
		}
		for i := range tiers {
			if tiers[i].Source == "" {
				tiers[i].Source = src.Name()
			}
		}
		seen = append(seen, tiers...)

		tier, ok := selectForRequest(tiers, req, at)
		if !ok {
			continue
		}
		tier.ResolvedFrom = types.SourceTable
		if tier.Nearest {
			s.logger.Info("no tier contains size, using nearest band",
				zap.String("category", string(req.Category)),
				zap.Float64("size", req.Size),
				zap.String("tier", tier.String()))
		}
		s.resolved(req, tier)
		return tier, lastErr != nil, nil
	}
	degraded := lastErr != nil

	if f, ok := s.fallbacks[req.Category]; ok {
		tier := f.tier(req)
		s.logger.Warn("pricing fell back to constant",
			zap.String("category", string(req.Category)),
			zap.Float64("size", req.Size),
			zap.Bool("category_in_tables", len(seen) > 0))
		return tier, degraded, nil
	}

	// the category is known but nothing is effective on the pricing date
	if tier, ok := selectForRequest(seen, req, time.Time{}); ok {
		tier.Confidence = tier.Confidence.Downgrade()
		tier.ResolvedFrom = types.SourceTable
		s.logger.Warn("no tier effective on the pricing date, using an out-of-window tier",
			zap.String("category", string(req.Category)),
			zap.Time("as_of", at),
			zap.String("tier", tier.String()))
		s.resolved(req, tier)
		return tier, degraded, nil
	}

	switch {
	case len(seen) > 0:
		return types.PriceTier{}, degraded, qerrors.Pricing("category has tiers, but none in a unit the equipment is sized in", nil).
			WithContext("category", string(req.Category)).
			WithContext("unit", string(req.Unit))
	case degraded:
		return types.PriceTier{}, true, qerrors.Pricing("no pricing source could be read", lastErr).
			WithContext("category", string(req.Category))
	}
	return types.PriceTier{}, false, qerrors.UnknownEquipmentCategory(string(req.Category))
}

func (s *Service) failover(source string, req Request, err error) {
	s.logger.Warn("pricing source failed, failing over",
		zap.String("source", source),
		zap.String("category", string(req.Category)),
		zap.Error(err))
}

func (s *Service) resolved(req Request, tier types.PriceTier) {
	s.logger.Debug("price resolved",
		zap.String("category", string(req.Category)),
		zap.Float64("size", req.Size),
		zap.String("from", string(tier.ResolvedFrom)),
		zap.String("source", tier.Source),
		zap.String("confidence", string(tier.Confidence)))
}

// callWithTimeout runs fn with a deadline and returns when the deadline
// passes even if fn ignores its context.
func callWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
