// Package postgres provides a PostgreSQL-backed price tier table and override source.
// Rows are read per category on every cache miss; the pricing service bounds
// each read with its upstream timeout and fails over to the next source.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"energy-quote/core/confidence"
	"energy-quote/core/pricing"
	"energy-quote/core/types"
	qerrors "energy-quote/internal/errors"
	"energy-quote/internal/logging"
)

//go:embed schema.sql
var schema string

// Kind separates banded tiers from overrides in the shared table
type Kind string

const (
	KindTier     Kind = "tier"
	KindOverride Kind = "override"
)

// Store implements pricing.TierSource and pricing.OverrideSource
type Store struct {
	db     *sql.DB
	name   string
	logger *zap.Logger
}

// Option configures a Store
type Option func(*Store)

// WithName sets the source name recorded on resolved tiers
func WithName(name string) Option {
	return func(s *Store) { s.name = name }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open connects with a lib/pq DSN or URL
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, qerrors.Config("invalid database DSN", err)
	}
	return New(db, opts...), nil
}

// New wraps an existing database handle
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, name: "postgres"}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger)
	return s
}

// Name returns the source name
func (s *Store) Name() string { return s.name }

// Ping verifies the connection
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return s.wrap("ping", err)
	}
	return nil
}

// Close releases the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate installs the price tier schema
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return s.wrap("migrate", err)
	}
	return nil
}

const selectTiers = `
	SELECT category, vendor, min_size, max_size, size_unit, price_unit,
	       unit_price, market_unit_price, source, confidence,
	       effective_from, effective_to
	FROM price_tiers
	WHERE kind = $1 AND category = $2`

// Tiers returns every banded tier for a category
func (s *Store) Tiers(ctx context.Context, category types.EquipmentCategory) ([]types.PriceTier, error) {
	return s.query(ctx, "read tiers", selectTiers+` ORDER BY size_unit, vendor, min_size`, KindTier, string(category))
}

// Override returns the first override matching the request, or nil.
// Vendor-specific rows are tried before vendor-neutral ones, and each row's
// band is compared against the request size in that row's unit.
func (s *Store) Override(ctx context.Context, req pricing.Request) (*types.PriceTier, error) {
	rows, err := s.query(ctx, "read overrides",
		selectTiers+` ORDER BY vendor DESC, size_unit, min_size DESC`,
		KindOverride, string(req.Category))
	if err != nil {
		return nil, err
	}
	for _, o := range rows {
		if o.Vendor != "" && !strings.EqualFold(o.Vendor, req.Vendor) {
			continue
		}
		size, ok := req.SizeIn(o.SizeUnit)
		if !ok || !o.Contains(size) || !o.EffectiveAt(req.AsOf) {
			continue
		}
		match := o
		return &match, nil
	}
	return nil, nil
}

func (s *Store) query(ctx context.Context, op, query string, args ...interface{}) ([]types.PriceTier, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap(op, err)
	}
	defer rows.Close()

	var tiers []types.PriceTier
	for rows.Next() {
		var r tierRow
		if err := rows.Scan(&r.category, &r.vendor, &r.min, &r.max, &r.sizeUnit, &r.priceUnit,
			&r.unitPrice, &r.marketUnitPrice, &r.source, &r.confidence,
			&r.effectiveFrom, &r.effectiveTo); err != nil {
			return nil, s.wrap(op, err)
		}
		t, err := r.tier(s.name)
		if err != nil {
			return nil, qerrors.Pricing("invalid price tier row", err).WithContext("source", s.name)
		}
		tiers = append(tiers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(op, err)
	}
	return tiers, nil
}

// ReplaceTiers atomically replaces every row of a kind with the given tiers,
// bulk-loading them with COPY.
func (s *Store) ReplaceTiers(ctx context.Context, kind Kind, source string, tiers []types.PriceTier) error {
	if kind == KindTier {
		if err := pricing.ValidateTiers(tiers); err != nil {
			return qerrors.Wrap(qerrors.TypeInput, "invalid tier table", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM price_tiers WHERE kind = $1`, kind); err != nil {
		return s.wrap("clear tiers", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("price_tiers",
		"kind", "source", "category", "vendor", "min_size", "max_size", "size_unit", "price_unit",
		"unit_price", "market_unit_price", "confidence", "effective_from", "effective_to"))
	if err != nil {
		return s.wrap("prepare copy", err)
	}
	for _, t := range tiers {
		src := t.Source
		if src == "" {
			src = source
		}
		if _, err := stmt.ExecContext(ctx, copyValues(kind, src, t)...); err != nil {
			stmt.Close()
			return s.wrap("copy tier", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return s.wrap("flush copy", err)
	}
	if err := stmt.Close(); err != nil {
		return s.wrap("close copy", err)
	}
	if err := tx.Commit(); err != nil {
		return s.wrap("commit", err)
	}

	s.logger.Info("price tiers replaced",
		zap.String("kind", string(kind)),
		zap.String("source", source),
		zap.Int("rows", len(tiers)))
	return nil
}

// copyValues orders a tier's columns for COPY; optional columns become NULL
func copyValues(kind Kind, source string, t types.PriceTier) []interface{} {
	var market, from, to interface{}
	if t.MarketUnitPrice.IsPositive() {
		market = t.MarketUnitPrice.String()
	}
	if !t.EffectiveFrom.IsZero() {
		from = t.EffectiveFrom.UTC()
	}
	if t.EffectiveTo != nil {
		to = t.EffectiveTo.UTC()
	}
	return []interface{}{
		string(kind), source, string(t.Category), t.Vendor, t.Min, t.Max,
		string(t.SizeUnit), string(t.PriceUnit), t.UnitPrice.String(), market,
		string(t.Confidence), from, to,
	}
}

// wrap maps driver errors into the pricing taxonomy
func (s *Store) wrap(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "undefined_table" {
		return qerrors.Config("price tier schema is not installed, run migrate", err).
			WithContext("source", s.name)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return qerrors.Pricing(op+" timed out", err).WithContext("source", s.name)
	}
	return qerrors.Pricing(fmt.Sprintf("%s failed", op), err).WithContext("source", s.name)
}

// tierRow is one scanned price_tiers row
type tierRow struct {
	category        string
	vendor          string
	min, max        float64
	sizeUnit        string
	priceUnit       string
	unitPrice       decimal.Decimal
	marketUnitPrice decimal.NullDecimal
	source          string
	confidence      string
	effectiveFrom   sql.NullTime
	effectiveTo     sql.NullTime
}

func (r tierRow) tier(defaultSource string) (types.PriceTier, error) {
	t := types.PriceTier{
		Category:  types.EquipmentCategory(r.category),
		Vendor:    r.vendor,
		Min:       r.min,
		Max:       r.max,
		SizeUnit:  types.Unit(r.sizeUnit),
		PriceUnit: types.Unit(r.priceUnit),
		UnitPrice: r.unitPrice,
		Source:    r.source,
	}
	if t.Source == "" {
		t.Source = defaultSource
	}
	if r.marketUnitPrice.Valid {
		t.MarketUnitPrice = r.marketUnitPrice.Decimal
	}
	if r.confidence != "" {
		level, err := confidence.Parse(r.confidence)
		if err != nil {
			return t, err
		}
		t.Confidence = level
	}
	if r.effectiveFrom.Valid {
		t.EffectiveFrom = r.effectiveFrom.Time
	}
	if r.effectiveTo.Valid {
		to := r.effectiveTo.Time
		t.EffectiveTo = &to
	}
	if !t.UnitPrice.IsPositive() {
		return t, fmt.Errorf("tier %s: unit price must be positive", t)
	}
	return t, nil
}

// LastLoaded reports when a kind was last replaced; zero when the table is empty
func (s *Store) LastLoaded(ctx context.Context, kind Kind) (time.Time, error) {
	var at sql.NullTime
	if err := s.db.QueryRowContext(ctx, `SELECT max(loaded_at) FROM price_tiers WHERE kind = $1`, kind).Scan(&at); err != nil {
		return time.Time{}, s.wrap("read load time", err)
	}
	return at.Time, nil
}
