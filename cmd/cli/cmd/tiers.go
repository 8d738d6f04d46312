// Package cmd - price tier commands
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"energy-quote/adapters/postgres"
	"energy-quote/core/pricing"
	"energy-quote/core/types"
	"energy-quote/internal/config"
	qerrors "energy-quote/internal/errors"
	"energy-quote/internal/logging"
)

var tiersCmd = &cobra.Command{
	Use:   "tiers",
	Short: "Price tier commands",
}

var tiersResolveCmd = &cobra.Command{
	Use:   "resolve <category> <size> <unit>",
	Short: "Resolve the price tier for one equipment size",
	Long: `Run one lookup through the pricing chain: vendor override, tier tables
(postgres when configured, then the catalog), then fallback constants.

Examples:
  energy-quote tiers resolve bess 2500 kWh
  energy-quote tiers resolve pcs 600 kW --vendor acme-storage --as-of 2026-06-01`,
	Args: cobra.ExactArgs(3),
	RunE: runTiersResolve,
}

var tiersImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Load catalog tiers into the postgres tier table",
	Long: `Replace the postgres tier table with the tiers and overrides declared in
the catalog file. Each kind is replaced in its own transaction.

IMPORTANT: This command is for operators only. Requires pricing.database_dsn
in the config file or --dsn.`,
	Args: cobra.NoArgs,
	RunE: runTiersImport,
}

var (
	tiersVendor  string
	tiersAsOf    string
	tiersCatalog string
	tiersJSON    bool
	importDSN    string
	importSource string
	migrate      bool
)

func init() {
	rootCmd.AddCommand(tiersCmd)
	tiersCmd.AddCommand(tiersResolveCmd)
	tiersCmd.AddCommand(tiersImportCmd)

	tiersCmd.PersistentFlags().StringVarP(&tiersCatalog, "catalog", "c", "", "catalog file (default from config, else built-in)")

	tiersResolveCmd.Flags().StringVar(&tiersVendor, "vendor", "", "preferred equipment vendor")
	tiersResolveCmd.Flags().StringVar(&tiersAsOf, "as-of", "", "pricing date (YYYY-MM-DD)")
	tiersResolveCmd.Flags().BoolVar(&tiersJSON, "json", false, "print the tier as JSON")

	tiersImportCmd.Flags().StringVar(&importDSN, "dsn", "", "postgres DSN (default from config)")
	tiersImportCmd.Flags().StringVar(&importSource, "source", "catalog", "source name recorded on imported rows")
	tiersImportCmd.Flags().BoolVar(&migrate, "migrate", false, "install the schema before importing")
}

func runTiersResolve(cmd *cobra.Command, args []string) error {
	req, err := parseTierRequest(args)
	if err != nil {
		return err
	}
	req.Vendor = tiersVendor
	if tiersAsOf != "" {
		at, err := time.Parse("2006-01-02", tiersAsOf)
		if err != nil {
			return qerrors.Input(fmt.Sprintf("as-of %q is not a date", tiersAsOf))
		}
		req.AsOf = at
	}

	cfg := config.Get()
	svc, err := buildServices(cfg, firstNonEmpty(tiersCatalog, cfg.Paths.Catalog), logging.Logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	tier, err := svc.pricing.Resolve(cmd.Context(), req)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if tiersJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(tier)
	}
	fmt.Fprintf(w, "%s\n", tier)
	fmt.Fprintf(w, "   Resolved from: %s (%s)\n", tier.ResolvedFrom, tier.Source)
	fmt.Fprintf(w, "   Confidence:    %s\n", tier.Confidence)
	if tier.Nearest {
		fmt.Fprintln(w, "   ⚠️  size is outside every band; nearest band used")
	}
	return nil
}

// parseTierRequest reads <category> <size> <unit>
func parseTierRequest(args []string) (pricing.Request, error) {
	size, err := strconv.ParseFloat(args[1], 64)
	if err != nil || size < 0 {
		return pricing.Request{}, qerrors.Input(fmt.Sprintf("size %q must be a non-negative number", args[1]))
	}
	unit, err := parseUnit(args[2])
	if err != nil {
		return pricing.Request{}, err
	}
	return pricing.Request{
		Category: types.EquipmentCategory(strings.ToLower(args[0])),
		Size:     size,
		Unit:     unit,
	}, nil
}

func parseUnit(s string) (types.Unit, error) {
	for _, u := range []types.Unit{types.UnitKW, types.UnitKWh, types.UnitEach} {
		if strings.EqualFold(s, string(u)) {
			return u, nil
		}
	}
	return "", qerrors.Input(fmt.Sprintf("unit %q must be kW, kWh or each", s))
}

func runTiersImport(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	logger := logging.Named("import")

	dsn := firstNonEmpty(importDSN, cfg.Pricing.DatabaseDSN)
	if dsn == "" {
		return qerrors.Config("no database DSN: set pricing.database_dsn or pass --dsn", nil)
	}
	cat, err := loadCatalog(firstNonEmpty(tiersCatalog, cfg.Paths.Catalog))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	store, err := postgres.Open(dsn, postgres.WithLogger(logging.Named("postgres")))
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		return err
	}
	if migrate {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("schema installed")
	}

	if err := store.ReplaceTiers(ctx, postgres.KindTier, importSource, cat.Tiers); err != nil {
		return err
	}
	if err := store.ReplaceTiers(ctx, postgres.KindOverride, importSource, cat.Overrides); err != nil {
		return err
	}

	loaded, err := store.LastLoaded(ctx, postgres.KindTier)
	if err != nil {
		logger.Warn("could not read load time", zap.Error(err))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported %d tiers and %d overrides from %s (loaded %s)\n",
		len(cat.Tiers), len(cat.Overrides), importSource, loaded.Format(time.RFC3339))
	return nil
}
