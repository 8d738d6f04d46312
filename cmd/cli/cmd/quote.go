// Package cmd - quote command
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"energy-quote/adapters/hcl"
	"energy-quote/api/envelope"
	"energy-quote/core/engine"
	"energy-quote/internal/config"
	"energy-quote/internal/logging"
)

var (
	facilityFile string
	policyFile   string
	catalogFile  string
	quoteVendor  string
	quoteAsOf    string
	monteCarlo   int
	hourly       bool
	seed         uint64
	workers      int
	jsonOutput   bool
	quoteTimeout time.Duration
)

// quoteCmd represents the quote command
var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Produce a quote for one facility",
	Long: `Size, price and justify a storage system for one facility.

The facility file may be YAML or JSON question-flow output, or an HCL
document. Policy and catalog are HCL; paths default to the config file.

Examples:
  energy-quote quote --facility hotel.yaml
  energy-quote quote --facility hotel.yaml --policy policy.hcl --catalog catalog.hcl
  energy-quote quote --facility site.hcl --monte-carlo 5000 --hourly --json`,
	Args: cobra.NoArgs,
	RunE: runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)

	quoteCmd.Flags().StringVarP(&facilityFile, "facility", "f", "", "facility answers (.yaml, .json or .hcl) [REQUIRED]")
	quoteCmd.Flags().StringVarP(&policyFile, "policy", "p", "", "policy file (default from config)")
	quoteCmd.Flags().StringVarP(&catalogFile, "catalog", "c", "", "catalog file (default from config, else built-in)")
	quoteCmd.Flags().StringVar(&quoteVendor, "vendor", "", "preferred equipment vendor")
	quoteCmd.Flags().StringVar(&quoteAsOf, "as-of", "", "pricing date (YYYY-MM-DD)")
	quoteCmd.Flags().IntVar(&monteCarlo, "monte-carlo", 0, "Monte Carlo iterations (0 = quick risk bands only)")
	quoteCmd.Flags().BoolVar(&hourly, "hourly", false, "run the 8760 hourly cross-check")
	quoteCmd.Flags().Uint64Var(&seed, "seed", 0, "Monte Carlo seed (default from config)")
	quoteCmd.Flags().IntVar(&workers, "workers", 0, "Monte Carlo workers (default from config)")
	quoteCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the full quote as JSON")
	quoteCmd.Flags().DurationVar(&quoteTimeout, "timeout", 2*time.Minute, "timeout for the quote")

	quoteCmd.MarkFlagRequired("facility")
}

func runQuote(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), quoteTimeout)
	defer cancel()

	cfg := config.Get()
	logger := logging.Named("quote")

	env, err := loadEnvelope(cmd, cfg)
	if err != nil {
		return err
	}

	p, err := hcl.LoadPolicy(firstNonEmpty(policyFile, cfg.Paths.Policy))
	if err != nil {
		return err
	}

	svc, err := buildServices(cfg, firstNonEmpty(catalogFile, cfg.Paths.Catalog), logging.Logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	eng := engine.New(svc.pricing,
		engine.WithResolver(svc.resolver),
		engine.WithLogger(logging.Named("engine")))

	n := workers
	if !cmd.Flags().Changed("workers") {
		n = cfg.Simulation.Workers
	}

	audit := envelope.NewZapAuditLogger(logging.Logger)
	entry := envelope.CreateAuditEntry(env)

	start := time.Now()
	result, err := eng.Quote(ctx, env.QuoteRequest(p, n))
	entry.SetDuration(time.Since(start))
	if err != nil {
		entry.MarkFailed(err)
		if logErr := audit.Log(entry); logErr != nil {
			logger.Warn("audit log failed", zap.Error(logErr))
		}
		return err
	}
	version, hash := result.PolicyVersion()
	entry.MarkQuoted(result.ID(), version, hash)
	if err := audit.Log(entry); err != nil {
		logger.Warn("audit log failed", zap.Error(err))
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printQuote(out, result, env)
	return nil
}

// loadEnvelope reads the facility file and applies command-line options over
// the options it carries. Unset options fall back to the config file.
func loadEnvelope(cmd *cobra.Command, cfg *config.Config) (*envelope.InputEnvelope, error) {
	normalizer := envelope.NewNormalizer()

	if strings.EqualFold(filepath.Ext(facilityFile), ".hcl") {
		f, err := hcl.LoadFacility(facilityFile)
		if err != nil {
			return nil, err
		}
		return normalizer.FromDescriptor(f, quoteVendor, quoteAsOf, quoteOptions(cmd, cfg, envelope.RawOptions{}))
	}

	raw, err := envelope.ParseFile(facilityFile)
	if err != nil {
		return nil, err
	}
	if quoteVendor != "" {
		raw.Vendor = quoteVendor
	}
	if quoteAsOf != "" {
		raw.AsOf = quoteAsOf
	}
	raw.Options = quoteOptions(cmd, cfg, raw.Options)
	return normalizer.Normalize(raw)
}

func quoteOptions(cmd *cobra.Command, cfg *config.Config, file envelope.RawOptions) envelope.RawOptions {
	opts := file
	if cmd.Flags().Changed("monte-carlo") {
		opts.MonteCarloIterations = monteCarlo
	}
	if hourly || cfg.Simulation.Hourly {
		opts.Hourly = true
	}
	switch {
	case cmd.Flags().Changed("seed"):
		opts.Seed = seed
	case opts.Seed == 0:
		opts.Seed = cfg.Simulation.Seed
	}
	return opts
}

func printQuote(w io.Writer, q *engine.QuoteResult, env *envelope.InputEnvelope) {
	s := q.Sizing()
	e := q.Envelope()
	m := q.Metrics()
	version, _ := q.PolicyVersion()

	fmt.Fprintf(w, "Quote %s (%s", q.ID(), q.Industry())
	if q.Subtype() != "" {
		fmt.Fprintf(w, "/%s", q.Subtype())
	}
	fmt.Fprintf(w, ", region %s, policy %s, input %s)\n\n", q.Region(), version, env.ShortHash())

	fmt.Fprintln(w, "Sizing")
	fmt.Fprintf(w, "   Peak demand:     %10.1f kW\n", s.PeakDemandKW)
	fmt.Fprintf(w, "   Storage power:   %10.1f kW\n", s.StoragePowerKW)
	fmt.Fprintf(w, "   Storage energy:  %10.1f kWh\n", s.StorageEnergyKWh)
	if s.SolarKW > 0 {
		fmt.Fprintf(w, "   Solar:           %10.1f kW\n", s.SolarKW)
	}
	if s.GeneratorKW > 0 {
		fmt.Fprintf(w, "   Generator:       %10.1f kW\n", s.GeneratorKW)
	}
	for _, a := range s.Assumptions {
		fmt.Fprintf(w, "   assumed %s = %g %s (%s)\n", a.Field, a.Value, a.Unit, a.Reason)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Equipment")
	for _, l := range e.Lines() {
		fmt.Fprintf(w, "   %-10s %12.1f %-5s %18s  [%s]\n", l.Category, l.Quantity, l.Unit, l.SellPrice.RoundCents(), l.Confidence)
	}
	fmt.Fprintf(w, "   %-29s %18s\n", "Total", e.SellPriceTotal().RoundCents())
	fmt.Fprintf(w, "   Confidence: %s\n", q.Confidence())
	if q.NeedsHumanReview() {
		fmt.Fprintln(w, "   ⚠️  Needs human review")
		for _, r := range e.ReviewEvents() {
			fmt.Fprintf(w, "      • %s: %s\n", r.Reason, r.Detail)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Financials")
	fmt.Fprintf(w, "   Annual savings:  %12.0f\n", m.Savings.Total)
	fmt.Fprintf(w, "   Credit:          %12s (%.0f%%)\n", m.Credit.Amount.RoundCents(), m.Credit.Rate*100)
	fmt.Fprintf(w, "   Net investment:  %12s\n", m.NetInvestment.RoundCents())
	fmt.Fprintf(w, "   NPV:             %12.0f\n", m.NPV)
	fmt.Fprintf(w, "   IRR:             %11.1f%%\n", m.IRR*100)
	if m.PaybackYears != nil {
		fmt.Fprintf(w, "   Payback:         %12.1f years\n", *m.PaybackYears)
	} else {
		fmt.Fprintln(w, "   Payback:         beyond horizon")
	}
	if m.LCOS != nil {
		fmt.Fprintf(w, "   LCOS:            %12.3f per kWh\n", *m.LCOS)
	}
	risk := m.QuickRisk
	if m.MonteCarlo != nil {
		risk = *m.MonteCarlo
	}
	fmt.Fprintf(w, "   NPV P10/P50/P90: %.0f / %.0f / %.0f (%s)\n", risk.P10, risk.P50, risk.P90, risk.Method)
	if m.Hourly != nil {
		fmt.Fprintf(w, "   Hourly savings:  %12.0f (%+.1f%% vs annual model)\n", m.Hourly.Total, m.Hourly.Deviation*100)
	}
	fmt.Fprintln(w)

	fmt.Fprint(w, q.Benchmarks().ToCLI())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
