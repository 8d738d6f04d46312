// Package cmd provides the CLI commands for energy-quote.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"energy-quote/internal/config"
	"energy-quote/internal/logging"
)

// version is overridden at build time with -ldflags
var version = "0.1.0"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "energy-quote",
	Short: "Quote energy storage systems for commercial facilities",
	Long: `energy-quote sizes, prices and justifies battery storage systems.

It turns a facility's question-flow answers into one reproducible quote:
load sizing with an audit trail, tiered equipment pricing, margin policy,
financial metrics and benchmark findings.

Examples:
  energy-quote quote --facility hotel.yaml --policy policy.hcl
  energy-quote quote --facility site.hcl --catalog catalog.hcl --monte-carlo 5000 --json
  energy-quote policy validate policy.hcl
  energy-quote tiers resolve bess 2500 kWh`,
	SilenceUsage: true,
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.energy-quote/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	path := cfgFile
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".energy-quote", "config.json")
		}
	}
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		config.Set(cfg)
	}

	// Initialize logging
	cfg := config.Get()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
	}
}

// versionCmd prints version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "energy-quote version %s\n", version)
	},
}
