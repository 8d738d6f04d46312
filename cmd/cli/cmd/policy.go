// Package cmd - policy commands
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"energy-quote/adapters/hcl"
	"energy-quote/core/determinism"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Policy document commands",
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate <policy-file>",
	Short: "Check a policy file",
	Long: `Decode and validate a policy file without producing a quote.

Margin floor, ceiling and review thresholds are required; a policy that
omits any of them, or sets floor above ceiling, is rejected.`,
	Args: cobra.ExactArgs(1),
	RunE: runPolicyValidate,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyValidateCmd)
}

func runPolicyValidate(cmd *cobra.Command, args []string) error {
	p, err := hcl.LoadPolicy(args[0])
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ %s is valid\n", args[0])
	fmt.Fprintf(w, "   Version:  %s\n", p.Version)
	fmt.Fprintf(w, "   Hash:     %s\n", p.Hash())
	fmt.Fprintf(w, "   Margin:   default %.1f%%, floor %.1f%%, ceiling %.1f%%\n",
		p.Margin.DefaultRate*100, *p.Margin.FloorRate*100, *p.Margin.CeilingRate*100)
	fmt.Fprintf(w, "   Horizon:  %d years at %.1f%%\n", p.Finance.HorizonYears, p.Finance.DiscountRate*100)
	fmt.Fprintf(w, "   Regions:  %v\n", determinism.SortedKeys(p.Regions))
	fmt.Fprintf(w, "   Benchmarks: %d references\n", len(p.Benchmarks.References))
	return nil
}
