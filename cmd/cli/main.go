// Package main is the entry point for the energy-quote CLI.
package main

import (
	"os"

	"energy-quote/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
