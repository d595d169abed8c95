package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "shannon-orch",
		Short: "Shannon Orchestrator - Morse to Shannon migration service",
		Long: `Shannon Orchestrator drives the pocketd CLI to migrate accounts from the
legacy Morse network to Shannon and to provision and stake supplier nodes.
It tracks batch operations as filesystem-backed sessions and exposes an
HTTP API with live progress events.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
