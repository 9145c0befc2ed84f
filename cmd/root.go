package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"receipts/internal/config"
	"receipts/internal/logger"
)

var version = "1.0.0"

// appConfig is the configuration loaded by main; subcommands copy it before
// applying their own flags.
var appConfig = config.Default()

var rootCmd = &cobra.Command{
	Use:   "receipts",
	Short: "Receipts CLI - read the total off French receipt photos",
	Long: `Receipts CLI turns photos of French shop receipts into text lines and
extracts the amount paid.

OCR fragments are regrouped into printed lines by their vertical position, then
the total is located with a fuzzy keyword search ("total", "net à payer", ...)
and, failing that, by taking the largest amount near the bottom of the receipt.
Every total found is appended to the configured history.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("Receipts CLI executed")

		fmt.Println("Welcome to Receipts CLI!")
		fmt.Println("Use --help to see available commands and options.")
	},
}

// Execute runs the root command with cfg as the base configuration.
func Execute(cfg *config.Config) {
	log := logger.WithComponent("cmd")

	if cfg != nil {
		appConfig = cfg
	}

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

// commandConfig returns a copy of the base configuration for one command.
func commandConfig() *config.Config {
	cfg := *appConfig
	return &cfg
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}
