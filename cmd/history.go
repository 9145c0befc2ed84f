package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"receipts/internal/logger"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded totals",
	Long: `List the totals recorded in the configured history backend
(HISTORY_BACKEND: memory, file, sheets, postgres or redis), oldest first.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

// HistoryOutput represents the JSON output structure of the history command
type HistoryOutput struct {
	Backend string    `json:"backend"`
	Totals  []float64 `json:"totals"`
	Sum     float64   `json:"sum"`
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().Bool("json", false, "Output as JSON")
	historyCmd.Flags().String("backend", "", "History backend (default: HISTORY_BACKEND)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("history")

	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg := commandConfig()
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.HistoryBackend = backend
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := openHistory(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	totals, err := store.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list history")
		return fmt.Errorf("failed to list history: %w", err)
	}

	var sum float64
	for _, t := range totals {
		sum += t
	}

	if jsonOutput {
		data, err := marshalJSON(HistoryOutput{Backend: cfg.HistoryBackend, Totals: totals, Sum: sum}, log)
		if err != nil {
			return err
		}
		return writeOutput(data, "", log)
	}

	var output strings.Builder
	for i, t := range totals {
		output.WriteString(fmt.Sprintf("%4d  %10.2f\n", i+1, t))
	}
	output.WriteString(fmt.Sprintf("%d totals, sum %.2f\n", len(totals), sum))
	return writeOutput([]byte(output.String()), "", log)
}
