package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"receipts/internal/logger"
	"receipts/internal/ocr"
	"receipts/internal/rows"
)

var linesCmd = &cobra.Command{
	Use:   "lines [tokens.json]",
	Short: "Regroup a recorded OCR token dump into printed lines",
	Long: `Read a JSON token dump and print the merged lines with their mean confidence.

The dump is an array of tokens:
  [{"polygon": [[x,y],[x,y],[x,y],[x,y]], "text": "TOTAL", "confidence": 0.97}, ...]

Use "-" to read from stdin. Add --total to also run total extraction.`,
	Example: `  # Print merged lines
  receipts lines tokens.json

  # Tighter grouping, keep OCR order inside a line
  receipts lines tokens.json --y-threshold 6 --order insertion`,
	Args: cobra.ExactArgs(1),
	RunE: runLines,
}

func init() {
	rootCmd.AddCommand(linesCmd)

	linesCmd.Flags().Float64("y-threshold", -1, "Row grouping tolerance in pixels (default: ROW_Y_THRESHOLD)")
	linesCmd.Flags().String("order", "", "Order of words inside a line: x or insertion (default: ROW_ORDER)")
	linesCmd.Flags().Bool("total", false, "Also extract the total")
	linesCmd.Flags().Bool("json", false, "Output as JSON")
}

func runLines(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("lines")

	jsonOutput, _ := cmd.Flags().GetBool("json")
	withTotal, _ := cmd.Flags().GetBool("total")

	cfg := commandConfig()
	if y, _ := cmd.Flags().GetFloat64("y-threshold"); y >= 0 {
		cfg.RowYThreshold = y
	}
	if order, _ := cmd.Flags().GetString("order"); order != "" {
		if _, err := rows.ParseMemberOrder(order); err != nil {
			return err
		}
		cfg.RowOrder = order
	}

	in := os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open token dump: %w", err)
		}
		defer f.Close()
		in = f
	}

	tokens, err := ocr.ReadTokens(in)
	if err != nil {
		log.Error().Err(err).Str("file", args[0]).Msg("Invalid token dump")
		return fmt.Errorf("invalid token dump: %w", err)
	}

	pipeline, err := buildPipeline(cfg, nil)
	if err != nil {
		return err
	}

	scan, err := pipeline.ScanTokens(cmd.Context(), tokens, nil)
	if err != nil {
		return fmt.Errorf("failed to assemble lines: %w", err)
	}

	log.Info().
		Int("tokens", len(tokens)).
		Int("lines", len(scan.Lines)).
		Msg("Lines assembled")

	if jsonOutput {
		if !withTotal {
			scan.Total = nil
		}
		data, err := marshalJSON(scan, log)
		if err != nil {
			return err
		}
		return writeOutput(data, "", log)
	}

	var output strings.Builder
	writeLines(&output, scan.Lines)
	if withTotal {
		output.WriteString("\n")
		writeTotal(&output, scan)
	}
	return writeOutput([]byte(output.String()), "", log)
}
