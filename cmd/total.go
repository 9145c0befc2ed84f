package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"receipts/internal/logger"
	"receipts/internal/total"
)

var totalCmd = &cobra.Command{
	Use:   "total [text-file|-]",
	Short: "Extract the total from receipt text, one line per row",
	Long: `Run total extraction over plain text lines, top to bottom. Reads stdin when
no file or "-" is given. Prints the amount with two decimals, or exits with an
error when no total is found.`,
	Example: `  receipts total ticket.txt
  printf 'Pain 1,20\nTOTAL 8,40\n' | receipts total`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTotal,
}

// TotalOutput represents the JSON output structure of the total command
type TotalOutput struct {
	Total  *float64 `json:"total"`
	Method string   `json:"method"`
	Line   int      `json:"line"`
	Raw    string   `json:"raw,omitempty"`
}

func init() {
	rootCmd.AddCommand(totalCmd)

	totalCmd.Flags().Bool("json", false, "Output as JSON")
	totalCmd.Flags().Int("fuzzy-threshold", 0, "Keyword similarity a line must exceed (default: TOTAL_FUZZY_THRESHOLD)")
}

func runTotal(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("total")

	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg := commandConfig()
	if th, _ := cmd.Flags().GetInt("fuzzy-threshold"); th > 0 {
		cfg.TotalFuzzyThreshold = th
	}

	var in io.Reader = os.Stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open text file: %w", err)
		}
		defer f.Close()
		in = f
	}

	lines, err := readLines(in)
	if err != nil {
		return err
	}

	res := total.NewExtractor(cfg.TotalConfig()).Extract(lines)

	log.Info().
		Int("lines", len(lines)).
		Bool("found", res.Found).
		Str("method", string(res.Method)).
		Msg("Total extraction completed")

	if jsonOutput {
		data, err := marshalJSON(TotalOutput{
			Total:  res.AmountPtr(),
			Method: string(res.Method),
			Line:   res.Line,
			Raw:    res.Raw,
		}, log)
		if err != nil {
			return err
		}
		return writeOutput(data, "", log)
	}

	if !res.Found {
		return fmt.Errorf("no total found in %d lines", len(lines))
	}
	return writeOutput([]byte(fmt.Sprintf("%.2f\n", res.Amount)), "", log)
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read lines: %w", err)
	}
	return lines, nil
}
