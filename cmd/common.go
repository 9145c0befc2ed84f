package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"receipts/internal/config"
	"receipts/internal/history"
	"receipts/internal/ocr"
	"receipts/internal/receipt"
	"receipts/internal/rows"
	"receipts/internal/total"
)

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(timeout time.Duration, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	// Handle interrupt signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling processing")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// buildPipeline wires the assembler and extractor from cfg around engine.
func buildPipeline(cfg *config.Config, engine ocr.Engine) (*receipt.Pipeline, error) {
	assembler, err := rows.NewAssembler(cfg.RowConfig())
	if err != nil {
		return nil, fmt.Errorf("invalid row configuration: %w", err)
	}
	extractor := total.NewExtractor(cfg.TotalConfig())
	return receipt.NewPipeline(engine, cfg.PreprocessOptions(), assembler, extractor), nil
}

// openHistory opens the configured history store.
func openHistory(ctx context.Context, cfg *config.Config, log zerolog.Logger) (history.Store, error) {
	store, err := history.New(ctx, cfg.HistoryConfig())
	if err != nil {
		log.Error().Err(err).Str("backend", cfg.HistoryBackend).Msg("Failed to open history")
		return nil, fmt.Errorf("failed to open %s history: %w", cfg.HistoryBackend, err)
	}
	log.Debug().Str("backend", cfg.HistoryBackend).Msg("History opened")
	return store, nil
}

// writeOutput writes data to path, or stdout when path is empty.
func writeOutput(data []byte, outputPath string, log zerolog.Logger) error {
	if outputPath != "" {
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			log.Error().
				Err(err).
				Str("output_file", outputPath).
				Msg("Failed to write output file")
			return fmt.Errorf("failed to write output file: %w", err)
		}
		log.Info().
			Str("output_file", outputPath).
			Int("bytes", len(data)).
			Msg("Results written to file")
		return nil
	}

	if _, err := os.Stdout.Write(data); err != nil {
		log.Error().Err(err).Msg("Failed to write to stdout")
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func marshalJSON(v any, log zerolog.Logger) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON output")
		return nil, fmt.Errorf("failed to create JSON output: %w", err)
	}
	return append(data, '\n'), nil
}
