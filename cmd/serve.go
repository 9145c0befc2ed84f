package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"receipts/internal/history"
	"receipts/internal/logger"
	"receipts/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the receipt HTTP API",
	Long: `Serve the receipt pipeline over HTTP.

Endpoints:
  POST /api/v1/receipts         multipart "file" image upload
  POST /api/v1/receipts/tokens  JSON token dump, skips OCR
  GET  /api/v1/history          totals of the caller's session
  GET  /healthz, GET /metrics

Sessions are keyed by the X-Session-ID header. Totals are kept per session and,
with --record, also appended to the configured history backend.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default: HTTP_ADDR)")
	serveCmd.Flags().String("engine", "", "OCR engine (default: OCR_ENGINE)")
	serveCmd.Flags().Bool("record", false, "Also append totals to the configured history backend")
	serveCmd.Flags().Duration("session-ttl", time.Hour, "Drop sessions idle for this long (0 keeps them)")
	serveCmd.Flags().Int("max-sessions", server.DefaultMaxSessions, "Maximum live sessions; the oldest idle one is dropped when full")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	cfg := commandConfig()
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if engine, _ := cmd.Flags().GetString("engine"); engine != "" {
		cfg.OCREngine = engine
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	record, _ := cmd.Flags().GetBool("record")
	ttl, _ := cmd.Flags().GetDuration("session-ttl")
	maxSessions, _ := cmd.Flags().GetInt("max-sessions")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := createEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer engine.Close()

	pipeline, err := buildPipeline(cfg, engine)
	if err != nil {
		return err
	}

	opts := server.Options{
		MaxUploadSize: cfg.MaxUploadSize,
		ScanTimeout:   cfg.OCRTimeout,
		SessionTTL:    ttl,
		MaxSessions:   maxSessions,
	}
	if record {
		var store history.Store
		store, err = openHistory(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Sink = store
	}

	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("engine", engine.Name()).
		Bool("record", record).
		Msg("Starting receipt API")

	return server.New(pipeline, opts).Run(ctx, cfg.HTTPAddr)
}
