package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"receipts/internal/config"
	"receipts/internal/history"
	"receipts/internal/logger"
	"receipts/internal/ocr"
	"receipts/internal/receipt"
	"receipts/pkg/models"
)

var scanCmd = &cobra.Command{
	Use:   "scan [image-file]",
	Short: "Extract the lines and total of a receipt photo",
	Long: `Run OCR on a receipt photo, regroup the recognized words into printed lines
and extract the total. The total is appended to the configured history unless
--no-history is given.

Engines (--engine or OCR_ENGINE):
  tesseract  - local Tesseract, needs the "fra" traineddata installed
  vision     - Google Cloud Vision TEXT_DETECTION
  documentai - Google Document AI OCR processor

Google engines read GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS;
Document AI also needs GOOGLE_CLOUD_PROJECT and DOCUMENT_AI_PROCESSOR_ID.`,
	Example: `  # Print merged lines and the total
  receipts scan ticket.jpg

  # Use Google Cloud Vision and save JSON
  receipts scan ticket.jpg --engine vision --json -o result.json

  # Wider row grouping for skewed photos
  receipts scan ticket.jpg --y-threshold 14 --threshold`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

// ScanOutput represents the JSON output structure when --json flag is used
type ScanOutput struct {
	*models.Scan
	FileName     string `json:"file_name"`
	FileSize     int64  `json:"file_size"`
	HistoryError string `json:"history_error,omitempty"`
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	scanCmd.Flags().Bool("json", false, "Output as JSON")
	scanCmd.Flags().Duration("timeout", 0, "Processing timeout (default: OCR_TIMEOUT)")
	scanCmd.Flags().String("engine", "", "OCR engine: tesseract, vision or documentai (default: OCR_ENGINE)")
	scanCmd.Flags().Float64("y-threshold", -1, "Row grouping tolerance in pixels (default: ROW_Y_THRESHOLD)")
	scanCmd.Flags().Bool("threshold", false, "Binarize the image before OCR")
	scanCmd.Flags().Bool("no-history", false, "Do not record the total")
}

func runScan(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("scan")

	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	noHistory, _ := cmd.Flags().GetBool("no-history")

	cfg, err := scanConfig(cmd)
	if err != nil {
		return err
	}

	imagePath := args[0]

	log.Info().
		Str("file", imagePath).
		Str("engine", cfg.OCREngine).
		Float64("y_threshold", cfg.RowYThreshold).
		Dur("timeout", cfg.OCRTimeout).
		Bool("history", !noHistory).
		Msg("Starting receipt scan")

	fileInfo, err := validateImageFile(imagePath, log)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithTimeout(cfg.OCRTimeout, log)
	defer cancel()

	img, err := ocr.OpenImage(imagePath)
	if err != nil {
		return handleScanError(err, log)
	}

	engine, err := createEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer engine.Close()

	pipeline, err := buildPipeline(cfg, engine)
	if err != nil {
		return err
	}

	var sink history.Sink
	if !noHistory {
		store, err := openHistory(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer store.Close()
		sink = store
	}

	scan, err := pipeline.Scan(ctx, img, sink)
	var historyErr error
	if err != nil {
		if !errors.Is(err, receipt.ErrHistoryWrite) || scan == nil {
			return handleScanError(err, log)
		}
		historyErr = err
		log.Warn().Err(err).Msg("Total extracted but not recorded")
	}

	log.Info().
		Int("lines", len(scan.Lines)).
		Str("method", scan.TotalMethod).
		Dur("duration", scan.TotalDuration).
		Msg("Receipt scan completed successfully")

	var historyMsg string
	if historyErr != nil {
		historyMsg = historyErr.Error()
	}
	if err := outputScan(scan, fileInfo, historyMsg, outputPath, jsonOutput, log); err != nil {
		return err
	}

	// The total is already printed; the exit status still reports the lost write.
	return historyErr
}

// scanConfig applies the command flags to the base configuration.
func scanConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := commandConfig()

	if engine, _ := cmd.Flags().GetString("engine"); engine != "" {
		cfg.OCREngine = engine
	}
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		cfg.OCRTimeout = timeout
	}
	if y, _ := cmd.Flags().GetFloat64("y-threshold"); y >= 0 {
		cfg.RowYThreshold = y
	}
	if th, _ := cmd.Flags().GetBool("threshold"); th {
		cfg.PreprocessThreshold = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// validateImageFile checks that the file exists, is regular, non-empty and within the size limit
func validateImageFile(imagePath string, log zerolog.Logger) (os.FileInfo, error) {
	fileInfo, err := os.Stat(imagePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Error().
				Str("file", imagePath).
				Msg("Image file not found")
			return nil, fmt.Errorf("image file not found: %s", imagePath)
		}
		if os.IsPermission(err) {
			log.Error().
				Str("file", imagePath).
				Msg("Permission denied accessing image file")
			return nil, fmt.Errorf("permission denied accessing image file: %s", imagePath)
		}
		return nil, fmt.Errorf("error accessing image file: %w", err)
	}

	if !fileInfo.Mode().IsRegular() {
		log.Error().
			Str("file", imagePath).
			Msg("Path is not a regular file")
		return nil, fmt.Errorf("path is not a regular file: %s", imagePath)
	}

	switch strings.ToLower(filepath.Ext(imagePath)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".tif", ".tiff", ".bmp":
	default:
		log.Warn().
			Str("file", imagePath).
			Msg("File does not have a known image extension")
	}

	if fileInfo.Size() == 0 {
		log.Error().
			Str("file", imagePath).
			Msg("Image file is empty")
		return nil, fmt.Errorf("image file is empty: %s", imagePath)
	}

	if fileInfo.Size() > ocr.MaxImageSizeBytes {
		log.Error().
			Str("file", imagePath).
			Int64("size", fileInfo.Size()).
			Int64("max_size", ocr.MaxImageSizeBytes).
			Msg("Image file exceeds maximum size limit")
		return nil, fmt.Errorf("image file too large (%d bytes). Maximum size is %d bytes (20MB)",
			fileInfo.Size(), ocr.MaxImageSizeBytes)
	}

	return fileInfo, nil
}

// createEngine creates the configured OCR engine
func createEngine(ctx context.Context, cfg *config.Config, log zerolog.Logger) (ocr.Engine, error) {
	engine, err := ocr.NewEngine(ctx, cfg.EngineConfig())
	if err != nil {
		if errors.Is(err, ocr.ErrMissingCredentials) {
			log.Error().
				Err(err).
				Msg("Google Cloud credentials validation failed")
			return nil, fmt.Errorf("Google Cloud credentials not configured. Please set one of:\n\n" +
				"1. Export GOOGLE_APPLICATION_CREDENTIALS with path to service account JSON:\n" +
				"   export GOOGLE_APPLICATION_CREDENTIALS=/path/to/service-account-key.json\n\n" +
				"2. Export GOOGLE_CREDENTIALS with inline JSON:\n" +
				"   export GOOGLE_CREDENTIALS='{\"type\":\"service_account\",\"project_id\":\"your-project\",...}'\n\n" +
				"3. Use Application Default Credentials (if gcloud is configured):\n" +
				"   gcloud auth application-default login\n\n" +
				"Original error: %w", err)
		}
		log.Error().
			Err(err).
			Str("engine", cfg.OCREngine).
			Msg("Failed to create OCR engine")
		return nil, fmt.Errorf("failed to create OCR engine: %w", err)
	}

	log.Debug().Str("engine", engine.Name()).Msg("OCR engine created successfully")
	return engine, nil
}

// handleScanError provides user-friendly error messages for scan failures
func handleScanError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Receipt scan failed")

	errStr := err.Error()

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("OCR processing timed out. Try increasing --timeout")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("OCR processing was canceled")
	case errors.Is(err, ocr.ErrImageTooLarge):
		return fmt.Errorf("image is too large (maximum 20MB once encoded). Try resizing the photo")
	case errors.Is(err, ocr.ErrInvalidImage):
		return fmt.Errorf("invalid or corrupted image file. Supported formats: JPEG, PNG, GIF, TIFF, BMP")
	case errors.Is(err, ocr.ErrInvalidToken):
		return fmt.Errorf("the OCR engine returned malformed word boxes: %w", err)
	case strings.Contains(errStr, "Unauthenticated") ||
		strings.Contains(errStr, "invalid_grant") ||
		strings.Contains(errStr, "transport: per-RPC creds failed"):
		return fmt.Errorf("Google Cloud authentication failed. Please check GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS.\n\n"+
			"Original error: %v", err)
	case strings.Contains(errStr, "PERMISSION_DENIED") ||
		strings.Contains(errStr, "PermissionDenied"):
		return fmt.Errorf("permission denied. Please ensure your service account may use the selected OCR API")
	case strings.Contains(errStr, "QUOTA_EXCEEDED") ||
		strings.Contains(errStr, "ResourceExhausted"):
		return fmt.Errorf("OCR API quota exceeded. Check your project quotas in the Google Cloud Console")
	case errors.Is(err, ocr.ErrOCRFailed):
		return fmt.Errorf("OCR processing failed. This may be due to network issues, API quota limits, or service unavailability: %w", err)
	default:
		return fmt.Errorf("receipt scan failed: %w", err)
	}
}

// outputScan formats and outputs the scan results
func outputScan(scan *models.Scan, fileInfo os.FileInfo, historyErr, outputPath string, jsonOutput bool, log zerolog.Logger) error {
	if jsonOutput {
		data, err := marshalJSON(ScanOutput{
			Scan:         scan,
			FileName:     filepath.Base(fileInfo.Name()),
			FileSize:     fileInfo.Size(),
			HistoryError: historyErr,
		}, log)
		if err != nil {
			return err
		}
		return writeOutput(data, outputPath, log)
	}

	var output strings.Builder
	output.WriteString(fmt.Sprintf("=== Receipt %s ===\n", filepath.Base(fileInfo.Name())))
	if scan.Engine != "" {
		output.WriteString(fmt.Sprintf("Engine: %s (%v)\n", scan.Engine, scan.OCRDuration.Round(time.Millisecond)))
	}
	output.WriteString("\n=== Merged Lines ===\n\n")
	writeLines(&output, scan.Lines)
	output.WriteString("\n")
	writeTotal(&output, scan)
	if historyErr != "" {
		output.WriteString(fmt.Sprintf("Warning: %s\n", historyErr))
	}

	return writeOutput([]byte(output.String()), outputPath, log)
}

func writeLines(sb *strings.Builder, lines []models.Line) {
	for _, l := range lines {
		sb.WriteString(fmt.Sprintf("%s (Confidence: %.2f)\n", l.Text, l.Confidence))
	}
}

func writeTotal(sb *strings.Builder, scan *models.Scan) {
	if scan.Total == nil {
		sb.WriteString("Total: not found\n")
		return
	}
	sb.WriteString(fmt.Sprintf("Total: %.2f (%s, line %d)\n", *scan.Total, scan.TotalMethod, scan.TotalLine+1))
	if scan.Recorded {
		sb.WriteString("Recorded in history\n")
	}
}
