// Package receipt runs the full receipt pipeline: image preprocessing, OCR, row
// assembly, total extraction and history recording.
package receipt

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"

	"receipts/internal/history"
	"receipts/internal/logger"
	"receipts/internal/metrics"
	"receipts/internal/ocr"
	"receipts/internal/rows"
	"receipts/internal/total"
	"receipts/pkg/models"
)

var (
	// ErrNoEngine is returned by Scan when the pipeline was built without an engine.
	ErrNoEngine = errors.New("no OCR engine configured")

	// ErrHistoryWrite is returned together with a complete scan when recording
	// the total failed.
	ErrHistoryWrite = errors.New("failed to record total")
)

// Pipeline turns receipt images into merged lines and a total.
type Pipeline struct {
	engine     ocr.Engine
	preprocess ocr.PreprocessOptions
	assembler  *rows.Assembler
	extractor  *total.Extractor
	log        zerolog.Logger
}

// NewPipeline wires the pipeline stages. engine may be nil when only ScanTokens
// is used.
func NewPipeline(engine ocr.Engine, preprocess ocr.PreprocessOptions, assembler *rows.Assembler, extractor *total.Extractor) *Pipeline {
	return &Pipeline{
		engine:     engine,
		preprocess: preprocess,
		assembler:  assembler,
		extractor:  extractor,
		log:        logger.WithComponent("receipt-pipeline"),
	}
}

// Engine returns the OCR engine, nil if none.
func (p *Pipeline) Engine() ocr.Engine {
	return p.engine
}

// Scan preprocesses img, recognizes it and processes the tokens like ScanTokens.
// A nil sink disables recording.
func (p *Pipeline) Scan(ctx context.Context, img image.Image, sink history.Sink) (*models.Scan, error) {
	const op = "Scan"
	start := time.Now()

	if p.engine == nil {
		return nil, ErrNoEngine
	}

	prepared := ocr.Preprocess(img, p.preprocess)

	rec, err := ocr.RecognizeWithMetadata(ctx, p.engine, prepared)
	if err != nil {
		metrics.ObserveScan("", err)
		p.log.Error().Err(err).Str("engine", p.engine.Name()).Msg("OCR failed")
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	metrics.ObserveOCR(rec.Engine, rec.ProcessingDuration)

	p.log.Debug().
		Str("engine", rec.Engine).
		Int("tokens", len(rec.Tokens)).
		Dur("ocr_duration", rec.ProcessingDuration).
		Msg("OCR completed")

	scan, err := p.process(ctx, rec.Tokens, sink)
	if scan != nil {
		scan.Engine = rec.Engine
		scan.OCRDuration = rec.ProcessingDuration
		scan.TotalDuration = time.Since(start)
	}
	return scan, err
}

// ScanTokens assembles tokens into lines, extracts the total and records it in
// sink when found. When recording fails the complete scan is returned together
// with an error wrapping ErrHistoryWrite.
func (p *Pipeline) ScanTokens(ctx context.Context, tokens []models.Token, sink history.Sink) (*models.Scan, error) {
	start := time.Now()
	scan, err := p.process(ctx, tokens, sink)
	if scan != nil {
		scan.TotalDuration = time.Since(start)
	}
	return scan, err
}

func (p *Pipeline) process(ctx context.Context, tokens []models.Token, sink history.Sink) (*models.Scan, error) {
	lines, err := p.assembler.Assemble(tokens)
	if err != nil {
		metrics.ObserveScan("", err)
		return nil, fmt.Errorf("assemble: %w", err)
	}

	res := p.extractor.ExtractLines(lines)
	scan := &models.Scan{
		Lines:       lines,
		Total:       res.AmountPtr(),
		TotalMethod: string(res.Method),
		TotalLine:   res.Line,
		TokenCount:  len(tokens),
		ProcessedAt: time.Now(),
	}

	p.log.Info().
		Int("tokens", len(tokens)).
		Int("lines", len(lines)).
		Bool("found", res.Found).
		Str("method", string(res.Method)).
		Float64("total", res.Amount).
		Msg("Receipt processed")

	if res.Found && sink != nil {
		if err := ctx.Err(); err != nil {
			metrics.ObserveScan(scan.TotalMethod, err)
			return nil, err
		}
		if err := sink.Append(ctx, history.Round2(res.Amount)); err != nil {
			metrics.HistoryErrorsTotal.Inc()
			metrics.ObserveScan(scan.TotalMethod, nil)
			p.log.Warn().Err(err).Float64("total", res.Amount).Msg("Failed to record total")
			return scan, fmt.Errorf("%w: %w", ErrHistoryWrite, err)
		}
		scan.Recorded = true
	}

	metrics.ObserveScan(scan.TotalMethod, nil)
	return scan, nil
}
