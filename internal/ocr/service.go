// Package ocr turns receipt images into positioned text tokens.
//
// Three engines are available behind the Engine interface:
//   - GoogleVisionEngine: Google Cloud Vision TEXT_DETECTION (word-level annotations)
//   - DocumentAIEngine: Google Document AI OCR processor (page tokens)
//   - TesseractEngine: local Tesseract through gosseract (word boxes)
//
// Every engine returns tokens whose polygon has exactly four vertices in pixel
// coordinates of the image it was given. Images are encoded as PNG before they are
// sent to an engine and must not exceed MaxImageSizeBytes once encoded.
//
// Required Environment Variables (Google engines):
//   - GOOGLE_APPLICATION_CREDENTIALS: Path to service account JSON file, OR
//   - GOOGLE_CREDENTIALS: Inline JSON credentials string
//   - GOOGLE_CLOUD_PROJECT, DOCUMENT_AI_PROCESSOR_ID: Document AI only
//
// Preprocess applies the grayscale and threshold transforms that usually improve
// recognition of thermal-paper receipts.
package ocr

import (
	"context"
	"image"
	"time"

	"receipts/pkg/models"
)

// Engine recognizes text in an image.
type Engine interface {
	// Recognize returns the text fragments found in img, in engine order.
	// An image without text yields an empty slice and no error.
	Recognize(ctx context.Context, img image.Image) ([]models.Token, error)

	// Name identifies the engine in logs and metrics.
	Name() string

	// Close releases engine resources.
	Close() error
}

// Recognition is a Recognize call with timing metadata.
type Recognition struct {
	// Tokens are the recognized text fragments.
	Tokens []models.Token `json:"tokens"`

	// Engine is the name of the engine that produced the tokens.
	Engine string `json:"engine"`

	// ProcessedAt is the timestamp when recognition completed.
	ProcessedAt time.Time `json:"processed_at"`

	// ProcessingDuration is how long recognition took.
	ProcessingDuration time.Duration `json:"processing_duration"`
}

// RecognizeWithMetadata runs engine.Recognize and records how long it took.
func RecognizeWithMetadata(ctx context.Context, engine Engine, img image.Image) (*Recognition, error) {
	start := time.Now()
	tokens, err := engine.Recognize(ctx, img)
	if err != nil {
		return nil, err
	}
	done := time.Now()
	return &Recognition{
		Tokens:             tokens,
		Engine:             engine.Name(),
		ProcessedAt:        done,
		ProcessingDuration: done.Sub(start),
	}, nil
}
