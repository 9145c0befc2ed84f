package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog"

	"receipts/internal/logger"
	"receipts/pkg/models"
)

// EngineTesseract is the name of the local Tesseract engine.
const EngineTesseract = "tesseract"

// tesseractLanguages maps ISO 639-1 hints to Tesseract traineddata names.
var tesseractLanguages = map[string]string{
	"fr": "fra",
	"en": "eng",
	"de": "deu",
	"es": "spa",
	"it": "ita",
}

// TesseractEngine implements Engine with a local Tesseract installation.
// A fresh gosseract client is created per call so the engine is safe for
// concurrent use.
type TesseractEngine struct {
	languages []string
	log       zerolog.Logger
}

// NewTesseractEngine creates a Tesseract engine for the given language hints.
// Both "fr" and "fra" forms are accepted; French is used when none is given.
func NewTesseractEngine(languages []string) *TesseractEngine {
	return &TesseractEngine{
		languages: TesseractLanguages(languages),
		log:       logger.WithComponent("ocr-tesseract"),
	}
}

// TesseractLanguages normalizes language hints to Tesseract language names.
func TesseractLanguages(hints []string) []string {
	out := make([]string, 0, len(hints))
	for _, h := range hints {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if mapped, ok := tesseractLanguages[h]; ok {
			h = mapped
		}
		out = append(out, h)
	}
	if len(out) == 0 {
		out = []string{"fra"}
	}
	return out
}

// Name implements Engine.
func (t *TesseractEngine) Name() string { return EngineTesseract }

type tesseractResult struct {
	boxes []gosseract.BoundingBox
	err   error
}

// Recognize implements Engine. Tesseract itself cannot be interrupted; when ctx is
// done first the call returns immediately and the result is discarded.
func (t *TesseractEngine) Recognize(ctx context.Context, img image.Image) ([]models.Token, error) {
	const op = "Recognize"

	content, err := EncodePNG(img)
	if err != nil {
		return nil, WrapOCRError(EngineTesseract, op, err, "failed to encode image")
	}

	done := make(chan tesseractResult, 1)
	go func() {
		boxes, err := t.wordBoxes(content)
		done <- tesseractResult{boxes: boxes, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, WrapOCRError(EngineTesseract, op, ctx.Err(), "recognition interrupted")
	case res := <-done:
		if res.err != nil {
			return nil, WrapOCRError(EngineTesseract, op, ErrOCRFailed, res.err.Error())
		}
		tokens := tesseractTokens(res.boxes)
		t.log.Debug().
			Strs("languages", t.languages).
			Int("tokens", len(tokens)).
			Msg("Tesseract recognition completed")
		return tokens, nil
	}
}

func (t *TesseractEngine) wordBoxes(content []byte) ([]gosseract.BoundingBox, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetImageFromBytes(content); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("failed to get word boxes: %w", err)
	}
	return boxes, nil
}

// tesseractTokens converts word boxes to tokens, dropping blank words.
func tesseractTokens(boxes []gosseract.BoundingBox) []models.Token {
	tokens := make([]models.Token, 0, len(boxes))
	for _, box := range boxes {
		word := strings.TrimSpace(box.Word)
		if word == "" {
			continue
		}
		r := box.Box
		tokens = append(tokens, models.Token{
			Polygon:    models.RectPolygon(float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y)),
			Text:       word,
			Confidence: box.Confidence / 100.0,
		})
	}
	return tokens
}

// Close implements Engine.
func (t *TesseractEngine) Close() error { return nil }
