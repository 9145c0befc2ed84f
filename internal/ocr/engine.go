package ocr

import (
	"context"
	"fmt"
	"strings"
)

// EngineConfig selects and configures an OCR engine.
type EngineConfig struct {
	// Name is one of EngineVision, EngineDocumentAI or EngineTesseract.
	Name string

	// Languages are ISO 639-1 language hints, e.g. "fr".
	Languages []string

	// Credentials authenticate the Google engines.
	Credentials Credentials

	// DocumentAI configures EngineDocumentAI.
	DocumentAI DocumentAIConfig
}

// Engines lists the supported engine names.
func Engines() []string {
	return []string{EngineVision, EngineDocumentAI, EngineTesseract}
}

// NewEngine creates the engine named by cfg.Name.
func NewEngine(ctx context.Context, cfg EngineConfig) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case EngineVision:
		return NewGoogleVisionEngine(ctx, cfg.Credentials, cfg.Languages)
	case EngineDocumentAI:
		dcfg := cfg.DocumentAI
		if dcfg.Credentials.IsZero() {
			dcfg.Credentials = cfg.Credentials
		}
		return NewDocumentAIEngine(ctx, dcfg)
	case EngineTesseract:
		return NewTesseractEngine(cfg.Languages), nil
	default:
		return nil, NewOCRError(cfg.Name, "NewEngine", ErrUnknownEngine,
			fmt.Sprintf("supported engines: %s", strings.Join(Engines(), ", ")))
	}
}
