package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"receipts/internal/logger"
	"receipts/pkg/models"
)

// EngineDocumentAI is the name of the Google Document AI engine.
const EngineDocumentAI = "documentai"

// DocumentAIConfig holds configuration for a Google Document AI OCR processor.
type DocumentAIConfig struct {
	// ProjectID is the Google Cloud project ID where Document AI is enabled.
	ProjectID string

	// Location is the processing location (e.g., "us", "eu").
	// Should match where your Document AI processor is created.
	Location string

	// ProcessorID is the Document AI OCR processor ID.
	ProcessorID string

	// ProcessorVersion specifies a particular processor version.
	// If empty, uses the default version.
	ProcessorVersion string

	// Timeout is the maximum time to wait for processing.
	// Default: 60 seconds.
	Timeout time.Duration

	Credentials Credentials
}

// DefaultDocumentAIConfig returns a DocumentAIConfig with sensible defaults.
func DefaultDocumentAIConfig() DocumentAIConfig {
	return DocumentAIConfig{
		Location: "us",
		Timeout:  60 * time.Second,
	}
}

// processorName constructs the full processor name for the Document AI API.
func (c DocumentAIConfig) processorName() string {
	if c.ProcessorVersion != "" {
		return fmt.Sprintf("projects/%s/locations/%s/processors/%s/processorVersions/%s",
			c.ProjectID, c.Location, c.ProcessorID, c.ProcessorVersion)
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		c.ProjectID, c.Location, c.ProcessorID)
}

type documentProcessor interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
	Close() error
}

// DocumentAIEngine implements Engine using a Document AI OCR processor.
type DocumentAIEngine struct {
	client documentProcessor
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAIEngine creates a Document AI engine.
// Requires: ProjectID and ProcessorID; Location defaults to "us".
func NewDocumentAIEngine(ctx context.Context, config DocumentAIConfig) (*DocumentAIEngine, error) {
	const op = "NewDocumentAIEngine"

	if config.ProjectID == "" {
		return nil, WrapOCRError(EngineDocumentAI, op, ErrInvalidConfiguration, "GOOGLE_CLOUD_PROJECT is required")
	}
	if config.ProcessorID == "" {
		return nil, WrapOCRError(EngineDocumentAI, op, ErrInvalidConfiguration, "DOCUMENT_AI_PROCESSOR_ID is required")
	}
	if config.Location == "" {
		config.Location = "us"
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultDocumentAIConfig().Timeout
	}

	clientOptions := config.Credentials.ClientOptions()
	// Regional endpoint for anything but the default multi-region
	if config.Location != "us" {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", config.Location)
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		if config.Credentials.IsZero() {
			return nil, WrapOCRError(EngineDocumentAI, op, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapOCRError(EngineDocumentAI, op, err, fmt.Sprintf("failed to create Document AI client for location: %s", config.Location))
	}

	return newDocumentAIEngine(client, config), nil
}

func newDocumentAIEngine(client documentProcessor, config DocumentAIConfig) *DocumentAIEngine {
	return &DocumentAIEngine{
		client: client,
		config: config,
		log:    logger.WithComponent("ocr-document-ai"),
	}
}

// Name implements Engine.
func (p *DocumentAIEngine) Name() string { return EngineDocumentAI }

// Recognize implements Engine.
func (p *DocumentAIEngine) Recognize(ctx context.Context, img image.Image) ([]models.Token, error) {
	const op = "Recognize"

	content, err := EncodePNG(img)
	if err != nil {
		return nil, WrapOCRError(EngineDocumentAI, op, err, "failed to encode image")
	}

	processCtx := ctx
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		processCtx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	req := &documentaipb.ProcessRequest{
		Name: p.config.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  content,
				MimeType: "image/png",
			},
		},
	}

	resp, err := p.client.ProcessDocument(processCtx, req)
	if err != nil {
		return nil, p.handleProcessingError(op, processCtx, err)
	}
	if resp.GetDocument() == nil {
		return nil, WrapOCRError(EngineDocumentAI, op, ErrOCRFailed, "no document in response")
	}

	tokens, err := documentTokens(resp.GetDocument())
	if err != nil {
		return nil, WrapOCRError(EngineDocumentAI, op, err, "unexpected token geometry")
	}

	p.log.Debug().
		Int("pages", len(resp.GetDocument().GetPages())).
		Int("tokens", len(tokens)).
		Msg("Document AI processing completed")

	return tokens, nil
}

// handleProcessingError converts Document AI errors to OCR errors.
func (p *DocumentAIEngine) handleProcessingError(op string, ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return WrapOCRError(EngineDocumentAI, op, ctxErr, "processing interrupted")
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "PERMISSION_DENIED"), strings.Contains(errStr, "PermissionDenied"):
		return WrapOCRError(EngineDocumentAI, op, errors.Join(ErrOCRFailed, ErrMissingCredentials), "insufficient permissions for Document AI")
	case strings.Contains(errStr, "NOT_FOUND"), strings.Contains(errStr, "NotFound"):
		return WrapOCRError(EngineDocumentAI, op, ErrInvalidConfiguration, fmt.Sprintf("processor not found: %s", p.config.ProcessorID))
	case strings.Contains(errStr, "INVALID_ARGUMENT"), strings.Contains(errStr, "InvalidArgument"):
		return WrapOCRError(EngineDocumentAI, op, ErrInvalidImage, "document format not supported or corrupted")
	default:
		return WrapOCRError(EngineDocumentAI, op, ErrOCRFailed, fmt.Sprintf("Document AI error: %v", err))
	}
}

// documentTokens flattens the page tokens of doc. Pages are stacked vertically so
// that tokens of later pages sort below earlier ones.
func documentTokens(doc *documentaipb.Document) ([]models.Token, error) {
	text := []rune(doc.GetText())
	tokens := []models.Token{}

	var yOffset float64
	for pageIdx, page := range doc.GetPages() {
		width := float64(page.GetDimension().GetWidth())
		height := float64(page.GetDimension().GetHeight())

		for tokIdx, t := range page.GetTokens() {
			layout := t.GetLayout()
			tok := models.Token{
				Text:       strings.TrimSpace(anchorText(text, layout.GetTextAnchor())),
				Confidence: float64(layout.GetConfidence()),
				Polygon:    layoutPolygon(layout.GetBoundingPoly(), width, height),
			}
			for i := range tok.Polygon {
				tok.Polygon[i].Y += yOffset
			}
			if err := tok.Validate(); err != nil {
				return nil, fmt.Errorf("page %d token %d: %w", pageIdx+1, tokIdx, err)
			}
			tokens = append(tokens, tok)
		}
		yOffset += height
	}
	return tokens, nil
}

// layoutPolygon prefers pixel vertices and falls back to normalized vertices
// scaled by the page dimensions.
func layoutPolygon(poly *documentaipb.BoundingPoly, width, height float64) []models.Point {
	if vertices := poly.GetVertices(); len(vertices) == models.PolygonPoints {
		points := make([]models.Point, 0, len(vertices))
		for _, v := range vertices {
			points = append(points, models.Point{X: float64(v.GetX()), Y: float64(v.GetY())})
		}
		return points
	}

	normalized := poly.GetNormalizedVertices()
	points := make([]models.Point, 0, len(normalized))
	for _, v := range normalized {
		points = append(points, models.Point{X: float64(v.GetX()) * width, Y: float64(v.GetY()) * height})
	}
	return points
}

// anchorText resolves the text segments of anchor against the document text.
// Segment indices count code points.
func anchorText(text []rune, anchor *documentaipb.Document_TextAnchor) string {
	var sb strings.Builder
	for _, seg := range anchor.GetTextSegments() {
		start, end := int(seg.GetStartIndex()), int(seg.GetEndIndex())
		if start < 0 {
			start = 0
		}
		if end > len(text) {
			end = len(text)
		}
		if start >= end {
			continue
		}
		sb.WriteString(string(text[start:end]))
	}
	if sb.Len() == 0 && anchor.GetContent() != "" {
		return anchor.GetContent()
	}
	return sb.String()
}

// Close closes the underlying Document AI client.
func (p *DocumentAIEngine) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
