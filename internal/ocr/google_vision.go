package ocr

import (
	"context"
	"fmt"
	"image"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"

	"receipts/internal/logger"
	"receipts/pkg/models"
)

// EngineVision is the name of the Google Cloud Vision engine.
const EngineVision = "vision"

// imageAnnotator is the subset of the Vision client used by GoogleVisionEngine.
type imageAnnotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
	Close() error
}

// GoogleVisionEngine implements Engine using Google Cloud Vision TEXT_DETECTION.
type GoogleVisionEngine struct {
	client    imageAnnotator
	languages []string
	log       zerolog.Logger
}

// NewGoogleVisionEngine creates a Vision engine. Language hints such as "fr" steer
// recognition towards the receipt language.
func NewGoogleVisionEngine(ctx context.Context, creds Credentials, languages []string) (*GoogleVisionEngine, error) {
	const op = "NewGoogleVisionEngine"

	client, err := vision.NewImageAnnotatorClient(ctx, creds.ClientOptions()...)
	if err != nil {
		if creds.IsZero() {
			return nil, WrapOCRError(EngineVision, op, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapOCRError(EngineVision, op, err, "failed to create Vision client")
	}

	return newGoogleVisionEngine(client, languages), nil
}

func newGoogleVisionEngine(client imageAnnotator, languages []string) *GoogleVisionEngine {
	return &GoogleVisionEngine{
		client:    client,
		languages: languages,
		log:       logger.WithComponent("ocr-vision"),
	}
}

// Name implements Engine.
func (g *GoogleVisionEngine) Name() string { return EngineVision }

// Recognize implements Engine. The first text annotation returned by Vision covers
// the whole image and is skipped; every following annotation becomes a token.
func (g *GoogleVisionEngine) Recognize(ctx context.Context, img image.Image) ([]models.Token, error) {
	const op = "Recognize"

	content, err := EncodePNG(img)
	if err != nil {
		return nil, WrapOCRError(EngineVision, op, err, "failed to encode image")
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: content},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_TEXT_DETECTION},
				},
				ImageContext: &visionpb.ImageContext{LanguageHints: g.languages},
			},
		},
	}

	resp, err := g.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, WrapOCRError(EngineVision, op, ctx.Err(), "request interrupted")
		}
		return nil, WrapOCRError(EngineVision, op, ErrOCRFailed, fmt.Sprintf("Vision API call failed: %v", err))
	}
	if len(resp.GetResponses()) == 0 {
		return nil, WrapOCRError(EngineVision, op, ErrOCRFailed, "no response from Vision API")
	}

	imgResp := resp.GetResponses()[0]
	if imgResp.GetError() != nil {
		return nil, WrapOCRError(EngineVision, op, ErrOCRFailed, fmt.Sprintf("Vision API error: %s", imgResp.GetError().GetMessage()))
	}

	tokens, err := visionTokens(imgResp.GetTextAnnotations())
	if err != nil {
		return nil, WrapOCRError(EngineVision, op, err, "unexpected annotation geometry")
	}

	g.log.Debug().
		Int("annotations", len(imgResp.GetTextAnnotations())).
		Int("tokens", len(tokens)).
		Msg("Vision text detection completed")

	return tokens, nil
}

// visionTokens converts word annotations, skipping the leading full-text annotation.
func visionTokens(annotations []*visionpb.EntityAnnotation) ([]models.Token, error) {
	if len(annotations) <= 1 {
		return []models.Token{}, nil
	}

	tokens := make([]models.Token, 0, len(annotations)-1)
	for i, ann := range annotations[1:] {
		vertices := ann.GetBoundingPoly().GetVertices()
		tok := models.Token{
			Text:       ann.GetDescription(),
			Confidence: float64(ann.GetConfidence()),
			Polygon:    make([]models.Point, 0, len(vertices)),
		}
		for _, v := range vertices {
			tok.Polygon = append(tok.Polygon, models.Point{X: float64(v.GetX()), Y: float64(v.GetY())})
		}
		if err := tok.Validate(); err != nil {
			return nil, fmt.Errorf("annotation %d: %w", i+1, err)
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

// Close closes the underlying Vision client.
func (g *GoogleVisionEngine) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
