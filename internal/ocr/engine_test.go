package ocr

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/otiai10/gosseract/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/status"

	"receipts/pkg/models"
)

func whiteImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	return img
}

type fakeAnnotator struct {
	resp   *visionpb.BatchAnnotateImagesResponse
	err    error
	req    *visionpb.BatchAnnotateImagesRequest
	closed bool
}

func (f *fakeAnnotator) BatchAnnotateImages(_ context.Context, req *visionpb.BatchAnnotateImagesRequest, _ ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error) {
	f.req = req
	return f.resp, f.err
}

func (f *fakeAnnotator) Close() error {
	f.closed = true
	return nil
}

func visionAnnotation(text string, x0, y0, x1, y1 int32) *visionpb.EntityAnnotation {
	return &visionpb.EntityAnnotation{
		Description: text,
		BoundingPoly: &visionpb.BoundingPoly{Vertices: []*visionpb.Vertex{
			{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1},
		}},
	}
}

func TestGoogleVisionEngineRecognize(t *testing.T) {
	fake := &fakeAnnotator{resp: &visionpb.BatchAnnotateImagesResponse{
		Responses: []*visionpb.AnnotateImageResponse{{
			TextAnnotations: []*visionpb.EntityAnnotation{
				visionAnnotation("TOTAL 23,50", 0, 0, 200, 40),
				visionAnnotation("TOTAL", 10, 100, 60, 120),
				visionAnnotation("23,50", 80, 102, 130, 122),
			},
		}},
	}}
	engine := newGoogleVisionEngine(fake, []string{"fr"})

	tokens, err := engine.Recognize(context.Background(), whiteImage(4, 4))
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "TOTAL", tokens[0].Text)
	assert.Equal(t, 110.0, tokens[0].CenterY())
	assert.Equal(t, "23,50", tokens[1].Text)

	require.Len(t, fake.req.GetRequests(), 1)
	sent := fake.req.GetRequests()[0]
	assert.Equal(t, []string{"fr"}, sent.GetImageContext().GetLanguageHints())
	assert.Equal(t, visionpb.Feature_TEXT_DETECTION, sent.GetFeatures()[0].GetType())
	assert.NotEmpty(t, sent.GetImage().GetContent())

	require.NoError(t, engine.Close())
	assert.True(t, fake.closed)
}

func TestGoogleVisionEngineNoText(t *testing.T) {
	fake := &fakeAnnotator{resp: &visionpb.BatchAnnotateImagesResponse{
		Responses: []*visionpb.AnnotateImageResponse{{}},
	}}
	tokens, err := newGoogleVisionEngine(fake, nil).Recognize(context.Background(), whiteImage(4, 4))
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestGoogleVisionEngineErrors(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeAnnotator
	}{
		{"call failure", &fakeAnnotator{err: errors.New("unavailable")}},
		{"empty response", &fakeAnnotator{resp: &visionpb.BatchAnnotateImagesResponse{}}},
		{"api error", &fakeAnnotator{resp: &visionpb.BatchAnnotateImagesResponse{
			Responses: []*visionpb.AnnotateImageResponse{{Error: &status.Status{Message: "bad image"}}},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newGoogleVisionEngine(tt.fake, nil).Recognize(context.Background(), whiteImage(4, 4))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrOCRFailed)

			var ocrErr *OCRError
			require.ErrorAs(t, err, &ocrErr)
			assert.Equal(t, EngineVision, ocrErr.Engine)
		})
	}
}

func TestGoogleVisionEngineBadGeometry(t *testing.T) {
	fake := &fakeAnnotator{resp: &visionpb.BatchAnnotateImagesResponse{
		Responses: []*visionpb.AnnotateImageResponse{{
			TextAnnotations: []*visionpb.EntityAnnotation{
				{Description: "all"},
				{Description: "x", BoundingPoly: &visionpb.BoundingPoly{Vertices: []*visionpb.Vertex{{X: 1, Y: 1}}}},
			},
		}},
	}}
	_, err := newGoogleVisionEngine(fake, nil).Recognize(context.Background(), whiteImage(4, 4))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

type fakeProcessor struct {
	resp *documentaipb.ProcessResponse
	err  error
	req  *documentaipb.ProcessRequest
}

func (f *fakeProcessor) ProcessDocument(_ context.Context, req *documentaipb.ProcessRequest, _ ...gax.CallOption) (*documentaipb.ProcessResponse, error) {
	f.req = req
	return f.resp, f.err
}

func (f *fakeProcessor) Close() error { return nil }

func docToken(start, end int64, conf float32, poly *documentaipb.BoundingPoly) *documentaipb.Document_Page_Token {
	return &documentaipb.Document_Page_Token{Layout: &documentaipb.Document_Page_Layout{
		TextAnchor: &documentaipb.Document_TextAnchor{TextSegments: []*documentaipb.Document_TextAnchor_TextSegment{
			{StartIndex: start, EndIndex: end},
		}},
		Confidence:   conf,
		BoundingPoly: poly,
	}}
}

func TestDocumentAIEngineRecognize(t *testing.T) {
	doc := &documentaipb.Document{
		Text: "Café 3,20\nTOTAL 23,50\n",
		Pages: []*documentaipb.Document_Page{{
			Dimension: &documentaipb.Document_Page_Dimension{Width: 200, Height: 400},
			Tokens: []*documentaipb.Document_Page_Token{
				docToken(0, 5, 0.9, &documentaipb.BoundingPoly{Vertices: []*documentaipb.Vertex{
					{X: 10, Y: 10}, {X: 50, Y: 10}, {X: 50, Y: 30}, {X: 10, Y: 30},
				}}),
				docToken(10, 16, 0.8, &documentaipb.BoundingPoly{NormalizedVertices: []*documentaipb.NormalizedVertex{
					{X: 0.05, Y: 0.25}, {X: 0.25, Y: 0.25}, {X: 0.25, Y: 0.3}, {X: 0.05, Y: 0.3},
				}}),
			},
		}},
	}
	fake := &fakeProcessor{resp: &documentaipb.ProcessResponse{Document: doc}}
	cfg := DocumentAIConfig{ProjectID: "p", Location: "eu", ProcessorID: "ocr1"}
	engine := newDocumentAIEngine(fake, cfg)

	tokens, err := engine.Recognize(context.Background(), whiteImage(4, 4))
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	assert.Equal(t, "Café", tokens[0].Text)
	assert.Equal(t, 20.0, tokens[0].CenterY())
	assert.InDelta(t, 0.9, tokens[0].Confidence, 1e-6)

	assert.Equal(t, "TOTAL", tokens[1].Text)
	assert.InDelta(t, 110.0, tokens[1].CenterY(), 1e-3)
	assert.InDelta(t, 30.0, tokens[1].CenterX(), 1e-3)

	assert.Equal(t, "projects/p/locations/eu/processors/ocr1", fake.req.GetName())
	assert.Equal(t, "image/png", fake.req.GetRawDocument().GetMimeType())
}

func TestDocumentAIEngineErrors(t *testing.T) {
	cfg := DocumentAIConfig{ProjectID: "p", Location: "us", ProcessorID: "missing"}

	_, err := newDocumentAIEngine(&fakeProcessor{err: errors.New("rpc error: code = NotFound")}, cfg).
		Recognize(context.Background(), whiteImage(4, 4))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = newDocumentAIEngine(&fakeProcessor{err: errors.New("boom")}, cfg).
		Recognize(context.Background(), whiteImage(4, 4))
	assert.ErrorIs(t, err, ErrOCRFailed)

	_, err = newDocumentAIEngine(&fakeProcessor{resp: &documentaipb.ProcessResponse{}}, cfg).
		Recognize(context.Background(), whiteImage(4, 4))
	assert.ErrorIs(t, err, ErrOCRFailed)
}

func TestNewDocumentAIEngineRequiresProject(t *testing.T) {
	_, err := NewDocumentAIEngine(context.Background(), DocumentAIConfig{ProcessorID: "x"})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewDocumentAIEngine(context.Background(), DocumentAIConfig{ProjectID: "x"})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestProcessorName(t *testing.T) {
	cfg := DocumentAIConfig{ProjectID: "p", Location: "eu", ProcessorID: "abc", ProcessorVersion: "v2"}
	assert.Equal(t, "projects/p/locations/eu/processors/abc/processorVersions/v2", cfg.processorName())
}

func TestTesseractTokens(t *testing.T) {
	boxes := []gosseract.BoundingBox{
		{Box: image.Rect(10, 100, 60, 120), Word: "TOTAL", Confidence: 96},
		{Box: image.Rect(70, 100, 80, 120), Word: " ", Confidence: 10},
		{Box: image.Rect(80, 102, 130, 122), Word: "23,50", Confidence: 88.5},
	}

	tokens := tesseractTokens(boxes)
	require.Len(t, tokens, 2)
	assert.Equal(t, models.Token{
		Polygon:    []models.Point{{X: 10, Y: 100}, {X: 60, Y: 100}, {X: 60, Y: 120}, {X: 10, Y: 120}},
		Text:       "TOTAL",
		Confidence: 0.96,
	}, tokens[0])
	assert.InDelta(t, 0.885, tokens[1].Confidence, 1e-9)
	for _, tok := range tokens {
		assert.NoError(t, tok.Validate())
	}
}

func TestTesseractLanguages(t *testing.T) {
	assert.Equal(t, []string{"fra"}, TesseractLanguages(nil))
	assert.Equal(t, []string{"fra", "eng"}, TesseractLanguages([]string{"fr", " EN "}))
	assert.Equal(t, []string{"deu", "nld"}, TesseractLanguages([]string{"deu", "nld", ""}))
}

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine(context.Background(), EngineConfig{Name: "Tesseract", Languages: []string{"fr"}})
	require.NoError(t, err)
	assert.Equal(t, EngineTesseract, engine.Name())
	assert.NoError(t, engine.Close())

	_, err = NewEngine(context.Background(), EngineConfig{Name: "unknown"})
	assert.ErrorIs(t, err, ErrUnknownEngine)

	_, err = NewEngine(context.Background(), EngineConfig{Name: EngineDocumentAI})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}
