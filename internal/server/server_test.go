package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipts/internal/ocr"
	"receipts/internal/receipt"
	"receipts/internal/rows"
	"receipts/internal/total"
	"receipts/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const tokenDump = `[
	{"polygon": [[10,95],[50,95],[50,105],[10,105]], "text": "TOTAL", "confidence": 0.9},
	{"polygon": [[200,98],[240,98],[240,108],[200,108]], "text": "23,50", "confidence": 0.8},
	{"polygon": [[10,15],[90,15],[90,25],[10,25]], "text": "CARREFOUR", "confidence": 0.99}
]`

func receiptTokens() []models.Token {
	return []models.Token{
		{Polygon: models.RectPolygon(10, 95, 50, 105), Text: "TOTAL", Confidence: 0.9},
		{Polygon: models.RectPolygon(200, 98, 240, 108), Text: "23,50", Confidence: 0.8},
	}
}

type fakeEngine struct {
	tokens  []models.Token
	err     error
	block   bool
	started chan struct{}
}

func (f *fakeEngine) Recognize(ctx context.Context, _ image.Image) ([]models.Token, error) {
	if f.block {
		f.started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.tokens, f.err
}

func (f *fakeEngine) Name() string { return "fake" }
func (f *fakeEngine) Close() error { return nil }

type failingSink struct{}

func (failingSink) Append(context.Context, float64) error { return errors.New("sheet unavailable") }

func newTestServer(t *testing.T, engine ocr.Engine, opts Options) *Server {
	t.Helper()
	asm, err := rows.NewAssembler(rows.DefaultConfig())
	require.NoError(t, err)
	p := receipt.NewPipeline(engine, ocr.PreprocessOptions{}, asm, total.NewExtractor(total.DefaultConfig()))
	return New(p, opts)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := 0; i < 32; i++ {
		img.SetGray(i, i, color.Gray{Y: 200})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartBody(t *testing.T, field string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, "receipt.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func performRequest(h http.Handler, method, path string, body io.Reader, contentType, sessionID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type scanBody struct {
	Lines        []models.Line `json:"lines"`
	Total        *float64      `json:"total"`
	TotalMethod  string        `json:"total_method"`
	Recorded     bool          `json:"recorded"`
	Engine       string        `json:"engine"`
	SessionID    string        `json:"session_id"`
	HistoryError string        `json:"history_error"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, Options{})
	rec := performRequest(s.Handler(), http.MethodGet, "/healthz", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"engine":"fake"`)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, Options{})
	performRequest(s.Handler(), http.MethodGet, "/healthz", nil, "", "")

	rec := performRequest(s.Handler(), http.MethodGet, "/metrics", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "receipts_http_requests_total")
}

func TestScanTokensAndHistory(t *testing.T) {
	s := newTestServer(t, nil, Options{})
	h := s.Handler()

	rec := performRequest(h, http.MethodPost, "/api/v1/receipts/tokens", strings.NewReader(tokenDump), "application/json", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sessionID := rec.Header().Get(SessionHeader)
	require.NotEmpty(t, sessionID)

	body := decode[scanBody](t, rec)
	assert.Equal(t, sessionID, body.SessionID)
	require.NotNil(t, body.Total)
	assert.InDelta(t, 23.50, *body.Total, 1e-9)
	assert.Equal(t, "keyword", body.TotalMethod)
	assert.True(t, body.Recorded)
	require.Len(t, body.Lines, 2)
	assert.Equal(t, "CARREFOUR", body.Lines[0].Text)
	assert.Equal(t, "TOTAL 23,50", body.Lines[1].Text)

	rec = performRequest(h, http.MethodGet, "/api/v1/history", nil, "", sessionID)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[historyResponse](t, rec)
	assert.Equal(t, []float64{23.5}, hist.Totals)

	rec = performRequest(h, http.MethodGet, "/api/v1/history", nil, "", "someone-else")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[historyResponse](t, rec).Totals)
	assert.Equal(t, "someone-else", rec.Header().Get(SessionHeader))
}

func TestScanTokensInvalid(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	rec := performRequest(s.Handler(), http.MethodPost, "/api/v1/receipts/tokens",
		strings.NewReader(`[{"polygon":[[0,0],[1,1]],"text":"x"}]`), "application/json", "s1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = performRequest(s.Handler(), http.MethodPost, "/api/v1/receipts/tokens",
		strings.NewReader(`not json`), "application/json", "s1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanImage(t *testing.T) {
	s := newTestServer(t, &fakeEngine{tokens: receiptTokens()}, Options{})

	body, ct := multipartBody(t, "file", pngBytes(t))
	rec := performRequest(s.Handler(), http.MethodPost, "/api/v1/receipts", body, ct, "s1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[scanBody](t, rec)
	require.NotNil(t, resp.Total)
	assert.InDelta(t, 23.50, *resp.Total, 1e-9)
	assert.Equal(t, "fake", resp.Engine)

	totals, err := s.Sessions().Get("s1").History.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{23.5}, totals)
}

func TestScanImageErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{}, Options{})
		body, ct := multipartBody(t, "other", pngBytes(t))
		rec := performRequest(s.Handler(), http.MethodPost, "/api/v1/receipts", body, ct, "s1")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not an image", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{}, Options{})
		body, ct := multipartBody(t, "file", []byte("hello"))
		rec := performRequest(s.Handler(), http.MethodPost, "/api/v1/receipts", body, ct, "s1")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("too large", func(t *testing.T) {
		s := newTestServer(t, &fakeEngine{}, Options{MaxUploadSize: 16})
		body, ct := multipartBody(t, "file", pngBytes(t))
		rec := performRequest(s.Handler(), http.MethodPost, "/api/v1/receipts", body, ct, "s1")
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("engine failure", func(t *testing.T) {
		engine := &fakeEngine{err: ocr.WrapOCRError("fake", "Recognize", ocr.ErrOCRFailed, "quota")}
		s := newTestServer(t, engine, Options{})
		body, ct := multipartBody(t, "file", pngBytes(t))
		rec := performRequest(s.Handler(), http.MethodPost, "/api/v1/receipts", body, ct, "s1")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("no engine", func(t *testing.T) {
		s := newTestServer(t, nil, Options{})
		body, ct := multipartBody(t, "file", pngBytes(t))
		rec := performRequest(s.Handler(), http.MethodPost, "/api/v1/receipts", body, ct, "s1")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHistoryFailureStillReturnsScan(t *testing.T) {
	s := newTestServer(t, nil, Options{Sink: failingSink{}})

	rec := performRequest(s.Handler(), http.MethodPost, "/api/v1/receipts/tokens", strings.NewReader(tokenDump), "application/json", "s1")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[scanBody](t, rec)
	require.NotNil(t, body.Total)
	assert.Contains(t, body.HistoryError, "sheet unavailable")
	assert.False(t, body.Recorded)
}

func TestNewScanCancelsInFlightScan(t *testing.T) {
	engine := &fakeEngine{block: true, started: make(chan struct{}, 1)}
	s := newTestServer(t, engine, Options{})
	h := s.Handler()

	body, ct := multipartBody(t, "file", pngBytes(t))
	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		first <- performRequest(h, http.MethodPost, "/api/v1/receipts", body, ct, "s1")
	}()

	select {
	case <-engine.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first scan never reached the engine")
	}
	assert.True(t, s.Sessions().Get("s1").Busy())

	rec := performRequest(h, http.MethodPost, "/api/v1/receipts/tokens", strings.NewReader(tokenDump), "application/json", "s1")
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case res := <-first:
		assert.Equal(t, http.StatusConflict, res.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("first scan was not cancelled")
	}

	totals, err := s.Sessions().Get("s1").History.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{23.5}, totals)
	assert.False(t, s.Sessions().Get("s1").Busy())
}

func TestScanTimeout(t *testing.T) {
	engine := &fakeEngine{block: true, started: make(chan struct{}, 1)}
	s := newTestServer(t, engine, Options{ScanTimeout: 50 * time.Millisecond})

	body, ct := multipartBody(t, "file", pngBytes(t))
	rec := performRequest(s.Handler(), http.MethodPost, "/api/v1/receipts", body, ct, "s1")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}
