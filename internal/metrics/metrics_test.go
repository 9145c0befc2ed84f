package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMiddlewareRecordsDurationAndCount(t *testing.T) {
	r := gin.New()
	r.Use(Middleware())
	r.GET("/api/test", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/missing-id/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/test", http.NoBody))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/missing-id/42", http.NoBody))
	require.Equal(t, http.StatusNotFound, rr.Code)

	assert.GreaterOrEqual(t, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/test", "200")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/missing-id/:id", "404")), 1.0)
	assert.NotZero(t, testutil.CollectAndCount(httpRequestDuration))
}

func TestMiddlewareUnknownRoute(t *testing.T) {
	r := gin.New()
	r.Use(Middleware())

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nowhere", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.GreaterOrEqual(t, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "unknown", "404")), 1.0)
}

func TestScanOutcome(t *testing.T) {
	tests := []struct {
		method string
		err    error
		want   string
	}{
		{"keyword", nil, OutcomeKeyword},
		{"next_line", nil, OutcomeKeyword},
		{"fallback", nil, OutcomeFallback},
		{"none", nil, OutcomeNotFound},
		{"keyword", errors.New("x"), OutcomeError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, scanOutcome(tt.method, tt.err))
	}
}

func TestObserveScanAndOCR(t *testing.T) {
	before := testutil.ToFloat64(ScansTotal.WithLabelValues(OutcomeFallback))
	ObserveScan("fallback", nil)
	assert.Equal(t, before+1, testutil.ToFloat64(ScansTotal.WithLabelValues(OutcomeFallback)))

	ObserveOCR("tesseract", 1500*time.Millisecond)

	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), `receipts_ocr_duration_seconds_count{engine="tesseract"}`))
}
