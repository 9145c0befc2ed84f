package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Scan outcomes.
const (
	OutcomeKeyword  = "keyword"
	OutcomeFallback = "fallback"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Receipt pipeline metrics.
var (
	ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "receipts",
			Name:      "scans_total",
			Help:      "Total number of receipt scans by outcome",
		},
		[]string{"outcome"},
	)

	OCRDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "receipts",
			Name:      "ocr_duration_seconds",
			Help:      "OCR engine call duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"engine"},
	)

	HistoryErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "receipts",
			Name:      "history_errors_total",
			Help:      "Total number of failed history appends",
		},
	)
)

func init() {
	prometheus.MustRegister(ScansTotal)
	prometheus.MustRegister(OCRDuration)
	prometheus.MustRegister(HistoryErrorsTotal)
}

// ObserveScan counts one finished scan. method is the total extraction method
// ("keyword", "next_line", "fallback", "none"); err marks a failed scan.
func ObserveScan(method string, err error) {
	ScansTotal.WithLabelValues(scanOutcome(method, err)).Inc()
}

func scanOutcome(method string, err error) string {
	switch {
	case err != nil:
		return OutcomeError
	case method == "keyword" || method == "next_line":
		return OutcomeKeyword
	case method == "fallback":
		return OutcomeFallback
	default:
		return OutcomeNotFound
	}
}

// ObserveOCR records how long an engine call took.
func ObserveOCR(engine string, d time.Duration) {
	OCRDuration.WithLabelValues(engine).Observe(d.Seconds())
}
