// Package total finds the total amount stated on a receipt.
//
// Extraction runs in two phases. The keyword phase scans lines top to bottom for a
// fuzzy match of a total keyword ("total", "net à payer", ...) and reads the first
// amount on that line, or on the next line when the keyword line carries none. When
// no keyword line yields an amount, the fallback phase takes the largest amount
// above a magnitude cutoff from the last few lines of the receipt.
package total

import (
	"strings"

	"github.com/rs/zerolog"

	"receipts/internal/fuzzy"
	"receipts/internal/logger"
	"receipts/pkg/models"
)

// Default tuning constants.
const (
	DefaultFuzzyThreshold     = 70
	DefaultMagnitudeThreshold = 10.0
	DefaultTailWindow         = 5
)

// DefaultKeywords are the French phrases that announce a receipt total.
var DefaultKeywords = []string{
	"total",
	"montant total",
	"à payer",
	"somme",
	"net à payer",
	"total ttc",
}

// DefaultExclusions mark sub-total lines, which contain "total" but never state
// the amount due.
var DefaultExclusions = []string{
	"sous-total",
	"sous total",
	"subtotal",
}

// Method describes how a total was found.
type Method string

const (
	MethodKeyword  Method = "keyword"
	MethodNextLine Method = "next_line"
	MethodFallback Method = "fallback"
	MethodNone     Method = "none"
)

// Config holds the extraction tunables.
type Config struct {
	// Keywords are matched against lower-cased lines with the fuzzy similarity.
	Keywords []string

	// Exclusions disqualify a line from the keyword phase when it contains one
	// of them verbatim (after lower-casing).
	Exclusions []string

	// FuzzyThreshold is the score a keyword must exceed for a line to qualify.
	FuzzyThreshold int

	// MagnitudeThreshold is the value fallback amounts must exceed to be preferred.
	MagnitudeThreshold float64

	// TailWindow is the number of trailing lines the fallback phase considers.
	TailWindow int
}

// DefaultConfig returns the French receipt configuration.
func DefaultConfig() Config {
	return Config{
		Keywords:           append([]string(nil), DefaultKeywords...),
		Exclusions:         append([]string(nil), DefaultExclusions...),
		FuzzyThreshold:     DefaultFuzzyThreshold,
		MagnitudeThreshold: DefaultMagnitudeThreshold,
		TailWindow:         DefaultTailWindow,
	}
}

// Result is the outcome of an extraction. Found is false when no total could be
// established; Amount is meaningless in that case.
type Result struct {
	Amount float64
	Found  bool
	Method Method
	Line   int    // index of the line the amount was read from, -1 if none
	Raw    string // matched substring before normalization
}

// AmountPtr returns a pointer to the amount, or nil when nothing was found.
func (r Result) AmountPtr() *float64 {
	if !r.Found {
		return nil
	}
	v := r.Amount
	return &v
}

func notFound() Result {
	return Result{Method: MethodNone, Line: -1}
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithSimilarity replaces the default partial-ratio similarity.
func WithSimilarity(s fuzzy.Similarity) Option {
	return func(e *Extractor) {
		e.sim = s
	}
}

// Extractor locates receipt totals. It keeps no state between calls.
type Extractor struct {
	cfg      Config
	keywords []string
	sim      fuzzy.Similarity
	log      zerolog.Logger
}

// NewExtractor returns an Extractor for cfg. Empty keyword and nil exclusion
// lists fall back to the French defaults; numeric tunables are used as given,
// so start from DefaultConfig to change only some of them.
func NewExtractor(cfg Config, opts ...Option) *Extractor {
	def := DefaultConfig()
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = def.Keywords
	}
	if cfg.Exclusions == nil {
		cfg.Exclusions = def.Exclusions
	}
	if cfg.TailWindow < 0 {
		cfg.TailWindow = 0
	}

	keywords := make([]string, len(cfg.Keywords))
	for i, kw := range cfg.Keywords {
		keywords[i] = strings.ToLower(kw)
	}

	e := &Extractor{
		cfg:      cfg,
		keywords: keywords,
		sim:      fuzzy.PartialRatio{},
		log:      logger.WithComponent("total-extractor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Extractor) Config() Config {
	return e.cfg
}

// ExtractLines runs Extract over the text of merged lines.
func (e *Extractor) ExtractLines(lines []models.Line) Result {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	return e.Extract(texts)
}

// Extract finds the total in lines, which must be in top-to-bottom order.
func (e *Extractor) Extract(lines []string) Result {
	if res, ok := e.byKeyword(lines); ok {
		return res
	}
	if res, ok := e.byMagnitude(lines); ok {
		return res
	}
	e.log.Debug().Int("lines", len(lines)).Msg("No total found")
	return notFound()
}

func (e *Extractor) byKeyword(lines []string) (Result, bool) {
	for i, line := range lines {
		lower := strings.ToLower(line)
		if !e.isCandidate(lower) {
			continue
		}

		if m, ok := firstAmount(line); ok {
			v, err := m.parse()
			if err != nil {
				e.log.Debug().Err(err).Str("raw", m.raw).Int("line", i).Msg("Unparseable amount on keyword line")
				continue
			}
			e.log.Debug().Float64("amount", v).Int("line", i).Msg("Total found on keyword line")
			return Result{Amount: v, Found: true, Method: MethodKeyword, Line: i, Raw: m.raw}, true
		}

		if i+1 >= len(lines) || e.excluded(strings.ToLower(lines[i+1])) {
			continue
		}
		if m, ok := firstAmount(lines[i+1]); ok {
			v, err := m.parse()
			if err != nil {
				e.log.Debug().Err(err).Str("raw", m.raw).Int("line", i+1).Msg("Unparseable amount after keyword line")
				continue
			}
			e.log.Debug().Float64("amount", v).Int("line", i+1).Msg("Total found on line after keyword")
			return Result{Amount: v, Found: true, Method: MethodNextLine, Line: i + 1, Raw: m.raw}, true
		}
	}
	return Result{}, false
}

func (e *Extractor) isCandidate(lower string) bool {
	if e.excluded(lower) {
		return false
	}
	for _, kw := range e.keywords {
		if e.sim.Score(kw, lower) > e.cfg.FuzzyThreshold {
			return true
		}
	}
	return false
}

// excluded reports whether lower contains a sub-total marker.
func (e *Extractor) excluded(lower string) bool {
	for _, ex := range e.cfg.Exclusions {
		if ex != "" && strings.Contains(lower, strings.ToLower(ex)) {
			return true
		}
	}
	return false
}

func (e *Extractor) byMagnitude(lines []string) (Result, bool) {
	start := len(lines) - e.cfg.TailWindow
	if start < 0 {
		start = 0
	}

	var all, large candidates
	for i := start; i < len(lines); i++ {
		for _, m := range findAmounts(lines[i]) {
			v, err := m.parse()
			if err != nil {
				continue
			}
			all.offer(v, i, m.raw)
			if v > e.cfg.MagnitudeThreshold {
				large.offer(v, i, m.raw)
			}
		}
	}

	best := large
	if !best.ok {
		best = all
	}
	if !best.ok {
		return Result{}, false
	}
	e.log.Debug().
		Float64("amount", best.value).
		Int("line", best.line).
		Bool("above_cutoff", large.ok).
		Msg("Total taken from magnitude fallback")
	return Result{Amount: best.value, Found: true, Method: MethodFallback, Line: best.line, Raw: best.raw}, true
}

// candidates tracks the maximum value seen; ties keep the earliest.
type candidates struct {
	ok    bool
	value float64
	line  int
	raw   string
}

func (c *candidates) offer(v float64, line int, raw string) {
	if c.ok && v <= c.value {
		return
	}
	c.ok, c.value, c.line, c.raw = true, v, line, raw
}
