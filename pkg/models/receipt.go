package models

import "time"

// Line is a reconstructed printed line assembled from one or more tokens.
type Line struct {
	Text       string  `json:"text"`       // member texts joined by single spaces
	Y          float64 `json:"y"`          // representative y, ascending = reading order
	Confidence float64 `json:"confidence"` // arithmetic mean of member confidences
	Tokens     int     `json:"tokens"`     // number of member tokens
}

// Scan is the outcome of one receipt pipeline run.
type Scan struct {
	// Lines are the merged lines in top-to-bottom order.
	Lines []Line `json:"lines"`

	// Total is the extracted total in major currency units, nil when none was found.
	Total *float64 `json:"total"`

	// TotalMethod tells how the total was found ("keyword", "next_line", "fallback", "none").
	TotalMethod string `json:"total_method"`

	// TotalLine is the index into Lines the total was read from, -1 if none.
	TotalLine int `json:"total_line"`

	// TokenCount is the number of OCR tokens the lines were assembled from.
	TokenCount int `json:"token_count"`

	// Engine names the OCR engine used, empty when tokens were supplied directly.
	Engine string `json:"engine,omitempty"`

	// Recorded reports whether the total was appended to the history sink.
	Recorded bool `json:"recorded"`

	ProcessedAt   time.Time     `json:"processed_at"`
	OCRDuration   time.Duration `json:"ocr_duration"`
	TotalDuration time.Duration `json:"total_duration"`
}

// LineTexts returns the text of every line in order.
func (s *Scan) LineTexts() []string {
	texts := make([]string, len(s.Lines))
	for i, l := range s.Lines {
		texts[i] = l.Text
	}
	return texts
}
