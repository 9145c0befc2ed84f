package ocr

import (
	"encoding/json"
	"fmt"
	"io"

	"receipts/pkg/models"
)

// tokenRecord is the on-disk form of a token: the polygon is a list of [x, y]
// pairs, as most OCR tools dump it.
type tokenRecord struct {
	Polygon    [][]float64 `json:"polygon"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
}

// ReadTokens decodes a JSON array of tokens and validates every one of them.
func ReadTokens(r io.Reader) ([]models.Token, error) {
	var records []tokenRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode tokens: %w", err)
	}

	tokens := make([]models.Token, 0, len(records))
	for i, rec := range records {
		tok := models.Token{Text: rec.Text, Confidence: rec.Confidence}
		for j, pair := range rec.Polygon {
			if len(pair) != 2 {
				return nil, fmt.Errorf("token %d: %w: point %d has %d coordinates", i, ErrInvalidToken, j, len(pair))
			}
			tok.Polygon = append(tok.Polygon, models.Point{X: pair[0], Y: pair[1]})
		}
		if err := tok.Validate(); err != nil {
			return nil, fmt.Errorf("token %d: %w", i, err)
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

// WriteTokens encodes tokens in the format read by ReadTokens.
func WriteTokens(w io.Writer, tokens []models.Token) error {
	records := make([]tokenRecord, len(tokens))
	for i, tok := range tokens {
		rec := tokenRecord{Text: tok.Text, Confidence: tok.Confidence}
		for _, p := range tok.Polygon {
			rec.Polygon = append(rec.Polygon, []float64{p.X, p.Y})
		}
		records[i] = rec
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}
