// Package rows reconstructs printed receipt lines from spatially scattered OCR tokens.
//
// A single printed line is frequently recognized as several disjoint tokens at
// slightly different vertical offsets. The Assembler groups them greedily: each
// token joins the first existing row (in creation order) whose running mean y lies
// within the threshold, otherwise it starts a new row. Because the running mean
// moves with every insertion, the grouping depends on token order.
package rows

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"receipts/pkg/models"
)

// DefaultYThreshold is the maximum vertical distance, in pixels, between a token
// and a row for the token to join that row.
const DefaultYThreshold = 10.0

// ErrInvalidToken is returned for tokens that violate the OCR token contract.
var ErrInvalidToken = models.ErrInvalidToken

// ErrInvalidThreshold is returned for a negative y threshold.
var ErrInvalidThreshold = errors.New("y threshold must not be negative")

// MemberOrder selects how tokens inside a row are ordered before their text is joined.
type MemberOrder string

const (
	// OrderByX sorts row members by the horizontal centroid of their polygon.
	OrderByX MemberOrder = "x"

	// OrderByInsertion keeps row members in the order they were assigned.
	OrderByInsertion MemberOrder = "insertion"
)

// ParseMemberOrder maps a configuration string to a MemberOrder.
func ParseMemberOrder(s string) (MemberOrder, error) {
	switch MemberOrder(strings.ToLower(strings.TrimSpace(s))) {
	case OrderByX, "":
		return OrderByX, nil
	case OrderByInsertion:
		return OrderByInsertion, nil
	default:
		return "", fmt.Errorf("unknown row member order %q (want %q or %q)", s, OrderByX, OrderByInsertion)
	}
}

// Config controls row assembly.
type Config struct {
	YThreshold float64
	Order      MemberOrder
}

// DefaultConfig returns the default assembly configuration.
func DefaultConfig() Config {
	return Config{
		YThreshold: DefaultYThreshold,
		Order:      OrderByX,
	}
}

// Assembler groups OCR tokens into ordered lines. It holds no state between calls.
type Assembler struct {
	cfg Config
}

// NewAssembler validates cfg and returns an Assembler.
func NewAssembler(cfg Config) (*Assembler, error) {
	if cfg.YThreshold < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThreshold, cfg.YThreshold)
	}
	if cfg.Order == "" {
		cfg.Order = OrderByX
	}
	if _, err := ParseMemberOrder(string(cfg.Order)); err != nil {
		return nil, err
	}
	return &Assembler{cfg: cfg}, nil
}

// Config returns the assembler configuration.
func (a *Assembler) Config() Config {
	return a.cfg
}

type member struct {
	text       string
	confidence float64
	x          float64
}

type row struct {
	y       float64
	members []member
}

// Assemble clusters tokens into lines sorted top to bottom.
//
// Every token is validated first; a malformed token aborts the whole call with an
// error wrapping ErrInvalidToken.
func (a *Assembler) Assemble(tokens []models.Token) ([]models.Line, error) {
	for i, tok := range tokens {
		if err := tok.Validate(); err != nil {
			return nil, fmt.Errorf("token %d: %w", i, err)
		}
	}

	var rows []*row
	for _, tok := range tokens {
		y := tok.CenterY()
		m := member{text: tok.Text, confidence: tok.Confidence, x: tok.CenterX()}

		var matched *row
		for _, r := range rows {
			if abs(r.y-y) <= a.cfg.YThreshold {
				matched = r
				break
			}
		}

		if matched == nil {
			rows = append(rows, &row{y: y, members: []member{m}})
			continue
		}
		matched.members = append(matched.members, m)
		n := float64(len(matched.members))
		matched.y = (matched.y*(n-1) + y) / n
	}

	lines := make([]models.Line, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, a.merge(r))
	}
	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].Y < lines[j].Y
	})
	return lines, nil
}

func (a *Assembler) merge(r *row) models.Line {
	members := r.members
	if a.cfg.Order == OrderByX {
		members = make([]member, len(r.members))
		copy(members, r.members)
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].x < members[j].x
		})
	}

	texts := make([]string, len(members))
	var confSum float64
	for i, m := range members {
		texts[i] = m.text
		confSum += m.confidence
	}

	return models.Line{
		Text:       strings.Join(texts, " "),
		Y:          r.y,
		Confidence: confSum / float64(len(members)),
		Tokens:     len(members),
	}
}

// Assemble groups tokens with the default configuration and the given y threshold.
func Assemble(tokens []models.Token, yThreshold float64) ([]models.Line, error) {
	cfg := DefaultConfig()
	cfg.YThreshold = yThreshold
	a, err := NewAssembler(cfg)
	if err != nil {
		return nil, err
	}
	return a.Assemble(tokens)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
