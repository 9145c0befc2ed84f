package models

import (
	"errors"
	"fmt"
	"math"
)

// PolygonPoints is the number of vertices every OCR bounding polygon must carry.
const PolygonPoints = 4

// ErrInvalidToken is returned when an OCR token violates the token contract,
// e.g. a polygon that does not have exactly four finite points.
var ErrInvalidToken = errors.New("invalid OCR token")

// Point is a single polygon vertex in image pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Token is one recognized text fragment as returned by an OCR engine.
type Token struct {
	// Polygon holds the four vertices of the detected region. It is not
	// necessarily axis-aligned.
	Polygon []Point `json:"polygon"`

	// Text is the recognized string. It may be empty or noisy.
	Text string `json:"text"`

	// Confidence is the engine's own certainty estimate (0.0 to 1.0).
	Confidence float64 `json:"confidence"`
}

// Validate checks the token against the OCR token contract.
func (t Token) Validate() error {
	if len(t.Polygon) != PolygonPoints {
		return fmt.Errorf("%w: polygon has %d points, want %d", ErrInvalidToken, len(t.Polygon), PolygonPoints)
	}
	for i, p := range t.Polygon {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return fmt.Errorf("%w: point %d is not finite", ErrInvalidToken, i)
		}
	}
	return nil
}

// CenterY returns the mean y coordinate of the polygon vertices.
func (t Token) CenterY() float64 {
	return meanOf(t.Polygon, func(p Point) float64 { return p.Y })
}

// CenterX returns the mean x coordinate of the polygon vertices.
func (t Token) CenterX() float64 {
	return meanOf(t.Polygon, func(p Point) float64 { return p.X })
}

func meanOf(points []Point, coord func(Point) float64) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		sum += coord(p)
	}
	return sum / float64(len(points))
}

// RectPolygon builds an axis-aligned polygon (clockwise from top-left).
func RectPolygon(minX, minY, maxX, maxY float64) []Point {
	return []Point{
		{X: minX, Y: minY},
		{X: maxX, Y: minY},
		{X: maxX, Y: maxY},
		{X: minX, Y: maxY},
	}
}
