// Package fuzzy provides approximate string similarity scores tolerant of OCR noise.
//
// Scores are integers in [0, 100]. Ratio compares two strings as a whole;
// PartialRatio aligns the shorter string against every equally long substring of
// the longer one and keeps the best score, so "total" scores 100 against
// "total ttc 23,50".
package fuzzy

import (
	"math"

	"github.com/agnivade/levenshtein"
)

// Similarity scores how alike two strings are, from 0 (unrelated) to 100 (identical).
type Similarity interface {
	Score(a, b string) int
}

// SimilarityFunc adapts a plain function to the Similarity interface.
type SimilarityFunc func(a, b string) int

// Score calls f(a, b).
func (f SimilarityFunc) Score(a, b string) int {
	return f(a, b)
}

// PartialRatio is the default Similarity used for keyword matching.
type PartialRatio struct{}

// Score implements Similarity.
func (PartialRatio) Score(a, b string) int {
	return Partial(a, b)
}

// Ratio returns the normalized Levenshtein similarity of a and b.
func Ratio(a, b string) int {
	return ratioRunes([]rune(a), []rune(b))
}

// Partial returns the best Ratio of the shorter string against any substring of
// the longer string with the same length. An empty input scores 0.
func Partial(a, b string) int {
	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		return 0
	}
	if len(short) == len(long) {
		return ratioRunes(short, long)
	}

	best := 0
	for i := 0; i+len(short) <= len(long); i++ {
		score := ratioRunes(short, long[i:i+len(short)])
		if score > best {
			best = score
			if best == 100 {
				break
			}
		}
	}
	return best
}

func ratioRunes(a, b []rune) int {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(string(a), string(b))
	return int(math.Round(100 * float64(longest-dist) / float64(longest)))
}
