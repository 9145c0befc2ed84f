package fuzzy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRatio(t *testing.T) {
	assert.Equal(t, 100, Ratio("total", "total"))
	assert.Equal(t, 100, Ratio("", ""))
	assert.Equal(t, 80, Ratio("total", "tota1"))
	assert.Equal(t, 0, Ratio("abc", "xyz"))
}

func TestPartial(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"exact substring", "total", "total ttc 23.50", 100},
		{"argument order does not matter", "total ttc 23.50", "total", 100},
		{"ocr noise in keyword", "total", "t0tal ttc 23.50", 80},
		{"accented keyword", "à payer", "net à payer 12,00", 100},
		{"empty line", "total", "", 0},
		{"unrelated", "total", "15.00", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Partial(tt.a, tt.b))
		})
	}
}

func TestPartialMonotonicInAlignmentQuality(t *testing.T) {
	line := "montant total 42,10"
	exact := Partial("total", line)
	oneTypo := Partial("totel", line)
	twoTypos := Partial("tutel", line)

	assert.GreaterOrEqual(t, exact, oneTypo)
	assert.GreaterOrEqual(t, oneTypo, twoTypos)
}

func TestSimilarityFunc(t *testing.T) {
	var s Similarity = SimilarityFunc(func(a, b string) int { return len(a) + len(b) })
	assert.Equal(t, 5, s.Score("ab", "cde"))
	assert.Equal(t, 100, PartialRatio{}.Score("somme", "somme due 9,99"))
}
