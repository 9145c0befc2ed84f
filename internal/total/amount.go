package total

import (
	"regexp"
	"strconv"
)

// amountPattern matches an integer or a decimal amount with one or two fractional
// digits. The separator may be a comma, a period or whitespace, optionally
// surrounded by whitespace. No-break and narrow no-break spaces count as
// whitespace since French typesetting and OCR output use them around numbers.
var amountPattern = regexp.MustCompile(`(\d+)(?:[\s\x{00A0}\x{202F}]*([,.\s\x{00A0}\x{202F}])[\s\x{00A0}\x{202F}]*(\d{1,2}))?`)

// amountMatch is one amount-like substring of a line.
type amountMatch struct {
	raw   string
	whole string
	frac  string
}

// normalized returns the match with whitespace removed and a period as the
// decimal separator.
func (m amountMatch) normalized() string {
	if m.frac == "" {
		return m.whole
	}
	return m.whole + "." + m.frac
}

func (m amountMatch) parse() (float64, error) {
	return strconv.ParseFloat(m.normalized(), 64)
}

// findAmounts returns every amount-like substring of text, left to right.
func findAmounts(text string) []amountMatch {
	found := amountPattern.FindAllStringSubmatch(text, -1)
	matches := make([]amountMatch, 0, len(found))
	for _, f := range found {
		matches = append(matches, amountMatch{raw: f[0], whole: f[1], frac: f[3]})
	}
	return matches
}

// firstAmount returns the leftmost amount-like substring of text.
func firstAmount(text string) (amountMatch, bool) {
	f := amountPattern.FindStringSubmatch(text)
	if f == nil {
		return amountMatch{}, false
	}
	return amountMatch{raw: f[0], whole: f[1], frac: f[3]}, true
}

// NormalizeAmount returns the first amount found in s in canonical form
// ("23,50", "23.50" and "23 50" all become "23.50").
func NormalizeAmount(s string) (string, bool) {
	m, ok := firstAmount(s)
	if !ok {
		return "", false
	}
	return m.normalized(), true
}

// ParseAmount parses the first amount found in s.
func ParseAmount(s string) (float64, bool) {
	m, ok := firstAmount(s)
	if !ok {
		return 0, false
	}
	v, err := m.parse()
	if err != nil {
		return 0, false
	}
	return v, true
}
