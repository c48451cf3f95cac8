package entity

import (
	"regexp"

	"github.com/poiesic/finrag/core"
)

// Matcher finds entities of one type.
type Matcher struct {
	Type core.EntityType

	pattern *regexp.Regexp
	// signed matchers absorb a leading minus that is not part of a word or range
	signed    bool
	normalize func(literal string) (string, bool)
}

// amount is a plain number with optional thousands separators and decimals.
const amount = `(?:\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)`

const scale = `(?:thousand|million|billion|trillion|bn|mm|k|m|b|t)`

var (
	currencyPattern = regexp.MustCompile(
		`(?i)(?:(?:US)?\$|€|£|¥|\b(?:USD|EUR|GBP)\s?)\s?` + amount + `(?:\s?` + scale + `\b)?` +
			`|\b` + amount + `(?:\s?` + scale + `)?\s?(?:dollars|usd|euros)\b`)

	percentagePattern = regexp.MustCompile(`(?i)\b` + amount + `\s?(?:%|percent\b|per cent\b|pct\b)`)

	numberPattern = regexp.MustCompile(`\b` + amount + `\b`)

	termPattern = regexp.MustCompile(`(?i)\b(?:` +
		`net sales|net income|net revenues?|operating income|operating expenses?|` +
		`gross margin|operating margin|net margin|profit margin|` +
		`free cash flow|cash flows?|earnings per share|` +
		`revenues?|sales|income|earnings|profits?|loss(?:es)?|margins?|costs?|expenses?|totals?|` +
		`growth|grew|grow(?:s|n|ing)?|increase[sd]?|increasing|decrease[sd]?|decreasing|` +
		`decline[sd]?|declining|changes?|changed|ratios?|dividends?|ebitda|eps|` +
		`assets|liabilities|debt|equity|shares?` +
		`)\b`)
)

// DefaultMatchers returns the matchers in priority order: currency before
// percentage before number, so "$1.2B" is a currency and not a number.
func DefaultMatchers() []Matcher {
	return []Matcher{
		{Type: core.EntityCurrency, pattern: currencyPattern, signed: true, normalize: normalizeCurrency},
		{Type: core.EntityPercentage, pattern: percentagePattern, signed: true, normalize: normalizePercentage},
		{Type: core.EntityNumber, pattern: numberPattern, signed: true, normalize: normalizeNumber},
		{Type: core.EntityTerm, pattern: termPattern, normalize: normalizeTerm},
	}
}

// find returns every match of m in text.
func (m Matcher) find(text string) []core.ExtractedEntity {
	locs := m.pattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}

	found := make([]core.ExtractedEntity, 0, len(locs))
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		if m.signed {
			start = absorbSign(text, start)
		}
		literal := text[start:end]
		normalized, ok := m.normalize(literal)
		if !ok {
			continue
		}
		found = append(found, core.ExtractedEntity{
			Type:       m.Type,
			Literal:    literal,
			Normalized: normalized,
			Span:       core.Span{Start: start, End: end},
		})
	}
	return found
}

// absorbSign extends a match start over a minus sign, unless the sign joins
// two words or numbers ("2018-2019", "year-over-year").
func absorbSign(text string, start int) int {
	switch {
	case start >= 1 && text[start-1] == '-':
		if start >= 2 && isWordByte(text[start-2]) {
			return start
		}
		return start - 1
	case start >= 3 && text[start-3:start] == "−": // U+2212 minus sign
		if start >= 4 && isWordByte(text[start-4]) {
			return start
		}
		return start - 3
	}
	return start
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
