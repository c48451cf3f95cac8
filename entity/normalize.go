package entity

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	digitsPattern = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	scalePattern  = regexp.MustCompile(`(?i)^\s?(thousand|million|billion|trillion|bn|mm|k|m|b|t)\b`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

var scales = map[string]float64{
	"thousand": 1e3,
	"k":        1e3,
	"million":  1e6,
	"m":        1e6,
	"mm":       1e6,
	"billion":  1e9,
	"b":        1e9,
	"bn":       1e9,
	"trillion": 1e12,
	"t":        1e12,
}

// parseAmount reads the signed, scaled amount out of a numeric literal.
func parseAmount(literal string, scaled bool) (float64, bool) {
	loc := digitsPattern.FindStringIndex(literal)
	if loc == nil {
		return 0, false
	}

	value, err := strconv.ParseFloat(strings.ReplaceAll(literal[loc[0]:loc[1]], ",", ""), 64)
	if err != nil {
		return 0, false
	}

	if scaled {
		if m := scalePattern.FindStringSubmatch(literal[loc[1]:]); m != nil {
			value *= scales[strings.ToLower(m[1])]
		}
	}

	if strings.HasPrefix(literal, "-") || strings.HasPrefix(literal, "−") {
		value = -value
	}
	return value, true
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func normalizeCurrency(literal string) (string, bool) {
	v, ok := parseAmount(literal, true)
	if !ok {
		return "", false
	}
	return formatAmount(v), true
}

func normalizePercentage(literal string) (string, bool) {
	v, ok := parseAmount(literal, false)
	if !ok {
		return "", false
	}
	return formatAmount(v), true
}

func normalizeNumber(literal string) (string, bool) {
	return normalizePercentage(literal)
}

// canonicalTerms folds inflections and synonyms onto one term.
var canonicalTerms = map[string]string{
	"revenues":           "revenue",
	"net revenue":        "revenue",
	"net revenues":       "revenue",
	"profits":            "profit",
	"losses":             "loss",
	"margins":            "margin",
	"costs":              "cost",
	"expenses":           "expense",
	"operating expenses": "operating expense",
	"totals":             "total",
	"grew":               "growth",
	"grow":               "growth",
	"grows":              "growth",
	"grown":              "growth",
	"growing":            "growth",
	"increases":          "increase",
	"increased":          "increase",
	"increasing":         "increase",
	"decreases":          "decrease",
	"decreased":          "decrease",
	"decreasing":         "decrease",
	"declines":           "decline",
	"declined":           "decline",
	"declining":          "decline",
	"changes":            "change",
	"changed":            "change",
	"ratios":             "ratio",
	"dividends":          "dividend",
	"shares":             "share",
	"cash flows":         "cash flow",
	"earnings per share": "eps",
}

func normalizeTerm(literal string) (string, bool) {
	term := strings.ToLower(spacePattern.ReplaceAllString(strings.TrimSpace(literal), " "))
	if term == "" {
		return "", false
	}
	if canonical, ok := canonicalTerms[term]; ok {
		return canonical, true
	}
	return term, true
}
