package metrics

import (
	"math"
	"regexp"
	"slices"
	"strings"

	"github.com/poiesic/finrag/core"
)

// tokenPattern splits text into word runs and sentence punctuation.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]+|[.,!?;]`)

// accuracyCosine and accuracyRouge are the thresholds above which an
// answer counts as accurate.
const (
	accuracyCosine = 0.8
	accuracyRouge  = 0.5
)

// trailingPunct is stripped from the end of normalized answers.
const trailingPunct = ".,!?;: "

func rougeTokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// Rouge returns the ROUGE-1, ROUGE-2 and ROUGE-L F-measures of candidate
// against reference.
func Rouge(candidate, reference string) core.RougeScores {
	cand := rougeTokens(candidate)
	ref := rougeTokens(reference)
	if len(cand) == 0 || len(ref) == 0 {
		return core.RougeScores{}
	}
	// single-token answers have no bigrams
	if slices.Equal(cand, ref) {
		return core.RougeScores{Rouge1: 1, Rouge2: 1, RougeL: 1}
	}

	return core.RougeScores{
		Rouge1: rougeN(cand, ref, 1),
		Rouge2: rougeN(cand, ref, 2),
		RougeL: fmeasure(lcs(cand, ref), len(cand), len(ref)),
	}
}

func ngrams(tokens []string, n int) map[string]int {
	counts := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		counts[strings.Join(tokens[i:i+n], " ")]++
	}
	return counts
}

func rougeN(cand, ref []string, n int) float64 {
	candGrams := ngrams(cand, n)
	refGrams := ngrams(ref, n)

	overlap, candTotal, refTotal := 0, 0, 0
	for gram, c := range candGrams {
		candTotal += c
		overlap += min(c, refGrams[gram])
	}
	for _, c := range refGrams {
		refTotal += c
	}
	return fmeasure(overlap, candTotal, refTotal)
}

func fmeasure(overlap, candTotal, refTotal int) float64 {
	if overlap == 0 || candTotal == 0 || refTotal == 0 {
		return 0
	}
	precision := float64(overlap) / float64(candTotal)
	recall := float64(overlap) / float64(refTotal)
	return 2 * precision * recall / (precision + recall)
}

// lcs is the length of the longest common subsequence.
func lcs(a, b []string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else {
				curr[j] = max(prev[j], curr[j-1])
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Zero-length, zero-norm or mismatched vectors give 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return max(-1, min(1, dot/(math.Sqrt(na)*math.Sqrt(nb))))
}

// NormalizeAnswer case-folds s, collapses whitespace and strips trailing
// punctuation.
func NormalizeAnswer(s string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	return strings.TrimRight(s, trailingPunct)
}

// ExactMatch reports whether two answers are equal after NormalizeAnswer.
func ExactMatch(answer, reference string) bool {
	return NormalizeAnswer(answer) == NormalizeAnswer(reference)
}

// AnswerAccuracy is 1 when the answer is semantically close to the reference
// or shares most of its words, else 0.
func AnswerAccuracy(cosine, rouge1 float64) float64 {
	if cosine > accuracyCosine || rouge1 > accuracyRouge {
		return 1
	}
	return 0
}
