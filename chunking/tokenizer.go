package chunking

import (
	"unicode"
	"unicode/utf8"
)

// Token is the half-open byte range [Start, End) of one token in a text.
type Token struct {
	Start int
	End   int
}

// Tokenizer splits text into tokens that report their byte spans.
type Tokenizer interface {
	// Tokenize returns the tokens of text in order.
	// Spans never overlap and lie within text.
	Tokenize(text string) ([]Token, error)
	// Count returns the number of tokens in text, or 0 if it cannot be tokenized.
	Count(text string) int
	// Name identifies the tokenizer in logs and config.
	Name() string
}

// WordTokenizer treats letter/digit runs as tokens, every CJK ideograph or
// syllable as its own token, and every other non-space rune as its own token
// except that a run of the same rune ("-----", "...") is one token.
// It needs no model files.
type WordTokenizer struct{}

var _ Tokenizer = WordTokenizer{}

// NewWordTokenizer returns the default tokenizer.
func NewWordTokenizer() Tokenizer {
	return WordTokenizer{}
}

func (WordTokenizer) Name() string { return "word" }

func (w WordTokenizer) Tokenize(text string) ([]Token, error) {
	tokens := make([]Token, 0, len(text)/5+1)
	wordStart := -1
	repeated := rune(-1)

	flush := func(end int) {
		if wordStart >= 0 {
			tokens = append(tokens, Token{Start: wordStart, End: end})
			wordStart = -1
		}
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case unicode.IsSpace(r):
			flush(i)
		case isCJK(r):
			flush(i)
			tokens = append(tokens, Token{Start: i, End: i + size})
			i += size
			repeated = -1
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r):
			if wordStart < 0 {
				wordStart = i
			}
		default:
			flush(i)
			if last := len(tokens) - 1; last >= 0 && tokens[last].End == i && r == repeated {
				tokens[last].End = i + size
			} else {
				tokens = append(tokens, Token{Start: i, End: i + size})
				repeated = r
			}
			i += size
			continue
		}
		repeated = -1
		i += size
	}
	flush(len(text))
	return tokens, nil
}

func (w WordTokenizer) Count(text string) int {
	tokens, _ := w.Tokenize(text)
	return len(tokens)
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
