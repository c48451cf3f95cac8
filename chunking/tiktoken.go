package chunking

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

// TiktokenTokenizer counts tokens the way OpenAI models do.
// Loading an encoding may download its BPE ranks on first use.
type TiktokenTokenizer struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

var _ Tokenizer = (*TiktokenTokenizer)(nil)

// NewTiktokenTokenizer loads the named encoding, DefaultEncoding when empty.
func NewTiktokenTokenizer(encoding string) (*TiktokenTokenizer, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("loading tiktoken encoding %q: %w", encoding, err)
	}
	return &TiktokenTokenizer{encoding: encoding, enc: enc}, nil
}

func (t *TiktokenTokenizer) Name() string { return "tiktoken:" + t.encoding }

// Tokenize recovers byte spans by decoding each token on its own.
// A token may carry part of a multi-byte rune; spans still tile the text.
func (t *TiktokenTokenizer) Tokenize(text string) ([]Token, error) {
	ids := t.enc.Encode(text, nil, nil)
	tokens := make([]Token, 0, len(ids))

	offset := 0
	for _, id := range ids {
		n := len(t.enc.Decode([]int{id}))
		if n == 0 {
			continue
		}
		tokens = append(tokens, Token{Start: offset, End: offset + n})
		offset += n
	}
	if offset != len(text) {
		return nil, fmt.Errorf("tiktoken spans cover %d of %d bytes", offset, len(text))
	}
	return tokens, nil
}

func (t *TiktokenTokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// NewTokenizer returns the tokenizer registered under name: "word" (or empty)
// or "tiktoken", optionally with an encoding suffix ("tiktoken:p50k_base").
func NewTokenizer(name string) (Tokenizer, error) {
	switch name {
	case "", "word":
		return NewWordTokenizer(), nil
	case "tiktoken":
		return NewTiktokenTokenizer("")
	}
	if encoding, ok := strings.CutPrefix(name, "tiktoken:"); ok && encoding != "" {
		return NewTiktokenTokenizer(encoding)
	}
	return nil, fmt.Errorf("unknown tokenizer %q", name)
}
