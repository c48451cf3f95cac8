// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package chunking

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/poiesic/finrag/core"
)

const (
	DefaultMaxTokens     = 500
	DefaultOverlapTokens = 100
)

// Break priorities, highest first.
const (
	breakToken = iota
	breakSpace
	breakSentence
	breakParagraph
)

// Chunker splits documents into overlapping, token-bounded chunks.
// A Chunker is immutable after New and safe for concurrent use.
type Chunker struct {
	maxTokens     int
	overlapTokens int
	tokenizer     Tokenizer
	logger        *slog.Logger
}

// Option configures a Chunker.
type Option func(*Chunker) error

// WithMaxTokens sets the token bound of a chunk.
// Default is 500.
func WithMaxTokens(n int) Option {
	return func(c *Chunker) error {
		c.maxTokens = n
		return nil
	}
}

// WithOverlapTokens sets how many tokens consecutive chunks share.
// Default is 100.
func WithOverlapTokens(n int) Option {
	return func(c *Chunker) error {
		c.overlapTokens = n
		return nil
	}
}

// WithTokenizer sets the tokenizer.
// Default is the WordTokenizer.
func WithTokenizer(t Tokenizer) Option {
	return func(c *Chunker) error {
		if t == nil {
			return fmt.Errorf("%w: tokenizer is nil", core.ErrInvalidArgument)
		}
		c.tokenizer = t
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chunker) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger.With("component", "chunker")
		return nil
	}
}

// New creates a Chunker. Fails with core.ErrInvalidArgument unless
// 0 <= overlap < max.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		maxTokens:     DefaultMaxTokens,
		overlapTokens: DefaultOverlapTokens,
		tokenizer:     NewWordTokenizer(),
		logger:        slog.Default().With("component", "chunker"),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.maxTokens <= 0 {
		return nil, fmt.Errorf("%w: max chunk tokens must be positive, got %d", core.ErrInvalidArgument, c.maxTokens)
	}
	if c.overlapTokens < 0 || c.overlapTokens >= c.maxTokens {
		return nil, fmt.Errorf("%w: overlap tokens must be in [0, %d), got %d",
			core.ErrInvalidArgument, c.maxTokens, c.overlapTokens)
	}
	return c, nil
}

// Tokenizer returns the tokenizer used to bound chunks.
func (c *Chunker) Tokenizer() Tokenizer {
	return c.tokenizer
}

// Chunk splits doc into chunks. The first chunk starts at offset 0, the last
// ends at len(doc.Text), and each chunk begins exactly overlap tokens before
// the end of the previous one. No chunk ends inside a table block; a table
// block too large for one chunk is kept whole in a chunk flagged Oversized.
// No chunk starts inside a table block either: when the overlap would begin
// inside one, the next chunk starts after that block, sharing fewer tokens.
func (c *Chunker) Chunk(doc core.Document) ([]core.Chunk, error) {
	text := doc.Text
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: document %q is empty", core.ErrChunking, doc.ID)
	}
	if !utf8.ValidString(text) || strings.IndexByte(text, 0) >= 0 {
		return nil, fmt.Errorf("%w: document %q is not text", core.ErrChunking, doc.ID)
	}

	tokens, err := c.tokenizer.Tokenize(text)
	if err != nil {
		return nil, fmt.Errorf("%w: tokenizing document %q: %w", core.ErrChunking, doc.ID, err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: document %q produced no tokens", core.ErrChunking, doc.ID)
	}

	s := &splitter{
		text:   text,
		tokens: tokens,
		owner:  assignBlocks(tokens, findTableBlocks(text)),
		max:    c.maxTokens,
	}

	var chunks []core.Chunk
	start := 0
	for {
		end, oversized := s.nextEnd(start, c.overlapTokens)

		startOffset := 0
		if start > 0 {
			startOffset = tokens[start].Start
		}
		endOffset := len(text)
		if end < len(tokens) {
			endOffset = tokens[end].Start
		}

		seq := len(chunks)
		chunks = append(chunks, core.Chunk{
			ID:          core.ChunkID(doc.ID, seq),
			DocumentID:  doc.ID,
			Sequence:    seq,
			Text:        text[startOffset:endOffset],
			StartOffset: startOffset,
			EndOffset:   endOffset,
			TokenCount:  end - start,
			Oversized:   oversized,
		})
		if oversized {
			c.logger.Warn("table block exceeds chunk bound", "document", doc.ID, "chunk", seq, "tokens", end-start)
		}

		if end == len(tokens) {
			break
		}
		start = s.nextStart(end, c.overlapTokens)
	}

	c.logger.Debug("chunked document", "document", doc.ID, "tokens", len(tokens), "chunks", len(chunks))
	return chunks, nil
}

// splitter holds the per-document state of one Chunk call.
type splitter struct {
	text   string
	tokens []Token
	owner  []int // table block of each token, -1 outside tables
	max    int
}

// nextEnd picks the exclusive end token of the chunk starting at start.
// Candidates lie in (start+overlap, start+max] so the next chunk always
// advances. Breaks in the back half of the window win, then higher priority,
// then later position.
func (s *splitter) nextEnd(start, overlap int) (int, bool) {
	n := len(s.tokens)
	if n-start <= s.max {
		return n, false
	}

	lo := start + overlap + 1
	hi := start + s.max
	mid := start + s.max/2

	best, bestPriority, bestBack := -1, -1, false
	for e := hi; e >= lo; e-- {
		if !s.allowed(e) {
			continue
		}
		p := s.priority(e)
		back := e >= mid
		if best < 0 || (back && !bestBack) || (back == bestBack && p > bestPriority) {
			best, bestPriority, bestBack = e, p, back
		}
	}
	if best >= 0 {
		return best, false
	}

	// Only a table block spans the window: keep it whole.
	for e := hi + 1; e < n; e++ {
		if s.allowed(e) {
			return e, true
		}
	}
	return n, true
}

// nextStart returns the first token of the chunk after one ending before
// end, moved past the table block the overlap would otherwise begin in.
func (s *splitter) nextStart(end, overlap int) int {
	start := end - overlap
	b := s.owner[start]
	if b < 0 {
		return start
	}
	for start < end && s.owner[start] == b {
		start++
	}
	return start
}

// allowed reports whether a chunk may end before token e.
func (s *splitter) allowed(e int) bool {
	return s.owner[e-1] < 0 || s.owner[e-1] != s.owner[e]
}

// priority classifies the break before token e.
func (s *splitter) priority(e int) int {
	if s.owner[e-1] != s.owner[e] {
		return breakParagraph
	}

	prev, next := s.tokens[e-1], s.tokens[e]

	// Tokens may carry their own surrounding whitespace (BPE), so the separator
	// runs from the last visible byte of prev to the first visible byte of next.
	a := prev.End
	for a > prev.Start && isSpaceByte(s.text[a-1]) {
		a--
	}
	b := next.Start
	for b < next.End && isSpaceByte(s.text[b]) {
		b++
	}
	sep := s.text[a:b]

	switch newlines := strings.Count(sep, "\n"); {
	case newlines >= 2:
		return breakParagraph
	case newlines == 1:
		return breakSentence
	}
	if sep == "" {
		return breakToken
	}
	if r, _ := utf8.DecodeLastRuneInString(s.text[prev.Start:a]); isSentenceEnd(r) {
		return breakSentence
	}
	return breakSpace
}

func isSpaceByte(b byte) bool {
	return b < utf8.RuneSelf && unicode.IsSpace(rune(b))
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}
