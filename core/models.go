package core

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a content-derived identifier.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// Identical content always produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Source describes where a Document came from.
type Source struct {
	Filename string `json:"filename,omitempty"`
	Section  string `json:"section,omitempty"`
}

// Document is a unit of source text. It is immutable once ingested.
type Document struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Source      Source `json:"source"`
	Fingerprint ID     `json:"fingerprint"` // IDFromContent(Text), populated by NewDocument
}

// NewDocument builds a Document and computes its fingerprint.
func NewDocument(id, text string, source Source) Document {
	return Document{
		ID:          id,
		Text:        text,
		Source:      source,
		Fingerprint: IDFromContent(text),
	}
}

// Chunk is a contiguous span of a Document used as a retrieval unit.
// Text always equals the parent document's Text[StartOffset:EndOffset].
type Chunk struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	Sequence    int    `json:"sequence"`
	Text        string `json:"text"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	TokenCount  int    `json:"token_count"`
	Oversized   bool   `json:"oversized,omitempty"` // holds a table block larger than the token bound
}

// ChunkID formats the identifier of the seq-th chunk of a document.
// The zero padding keeps lexical order equal to document order.
func ChunkID(documentID string, seq int) string {
	return fmt.Sprintf("%s#%05d", documentID, seq)
}

// Embedding is a fixed-dimension vector representation of a text.
type Embedding []float32

// IndexEntry pairs a chunk with its embedding inside the vector index.
type IndexEntry struct {
	ChunkID string
	Vector  Embedding
}

// EntityType classifies an extracted entity.
type EntityType string

const (
	EntityCurrency   EntityType = "currency"
	EntityPercentage EntityType = "percentage"
	EntityNumber     EntityType = "number"
	EntityTerm       EntityType = "term"
)

// IsNumeric reports whether entities of this type carry an amount.
func (t EntityType) IsNumeric() bool {
	return t == EntityCurrency || t == EntityPercentage || t == EntityNumber
}

// Span is a half-open byte range [Start, End) within a text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the span length in bytes.
func (s Span) Len() int {
	return s.End - s.Start
}

// Overlaps reports whether two spans share at least one byte.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// ExtractedEntity is a financial entity found in a text.
type ExtractedEntity struct {
	Type       EntityType `json:"type"`
	Literal    string     `json:"literal"`
	Normalized string     `json:"normalized"`
	Span       Span       `json:"span"`
}

// Key identifies an entity for overlap comparisons.
func (e ExtractedEntity) Key() string {
	return string(e.Type) + ":" + e.Normalized
}

// RetrievalCandidate is one ranked result of a hybrid retrieval.
type RetrievalCandidate struct {
	ChunkID       string  `json:"chunk_id"`
	VectorScore   float64 `json:"vector_score"`
	EntityScore   float64 `json:"entity_score"`
	CombinedScore float64 `json:"combined_score"`
	Rank          int     `json:"rank"`
	Chunk         *Chunk  `json:"chunk,omitempty"`
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one message of a conversation as seen by the retriever.
type ConversationTurn struct {
	Role              Role      `json:"role"`
	Text              string    `json:"text"`
	RetrievedChunkIDs []string  `json:"retrieved_chunk_ids,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// RetrievalScores holds ranking quality against ground-truth chunk ids.
type RetrievalScores struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	NDCG      float64 `json:"ndcg"`
	MRR       float64 `json:"mrr"`
}

// RougeScores holds ROUGE F-measures.
type RougeScores struct {
	Rouge1 float64 `json:"rouge1"`
	Rouge2 float64 `json:"rouge2"`
	RougeL float64 `json:"rougeL"`
}

// MetricsSnapshot is the immutable record of scores for one query/answer pair.
// Optional groups are only meaningful when their Has* flag is set.
type MetricsSnapshot struct {
	ConversationID string        `json:"conversation_id"`
	Question       string        `json:"question"`
	Timestamp      time.Time     `json:"timestamp"`
	Latency        time.Duration `json:"latency"`
	RetrievedCount int           `json:"retrieved_count"`

	HasRelevant bool            `json:"has_relevant"`
	Retrieval   RetrievalScores `json:"retrieval"`

	Groundedness RougeScores `json:"groundedness"`

	HasGroundTruth bool        `json:"has_ground_truth"`
	Correctness    RougeScores `json:"correctness"`
	ExactMatch     bool        `json:"exact_match"`

	CosineSimilarity float64 `json:"cosine_similarity"`
	AnswerAccuracy   float64 `json:"answer_accuracy"`

	HasPreviousAnswer bool    `json:"has_previous_answer"`
	ContextRetention  float64 `json:"context_retention"`

	QueryTokens   int `json:"query_tokens"`
	ContextTokens int `json:"context_tokens"`
	AnswerTokens  int `json:"answer_tokens"`
}

// TotalTokens returns the tokens consumed by the query, its context and the answer.
func (s MetricsSnapshot) TotalTokens() int {
	return s.QueryTokens + s.ContextTokens + s.AnswerTokens
}

// AggregateState holds the counters and running sums behind a metrics summary.
// Sums are divided by their matching count when the summary is read.
type AggregateState struct {
	Questions            int `json:"questions"`
	SuccessfulRetrievals int `json:"successful_retrievals"`
	WithRelevant         int `json:"with_relevant"`
	WithGroundTruth      int `json:"with_ground_truth"`
	WithPreviousAnswer   int `json:"with_previous_answer"`
	ExactMatches         int `json:"exact_matches"`

	Retrieval    RetrievalScores `json:"retrieval"`
	Correctness  RougeScores     `json:"correctness"`
	Groundedness RougeScores     `json:"groundedness"`

	CosineSimilarity float64 `json:"cosine_similarity"`
	AnswerAccuracy   float64 `json:"answer_accuracy"`
	ContextRetention float64 `json:"context_retention"`
	LatencyMillis    float64 `json:"latency_ms"`
	Tokens           int     `json:"tokens"`
}
