package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/finrag/ai/mock"
	"github.com/poiesic/finrag/chunking"
	"github.com/poiesic/finrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngine(t *testing.T) {
	t.Run("nil embedder", func(t *testing.T) {
		_, err := NewEngine(nil)
		assert.Equal(t, ErrEmbedderRequired, err)
	})

	t.Run("options", func(t *testing.T) {
		agg := NewAggregate()
		e, err := NewEngine(mock.NewMockEmbedder(), WithAggregate(agg), WithTokenizer(nil), WithLogger(nil))
		require.NoError(t, err)
		assert.Same(t, agg, e.Aggregate())
		assert.NotNil(t, e.tokenizer)
	})
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("identical answer and ground truth", func(t *testing.T) {
		e, err := NewEngine(mock.NewMockEmbedder())
		require.NoError(t, err)

		snap, err := e.Evaluate(ctx, Evaluation{
			ConversationID: "c1",
			Question:       "What was revenue?",
			Answer:         "Revenue was $4.5B.",
			GroundTruth:    "Revenue was $4.5B.",
			Context:        "Revenue grew 12% to $4.5B in Q3",
			Retrieved:      []string{"q3#00000", "q2#00000"},
			Relevant:       []string{"q3#00000"},
			Latency:        50 * time.Millisecond,
		})
		require.NoError(t, err)

		assert.Equal(t, "c1", snap.ConversationID)
		assert.False(t, snap.Timestamp.IsZero())
		assert.Equal(t, 2, snap.RetrievedCount)
		assert.True(t, snap.HasGroundTruth)
		assert.True(t, snap.ExactMatch)
		assert.Equal(t, core.RougeScores{Rouge1: 1, Rouge2: 1, RougeL: 1}, snap.Correctness)
		assert.InDelta(t, 1.0, snap.CosineSimilarity, 1e-6)
		assert.Equal(t, 1.0, snap.AnswerAccuracy)
		assert.True(t, snap.HasRelevant)
		assert.Equal(t, 0.5, snap.Retrieval.Precision)
		assert.Equal(t, 1.0, snap.Retrieval.Recall)
		assert.Equal(t, 1.0, snap.Retrieval.MRR)
		assert.False(t, snap.HasPreviousAnswer)
		assert.Greater(t, snap.Groundedness.Rouge1, 0.0)
		assert.Equal(t, 4, snap.QueryTokens)

		s := e.Aggregate().Summary()
		assert.Equal(t, 1.0, s["total_questions"])
		assert.Equal(t, 1.0, s["exact_match_rate"])
		assert.Equal(t, 1.0, s["avg_rouge1"])
		assert.Equal(t, 1.0, s["avg_rouge2"])
		assert.Equal(t, 1.0, s["avg_rougel"])
		assert.InDelta(t, 50, s["avg_latency_ms"], 1e-9)
	})

	t.Run("previous answer drives retention", func(t *testing.T) {
		embedder := mock.NewMockEmbedder()
		e, err := NewEngine(embedder)
		require.NoError(t, err)

		snap, err := e.Evaluate(ctx, Evaluation{
			Question:       "And in 2018?",
			Answer:         "It was $4.0B.",
			PreviousAnswer: "It was $4.0B.",
			Context:        "table",
		})
		require.NoError(t, err)
		assert.True(t, snap.HasPreviousAnswer)
		assert.InDelta(t, 1.0, snap.ContextRetention, 1e-6)
		assert.False(t, snap.HasGroundTruth)
		assert.False(t, snap.HasRelevant)
		// answer, reference and previous answer
		assert.Equal(t, 3, embedder.CallCount())
	})

	t.Run("no reference embeds only the answer", func(t *testing.T) {
		embedder := mock.NewMockEmbedder()
		e, err := NewEngine(embedder)
		require.NoError(t, err)

		snap, err := e.Evaluate(ctx, Evaluation{Question: "q", Answer: "a"})
		require.NoError(t, err)
		assert.Zero(t, snap.CosineSimilarity)
		assert.Equal(t, 1, embedder.CallCount())
	})

	t.Run("embedder failure records nothing", func(t *testing.T) {
		down := errors.New("connection refused")
		embedder := mock.NewMockEmbedder().WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
			return nil, down
		})
		e, err := NewEngine(embedder)
		require.NoError(t, err)

		_, err = e.Evaluate(ctx, Evaluation{Question: "q", Answer: "a", GroundTruth: "b"})
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrEmbeddingUnavailable)
		assert.ErrorIs(t, err, down)
		assert.Zero(t, e.Aggregate().State().Questions)
	})

	t.Run("score leaves the aggregate alone", func(t *testing.T) {
		e, err := NewEngine(mock.NewMockEmbedder())
		require.NoError(t, err)

		snap, err := e.Score(ctx, Evaluation{Question: "q", Answer: "a", GroundTruth: "a"})
		require.NoError(t, err)
		assert.True(t, snap.ExactMatch)
		assert.Zero(t, e.Aggregate().State().Questions)

		next := e.Aggregate().With(snap)
		assert.Equal(t, 1, next.Questions)
		assert.Equal(t, 1, next.ExactMatches)
		assert.Zero(t, e.Aggregate().State().Questions)

		e.Aggregate().Restore(next)
		assert.Equal(t, 1.0, e.Aggregate().Summary()["exact_match_rate"])
	})

	t.Run("custom tokenizer", func(t *testing.T) {
		tok, err := chunking.NewTokenizer("word")
		require.NoError(t, err)
		e, err := NewEngine(mock.NewMockEmbedder(), WithTokenizer(tok))
		require.NoError(t, err)

		snap, err := e.Evaluate(ctx, Evaluation{Question: "one two", Answer: "three", Context: "four five six"})
		require.NoError(t, err)
		assert.Equal(t, 2, snap.QueryTokens)
		assert.Equal(t, 3, snap.ContextTokens)
		assert.Equal(t, 1, snap.AnswerTokens)
		assert.Equal(t, 6, snap.TotalTokens())
	})
}
