package storage

import (
	"testing"
	"time"

	"github.com/poiesic/finrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalID(t *testing.T) {
	tests := []struct {
		name string
		id   core.ID
	}{
		{"zero ID", core.ID(0)},
		{"small ID", core.ID(42)},
		{"large ID", core.ID(18446744073709551615)}, // max uint64
		{"content-based ID", core.IDFromContent("test content")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := MarshalID(tt.id)
			require.Len(t, data, 8)

			decoded, err := UnmarshalID(data)
			require.NoError(t, err)
			assert.Equal(t, tt.id, decoded)
		})
	}
}

func TestUnmarshalID_Invalid(t *testing.T) {
	_, err := UnmarshalID([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrTruncatedData)
}

func TestMarshalUnmarshalChunk(t *testing.T) {
	chunk := &core.Chunk{
		ID:          "10k#00003",
		DocumentID:  "10k",
		Sequence:    3,
		Text:        "net income | $103,102",
		StartOffset: 120,
		EndOffset:   141,
		TokenCount:  7,
		Oversized:   true,
	}

	decoded, err := UnmarshalChunk(MarshalChunk(chunk))
	require.NoError(t, err)
	assert.Equal(t, chunk, decoded)
}

func TestMarshalUnmarshalDocument(t *testing.T) {
	doc := core.NewDocument("10k", "Revenue grew 12%.", core.Source{Filename: "train.json", Section: "10k"})

	decoded, err := UnmarshalDocument(MarshalDocument(&doc))
	require.NoError(t, err)
	assert.Equal(t, &doc, decoded)
}

func TestMarshalUnmarshalTurn(t *testing.T) {
	t.Run("keeps nanoseconds and chunk ids", func(t *testing.T) {
		turn := core.ConversationTurn{
			Role:              core.RoleAssistant,
			Text:              "Revenue grew 12%.",
			RetrievedChunkIDs: []string{"q3#00000", "q3#00001"},
			Timestamp:         time.Date(2026, 3, 4, 5, 6, 7, 891011, time.UTC),
		}

		decoded, err := UnmarshalTurn(MarshalTurn(&turn))
		require.NoError(t, err)
		assert.Equal(t, turn, decoded)
	})

	t.Run("zero timestamp and no chunk ids", func(t *testing.T) {
		turn := core.ConversationTurn{Role: core.RoleUser, Text: "Why?"}

		decoded, err := UnmarshalTurn(MarshalTurn(&turn))
		require.NoError(t, err)
		assert.Equal(t, turn, decoded)
		assert.True(t, decoded.Timestamp.IsZero())
	})
}

func TestUnmarshalSnapshotKeepsTimestamps(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	snap := core.MetricsSnapshot{
		ConversationID: "c1",
		Question:       "what was revenue?",
		Timestamp:      now,
		Latency:        1500 * time.Millisecond,
		HasRelevant:    true,
		Retrieval:      core.RetrievalScores{Precision: 0.5, Recall: 1, F1: 2.0 / 3, NDCG: 0.63, MRR: 1},
		HasGroundTruth: true,
		Correctness:    core.RougeScores{Rouge1: 1, Rouge2: 1, RougeL: 1},
		ExactMatch:     true,
		QueryTokens:    4,
	}

	decoded, err := UnmarshalSnapshot(MarshalSnapshot(&snap))
	require.NoError(t, err)
	assert.True(t, decoded.Timestamp.Equal(now))
	assert.Equal(t, snap.Latency, decoded.Latency)
	assert.Equal(t, snap.Retrieval, decoded.Retrieval)
	assert.Equal(t, snap.Correctness, decoded.Correctness)
	assert.Equal(t, 4, decoded.QueryTokens)
}

func TestMarshalUnmarshalAggregate(t *testing.T) {
	state := core.AggregateState{
		Questions:        3,
		WithGroundTruth:  2,
		ExactMatches:     1,
		Correctness:      core.RougeScores{Rouge1: 1.5, Rouge2: 1, RougeL: 1.25},
		CosineSimilarity: 2.4,
		LatencyMillis:    361.5,
		Tokens:           912,
	}

	decoded, err := UnmarshalAggregate(MarshalAggregate(&state))
	require.NoError(t, err)
	assert.Equal(t, state, decoded)
}

func TestUnmarshal_Invalid(t *testing.T) {
	chunk := MarshalChunk(&core.Chunk{ID: "d#00000", DocumentID: "d", Text: "revenue"})
	_, err := UnmarshalChunk(chunk[:len(chunk)-3])
	assert.ErrorIs(t, err, ErrSerializationFailed)

	_, err = UnmarshalAggregate(nil)
	assert.ErrorIs(t, err, ErrSerializationFailed)
}
