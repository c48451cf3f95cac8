package finrag

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/poiesic/finrag/ai/mock"
	"github.com/poiesic/finrag/config"
	"github.com/poiesic/finrag/core"
	"github.com/poiesic/finrag/index"
	"github.com/poiesic/finrag/storage"
	"github.com/poiesic/finrag/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEngine struct {
	*Engine
	embedder  *mock.MockEmbedder
	generator *mock.MockGenerator
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Index.Dir = t.TempDir()
	cfg.Storage.Dir = t.TempDir()
	cfg.Retrieval.TopK = 2
	return cfg
}

func memoryRepositories(t *testing.T) *badger.Repositories {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	return repos
}

// openTestEngine opens an engine over repos with mock AI services. A nil repos
// gets fresh in-memory stores.
func openTestEngine(t *testing.T, cfg *config.Config, ix *index.Index, repos *badger.Repositories, opts ...EngineOption) *testEngine {
	t.Helper()
	if repos == nil {
		repos = memoryRepositories(t)
	}

	embedder := mock.NewMockEmbedder()
	generator := mock.NewMockGenerator("Revenue grew 12%.")
	opts = append([]EngineOption{
		WithProvider(mock.NewMockProviderWithServices(embedder, generator)),
		WithRepositories(repos),
		WithIndex(ix),
	}, opts...)

	e, err := Open(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return &testEngine{Engine: e, embedder: embedder, generator: generator}
}

// pinQuery makes every query embed to the vector of text.
func (e *testEngine) pinQuery(text string) {
	e.embedder.WithEmbedTextFunc(func(ctx context.Context, _ string) ([]float32, error) {
		return mock.DeterministicVector(text, mock.DefaultDimension), nil
	})
}

const q3Text = "Revenue grew 12% to $4.5B in Q3"

func sampleIndex(t *testing.T) *index.Index {
	t.Helper()
	chunks := []core.Chunk{
		{ID: "q3#00000", DocumentID: "q3", Text: q3Text},
		{ID: "costs#00000", DocumentID: "costs", Text: "Operating costs were flat at $2.1B."},
		{ID: "misc#00000", DocumentID: "misc", Text: "The company moved its headquarters."},
	}
	embeddings := make([]core.Embedding, len(chunks))
	for i, c := range chunks {
		embeddings[i] = mock.DeterministicVector(c.Text, mock.DefaultDimension)
	}
	ix, err := index.Build(chunks, embeddings)
	require.NoError(t, err)
	return ix
}

func TestOpen(t *testing.T) {
	t.Run("empty index when none persisted", func(t *testing.T) {
		e := openTestEngine(t, testConfig(t), nil, nil)
		assert.Zero(t, e.Index().Len())
		assert.NotNil(t, e.Repositories())
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Retrieval.Alpha = 2
		_, err := Open(context.Background(), cfg, WithProvider(mock.NewMockProvider()))
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})

	t.Run("corrupt index", func(t *testing.T) {
		cfg := testConfig(t)
		require.NoError(t, sampleIndex(t).Persist(context.Background(), cfg.Index.Dir))
		cfg.AI.Dimension = 3

		_, err := Open(context.Background(), cfg, WithProvider(mock.NewMockProvider()), WithRepositories(memoryRepositories(t)))
		assert.ErrorIs(t, err, core.ErrIndexCorrupt)
	})

	t.Run("loads persisted index", func(t *testing.T) {
		cfg := testConfig(t)
		require.NoError(t, sampleIndex(t).Persist(context.Background(), cfg.Index.Dir))
		e := openTestEngine(t, cfg, nil, nil)
		assert.Equal(t, 3, e.Index().Len())
	})
}

func TestAsk(t *testing.T) {
	ctx := context.Background()

	t.Run("answers with sources and metrics", func(t *testing.T) {
		e := openTestEngine(t, testConfig(t), sampleIndex(t), nil)
		e.pinQuery(q3Text)

		answer, err := e.Ask(ctx, "", "What was Q3 revenue growth?", &AskOptions{
			GroundTruth:      "Revenue grew 12%.",
			RelevantChunkIDs: []string{"q3#00000"},
		})
		require.NoError(t, err)

		assert.NotEmpty(t, answer.ConversationID)
		assert.Equal(t, "Revenue grew 12%.", answer.Answer)
		assert.False(t, answer.NoContext)
		require.Len(t, answer.Sources, 2)
		assert.Equal(t, "q3#00000", answer.Sources[0].ChunkID)
		assert.True(t, answer.Metrics.ExactMatch)
		assert.Equal(t, 1.0, answer.Metrics.Retrieval.Recall)

		prompt := e.generator.LastPrompt()
		assert.Contains(t, prompt, "Revenue grew 12% to $4.5B in Q3")
		assert.Contains(t, prompt, "Current Question: What was Q3 revenue growth?")
		assert.Contains(t, prompt, "No previous conversation.")

		summary := e.Metrics()
		assert.Equal(t, 1.0, summary["total_questions"])
		assert.Equal(t, 1.0, summary["exact_match_rate"])

		turns, err := e.repos.Turns.GetTurns(ctx, answer.ConversationID, 0)
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, core.RoleUser, turns[0].Role)
		assert.Equal(t, core.RoleAssistant, turns[1].Role)
		assert.Equal(t, []string{"q3#00000", answer.Sources[1].ChunkID}, turns[1].RetrievedChunkIDs)

		snapshots, err := e.repos.Metrics.GetSnapshots(ctx, answer.ConversationID)
		require.NoError(t, err)
		assert.Len(t, snapshots, 1)

		state, err := e.repos.Metrics.LoadAggregate(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, state.Questions)
	})

	t.Run("follow-up sees history", func(t *testing.T) {
		e := openTestEngine(t, testConfig(t), sampleIndex(t), nil)

		first, err := e.Ask(ctx, "conv-1", "What was Q3 revenue growth?", nil)
		require.NoError(t, err)
		second, err := e.Ask(ctx, "conv-1", "And the costs?", nil)
		require.NoError(t, err)
		assert.Equal(t, first.ConversationID, second.ConversationID)

		prompt := e.generator.LastPrompt()
		assert.Contains(t, prompt, "User: What was Q3 revenue growth?")
		assert.Contains(t, prompt, "Assistant: Revenue grew 12%.")
		assert.True(t, second.Metrics.HasPreviousAnswer)

		summary, err := e.ConversationMetrics(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, 2.0, summary["total_questions"])
	})

	t.Run("window restored from the turn log", func(t *testing.T) {
		cfg := testConfig(t)
		repos := memoryRepositories(t)
		require.NoError(t, repos.Turns.AppendTurns(ctx, "conv-2",
			core.ConversationTurn{Role: core.RoleUser, Text: "What was net income?"},
			core.ConversationTurn{Role: core.RoleAssistant, Text: "Net income was $1M."}))

		e := openTestEngine(t, cfg, sampleIndex(t), repos)
		_, err := e.Ask(ctx, "conv-2", "Why?", nil)
		require.NoError(t, err)
		assert.Contains(t, e.generator.LastPrompt(), "Assistant: Net income was $1M.")
	})

	t.Run("empty index answers without context", func(t *testing.T) {
		e := openTestEngine(t, testConfig(t), nil, nil)

		answer, err := e.Ask(ctx, "", "What was Q3 revenue growth?", nil)
		require.NoError(t, err)
		assert.True(t, answer.NoContext)
		assert.Empty(t, answer.Sources)
		assert.Contains(t, e.generator.LastPrompt(), "No context was found")
	})

	t.Run("empty question", func(t *testing.T) {
		e := openTestEngine(t, testConfig(t), sampleIndex(t), nil)
		_, err := e.Ask(ctx, "", "   ", nil)
		assert.ErrorIs(t, err, core.ErrInvalidArgument)
	})

	t.Run("generation failure records nothing", func(t *testing.T) {
		e := openTestEngine(t, testConfig(t), sampleIndex(t), nil)
		e.generator.GenerateFunc = func(ctx context.Context, prompt, retrieved string) (string, error) {
			return "", errors.New("model offline")
		}

		_, err := e.Ask(ctx, "conv-3", "What was Q3 revenue growth?", nil)
		assert.ErrorIs(t, err, core.ErrGenerationUnavailable)
		assert.Zero(t, e.Metrics()["total_questions"])

		turns, err := e.repos.Turns.GetTurns(ctx, "conv-3", 0)
		require.NoError(t, err)
		assert.Empty(t, turns)
	})

	t.Run("embedding failure", func(t *testing.T) {
		e := openTestEngine(t, testConfig(t), sampleIndex(t), nil)
		e.embedder.WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
			return nil, errors.New("connection refused")
		})

		_, err := e.Ask(ctx, "", "What was Q3 revenue growth?", nil)
		assert.ErrorIs(t, err, core.ErrEmbeddingUnavailable)
		assert.Zero(t, e.generator.CallCount())
	})
}

type failingTurns struct {
	storage.TurnRepository
}

func (failingTurns) AppendTurns(context.Context, string, ...core.ConversationTurn) error {
	return errors.New("disk full")
}

type failingAggregate struct {
	storage.MetricsRepository
}

func (failingAggregate) SaveAggregate(context.Context, core.AggregateState) error {
	return errors.New("disk full")
}

func TestAskRecordFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("turn log failure keeps window and aggregate", func(t *testing.T) {
		e := openTestEngine(t, testConfig(t), sampleIndex(t), nil)
		_, err := e.Ask(ctx, "conv-4", "What was Q3 revenue growth?", nil)
		require.NoError(t, err)

		e.repos.Turns = failingTurns{TurnRepository: e.repos.Turns}
		_, err = e.Ask(ctx, "conv-4", "And the costs?", nil)
		assert.ErrorContains(t, err, "disk full")

		w, err := e.window(ctx, "conv-4")
		require.NoError(t, err)
		assert.Len(t, w.Turns(), 2)
		assert.Equal(t, 1.0, e.Metrics()["total_questions"])

		snapshots, err := e.repos.Metrics.GetSnapshots(ctx, "conv-4")
		require.NoError(t, err)
		assert.Len(t, snapshots, 1)
	})

	t.Run("aggregate save failure keeps the running aggregate", func(t *testing.T) {
		e := openTestEngine(t, testConfig(t), sampleIndex(t), nil)
		e.repos.Metrics = failingAggregate{MetricsRepository: e.repos.Metrics}

		_, err := e.Ask(ctx, "conv-5", "What was Q3 revenue growth?", nil)
		assert.ErrorContains(t, err, "disk full")
		assert.Zero(t, e.Metrics()["total_questions"])
	})
}

func TestRetrieve(t *testing.T) {
	e := openTestEngine(t, testConfig(t), sampleIndex(t), nil)
	e.pinQuery(q3Text)

	results, err := e.Retrieve(context.Background(), "c", "What was Q3 revenue growth?")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "q3#00000", results[0].ChunkID)

	_, err = e.Retrieve(context.Background(), "c", "")
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestMetricsLifecycle(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	repos := memoryRepositories(t)

	e := openTestEngine(t, cfg, sampleIndex(t), repos)
	_, err := e.Ask(ctx, "", "What was Q3 revenue growth?", nil)
	require.NoError(t, err)

	t.Run("restore from saved aggregate", func(t *testing.T) {
		other := memoryRepositories(t)
		state, err := repos.Metrics.LoadAggregate(ctx)
		require.NoError(t, err)
		require.NoError(t, other.Metrics.SaveAggregate(ctx, state))

		restored := openTestEngine(t, cfg, sampleIndex(t), other, WithRestoredMetrics(true))
		assert.Equal(t, 1.0, restored.Metrics()["total_questions"])

		fresh := openTestEngine(t, cfg, sampleIndex(t), nil)
		assert.Zero(t, fresh.Metrics()["total_questions"])
	})

	t.Run("reset", func(t *testing.T) {
		require.NoError(t, e.ResetMetrics(ctx))
		assert.Zero(t, e.Metrics()["total_questions"])

		snapshots, err := repos.Metrics.GetSnapshots(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, snapshots)
	})
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Chunking.MaxTokens = 20
	cfg.Chunking.OverlapTokens = 5
	e := openTestEngine(t, cfg, nil, nil)

	docs := []core.Document{
		core.NewDocument("q3", "Revenue grew 12% to $4.5B in Q3. Net income rose to $1.2B on higher margins.", core.Source{}),
		core.NewDocument("costs", "Operating costs were flat at $2.1B.", core.Source{}),
	}

	var progress bytes.Buffer
	report, err := e.Ingest(ctx, docs, &progress)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Documents)
	assert.Equal(t, report.Chunks, e.Index().Len())
	assert.Contains(t, progress.String(), "Progress:")
	assert.True(t, index.Exists(cfg.Index.Dir))

	results, err := e.Retrieve(ctx, "", "What were operating costs?")
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	loaded, err := index.Load(ctx, cfg.Index.Dir, 0)
	require.NoError(t, err)
	assert.Equal(t, e.Index().Chunks(), loaded.Chunks())
}

func TestIngestMerges(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	e := openTestEngine(t, cfg, nil, nil)

	documentIDs := func(ix *index.Index) []string {
		var ids []string
		for _, c := range ix.Chunks() {
			ids = append(ids, c.DocumentID)
		}
		return ids
	}
	persisted := func() *index.Index {
		ix, err := index.Load(ctx, cfg.Index.Dir, 0)
		require.NoError(t, err)
		return ix
	}

	_, err := e.Ingest(ctx, []core.Document{core.NewDocument("q3", q3Text, core.Source{})}, nil)
	require.NoError(t, err)
	q3Chunks := e.Index().Chunks()
	require.NotEmpty(t, q3Chunks)

	t.Run("copy under a new id leaves the index alone", func(t *testing.T) {
		report, err := e.Ingest(ctx, []core.Document{core.NewDocument("q3-copy", q3Text, core.Source{})}, nil)
		require.NoError(t, err)
		assert.Zero(t, report.Documents)
		assert.Equal(t, []string{"q3-copy"}, report.Skipped)
		assert.Equal(t, q3Chunks, e.Index().Chunks())
		assert.Equal(t, q3Chunks, persisted().Chunks())
	})

	t.Run("new document is appended", func(t *testing.T) {
		report, err := e.Ingest(ctx, []core.Document{core.NewDocument("costs", "Operating costs were flat at $2.1B.", core.Source{})}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Documents)
		assert.Equal(t, []string{"q3", "costs"}, documentIDs(e.Index()))
		assert.Equal(t, e.Index().Chunks(), persisted().Chunks())

		before, ok := e.Index().Embedding("q3#00000")
		require.True(t, ok)
		assert.Equal(t, core.Embedding(mock.DeterministicVector(q3Text, mock.DefaultDimension)), before)
	})

	t.Run("re-adding known text keeps every document", func(t *testing.T) {
		_, err := e.Ingest(ctx, []core.Document{core.NewDocument("q3-again", q3Text, core.Source{})}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"q3", "costs"}, documentIDs(persisted()))
	})

	t.Run("same id replaces its chunks", func(t *testing.T) {
		revised := "Revenue grew 14% to $4.6B in Q3 after restatement."
		report, err := e.Ingest(ctx, []core.Document{core.NewDocument("q3", revised, core.Source{})}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Documents)
		assert.Equal(t, []string{"costs", "q3"}, documentIDs(e.Index()))

		chunk, ok := e.Index().Chunk("q3#00000")
		require.True(t, ok)
		assert.Equal(t, revised, chunk.Text)
	})
}

func TestReindex(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	e := openTestEngine(t, cfg, sampleIndex(t), nil)
	e.embedder.Dimension = 32

	report, err := e.Reindex(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Chunks)
	assert.Equal(t, 32, e.Index().Dimension())

	loaded, err := index.Load(ctx, cfg.Index.Dir, 32)
	require.NoError(t, err)
	assert.Equal(t, sampleIndex(t).Chunks(), loaded.Chunks())

	results, err := e.Retrieve(ctx, "", "What was Q3 revenue growth?")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
