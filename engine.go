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


package finrag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/finrag/ai"
	"github.com/poiesic/finrag/ai/openai"
	"github.com/poiesic/finrag/chunking"
	"github.com/poiesic/finrag/config"
	"github.com/poiesic/finrag/core"
	"github.com/poiesic/finrag/index"
	"github.com/poiesic/finrag/ingestion"
	"github.com/poiesic/finrag/metrics"
	"github.com/poiesic/finrag/retrieval"
	"github.com/poiesic/finrag/storage"
	"github.com/poiesic/finrag/storage/badger"
)

// Engine answers questions over an indexed document set and tracks answer
// quality. It owns the AI provider, the stores and the loaded index.
type Engine struct {
	cfg       *config.Config
	provider  ai.AIProvider
	repos     *badger.Repositories
	index     *index.Index
	retriever *retrieval.Retriever
	metrics   *metrics.Engine
	tokenizer chunking.Tokenizer

	mu      sync.Mutex
	windows map[string]*retrieval.Window

	// recordMu serializes aggregate updates with their persistence.
	recordMu sync.Mutex

	baseLogger *slog.Logger
	logger     *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	provider       ai.AIProvider
	repos          *badger.Repositories
	index          *index.Index
	restoreMetrics bool
	logger         *slog.Logger
}

// WithProvider uses provider instead of the OpenAI-compatible one from config.
func WithProvider(provider ai.AIProvider) EngineOption {
	return func(o *engineOptions) {
		o.provider = provider
	}
}

// WithRepositories uses already opened repositories instead of opening the
// configured storage directory. The engine takes ownership and closes them.
func WithRepositories(repos *badger.Repositories) EngineOption {
	return func(o *engineOptions) {
		o.repos = repos
	}
}

// WithIndex uses ix instead of loading the configured index directory.
func WithIndex(ix *index.Index) EngineOption {
	return func(o *engineOptions) {
		o.index = ix
	}
}

// WithRestoredMetrics seeds the running aggregate from the last saved state.
func WithRestoredMetrics(restore bool) EngineOption {
	return func(o *engineOptions) {
		o.restoreMetrics = restore
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// Open creates an engine from cfg.
func Open(ctx context.Context, cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	options := &engineOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		provider: options.provider,
		repos:    options.repos,
		index:    options.index,
		windows:  make(map[string]*retrieval.Window),

		baseLogger: options.logger,
		logger:     options.logger.With("component", "engine"),
	}

	if err := e.setup(ctx, options); err != nil {
		return nil, errors.Join(err, e.Close())
	}
	return e, nil
}

func (e *Engine) setup(ctx context.Context, options *engineOptions) error {
	var err error

	if e.provider == nil {
		if e.provider, err = openai.NewProvider(e.cfg.AIConfig()); err != nil {
			return err
		}
	}

	if e.repos == nil {
		if e.repos, err = badger.OpenRepositories(e.cfg.Storage.Dir, false, e.cfg.Storage.HistoryLimit); err != nil {
			return err
		}
	}

	if e.tokenizer, err = chunking.NewTokenizer(e.cfg.Chunking.Tokenizer); err != nil {
		return err
	}

	if e.index == nil {
		if e.index, err = e.loadIndex(ctx); err != nil {
			return err
		}
	}

	if e.retriever, err = e.newRetriever(e.index); err != nil {
		return err
	}

	e.metrics, err = metrics.NewEngine(e.provider.Embedder(),
		metrics.WithTokenizer(e.tokenizer),
		metrics.WithLogger(e.baseLogger))
	if err != nil {
		return err
	}

	if options.restoreMetrics {
		state, err := e.repos.Metrics.LoadAggregate(ctx)
		switch {
		case err == nil:
			e.metrics.Aggregate().Restore(state)
			e.logger.Info("restored metrics", "questions", state.Questions)
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}
	}
	return nil
}

func (e *Engine) loadIndex(ctx context.Context) (*index.Index, error) {
	dir := e.cfg.Index.Dir
	if !index.Exists(dir) {
		e.logger.Warn("no index found, starting empty", "dir", dir)
		return index.Build(nil, nil)
	}
	ix, err := index.Load(ctx, dir, e.cfg.AI.Dimension, index.WithLogger(e.baseLogger))
	if err != nil {
		return nil, err
	}
	e.logger.Info("loaded index", "dir", dir, "chunks", ix.Len(), "dimension", ix.Dimension())
	return ix, nil
}

func (e *Engine) newRetriever(ix *index.Index) (*retrieval.Retriever, error) {
	r := e.cfg.Retrieval
	return retrieval.NewRetriever(ix, e.provider.Embedder(),
		retrieval.WithAlpha(r.Alpha),
		retrieval.WithOversampling(r.Oversampling),
		retrieval.WithContinuityBonus(r.ContinuityBonus),
		retrieval.WithLogger(e.baseLogger))
}

// Close releases the provider and the stores.
func (e *Engine) Close() error {
	var errs []error
	if e.provider != nil {
		if err := e.provider.Close(); err != nil {
			e.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if e.repos != nil {
		if err := e.repos.Close(); err != nil {
			e.logger.Error("error closing repositories", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Index returns the loaded vector index.
func (e *Engine) Index() *index.Index {
	return e.index
}

// Repositories returns the stores backing the engine.
func (e *Engine) Repositories() *badger.Repositories {
	return e.repos
}

// NewIngestionPipeline creates a pipeline configured from the [chunking] and
// [ingestion] sections.
func (e *Engine) NewIngestionPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	chunker, err := chunking.New(
		chunking.WithMaxTokens(e.cfg.Chunking.MaxTokens),
		chunking.WithOverlapTokens(e.cfg.Chunking.OverlapTokens),
		chunking.WithTokenizer(e.tokenizer),
		chunking.WithLogger(e.baseLogger))
	if err != nil {
		return nil, err
	}

	compression, err := index.ParseCompression(e.cfg.Index.Compression)
	if err != nil {
		return nil, err
	}

	in := e.cfg.Ingestion
	base := []ingestion.Option{
		ingestion.WithBatchSize(in.BatchSize),
		ingestion.WithRateLimit(in.RateLimit, in.Burst),
		ingestion.WithRetry(in.MaxAttempts, in.RetryBaseDelay.Duration),
		ingestion.WithDocumentRepository(e.repos.Documents),
		ingestion.WithIndexOptions(
			index.WithDimension(e.cfg.AI.Dimension),
			index.WithCompression(compression)),
		ingestion.WithLogger(e.baseLogger),
	}
	if in.PoolSize > 0 {
		base = append(base, ingestion.WithPoolSize(in.PoolSize))
	}
	return ingestion.NewPipeline(chunker, e.provider.Embedder(), append(base, opts...)...)
}

// Ingest merges docs into the loaded index, persists the result to the index
// directory and serves queries from it. A document ingested again under its
// ID replaces its earlier chunks. When every document is skipped as a
// duplicate the index is left as it is. Queries must not run concurrently
// with Ingest.
func (e *Engine) Ingest(ctx context.Context, docs []core.Document, progress io.Writer) (ingestion.Report, error) {
	var opts []ingestion.Option
	if progress != nil {
		opts = append(opts, ingestion.WithProgress(progress))
	}
	pipeline, err := e.NewIngestionPipeline(opts...)
	if err != nil {
		return ingestion.Report{}, err
	}
	defer pipeline.Release()

	ix, report, err := pipeline.Update(ctx, e.index, docs)
	if err != nil {
		return report, err
	}
	if report.Documents == 0 {
		e.logger.Info("index unchanged", "skipped", len(report.Skipped))
		return report, nil
	}
	return report, e.swapIndex(ctx, ix)
}

// Reindex re-embeds the chunks of the loaded index with the configured
// embedder, persists the result and serves queries from it. Queries must not
// run concurrently with Reindex.
func (e *Engine) Reindex(ctx context.Context, progress io.Writer) (ingestion.Report, error) {
	var opts []ingestion.Option
	if progress != nil {
		opts = append(opts, ingestion.WithProgress(progress))
	}
	pipeline, err := e.NewIngestionPipeline(opts...)
	if err != nil {
		return ingestion.Report{}, err
	}
	defer pipeline.Release()

	ix, report, err := pipeline.Reembed(ctx, e.index.Chunks())
	if err != nil {
		return report, err
	}
	return report, e.swapIndex(ctx, ix)
}

func (e *Engine) swapIndex(ctx context.Context, ix *index.Index) error {
	if err := ix.Persist(ctx, e.cfg.Index.Dir); err != nil {
		return err
	}
	retriever, err := e.newRetriever(ix)
	if err != nil {
		return err
	}
	e.index = ix
	e.retriever = retriever
	return nil
}

// window returns the conversation window, restoring it from the turn log on
// first use. An empty conversationID gets a fresh window that is not kept.
func (e *Engine) window(ctx context.Context, conversationID string) (*retrieval.Window, error) {
	if conversationID == "" {
		return retrieval.NewWindow(e.cfg.Retrieval.WindowSize), nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if w, ok := e.windows[conversationID]; ok {
		return w, nil
	}

	w := retrieval.NewWindow(e.cfg.Retrieval.WindowSize)
	turns, err := e.repos.Turns.GetTurns(ctx, conversationID, w.Cap())
	if err != nil {
		return nil, err
	}
	for _, turn := range turns {
		w.Push(turn)
	}
	e.windows[conversationID] = w
	return w, nil
}

// Retrieve returns the ranked chunks for query in the context of a
// conversation, without generating an answer.
func (e *Engine) Retrieve(ctx context.Context, conversationID, query string) ([]core.RetrievalCandidate, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", core.ErrInvalidArgument)
	}
	w, err := e.window(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	turns := w.Turns()
	return e.retriever.Retrieve(ctx, retrieval.EnhanceQuery(query, turns), turns, e.cfg.Retrieval.TopK)
}

// AskOptions carries the optional ground truth of a question.
type AskOptions struct {
	GroundTruth      string
	RelevantChunkIDs []string
}

// Answer is the result of Ask.
type Answer struct {
	ConversationID string                    `json:"conversation_id"`
	Question       string                    `json:"question"`
	Answer         string                    `json:"answer"`
	Sources        []core.RetrievalCandidate `json:"sources"`
	Metrics        core.MetricsSnapshot      `json:"metrics"`
	// NoContext is set when nothing was retrieved and the answer is unconditioned.
	NoContext bool `json:"no_context"`
}

// Ask answers question within a conversation. An empty conversationID starts
// a new conversation. Embedding and generation failures abort the question
// with their typed error and record nothing.
func (e *Engine) Ask(ctx context.Context, conversationID, question string, opts *AskOptions) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: empty question", core.ErrInvalidArgument)
	}
	if opts == nil {
		opts = &AskOptions{}
	}
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	start := time.Now()
	logger := e.logger.With("conversation_id", conversationID)

	w, err := e.window(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	history := w.Turns()

	// 1. Retrieve
	candidates, err := e.retriever.Retrieve(ctx, retrieval.EnhanceQuery(question, history), history, e.cfg.Retrieval.TopK)
	if err != nil {
		logger.Error("retrieval failed", "err", err)
		return nil, err
	}
	retrieved := make([]string, len(candidates))
	for i, c := range candidates {
		retrieved[i] = c.ChunkID
	}
	contextText := joinContext(candidates)
	if len(candidates) == 0 {
		logger.Warn("no context retrieved, answering unconditioned", "question", question)
	}

	// 2. Generate
	prompt, err := buildPrompt(contextText, history, question)
	if err != nil {
		return nil, err
	}
	answer, err := e.provider.Generator().Generate(ctx, prompt, contextText)
	if err != nil {
		if !errors.Is(err, core.ErrGenerationUnavailable) {
			err = core.NewGenerationError("generate answer", question, err)
		}
		logger.Error("generation failed", "err", err)
		return nil, err
	}
	latency := time.Since(start)

	// 3. Evaluate
	snapshot, err := e.metrics.Score(ctx, metrics.Evaluation{
		ConversationID: conversationID,
		Question:       question,
		Answer:         answer,
		Context:        contextText,
		Retrieved:      retrieved,
		Relevant:       opts.RelevantChunkIDs,
		GroundTruth:    opts.GroundTruth,
		PreviousAnswer: previousAnswer(history),
		Latency:        latency,
	})
	if err != nil {
		return nil, err
	}

	// 4. Record
	now := time.Now().UTC()
	turns := []core.ConversationTurn{
		{Role: core.RoleUser, Text: question, RetrievedChunkIDs: retrieved, Timestamp: now},
		{Role: core.RoleAssistant, Text: answer, RetrievedChunkIDs: retrieved, Timestamp: now},
	}
	if err := e.record(ctx, conversationID, w, turns, snapshot); err != nil {
		logger.Error("recording answer failed", "err", err)
		return nil, err
	}

	logger.Info("answered question", "sources", len(candidates), "latency", latency)
	return &Answer{
		ConversationID: conversationID,
		Question:       question,
		Answer:         answer,
		Sources:        candidates,
		Metrics:        snapshot,
		NoContext:      len(candidates) == 0,
	}, nil
}

// record stores the turns and the snapshot, then the aggregate. The window
// changes only after the turn log accepts the turns, and the running
// aggregate only after its new state is saved.
func (e *Engine) record(ctx context.Context, conversationID string, w *retrieval.Window,
	turns []core.ConversationTurn, snapshot core.MetricsSnapshot) error {
	if err := e.repos.Turns.AppendTurns(ctx, conversationID, turns...); err != nil {
		return err
	}
	for _, turn := range turns {
		w.Push(turn)
	}
	if err := e.repos.Metrics.SaveSnapshot(ctx, snapshot); err != nil {
		return err
	}

	e.recordMu.Lock()
	defer e.recordMu.Unlock()
	aggregate := e.metrics.Aggregate()
	state := aggregate.With(snapshot)
	if err := e.repos.Metrics.SaveAggregate(ctx, state); err != nil {
		return err
	}
	aggregate.Restore(state)
	return nil
}

func previousAnswer(history []core.ConversationTurn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == core.RoleAssistant {
			return history[i].Text
		}
	}
	return ""
}

// Metrics returns the running aggregate summary.
func (e *Engine) Metrics() map[string]float64 {
	return e.metrics.Aggregate().Summary()
}

// ConversationMetrics summarizes the stored snapshots of one conversation.
func (e *Engine) ConversationMetrics(ctx context.Context, conversationID string) (map[string]float64, error) {
	snapshots, err := e.repos.Metrics.GetSnapshots(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return metrics.Summarize(snapshots), nil
}

// ResetMetrics clears the running aggregate and the stored history.
func (e *Engine) ResetMetrics(ctx context.Context) error {
	e.recordMu.Lock()
	defer e.recordMu.Unlock()
	e.metrics.Aggregate().Reset()
	return e.repos.Metrics.ClearSnapshots(ctx)
}
