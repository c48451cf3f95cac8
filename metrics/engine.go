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


package metrics

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/finrag/ai"
	"github.com/poiesic/finrag/chunking"
	"github.com/poiesic/finrag/core"
	"golang.org/x/sync/errgroup"
)

// Evaluation is the input for scoring one answered question.
type Evaluation struct {
	ConversationID string
	Question       string
	Answer         string

	// Context is the retrieved text the answer was generated from.
	Context string
	// Retrieved holds the retrieved chunk ids in rank order.
	Retrieved []string

	// Relevant holds the ground-truth chunk ids, if known.
	Relevant []string
	// GroundTruth is the expected answer, if known.
	GroundTruth string
	// PreviousAnswer is the last assistant answer in the conversation, if any.
	PreviousAnswer string

	Latency time.Duration
}

// reference is the text the answer is compared to semantically: the ground
// truth, else the previous answer, else the retrieved context.
func (e Evaluation) reference() string {
	switch {
	case e.GroundTruth != "":
		return e.GroundTruth
	case e.PreviousAnswer != "":
		return e.PreviousAnswer
	}
	return e.Context
}

// Engine scores answered questions and accumulates the results.
type Engine struct {
	embedder  ai.Embedder
	tokenizer chunking.Tokenizer
	aggregate *Aggregate
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithTokenizer sets the tokenizer used for token counts.
// Default is the word tokenizer.
func WithTokenizer(tokenizer chunking.Tokenizer) Option {
	return func(e *Engine) error {
		if tokenizer != nil {
			e.tokenizer = tokenizer
		}
		return nil
	}
}

// WithAggregate sets the aggregate snapshots are merged into.
func WithAggregate(aggregate *Aggregate) Option {
	return func(e *Engine) error {
		if aggregate != nil {
			e.aggregate = aggregate
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger.With("component", "metrics")
		return nil
	}
}

// NewEngine creates a metrics engine.
func NewEngine(embedder ai.Embedder, opts ...Option) (*Engine, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	e := &Engine{
		embedder:  embedder,
		tokenizer: chunking.NewWordTokenizer(),
		aggregate: NewAggregate(),
		logger:    slog.Default().With("component", "metrics"),
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Aggregate returns the running aggregate.
func (e *Engine) Aggregate() *Aggregate {
	return e.aggregate
}

// Evaluate scores one answer and merges the snapshot into the aggregate.
// When an embedding fails nothing is recorded.
func (e *Engine) Evaluate(ctx context.Context, ev Evaluation) (core.MetricsSnapshot, error) {
	snapshot, err := e.Score(ctx, ev)
	if err != nil {
		return core.MetricsSnapshot{}, err
	}
	e.aggregate.Merge(snapshot)
	return snapshot, nil
}

// Score computes the snapshot of one answer without touching the aggregate.
func (e *Engine) Score(ctx context.Context, ev Evaluation) (core.MetricsSnapshot, error) {
	snapshot := core.MetricsSnapshot{
		ConversationID: ev.ConversationID,
		Question:       ev.Question,
		Timestamp:      time.Now().UTC(),
		Latency:        ev.Latency,
		RetrievedCount: len(ev.Retrieved),
	}

	// Embed answer, reference and previous answer concurrently
	var answerVec, referenceVec, previousVec []float32
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		answerVec, err = e.embed(gctx, "embed answer", ev.Answer)
		return err
	})
	if ref := ev.reference(); ref != "" {
		g.Go(func() error {
			var err error
			referenceVec, err = e.embed(gctx, "embed reference", ref)
			return err
		})
	}
	if ev.PreviousAnswer != "" {
		g.Go(func() error {
			var err error
			previousVec, err = e.embed(gctx, "embed previous answer", ev.PreviousAnswer)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Error("evaluation aborted", "question", ev.Question, "err", err)
		return core.MetricsSnapshot{}, err
	}

	if len(ev.Relevant) > 0 {
		snapshot.HasRelevant = true
		precision := Precision(ev.Retrieved, ev.Relevant)
		recall := Recall(ev.Retrieved, ev.Relevant)
		snapshot.Retrieval = core.RetrievalScores{
			Precision: precision,
			Recall:    recall,
			F1:        F1(precision, recall),
			NDCG:      NDCG(ev.Retrieved, ev.Relevant, len(ev.Retrieved)),
			MRR:       MRR(ev.Retrieved, ev.Relevant),
		}
	}

	snapshot.Groundedness = Rouge(ev.Answer, ev.Context)

	if ev.GroundTruth != "" {
		snapshot.HasGroundTruth = true
		snapshot.Correctness = Rouge(ev.Answer, ev.GroundTruth)
		snapshot.ExactMatch = ExactMatch(ev.Answer, ev.GroundTruth)
	}

	snapshot.CosineSimilarity = CosineSimilarity(answerVec, referenceVec)
	snapshot.AnswerAccuracy = AnswerAccuracy(snapshot.CosineSimilarity, Rouge(ev.Answer, ev.reference()).Rouge1)

	if previousVec != nil {
		snapshot.HasPreviousAnswer = true
		snapshot.ContextRetention = CosineSimilarity(answerVec, previousVec)
	}

	snapshot.QueryTokens = e.tokenizer.Count(ev.Question)
	snapshot.ContextTokens = e.tokenizer.Count(ev.Context)
	snapshot.AnswerTokens = e.tokenizer.Count(ev.Answer)

	e.logger.Debug("scored answer",
		"question", ev.Question,
		"cosine", snapshot.CosineSimilarity,
		"exact_match", snapshot.ExactMatch,
		"tokens", snapshot.TotalTokens())
	return snapshot, nil
}

func (e *Engine) embed(ctx context.Context, op, text string) ([]float32, error) {
	vec, err := e.embedder.EmbedText(ctx, text)
	if err != nil {
		if !errors.Is(err, core.ErrEmbeddingUnavailable) {
			err = core.NewEmbeddingError(op, text, err)
		}
		return nil, err
	}
	return vec, nil
}
