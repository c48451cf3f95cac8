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


package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/poiesic/finrag/ai"
	"github.com/poiesic/finrag/core"
	"github.com/poiesic/finrag/entity"
	"github.com/poiesic/finrag/index"
)

const (
	// DefaultAlpha weights vector similarity against entity overlap.
	DefaultAlpha = 0.7
	// DefaultOversampling is how many candidates per requested result are
	// pulled from the index before reranking.
	DefaultOversampling = 3
	// DefaultContinuityBonus is added to chunks retrieved in the previous turn.
	DefaultContinuityBonus = 0.05
)

const (
	numericWeight = 0.5
	termWeight    = 0.3
)

// VectorIndex is the read side of a vector index.
type VectorIndex interface {
	Search(query []float32, k int) ([]index.Hit, error)
	Chunk(id string) (core.Chunk, bool)
	Len() int
}

var _ VectorIndex = (*index.Index)(nil)

// Retriever fuses vector similarity with entity overlap and conversation
// continuity into a single ranking.
type Retriever struct {
	index     VectorIndex
	embedder  ai.Embedder
	extractor *entity.Extractor

	alpha        float64
	oversampling int
	bonus        float64
	logger       *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever) error

// WithAlpha sets the weight of the vector score. Must be in [0,1].
func WithAlpha(alpha float64) Option {
	return func(r *Retriever) error {
		if alpha < 0 || alpha > 1 {
			return fmt.Errorf("%w: alpha %v outside [0,1]", core.ErrInvalidArgument, alpha)
		}
		r.alpha = alpha
		return nil
	}
}

// WithOversampling sets the candidate pool multiplier. Must be at least 1.
func WithOversampling(c int) Option {
	return func(r *Retriever) error {
		if c < 1 {
			return fmt.Errorf("%w: oversampling %d must be at least 1", core.ErrInvalidArgument, c)
		}
		r.oversampling = c
		return nil
	}
}

// WithContinuityBonus sets the boost for chunks retrieved in the previous turn.
// Must be in [0,1].
func WithContinuityBonus(bonus float64) Option {
	return func(r *Retriever) error {
		if bonus < 0 || bonus > 1 {
			return fmt.Errorf("%w: continuity bonus %v outside [0,1]", core.ErrInvalidArgument, bonus)
		}
		r.bonus = bonus
		return nil
	}
}

// WithExtractor replaces the default entity extractor.
func WithExtractor(extractor *entity.Extractor) Option {
	return func(r *Retriever) error {
		if extractor != nil {
			r.extractor = extractor
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger.With("component", "retriever")
		return nil
	}
}

// NewRetriever creates a retriever over ix.
func NewRetriever(ix VectorIndex, embedder ai.Embedder, opts ...Option) (*Retriever, error) {
	if ix == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	r := &Retriever{
		index:        ix,
		embedder:     embedder,
		extractor:    entity.New(),
		alpha:        DefaultAlpha,
		oversampling: DefaultOversampling,
		bonus:        DefaultContinuityBonus,
		logger:       slog.Default().With("component", "retriever"),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Retrieve returns up to k candidates for query, best first.
// conversation is the recent history, oldest first; only the last turn biases
// the ranking.
func (r *Retriever) Retrieve(ctx context.Context, query string, conversation []core.ConversationTurn, k int) ([]core.RetrievalCandidate, error) {
	return r.RetrieveWithMonitor(ctx, query, conversation, k, nil)
}

// RetrieveWithMonitor is Retrieve with a monitor receiving callbacks at each stage.
func (r *Retriever) RetrieveWithMonitor(ctx context.Context, query string, conversation []core.ConversationTurn, k int, monitor Monitor) ([]core.RetrievalCandidate, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", core.ErrInvalidArgument, k)
	}

	monitor.Start(query, k)

	if r.index.Len() == 0 {
		r.logger.Debug("index is empty, nothing to retrieve")
		results := []core.RetrievalCandidate{}
		monitor.Finish(results)
		return results, nil
	}

	// 1. Vector search over an oversampled pool
	embedding, err := r.embedder.EmbedText(ctx, query)
	if err != nil {
		if !errors.Is(err, core.ErrEmbeddingUnavailable) {
			err = core.NewEmbeddingError("embed query", query, err)
		}
		r.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, err
	}

	hits, err := r.index.Search(embedding, k*r.oversampling)
	if err != nil {
		r.logger.Error("error searching index", "err", err)
		return nil, err
	}
	monitor.AfterVectorSearch(hits)

	// 2. Query entities
	queryEntities := r.extractor.Extract(query)
	monitor.AfterEntityExtraction(queryEntities)
	weights := entityWeights(queryEntities)

	// 3. Conversation continuity
	previous := make(map[string]struct{})
	if n := len(conversation); n > 0 {
		for _, id := range conversation[n-1].RetrievedChunkIDs {
			previous[id] = struct{}{}
		}
	}

	candidates := make([]core.RetrievalCandidate, 0, len(hits))
	for _, hit := range hits {
		chunk, ok := r.index.Chunk(hit.ChunkID)
		if !ok {
			r.logger.Warn("index hit without chunk", "chunk_id", hit.ChunkID)
			continue
		}

		vectorScore := clamp01((hit.Similarity + 1) / 2)
		entityScore := r.entityScore(weights, chunk.Text)
		combined := r.alpha*vectorScore + (1-r.alpha)*entityScore
		if _, ok := previous[hit.ChunkID]; ok {
			combined += r.bonus
		}

		candidate := core.RetrievalCandidate{
			ChunkID:       hit.ChunkID,
			VectorScore:   vectorScore,
			EntityScore:   entityScore,
			CombinedScore: clamp01(combined),
			Chunk:         &chunk,
		}
		monitor.Scored(candidate)
		candidates = append(candidates, candidate)
	}

	// 4. Rank
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].CombinedScore != candidates[j].CombinedScore {
			return candidates[i].CombinedScore > candidates[j].CombinedScore
		}
		return candidates[i].ChunkID < candidates[j].ChunkID
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	for i := range candidates {
		candidates[i].Rank = i + 1
	}

	r.logger.Debug("retrieval complete", "query", query, "pool", len(hits), "results", len(candidates))
	monitor.Finish(candidates)
	return candidates, nil
}

// entityWeights maps each distinct query entity key to its weight.
func entityWeights(entities []core.ExtractedEntity) map[string]float64 {
	weights := make(map[string]float64, len(entities))
	for _, e := range entities {
		if _, ok := weights[e.Key()]; ok {
			continue
		}
		if e.Type.IsNumeric() {
			weights[e.Key()] = numericWeight
		} else {
			weights[e.Key()] = termWeight
		}
	}
	return weights
}

// entityScore is the weighted share of query entities that also occur in text.
func (r *Retriever) entityScore(weights map[string]float64, text string) float64 {
	if len(weights) == 0 {
		return 0
	}

	present := make(map[string]struct{})
	for _, key := range entity.Keys(r.extractor.Extract(text)) {
		present[key] = struct{}{}
	}

	var matched, total float64
	for key, w := range weights {
		total += w
		if _, ok := present[key]; ok {
			matched += w
		}
	}
	return matched / total
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
