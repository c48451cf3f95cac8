package index

import (
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/poiesic/finrag/core"
)

// Hit is one result of a similarity search.
type Hit struct {
	ChunkID    string  `json:"chunk_id"`
	Similarity float64 `json:"similarity"`
}

// Index is an exact cosine-similarity index over chunk embeddings.
//
// An Index is read-only after Build or Load and safe for concurrent searches.
// Rebuilding means building a new Index; callers swap it in once queries
// against the old one have finished.
type Index struct {
	dimension   int
	chunks      []core.Chunk
	positions   map[string]int
	vectors     []float32 // row-major, len(chunks) × dimension
	norms       []float64
	compression Compression
	logger      *slog.Logger
}

// Option configures an Index.
type Option func(*Index) error

// WithDimension fixes the embedding dimension. Zero takes the dimension of
// the first embedding.
func WithDimension(dimension int) Option {
	return func(ix *Index) error {
		if dimension < 0 {
			return fmt.Errorf("%w: dimension cannot be negative", core.ErrInvalidArgument)
		}
		ix.dimension = dimension
		return nil
	}
}

// WithCompression sets the payload compression used by Persist.
// Default is CompressionZstd.
func WithCompression(c Compression) Option {
	return func(ix *Index) error {
		if c > CompressionZstd {
			return fmt.Errorf("%w: unknown compression %d", core.ErrInvalidArgument, c)
		}
		ix.compression = c
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) error {
		if logger == nil {
			logger = slog.Default()
		}
		ix.logger = logger.With("component", "index")
		return nil
	}
}

func newIndex(opts ...Option) (*Index, error) {
	ix := &Index{
		compression: CompressionZstd,
		logger:      slog.Default().With("component", "index"),
	}
	for _, opt := range opts {
		if err := opt(ix); err != nil {
			return nil, err
		}
	}
	return ix, nil
}

// Build bulk-loads chunks and their embeddings, in the given order.
// Fails with core.ErrIndexBuild when the counts disagree, an embedding is
// empty or of the wrong dimension, or a chunk ID is empty or repeated.
func Build(chunks []core.Chunk, embeddings []core.Embedding, opts ...Option) (*Index, error) {
	ix, err := newIndex(opts...)
	if err != nil {
		return nil, err
	}
	if err := ix.load(chunks, embeddings); err != nil {
		return nil, err
	}
	ix.logger.Debug("built index", "entries", len(chunks), "dimension", ix.dimension)
	return ix, nil
}

func (ix *Index) load(chunks []core.Chunk, embeddings []core.Embedding) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("%w: %d chunks but %d embeddings", core.ErrIndexBuild, len(chunks), len(embeddings))
	}

	if ix.dimension == 0 && len(embeddings) > 0 {
		ix.dimension = len(embeddings[0])
	}

	ix.chunks = slices.Clone(chunks)
	ix.positions = make(map[string]int, len(chunks))
	ix.vectors = make([]float32, 0, len(chunks)*ix.dimension)
	ix.norms = make([]float64, len(chunks))

	for i, chunk := range chunks {
		if chunk.ID == "" {
			return fmt.Errorf("%w: chunk %d has an empty id", core.ErrIndexBuild, i)
		}
		if _, dup := ix.positions[chunk.ID]; dup {
			return fmt.Errorf("%w: duplicate chunk id %q", core.ErrIndexBuild, chunk.ID)
		}
		vector := embeddings[i]
		if len(vector) == 0 {
			return fmt.Errorf("%w: chunk %q has an empty embedding", core.ErrIndexBuild, chunk.ID)
		}
		if len(vector) != ix.dimension {
			return fmt.Errorf("%w: chunk %q embedding has dimension %d, expected %d",
				core.ErrIndexBuild, chunk.ID, len(vector), ix.dimension)
		}

		ix.positions[chunk.ID] = i
		ix.vectors = append(ix.vectors, vector...)
		ix.norms[i] = norm(vector)
	}
	return nil
}

// Search returns up to k chunks ordered by descending cosine similarity to
// query. Equal similarities keep insertion order.
func (ix *Index) Search(query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", core.ErrInvalidArgument, k)
	}
	if len(ix.chunks) == 0 {
		return []Hit{}, nil
	}
	if len(query) != ix.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, index has %d",
			core.ErrInvalidArgument, len(query), ix.dimension)
	}

	queryNorm := norm(query)
	hits := make([]Hit, len(ix.chunks))
	for i := range ix.chunks {
		row := ix.vectors[i*ix.dimension : (i+1)*ix.dimension]
		hits[i] = Hit{
			ChunkID:    ix.chunks[i].ID,
			Similarity: cosine(query, row, queryNorm, ix.norms[i]),
		}
	}

	slices.SortStableFunc(hits, func(a, b Hit) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return 0
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int {
	return len(ix.chunks)
}

// Dimension returns the embedding dimension, or 0 for an empty index built
// without WithDimension.
func (ix *Index) Dimension() int {
	return ix.dimension
}

// Compression returns the payload compression used by Persist.
func (ix *Index) Compression() Compression {
	return ix.compression
}

// Chunk returns the indexed chunk with the given ID.
func (ix *Index) Chunk(id string) (core.Chunk, bool) {
	i, ok := ix.positions[id]
	if !ok {
		return core.Chunk{}, false
	}
	return ix.chunks[i], true
}

// Embedding returns a copy of the stored embedding of the chunk with the
// given ID.
func (ix *Index) Embedding(id string) (core.Embedding, bool) {
	i, ok := ix.positions[id]
	if !ok {
		return nil, false
	}
	return slices.Clone(ix.vectors[i*ix.dimension : (i+1)*ix.dimension]), true
}

// Chunks returns a copy of the indexed chunks in insertion order.
func (ix *Index) Chunks() []core.Chunk {
	return slices.Clone(ix.chunks)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosine returns the cosine similarity of a and b, 0 when either is a zero vector.
func cosine(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return max(-1, min(1, dot/(normA*normB)))
}
