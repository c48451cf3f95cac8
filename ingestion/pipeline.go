package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/finrag/ai"
	"github.com/poiesic/finrag/chunking"
	"github.com/poiesic/finrag/core"
	"github.com/poiesic/finrag/index"
	"github.com/poiesic/finrag/storage"
	"golang.org/x/time/rate"
)

const (
	// DefaultBatchSize is the number of chunks sent per embedding call.
	DefaultBatchSize = 16
	// DefaultMaxAttempts makes one attempt per batch, without retry.
	DefaultMaxAttempts = 1
	// DefaultRetryBaseDelay is the first backoff delay when retry is enabled.
	DefaultRetryBaseDelay = 500 * time.Millisecond
)

// Pipeline turns documents into a vector index: it chunks them, embeds the
// chunks concurrently and builds the index in document then chunk order.
type Pipeline struct {
	chunker   *chunking.Chunker
	embedder  ai.Embedder
	documents storage.DocumentRepository

	pool           *ants.Pool
	limiter        *rate.Limiter
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
	indexOpts      []index.Option
	progress       io.Writer
	logger         *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the embedding worker pool size.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

// WithRateLimit bounds embedding calls to rps per second with the given burst.
// A non-positive rps removes the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(p *Pipeline) error {
		if rps <= 0 {
			p.limiter = rate.NewLimiter(rate.Inf, 0)
			return nil
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		return nil
	}
}

// WithBatchSize sets how many chunks go into one embedding call.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("%w: batch size %d must be at least 1", core.ErrInvalidArgument, size)
		}
		p.batchSize = size
		return nil
	}
}

// WithRetry enables retrying failed embedding calls up to maxAttempts times
// with exponential backoff from baseDelay.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		p.maxAttempts = maxAttempts
		p.retryBaseDelay = baseDelay
		return nil
	}
}

// WithDocumentRepository registers ingested documents and skips documents
// whose text is already registered under another ID.
func WithDocumentRepository(repo storage.DocumentRepository) Option {
	return func(p *Pipeline) error {
		p.documents = repo
		return nil
	}
}

// WithIndexOptions passes options through to index.Build.
func WithIndexOptions(opts ...index.Option) Option {
	return func(p *Pipeline) error {
		p.indexOpts = append(p.indexOpts, opts...)
		return nil
	}
}

// WithProgress reports embedding progress to w.
func WithProgress(w io.Writer) Option {
	return func(p *Pipeline) error {
		p.progress = w
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger.With("component", "ingestion")
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(chunker *chunking.Chunker, embedder ai.Embedder, opts ...Option) (*Pipeline, error) {
	if chunker == nil {
		return nil, ErrChunkerRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	p := &Pipeline{
		chunker:        chunker,
		embedder:       embedder,
		limiter:        rate.NewLimiter(rate.Inf, 0),
		batchSize:      DefaultBatchSize,
		maxAttempts:    DefaultMaxAttempts,
		retryBaseDelay: DefaultRetryBaseDelay,
		logger:         slog.Default().With("component", "ingestion"),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			p.Release()
			return nil, err
		}
	}

	if p.pool == nil {
		pool, err := ants.NewPool(max(runtime.NumCPU()/2, 1))
		if err != nil {
			return nil, err
		}
		p.pool = pool
	}

	return p, nil
}

// Report summarizes one Build.
type Report struct {
	Documents int
	Skipped   []string // IDs of documents with already-seen text
	Chunks    int
	Oversized int
	Elapsed   time.Duration
}

// Build chunks, embeds and indexes docs. Documents whose text duplicates an
// earlier document in docs, or a registered document with another ID, are
// skipped. Entries are ordered by document, then by chunk, whatever order the
// embedding calls complete in.
func (p *Pipeline) Build(ctx context.Context, docs []core.Document) (*index.Index, Report, error) {
	return p.Update(ctx, nil, docs)
}

// Update merges docs into base. The entries of base keep their order and
// stored embeddings, except that a document ingested again under the same ID
// has its old chunks dropped. Only the chunks of docs are embedded, and they
// follow the kept entries. When every document is skipped, Update returns base
// unchanged and Report.Documents is zero. A nil base behaves like an empty
// index.
func (p *Pipeline) Update(ctx context.Context, base *index.Index, docs []core.Document) (*index.Index, Report, error) {
	start := time.Now()
	report := Report{}

	kept, err := p.dedupe(ctx, docs, &report)
	if err != nil {
		return nil, report, err
	}
	if base != nil && len(kept) == 0 {
		p.logger.Info("no new documents", "skipped", len(report.Skipped))
		report.Elapsed = time.Since(start)
		return base, report, nil
	}

	var chunks []core.Chunk
	replaced := make(map[string]struct{}, len(kept))
	for _, doc := range kept {
		replaced[doc.ID] = struct{}{}
		docChunks, err := p.chunker.Chunk(doc)
		if err != nil {
			return nil, report, fmt.Errorf("document %q: %w", doc.ID, err)
		}
		for _, c := range docChunks {
			if c.Oversized {
				report.Oversized++
			}
		}
		chunks = append(chunks, docChunks...)
	}
	report.Documents = len(kept)
	report.Chunks = len(chunks)
	p.logger.Info("chunked documents", "documents", len(kept), "chunks", len(chunks), "skipped", len(report.Skipped))

	embeddings, err := p.embed(ctx, chunks)
	if err != nil {
		return nil, report, err
	}

	var (
		allChunks     []core.Chunk
		allEmbeddings []core.Embedding
	)
	if base != nil {
		for _, c := range base.Chunks() {
			if _, ok := replaced[c.DocumentID]; ok {
				continue
			}
			vector, _ := base.Embedding(c.ID)
			allChunks = append(allChunks, c)
			allEmbeddings = append(allEmbeddings, vector)
		}
	}
	allChunks = append(allChunks, chunks...)
	allEmbeddings = append(allEmbeddings, embeddings...)

	ix, err := index.Build(allChunks, allEmbeddings, p.indexOpts...)
	if err != nil {
		return nil, report, err
	}

	if p.documents != nil && len(kept) > 0 {
		if err := p.documents.AddDocuments(ctx, kept...); err != nil {
			return nil, report, fmt.Errorf("registering documents: %w", err)
		}
	}

	report.Elapsed = time.Since(start)
	p.logger.Info("built index", "chunks", ix.Len(), "dimension", ix.Dimension(), "elapsed", report.Elapsed)
	return ix, report, nil
}

// Reembed builds a new index over chunks with fresh embeddings, keeping the
// chunk boundaries. Use it after switching embedding models.
func (p *Pipeline) Reembed(ctx context.Context, chunks []core.Chunk) (*index.Index, Report, error) {
	start := time.Now()
	report := Report{Chunks: len(chunks)}

	docs := make(map[string]struct{})
	for _, c := range chunks {
		docs[c.DocumentID] = struct{}{}
		if c.Oversized {
			report.Oversized++
		}
	}
	report.Documents = len(docs)

	embeddings, err := p.embed(ctx, chunks)
	if err != nil {
		return nil, report, err
	}

	ix, err := index.Build(chunks, embeddings, p.indexOpts...)
	if err != nil {
		return nil, report, err
	}

	report.Elapsed = time.Since(start)
	p.logger.Info("reembedded index", "chunks", ix.Len(), "dimension", ix.Dimension(), "elapsed", report.Elapsed)
	return ix, report, nil
}

func (p *Pipeline) dedupe(ctx context.Context, docs []core.Document, report *Report) ([]core.Document, error) {
	seen := make(map[core.ID]string, len(docs))
	kept := make([]core.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.Fingerprint == 0 {
			doc.Fingerprint = core.IDFromContent(doc.Text)
		}

		if owner, ok := seen[doc.Fingerprint]; ok {
			p.logger.Debug("skipping duplicate document", "id", doc.ID, "duplicate_of", owner)
			report.Skipped = append(report.Skipped, doc.ID)
			continue
		}

		if p.documents != nil {
			owner, err := p.documents.FindByFingerprint(ctx, doc.Fingerprint)
			switch {
			case err == nil && owner != doc.ID:
				p.logger.Debug("skipping registered document", "id", doc.ID, "duplicate_of", owner)
				report.Skipped = append(report.Skipped, doc.ID)
				continue
			case err != nil && !errors.Is(err, storage.ErrNotFound):
				return nil, err
			}
		}

		seen[doc.Fingerprint] = doc.ID
		kept = append(kept, doc)
	}
	return kept, nil
}

// embed fills one slot per chunk from batched embedding calls on the pool.
func (p *Pipeline) embed(ctx context.Context, chunks []core.Chunk) ([]core.Embedding, error) {
	embeddings := make([]core.Embedding, len(chunks))
	if len(chunks) == 0 {
		return embeddings, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var tracker *ProgressTracker
	if p.progress != nil {
		tracker = NewProgressTracker(p.progress, len(chunks), p.batchSize)
		tracker.Start()
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for lo := 0; lo < len(chunks); lo += p.batchSize {
		hi := min(lo+p.batchSize, len(chunks))
		texts := make([]string, hi-lo)
		for i := range texts {
			texts[i] = chunks[lo+i].Text
		}

		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			vectors, err := p.embedBatch(ctx, texts)
			if err != nil {
				fail(fmt.Errorf("embedding chunks %s..%s: %w", chunks[lo].ID, chunks[hi-1].ID, err))
				return
			}
			for i, v := range vectors {
				embeddings[lo+i] = v
			}
			if tracker != nil {
				tracker.Increment(len(vectors))
			}
		})
		if err != nil {
			wg.Done()
			fail(err)
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		p.logger.Error("embedding failed", "err", firstErr)
		return nil, firstErr
	}
	if tracker != nil {
		tracker.Finish()
	}
	return embeddings, nil
}

func (p *Pipeline) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := RetryWithBackoff(ctx, func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		vectors, err = p.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(texts) {
			return core.NewEmbeddingError("embed chunks", texts[0],
				fmt.Errorf("expected %d embeddings, received %d", len(texts), len(vectors)))
		}
		return nil
	}, p.maxAttempts, p.retryBaseDelay)
	if err != nil {
		if !errors.Is(err, core.ErrEmbeddingUnavailable) && !errors.Is(err, context.Canceled) {
			err = core.NewEmbeddingError("embed chunks", texts[0], err)
		}
		return nil, err
	}
	return vectors, nil
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
