package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/poiesic/finrag/core"
	"github.com/poiesic/finrag/storage"
	"github.com/poiesic/finrag/storage/badger"
)

const (
	vectorFileName = "vectors.bin"
	chunkDirName   = "chunks"
)

// Persist writes the index into dir: the vector file and the chunk
// metadata table. Existing index files in dir are replaced.
func (ix *Index) Persist(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	chunkDir := filepath.Join(dir, chunkDirName)
	if err := os.RemoveAll(chunkDir); err != nil {
		return err
	}
	if err := saveChunks(ctx, chunkDir, ix.chunks); err != nil {
		return fmt.Errorf("saving chunk metadata: %w", err)
	}

	path := filepath.Join(dir, vectorFileName)
	if err := writeVectorFile(path, ix.dimension, len(ix.chunks), ix.vectors, ix.compression); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	ix.logger.Info("persisted index", "dir", dir, "entries", len(ix.chunks), "compression", ix.compression)
	return nil
}

func saveChunks(ctx context.Context, chunkDir string, chunks []core.Chunk) error {
	backend, err := badger.OpenBackend(chunkDir, false)
	if err != nil {
		return err
	}
	defer backend.Close()

	repo, err := badger.NewChunkRepository(backend)
	if err != nil {
		return err
	}
	defer repo.Close()

	return repo.SaveChunks(ctx, chunks)
}

// Load opens an index persisted by Persist. A positive dimension must match
// the stored one. Fails with core.ErrIndexCorrupt when either file is
// missing, damaged, of another schema version, or disagrees with the other.
func Load(ctx context.Context, dir string, dimension int, opts ...Option) (*Index, error) {
	header, vectors, err := readVectorFile(filepath.Join(dir, vectorFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrIndexCorrupt, vectorFileName, err)
	}
	if dimension > 0 && int(header.dimension) != dimension {
		return nil, fmt.Errorf("%w: stored dimension %d, configured %d",
			core.ErrIndexCorrupt, header.dimension, dimension)
	}

	chunks, err := loadChunks(ctx, filepath.Join(dir, chunkDirName))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrIndexCorrupt, chunkDirName, err)
	}
	if len(chunks) != int(header.count) {
		return nil, fmt.Errorf("%w: %d chunks for %d vectors", core.ErrIndexCorrupt, len(chunks), header.count)
	}

	embeddings := make([]core.Embedding, len(chunks))
	d := int(header.dimension)
	for i := range embeddings {
		embeddings[i] = vectors[i*d : (i+1)*d]
	}

	opts = append([]Option{WithDimension(d), WithCompression(header.compression)}, opts...)
	ix, err := newIndex(opts...)
	if err != nil {
		return nil, err
	}
	if err := ix.load(chunks, embeddings); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrIndexCorrupt, err)
	}

	ix.logger.Info("loaded index", "dir", dir, "entries", ix.Len(), "dimension", ix.dimension)
	return ix, nil
}

func loadChunks(ctx context.Context, chunkDir string) ([]core.Chunk, error) {
	info, err := os.Stat(chunkDir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", chunkDir)
	}

	backend, err := badger.OpenBackend(chunkDir, false)
	if err != nil {
		return nil, err
	}
	defer backend.Close()

	repo, err := badger.NewChunkRepository(backend)
	if err != nil {
		return nil, err
	}
	defer repo.Close()

	version, err := repo.SchemaVersion(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errors.New("missing schema version")
	}
	if err != nil {
		return nil, err
	}
	if version != badger.ChunkSchemaVersion {
		return nil, fmt.Errorf("schema version %d, expected %d", version, badger.ChunkSchemaVersion)
	}
	return repo.ListChunks(ctx)
}

// Exists reports whether dir holds a persisted index.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, vectorFileName))
	return err == nil
}
