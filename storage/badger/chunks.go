package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/finrag/core"
	"github.com/poiesic/finrag/storage"
)

// ChunkSchemaVersion is stamped on every saved chunk table.
const ChunkSchemaVersion = 2

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
type ChunkRepository struct {
	backend *Backend
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(backend *Backend) (*ChunkRepository, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	return &ChunkRepository{backend: backend}, nil
}

// Close is a no-op; the backend is closed by its owner.
func (r *ChunkRepository) Close() error {
	return nil
}

// SaveChunks replaces the stored chunks with chunks, in order.
func (r *ChunkRepository) SaveChunks(ctx context.Context, chunks []core.Chunk) error {
	if err := r.backend.DropPrefix(chunkPrefix); err != nil {
		return err
	}

	return r.backend.WithBatch(func(wb *badger.WriteBatch) error {
		for i := range chunks {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := wb.Set(makeChunkKey(chunks[i].ID), storage.MarshalChunk(&chunks[i])); err != nil {
				return err
			}
			if err := wb.Set(makeChunkOrdinalKey(i), []byte(chunks[i].ID)); err != nil {
				return err
			}
		}

		version := make([]byte, 4)
		binary.BigEndian.PutUint32(version, ChunkSchemaVersion)
		return wb.Set([]byte(chunkSchemaKey), version)
	})
}

// GetChunk retrieves a chunk by ID.
func (r *ChunkRepository) GetChunk(ctx context.Context, id string) (*core.Chunk, error) {
	var chunk *core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		value, err := getValue(tx, makeChunkKey(id))
		if err != nil {
			return err
		}
		chunk, err = storage.UnmarshalChunk(value)
		return err
	}, false)
	return chunk, err
}

// ListChunks returns all chunks in saved order.
func (r *ChunkRepository) ListChunks(ctx context.Context) ([]core.Chunk, error) {
	var chunks []core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(chunkOrdinalPrefix+":"), func(key, value []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := getValue(tx, makeChunkKey(string(value)))
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: chunk %q listed but not stored", storage.ErrNotFound, value)
			}
			if err != nil {
				return err
			}
			chunk, err := storage.UnmarshalChunk(raw)
			if err != nil {
				return err
			}
			chunks = append(chunks, *chunk)
			return nil
		})
	}, false)
	return chunks, err
}

// SchemaVersion returns the version stamped by SaveChunks.
func (r *ChunkRepository) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		value, err := getValue(tx, []byte(chunkSchemaKey))
		if err != nil {
			return err
		}
		if len(value) != 4 {
			return storage.ErrTruncatedData
		}
		version = int(binary.BigEndian.Uint32(value))
		return nil
	}, false)
	return version, err
}
