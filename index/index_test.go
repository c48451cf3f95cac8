package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/finrag/ai/mock"
	"github.com/poiesic/finrag/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunksOf(n int) []core.Chunk {
	chunks := make([]core.Chunk, n)
	for i := range chunks {
		text := fmt.Sprintf("chunk text %d", i)
		chunks[i] = core.Chunk{
			ID:         core.ChunkID("doc", i),
			DocumentID: "doc",
			Sequence:   i,
			Text:       text,
			EndOffset:  len(text),
			TokenCount: 3,
		}
	}
	return chunks
}

func embeddingsOf(chunks []core.Chunk, dim int) []core.Embedding {
	out := make([]core.Embedding, len(chunks))
	for i, c := range chunks {
		out[i] = mock.DeterministicVector(c.Text, dim)
	}
	return out
}

func TestBuild(t *testing.T) {
	chunks := chunksOf(3)

	t.Run("infers dimension", func(t *testing.T) {
		ix, err := Build(chunks, embeddingsOf(chunks, 8))
		require.NoError(t, err)
		assert.Equal(t, 3, ix.Len())
		assert.Equal(t, 8, ix.Dimension())

		c, ok := ix.Chunk("doc#00001")
		require.True(t, ok)
		assert.Equal(t, chunks[1], c)
		assert.Equal(t, chunks, ix.Chunks())
	})

	t.Run("stored embeddings", func(t *testing.T) {
		embeddings := embeddingsOf(chunks, 8)
		ix, err := Build(chunks, embeddings)
		require.NoError(t, err)

		got, ok := ix.Embedding("doc#00002")
		require.True(t, ok)
		assert.Equal(t, embeddings[2], got)

		got[0] = 42
		again, _ := ix.Embedding("doc#00002")
		assert.Equal(t, embeddings[2], again)

		_, ok = ix.Embedding("missing")
		assert.False(t, ok)
	})

	t.Run("empty", func(t *testing.T) {
		ix, err := Build(nil, nil, WithDimension(4))
		require.NoError(t, err)
		assert.Equal(t, 0, ix.Len())
		assert.Equal(t, 4, ix.Dimension())
	})

	tests := []struct {
		name       string
		chunks     []core.Chunk
		embeddings []core.Embedding
		opts       []Option
	}{
		{"count mismatch", chunks, embeddingsOf(chunks[:2], 8), nil},
		{"configured dimension mismatch", chunks, embeddingsOf(chunks, 8), []Option{WithDimension(16)}},
		{"mixed dimensions", chunks, append(embeddingsOf(chunks[:2], 8), mock.DeterministicVector("x", 4)), nil},
		{"empty embedding", chunks, append(embeddingsOf(chunks[:2], 8), core.Embedding{}), nil},
		{"duplicate id", append(chunksOf(2), chunksOf(1)...), embeddingsOf(chunks, 8), nil},
		{"empty id", []core.Chunk{{}}, embeddingsOf(chunks[:1], 8), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.chunks, tt.embeddings, tt.opts...)
			assert.ErrorIs(t, err, core.ErrIndexBuild)
		})
	}

	t.Run("invalid options", func(t *testing.T) {
		_, err := Build(nil, nil, WithDimension(-1))
		assert.ErrorIs(t, err, core.ErrInvalidArgument)
		_, err = Build(nil, nil, WithCompression(Compression(9)))
		assert.ErrorIs(t, err, core.ErrInvalidArgument)
	})
}

func TestSearch(t *testing.T) {
	chunks := chunksOf(4)
	embeddings := []core.Embedding{
		{1, 0, 0},
		{0, 1, 0},
		{1, 1, 0},
		{1, 0, 0}, // same as the first: tie broken by insertion order
	}
	ix, err := Build(chunks, embeddings)
	require.NoError(t, err)

	hits, err := ix.Search([]float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "doc#00000", hits[0].ChunkID)
	assert.Equal(t, "doc#00003", hits[1].ChunkID)
	assert.Equal(t, "doc#00002", hits[2].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
	assert.InDelta(t, 0.7071, hits[2].Similarity, 1e-4)

	t.Run("k larger than index", func(t *testing.T) {
		hits, err := ix.Search([]float32{0, 1, 0}, 10)
		require.NoError(t, err)
		assert.Len(t, hits, 4)
		assert.Equal(t, "doc#00001", hits[0].ChunkID)
	})

	t.Run("zero query scores zero", func(t *testing.T) {
		hits, err := ix.Search([]float32{0, 0, 0}, 2)
		require.NoError(t, err)
		assert.Equal(t, []Hit{{"doc#00000", 0}, {"doc#00001", 0}}, hits)
	})

	t.Run("invalid k", func(t *testing.T) {
		for _, k := range []int{0, -1} {
			_, err := ix.Search([]float32{1, 0, 0}, k)
			assert.ErrorIs(t, err, core.ErrInvalidArgument)
		}
	})

	t.Run("wrong query dimension", func(t *testing.T) {
		_, err := ix.Search([]float32{1, 0}, 1)
		assert.ErrorIs(t, err, core.ErrInvalidArgument)
	})

	t.Run("empty index", func(t *testing.T) {
		empty, err := Build(nil, nil)
		require.NoError(t, err)
		hits, err := empty.Search([]float32{1, 0, 0}, 5)
		require.NoError(t, err)
		assert.NotNil(t, hits)
		assert.Empty(t, hits)

		_, err = empty.Search([]float32{1}, 0)
		assert.ErrorIs(t, err, core.ErrInvalidArgument)
	})
}

func TestPersistLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	chunks := chunksOf(25)
	embeddings := embeddingsOf(chunks, 32)

	for _, c := range []Compression{CompressionZstd, CompressionLZ4, CompressionNone} {
		t.Run(c.String(), func(t *testing.T) {
			dir := t.TempDir()
			ix, err := Build(chunks, embeddings, WithCompression(c))
			require.NoError(t, err)
			require.NoError(t, ix.Persist(ctx, dir))

			loaded, err := Load(ctx, dir, 32)
			require.NoError(t, err)
			assert.Equal(t, ix.Len(), loaded.Len())
			assert.Equal(t, chunks, loaded.Chunks())

			for _, q := range []string{"chunk text 3", "chunk text 17", "unrelated"} {
				query := mock.DeterministicVector(q, 32)
				want, err := ix.Search(query, 5)
				require.NoError(t, err)
				got, err := loaded.Search(query, 5)
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
		})
	}

	t.Run("persist replaces a previous index", func(t *testing.T) {
		dir := t.TempDir()
		big, err := Build(chunks, embeddings)
		require.NoError(t, err)
		require.NoError(t, big.Persist(ctx, dir))

		small, err := Build(chunks[:2], embeddings[:2])
		require.NoError(t, err)
		require.NoError(t, small.Persist(ctx, dir))

		loaded, err := Load(ctx, dir, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, loaded.Len())
	})
}

func persisted(t *testing.T) string {
	t.Helper()
	chunks := chunksOf(5)
	ix, err := Build(chunks, embeddingsOf(chunks, 8))
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, ix.Persist(context.Background(), dir))
	return dir
}

func rewrite(t *testing.T, path string, edit func([]byte) []byte) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, edit(data), 0644))
}

func TestLoadCorrupt(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		corrupt func(t *testing.T, dir string)
		dim     int
	}{
		{"missing directory", func(t *testing.T, dir string) { require.NoError(t, os.RemoveAll(dir)) }, 8},
		{"bad magic", func(t *testing.T, dir string) {
			rewrite(t, filepath.Join(dir, vectorFileName), func(b []byte) []byte { b[0] = 'X'; return b })
		}, 8},
		{"wrong schema version", func(t *testing.T, dir string) {
			rewrite(t, filepath.Join(dir, vectorFileName), func(b []byte) []byte { b[4] = 9; return b })
		}, 8},
		{"flipped payload byte", func(t *testing.T, dir string) {
			rewrite(t, filepath.Join(dir, vectorFileName), func(b []byte) []byte { b[len(b)-1] ^= 0xFF; return b })
		}, 8},
		{"truncated payload", func(t *testing.T, dir string) {
			rewrite(t, filepath.Join(dir, vectorFileName), func(b []byte) []byte { return b[:len(b)-3] })
		}, 8},
		{"truncated header", func(t *testing.T, dir string) {
			rewrite(t, filepath.Join(dir, vectorFileName), func(b []byte) []byte { return b[:10] })
		}, 8},
		{"dimension mismatch", func(t *testing.T, dir string) {}, 16},
		{"missing chunk table", func(t *testing.T, dir string) {
			require.NoError(t, os.RemoveAll(filepath.Join(dir, chunkDirName)))
		}, 8},
		{"chunk table disagrees", func(t *testing.T, dir string) {
			require.NoError(t, saveChunks(context.Background(), filepath.Join(dir, chunkDirName), chunksOf(3)))
		}, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := persisted(t)
			tt.corrupt(t, dir)
			_, err := Load(ctx, dir, tt.dim)
			assert.ErrorIs(t, err, core.ErrIndexCorrupt)
		})
	}
}

func TestParseCompression(t *testing.T) {
	for name, want := range map[string]Compression{"": CompressionZstd, "zstd": CompressionZstd, "LZ4": CompressionLZ4, "none": CompressionNone} {
		got, err := ParseCompression(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCompression("gzip")
	assert.Error(t, err)
}
