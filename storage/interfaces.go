package storage

import (
	"context"

	"github.com/poiesic/finrag/core"
)

// Repository provides operations shared by all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// Close releases resources held by the repository.
	// It does not close the underlying backend.
	Close() error
}

// ChunkRepository stores chunk metadata in chunk order.
type ChunkRepository interface {
	Repository
	// SaveChunks replaces every stored chunk with chunks, keeping their order,
	// and stamps the table with the current schema version.
	SaveChunks(ctx context.Context, chunks []core.Chunk) error

	// GetChunk retrieves a chunk by ID.
	// Returns ErrNotFound if the chunk doesn't exist.
	GetChunk(ctx context.Context, id string) (*core.Chunk, error)

	// ListChunks returns all chunks in the order they were saved.
	ListChunks(ctx context.Context) ([]core.Chunk, error)

	// SchemaVersion returns the version stamped by SaveChunks.
	// Returns ErrNotFound if nothing was ever saved.
	SchemaVersion(ctx context.Context) (int, error)
}

// DocumentRepository registers ingested documents by ID and content fingerprint.
type DocumentRepository interface {
	Repository
	// AddDocuments stores documents, replacing any with the same ID.
	AddDocuments(ctx context.Context, docs ...core.Document) error

	// GetDocument retrieves a document by ID.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id string) (*core.Document, error)

	// FindByFingerprint returns the ID of the document holding identical text.
	// Returns ErrNotFound if no such document exists.
	FindByFingerprint(ctx context.Context, fingerprint core.ID) (string, error)

	// ListDocuments returns all documents ordered by ID.
	ListDocuments(ctx context.Context) ([]core.Document, error)
}

// TurnRepository is the durable log of conversation turns.
type TurnRepository interface {
	Repository
	// AppendTurns appends turns to a conversation in order.
	AppendTurns(ctx context.Context, conversationID string, turns ...core.ConversationTurn) error

	// GetTurns returns the last limit turns of a conversation, oldest first.
	// A limit <= 0 returns every turn.
	GetTurns(ctx context.Context, conversationID string, limit int) ([]core.ConversationTurn, error)
}

// MetricsRepository keeps a bounded history of metrics snapshots and the
// saved state of the running aggregate.
type MetricsRepository interface {
	Repository
	// SaveSnapshot appends a snapshot and drops the oldest ones beyond the history limit.
	SaveSnapshot(ctx context.Context, snapshot core.MetricsSnapshot) error

	// GetSnapshots returns the stored snapshots of a conversation, oldest first.
	// An empty conversationID returns every stored snapshot.
	GetSnapshots(ctx context.Context, conversationID string) ([]core.MetricsSnapshot, error)

	// SaveAggregate stores the aggregate state, replacing the previous one.
	SaveAggregate(ctx context.Context, state core.AggregateState) error

	// LoadAggregate returns the saved aggregate state.
	// Returns ErrNotFound if none was saved.
	LoadAggregate(ctx context.Context) (core.AggregateState, error)

	// ClearSnapshots removes the whole snapshot history and the saved aggregate.
	ClearSnapshots(ctx context.Context) error
}
