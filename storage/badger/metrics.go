package badger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/finrag/core"
	"github.com/poiesic/finrag/storage"
)

// DefaultHistoryLimit is the number of snapshots kept by a MetricsRepository.
const DefaultHistoryLimit = 100

// MetricsRepository implements storage.MetricsRepository for BadgerDB.
type MetricsRepository struct {
	backend *Backend
	seq     *badger.Sequence
	limit   int
	logger  *slog.Logger
}

var _ storage.MetricsRepository = (*MetricsRepository)(nil)

// NewMetricsRepository creates a MetricsRepository keeping the newest limit
// snapshots. A limit <= 0 uses DefaultHistoryLimit.
func NewMetricsRepository(backend *Backend, limit int) (*MetricsRepository, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	seq, err := backend.GetSequence(snapshotSeq)
	if err != nil {
		return nil, err
	}
	return &MetricsRepository{
		backend: backend,
		seq:     seq,
		limit:   limit,
		logger:  slog.Default().With("component", "metrics-repository"),
	}, nil
}

// Close releases the snapshot sequence.
func (r *MetricsRepository) Close() error {
	return r.seq.Release()
}

// SaveSnapshot appends a snapshot and trims the history to the limit.
func (r *MetricsRepository) SaveSnapshot(ctx context.Context, snapshot core.MetricsSnapshot) error {
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now().UTC()
	}
	next, err := r.seq.Next()
	if err != nil {
		return err
	}
	value := storage.MarshalSnapshot(&snapshot)

	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeSnapshotKey(snapshot.Timestamp, next), value); err != nil {
			return err
		}

		var keys [][]byte
		err := scanKeys(tx, []byte(snapshotPrefix+":"), func(key []byte) error {
			keys = append(keys, key)
			return nil
		})
		if err != nil {
			return err
		}

		// The pending write is visible to the iterator of its own transaction.
		if excess := len(keys) - r.limit; excess > 0 {
			for _, key := range keys[:excess] {
				if err := tx.Delete(key); err != nil {
					return err
				}
			}
			r.logger.Debug("trimmed metrics history", "removed", excess)
		}
		return tx.Commit()
	}, true)
}

// GetSnapshots returns the stored snapshots of a conversation, oldest first.
func (r *MetricsRepository) GetSnapshots(ctx context.Context, conversationID string) ([]core.MetricsSnapshot, error) {
	snapshots := []core.MetricsSnapshot{}
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(snapshotPrefix+":"), func(key, value []byte) error {
			snapshot, err := storage.UnmarshalSnapshot(value)
			if err != nil {
				return err
			}
			if conversationID == "" || snapshot.ConversationID == conversationID {
				snapshots = append(snapshots, snapshot)
			}
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

// SaveAggregate stores the aggregate state.
func (r *MetricsRepository) SaveAggregate(ctx context.Context, state core.AggregateState) error {
	value := storage.MarshalAggregate(&state)
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set([]byte(aggregateKey), value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// LoadAggregate returns the saved aggregate state.
func (r *MetricsRepository) LoadAggregate(ctx context.Context) (core.AggregateState, error) {
	var state core.AggregateState
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		value, err := getValue(tx, []byte(aggregateKey))
		if err != nil {
			return err
		}
		state, err = storage.UnmarshalAggregate(value)
		return err
	}, false)
	return state, err
}

// ClearSnapshots removes the snapshot history and the saved aggregate.
func (r *MetricsRepository) ClearSnapshots(ctx context.Context) error {
	return r.backend.DropPrefix(snapshotPrefix+":", aggregateKey)
}
