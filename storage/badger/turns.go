package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/finrag/core"
	"github.com/poiesic/finrag/storage"
)

// TurnRepository implements storage.TurnRepository for BadgerDB.
type TurnRepository struct {
	backend *Backend
	seq     *badger.Sequence
}

var _ storage.TurnRepository = (*TurnRepository)(nil)

// NewTurnRepository creates a new TurnRepository.
func NewTurnRepository(backend *Backend) (*TurnRepository, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	seq, err := backend.GetSequence(turnSeq)
	if err != nil {
		return nil, err
	}
	return &TurnRepository{backend: backend, seq: seq}, nil
}

// Close releases the turn sequence.
func (r *TurnRepository) Close() error {
	return r.seq.Release()
}

// AppendTurns appends turns to a conversation in order.
func (r *TurnRepository) AppendTurns(ctx context.Context, conversationID string, turns ...core.ConversationTurn) error {
	if err := validateKeyPart("conversation id", conversationID); err != nil {
		return err
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		for i := range turns {
			if err := core.ValidateConversationTurn(&turns[i]); err != nil {
				return err
			}
			next, err := r.seq.Next()
			if err != nil {
				return err
			}
			if err := tx.Set(makeTurnKey(conversationID, next), storage.MarshalTurn(&turns[i])); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// GetTurns returns the last limit turns of a conversation, oldest first.
func (r *TurnRepository) GetTurns(ctx context.Context, conversationID string, limit int) ([]core.ConversationTurn, error) {
	if err := validateKeyPart("conversation id", conversationID); err != nil {
		return nil, err
	}

	turns := []core.ConversationTurn{}
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, makePartialTurnKey(conversationID), func(key, value []byte) error {
			turn, err := storage.UnmarshalTurn(value)
			if err != nil {
				return err
			}
			turns = append(turns, turn)
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}
