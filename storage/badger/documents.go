package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/finrag/core"
	"github.com/poiesic/finrag/storage"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) (*DocumentRepository, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	return &DocumentRepository{backend: backend}, nil
}

// Close is a no-op; the backend is closed by its owner.
func (r *DocumentRepository) Close() error {
	return nil
}

// AddDocuments stores documents and indexes their fingerprints.
func (r *DocumentRepository) AddDocuments(ctx context.Context, docs ...core.Document) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		for i := range docs {
			doc := &docs[i]
			if err := core.ValidateDocument(doc); err != nil {
				return err
			}

			key := makeDocumentKey(doc.ID)

			// Drop the fingerprint of the version being replaced
			if old, err := getValue(tx, key); err == nil {
				prev, err := storage.UnmarshalDocument(old)
				if err != nil {
					return err
				}
				if err := tx.Delete(makeDocumentFingerprintKey(prev.Fingerprint)); err != nil {
					return err
				}
			} else if !errors.Is(err, storage.ErrNotFound) {
				return err
			}

			if err := tx.Set(key, storage.MarshalDocument(doc)); err != nil {
				return err
			}
			if err := tx.Set(makeDocumentFingerprintKey(doc.Fingerprint), []byte(doc.ID)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// GetDocument retrieves a document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	var doc *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		value, err := getValue(tx, makeDocumentKey(id))
		if err != nil {
			return err
		}
		doc, err = storage.UnmarshalDocument(value)
		return err
	}, false)
	return doc, err
}

// FindByFingerprint returns the ID of the document holding identical text.
func (r *DocumentRepository) FindByFingerprint(ctx context.Context, fingerprint core.ID) (string, error) {
	var id string
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		value, err := getValue(tx, makeDocumentFingerprintKey(fingerprint))
		if err != nil {
			return err
		}
		id = string(value)
		return nil
	}, false)
	return id, err
}

// ListDocuments returns all documents ordered by ID.
func (r *DocumentRepository) ListDocuments(ctx context.Context) ([]core.Document, error) {
	var docs []core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(documentPrefix+":"), func(key, value []byte) error {
			doc, err := storage.UnmarshalDocument(value)
			if err != nil {
				return err
			}
			docs = append(docs, *doc)
			return nil
		})
	}, false)
	return docs, err
}
