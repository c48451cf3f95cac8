package badger

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/poiesic/finrag/core"
	"github.com/poiesic/finrag/storage"
)

// Key prefixes for different data types
const (
	chunkPrefix        = "chunk"
	chunkOrdinalPrefix = "chunkord"
	chunkSchemaKey     = "chunkmeta:schema"
	documentPrefix     = "doc"
	documentFPPrefix   = "docfp"
	turnPrefix         = "turn"
	turnSeq            = "turnseq"
	snapshotPrefix     = "snap"
	snapshotSeq        = "snapseq"
	aggregateKey       = "aggregate:state"
)

// makeChunkKey generates a key for a chunk by ID.
func makeChunkKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", chunkPrefix, id))
}

// makeChunkOrdinalKey generates a key for the position of a chunk in the index.
// Format: prefix:ordinal
func makeChunkOrdinalKey(ordinal int) []byte {
	prefix := chunkOrdinalPrefix + ":"
	buf := make([]byte, len(prefix)+4)
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint32(buf[offset:], uint32(ordinal))
	return buf
}

// makeDocumentKey generates a key for a document by ID.
func makeDocumentKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", documentPrefix, id))
}

// makeDocumentFingerprintKey generates a key for the fingerprint index.
func makeDocumentFingerprintKey(fingerprint core.ID) []byte {
	return append([]byte(documentFPPrefix+":"), storage.MarshalID(fingerprint)...)
}

// makeTurnKey generates a composite key for a conversation turn.
// Format: prefix:conversationID:seq
func makeTurnKey(conversationID string, seq uint64) []byte {
	prefix := makePartialTurnKey(conversationID)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], seq)
	return buf
}

// makePartialTurnKey generates the prefix of every turn of a conversation.
func makePartialTurnKey(conversationID string) []byte {
	return []byte(turnPrefix + ":" + conversationID + ":")
}

// makeSnapshotKey generates a time-ordered key for a metrics snapshot.
// Format: prefix:timestamp:seq
func makeSnapshotKey(timestamp time.Time, seq uint64) []byte {
	prefix := snapshotPrefix + ":"
	buf := make([]byte, len(prefix)+16)
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(timestamp.UnixMicro()))
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], seq)
	return buf
}

// validateKeyPart rejects identifiers that would break prefix scans.
func validateKeyPart(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s is empty", storage.ErrInvalidKey, kind)
	}
	if strings.ContainsRune(id, ':') {
		return fmt.Errorf("%w: %s %q contains ':'", storage.ErrInvalidKey, kind, id)
	}
	return nil
}
