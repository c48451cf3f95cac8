// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"fmt"
	"strings"
	"time"
)

// ValidateDocument validates a Document according to domain rules.
//
// Validation rules:
//   - ID must not be empty
//   - ID must not contain '#', which separates document and chunk sequence in chunk IDs
//
// NOT validated:
//   - Text (emptiness is a chunking failure, reported by the chunker)
//   - Fingerprint (recomputed by ingestion)
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidDocument)
	}
	if strings.Contains(doc.ID, "#") {
		return fmt.Errorf("%w: id %q cannot contain '#'", ErrInvalidDocument, doc.ID)
	}
	return nil
}

// ValidateChunk validates a Chunk according to domain rules.
//
// Validation rules:
//   - ID and DocumentID must not be empty
//   - offsets must describe a non-empty, non-negative range
//   - TokenCount must be positive
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}
	if chunk.ID == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidChunk)
	}
	if chunk.DocumentID == "" {
		return fmt.Errorf("%w: document id cannot be empty", ErrInvalidChunk)
	}
	if chunk.StartOffset < 0 || chunk.EndOffset <= chunk.StartOffset {
		return fmt.Errorf("%w: invalid span [%d,%d)", ErrInvalidChunk, chunk.StartOffset, chunk.EndOffset)
	}
	if chunk.TokenCount <= 0 {
		return fmt.Errorf("%w: token count must be positive", ErrInvalidChunk)
	}
	return nil
}

// ValidateConversationTurn validates a ConversationTurn according to domain rules.
//
// Validation rules:
//   - Role must be user or assistant
//   - Text must not be empty
//   - Timestamp must not be in the future
func ValidateConversationTurn(turn *ConversationTurn) error {
	if turn == nil {
		return fmt.Errorf("%w: turn is nil", ErrInvalidTurn)
	}
	if turn.Role != RoleUser && turn.Role != RoleAssistant {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidTurn, turn.Role)
	}
	if strings.TrimSpace(turn.Text) == "" {
		return fmt.Errorf("%w: text cannot be empty", ErrInvalidTurn)
	}
	if turn.Timestamp.After(time.Now().Add(time.Minute)) {
		return fmt.Errorf("%w: timestamp cannot be in the future", ErrInvalidTurn)
	}
	return nil
}
