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
	"errors"
	"fmt"
)

// Failure taxonomy of the retrieval and evaluation engine.
var (
	// ErrChunking indicates a document could not be split into chunks.
	ErrChunking = errors.New("chunking failed")

	// ErrIndexBuild indicates chunks and embeddings could not be paired into an index.
	ErrIndexBuild = errors.New("index build failed")

	// ErrIndexCorrupt indicates a persisted index failed structural checks on load.
	ErrIndexCorrupt = errors.New("index corrupt")

	// ErrInvalidArgument indicates a caller contract violation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEmbeddingUnavailable indicates the embedding service failed or timed out.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrGenerationUnavailable indicates the answer-generation service failed or timed out.
	ErrGenerationUnavailable = errors.New("generation service unavailable")
)

// Domain validation errors
var (
	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrInvalidTurn indicates a ConversationTurn failed validation.
	ErrInvalidTurn = errors.New("invalid conversation turn")
)

// maxErrorInput bounds how much of the offending input is kept in an error.
const maxErrorInput = 80

// CollaboratorError reports a failed call to an external service.
// errors.Is matches both Kind and the underlying cause.
type CollaboratorError struct {
	Kind  error  // ErrEmbeddingUnavailable or ErrGenerationUnavailable
	Op    string // the collaborator call, e.g. "embed query"
	Input string // truncated input of the failed call
	Err   error
}

func (e *CollaboratorError) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%v: %s %q: %v", e.Kind, e.Op, e.Input, e.Err)
}

func (e *CollaboratorError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// NewEmbeddingError wraps a failed embedding call.
func NewEmbeddingError(op, input string, err error) error {
	return &CollaboratorError{Kind: ErrEmbeddingUnavailable, Op: op, Input: truncate(input), Err: err}
}

// NewGenerationError wraps a failed generation call.
func NewGenerationError(op, input string, err error) error {
	return &CollaboratorError{Kind: ErrGenerationUnavailable, Op: op, Input: truncate(input), Err: err}
}

// IsCollaboratorFailure reports whether err was caused by an external service.
func IsCollaboratorFailure(err error) bool {
	return errors.Is(err, ErrEmbeddingUnavailable) || errors.Is(err, ErrGenerationUnavailable)
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxErrorInput {
		return s
	}
	return string(r[:maxErrorInput]) + "..."
}
