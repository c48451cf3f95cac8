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


package storage

import (
	"fmt"

	"github.com/mus-format/mus-go"
	"github.com/poiesic/finrag/core"
)

func marshal[T any](ser mus.Serializer[T], v T) []byte {
	buf := make([]byte, ser.Size(v))
	ser.Marshal(v, buf)
	return buf
}

func unmarshal[T any](ser mus.Serializer[T], data []byte) (T, error) {
	v, _, err := ser.Unmarshal(data)
	if err != nil {
		return v, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return v, nil
}

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	return marshal(core.IDMUS, id)
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	if len(data) < core.IDMUS.Size(0) {
		return 0, ErrTruncatedData
	}
	return unmarshal(core.IDMUS, data)
}

// MarshalChunk serializes a Chunk to bytes.
func MarshalChunk(chunk *core.Chunk) []byte {
	return marshal(core.ChunkMUS, *chunk)
}

// UnmarshalChunk deserializes a Chunk from bytes.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	chunk, err := unmarshal(core.ChunkMUS, data)
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) []byte {
	return marshal(core.DocumentMUS, *doc)
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	doc, err := unmarshal(core.DocumentMUS, data)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// MarshalTurn serializes a ConversationTurn to bytes.
func MarshalTurn(turn *core.ConversationTurn) []byte {
	return marshal(core.ConversationTurnMUS, *turn)
}

// UnmarshalTurn deserializes a ConversationTurn from bytes.
func UnmarshalTurn(data []byte) (core.ConversationTurn, error) {
	return unmarshal(core.ConversationTurnMUS, data)
}

// MarshalSnapshot serializes a MetricsSnapshot to bytes.
func MarshalSnapshot(snapshot *core.MetricsSnapshot) []byte {
	return marshal(core.MetricsSnapshotMUS, *snapshot)
}

// UnmarshalSnapshot deserializes a MetricsSnapshot from bytes.
func UnmarshalSnapshot(data []byte) (core.MetricsSnapshot, error) {
	return unmarshal(core.MetricsSnapshotMUS, data)
}

// MarshalAggregate serializes an AggregateState to bytes.
func MarshalAggregate(state *core.AggregateState) []byte {
	return marshal(core.AggregateStateMUS, *state)
}

// UnmarshalAggregate deserializes an AggregateState from bytes.
func UnmarshalAggregate(data []byte) (core.AggregateState, error) {
	return unmarshal(core.AggregateStateMUS, data)
}
