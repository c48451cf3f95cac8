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


// Package storage provides the storage abstraction layer for finrag.
//
// This package defines repository interfaces that decouple storage implementation
// from retrieval and evaluation logic. The BadgerDB implementation lives in
// storage/badger.
//
// # Architecture
//
// The storage layer follows the Repository pattern:
//
//   - ChunkRepository: chunk metadata of a persisted vector index
//   - DocumentRepository: ingested documents and their content fingerprints
//   - TurnRepository: the conversation turn log
//   - MetricsRepository: bounded metrics snapshot history and saved aggregate state
//
// Values are stored in MUS binary form (github.com/mus-format/mus-go) through
// the serializers in package core. Serialization failures wrap
// ErrSerializationFailed.
//
// # Usage
//
// Open a backend and create the repositories on top of it:
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	turns, err := badger.NewTurnRepository(backend)
//
// Use in tests with in-memory storage:
//
//	repos, err := badger.NewMemoryRepositories()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer repos.Close()
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation.
// Pass context.Background() for operations without specific timeout requirements.
package storage
