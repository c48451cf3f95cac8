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


// Package ai defines the boundary to the external AI collaborators of finrag.
//
// The retrieval and evaluation core depends on two services it does not own:
//
//   - Embedder: turns text into fixed-dimension vectors
//   - Generator: turns a prompt plus retrieved context into answer text
//
// AIProvider aggregates both for convenient initialization.
//
// # Implementation Packages
//
//   - ai/openai: production implementation using OpenAI-compatible APIs
//   - ai/mock: test doubles for unit testing without external dependencies
//
// # Constructor Return Type Pattern
//
// Public constructors (openai.NewProvider, openai.NewEmbedder, ...) return
// INTERFACE types to prevent coupling to a concrete implementation:
//
//	provider, err := openai.NewProvider(config)  // returns ai.AIProvider
//
// Test utility constructors (mock.NewMockEmbedder, mock.NewMockGenerator)
// return CONCRETE types so tests can inject behavior and assert call counts:
//
//	mockEmbed := mock.NewMockEmbedder()
//	mockEmbed.WithEmbedTextFunc(...)
//	count := mockEmbed.CallCount()
//
// # Failure Semantics
//
// Implementations bound every call with Config.Timeout and report failures as
// typed errors (core.ErrEmbeddingUnavailable, core.ErrGenerationUnavailable).
// They never retry; retry policy belongs to the caller.
package ai
