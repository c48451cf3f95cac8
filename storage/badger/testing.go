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


package badger

import (
	"errors"

	"github.com/poiesic/finrag/storage"
)

// Repositories bundles every repository opened on one backend.
type Repositories struct {
	Chunks    storage.ChunkRepository
	Documents storage.DocumentRepository
	Turns     storage.TurnRepository
	Metrics   storage.MetricsRepository
	Backend   *Backend
}

// OpenRepositories opens a backend at path and creates every repository on it.
// historyLimit bounds the metrics snapshot history, DefaultHistoryLimit when <= 0.
func OpenRepositories(path string, inMemory bool, historyLimit int) (*Repositories, error) {
	backend, err := OpenBackend(path, inMemory)
	if err != nil {
		return nil, err
	}

	repos := &Repositories{Backend: backend}

	chunks, err := NewChunkRepository(backend)
	if err != nil {
		return nil, errors.Join(err, repos.Close())
	}
	repos.Chunks = chunks

	documents, err := NewDocumentRepository(backend)
	if err != nil {
		return nil, errors.Join(err, repos.Close())
	}
	repos.Documents = documents

	turns, err := NewTurnRepository(backend)
	if err != nil {
		return nil, errors.Join(err, repos.Close())
	}
	repos.Turns = turns

	metrics, err := NewMetricsRepository(backend, historyLimit)
	if err != nil {
		return nil, errors.Join(err, repos.Close())
	}
	repos.Metrics = metrics

	return repos, nil
}

// NewMemoryRepositories creates in-memory repositories for testing.
// Caller must Close the result when done.
func NewMemoryRepositories() (*Repositories, error) {
	return OpenRepositories("", true, DefaultHistoryLimit)
}

// Close closes every repository and then the backend.
func (r *Repositories) Close() error {
	var errs []error
	for _, repo := range []storage.Repository{r.Chunks, r.Documents, r.Turns, r.Metrics} {
		if repo != nil {
			errs = append(errs, repo.Close())
		}
	}
	if r.Backend != nil {
		errs = append(errs, r.Backend.Close())
	}
	return errors.Join(errs...)
}
