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


package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/finrag/ai"
	"github.com/poiesic/finrag/chunking"
	"github.com/poiesic/finrag/index"
	"github.com/poiesic/finrag/ingestion"
	"github.com/poiesic/finrag/retrieval"
	"github.com/poiesic/finrag/storage/badger"
)

// FileName is the config file name inside the config directory.
const FileName = "config.toml"

// Duration is a time.Duration written as a string ("60s") in TOML.
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config is the application configuration.
type Config struct {
	AI        AIConfig        `toml:"ai"`
	Chunking  ChunkingConfig  `toml:"chunking"`
	Retrieval RetrievalConfig `toml:"retrieval"`
	Index     IndexConfig     `toml:"index"`
	Storage   StorageConfig   `toml:"storage"`
	Server    ServerConfig    `toml:"server"`
	Ingestion IngestionConfig `toml:"ingestion"`
}

// AIConfig configures the embedding and generation services.
type AIConfig struct {
	EmbeddingHost   string   `toml:"embedding_host"`
	GenerationHost  string   `toml:"generation_host"`
	EmbeddingModel  string   `toml:"embedding_model"`
	GenerationModel string   `toml:"generation_model"`
	Token           string   `toml:"token"`
	Dimension       int      `toml:"dimension"`
	Timeout         Duration `toml:"timeout"`
}

// ChunkingConfig configures document splitting.
type ChunkingConfig struct {
	MaxTokens     int    `toml:"max_tokens"`
	OverlapTokens int    `toml:"overlap_tokens"`
	Tokenizer     string `toml:"tokenizer"` // word, tiktoken or tiktoken:<encoding>
}

// RetrievalConfig configures hybrid ranking.
type RetrievalConfig struct {
	TopK            int     `toml:"top_k"`
	Alpha           float64 `toml:"alpha"`
	Oversampling    int     `toml:"oversampling"`
	ContinuityBonus float64 `toml:"continuity_bonus"`
	WindowSize      int     `toml:"window_size"`
}

// IndexConfig locates the persisted vector index.
type IndexConfig struct {
	Dir         string `toml:"dir"`
	Compression string `toml:"compression"` // zstd, lz4 or none
}

// StorageConfig locates the conversation and metrics store.
type StorageConfig struct {
	Dir          string `toml:"dir"`
	HistoryLimit int    `toml:"history_limit"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// IngestionConfig configures index building.
type IngestionConfig struct {
	PoolSize       int      `toml:"pool_size"`
	BatchSize      int      `toml:"batch_size"`
	RateLimit      float64  `toml:"rate_limit"` // embedding calls per second, 0 for unlimited
	Burst          int      `toml:"burst"`
	MaxAttempts    int      `toml:"max_attempts"`
	RetryBaseDelay Duration `toml:"retry_base_delay"`
}

// Default returns the built-in configuration.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		AI: AIConfig{
			EmbeddingHost:   aiDefaults.EmbeddingHost,
			GenerationHost:  aiDefaults.GenerationHost,
			EmbeddingModel:  aiDefaults.EmbeddingModel,
			GenerationModel: aiDefaults.GenerationModel,
			Token:           aiDefaults.Token,
			Timeout:         Duration{aiDefaults.Timeout},
		},
		Chunking: ChunkingConfig{
			MaxTokens:     chunking.DefaultMaxTokens,
			OverlapTokens: chunking.DefaultOverlapTokens,
			Tokenizer:     "word",
		},
		Retrieval: RetrievalConfig{
			TopK:            5,
			Alpha:           retrieval.DefaultAlpha,
			Oversampling:    retrieval.DefaultOversampling,
			ContinuityBonus: retrieval.DefaultContinuityBonus,
			WindowSize:      retrieval.DefaultWindowSize,
		},
		Index: IndexConfig{
			Dir:         filepath.Join("data", "index"),
			Compression: index.CompressionZstd.String(),
		},
		Storage: StorageConfig{
			Dir:          filepath.Join("data", "store"),
			HistoryLimit: badger.DefaultHistoryLimit,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Ingestion: IngestionConfig{
			BatchSize:      ingestion.DefaultBatchSize,
			MaxAttempts:    ingestion.DefaultMaxAttempts,
			RetryBaseDelay: Duration{ingestion.DefaultRetryBaseDelay},
		},
	}
}

// DefaultPath returns ~/.finrag/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".finrag", FileName), nil
}

// Load reads the config at path over the defaults. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path, creating its directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Validate checks that every setting is in range.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	if err := c.AIConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}

	ch := c.Chunking
	check(ch.MaxTokens > 0, "chunking.max_tokens must be positive, got %d", ch.MaxTokens)
	check(ch.OverlapTokens >= 0 && ch.OverlapTokens < ch.MaxTokens,
		"chunking.overlap_tokens must be in [0, max_tokens), got %d", ch.OverlapTokens)
	check(validTokenizer(ch.Tokenizer), "chunking.tokenizer %q is not word, tiktoken or tiktoken:<encoding>", ch.Tokenizer)

	r := c.Retrieval
	check(r.TopK > 0, "retrieval.top_k must be positive, got %d", r.TopK)
	check(r.Alpha >= 0 && r.Alpha <= 1, "retrieval.alpha must be in [0,1], got %v", r.Alpha)
	check(r.Oversampling >= 1, "retrieval.oversampling must be at least 1, got %d", r.Oversampling)
	check(r.ContinuityBonus >= 0 && r.ContinuityBonus <= 1,
		"retrieval.continuity_bonus must be in [0,1], got %v", r.ContinuityBonus)
	check(r.WindowSize > 0, "retrieval.window_size must be positive, got %d", r.WindowSize)

	check(c.Index.Dir != "", "index.dir is required")
	if _, err := index.ParseCompression(c.Index.Compression); err != nil {
		errs = append(errs, fmt.Errorf("%w: index.compression: %v", ErrInvalidConfig, err))
	}

	check(c.Storage.Dir != "", "storage.dir is required")
	check(c.Storage.HistoryLimit >= 0, "storage.history_limit cannot be negative")

	in := c.Ingestion
	check(in.PoolSize >= 0, "ingestion.pool_size cannot be negative")
	check(in.BatchSize > 0, "ingestion.batch_size must be positive, got %d", in.BatchSize)
	check(in.RateLimit >= 0, "ingestion.rate_limit cannot be negative")
	check(in.MaxAttempts > 0, "ingestion.max_attempts must be positive, got %d", in.MaxAttempts)

	return errors.Join(errs...)
}

func validTokenizer(name string) bool {
	switch name {
	case "", "word", "tiktoken":
		return true
	}
	encoding, ok := strings.CutPrefix(name, "tiktoken:")
	return ok && encoding != ""
}

// AIConfig converts the [ai] section to an ai.Config.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithGenerationHost(c.AI.GenerationHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithGenerationModel(c.AI.GenerationModel),
		ai.WithToken(c.AI.Token),
		ai.WithDimension(c.AI.Dimension),
		ai.WithTimeout(c.AI.Timeout.Duration),
	)
}
