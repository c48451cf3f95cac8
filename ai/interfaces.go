package ai

import "context"

// Embedder generates vector embeddings from text.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// Failures are reported as errors matching core.ErrEmbeddingUnavailable.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings.
	// The returned slice contains embeddings in the same order as the input texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces answer text from a prompt and its retrieved context.
// Prompt construction belongs to the caller; implementations send the prompt as-is.
type Generator interface {
	// Generate returns the generated answer.
	// Failures are reported as errors matching core.ErrGenerationUnavailable.
	Generate(ctx context.Context, prompt string, retrieved string) (string, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Generator returns the answer-generation service.
	Generator() Generator

	// Close releases resources held by the provider and its services.
	Close() error
}
