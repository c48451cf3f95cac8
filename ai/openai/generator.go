package openai

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/finrag/ai"
	"github.com/poiesic/finrag/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	defaultTemperature = 0.1
	defaultMaxTokens   = 2000
)

// Generator implements ai.Generator using OpenAI-compatible chat APIs.
type Generator struct {
	client  llms.Model
	timeout time.Duration
	logger  *slog.Logger
}

var _ ai.Generator = (*Generator)(nil)

// newGenerator is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newGenerator(config *ai.Config) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.GenerationHost),
		openai.WithToken(config.Token),
		openai.WithModel(config.GenerationModel),
	)
	if err != nil {
		return nil, err
	}

	return newGeneratorFromModel(client, config.Timeout), nil
}

func newGeneratorFromModel(model llms.Model, timeout time.Duration) *Generator {
	return &Generator{
		client:  model,
		timeout: timeout,
		logger:  slog.Default().With("component", "openai-generator"),
	}
}

// NewGenerator creates a new answer generator using the provided configuration.
//
// Returns ai.Generator interface to enforce abstraction.
func NewGenerator(config *ai.Config) (ai.Generator, error) {
	return newGenerator(config)
}

// Generate sends the prompt to the model. The retrieved argument is informational:
// callers embed it into the prompt themselves, it is only logged here.
func (g *Generator) Generate(ctx context.Context, prompt string, retrieved string) (string, error) {
	g.logger.Debug("generating answer", "promptLength", len(prompt), "contextLength", len(retrieved))

	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	answer, err := llms.GenerateFromSinglePrompt(ctx, g.client, prompt,
		llms.WithTemperature(defaultTemperature),
		llms.WithMaxTokens(defaultMaxTokens),
	)
	if err != nil {
		g.logger.Error("failed to generate answer", "err", err)
		return "", core.NewGenerationError("generate answer", prompt, err)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", core.NewGenerationError("generate answer", prompt, errors.New("empty response from model"))
	}
	return answer, nil
}
