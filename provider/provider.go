package provider

import (
	"context"
	"errors"

	"paperdesk/config"
	openai_provider "paperdesk/provider/openai"
)

// Message is one turn handed to the completion model.
type Message = openai_provider.Message

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	Complete(ctx context.Context, system string, messages []Message) (string, error)
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// NewProvider builds the configured completion/embedding client. OpenAI
// is the only backend today; the constructor is the single place a
// second one would slot in.
func NewProvider(cfg config.ProvidersConfig) (Provider, error) {
	if cfg.OpenAI.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY not configured (providers.openai.api_key)")
	}
	return openai_provider.NewOpenAIClient(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.BaseURL,
		cfg.OpenAI.CompletionModel,
		cfg.OpenAI.EmbeddingModel,
		cfg.OpenAI.Temperature,
		cfg.OpenAI.MaxTokens,
		cfg.OpenAI.Timeout,
	), nil
}
