package embeddings

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/japanese-wolf/brain-stream/internal/core/errors"
)

// Google embedding constants.
const (
	ModelGeminiEmbedding001 = "gemini-embedding-001"
	googleDimensions        = 3072
)

// GoogleConfig holds configuration for the Gemini embedding provider.
type GoogleConfig struct {
	APIKey    string
	Model     string
	RateLimit int
}

// GoogleProvider embeds text with the Gemini embedding model.
type GoogleProvider struct {
	remoteProvider

	client *genai.Client
	model  string
}

// NewGoogleProvider creates a Gemini provider. Without an API key the
// provider is returned unavailable and no client is opened.
func NewGoogleProvider(ctx context.Context, cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.Model == "" {
		cfg.Model = ModelGeminiEmbedding001
	}

	p := &GoogleProvider{
		remoteProvider: newRemoteProvider(ProviderGoogle, PrioritySecondFallback, googleDimensions, cfg.RateLimit, cfg.APIKey != ""),
		model:          cfg.Model,
	}

	if cfg.APIKey == "" {
		return p, nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating google genai client: %w", err)
	}

	p.client = client

	return p, nil
}

// Embed requests one embedding.
func (p *GoogleProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.client == nil {
		return nil, fmt.Errorf("google embeddings: %w", errors.ErrNoProvider)
	}

	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	resp, err := p.client.EmbeddingModel(p.model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("google %w: %w", errors.ErrProviderAPI, err)
	}

	if resp == nil || resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("google embeddings: %w", errors.ErrEmptyResponse)
	}

	return resp.Embedding.Values, nil
}

// Close releases the Gemini client.
func (p *GoogleProvider) Close() error {
	if p.client == nil {
		return nil
	}

	if err := p.client.Close(); err != nil {
		return fmt.Errorf("closing google embedding client: %w", err)
	}

	return nil
}
