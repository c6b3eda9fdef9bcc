package embeddings

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/japanese-wolf/brain-stream/internal/core/errors"
)

// OpenAI model constants.
const (
	ModelTextEmbedding3Small = "text-embedding-3-small"
	ModelTextEmbedding3Large = "text-embedding-3-large"

	maxLargeDimensions = 3072
	maxSmallDimensions = 1536
)

// OpenAIConfig holds configuration for the OpenAI provider.
type OpenAIConfig struct {
	APIKey string
	// BaseURL points at an OpenAI-compatible endpoint. Empty means api.openai.com.
	BaseURL    string
	Model      string
	Dimensions int
	RateLimit  int
}

// OpenAIProvider embeds text with the OpenAI embeddings API.
type OpenAIProvider struct {
	remoteProvider

	client *openai.Client
	model  string
}

// NewOpenAIProvider creates an OpenAI provider. text-embedding-3-small is the default model.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = ModelTextEmbedding3Small
	}

	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimensions
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		remoteProvider: newRemoteProvider(ProviderOpenAI, PriorityPrimary, cfg.Dimensions, cfg.RateLimit,
			cfg.APIKey != "" && cfg.APIKey != mockAPIKey),
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}
}

// Embed requests one embedding.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.model),
	}

	// The v3 models shorten their output server-side.
	switch p.model {
	case ModelTextEmbedding3Large:
		if p.dimensions < maxLargeDimensions {
			req.Dimensions = p.dimensions
		}
	case ModelTextEmbedding3Small:
		if p.dimensions < maxSmallDimensions {
			req.Dimensions = p.dimensions
		}
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai embeddings: %w", errors.ErrEmptyResponse)
	}

	return resp.Data[0].Embedding, nil
}
