package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/japanese-wolf/brain-stream/internal/core/errors"
)

// Cohere API constants.
const (
	CohereAPIEndpoint     = "https://api.cohere.ai/v1/embed"
	ModelEmbedEnglishV3   = "embed-english-v3.0"
	cohereDimensions      = 1024
	cohereDefaultTimeout  = 30 * time.Second
	cohereInputType       = "clustering"
	headerContentType     = "Content-Type"
	contentTypeJSON       = "application/json"
	maxCohereErrorPayload = 4096
)

// CohereConfig holds configuration for the Cohere provider.
type CohereConfig struct {
	APIKey    string
	Model     string
	RateLimit int
	Timeout   time.Duration
	// Endpoint overrides CohereAPIEndpoint.
	Endpoint string
}

// CohereProvider embeds text with the Cohere embed API.
type CohereProvider struct {
	remoteProvider

	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

type cohereEmbedRequest struct {
	Texts     []string `json:"texts"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
}

type cohereEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type cohereErrorResponse struct {
	Message string `json:"message"`
}

// NewCohereProvider creates a Cohere provider.
func NewCohereProvider(cfg CohereConfig) *CohereProvider {
	if cfg.Model == "" {
		cfg.Model = ModelEmbedEnglishV3
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = cohereDefaultTimeout
	}

	if cfg.Endpoint == "" {
		cfg.Endpoint = CohereAPIEndpoint
	}

	return &CohereProvider{
		remoteProvider: newRemoteProvider(ProviderCohere, PriorityFallback, cohereDimensions, cfg.RateLimit, cfg.APIKey != ""),
		apiKey:         cfg.APIKey,
		model:          cfg.Model,
		endpoint:       cfg.Endpoint,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
	}
}

// Embed requests one embedding. Cohere's clustering input type is used since
// the vectors only ever feed the density partition and the duplicate check.
func (p *CohereProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(cohereEmbedRequest{Texts: []string{text}, Model: p.model, InputType: cohereInputType})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set(headerContentType, contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cohere request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxCohereErrorPayload))

		var apiErr cohereErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("cohere %w (%d): %s", errors.ErrProviderAPI, resp.StatusCode, apiErr.Message)
		}

		return nil, fmt.Errorf("cohere %w: status %d", errors.ErrProviderAPI, resp.StatusCode)
	}

	var out cohereEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("cohere embeddings: %w", errors.ErrEmptyResponse)
	}

	return out.Embeddings[0], nil
}
