// Package embeddings turns article text into vectors.
//
// Providers (OpenAI, Cohere, Google Gemini and a deterministic local mock) are
// tried in priority order. Each provider sits behind its own circuit breaker
// and every vector is fitted to one target dimensionality so the cluster index
// sees a single vector space.
package embeddings

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/japanese-wolf/brain-stream/internal/core/errors"
	"github.com/japanese-wolf/brain-stream/internal/platform/observability"
)

const (
	logKeyProvider = "provider"

	statusSuccess = "success"
	statusError   = "error"
)

// Config holds configuration for creating an embedding client.
type Config struct {
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
	OpenAIDimensions int
	OpenAIRateLimit  int

	CohereAPIKey    string
	CohereModel     string
	CohereRateLimit int

	GoogleAPIKey    string
	GoogleModel     string
	GoogleRateLimit int

	// ProviderOrder is a comma separated list, e.g. "openai,cohere,google,mock".
	ProviderOrder string

	CircuitBreakerConfig CircuitBreakerConfig

	// TargetDimensions is the length of every returned vector.
	TargetDimensions int
}

type registered struct {
	provider Provider
	breaker  *CircuitBreaker
}

// Client picks the first healthy provider for every request.
type Client struct {
	providers []registered
	target    int
	logger    *zerolog.Logger
	closers   []func() error
}

// NewClient creates a client with the configured providers. With nothing
// configured it falls back to the mock provider.
func NewClient(ctx context.Context, cfg Config, logger *zerolog.Logger) *Client {
	if cfg.TargetDimensions <= 0 {
		cfg.TargetDimensions = DefaultDimensions
	}

	if cfg.CircuitBreakerConfig.ResetAfter == 0 {
		cfg.CircuitBreakerConfig = DefaultCircuitBreakerConfig()
	}

	c := NewClientWithProviders(cfg.TargetDimensions, cfg.CircuitBreakerConfig, logger)

	for _, name := range parseProviderOrder(cfg.ProviderOrder) {
		switch ProviderName(name) {
		case ProviderOpenAI:
			c.Register(NewOpenAIProvider(OpenAIConfig{
				APIKey:     cfg.OpenAIAPIKey,
				BaseURL:    cfg.OpenAIBaseURL,
				Model:      cfg.OpenAIModel,
				Dimensions: cfg.OpenAIDimensions,
				RateLimit:  cfg.OpenAIRateLimit,
			}), cfg.CircuitBreakerConfig)
		case ProviderCohere:
			c.Register(NewCohereProvider(CohereConfig{
				APIKey:    cfg.CohereAPIKey,
				Model:     cfg.CohereModel,
				RateLimit: cfg.CohereRateLimit,
			}), cfg.CircuitBreakerConfig)
		case ProviderGoogle:
			p, err := NewGoogleProvider(ctx, GoogleConfig{
				APIKey:    cfg.GoogleAPIKey,
				Model:     cfg.GoogleModel,
				RateLimit: cfg.GoogleRateLimit,
			})
			if err != nil {
				c.logger.Error().Err(err).Msg("failed to create Google embedding provider")

				continue
			}

			c.closers = append(c.closers, p.Close)
			c.Register(p, cfg.CircuitBreakerConfig)
		case ProviderMock:
			c.Register(NewMockProviderWithDimensions(cfg.TargetDimensions), cfg.CircuitBreakerConfig)
		default:
			c.logger.Warn().Str(logKeyProvider, name).Msg("unknown embedding provider ignored")
		}
	}

	if len(c.providers) == 0 {
		c.logger.Warn().Msg("no embedding providers configured, using mock provider")
		c.Register(NewMockProviderWithDimensions(cfg.TargetDimensions), cfg.CircuitBreakerConfig)
	}

	return c
}

// NewClientWithProviders creates a client from ready providers.
func NewClientWithProviders(target int, cb CircuitBreakerConfig, logger *zerolog.Logger, providers ...Provider) *Client {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	c := &Client{target: target, logger: logger}
	for _, p := range providers {
		c.Register(p, cb)
	}

	return c
}

// Register adds p if it is available. Providers stay sorted by priority.
func (c *Client) Register(p Provider, cb CircuitBreakerConfig) {
	if !p.Available() {
		c.logger.Debug().Str(logKeyProvider, string(p.Name())).Msg("embedding provider not configured")

		return
	}

	c.providers = append(c.providers, registered{provider: p, breaker: NewCircuitBreaker(p.Name(), cb, c.logger)})
	sort.SliceStable(c.providers, func(i, j int) bool {
		return c.providers[i].provider.Priority() > c.providers[j].provider.Priority()
	})

	c.logger.Info().
		Str(logKeyProvider, string(p.Name())).
		Int("priority", p.Priority()).
		Int("dimensions", p.Dimensions()).
		Msg("registered embedding provider")
}

// ProviderNames lists the registered providers in the order they are tried.
func (c *Client) ProviderNames() []ProviderName {
	names := make([]ProviderName, len(c.providers))
	for i, r := range c.providers {
		names[i] = r.provider.Name()
	}

	return names
}

// GetEmbedding returns a vector of the target length from the first provider
// that succeeds.
func (c *Client) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	if len(c.providers) == 0 {
		return nil, errors.ErrNoProvider
	}

	var lastErr error

	for i, r := range c.providers {
		name := string(r.provider.Name())

		if err := r.breaker.Allow(); err != nil {
			lastErr = err

			continue
		}

		start := time.Now()
		vec, err := r.provider.Embed(ctx, text)
		observability.EmbeddingRequestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

		if err != nil {
			r.breaker.RecordFailure()
			observability.EmbeddingRequests.WithLabelValues(name, statusError).Inc()

			lastErr = err

			if ctx.Err() != nil {
				return nil, fmt.Errorf("embedding interrupted: %w", ctx.Err())
			}

			c.logger.Warn().Err(err).Str(logKeyProvider, name).Msg("embedding provider failed, trying fallback")

			continue
		}

		r.breaker.RecordSuccess()
		observability.EmbeddingRequests.WithLabelValues(name, statusSuccess).Inc()

		if i > 0 {
			c.logger.Info().Str(logKeyProvider, name).Msg("used fallback embedding provider")
		}

		return FitDimensions(vec, c.target), nil
	}

	return nil, fmt.Errorf("all embedding providers failed: %w", lastErr)
}

// Close releases provider clients.
func (c *Client) Close() error {
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			return err
		}
	}

	return nil
}

// FitDimensions pads with zeros or truncates vec to target. Zero padding
// leaves cosine and euclidean distances between padded vectors unchanged.
func FitDimensions(vec []float32, target int) []float32 {
	if target <= 0 || len(vec) == target {
		return vec
	}

	if len(vec) > target {
		return vec[:target]
	}

	padded := make([]float32, target)
	copy(padded, vec)

	return padded
}

func parseProviderOrder(order string) []string {
	if strings.TrimSpace(order) == "" {
		return []string{string(ProviderOpenAI), string(ProviderCohere), string(ProviderGoogle)}
	}

	var providers []string

	for _, p := range strings.Split(order, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			providers = append(providers, p)
		}
	}

	return providers
}
