package embeddings

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ProviderName identifies an embedding provider.
type ProviderName string

// Provider name constants.
const (
	ProviderOpenAI ProviderName = "openai"
	ProviderCohere ProviderName = "cohere"
	ProviderGoogle ProviderName = "google"
	ProviderMock   ProviderName = "mock"
)

// Priority constants for provider ordering.
const (
	PriorityPrimary        = 100
	PriorityFallback       = 50
	PrioritySecondFallback = 25
	PriorityMock           = 0
)

// DefaultDimensions matches the article_vectors column.
const DefaultDimensions = 1536

const (
	defaultCircuitThreshold = 5
	defaultRateLimiterBurst = 5

	errRateLimiterFmt = "rate limiter: %w"
	mockAPIKey        = "mock"
)

// Provider turns text into a vector.
type Provider interface {
	Name() ProviderName
	Embed(ctx context.Context, text string) ([]float32, error)
	// Available reports whether the provider is configured.
	Available() bool
	// Priority orders providers, higher first.
	Priority() int
	// Dimensions is the native output length.
	Dimensions() int
}

// CircuitBreakerConfig defines circuit breaker settings.
type CircuitBreakerConfig struct {
	Threshold  int
	ResetAfter time.Duration
}

// DefaultCircuitBreakerConfig opens after five consecutive failures for one minute.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold:  defaultCircuitThreshold,
		ResetAfter: time.Minute,
	}
}

// remoteProvider holds what every network-backed provider shares.
type remoteProvider struct {
	name       ProviderName
	priority   int
	dimensions int
	limiter    *rate.Limiter
	available  bool
}

func newRemoteProvider(name ProviderName, priority, dims, ratePerSecond int, available bool) remoteProvider {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}

	return remoteProvider{
		name:       name,
		priority:   priority,
		dimensions: dims,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), defaultRateLimiterBurst),
		available:  available,
	}
}

func (p *remoteProvider) Name() ProviderName { return p.name }

func (p *remoteProvider) Priority() int { return p.priority }

func (p *remoteProvider) Dimensions() int { return p.dimensions }

func (p *remoteProvider) Available() bool { return p.available }

func (p *remoteProvider) wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf(errRateLimiterFmt, err)
	}

	return nil
}
