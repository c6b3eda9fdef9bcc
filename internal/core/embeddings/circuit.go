package embeddings

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/japanese-wolf/brain-stream/internal/core/errors"
	"github.com/japanese-wolf/brain-stream/internal/platform/observability"
)

// CircuitBreaker stops calling a provider after repeated failures. Once
// ResetAfter has passed a single probe call is let through; its outcome
// closes the circuit or opens it again.
type CircuitBreaker struct {
	name       ProviderName
	threshold  int
	resetAfter time.Duration
	now        func() time.Time
	logger     *zerolog.Logger

	mu                  sync.Mutex
	consecutiveFailures int
	openUntil           time.Time
	probing             bool
}

// NewCircuitBreaker creates a closed circuit breaker for one provider.
func NewCircuitBreaker(name ProviderName, cfg CircuitBreakerConfig, logger *zerolog.Logger) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultCircuitThreshold
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &CircuitBreaker{
		name:       name,
		threshold:  cfg.Threshold,
		resetAfter: cfg.ResetAfter,
		now:        time.Now,
		logger:     logger,
	}
}

// Allow returns ErrCircuitBreakerOpen while the circuit is open or a probe is in flight.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.openUntil.IsZero() {
		return nil
	}

	now := cb.now()
	if now.Before(cb.openUntil) || cb.probing {
		return fmt.Errorf("%s %w until %v", cb.name, errors.ErrCircuitBreakerOpen, cb.openUntil)
	}

	cb.probing = true

	return nil
}

// RecordSuccess closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.openUntil.IsZero() {
		cb.logger.Info().Str(logKeyProvider, string(cb.name)).Msg("embedding circuit breaker closed")
	}

	cb.consecutiveFailures = 0
	cb.openUntil = time.Time{}
	cb.probing = false

	observability.CircuitBreakerState.WithLabelValues(string(cb.name)).Set(0)
}

// RecordFailure counts a failure and opens the circuit at the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++

	if cb.consecutiveFailures < cb.threshold && !cb.probing {
		return
	}

	cb.probing = false
	cb.openUntil = cb.now().Add(cb.resetAfter)

	observability.CircuitBreakerState.WithLabelValues(string(cb.name)).Set(1)

	cb.logger.Warn().
		Str(logKeyProvider, string(cb.name)).
		Int("consecutive_failures", cb.consecutiveFailures).
		Time("open_until", cb.openUntil).
		Msg("embedding circuit breaker opened")
}

// IsOpen reports whether calls are currently blocked.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return !cb.openUntil.IsZero() && cb.now().Before(cb.openUntil)
}
