// Package errors provides centralized error definitions for the discovery engine.
// Errors are organized by domain to avoid duplication and provide consistent naming.
//
// Naming conventions:
//   - Exported errors (Err*): Use for errors that callers need to check with errors.Is
//   - All sentinel errors should be defined as variables, not inline errors.New calls
//   - Use fmt.Errorf with %w to wrap sentinel errors with context
package errors

import "errors"

// Topology errors.
var (
	// ErrInvalidVector indicates a malformed embedding (wrong dimensionality, NaN or Inf).
	// The caller must not retry with the same vector.
	ErrInvalidVector = errors.New("invalid vector")

	// ErrRebuildInProgress indicates the cluster index is inside its exclusive rebuild window.
	// Recoverable: retry after a short wait or read the previous snapshot.
	ErrRebuildInProgress = errors.New("rebuild in progress")

	// ErrStaleRebuild indicates a prepared rebuild no longer matches the live partition.
	ErrStaleRebuild = errors.New("stale rebuild plan")
)

// Consistency errors.
var (
	// ErrUnknownCluster indicates a cluster id with no arm or no cluster in the current partition.
	// It signals a missed migration and must fail the request that hit it.
	ErrUnknownCluster = errors.New("unknown cluster")

	// ErrUnknownArticle indicates an article id the engine has never indexed.
	ErrUnknownArticle = errors.New("unknown article")
)

// Validation errors.
var (
	// ErrInvalidAction indicates a feedback action outside click, bookmark and skip.
	ErrInvalidAction = errors.New("invalid action")

	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConfig indicates configuration values that cannot work together.
	ErrInvalidConfig = errors.New("invalid config")
)

// Embedding provider errors.
var (
	// ErrCircuitBreakerOpen indicates the circuit breaker has tripped and requests are blocked.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

	// ErrEmptyResponse indicates an empty response was received.
	ErrEmptyResponse = errors.New("empty response")

	// ErrProviderAPI indicates an embedding provider rejected the request.
	ErrProviderAPI = errors.New("provider api error")

	// ErrNoProvider indicates no embedding provider is available.
	ErrNoProvider = errors.New("no embedding provider available")
)

// Is is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
