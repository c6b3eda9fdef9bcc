package embeddings

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japanese-wolf/brain-stream/internal/core/errors"
)

type stubProvider struct {
	name     ProviderName
	priority int
	vec      []float32
	err      error
	calls    int
}

func (s *stubProvider) Name() ProviderName { return s.name }
func (s *stubProvider) Priority() int      { return s.priority }
func (s *stubProvider) Dimensions() int    { return len(s.vec) }
func (s *stubProvider) Available() bool    { return true }

func (s *stubProvider) Embed(context.Context, string) ([]float32, error) {
	s.calls++

	if s.err != nil {
		return nil, s.err
	}

	return s.vec, nil
}

func TestClientFallsBackInPriorityOrder(t *testing.T) {
	primary := &stubProvider{name: ProviderOpenAI, priority: PriorityPrimary, err: fmt.Errorf("boom: %w", errors.ErrProviderAPI)}
	fallback := &stubProvider{name: ProviderCohere, priority: PriorityFallback, vec: []float32{1, 2}}

	c := NewClientWithProviders(4, CircuitBreakerConfig{Threshold: 2, ResetAfter: time.Hour}, nil, fallback, primary)
	assert.Equal(t, []ProviderName{ProviderOpenAI, ProviderCohere}, c.ProviderNames())

	vec, err := c.GetEmbedding(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 0, 0}, vec)

	_, err = c.GetEmbedding(context.Background(), "hello")
	require.NoError(t, err)

	// The primary breaker is open after two failures and is skipped.
	_, err = c.GetEmbedding(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 2, primary.calls)
	assert.Equal(t, 3, fallback.calls)
}

func TestClientAllProvidersFail(t *testing.T) {
	p := &stubProvider{name: ProviderMock, err: errors.ErrEmptyResponse}
	c := NewClientWithProviders(4, DefaultCircuitBreakerConfig(), nil, p)

	_, err := c.GetEmbedding(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEmptyResponse))

	empty := NewClientWithProviders(4, DefaultCircuitBreakerConfig(), nil)
	_, err = empty.GetEmbedding(context.Background(), "x")
	assert.True(t, errors.Is(err, errors.ErrNoProvider))
}

func TestNewClientDefaultsToMock(t *testing.T) {
	c := NewClient(context.Background(), Config{TargetDimensions: 32}, nil)
	assert.Equal(t, []ProviderName{ProviderMock}, c.ProviderNames())

	vec, err := c.GetEmbedding(context.Background(), "Amazon S3 adds a new storage class")
	require.NoError(t, err)
	assert.Len(t, vec, 32)
}

func TestFitDimensions(t *testing.T) {
	tests := []struct {
		name   string
		in     []float32
		target int
		want   []float32
	}{
		{name: "pad", in: []float32{1}, target: 3, want: []float32{1, 0, 0}},
		{name: "truncate", in: []float32{1, 2, 3}, target: 2, want: []float32{1, 2}},
		{name: "same", in: []float32{1, 2}, target: 2, want: []float32{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FitDimensions(tt.in, tt.target))
		})
	}
}

func TestMockProviderSimilarity(t *testing.T) {
	p := NewMockProviderWithDimensions(256)
	ctx := context.Background()

	a, err := p.Embed(ctx, "AWS announces Lambda SnapStart for Python functions")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "AWS announces Lambda SnapStart for Python and .NET functions")
	require.NoError(t, err)
	c, err := p.Embed(ctx, "GitHub Copilot code review is now generally available")
	require.NoError(t, err)
	again, err := p.Embed(ctx, "AWS announces Lambda SnapStart for Python functions")
	require.NoError(t, err)

	assert.Equal(t, a, again)
	assert.Greater(t, dot(a, b), dot(a, c))
	assert.InDelta(t, 1.0, dot(a, a), 1e-5)

	_, err = p.Embed(ctx, " ... ")
	assert.True(t, errors.Is(err, errors.ErrEmptyResponse))
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}

	return s
}

func TestCohereProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req cohereEmbedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Texts[0] == "fail" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"message":"slow down"}`))

			return
		}

		assert.Equal(t, cohereInputType, req.InputType)
		_, _ = w.Write([]byte(`{"embeddings":[[0.5,0.25]]}`))
	}))
	defer srv.Close()

	p := NewCohereProvider(CohereConfig{APIKey: "key", Endpoint: srv.URL, RateLimit: 100})
	require.True(t, p.Available())

	vec, err := p.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)

	_, err = p.Embed(context.Background(), "fail")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrProviderAPI))
	assert.Contains(t, err.Error(), "slow down")
}

func TestUnconfiguredProvidersAreSkipped(t *testing.T) {
	assert.False(t, NewOpenAIProvider(OpenAIConfig{}).Available())
	assert.False(t, NewOpenAIProvider(OpenAIConfig{APIKey: mockAPIKey}).Available())
	assert.False(t, NewCohereProvider(CohereConfig{}).Available())

	g, err := NewGoogleProvider(context.Background(), GoogleConfig{})
	require.NoError(t, err)
	assert.False(t, g.Available())
	assert.NoError(t, g.Close())
}
