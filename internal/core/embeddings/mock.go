package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/japanese-wolf/brain-stream/internal/core/errors"
)

// MockProvider produces deterministic feature-hashed vectors: every word and
// word pair is hashed to a signed bucket and the result is normalised, so
// texts that share most of their words land close together. It needs no
// network and is used for local runs and tests.
type MockProvider struct {
	dimensions int
}

// NewMockProvider creates a mock provider with DefaultDimensions.
func NewMockProvider() *MockProvider {
	return NewMockProviderWithDimensions(DefaultDimensions)
}

// NewMockProviderWithDimensions creates a mock provider with custom dimensions.
func NewMockProviderWithDimensions(dims int) *MockProvider {
	if dims <= 0 {
		dims = DefaultDimensions
	}

	return &MockProvider{dimensions: dims}
}

func (p *MockProvider) Name() ProviderName { return ProviderMock }

func (p *MockProvider) Priority() int { return PriorityMock }

func (p *MockProvider) Dimensions() int { return p.dimensions }

func (p *MockProvider) Available() bool { return true }

// Embed hashes the words of text into a unit vector.
func (p *MockProvider) Embed(_ context.Context, text string) ([]float32, error) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	if len(words) == 0 {
		return nil, fmt.Errorf("mock embeddings: %w", errors.ErrEmptyResponse)
	}

	vec := make([]float64, p.dimensions)

	for i, w := range words {
		p.addFeature(vec, w, 1)

		if i > 0 {
			p.addFeature(vec, words[i-1]+" "+w, 0.5)
		}
	}

	var norm float64
	for _, x := range vec {
		norm += x * x
	}

	if norm == 0 {
		return nil, fmt.Errorf("mock embeddings: %w", errors.ErrEmptyResponse)
	}

	norm = math.Sqrt(norm)
	out := make([]float32, p.dimensions)

	for i, x := range vec {
		out[i] = float32(x / norm)
	}

	return out, nil
}

func (p *MockProvider) addFeature(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature)) // fnv.Write never returns an error
	sum := h.Sum64()

	bucket := sum % uint64(p.dimensions)
	if sum>>63 == 1 {
		weight = -weight
	}

	vec[bucket] += weight
}
