package topology

import (
	"fmt"
	"math"
	"strings"

	"github.com/japanese-wolf/brain-stream/internal/core/errors"
)

// Metric names a distance function over embedding vectors.
type Metric string

// Supported metrics.
const (
	MetricEuclidean Metric = "euclidean"
	MetricCosine    Metric = "cosine"
)

// DistanceFunc returns a non-negative distance between two equal-length vectors.
type DistanceFunc func(a, b []float32) float64

// ParseMetric validates a configured metric name.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case MetricEuclidean, MetricCosine:
		return m, nil
	case "":
		return MetricEuclidean, nil
	default:
		return "", fmt.Errorf("%w: unknown metric %q", errors.ErrInvalidConfig, s)
	}
}

// Func returns the distance function for the metric.
func (m Metric) Func() DistanceFunc {
	if m == MetricCosine {
		return CosineDistance
	}

	return EuclideanDistance
}

// EuclideanDistance is the L2 distance.
func EuclideanDistance(a, b []float32) float64 {
	var sum float64

	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}

	return math.Sqrt(sum)
}

// CosineDistance is 1 - cosine similarity, 1 when either vector is zero.
func CosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64

	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 1
	}

	d := 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
	if d < 0 {
		return 0
	}

	return d
}
