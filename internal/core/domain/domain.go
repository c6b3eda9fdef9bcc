// Package domain holds the value types shared by the discovery engine components.
package domain

import (
	"math"
	"time"
)

// ArticleID identifies an article across the engine, the store and the API.
type ArticleID string

// RawArticle is a freshly collected article as produced by a source plugin.
type RawArticle struct {
	ID          ArticleID
	Vendor      string
	Title       string
	Text        string
	URL         string
	CollectedAt time.Time
	PublishedAt time.Time
}

// EmbeddingText returns the text that is turned into the article vector.
func (r RawArticle) EmbeddingText() string {
	if r.Title == "" {
		return r.Text
	}

	if r.Text == "" {
		return r.Title
	}

	return r.Title + " " + r.Text
}

// ArticleVector is an article's position in embedding space.
// It is immutable once handed to the cluster index.
type ArticleVector struct {
	ID          ArticleID
	Vector      []float32
	Vendor      string
	CollectedAt time.Time
}

// Clone returns a copy that does not share the vector backing array.
func (a ArticleVector) Clone() ArticleVector {
	out := a
	out.Vector = append([]float32(nil), a.Vector...)

	return out
}

// Finite reports whether every component is a finite number.
func (a ArticleVector) Finite() bool {
	for _, f := range a.Vector {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return false
		}
	}

	return true
}

// Newer reports whether a sorts before b in recency order: most recent first,
// ties broken by id so the order is total.
func Newer(a, b ArticleVector) bool {
	if !a.CollectedAt.Equal(b.CollectedAt) {
		return a.CollectedAt.After(b.CollectedAt)
	}

	return a.ID < b.ID
}

// Earlier reports whether a was collected before b, ties broken by id.
func Earlier(a, b ArticleVector) bool {
	if !a.CollectedAt.Equal(b.CollectedAt) {
		return a.CollectedAt.Before(b.CollectedAt)
	}

	return a.ID < b.ID
}
