// Package collector fetches articles from vendor feeds and hands them to the engine.
package collector

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/japanese-wolf/brain-stream/internal/core/domain"
	"github.com/japanese-wolf/brain-stream/internal/engine"
	"github.com/japanese-wolf/brain-stream/internal/platform/observability"
)

const (
	logFieldSource = "source"
	logFieldCount  = "count"
)

// Ingester accepts collected articles.
type Ingester interface {
	IngestBatch(ctx context.Context, raws []domain.RawArticle) engine.BatchResult
}

// Summary reports one collection pass.
type Summary struct {
	Fetched    int
	Ingested   int
	Duplicates int
	Existing   int
	Skipped    int
	Failed     []string
	Sources    []SourceResult
}

// SourceResult is one source's share of a pass.
type SourceResult struct {
	Name     string
	Fetched  int
	Ingested int
	Err      error
}

// Fetch statuses reported by Statuses.
const (
	StatusPending = "pending"
	StatusOK      = "ok"
	StatusError   = "error"
)

// SourceStatus describes a configured source and its last fetch.
type SourceStatus struct {
	Name          string
	Vendor        string
	Status        string
	LastFetchedAt time.Time
	Watermark     time.Time
	LastError     string
}

// Collector polls every source and ingests what is new since the last pass.
type Collector struct {
	sources  []Source
	ingester Ingester
	logger   *zerolog.Logger
	now      func() time.Time

	// mu serializes passes; statusMu lets Statuses read during one.
	mu        sync.Mutex
	watermark map[string]time.Time

	statusMu sync.RWMutex
	status   map[string]SourceStatus
}

// New creates a collector over sources.
func New(sources []Source, ingester Ingester, logger *zerolog.Logger) *Collector {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	status := make(map[string]SourceStatus, len(sources))
	for _, src := range sources {
		status[src.Name()] = SourceStatus{Name: src.Name(), Vendor: src.Vendor(), Status: StatusPending}
	}

	return &Collector{
		sources:   sources,
		ingester:  ingester,
		logger:    logger,
		now:       time.Now,
		watermark: make(map[string]time.Time),
		status:    status,
	}
}

// Sources returns the configured source names.
func (c *Collector) Sources() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}

	return names
}

// Statuses reports every source in configuration order.
func (c *Collector) Statuses() []SourceStatus {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()

	out := make([]SourceStatus, 0, len(c.sources))
	for _, src := range c.sources {
		out = append(out, c.status[src.Name()])
	}

	return out
}

func (c *Collector) record(src Source, watermark time.Time, err error) {
	st := SourceStatus{
		Name:          src.Name(),
		Vendor:        src.Vendor(),
		Status:        StatusOK,
		LastFetchedAt: c.now(),
		Watermark:     watermark,
	}

	if err != nil {
		st.Status = StatusError
		st.LastError = err.Error()
	}

	c.statusMu.Lock()
	c.status[src.Name()] = st
	c.statusMu.Unlock()
}

// Collect runs one pass. A failing source is logged and skipped so the
// others still feed the engine.
func (c *Collector) Collect(ctx context.Context) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sum Summary

	for _, src := range c.sources {
		if ctx.Err() != nil {
			break
		}

		since := c.watermark[src.Name()]

		articles, err := src.Fetch(ctx, since)
		if err != nil {
			observability.SourceFetchErrors.WithLabelValues(src.Name()).Inc()
			c.logger.Warn().Err(err).Str(logFieldSource, src.Name()).Msg("source fetch failed")

			sum.Failed = append(sum.Failed, src.Name())
			sum.Sources = append(sum.Sources, SourceResult{Name: src.Name(), Err: err})
			c.record(src, since, err)

			continue
		}

		observability.ArticlesCollected.WithLabelValues(src.Name()).Add(float64(len(articles)))
		sum.Fetched += len(articles)

		if len(articles) == 0 {
			sum.Sources = append(sum.Sources, SourceResult{Name: src.Name()})
			c.record(src, since, nil)

			continue
		}

		res := c.ingester.IngestBatch(ctx, articles)
		sum.Ingested += res.Ingested
		sum.Duplicates += res.Duplicates
		sum.Existing += res.Existing
		sum.Skipped += res.Skipped
		sum.Sources = append(sum.Sources, SourceResult{Name: src.Name(), Fetched: len(articles), Ingested: res.Ingested})

		next := nextWatermark(since, articles, res.Deferred)
		c.watermark[src.Name()] = next
		c.record(src, next, nil)

		c.logger.Info().
			Str(logFieldSource, src.Name()).
			Int(logFieldCount, len(articles)).
			Int("ingested", res.Ingested).
			Int("duplicates", res.Duplicates).
			Int("skipped", res.Skipped).
			Int("deferred", len(res.Deferred)).
			Time("watermark", next).
			Msg("source collected")
	}

	return sum
}

// nextWatermark advances to the newest publication time but stops at the
// oldest deferred article so the next fetch offers it again. It never moves
// backwards.
func nextWatermark(since time.Time, articles []domain.RawArticle, deferred []domain.ArticleID) time.Time {
	out := since

	for _, a := range articles {
		if a.PublishedAt.After(out) {
			out = a.PublishedAt
		}
	}

	if len(deferred) == 0 {
		return out
	}

	retry := make(map[domain.ArticleID]struct{}, len(deferred))
	for _, id := range deferred {
		retry[id] = struct{}{}
	}

	for _, a := range articles {
		if _, ok := retry[a.ID]; !ok || a.PublishedAt.IsZero() {
			continue
		}

		if a.PublishedAt.Before(out) {
			out = a.PublishedAt
		}
	}

	if out.Before(since) {
		return since
	}

	return out
}
