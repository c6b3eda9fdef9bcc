package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/japanese-wolf/brain-stream/internal/core/domain"
	"github.com/japanese-wolf/brain-stream/internal/core/errors"
	"github.com/japanese-wolf/brain-stream/internal/platform/observability"
)

// FeedRequest filters the candidate set before composition.
type FeedRequest struct {
	PageSize int
	// Vendor keeps only articles from this vendor, case-insensitively.
	Vendor string
	// PrimaryOnly keeps only articles from official vendors.
	PrimaryOnly bool
	// Since drops articles collected before it.
	Since time.Time
}

// pageKey identifies a fallback page. Page size and Since are applied when
// the page is served, so they do not multiply the cache.
type pageKey struct {
	vendor      string
	primaryOnly bool
}

func (r FeedRequest) key() pageKey {
	return pageKey{vendor: cases.Fold().String(strings.TrimSpace(r.Vendor)), primaryOnly: r.PrimaryOnly}
}

// FeedItem is one entry of a composed page.
type FeedItem struct {
	ID          domain.ArticleID
	Vendor      string
	Title       string
	URL         string
	CollectedAt time.Time
	PublishedAt time.Time
	Cluster     domain.Assignment
	Official    bool
}

// FeedPage is a composed page.
type FeedPage struct {
	Items []FeedItem
	// Version is the partition version the page was composed against.
	Version uint64
	// Stale is set when the page is the last good page served during a rebuild commit.
	Stale bool
}

// GetFeed composes a page. While a rebuild commit holds the engine it
// returns the last page composed for the same vendor and primary filter,
// cut to the requested size and Since.
func (e *Engine) GetFeed(ctx context.Context, req FeedRequest) (FeedPage, error) {
	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	if err := ctx.Err(); err != nil {
		return FeedPage{}, err
	}

	if !e.mu.TryRLock() {
		return e.fallbackPage(req)
	}

	page, err := e.compose(req)
	e.mu.RUnlock()

	if err != nil {
		observability.FeedRequests.WithLabelValues("error").Inc()

		return FeedPage{}, err
	}

	observability.FeedRequests.WithLabelValues("ok").Inc()

	e.rememberPage(req.key(), page)

	return page, nil
}

// rememberPage keeps the latest page per key. Past maxCachedPages keys an
// arbitrary other entry is evicted.
func (e *Engine) rememberPage(key pageKey, page FeedPage) {
	e.pageMu.Lock()
	defer e.pageMu.Unlock()

	if _, ok := e.lastPages[key]; !ok && len(e.lastPages) >= maxCachedPages {
		for k := range e.lastPages {
			delete(e.lastPages, k)

			break
		}
	}

	e.lastPages[key] = page
}

func (e *Engine) compose(req FeedRequest) (FeedPage, error) {
	vendor := cases.Fold().String(strings.TrimSpace(req.Vendor))
	fold := cases.Fold()

	var candidates []domain.ArticleID

	for _, a := range e.index.Articles() {
		if vendor != "" && fold.String(a.Vendor) != vendor {
			continue
		}

		if req.PrimaryOnly && !e.dups.IsOfficial(a.Vendor) {
			continue
		}

		if !req.Since.IsZero() && a.CollectedAt.Before(req.Since) {
			continue
		}

		candidates = append(candidates, a.ID)
	}

	ids, err := e.composer.Compose(candidates, req.PageSize)
	if err != nil {
		e.reportConsistency(err, "compose")

		return FeedPage{}, fmt.Errorf("compose feed: %w", err)
	}

	page := FeedPage{Items: make([]FeedItem, 0, len(ids)), Version: e.index.Version()}

	for _, id := range ids {
		item := FeedItem{ID: id}

		if raw, ok := e.article(id); ok {
			item.Vendor = raw.Vendor
			item.Title = raw.Title
			item.URL = raw.URL
			item.CollectedAt = raw.CollectedAt
			item.PublishedAt = raw.PublishedAt
		}

		item.Cluster, _ = e.index.Assignment(id)
		item.Official = e.dups.IsOfficial(item.Vendor)
		page.Items = append(page.Items, item)
	}

	return page, nil
}

func (e *Engine) fallbackPage(req FeedRequest) (FeedPage, error) {
	e.pageMu.Lock()
	page, ok := e.lastPages[req.key()]
	e.pageMu.Unlock()

	if !ok {
		observability.FeedRequests.WithLabelValues("unavailable").Inc()

		return FeedPage{}, fmt.Errorf("get feed: %w", errors.ErrRebuildInProgress)
	}

	observability.FeedRequests.WithLabelValues("stale").Inc()

	items := make([]FeedItem, 0, min(len(page.Items), req.PageSize))

	for _, it := range page.Items {
		if len(items) >= req.PageSize {
			break
		}

		if !req.Since.IsZero() && it.CollectedAt.Before(req.Since) {
			continue
		}

		items = append(items, it)
	}

	return FeedPage{Items: items, Version: page.Version, Stale: true}, nil
}
