// Package engine is the discovery engine facade. It owns the cluster index,
// the duplicate registry and the bandit arms, keeps them consistent across
// rebuilds and persists their changes through a Store.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/moby/locker"
	"github.com/rs/zerolog"

	"github.com/japanese-wolf/brain-stream/internal/bandit"
	"github.com/japanese-wolf/brain-stream/internal/core/domain"
	"github.com/japanese-wolf/brain-stream/internal/dedup"
	"github.com/japanese-wolf/brain-stream/internal/feed"
	"github.com/japanese-wolf/brain-stream/internal/platform/observability"
	"github.com/japanese-wolf/brain-stream/internal/topology"
)

const (
	logFieldArticle = "article_id"
	logFieldCluster = "cluster"
	logFieldVendor  = "vendor"

	defaultNeighborCount   = 10
	defaultIngestRetries   = 4
	defaultRetryDelay      = 200 * time.Millisecond
	retryDelayMultiplier   = 2
	defaultPageSize        = 20
	maxPageSize            = 200
	defaultSummaryMembers  = 3
	defaultBoundaryMembers = 3
	maxCachedPages         = 64
)

// Embedder turns article text into a vector.
type Embedder interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Options configures the engine components.
type Options struct {
	Topology topology.Config
	Dedup    dedup.Config
	Bandit   bandit.Config

	// NeighborCount is how many neighbors the duplicate check looks at.
	NeighborCount int
	// SerendipitySlots reserves the tail of each page for boundary articles.
	SerendipitySlots int
	// IngestRetries bounds retries of inserts that hit a rebuild window.
	IngestRetries int
	RetryDelay    time.Duration
	Now           func() time.Time
}

// Engine is safe for concurrent use.
type Engine struct {
	index    *topology.Index
	dups     *dedup.Detector
	arms     *bandit.Allocator
	composer *feed.Composer
	embedder Embedder
	store    Store
	logger   *zerolog.Logger

	opts Options

	// mu pairs the partition with its arm table: readers hold it shared,
	// a rebuild commit holds it exclusively.
	mu        sync.RWMutex
	rebuildMu sync.Mutex
	// persistMu orders store writes against partition snapshots: arm and
	// assignment writes hold it shared, SavePartition exclusively.
	persistMu sync.RWMutex
	// keys serializes ingest per article id and store writes per arm.
	keys *locker.Locker

	metaMu   sync.RWMutex
	articles map[domain.ArticleID]domain.RawArticle

	pageMu    sync.Mutex
	lastPages map[pageKey]FeedPage
}

// New wires the engine. store may be nil for in-memory operation.
func New(opts Options, embedder Embedder, store Store, logger *zerolog.Logger) *Engine {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if opts.NeighborCount <= 0 {
		opts.NeighborCount = defaultNeighborCount
	}

	if opts.IngestRetries <= 0 {
		opts.IngestRetries = defaultIngestRetries
	}

	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.Bandit.Now == nil {
		opts.Bandit.Now = opts.Now
	}

	index := topology.New(opts.Topology, logger)
	dups := dedup.New(opts.Dedup, index, logger)
	arms := bandit.New(opts.Bandit, logger)

	return &Engine{
		index:     index,
		dups:      dups,
		arms:      arms,
		composer:  feed.NewComposer(index, arms, dups, logger, feed.WithSerendipity(index, opts.SerendipitySlots)),
		embedder:  embedder,
		store:     store,
		logger:    logger,
		opts:      opts,
		keys:      locker.New(),
		articles:  make(map[domain.ArticleID]domain.RawArticle),
		lastPages: make(map[pageKey]FeedPage),
	}
}

func (e *Engine) article(id domain.ArticleID) (domain.RawArticle, bool) {
	e.metaMu.RLock()
	defer e.metaMu.RUnlock()

	a, ok := e.articles[id]

	return a, ok
}

func (e *Engine) rememberArticle(a domain.RawArticle) {
	e.metaMu.Lock()
	e.articles[a.ID] = a
	e.metaMu.Unlock()
}

func (e *Engine) updateGauges() {
	observability.IndexedArticles.Set(float64(e.index.Len()))
	observability.PartitionVersion.Set(float64(e.index.Version()))
}

// Restore loads persisted state into empty components.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	state, err := e.store.LoadState(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	vectors := make([]domain.ArticleVector, 0, len(state.Articles))
	meta := make(map[domain.ArticleID]domain.RawArticle, len(state.Articles))

	for _, sa := range state.Articles {
		vectors = append(vectors, sa.ArticleVector())
		meta[sa.Article.ID] = sa.Article
	}

	resume := topology.Resume{Version: state.Version, NextID: state.NextClusterID}

	skipped, err := e.index.Restore(vectors, state.Assignments, resume)
	if err != nil {
		return err
	}

	e.arms.Restore(state.Arms)
	e.dups.Restore(state.Links)

	for _, c := range e.index.Clusters() {
		e.arms.Ensure(domain.Clustered(c.ID))
	}

	e.metaMu.Lock()
	e.articles = meta
	e.metaMu.Unlock()

	e.updateGauges()
	observability.Clusters.Set(float64(len(e.index.Clusters())))

	e.logger.Info().
		Int("articles", e.index.Len()).
		Int("skipped", skipped).
		Int("arms", len(state.Arms)).
		Int("links", len(state.Links)).
		Msg("engine state restored")

	return nil
}
