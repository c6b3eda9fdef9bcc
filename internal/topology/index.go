// Package topology maintains the density-based partition of all collected articles.
//
// The Index assigns new articles incrementally to the nearest cluster centroid
// within a density radius and periodically recomputes the whole partition with
// HDBSCAN. Only a rebuild may create, merge, split or dissolve clusters; between
// rebuilds clusters only grow and everything else is noise.
package topology

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/japanese-wolf/brain-stream/internal/core/domain"
	"github.com/japanese-wolf/brain-stream/internal/core/errors"
)

const (
	logFieldArticle = "article_id"
	logFieldCluster = "cluster"

	defaultMinClusterSize = 5
)

// Config holds the clustering parameters.
type Config struct {
	// Dimensions fixes the vector length. Zero means the first insert decides.
	Dimensions int
	// DensityRadius is the maximum centroid distance for incremental assignment.
	DensityRadius float64
	// MinClusterSize is the smallest group HDBSCAN keeps as a cluster.
	MinClusterSize int
	// MinSamples is the neighbour count used for core distances. Zero means MinClusterSize.
	MinSamples int
	Selection  Selection
	Metric     Metric
}

// Neighbor is a stored article with its distance to a query vector.
type Neighbor struct {
	Article  domain.ArticleVector
	Distance float64
}

type clusterState struct {
	members  map[domain.ArticleID]struct{}
	sum      []float64
	centroid []float32
	stale    bool
}

func newClusterState(dims int) *clusterState {
	return &clusterState{
		members: make(map[domain.ArticleID]struct{}),
		sum:     make([]float64, dims),
		stale:   true,
	}
}

func (c *clusterState) add(v domain.ArticleVector) {
	c.members[v.ID] = struct{}{}
	for i, f := range v.Vector {
		c.sum[i] += float64(f)
	}

	c.stale = true
}

// currentCentroid returns the cached centroid or computes a fresh one without caching it.
func (c *clusterState) currentCentroid() []float32 {
	if !c.stale && c.centroid != nil {
		return c.centroid
	}

	out := make([]float32, len(c.sum))
	if len(c.members) == 0 {
		return out
	}

	for i, s := range c.sum {
		out[i] = float32(s / float64(len(c.members)))
	}

	return out
}

// refresh recomputes a stale centroid. Callers hold the write lock.
func (c *clusterState) refresh() {
	if c.stale || c.centroid == nil {
		c.centroid = c.currentCentroid()
		c.stale = false
	}
}

// partition is one generation of the clustering.
type partition struct {
	version     uint64
	clusters    map[domain.ClusterID]*clusterState
	assignments map[domain.ArticleID]domain.Assignment
}

func newPartition(version uint64) *partition {
	return &partition{
		version:     version,
		clusters:    make(map[domain.ClusterID]*clusterState),
		assignments: make(map[domain.ArticleID]domain.Assignment),
	}
}

// Index owns every ArticleVector, the cluster partition and the article to cluster map.
type Index struct {
	cfg      Config
	distance DistanceFunc
	logger   *zerolog.Logger

	mu         sync.RWMutex
	dims       int
	vectors    map[domain.ArticleID]domain.ArticleVector
	order      []domain.ArticleID
	part       *partition
	nextID     domain.ClusterID
	rebuilding bool
}

// New creates an empty index.
func New(cfg Config, logger *zerolog.Logger) *Index {
	if cfg.MinClusterSize < 2 {
		cfg.MinClusterSize = defaultMinClusterSize
	}

	if cfg.MinSamples <= 0 {
		cfg.MinSamples = cfg.MinClusterSize
	}

	if cfg.Selection == "" {
		cfg.Selection = SelectionEOM
	}

	if cfg.Metric == "" {
		cfg.Metric = MetricEuclidean
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Index{
		cfg:      cfg,
		distance: cfg.Metric.Func(),
		logger:   logger,
		dims:     cfg.Dimensions,
		vectors:  make(map[domain.ArticleID]domain.ArticleVector),
		part:     newPartition(0),
	}
}

// Validate checks dimensionality and finiteness against the index.
func (idx *Index) Validate(v domain.ArticleVector) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.validateLocked(v)
}

func (idx *Index) validateLocked(v domain.ArticleVector) error {
	if v.ID == "" {
		return fmt.Errorf("%w: empty article id", errors.ErrInvalidVector)
	}

	if len(v.Vector) == 0 {
		return fmt.Errorf("%w: empty vector for %s", errors.ErrInvalidVector, v.ID)
	}

	if idx.dims > 0 && len(v.Vector) != idx.dims {
		return fmt.Errorf("%w: %s has %d dimensions, want %d", errors.ErrInvalidVector, v.ID, len(v.Vector), idx.dims)
	}

	if !v.Finite() {
		return fmt.Errorf("%w: %s has non-finite components", errors.ErrInvalidVector, v.ID)
	}

	return nil
}

// Insert stores v and assigns it to the nearest cluster within the density
// radius, or to noise. Inserting a known id returns its current assignment.
func (idx *Index) Insert(v domain.ArticleVector) (domain.Assignment, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.rebuilding {
		return domain.Noise, fmt.Errorf("insert %s: %w", v.ID, errors.ErrRebuildInProgress)
	}

	if err := idx.validateLocked(v); err != nil {
		return domain.Noise, err
	}

	if a, ok := idx.part.assignments[v.ID]; ok {
		return a, nil
	}

	if idx.dims == 0 {
		idx.dims = len(v.Vector)
	}

	v = v.Clone()
	idx.vectors[v.ID] = v
	idx.order = append(idx.order, v.ID)

	assignment := idx.nearestClusterLocked(v.Vector)
	if id, ok := assignment.ClusterID(); ok {
		idx.part.clusters[id].add(v)
	}

	idx.part.assignments[v.ID] = assignment
	idx.part.version++

	idx.logger.Debug().Str(logFieldArticle, string(v.ID)).Stringer(logFieldCluster, assignment).Msg("article indexed")

	return assignment, nil
}

func (idx *Index) nearestClusterLocked(vec []float32) domain.Assignment {
	best := domain.Noise
	bestDist := math.Inf(1)

	for _, id := range idx.sortedClusterIDsLocked() {
		c := idx.part.clusters[id]
		c.refresh()

		d := idx.distance(vec, c.centroid)
		if d <= idx.cfg.DensityRadius && d < bestDist {
			best = domain.Clustered(id)
			bestDist = d
		}
	}

	return best
}

func (idx *Index) sortedClusterIDsLocked() []domain.ClusterID {
	ids := make([]domain.ClusterID, 0, len(idx.part.clusters))
	for id := range idx.part.clusters {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// Neighbors returns up to k stored articles nearest to v, never v itself.
// Equal distances prefer the earlier collected article.
func (idx *Index) Neighbors(v domain.ArticleVector, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := idx.validateLocked(v); err != nil {
		return nil, err
	}

	out := make([]Neighbor, 0, len(idx.vectors))

	for id, stored := range idx.vectors {
		if id == v.ID {
			continue
		}

		out = append(out, Neighbor{Article: stored, Distance: idx.distance(v.Vector, stored.Vector)})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}

		return domain.Earlier(out[i].Article, out[j].Article)
	})

	if len(out) > k {
		out = out[:k]
	}

	return out, nil
}

// Assignment returns the current placement of an article.
func (idx *Index) Assignment(id domain.ArticleID) (domain.Assignment, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	a, ok := idx.part.assignments[id]

	return a, ok
}

// Article returns a stored article vector.
func (idx *Index) Article(id domain.ArticleID) (domain.ArticleVector, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	v, ok := idx.vectors[id]

	return v, ok
}

// Lookup returns the article and its assignment in one read.
func (idx *Index) Lookup(id domain.ArticleID) (domain.ArticleVector, domain.Assignment, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	v, ok := idx.vectors[id]
	if !ok {
		return domain.ArticleVector{}, domain.Noise, false
	}

	return v, idx.part.assignments[id], true
}

// Articles returns every stored article in insertion order.
func (idx *Index) Articles() []domain.ArticleVector {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]domain.ArticleVector, 0, len(idx.order))
	for _, id := range idx.order {
		out = append(out, idx.vectors[id])
	}

	return out
}

// Len returns the number of stored articles.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return len(idx.vectors)
}

// Version returns the partition version. It grows on every insert and rebuild.
func (idx *Index) Version() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.part.version
}

// Rebuilding reports whether a rebuild window is open.
func (idx *Index) Rebuilding() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.rebuilding
}

// Clusters returns the current clusters sorted by id.
func (idx *Index) Clusters() []domain.Cluster {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return idx.clustersLocked()
}

func (idx *Index) clustersLocked() []domain.Cluster {
	total := len(idx.vectors)
	out := make([]domain.Cluster, 0, len(idx.part.clusters))

	for _, id := range idx.sortedClusterIDsLocked() {
		c := idx.part.clusters[id]
		members := make(map[domain.ArticleID]struct{}, len(c.members))

		for m := range c.members {
			members[m] = struct{}{}
		}

		var density float64
		if total > 0 {
			density = float64(len(c.members)) / float64(total)
		}

		out = append(out, domain.Cluster{
			ID:       id,
			Members:  members,
			Centroid: c.currentCentroid(),
			Density:  density,
		})
	}

	return out
}

// Boundary returns up to n members of a cluster farthest from its centroid.
// These sit on the edge of a topic and make good serendipity candidates.
func (idx *Index) Boundary(id domain.ClusterID, n int) ([]domain.ArticleID, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	c, ok := idx.part.clusters[id]
	if !ok {
		return nil, fmt.Errorf("boundary of %d: %w", id, errors.ErrUnknownCluster)
	}

	centroid := c.currentCentroid()
	members := make([]Neighbor, 0, len(c.members))

	for m := range c.members {
		v := idx.vectors[m]
		members = append(members, Neighbor{Article: v, Distance: idx.distance(v.Vector, centroid)})
	}

	sort.Slice(members, func(i, j int) bool {
		if members[i].Distance != members[j].Distance {
			return members[i].Distance > members[j].Distance
		}

		return members[i].Article.ID < members[j].Article.ID
	})

	if len(members) > n {
		members = members[:n]
	}

	out := make([]domain.ArticleID, len(members))
	for i, m := range members {
		out[i] = m.Article.ID
	}

	return out, nil
}

// Snapshot is a read view bound to one partition version.
type Snapshot struct {
	Version     uint64
	Assignments map[domain.ArticleID]domain.Assignment
	Clusters    []domain.Cluster
	NextID      domain.ClusterID
}

// Snapshot copies the current partition.
func (idx *Index) Snapshot() Snapshot {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	assignments := make(map[domain.ArticleID]domain.Assignment, len(idx.part.assignments))
	for id, a := range idx.part.assignments {
		assignments[id] = a
	}

	return Snapshot{
		Version:     idx.part.version,
		Assignments: assignments,
		Clusters:    idx.clustersLocked(),
		NextID:      idx.nextID,
	}
}

// Resume carries the counters a restored index continues from.
type Resume struct {
	// Version is the last persisted partition version.
	Version uint64
	// NextID is the first cluster id not yet handed out, retired ids included.
	NextID domain.ClusterID
}

// Restore replaces the index content with persisted state. Vectors that fail
// validation are skipped and counted; unknown assignments become noise.
// Cluster ids continue after both resume.NextID and every restored id.
func (idx *Index) Restore(vectors []domain.ArticleVector, assignments map[domain.ArticleID]domain.Assignment, resume Resume) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.rebuilding {
		return 0, fmt.Errorf("restore: %w", errors.ErrRebuildInProgress)
	}

	idx.vectors = make(map[domain.ArticleID]domain.ArticleVector, len(vectors))
	idx.order = idx.order[:0]
	idx.dims = idx.cfg.Dimensions
	idx.part = newPartition(max(idx.part.version, resume.Version) + 1)
	idx.nextID = max(resume.NextID, 0)

	skipped := 0

	for _, v := range vectors {
		if err := idx.validateLocked(v); err != nil {
			idx.logger.Warn().Err(err).Str(logFieldArticle, string(v.ID)).Msg("skipping persisted vector")

			skipped++

			continue
		}

		if _, dup := idx.vectors[v.ID]; dup {
			continue
		}

		if idx.dims == 0 {
			idx.dims = len(v.Vector)
		}

		v = v.Clone()
		idx.vectors[v.ID] = v
		idx.order = append(idx.order, v.ID)

		a := assignments[v.ID]
		if id, ok := a.ClusterID(); ok {
			c, exists := idx.part.clusters[id]
			if !exists {
				c = newClusterState(idx.dims)
				idx.part.clusters[id] = c
			}

			c.add(v)

			if id >= idx.nextID {
				idx.nextID = id + 1
			}
		}

		idx.part.assignments[v.ID] = a
	}

	return skipped, nil
}
