package topology

import (
	"fmt"
	"sort"
	"time"

	"github.com/japanese-wolf/brain-stream/internal/core/domain"
	"github.com/japanese-wolf/brain-stream/internal/core/errors"
)

// Transfer records how many members of an old cluster landed in one new placement.
type Transfer struct {
	Target  domain.Assignment
	Members int
}

// Mapping links each old cluster to the placements its members moved to.
// A split has several transfers, a merge shows up as several old clusters
// pointing at the same target, a dissolved cluster transfers only to noise.
type Mapping map[domain.ClusterID][]Transfer

// RebuildPlan is a computed partition waiting to be committed.
type RebuildPlan struct {
	Mapping Mapping
	// Clusters lists the ids of the new partition.
	Clusters []domain.ClusterID
	// Assignments is the new placement of every article.
	Assignments map[domain.ArticleID]domain.Assignment
	Noise       int
	Duration    time.Duration
	// NextID is the first id the following rebuild will hand out.
	NextID domain.ClusterID

	baseVersion uint64
	part        *partition
}

// PrepareRebuild opens the rebuild window and runs HDBSCAN over every stored
// vector. Inserts fail with ErrRebuildInProgress until Commit or Abort; reads
// keep serving the previous partition.
func (idx *Index) PrepareRebuild() (*RebuildPlan, error) {
	start := time.Now()

	idx.mu.Lock()
	if idx.rebuilding {
		idx.mu.Unlock()

		return nil, fmt.Errorf("prepare rebuild: %w", errors.ErrRebuildInProgress)
	}

	idx.rebuilding = true
	ids := append([]domain.ArticleID(nil), idx.order...)
	points := make([][]float32, len(ids))

	for i, id := range ids {
		points[i] = idx.vectors[id].Vector
	}

	old := idx.part
	base := old.version
	nextID := idx.nextID
	dims := idx.dims
	idx.mu.Unlock()

	labels := clusterLabels(points, hdbscanParams{
		minClusterSize: idx.cfg.MinClusterSize,
		minSamples:     idx.cfg.MinSamples,
		selection:      idx.cfg.Selection,
		distance:       idx.distance,
	})

	part := newPartition(base + 1)
	plan := &RebuildPlan{
		Mapping:     make(Mapping),
		Assignments: make(map[domain.ArticleID]domain.Assignment, len(ids)),
		baseVersion: base,
		part:        part,
	}

	newIDs := make(map[int]domain.ClusterID)

	for i, id := range ids {
		a := domain.Noise

		if labels[i] != noiseLabel {
			cid, ok := newIDs[labels[i]]
			if !ok {
				cid = nextID
				nextID++
				newIDs[labels[i]] = cid
				part.clusters[cid] = newClusterState(dims)
				plan.Clusters = append(plan.Clusters, cid)
			}

			a = domain.Clustered(cid)
			part.clusters[cid].add(domain.ArticleVector{ID: id, Vector: points[i]})
		} else {
			plan.Noise++
		}

		part.assignments[id] = a
		plan.Assignments[id] = a
	}

	plan.Mapping = buildMapping(old, part)
	plan.NextID = nextID
	plan.Duration = time.Since(start)

	return plan, nil
}

// buildMapping counts, for every old cluster, where its members went.
// Old clusters never produce a transfer to nowhere: every member is either
// clustered or noise in the new partition.
func buildMapping(old, next *partition) Mapping {
	counts := make(map[domain.ClusterID]map[domain.Assignment]int)

	for id, before := range old.assignments {
		oldID, ok := before.ClusterID()
		if !ok {
			continue
		}

		if counts[oldID] == nil {
			counts[oldID] = make(map[domain.Assignment]int)
		}

		counts[oldID][next.assignments[id]]++
	}

	mapping := make(Mapping, len(counts))

	for oldID, targets := range counts {
		transfers := make([]Transfer, 0, len(targets))
		for target, n := range targets {
			transfers = append(transfers, Transfer{Target: target, Members: n})
		}

		sort.Slice(transfers, func(i, j int) bool {
			return transfers[i].Target.Key() < transfers[j].Target.Key()
		})

		mapping[oldID] = transfers
	}

	return mapping
}

// Commit swaps in the planned partition and closes the rebuild window.
func (idx *Index) Commit(plan *RebuildPlan) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if !idx.rebuilding || plan == nil || plan.part == nil {
		return fmt.Errorf("commit rebuild: %w", errors.ErrStaleRebuild)
	}

	if idx.part.version != plan.baseVersion {
		idx.rebuilding = false

		return fmt.Errorf("commit rebuild at version %d over %d: %w", plan.baseVersion, idx.part.version, errors.ErrStaleRebuild)
	}

	idx.part = plan.part
	idx.nextID = plan.NextID
	idx.rebuilding = false

	idx.logger.Info().
		Int("clusters", len(plan.Clusters)).
		Int("noise", plan.Noise).
		Uint64("version", idx.part.version).
		Dur("duration", plan.Duration).
		Msg("partition rebuilt")

	return nil
}

// Abort closes the rebuild window and keeps the current partition.
func (idx *Index) Abort() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.rebuilding = false
}

// Rebuild prepares and commits in one step and returns the mapping.
// An empty index produces an empty mapping.
func (idx *Index) Rebuild() (Mapping, error) {
	plan, err := idx.PrepareRebuild()
	if err != nil {
		return nil, err
	}

	if err := idx.Commit(plan); err != nil {
		return nil, err
	}

	return plan.Mapping, nil
}
