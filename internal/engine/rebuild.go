package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/japanese-wolf/brain-stream/internal/core/domain"
	"github.com/japanese-wolf/brain-stream/internal/core/errors"
	"github.com/japanese-wolf/brain-stream/internal/platform/observability"
	"github.com/japanese-wolf/brain-stream/internal/topology"
)

// RebuildResult reports a committed rebuild.
type RebuildResult struct {
	Version  uint64
	Clusters int
	Noise    int
	Mapping  topology.Mapping
	Duration time.Duration
}

// Rebuild recomputes the partition and migrates the arms in two phases:
// clustering runs without the engine lock, then the partition and the arm
// table are swapped together under the write lock.
func (e *Engine) Rebuild(ctx context.Context) (RebuildResult, error) {
	if !e.rebuildMu.TryLock() {
		return RebuildResult{}, fmt.Errorf("rebuild: %w", errors.ErrRebuildInProgress)
	}
	defer e.rebuildMu.Unlock()

	start := time.Now()

	plan, err := e.index.PrepareRebuild()
	if err != nil {
		observability.Rebuilds.WithLabelValues("error").Inc()

		return RebuildResult{}, err
	}

	if err := ctx.Err(); err != nil {
		e.index.Abort()
		observability.Rebuilds.WithLabelValues("aborted").Inc()

		return RebuildResult{}, fmt.Errorf("rebuild: %w", err)
	}

	e.mu.Lock()

	table := e.arms.PrepareMigration(plan.Mapping, plan.Clusters)

	if err := e.index.Commit(plan); err != nil {
		e.mu.Unlock()
		observability.Rebuilds.WithLabelValues("stale").Inc()

		return RebuildResult{}, err
	}

	e.arms.Commit(table)
	version := e.index.Version()
	e.mu.Unlock()

	result := RebuildResult{
		Version:  version,
		Clusters: len(plan.Clusters),
		Noise:    plan.Noise,
		Mapping:  plan.Mapping,
		Duration: time.Since(start),
	}

	observability.Rebuilds.WithLabelValues("ok").Inc()
	observability.RebuildDurationSeconds.Observe(result.Duration.Seconds())
	observability.Clusters.Set(float64(result.Clusters))
	e.updateGauges()

	e.logger.Info().
		Int("clusters", result.Clusters).
		Int("noise", result.Noise).
		Int("migrated", len(plan.Mapping)).
		Dur("duration", result.Duration).
		Msg("rebuild committed")

	if err := e.persistPartition(ctx, version, plan); err != nil {
		return result, err
	}

	return result, nil
}

// persistPartition writes the committed generation with the arms as they
// are when the write starts, so feedback applied since the commit is kept.
// Arm writes wait for it and then store their own live values.
func (e *Engine) persistPartition(ctx context.Context, version uint64, plan *topology.RebuildPlan) error {
	if e.store == nil {
		return nil
	}

	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.RLock()
	arms := e.arms.Arms()
	e.mu.RUnlock()

	snapshot := PartitionSnapshot{
		Version:       version,
		Assignments:   plan.Assignments,
		Arms:          arms,
		NextClusterID: plan.NextID,
	}

	if err := e.store.SavePartition(ctx, snapshot); err != nil {
		return fmt.Errorf("persist partition %d: %w", version, err)
	}

	return nil
}

// TopologySummary describes every cluster of the live partition, sorted by id.
func (e *Engine) TopologySummary() []domain.ClusterSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	clusters := e.index.Clusters()
	out := make([]domain.ClusterSummary, 0, len(clusters))

	for _, c := range clusters {
		s := domain.ClusterSummary{
			ClusterID:     c.ID,
			Size:          c.Size(),
			Density:       c.Density,
			SampleMembers: e.recentMembers(c, defaultSummaryMembers),
		}

		if arm, ok := e.arms.Arm(c.ID); ok {
			s.Alpha, s.Beta = arm.Alpha, arm.Beta
		} else {
			e.reportConsistency(fmt.Errorf("summary cluster %d: %w", c.ID, errors.ErrUnknownCluster), "summary")
		}

		if boundary, err := e.index.Boundary(c.ID, defaultBoundaryMembers); err == nil {
			s.BoundaryMembers = boundary
		}

		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ClusterID < out[j].ClusterID })

	return out
}

func (e *Engine) recentMembers(c domain.Cluster, n int) []domain.ArticleID {
	members := make([]domain.ArticleVector, 0, len(c.Members))

	for id := range c.Members {
		if a, ok := e.index.Article(id); ok {
			members = append(members, a)
		}
	}

	sort.Slice(members, func(i, j int) bool { return domain.Newer(members[i], members[j]) })

	if len(members) > n {
		members = members[:n]
	}

	out := make([]domain.ArticleID, len(members))
	for i, m := range members {
		out[i] = m.ID
	}

	return out
}

// Stats is a point-in-time view of the engine size.
type Stats struct {
	Version    uint64
	Articles   int
	Clusters   int
	Noise      int
	Links      int
	Rebuilding bool
}

// Stats reports index and registry sizes.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := e.index.Snapshot()

	noise := 0
	for _, a := range snap.Assignments {
		if a.IsNoise() {
			noise++
		}
	}

	return Stats{
		Version:    snap.Version,
		Articles:   len(snap.Assignments),
		Clusters:   len(snap.Clusters),
		Noise:      noise,
		Links:      len(e.dups.Links()),
		Rebuilding: e.index.Rebuilding(),
	}
}

// Article returns the stored metadata of an article.
func (e *Engine) Article(id domain.ArticleID) (domain.RawArticle, domain.Assignment, error) {
	raw, ok := e.article(id)
	if !ok {
		return domain.RawArticle{}, domain.Noise, fmt.Errorf("article %s: %w", id, errors.ErrUnknownArticle)
	}

	a, _ := e.index.Assignment(id)

	return raw, a, nil
}
