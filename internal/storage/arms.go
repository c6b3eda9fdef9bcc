package db

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/japanese-wolf/brain-stream/internal/core/domain"
	"github.com/japanese-wolf/brain-stream/internal/engine"
)

const upsertArmSQL = `
	INSERT INTO cluster_arms (cluster_id, alpha, beta, last_updated)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (cluster_id) DO UPDATE SET
		alpha = EXCLUDED.alpha,
		beta = EXCLUDED.beta,
		last_updated = EXCLUDED.last_updated
`

func (db *DB) SaveArm(ctx context.Context, arm domain.ClusterArm) error {
	if _, err := db.Pool.Exec(ctx, upsertArmSQL,
		int32(arm.ClusterID), arm.Alpha, arm.Beta, arm.LastUpdated,
	); err != nil {
		return fmt.Errorf("save arm %d: %w", arm.ClusterID, err)
	}

	return nil
}

// SavePartition replaces every assignment and arm with a rebuilt generation
// in one transaction, so a restart never pairs assignments with arms of
// another generation.
func (db *DB) SavePartition(ctx context.Context, snapshot engine.PartitionSnapshot) error {
	clusters, noise := partitionCounts(snapshot.Assignments)

	err := pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}

		for _, id := range sortedAssignmentIDs(snapshot.Assignments) {
			batch.Queue(`
				UPDATE assignments SET cluster_id = $2, version = $3, updated_at = now()
				WHERE article_id = $1
			`, string(id), int32(snapshot.Assignments[id].Key()), int64(snapshot.Version))
		}

		batch.Queue(`DELETE FROM cluster_arms`)

		for _, arm := range snapshot.Arms {
			batch.Queue(upsertArmSQL, int32(arm.ClusterID), arm.Alpha, arm.Beta, arm.LastUpdated)
		}

		batch.Queue(`
			INSERT INTO partition_versions (version, clusters, noise, next_cluster_id) VALUES ($1, $2, $3, $4)
			ON CONFLICT (version) DO UPDATE SET
				clusters = EXCLUDED.clusters,
				noise = EXCLUDED.noise,
				next_cluster_id = EXCLUDED.next_cluster_id,
				committed_at = now()
		`, int64(snapshot.Version), clusters, noise, int32(snapshot.NextClusterID))

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("send partition batch: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("save partition %d: %w", snapshot.Version, err)
	}

	db.Logger.Debug().
		Uint64("version", snapshot.Version).
		Int("next_cluster_id", int(snapshot.NextClusterID)).
		Int("clusters", clusters).
		Int("noise", noise).
		Msg("partition persisted")

	return nil
}

// partitionCounts returns the number of distinct clusters and of noise articles.
func partitionCounts(assignments map[domain.ArticleID]domain.Assignment) (int, int) {
	seen := make(map[domain.ClusterID]struct{})
	noise := 0

	for _, a := range assignments {
		id, ok := a.ClusterID()
		if !ok {
			noise++
			continue
		}

		seen[id] = struct{}{}
	}

	return len(seen), noise
}

func sortedAssignmentIDs(assignments map[domain.ArticleID]domain.Assignment) []domain.ArticleID {
	ids := make([]domain.ArticleID, 0, len(assignments))
	for id := range assignments {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}
