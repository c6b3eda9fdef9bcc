package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/japanese-wolf/brain-stream/internal/core/domain"
	"github.com/japanese-wolf/brain-stream/internal/engine"
)

var _ engine.Store = (*DB)(nil)

// LoadState reads everything the engine restores on startup.
func (db *DB) LoadState(ctx context.Context) (engine.State, error) {
	articles, err := db.loadArticles(ctx)
	if err != nil {
		return engine.State{}, err
	}

	assignments, err := db.loadAssignments(ctx)
	if err != nil {
		return engine.State{}, err
	}

	arms, err := db.loadArms(ctx)
	if err != nil {
		return engine.State{}, err
	}

	links, err := db.loadLinks(ctx)
	if err != nil {
		return engine.State{}, err
	}

	version, nextID, err := db.loadPartitionCounters(ctx)
	if err != nil {
		return engine.State{}, err
	}

	db.Logger.Info().
		Int("articles", len(articles)).
		Int("arms", len(arms)).
		Int("links", len(links)).
		Uint64("version", version).
		Msg("state loaded")

	return engine.State{
		Articles:      articles,
		Assignments:   assignments,
		Arms:          arms,
		Links:         links,
		Version:       version,
		NextClusterID: nextID,
	}, nil
}

// loadPartitionCounters reads the newest partition version and its id counter.
// Both are zero before the first rebuild.
func (db *DB) loadPartitionCounters(ctx context.Context) (uint64, domain.ClusterID, error) {
	var (
		version int64
		nextID  int32
	)

	err := db.Pool.QueryRow(ctx, `
		SELECT version, next_cluster_id FROM partition_versions ORDER BY version DESC LIMIT 1
	`).Scan(&version, &nextID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, nil
	}

	if err != nil {
		return 0, 0, fmt.Errorf("query partition version: %w", err)
	}

	return uint64(version), domain.ClusterID(nextID), nil
}

func (db *DB) loadArticles(ctx context.Context) ([]engine.StoredArticle, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT a.id, a.vendor, a.title, a.body, a.url, a.collected_at, a.published_at, v.embedding
		FROM articles a
		JOIN article_vectors v ON v.article_id = a.id
		ORDER BY a.collected_at, a.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}

	articles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (engine.StoredArticle, error) {
		var (
			s         engine.StoredArticle
			published pgtype.Timestamptz
			vec       pgvector.Vector
		)

		if err := row.Scan(
			&s.Article.ID, &s.Article.Vendor, &s.Article.Title, &s.Article.Text, &s.Article.URL,
			&s.Article.CollectedAt, &published, &vec,
		); err != nil {
			return s, err
		}

		s.Article.PublishedAt = fromTimestamptz(published)
		s.Vector = vec.Slice()

		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan articles: %w", err)
	}

	return articles, nil
}

func (db *DB) loadAssignments(ctx context.Context) (map[domain.ArticleID]domain.Assignment, error) {
	rows, err := db.Pool.Query(ctx, `SELECT article_id, cluster_id FROM assignments`)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.ArticleID]domain.Assignment)

	for rows.Next() {
		var (
			id  string
			key int32
		)

		if err := rows.Scan(&id, &key); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}

		out[domain.ArticleID(id)] = domain.AssignmentFromKey(domain.ClusterID(key))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}

	return out, nil
}

func (db *DB) loadArms(ctx context.Context) ([]domain.ClusterArm, error) {
	rows, err := db.Pool.Query(ctx, `SELECT cluster_id, alpha, beta, last_updated FROM cluster_arms ORDER BY cluster_id`)
	if err != nil {
		return nil, fmt.Errorf("query arms: %w", err)
	}

	arms, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ClusterArm, error) {
		var (
			arm domain.ClusterArm
			id  int32
		)

		err := row.Scan(&id, &arm.Alpha, &arm.Beta, &arm.LastUpdated)
		arm.ClusterID = domain.ClusterID(id)

		return arm, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan arms: %w", err)
	}

	return arms, nil
}
