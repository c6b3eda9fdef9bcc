package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/japanese-wolf/brain-stream/internal/core/domain"
)

// SaveArticle stores the article and its embedding in one transaction.
// Re-saving an id keeps the first collection time.
func (db *DB) SaveArticle(ctx context.Context, article domain.RawArticle, vector []float32) error {
	err := pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO articles (id, vendor, title, body, url, collected_at, published_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				vendor = EXCLUDED.vendor,
				title = EXCLUDED.title,
				body = EXCLUDED.body,
				url = EXCLUDED.url,
				published_at = EXCLUDED.published_at
		`,
			string(article.ID),
			SanitizeUTF8(article.Vendor),
			SanitizeUTF8(article.Title),
			SanitizeUTF8(article.Text),
			article.URL,
			article.CollectedAt,
			toTimestamptz(article.PublishedAt),
		); err != nil {
			return fmt.Errorf("insert article: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO article_vectors (article_id, embedding)
			VALUES ($1, $2)
			ON CONFLICT (article_id) DO UPDATE SET embedding = EXCLUDED.embedding
		`, string(article.ID), pgvector.NewVector(vector)); err != nil {
			return fmt.Errorf("insert article vector: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("save article %s: %w", article.ID, err)
	}

	return nil
}

// SaveAssignment records the incremental placement of one article.
func (db *DB) SaveAssignment(ctx context.Context, id domain.ArticleID, assignment domain.Assignment) error {
	if _, err := db.Pool.Exec(ctx, `
		INSERT INTO assignments (article_id, cluster_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (article_id) DO UPDATE SET cluster_id = EXCLUDED.cluster_id, updated_at = now()
	`, string(id), int32(assignment.Key())); err != nil {
		return fmt.Errorf("save assignment %s: %w", id, err)
	}

	return nil
}
