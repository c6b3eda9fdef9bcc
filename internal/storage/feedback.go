package db

import (
	"context"
	"fmt"

	"github.com/japanese-wolf/brain-stream/internal/core/domain"
)

// AppendFeedback stores one event. Events are immutable, a replayed id is ignored.
func (db *DB) AppendFeedback(ctx context.Context, event domain.FeedbackEvent) error {
	if _, err := db.Pool.Exec(ctx, `
		INSERT INTO feedback_events (id, article_id, cluster_id, action, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, string(event.ArticleID), int32(event.ClusterID), string(event.Action), event.OccurredAt); err != nil {
		return fmt.Errorf("append feedback %s: %w", event.ID, err)
	}

	return nil
}
