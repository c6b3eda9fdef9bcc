package db

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/japanese-wolf/brain-stream/internal/core/domain"
)

type linkRow struct {
	Secondary domain.ArticleID
	Primary   domain.ArticleID
}

// SaveLinks writes the given links. A primary never keeps a row of its own,
// so an article promoted by a primary swap loses its old secondary row.
func (db *DB) SaveLinks(ctx context.Context, links []domain.DuplicateLink) error {
	if len(links) == 0 {
		return nil
	}

	err := pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}

		for _, l := range links {
			batch.Queue(`DELETE FROM duplicate_links WHERE secondary_id = $1`, string(l.PrimaryID))
		}

		for _, row := range linkRows(links) {
			batch.Queue(`
				INSERT INTO duplicate_links (secondary_id, primary_id) VALUES ($1, $2)
				ON CONFLICT (secondary_id) DO UPDATE SET primary_id = EXCLUDED.primary_id, linked_at = now()
			`, string(row.Secondary), string(row.Primary))
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("send link batch: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("save duplicate links: %w", err)
	}

	return nil
}

func (db *DB) loadLinks(ctx context.Context) ([]domain.DuplicateLink, error) {
	rows, err := db.Pool.Query(ctx, `SELECT secondary_id, primary_id FROM duplicate_links`)
	if err != nil {
		return nil, fmt.Errorf("query duplicate links: %w", err)
	}

	collected, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (linkRow, error) {
		var r linkRow

		err := row.Scan(&r.Secondary, &r.Primary)

		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan duplicate links: %w", err)
	}

	return groupLinks(collected), nil
}

// linkRows flattens links into one row per secondary.
func linkRows(links []domain.DuplicateLink) []linkRow {
	var rows []linkRow

	for _, l := range links {
		for _, sec := range l.Secondaries() {
			rows = append(rows, linkRow{Secondary: sec, Primary: l.PrimaryID})
		}
	}

	return rows
}

// groupLinks folds secondary rows back into links sorted by primary.
func groupLinks(rows []linkRow) []domain.DuplicateLink {
	byPrimary := make(map[domain.ArticleID]domain.DuplicateLink)

	for _, r := range rows {
		l, ok := byPrimary[r.Primary]
		if !ok {
			l = domain.NewDuplicateLink(r.Primary)
			byPrimary[r.Primary] = l
		}

		l.SecondaryIDs[r.Secondary] = struct{}{}
	}

	out := make([]domain.DuplicateLink, 0, len(byPrimary))
	for _, l := range byPrimary {
		out = append(out, l)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].PrimaryID < out[j].PrimaryID })

	return out
}
