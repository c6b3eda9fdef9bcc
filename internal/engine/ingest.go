package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/japanese-wolf/brain-stream/internal/core/domain"
	"github.com/japanese-wolf/brain-stream/internal/core/errors"
	"github.com/japanese-wolf/brain-stream/internal/dedup"
	"github.com/japanese-wolf/brain-stream/internal/platform/observability"
)

// IngestResult describes where a new article landed.
type IngestResult struct {
	ArticleID  domain.ArticleID
	Assignment domain.Assignment
	Verdict    dedup.Verdict
	// Existing is true when the article had already been ingested.
	Existing bool

	newArm *domain.ClusterArm
}

// BatchResult summarizes an IngestBatch call.
type BatchResult struct {
	Ingested   int
	Duplicates int
	Existing   int
	Skipped    int
	// Deferred lists skipped articles that failed for a transient reason
	// and should be offered again. Rejected input is not deferred.
	Deferred []domain.ArticleID
}

// Ingest embeds, indexes and deduplicates one article.
func (e *Engine) Ingest(ctx context.Context, raw domain.RawArticle) (IngestResult, error) {
	raw.ID = domain.ArticleID(strings.TrimSpace(string(raw.ID)))
	if raw.ID == "" {
		return IngestResult{}, fmt.Errorf("ingest: %w: empty article id", errors.ErrInvalidInput)
	}

	if strings.TrimSpace(raw.EmbeddingText()) == "" {
		return IngestResult{}, fmt.Errorf("ingest %s: %w: no text", raw.ID, errors.ErrInvalidInput)
	}

	if raw.CollectedAt.IsZero() {
		raw.CollectedAt = e.opts.Now()
	}

	e.keys.Lock(string(raw.ID))
	defer func() { _ = e.keys.Unlock(string(raw.ID)) }()

	if a, ok := e.index.Assignment(raw.ID); ok {
		return IngestResult{ArticleID: raw.ID, Assignment: a, Verdict: e.verdictOf(raw.ID), Existing: true}, nil
	}

	vec, err := e.embedder.GetEmbedding(ctx, raw.EmbeddingText())
	if err != nil {
		return IngestResult{}, fmt.Errorf("embed %s: %w", raw.ID, err)
	}

	article := domain.ArticleVector{ID: raw.ID, Vector: vec, Vendor: raw.Vendor, CollectedAt: raw.CollectedAt}

	if err := e.index.Validate(article); err != nil {
		return IngestResult{}, fmt.Errorf("ingest %s: %w", raw.ID, err)
	}

	res, links, err := e.place(article)
	if err != nil {
		return IngestResult{}, err
	}

	e.rememberArticle(raw)
	e.updateGauges()
	observability.DuplicateVerdicts.WithLabelValues(res.Verdict.Kind.String()).Inc()

	e.logger.Debug().
		Str(logFieldArticle, string(raw.ID)).
		Str(logFieldVendor, raw.Vendor).
		Stringer(logFieldCluster, res.Assignment).
		Stringer("verdict", res.Verdict.Kind).
		Msg("article ingested")

	if err := e.persistIngest(ctx, raw, vec, res, links); err != nil {
		return res, err
	}

	return res, nil
}

// place inserts the article and resolves duplicates under the shared lock
// so a rebuild commit cannot land between the two.
func (e *Engine) place(article domain.ArticleVector) (IngestResult, []domain.DuplicateLink, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	assignment, err := e.index.Insert(article)
	if err != nil {
		return IngestResult{}, nil, err
	}

	neighbors, err := e.index.Neighbors(article, e.opts.NeighborCount)
	if err != nil {
		return IngestResult{}, nil, err
	}

	verdict, links := e.dups.Resolve(article, neighbors)
	res := IngestResult{ArticleID: article.ID, Assignment: assignment, Verdict: verdict}

	if arm, created := e.arms.Ensure(assignment); created {
		res.newArm = &arm
	}

	return res, links, nil
}

func (e *Engine) verdictOf(id domain.ArticleID) dedup.Verdict {
	if p := e.dups.PrimaryOf(id); p != id {
		return dedup.Verdict{Kind: dedup.Duplicate, PrimaryID: p}
	}

	return dedup.Verdict{Kind: dedup.Unique}
}

func (e *Engine) persistIngest(ctx context.Context, raw domain.RawArticle, vec []float32, res IngestResult, links []domain.DuplicateLink) error {
	if e.store == nil {
		return nil
	}

	if err := e.store.SaveArticle(ctx, raw, vec); err != nil {
		return fmt.Errorf("persist article %s: %w", raw.ID, err)
	}

	if len(links) > 0 {
		if err := e.store.SaveLinks(ctx, links); err != nil {
			return fmt.Errorf("persist links %s: %w", raw.ID, err)
		}
	}

	if err := e.saveAssignment(ctx, raw.ID); err != nil {
		return err
	}

	if res.newArm != nil {
		return e.saveArm(ctx, res.newArm.ClusterID)
	}

	return nil
}

// saveAssignment writes the live assignment, which a rebuild committed since
// the insert may already have moved.
func (e *Engine) saveAssignment(ctx context.Context, id domain.ArticleID) error {
	e.persistMu.RLock()
	defer e.persistMu.RUnlock()

	e.mu.RLock()
	a, ok := e.index.Assignment(id)
	e.mu.RUnlock()

	if !ok {
		return nil
	}

	if err := e.store.SaveAssignment(ctx, id, a); err != nil {
		return fmt.Errorf("persist assignment %s: %w", id, err)
	}

	return nil
}

// IngestBatch ingests a fetch batch. Articles that fail are logged and
// skipped; inserts that hit a rebuild window are retried with backoff.
func (e *Engine) IngestBatch(ctx context.Context, raws []domain.RawArticle) BatchResult {
	var out BatchResult

	for i, raw := range raws {
		if ctx.Err() != nil {
			for _, rest := range raws[i:] {
				out.Skipped++
				out.Deferred = append(out.Deferred, rest.ID)
			}

			break
		}

		res, err := e.ingestWithRetry(ctx, raw)

		switch {
		case err != nil && res.ArticleID == "":
			out.Skipped++
			observability.ArticlesIngested.WithLabelValues("skipped").Inc()

			if !rejected(err) {
				out.Deferred = append(out.Deferred, raw.ID)
			}

			e.logger.Warn().Err(err).Str(logFieldArticle, string(raw.ID)).Str(logFieldVendor, raw.Vendor).Msg("skipping article")

			continue
		case err != nil:
			e.logger.Error().Err(err).Str(logFieldArticle, string(raw.ID)).Msg("article indexed but not persisted")
		}

		if res.Existing {
			out.Existing++

			continue
		}

		out.Ingested++
		observability.ArticlesIngested.WithLabelValues("ingested").Inc()

		if res.Verdict.Kind == dedup.Duplicate {
			out.Duplicates++
		}
	}

	return out
}

// rejected reports errors that will recur for the same article.
func rejected(err error) bool {
	return errors.Is(err, errors.ErrInvalidInput) || errors.Is(err, errors.ErrInvalidVector)
}

func (e *Engine) ingestWithRetry(ctx context.Context, raw domain.RawArticle) (IngestResult, error) {
	delay := e.opts.RetryDelay

	var lastErr error

	for attempt := 0; attempt <= e.opts.IngestRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return IngestResult{}, fmt.Errorf("retry interrupted: %w", ctx.Err())
			case <-time.After(delay):
				delay *= retryDelayMultiplier
			}
		}

		res, err := e.Ingest(ctx, raw)
		if err == nil || !errors.Is(err, errors.ErrRebuildInProgress) {
			return res, err
		}

		lastErr = err
	}

	return IngestResult{}, lastErr
}
