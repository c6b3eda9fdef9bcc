package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/japanese-wolf/brain-stream/internal/core/domain"
	"github.com/japanese-wolf/brain-stream/internal/core/errors"
	"github.com/japanese-wolf/brain-stream/internal/platform/observability"
)

// RecordFeedback applies a user action to the arm of the article's current
// cluster, or to the noise arm, and appends the event to the store.
func (e *Engine) RecordFeedback(ctx context.Context, id domain.ArticleID, action domain.Action) (domain.ClusterArm, error) {
	action, err := domain.ParseAction(string(action))
	if err != nil {
		return domain.ClusterArm{}, err
	}

	e.mu.RLock()

	assignment, ok := e.index.Assignment(id)
	if !ok {
		e.mu.RUnlock()

		return domain.ClusterArm{}, fmt.Errorf("feedback %s: %w", id, errors.ErrUnknownArticle)
	}

	arm, err := e.arms.Update(assignment.Key(), action)
	e.mu.RUnlock()

	if err != nil {
		e.reportConsistency(err, "feedback")

		return domain.ClusterArm{}, fmt.Errorf("feedback %s: %w", id, err)
	}

	observability.FeedbackEvents.WithLabelValues(string(action)).Inc()

	if e.store == nil {
		return arm, nil
	}

	event := domain.NewFeedbackEvent(id, assignment, action, e.opts.Now())
	if err := e.store.AppendFeedback(ctx, event); err != nil {
		return arm, fmt.Errorf("persist feedback %s: %w", id, err)
	}

	if err := e.saveArm(ctx, arm.ClusterID); err != nil {
		return arm, err
	}

	return arm, nil
}

// saveArm writes the live value of an arm. An arm retired by a rebuild since
// it was changed is skipped: the partition snapshot already carries its mass.
// Writes of one arm are serialized so the last write carries the last update.
func (e *Engine) saveArm(ctx context.Context, id domain.ClusterID) error {
	e.persistMu.RLock()
	defer e.persistMu.RUnlock()

	key := armKey(id)
	e.keys.Lock(key)

	defer func() { _ = e.keys.Unlock(key) }()

	e.mu.RLock()
	arm, ok := e.arms.Arm(id)
	e.mu.RUnlock()

	if !ok {
		return nil
	}

	if err := e.store.SaveArm(ctx, arm); err != nil {
		return fmt.Errorf("persist arm %d: %w", id, err)
	}

	return nil
}

func armKey(id domain.ClusterID) string {
	return "arm:" + strconv.Itoa(int(id))
}

// reportConsistency logs and counts requests that reached a cluster without an arm.
func (e *Engine) reportConsistency(err error, op string) {
	if !errors.Is(err, errors.ErrUnknownCluster) {
		return
	}

	observability.ConsistencyErrors.Inc()

	e.logger.Error().
		Err(err).
		Str("op", op).
		Uint64("version", e.index.Version()).
		Msg("cluster missing from arm table, trigger a rebuild")
}
