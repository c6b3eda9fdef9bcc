package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/japanese-wolf/brain-stream/internal/core/errors"
)

// Action is a user reaction to a surfaced article.
type Action string

// Supported feedback actions.
const (
	ActionClick    Action = "click"
	ActionBookmark Action = "bookmark"
	ActionSkip     Action = "skip"
)

// ParseAction validates a wire value.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionClick, ActionBookmark, ActionSkip:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", errors.ErrInvalidAction, s)
	}
}

// FeedbackEvent is an append-only record of one user action.
type FeedbackEvent struct {
	ID         uuid.UUID
	ArticleID  ArticleID
	ClusterID  ClusterID
	Action     Action
	OccurredAt time.Time
}

// NewFeedbackEvent stamps a new event with a random id.
func NewFeedbackEvent(articleID ArticleID, cluster Assignment, action Action, now time.Time) FeedbackEvent {
	return FeedbackEvent{
		ID:         uuid.New(),
		ArticleID:  articleID,
		ClusterID:  cluster.Key(),
		Action:     action,
		OccurredAt: now,
	}
}
