package engine

import (
	"context"

	"github.com/japanese-wolf/brain-stream/internal/core/domain"
)

// Store persists everything the engine needs to resume after a restart.
type Store interface {
	SaveArticle(ctx context.Context, article domain.RawArticle, vector []float32) error
	SaveAssignment(ctx context.Context, id domain.ArticleID, assignment domain.Assignment) error
	SaveArm(ctx context.Context, arm domain.ClusterArm) error
	SaveLinks(ctx context.Context, links []domain.DuplicateLink) error
	AppendFeedback(ctx context.Context, event domain.FeedbackEvent) error
	// SavePartition replaces all assignments and arms with a rebuilt generation.
	SavePartition(ctx context.Context, snapshot PartitionSnapshot) error
	LoadState(ctx context.Context) (State, error)
}

// PartitionSnapshot is one committed partition generation.
type PartitionSnapshot struct {
	Version     uint64
	Assignments map[domain.ArticleID]domain.Assignment
	Arms        []domain.ClusterArm
	// NextClusterID keeps retired cluster ids from being handed out again.
	NextClusterID domain.ClusterID
}

// StoredArticle is an article with its embedding.
type StoredArticle struct {
	Article domain.RawArticle
	Vector  []float32
}

// State is the persisted engine state.
type State struct {
	Articles    []StoredArticle
	Assignments map[domain.ArticleID]domain.Assignment
	Arms        []domain.ClusterArm
	Links       []domain.DuplicateLink
	// Version and NextClusterID come from the last persisted partition.
	Version       uint64
	NextClusterID domain.ClusterID
}

// ArticleVector converts a stored article into the index representation.
func (s StoredArticle) ArticleVector() domain.ArticleVector {
	return domain.ArticleVector{
		ID:          s.Article.ID,
		Vector:      s.Vector,
		Vendor:      s.Article.Vendor,
		CollectedAt: s.Article.CollectedAt,
	}
}
