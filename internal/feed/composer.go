// Package feed composes the article page shown to the user.
package feed

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/japanese-wolf/brain-stream/internal/core/domain"
)

const (
	// lowClusterMin is the smallest number of low-scored groups searched for boundary articles.
	lowClusterMin      = 3
	boundaryPerCluster = 3
)

// ArticleIndex resolves an article and its current placement.
type ArticleIndex interface {
	Lookup(id domain.ArticleID) (domain.ArticleVector, domain.Assignment, bool)
}

// Sampler draws one exploration score per cluster.
type Sampler interface {
	SampleScore(id domain.ClusterID) (float64, error)
}

// DuplicateFilter reports secondary copies that must not be shown.
type DuplicateFilter interface {
	IsSecondary(id domain.ArticleID) bool
}

// BoundaryIndex lists the members on the edge of a cluster.
type BoundaryIndex interface {
	Boundary(id domain.ClusterID, n int) ([]domain.ArticleID, error)
}

// ClusterQueue holds one group's articles in presentation order.
type ClusterQueue struct {
	Assignment domain.Assignment
	Score      float64
	Articles   []domain.ArticleVector
}

// Composer interleaves bandit-ranked clusters into a page.
type Composer struct {
	index   ArticleIndex
	sampler Sampler
	dups    DuplicateFilter
	logger  *zerolog.Logger

	boundary BoundaryIndex
	slots    int
}

// Option configures a Composer.
type Option func(*Composer)

// WithSerendipity reserves the last slots of every page for boundary
// articles of the lowest-scored clusters.
func WithSerendipity(boundary BoundaryIndex, slots int) Option {
	return func(c *Composer) {
		c.boundary = boundary
		c.slots = max(slots, 0)
	}
}

// NewComposer creates a Composer. dups may be nil.
func NewComposer(index ArticleIndex, sampler Sampler, dups DuplicateFilter, logger *zerolog.Logger, opts ...Option) *Composer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	c := &Composer{index: index, sampler: sampler, dups: dups, logger: logger}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Compose returns up to pageSize article ids. Candidates are grouped by
// cluster (noise forms its own group), each group gets one sampled score and
// the page takes one article per group per round in score order.
// Re-composing the same candidates may reorder groups. With serendipity
// enabled the tail of the page goes to boundary articles first.
func (c *Composer) Compose(candidates []domain.ArticleID, pageSize int) ([]domain.ArticleID, error) {
	if pageSize <= 0 || len(candidates) == 0 {
		return []domain.ArticleID{}, nil
	}

	queues, err := c.Rank(candidates)
	if err != nil {
		return nil, err
	}

	if c.boundary == nil || c.slots == 0 {
		return Interleave(queues, pageSize), nil
	}

	return c.withSerendipity(queues, pageSize), nil
}

// withSerendipity fills the main slots round-robin, then the reserved slots
// from the boundaries of the lower half of clustered groups, lowest score
// first. Slots it cannot fill fall back to the round-robin order.
func (c *Composer) withSerendipity(queues []*ClusterQueue, pageSize int) []domain.ArticleID {
	slots := min(c.slots, pageSize)
	full := Interleave(queues, pageSize)
	main := min(pageSize-slots, len(full))

	page := append(make([]domain.ArticleID, 0, pageSize), full[:main]...)
	onPage := make(map[domain.ArticleID]struct{}, pageSize)

	for _, id := range page {
		onPage[id] = struct{}{}
	}

	usable := make(map[domain.ArticleID]struct{})

	var clustered []*ClusterQueue

	for _, q := range queues {
		if q.Assignment.IsNoise() {
			continue
		}

		clustered = append(clustered, q)

		for _, a := range q.Articles {
			usable[a.ID] = struct{}{}
		}
	}

	added := 0

	if len(clustered) > 1 {
		low := clustered[len(clustered)-min(max(lowClusterMin, len(clustered)/2), len(clustered)):]

		for i := len(low) - 1; i >= 0 && added < slots; i-- {
			id, _ := low[i].Assignment.ClusterID()

			edge, err := c.boundary.Boundary(id, boundaryPerCluster)
			if err != nil {
				c.logger.Debug().Err(err).Int("cluster", int(id)).Msg("boundary unavailable")

				continue
			}

			for _, a := range edge {
				if added >= slots {
					break
				}

				if _, ok := usable[a]; !ok {
					continue
				}

				if _, dup := onPage[a]; dup {
					continue
				}

				page = append(page, a)
				onPage[a] = struct{}{}
				added++
			}
		}
	}

	for _, id := range full[main:] {
		if len(page) >= pageSize {
			break
		}

		if _, dup := onPage[id]; dup {
			continue
		}

		page = append(page, id)
		onPage[id] = struct{}{}
	}

	if added > 0 {
		c.logger.Debug().Int("serendipity", added).Int("page", len(page)).Msg("boundary articles added")
	}

	return page
}

// Rank groups the usable candidates and orders the groups by sampled score.
func (c *Composer) Rank(candidates []domain.ArticleID) ([]*ClusterQueue, error) {
	seen := make(map[domain.ArticleID]struct{}, len(candidates))
	groups := make(map[domain.ClusterID]*ClusterQueue)
	dropped := 0

	for _, id := range candidates {
		if _, dup := seen[id]; dup {
			continue
		}

		seen[id] = struct{}{}

		if c.dups != nil && c.dups.IsSecondary(id) {
			dropped++
			continue
		}

		article, assignment, ok := c.index.Lookup(id)
		if !ok {
			dropped++
			continue
		}

		q, ok := groups[assignment.Key()]
		if !ok {
			q = &ClusterQueue{Assignment: assignment}
			groups[assignment.Key()] = q
		}

		q.Articles = append(q.Articles, article)
	}

	queues := make([]*ClusterQueue, 0, len(groups))

	for key, q := range groups {
		score, err := c.sampler.SampleScore(key)
		if err != nil {
			return nil, fmt.Errorf("compose %s: %w", q.Assignment, err)
		}

		q.Score = score
		sort.Slice(q.Articles, func(i, j int) bool { return domain.Newer(q.Articles[i], q.Articles[j]) })
		queues = append(queues, q)
	}

	sort.Slice(queues, func(i, j int) bool {
		if queues[i].Score != queues[j].Score {
			return queues[i].Score > queues[j].Score
		}

		return queues[i].Assignment.Key() < queues[j].Assignment.Key()
	})

	if dropped > 0 {
		c.logger.Debug().Int("dropped", dropped).Int("groups", len(queues)).Msg("candidates filtered")
	}

	return queues, nil
}

// Interleave walks the queues round-robin, one article per queue per round.
func Interleave(queues []*ClusterQueue, n int) []domain.ArticleID {
	result := make([]domain.ArticleID, 0, n)
	idx := make([]int, len(queues))

	for len(result) < n {
		added := false

		for i, q := range queues {
			if idx[i] >= len(q.Articles) {
				continue
			}

			result = append(result, q.Articles[idx[i]].ID)
			idx[i]++
			added = true

			if len(result) >= n {
				break
			}
		}

		if !added {
			break
		}
	}

	return result
}
