package feed

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japanese-wolf/brain-stream/internal/bandit"
	"github.com/japanese-wolf/brain-stream/internal/core/domain"
	"github.com/japanese-wolf/brain-stream/internal/core/errors"
	"github.com/japanese-wolf/brain-stream/internal/topology"
)

var base = time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)

type placed struct {
	article    domain.ArticleVector
	assignment domain.Assignment
}

type fakeIndex map[domain.ArticleID]placed

func (f fakeIndex) Lookup(id domain.ArticleID) (domain.ArticleVector, domain.Assignment, bool) {
	p, ok := f[id]

	return p.article, p.assignment, ok
}

func (f fakeIndex) add(id string, minute int, a domain.Assignment) domain.ArticleID {
	aid := domain.ArticleID(id)
	f[aid] = placed{
		article:    domain.ArticleVector{ID: aid, CollectedAt: base.Add(time.Duration(minute) * time.Minute)},
		assignment: a,
	}

	return aid
}

type fixedScores map[domain.ClusterID]float64

func (f fixedScores) SampleScore(id domain.ClusterID) (float64, error) {
	s, ok := f[id]
	if !ok {
		return 0, fmt.Errorf("cluster %d: %w", id, errors.ErrUnknownCluster)
	}

	return s, nil
}

type secondarySet map[domain.ArticleID]bool

func (s secondarySet) IsSecondary(id domain.ArticleID) bool {
	return s[id]
}

// threeClusters builds clusters 1, 2 and 3 with 10, 3 and 1 members.
func threeClusters() (fakeIndex, []domain.ArticleID) {
	idx := fakeIndex{}

	var ids []domain.ArticleID

	for cid, size := range map[domain.ClusterID]int{1: 10, 2: 3, 3: 1} {
		for i := 0; i < size; i++ {
			ids = append(ids, idx.add(fmt.Sprintf("c%d-%02d", cid, i), i, domain.Clustered(cid)))
		}
	}

	return idx, ids
}

func clusterOf(t *testing.T, idx fakeIndex, id domain.ArticleID) domain.ClusterID {
	t.Helper()

	cid, ok := idx[id].assignment.ClusterID()
	require.True(t, ok)

	return cid
}

func TestComposeCoversEveryCluster(t *testing.T) {
	idx, ids := threeClusters()

	tests := []struct {
		name   string
		scores fixedScores
	}{
		{name: "large cluster first", scores: fixedScores{1: 0.9, 2: 0.5, 3: 0.1}},
		{name: "small cluster first", scores: fixedScores{1: 0.1, 2: 0.5, 3: 0.9}},
		{name: "tied scores", scores: fixedScores{1: 0.4, 2: 0.4, 3: 0.4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewComposer(idx, tt.scores, nil, nil)

			page, err := c.Compose(ids, 6)
			require.NoError(t, err)
			require.Len(t, page, 6)

			counts := map[domain.ClusterID]int{}
			for _, id := range page {
				counts[clusterOf(t, idx, id)]++
			}

			assert.Len(t, counts, 3)
			assert.Equal(t, 1, counts[3])
			assert.LessOrEqual(t, counts[1], 3)
		})
	}
}

func TestComposeOrder(t *testing.T) {
	idx, ids := threeClusters()
	c := NewComposer(idx, fixedScores{1: 0.2, 2: 0.9, 3: 0.5}, nil, nil)

	page, err := c.Compose(ids, 6)
	require.NoError(t, err)

	// Rounds: 2,3,1 then 2,1 then 2. Members newest first.
	assert.Equal(t, []domain.ArticleID{"c2-02", "c3-00", "c1-09", "c2-01", "c1-08", "c2-00"}, page)
}

func TestComposeSkipsSecondaryUnknownAndRepeated(t *testing.T) {
	idx := fakeIndex{}
	a := idx.add("a", 3, domain.Clustered(1))
	b := idx.add("b", 2, domain.Clustered(1))
	n := idx.add("n", 1, domain.Noise)

	c := NewComposer(idx, fixedScores{1: 0.3, domain.NoiseClusterID: 0.6}, secondarySet{b: true}, nil)

	page, err := c.Compose([]domain.ArticleID{a, b, "ghost", n, a}, 10)
	require.NoError(t, err)
	assert.Equal(t, []domain.ArticleID{n, a}, page)
}

func TestComposeUnknownClusterFails(t *testing.T) {
	idx := fakeIndex{}
	a := idx.add("a", 0, domain.Clustered(7))

	c := NewComposer(idx, fixedScores{}, nil, nil)

	_, err := c.Compose([]domain.ArticleID{a}, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnknownCluster))
}

func TestComposeEmpty(t *testing.T) {
	c := NewComposer(fakeIndex{}, fixedScores{}, nil, nil)

	page, err := c.Compose(nil, 5)
	require.NoError(t, err)
	assert.Empty(t, page)

	page, err = c.Compose([]domain.ArticleID{"x"}, 0)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestNaNArticleNeverComposed(t *testing.T) {
	idx := topology.New(topology.Config{Dimensions: 3, DensityRadius: 0.5, MinClusterSize: 3}, nil)
	arms := bandit.New(bandit.Config{Source: bandit.NewSeededSource(5)}, nil)

	good := domain.ArticleVector{ID: "good", Vector: []float32{0, 1, 0}, CollectedAt: base}
	bad := domain.ArticleVector{ID: "bad", Vector: []float32{0, float32(math.NaN()), 0}, CollectedAt: base}

	_, err := idx.Insert(good)
	require.NoError(t, err)

	_, err = idx.Insert(bad)
	require.True(t, errors.Is(err, errors.ErrInvalidVector))

	c := NewComposer(idx, arms, nil, nil)

	for i := 0; i < 10; i++ {
		page, err := c.Compose([]domain.ArticleID{"bad", "good"}, 5)
		require.NoError(t, err)
		assert.Equal(t, []domain.ArticleID{"good"}, page)
	}
}

type fixedBoundary map[domain.ClusterID][]domain.ArticleID

func (f fixedBoundary) Boundary(id domain.ClusterID, n int) ([]domain.ArticleID, error) {
	ids, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("cluster %d: %w", id, errors.ErrUnknownCluster)
	}

	return ids[:min(n, len(ids))], nil
}

func TestComposeSerendipityTail(t *testing.T) {
	idx, ids := threeClusters()
	edges := fixedBoundary{
		1: {"c1-00", "c1-01"},
		2: {"ghost", "c2-00", "c2-02"},
		3: {"c3-00"},
	}

	c := NewComposer(idx, fixedScores{1: 0.9, 2: 0.5, 3: 0.1}, nil, nil, WithSerendipity(edges, 2))

	page, err := c.Compose(ids, 6)
	require.NoError(t, err)

	// Main slots round-robin, then boundaries from the lowest-scored cluster up,
	// skipping ids already shown and ids outside the candidates.
	assert.Equal(t, []domain.ArticleID{"c1-09", "c2-02", "c3-00", "c1-08", "c2-00", "c1-00"}, page)
}

func TestComposeSerendipityFallsBackToRoundRobin(t *testing.T) {
	idx := fakeIndex{}

	var ids []domain.ArticleID
	for i := 0; i < 4; i++ {
		ids = append(ids, idx.add(fmt.Sprintf("a%d", i), i, domain.Clustered(1)))
	}

	ids = append(ids, idx.add("n", 9, domain.Noise))
	scores := fixedScores{1: 0.8, domain.NoiseClusterID: 0.2}

	plain, err := NewComposer(idx, scores, nil, nil).Compose(ids, 4)
	require.NoError(t, err)

	// One clustered group leaves nothing to explore, so the page is unchanged.
	c := NewComposer(idx, scores, nil, nil, WithSerendipity(fixedBoundary{1: {"a0"}}, 10))

	page, err := c.Compose(ids, 4)
	require.NoError(t, err)
	assert.Equal(t, plain, page)
}

func TestComposeSerendipityIgnoresMissingBoundary(t *testing.T) {
	idx, ids := threeClusters()
	scores := fixedScores{1: 0.9, 2: 0.5, 3: 0.1}

	plain, err := NewComposer(idx, scores, nil, nil).Compose(ids, 5)
	require.NoError(t, err)

	c := NewComposer(idx, scores, nil, nil, WithSerendipity(fixedBoundary{}, 2))

	page, err := c.Compose(ids, 5)
	require.NoError(t, err)
	assert.Equal(t, plain, page)
}
