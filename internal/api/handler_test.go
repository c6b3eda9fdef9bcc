package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japanese-wolf/brain-stream/internal/bandit"
	"github.com/japanese-wolf/brain-stream/internal/core/domain"
	"github.com/japanese-wolf/brain-stream/internal/core/embeddings"
	"github.com/japanese-wolf/brain-stream/internal/core/errors"
	"github.com/japanese-wolf/brain-stream/internal/dedup"
	"github.com/japanese-wolf/brain-stream/internal/engine"
	"github.com/japanese-wolf/brain-stream/internal/ingest/collector"
	"github.com/japanese-wolf/brain-stream/internal/topology"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type stubService struct {
	feedReq    engine.FeedRequest
	feedErr    error
	page       engine.FeedPage
	feedbackID domain.ArticleID
	action     domain.Action
	arm        domain.ClusterArm
	armErr     error
	rebuild    engine.RebuildResult
	rebuildErr error
	summaries  []domain.ClusterSummary
	stats      engine.Stats
}

func (s *stubService) GetFeed(_ context.Context, req engine.FeedRequest) (engine.FeedPage, error) {
	s.feedReq = req

	return s.page, s.feedErr
}

func (s *stubService) RecordFeedback(_ context.Context, id domain.ArticleID, action domain.Action) (domain.ClusterArm, error) {
	s.feedbackID = id
	s.action = action

	return s.arm, s.armErr
}

func (s *stubService) TopologySummary() []domain.ClusterSummary { return s.summaries }

func (s *stubService) Rebuild(context.Context) (engine.RebuildResult, error) {
	return s.rebuild, s.rebuildErr
}

func (s *stubService) Stats() engine.Stats { return s.stats }

func (s *stubService) Article(id domain.ArticleID) (domain.RawArticle, domain.Assignment, error) {
	if id != "known" {
		return domain.RawArticle{}, domain.Noise, fmt.Errorf("article %s: %w", id, errors.ErrUnknownArticle)
	}

	return domain.RawArticle{ID: id, Vendor: "AWS", Title: "S3", CollectedAt: epoch}, domain.Clustered(4), nil
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())

	return v
}

func TestGetFeed(t *testing.T) {
	svc := &stubService{page: engine.FeedPage{
		Version: 3,
		Items: []engine.FeedItem{
			{ID: "a", Vendor: "AWS", Cluster: domain.Clustered(2), Official: true, CollectedAt: epoch},
			{ID: "b", Vendor: "Blog", Cluster: domain.Noise, CollectedAt: epoch, PublishedAt: epoch},
		},
	}}
	h := NewHandler(svc, "", nil)

	rec := do(t, h, http.MethodGet, "/api/v1/feed?limit=5&vendor=aws&primary_only=true&since=2024-03-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, contentTypeJSON, rec.Header().Get(headerContentType))

	assert.Equal(t, 5, svc.feedReq.PageSize)
	assert.Equal(t, "aws", svc.feedReq.Vendor)
	assert.True(t, svc.feedReq.PrimaryOnly)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), svc.feedReq.Since)

	resp := decode[feedResponse](t, rec)
	assert.Equal(t, uint64(3), resp.Version)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, domain.ClusterID(2), resp.Items[0].ClusterID)
	assert.Nil(t, resp.Items[0].PublishedAt)
	assert.Equal(t, domain.NoiseClusterID, resp.Items[1].ClusterID)
	assert.NotNil(t, resp.Items[1].PublishedAt)
}

func TestGetFeedBadQuery(t *testing.T) {
	h := NewHandler(&stubService{}, "", nil)

	for _, q := range []string{"limit=abc", "limit=-1", "primary_only=maybe", "since=yesterday"} {
		rec := do(t, h, http.MethodGet, "/api/v1/feed?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown article", errors.ErrUnknownArticle, http.StatusNotFound},
		{"invalid action", errors.ErrInvalidAction, http.StatusBadRequest},
		{"rebuild window", fmt.Errorf("insert: %w", errors.ErrRebuildInProgress), http.StatusServiceUnavailable},
		{"missing arm", fmt.Errorf("update: %w", errors.ErrUnknownCluster), http.StatusInternalServerError},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&stubService{armErr: tt.err}, "", nil)

			rec := do(t, h, http.MethodPost, "/api/v1/articles/x/actions", `{"action":"click"}`)
			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
		})
	}
}

func TestPostAction(t *testing.T) {
	svc := &stubService{arm: domain.ClusterArm{ClusterID: 7, Alpha: 3, Beta: 1, LastUpdated: epoch}}
	h := NewHandler(svc, "", nil)

	rec := do(t, h, http.MethodPost, "/api/v1/articles/art-1/actions", `{"action":"Bookmark"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ArticleID("art-1"), svc.feedbackID)
	assert.Equal(t, domain.ActionBookmark, svc.action)

	resp := decode[armResponse](t, rec)
	assert.Equal(t, domain.ClusterID(7), resp.ClusterID)
	assert.InDelta(t, 0.75, resp.Mean, 1e-9)

	rec = do(t, h, http.MethodPost, "/api/v1/articles/art-1/actions", `{"action":"like"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/articles/art-1/actions", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/articles/art-1/actions", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPostActionRateLimited(t *testing.T) {
	h := NewHandler(&stubService{}, "", nil)

	limited := false

	for i := 0; i < rateLimitBurst+5; i++ {
		rec := do(t, h, http.MethodPost, "/api/v1/articles/a/actions", `{"action":"skip"}`)
		if rec.Code == http.StatusTooManyRequests {
			limited = true

			break
		}
	}

	assert.True(t, limited)
}

func TestIdleLimitersAreSwept(t *testing.T) {
	now := epoch
	h := NewHandler(&stubService{}, "", nil)
	h.now = func() time.Time { return now }

	for i := 0; i < 5000; i++ {
		require.True(t, h.allowRequest(fmt.Sprintf("10.0.%d.%d", i/256, i%256)))
	}

	assert.Len(t, h.limiters, 5000)

	now = now.Add(limiterIdleTTL / 2)
	require.True(t, h.allowRequest("10.0.0.1"))

	now = now.Add(limiterIdleTTL/2 + time.Second)
	require.True(t, h.allowRequest("192.168.1.1"))

	// Only the client seen within the idle window survives next to the new one.
	assert.Len(t, h.limiters, 2)
	assert.Contains(t, h.limiters, "10.0.0.1")
}

type stubSources struct {
	statuses []collector.SourceStatus
	summary  collector.Summary
	calls    int
}

func (s *stubSources) Statuses() []collector.SourceStatus { return s.statuses }

func (s *stubSources) Collect(context.Context) collector.Summary {
	s.calls++

	return s.summary
}

func TestSourcesRoutes(t *testing.T) {
	src := &stubSources{
		statuses: []collector.SourceStatus{
			{Name: "aws-whatsnew", Vendor: "AWS", Status: collector.StatusOK, LastFetchedAt: epoch, Watermark: epoch.Add(-time.Hour)},
			{Name: "broken", Vendor: "X", Status: collector.StatusError, LastFetchedAt: epoch, LastError: "503"},
			{Name: "fresh", Vendor: "GCP", Status: collector.StatusPending},
		},
		summary: collector.Summary{
			Fetched:  4,
			Ingested: 3,
			Skipped:  1,
			Failed:   []string{"broken"},
			Sources: []collector.SourceResult{
				{Name: "aws-whatsnew", Fetched: 4, Ingested: 3},
				{Name: "broken", Err: fmt.Errorf("fetch feed broken: %w", errors.ErrProviderAPI)},
			},
		},
	}
	h := NewHandler(&stubService{}, "", nil, WithSources(src))

	rec := do(t, h, http.MethodGet, "/api/v1/sources", "")
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[[]sourceResponse](t, rec)
	require.Len(t, list, 3)
	assert.Equal(t, "ok", list[0].FetchStatus)
	require.NotNil(t, list[0].Watermark)
	assert.Equal(t, "503", list[1].ErrorMessage)
	assert.Nil(t, list[2].LastFetchedAt)

	rec = do(t, h, http.MethodPost, "/api/v1/sources/fetch", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, src.calls)

	fetched := decode[fetchResponse](t, rec)
	assert.Equal(t, 4, fetched.Fetched)
	assert.Equal(t, 3, fetched.Ingested)
	require.Len(t, fetched.Sources, 2)
	assert.Empty(t, fetched.Sources[0].Error)
	assert.Contains(t, fetched.Sources[1].Error, "broken")

	rec = do(t, h, http.MethodGet, "/api/v1/sources/fetch", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSourcesRoutesDisabledWithoutCollector(t *testing.T) {
	h := NewHandler(&stubService{}, "", nil)

	rec := do(t, h, http.MethodGet, "/api/v1/sources", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetArticle(t *testing.T) {
	h := NewHandler(&stubService{}, "", nil)

	rec := do(t, h, http.MethodGet, "/api/v1/articles/known", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ClusterID(4), decode[articleResponse](t, rec).ClusterID)

	rec = do(t, h, http.MethodGet, "/api/v1/articles/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTopologyAndRebuild(t *testing.T) {
	svc := &stubService{
		stats:     engine.Stats{Version: 2, Articles: 10, Noise: 1},
		summaries: []domain.ClusterSummary{{ClusterID: 1, Size: 9, Density: 0.9, Alpha: 1, Beta: 1}},
		rebuild: engine.RebuildResult{
			Version:  3,
			Clusters: 2,
			Mapping: topology.Mapping{
				5: {{Target: domain.Clustered(8), Members: 3}, {Target: domain.Noise, Members: 1}},
				1: {{Target: domain.Clustered(7), Members: 2}},
			},
			Duration: 1500 * time.Millisecond,
		},
	}
	h := NewHandler(svc, "", nil)

	rec := do(t, h, http.MethodGet, "/api/v1/topology", "")
	require.Equal(t, http.StatusOK, rec.Code)

	topo := decode[topologyResponse](t, rec)
	assert.Equal(t, uint64(2), topo.Version)
	require.Len(t, topo.Clusters, 1)
	assert.Equal(t, 9, topo.Clusters[0].Size)

	rec = do(t, h, http.MethodPost, "/api/v1/topology/rebuild", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rb := decode[rebuildResponse](t, rec)
	assert.Equal(t, int64(1500), rb.DurationMS)
	require.Len(t, rb.Mapping, 2)
	assert.Equal(t, domain.ClusterID(1), rb.Mapping[0].From)
	assert.Equal(t, domain.ClusterID(5), rb.Mapping[1].From)
	assert.Equal(t, domain.NoiseClusterID, rb.Mapping[1].Transfers[1].To)

	svc.rebuildErr = errors.ErrRebuildInProgress
	rec = do(t, h, http.MethodPost, "/api/v1/topology/rebuild", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORS(t *testing.T) {
	h := NewHandler(&stubService{}, "http://localhost:5173", nil)

	rec := do(t, h, http.MethodOptions, "/api/v1/feed", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, NewHandler(&stubService{}, "", nil), http.MethodGet, "/api/v1/stats", "")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", getClientIP(req))

	req.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "10.0.0.3, 10.0.0.4")
	assert.Equal(t, "10.0.0.3", getClientIP(req))
}

func TestEndToEndWithEngine(t *testing.T) {
	emb := embeddings.NewClientWithProviders(32, embeddings.DefaultCircuitBreakerConfig(), nil,
		embeddings.NewMockProviderWithDimensions(32))

	eng := engine.New(engine.Options{
		Topology: topology.Config{Dimensions: 32, DensityRadius: 0.8, MinClusterSize: 2},
		Dedup:    dedup.Config{DuplicateRadius: 0.01, PrimaryVendors: []string{"AWS"}},
		Bandit:   bandit.Config{Source: bandit.NewSeededSource(1)},
		Now:      func() time.Time { return epoch },
	}, emb, nil, nil)

	res := eng.IngestBatch(context.Background(), []domain.RawArticle{
		{ID: "s3", Vendor: "AWS", Title: "Amazon S3 adds table buckets", CollectedAt: epoch},
		{ID: "k8s", Vendor: "GitHub OSS", Title: "Kubernetes release with sidecar containers", CollectedAt: epoch.Add(time.Minute)},
	})
	require.Equal(t, 2, res.Ingested)

	h := NewHandler(eng, "", nil)

	rec := do(t, h, http.MethodGet, "/api/v1/feed?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[feedResponse](t, rec).Items, 2)

	rec = do(t, h, http.MethodPost, "/api/v1/articles/s3/actions", `{"action":"click"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 2.0, decode[armResponse](t, rec).Alpha, 1e-9)

	rec = do(t, h, http.MethodPost, "/api/v1/articles/nope/actions", `{"action":"click"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
