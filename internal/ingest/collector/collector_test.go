package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/japanese-wolf/brain-stream/internal/core/domain"
	"github.com/japanese-wolf/brain-stream/internal/engine"
)

const feedTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>What's New</title>
  <link>%[1]s</link>
  <description>Release feed</description>
  <item>
    <guid>launch-1</guid>
    <title>Amazon S3 adds &lt;b&gt;table buckets&lt;/b&gt;</title>
    <link>%[1]s/posts/1</link>
    <description>&lt;p&gt;%[2]s&lt;/p&gt;</description>
    <pubDate>Tue, 05 Mar 2024 10:00:00 GMT</pubDate>
  </item>
  <item>
    <guid>launch-2</guid>
    <title>Lambda supports a new runtime</title>
    <link>%[1]s/page</link>
    <description>Short teaser.</description>
    <pubDate>Mon, 04 Mar 2024 09:00:00 GMT</pubDate>
  </item>
</channel>
</rss>`

const pageHTML = `<!DOCTYPE html>
<html><head><title>Lambda runtime</title></head>
<body>
<nav><a href="/">Home</a></nav>
<article>
<h1>Lambda supports a new runtime</h1>
<p>Starting today, you can build and run functions on the new managed runtime, which brings faster cold starts, smaller images, and a refreshed standard library to every region.</p>
<p>The runtime is available in all commercial regions, and existing functions can be migrated by updating the runtime setting, redeploying, and validating behaviour with the provided test harness.</p>
<p>Pricing is unchanged, and the previous runtime remains supported until the deprecation date announced in the documentation, giving teams several months to plan their upgrade.</p>
</article>
</body></html>`

var longDescription = strings.Repeat("Table buckets store tabular data with built-in Iceberg support. ", 5)

type recordingIngester struct {
	mu      sync.Mutex
	batches [][]domain.RawArticle
}

func (r *recordingIngester) IngestBatch(_ context.Context, raws []domain.RawArticle) engine.BatchResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.batches = append(r.batches, raws)

	return engine.BatchResult{Ingested: len(raws)}
}

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()

	var srv *httptest.Server

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, feedTemplate, srv.URL, longDescription)
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, pageHTML)
	})
	mux.HandleFunc("/latin1", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		fmt.Fprint(w, strings.Replace(pageHTML, "faster cold starts", "caf\xe9 menus", 1))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func fixedNow() time.Time {
	return time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)
}

func TestRSSSourceFetch(t *testing.T) {
	srv := newFeedServer(t)

	src := NewRSSSource(RSSConfig{
		Name:        "aws-whatsnew",
		Vendor:      "AWS",
		URL:         srv.URL + "/feed",
		Client:      srv.Client(),
		Readability: true,
		Now:         fixedNow,
	}, nil)

	articles, err := src.Fetch(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, articles, 2)

	first := articles[0]
	assert.Equal(t, "AWS", first.Vendor)
	assert.Equal(t, "Amazon S3 adds table buckets", first.Title)
	assert.Equal(t, strings.TrimSpace(longDescription), first.Text)
	assert.Equal(t, srv.URL+"/posts/1", first.URL)
	assert.Equal(t, fixedNow(), first.CollectedAt)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), first.PublishedAt)

	second := articles[1]
	assert.Contains(t, second.Text, "faster cold starts", "thin entries fall back to page text")

	again, err := src.Fetch(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again[0].ID, "ids are stable across fetches")
	assert.NotEqual(t, first.ID, second.ID)
}

func TestPageExtractorDecodesCharset(t *testing.T) {
	srv := newFeedServer(t)

	p := &pageExtractor{client: srv.Client(), limiter: rate.NewLimiter(rate.Inf, 1)}

	text, err := p.Text(context.Background(), srv.URL+"/latin1")
	require.NoError(t, err)
	assert.Contains(t, text, "café menus")

	_, err = p.Text(context.Background(), srv.URL+"/feed")
	assert.ErrorIs(t, err, errUnsupportedContentType)
}

func TestRSSSourceWithoutReadability(t *testing.T) {
	srv := newFeedServer(t)

	src := NewRSSSource(RSSConfig{
		Name:   "aws-whatsnew",
		Vendor: "AWS",
		URL:    srv.URL + "/feed",
		Client: srv.Client(),
	}, nil)

	articles, err := src.Fetch(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, "Short teaser.", articles[1].Text)
}

func TestRSSSourceSinceAndLimit(t *testing.T) {
	srv := newFeedServer(t)

	src := NewRSSSource(RSSConfig{
		Name:   "aws-whatsnew",
		Vendor: "AWS",
		URL:    srv.URL + "/feed",
		Client: srv.Client(),
	}, nil)

	since := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	articles, err := src.Fetch(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "Amazon S3 adds table buckets", articles[0].Title)

	limited := NewRSSSource(RSSConfig{
		Name:     "aws-whatsnew",
		Vendor:   "AWS",
		URL:      srv.URL + "/feed",
		Client:   srv.Client(),
		MaxItems: 1,
	}, nil)

	articles, err = limited.Fetch(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, articles, 1)
}

func TestRSSSourceHTTPError(t *testing.T) {
	srv := newFeedServer(t)

	src := NewRSSSource(RSSConfig{Name: "broken", Vendor: "X", URL: srv.URL + "/broken", Client: srv.Client()}, nil)

	_, err := src.Fetch(context.Background(), time.Time{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errHTTPStatus)
}

func TestArticleIDDependsOnVendor(t *testing.T) {
	item := &gofeed.Item{GUID: "same-guid"}

	assert.Equal(t, articleID("AWS", item), articleID("AWS", item))
	assert.NotEqual(t, articleID("AWS", item), articleID("GCP", item))

	noGUID := &gofeed.Item{Link: "https://example.com/a"}
	assert.Equal(t, articleID("AWS", noGUID), articleID("AWS", &gofeed.Item{Link: "https://example.com/a"}))
}

func TestPublishedAtFallbacks(t *testing.T) {
	parsed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		item *gofeed.Item
		want time.Time
	}{
		{"parsed published", &gofeed.Item{PublishedParsed: &parsed}, parsed},
		{"parsed updated", &gofeed.Item{UpdatedParsed: &parsed}, parsed},
		{"raw published", &gofeed.Item{Published: "2024-01-02 03:04:05"}, parsed},
		{"raw updated", &gofeed.Item{Published: "not a date", Updated: "2024-01-02 03:04:05"}, parsed},
		{"missing", &gofeed.Item{}, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(publishedAt(tt.item)), "got %v", publishedAt(tt.item))
		})
	}
}

func TestCollectorCollect(t *testing.T) {
	srv := newFeedServer(t)
	ing := &recordingIngester{}

	good := NewRSSSource(RSSConfig{Name: "aws-whatsnew", Vendor: "AWS", URL: srv.URL + "/feed", Client: srv.Client()}, nil)
	bad := NewRSSSource(RSSConfig{Name: "broken", Vendor: "X", URL: srv.URL + "/broken", Client: srv.Client()}, nil)

	c := New([]Source{bad, good}, ing, nil)
	assert.Equal(t, []string{"broken", "aws-whatsnew"}, c.Sources())

	sum := c.Collect(context.Background())
	assert.Equal(t, 2, sum.Fetched)
	assert.Equal(t, 2, sum.Ingested)
	assert.Equal(t, []string{"broken"}, sum.Failed)
	require.Len(t, ing.batches, 1)

	// The watermark keeps only entries at or after the newest seen.
	sum = c.Collect(context.Background())
	assert.Equal(t, 1, sum.Fetched)
	require.Len(t, ing.batches, 2)
	assert.Equal(t, "Amazon S3 adds table buckets", ing.batches[1][0].Title)
}

func TestCollectorCanceled(t *testing.T) {
	srv := newFeedServer(t)
	ing := &recordingIngester{}

	src := NewRSSSource(RSSConfig{Name: "aws-whatsnew", Vendor: "AWS", URL: srv.URL + "/feed", Client: srv.Client()}, nil)
	c := New([]Source{src}, ing, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum := c.Collect(ctx)
	assert.Zero(t, sum.Fetched)
	assert.Empty(t, ing.batches)
}

func TestFeedHelpers(t *testing.T) {
	feeds := GitHubReleaseFeeds([]string{"openai/openai-python", " bad ", "a/b/c", "/kubernetes/kubernetes/"})
	require.Len(t, feeds, 2)
	assert.Equal(t, "https://github.com/openai/openai-python/releases.atom", feeds[0].URL)
	assert.Equal(t, "GitHub OSS", feeds[0].Vendor)
	assert.Equal(t, "github-releases:kubernetes/kubernetes", feeds[1].Name)

	filtered := FilterFeeds(DefaultFeeds(), []string{"gcp-release-notes", " github-blog"})
	for _, f := range filtered {
		assert.NotEqual(t, "gcp-release-notes", f.Name)
		assert.NotEqual(t, "github-blog", f.Name)
	}

	assert.Len(t, filtered, len(DefaultFeeds())-2)
}

type staticSource struct {
	articles []domain.RawArticle
	sinces   []time.Time
}

func (s *staticSource) Name() string   { return "static" }
func (s *staticSource) Vendor() string { return "AWS" }

func (s *staticSource) Fetch(_ context.Context, since time.Time) ([]domain.RawArticle, error) {
	s.sinces = append(s.sinces, since)

	var out []domain.RawArticle

	for _, a := range s.articles {
		if since.IsZero() || !a.PublishedAt.Before(since) {
			out = append(out, a)
		}
	}

	return out, nil
}

// flakyIngester defers the listed ids on the first pass only.
type flakyIngester struct {
	defer1  map[domain.ArticleID]bool
	pass    int
	offered [][]domain.ArticleID
}

func (f *flakyIngester) IngestBatch(_ context.Context, raws []domain.RawArticle) engine.BatchResult {
	f.pass++

	var (
		res engine.BatchResult
		ids []domain.ArticleID
	)

	for _, r := range raws {
		ids = append(ids, r.ID)

		if f.pass == 1 && f.defer1[r.ID] {
			res.Skipped++
			res.Deferred = append(res.Deferred, r.ID)

			continue
		}

		res.Ingested++
	}

	f.offered = append(f.offered, ids)

	return res
}

func TestCollectorReoffersDeferredArticles(t *testing.T) {
	base := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	src := &staticSource{articles: []domain.RawArticle{
		{ID: "new", Vendor: "AWS", PublishedAt: base.Add(time.Hour)},
		{ID: "old", Vendor: "AWS", PublishedAt: base},
	}}
	ing := &flakyIngester{defer1: map[domain.ArticleID]bool{"old": true}}

	c := New([]Source{src}, ing, nil)

	sum := c.Collect(context.Background())
	assert.Equal(t, 1, sum.Ingested)
	assert.Equal(t, 1, sum.Skipped)

	c.Collect(context.Background())

	require.Len(t, ing.offered, 2)
	assert.Contains(t, ing.offered[1], domain.ArticleID("old"))
	assert.Equal(t, base, src.sinces[1])

	// Once everything landed the watermark moves to the newest entry.
	c.Collect(context.Background())
	assert.Equal(t, base.Add(time.Hour), src.sinces[2])
	assert.Equal(t, []domain.ArticleID{"new"}, ing.offered[2])
}

func TestNextWatermark(t *testing.T) {
	base := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	articles := []domain.RawArticle{
		{ID: "a", PublishedAt: base.Add(2 * time.Hour)},
		{ID: "b", PublishedAt: base.Add(time.Hour)},
		{ID: "c"},
	}

	tests := []struct {
		name     string
		since    time.Time
		deferred []domain.ArticleID
		want     time.Time
	}{
		{name: "nothing deferred", want: base.Add(2 * time.Hour)},
		{name: "holds at oldest deferred", deferred: []domain.ArticleID{"b"}, want: base.Add(time.Hour)},
		{name: "undated deferred is always refetched", deferred: []domain.ArticleID{"c"}, want: base.Add(2 * time.Hour)},
		{name: "never moves backwards", since: base.Add(90 * time.Minute), deferred: []domain.ArticleID{"b"}, want: base.Add(90 * time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextWatermark(tt.since, articles, tt.deferred))
		})
	}
}

func TestCollectorStatuses(t *testing.T) {
	srv := newFeedServer(t)

	good := NewRSSSource(RSSConfig{Name: "aws-whatsnew", Vendor: "AWS", URL: srv.URL + "/feed", Client: srv.Client()}, nil)
	bad := NewRSSSource(RSSConfig{Name: "broken", Vendor: "X", URL: srv.URL + "/broken", Client: srv.Client()}, nil)

	c := New([]Source{good, bad}, &recordingIngester{}, nil)
	c.now = fixedNow

	for _, st := range c.Statuses() {
		assert.Equal(t, StatusPending, st.Status)
	}

	sum := c.Collect(context.Background())
	require.Len(t, sum.Sources, 2)
	assert.Equal(t, 2, sum.Sources[0].Ingested)
	require.Error(t, sum.Sources[1].Err)

	statuses := c.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, StatusOK, statuses[0].Status)
	assert.Equal(t, "AWS", statuses[0].Vendor)
	assert.Equal(t, fixedNow(), statuses[0].LastFetchedAt)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), statuses[0].Watermark)
	assert.Equal(t, StatusError, statuses[1].Status)
	assert.NotEmpty(t, statuses[1].LastError)
}
