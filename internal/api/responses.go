package api

import (
	"sort"
	"time"

	"github.com/japanese-wolf/brain-stream/internal/core/domain"
	"github.com/japanese-wolf/brain-stream/internal/engine"
	"github.com/japanese-wolf/brain-stream/internal/ingest/collector"
)

type errorResponse struct {
	Error string `json:"error"`
}

type feedItem struct {
	ID          domain.ArticleID `json:"id"`
	Vendor      string           `json:"vendor"`
	Title       string           `json:"title"`
	URL         string           `json:"url"`
	CollectedAt time.Time        `json:"collected_at"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
	// ClusterID is -1 for noise.
	ClusterID domain.ClusterID `json:"cluster_id"`
	Official  bool             `json:"official"`
}

type feedResponse struct {
	Items   []feedItem `json:"items"`
	Version uint64     `json:"version"`
	Stale   bool       `json:"stale"`
}

func newFeedResponse(page engine.FeedPage) feedResponse {
	items := make([]feedItem, len(page.Items))

	for i, it := range page.Items {
		items[i] = feedItem{
			ID:          it.ID,
			Vendor:      it.Vendor,
			Title:       it.Title,
			URL:         it.URL,
			CollectedAt: it.CollectedAt,
			PublishedAt: optionalTime(it.PublishedAt),
			ClusterID:   it.Cluster.Key(),
			Official:    it.Official,
		}
	}

	return feedResponse{Items: items, Version: page.Version, Stale: page.Stale}
}

type articleResponse struct {
	ID          domain.ArticleID `json:"id"`
	Vendor      string           `json:"vendor"`
	Title       string           `json:"title"`
	Text        string           `json:"text"`
	URL         string           `json:"url"`
	CollectedAt time.Time        `json:"collected_at"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
	ClusterID   domain.ClusterID `json:"cluster_id"`
}

type armResponse struct {
	ClusterID   domain.ClusterID `json:"cluster_id"`
	Alpha       float64          `json:"alpha"`
	Beta        float64          `json:"beta"`
	Mean        float64          `json:"mean"`
	LastUpdated time.Time        `json:"last_updated"`
}

func newArmResponse(arm domain.ClusterArm) armResponse {
	return armResponse{
		ClusterID:   arm.ClusterID,
		Alpha:       arm.Alpha,
		Beta:        arm.Beta,
		Mean:        arm.Mean(),
		LastUpdated: arm.LastUpdated,
	}
}

type topologyResponse struct {
	Version    uint64                  `json:"version"`
	Articles   int                     `json:"articles"`
	Noise      int                     `json:"noise"`
	Rebuilding bool                    `json:"rebuilding"`
	Clusters   []domain.ClusterSummary `json:"clusters"`
}

type transferResponse struct {
	To      domain.ClusterID `json:"to"`
	Members int              `json:"members"`
}

type migrationResponse struct {
	From      domain.ClusterID   `json:"from"`
	Transfers []transferResponse `json:"transfers"`
}

type rebuildResponse struct {
	Version    uint64              `json:"version"`
	Clusters   int                 `json:"clusters"`
	Noise      int                 `json:"noise"`
	DurationMS int64               `json:"duration_ms"`
	Mapping    []migrationResponse `json:"mapping"`
}

func newRebuildResponse(res engine.RebuildResult) rebuildResponse {
	mapping := make([]migrationResponse, 0, len(res.Mapping))

	for from, transfers := range res.Mapping {
		m := migrationResponse{From: from, Transfers: make([]transferResponse, len(transfers))}
		for i, t := range transfers {
			m.Transfers[i] = transferResponse{To: t.Target.Key(), Members: t.Members}
		}

		mapping = append(mapping, m)
	}

	sort.Slice(mapping, func(i, j int) bool { return mapping[i].From < mapping[j].From })

	return rebuildResponse{
		Version:    res.Version,
		Clusters:   res.Clusters,
		Noise:      res.Noise,
		DurationMS: res.Duration.Milliseconds(),
		Mapping:    mapping,
	}
}

type statsResponse struct {
	Version    uint64 `json:"version"`
	Articles   int    `json:"articles"`
	Clusters   int    `json:"clusters"`
	Noise      int    `json:"noise"`
	Links      int    `json:"links"`
	Rebuilding bool   `json:"rebuilding"`
}

type sourceResponse struct {
	Name          string     `json:"name"`
	Vendor        string     `json:"vendor"`
	FetchStatus   string     `json:"fetch_status"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
	Watermark     *time.Time `json:"watermark,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}

func newSourcesResponse(statuses []collector.SourceStatus) []sourceResponse {
	out := make([]sourceResponse, len(statuses))

	for i, st := range statuses {
		out[i] = sourceResponse{
			Name:          st.Name,
			Vendor:        st.Vendor,
			FetchStatus:   st.Status,
			LastFetchedAt: optionalTime(st.LastFetchedAt),
			Watermark:     optionalTime(st.Watermark),
			ErrorMessage:  st.LastError,
		}
	}

	return out
}

type sourceFetchResponse struct {
	Name     string `json:"source_name"`
	Fetched  int    `json:"fetched"`
	Ingested int    `json:"ingested"`
	Error    string `json:"error,omitempty"`
}

type fetchResponse struct {
	Fetched    int                   `json:"total_fetched"`
	Ingested   int                   `json:"total_new"`
	Duplicates int                   `json:"duplicates"`
	Existing   int                   `json:"existing"`
	Skipped    int                   `json:"skipped"`
	Sources    []sourceFetchResponse `json:"sources"`
}

func newFetchResponse(sum collector.Summary) fetchResponse {
	sources := make([]sourceFetchResponse, len(sum.Sources))

	for i, s := range sum.Sources {
		sources[i] = sourceFetchResponse{Name: s.Name, Fetched: s.Fetched, Ingested: s.Ingested}
		if s.Err != nil {
			sources[i].Error = s.Err.Error()
		}
	}

	return fetchResponse{
		Fetched:    sum.Fetched,
		Ingested:   sum.Ingested,
		Duplicates: sum.Duplicates,
		Existing:   sum.Existing,
		Skipped:    sum.Skipped,
		Sources:    sources,
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	return &t
}
