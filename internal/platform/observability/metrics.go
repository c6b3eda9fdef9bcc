package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ArticlesCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brainstream_articles_collected_total",
		Help: "The total number of articles fetched from source plugins",
	}, []string{"source"})

	ArticlesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brainstream_articles_ingested_total",
		Help: "The total number of articles processed by the engine",
	}, []string{"status"})

	DuplicateVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brainstream_duplicate_verdicts_total",
		Help: "Duplicate detector verdicts by kind",
	}, []string{"kind"})

	FeedbackEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brainstream_feedback_events_total",
		Help: "The total number of user feedback actions",
	}, []string{"action"})

	FeedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brainstream_feed_requests_total",
		Help: "Feed compositions by outcome",
	}, []string{"status"})

	ConsistencyErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brainstream_consistency_errors_total",
		Help: "Requests that referenced a cluster missing from the current partition",
	})

	RebuildDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "brainstream_rebuild_duration_seconds",
		Help:    "Duration of partition rebuilds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	Rebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brainstream_rebuilds_total",
		Help: "Partition rebuilds by outcome",
	}, []string{"status"})

	IndexedArticles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brainstream_indexed_articles",
		Help: "Number of articles held by the cluster index",
	})

	Clusters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brainstream_clusters",
		Help: "Number of clusters in the live partition",
	})

	PartitionVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brainstream_partition_version",
		Help: "Version counter of the live partition",
	})

	EmbeddingRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "brainstream_embedding_request_duration_seconds",
		Help:    "Duration of embedding provider requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	EmbeddingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brainstream_embedding_requests_total",
		Help: "Embedding requests by provider and status",
	}, []string{"provider", "status"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "brainstream_circuit_breaker_open",
		Help: "1 when the provider circuit breaker is open",
	}, []string{"provider"})

	SourceFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brainstream_source_fetch_errors_total",
		Help: "Source plugin fetch failures",
	}, []string{"source"})
)
