package config

import "time"

// DatabaseConfig holds database connection settings.
// An empty PostgresDSN runs the engine in memory.
type DatabaseConfig struct {
	PostgresDSN       string        `env:"POSTGRES_DSN"`
	MaxConnections    int32         `env:"DB_MAX_CONNECTIONS" envDefault:"10"`
	MinConnections    int32         `env:"DB_MIN_CONNECTIONS" envDefault:"2"`
	MaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	MaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	HealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	OpenAIAPIKey     string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string        `env:"OPENAI_BASE_URL"`
	OpenAIModel      string        `env:"OPENAI_EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	OpenAIRateLimit  int           `env:"OPENAI_EMBEDDING_RPS" envDefault:"5"`
	CohereAPIKey     string        `env:"COHERE_API_KEY"`
	CohereModel      string        `env:"COHERE_EMBEDDING_MODEL" envDefault:"embed-english-v3.0"`
	CohereRateLimit  int           `env:"COHERE_EMBEDDING_RPS" envDefault:"5"`
	GoogleAPIKey     string        `env:"GOOGLE_API_KEY"`
	GoogleModel      string        `env:"GOOGLE_EMBEDDING_MODEL" envDefault:"text-embedding-004"`
	GoogleRateLimit  int           `env:"GOOGLE_EMBEDDING_RPS" envDefault:"5"`
	ProviderOrder    string        `env:"EMBEDDING_PROVIDERS" envDefault:"openai,cohere,google,mock"`
	Dimensions       int           `env:"EMBEDDING_DIMENSIONS" envDefault:"1536"`
	CircuitThreshold int           `env:"EMBEDDING_CIRCUIT_THRESHOLD" envDefault:"5"`
	CircuitTimeout   time.Duration `env:"EMBEDDING_CIRCUIT_TIMEOUT" envDefault:"1m"`
}

// TopologyConfig holds cluster index settings.
type TopologyConfig struct {
	DensityRadius    float64 `env:"DENSITY_RADIUS" envDefault:"0.9"`
	MinClusterSize   int     `env:"MIN_CLUSTER_SIZE" envDefault:"3"`
	MinSamples       int     `env:"MIN_SAMPLES" envDefault:"0"`
	ClusterSelection string  `env:"CLUSTER_SELECTION" envDefault:"eom"`
	DistanceMetric   string  `env:"DISTANCE_METRIC" envDefault:"euclidean"`
	NeighborCount    int     `env:"NEIGHBOR_COUNT" envDefault:"10"`
}

// DedupConfig holds duplicate detection settings.
type DedupConfig struct {
	DuplicateRadius float64  `env:"DUPLICATE_RADIUS" envDefault:"0.15"`
	PrimaryVendors  []string `env:"PRIMARY_VENDORS" envSeparator:"," envDefault:"AWS,GCP,OpenAI,Anthropic,GitHub"`
}

// BanditConfig holds Thompson Sampling settings.
type BanditConfig struct {
	RewardClick    float64 `env:"REWARD_CLICK" envDefault:"1"`
	RewardBookmark float64 `env:"REWARD_BOOKMARK" envDefault:"2"`
	RewardSkip     float64 `env:"REWARD_SKIP" envDefault:"1"`
	// Seed makes sampling reproducible. Zero draws from the runtime source.
	Seed uint64 `env:"BANDIT_SEED" envDefault:"0"`
}

// FeedConfig holds page composition settings.
type FeedConfig struct {
	// SerendipitySlots reserves the tail of each page for boundary articles
	// of the lowest-scored clusters. Zero disables it.
	SerendipitySlots int `env:"SERENDIPITY_SLOTS" envDefault:"0"`
}

// CollectorConfig holds source collection and scheduling settings.
type CollectorConfig struct {
	Interval        time.Duration `env:"COLLECT_INTERVAL" envDefault:"30m"`
	FetchRPS        float64       `env:"COLLECT_FETCH_RPS" envDefault:"2"`
	FetchTimeout    time.Duration `env:"COLLECT_FETCH_TIMEOUT" envDefault:"30s"`
	MaxItems        int           `env:"COLLECT_MAX_ITEMS" envDefault:"50"`
	MinTextLength   int           `env:"COLLECT_MIN_TEXT_LENGTH" envDefault:"200"`
	ReadabilityOn   bool          `env:"COLLECT_READABILITY_ENABLED" envDefault:"true"`
	UserAgent       string        `env:"COLLECT_USER_AGENT" envDefault:"BrainStream/1.0 (+https://github.com/japanese-wolf/brain-stream)"`
	// DisabledSources lists built-in source names to skip, e.g. "gcp-release-notes".
	DisabledSources []string `env:"SOURCES_DISABLED" envSeparator:","`
	GitHubRepos     []string `env:"GITHUB_RELEASE_REPOS" envSeparator:"," envDefault:"openai/openai-python,anthropics/anthropic-sdk-python,kubernetes/kubernetes,hashicorp/terraform,vercel/next.js"`
	RebuildInterval time.Duration `env:"REBUILD_INTERVAL" envDefault:"6h"`
	IngestRetries   int           `env:"INGEST_RETRIES" envDefault:"4"`
	RetryDelay      time.Duration `env:"INGEST_RETRY_DELAY" envDefault:"200ms"`
}
