package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/japanese-wolf/brain-stream/internal/bandit"
	"github.com/japanese-wolf/brain-stream/internal/core/embeddings"
	"github.com/japanese-wolf/brain-stream/internal/core/errors"
	"github.com/japanese-wolf/brain-stream/internal/dedup"
	"github.com/japanese-wolf/brain-stream/internal/engine"
	"github.com/japanese-wolf/brain-stream/internal/topology"
)

const legacyPrefix = "BRAINSTREAM_"

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"local"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPPort int    `env:"HTTP_PORT" envDefault:"3000"`
	// CORSOrigin is echoed to the dashboard. Empty disables CORS headers.
	CORSOrigin string `env:"CORS_ORIGIN" envDefault:"http://localhost:5173"`

	Database  DatabaseConfig
	Embedding EmbeddingConfig
	Topology  TopologyConfig
	Dedup     DedupConfig
	Bandit    BanditConfig
	Feed      FeedConfig
	Collector CollectorConfig
}

func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional, error is expected when not present

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}

	applyLegacyAliases(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyLegacyAliases honours the BRAINSTREAM_* names used by earlier deployments
// when the current name is not set.
func applyLegacyAliases(cfg *Config) {
	if !hasEnv("HTTP_PORT") {
		setIntFromEnv(legacyPrefix+"PORT", &cfg.HTTPPort)
	}

	if !hasEnv("LOG_LEVEL") {
		setStringFromEnv(legacyPrefix+"LOG_LEVEL", &cfg.LogLevel)
	}

	if !hasEnv("POSTGRES_DSN") {
		setStringFromEnv(legacyPrefix+"DATABASE_URL", &cfg.Database.PostgresDSN)
	}

	if !hasEnv("MIN_CLUSTER_SIZE") {
		setIntFromEnv(legacyPrefix+"HDBSCAN_MIN_CLUSTER_SIZE", &cfg.Topology.MinClusterSize)
	}

	if !hasEnv("MIN_SAMPLES") {
		setIntFromEnv(legacyPrefix+"HDBSCAN_MIN_SAMPLES", &cfg.Topology.MinSamples)
	}

	if !hasEnv("SERENDIPITY_SLOTS") {
		setIntFromEnv(legacyPrefix+"SERENDIPITY_SLOTS", &cfg.Feed.SerendipitySlots)
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	t := c.Topology

	if t.DensityRadius <= 0 {
		return fmt.Errorf("%w: DENSITY_RADIUS must be positive, got %v", errors.ErrInvalidConfig, t.DensityRadius)
	}

	if c.Dedup.DuplicateRadius <= 0 || c.Dedup.DuplicateRadius >= t.DensityRadius {
		return fmt.Errorf("%w: DUPLICATE_RADIUS %v must be in (0, DENSITY_RADIUS %v)",
			errors.ErrInvalidConfig, c.Dedup.DuplicateRadius, t.DensityRadius)
	}

	if t.MinClusterSize < 2 {
		return fmt.Errorf("%w: MIN_CLUSTER_SIZE must be at least 2, got %d", errors.ErrInvalidConfig, t.MinClusterSize)
	}

	if t.MinSamples < 0 {
		return fmt.Errorf("%w: MIN_SAMPLES must not be negative", errors.ErrInvalidConfig)
	}

	if _, err := topology.ParseSelection(t.ClusterSelection); err != nil {
		return err
	}

	if _, err := topology.ParseMetric(t.DistanceMetric); err != nil {
		return err
	}

	b := c.Bandit
	if b.RewardClick <= 0 || b.RewardBookmark <= 0 || b.RewardSkip <= 0 {
		return fmt.Errorf("%w: reward weights must be positive", errors.ErrInvalidConfig)
	}

	if c.Feed.SerendipitySlots < 0 {
		return fmt.Errorf("%w: SERENDIPITY_SLOTS must not be negative", errors.ErrInvalidConfig)
	}

	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("%w: EMBEDDING_DIMENSIONS must be positive", errors.ErrInvalidConfig)
	}

	return nil
}

// EngineOptions converts the settings into component configs. Call Validate first.
func (c *Config) EngineOptions() engine.Options {
	selection, _ := topology.ParseSelection(c.Topology.ClusterSelection)
	metric, _ := topology.ParseMetric(c.Topology.DistanceMetric)

	source := bandit.NewRandomSource()
	if c.Bandit.Seed != 0 {
		source = bandit.NewSeededSource(c.Bandit.Seed)
	}

	return engine.Options{
		Topology: topology.Config{
			Dimensions:     c.Embedding.Dimensions,
			DensityRadius:  c.Topology.DensityRadius,
			MinClusterSize: c.Topology.MinClusterSize,
			MinSamples:     c.Topology.MinSamples,
			Selection:      selection,
			Metric:         metric,
		},
		Dedup: dedup.Config{
			DuplicateRadius: c.Dedup.DuplicateRadius,
			PrimaryVendors:  c.Dedup.PrimaryVendors,
		},
		Bandit: bandit.Config{
			Rewards: bandit.Rewards{
				Click:    c.Bandit.RewardClick,
				Bookmark: c.Bandit.RewardBookmark,
				Skip:     c.Bandit.RewardSkip,
			},
			Source: source,
		},
		NeighborCount:    c.Topology.NeighborCount,
		SerendipitySlots: c.Feed.SerendipitySlots,
		IngestRetries:    c.Collector.IngestRetries,
		RetryDelay:       c.Collector.RetryDelay,
	}
}

// EmbeddingClientConfig converts the provider settings.
func (c *Config) EmbeddingClientConfig() embeddings.Config {
	e := c.Embedding

	return embeddings.Config{
		OpenAIAPIKey:     e.OpenAIAPIKey,
		OpenAIBaseURL:    e.OpenAIBaseURL,
		OpenAIModel:      e.OpenAIModel,
		OpenAIDimensions: e.Dimensions,
		OpenAIRateLimit:  e.OpenAIRateLimit,
		CohereAPIKey:     e.CohereAPIKey,
		CohereModel:      e.CohereModel,
		CohereRateLimit:  e.CohereRateLimit,
		GoogleAPIKey:     e.GoogleAPIKey,
		GoogleModel:      e.GoogleModel,
		GoogleRateLimit:  e.GoogleRateLimit,
		ProviderOrder:    e.ProviderOrder,
		CircuitBreakerConfig: embeddings.CircuitBreakerConfig{
			Threshold:  e.CircuitThreshold,
			ResetAfter: e.CircuitTimeout,
		},
		TargetDimensions: e.Dimensions,
	}
}

func hasEnv(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}

func setStringFromEnv(key string, target *string) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return
	}

	val = strings.TrimSpace(val)
	if val == "" {
		return
	}

	*target = val
}

func setIntFromEnv(key string, target *int) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return
	}

	parsed, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return
	}

	*target = parsed
}
