package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL"`

	ScraperURL     string        `envconfig:"SCRAPER_URL"`
	ScraperAPIKey  string        `envconfig:"SCRAPER_API_KEY"`
	ScrapeTimeout  time.Duration `envconfig:"SCRAPE_TIMEOUT" default:"45s"`
	FeedScraperURL string        `envconfig:"FEED_SCRAPER_URL"`
	FeedAPIKey     string        `envconfig:"FEED_API_KEY"`
	FeedPageSize   int           `envconfig:"FEED_PAGE_SIZE" default:"100"`

	IngestConcurrency  int           `envconfig:"INGEST_CONCURRENCY" default:"2"`
	KeywordConcurrency int           `envconfig:"KEYWORD_CONCURRENCY" default:"5"`
	EmbedWorkers       int           `envconfig:"EMBED_WORKERS" default:"4"`
	ChunkBatchSize     int           `envconfig:"CHUNK_BATCH_SIZE" default:"50"`
	PollInterval       time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("VOCERIA", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasScraper() bool {
	return c.ScraperURL != ""
}

func (c *Config) HasFeedScraper() bool {
	return c.FeedScraperURL != ""
}
