package config

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the full process configuration.
type Config struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Store    StoreConfig    `mapstructure:"store"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	AI       AIConfig       `mapstructure:"ai"`
	Images   ImagesConfig   `mapstructure:"images"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
	Server   ServerConfig   `mapstructure:"server"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StoreConfig selects the article store backend: "badger" or "postgres".
type StoreConfig struct {
	Backend     string `mapstructure:"backend"`
	BadgerPath  string `mapstructure:"badger_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type QueueConfig struct {
	Name        string        `mapstructure:"name"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	PopTimeout  time.Duration `mapstructure:"pop_timeout"`
	ResultTTL   time.Duration `mapstructure:"result_ttl"`
	// Consumer names this process in the queue; random when empty.
	Consumer string        `mapstructure:"consumer"`
	LeaseTTL time.Duration `mapstructure:"lease_ttl"`
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type CrawlerConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	PolitenessDelay   time.Duration `mapstructure:"politeness_delay"`
	Headless          bool          `mapstructure:"headless"`
	Stealth           bool          `mapstructure:"stealth"`
	UserAgent         string        `mapstructure:"user_agent"`
}

type AIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	ChatModel      string        `mapstructure:"chat_model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RewriteStyle   string        `mapstructure:"rewrite_style"`
	RewritePrompt  string        `mapstructure:"rewrite_prompt"`
	InterestPrompt string        `mapstructure:"interest_prompt"`
}

type ImagesConfig struct {
	GenerationModel string        `mapstructure:"generation_model"`
	GenerationSize  string        `mapstructure:"generation_size"`
	SearchLimit     int           `mapstructure:"search_limit"`
	SearchTimeout   time.Duration `mapstructure:"search_timeout"`
	SearchRegion    string        `mapstructure:"search_region"`
}

// DedupConfig holds the semantic dedup heuristics. MaxDistance is a cosine
// distance: a match needs distance strictly below it.
type DedupConfig struct {
	MaxDistance     float64 `mapstructure:"max_distance"`
	NumericOverride bool    `mapstructure:"numeric_override"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// ScheduleConfig enables periodic crawls when Cron is non-empty.
type ScheduleConfig struct {
	Cron    string   `mapstructure:"cron"`
	Sources []string `mapstructure:"sources"`
	Limit   int      `mapstructure:"limit"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Redis: RedisConfig{Addr: "localhost:6379"},
		Store: StoreConfig{
			Backend:    "badger",
			BadgerPath: "./badger-data",
		},
		Queue: QueueConfig{
			Name:        "scraper-queue",
			MaxAttempts: 3,
			BackoffBase: 30 * time.Second,
			PopTimeout:  5 * time.Second,
			ResultTTL:   24 * time.Hour,
			LeaseTTL:    30 * time.Second,
		},
		Worker: WorkerConfig{Concurrency: 2},
		Crawler: CrawlerConfig{
			NavigationTimeout: 60 * time.Second,
			PolitenessDelay:   500 * time.Millisecond,
			Headless:          true,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		},
		AI: AIConfig{
			BaseURL:        "https://api.openai.com/v1",
			ChatModel:      "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			RequestTimeout: 60 * time.Second,
			RewriteStyle:   "neutral",
		},
		Images: ImagesConfig{
			GenerationModel: "dall-e-3",
			GenerationSize:  "1024x1024",
			SearchLimit:     10,
			SearchTimeout:   20 * time.Second,
			SearchRegion:    "ar",
		},
		Dedup: DedupConfig{
			MaxDistance:     0.15,
			NumericOverride: true,
		},
		Server:  ServerConfig{Addr: ":3000"},
		Logging: LoggingConfig{Level: "info", Development: true},
	}
}

// Validate rejects configurations the process cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "badger":
		if c.Store.BadgerPath == "" {
			return fmt.Errorf("config: store.badger_path is required for the badger backend")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("config: store.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("config: queue.max_attempts must be at least 1")
	}
	if c.Queue.LeaseTTL < 3*time.Second {
		return fmt.Errorf("config: queue.lease_ttl must be at least 3s")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("config: worker.concurrency must be at least 1")
	}
	if c.Dedup.MaxDistance <= 0 || c.Dedup.MaxDistance >= 2 {
		return fmt.Errorf("config: dedup.max_distance must be in (0, 2)")
	}
	return nil
}

// NewLogger builds the process logger from the logging section.
func (c LoggingConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("config: invalid logging.level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
