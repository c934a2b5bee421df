package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from defaults, an optional YAML file and HERMES_*
// environment variables, in increasing priority. A .env file in the working
// directory is loaded into the environment first when present.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix("HERMES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("hermes")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)

	v.SetDefault("store.backend", cfg.Store.Backend)
	v.SetDefault("store.badger_path", cfg.Store.BadgerPath)
	v.SetDefault("store.postgres_dsn", cfg.Store.PostgresDSN)

	v.SetDefault("queue.name", cfg.Queue.Name)
	v.SetDefault("queue.max_attempts", cfg.Queue.MaxAttempts)
	v.SetDefault("queue.backoff_base", cfg.Queue.BackoffBase)
	v.SetDefault("queue.pop_timeout", cfg.Queue.PopTimeout)
	v.SetDefault("queue.result_ttl", cfg.Queue.ResultTTL)
	v.SetDefault("queue.consumer", cfg.Queue.Consumer)
	v.SetDefault("queue.lease_ttl", cfg.Queue.LeaseTTL)

	v.SetDefault("worker.concurrency", cfg.Worker.Concurrency)

	v.SetDefault("crawler.navigation_timeout", cfg.Crawler.NavigationTimeout)
	v.SetDefault("crawler.politeness_delay", cfg.Crawler.PolitenessDelay)
	v.SetDefault("crawler.headless", cfg.Crawler.Headless)
	v.SetDefault("crawler.stealth", cfg.Crawler.Stealth)
	v.SetDefault("crawler.user_agent", cfg.Crawler.UserAgent)

	v.SetDefault("ai.base_url", cfg.AI.BaseURL)
	v.SetDefault("ai.token", cfg.AI.Token)
	v.SetDefault("ai.chat_model", cfg.AI.ChatModel)
	v.SetDefault("ai.embedding_model", cfg.AI.EmbeddingModel)
	v.SetDefault("ai.request_timeout", cfg.AI.RequestTimeout)
	v.SetDefault("ai.rewrite_style", cfg.AI.RewriteStyle)
	v.SetDefault("ai.rewrite_prompt", cfg.AI.RewritePrompt)
	v.SetDefault("ai.interest_prompt", cfg.AI.InterestPrompt)

	v.SetDefault("images.generation_model", cfg.Images.GenerationModel)
	v.SetDefault("images.generation_size", cfg.Images.GenerationSize)
	v.SetDefault("images.search_limit", cfg.Images.SearchLimit)
	v.SetDefault("images.search_timeout", cfg.Images.SearchTimeout)
	v.SetDefault("images.search_region", cfg.Images.SearchRegion)

	v.SetDefault("dedup.max_distance", cfg.Dedup.MaxDistance)
	v.SetDefault("dedup.numeric_override", cfg.Dedup.NumericOverride)

	v.SetDefault("server.addr", cfg.Server.Addr)

	v.SetDefault("schedule.cron", cfg.Schedule.Cron)
	v.SetDefault("schedule.sources", cfg.Schedule.Sources)
	v.SetDefault("schedule.limit", cfg.Schedule.Limit)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.development", cfg.Logging.Development)
}
