package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"hermes/internal/config"
	"hermes/internal/model"
	"hermes/internal/queue"
	"hermes/internal/sites"
	"hermes/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	cfg        *config.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "hermes",
	Short: "hermes - news ingestion and enrichment pipeline",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		logger, err = cfg.Logging.NewLogger()
		return err
	},
	SilenceUsage: true,
}

var crawlURL string
var crawlLimit int

var crawlCmd = &cobra.Command{
	Use:   "crawl [source]",
	Short: "Enqueue a crawl job for a source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		adapter, err := sites.Default().Lookup(args[0])
		if err != nil {
			return err
		}
		if adapter.BaseURL() == "" && crawlURL == "" {
			return fmt.Errorf("source %s needs --url", adapter.Name())
		}

		// Client mode: Redis only, the article store stays closed.
		rdb, err := connectRedis(cmd.Context())
		if err != nil {
			return err
		}
		defer rdb.Close()

		q := queue.New(rdb, queueOptions())
		id, err := q.Enqueue(cmd.Context(), model.CrawlJob{Source: adapter.Name(), URL: crawlURL, Limit: crawlLimit})
		if err != nil {
			return err
		}
		logger.Info("crawl queued", zap.String("job_id", id), zap.String("source", adapter.Name()))
		fmt.Println(id)
		return nil
	},
}

var jobCmd = &cobra.Command{
	Use:   "job [id]",
	Short: "Show the status of a crawl job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rdb, err := connectRedis(cmd.Context())
		if err != nil {
			return err
		}
		defer rdb.Close()

		status, err := queue.New(rdb, queueOptions()).Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the sources that can be crawled",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		registry := sites.Default()
		for _, name := range registry.Names() {
			adapter, _ := registry.Lookup(name)
			base := adapter.BaseURL()
			if base == "" {
				base = "(any url)"
			}
			fmt.Printf("%-10s %s\n", name, base)
		}
	},
}

var limitCmd = &cobra.Command{
	Use:   "limit [n]",
	Short: "Show or set the per-section scrape limit",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rdb, err := connectRedis(cmd.Context())
		if err != nil {
			return err
		}
		defer rdb.Close()

		settings := store.NewSettingsStore(rdb)
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("limit must be a positive integer, got %q", args[0])
			}
			if err := settings.SetScrapeLimit(cmd.Context(), n); err != nil {
				return err
			}
		}

		n, err := settings.ScrapeLimit(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

func connectRedis(ctx context.Context) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	return rdb, nil
}

func queueOptions() queue.Options {
	return queue.Options{
		Name:        cfg.Queue.Name,
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: cfg.Queue.BackoffBase,
		ResultTTL:   cfg.Queue.ResultTTL,
		Consumer:    cfg.Queue.Consumer,
		LeaseTTL:    cfg.Queue.LeaseTTL,
	}
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (default ./hermes.yaml)")

	crawlCmd.Flags().StringVar(&crawlURL, "url", "", "Start URL, replaces the source's base URL")
	crawlCmd.Flags().IntVar(&crawlLimit, "limit", 0, "Articles per section (default: configured scrape limit)")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(limitCmd)

	err := rootCmd.Execute()
	if logger != nil {
		logger.Sync()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
