package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hermes/internal/ai/openai"
	"hermes/internal/crawler"
	"hermes/internal/dedup"
	"hermes/internal/images"
	"hermes/internal/metrics"
	"hermes/internal/pipeline"
	"hermes/internal/queue"
	"hermes/internal/scheduler"
	"hermes/internal/server"
	"hermes/internal/sites"
	"hermes/internal/store"
	"hermes/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var noWorker bool

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the workers, the scheduler and the web server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Setup Signal Handling (Ctrl+C)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			select {
			case <-sigChan:
				logger.Info("shutting down...")
				cancel()
			case <-ctx.Done():
			}
		}()

		// 'q' + Enter stops an interactive session too.
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				if scanner.Text() == "q" {
					logger.Info("'q' pressed, stopping...")
					cancel()
					return
				}
			}
		}()

		return runServer(ctx)
	},
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		return store.OpenPostgresStore(ctx, cfg.Store.PostgresDSN)
	default:
		return store.NewBadgerStore(cfg.Store.BadgerPath)
	}
}

func runServer(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	rdb, err := connectRedis(ctx)
	if err != nil {
		return err
	}
	defer rdb.Close()

	st, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to init store: %w", err)
	}
	defer st.Close()

	browser, err := crawler.LaunchBrowser(cfg.Crawler, logger)
	if err != nil {
		return err
	}
	defer browser.Close()

	provider, err := openai.New(cfg.AI, logger)
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	q := queue.New(rdb, queueOptions())
	settings := store.NewSettingsStore(rdb)
	registry := sites.Default()

	searcher := images.NewGoogleSearcher(browser, cfg.Images.SearchLimit, cfg.Images.SearchTimeout, cfg.Images.SearchRegion, logger)
	generator := images.NewOpenAIGenerator(cfg.AI.BaseURL, cfg.AI.Token, cfg.Images.GenerationModel,
		cfg.Images.GenerationSize, cfg.AI.RequestTimeout, logger)
	resolver := images.NewResolver(searcher, generator, provider, logger)

	engine := dedup.NewEngine(st, dedup.Options{
		MaxDistance:     cfg.Dedup.MaxDistance,
		NumericOverride: cfg.Dedup.NumericOverride,
	}, logger)
	pipe := pipeline.New(st, provider, provider, engine, resolver, m,
		pipeline.Options{RewriteStyle: cfg.AI.RewriteStyle}, logger)

	web := server.NewServer(server.Deps{
		Store:    st,
		Jobs:     q,
		Settings: settings,
		Curator:  images.NewCurator(resolver, st),
		Sites:    registry,
		Gatherer: prometheus.DefaultGatherer,
	}, logger)

	var sched *scheduler.Scheduler
	if cfg.Schedule.Cron != "" {
		if sched, err = scheduler.New(cfg.Schedule, q, logger); err != nil {
			return err
		}
	}

	errs := make(chan error, 2)
	go func() {
		if err := web.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("web server: %w", err)
		}
	}()

	workerDone := make(chan struct{})
	if noWorker {
		close(workerDone)
	} else {
		w := worker.New(worker.Deps{
			Queue:     q,
			Pages:     browser,
			Crawler:   crawler.New(logger),
			Sites:     registry,
			Limits:    settings,
			Processor: pipe,
			Metrics:   m,
		}, worker.Options{Concurrency: cfg.Worker.Concurrency, PopTimeout: cfg.Queue.PopTimeout}, logger)
		go func() {
			defer close(workerDone)
			if err := w.Start(ctx); err != nil {
				errs <- fmt.Errorf("worker: %w", err)
			}
		}()
	}

	if sched != nil {
		sched.Start()
		defer sched.Stop()
	}

	logger.Info("server running", zap.String("addr", cfg.Server.Addr))
	fmt.Println("Press 'q' + Enter or Ctrl+C to stop.")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
		logger.Error("component failed", zap.Error(runErr))
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := web.Stop(shutdownCtx); err != nil {
		logger.Warn("web server shutdown", zap.Error(err))
	}
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("worker did not stop in time, its jobs will be recovered on restart")
	}

	logger.Info("goodbye!")
	return runErr
}

func init() {
	serverCmd.Flags().BoolVar(&noWorker, "no-worker", false, "Serve the API only, without consuming jobs")
}
