// Package worker consumes crawl jobs from the queue: each job is crawled
// through its site adapter and the result fed to the enrichment pipeline.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hermes/internal/crawler"
	"hermes/internal/metrics"
	"hermes/internal/model"
	"hermes/internal/pipeline"
	"hermes/internal/queue"
	"hermes/internal/sites"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// PageOpener hands out browsing tabs. *crawler.Browser satisfies it.
type PageOpener interface {
	NewPage() (crawler.Page, error)
}

// Limits supplies the per-section limit for jobs that carry none.
type Limits interface {
	ScrapeLimit(ctx context.Context) (int, error)
}

// Processor enriches a crawl batch. *pipeline.Pipeline satisfies it.
type Processor interface {
	Process(ctx context.Context, source, sourceURL string, articles []model.ScrapedArticle) (pipeline.Report, error)
}

type Deps struct {
	Queue     *queue.RedisQueue
	Pages     PageOpener
	Crawler   *crawler.Crawler
	Sites     *sites.Registry
	Limits    Limits
	Processor Processor
	Metrics   *metrics.Metrics
}

type Options struct {
	Concurrency int
	PopTimeout  time.Duration
}

// Worker runs up to Concurrency jobs at once. Articles inside one job are
// always processed sequentially; parallelism is across jobs only.
type Worker struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
}

func New(deps Deps, opts Options, logger *zap.Logger) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	// BRPOPLPUSH timeouts have a resolution of one second.
	if opts.PopTimeout < time.Second {
		opts.PopTimeout = time.Second
	}
	return &Worker{deps: deps, opts: opts, logger: logger.With(zap.String("component", "worker"))}
}

// Start runs the dispatch loop until ctx is cancelled, then waits for the
// running jobs. Jobs of consumers whose lease expired are re-queued at
// startup and on every heartbeat.
func (w *Worker) Start(ctx context.Context) error {
	// Nothing runs yet, so whatever this consumer still holds is left over
	// from a previous life under the same name.
	if _, err := w.deps.Queue.Release(ctx); err != nil {
		return err
	}
	if err := w.deps.Queue.Heartbeat(ctx); err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}
	w.reclaimOrphans(ctx)

	beats := make(chan struct{})
	go func() {
		defer close(beats)
		w.heartbeat(ctx)
	}()

	pool, err := ants.NewPool(w.opts.Concurrency, ants.WithPanicHandler(func(p any) {
		w.logger.Error("job panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return err
	}
	defer pool.Release()

	w.logger.Info("worker started, waiting for jobs", zap.Int("concurrency", w.opts.Concurrency))

	var wg sync.WaitGroup
	for {
		// Submit blocks while every slot is busy, so at most one dequeued
		// job waits for a free slot.
		d, err := w.deps.Queue.Dequeue(ctx, w.opts.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Error("queue error", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if d == nil {
			if ctx.Err() != nil {
				break
			}
			w.publishDepth(ctx)
			continue
		}

		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			w.handle(ctx, d)
		}); err != nil {
			wg.Done()
			w.logger.Error("failed to schedule job", zap.String("job_id", d.ID), zap.Error(err))
			w.settle(ctx, d, nil, err)
		}
	}

	w.logger.Info("worker shutting down, waiting for running jobs")
	wg.Wait()
	<-beats

	// Interrupted jobs go straight back to ready for the next consumer.
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if n, err := w.deps.Queue.Release(releaseCtx); err != nil {
		w.logger.Warn("failed to release interrupted jobs", zap.Error(err))
	} else if n > 0 {
		w.logger.Info("re-queued interrupted jobs", zap.Int("count", n))
	}
	return nil
}

// heartbeat renews the consumer lease while jobs run and reclaims the jobs
// of consumers that stopped renewing theirs.
func (w *Worker) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(w.deps.Queue.HeartbeatInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.deps.Queue.Heartbeat(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn("heartbeat failed", zap.Error(err))
			}
			w.reclaimOrphans(ctx)
		}
	}
}

func (w *Worker) reclaimOrphans(ctx context.Context) {
	recovered, err := w.deps.Queue.Recover(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("failed to recover orphaned jobs", zap.Error(err))
		}
		return
	}
	if recovered > 0 {
		w.logger.Info("re-queued orphaned jobs", zap.Int("count", recovered))
	}
}

func (w *Worker) handle(ctx context.Context, d *queue.Delivery) {
	logger := w.logger.With(
		zap.String("job_id", d.ID),
		zap.String("source", d.Job.Source),
		zap.Int("attempt", d.Attempts+1))
	logger.Info("processing started")

	start := time.Now()
	articles, err := w.Run(ctx, d.Job)
	if ctx.Err() != nil {
		// Left on the processing list; Release re-queues it once the
		// worker has drained.
		logger.Warn("job interrupted by shutdown")
		return
	}

	result := "succeeded"
	if err != nil {
		result = "failed"
		logger.Error("job failed", zap.Error(err), zap.Duration("took", time.Since(start)))
	} else {
		logger.Info("job complete", zap.Int("articles", len(articles)), zap.Duration("took", time.Since(start)))
	}
	w.deps.Metrics.Job(result, time.Since(start))

	w.settle(ctx, d, articles, err)
	w.publishDepth(ctx)
}

func (w *Worker) settle(ctx context.Context, d *queue.Delivery, articles []model.ScrapedArticle, cause error) {
	var err error
	if cause == nil {
		err = w.deps.Queue.Ack(ctx, d, articles)
	} else {
		err = w.deps.Queue.Fail(ctx, d, cause)
	}
	if err != nil {
		w.logger.Error("failed to settle job", zap.String("job_id", d.ID), zap.Error(err))
	}
}

// Run crawls one job and feeds the result through the processor. The
// crawled articles are returned even when processing fails. Errors that
// retrying cannot fix wrap queue.ErrPermanent.
func (w *Worker) Run(ctx context.Context, job model.CrawlJob) ([]model.ScrapedArticle, error) {
	adapter, err := w.deps.Sites.Lookup(job.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", queue.ErrPermanent, err)
	}
	if adapter.BaseURL() == "" && job.URL == "" {
		return nil, fmt.Errorf("%w: source %s needs a url", queue.ErrPermanent, adapter.Name())
	}

	limit := job.Limit
	if limit < 1 {
		if limit, err = w.deps.Limits.ScrapeLimit(ctx); err != nil {
			return nil, err
		}
	}

	page, err := w.deps.Pages.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	articles, err := w.deps.Crawler.Crawl(ctx, page, adapter, model.ScrapeTarget{
		Source:  adapter.Name(),
		BaseURL: job.URL,
		Limit:   limit,
	})
	if err != nil {
		return articles, err
	}
	w.deps.Metrics.Crawled(adapter.Name(), len(articles))

	sourceURL := adapter.BaseURL()
	if sourceURL == "" {
		sourceURL = job.URL
	}
	if _, err := w.deps.Processor.Process(ctx, adapter.Name(), sourceURL, articles); err != nil {
		return articles, fmt.Errorf("pipeline: %w", err)
	}
	return articles, nil
}

func (w *Worker) publishDepth(ctx context.Context) {
	if w.deps.Metrics == nil {
		return
	}
	ready, processing, delayed, dead, err := w.deps.Queue.Depth(ctx)
	if err != nil {
		w.logger.Debug("queue depth unavailable", zap.Error(err))
		return
	}
	w.deps.Metrics.Depth(ready, processing, delayed, dead)
}
