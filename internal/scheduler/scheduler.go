// Package scheduler enqueues crawl jobs for a fixed set of sources on a cron
// schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"hermes/internal/config"
	"hermes/internal/model"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Enqueuer accepts crawl jobs. *queue.RedisQueue satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, job model.CrawlJob) (string, error)
}

type Scheduler struct {
	cron    *cron.Cron
	parser  cron.Parser
	queue   Enqueuer
	sources []string
	limit   int
	logger  *zap.Logger
}

// New validates the schedule. cfg.Cron uses the standard five fields and
// the @every / @hourly descriptors.
func New(cfg config.ScheduleConfig, q Enqueuer, logger *zap.Logger) (*Scheduler, error) {
	if cfg.Cron == "" {
		return nil, errors.New("schedule: empty cron spec")
	}
	if len(cfg.Sources) == 0 {
		return nil, errors.New("schedule: no sources configured")
	}

	s := &Scheduler{
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		queue:   q,
		sources: cfg.Sources,
		limit:   cfg.Limit,
		logger:  logger.With(zap.String("component", "scheduler")),
	}
	s.cron = cron.New(cron.WithParser(s.parser))

	if _, err := s.parser.Parse(cfg.Cron); err != nil {
		return nil, fmt.Errorf("schedule: invalid cron spec %q: %w", cfg.Cron, err)
	}
	if _, err := s.cron.AddFunc(cfg.Cron, func() { s.EnqueueAll(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}
	return s, nil
}

// EnqueueAll submits one job per configured source and returns the job ids
// that were accepted. A failing source does not stop the others.
func (s *Scheduler) EnqueueAll(ctx context.Context) []string {
	ids := make([]string, 0, len(s.sources))
	for _, src := range s.sources {
		id, err := s.queue.Enqueue(ctx, model.CrawlJob{Source: src, Limit: s.limit})
		if err != nil {
			s.logger.Error("failed to enqueue scheduled crawl", zap.String("source", src), zap.Error(err))
			continue
		}
		ids = append(ids, id)
	}
	s.logger.Info("scheduled crawls enqueued", zap.Int("jobs", len(ids)))
	return ids
}

func (s *Scheduler) Start() {
	s.cron.Start()
	entries := s.cron.Entries()
	if len(entries) > 0 {
		s.logger.Info("scheduler started", zap.Time("next_run", entries[0].Next))
	}
}

// Stop halts the schedule and waits for a running trigger to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
