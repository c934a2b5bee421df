// Package metrics holds the Prometheus instruments of the ingestion pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hermes"

// Pipeline outcomes.
const (
	OutcomeCreated           = "created"
	OutcomeDuplicateURL      = "duplicate_url"
	OutcomeDuplicateSemantic = "duplicate_semantic"
	OutcomeNumericOverride   = "numeric_override"
	OutcomeFailed            = "failed"
)

type Metrics struct {
	JobsTotal        *prometheus.CounterVec
	JobDuration      prometheus.Histogram
	CrawledArticles  *prometheus.CounterVec
	PipelineArticles *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	QueueDepth       *prometheus.GaugeVec
}

// New registers the instruments on reg, or on the default registerer when
// reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Crawl jobs settled, by result",
		}, []string{"result"}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of one crawl job including enrichment",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		CrawledArticles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crawl_articles_total",
			Help:      "Articles emitted by crawl runs",
		}, []string{"source"}),
		PipelineArticles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_articles_total",
			Help:      "Articles through the enrichment pipeline, by outcome",
		}, []string{"outcome"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each enrichment stage",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs per queue list",
		}, []string{"list"}),
	}
}

// ObserveStage records time since start for stage. Safe on a nil receiver.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Article counts one pipeline outcome. Safe on a nil receiver.
func (m *Metrics) Article(outcome string) {
	if m == nil {
		return
	}
	m.PipelineArticles.WithLabelValues(outcome).Inc()
}

// Job counts one settled job and its duration. Safe on a nil receiver.
func (m *Metrics) Job(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(result).Inc()
	m.JobDuration.Observe(d.Seconds())
}

// Crawled counts articles a crawl produced. Safe on a nil receiver.
func (m *Metrics) Crawled(source string, n int) {
	if m == nil {
		return
	}
	m.CrawledArticles.WithLabelValues(source).Add(float64(n))
}

// Depth publishes queue sizes. Safe on a nil receiver.
func (m *Metrics) Depth(ready, processing, delayed, dead int64) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues("ready").Set(float64(ready))
	m.QueueDepth.WithLabelValues("processing").Set(float64(processing))
	m.QueueDepth.WithLabelValues("delayed").Set(float64(delayed))
	m.QueueDepth.WithLabelValues("dead").Set(float64(dead))
}
