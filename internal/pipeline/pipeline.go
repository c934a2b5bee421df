// Package pipeline turns scraped articles into canonical, enriched records.
//
// Articles of one batch are processed strictly one after another: each is
// fully persisted before the next one's dedup lookup runs, so two near
// duplicates in the same batch cannot both pass as new.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hermes/internal/ai"
	"hermes/internal/dedup"
	"hermes/internal/images"
	"hermes/internal/metrics"
	"hermes/internal/model"
	"hermes/internal/store"

	"go.uber.org/zap"
)

// ErrInfrastructure marks failures of the article store. They abort the
// batch so the job can be retried.
var ErrInfrastructure = errors.New("infrastructure failure")

// EmbeddingContentLimit is how much of the body goes into the embedding.
const EmbeddingContentLimit = 1000

// Report counts what happened to a batch.
type Report struct {
	Created           int
	DuplicateURL      int
	DuplicateSemantic int
	Harvested         int
	Failed            int
}

type Options struct {
	RewriteStyle string
}

type Pipeline struct {
	store    store.Store
	embedder ai.Embedder
	chat     ai.Chat
	dedup    *dedup.Engine
	images   *images.Resolver
	metrics  *metrics.Metrics
	opts     Options
	logger   *zap.Logger
}

func New(st store.Store, embedder ai.Embedder, chat ai.Chat, engine *dedup.Engine, resolver *images.Resolver,
	m *metrics.Metrics, opts Options, logger *zap.Logger) *Pipeline {
	if opts.RewriteStyle == "" {
		opts.RewriteStyle = "neutral"
	}
	return &Pipeline{
		store:    st,
		embedder: embedder,
		chat:     chat,
		dedup:    engine,
		images:   resolver,
		metrics:  m,
		opts:     opts,
		logger:   logger.With(zap.String("component", "pipeline")),
	}
}

type outcome int

const (
	created outcome = iota
	duplicateURL
	duplicateSemantic
)

// Process enriches and persists articles in order. A failing article is
// logged and skipped; an ErrInfrastructure failure stops the batch and is
// returned together with the report so far.
func (p *Pipeline) Process(ctx context.Context, source, sourceURL string, articles []model.ScrapedArticle) (Report, error) {
	var report Report
	logger := p.logger.With(zap.String("source", source))
	b := &batch{source: source, sourceURL: sourceURL}

	for _, art := range articles {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res, harvested, err := p.processOne(ctx, b, art, logger)
		if err != nil {
			p.metrics.Article(metrics.OutcomeFailed)
			if errors.Is(err, ErrInfrastructure) || ctx.Err() != nil {
				return report, err
			}
			report.Failed++
			logger.Error("article failed", zap.String("url", art.URL), zap.Error(err))
			continue
		}

		switch res {
		case created:
			report.Created++
			p.metrics.Article(metrics.OutcomeCreated)
		case duplicateURL:
			report.DuplicateURL++
			p.metrics.Article(metrics.OutcomeDuplicateURL)
		case duplicateSemantic:
			report.DuplicateSemantic++
			p.metrics.Article(metrics.OutcomeDuplicateSemantic)
			if harvested {
				report.Harvested++
			}
		}
	}

	logger.Info("batch processed",
		zap.Int("articles", len(articles)),
		zap.Int("created", report.Created),
		zap.Int("duplicate_url", report.DuplicateURL),
		zap.Int("duplicate_semantic", report.DuplicateSemantic),
		zap.Int("failed", report.Failed))
	return report, nil
}

// batch resolves the source record once, on the first article persisted.
type batch struct {
	source    string
	sourceURL string
	resolved  *model.Source
}

func (p *Pipeline) sourceOf(ctx context.Context, b *batch) (*model.Source, error) {
	if b.resolved != nil {
		return b.resolved, nil
	}
	src, err := p.store.EnsureSource(ctx, b.source, b.sourceURL)
	if err != nil {
		return nil, infra("ensure source", err)
	}
	b.resolved = src
	return src, nil
}

func (p *Pipeline) processOne(ctx context.Context, b *batch, art model.ScrapedArticle, logger *zap.Logger) (outcome, bool, error) {
	logger = logger.With(zap.String("url", art.URL))

	start := time.Now()
	_, err := p.store.FindByURL(ctx, art.URL)
	p.metrics.ObserveStage("url_check", start)
	switch {
	case err == nil:
		logger.Debug("already stored")
		return duplicateURL, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return 0, false, infra("url lookup", err)
	}

	start = time.Now()
	embedding, err := p.embedder.EmbedText(ctx, art.Title+"\n\n"+ai.Truncate(art.Content, EmbeddingContentLimit))
	p.metrics.ObserveStage("embed", start)
	if err != nil {
		return 0, false, fmt.Errorf("embedding: %w", err)
	}

	start = time.Now()
	decision, err := p.dedup.Check(ctx, art.Title, embedding)
	p.metrics.ObserveStage("dedup", start)
	if err != nil {
		return 0, false, infra("nearest lookup", err)
	}
	switch decision.Verdict {
	case dedup.Duplicate:
		harvested, err := p.harvest(ctx, decision.Match, art.ImageURL)
		if err != nil {
			return 0, false, err
		}
		logger.Info("semantic duplicate",
			zap.Stringer("match_id", decision.Match.ID),
			zap.Float64("distance", decision.Distance),
			zap.Bool("image_harvested", harvested))
		return duplicateSemantic, harvested, nil
	case dedup.NumericOverride:
		p.metrics.Article(metrics.OutcomeNumericOverride)
		logger.Info("near match kept as new event, numbers differ",
			zap.String("title", art.Title),
			zap.String("match_title", decision.Match.OriginalTitle))
	}

	start = time.Now()
	score := p.chat.Score(ctx, art.Title, art.Content)
	p.metrics.ObserveStage("score", start)
	if score.Fallback {
		logger.Warn("interest score fell back to default", zap.Error(score.Err))
	}

	start = time.Now()
	rewrite := p.chat.Rewrite(ctx, art.Title, art.Content, p.opts.RewriteStyle)
	p.metrics.ObserveStage("rewrite", start)
	if rewrite.Fallback {
		logger.Warn("rewrite fell back to original text", zap.Error(rewrite.Err))
	}

	start = time.Now()
	img := p.images.Resolve(ctx, art.Title, art.Content, art.ImageURL)
	p.metrics.ObserveStage("images", start)

	start = time.Now()
	defer p.metrics.ObserveStage("persist", start)

	src, err := p.sourceOf(ctx, b)
	if err != nil {
		return 0, false, err
	}
	article := model.NewArticle(src.ID, art)
	article.Embedding = embedding
	article.InterestScore = score.Value
	article.RewrittenTitle = rewrite.Value.Title
	article.RewrittenContent = rewrite.Value.Content
	article.ImageURL = img.FeatureImage
	article.AddCandidates(img.Candidates...)

	if err := p.store.Create(ctx, &article); err != nil {
		if errors.Is(err, store.ErrDuplicateURL) {
			// Another job stored the same url while this one was enriching.
			return duplicateURL, false, nil
		}
		return 0, false, infra("create article", err)
	}
	logger.Info("article created",
		zap.Stringer("id", article.ID),
		zap.Int("interest", article.InterestScore),
		zap.Int("images", len(article.ImageCandidates)))
	return created, false, nil
}

// harvest adds the scraped image to the matched article's candidates. A
// match deleted since the lookup (rejected in review) just harvests nothing.
func (p *Pipeline) harvest(ctx context.Context, match *model.Article, imageURL string) (bool, error) {
	if !images.IsHTTP(imageURL) || match.HasCandidate(imageURL) {
		return false, nil
	}
	added, err := p.store.AppendImageCandidates(ctx, match.ID, imageURL)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Info("matched article is gone, image not harvested", zap.Stringer("match_id", match.ID))
		return false, nil
	}
	if err != nil {
		return false, infra("append image candidate", err)
	}
	return added > 0, nil
}

func infra(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrInfrastructure, err)
}
