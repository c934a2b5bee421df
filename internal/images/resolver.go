// Package images finds a feature image for an article: the scraped image,
// web image search, model selection and, when all else fails, generation.
package images

import (
	"context"
	"strings"

	"hermes/internal/ai"

	"go.uber.org/zap"
)

// Searcher is a best-effort image search. An empty result is not an error.
type Searcher interface {
	Search(ctx context.Context, query string) ([]string, error)
}

// Generator creates an image for prompt and returns its URL.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Result is the image state of a new article. FeatureImage is empty when
// nothing could be found or generated.
type Result struct {
	FeatureImage string
	Candidates   []string
}

// Resolver runs the image strategy. Searcher and Generator may be nil to
// disable that step.
type Resolver struct {
	searcher  Searcher
	generator Generator
	chat      ai.Chat
	logger    *zap.Logger
}

func NewResolver(searcher Searcher, generator Generator, chat ai.Chat, logger *zap.Logger) *Resolver {
	return &Resolver{
		searcher:  searcher,
		generator: generator,
		chat:      chat,
		logger:    logger.With(zap.String("component", "images")),
	}
}

// Resolve never fails: provider errors are logged and the next step runs.
func (r *Resolver) Resolve(ctx context.Context, title, content, scrapedImage string) Result {
	var candidates []string
	if IsHTTP(scrapedImage) {
		candidates = append(candidates, scrapedImage)
	}
	candidates = appendUnique(candidates, r.search(ctx, title)...)

	if len(candidates) == 0 {
		generated, err := r.generate(ctx, title)
		if err != nil {
			r.logger.Warn("image generation failed, article has no image", zap.String("title", title), zap.Error(err))
			return Result{}
		}
		return Result{FeatureImage: generated, Candidates: []string{generated}}
	}

	return Result{FeatureImage: r.Pick(ctx, title, content, candidates), Candidates: candidates}
}

// Pick asks the model for the best of the first candidates. Anything but a
// valid index into what was offered selects the first candidate.
func (r *Resolver) Pick(ctx context.Context, title, content string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	offered := candidates[:min(len(candidates), ai.MaxImageChoices)]

	out := r.chat.SelectBestImage(ctx, title, ai.Truncate(content, ai.SelectContentLimit), offered)
	if out.Fallback {
		r.logger.Debug("image selection fell back", zap.Error(out.Err))
	}
	if out.Value < 0 || out.Value >= len(offered) {
		r.logger.Debug("image selection out of range", zap.Int("index", out.Value), zap.Int("offered", len(offered)))
		return candidates[0]
	}
	return offered[out.Value]
}

func (r *Resolver) search(ctx context.Context, query string) []string {
	if r.searcher == nil {
		return nil
	}
	found, err := r.searcher.Search(ctx, query)
	if err != nil {
		r.logger.Warn("image search failed", zap.String("query", query), zap.Error(err))
		return nil
	}
	return found
}

func (r *Resolver) generate(ctx context.Context, prompt string) (string, error) {
	if r.generator == nil {
		return "", ErrGenerationDisabled
	}
	return r.generator.Generate(ctx, prompt)
}

// IsHTTP accepts absolute http and https URLs only.
func IsHTTP(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func appendUnique(list []string, urls ...string) []string {
	seen := make(map[string]struct{}, len(list)+len(urls))
	for _, u := range list {
		seen[u] = struct{}{}
	}
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		list = append(list, u)
	}
	return list
}
