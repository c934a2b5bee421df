package images

import (
	"context"
	"errors"
	"fmt"

	"hermes/internal/model"
	"hermes/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNoCandidates is returned by Select for an article without images.
	ErrNoCandidates = errors.New("article has no image candidates")

	// Returned when the matching provider was not wired in.
	ErrGenerationDisabled = errors.New("image generation is not configured")
	ErrSearchDisabled     = errors.New("image search is not configured")
)

// Curator re-runs single image steps on stored articles, on request of a
// reviewer. Unlike Resolve, provider errors are returned.
type Curator struct {
	resolver *Resolver
	store    store.Store
}

func NewCurator(resolver *Resolver, st store.Store) *Curator {
	return &Curator{resolver: resolver, store: st}
}

// Search appends fresh search results to the article's candidates.
func (c *Curator) Search(ctx context.Context, id uuid.UUID) (*model.Article, error) {
	a, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.resolver.searcher == nil {
		return nil, ErrSearchDisabled
	}

	found, err := c.resolver.searcher.Search(ctx, a.OriginalTitle)
	if err != nil {
		return nil, fmt.Errorf("image search failed: %w", err)
	}
	added, err := c.store.AppendImageCandidates(ctx, id, found...)
	if err != nil {
		return nil, err
	}
	c.resolver.logger.Info("image search appended candidates", zap.Stringer("article_id", id), zap.Int("added", added))
	return c.afterAppend(ctx, id)
}

// Generate appends a generated image. It becomes the feature image only if
// the article had none.
func (c *Curator) Generate(ctx context.Context, id uuid.UUID) (*model.Article, error) {
	a, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	generated, err := c.resolver.generate(ctx, a.OriginalTitle)
	if err != nil {
		return nil, fmt.Errorf("image generation failed: %w", err)
	}
	if _, err := c.store.AppendImageCandidates(ctx, id, generated); err != nil {
		return nil, err
	}
	return c.afterAppend(ctx, id)
}

// Select re-runs the model pick over the current candidates.
func (c *Curator) Select(ctx context.Context, id uuid.UUID) (*model.Article, error) {
	a, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(a.ImageCandidates) == 0 {
		return nil, ErrNoCandidates
	}

	pick := c.resolver.Pick(ctx, a.OriginalTitle, a.OriginalContent, a.ImageCandidates)
	if err := c.store.SetFeatureImage(ctx, id, pick); err != nil {
		return nil, err
	}
	return c.store.Get(ctx, id)
}

// afterAppend fills an empty feature image from the first candidate.
func (c *Curator) afterAppend(ctx context.Context, id uuid.UUID) (*model.Article, error) {
	a, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.ImageURL == "" && len(a.ImageCandidates) > 0 {
		if err := c.store.SetFeatureImage(ctx, id, a.ImageCandidates[0]); err != nil {
			return nil, err
		}
		a.ImageURL = a.ImageCandidates[0]
	}
	return a, nil
}
