package store

import (
	"context"
	"errors"

	"hermes/internal/model"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("article not found")
	ErrDuplicateURL = errors.New("article with this url already exists")
)

// Match is the nearest canonical article to a query embedding.
type Match struct {
	Article  *model.Article
	Distance float64
}

// ListOptions filters List. Zero values mean "any status" and "no limit".
type ListOptions struct {
	Status model.ArticleStatus
	Limit  int
}

// Patch carries review edits. Nil fields are left untouched.
type Patch struct {
	Status           *model.ArticleStatus
	RewrittenTitle   *string
	RewrittenContent *string
	ImageURL         *string
}

// Store persists canonical articles and their sources.
type Store interface {
	// FindByURL returns ErrNotFound when no article has exactly this url.
	FindByURL(ctx context.Context, url string) (*model.Article, error)
	// FindNearest returns the closest article whose cosine distance to
	// embedding is below maxDistance, or nil when none qualifies.
	FindNearest(ctx context.Context, embedding []float32, maxDistance float64) (*Match, error)
	// Create fails with ErrDuplicateURL if the url is already taken.
	Create(ctx context.Context, article *model.Article) error
	// AppendImageCandidates atomically adds the urls that are not present yet
	// and returns how many were added.
	AppendImageCandidates(ctx context.Context, id uuid.UUID, urls ...string) (int, error)
	// SetFeatureImage replaces the feature image, adding it to the candidates
	// when missing.
	SetFeatureImage(ctx context.Context, id uuid.UUID, url string) error
	Update(ctx context.Context, id uuid.UUID, patch Patch) (*model.Article, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Article, error)
	List(ctx context.Context, opts ListOptions) ([]model.Article, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// EnsureSource returns the named source, creating it with rawURL on first use.
	EnsureSource(ctx context.Context, name, rawURL string) (*model.Source, error)
	GetSource(ctx context.Context, name string) (*model.Source, error)

	Close() error
}

// apply copies the non-nil patch fields onto a.
func (p Patch) apply(a *model.Article) {
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.RewrittenTitle != nil {
		a.RewrittenTitle = *p.RewrittenTitle
	}
	if p.RewrittenContent != nil {
		a.RewrittenContent = *p.RewrittenContent
	}
	if p.ImageURL != nil {
		a.ImageURL = *p.ImageURL
		a.AddCandidates(*p.ImageURL)
	}
}
