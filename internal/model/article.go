package model

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type ArticleStatus string

const (
	StatusPending   ArticleStatus = "PENDING"
	StatusApproved  ArticleStatus = "APPROVED"
	StatusPublished ArticleStatus = "PUBLISHED"
	StatusRejected  ArticleStatus = "REJECTED"
)

// Valid reports whether s is one of the known review states.
func (s ArticleStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusPublished, StatusRejected:
		return true
	}
	return false
}

// ScrapedArticle is what a crawl run emits for one article page.
type ScrapedArticle struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	URL       string    `json:"url"`
	ImageURL  string    `json:"image_url,omitempty"`
	Section   string    `json:"section,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Article is the canonical, deduplicated record kept for review.
type Article struct {
	ID               uuid.UUID     `json:"id"`
	SourceID         uuid.UUID     `json:"source_id"`
	OriginalTitle    string        `json:"original_title"`
	OriginalContent  string        `json:"original_content"`
	OriginalURL      string        `json:"original_url"`
	OriginalImageURL string        `json:"original_image_url,omitempty"`
	Section          string        `json:"section,omitempty"`
	Embedding        []float32     `json:"embedding,omitempty"`
	ImageURL         string        `json:"image_url,omitempty"`
	ImageCandidates  []string      `json:"image_candidates"`
	InterestScore    int           `json:"interest_score"`
	RewrittenTitle   string        `json:"rewritten_title"`
	RewrittenContent string        `json:"rewritten_content"`
	Status           ArticleStatus `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
}

// NewArticle creates a pending Article seeded from a scrape.
func NewArticle(sourceID uuid.UUID, scraped ScrapedArticle) Article {
	return Article{
		ID:               uuid.New(),
		SourceID:         sourceID,
		OriginalTitle:    scraped.Title,
		OriginalContent:  scraped.Content,
		OriginalURL:      scraped.URL,
		OriginalImageURL: scraped.ImageURL,
		Section:          scraped.Section,
		ImageCandidates:  []string{},
		Status:           StatusPending,
		CreatedAt:        time.Now(),
	}
}

// HasCandidate reports whether url is already one of the image candidates.
func (a *Article) HasCandidate(url string) bool {
	return slices.Contains(a.ImageCandidates, url)
}

// AddCandidates appends the urls that are not present yet, keeping insertion
// order, and returns how many were added.
func (a *Article) AddCandidates(urls ...string) int {
	added := 0
	for _, u := range urls {
		if u == "" || a.HasCandidate(u) {
			continue
		}
		a.ImageCandidates = append(a.ImageCandidates, u)
		added++
	}
	return added
}

// Source is a news site articles are scraped from.
type Source struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSource creates an active Source.
func NewSource(name, rawURL string) Source {
	return Source{
		ID:        uuid.New(),
		Name:      name,
		URL:       rawURL,
		Active:    true,
		CreatedAt: time.Now(),
	}
}
