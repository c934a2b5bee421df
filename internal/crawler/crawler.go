// Package crawler walks a news site's front page and sections through a site
// adapter and collects the articles it finds.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"hermes/internal/model"

	"go.uber.org/zap"
)

// FrontPage labels the base URL target.
const FrontPage = "Portada"

// Page is one browsing tab. It navigates one URL at a time.
type Page interface {
	Navigate(ctx context.Context, rawURL string) error
	HTML() (string, error)
	Close() error
}

// Extracted is what an adapter reads off an article page.
type Extracted struct {
	Title    string
	Content  string
	ImageURL string
	// Section is optional; the target's label is used when empty.
	Section string
}

// Adapter knows how one site lays out its pages.
type Adapter interface {
	Name() string
	BaseURL() string
	// Sections are absolute URLs, or paths relative to the base URL.
	Sections() []string
	// CandidateLinks lists article links on page, which has already been
	// navigated to pageURL.
	CandidateLinks(ctx context.Context, page Page, pageURL string) ([]string, error)
	// Extract reads the article loaded in page.
	Extract(ctx context.Context, page Page, articleURL string) (Extracted, error)
}

// Target is one page to collect links from.
type Target struct {
	URL     string
	Section string
}

// BuildTargets returns the base URL labelled FrontPage followed by one
// target per section, without repeated URLs. The first label wins.
func BuildTargets(baseURL string, sections []string) []Target {
	targets := []Target{{URL: baseURL, Section: FrontPage}}
	base := strings.TrimSuffix(baseURL, "/")
	for _, s := range sections {
		u := s
		if !strings.HasPrefix(s, "http") {
			u = base + "/" + strings.TrimPrefix(s, "/")
		}
		targets = append(targets, Target{URL: u, Section: SectionLabel(s)})
	}

	seen := make(map[string]struct{}, len(targets))
	unique := targets[:0]
	for _, t := range targets {
		if _, dup := seen[t.URL]; dup {
			continue
		}
		seen[t.URL] = struct{}{}
		unique = append(unique, t)
	}
	return unique
}

// SectionLabel capitalizes the last non-empty path segment of a section.
func SectionLabel(section string) string {
	path := section
	if u, err := url.Parse(section); err == nil && u.Host != "" {
		path = u.Path
	}

	var last string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			last = seg
		}
	}
	if last == "" {
		return "General"
	}
	r, size := utf8.DecodeRuneInString(last)
	return string(unicode.ToUpper(r)) + last[size:]
}

// Crawler runs crawl passes. It holds no per-run state.
type Crawler struct {
	logger *zap.Logger
	now    func() time.Time
}

func New(logger *zap.Logger) *Crawler {
	return &Crawler{logger: logger.With(zap.String("component", "crawler")), now: time.Now}
}

// Crawl visits every target of t in order and returns the accepted articles
// in target-then-candidate order. At most t.Limit articles are accepted per
// target and no URL is emitted twice. Failing targets and candidates are
// logged and skipped; only context cancellation stops the run early.
func (c *Crawler) Crawl(ctx context.Context, page Page, adapter Adapter, t model.ScrapeTarget) ([]model.ScrapedArticle, error) {
	if t.Limit < 1 {
		return nil, fmt.Errorf("crawl limit must be at least 1, got %d", t.Limit)
	}
	base := t.BaseURL
	if base == "" {
		base = adapter.BaseURL()
	}
	sections := t.Sections
	if sections == nil {
		sections = adapter.Sections()
	}

	logger := c.logger.With(zap.String("source", adapter.Name()))
	var articles []model.ScrapedArticle
	seen := make(map[string]struct{})

	for _, target := range BuildTargets(base, sections) {
		if err := ctx.Err(); err != nil {
			return articles, err
		}

		accepted, err := c.crawlTarget(ctx, page, adapter, target, t.Limit, seen, logger)
		articles = append(articles, accepted...)
		if err != nil {
			if ctx.Err() != nil {
				return articles, ctx.Err()
			}
			logger.Warn("skipping section", zap.String("section", target.Section), zap.String("url", target.URL), zap.Error(err))
			continue
		}
		logger.Info("section done",
			zap.String("section", target.Section),
			zap.Int("accepted", len(accepted)),
			zap.Int("total", len(articles)))
	}
	return articles, nil
}

func (c *Crawler) crawlTarget(ctx context.Context, page Page, adapter Adapter, target Target, limit int,
	seen map[string]struct{}, logger *zap.Logger) ([]model.ScrapedArticle, error) {

	if err := page.Navigate(ctx, target.URL); err != nil {
		return nil, fmt.Errorf("failed to open section: %w", err)
	}
	links, err := adapter.CandidateLinks(ctx, page, target.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	var accepted []model.ScrapedArticle
	for _, link := range links {
		if len(accepted) >= limit {
			break
		}
		u, err := Canonical(target.URL, link)
		if err != nil {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}

		art, err := c.extract(ctx, page, adapter, u)
		if err != nil {
			if ctx.Err() != nil {
				return accepted, ctx.Err()
			}
			logger.Debug("skipping article", zap.String("url", u), zap.Error(err))
			continue
		}
		if art.Section == "" {
			art.Section = target.Section
		}

		seen[u] = struct{}{}
		accepted = append(accepted, art)
	}
	return accepted, nil
}

var errIncomplete = errors.New("article has no title or content")

func (c *Crawler) extract(ctx context.Context, page Page, adapter Adapter, u string) (model.ScrapedArticle, error) {
	if err := page.Navigate(ctx, u); err != nil {
		return model.ScrapedArticle{}, err
	}
	ex, err := adapter.Extract(ctx, page, u)
	if err != nil {
		return model.ScrapedArticle{}, err
	}

	title, content := strings.TrimSpace(ex.Title), strings.TrimSpace(ex.Content)
	if title == "" || content == "" {
		return model.ScrapedArticle{}, errIncomplete
	}

	image := strings.TrimSpace(ex.ImageURL)
	if image != "" {
		if abs, err := Canonical(u, image); err == nil {
			image = abs
		}
	}
	return model.ScrapedArticle{
		Title:     title,
		Content:   content,
		URL:       u,
		ImageURL:  image,
		Section:   ex.Section,
		FetchedAt: c.now().UTC(),
	}, nil
}

// Canonical resolves ref against base and drops the fragment.
func Canonical(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	abs := b.ResolveReference(r)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme in %q", ref)
	}
	abs.Fragment = ""
	return abs.String(), nil
}
