package images

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"hermes/internal/crawler"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// PageOpener hands out browser tabs.
type PageOpener interface {
	NewPage() (crawler.Page, error)
}

// GoogleSearcher scrapes Google Images results in a headless tab.
type GoogleSearcher struct {
	pages   PageOpener
	limit   int
	timeout time.Duration
	region  string
	logger  *zap.Logger
}

func NewGoogleSearcher(pages PageOpener, limit int, timeout time.Duration, region string, logger *zap.Logger) *GoogleSearcher {
	if limit <= 0 {
		limit = 10
	}
	return &GoogleSearcher{
		pages:   pages,
		limit:   limit,
		timeout: timeout,
		region:  region,
		logger:  logger.With(zap.String("component", "image_search")),
	}
}

// SearchURL is the results page for query.
func (g *GoogleSearcher) SearchURL(query string) string {
	v := url.Values{}
	v.Set("q", query)
	v.Set("tbm", "isch")
	if g.region != "" {
		v.Set("gl", g.region)
	}
	return "https://www.google.com/search?" + v.Encode()
}

func (g *GoogleSearcher) Search(ctx context.Context, query string) ([]string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	page, err := g.pages.NewPage()
	if err != nil {
		return nil, err
	}
	defer page.Close()

	if err := page.Navigate(ctx, g.SearchURL(query)); err != nil {
		return nil, fmt.Errorf("image search: %w", err)
	}
	doc, err := crawler.Document(page)
	if err != nil {
		return nil, fmt.Errorf("image search: %w", err)
	}

	results := ImageResults(doc, g.limit)
	g.logger.Debug("image search done", zap.String("query", query), zap.Int("results", len(results)))
	return results, nil
}

// ImageResults collects unique http image sources from a results page,
// skipping favicons and Google's own assets.
func ImageResults(doc *goquery.Document, limit int) []string {
	var out []string
	seen := make(map[string]struct{})
	doc.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		src, _ := img.Attr("src")
		if !IsHTTP(src) {
			src, _ = img.Attr("data-src")
		}
		if !IsHTTP(src) || strings.Contains(src, "favicon") || strings.Contains(src, "google.com/images") {
			return true
		}
		if _, dup := seen[src]; dup {
			return true
		}
		seen[src] = struct{}{}
		out = append(out, src)
		return len(out) < limit
	})
	return out
}
