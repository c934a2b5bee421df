package sites

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"hermes/internal/crawler"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// generic handles any URL: the target page itself is the article, and the
// text is found by readability.
type generic struct{}

// Generic needs a URL override on the job; it has no base URL of its own.
func Generic() crawler.Adapter { return generic{} }

func (generic) Name() string       { return "Generic" }
func (generic) BaseURL() string    { return "" }
func (generic) Sections() []string { return []string{} }

func (generic) CandidateLinks(ctx context.Context, page crawler.Page, pageURL string) ([]string, error) {
	if pageURL == "" {
		return nil, fmt.Errorf("generic source needs a url")
	}
	return []string{pageURL}, nil
}

func (generic) Extract(ctx context.Context, page crawler.Page, articleURL string) (crawler.Extracted, error) {
	html, err := page.HTML()
	if err != nil {
		return crawler.Extracted{}, err
	}
	u, err := url.Parse(articleURL)
	if err != nil {
		return crawler.Extracted{}, err
	}

	art, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return crawler.Extracted{}, fmt.Errorf("readability: %w", err)
	}

	// readability returns cleaned HTML; keep paragraph breaks in the text.
	body, err := goquery.NewDocumentFromReader(strings.NewReader(art.Content))
	if err != nil {
		return crawler.Extracted{}, err
	}
	content := crawler.Paragraphs(body, 0, "body")
	if content == "" {
		content = strings.TrimSpace(body.Text())
	}

	ex := crawler.Extracted{Title: strings.TrimSpace(art.Title), Content: content}
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		ex.ImageURL = crawler.OGImage(doc)
	}
	return ex, nil
}
