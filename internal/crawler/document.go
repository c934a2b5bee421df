package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document parses the page's current DOM.
func Document(page Page) (*goquery.Document, error) {
	html, err := page.HTML()
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// Links returns the href of every anchor matching keep, resolved against
// pageURL, in document order and without repeats.
func Links(doc *goquery.Document, pageURL string, keep func(href, abs string) bool) []string {
	var links []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		abs, err := Canonical(pageURL, href)
		if err != nil {
			return
		}
		if _, dup := seen[abs]; dup || !keep(href, abs) {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links
}

// Text returns the trimmed text of the first element matching any selector.
func Text(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if t := strings.TrimSpace(doc.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

// Attr returns the first non-empty attribute found for any selector.
func Attr(doc *goquery.Document, attr string, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Paragraphs joins the <p> texts under the first container with more than
// atLeast paragraphs.
func Paragraphs(doc *goquery.Document, atLeast int, containers ...string) string {
	for _, c := range containers {
		ps := doc.Find(c + " p")
		if ps.Length() <= atLeast {
			continue
		}
		var parts []string
		ps.Each(func(_ int, p *goquery.Selection) {
			if t := strings.TrimSpace(p.Text()); t != "" {
				parts = append(parts, t)
			}
		})
		if len(parts) > 0 {
			return strings.Join(parts, "\n\n")
		}
	}
	return ""
}

// OGImage is the og:image meta content, the usual last-resort image.
func OGImage(doc *goquery.Document) string {
	return Attr(doc, "content", `meta[property="og:image"]`)
}
