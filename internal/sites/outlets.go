package sites

import (
	"net/url"
	"regexp"
	"strings"

	"hermes/internal/crawler"

	"github.com/PuerkitoBio/goquery"
)

func Clarin() crawler.Adapter {
	base := "https://www.clarin.com"
	return &site{
		name:     "Clarin",
		base:     base,
		sections: sectionURLs(base),
		keep: func(_, href, _ string) bool {
			return strings.Contains(href, ".html") &&
				!strings.Contains(href, "/videos/") &&
				!strings.Contains(href, "/fotogalerias/")
		},
		extract: func(doc *goquery.Document) crawler.Extracted {
			return crawler.Extracted{
				Title: crawler.Text(doc, "h1", ".title", "article h1"),
				Content: crawler.Paragraphs(doc, 2,
					".body-nota", ".body-article", "article", ".content-nota", ".entry-content", `div[class*="body"]`),
				ImageURL: firstNonEmpty(
					crawler.Attr(doc, "src", "picture img", "article img"),
					crawler.OGImage(doc)),
			}
		},
	}
}

var lanacionArticle = regexp.MustCompile(`-nid\d+`)

func LaNacion() crawler.Adapter {
	base := "https://www.lanacion.com.ar"
	return &site{
		name:     "LaNacion",
		base:     base,
		sections: sectionURLs(base),
		keep: func(_, href, _ string) bool {
			return lanacionArticle.MatchString(href)
		},
		extract: func(doc *goquery.Document) crawler.Extracted {
			return crawler.Extracted{
				Title: crawler.Text(doc, "h1"),
				Content: crawler.Paragraphs(doc, 2,
					".c-cuerpo", ".body-nota", "#cuerpo-nota", "section.cuerpo", "article", "section"),
				ImageURL: firstNonEmpty(
					crawler.Attr(doc, "src", "figure img", ".c-foco img"),
					crawler.OGImage(doc)),
			}
		},
	}
}

func Infobae() crawler.Adapter {
	base := "https://www.infobae.com"
	return &site{
		name:     "Infobae",
		base:     base,
		sections: sectionURLs(base),
		keep: func(pageURL, _, abs string) bool {
			if abs == pageURL {
				return false
			}
			// On a section page only that section's articles count.
			if section := firstSegment(pageURL); section != "" && !strings.Contains(abs, "/"+section+"/") {
				return false
			}
			u, err := url.Parse(abs)
			if err != nil {
				return false
			}
			return len(u.Path) > 20 && !strings.Contains(u.Path, "/tag/")
		},
		extract: func(doc *goquery.Document) crawler.Extracted {
			return crawler.Extracted{
				Title:   crawler.Text(doc, "h1"),
				Content: joinAll(doc, "p.paragraph, .article-body p, #article-content p"),
				ImageURL: firstNonEmpty(
					crawler.Attr(doc, "src", "figure img", ".visual__image"),
					crawler.OGImage(doc)),
			}
		},
	}
}

func TN() crawler.Adapter {
	base := "https://tn.com.ar"
	return &site{
		name:     "TN",
		base:     base,
		sections: sectionURLs(base),
		keep: func(_, _, abs string) bool {
			return inSection(abs) && len(abs) > 50
		},
		extract: func(doc *goquery.Document) crawler.Extracted {
			return crawler.Extracted{
				Title:   crawler.Text(doc, "h1", ".article__title"),
				Content: body(doc, ".article-content", ".cuerpo-nota", ".article__body", "article .content"),
				ImageURL: firstNonEmpty(
					crawler.Attr(doc, "src", "figure img", ".article-main-media img"),
					crawler.OGImage(doc)),
			}
		},
	}
}

var naExcluded = regexp.MustCompile(`/(tag|tema|seccion)/`)

func NA() crawler.Adapter {
	base := "https://noticiasargentinas.com"
	return &site{
		name:     "NA",
		base:     base,
		sections: sectionURLs(base),
		keep: func(_, href, _ string) bool {
			return inSection(href) && len(href) > 30 && !naExcluded.MatchString(href)
		},
		extract: func(doc *goquery.Document) crawler.Extracted {
			return crawler.Extracted{
				Title:    crawler.Text(doc, "h1"),
				Content:  body(doc, ".news-body", ".body"),
				ImageURL: crawler.Attr(doc, "src", "figure img"),
			}
		},
	}
}

func inSection(s string) bool {
	for _, sec := range defaultSections {
		if strings.Contains(s, "/"+sec+"/") {
			return true
		}
	}
	return false
}

func firstSegment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			return seg
		}
	}
	return ""
}

// body prefers the paragraphs of the first matching container and falls
// back to its whole text.
func body(doc *goquery.Document, containers ...string) string {
	for _, c := range containers {
		sel := doc.Find(c).First()
		if sel.Length() == 0 {
			continue
		}
		if text := crawler.Paragraphs(doc, 0, c); text != "" {
			return text
		}
		if text := strings.TrimSpace(sel.Text()); text != "" {
			return text
		}
	}
	return ""
}

// joinAll joins the text of every element matching selector.
func joinAll(doc *goquery.Document, selector string) string {
	var parts []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n\n")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
