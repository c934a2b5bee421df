package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"hermes/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePage struct {
	current string
	fail    map[string]error
	visits  []string
}

func (p *fakePage) Navigate(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.visits = append(p.visits, rawURL)
	if err := p.fail[rawURL]; err != nil {
		return err
	}
	p.current = rawURL
	return nil
}

func (p *fakePage) HTML() (string, error) { return "<html></html>", nil }
func (p *fakePage) Close() error          { return nil }

type fakeAdapter struct {
	base     string
	sections []string
	links    map[string][]string
	articles map[string]Extracted
	failing  map[string]bool
}

func (a *fakeAdapter) Name() string       { return "Fake" }
func (a *fakeAdapter) BaseURL() string    { return a.base }
func (a *fakeAdapter) Sections() []string { return a.sections }

func (a *fakeAdapter) CandidateLinks(ctx context.Context, page Page, pageURL string) ([]string, error) {
	if page.(*fakePage).current != pageURL {
		return nil, errors.New("page not navigated")
	}
	return a.links[pageURL], nil
}

func (a *fakeAdapter) Extract(ctx context.Context, page Page, articleURL string) (Extracted, error) {
	if a.failing[articleURL] {
		return Extracted{}, errors.New("layout changed")
	}
	if ex, ok := a.articles[articleURL]; ok {
		return ex, nil
	}
	return Extracted{Title: "Title of " + articleURL, Content: "Body of " + articleURL}, nil
}

func crawl(t *testing.T, page *fakePage, a *fakeAdapter, limit int) []model.ScrapedArticle {
	t.Helper()
	got, err := New(zap.NewNop()).Crawl(context.Background(), page, a, model.ScrapeTarget{Source: "Fake", Limit: limit})
	require.NoError(t, err)
	return got
}

func urls(articles []model.ScrapedArticle) []string {
	out := make([]string, len(articles))
	for i, a := range articles {
		out[i] = a.URL
	}
	return out
}

func TestBuildTargets(t *testing.T) {
	got := BuildTargets("https://www.clarin.com/", []string{
		"https://www.clarin.com/politica",
		"economia",
		"/deportes/",
		"https://www.clarin.com/politica",
	})

	assert.Equal(t, []Target{
		{URL: "https://www.clarin.com/", Section: "Portada"},
		{URL: "https://www.clarin.com/politica", Section: "Politica"},
		{URL: "https://www.clarin.com/economia", Section: "Economia"},
		{URL: "https://www.clarin.com/deportes/", Section: "Deportes"},
	}, got)
}

func TestBuildTargets_BaseRepeatedAsSection(t *testing.T) {
	got := BuildTargets("https://tn.com.ar", []string{"https://tn.com.ar"})
	assert.Equal(t, []Target{{URL: "https://tn.com.ar", Section: "Portada"}}, got)
}

func TestSectionLabel(t *testing.T) {
	assert.Equal(t, "Politica", SectionLabel("https://www.infobae.com/politica/"))
	assert.Equal(t, "Economía", SectionLabel("economía"))
	assert.Equal(t, "General", SectionLabel("https://www.infobae.com/"))
	assert.Equal(t, "General", SectionLabel(""))
}

// Two pages with five links each, sharing one link, at limit 2.
func TestCrawl_PerSectionLimitAndGlobalDedup(t *testing.T) {
	base := "https://news.test"
	section := "https://news.test/politica"
	a := &fakeAdapter{
		base:     base,
		sections: []string{section},
		links: map[string][]string{
			base:    {base + "/a1", base + "/shared", base + "/a3", base + "/a4", base + "/a5"},
			section: {base + "/shared", base + "/p2", base + "/p3", base + "/p4", base + "/p5"},
		},
	}

	got := crawl(t, &fakePage{}, a, 2)

	require.LessOrEqual(t, len(got), 4)
	assert.Equal(t, []string{base + "/a1", base + "/shared", base + "/p2", base + "/p3"}, urls(got))

	seen := map[string]bool{}
	for _, art := range got {
		assert.False(t, seen[art.URL], "url emitted twice: %s", art.URL)
		seen[art.URL] = true
	}

	assert.Equal(t, "Portada", got[0].Section)
	assert.Equal(t, "Politica", got[2].Section)
	assert.False(t, got[0].FetchedAt.IsZero())
}

func TestCrawl_SkipsIncompleteAndFailingCandidates(t *testing.T) {
	base := "https://news.test"
	a := &fakeAdapter{
		base: base,
		links: map[string][]string{
			base: {"/broken", "/empty", "/ok#comments", "/ok", "/second"},
		},
		articles: map[string]Extracted{
			base + "/empty":  {Title: "Only a title"},
			base + "/second": {Title: "Second", Content: "Body", ImageURL: "/img/2.jpg", Section: "Deportes"},
		},
		failing: map[string]bool{base + "/broken": true},
	}

	got := crawl(t, &fakePage{}, a, 5)

	assert.Equal(t, []string{base + "/ok", base + "/second"}, urls(got))
	assert.Equal(t, "Deportes", got[1].Section, "adapter section is kept")
	assert.Equal(t, base+"/img/2.jpg", got[1].ImageURL)
}

func TestCrawl_FailingSectionDoesNotAbortRun(t *testing.T) {
	base := "https://news.test"
	bad := base + "/economia"
	good := base + "/deportes"
	a := &fakeAdapter{
		base:     base,
		sections: []string{bad, good},
		links: map[string][]string{
			good: {good + "/gol"},
		},
	}
	page := &fakePage{fail: map[string]error{
		base: errors.New("navigation timeout"),
		bad:  errors.New("net::ERR_CONNECTION_RESET"),
	}}

	got := crawl(t, page, a, 3)
	assert.Equal(t, []string{good + "/gol"}, urls(got))
	assert.Equal(t, "Deportes", got[0].Section)
}

func TestCrawl_StopsAtLimitWithoutVisitingMore(t *testing.T) {
	base := "https://news.test"
	var links []string
	for i := range 10 {
		links = append(links, fmt.Sprintf("%s/n%d", base, i))
	}
	a := &fakeAdapter{base: base, links: map[string][]string{base: links}}
	page := &fakePage{}

	got := crawl(t, page, a, 3)
	assert.Len(t, got, 3)
	assert.Len(t, page.visits, 4, "front page plus three articles")
}

func TestCrawl_URLOverrideReplacesBase(t *testing.T) {
	override := "https://news.test/especial"
	a := &fakeAdapter{
		base:  "https://news.test",
		links: map[string][]string{override: {override + "/nota"}},
	}

	got, err := New(zap.NewNop()).Crawl(context.Background(), &fakePage{}, a,
		model.ScrapeTarget{Source: "Fake", BaseURL: override, Sections: []string{}, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{override + "/nota"}, urls(got))
}

func TestCrawl_RejectsZeroLimit(t *testing.T) {
	_, err := New(zap.NewNop()).Crawl(context.Background(), &fakePage{}, &fakeAdapter{base: "https://x.test"},
		model.ScrapeTarget{Limit: 0})
	assert.Error(t, err)
}

func TestCrawl_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(zap.NewNop()).Crawl(ctx, &fakePage{}, &fakeAdapter{base: "https://x.test"},
		model.ScrapeTarget{Limit: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCanonical(t *testing.T) {
	got, err := Canonical("https://news.test/politica/", "../economia/nota.html#top")
	require.NoError(t, err)
	assert.Equal(t, "https://news.test/economia/nota.html", got)

	_, err = Canonical("https://news.test", "javascript:void(0)")
	assert.Error(t, err)
	_, err = Canonical("https://news.test", "mailto:redaccion@news.test")
	assert.Error(t, err)
}
