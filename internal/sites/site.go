// Package sites holds the per-source adapters and the registry the worker
// resolves job sources against.
package sites

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"hermes/internal/crawler"

	"github.com/PuerkitoBio/goquery"
)

// ErrUnknownSource is returned by Lookup for names with no adapter.
var ErrUnknownSource = errors.New("unknown source")

// Sections crawled on every national outlet.
var defaultSections = []string{"politica", "economia", "sociedad", "deportes"}

func sectionURLs(base string) []string {
	out := make([]string, len(defaultSections))
	for i, s := range defaultSections {
		out[i] = base + "/" + s
	}
	return out
}

// site is a DOM-selector driven adapter.
type site struct {
	name     string
	base     string
	sections []string
	// keep filters anchors on a listing page.
	keep    func(pageURL, href, abs string) bool
	extract func(doc *goquery.Document) crawler.Extracted
}

var _ crawler.Adapter = (*site)(nil)

func (s *site) Name() string       { return s.name }
func (s *site) BaseURL() string    { return s.base }
func (s *site) Sections() []string { return s.sections }

func (s *site) CandidateLinks(ctx context.Context, page crawler.Page, pageURL string) ([]string, error) {
	doc, err := crawler.Document(page)
	if err != nil {
		return nil, err
	}
	return crawler.Links(doc, pageURL, func(href, abs string) bool {
		return s.keep(pageURL, href, abs)
	}), nil
}

func (s *site) Extract(ctx context.Context, page crawler.Page, articleURL string) (crawler.Extracted, error) {
	doc, err := crawler.Document(page)
	if err != nil {
		return crawler.Extracted{}, err
	}
	return s.extract(doc), nil
}

// Registry maps source names to adapters. Lookups are case-insensitive.
type Registry struct {
	adapters map[string]crawler.Adapter
	names    []string
}

func NewRegistry(adapters ...crawler.Adapter) *Registry {
	r := &Registry{adapters: make(map[string]crawler.Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[strings.ToLower(a.Name())] = a
		r.names = append(r.names, a.Name())
	}
	sort.Strings(r.names)
	return r
}

// Default is the registry of every built-in adapter.
func Default() *Registry {
	return NewRegistry(Clarin(), LaNacion(), Infobae(), TN(), NA(), Generic())
}

func (r *Registry) Lookup(name string) (crawler.Adapter, error) {
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	return a, nil
}

// Names lists the registered sources alphabetically.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}
