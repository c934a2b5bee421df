// Package dedup decides whether a freshly scraped article is a semantic
// duplicate of an article already stored.
package dedup

import (
	"context"
	"regexp"

	"hermes/internal/model"
	"hermes/internal/store"

	"go.uber.org/zap"
)

// Verdict is the outcome of a dedup check.
type Verdict int

const (
	// Unique means no stored article is close enough.
	Unique Verdict = iota
	// Duplicate means Match is the same event.
	Duplicate
	// NumericOverride means Match is close, but the titles disagree on
	// their numbers, so this is treated as a new event.
	NumericOverride
)

func (v Verdict) String() string {
	switch v {
	case Duplicate:
		return "duplicate"
	case NumericOverride:
		return "numeric_override"
	default:
		return "unique"
	}
}

// Decision carries the verdict and, unless Unique, the nearest match.
type Decision struct {
	Verdict  Verdict
	Match    *model.Article
	Distance float64
}

// IsDuplicate reports whether the new article must not be persisted.
func (d Decision) IsDuplicate() bool { return d.Verdict == Duplicate }

// Options are the tuning knobs. Both are heuristics.
type Options struct {
	MaxDistance     float64
	NumericOverride bool
}

// Engine runs nearest-neighbour lookups against the article store.
type Engine struct {
	store  store.Store
	opts   Options
	logger *zap.Logger
}

func NewEngine(st store.Store, opts Options, logger *zap.Logger) *Engine {
	if opts.MaxDistance <= 0 {
		opts.MaxDistance = 0.15
	}
	return &Engine{store: st, opts: opts, logger: logger.With(zap.String("component", "dedup"))}
}

// Check looks up the nearest stored article and decides. Store errors are
// returned as is; they are infrastructure failures.
func (e *Engine) Check(ctx context.Context, title string, embedding []float32) (Decision, error) {
	m, err := e.store.FindNearest(ctx, embedding, e.opts.MaxDistance)
	if err != nil {
		return Decision{}, err
	}
	if m == nil {
		return Decision{Verdict: Unique}, nil
	}

	d := Decision{Verdict: Duplicate, Match: m.Article, Distance: m.Distance}
	if e.opts.NumericOverride && !SameNumbers(title, m.Article.OriginalTitle) {
		d.Verdict = NumericOverride
	}

	e.logger.Debug("near match",
		zap.String("title", title),
		zap.Stringer("match_id", m.Article.ID),
		zap.String("match_title", m.Article.OriginalTitle),
		zap.Float64("distance", m.Distance),
		zap.Stringer("verdict", d.Verdict))
	return d, nil
}

var digitRun = regexp.MustCompile(`\d+`)

// Numbers returns the set of maximal digit runs in s.
func Numbers(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, n := range digitRun.FindAllString(s, -1) {
		set[n] = struct{}{}
	}
	return set
}

// SameNumbers reports whether two titles agree on their numbers. A title
// without numbers agrees with anything.
func SameNumbers(a, b string) bool {
	na, nb := Numbers(a), Numbers(b)
	if len(na) == 0 || len(nb) == 0 {
		return true
	}
	if len(na) != len(nb) {
		return false
	}
	for n := range na {
		if _, ok := nb[n]; !ok {
			return false
		}
	}
	return true
}
