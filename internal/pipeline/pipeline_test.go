package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"hermes/internal/ai"
	"hermes/internal/ai/mock"
	"hermes/internal/dedup"
	"hermes/internal/images"
	"hermes/internal/metrics"
	"hermes/internal/model"
	"hermes/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// vectors is keyed by the article title, the first line of the embedded text.
type vectors map[string][]float32

func (v vectors) embedder() *mock.Embedder {
	return &mock.Embedder{EmbedTextFunc: func(ctx context.Context, text string) ([]float32, error) {
		title, _, _ := strings.Cut(text, "\n\n")
		vec, ok := v[title]
		if !ok {
			return nil, errors.New("embedding service unavailable")
		}
		return vec, nil
	}}
}

type fixture struct {
	store    store.Store
	embedder *mock.Embedder
	chat     *mock.Chat
	metrics  *metrics.Metrics
	pipeline *Pipeline
}

func newFixture(t *testing.T, st store.Store, vecs vectors) *fixture {
	t.Helper()
	if st == nil {
		bs, err := store.NewBadgerStore("")
		require.NoError(t, err)
		t.Cleanup(func() { bs.Close() })
		st = bs
	}

	f := &fixture{
		store:    st,
		embedder: vecs.embedder(),
		chat: &mock.Chat{
			ScoreFunc: func(ctx context.Context, title, content string) ai.Outcome[int] { return ai.OK(8) },
			RewriteFunc: func(ctx context.Context, title, content, style string) ai.Outcome[ai.Rewrite] {
				return ai.OK(ai.Rewrite{Title: "R: " + title, Content: style + ": " + content})
			},
		},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	engine := dedup.NewEngine(st, dedup.Options{MaxDistance: 0.15, NumericOverride: true}, zap.NewNop())
	resolver := images.NewResolver(nil, nil, f.chat, zap.NewNop())
	f.pipeline = New(st, f.embedder, f.chat, engine, resolver, f.metrics, Options{RewriteStyle: "formal"}, zap.NewNop())
	return f
}

func scraped(title, url, image string) model.ScrapedArticle {
	return model.ScrapedArticle{Title: title, Content: "Cuerpo de " + title, URL: url, ImageURL: image, Section: "Economía"}
}

func TestProcess_CreatesEnrichedArticles(t *testing.T) {
	f := newFixture(t, nil, vectors{"Dólar sube": {1, 0}, "Gana Boca": {0, 1}})
	ctx := context.Background()

	report, err := f.pipeline.Process(ctx, "Clarin", "https://www.clarin.com", []model.ScrapedArticle{
		scraped("Dólar sube", "https://news.test/dolar", "https://img.test/dolar.jpg"),
		scraped("Gana Boca", "https://news.test/boca", ""),
	})
	require.NoError(t, err)
	assert.Equal(t, Report{Created: 2}, report)

	a, err := f.store.FindByURL(ctx, "https://news.test/dolar")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, a.Status)
	assert.Equal(t, 8, a.InterestScore)
	assert.Equal(t, "R: Dólar sube", a.RewrittenTitle)
	assert.Equal(t, "formal: Cuerpo de Dólar sube", a.RewrittenContent)
	assert.Equal(t, "https://img.test/dolar.jpg", a.ImageURL)
	assert.Equal(t, []string{"https://img.test/dolar.jpg"}, a.ImageCandidates)
	assert.Equal(t, []float32{1, 0}, a.Embedding)

	src, err := f.store.GetSource(ctx, "Clarin")
	require.NoError(t, err)
	assert.Equal(t, src.ID, a.SourceID)

	b, err := f.store.FindByURL(ctx, "https://news.test/boca")
	require.NoError(t, err)
	assert.Empty(t, b.ImageURL)
	assert.Empty(t, b.ImageCandidates)

	assert.Equal(t, []string{"Dólar sube\n\nCuerpo de Dólar sube", "Gana Boca\n\nCuerpo de Gana Boca"}, f.embedder.Calls())
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.PipelineArticles.WithLabelValues(metrics.OutcomeCreated)))
}

func TestProcess_SecondRunIsIdempotent(t *testing.T) {
	f := newFixture(t, nil, vectors{"Dólar sube": {1, 0}})
	ctx := context.Background()
	batch := []model.ScrapedArticle{scraped("Dólar sube", "https://news.test/dolar", "")}

	_, err := f.pipeline.Process(ctx, "Clarin", "", batch)
	require.NoError(t, err)
	report, err := f.pipeline.Process(ctx, "Clarin", "", batch)
	require.NoError(t, err)

	assert.Equal(t, Report{DuplicateURL: 1}, report)
	assert.Len(t, f.embedder.Calls(), 1)
	assert.Equal(t, 1, f.chat.ScoreCalls())

	all, err := f.store.List(ctx, store.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestProcess_SemanticDuplicateHarvestsImage(t *testing.T) {
	f := newFixture(t, nil, vectors{
		"Dólar sube":     {1, 0},
		"Dólar sube hoy": {0.95, 0.3122499},
	})
	ctx := context.Background()

	_, err := f.pipeline.Process(ctx, "Clarin", "", []model.ScrapedArticle{
		scraped("Dólar sube", "https://clarin.test/dolar", "https://img.test/a.jpg"),
	})
	require.NoError(t, err)

	report, err := f.pipeline.Process(ctx, "TN", "", []model.ScrapedArticle{
		scraped("Dólar sube hoy", "https://tn.test/dolar", "https://img.test/b.jpg"),
	})
	require.NoError(t, err)
	assert.Equal(t, Report{DuplicateSemantic: 1, Harvested: 1}, report)

	all, err := f.store.List(ctx, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []string{"https://img.test/a.jpg", "https://img.test/b.jpg"}, all[0].ImageCandidates)
	assert.Equal(t, "https://img.test/a.jpg", all[0].ImageURL)

	_, err = f.store.FindByURL(ctx, "https://tn.test/dolar")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcess_HarvestSkipsKnownImage(t *testing.T) {
	f := newFixture(t, nil, vectors{
		"Dólar sube":     {1, 0},
		"Dólar sube hoy": {0.95, 0.3122499},
	})

	report, err := f.pipeline.Process(context.Background(), "Clarin", "", []model.ScrapedArticle{
		scraped("Dólar sube", "https://clarin.test/dolar", "https://img.test/a.jpg"),
		scraped("Dólar sube hoy", "https://tn.test/dolar", "https://img.test/a.jpg"),
	})
	require.NoError(t, err)
	assert.Equal(t, Report{Created: 1, DuplicateSemantic: 1}, report)
}

func TestProcess_NumericOverrideKeepsBothEvents(t *testing.T) {
	f := newFixture(t, nil, vectors{
		"Terremoto deja 5 muertos":  {1, 0},
		"Terremoto deja 12 muertos": {0.95, 0.3122499},
	})

	report, err := f.pipeline.Process(context.Background(), "Infobae", "", []model.ScrapedArticle{
		scraped("Terremoto deja 5 muertos", "https://news.test/t5", ""),
		scraped("Terremoto deja 12 muertos", "https://news.test/t12", ""),
	})
	require.NoError(t, err)
	assert.Equal(t, Report{Created: 2}, report)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PipelineArticles.WithLabelValues(metrics.OutcomeNumericOverride)))
}

func TestProcess_EmbeddingFailureSkipsArticle(t *testing.T) {
	f := newFixture(t, nil, vectors{"Gana Boca": {0, 1}})

	report, err := f.pipeline.Process(context.Background(), "TN", "", []model.ScrapedArticle{
		scraped("Sin vector", "https://news.test/none", ""),
		scraped("Gana Boca", "https://news.test/boca", ""),
	})
	require.NoError(t, err)
	assert.Equal(t, Report{Created: 1, Failed: 1}, report)
}

func TestProcess_FallbacksStillPersist(t *testing.T) {
	f := newFixture(t, nil, vectors{"Dólar sube": {1, 0}})
	f.chat.ScoreFunc = func(ctx context.Context, title, content string) ai.Outcome[int] {
		return ai.FallbackTo(ai.DefaultScore, errors.New("timeout"))
	}
	f.chat.RewriteFunc = func(ctx context.Context, title, content, style string) ai.Outcome[ai.Rewrite] {
		return ai.FallbackTo(ai.Rewrite{Title: title, Content: content}, errors.New("timeout"))
	}

	report, err := f.pipeline.Process(context.Background(), "Clarin", "", []model.ScrapedArticle{
		scraped("Dólar sube", "https://news.test/dolar", ""),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)

	a, err := f.store.FindByURL(context.Background(), "https://news.test/dolar")
	require.NoError(t, err)
	assert.Equal(t, ai.DefaultScore, a.InterestScore)
	assert.Equal(t, "Dólar sube", a.RewrittenTitle)
	assert.Equal(t, "Cuerpo de Dólar sube", a.RewrittenContent)
}

type brokenStore struct {
	store.Store
}

func (brokenStore) FindByURL(ctx context.Context, url string) (*model.Article, error) {
	return nil, errors.New("connection refused")
}

func TestProcess_StoreFailureAbortsBatch(t *testing.T) {
	bs, err := store.NewBadgerStore("")
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })

	f := newFixture(t, brokenStore{bs}, vectors{"Dólar sube": {1, 0}})

	_, err = f.pipeline.Process(context.Background(), "Clarin", "", []model.ScrapedArticle{
		scraped("Dólar sube", "https://news.test/dolar", ""),
		scraped("Gana Boca", "https://news.test/boca", ""),
	})
	assert.ErrorIs(t, err, ErrInfrastructure)
	assert.Empty(t, f.embedder.Calls())
}

// rejectingStore deletes every match right after the nearest lookup, as a
// reviewer rejecting the article mid-batch would.
type rejectingStore struct {
	store.Store
}

func (s rejectingStore) FindNearest(ctx context.Context, embedding []float32, maxDistance float64) (*store.Match, error) {
	m, err := s.Store.FindNearest(ctx, embedding, maxDistance)
	if err == nil && m != nil {
		if derr := s.Store.Delete(ctx, m.Article.ID); derr != nil {
			return nil, derr
		}
	}
	return m, err
}

func TestProcess_MatchDeletedBeforeHarvest(t *testing.T) {
	bs, err := store.NewBadgerStore("")
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })
	f := newFixture(t, bs, vectors{
		"Dólar sube":     {1, 0},
		"Dólar sube hoy": {0.95, 0.3122499},
		"Gana Boca":      {0, 1},
	})
	ctx := context.Background()

	_, err = f.pipeline.Process(ctx, "Clarin", "", []model.ScrapedArticle{
		scraped("Dólar sube", "https://clarin.test/dolar", "https://img.test/a.jpg"),
	})
	require.NoError(t, err)

	rejecting := newFixture(t, rejectingStore{bs}, vectors{
		"Dólar sube hoy": {0.95, 0.3122499},
		"Gana Boca":      {0, 1},
	})
	report, err := rejecting.pipeline.Process(ctx, "TN", "", []model.ScrapedArticle{
		scraped("Dólar sube hoy", "https://tn.test/dolar", "https://img.test/b.jpg"),
		scraped("Gana Boca", "https://tn.test/boca", ""),
	})
	require.NoError(t, err)
	assert.Equal(t, Report{Created: 1, DuplicateSemantic: 1}, report)

	_, err = bs.FindByURL(ctx, "https://tn.test/boca")
	assert.NoError(t, err, "the batch goes on after the vanished match")
}

func TestProcess_Cancelled(t *testing.T) {
	f := newFixture(t, nil, vectors{"Dólar sube": {1, 0}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.pipeline.Process(ctx, "Clarin", "", []model.ScrapedArticle{
		scraped("Dólar sube", "https://news.test/dolar", ""),
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Report{}, report)
}
