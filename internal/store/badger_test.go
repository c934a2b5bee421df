package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"hermes/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Store = (*BadgerStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

func newMemoryStore(t *testing.T) *BadgerStore {
	t.Helper()
	st, err := NewBadgerStore("")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seedArticle(t *testing.T, st *BadgerStore, url string, embedding []float32) *model.Article {
	t.Helper()
	a := model.NewArticle(uuid.New(), model.ScrapedArticle{Title: "Title " + url, Content: "body", URL: url})
	a.Embedding = embedding
	require.NoError(t, st.Create(context.Background(), &a))
	return &a
}

func TestBadgerStore_CreateAndFindByURL(t *testing.T) {
	st := newMemoryStore(t)
	ctx := context.Background()

	a := seedArticle(t, st, "https://news.test/a", []float32{1, 0})

	found, err := st.FindByURL(ctx, "https://news.test/a")
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)
	assert.Equal(t, model.StatusPending, found.Status)

	_, err = st.FindByURL(ctx, "https://news.test/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerStore_CreateRejectsDuplicateURL(t *testing.T) {
	st := newMemoryStore(t)
	seedArticle(t, st, "https://news.test/a", []float32{1, 0})

	dup := model.NewArticle(uuid.New(), model.ScrapedArticle{Title: "Other", Content: "x", URL: "https://news.test/a"})
	err := st.Create(context.Background(), &dup)
	assert.ErrorIs(t, err, ErrDuplicateURL)
}

func TestBadgerStore_FindNearest(t *testing.T) {
	st := newMemoryStore(t)
	ctx := context.Background()

	near := seedArticle(t, st, "https://news.test/near", []float32{1, 0.1})
	seedArticle(t, st, "https://news.test/far", []float32{0, 1})
	seedArticle(t, st, "https://news.test/none", nil)

	match, err := st.FindNearest(ctx, []float32{1, 0}, 0.15)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, near.ID, match.Article.ID)
	assert.Less(t, match.Distance, 0.15)

	match, err = st.FindNearest(ctx, []float32{-1, 0}, 0.15)
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestBadgerStore_AppendImageCandidates(t *testing.T) {
	st := newMemoryStore(t)
	ctx := context.Background()
	a := seedArticle(t, st, "https://news.test/a", []float32{1})

	added, err := st.AppendImageCandidates(ctx, a.ID, "https://img/1", "https://img/2")
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	added, err = st.AppendImageCandidates(ctx, a.ID, "https://img/2", "https://img/3")
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	got, err := st.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://img/1", "https://img/2", "https://img/3"}, got.ImageCandidates)

	_, err = st.AppendImageCandidates(ctx, uuid.New(), "https://img/4")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerStore_ConcurrentAppendsDoNotLoseUpdates(t *testing.T) {
	st := newMemoryStore(t)
	ctx := context.Background()
	a := seedArticle(t, st, "https://news.test/a", []float32{1})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.AppendImageCandidates(ctx, a.ID, fmt.Sprintf("https://img/%d", i))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := st.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, got.ImageCandidates, 8)
}

func TestBadgerStore_UpdateAndFeatureImage(t *testing.T) {
	st := newMemoryStore(t)
	ctx := context.Background()
	a := seedArticle(t, st, "https://news.test/a", []float32{1})

	approved := model.StatusApproved
	title := "Edited"
	got, err := st.Update(ctx, a.ID, Patch{Status: &approved, RewrittenTitle: &title})
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, got.Status)
	assert.Equal(t, "Edited", got.RewrittenTitle)

	require.NoError(t, st.SetFeatureImage(ctx, a.ID, "https://img/pick"))
	got, err = st.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://img/pick", got.ImageURL)
	assert.Equal(t, []string{"https://img/pick"}, got.ImageCandidates)
}

func TestBadgerStore_ListAndDelete(t *testing.T) {
	st := newMemoryStore(t)
	ctx := context.Background()

	older := seedArticle(t, st, "https://news.test/old", []float32{1})
	time.Sleep(2 * time.Millisecond)
	newer := seedArticle(t, st, "https://news.test/new", []float32{1})

	list, err := st.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Nil(t, list[0].Embedding)

	approved := model.StatusApproved
	_, err = st.Update(ctx, older.ID, Patch{Status: &approved})
	require.NoError(t, err)

	list, err = st.List(ctx, ListOptions{Status: model.StatusApproved})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, older.ID, list[0].ID)

	require.NoError(t, st.Delete(ctx, older.ID))
	_, err = st.Get(ctx, older.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// The url is free again once the article is gone.
	_, err = st.FindByURL(ctx, "https://news.test/old")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerStore_EnsureSource(t *testing.T) {
	st := newMemoryStore(t)
	ctx := context.Background()

	_, err := st.GetSource(ctx, "Clarin")
	assert.ErrorIs(t, err, ErrNotFound)

	first, err := st.EnsureSource(ctx, "Clarin", "https://www.clarin.com")
	require.NoError(t, err)
	assert.True(t, first.Active)

	second, err := st.EnsureSource(ctx, "Clarin", "https://other.test")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "https://www.clarin.com", second.URL)
}
