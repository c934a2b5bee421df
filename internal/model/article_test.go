package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestAddCandidates_KeepsOrderAndSkipsDuplicates(t *testing.T) {
	a := NewArticle(uuid.New(), ScrapedArticle{Title: "t", Content: "c", URL: "https://x.test/a"})

	added := a.AddCandidates("https://img/1", "https://img/2", "https://img/1", "", "https://img/3")

	assert.Equal(t, 3, added)
	assert.Equal(t, []string{"https://img/1", "https://img/2", "https://img/3"}, a.ImageCandidates)
	assert.Equal(t, 0, a.AddCandidates("https://img/2"))
}

func TestArticleStatus_Valid(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.True(t, StatusRejected.Valid())
	assert.False(t, ArticleStatus("archived").Valid())
}
