package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"hermes/internal/model"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	articlePrefix = "article:"
	urlPrefix     = "url:"
	sourcePrefix  = "source:"

	// maxConflictRetries bounds optimistic retries when two writers race on one article.
	maxConflictRetries = 10
)

// BadgerStore keeps articles, the url index and sources in an embedded Badger DB.
// Nearest-neighbour lookups scan every article; fine for a review backlog.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) the database at path.
// Pass path="" to run fully in memory (tests, one-off CLI runs).
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // Silence default logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func articleKey(id uuid.UUID) []byte { return []byte(articlePrefix + id.String()) }
func urlKey(u string) []byte         { return []byte(urlPrefix + u) }
func sourceKey(name string) []byte   { return []byte(sourcePrefix + name) }

func (s *BadgerStore) FindByURL(ctx context.Context, u string) (*model.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var article *model.Article
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(urlKey(u))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		id, err := uuid.ParseBytes(raw)
		if err != nil {
			return err
		}
		article, err = getArticle(txn, id)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return article, err
}

func (s *BadgerStore) FindNearest(ctx context.Context, embedding []float32, maxDistance float64) (*Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var best *Match
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(articlePrefix)
		iter := txn.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var a model.Article
			if err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			}); err != nil {
				return err
			}
			if len(a.Embedding) == 0 {
				continue
			}

			d := CosineDistance(embedding, a.Embedding)
			if d >= maxDistance {
				continue
			}
			if best == nil || d < best.Distance {
				found := a
				best = &Match{Article: &found, Distance: d}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return best, nil
}

func (s *BadgerStore) Create(ctx context.Context, article *model.Article) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(article)
	if err != nil {
		return err
	}

	// The url key is read inside the transaction, so two concurrent creates
	// for the same url conflict and the loser sees ErrDuplicateURL on retry.
	return s.retryConflicts(func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(urlKey(article.OriginalURL))
			if err == nil {
				return ErrDuplicateURL
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(urlKey(article.OriginalURL), []byte(article.ID.String())); err != nil {
				return err
			}
			return txn.Set(articleKey(article.ID), data)
		})
	})
}

func (s *BadgerStore) AppendImageCandidates(ctx context.Context, id uuid.UUID, urls ...string) (int, error) {
	added := 0
	_, err := s.mutate(ctx, id, func(a *model.Article) bool {
		added = a.AddCandidates(urls...)
		return added > 0
	})
	return added, err
}

func (s *BadgerStore) SetFeatureImage(ctx context.Context, id uuid.UUID, u string) error {
	_, err := s.mutate(ctx, id, func(a *model.Article) bool {
		a.ImageURL = u
		a.AddCandidates(u)
		return true
	})
	return err
}

func (s *BadgerStore) Update(ctx context.Context, id uuid.UUID, patch Patch) (*model.Article, error) {
	return s.mutate(ctx, id, func(a *model.Article) bool {
		patch.apply(a)
		return true
	})
}

// mutate runs fn against the current version of the article inside a
// read-write transaction, retrying on write conflicts so concurrent
// appends never lose updates. fn returns false to skip the write.
func (s *BadgerStore) mutate(ctx context.Context, id uuid.UUID, fn func(*model.Article) bool) (*model.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result *model.Article
	err := s.retryConflicts(func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			a, err := getArticle(txn, id)
			if err != nil {
				return err
			}
			if !fn(a) {
				result = a
				return nil
			}
			data, err := json.Marshal(a)
			if err != nil {
				return err
			}
			result = a
			return txn.Set(articleKey(id), data)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return result, err
}

func (s *BadgerStore) retryConflicts(op func() error) error {
	var err error
	for range maxConflictRetries {
		err = op()
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *BadgerStore) Get(ctx context.Context, id uuid.UUID) (*model.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var article *model.Article
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		article, err = getArticle(txn, id)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return article, err
}

// List returns articles newest first, without embeddings.
func (s *BadgerStore) List(ctx context.Context, opts ListOptions) ([]model.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var articles []model.Article
	err := s.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.Prefix = []byte(articlePrefix)
		iter := txn.NewIterator(iopts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var a model.Article
			if err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			}); err != nil {
				return err
			}
			if opts.Status != "" && a.Status != opts.Status {
				continue
			}
			a.Embedding = nil
			articles = append(articles, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(articles, func(a, b model.Article) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if opts.Limit > 0 && len(articles) > opts.Limit {
		articles = articles[:opts.Limit]
	}
	return articles, nil
}

func (s *BadgerStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.retryConflicts(func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			a, err := getArticle(txn, id)
			if err != nil {
				return err
			}
			if err := txn.Delete(urlKey(a.OriginalURL)); err != nil {
				return err
			}
			return txn.Delete(articleKey(id))
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *BadgerStore) EnsureSource(ctx context.Context, name, rawURL string) (*model.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var source model.Source
	err := s.retryConflicts(func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(sourceKey(name))
			if err == nil {
				return item.Value(func(val []byte) error {
					return json.Unmarshal(val, &source)
				})
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			source = model.NewSource(name, rawURL)
			data, err := json.Marshal(source)
			if err != nil {
				return err
			}
			return txn.Set(sourceKey(name), data)
		})
	})
	if err != nil {
		return nil, err
	}
	return &source, nil
}

func (s *BadgerStore) GetSource(ctx context.Context, name string) (*model.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var source model.Source
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sourceKey(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &source)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &source, nil
}

func getArticle(txn *badger.Txn, id uuid.UUID) (*model.Article, error) {
	item, err := txn.Get(articleKey(id))
	if err != nil {
		return nil, err
	}
	var a model.Article
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &a)
	}); err != nil {
		return nil, err
	}
	return &a, nil
}
