package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hermes/internal/model"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Schema creates the tables PostgresStore expects. Requires the pgvector extension.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS sources (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	url        TEXT NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS articles (
	id                 UUID PRIMARY KEY,
	source_id          UUID NOT NULL REFERENCES sources(id),
	original_title     TEXT NOT NULL,
	original_content   TEXT NOT NULL,
	original_url       TEXT NOT NULL UNIQUE,
	original_image_url TEXT NOT NULL DEFAULT '',
	section            TEXT NOT NULL DEFAULT '',
	embedding          vector,
	image_url          TEXT NOT NULL DEFAULT '',
	image_candidates   TEXT[] NOT NULL DEFAULT '{}',
	interest_score     INTEGER NOT NULL DEFAULT 5,
	rewritten_title    TEXT NOT NULL DEFAULT '',
	rewritten_content  TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'PENDING',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

const articleColumns = `id, source_id, original_title, original_content, original_url, original_image_url,
	section, image_url, image_candidates, interest_score, rewritten_title, rewritten_content, status, created_at`

// PostgresStore keeps articles in Postgres and uses pgvector for nearest-neighbour lookups.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an open connection.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgresStore connects with dsn and applies Schema.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return NewPostgresStore(db), nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type articleRow struct {
	ID               uuid.UUID      `db:"id"`
	SourceID         uuid.UUID      `db:"source_id"`
	OriginalTitle    string         `db:"original_title"`
	OriginalContent  string         `db:"original_content"`
	OriginalURL      string         `db:"original_url"`
	OriginalImageURL string         `db:"original_image_url"`
	Section          string         `db:"section"`
	ImageURL         string         `db:"image_url"`
	ImageCandidates  pq.StringArray `db:"image_candidates"`
	InterestScore    int            `db:"interest_score"`
	RewrittenTitle   string         `db:"rewritten_title"`
	RewrittenContent string         `db:"rewritten_content"`
	Status           string         `db:"status"`
	CreatedAt        time.Time      `db:"created_at"`
	Distance         float64        `db:"distance"`
}

func (r articleRow) toModel() *model.Article {
	candidates := []string(r.ImageCandidates)
	if candidates == nil {
		candidates = []string{}
	}
	return &model.Article{
		ID:               r.ID,
		SourceID:         r.SourceID,
		OriginalTitle:    r.OriginalTitle,
		OriginalContent:  r.OriginalContent,
		OriginalURL:      r.OriginalURL,
		OriginalImageURL: r.OriginalImageURL,
		Section:          r.Section,
		ImageURL:         r.ImageURL,
		ImageCandidates:  candidates,
		InterestScore:    r.InterestScore,
		RewrittenTitle:   r.RewrittenTitle,
		RewrittenContent: r.RewrittenContent,
		Status:           model.ArticleStatus(r.Status),
		CreatedAt:        r.CreatedAt,
	}
}

func (s *PostgresStore) FindByURL(ctx context.Context, u string) (*model.Article, error) {
	var row articleRow
	query := `SELECT ` + articleColumns + ` FROM articles WHERE original_url = $1`
	if err := s.db.GetContext(ctx, &row, query, u); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find article by url: %w", err)
	}
	return row.toModel(), nil
}

func (s *PostgresStore) FindNearest(ctx context.Context, embedding []float32, maxDistance float64) (*Match, error) {
	var row articleRow
	query := `SELECT ` + articleColumns + `, embedding <=> $1::vector AS distance
		FROM articles
		WHERE embedding IS NOT NULL AND embedding <=> $1::vector < $2
		ORDER BY embedding <=> $1::vector
		LIMIT 1`
	if err := s.db.GetContext(ctx, &row, query, formatVector(embedding), maxDistance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query nearest article: %w", err)
	}
	return &Match{Article: row.toModel(), Distance: row.Distance}, nil
}

// Create claims the url with ON CONFLICT DO NOTHING so a racing insert of the
// same url loses cleanly with ErrDuplicateURL.
func (s *PostgresStore) Create(ctx context.Context, a *model.Article) error {
	query := `
		INSERT INTO articles (id, source_id, original_title, original_content, original_url, original_image_url,
			section, embedding, image_url, image_candidates, interest_score, rewritten_title, rewritten_content,
			status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (original_url) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		a.ID, a.SourceID, a.OriginalTitle, a.OriginalContent, a.OriginalURL, a.OriginalImageURL,
		a.Section, formatVector(a.Embedding), a.ImageURL, pq.StringArray(a.ImageCandidates), a.InterestScore,
		a.RewrittenTitle, a.RewrittenContent, string(a.Status), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert article: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert article: %w", err)
	}
	if n == 0 {
		return ErrDuplicateURL
	}
	return nil
}

// AppendImageCandidates appends one url per statement; each statement checks
// membership and appends atomically in the same row update.
func (s *PostgresStore) AppendImageCandidates(ctx context.Context, id uuid.UUID, urls ...string) (int, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return 0, err
	}

	query := `UPDATE articles SET image_candidates = array_append(image_candidates, $2)
		WHERE id = $1 AND NOT ($2 = ANY(image_candidates))`

	added := 0
	for _, u := range urls {
		if u == "" {
			continue
		}
		res, err := s.db.ExecContext(ctx, query, id, u)
		if err != nil {
			return added, fmt.Errorf("failed to append image candidate: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return added, fmt.Errorf("failed to append image candidate: %w", err)
		}
		added += int(n)
	}
	return added, nil
}

const setFeatureImageQuery = `UPDATE articles SET image_url = $2,
		image_candidates = CASE WHEN $2 = ANY(image_candidates) THEN image_candidates
			ELSE array_append(image_candidates, $2) END
	WHERE id = $1`

func (s *PostgresStore) SetFeatureImage(ctx context.Context, id uuid.UUID, u string) error {
	res, err := s.db.ExecContext(ctx, setFeatureImageQuery, id, u)
	if err != nil {
		return fmt.Errorf("failed to set feature image: %w", err)
	}
	return requireRow(res)
}

// Update applies the whole patch in one transaction.
func (s *PostgresStore) Update(ctx context.Context, id uuid.UUID, patch Patch) (*model.Article, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin update: %w", err)
	}
	defer tx.Rollback()

	if patch.ImageURL != nil {
		res, err := tx.ExecContext(ctx, setFeatureImageQuery, id, *patch.ImageURL)
		if err != nil {
			return nil, fmt.Errorf("failed to set feature image: %w", err)
		}
		if err := requireRow(res); err != nil {
			return nil, err
		}
	}

	var status *string
	if patch.Status != nil {
		v := string(*patch.Status)
		status = &v
	}

	query := `UPDATE articles SET
			status = COALESCE($2, status),
			rewritten_title = COALESCE($3, rewritten_title),
			rewritten_content = COALESCE($4, rewritten_content)
		WHERE id = $1`
	res, err := tx.ExecContext(ctx, query, id, status, patch.RewrittenTitle, patch.RewrittenContent)
	if err != nil {
		return nil, fmt.Errorf("failed to update article: %w", err)
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*model.Article, error) {
	var row articleRow
	query := `SELECT ` + articleColumns + ` FROM articles WHERE id = $1`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get article: %w", err)
	}
	return row.toModel(), nil
}

func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]model.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC`
	args := []any{string(opts.Status)}
	if opts.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, opts.Limit)
	}

	var rows []articleRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}

	articles := make([]model.Article, 0, len(rows))
	for _, r := range rows {
		articles = append(articles, *r.toModel())
	}
	return articles, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM articles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete article: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) EnsureSource(ctx context.Context, name, rawURL string) (*model.Source, error) {
	candidate := model.NewSource(name, rawURL)
	query := `
		INSERT INTO sources (id, name, url, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query,
		candidate.ID, candidate.Name, candidate.URL, candidate.Active, candidate.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to ensure source: %w", err)
	}
	return s.GetSource(ctx, name)
}

func (s *PostgresStore) GetSource(ctx context.Context, name string) (*model.Source, error) {
	var source model.Source
	query := `SELECT id, name, url, active, created_at FROM sources WHERE name = $1`
	row := s.db.QueryRowxContext(ctx, query, name)
	if err := row.Scan(&source.ID, &source.Name, &source.URL, &source.Active, &source.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return &source, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
