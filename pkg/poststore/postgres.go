package poststore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ Store = &PostgresStore{}

func NewPostgresStore(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres post store: empty dsn")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres post store: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres post store: ping")
	}
	o := buildOptions(opts)
	s := &PostgresStore{pool: pool, now: o.now}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS posts (
		  id UUID PRIMARY KEY,
		  author_id TEXT NOT NULL,
		  title TEXT NOT NULL,
		  lexical JSONB NOT NULL DEFAULT '{}'::jsonb,
		  html TEXT NOT NULL DEFAULT '',
		  status TEXT NOT NULL DEFAULT 'draft',
		  created_at TIMESTAMPTZ NOT NULL,
		  updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS posts_by_author_updated
		  ON posts(author_id, updated_at DESC, id ASC)`,
	}
	for _, st := range stmts {
		if _, err := s.pool.Exec(ctx, st); err != nil {
			return errors.Wrap(err, "postgres post store: migrate")
		}
	}
	return nil
}

const postgresColumns = `id::text, author_id, title, lexical, html, status, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, authorID string, draft Draft) (Post, error) {
	p, err := newPost(authorID, draft, s.now())
	if err != nil {
		return Post{}, errors.Wrap(err, "postgres post store: create")
	}
	// timestamptz keeps microseconds
	p.CreatedAt = p.CreatedAt.Truncate(time.Microsecond)
	p.UpdatedAt = p.CreatedAt
	_, err = s.pool.Exec(ctx, `
		INSERT INTO posts (id, author_id, title, lexical, html, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.AuthorID, p.Title, p.Content.Lexical, p.Content.HTML, string(p.Status), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return Post{}, errors.Wrap(err, "postgres post store: insert")
	}
	return p, nil
}

func (s *PostgresStore) Get(ctx context.Context, authorID, id string) (Post, error) {
	return s.lookup(ctx, s.pool, authorID, id, false)
}

func (s *PostgresStore) List(ctx context.Context, q ListQuery) ([]Post, error) {
	q = normalizeListQuery(q)
	rows, err := s.pool.Query(ctx, `
		SELECT `+postgresColumns+`
		FROM posts
		WHERE author_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY updated_at DESC, id ASC
		LIMIT $3 OFFSET $4
	`, q.AuthorID, string(q.Status), q.Limit, q.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "postgres post store: list")
	}
	defer rows.Close()

	out := []Post{}
	for rows.Next() {
		p, err := scanPgPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "postgres post store: list rows")
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, authorID, id string, patch Patch) (Post, error) {
	var out Post
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		p, err := s.lookup(ctx, tx, authorID, id, true)
		if err != nil {
			return err
		}
		applyPatch(&p, patch, s.now())
		p.UpdatedAt = p.UpdatedAt.Truncate(time.Microsecond)
		_, err = tx.Exec(ctx, `
			UPDATE posts SET title = $1, lexical = $2, html = $3, updated_at = $4
			WHERE id = $5
		`, p.Title, p.Content.Lexical, p.Content.HTML, p.UpdatedAt, p.ID)
		if err != nil {
			return errors.Wrap(err, "postgres post store: update")
		}
		out = p
		return nil
	})
	return out, err
}

func (s *PostgresStore) Publish(ctx context.Context, authorID, id string) (Post, error) {
	var out Post
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		p, err := s.lookup(ctx, tx, authorID, id, true)
		if err != nil {
			return err
		}
		p.Status = StatusPublished
		p.UpdatedAt = s.now().UTC().Truncate(time.Microsecond)
		_, err = tx.Exec(ctx, `UPDATE posts SET status = $1, updated_at = $2 WHERE id = $3`,
			string(p.Status), p.UpdatedAt, p.ID)
		if err != nil {
			return errors.Wrap(err, "postgres post store: publish")
		}
		out = p
		return nil
	})
	return out, err
}

func (s *PostgresStore) Delete(ctx context.Context, authorID, id string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		p, err := s.lookup(ctx, tx, authorID, id, true)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM posts WHERE id = $1`, p.ID); err != nil {
			return errors.Wrap(err, "postgres post store: delete")
		}
		return nil
	})
}

type pgQueryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) lookup(ctx context.Context, q pgQueryer, authorID, id string, forUpdate bool) (Post, error) {
	key, err := ParseID(id)
	if err != nil {
		return Post{}, err
	}
	query := `SELECT ` + postgresColumns + ` FROM posts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanPgPost(q.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return Post{}, ErrNotFound
	}
	if err != nil {
		return Post{}, err
	}
	if err := checkOwner(p, authorID); err != nil {
		return Post{}, err
	}
	return p, nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "postgres post store: begin")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "postgres post store: commit")
}

func scanPgPost(row pgx.Row) (Post, error) {
	var (
		p      Post
		status string
	)
	err := row.Scan(&p.ID, &p.AuthorID, &p.Title, &p.Content.Lexical, &p.Content.HTML, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Post{}, err
		}
		return Post{}, errors.Wrap(err, "postgres post store: scan")
	}
	if p.Content.Lexical == nil {
		p.Content.Lexical = map[string]any{}
	}
	p.Status = PostStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}
