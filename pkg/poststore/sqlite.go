package poststore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = &SQLiteStore{}

// SQLiteDSNForFile returns a DSN for a database file with WAL enabled.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite post store: empty path")
	}
	// WAL for concurrent readers + writer. busy_timeout to avoid transient SQLITE_BUSY.
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func NewSQLiteStore(dsn string, opts ...Option) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite post store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite post store: open")
	}
	o := buildOptions(opts)
	s := &SQLiteStore{db: db, now: o.now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS posts (
		  id TEXT PRIMARY KEY,
		  author_id TEXT NOT NULL,
		  title TEXT NOT NULL,
		  lexical_json TEXT NOT NULL DEFAULT '{}',
		  html TEXT NOT NULL DEFAULT '',
		  status TEXT NOT NULL DEFAULT 'draft',
		  created_at_ms INTEGER NOT NULL,
		  updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS posts_by_author_updated
		  ON posts(author_id, updated_at_ms DESC, id ASC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite post store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, authorID string, draft Draft) (Post, error) {
	p, err := newPost(authorID, draft, s.now())
	if err != nil {
		return Post{}, errors.Wrap(err, "sqlite post store: create")
	}
	lexical, err := json.Marshal(p.Content.Lexical)
	if err != nil {
		return Post{}, errors.Wrap(err, "sqlite post store: marshal lexical")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO posts (id, author_id, title, lexical_json, html, status, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.AuthorID, p.Title, string(lexical), p.Content.HTML, string(p.Status), p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli())
	if err != nil {
		return Post{}, errors.Wrap(err, "sqlite post store: insert")
	}
	// round-trip through storage precision
	p.CreatedAt = time.UnixMilli(p.CreatedAt.UnixMilli()).UTC()
	p.UpdatedAt = p.CreatedAt
	return p, nil
}

func (s *SQLiteStore) Get(ctx context.Context, authorID, id string) (Post, error) {
	return s.lookup(ctx, s.db, authorID, id)
}

func (s *SQLiteStore) List(ctx context.Context, q ListQuery) ([]Post, error) {
	q = normalizeListQuery(q)
	query := `
		SELECT id, author_id, title, lexical_json, html, status, created_at_ms, updated_at_ms
		FROM posts
		WHERE author_id = ?`
	args := []any{q.AuthorID}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(q.Status))
	}
	query += ` ORDER BY updated_at_ms DESC, id ASC LIMIT ? OFFSET ?`
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite post store: list")
	}
	defer func() { _ = rows.Close() }()

	out := []Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite post store: list rows")
	}
	return out, nil
}

func (s *SQLiteStore) Update(ctx context.Context, authorID, id string, patch Patch) (Post, error) {
	var out Post
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		p, err := s.lookup(ctx, tx, authorID, id)
		if err != nil {
			return err
		}
		applyPatch(&p, patch, s.now())
		lexical, err := json.Marshal(p.Content.Lexical)
		if err != nil {
			return errors.Wrap(err, "sqlite post store: marshal lexical")
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE posts SET title = ?, lexical_json = ?, html = ?, updated_at_ms = ?
			WHERE id = ?
		`, p.Title, string(lexical), p.Content.HTML, p.UpdatedAt.UnixMilli(), p.ID)
		if err != nil {
			return errors.Wrap(err, "sqlite post store: update")
		}
		p.UpdatedAt = time.UnixMilli(p.UpdatedAt.UnixMilli()).UTC()
		out = p
		return nil
	})
	return out, err
}

func (s *SQLiteStore) Publish(ctx context.Context, authorID, id string) (Post, error) {
	var out Post
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		p, err := s.lookup(ctx, tx, authorID, id)
		if err != nil {
			return err
		}
		p.Status = StatusPublished
		p.UpdatedAt = time.UnixMilli(s.now().UnixMilli()).UTC()
		_, err = tx.ExecContext(ctx, `UPDATE posts SET status = ?, updated_at_ms = ? WHERE id = ?`,
			string(p.Status), p.UpdatedAt.UnixMilli(), p.ID)
		if err != nil {
			return errors.Wrap(err, "sqlite post store: publish")
		}
		out = p
		return nil
	})
	return out, err
}

func (s *SQLiteStore) Delete(ctx context.Context, authorID, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		p, err := s.lookup(ctx, tx, authorID, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, p.ID); err != nil {
			return errors.Wrap(err, "sqlite post store: delete")
		}
		return nil
	})
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) lookup(ctx context.Context, q queryer, authorID, id string) (Post, error) {
	key, err := ParseID(id)
	if err != nil {
		return Post{}, err
	}
	p, err := scanPost(q.QueryRowContext(ctx, `
		SELECT id, author_id, title, lexical_json, html, status, created_at_ms, updated_at_ms
		FROM posts WHERE id = ?
	`, key))
	if errors.Is(err, sql.ErrNoRows) {
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

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite post store: begin")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "sqlite post store: commit")
}

func scanPost(row rowScanner) (Post, error) {
	var (
		p         Post
		lexical   string
		status    string
		createdMs int64
		updatedMs int64
	)
	err := row.Scan(&p.ID, &p.AuthorID, &p.Title, &lexical, &p.Content.HTML, &status, &createdMs, &updatedMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Post{}, err
		}
		return Post{}, errors.Wrap(err, "sqlite post store: scan")
	}
	p.Content.Lexical = map[string]any{}
	if lexical != "" {
		if err := json.Unmarshal([]byte(lexical), &p.Content.Lexical); err != nil {
			return Post{}, errors.Wrap(err, "sqlite post store: decode lexical")
		}
	}
	p.Status = PostStatus(status)
	p.CreatedAt = time.UnixMilli(createdMs).UTC()
	p.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return p, nil
}
