// Package poststore persists blog posts and adapts a store to the autosave
// Saver interface.
package poststore

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type PostStatus string

const (
	StatusDraft     PostStatus = "draft"
	StatusPublished PostStatus = "published"
)

const (
	DefaultTitle     = "Untitled"
	DefaultListLimit = 50
)

var (
	ErrNotFound  = errors.New("post not found")
	ErrForbidden = errors.New("not authorized to access this post")
	ErrInvalidID = errors.New("invalid post id")
)

// Content holds the editor state next to the HTML rendered from it.
type Content struct {
	Lexical map[string]any `json:"lexical"`
	HTML    string         `json:"html"`
}

type Post struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Content   Content    `json:"content"`
	Status    PostStatus `json:"status"`
	AuthorID  string     `json:"author_id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Draft is what the editor autosaves: the title and content of one post.
type Draft struct {
	Title   string  `json:"title"`
	Content Content `json:"content"`
}

// Equal reports whether both drafts carry the same title and content.
func (d Draft) Equal(o Draft) bool {
	if d.Title != o.Title || d.Content.HTML != o.Content.HTML {
		return false
	}
	if len(d.Content.Lexical) == 0 && len(o.Content.Lexical) == 0 {
		return true
	}
	return reflect.DeepEqual(d.Content.Lexical, o.Content.Lexical)
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	Title   *string  `json:"title,omitempty"`
	Content *Content `json:"content,omitempty"`
}

// PatchFromDraft returns a patch replacing both title and content.
func PatchFromDraft(d Draft) Patch {
	title := d.Title
	content := d.Content
	return Patch{Title: &title, Content: &content}
}

type ListQuery struct {
	AuthorID string
	// Status filters by status when set.
	Status PostStatus
	Offset int
	Limit  int
}

type Store interface {
	Create(ctx context.Context, authorID string, draft Draft) (Post, error)
	Get(ctx context.Context, authorID, id string) (Post, error)
	// List returns the author's posts, most recently updated first.
	List(ctx context.Context, q ListQuery) ([]Post, error)
	Update(ctx context.Context, authorID, id string, patch Patch) (Post, error)
	Publish(ctx context.Context, authorID, id string) (Post, error)
	Delete(ctx context.Context, authorID, id string) error
	Close() error
}

type options struct {
	now func() time.Time
}

// Option configures a store.
type Option func(*options)

// WithNow replaces the time source used for created_at and updated_at.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ParseID validates id and returns its canonical form.
func ParseID(id string) (string, error) {
	u, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", errors.Wrapf(ErrInvalidID, "%q", id)
	}
	return u.String(), nil
}

// ParseStatus accepts "", "draft" and "published".
func ParseStatus(s string) (PostStatus, error) {
	switch PostStatus(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return "", nil
	case StatusDraft:
		return StatusDraft, nil
	case StatusPublished:
		return StatusPublished, nil
	default:
		return "", errors.Errorf("invalid status %q", s)
	}
}

func newPost(authorID string, draft Draft, now time.Time) (Post, error) {
	if strings.TrimSpace(authorID) == "" {
		return Post{}, errors.New("author id is empty")
	}
	title := NormalizeTitle(draft.Title)
	if title == "" {
		title = DefaultTitle
	}
	now = now.UTC()
	return Post{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   cleanContent(draft.Content),
		Status:    StatusDraft,
		AuthorID:  authorID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// applyPatch updates the provided fields and always bumps UpdatedAt.
func applyPatch(p *Post, patch Patch, now time.Time) {
	if patch.Title != nil {
		p.Title = NormalizeTitle(*patch.Title)
	}
	if patch.Content != nil {
		p.Content = cleanContent(*patch.Content)
	}
	p.UpdatedAt = now.UTC()
}

func cleanContent(c Content) Content {
	out := Content{Lexical: c.Lexical, HTML: SanitizeHTML(c.HTML)}
	if out.Lexical == nil {
		out.Lexical = map[string]any{}
	}
	return out
}

func checkOwner(p Post, authorID string) error {
	if p.AuthorID != authorID {
		return ErrForbidden
	}
	return nil
}

func normalizeListQuery(q ListQuery) ListQuery {
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Limit <= 0 {
		q.Limit = DefaultListLimit
	}
	return q
}
