package poststore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MemoryStore keeps posts in a map. Used for tests and the memory driver.
type MemoryStore struct {
	now func() time.Time

	mu    sync.RWMutex
	posts map[string]Post
}

var _ Store = &MemoryStore{}

func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{now: o.now, posts: map[string]Post{}}
}

func (s *MemoryStore) Create(ctx context.Context, authorID string, draft Draft) (Post, error) {
	p, err := newPost(authorID, draft, s.now())
	if err != nil {
		return Post{}, errors.Wrap(err, "memory post store: create")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[p.ID] = clonePost(p)
	return p, nil
}

func (s *MemoryStore) Get(ctx context.Context, authorID, id string) (Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.lookupLocked(authorID, id)
	if err != nil {
		return Post{}, err
	}
	return clonePost(p), nil
}

func (s *MemoryStore) List(ctx context.Context, q ListQuery) ([]Post, error) {
	q = normalizeListQuery(q)
	s.mu.RLock()
	var out []Post
	for _, p := range s.posts {
		if p.AuthorID != q.AuthorID {
			continue
		}
		if q.Status != "" && p.Status != q.Status {
			continue
		}
		out = append(out, clonePost(p))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if q.Offset >= len(out) {
		return []Post{}, nil
	}
	out = out[q.Offset:]
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, authorID, id string, patch Patch) (Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.lookupLocked(authorID, id)
	if err != nil {
		return Post{}, err
	}
	applyPatch(&p, patch, s.now())
	s.posts[p.ID] = clonePost(p)
	return clonePost(p), nil
}

func (s *MemoryStore) Publish(ctx context.Context, authorID, id string) (Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.lookupLocked(authorID, id)
	if err != nil {
		return Post{}, err
	}
	p.Status = StatusPublished
	p.UpdatedAt = s.now().UTC()
	s.posts[p.ID] = clonePost(p)
	return clonePost(p), nil
}

func (s *MemoryStore) Delete(ctx context.Context, authorID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.lookupLocked(authorID, id)
	if err != nil {
		return err
	}
	delete(s.posts, p.ID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) lookupLocked(authorID, id string) (Post, error) {
	key, err := ParseID(id)
	if err != nil {
		return Post{}, err
	}
	p, ok := s.posts[key]
	if !ok {
		return Post{}, ErrNotFound
	}
	if err := checkOwner(p, authorID); err != nil {
		return Post{}, err
	}
	return p, nil
}

// clonePost copies the lexical map so callers cannot mutate stored state.
func clonePost(p Post) Post {
	if p.Content.Lexical != nil {
		p.Content.Lexical = cloneMap(p.Content.Lexical)
	}
	return p
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
