package poststore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// fakeNow hands out strictly increasing millisecond timestamps.
type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeNow() *fakeNow {
	return &fakeNow{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(time.Second)
	return f.t
}

type storeFactory func(t *testing.T, now func() time.Time) Store

func storeFactories() map[string]storeFactory {
	factories := map[string]storeFactory{
		"memory": func(t *testing.T, now func() time.Time) Store {
			return NewMemoryStore(WithNow(now))
		},
		"sqlite": func(t *testing.T, now func() time.Time) Store {
			dsn, err := SQLiteDSNForFile(filepath.Join(t.TempDir(), "posts.db"))
			require.NoError(t, err)
			s, err := NewSQLiteStore(dsn, WithNow(now))
			require.NoError(t, err)
			return s
		},
	}
	if dsn := os.Getenv("SCRIBE_TEST_POSTGRES_DSN"); dsn != "" {
		factories["postgres"] = func(t *testing.T, now func() time.Time) Store {
			ctx := context.Background()
			s, err := NewPostgresStore(ctx, dsn, WithNow(now))
			require.NoError(t, err)
			_, err = s.pool.Exec(ctx, `TRUNCATE posts`)
			require.NoError(t, err)
			return s
		}
	}
	return factories
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t, newFakeNow().Now)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

func TestStore_CreateDefaults(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		p, err := s.Create(ctx, "alice", Draft{})
		require.NoError(t, err)

		require.Equal(t, DefaultTitle, p.Title)
		require.Equal(t, StatusDraft, p.Status)
		require.Equal(t, "alice", p.AuthorID)
		require.Equal(t, p.CreatedAt, p.UpdatedAt)
		_, err = uuid.Parse(p.ID)
		require.NoError(t, err)

		got, err := s.Get(ctx, "alice", p.ID)
		require.NoError(t, err)
		require.Equal(t, p.ID, got.ID)
		require.Equal(t, p.Title, got.Title)
		require.True(t, p.CreatedAt.Equal(got.CreatedAt))
		require.Empty(t, got.Content.Lexical)
		require.NotNil(t, got.Content.Lexical)

		_, err = s.Create(ctx, " ", Draft{})
		require.Error(t, err)
	})
}

func TestStore_OwnershipAndIDs(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		p, err := s.Create(ctx, "alice", Draft{Title: "mine"})
		require.NoError(t, err)

		_, err = s.Get(ctx, "bob", p.ID)
		require.ErrorIs(t, err, ErrForbidden)
		_, err = s.Update(ctx, "bob", p.ID, Patch{})
		require.ErrorIs(t, err, ErrForbidden)
		_, err = s.Publish(ctx, "bob", p.ID)
		require.ErrorIs(t, err, ErrForbidden)
		require.ErrorIs(t, s.Delete(ctx, "bob", p.ID), ErrForbidden)

		_, err = s.Get(ctx, "alice", uuid.NewString())
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.Get(ctx, "alice", "not-an-id")
		require.ErrorIs(t, err, ErrInvalidID)
	})
}

func TestStore_PartialUpdate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		p, err := s.Create(ctx, "alice", Draft{
			Title:   "First",
			Content: Content{Lexical: map[string]any{"root": "v1"}, HTML: "<p>one</p>"},
		})
		require.NoError(t, err)

		title := "  Second  "
		updated, err := s.Update(ctx, "alice", p.ID, Patch{Title: &title})
		require.NoError(t, err)
		require.Equal(t, "Second", updated.Title)
		require.Equal(t, "<p>one</p>", updated.Content.HTML)
		require.True(t, updated.UpdatedAt.After(p.UpdatedAt))

		// an empty patch still bumps updated_at
		bumped, err := s.Update(ctx, "alice", p.ID, Patch{})
		require.NoError(t, err)
		require.True(t, bumped.UpdatedAt.After(updated.UpdatedAt))

		content := Content{Lexical: map[string]any{"root": "v2"}, HTML: `<p onclick="x()">two</p><script>alert(1)</script>`}
		updated, err = s.Update(ctx, "alice", p.ID, Patch{Content: &content})
		require.NoError(t, err)
		require.Equal(t, "Second", updated.Title)
		require.Equal(t, "<p>two</p>", updated.Content.HTML)

		got, err := s.Get(ctx, "alice", p.ID)
		require.NoError(t, err)
		require.Equal(t, map[string]any{"root": "v2"}, got.Content.Lexical)
		require.Equal(t, "<p>two</p>", got.Content.HTML)
		require.True(t, got.UpdatedAt.Equal(updated.UpdatedAt))
	})
}

func TestStore_ListOrderAndFilter(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var ids []string
		for _, title := range []string{"a", "b", "c"} {
			p, err := s.Create(ctx, "alice", Draft{Title: title})
			require.NoError(t, err)
			ids = append(ids, p.ID)
		}
		_, err := s.Create(ctx, "bob", Draft{Title: "other"})
		require.NoError(t, err)

		// touching "a" moves it to the front
		_, err = s.Update(ctx, "alice", ids[0], Patch{})
		require.NoError(t, err)
		_, err = s.Publish(ctx, "alice", ids[1])
		require.NoError(t, err)

		all, err := s.List(ctx, ListQuery{AuthorID: "alice"})
		require.NoError(t, err)
		require.Equal(t, []string{"b", "a", "c"}, titles(all))

		drafts, err := s.List(ctx, ListQuery{AuthorID: "alice", Status: StatusDraft})
		require.NoError(t, err)
		require.Equal(t, []string{"a", "c"}, titles(drafts))

		page, err := s.List(ctx, ListQuery{AuthorID: "alice", Offset: 1, Limit: 1})
		require.NoError(t, err)
		require.Equal(t, []string{"a"}, titles(page))

		empty, err := s.List(ctx, ListQuery{AuthorID: "alice", Offset: 10})
		require.NoError(t, err)
		require.Empty(t, empty)
	})
}

func TestStore_PublishAndDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		p, err := s.Create(ctx, "alice", Draft{Title: "post"})
		require.NoError(t, err)

		pub, err := s.Publish(ctx, "alice", p.ID)
		require.NoError(t, err)
		require.Equal(t, StatusPublished, pub.Status)
		require.True(t, pub.UpdatedAt.After(p.UpdatedAt))

		require.NoError(t, s.Delete(ctx, "alice", p.ID))
		_, err = s.Get(ctx, "alice", p.ID)
		require.ErrorIs(t, err, ErrNotFound)
		require.ErrorIs(t, s.Delete(ctx, "alice", p.ID), ErrNotFound)
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	p, err := s.Create(ctx, "alice", Draft{Content: Content{Lexical: map[string]any{"root": map[string]any{"children": []any{"x"}}}}})
	require.NoError(t, err)

	got, err := s.Get(ctx, "alice", p.ID)
	require.NoError(t, err)
	got.Content.Lexical["root"].(map[string]any)["children"] = nil

	again, err := s.Get(ctx, "alice", p.ID)
	require.NoError(t, err)
	require.Equal(t, []any{"x"}, again.Content.Lexical["root"].(map[string]any)["children"])
}

func TestSQLiteDSNForFile(t *testing.T) {
	_, err := SQLiteDSNForFile("")
	require.Error(t, err)
	dsn, err := SQLiteDSNForFile("/tmp/x.db")
	require.NoError(t, err)
	require.Contains(t, dsn, "_journal_mode=WAL")
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("Published")
	require.NoError(t, err)
	require.Equal(t, StatusPublished, st)
	st, err = ParseStatus("")
	require.NoError(t, err)
	require.Equal(t, PostStatus(""), st)
	_, err = ParseStatus("archived")
	require.Error(t, err)
}

func TestIsClientError(t *testing.T) {
	require.True(t, IsClientError(errors.Wrap(ErrForbidden, "save")))
	require.False(t, IsClientError(errors.New("disk full")))
}

func titles(posts []Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.Title)
	}
	return out
}
