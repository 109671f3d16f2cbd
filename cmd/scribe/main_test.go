package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/scribe/pkg/autosave"
	"github.com/go-go-golems/scribe/pkg/config"
	"github.com/go-go-golems/scribe/pkg/postclient"
	"github.com/go-go-golems/scribe/pkg/poststore"
	"github.com/go-go-golems/scribe/pkg/statusbus"
	"github.com/go-go-golems/scribe/pkg/webeditor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestApplyLine(t *testing.T) {
	d := poststore.Draft{Title: "Old"}

	d, action := applyLine(d, "hello <world>")
	require.Equal(t, actionEdit, action)
	require.Equal(t, "<p>hello &lt;world&gt;</p>", d.Content.HTML)

	d, _ = applyLine(d, ":title  New title ")
	require.Equal(t, "New title", d.Title)

	_, action = applyLine(d, " :save ")
	require.Equal(t, actionSave, action)

	d, _ = applyLine(d, ":clear")
	require.Empty(t, d.Content.HTML)
	require.Equal(t, "New title", d.Title)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	mem, err := openStore(ctx, config.StoreSettings{Driver: config.StoreMemory})
	require.NoError(t, err)
	require.NoError(t, mem.Close())

	lite, err := openStore(ctx, config.StoreSettings{Driver: config.StoreSQLite, Path: filepath.Join(t.TempDir(), "scribe.db")})
	require.NoError(t, err)
	_, err = lite.Create(ctx, "alice", poststore.Draft{Title: "on disk"})
	require.NoError(t, err)
	require.NoError(t, lite.Close())

	_, err = openStore(ctx, config.StoreSettings{Driver: "mongo"})
	require.Error(t, err)
}

func TestStatusURL(t *testing.T) {
	u, err := statusURL("http://localhost:8080/", "p1")
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:8080/api/posts/p1/status", u)

	u, err = statusURL("https://example.com/scribe", "p1")
	require.NoError(t, err)
	require.Equal(t, "wss://example.com/scribe/api/posts/p1/status", u)

	_, err = statusURL("ftp://example.com", "p1")
	require.Error(t, err)
}

type testServer struct {
	url   string
	store *poststore.MemoryStore
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	store := poststore.NewMemoryStore()
	bus := statusbus.NewInMemory(zerolog.Nop())
	t.Cleanup(func() { _ = bus.Close() })
	logger := zerolog.Nop()
	ws, err := webeditor.NewWorkspace(webeditor.WorkspaceOptions{Store: store, Bus: bus, Logger: &logger})
	require.NoError(t, err)
	t.Cleanup(func() { ws.Reset() })
	srv := httptest.NewServer(webeditor.NewRouter(ws, webeditor.WithLogger(logger)))
	t.Cleanup(srv.Close)
	return testServer{url: srv.URL, store: store}
}

func TestRunEdit_SavesStdinThroughAPI(t *testing.T) {
	ts := newTestServer(t)
	post, err := ts.store.Create(context.Background(), "alice", poststore.Draft{Title: "Draft"})
	require.NoError(t, err)

	client, err := postclient.New(ts.url, "alice")
	require.NoError(t, err)

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = runEdit(ctx, editOptions{
		Client:   client,
		PostID:   post.ID,
		Debounce: time.Hour,
		Retry:    autosave.DefaultRetryPolicy(),
		In:       strings.NewReader("hello world\n:title Final\nthird word\n"),
		Out:      &out,
	})
	require.NoError(t, err)

	saved, err := ts.store.Get(context.Background(), "alice", post.ID)
	require.NoError(t, err)
	require.Equal(t, "Final", saved.Title)
	require.Equal(t, "<p>hello world</p><p>third word</p>", saved.Content.HTML)

	require.Contains(t, out.String(), "saved")
	require.Contains(t, out.String(), "done: 4 words")
}

func TestRunEdit_ForeignPost(t *testing.T) {
	ts := newTestServer(t)
	post, err := ts.store.Create(context.Background(), "alice", poststore.Draft{Title: "Draft"})
	require.NoError(t, err)

	client, err := postclient.New(ts.url, "bob")
	require.NoError(t, err)
	err = runEdit(context.Background(), editOptions{
		Client: client,
		PostID: post.ID,
		In:     strings.NewReader(""),
		Out:    &bytes.Buffer{},
	})
	require.Error(t, err)
}

func TestWatch_PrintsCurrentStatus(t *testing.T) {
	ts := newTestServer(t)
	post, err := ts.store.Create(context.Background(), "alice", poststore.Draft{Title: "Draft"})
	require.NoError(t, err)

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, watchN(ctx, ts.url, post.ID, "alice", &out, 1))
	require.Contains(t, out.String(), "idle")

	err = watchN(ctx, ts.url, post.ID, "bob", &bytes.Buffer{}, 1)
	require.ErrorContains(t, err, "403")
}

func TestServeCommand_FlagsOverrideSettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scribe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: "127.0.0.1:7000"
  session_idle_ttl: 5m
autosave:
  debounce: 3s
  max_retries: 7
`), 0o600))

	c, err := NewServeCommand()
	require.NoError(t, err)
	var got config.Settings
	c.run = func(_ context.Context, s config.Settings) error {
		got = s
		return nil
	}
	cmd, err := buildCobraCommand(c)
	require.NoError(t, err)
	cmd.SetArgs([]string{
		"--settings-file", path,
		"--addr", "127.0.0.1:9999",
		"--autosave-debounce", "750ms",
		"--redis-enabled",
		"--redis-addr", "redis:6380",
	})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	require.Equal(t, "127.0.0.1:9999", got.Server.Addr)
	require.Equal(t, 5*time.Minute, got.Server.SessionIdleTTL)
	require.Equal(t, 750*time.Millisecond, got.Autosave.Debounce)
	require.Equal(t, 7, got.Autosave.MaxRetries)
	require.True(t, got.Redis.Enabled)
	require.Equal(t, "redis:6380", got.Redis.Addr)
	require.Equal(t, config.StoreSQLite, got.Store.Driver)
}

func TestServeCommand_RejectsBadDuration(t *testing.T) {
	c, err := NewServeCommand()
	require.NoError(t, err)
	c.run = func(context.Context, config.Settings) error { return nil }
	cmd, err := buildCobraCommand(c)
	require.NoError(t, err)
	cmd.SetArgs([]string{"--autosave-debounce", "soon"})
	cmd.SilenceUsage = true
	require.ErrorContains(t, cmd.ExecuteContext(context.Background()), "--autosave-debounce")
}

func TestEditCommand_SavesThroughCobra(t *testing.T) {
	ts := newTestServer(t)
	post, err := ts.store.Create(context.Background(), "alice", poststore.Draft{Title: "Draft"})
	require.NoError(t, err)

	c, err := NewEditCommand()
	require.NoError(t, err)
	var out bytes.Buffer
	c.in = strings.NewReader(":title From flags\nbody\n")
	c.out = &out
	cmd, err := buildCobraCommand(c)
	require.NoError(t, err)
	cmd.SetArgs([]string{
		"--server", ts.url,
		"--post", post.ID,
		"--author", "alice",
		"--autosave-debounce", "1h",
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, cmd.ExecuteContext(ctx))

	saved, err := ts.store.Get(context.Background(), "alice", post.ID)
	require.NoError(t, err)
	require.Equal(t, "From flags", saved.Title)
	require.Equal(t, "<p>body</p>", saved.Content.HTML)
	require.NotContains(t, out.String(), "Ctrl-D")
}
