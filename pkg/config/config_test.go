package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-go-golems/scribe/pkg/autosave"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scribe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), s)
	require.Equal(t, autosave.DefaultDebounce, s.Autosave.Debounce)
	require.Equal(t, 3, s.Autosave.MaxRetries)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: "127.0.0.1:9090"
  session_idle_ttl: 5m
store:
  driver: Memory
autosave:
  debounce: 750ms
  max_retries: 5
  initial_backoff: 500ms
redis:
  enabled: true
  addr: "redis:6379"
`)
	s, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:9090", s.Server.Addr)
	require.Equal(t, 5*time.Minute, s.Server.SessionIdleTTL)
	require.Equal(t, 10*time.Second, s.Server.ShutdownTimeout)
	require.Equal(t, StoreMemory, s.Store.Driver)
	require.Equal(t, 750*time.Millisecond, s.Autosave.Debounce)
	require.Equal(t, 5, s.Autosave.MaxRetries)
	require.Equal(t, 500*time.Millisecond, s.Autosave.InitialBackoff)
	require.Equal(t, 2.0, s.Autosave.Multiplier)
	require.True(t, s.Redis.Enabled)
	require.Equal(t, "redis:6379", s.Redis.Addr)

	p := s.Autosave.RetryPolicy()
	require.Equal(t, 5, p.MaxRetries)
	require.Equal(t, 500*time.Millisecond, p.InitialInterval)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "server: [not, a, map]"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "store:\n  driver: postgres\n"))
	require.ErrorContains(t, err, "store.dsn")
}

func TestSettings_Validate(t *testing.T) {
	s := Default()
	require.NoError(t, s.Validate())

	s.Store.Driver = "mongo"
	require.ErrorContains(t, s.Validate(), "unknown store driver")

	s = Default()
	s.Redis.Enabled = true
	s.Redis.Addr = ""
	require.ErrorContains(t, s.Validate(), "redis.addr")

	s = Default()
	s.Store.Driver = StorePostgres
	s.Store.DSN = "postgres://localhost/scribe"
	require.NoError(t, s.Validate())
}

func TestSettings_SanitizedFillsZeroValues(t *testing.T) {
	s := Settings{}.Sanitized()
	def := Default()
	require.Equal(t, def.Server.Addr, s.Server.Addr)
	require.Equal(t, def.Server.SessionSweep, s.Server.SessionSweep)
	require.Equal(t, def.Store, s.Store)
	require.Equal(t, def.Autosave.Debounce, s.Autosave.Debounce)
	require.NoError(t, s.Validate())
}

func TestSections(t *testing.T) {
	sections, err := Sections()
	require.NoError(t, err)
	slugs := make([]string, 0, len(sections))
	for _, s := range sections {
		slugs = append(slugs, s.GetSlug())
	}
	require.Equal(t, []string{ServerSlug, StoreSlug, AutosaveSlug, "redis"}, slugs)
}
