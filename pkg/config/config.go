// Package config loads scribe settings from a YAML file, overlays the glazed
// command sections and fills in defaults.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-go-golems/scribe/pkg/autosave"
	"github.com/go-go-golems/scribe/pkg/redisstream"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Settings struct {
	Server   ServerSettings       `yaml:"server"`
	Store    StoreSettings        `yaml:"store"`
	Redis    redisstream.Settings `yaml:"redis"`
	Autosave AutosaveSettings     `yaml:"autosave"`
}

type ServerSettings struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// SessionIdleTTL evicts editor sessions without activity; zero disables.
	SessionIdleTTL time.Duration `yaml:"session_idle_ttl"`
	SessionSweep   time.Duration `yaml:"session_sweep_interval"`
}

type StoreSettings struct {
	Driver string `yaml:"driver"`
	// Path is the sqlite database file.
	Path string `yaml:"path"`
	// DSN is the postgres connection string.
	DSN string `yaml:"dsn"`
}

type AutosaveSettings struct {
	Debounce       time.Duration `yaml:"debounce"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// Default returns the built-in configuration.
func Default() Settings {
	p := autosave.DefaultRetryPolicy()
	return Settings{
		Server: ServerSettings{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			SessionIdleTTL:  30 * time.Minute,
			SessionSweep:    time.Minute,
		},
		Store: StoreSettings{
			Driver: StoreSQLite,
			Path:   "scribe.db",
		},
		Redis: redisstream.DefaultSettings(),
		Autosave: AutosaveSettings{
			Debounce:       autosave.DefaultDebounce,
			MaxRetries:     p.MaxRetries,
			InitialBackoff: p.InitialInterval,
			Multiplier:     p.Multiplier,
			MaxBackoff:     p.MaxInterval,
			AttemptTimeout: p.AttemptTimeout,
		},
	}
}

// Load reads path on top of Default. An empty path returns the defaults.
func Load(path string) (Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, errors.Wrapf(err, "config: read %s", path)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, errors.Wrapf(err, "config: parse %s", path)
	}
	s = s.Sanitized()
	if err := s.Validate(); err != nil {
		return Settings{}, errors.Wrapf(err, "config: %s", path)
	}
	return s, nil
}

// Sanitized returns a copy with defaults filled in for zero or invalid values.
func (s Settings) Sanitized() Settings {
	def := Default()
	out := s
	out.Server.Addr = strings.TrimSpace(out.Server.Addr)
	if out.Server.Addr == "" {
		out.Server.Addr = def.Server.Addr
	}
	if out.Server.ShutdownTimeout <= 0 {
		out.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if out.Server.SessionIdleTTL < 0 {
		out.Server.SessionIdleTTL = 0
	}
	if out.Server.SessionSweep <= 0 {
		out.Server.SessionSweep = def.Server.SessionSweep
	}
	out.Store.Driver = strings.ToLower(strings.TrimSpace(out.Store.Driver))
	if out.Store.Driver == "" {
		out.Store.Driver = def.Store.Driver
	}
	if out.Store.Driver == StoreSQLite && strings.TrimSpace(out.Store.Path) == "" {
		out.Store.Path = def.Store.Path
	}
	out.Redis = out.Redis.Sanitized()
	if out.Autosave.Debounce <= 0 {
		out.Autosave.Debounce = def.Autosave.Debounce
	}
	p := out.Autosave.RetryPolicy().Sanitized()
	out.Autosave.MaxRetries = p.MaxRetries
	out.Autosave.InitialBackoff = p.InitialInterval
	out.Autosave.Multiplier = p.Multiplier
	out.Autosave.MaxBackoff = p.MaxInterval
	out.Autosave.AttemptTimeout = p.AttemptTimeout
	return out
}

// Validate reports settings that cannot be fixed up with defaults.
func (s Settings) Validate() error {
	switch s.Store.Driver {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if strings.TrimSpace(s.Store.DSN) == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	default:
		return errors.Errorf("unknown store driver %q", s.Store.Driver)
	}
	if s.Redis.Enabled && s.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}
	return nil
}

// RetryPolicy converts the autosave section into an autosave.RetryPolicy.
func (a AutosaveSettings) RetryPolicy() autosave.RetryPolicy {
	return autosave.RetryPolicy{
		MaxRetries:      a.MaxRetries,
		InitialInterval: a.InitialBackoff,
		Multiplier:      a.Multiplier,
		MaxInterval:     a.MaxBackoff,
		AttemptTimeout:  a.AttemptTimeout,
	}
}
