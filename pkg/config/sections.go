package config

import (
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/scribe/pkg/redisstream"
	"github.com/pkg/errors"
)

const (
	ServerSlug   = "server"
	StoreSlug    = "store"
	AutosaveSlug = "autosave"
)

type serverFlags struct {
	Addr            string `glazed:"addr"`
	ShutdownTimeout string `glazed:"shutdown-timeout"`
	SessionIdleTTL  string `glazed:"session-idle-ttl"`
	SessionSweep    string `glazed:"session-sweep-interval"`
}

type storeFlags struct {
	Driver string `glazed:"store"`
	Path   string `glazed:"store-path"`
	DSN    string `glazed:"store-dsn"`
}

type autosaveFlags struct {
	Debounce       string `glazed:"autosave-debounce"`
	MaxRetries     int    `glazed:"autosave-max-retries"`
	InitialBackoff string `glazed:"autosave-initial-backoff"`
	MaxBackoff     string `glazed:"autosave-max-backoff"`
	AttemptTimeout string `glazed:"autosave-attempt-timeout"`
}

func NewServerSection() (schema.Section, error) {
	def := Default().Server
	return schema.NewSection(
		ServerSlug,
		"HTTP server",
		schema.WithFields(
			fields.New("addr", fields.TypeString,
				fields.WithHelp("HTTP listen address"),
				fields.WithDefault(def.Addr)),
			fields.New("shutdown-timeout", fields.TypeString,
				fields.WithHelp("Time allowed to finish requests and pending saves on shutdown"),
				fields.WithDefault(def.ShutdownTimeout.String())),
			fields.New("session-idle-ttl", fields.TypeString,
				fields.WithHelp("Close editor sessions idle for this long (0 disables)"),
				fields.WithDefault(def.SessionIdleTTL.String())),
			fields.New("session-sweep-interval", fields.TypeString,
				fields.WithHelp("How often idle editor sessions are looked for"),
				fields.WithDefault(def.SessionSweep.String())),
		),
	)
}

func NewStoreSection() (schema.Section, error) {
	def := Default().Store
	return schema.NewSection(
		StoreSlug,
		"Post store",
		schema.WithFields(
			fields.New("store", fields.TypeChoice,
				fields.WithHelp("Store driver"),
				fields.WithChoices(StoreMemory, StoreSQLite, StorePostgres),
				fields.WithDefault(def.Driver)),
			fields.New("store-path", fields.TypeString,
				fields.WithHelp("SQLite database file"),
				fields.WithDefault(def.Path)),
			fields.New("store-dsn", fields.TypeString,
				fields.WithHelp("Postgres connection string"),
				fields.WithDefault(def.DSN)),
		),
	)
}

func NewAutosaveSection() (schema.Section, error) {
	def := Default().Autosave
	return schema.NewSection(
		AutosaveSlug,
		"Auto-save debounce and retry policy",
		schema.WithFields(
			fields.New("autosave-debounce", fields.TypeString,
				fields.WithHelp("Quiet period between the last edit and its save"),
				fields.WithDefault(def.Debounce.String())),
			fields.New("autosave-max-retries", fields.TypeInteger,
				fields.WithHelp("Retries after a failed save before giving up"),
				fields.WithDefault(def.MaxRetries)),
			fields.New("autosave-initial-backoff", fields.TypeString,
				fields.WithHelp("Delay before the first retry, doubled for each further one"),
				fields.WithDefault(def.InitialBackoff.String())),
			fields.New("autosave-max-backoff", fields.TypeString,
				fields.WithHelp("Upper bound of the retry delay"),
				fields.WithDefault(def.MaxBackoff.String())),
			fields.New("autosave-attempt-timeout", fields.TypeString,
				fields.WithHelp("Timeout of a single save attempt"),
				fields.WithDefault(def.AttemptTimeout.String())),
		),
	)
}

// Sections returns the server, store, autosave and redis sections.
func Sections() ([]schema.Section, error) {
	ctors := []func() (schema.Section, error){
		NewServerSection, NewStoreSection, NewAutosaveSection, redisstream.NewSection,
	}
	out := make([]schema.Section, 0, len(ctors))
	for _, ctor := range ctors {
		s, err := ctor()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ApplyValues overlays the parsed sections on s. A flag left at its default
// keeps the value of s, so a config file is only overridden by flags and
// environment variables that were actually set.
func (s Settings) ApplyValues(parsed *values.Values, slugs ...string) (Settings, error) {
	out := s
	def := Default()
	for _, slug := range slugs {
		var err error
		switch slug {
		case ServerSlug:
			err = out.applyServer(parsed, def.Server)
		case StoreSlug:
			err = out.applyStore(parsed, def.Store)
		case AutosaveSlug:
			err = out.applyAutosave(parsed, def.Autosave)
		case redisstream.RedisSlug:
			out.Redis, err = redisstream.SettingsFromValues(parsed, out.Redis)
		default:
			err = errors.Errorf("unknown settings section %q", slug)
		}
		if err != nil {
			return Settings{}, err
		}
	}
	out = out.Sanitized()
	if err := out.Validate(); err != nil {
		return Settings{}, err
	}
	return out, nil
}

func (s *Settings) applyServer(parsed *values.Values, def ServerSettings) error {
	var f serverFlags
	if err := parsed.DecodeSectionInto(ServerSlug, &f); err != nil {
		return errors.Wrap(err, "decode server settings")
	}
	if f.Addr != def.Addr {
		s.Server.Addr = f.Addr
	}
	return firstErr(
		overlayDuration(&s.Server.ShutdownTimeout, "shutdown-timeout", f.ShutdownTimeout, def.ShutdownTimeout),
		overlayDuration(&s.Server.SessionIdleTTL, "session-idle-ttl", f.SessionIdleTTL, def.SessionIdleTTL),
		overlayDuration(&s.Server.SessionSweep, "session-sweep-interval", f.SessionSweep, def.SessionSweep),
	)
}

func (s *Settings) applyStore(parsed *values.Values, def StoreSettings) error {
	var f storeFlags
	if err := parsed.DecodeSectionInto(StoreSlug, &f); err != nil {
		return errors.Wrap(err, "decode store settings")
	}
	if f.Driver != def.Driver {
		s.Store.Driver = f.Driver
	}
	if f.Path != def.Path {
		s.Store.Path = f.Path
	}
	if f.DSN != def.DSN {
		s.Store.DSN = f.DSN
	}
	return nil
}

func (s *Settings) applyAutosave(parsed *values.Values, def AutosaveSettings) error {
	var f autosaveFlags
	if err := parsed.DecodeSectionInto(AutosaveSlug, &f); err != nil {
		return errors.Wrap(err, "decode autosave settings")
	}
	if f.MaxRetries != def.MaxRetries {
		s.Autosave.MaxRetries = f.MaxRetries
	}
	return firstErr(
		overlayDuration(&s.Autosave.Debounce, "autosave-debounce", f.Debounce, def.Debounce),
		overlayDuration(&s.Autosave.InitialBackoff, "autosave-initial-backoff", f.InitialBackoff, def.InitialBackoff),
		overlayDuration(&s.Autosave.MaxBackoff, "autosave-max-backoff", f.MaxBackoff, def.MaxBackoff),
		overlayDuration(&s.Autosave.AttemptTimeout, "autosave-attempt-timeout", f.AttemptTimeout, def.AttemptTimeout),
	)
}

func overlayDuration(dst *time.Duration, name, raw string, def time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "--%s", name)
	}
	if d != def {
		*dst = d
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
