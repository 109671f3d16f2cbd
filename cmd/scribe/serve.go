package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/scribe/pkg/config"
	"github.com/go-go-golems/scribe/pkg/redisstream"
	"github.com/go-go-golems/scribe/pkg/statusbus"
	"github.com/go-go-golems/scribe/pkg/webeditor"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type ServeSettings struct {
	SettingsFile string `glazed:"settings-file"`
}

type ServeCommand struct {
	*cmds.CommandDescription
	run func(ctx context.Context, s config.Settings) error
}

var _ cmds.BareCommand = &ServeCommand{}

func NewServeCommand() (*ServeCommand, error) {
	sections, err := config.Sections()
	if err != nil {
		return nil, errors.Wrap(err, "build settings sections")
	}
	return &ServeCommand{
		CommandDescription: cmds.NewCommandDescription(
			"serve",
			cmds.WithShort("Serve the post API and the editor websockets"),
			cmds.WithLong(`Serves the post REST API, the auto-save websocket and the status websocket.
Settings come from --settings-file, overridden by flags and SCRIBE_* variables.
On SIGINT or SIGTERM pending edits are saved before the process exits.`),
			cmds.WithFlags(
				fields.New("settings-file", fields.TypeString,
					fields.WithHelp(settingsFileHelp),
					fields.WithDefault("")),
			),
			cmds.WithSections(sections...),
		),
		run: runServer,
	}, nil
}

func (c *ServeCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &ServeSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode serve settings")
	}
	settings, err := loadSettings(parsed, s.SettingsFile,
		config.ServerSlug, config.StoreSlug, config.AutosaveSlug, redisstream.RedisSlug)
	if err != nil {
		return err
	}
	return c.run(ctx, settings)
}

func runServer(parent context.Context, s config.Settings) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, s.Store)
	if err != nil {
		return errors.Wrap(err, "open post store")
	}
	defer func() { _ = store.Close() }()

	bus, err := statusbus.Build(ctx, s.Redis)
	if err != nil {
		return errors.Wrap(err, "build status bus")
	}
	defer func() { _ = bus.Close() }()

	// saves outlive the signal so Drain can finish them
	saveCtx, cancelSaves := context.WithCancel(context.Background())
	defer cancelSaves()
	ws, err := webeditor.NewWorkspace(webeditor.WorkspaceOptions{
		BaseCtx:       saveCtx,
		Store:         store,
		Bus:           bus,
		Debounce:      s.Autosave.Debounce,
		Retry:         s.Autosave.RetryPolicy(),
		IdleTTL:       s.Server.SessionIdleTTL,
		SweepInterval: s.Server.SessionSweep,
	})
	if err != nil {
		return err
	}
	ws.StartEvictionLoop(ctx)

	server := &http.Server{
		Addr:              s.Server.Addr,
		Handler:           webeditor.NewRouter(ws),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", s.Server.Addr).Str("store", s.Store.Driver).Bool("redis", s.Redis.Enabled).Msg("starting scribe server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
		if err := ws.Drain(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("unsaved edits dropped on shutdown")
		}
		n := ws.Reset()
		log.Info().Int("closed_sessions", n).Msg("server shutdown complete")
		return nil
	})
	return eg.Wait()
}
