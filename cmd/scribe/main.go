package main

import (
	"context"
	"fmt"
	"os"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/go-go-golems/scribe/pkg/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const appName = "scribe"

func newRootCmd() (*cobra.Command, error) {
	root := &cobra.Command{
		Use:           appName,
		Short:         "scribe serves a blog draft editor with auto-save",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.InitLoggerFromCobra(cmd)
		},
	}
	if err := clay.InitGlazed(appName, root); err != nil {
		return nil, errors.Wrap(err, "init glazed")
	}
	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, root)

	serve, err := NewServeCommand()
	if err != nil {
		return nil, err
	}
	edit, err := NewEditCommand()
	if err != nil {
		return nil, err
	}
	watch, err := NewWatchCommand()
	if err != nil {
		return nil, err
	}
	for _, c := range []cmds.Command{serve, edit, watch} {
		cobraCmd, err := buildCobraCommand(c)
		if err != nil {
			return nil, err
		}
		root.AddCommand(cobraCmd)
	}
	return root, nil
}

func buildCobraCommand(c cmds.Command) (*cobra.Command, error) {
	return cli.BuildCobraCommand(c, cli.WithCobraMiddlewaresFunc(getMiddlewares))
}

// getMiddlewares resolves flags first, then SCRIBE_* environment variables,
// then defaults.
func getMiddlewares(
	_ *values.Values,
	cmd *cobra.Command,
	args []string,
) ([]sources.Middleware, error) {
	return []sources.Middleware{
		sources.FromCobra(cmd),
		sources.FromArgs(args),
		sources.FromEnv("SCRIBE",
			fields.WithSource("env"),
		),
		sources.FromDefaults(),
	}, nil
}

const settingsFileHelp = "YAML settings file; flags and SCRIBE_* variables that are set take precedence"

// loadSettings reads the settings file, if any, and overlays the given
// sections of parsed.
func loadSettings(parsed *values.Values, path string, slugs ...string) (config.Settings, error) {
	base, err := config.Load(path)
	if err != nil {
		return config.Settings{}, err
	}
	return base.ApplyValues(parsed, slugs...)
}

func main() {
	root, err := newRootCmd()
	cobra.CheckErr(err)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
