package main

import (
	"bufio"
	"context"
	"fmt"
	"html"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/scribe/pkg/autosave"
	"github.com/go-go-golems/scribe/pkg/config"
	"github.com/go-go-golems/scribe/pkg/postclient"
	"github.com/go-go-golems/scribe/pkg/poststore"
	"github.com/go-go-golems/scribe/pkg/webeditor"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
)

type EditSettings struct {
	Server       string `glazed:"server"`
	Post         string `glazed:"post"`
	Author       string `glazed:"author"`
	SettingsFile string `glazed:"settings-file"`
}

type EditCommand struct {
	*cmds.CommandDescription
	in  io.Reader
	out io.Writer
}

var _ cmds.BareCommand = &EditCommand{}

func NewEditCommand() (*EditCommand, error) {
	autosaveSection, err := config.NewAutosaveSection()
	if err != nil {
		return nil, errors.Wrap(err, "build autosave section")
	}
	return &EditCommand{
		CommandDescription: cmds.NewCommandDescription(
			"edit",
			cmds.WithShort("Edit a post from stdin, auto-saving through the API"),
			cmds.WithLong(`Every line read from stdin is appended to the post body as a paragraph.
":title <text>" replaces the title, ":save" saves immediately and ":clear"
empties the body. The remaining edits are saved at end of input.`),
			cmds.WithFlags(
				fields.New("server", fields.TypeString,
					fields.WithHelp("scribe server URL"),
					fields.WithDefault("http://localhost:8080")),
				fields.New("post", fields.TypeString,
					fields.WithHelp("id of the post to edit"),
					fields.WithRequired(true)),
				fields.New("author", fields.TypeString,
					fields.WithHelp("author id sent as "+webeditor.AuthorHeader),
					fields.WithRequired(true)),
				fields.New("settings-file", fields.TypeString,
					fields.WithHelp(settingsFileHelp),
					fields.WithDefault("")),
			),
			cmds.WithSections(autosaveSection),
		),
		in:  os.Stdin,
		out: os.Stdout,
	}, nil
}

func (c *EditCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &EditSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode edit settings")
	}
	settings, err := loadSettings(parsed, s.SettingsFile, config.AutosaveSlug)
	if err != nil {
		return err
	}
	client, err := postclient.New(s.Server, s.Author)
	if err != nil {
		return err
	}
	if f, ok := c.in.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		_, _ = fmt.Fprintln(c.out, "type paragraphs, :title <text>, :save or :clear; end with Ctrl-D")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runEdit(ctx, editOptions{
		Client:   client,
		PostID:   s.Post,
		Debounce: settings.Autosave.Debounce,
		Retry:    settings.Autosave.RetryPolicy(),
		In:       c.in,
		Out:      c.out,
	})
}

type editOptions struct {
	Client   *postclient.Client
	PostID   string
	Debounce time.Duration
	Retry    autosave.RetryPolicy
	Clock    autosave.Clock
	In       io.Reader
	Out      io.Writer
}

type editAction int

const (
	actionEdit editAction = iota
	actionSave
)

// applyLine folds one input line into draft.
func applyLine(draft poststore.Draft, line string) (poststore.Draft, editAction) {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == ":save":
		return draft, actionSave
	case trimmed == ":clear":
		draft.Content = poststore.Content{Lexical: draft.Content.Lexical}
		return draft, actionEdit
	case strings.HasPrefix(trimmed, ":title "):
		draft.Title = strings.TrimSpace(strings.TrimPrefix(trimmed, ":title "))
		return draft, actionEdit
	}
	draft.Content.HTML += "<p>" + html.EscapeString(line) + "</p>"
	return draft, actionEdit
}

// lockedWriter serializes writes from status listeners and the input loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func runEdit(ctx context.Context, opts editOptions) error {
	opts.Out = &lockedWriter{w: opts.Out}
	post, err := opts.Client.Get(ctx, opts.PostID)
	if err != nil {
		return errors.Wrapf(err, "load post %s", opts.PostID)
	}

	session, err := autosave.NewSession(autosave.SessionConfig[poststore.Draft]{
		BaseCtx:  ctx,
		Saver:    opts.Client.Saver(),
		Clock:    opts.Clock,
		Debounce: opts.Debounce,
		Retry:    opts.Retry,
		Equal:    poststore.Draft.Equal,
		Listeners: []autosave.StatusListener{func(st autosave.Status) {
			printStatus(opts.Out, st)
		}},
	})
	if err != nil {
		return err
	}
	defer session.Close()

	draft := webeditor.DraftOf(post)
	session.Load(post.ID, draft)
	_, _ = fmt.Fprintf(opts.Out, "editing %q (%d words)\n", post.Title, draft.WordCount())

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(opts.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if err != nil {
				return errors.Wrap(err, "read stdin")
			}
			session.SaveNow()
			if err := waitIdle(ctx, session); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(opts.Out, "done: %d words, %+v\n", draft.WordCount(), session.Stats())
			if st := session.Status(); st.State == autosave.StateError {
				return errors.Errorf("last save failed: %s", st.LastError)
			}
			return nil
		case line := <-lines:
			var action editAction
			draft, action = applyLine(draft, line)
			session.OnUserEdit(post.ID, draft)
			if action == actionSave {
				session.SaveNow()
			}
		}
	}
}

func waitIdle(ctx context.Context, s *autosave.Session[poststore.Draft]) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for !s.Idle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func printStatus(w io.Writer, st autosave.Status) {
	line := fmt.Sprintf("[%s] %s", st.UpdatedAt.Format("15:04:05.000"), st.State)
	if st.Attempt > 0 {
		line += fmt.Sprintf(" attempt=%d", st.Attempt)
	}
	if st.LastError != "" {
		line += " error=" + st.LastError
	}
	_, _ = fmt.Fprintln(w, line)
}
