package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/scribe/pkg/webeditor"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

type WatchSettings struct {
	Server string `glazed:"server"`
	Post   string `glazed:"post"`
	Author string `glazed:"author"`
}

type WatchCommand struct {
	*cmds.CommandDescription
	out io.Writer
}

var _ cmds.BareCommand = &WatchCommand{}

func NewWatchCommand() (*WatchCommand, error) {
	return &WatchCommand{
		CommandDescription: cmds.NewCommandDescription(
			"watch",
			cmds.WithShort("Print the auto-save status of a post as it changes"),
			cmds.WithFlags(
				fields.New("server", fields.TypeString,
					fields.WithHelp("scribe server URL"),
					fields.WithDefault("http://localhost:8080")),
				fields.New("post", fields.TypeString,
					fields.WithHelp("id of the post to watch"),
					fields.WithRequired(true)),
				fields.New("author", fields.TypeString,
					fields.WithHelp("author id sent as "+webeditor.AuthorHeader),
					fields.WithRequired(true)),
			),
		),
		out: os.Stdout,
	}, nil
}

func (c *WatchCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &WatchSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode watch settings")
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runWatch(ctx, s.Server, s.Post, s.Author, c.out)
}

func statusURL(server, postID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", errors.Wrapf(err, "parse server url %q", server)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path += "/api/posts/" + url.PathEscape(postID) + "/status"
	return u.String(), nil
}

// runWatch prints status events until ctx is done or the server closes the
// stream.
func runWatch(ctx context.Context, server, postID, author string, out io.Writer) error {
	return watchN(ctx, server, postID, author, out, 0)
}

// watchN is runWatch returning after limit events when limit is positive.
func watchN(ctx context.Context, server, postID, author string, out io.Writer, limit int) error {
	target, err := statusURL(server, postID)
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set(webeditor.AuthorHeader, author)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		if resp != nil {
			return errors.Wrapf(err, "connect %s: %s", target, resp.Status)
		}
		return errors.Wrapf(err, "connect %s", target)
	}
	defer func() { _ = conn.Close() }()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for n := 0; limit <= 0 || n < limit; n++ {
		var msg webeditor.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Wrap(err, "read status")
		}
		switch {
		case msg.Type == webeditor.MsgStatus && msg.Status != nil:
			printStatus(out, *msg.Status)
		case msg.Type == webeditor.MsgError:
			_, _ = fmt.Fprintln(out, "error:", msg.Error)
		}
	}
	return nil
}
