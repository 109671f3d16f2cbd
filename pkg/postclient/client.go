// Package postclient talks to the scribe posts API over HTTP.
package postclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-go-golems/scribe/pkg/autosave"
	"github.com/go-go-golems/scribe/pkg/poststore"
	"github.com/pkg/errors"
)

// AuthorHeader carries the caller identity; authentication happens in front
// of the API.
const AuthorHeader = "X-Author-ID"

// StatusError is a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("posts api: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("posts api: %d %s", e.Code, e.Message)
}

// Retryable reports whether repeating the request may succeed.
func (e *StatusError) Retryable() bool {
	switch {
	case e.Code == http.StatusRequestTimeout, e.Code == http.StatusTooManyRequests:
		return true
	case e.Code >= 400 && e.Code < 500:
		return false
	default:
		return true
	}
}

type Client struct {
	baseURL  *url.URL
	authorID string
	http     *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func New(baseURL, authorID string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "posts client: parse base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("posts client: unsupported scheme %q", u.Scheme)
	}
	if strings.TrimSpace(authorID) == "" {
		return nil, errors.New("posts client: author id is empty")
	}
	c := &Client{
		baseURL:  u,
		authorID: authorID,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the API root the client was created with.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

func (c *Client) AuthorID() string { return c.authorID }

func (c *Client) Create(ctx context.Context, draft poststore.Draft) (poststore.Post, error) {
	var p poststore.Post
	err := c.do(ctx, http.MethodPost, "/api/posts", nil, draft, &p)
	return p, err
}

func (c *Client) Get(ctx context.Context, id string) (poststore.Post, error) {
	var p poststore.Post
	err := c.do(ctx, http.MethodGet, "/api/posts/"+url.PathEscape(id), nil, nil, &p)
	return p, err
}

func (c *Client) List(ctx context.Context, status poststore.PostStatus, offset, limit int) ([]poststore.Post, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	if offset > 0 {
		q.Set("skip", strconv.Itoa(offset))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var posts []poststore.Post
	err := c.do(ctx, http.MethodGet, "/api/posts", q, nil, &posts)
	return posts, err
}

func (c *Client) Update(ctx context.Context, id string, patch poststore.Patch) (poststore.Post, error) {
	var p poststore.Post
	err := c.do(ctx, http.MethodPatch, "/api/posts/"+url.PathEscape(id), nil, patch, &p)
	return p, err
}

func (c *Client) Publish(ctx context.Context, id string) (poststore.Post, error) {
	var p poststore.Post
	err := c.do(ctx, http.MethodPost, "/api/posts/"+url.PathEscape(id)+"/publish", nil, nil, &p)
	return p, err
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/posts/"+url.PathEscape(id), nil, nil, nil)
}

// Saver returns an autosave.Saver issuing PATCH /api/posts/{id}. Client errors
// other than 408 and 429 are permanent.
func (c *Client) Saver() autosave.Saver[poststore.Draft] {
	return autosave.SaverFunc[poststore.Draft](func(ctx context.Context, documentID string, draft poststore.Draft) error {
		_, err := c.Update(ctx, documentID, poststore.PatchFromDraft(draft))
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return autosave.Permanent(err)
		}
		return err
	})
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.BaseURL()
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "posts client: marshal request")
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return errors.Wrap(err, "posts client: build request")
	}
	req.Header.Set(AuthorHeader, c.authorID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "posts client: %s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "posts client: decode %s %s", method, path)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	se := &StatusError{Code: resp.StatusCode}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		se.Message = payload.Error
	} else {
		se.Message = strings.TrimSpace(string(data))
	}
	return se
}
