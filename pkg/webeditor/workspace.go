// Package webeditor serves the post REST API and the live editor websockets,
// keeping one autosave session per connected editor.
package webeditor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-go-golems/scribe/pkg/autosave"
	"github.com/go-go-golems/scribe/pkg/poststore"
	"github.com/go-go-golems/scribe/pkg/statusbus"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrSessionNotFound = errors.New("editor session not found")

const drainPoll = 20 * time.Millisecond

type WorkspaceOptions struct {
	// BaseCtx bounds every save started by the workspace.
	BaseCtx  context.Context
	Store    poststore.Store
	Bus      statusbus.Bus
	Clock    autosave.Clock
	Debounce time.Duration
	Retry    autosave.RetryPolicy
	// IdleTTL evicts sessions without connections or activity; zero disables.
	IdleTTL       time.Duration
	SweepInterval time.Duration
	Logger        *zerolog.Logger
}

// Workspace owns the live editor sessions of one server process together
// with everything they share: the store, the status bus, the clock and the
// autosave settings.
type Workspace struct {
	baseCtx  context.Context
	store    poststore.Store
	bus      statusbus.Bus
	clock    autosave.Clock
	debounce time.Duration
	retry    autosave.RetryPolicy
	log      zerolog.Logger

	mu            sync.Mutex
	sessions      map[string]*EditorSession
	evictIdle     time.Duration
	evictInterval time.Duration
	evictRunning  bool
}

func NewWorkspace(opts WorkspaceOptions) (*Workspace, error) {
	if opts.Store == nil {
		return nil, errors.New("webeditor: store is nil")
	}
	baseCtx := opts.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	clock := opts.Clock
	if clock == nil {
		clock = autosave.SystemClock()
	}
	logger := log.With().Str("component", "webeditor").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Workspace{
		baseCtx:       baseCtx,
		store:         opts.Store,
		bus:           opts.Bus,
		clock:         clock,
		debounce:      opts.Debounce,
		retry:         opts.Retry,
		log:           logger,
		sessions:      map[string]*EditorSession{},
		evictIdle:     opts.IdleTTL,
		evictInterval: opts.SweepInterval,
	}, nil
}

func (w *Workspace) Store() poststore.Store { return w.store }

func (w *Workspace) Bus() statusbus.Bus { return w.bus }

// NewSession loads postID for authorID and registers a session editing it.
func (w *Workspace) NewSession(ctx context.Context, authorID, postID string) (*EditorSession, poststore.Post, error) {
	post, err := w.store.Get(ctx, authorID, postID)
	if err != nil {
		return nil, poststore.Post{}, err
	}

	es := &EditorSession{
		id:           uuid.NewString(),
		authorID:     authorID,
		workspace:    w,
		lastActivity: w.clock.Now(),
	}
	es.pool = NewConnectionPool(es.id)
	sessLog := w.log.With().Str("session_id", es.id).Str("author_id", authorID).Logger()

	listeners := []autosave.StatusListener{es.broadcastStatus}
	if w.bus != nil {
		forward := statusbus.Forward(w.baseCtx, w.bus)
		listeners = append(listeners, func(st autosave.Status) {
			if st.DocumentID != "" {
				forward(st)
			}
		})
	}
	s, err := autosave.NewSession(autosave.SessionConfig[poststore.Draft]{
		BaseCtx:   w.baseCtx,
		Saver:     poststore.Saver{Store: w.store, AuthorID: authorID},
		Clock:     w.clock,
		Debounce:  w.debounce,
		Retry:     w.retry,
		Logger:    &sessLog,
		Equal:     poststore.Draft.Equal,
		Listeners: listeners,
	})
	if err != nil {
		return nil, poststore.Post{}, err
	}
	es.autosave = s
	s.Load(post.ID, DraftOf(post))

	w.mu.Lock()
	w.sessions[es.id] = es
	w.mu.Unlock()
	sessLog.Info().Str("document_id", post.ID).Msg("editor session opened")
	return es, post, nil
}

// Session returns the live session id if it belongs to authorID.
func (w *Workspace) Session(id, authorID string) (*EditorSession, error) {
	w.mu.Lock()
	es, ok := w.sessions[id]
	w.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if es.authorID != authorID {
		return nil, poststore.ErrForbidden
	}
	return es, nil
}

// Sessions returns the live sessions ordered by id.
func (w *Workspace) Sessions() []*EditorSession {
	w.mu.Lock()
	out := make([]*EditorSession, 0, len(w.sessions))
	for _, es := range w.sessions {
		out = append(out, es)
	}
	w.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// DocumentStatus returns the status of a live session editing documentID.
func (w *Workspace) DocumentStatus(documentID string) (autosave.Status, bool) {
	for _, es := range w.Sessions() {
		if st := es.Status(); st.DocumentID == documentID {
			return st, true
		}
	}
	return autosave.Status{}, false
}

// CloseSession drops the session and any of its unsaved edits.
func (w *Workspace) CloseSession(id string) bool {
	w.mu.Lock()
	es, ok := w.sessions[id]
	delete(w.sessions, id)
	w.mu.Unlock()
	if ok {
		es.close()
	}
	return ok
}

// Logout closes every session of authorID and returns how many were closed.
func (w *Workspace) Logout(authorID string) int {
	return w.closeWhere(func(es *EditorSession) bool { return es.authorID == authorID })
}

// Reset closes every session.
func (w *Workspace) Reset() int {
	return w.closeWhere(func(*EditorSession) bool { return true })
}

func (w *Workspace) closeWhere(match func(*EditorSession) bool) int {
	w.mu.Lock()
	var closing []*EditorSession
	for id, es := range w.sessions {
		if match(es) {
			closing = append(closing, es)
			delete(w.sessions, id)
		}
	}
	w.mu.Unlock()
	for _, es := range closing {
		es.close()
	}
	return len(closing)
}

// Drain flushes pending edits of every session and waits until no save is
// running or ctx is done.
func (w *Workspace) Drain(ctx context.Context) error {
	sessions := w.Sessions()
	for _, es := range sessions {
		es.autosave.SaveNow()
	}
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for {
		busy := 0
		for _, es := range sessions {
			if !es.autosave.Idle() {
				busy++
			}
		}
		if busy == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "%d editor sessions still saving", busy)
		case <-ticker.C:
		}
	}
}

func (w *Workspace) StartEvictionLoop(ctx context.Context) {
	if ctx == nil {
		panic("webeditor: StartEvictionLoop requires non-nil ctx")
	}
	w.mu.Lock()
	if w.evictRunning {
		w.mu.Unlock()
		return
	}
	idle := w.evictIdle
	interval := w.evictInterval
	if idle <= 0 || interval <= 0 {
		w.mu.Unlock()
		return
	}
	w.evictRunning = true
	w.mu.Unlock()

	go w.runEvictionLoop(ctx, interval)
}

func (w *Workspace) runEvictionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.evictRunning = false
			w.mu.Unlock()
			return
		case <-ticker.C:
			if n := w.evictIdleOnce(w.clock.Now()); n > 0 {
				w.log.Info().Int("evicted", n).Msg("evicted idle editor sessions")
			}
		}
	}
}

func (w *Workspace) evictIdleOnce(now time.Time) int {
	w.mu.Lock()
	idle := w.evictIdle
	if idle <= 0 {
		w.mu.Unlock()
		return 0
	}
	sessions := make([]*EditorSession, 0, len(w.sessions))
	for _, es := range w.sessions {
		sessions = append(sessions, es)
	}
	w.mu.Unlock()

	evicted := 0
	for _, es := range sessions {
		if !es.shouldEvict(now, idle) {
			continue
		}
		w.mu.Lock()
		current, ok := w.sessions[es.id]
		if !ok || current != es {
			w.mu.Unlock()
			continue
		}
		delete(w.sessions, es.id)
		w.mu.Unlock()

		es.close()
		evicted++
	}
	return evicted
}

// EditorSession is one editor attached to the workspace, possibly over
// several websocket connections in a row.
type EditorSession struct {
	id        string
	authorID  string
	workspace *Workspace
	autosave  *autosave.Session[poststore.Draft]
	pool      *ConnectionPool

	mu           sync.Mutex
	lastActivity time.Time
}

func (es *EditorSession) ID() string { return es.id }

func (es *EditorSession) AuthorID() string { return es.authorID }

func (es *EditorSession) DocumentID() string { return es.autosave.DocumentID() }

func (es *EditorSession) Status() autosave.Status { return es.autosave.Status() }

func (es *EditorSession) Stats() autosave.Stats { return es.autosave.Stats() }

func (es *EditorSession) Pool() *ConnectionPool { return es.pool }

// Switch loads postID and makes it the edited document. Unsaved edits of the
// previous document are dropped.
func (es *EditorSession) Switch(ctx context.Context, postID string) (poststore.Post, error) {
	es.touch()
	post, err := es.workspace.store.Get(ctx, es.authorID, postID)
	if err != nil {
		return poststore.Post{}, err
	}
	es.autosave.Load(post.ID, DraftOf(post))
	return post, nil
}

// Change reports editor content for documentID. Only changes marked as user
// edits, or following one, are saved.
func (es *EditorSession) Change(documentID string, draft poststore.Draft, user bool) {
	es.touch()
	if user {
		es.autosave.OnUserEdit(documentID, draft)
		return
	}
	es.autosave.OnContentChanged(documentID, draft)
}

func (es *EditorSession) SaveNow() bool {
	es.touch()
	return es.autosave.SaveNow()
}

func (es *EditorSession) touch() {
	now := es.workspace.clock.Now()
	es.mu.Lock()
	es.lastActivity = now
	es.mu.Unlock()
}

func (es *EditorSession) shouldEvict(now time.Time, idle time.Duration) bool {
	if !es.pool.IsEmpty() {
		return false
	}
	if !es.autosave.Idle() {
		return false
	}
	es.mu.Lock()
	last := es.lastActivity
	es.mu.Unlock()
	if last.IsZero() {
		return false
	}
	return now.Sub(last) >= idle
}

func (es *EditorSession) broadcastStatus(st autosave.Status) {
	es.pool.Broadcast(statusMessage(st))
}

func (es *EditorSession) close() {
	es.pool.CloseAll()
	es.autosave.Close()
	es.workspace.log.Info().Str("session_id", es.id).Msg("editor session closed")
}

// DraftOf returns the autosaved part of post.
func DraftOf(p poststore.Post) poststore.Draft {
	return poststore.Draft{Title: p.Title, Content: p.Content}
}
