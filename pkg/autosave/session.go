package autosave

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce is the quiet period between the last edit and its save.
const DefaultDebounce = 2 * time.Second

type SessionConfig[T any] struct {
	BaseCtx  context.Context
	Saver    Saver[T]
	Clock    Clock
	Debounce time.Duration
	Retry    RetryPolicy
	Logger   *zerolog.Logger
	// Equal reports whether two payloads are the same content. When set, a
	// payload equal to the last saved one is not submitted while no other
	// save is running or queued.
	Equal     func(a, b T) bool
	Listeners []StatusListener
}

type contentChange[T any] struct {
	documentID string
	payload    T
}

// Session binds a Coordinator and a Debouncer to the document being edited.
//
// Saves stay suppressed after a document is loaded until the user edits it,
// so initializing an editor with existing content never writes back.
//
// Thread-safety: all methods are safe for concurrent use.
type Session[T any] struct {
	clock       Clock
	equal       func(a, b T) bool
	log         zerolog.Logger
	coordinator *Coordinator[T]
	debouncer   *Debouncer[contentChange[T]]

	mu         sync.Mutex
	documentID string
	modified   bool
	closed     bool
}

func NewSession[T any](cfg SessionConfig[T]) (*Session[T], error) {
	if cfg.Saver == nil {
		return nil, errors.New("autosave session: saver is nil")
	}
	if cfg.Debounce < 0 {
		return nil, errors.Errorf("autosave session: negative debounce %s", cfg.Debounce)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock()
	}
	debounce := cfg.Debounce
	if debounce == 0 {
		debounce = DefaultDebounce
	}
	logger := log.With().Str("component", "autosave").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	s := &Session[T]{
		clock: clock,
		equal: cfg.Equal,
		log:   logger,
	}
	s.coordinator = NewCoordinator(CoordinatorConfig[T]{
		BaseCtx:   cfg.BaseCtx,
		Saver:     cfg.Saver,
		Clock:     clock,
		Retry:     cfg.Retry,
		Logger:    &logger,
		Listeners: cfg.Listeners,
	})
	s.debouncer = NewDebouncer(clock, debounce, s.submit)
	return s, nil
}

// Load activates documentID and records initial as its persisted content.
func (s *Session[T]) Load(documentID string, initial T) {
	s.SwitchDocument(documentID)
	s.coordinator.SetBaseline(initial)
}

// SwitchDocument makes newID the active document. Pending and scheduled work
// for the previous document is dropped; a save already on the wire may still
// complete, but only against its own document.
func (s *Session[T]) SwitchDocument(newID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.documentID
	s.documentID = newID
	s.modified = false
	s.mu.Unlock()

	s.debouncer.Cancel()
	s.coordinator.CancelAll()
	s.coordinator.Bind(newID)
	s.log.Debug().Str("from_document_id", prev).Str("document_id", newID).Msg("switched document")
}

// MarkUserModified records that the user edited documentID. Content changes
// are only saved once this happened for the active document.
func (s *Session[T]) MarkUserModified(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if documentID == s.documentID && documentID != "" {
		s.modified = true
	}
}

// OnContentChanged reports new editor content. It is dropped when documentID
// is not the active document or the user has not edited it yet.
func (s *Session[T]) OnContentChanged(documentID string, payload T) {
	s.mu.Lock()
	if s.closed || documentID != s.documentID || documentID == "" {
		s.mu.Unlock()
		s.log.Debug().Str("document_id", documentID).Msg("ignoring change for inactive document")
		return
	}
	if !s.modified {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.debouncer.Invoke(contentChange[T]{documentID: documentID, payload: payload})
}

// OnUserEdit is MarkUserModified followed by OnContentChanged.
func (s *Session[T]) OnUserEdit(documentID string, payload T) {
	s.MarkUserModified(documentID)
	s.OnContentChanged(documentID, payload)
}

// SaveNow submits the pending change without waiting for the quiet period.
// It returns false when no change was pending.
func (s *Session[T]) SaveNow() bool {
	return s.debouncer.Flush()
}

// Close drops all pending work; later calls are ignored.
func (s *Session[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.debouncer.Cancel()
	s.coordinator.Close()
}

func (s *Session[T]) DocumentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentID
}

// Modified reports whether the user edited the active document.
func (s *Session[T]) Modified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modified
}

// Idle reports whether no edit is waiting and no save is running or queued.
func (s *Session[T]) Idle() bool {
	return !s.debouncer.Pending() && !s.coordinator.Busy() && !s.coordinator.HasPending()
}

func (s *Session[T]) Status() Status { return s.coordinator.Status() }

func (s *Session[T]) Stats() Stats { return s.coordinator.Stats() }

// Subscribe registers a status listener and returns a function removing it.
func (s *Session[T]) Subscribe(l StatusListener) func() { return s.coordinator.Subscribe(l) }

// Coordinator exposes the underlying coordinator.
func (s *Session[T]) Coordinator() *Coordinator[T] { return s.coordinator }

func (s *Session[T]) submit(change contentChange[T]) {
	s.mu.Lock()
	active := s.documentID
	closed := s.closed
	s.mu.Unlock()
	if closed || change.documentID != active {
		return
	}

	// with a save running or queued, the persisted content is about to change
	// and only a new request keeps the latest edit last
	if s.equal != nil && !s.coordinator.Busy() && !s.coordinator.HasPending() {
		if last, ok := s.coordinator.LastSaved(); ok && s.equal(last, change.payload) {
			s.log.Debug().Str("document_id", change.documentID).Msg("skipping save of unchanged content")
			return
		}
	}
	s.coordinator.Submit(NewSaveRequest(change.documentID, change.payload, s.clock.Now()))
}
