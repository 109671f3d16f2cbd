package autosave

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type execState int

const (
	execIdle execState = iota
	// execSaving: a Save call is on the wire.
	execSaving
	// execBackoff: the last attempt failed and a retry timer is armed.
	execBackoff
)

func (s execState) String() string {
	switch s {
	case execSaving:
		return "saving"
	case execBackoff:
		return "backoff"
	default:
		return "idle"
	}
}

// Stats counts what a coordinator did since it was created.
type Stats struct {
	Attempts   uint64 `json:"attempts"`
	Successes  uint64 `json:"successes"`
	Failures   uint64 `json:"failures"`
	Retries    uint64 `json:"retries"`
	Superseded uint64 `json:"superseded"`
	Discarded  uint64 `json:"discarded"`
}

type CoordinatorConfig[T any] struct {
	// BaseCtx parents every Save call. Once it is done no retries are scheduled.
	BaseCtx    context.Context
	DocumentID string
	Saver      Saver[T]
	Clock      Clock
	// Retry falls back to DefaultRetryPolicy when left zero.
	Retry     RetryPolicy
	Logger    *zerolog.Logger
	Listeners []StatusListener
}

type retryState struct {
	attempt  int
	lastErr  error
	schedule backoff.BackOff
}

type listenerEntry struct {
	id int
	fn StatusListener
}

// Coordinator executes saves for one bound document.
//
// At most one request is being executed at any time, counting both the Save
// call and the backoff wait before a retry. Requests submitted meanwhile go to
// a single pending slot where a newer request replaces an older one. Retries
// always re-run the request that failed; the pending slot is only drained once
// that request succeeds or is abandoned.
//
// Thread-safety: all methods are safe for concurrent use.
type Coordinator[T any] struct {
	baseCtx context.Context
	saver   Saver[T]
	clock   Clock
	policy  RetryPolicy
	log     zerolog.Logger

	mu         sync.Mutex
	documentID string
	// generation changes on Bind; completions from an older generation belong
	// to another document and are ignored entirely.
	generation uint64
	// epoch changes on Bind and CancelAll; completions from an older epoch
	// never schedule retries.
	epoch      uint64
	exec       execState
	pending    *SaveRequest[T]
	retry      retryState
	retryTimer Timer
	status     Status
	lastSaved  *T
	stats      Stats
	closed     bool

	listeners    []listenerEntry
	nextListener int
	// outbox holds transitions not yet delivered; one goroutine at a time
	// drains it so listeners see them in order.
	outbox   []notification
	draining bool
}

type notification struct {
	status    Status
	listeners []StatusListener
}

func NewCoordinator[T any](cfg CoordinatorConfig[T]) *Coordinator[T] {
	baseCtx := cfg.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock()
	}
	policy := cfg.Retry
	if policy == (RetryPolicy{}) {
		policy = DefaultRetryPolicy()
	}
	logger := log.With().Str("component", "autosave").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	c := &Coordinator[T]{
		baseCtx:    baseCtx,
		saver:      cfg.Saver,
		clock:      clock,
		policy:     policy.Sanitized(),
		log:        logger,
		documentID: cfg.DocumentID,
	}
	c.status = Status{DocumentID: cfg.DocumentID, State: StateIdle, UpdatedAt: clock.Now()}
	for _, l := range cfg.Listeners {
		c.addListenerLocked(l)
	}
	return c
}

// Submit hands a request to the coordinator. It never blocks on I/O; the
// outcome is observed through Status and listeners.
func (c *Coordinator[T]) Submit(req SaveRequest[T]) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.exec != execIdle {
		if c.pending != nil {
			c.stats.Superseded++
			c.log.Debug().
				Str("document_id", c.pending.DocumentID).
				Str("request_id", c.pending.ID).
				Str("superseded_by", req.ID).
				Msg("queued save superseded")
		}
		r := req
		c.pending = &r
		c.mu.Unlock()
		return
	}
	events := c.startLocked(req, nil)
	c.unlockAndNotify(events)
}

// CancelAll drops the queued request and any scheduled retry. A Save call
// already on the wire runs to completion, but schedules nothing afterwards.
func (c *Coordinator[T]) CancelAll() {
	c.mu.Lock()
	events := c.cancelLocked(nil)
	c.unlockAndNotify(events)
}

// Bind switches the coordinator to another document. All state belonging to
// the previous document is dropped and the status returns to idle.
func (c *Coordinator[T]) Bind(documentID string) {
	c.mu.Lock()
	c.cancelLocked(nil)
	c.generation++
	c.exec = execIdle
	c.retry = retryState{}
	c.lastSaved = nil
	c.documentID = documentID
	c.status.SavedAt = time.Time{}
	events := []Status{c.resetStatusLocked()}
	c.unlockAndNotify(events)
}

// Close cancels outstanding work and makes later Submit calls no-ops.
func (c *Coordinator[T]) Close() {
	c.mu.Lock()
	c.closed = true
	events := c.cancelLocked(nil)
	c.unlockAndNotify(events)
}

// Status returns the current status snapshot.
func (c *Coordinator[T]) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Coordinator[T]) DocumentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.documentID
}

// Busy reports whether a request is being executed or waiting for a retry.
func (c *Coordinator[T]) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exec != execIdle
}

// HasPending reports whether a request waits in the pending slot.
func (c *Coordinator[T]) HasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

func (c *Coordinator[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// LastSaved returns the payload of the last successful save, or the baseline
// set with SetBaseline, for the bound document.
func (c *Coordinator[T]) LastSaved() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSaved == nil {
		var zero T
		return zero, false
	}
	return *c.lastSaved, true
}

// SetBaseline records payload as already persisted, typically the content a
// document was loaded with.
func (c *Coordinator[T]) SetBaseline(payload T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := payload
	c.lastSaved = &p
}

// Subscribe registers a listener and returns a function removing it.
func (c *Coordinator[T]) Subscribe(l StatusListener) func() {
	if l == nil {
		return func() {}
	}
	c.mu.Lock()
	id := c.addListenerLocked(l)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, e := range c.listeners {
			if e.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

func (c *Coordinator[T]) addListenerLocked(l StatusListener) int {
	c.nextListener++
	c.listeners = append(c.listeners, listenerEntry{id: c.nextListener, fn: l})
	return c.nextListener
}

// startLocked begins executing req, or the pending request if req belongs to
// another document.
func (c *Coordinator[T]) startLocked(req SaveRequest[T], events []Status) []Status {
	for {
		if req.DocumentID == c.documentID {
			break
		}
		c.stats.Discarded++
		c.log.Debug().
			Str("document_id", req.DocumentID).
			Str("active_document_id", c.documentID).
			Str("request_id", req.ID).
			Msg("discarding save for inactive document")
		next, ok := c.takePendingLocked()
		if !ok {
			c.exec = execIdle
			return events
		}
		req = next
	}

	c.retry = retryState{schedule: c.policy.newBackOff()}
	c.exec = execSaving
	events = append(events, c.transitionLocked(StateSaving, func(s *Status) {
		s.RequestID = req.ID
		s.Attempt = 0
		s.LastError = ""
	}))
	c.launchLocked(req)
	return events
}

func (c *Coordinator[T]) launchLocked(req SaveRequest[T]) {
	c.stats.Attempts++
	gen, epoch := c.generation, c.epoch
	c.log.Debug().
		Str("document_id", req.DocumentID).
		Str("request_id", req.ID).
		Int("attempt", c.retry.attempt).
		Msg("saving")
	go c.run(gen, epoch, req)
}

func (c *Coordinator[T]) run(gen, epoch uint64, req SaveRequest[T]) {
	ctx := c.baseCtx
	cancel := func() {}
	if c.policy.AttemptTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.policy.AttemptTimeout)
	}
	var err error
	if c.saver == nil {
		err = Permanent(errNoSaver)
	} else {
		err = c.saver.Save(ctx, req.DocumentID, req.Payload)
	}
	cancel()
	c.complete(gen, epoch, req, err)
}

func (c *Coordinator[T]) complete(gen, epoch uint64, req SaveRequest[T], err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.log.Debug().
			Str("document_id", req.DocumentID).
			Str("request_id", req.ID).
			Err(err).
			Msg("ignoring save completion for previous document")
		c.mu.Unlock()
		return
	}

	var events []Status
	if err == nil {
		c.stats.Successes++
		p := req.Payload
		c.lastSaved = &p
		now := c.clock.Now()
		events = append(events, c.transitionLocked(StateSaved, func(s *Status) {
			s.RequestID = req.ID
			s.SavedAt = now
			s.Attempt = c.retry.attempt
			s.LastError = ""
		}))
		c.log.Debug().
			Str("document_id", req.DocumentID).
			Str("request_id", req.ID).
			Int("attempt", c.retry.attempt).
			Msg("saved")
		events = c.finishLocked(events)
		c.unlockAndNotify(events)
		return
	}

	c.stats.Failures++
	c.retry.lastErr = err

	switch {
	case c.baseCtx.Err() != nil:
		events = c.failLocked(req, err, "shutting down", events)
	case epoch != c.epoch:
		events = c.failLocked(req, err, "cancelled", events)
	case IsPermanent(err):
		events = c.failLocked(req, err, "permanent", events)
	default:
		delay := c.retry.schedule.NextBackOff()
		if delay == backoff.Stop {
			events = c.failLocked(req, err, "retries exhausted", events)
			break
		}
		c.retry.attempt++
		c.stats.Retries++
		c.exec = execBackoff
		events = append(events, c.transitionLocked(StateRetrying, func(s *Status) {
			s.RequestID = req.ID
			s.Attempt = c.retry.attempt
			s.LastError = err.Error()
		}))
		c.log.Info().
			Str("document_id", req.DocumentID).
			Str("request_id", req.ID).
			Int("attempt", c.retry.attempt).
			Dur("delay", delay).
			Err(err).
			Msg("save failed, retrying")
		c.retryTimer = c.clock.AfterFunc(delay, func() { c.retryDue(gen, epoch, req) })
	}
	c.unlockAndNotify(events)
}

func (c *Coordinator[T]) retryDue(gen, epoch uint64, req SaveRequest[T]) {
	c.mu.Lock()
	if gen != c.generation || epoch != c.epoch || c.exec != execBackoff {
		c.mu.Unlock()
		return
	}
	c.retryTimer = nil
	c.exec = execSaving
	lastErr := ""
	if c.retry.lastErr != nil {
		lastErr = c.retry.lastErr.Error()
	}
	events := []Status{c.transitionLocked(StateSaving, func(s *Status) {
		s.RequestID = req.ID
		s.Attempt = c.retry.attempt
		s.LastError = lastErr
	})}
	c.launchLocked(req)
	c.unlockAndNotify(events)
}

// failLocked abandons req with a terminal error status and moves on to the
// pending request, unless the coordinator is shutting down.
func (c *Coordinator[T]) failLocked(req SaveRequest[T], err error, reason string, events []Status) []Status {
	events = append(events, c.transitionLocked(StateError, func(s *Status) {
		s.RequestID = req.ID
		s.Attempt = c.retry.attempt
		s.LastError = err.Error()
	}))
	c.log.Warn().
		Str("document_id", req.DocumentID).
		Str("request_id", req.ID).
		Int("attempt", c.retry.attempt).
		Str("reason", reason).
		Err(err).
		Msg("save failed")
	if c.baseCtx.Err() != nil {
		c.exec = execIdle
		c.retry = retryState{}
		return events
	}
	return c.finishLocked(events)
}

func (c *Coordinator[T]) finishLocked(events []Status) []Status {
	c.exec = execIdle
	c.retry = retryState{}
	if next, ok := c.takePendingLocked(); ok {
		return c.startLocked(next, events)
	}
	return events
}

func (c *Coordinator[T]) takePendingLocked() (SaveRequest[T], bool) {
	if c.pending == nil {
		return SaveRequest[T]{}, false
	}
	next := *c.pending
	c.pending = nil
	return next, true
}

func (c *Coordinator[T]) cancelLocked(events []Status) []Status {
	c.epoch++
	if c.pending != nil {
		c.stats.Discarded++
		c.pending = nil
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.exec == execBackoff {
		c.exec = execIdle
		c.retry = retryState{}
		events = append(events, c.resetStatusLocked())
	}
	return events
}

func (c *Coordinator[T]) resetStatusLocked() Status {
	return c.transitionLocked(StateIdle, func(s *Status) {
		s.Attempt = 0
		s.LastError = ""
		s.RequestID = ""
	})
}

func (c *Coordinator[T]) transitionLocked(state State, mutate func(*Status)) Status {
	s := c.status
	s.DocumentID = c.documentID
	s.State = state
	s.UpdatedAt = c.clock.Now()
	s.Seq++
	if mutate != nil {
		mutate(&s)
	}
	c.status = s
	return s
}

// unlockAndNotify queues events, releases mu and delivers the queue unless
// another goroutine is already delivering it. Listeners run without mu held.
func (c *Coordinator[T]) unlockAndNotify(events []Status) {
	if len(events) == 0 || len(c.listeners) == 0 {
		c.mu.Unlock()
		return
	}
	listeners := make([]StatusListener, 0, len(c.listeners))
	for _, e := range c.listeners {
		listeners = append(listeners, e.fn)
	}
	for _, ev := range events {
		c.outbox = append(c.outbox, notification{status: ev, listeners: listeners})
	}
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.outbox) > 0 {
		n := c.outbox[0]
		c.outbox[0] = notification{}
		c.outbox = c.outbox[1:]
		c.mu.Unlock()
		for _, l := range n.listeners {
			l(n.status)
		}
		c.mu.Lock()
	}
	c.outbox = nil
	c.draining = false
	c.mu.Unlock()
}
