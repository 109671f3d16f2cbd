package autosavetest

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/scribe/pkg/autosave"
)

// Call records one Save invocation.
type Call[T any] struct {
	DocumentID string
	Payload    T
}

// Saver is a scripted autosave.Saver.
//
// Results queued with FailNext are consumed one per call; once exhausted every
// call returns Default. After Hold, each call blocks until Proceed releases it,
// which gives tests an artificial, fully controlled network latency.
type Saver[T any] struct {
	mu      sync.Mutex
	calls   []Call[T]
	results []error
	held    bool
	release chan struct{}

	Default error
}

var _ autosave.Saver[string] = &Saver[string]{}

func NewSaver[T any]() *Saver[T] {
	return &Saver[T]{release: make(chan struct{})}
}

// FailNext queues results for the next calls; a nil entry means success.
func (s *Saver[T]) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, errs...)
}

// Hold makes subsequent calls wait for Proceed.
func (s *Saver[T]) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held = true
}

// Proceed releases one held call. It returns false if no call picked up the
// release within a second.
func (s *Saver[T]) Proceed() bool {
	select {
	case s.release <- struct{}{}:
		return true
	case <-time.After(time.Second):
		return false
	}
}

func (s *Saver[T]) Save(ctx context.Context, documentID string, payload T) error {
	s.mu.Lock()
	s.calls = append(s.calls, Call[T]{DocumentID: documentID, Payload: payload})
	held := s.held
	s.mu.Unlock()

	if held {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) > 0 {
		err := s.results[0]
		s.results = s.results[1:]
		return err
	}
	return s.Default
}

// Calls returns a copy of the recorded calls.
func (s *Saver[T]) Calls() []Call[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call[T](nil), s.calls...)
}

func (s *Saver[T]) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
