package autosave

import (
	"time"

	"github.com/google/uuid"
)

// SaveRequest is one candidate write. Requests are never mutated once built;
// superseding one means replacing it.
type SaveRequest[T any] struct {
	ID         string
	DocumentID string
	Payload    T
	EnqueuedAt time.Time
}

// NewSaveRequest stamps a request with a fresh id.
func NewSaveRequest[T any](documentID string, payload T, enqueuedAt time.Time) SaveRequest[T] {
	return SaveRequest[T]{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Payload:    payload,
		EnqueuedAt: enqueuedAt,
	}
}
