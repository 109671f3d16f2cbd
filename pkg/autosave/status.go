package autosave

import "time"

// State is the save state of the active document.
type State string

const (
	StateIdle     State = "idle"
	StateSaving   State = "saving"
	StateSaved    State = "saved"
	StateRetrying State = "retrying"
	StateError    State = "error"
)

// Status is a point-in-time snapshot for the presentation layer.
//
// StateError always carries LastError and StateSaved always carries SavedAt.
// SavedAt survives later transitions so a UI can keep showing "last saved".
// Seq increases by one per transition of a coordinator; consumers that receive
// snapshots out of band drop anything older than what they already hold.
type Status struct {
	DocumentID string    `json:"document_id"`
	State      State     `json:"state"`
	Attempt    int       `json:"attempt,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	SavedAt    time.Time `json:"saved_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
	Seq        uint64    `json:"seq"`
}

// StatusListener receives every status transition in order. A listener may
// call back into the coordinator; transitions it causes are delivered after
// the current one returns.
type StatusListener func(Status)
