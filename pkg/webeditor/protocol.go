package webeditor

import (
	"encoding/json"

	"github.com/go-go-golems/scribe/pkg/autosave"
	"github.com/go-go-golems/scribe/pkg/poststore"
)

// Client to server message types on the autosave websocket.
const (
	MsgLoad    = "load"
	MsgChange  = "change"
	MsgSwitch  = "switch"
	MsgSaveNow = "save_now"
	MsgPing    = "ping"
)

// Server to client message types.
const (
	MsgStatus = "status"
	MsgLoaded = "loaded"
	MsgError  = "error"
	MsgPong   = "pong"
)

type ClientMessage struct {
	Type       string           `json:"type"`
	DocumentID string           `json:"document_id,omitempty"`
	Draft      *poststore.Draft `json:"draft,omitempty"`
	// User marks the change as typed by the user rather than echoed by the
	// editor while rendering loaded content.
	User bool `json:"user,omitempty"`
}

type ServerMessage struct {
	Type      string           `json:"type"`
	SessionID string           `json:"session_id,omitempty"`
	Post      *poststore.Post  `json:"post,omitempty"`
	Status    *autosave.Status `json:"status,omitempty"`
	Error     string           `json:"error,omitempty"`
}

func statusMessage(st autosave.Status) []byte {
	return encode(ServerMessage{Type: MsgStatus, Status: &st})
}

func errorMessage(msg string) []byte {
	return encode(ServerMessage{Type: MsgError, Error: msg})
}

func encode(m ServerMessage) []byte {
	b, err := json.Marshal(m)
	if err != nil {
		// every field is plain data
		return []byte(`{"type":"error","error":"encode failed"}`)
	}
	return b
}
