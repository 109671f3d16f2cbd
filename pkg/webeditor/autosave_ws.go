package webeditor

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-go-golems/scribe/pkg/poststore"
	"github.com/gorilla/websocket"
)

// autosaveSocket attaches an editor to a session for the post in the path.
// Passing ?session=<id> reattaches to a live session of the same author.
func (h *Handler) autosaveSocket(w http.ResponseWriter, r *http.Request) {
	author := authorFrom(r)
	postID := chi.URLParam(r, "id")
	reqLog := h.reqLog(r)

	var (
		es   *EditorSession
		post poststore.Post
		err  error
	)
	if sid := strings.TrimSpace(r.URL.Query().Get("session")); sid != "" {
		es, err = h.ws.Session(sid, author)
		switch {
		case err != nil:
		case es.DocumentID() == postID:
			// same document, keep unsaved edits
			post, err = h.ws.Store().Get(r.Context(), author, postID)
		default:
			post, err = es.Switch(r.Context(), postID)
		}
	} else {
		es, post, err = h.ws.NewSession(r.Context(), author, postID)
	}
	if err != nil {
		writeStoreError(w, reqLog, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		reqLog.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	wsLog := reqLog.With().
		Str("session_id", es.ID()).
		Str("remote", r.RemoteAddr).
		Logger()
	wsLog.Info().Str("document_id", post.ID).Msg("autosave ws connected")
	defer wsLog.Info().Msg("autosave ws disconnected")

	pool := es.Pool()
	pool.Add(conn)
	defer func() {
		// an editor going away keeps what it typed
		if es.SaveNow() {
			wsLog.Debug().Msg("flushed pending edit on disconnect")
		}
		pool.Remove(conn)
	}()

	st := es.Status()
	pool.SendToOne(conn, encode(ServerMessage{Type: MsgLoaded, SessionID: es.ID(), Post: &post, Status: &st}))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				wsLog.Debug().Err(err).Msg("autosave ws read failed")
			}
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			pool.SendToOne(conn, errorMessage("malformed message"))
			continue
		}

		switch msg.Type {
		case MsgPing:
			pool.SendToOne(conn, encode(ServerMessage{Type: MsgPong}))
		case MsgChange:
			if msg.Draft == nil {
				pool.SendToOne(conn, errorMessage("change without draft"))
				continue
			}
			docID := msg.DocumentID
			if docID == "" {
				docID = es.DocumentID()
			}
			es.Change(docID, *msg.Draft, msg.User)
		case MsgSaveNow:
			es.SaveNow()
			pool.SendToOne(conn, statusMessage(es.Status()))
		case MsgLoad, MsgSwitch:
			target := msg.DocumentID
			if msg.Type == MsgLoad || target == "" {
				target = es.DocumentID()
			}
			p, err := es.Switch(r.Context(), target)
			if err != nil {
				wsLog.Debug().Err(err).Str("document_id", target).Msg("load failed")
				pool.SendToOne(conn, errorMessage(err.Error()))
				continue
			}
			st := es.Status()
			pool.SendToOne(conn, encode(ServerMessage{Type: MsgLoaded, SessionID: es.ID(), Post: &p, Status: &st}))
		default:
			pool.SendToOne(conn, errorMessage("unknown message type "+msg.Type))
		}
	}
}
