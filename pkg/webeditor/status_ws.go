package webeditor

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-go-golems/scribe/pkg/autosave"
)

// statusSocket streams the autosave status of a post from the status bus.
// The first message is the current status, sent once the subscription is
// in place.
func (h *Handler) statusSocket(w http.ResponseWriter, r *http.Request) {
	reqLog := h.reqLog(r)
	bus := h.ws.Bus()
	if bus == nil {
		writeError(w, http.StatusServiceUnavailable, "status bus disabled")
		return
	}
	post, err := h.ws.Store().Get(r.Context(), authorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, reqLog, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events, err := bus.Subscribe(ctx, post.ID)
	if err != nil {
		reqLog.Error().Err(err).Msg("status subscribe failed")
		writeError(w, http.StatusServiceUnavailable, "status bus unavailable")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		reqLog.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()
	wsLog := reqLog.With().Str("document_id", post.ID).Str("remote", r.RemoteAddr).Logger()
	wsLog.Info().Msg("status ws connected")
	defer wsLog.Info().Msg("status ws disconnected")

	// watchers never send anything, reading only notices the close
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	current, ok := h.ws.DocumentStatus(post.ID)
	if !ok {
		current = autosave.Status{DocumentID: post.ID, State: autosave.StateIdle}
	}
	if err := writeText(conn, statusMessage(current)); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-events:
			if !ok {
				return
			}
			if err := writeText(conn, statusMessage(st)); err != nil {
				wsLog.Debug().Err(err).Msg("status ws write failed")
				return
			}
		}
	}
}
