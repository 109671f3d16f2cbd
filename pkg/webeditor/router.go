package webeditor

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-go-golems/scribe/pkg/poststore"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Handler struct {
	ws       *Workspace
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

type RouterOption func(*Handler)

// WithUpgrader replaces the websocket upgrader, for instance to restrict
// origins.
func WithUpgrader(u websocket.Upgrader) RouterOption {
	return func(h *Handler) { h.upgrader = u }
}

func WithLogger(l zerolog.Logger) RouterOption {
	return func(h *Handler) { h.log = l }
}

// NewRouter mounts the post API and the editor websockets on a chi router.
func NewRouter(ws *Workspace, opts ...RouterOption) http.Handler {
	h := &Handler{
		ws:       ws,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		log:      log.With().Str("component", "webeditor").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": len(ws.Sessions())})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(requireAuthor)
		r.Route("/posts", func(r chi.Router) {
			r.Post("/", h.createPost)
			r.Get("/", h.listPosts)
			r.Get("/{id}", h.getPost)
			r.Patch("/{id}", h.updatePost)
			r.Delete("/{id}", h.deletePost)
			r.Post("/{id}/publish", h.publishPost)
			r.Get("/{id}/autosave", h.autosaveSocket)
			r.Get("/{id}/status", h.statusSocket)
		})
		r.Post("/session/logout", h.logout)
	})
	return r
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

func (h *Handler) reqLog(r *http.Request) zerolog.Logger {
	return h.log.With().
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("author_id", authorFrom(r)).
		Logger()
}

func (h *Handler) createPost(w http.ResponseWriter, r *http.Request) {
	var draft poststore.Draft
	if err := decodeBody(w, r, &draft); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	post, err := h.ws.Store().Create(r.Context(), authorFrom(r), draft)
	if err != nil {
		writeStoreError(w, h.reqLog(r), err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (h *Handler) listPosts(w http.ResponseWriter, r *http.Request) {
	status, err := poststore.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", poststore.DefaultListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	posts, err := h.ws.Store().List(r.Context(), poststore.ListQuery{
		AuthorID: authorFrom(r),
		Status:   status,
		Offset:   skip,
		Limit:    limit,
	})
	if err != nil {
		writeStoreError(w, h.reqLog(r), err)
		return
	}
	if posts == nil {
		posts = []poststore.Post{}
	}
	writeJSON(w, http.StatusOK, posts)
}

func (h *Handler) getPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.ws.Store().Get(r.Context(), authorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, h.reqLog(r), err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *Handler) updatePost(w http.ResponseWriter, r *http.Request) {
	var patch poststore.Patch
	if err := decodeBody(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	post, err := h.ws.Store().Update(r.Context(), authorFrom(r), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeStoreError(w, h.reqLog(r), err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *Handler) deletePost(w http.ResponseWriter, r *http.Request) {
	if err := h.ws.Store().Delete(r.Context(), authorFrom(r), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, h.reqLog(r), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) publishPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.ws.Store().Publish(r.Context(), authorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, h.reqLog(r), err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	n := h.ws.Logout(authorFrom(r))
	h.reqLog(r).Info().Int("closed_sessions", n).Msg("author logged out")
	writeJSON(w, http.StatusOK, map[string]int{"closed_sessions": n})
}
