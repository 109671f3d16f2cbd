package webeditor

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-go-golems/scribe/pkg/poststore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// AuthorHeader carries the authenticated author id; authentication itself
// happens in front of this server.
const AuthorHeader = "X-Author-ID"

const maxBodyBytes = 4 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps store errors to HTTP statuses.
func writeStoreError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	switch {
	case errors.Is(err, poststore.ErrInvalidID):
		writeError(w, http.StatusBadRequest, "invalid post id")
	case errors.Is(err, poststore.ErrForbidden):
		writeError(w, http.StatusForbidden, poststore.ErrForbidden.Error())
	case errors.Is(err, poststore.ErrNotFound), errors.Is(err, ErrSessionNotFound):
		writeError(w, http.StatusNotFound, errors.Cause(err).Error())
	default:
		logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// authorFrom returns the author id from the header, or from the author query
// parameter for browser websockets that cannot set headers.
func authorFrom(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get(AuthorHeader)); a != "" {
		return a
	}
	return strings.TrimSpace(r.URL.Query().Get("author"))
}

func requireAuthor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authorFrom(r) == "" {
			writeError(w, http.StatusUnauthorized, "missing "+AuthorHeader)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode request body")
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.Errorf("invalid %s %q", key, raw)
	}
	return n, nil
}
