package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/djedi/WebHookSpy/internal/store"
)

// ReplayRequest re-sends a captured request to its endpoint's capture
// URL on this server, producing a fresh capture.
func (h *Handler) ReplayRequest(w http.ResponseWriter, r *http.Request) {
	ep := h.endpointFromRequest(w, r, true)
	if ep == nil {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "requestID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request ID")
		return
	}

	stored, err := h.Store.GetRequest(r.Context(), ep.ID, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		h.writeStorageError(w, "get request", err)
		return
	}

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	// The stored path already includes the endpoint prefix and query.
	targetURL := scheme + "://" + r.Host + stored.Path

	var body string
	if stored.Body != nil {
		body = *stored.Body
	}
	replay, err := http.NewRequestWithContext(r.Context(), stored.Method, targetURL, strings.NewReader(body))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build replay request")
		return
	}
	for k, v := range stored.Headers {
		// These belong to the new connection, not the replayed one.
		if k == "Host" || k == "Content-Length" || k == "Connection" {
			continue
		}
		replay.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(replay)
	if err != nil {
		h.log.Error().Err(err).Str("endpoint", ep.ID).Int64("request", id).Msg("replay failed")
		writeError(w, http.StatusBadGateway, "failed to replay request")
		return
	}
	defer resp.Body.Close()

	writeJSON(w, http.StatusOK, map[string]any{
		"replayed": id,
		"status":   resp.StatusCode,
	})
}
