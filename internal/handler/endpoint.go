package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/djedi/WebHookSpy/internal/auth"
	"github.com/djedi/WebHookSpy/internal/broker"
	"github.com/djedi/WebHookSpy/internal/ident"
	"github.com/djedi/WebHookSpy/internal/metrics"
	"github.com/djedi/WebHookSpy/internal/store"
)

type endpointMeta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Protected bool      `json:"protected"`
}

func metaFor(ep *store.Endpoint) endpointMeta {
	return endpointMeta{
		ID:        ep.ID,
		CreatedAt: ep.CreatedAt,
		ExpiresAt: ep.ExpiresAt,
		Protected: ep.Protected(),
	}
}

// CreateEndpoint mints a new endpoint. With {"secure": true} the
// response carries the access key exactly once; only its hash is kept.
func (h *Handler) CreateEndpoint(w http.ResponseWriter, r *http.Request) {
	if h.rateLimited(w, r, h.createLimiter, "create") {
		return
	}

	var body struct {
		Secure bool `json:"secure"`
	}
	if r.Body != nil {
		// An empty or absent body means an unprotected endpoint.
		json.NewDecoder(r.Body).Decode(&body)
	}

	var secretHash, accessKey string
	if body.Secure {
		key, err := auth.GenerateKey()
		if err != nil {
			h.log.Error().Err(err).Msg("failed to generate access key")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		hash, err := auth.HashKey(key)
		if err != nil {
			h.log.Error().Err(err).Msg("failed to hash access key")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		accessKey, secretHash = key, hash
	}

	ep, err := h.Store.CreateEndpoint(r.Context(), ident.New(), secretHash, h.Limits.EndpointTTL)
	if err != nil {
		h.writeStorageError(w, "create endpoint", err)
		return
	}
	metrics.EndpointsCreatedTotal.Inc()
	h.log.Info().Str("endpoint", ep.ID).Bool("protected", ep.Protected()).Msg("endpoint created")

	resp := struct {
		endpointMeta
		URL       string `json:"url"`
		AccessKey string `json:"access_key,omitempty"`
	}{
		endpointMeta: metaFor(ep),
		URL:          "/" + ep.ID,
		AccessKey:    accessKey,
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetEndpoint returns endpoint timestamps plus its retained requests,
// newest first. Inspector access counts as activity.
func (h *Handler) GetEndpoint(w http.ResponseWriter, r *http.Request) {
	ep := h.endpointFromRequest(w, r, true)
	if ep == nil {
		return
	}

	if err := h.Store.RefreshExpiration(r.Context(), ep.ID, h.Limits.EndpointTTL); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.writeStorageError(w, "refresh expiration", err)
		return
	}

	reqs, err := h.Store.ListRequests(r.Context(), ep.ID, h.Limits.RetainedRequests)
	if err != nil {
		h.writeStorageError(w, "list requests", err)
		return
	}
	if reqs == nil {
		reqs = []*store.Request{}
	}

	resp := struct {
		endpointMeta
		Requests []*store.Request `json:"requests"`
	}{
		endpointMeta: metaFor(ep),
		Requests:     reqs,
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRequests is the filtered read: predicates are AND-combined.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	ep := h.endpointFromRequest(w, r, true)
	if ep == nil {
		return
	}

	reqs, err := h.Store.ListRequests(r.Context(), ep.ID, h.Limits.RetainedRequests)
	if err != nil {
		h.writeStorageError(w, "list requests", err)
		return
	}

	f := filterFromQuery(r.URL.Query())
	matched := make([]*store.Request, 0, len(reqs))
	for _, req := range reqs {
		if f.matches(req) {
			matched = append(matched, req)
		}
		if f.limit > 0 && len(matched) >= f.limit {
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"requests": matched})
}

// Protection is the public check for whether an endpoint requires an
// access key. It must never require the key itself.
func (h *Handler) Protection(w http.ResponseWriter, r *http.Request) {
	ep := h.endpointFromRequest(w, r, false)
	if ep == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"protected": ep.Protected()})
}

func (h *Handler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	ep := h.endpointFromRequest(w, r, true)
	if ep == nil {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "requestID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request ID")
		return
	}

	err = h.Store.DeleteRequest(r.Context(), ep.ID, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	if err != nil {
		h.writeStorageError(w, "delete request", err)
		return
	}

	h.Broker.Broadcast(ep.ID, broker.Event{Type: broker.EventRequestDeleted, Data: map[string]int64{"id": id}})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ClearRequests(w http.ResponseWriter, r *http.Request) {
	ep := h.endpointFromRequest(w, r, true)
	if ep == nil {
		return
	}

	if err := h.Store.ClearRequests(r.Context(), ep.ID); err != nil {
		h.writeStorageError(w, "clear requests", err)
		return
	}

	h.Broker.Broadcast(ep.ID, broker.Event{Type: broker.EventRequestsCleared})
	w.WriteHeader(http.StatusNoContent)
}

// DeleteEndpoint removes the endpoint and all its requests, then tears
// down any live subscribers.
func (h *Handler) DeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	ep := h.endpointFromRequest(w, r, true)
	if ep == nil {
		return
	}

	if err := h.Store.DeleteEndpoint(r.Context(), ep.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.writeStorageError(w, "delete endpoint", err)
		return
	}

	h.Broker.Broadcast(ep.ID, broker.Event{Type: broker.EventEndpointDeleted})
	h.Broker.CloseAll(ep.ID)
	h.log.Info().Str("endpoint", ep.ID).Msg("endpoint deleted")
	w.WriteHeader(http.StatusNoContent)
}
