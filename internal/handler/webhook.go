package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/djedi/WebHookSpy/internal/broker"
	"github.com/djedi/WebHookSpy/internal/metrics"
	"github.com/djedi/WebHookSpy/internal/store"
)

// Capture ingests any HTTP request sent to an endpoint URL. The
// endpoint is created on first use, so previously expired IDs simply
// start over as fresh endpoints.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	endpointID := chi.URLParam(r, "endpointID")
	ip := clientIP(r)

	if h.rateLimited(w, r, h.captureLimiter, "capture") {
		return
	}

	ctx := r.Context()
	_, created, err := h.Store.EnsureEndpoint(ctx, endpointID, h.Limits.EndpointTTL)
	if err != nil {
		h.writeStorageError(w, "ensure endpoint", err)
		return
	}
	if created {
		metrics.EndpointsCreatedTotal.Inc()
	}

	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		headers[k] = strings.Join(v, ", ")
	}
	query := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}
	path := r.URL.Path
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	// Cap the body at the byte level before any text decoding.
	raw, err := io.ReadAll(io.LimitReader(r.Body, h.Limits.MaxBodyBytes+1))
	if err != nil {
		h.log.Error().Err(err).Str("endpoint", endpointID).Msg("failed to read body")
		writeError(w, http.StatusInternalServerError, "failed to read body")
		return
	}
	truncated := false
	if int64(len(raw)) > h.Limits.MaxBodyBytes {
		raw = raw[:h.Limits.MaxBodyBytes]
		truncated = true
	}
	var body *string
	if len(raw) > 0 {
		// Invalid byte sequences are replaced, never rejected.
		text := strings.ToValidUTF8(string(raw), "�")
		body = &text
	}

	req := &store.Request{
		EndpointID: endpointID,
		Method:     r.Method,
		Path:       path,
		Headers:    headers,
		Query:      query,
		Body:       body,
		Truncated:  truncated,
		IP:         &ip,
	}
	if err := h.Store.SaveRequest(ctx, req); err != nil {
		h.writeStorageError(w, "save request", err)
		return
	}
	if err := h.Store.RefreshExpiration(ctx, endpointID, h.Limits.EndpointTTL); err != nil {
		h.writeStorageError(w, "refresh expiration", err)
		return
	}
	if err := h.Store.PruneOldRequests(ctx, endpointID, h.Limits.RetainedRequests); err != nil {
		h.writeStorageError(w, "prune requests", err)
		return
	}

	metrics.CapturesTotal.Inc()
	h.Broker.Broadcast(endpointID, broker.Event{Type: broker.EventRequest, Data: req})

	// Event-subscription handshakes get their validation code echoed
	// back so registration succeeds without any configuration.
	if code, ok := subscriptionValidationCode(raw); ok {
		writeJSON(w, http.StatusOK, map[string]string{"validationResponse": code})
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "<!DOCTYPE html><html><body><h1>Request captured</h1><p>%s %s recorded.</p></body></html>",
			r.Method, r.URL.Path)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// subscriptionValidationCode sniffs the body for an event-subscription
// validation handshake: a JSON array containing an event whose type
// names subscription validation, with a nested validation code. Any
// parse failure means "not a handshake".
func subscriptionValidationCode(body []byte) (string, bool) {
	var events []struct {
		EventType string `json:"eventType"`
		Data      struct {
			ValidationCode string `json:"validationCode"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &events); err != nil {
		return "", false
	}
	for _, ev := range events {
		if strings.Contains(ev.EventType, "SubscriptionValidation") && ev.Data.ValidationCode != "" {
			return ev.Data.ValidationCode, true
		}
	}
	return "", false
}
