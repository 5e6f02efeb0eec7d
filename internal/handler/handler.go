// Package handler implements the HTTP surface: webhook capture, the
// endpoint inspection API, and the live-stream transports.
package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/djedi/WebHookSpy/internal/auth"
	"github.com/djedi/WebHookSpy/internal/broker"
	"github.com/djedi/WebHookSpy/internal/config"
	"github.com/djedi/WebHookSpy/internal/ident"
	"github.com/djedi/WebHookSpy/internal/metrics"
	"github.com/djedi/WebHookSpy/internal/ratelimit"
	"github.com/djedi/WebHookSpy/internal/store"
)

// accessKeyHeader carries the endpoint access key as an alternative to
// the ?key= query parameter.
const accessKeyHeader = "X-Access-Key"

type Handler struct {
	Store  store.Store
	Broker *broker.Broker
	Limits config.LimitsConfig

	createLimiter  *ratelimit.Limiter
	captureLimiter *ratelimit.Limiter

	log zerolog.Logger
}

func NewHandler(s store.Store, limits config.LimitsConfig, log zerolog.Logger) *Handler {
	return &Handler{
		Store:          s,
		Broker:         broker.New(),
		Limits:         limits,
		createLimiter:  ratelimit.New(limits.CreatePerMinute),
		captureLimiter: ratelimit.New(limits.CapturePerMinute),
		log:            log,
	}
}

// Limiters exposes the rate limiters so their stale entries can be
// swept periodically.
func (h *Handler) Limiters() []*ratelimit.Limiter {
	return []*ratelimit.Limiter{h.createLimiter, h.captureLimiter}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// writeUnauthorized flags the endpoint as protected so clients can
// prompt for an access key.
func writeUnauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]any{
		"error":     "missing or invalid access key",
		"protected": true,
	})
}

func writeRateLimited(w http.ResponseWriter, res ratelimit.Result) {
	secs := res.RetryAfterSeconds()
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":               "rate limit exceeded",
		"retry_after_seconds": secs,
	})
}

func (h *Handler) writeStorageError(w http.ResponseWriter, op string, err error) {
	h.log.Error().Err(err).Str("op", op).Msg("storage fault")
	writeError(w, http.StatusInternalServerError, "internal error")
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// accessKey extracts the supplied key from the query string or header.
func accessKey(r *http.Request) string {
	if key := r.URL.Query().Get("key"); key != "" {
		return key
	}
	return r.Header.Get(accessKeyHeader)
}

// authorized reports whether r may read or mutate ep.
func authorized(r *http.Request, ep *store.Endpoint) bool {
	if !ep.Protected() {
		return true
	}
	key := accessKey(r)
	if key == "" {
		return false
	}
	return auth.VerifyKey(key, ep.SecretHash)
}

// endpointFromRequest validates the endpoint ID, loads the row, and
// when gated enforces the access key. On failure the response has been
// written and nil is returned.
func (h *Handler) endpointFromRequest(w http.ResponseWriter, r *http.Request, gated bool) *store.Endpoint {
	id := chi.URLParam(r, "endpointID")
	if !ident.Valid(id) {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return nil
	}

	ep, err := h.Store.GetEndpoint(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "endpoint not found")
		return nil
	}
	if err != nil {
		h.writeStorageError(w, "get endpoint", err)
		return nil
	}

	if gated && !authorized(r, ep) {
		writeUnauthorized(w)
		return nil
	}
	return ep
}

// cleanupMiddleware gives the lazily-throttled expiry sweep a chance to
// run on every inbound request.
func (h *Handler) cleanupMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.Store.MaybeCleanup(r.Context()); err != nil {
			h.log.Error().Err(err).Msg("expiry sweep failed")
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimited applies lim keyed by client IP, writing the 429 response
// itself when the caller is over the cap.
func (h *Handler) rateLimited(w http.ResponseWriter, r *http.Request, lim *ratelimit.Limiter, action string) bool {
	res := lim.Check(clientIP(r))
	if res.Allowed {
		return false
	}
	metrics.RateLimitedTotal.WithLabelValues(action).Inc()
	writeRateLimited(w, res)
	return true
}
