package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes builds the full router: the inspection API, the live-stream
// transports, and the catch-all capture routes. Non-hex top-level paths
// fall through to 404 (static content is served by an outer layer).
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.cleanupMiddleware)

	r.Route("/api/endpoints", func(r chi.Router) {
		r.Post("/", h.CreateEndpoint)
		r.Route("/{endpointID}", func(r chi.Router) {
			r.Get("/", h.GetEndpoint)
			r.Delete("/", h.DeleteEndpoint)
			r.Get("/protection", h.Protection)
			r.Get("/requests", h.ListRequests)
			r.Delete("/requests", h.ClearRequests)
			r.Delete("/requests/{requestID}", h.DeleteRequest)
			r.Post("/requests/{requestID}/replay", h.ReplayRequest)
			r.Get("/stream", h.Stream)
			r.Get("/ws", h.WebSocket)
		})
	})

	// Capture accepts every HTTP method. The hex constraint lets
	// non-endpoint paths fall through.
	r.HandleFunc("/{endpointID:[0-9a-f]{32}}", h.Capture)
	r.HandleFunc("/{endpointID:[0-9a-f]{32}}/*", h.Capture)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	return r
}
