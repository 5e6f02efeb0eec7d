package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/djedi/WebHookSpy/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The inspector UI may be served from a different origin.
		return true
	},
}

// WebSocket serves the live stream over a WebSocket for clients that
// cannot use SSE. Frames carry the same events as the SSE transport.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	ep := h.endpointFromRequest(w, r, true)
	if ep == nil {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.Broker.Subscribe(ep.ID)
	metrics.LiveSubscribers.Inc()
	defer func() {
		h.Broker.Unsubscribe(ep.ID, sub)
		metrics.LiveSubscribers.Dec()
	}()

	// Drain reads so we notice the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
