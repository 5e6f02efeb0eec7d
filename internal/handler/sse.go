package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/djedi/WebHookSpy/internal/broker"
	"github.com/djedi/WebHookSpy/internal/metrics"
)

// heartbeatInterval keeps live streams open through proxies and other
// intermediaries.
const heartbeatInterval = 15 * time.Second

// Stream serves the SSE live stream. The first frame is the broker's
// ready event; every capture and delete on the endpoint follows as its
// own frame, with comment keepalives in between.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	ep := h.endpointFromRequest(w, r, true)
	if ep == nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	sub := h.Broker.Subscribe(ep.ID)
	metrics.LiveSubscribers.Inc()
	defer func() {
		h.Broker.Unsubscribe(ep.ID, sub)
		metrics.LiveSubscribers.Dec()
	}()

	// Heartbeat teardown rides on the same defer path as the
	// subscription itself.
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, ev broker.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
