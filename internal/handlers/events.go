package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/anthonybo/meshtastic-dashboard/internal/mesh"
)

// sseKeepalive is the interval of SSE comment frames that keep proxies from
// closing an idle stream.
const sseKeepalive = 15 * time.Second

// statusEvent wraps a status snapshot in the {"type","data"} frame sent to a
// stream client when it attaches.
type statusEvent struct {
	Type mesh.Kind   `json:"type"`
	Data mesh.Status `json:"data"`
}

// StreamEvents streams bus events as Server-Sent Events. The first event is
// the current connection status.
// @Summary Stream mesh events
// @Tags Events
// @Produce text/event-stream
// @Success 200 {string} string "event stream"
// @Failure 500 {object} ErrorResponse
// @Router /api/events [get]
func (h *BridgeHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	clientID := "sse-" + ulid.Make().String()
	events, unsubscribe := h.events.SubscribeChan(clientID, h.opts.StreamBuffer)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	h.logger.Info("sse client attached", "client", clientID)
	defer h.logger.Info("sse client detached", "client", clientID)

	var seq uint64
	send := func(kind mesh.Kind, v interface{}) bool {
		data, err := json.Marshal(v)
		if err != nil {
			h.logger.Error("failed to marshal sse event", "kind", kind, "error", err)
			return true
		}
		seq++
		if _, err := fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", kind, seq, data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	fmt.Fprint(w, "retry: 5000\n\n")
	if !send(mesh.KindConnection, statusEvent{Type: mesh.KindConnection, Data: h.link.Status()}) {
		return
	}

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if !send(ev.Kind, ev) {
				return
			}
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
