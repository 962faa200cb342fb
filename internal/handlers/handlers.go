package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/anthonybo/meshtastic-dashboard/internal/mesh"
	"github.com/anthonybo/meshtastic-dashboard/internal/radio"
	"github.com/anthonybo/meshtastic-dashboard/internal/store"
)

// Link is the connection supervisor surface driven by the API.
type Link interface {
	Status() mesh.Status
	Nodes() map[string]radio.Node
	Connect(ctx context.Context) mesh.ConnectResult
	Disconnect(ctx context.Context) mesh.DisconnectResult
	ResetLink(ctx context.Context) mesh.ResetResult
	ScanDevices(ctx context.Context, timeout time.Duration) radio.ScanResult
	SendMessage(ctx context.Context, text, destination string, channel uint32) mesh.SendResult
	SendTraceroute(ctx context.Context, destination string, hopLimit, channel uint32) mesh.TracerouteResult
}

// History is the persisted mesh history.
type History interface {
	ListMessages(ctx context.Context, q store.MessageQuery) ([]store.Message, error)
	RecordOutgoing(ctx context.Context, from, to string, channel uint32, text string) (store.Message, error)
	ListTelemetry(ctx context.Context, nodeID string, limit int) ([]store.Telemetry, error)
	ListPositions(ctx context.Context, nodeID string, limit int) ([]store.Position, error)
	ListNodes(ctx context.Context) ([]store.Node, error)
	GetNode(ctx context.Context, id string) (store.Node, error)
	SyncNodes(ctx context.Context, nodes map[string]radio.Node) (int, error)
}

// Events is the event bus surface used by the streaming endpoints.
type Events interface {
	SubscribeChan(name string, buffer int) (<-chan mesh.Event, func())
	PublishPayload(p mesh.Payload)
}

// Options configures a BridgeHandler.
type Options struct {
	// BroadcastRate paces broadcast-all direct messages (messages per second).
	BroadcastRate rate.Limit
	// StreamBuffer is the per-client event buffer of SSE and WebSocket streams.
	StreamBuffer int
	// HistoryLimit is the default page size of history queries.
	HistoryLimit int
	// CORSOrigins are the browser origins allowed to call the API and open
	// the WebSocket. "*" allows any origin.
	CORSOrigins []string
	Logger      *slog.Logger
}

// BridgeHandler serves the REST, SSE and WebSocket surface of the bridge.
type BridgeHandler struct {
	link    Link
	history History
	events  Events
	opts    Options
	logger  *slog.Logger
	started time.Time
}

// NewBridgeHandler creates a handler.
func NewBridgeHandler(link Link, history History, events Events, opts Options) *BridgeHandler {
	if opts.BroadcastRate <= 0 {
		opts.BroadcastRate = rate.Limit(1)
	}
	if opts.StreamBuffer <= 0 {
		opts.StreamBuffer = 64
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 100
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &BridgeHandler{
		link:    link,
		history: history,
		events:  events,
		opts:    opts,
		logger:  opts.Logger.With("component", "api"),
		started: time.Now(),
	}
}

// ErrorResponse is the error body of every endpoint.
// @Description Error response
type ErrorResponse struct {
	Error string `json:"error" example:"not connected to device"`
	Code  int    `json:"code" example:"503"`
}

// Response helpers
func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, ErrorResponse{Error: message, Code: status})
}

// decodeBody decodes a JSON request body of at most 64KB into v.
func decodeBody(r *http.Request, v interface{}) error {
	r = limitBody(r, 64<<10)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return err
	}
	return nil
}

// queryInt parses an integer query parameter, returning def when absent.
func queryInt(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	if v < lo || v > hi {
		return 0, errors.New(name + " must be between " + strconv.Itoa(lo) + " and " + strconv.Itoa(hi))
	}
	return v, nil
}

// requireConnected writes a 503 and returns false while the link is down.
func (h *BridgeHandler) requireConnected(w http.ResponseWriter) bool {
	if !h.link.Status().Connected {
		errorResponse(w, http.StatusServiceUnavailable, "not connected to device")
		return false
	}
	return true
}

// ============================================================================
// Health
// ============================================================================

// HealthCheck reports process liveness and link state.
// @Summary Health check
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *BridgeHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	st := h.link.Status()
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "meshbridge",
		"connected": st.Connected,
		"state":     st.State,
		"uptime":    time.Since(h.started).Round(time.Second).String(),
	})
}
