package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/anthonybo/meshtastic-dashboard/internal/mesh"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsReplyBuffer  = 16
)

// wsRequest is a client frame. Fields beyond Type depend on the frame type.
type wsRequest struct {
	Type        string  `json:"type"`
	Text        string  `json:"text,omitempty"`
	Destination *string `json:"destination,omitempty"`
	Channel     int     `json:"channel,omitempty"`
	HopLimit    *int    `json:"hop_limit,omitempty"`
}

// wsReply is a server frame answering a client frame.
type wsReply struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type wsMessageSent struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
	Error   string `json:"error,omitempty"`
}

type wsTracerouteSent struct {
	Success     bool   `json:"success"`
	Destination string `json:"destination"`
	Error       string `json:"error,omitempty"`
}

// wsDefaultHopLimit is used when a traceroute frame omits hop_limit.
const wsDefaultHopLimit = 3

// ServeWebSocket pushes the connection status and then every bus event to a
// WebSocket client. Clients may send ping, send_message and traceroute frames.
// @Summary WebSocket event push
// @Tags Events
// @Success 101 {string} string "switching protocols"
// @Router /ws [get]
func (h *BridgeHandler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}

	clientID := "ws-" + ulid.Make().String()
	events, unsubscribe := h.events.SubscribeChan(clientID, h.opts.StreamBuffer)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	replies := make(chan interface{}, wsReplyBuffer)
	replies <- statusEvent{Type: mesh.KindConnection, Data: h.link.Status()}

	h.logger.Info("websocket client connected", "client", clientID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.wsWriteLoop(ctx, ws, events, replies)
		cancel()
	}()

	h.wsReadLoop(ctx, ws, replies)
	cancel()
	<-done

	ws.Close(websocket.StatusNormalClosure, "")
	h.logger.Info("websocket client disconnected", "client", clientID)
}

// acceptOptions maps the CORS origins onto the host patterns checked by the
// WebSocket handshake.
func (h *BridgeHandler) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	for _, origin := range h.opts.CORSOrigins {
		if origin == "*" {
			return &websocket.AcceptOptions{InsecureSkipVerify: true}
		}
		host := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
		opts.OriginPatterns = append(opts.OriginPatterns, strings.TrimSuffix(host, "/"))
	}
	return opts
}

func (h *BridgeHandler) wsWriteLoop(ctx context.Context, ws *websocket.Conn, events <-chan mesh.Event, replies <-chan interface{}) {
	write := func(v interface{}) bool {
		wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		defer cancel()
		return wsjson.Write(wctx, ws, v) == nil
	}
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-replies:
			if !write(v) {
				return
			}
		case ev := <-events:
			if !write(ev) {
				return
			}
		}
	}
}

func (h *BridgeHandler) wsReadLoop(ctx context.Context, ws *websocket.Conn, replies chan<- interface{}) {
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, ws, &raw); err != nil {
			return
		}
		var req wsRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			h.logger.Debug("ignoring malformed websocket frame", "error", err)
			continue
		}
		reply := h.handleWSRequest(ctx, req)
		if reply == nil {
			continue
		}
		select {
		case replies <- reply:
		case <-ctx.Done():
			return
		}
	}
}

// handleWSRequest executes one client frame. Unknown frames and commands
// issued while disconnected get no reply.
func (h *BridgeHandler) handleWSRequest(ctx context.Context, req wsRequest) interface{} {
	switch req.Type {
	case "ping":
		return wsReply{Type: "pong"}

	case "send_message":
		if !h.link.Status().Connected {
			return nil
		}
		dest := ""
		if req.Destination != nil {
			dest = *req.Destination
		}
		out := wsMessageSent{Text: req.Text}
		if err := validateWSMessage(req.Text, dest, req.Channel); err != nil {
			out.Error = err.Error()
			return wsReply{Type: "message_sent", Data: out}
		}
		res := h.link.SendMessage(ctx, req.Text, dest, uint32(req.Channel))
		out.Success = res.OK
		out.Error = res.Detail
		if res.OK {
			h.recordOutgoing(ctx, res, req.Text, uint32(req.Channel))
		}
		return wsReply{Type: "message_sent", Data: out}

	case "traceroute":
		if !h.link.Status().Connected || req.Destination == nil || *req.Destination == "" {
			return nil
		}
		hops := wsDefaultHopLimit
		if req.HopLimit != nil {
			hops = *req.HopLimit
		}
		out := wsTracerouteSent{Destination: *req.Destination}
		if err := validateWSTraceroute(*req.Destination, hops, req.Channel); err != nil {
			out.Error = err.Error()
			return wsReply{Type: "traceroute_sent", Data: out}
		}
		res := h.link.SendTraceroute(ctx, *req.Destination, uint32(hops), uint32(req.Channel))
		out.Success = res.OK
		out.Error = res.Detail
		return wsReply{Type: "traceroute_sent", Data: out}
	}
	return nil
}

func validateWSMessage(text, dest string, channel int) error {
	if err := validateMeshtasticText(text); err != nil {
		return err
	}
	if err := validateMeshtasticNodeID(dest); err != nil {
		return err
	}
	return validateChannel(channel)
}

func validateWSTraceroute(dest string, hops, channel int) error {
	if !reMeshtasticNode.MatchString(dest) {
		return errInvalidDestination
	}
	if err := validateHopLimit(hops); err != nil {
		return err
	}
	return validateChannel(channel)
}
