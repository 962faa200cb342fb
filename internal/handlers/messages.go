package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/anthonybo/meshtastic-dashboard/internal/mesh"
	"github.com/anthonybo/meshtastic-dashboard/internal/store"
)

// ============================================================================
// Message Types
// ============================================================================

// SendMessageRequest is the body of POST /api/messages.
// @Description Text message parameters
type SendMessageRequest struct {
	Text     string  `json:"text" example:"Hello mesh!"`
	ToNodeID *string `json:"to_node_id,omitempty" example:"!abcd1234"` // nil = broadcast
	Channel  int     `json:"channel,omitempty" example:"0"`
}

// SentMessage is the stored outgoing message plus its radio dispatch info.
// @Description Sent text message
type SentMessage struct {
	store.Message
	PacketID  uint32 `json:"packet_id"`
	SendID    string `json:"send_id,omitempty"`
	Broadcast bool   `json:"is_broadcast"`
}

// BroadcastAllRequest is the body of POST /api/messages/broadcast-all.
// @Description Direct message fan-out parameters
type BroadcastAllRequest struct {
	Text string `json:"text" example:"Net check-in"`
	// DelaySeconds overrides the configured pacing between messages.
	DelaySeconds *float64 `json:"delay_seconds,omitempty" example:"1.0"`
}

// BroadcastAllResult summarizes a fan-out.
// @Description Direct message fan-out summary
type BroadcastAllResult struct {
	TotalNodes int `json:"total_nodes"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Channel describes one configured radio channel.
// @Description Radio channel
type Channel struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Role  int    `json:"role"`
}

// ============================================================================
// Message Handlers
// ============================================================================

// ListMessages returns message history, newest first.
// @Summary List messages
// @Tags Messages
// @Produce json
// @Param limit query int false "Page size" default(100)
// @Param offset query int false "Rows to skip" default(0)
// @Param channel query int false "Channel filter"
// @Success 200 {array} store.Message
// @Failure 400 {object} ErrorResponse
// @Router /api/messages [get]
func (h *BridgeHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", h.opts.HistoryLimit, 1, 1000)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0, 0, 1_000_000)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	q := store.MessageQuery{Limit: limit, Offset: offset}
	if r.URL.Query().Get("channel") != "" {
		ch, err := queryInt(r, "channel", 0, 0, maxChannel)
		if err != nil {
			errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		c := uint32(ch)
		q.Channel = &c
	}

	messages, err := h.history.ListMessages(r.Context(), q)
	if err != nil {
		h.logger.Error("list messages failed", "error", err)
		errorResponse(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	jsonResponse(w, http.StatusOK, messages)
}

// SendMessage sends a text message and records it.
// @Summary Send a text message
// @Tags Messages
// @Accept json
// @Produce json
// @Param request body SendMessageRequest true "Message parameters"
// @Success 200 {object} SentMessage
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/messages [post]
func (h *BridgeHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	dest := ""
	if req.ToNodeID != nil {
		dest = *req.ToNodeID
	}
	if err := validateMeshtasticText(req.Text); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateMeshtasticNodeID(dest); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateChannel(req.Channel); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.requireConnected(w) {
		return
	}

	h.logger.Info("sending message", "to", dest, "channel", req.Channel, "bytes", len(req.Text))
	res := h.link.SendMessage(r.Context(), req.Text, dest, uint32(req.Channel))
	if !res.OK {
		h.logger.Error("send failed", "to", dest, "error", res.Detail)
		errorResponse(w, http.StatusInternalServerError, "failed to send message: "+res.Detail)
		return
	}

	jsonResponse(w, http.StatusOK, h.recordOutgoing(r.Context(), res, req.Text, uint32(req.Channel)))
}

// recordOutgoing stores an outgoing message. A storage failure is logged; the
// message already left the radio.
func (h *BridgeHandler) recordOutgoing(ctx context.Context, res mesh.SendResult, text string, channel uint32) SentMessage {
	to := res.Destination
	if res.Broadcast {
		to = ""
	}
	sent := SentMessage{PacketID: res.PacketID, SendID: res.SendID, Broadcast: res.Broadcast}
	msg, err := h.history.RecordOutgoing(ctx, h.localNodeID(), to, channel, text)
	if err != nil {
		h.logger.Warn("failed to record outgoing message", "to", res.Destination, "error", err)
		sent.Message = store.Message{Channel: channel, Text: text, Timestamp: time.Now().UTC(), Outgoing: true}
		return sent
	}
	sent.Message = msg
	return sent
}

func (h *BridgeHandler) localNodeID() string {
	st := h.link.Status()
	if st.MyNodeNum == nil || *st.MyNodeNum == 0 {
		return ""
	}
	return mesh.FormatNodeID(*st.MyNodeNum)
}

// GetChannels lists the radio's channels. The BLE driver does not download
// channel settings, so the list is empty while connected.
// @Summary List channels
// @Tags Messages
// @Produce json
// @Success 200 {array} Channel
// @Failure 503 {object} ErrorResponse
// @Router /api/messages/channels [get]
func (h *BridgeHandler) GetChannels(w http.ResponseWriter, r *http.Request) {
	if !h.requireConnected(w) {
		return
	}
	jsonResponse(w, http.StatusOK, []Channel{})
}

// BroadcastAll sends text as a direct message to every known node, paced to
// spare the mesh. Progress is published as broadcast_progress events.
// @Summary Direct message every node
// @Tags Messages
// @Accept json
// @Produce json
// @Param request body BroadcastAllRequest true "Fan-out parameters"
// @Success 200 {object} BroadcastAllResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/messages/broadcast-all [post]
func (h *BridgeHandler) BroadcastAll(w http.ResponseWriter, r *http.Request) {
	var req BroadcastAllRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if err := validateMeshtasticText(req.Text); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DelaySeconds != nil && (*req.DelaySeconds < 0 || *req.DelaySeconds > 60) {
		errorResponse(w, http.StatusBadRequest, "delay_seconds must be between 0 and 60")
		return
	}
	if !h.requireConnected(w) {
		return
	}

	nodes := h.link.Nodes()
	if len(nodes) == 0 {
		errorResponse(w, http.StatusNotFound, "no nodes found")
		return
	}

	self := h.localNodeID()
	result := BroadcastAllResult{TotalNodes: len(nodes)}
	targets := make([]string, 0, len(nodes))
	for id := range nodes {
		if id == self {
			result.Skipped++
			continue
		}
		targets = append(targets, id)
	}
	sort.Strings(targets)

	limit := h.opts.BroadcastRate
	if req.DelaySeconds != nil {
		limit = rate.Inf
		if *req.DelaySeconds > 0 {
			limit = rate.Every(time.Duration(*req.DelaySeconds * float64(time.Second)))
		}
	}
	limiter := rate.NewLimiter(limit, 1)

	h.events.PublishPayload(mesh.BroadcastProgressPayload{Status: "started", Total: len(targets), Timestamp: timestampNow()})

	ctx := r.Context()
	for i, id := range targets {
		if err := limiter.Wait(ctx); err != nil {
			h.logger.Warn("broadcast-all interrupted", "sent", result.Sent, "remaining", len(targets)-i, "error", err)
			break
		}
		node := nodes[id]
		name := node.LongName
		if name == "" {
			name = node.ShortName
		}
		if name == "" {
			name = id
		}
		h.events.PublishPayload(mesh.BroadcastProgressPayload{
			Status:    "sending",
			Current:   i + 1,
			Total:     len(targets),
			NodeID:    id,
			NodeName:  name,
			Sent:      result.Sent,
			Failed:    result.Failed,
			Timestamp: timestampNow(),
		})

		res := h.link.SendMessage(ctx, req.Text, id, 0)
		if !res.OK {
			h.logger.Warn("broadcast-all send failed", "to", id, "error", res.Detail)
			result.Failed++
			continue
		}
		result.Sent++
		h.recordOutgoing(ctx, res, req.Text, 0)
	}

	h.events.PublishPayload(mesh.BroadcastProgressPayload{
		Status:    "completed",
		Current:   len(targets),
		Total:     len(targets),
		Sent:      result.Sent,
		Failed:    result.Failed,
		Timestamp: timestampNow(),
	})
	h.logger.Info("broadcast-all completed", "sent", result.Sent, "failed", result.Failed, "skipped", result.Skipped)
	jsonResponse(w, http.StatusOK, result)
}

func timestampNow() string {
	return time.Now().UTC().Format(time.RFC3339)
}
