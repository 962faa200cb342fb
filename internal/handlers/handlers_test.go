package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/anthonybo/meshtastic-dashboard/internal/mesh"
	"github.com/anthonybo/meshtastic-dashboard/internal/radio"
	"github.com/anthonybo/meshtastic-dashboard/internal/store"
)

// ============================================================================
// Fakes
// ============================================================================

type sendCall struct {
	Text        string
	Destination string
	Channel     uint32
}

type fakeLink struct {
	mu         sync.Mutex
	status     mesh.Status
	nodes      map[string]radio.Node
	connectRes mesh.ConnectResult
	closeFail  bool
	failSendTo map[string]bool
	sends      []sendCall
	traces     []sendCall
	nextPacket uint32
}

func connectedLink(myNum uint32) *fakeLink {
	return &fakeLink{
		status: mesh.Status{Connected: true, State: mesh.StateConnected, MyNodeNum: &myNum},
		nodes:  map[string]radio.Node{},
	}
}

func (f *fakeLink) Status() mesh.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeLink) Nodes() map[string]radio.Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes
}

func (f *fakeLink) Connect(context.Context) mesh.ConnectResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectRes.OK {
		f.status.Connected = true
		f.status.State = mesh.StateConnected
	}
	return f.connectRes
}

func (f *fakeLink) Disconnect(context.Context) mesh.DisconnectResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = mesh.Status{State: mesh.StateDisconnected, CloseFailed: f.closeFail}
	return mesh.DisconnectResult{OK: !f.closeFail, CloseFailed: f.closeFail}
}

func (f *fakeLink) ResetLink(context.Context) mesh.ResetResult {
	return mesh.ResetResult{OK: true, CleanupOK: true, DeviceVisible: true}
}

func (f *fakeLink) ScanDevices(_ context.Context, timeout time.Duration) radio.ScanResult {
	return radio.ScanResult{TotalDevices: int(timeout / time.Second)}
}

func (f *fakeLink) SendMessage(_ context.Context, text, destination string, channel uint32) mesh.SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sendCall{text, destination, channel})
	if f.failSendTo[destination] {
		return mesh.SendResult{Detail: "radio busy", Destination: destination}
	}
	f.nextPacket++
	broadcast := destination == "" || destination == radio.BroadcastID
	if broadcast {
		destination = radio.BroadcastID
	}
	return mesh.SendResult{OK: true, PacketID: f.nextPacket, Destination: destination, Broadcast: broadcast}
}

func (f *fakeLink) SendTraceroute(_ context.Context, destination string, hopLimit, channel uint32) mesh.TracerouteResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.traces = append(f.traces, sendCall{Destination: destination, Channel: channel})
	return mesh.TracerouteResult{OK: true}
}

func (f *fakeLink) sent() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.sends...)
}

type fakeEvents struct {
	mu        sync.Mutex
	ch        chan mesh.Event
	published []mesh.Payload
	subs      int
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{ch: make(chan mesh.Event, 8)}
}

func (f *fakeEvents) SubscribeChan(string, int) (<-chan mesh.Event, func()) {
	f.mu.Lock()
	f.subs++
	f.mu.Unlock()
	return f.ch, func() {
		f.mu.Lock()
		f.subs--
		f.mu.Unlock()
	}
}

func (f *fakeEvents) PublishPayload(p mesh.Payload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, p)
}

func (f *fakeEvents) progress() []mesh.BroadcastProgressPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []mesh.BroadcastProgressPayload
	for _, p := range f.published {
		if bp, ok := p.(mesh.BroadcastProgressPayload); ok {
			out = append(out, bp)
		}
	}
	return out
}

// ============================================================================
// Helpers
// ============================================================================

type testEnv struct {
	link   *fakeLink
	store  *store.Store
	events *fakeEvents
	router chi.Router
}

func newTestEnv(t *testing.T, link *fakeLink) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(t.TempDir(), "bridge.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	events := newFakeEvents()
	h := NewBridgeHandler(link, st, events, Options{
		BroadcastRate: 1000,
		CORSOrigins:   []string{"*"},
		Logger:        logger,
	})
	r := chi.NewRouter()
	SetupRoutes(r, h, nil)
	return &testEnv{link: link, store: st, events: events, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func strptr(s string) *string { return &s }

// ============================================================================
// System & connection
// ============================================================================

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, connectedLink(1))

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, "connected", body["state"])
}

func TestConnectAlreadyConnected(t *testing.T) {
	env := newTestEnv(t, connectedLink(1))

	rec := env.do(t, http.MethodPost, "/api/connection/connect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "already_connected", decode[map[string]interface{}](t, rec)["status"])
}

func TestConnectFailureIncludesScanResult(t *testing.T) {
	link := &fakeLink{connectRes: mesh.ConnectResult{
		Detail:     "device Heltec not found",
		ScanResult: &radio.ScanResult{TotalDevices: 4, ConfiguredDevice: "Heltec"},
	}}
	env := newTestEnv(t, link)

	rec := env.do(t, http.MethodPost, "/api/connection/connect", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	body := decode[ConnectError](t, rec)
	assert.Equal(t, "device Heltec not found", body.Error)
	assert.Equal(t, http.StatusServiceUnavailable, body.Code)
	require.NotNil(t, body.ScanResult)
	assert.Equal(t, 4, body.ScanResult.TotalDevices)
}

func TestConnectSuccess(t *testing.T) {
	env := newTestEnv(t, &fakeLink{connectRes: mesh.ConnectResult{OK: true}})

	rec := env.do(t, http.MethodPost, "/api/connection/connect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "connected", body["status"])
	assert.Equal(t, true, body["connected"])
}

func TestDisconnectWarnsWhenCloseFailed(t *testing.T) {
	link := connectedLink(1)
	link.closeFail = true
	env := newTestEnv(t, link)

	rec := env.do(t, http.MethodPost, "/api/connection/disconnect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, "disconnected", body["status"])
	assert.Equal(t, closeFailedWarning, body["warning"])
}

func TestScanDevicesTimeout(t *testing.T) {
	env := newTestEnv(t, connectedLink(1))

	rec := env.do(t, http.MethodGet, "/api/connection/scan?timeout=7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, decode[radio.ScanResult](t, rec).TotalDevices)

	rec = env.do(t, http.MethodGet, "/api/connection/scan?timeout=600", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, connectedLink(1))

	req := httptest.NewRequest(http.MethodOptions, "/api/messages", nil)
	req.Header.Set("Origin", "http://dashboard.local:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://dashboard.local:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

// ============================================================================
// Messages
// ============================================================================

func TestSendMessageValidation(t *testing.T) {
	tests := []struct {
		name string
		body SendMessageRequest
	}{
		{"empty text", SendMessageRequest{Text: ""}},
		{"text too long", SendMessageRequest{Text: strings.Repeat("x", maxTextBytes+1)}},
		{"bad destination", SendMessageRequest{Text: "hi", ToNodeID: strptr("abcd")}},
		{"channel out of range", SendMessageRequest{Text: "hi", Channel: 8}},
	}
	env := newTestEnv(t, connectedLink(1))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/messages", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, env.link.sent())
}

func TestSendMessageRequiresConnection(t *testing.T) {
	env := newTestEnv(t, &fakeLink{})

	rec := env.do(t, http.MethodPost, "/api/messages", SendMessageRequest{Text: "hi"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not connected to device", decode[ErrorResponse](t, rec).Error)
}

func TestSendMessageRecordsOutgoing(t *testing.T) {
	env := newTestEnv(t, connectedLink(0x1a2b3c4d))

	rec := env.do(t, http.MethodPost, "/api/messages", SendMessageRequest{Text: "hello", ToNodeID: strptr("!abcd1234"), Channel: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sent := decode[SentMessage](t, rec)
	assert.Equal(t, uint32(1), sent.PacketID)
	assert.True(t, sent.Outgoing)
	assert.False(t, sent.Broadcast)
	require.NotNil(t, sent.FromNodeID)
	assert.Equal(t, "!1a2b3c4d", *sent.FromNodeID)
	require.NotNil(t, sent.ToNodeID)
	assert.Equal(t, "!abcd1234", *sent.ToNodeID)

	msgs, err := env.store.ListMessages(context.Background(), store.MessageQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, uint32(2), msgs[0].Channel)
	assert.Equal(t, []sendCall{{"hello", "!abcd1234", 2}}, env.link.sent())
}

func TestSendMessageBroadcastStoresNullRecipient(t *testing.T) {
	env := newTestEnv(t, connectedLink(1))

	rec := env.do(t, http.MethodPost, "/api/messages", SendMessageRequest{Text: "to everyone"})
	require.Equal(t, http.StatusOK, rec.Code)

	sent := decode[SentMessage](t, rec)
	assert.True(t, sent.Broadcast)
	assert.Nil(t, sent.ToNodeID)
}

func TestSendMessageRadioFailure(t *testing.T) {
	link := connectedLink(1)
	link.failSendTo = map[string]bool{"!0000beef": true}
	env := newTestEnv(t, link)

	rec := env.do(t, http.MethodPost, "/api/messages", SendMessageRequest{Text: "hi", ToNodeID: strptr("!0000beef")})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "radio busy")

	msgs, err := env.store.ListMessages(context.Background(), store.MessageQuery{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestListMessagesQueryValidation(t *testing.T) {
	env := newTestEnv(t, connectedLink(1))

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/messages?limit=0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/messages?limit=abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/messages?channel=9", nil).Code)

	rec := env.do(t, http.MethodGet, "/api/messages?limit=5&channel=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]store.Message](t, rec))
}

func TestGetChannels(t *testing.T) {
	env := newTestEnv(t, connectedLink(1))

	rec := env.do(t, http.MethodGet, "/api/messages/channels", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestBroadcastAllSkipsSelfAndReportsProgress(t *testing.T) {
	link := connectedLink(1)
	link.nodes = map[string]radio.Node{
		"!00000001": {Num: 1, ID: "!00000001", LongName: "Base"},
		"!00000003": {Num: 3, ID: "!00000003", ShortName: "C"},
		"!00000002": {Num: 2, ID: "!00000002", LongName: "Bravo"},
		"!00000004": {Num: 4, ID: "!00000004"},
	}
	link.failSendTo = map[string]bool{"!00000004": true}
	env := newTestEnv(t, link)

	delay := 0.0
	rec := env.do(t, http.MethodPost, "/api/messages/broadcast-all", BroadcastAllRequest{Text: "check-in", DelaySeconds: &delay})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, BroadcastAllResult{TotalNodes: 4, Sent: 2, Failed: 1, Skipped: 1}, decode[BroadcastAllResult](t, rec))

	var dests []string
	for _, c := range link.sent() {
		dests = append(dests, c.Destination)
	}
	assert.Equal(t, []string{"!00000002", "!00000003", "!00000004"}, dests)

	progress := env.events.progress()
	require.Len(t, progress, 5)
	assert.Equal(t, "started", progress[0].Status)
	assert.Equal(t, 3, progress[0].Total)
	assert.Equal(t, "sending", progress[1].Status)
	assert.Equal(t, "Bravo", progress[1].NodeName)
	assert.Equal(t, "C", progress[2].NodeName)
	assert.Equal(t, "!00000004", progress[3].NodeName)
	last := progress[4]
	assert.Equal(t, "completed", last.Status)
	assert.Equal(t, 2, last.Sent)
	assert.Equal(t, 1, last.Failed)

	msgs, err := env.store.ListMessages(context.Background(), store.MessageQuery{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestBroadcastAllNoNodes(t *testing.T) {
	env := newTestEnv(t, connectedLink(1))

	rec := env.do(t, http.MethodPost, "/api/messages/broadcast-all", BroadcastAllRequest{Text: "anyone?"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBroadcastAllRejectsBadDelay(t *testing.T) {
	env := newTestEnv(t, connectedLink(1))

	delay := -1.0
	rec := env.do(t, http.MethodPost, "/api/messages/broadcast-all", BroadcastAllRequest{Text: "x", DelaySeconds: &delay})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ============================================================================
// Nodes, telemetry & traceroute
// ============================================================================

func TestNodesEndpoints(t *testing.T) {
	link := connectedLink(1)
	link.nodes = map[string]radio.Node{
		"!0000000a": {Num: 10, ID: "!0000000a", LongName: "Alpha", HWModel: "HELTEC_V3"},
	}
	env := newTestEnv(t, link)

	rec := env.do(t, http.MethodGet, "/api/nodes/!0000000a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/nodes/not-a-node", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/nodes/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[map[string]int](t, rec)["synced"])

	rec = env.do(t, http.MethodGet, "/api/nodes/!0000000a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	node := decode[store.Node](t, rec)
	require.NotNil(t, node.LongName)
	assert.Equal(t, "Alpha", *node.LongName)

	rec = env.do(t, http.MethodGet, "/api/nodes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.Node](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/nodes/live", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[map[string]radio.Node](t, rec), "!0000000a")
}

func TestLiveNodesRequireConnection(t *testing.T) {
	env := newTestEnv(t, &fakeLink{})

	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/api/nodes/live", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodPost, "/api/nodes/sync", nil).Code)
}

func TestTelemetryAndPositions(t *testing.T) {
	env := newTestEnv(t, connectedLink(1))
	ctx := context.Background()
	battery := uint32(77)
	_, err := env.store.InsertTelemetry(ctx, store.Telemetry{NodeID: "!0000000a", BatteryLevel: &battery, Timestamp: time.Now().UTC()})
	require.NoError(t, err)
	_, err = env.store.InsertPosition(ctx, store.Position{NodeID: "!0000000b", Latitude: 52.1, Longitude: 4.3, Timestamp: time.Now().UTC()})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/telemetry?node_id=!0000000a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]store.Telemetry](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, uint32(77), *rows[0].BatteryLevel)

	rec = env.do(t, http.MethodGet, "/api/telemetry/positions?node_id=!0000000a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]store.Position](t, rec))

	rec = env.do(t, http.MethodGet, "/api/telemetry/positions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.Position](t, rec), 1)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/telemetry?node_id=bogus", nil).Code)
}

func TestSendTraceroute(t *testing.T) {
	env := newTestEnv(t, connectedLink(1))

	rec := env.do(t, http.MethodPost, "/api/traceroute", TracerouteRequest{Destination: "!abcd1234", HopLimit: 3})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, decode[mesh.TracerouteResult](t, rec).OK)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/traceroute", TracerouteRequest{Destination: "^all"}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/traceroute", TracerouteRequest{Destination: "!abcd1234", HopLimit: 8}).Code)
	assert.Len(t, env.link.traces, 1)
}

// ============================================================================
// Streams
// ============================================================================

func TestStreamEventsSendsStatusThenEvents(t *testing.T) {
	env := newTestEnv(t, connectedLink(1))
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rd := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var kind, data string
		for {
			line, err := rd.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				kind = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && kind != "":
				return kind, data
			}
		}
	}

	kind, data := readEvent()
	assert.Equal(t, "connection", kind)
	assert.Contains(t, data, `"connected":true`)

	env.events.ch <- mesh.NewEvent(time.Now(), mesh.MessagePayload{Text: "hi"})
	kind, data = readEvent()
	assert.Equal(t, "message", kind)
	assert.Contains(t, data, `"type":"message"`)
}

func TestWebSocketPingAndSend(t *testing.T) {
	env := newTestEnv(t, connectedLink(1))
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close(websocket.StatusNormalClosure, "")

	type frame struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	read := func() frame {
		var f frame
		require.NoError(t, wsjson.Read(ctx, ws, &f))
		return f
	}

	first := read()
	assert.Equal(t, "connection", first.Type)
	assert.Contains(t, string(first.Data), `"connected":true`)

	require.NoError(t, wsjson.Write(ctx, ws, map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", read().Type)

	require.NoError(t, wsjson.Write(ctx, ws, map[string]interface{}{"type": "send_message", "text": "from ws", "destination": "!abcd1234"}))
	sent := read()
	require.Equal(t, "message_sent", sent.Type)
	var ms wsMessageSent
	require.NoError(t, json.Unmarshal(sent.Data, &ms))
	assert.True(t, ms.Success)
	assert.Equal(t, "from ws", ms.Text)

	require.NoError(t, wsjson.Write(ctx, ws, map[string]interface{}{"type": "traceroute", "destination": "!abcd1234"}))
	tr := read()
	require.Equal(t, "traceroute_sent", tr.Type)
	var ts wsTracerouteSent
	require.NoError(t, json.Unmarshal(tr.Data, &ts))
	assert.True(t, ts.Success)
	assert.Equal(t, "!abcd1234", ts.Destination)

	env.events.ch <- mesh.NewEvent(time.Now(), mesh.AckPayload{})
	assert.Equal(t, "ack", read().Type)

	msgs, err := env.store.ListMessages(context.Background(), store.MessageQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "from ws", msgs[0].Text)
}

func TestAcceptOptionsFromOrigins(t *testing.T) {
	h := NewBridgeHandler(&fakeLink{}, nil, newFakeEvents(), Options{CORSOrigins: []string{"http://dash.local:5173", "https://mesh.example.org/"}})
	opts := h.acceptOptions()
	assert.False(t, opts.InsecureSkipVerify)
	assert.Equal(t, []string{"dash.local:5173", "mesh.example.org"}, opts.OriginPatterns)

	h = NewBridgeHandler(&fakeLink{}, nil, newFakeEvents(), Options{CORSOrigins: []string{"*"}})
	assert.True(t, h.acceptOptions().InsecureSkipVerify)
}
