package mesh

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anthonybo/meshtastic-dashboard/internal/radio"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ============================================================================
// Event recorder
// ============================================================================

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) ofKind(k Kind) []Event {
	var out []Event
	for _, ev := range r.all() {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) connections() []ConnectionPayload {
	var out []ConnectionPayload
	for _, ev := range r.ofKind(KindConnection) {
		out = append(out, ev.Data.(ConnectionPayload))
	}
	return out
}

func (r *recorder) acks() []AckPayload {
	var out []AckPayload
	for _, ev := range r.ofKind(KindAck) {
		out = append(out, ev.Data.(AckPayload))
	}
	return out
}

// flush publishes a marker and waits until the recorder has seen it, so
// that every event published before the call has been dispatched.
func (r *recorder) flush(t *testing.T, bus *Bus) {
	t.Helper()
	marker := BroadcastProgressPayload{Status: "flush-" + time.Now().Format(time.RFC3339Nano)}
	bus.PublishPayload(marker)
	require.Eventually(t, func() bool {
		for _, ev := range r.ofKind(KindBroadcast) {
			if ev.Data.(BroadcastProgressPayload).Status == marker.Status {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

// startBus runs a bus with a recorder subscribed until the test ends.
func startBus(t *testing.T) (*Bus, *recorder) {
	t.Helper()
	bus := NewBus(0, discardLogger(), nil)
	rec := &recorder{}
	bus.Subscribe("recorder", rec.handle)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = bus.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return bus, rec
}

// ============================================================================
// Fake radio, dialer, scanner
// ============================================================================

type fakeRadio struct {
	mu           sync.Mutex
	info         radio.DeviceInfo
	nodeCount    int
	nodes        map[string]radio.Node
	nextID       uint32
	byID         map[uint32]radio.SendOptions
	sends        []radio.SendOptions
	payloads     [][]byte
	factors      []int
	sendErr      error
	onWait       func(opts radio.SendOptions) error
	closeBlock   chan struct{}
	closed       int
	dropped      []uint32
	unsubscribed bool
	handlers     radio.Handlers
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{
		info: radio.DeviceInfo{
			MyNodeNum:       0xabcd0001,
			FirmwareVersion: "2.5.6.abc",
			HWModel:         "HELTEC_V3",
		},
		nodeCount: 4,
		nodes:     map[string]radio.Node{"!abcd0001": {Num: 0xabcd0001, ID: "!abcd0001"}},
		byID:      make(map[uint32]radio.SendOptions),
	}
}

func (r *fakeRadio) Info() radio.DeviceInfo { return r.info }
func (r *fakeRadio) Address() string        { return "AA:BB:CC:DD:EE:FF" }

func (r *fakeRadio) NodeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nodeCount
}

func (r *fakeRadio) Nodes() map[string]radio.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]radio.Node, len(r.nodes))
	for k, v := range r.nodes {
		out[k] = v
	}
	return out
}

func (r *fakeRadio) SendData(_ context.Context, payload []byte, opts radio.SendOptions) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return 0, r.sendErr
	}
	r.nextID++
	r.byID[r.nextID] = opts
	r.sends = append(r.sends, opts)
	r.payloads = append(r.payloads, payload)
	return r.nextID, nil
}

func (r *fakeRadio) WaitForResponse(_ context.Context, id uint32, factor int) error {
	r.mu.Lock()
	r.factors = append(r.factors, factor)
	opts := r.byID[id]
	onWait := r.onWait
	r.mu.Unlock()
	if onWait != nil {
		return onWait(opts)
	}
	return nil
}

func (r *fakeRadio) DropResponse(id uint32) {
	r.mu.Lock()
	r.dropped = append(r.dropped, id)
	r.mu.Unlock()
}

func (r *fakeRadio) droppedIDs() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint32(nil), r.dropped...)
}

func (r *fakeRadio) Unsubscribe() {
	r.mu.Lock()
	r.unsubscribed = true
	r.mu.Unlock()
}

func (r *fakeRadio) Close() error {
	if r.closeBlock != nil {
		<-r.closeBlock
	}
	r.mu.Lock()
	r.closed++
	r.mu.Unlock()
	return nil
}

func (r *fakeRadio) lastSend() radio.SendOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sends[len(r.sends)-1]
}

func (r *fakeRadio) closeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	fail     func(n int) error
	block    chan struct{}
	radios   []*fakeRadio
	handlers []radio.Handlers
	prepare  func(r *fakeRadio)
}

func (d *fakeDialer) Dial(ctx context.Context, _ string, h radio.Handlers) (Radio, error) {
	d.mu.Lock()
	n := d.dials
	d.dials++
	d.handlers = append(d.handlers, h)
	fail, block, prepare := d.fail, d.block, d.prepare
	d.mu.Unlock()

	if block != nil {
		<-block
	}
	if fail != nil {
		if err := fail(n); err != nil {
			return nil, err
		}
	}

	r := newFakeRadio()
	r.handlers = h
	if prepare != nil {
		prepare(r)
	}
	d.mu.Lock()
	d.radios = append(d.radios, r)
	d.mu.Unlock()
	return r, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) radioAt(i int) *fakeRadio {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.radios[i]
}

func (d *fakeDialer) handlerAt(i int) radio.Handlers {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers[i]
}

type fakeScanner struct {
	mu        sync.Mutex
	result    radio.ScanResult
	scans     int
	cleanups  []string
	cleanupOK bool
	// cleanupBlock, when set, holds ForceCleanup until closed regardless of
	// ctx, like a BlueZ connect that never answers.
	cleanupBlock chan struct{}
}

func (s *fakeScanner) Scan(context.Context, time.Duration) radio.ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans++
	return s.result
}

func (s *fakeScanner) ForceCleanup(_ context.Context, address string) bool {
	s.mu.Lock()
	s.cleanups = append(s.cleanups, address)
	ok, block := s.cleanupOK, s.cleanupBlock
	s.mu.Unlock()
	if block != nil {
		<-block
	}
	return ok
}

func (s *fakeScanner) scanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans
}

func (s *fakeScanner) cleanupCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cleanups...)
}
