package radio

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// ============================================================================
// Interface: FromRadio/ToRadio protocol engine
// ============================================================================

// Handlers are the callbacks an Interface invokes. They run on the reader
// goroutine and must not block. Panics are recovered.
type Handlers struct {
	// OnReceive is called for every MeshPacket received from the mesh.
	OnReceive func(Packet)
	// OnConnectionLost is called once if the link drops while open.
	OnConnectionLost func(err error)
}

// ResponseHandler receives the packet answering a request sent with SendData.
type ResponseHandler func(Packet)

// SendOptions controls a single SendData call.
type SendOptions struct {
	Destination  uint32
	PortNum      PortNum
	Channel      uint32
	HopLimit     uint32 // 0 uses DefaultHopLimit
	WantAck      bool
	WantResponse bool
	// OnResponse is called with the first packet whose request_id matches.
	OnResponse ResponseHandler
	// AckPermitted lets a bare routing ACK (error NONE) resolve OnResponse.
	// Requests that expect an application-level reply leave it false.
	AckPermitted bool
}

// Options configures an Interface.
type Options struct {
	// ConfigTimeout bounds the want_config handshake. On timeout the
	// interface stays open with a partial NodeDB.
	ConfigTimeout time.Duration
	// ResponseTimeout is the per-hop wait used by WaitForResponse.
	ResponseTimeout time.Duration
	Logger          *slog.Logger
}

// DefaultHopLimit matches the firmware default.
const DefaultHopLimit = 3

const (
	defaultConfigTimeout   = 15 * time.Second
	defaultResponseTimeout = 20 * time.Second

	// maxAnswered bounds the set of request ids answered before anyone
	// waited on them.
	maxAnswered = 256
)

type pendingResponse struct {
	handler      ResponseHandler
	ackPermitted bool
	done         chan struct{}
}

// Interface manages one open link to a Meshtastic device. It keeps an
// in-memory NodeDB rebuilt on every open via the want_config_id handshake.
type Interface struct {
	transport Transport
	opts      Options
	logger    *slog.Logger

	hmu      sync.RWMutex
	handlers Handlers

	mu             sync.RWMutex
	myNodeNum      uint32
	metadata       DeviceMetadata
	nodes          map[uint32]*Node
	configID       uint32
	configComplete bool
	responses      map[uint32]*pendingResponse
	answered       map[uint32]struct{}

	configDone chan struct{}
	configOnce sync.Once

	nextID     atomic.Uint32
	stop       chan struct{}
	readerDone chan struct{}
	closed     atomic.Bool
	closeOnce  sync.Once
	lostOnce   sync.Once
}

// Open connects transport, performs the config handshake and starts the
// background reader. On any error the transport is disconnected.
func Open(ctx context.Context, transport Transport, handlers Handlers, opts Options) (*Interface, error) {
	if opts.ConfigTimeout <= 0 {
		opts.ConfigTimeout = defaultConfigTimeout
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = defaultResponseTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ifc := &Interface{
		transport:  transport,
		opts:       opts,
		logger:     opts.Logger.With("component", "radio"),
		handlers:   handlers,
		nodes:      make(map[uint32]*Node),
		responses:  make(map[uint32]*pendingResponse),
		answered:   make(map[uint32]struct{}),
		configDone: make(chan struct{}),
		stop:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	ifc.nextID.Store(rand.Uint32())
	ifc.configID = rand.Uint32() | 1

	if err := transport.Connect(ctx); err != nil {
		return nil, fmt.Errorf("transport connect: %w", err)
	}

	go ifc.readerLoop()

	if err := transport.SendToRadio(EncodeWantConfig(ifc.configID)); err != nil {
		ifc.shutdown(false)
		return nil, fmt.Errorf("send want_config_id: %w", err)
	}

	select {
	case <-ifc.configDone:
		ifc.logger.Info("config complete", "nodes", ifc.NodeCount())
	case <-time.After(opts.ConfigTimeout):
		ifc.logger.Warn("config download timed out, continuing with partial NodeDB",
			"timeout", opts.ConfigTimeout, "nodes", ifc.NodeCount())
	case <-ctx.Done():
		ifc.shutdown(false)
		return nil, ctx.Err()
	}
	return ifc, nil
}

// Address returns the device address of the underlying transport.
func (i *Interface) Address() string {
	return i.transport.DeviceAddress()
}

// Info returns the identity of the local node.
func (i *Interface) Info() DeviceInfo {
	i.mu.RLock()
	defer i.mu.RUnlock()
	info := DeviceInfo{
		MyNodeNum:       i.myNodeNum,
		FirmwareVersion: i.metadata.FirmwareVersion,
	}
	if i.metadata.HWModel != 0 {
		info.HWModel = HWModelName(i.metadata.HWModel)
	} else if n, ok := i.nodes[i.myNodeNum]; ok && n.HWModel != "" {
		info.HWModel = n.HWModel
	}
	return info
}

// NodeCount returns the number of NodeDB entries.
func (i *Interface) NodeCount() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.nodes)
}

// Nodes returns a copy of the NodeDB keyed by node id.
func (i *Interface) Nodes() map[string]Node {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make(map[string]Node, len(i.nodes))
	for _, n := range i.nodes {
		out[n.ID] = *n
	}
	return out
}

// Unsubscribe detaches the handlers. Packets still arriving are processed
// for NodeDB and responses but no longer delivered.
func (i *Interface) Unsubscribe() {
	i.hmu.Lock()
	i.handlers = Handlers{}
	i.hmu.Unlock()
}

// SendData transmits payload and returns the assigned packet id. If
// OnResponse is set it is registered before the write.
func (i *Interface) SendData(ctx context.Context, payload []byte, opts SendOptions) (uint32, error) {
	if i.closed.Load() {
		return 0, ErrNotConnected
	}

	id := i.newPacketID()
	hopLimit := opts.HopLimit
	if hopLimit == 0 {
		hopLimit = DefaultHopLimit
	}

	if opts.OnResponse != nil {
		i.mu.Lock()
		i.responses[id] = &pendingResponse{
			handler:      opts.OnResponse,
			ackPermitted: opts.AckPermitted,
			done:         make(chan struct{}),
		}
		i.mu.Unlock()
	}

	data := EncodePacket(OutgoingPacket{
		To:           opts.Destination,
		Channel:      opts.Channel,
		ID:           id,
		HopLimit:     hopLimit,
		WantAck:      opts.WantAck,
		PortNum:      opts.PortNum,
		Payload:      payload,
		WantResponse: opts.WantResponse,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- i.transport.SendToRadio(data) }()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		i.DropResponse(id)
		return 0, fmt.Errorf("send packet %d: %w", id, err)
	}

	i.logger.Debug("packet sent", "id", id, "to", NodeID(opts.Destination), "port", opts.PortNum.String())
	return id, nil
}

// WaitForResponse blocks until the response handler registered for id has
// fired, or ResponseTimeout × factor elapses. The timeout error text
// contains "timed out".
func (i *Interface) WaitForResponse(ctx context.Context, id uint32, factor int) error {
	i.mu.Lock()
	pending, ok := i.responses[id]
	if !ok {
		_, answered := i.answered[id]
		delete(i.answered, id)
		i.mu.Unlock()
		if answered {
			return nil
		}
		return fmt.Errorf("no response handler registered for packet %d", id)
	}
	i.mu.Unlock()
	if factor < 1 {
		factor = 1
	}
	wait := i.opts.ResponseTimeout * time.Duration(factor)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-pending.done:
		i.mu.Lock()
		delete(i.answered, id)
		i.mu.Unlock()
		return nil
	case <-timer.C:
		i.DropResponse(id)
		return fmt.Errorf("timed out waiting for response to packet %d after %v", id, wait)
	case <-ctx.Done():
		i.DropResponse(id)
		return ctx.Err()
	case <-i.stop:
		return ErrNotConnected
	}
}

// Close sends ToRadio.disconnect, stops the reader and tears down the
// transport. It may block on the BLE stack; callers bound it.
func (i *Interface) Close() error {
	return i.shutdown(true)
}

func (i *Interface) shutdown(sayGoodbye bool) error {
	var err error
	i.closeOnce.Do(func() {
		i.closed.Store(true)
		if sayGoodbye && i.transport.IsConnected() {
			if sendErr := i.transport.SendToRadio(EncodeDisconnect()); sendErr != nil {
				i.logger.Debug("send disconnect failed", "error", sendErr)
			}
		}
		close(i.stop)
		err = i.transport.Disconnect()
		<-i.readerDone
	})
	return err
}

func (i *Interface) newPacketID() uint32 {
	for {
		if id := i.nextID.Add(1); id != 0 {
			return id
		}
	}
}

// DropResponse forgets the response handler registered for packet id. A
// response arriving later is ignored.
func (i *Interface) DropResponse(id uint32) {
	i.mu.Lock()
	delete(i.responses, id)
	i.mu.Unlock()
}

// ============================================================================
// Background Reader
// ============================================================================

func (i *Interface) readerLoop() {
	defer close(i.readerDone)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-i.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		data, err := i.transport.RecvFromRadio(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			i.logger.Warn("reader stopped", "error", err)
			i.connectionLost(err)
			return
		}
		if len(data) == 0 {
			continue
		}
		i.processFromRadio(data)
	}
}

func (i *Interface) connectionLost(err error) {
	if i.closed.Load() {
		return
	}
	i.lostOnce.Do(func() {
		i.hmu.RLock()
		cb := i.handlers.OnConnectionLost
		i.hmu.RUnlock()
		if cb == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				i.logger.Error("connection lost handler panicked", "panic", r)
			}
		}()
		cb(err)
	})
}

func (i *Interface) processFromRadio(data []byte) {
	fr, err := DecodeFromRadio(data)
	if err != nil {
		i.logger.Warn("failed to parse FromRadio", "error", err, "bytes", len(data))
		return
	}

	switch {
	case fr.MyInfo != nil:
		i.mu.Lock()
		i.myNodeNum = fr.MyInfo.MyNodeNum
		i.mu.Unlock()
		i.logger.Info("my node", "id", NodeID(fr.MyInfo.MyNodeNum))

	case fr.NodeInfo != nil:
		node := nodeFromInfo(fr.NodeInfo)
		i.mu.Lock()
		i.nodes[node.Num] = node
		i.mu.Unlock()

	case fr.Metadata != nil:
		i.mu.Lock()
		i.metadata = *fr.Metadata
		i.mu.Unlock()
		i.logger.Info("device metadata", "firmware", fr.Metadata.FirmwareVersion, "hw_model", HWModelName(fr.Metadata.HWModel))

	case fr.ConfigCompleteID != 0:
		i.mu.Lock()
		match := fr.ConfigCompleteID == i.configID
		if match {
			i.configComplete = true
		}
		i.mu.Unlock()
		if match {
			i.configOnce.Do(func() { close(i.configDone) })
		}

	case fr.Packet != nil:
		i.handlePacket(*fr.Packet)
	}
}

func (i *Interface) handlePacket(pkt Packet) {
	i.updateNodeFromPacket(pkt)

	if pkt.Decoded != nil && pkt.Decoded.RequestID != 0 {
		i.dispatchResponse(pkt)
	}

	i.hmu.RLock()
	onReceive := i.handlers.OnReceive
	i.hmu.RUnlock()
	if onReceive == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("receive handler panicked", "panic", r, "from", pkt.FromID)
		}
	}()
	onReceive(pkt)
}

// dispatchResponse fires the handler registered for the packet's request_id.
// A bare routing ACK only fires handlers registered with AckPermitted.
func (i *Interface) dispatchResponse(pkt Packet) {
	requestID := pkt.Decoded.RequestID

	i.mu.Lock()
	pending, ok := i.responses[requestID]
	if !ok {
		i.mu.Unlock()
		return
	}
	if isImplicitAck(pkt) && !pending.ackPermitted {
		i.mu.Unlock()
		return
	}
	delete(i.responses, requestID)
	if len(i.answered) >= maxAnswered {
		clear(i.answered)
	}
	i.answered[requestID] = struct{}{}
	i.mu.Unlock()

	func() {
		defer func() {
			if r := recover(); r != nil {
				i.logger.Error("response handler panicked", "panic", r, "request_id", requestID)
			}
		}()
		pending.handler(pkt)
	}()
	close(pending.done)
}

// isImplicitAck reports a routing packet carrying error NONE and no route.
func isImplicitAck(pkt Packet) bool {
	if pkt.Decoded == nil || pkt.Decoded.PortNum != PortRouting {
		return false
	}
	r, err := DecodeRouting(pkt.Decoded.Payload)
	if err != nil {
		return false
	}
	return r.ErrorReason == RoutingErrorNone && r.RouteReply == nil
}

// updateNodeFromPacket updates lastHeard/SNR and payload-derived fields.
func (i *Interface) updateNodeFromPacket(pkt Packet) {
	if pkt.From == 0 {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	node, exists := i.nodes[pkt.From]
	if !exists {
		node = &Node{Num: pkt.From, ID: NodeID(pkt.From)}
		i.nodes[pkt.From] = node
	}

	node.LastHeard = time.Now().Unix()
	if pkt.RxSNR != 0 {
		node.SNR = pkt.RxSNR
	}
	if pkt.HopStart != 0 && pkt.HopStart >= pkt.HopLimit {
		hops := pkt.HopStart - pkt.HopLimit
		node.HopsAway = &hops
	}

	if pkt.Decoded == nil {
		return
	}

	switch pkt.Decoded.PortNum {
	case PortPosition:
		if pos, err := DecodePosition(pkt.Decoded.Payload); err == nil {
			node.applyPosition(pos)
		}
	case PortNodeInfo:
		if user, err := DecodeUser(pkt.Decoded.Payload); err == nil {
			node.applyUser(user)
		}
	case PortTelemetry:
		if tel, err := DecodeTelemetry(pkt.Decoded.Payload); err == nil {
			node.applyDeviceMetrics(tel.Device)
		}
	}
}

// ============================================================================
// Dialer
// ============================================================================

// BLEDialer opens Interfaces over BLETransport.
type BLEDialer struct {
	Adapter string
	Options Options
}

// Dial resolves address (MAC or advertised name) and opens an Interface.
func (d BLEDialer) Dial(ctx context.Context, address string, handlers Handlers) (*Interface, error) {
	adapter, err := SelectAdapter(d.Adapter)
	if err != nil {
		return nil, err
	}
	transport := NewBLETransport(address, adapter, d.Options.Logger)
	ifc, err := Open(ctx, transport, handlers, d.Options)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", address, err)
	}
	return ifc, nil
}
