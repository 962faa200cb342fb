package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anthonybo/meshtastic-dashboard/internal/radio"
)

// ============================================================================
// Collaborators
// ============================================================================

// Radio is an open link to the local Meshtastic device.
type Radio interface {
	Info() radio.DeviceInfo
	Address() string
	NodeCount() int
	Nodes() map[string]radio.Node
	SendData(ctx context.Context, payload []byte, opts radio.SendOptions) (uint32, error)
	WaitForResponse(ctx context.Context, id uint32, factor int) error
	DropResponse(id uint32)
	// Unsubscribe detaches the handlers passed to Dial.
	Unsubscribe()
	Close() error
}

// Dialer opens a Radio. It blocks until the device configuration has been
// received or ctx is done.
type Dialer interface {
	Dial(ctx context.Context, address string, h radio.Handlers) (Radio, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, address string, h radio.Handlers) (Radio, error)

func (f DialerFunc) Dial(ctx context.Context, address string, h radio.Handlers) (Radio, error) {
	return f(ctx, address, h)
}

// Scanner finds BLE devices and releases stuck links.
type Scanner interface {
	Scan(ctx context.Context, timeout time.Duration) radio.ScanResult
	ForceCleanup(ctx context.Context, address string) bool
}

// ============================================================================
// State & results
// ============================================================================

// State is the link state owned by the Supervisor.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// maxTextBytes is the firmware's Data payload limit.
const maxTextBytes = 233

// Status is a snapshot of the link. Device fields are null while
// disconnected.
// @Description Meshtastic connection status
type Status struct {
	Connected            bool              `json:"connected"`
	State                State             `json:"state" example:"connected"`
	DeviceName           *string           `json:"device_name"`
	MyNodeNum            *uint32           `json:"my_node_num"`
	FirmwareVersion      *string           `json:"firmware_version"`
	HWModel              *string           `json:"hw_model"`
	DeviceAddress        string            `json:"device_address,omitempty"`
	LastError            string            `json:"last_error,omitempty"`
	ReconnectAttempt     int               `json:"reconnect_attempt,omitempty"`
	MaxReconnectAttempts int               `json:"max_reconnect_attempts"`
	CloseFailed          bool              `json:"close_failed,omitempty"`
	NodeCount            int               `json:"node_count"`
	PendingAcks          int               `json:"pending_acks"`
	LastScan             *radio.ScanResult `json:"last_scan,omitempty"`
}

// ConnectResult is returned by Connect.
type ConnectResult struct {
	OK         bool              `json:"success"`
	Detail     string            `json:"detail,omitempty"`
	ScanResult *radio.ScanResult `json:"scan_result,omitempty"`
}

// DisconnectResult is returned by Disconnect.
type DisconnectResult struct {
	OK          bool   `json:"success"`
	Detail      string `json:"detail,omitempty"`
	CloseFailed bool   `json:"close_failed,omitempty"`
	CleanupOK   bool   `json:"cleanup_success,omitempty"`
}

// ResetResult is returned by ResetLink. OK reports whether the device is
// visible after the reset.
type ResetResult struct {
	OK            bool              `json:"success"`
	Detail        string            `json:"detail,omitempty"`
	CleanupOK     bool              `json:"cleanup_success"`
	DeviceVisible bool              `json:"device_visible"`
	ScanResult    *radio.ScanResult `json:"scan_result,omitempty"`
}

// SendResult is returned by SendMessage.
type SendResult struct {
	OK          bool   `json:"success"`
	Detail      string `json:"detail,omitempty"`
	PacketID    uint32 `json:"packet_id,omitempty"`
	SendID      string `json:"send_id,omitempty"`
	Destination string `json:"destination"`
	Broadcast   bool   `json:"is_broadcast"`
}

// TracerouteResult is returned by SendTraceroute. It only confirms dispatch.
type TracerouteResult struct {
	OK      bool               `json:"success"`
	Detail  string             `json:"detail,omitempty"`
	Request *TracerouteRequest `json:"request,omitempty"`
}

// ============================================================================
// Supervisor
// ============================================================================

// Options configures a Supervisor. Zero values take the defaults below.
type Options struct {
	// Device is the configured BLE name or MAC address.
	Device             string
	ConnectTimeout     time.Duration
	CloseTimeout       time.Duration
	SendTimeout        time.Duration
	ScanTimeout        time.Duration
	SettleDelay        time.Duration
	ReconnectAttempts  int
	ReconnectBaseDelay time.Duration
	AckTimeout         time.Duration

	Logger  *slog.Logger
	Metrics *Metrics
}

const (
	defaultConnectTimeout     = 60 * time.Second
	defaultCloseTimeout       = 5 * time.Second
	defaultSendTimeout        = 15 * time.Second
	defaultScanTimeout        = 10 * time.Second
	defaultSettleDelay        = 2 * time.Second
	defaultReconnectAttempts  = 5
	defaultReconnectBaseDelay = 2 * time.Second
)

func (o *Options) setDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = defaultCloseTimeout
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = defaultSendTimeout
	}
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = defaultScanTimeout
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	} else if o.SettleDelay == 0 {
		o.SettleDelay = defaultSettleDelay
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = defaultReconnectAttempts
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = defaultReconnectBaseDelay
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Supervisor owns the device handle and drives the link lifecycle. All
// public methods are safe for concurrent use and report failures as result
// values.
type Supervisor struct {
	opts    Options
	dialer  Dialer
	scanner Scanner
	bus     *Bus
	acks    *Correlator
	tracer  *Tracer
	logger  *slog.Logger
	metrics *Metrics

	// opMu serializes Connect, Disconnect, ResetLink and reconnect attempts.
	opMu sync.Mutex

	mu          sync.RWMutex
	radio       Radio
	gen         uint64 // bumped whenever the handle changes; stale callbacks compare it
	state       State
	info        radio.DeviceInfo
	address     string
	lastError   string
	lastScan    *radio.ScanResult
	intentional bool
	closeFailed bool
	attempt     int

	reconnecting   atomic.Bool
	reconnectAgain atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewSupervisor creates a disconnected Supervisor publishing to bus.
func NewSupervisor(dialer Dialer, scanner Scanner, bus *Bus, opts Options) *Supervisor {
	opts.setDefaults()
	logger := opts.Logger.With("component", "supervisor")
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		opts:    opts,
		dialer:  dialer,
		scanner: scanner,
		bus:     bus,
		logger:  logger,
		metrics: opts.Metrics,
		state:   StateDisconnected,
		address: opts.Device,
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
		after:   time.After,
	}
	s.acks = NewCorrelator(opts.AckTimeout, bus.PublishPayload, opts.Logger, opts.Metrics)
	s.tracer = NewTracer(bus.PublishPayload, opts.Logger, opts.Metrics)
	return s
}

// Connect opens the link to the configured device. It is a no-op when
// already connected.
func (s *Supervisor) Connect(ctx context.Context) ConnectResult {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.connectLocked(ctx, false)
}

// connectLocked dials the device. Callers hold opMu. Reconnect attempts keep
// the Reconnecting state on failure and skip the not-found scan.
func (s *Supervisor) connectLocked(ctx context.Context, reconnect bool) ConnectResult {
	s.mu.Lock()
	if s.radio != nil {
		s.mu.Unlock()
		return ConnectResult{OK: true, Detail: "already connected"}
	}
	closeFailed := s.closeFailed
	address := s.address
	if !reconnect {
		s.state = StateConnecting
	}
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	if closeFailed {
		s.recoverStaleLink(ctx, address)
	}

	s.logger.Info("connecting", "device", address, "reconnect", reconnect)
	r, err := s.dial(ctx, address, gen)
	if err != nil {
		detail := err.Error()
		var scan *radio.ScanResult
		if !reconnect && looksNotFound(err) {
			res := s.scanner.Scan(ctx, s.opts.ScanTimeout)
			scan = &res
			detail = notFoundDetail(address, res)
		}

		s.mu.Lock()
		s.lastError = detail
		if scan != nil {
			s.lastScan = scan
		}
		if !reconnect {
			s.state = StateDisconnected
		}
		s.mu.Unlock()

		s.logger.Warn("connect failed", "device", address, "error", err)
		return ConnectResult{OK: false, Detail: detail, ScanResult: scan}
	}

	info := r.Info()
	s.mu.Lock()
	s.radio = r
	s.state = StateConnected
	s.info = info
	if a := r.Address(); a != "" {
		s.address = a
	}
	s.intentional = false
	s.closeFailed = false
	s.attempt = 0
	s.lastError = ""
	s.mu.Unlock()

	s.metrics.setConnected(true)
	s.logger.Info("connected", "device", address, "my_node_num", radio.NodeID(info.MyNodeNum),
		"firmware", info.FirmwareVersion, "hw_model", info.HWModel, "nodes", r.NodeCount())

	s.bus.PublishPayload(ConnectionPayload{
		Connected:       true,
		DeviceName:      s.opts.Device,
		MyNodeNum:       info.MyNodeNum,
		FirmwareVersion: info.FirmwareVersion,
		HWModel:         info.HWModel,
		Timestamp:       timestamp(s.now()),
	})
	return ConnectResult{OK: true}
}

// dial runs the blocking dial in its own goroutine bounded by
// ConnectTimeout. A radio that opens after the deadline is closed.
func (s *Supervisor) dial(ctx context.Context, address string, gen uint64) (Radio, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	type result struct {
		r   Radio
		err error
	}
	ch := make(chan result, 1)
	go func() {
		r, err := s.dialer.Dial(ctx, address, s.handlers(gen))
		ch <- result{r, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.r == nil {
			return nil, fmt.Errorf("dial %q returned no radio", address)
		}
		return res.r, nil
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.r != nil {
				res.r.Unsubscribe()
				_ = res.r.Close()
			}
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %v", ErrConnectTimeout, s.opts.ConnectTimeout)
		}
		return nil, ctx.Err()
	}
}

func (s *Supervisor) handlers(gen uint64) radio.Handlers {
	return radio.Handlers{
		OnReceive:        s.handlePacket,
		OnConnectionLost: func(err error) { s.handleLinkLost(gen, err) },
	}
}

func (s *Supervisor) handlePacket(pkt radio.Packet) {
	port := "ENCRYPTED"
	if pkt.Decoded != nil {
		port = pkt.Decoded.PortNum.String()
	}
	s.metrics.packet(port)

	for _, ev := range Classify(pkt, s.now()) {
		s.bus.Publish(ev)
	}
}

// recoverStaleLink releases a link the previous close failed to tear down.
func (s *Supervisor) recoverStaleLink(ctx context.Context, address string) {
	s.logger.Info("previous close failed, running cleanup before connect", "device", address)
	res := s.scanner.Scan(ctx, s.opts.ScanTimeout)
	target := address
	if !radio.IsMACAddress(target) {
		for _, d := range res.MeshtasticDevices {
			if d.Name == address {
				target = d.Address
				break
			}
		}
	}
	if s.forceCleanup(ctx, target) {
		s.mu.Lock()
		s.closeFailed = false
		s.mu.Unlock()
	}
}

// Disconnect closes the link. The intentional flag it sets suppresses
// auto-reconnect until the next Connect. Disconnecting while disconnected
// succeeds without side effects.
func (s *Supervisor) Disconnect(ctx context.Context) DisconnectResult {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.disconnectLocked(ctx)
}

func (s *Supervisor) disconnectLocked(ctx context.Context) (res DisconnectResult) {
	s.mu.Lock()
	s.intentional = true
	r := s.radio
	if r == nil {
		s.state = StateDisconnected
		s.mu.Unlock()
		return DisconnectResult{OK: true, Detail: "not connected"}
	}
	s.mu.Unlock()

	defer func() {
		s.metrics.setConnected(false)
		s.bus.PublishPayload(ConnectionPayload{Connected: false, Timestamp: timestamp(s.now())})
	}()

	r.Unsubscribe()

	s.mu.Lock()
	s.radio = nil
	s.gen++
	s.state = StateDisconnected
	s.info = radio.DeviceInfo{}
	address := s.address
	s.mu.Unlock()

	s.logger.Info("disconnecting", "device", address)
	if err := s.closeRadio(ctx, r); err != nil {
		res = DisconnectResult{OK: true, Detail: err.Error()}
		if errors.Is(err, ErrCloseTimeout) {
			s.mu.Lock()
			s.closeFailed = true
			s.mu.Unlock()
			res.CloseFailed = true
			res.CleanupOK = s.forceCleanup(ctx, address)
			if res.CleanupOK {
				s.mu.Lock()
				s.closeFailed = false
				s.mu.Unlock()
			}
			s.logger.Warn("close timed out", "device", address, "cleanup", res.CleanupOK)
		} else {
			s.logger.Warn("close failed", "device", address, "error", err)
		}
		return res
	}

	s.logger.Info("disconnected", "device", address)
	return DisconnectResult{OK: true}
}

// closeRadio runs Close in its own goroutine bounded by CloseTimeout.
func (s *Supervisor) closeRadio(ctx context.Context, r Radio) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.CloseTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- r.Close() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w after %v", ErrCloseTimeout, s.opts.CloseTimeout)
	}
}

// forceCleanup runs the scanner's cleanup in its own goroutine bounded by
// CloseTimeout. A cleanup that overruns counts as failed.
func (s *Supervisor) forceCleanup(ctx context.Context, address string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.opts.CloseTimeout)
	defer cancel()

	done := make(chan bool, 1)
	go func() { done <- s.scanner.ForceCleanup(ctx, address) }()

	select {
	case ok := <-done:
		return ok
	case <-ctx.Done():
		s.logger.Warn("forced cleanup timed out", "device", address, "timeout", s.opts.CloseTimeout)
		return false
	}
}

// ResetLink forces the link down, releases it at the BLE level, waits for
// the stack to settle and scans again.
func (s *Supervisor) ResetLink(ctx context.Context) ResetResult {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	r := s.radio
	s.radio = nil
	s.gen++
	s.state = StateDisconnected
	s.info = radio.DeviceInfo{}
	s.intentional = true
	address := s.address
	s.mu.Unlock()

	s.metrics.setConnected(false)
	defer s.bus.PublishPayload(ConnectionPayload{Connected: false, Reset: true, Timestamp: timestamp(s.now())})

	s.logger.Info("resetting link", "device", address)
	if r != nil {
		r.Unsubscribe()
		if err := s.closeRadio(ctx, r); err != nil {
			s.logger.Warn("close during reset failed", "error", err)
		}
	}

	var res ResetResult
	if address != "" {
		res.CleanupOK = s.forceCleanup(ctx, address)
	}

	select {
	case <-s.after(s.opts.SettleDelay):
	case <-ctx.Done():
		res.Detail = ctx.Err().Error()
		return res
	}

	scan := s.scanner.Scan(ctx, s.opts.ScanTimeout)
	res.ScanResult = &scan
	res.DeviceVisible = scan.ConfiguredFound
	res.OK = res.DeviceVisible

	s.mu.Lock()
	s.lastScan = &scan
	if res.CleanupOK {
		s.closeFailed = false
	}
	s.mu.Unlock()

	switch {
	case scan.Error != "":
		res.Detail = "scan failed: " + scan.Error
	case res.DeviceVisible:
		res.Detail = "device is visible, ready to connect"
	default:
		res.Detail = fmt.Sprintf("device %q not visible after reset (%d devices found)", s.opts.Device, scan.TotalDevices)
	}
	return res
}

// ============================================================================
// Unexpected disconnect & auto-reconnect
// ============================================================================

func (s *Supervisor) handleLinkLost(gen uint64, cause error) {
	s.mu.Lock()
	if gen != s.gen || s.radio == nil || s.intentional {
		s.mu.Unlock()
		return
	}
	r := s.radio
	s.radio = nil
	s.gen++
	s.state = StateDisconnected
	s.info = radio.DeviceInfo{}
	if cause != nil {
		s.lastError = cause.Error()
	}
	s.mu.Unlock()

	s.metrics.setConnected(false)
	s.logger.Warn("connection lost", "error", cause)

	p := ConnectionPayload{Connected: false, Unexpected: true, Timestamp: timestamp(s.now())}
	if cause != nil {
		p.Error = cause.Error()
	}
	s.bus.PublishPayload(p)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		r.Unsubscribe()
		if err := s.closeRadio(context.Background(), r); err != nil {
			s.logger.Debug("close after link loss failed", "error", err)
		}
	}()

	s.startReconnect()
}

// startReconnect launches the reconnect loop unless one is running.
func (s *Supervisor) startReconnect() {
	if !s.reconnecting.CompareAndSwap(false, true) {
		s.reconnectAgain.Store(true)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			s.reconnectLoop()
			s.reconnecting.Store(false)
			if !s.reconnectAgain.Swap(false) || !s.canReconnect() {
				return
			}
			if !s.reconnecting.CompareAndSwap(false, true) {
				return
			}
		}
	}()
}

func (s *Supervisor) canReconnect() bool {
	if s.ctx.Err() != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.radio == nil && !s.intentional
}

// abortReconnect reports whether the loop must stop because the user
// disconnected, the link is back, or the supervisor is closing.
func (s *Supervisor) abortReconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.intentional || s.ctx.Err() != nil {
		if s.radio == nil {
			s.state = StateDisconnected
		}
		s.attempt = 0
		return true
	}
	return s.radio != nil
}

func (s *Supervisor) reconnectLoop() {
	maxAttempts := s.opts.ReconnectAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if s.abortReconnect() {
			return
		}

		s.mu.Lock()
		s.state = StateReconnecting
		s.attempt = attempt
		s.mu.Unlock()

		delay := s.opts.ReconnectBaseDelay * time.Duration(attempt)
		s.metrics.reconnectAttempt()
		s.logger.Info("reconnecting", "attempt", attempt, "max_attempts", maxAttempts, "delay", delay)
		s.bus.PublishPayload(ConnectionPayload{
			Connected:    false,
			Reconnecting: true,
			Attempt:      attempt,
			MaxAttempts:  maxAttempts,
			Timestamp:    timestamp(s.now()),
		})

		select {
		case <-s.after(delay):
		case <-s.ctx.Done():
			s.abortReconnect()
			return
		}

		if s.reconnectOnce() {
			return
		}
	}

	s.mu.Lock()
	if s.radio == nil {
		s.state = StateDisconnected
	}
	lastErr := s.lastError
	s.mu.Unlock()

	s.logger.Error("reconnect gave up", "attempts", maxAttempts, "error", lastErr)
	s.bus.PublishPayload(ConnectionPayload{
		Connected:       false,
		ReconnectFailed: true,
		Attempt:         maxAttempts,
		MaxAttempts:     maxAttempts,
		Error:           lastErr,
		Timestamp:       timestamp(s.now()),
	})
}

// reconnectOnce makes one attempt under the operation lock and reports
// whether the loop is finished.
func (s *Supervisor) reconnectOnce() bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.abortReconnect() {
		return true
	}
	return s.connectLocked(s.ctx, true).OK
}

// ============================================================================
// Operations
// ============================================================================

func (s *Supervisor) current() Radio {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.radio
}

// SendMessage sends text to destination, or to the channel when destination
// is empty or a broadcast id. Direct messages request an ACK and produce an
// ack event when the mesh answers.
func (s *Supervisor) SendMessage(ctx context.Context, text, destination string, channel uint32) SendResult {
	res := SendResult{Destination: radio.BroadcastID, Broadcast: true}
	if text == "" {
		res.Detail = "message text is empty"
		return res
	}
	if len(text) > maxTextBytes {
		res.Detail = fmt.Sprintf("message is %d bytes, limit is %d", len(text), maxTextBytes)
		return res
	}

	to := radio.BroadcastNum
	if !IsBroadcast(destination, 0) {
		num, err := radio.ParseNodeID(destination)
		if err != nil {
			res.Detail = err.Error()
			return res
		}
		if num != radio.BroadcastNum {
			to = num
			res.Destination = radio.NodeID(num)
			res.Broadcast = false
		}
	}

	r := s.current()
	if r == nil {
		res.Detail = ErrLinkUnavailable.Error()
		return res
	}

	opts := radio.SendOptions{
		Destination: to,
		PortNum:     radio.PortTextMessage,
		Channel:     channel,
	}
	var send *OutstandingSend
	if !res.Broadcast {
		var onResponse radio.ResponseHandler
		send, onResponse = s.acks.Track(res.Destination, text)
		opts.WantAck = true
		opts.OnResponse = onResponse
		opts.AckPermitted = true
		res.SendID = send.ID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()
	id, err := r.SendData(ctx, []byte(text), opts)
	if err != nil {
		if send != nil {
			s.acks.Forget(send)
		}
		s.logger.Warn("send failed", "to", res.Destination, "error", err)
		res.Detail = err.Error()
		res.SendID = ""
		return res
	}

	if send != nil {
		s.acks.Attach(send, func() { r.DropResponse(id) })
	}
	res.OK = true
	res.PacketID = id
	s.logger.Info("message sent", "to", res.Destination, "channel", channel, "packet_id", id, "want_ack", opts.WantAck)
	return res
}

// SendTraceroute dispatches a traceroute. The result only confirms dispatch;
// the outcome arrives as a traceroute or traceroute_error event.
func (s *Supervisor) SendTraceroute(ctx context.Context, destination string, hopLimit, channel uint32) TracerouteResult {
	if err := ctx.Err(); err != nil {
		return TracerouteResult{Detail: err.Error()}
	}
	r := s.current()
	if r == nil {
		return TracerouteResult{Detail: ErrLinkUnavailable.Error()}
	}
	req, err := s.tracer.Start(r, destination, hopLimit, channel)
	if err != nil {
		return TracerouteResult{Detail: err.Error()}
	}
	return TracerouteResult{OK: true, Detail: "traceroute sent to " + destination, Request: req}
}

// ScanDevices runs a BLE sweep. timeout <= 0 uses the configured scan
// timeout.
func (s *Supervisor) ScanDevices(ctx context.Context, timeout time.Duration) radio.ScanResult {
	if timeout <= 0 {
		timeout = s.opts.ScanTimeout
	}
	res := s.scanner.Scan(ctx, timeout)
	s.mu.Lock()
	s.lastScan = &res
	s.mu.Unlock()
	return res
}

// Status returns a snapshot of the link.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	st := Status{
		Connected:            s.radio != nil && s.state == StateConnected,
		State:                s.state,
		DeviceAddress:        s.address,
		LastError:            s.lastError,
		ReconnectAttempt:     s.attempt,
		MaxReconnectAttempts: s.opts.ReconnectAttempts,
		CloseFailed:          s.closeFailed,
		LastScan:             s.lastScan,
	}
	r := s.radio
	info := s.info
	s.mu.RUnlock()

	if st.Connected {
		name := s.opts.Device
		st.DeviceName = &name
		st.MyNodeNum = &info.MyNodeNum
		if info.FirmwareVersion != "" {
			st.FirmwareVersion = &info.FirmwareVersion
		}
		if info.HWModel != "" {
			st.HWModel = &info.HWModel
		}
		st.NodeCount = r.NodeCount()
	}
	st.PendingAcks = s.acks.Pending()
	return st
}

// Nodes returns the live NodeDB, empty while disconnected.
func (s *Supervisor) Nodes() map[string]radio.Node {
	r := s.current()
	if r == nil {
		return map[string]radio.Node{}
	}
	return r.Nodes()
}

// SweepAcks abandons direct messages that never got a response.
func (s *Supervisor) SweepAcks() int {
	return s.acks.Sweep(s.now())
}

// Close stops the reconnect loop and traceroute probes and disconnects.
func (s *Supervisor) Close(ctx context.Context) DisconnectResult {
	var res DisconnectResult
	s.closeOnce.Do(func() {
		s.cancel()
		s.tracer.Stop()
		res = s.Disconnect(ctx)
		s.wg.Wait()
	})
	return res
}

func looksNotFound(err error) bool {
	if errors.Is(err, ErrDeviceNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "no peripheral") || strings.Contains(msg, "no device")
}

func notFoundDetail(device string, res radio.ScanResult) string {
	if res.Error != "" {
		return fmt.Sprintf("device %q not found and the scan failed: %s", device, res.Error)
	}
	alternatives := len(res.MeshtasticDevices) + len(res.OtherDevices)
	var b strings.Builder
	fmt.Fprintf(&b, "device %q not found; scan saw %d other device(s)", device, alternatives)
	if len(res.MeshtasticDevices) > 0 {
		names := make([]string, 0, len(res.MeshtasticDevices))
		for _, d := range res.MeshtasticDevices {
			names = append(names, fmt.Sprintf("%s (%s)", d.Name, d.Address))
		}
		fmt.Fprintf(&b, ", Meshtastic devices: %s", strings.Join(names, ", "))
	}
	return b.String()
}
