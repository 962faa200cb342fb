package radio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// ============================================================================
// BLE Transport: Meshtastic GATT service over BlueZ D-Bus
// ============================================================================

// ServiceUUID is the advertised Meshtastic GATT service.
const ServiceUUID = "6ba1b218-15a8-461f-9fa8-5dcae273eafd"

// Characteristics of the Meshtastic service. ToRadio is written, FromRadio
// is read until empty, FromNum notifies when FromRadio has data.
const (
	charToRadio   = "f75c76d2-129e-4dad-a1dd-7866124401e7"
	charFromRadio = "2c55e69e-4993-11ed-b878-0242ac120002"
	charFromNum   = "ed9da18c-a800-4f66-a670-aa7547e34453"
)

const (
	resolveWindow    = 10 * time.Second
	pairWindow       = 10 * time.Second
	gattWindow       = 15 * time.Second
	maxDrainPerWake  = 100
	lowMTUWarning    = 256
	packetQueueDepth = 64
)

// gattPaths are the object paths of the Meshtastic characteristics on one
// connected device.
type gattPaths struct {
	toRadio   dbus.ObjectPath
	fromRadio dbus.ObjectPath
	fromNum   dbus.ObjectPath
}

func (g gattPaths) missing() string {
	switch {
	case g.toRadio == "":
		return "toRadio"
	case g.fromRadio == "":
		return "fromRadio"
	case g.fromNum == "":
		return "fromNum"
	}
	return ""
}

// BLETransport implements Transport on the Meshtastic GATT service through
// BlueZ. Payloads are raw protobufs without the serial framing header.
type BLETransport struct {
	mu sync.Mutex

	target    string // configured name or MAC, empty for the first Meshtastic device
	address   string // resolved MAC
	adapter   string
	bz        *bluez
	connected bool
	logger    *slog.Logger

	device dbus.ObjectPath
	chars  gattPaths
	rules  []string

	inbox    chan []byte
	stop     chan struct{}
	lost     chan struct{}
	lostOnce sync.Once
}

// NewBLETransport creates a BLE transport. target may be a MAC address, an
// advertised device name, or empty to pick the first Meshtastic device seen.
func NewBLETransport(target, adapter string, logger *slog.Logger) *BLETransport {
	if adapter == "" {
		adapter = "hci0"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BLETransport{
		target:  target,
		adapter: adapter,
		logger:  logger.With("component", "ble"),
		inbox:   make(chan []byte, packetQueueDepth),
		lost:    make(chan struct{}),
	}
}

// Connect resolves the target, connects it, waits for GATT resolution and
// subscribes to FromNum. Any failure leaves the transport disconnected.
func (t *BLETransport) Connect(ctx context.Context) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("system bus: %w", err)
	}
	t.bz = &bluez{conn: conn}
	t.device, t.chars = "", gattPaths{}

	defer func() {
		if err == nil {
			return
		}
		if t.stop != nil {
			close(t.stop)
			t.stop = nil
		}
		if t.device != "" {
			t.bz.call(t.device, ifaceDevice+".Disconnect")
		}
		t.bz = nil
	}()

	address := t.target
	if !IsMACAddress(address) {
		if address, err = t.resolve(ctx, t.target); err != nil {
			return err
		}
	}
	t.address = strings.ToUpper(address)
	t.device = adapterDevicePath(t.adapter, t.address)

	if err = t.pair(ctx); err != nil {
		return fmt.Errorf("ble connect %s: %w", t.address, err)
	}
	if err = t.awaitServices(ctx); err != nil {
		return fmt.Errorf("ble services %s: %w", t.address, err)
	}
	if t.chars, err = t.findCharacteristics(); err != nil {
		return fmt.Errorf("ble gatt %s: %w", t.address, err)
	}
	t.checkMTU()

	t.stop = make(chan struct{})
	if err = t.watch(); err != nil {
		return fmt.Errorf("ble notify %s: %w", t.address, err)
	}

	t.connected = true
	t.logger.Info("ble connected", "address", t.address, "adapter", t.adapter)
	return nil
}

// Disconnect stops notifications and drops the BlueZ connection. The shared
// system bus stays open.
func (t *BLETransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connected = false
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	if t.bz == nil {
		return nil
	}
	for _, rule := range t.rules {
		t.bz.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule)
	}
	t.rules = nil
	if t.chars.fromNum != "" {
		t.bz.call(t.chars.fromNum, ifaceGattChar+".StopNotify")
	}
	if t.device != "" {
		t.bz.call(t.device, ifaceDevice+".Disconnect")
	}
	t.bz = nil
	return nil
}

// SendToRadio writes one ToRadio payload.
func (t *BLETransport) SendToRadio(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || t.bz == nil {
		return ErrNotConnected
	}
	opts := map[string]dbus.Variant{"type": dbus.MakeVariant("command")}
	if err := t.bz.call(t.chars.toRadio, ifaceGattChar+".WriteValue", data, opts); err != nil {
		return fmt.Errorf("write toRadio: %w", err)
	}
	return nil
}

// RecvFromRadio blocks until a FromRadio payload is queued or the link drops.
func (t *BLETransport) RecvFromRadio(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-t.inbox:
		return data, nil
	case <-t.lost:
		return nil, ErrLinkLost
	}
}

func (t *BLETransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// DeviceAddress returns the resolved MAC, or the configured target before
// resolution.
func (t *BLETransport) DeviceAddress() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.address == "" {
		return t.target
	}
	return t.address
}

func (t *BLETransport) markLost() {
	t.lostOnce.Do(func() {
		t.logger.Warn("ble link lost", "address", t.address)
		close(t.lost)
	})
}

// ============================================================================
// Resolution & connection
// ============================================================================

// resolve runs a BlueZ LE discovery and returns the MAC of the first device
// matching name, or advertising the Meshtastic service when name is empty.
func (t *BLETransport) resolve(ctx context.Context, name string) (string, error) {
	adapterPath := dbus.ObjectPath("/org/bluez/" + t.adapter)

	filter := map[string]dbus.Variant{"Transport": dbus.MakeVariant("le")}
	if name == "" {
		filter["UUIDs"] = dbus.MakeVariant([]string{ServiceUUID})
	}
	if err := t.bz.call(adapterPath, ifaceAdapter+".SetDiscoveryFilter", filter); err != nil {
		return "", fmt.Errorf("discovery filter: %w", err)
	}
	// InProgress means another client is scanning; its cache still helps.
	if err := t.bz.call(adapterPath, ifaceAdapter+".StartDiscovery"); err != nil {
		t.logger.Debug("discovery not started, relying on cache", "error", err)
	} else {
		defer t.bz.call(adapterPath, ifaceAdapter+".StopDiscovery")
	}

	deadline := time.NewTimer(resolveWindow)
	defer deadline.Stop()
	poll := time.NewTicker(500 * time.Millisecond)
	defer poll.Stop()

	for {
		if address, ok := t.match(name); ok {
			t.logger.Info("ble device resolved", "name", name, "address", address)
			return address, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			if name == "" {
				return "", fmt.Errorf("%w: no Meshtastic BLE device advertising within %v", ErrDeviceNotFound, resolveWindow)
			}
			return "", fmt.Errorf("%w: no BLE device named %q within %v", ErrDeviceNotFound, name, resolveWindow)
		case <-poll.C:
		}
	}
}

// match looks through BlueZ's device objects on our adapter.
func (t *BLETransport) match(name string) (string, bool) {
	objects, err := t.bz.objects()
	if err != nil {
		return "", false
	}
	prefix := "/org/bluez/" + t.adapter + "/"
	for path, ifaces := range objects {
		props, ok := ifaces[ifaceDevice]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		address, _ := variantValue[string](props, "Address")
		if address == "" {
			continue
		}
		if name == "" {
			uuids, _ := variantValue[[]string](props, "UUIDs")
			if containsFold(uuids, ServiceUUID) {
				return address, true
			}
			continue
		}
		devName, _ := variantValue[string](props, "Name")
		alias, _ := variantValue[string](props, "Alias")
		if strings.EqualFold(devName, name) || strings.EqualFold(alias, name) {
			return address, true
		}
	}
	return "", false
}

// pair connects the device unless BlueZ already holds a connection to it.
func (t *BLETransport) pair(ctx context.Context) error {
	up, err := property[bool](t.bz, t.device, ifaceDevice, "Connected")
	if err != nil && isUnknownObject(err) {
		return fmt.Errorf("%w: %s is not known to adapter %s", ErrDeviceNotFound, t.address, t.adapter)
	}
	if err == nil && up {
		t.logger.Info("ble device already connected", "address", t.address)
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, pairWindow)
	defer cancel()
	if call := t.bz.conn.Object(busBlueZ, t.device).CallWithContext(pctx, ifaceDevice+".Connect", 0); call.Err != nil {
		if isUnknownObject(call.Err) {
			return fmt.Errorf("%w: %s is not known to adapter %s", ErrDeviceNotFound, t.address, t.adapter)
		}
		return call.Err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(500 * time.Millisecond):
	}
	if up, err = property[bool](t.bz, t.device, ifaceDevice, "Connected"); err != nil || !up {
		return errors.New("device did not report Connected")
	}
	return nil
}

func (t *BLETransport) awaitServices(ctx context.Context) error {
	deadline := time.NewTimer(gattWindow)
	defer deadline.Stop()
	poll := time.NewTicker(200 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("services not resolved within %v", gattWindow)
		case <-poll.C:
			if ok, err := property[bool](t.bz, t.device, ifaceDevice, "ServicesResolved"); err == nil && ok {
				return nil
			}
		}
	}
}

func (t *BLETransport) findCharacteristics() (gattPaths, error) {
	var found gattPaths
	objects, err := t.bz.objects()
	if err != nil {
		return found, err
	}
	under := string(t.device) + "/"
	for path, ifaces := range objects {
		props, ok := ifaces[ifaceGattChar]
		if !ok || !strings.HasPrefix(string(path), under) {
			continue
		}
		uuid, _ := variantValue[string](props, "UUID")
		switch strings.ToLower(uuid) {
		case charToRadio:
			found.toRadio = path
		case charFromRadio:
			found.fromRadio = path
		case charFromNum:
			found.fromNum = path
		}
	}
	if name := found.missing(); name != "" {
		return found, fmt.Errorf("%s characteristic not found", name)
	}
	return found, nil
}

// checkMTU warns when BlueZ negotiated an MTU too small for full FromRadio
// payloads.
func (t *BLETransport) checkMTU() {
	mtu, err := property[uint16](t.bz, t.device, ifaceDevice, "MTU")
	switch {
	case err != nil:
		t.logger.Debug("ble mtu unavailable", "error", err)
	case mtu < lowMTUWarning:
		t.logger.Warn("ble mtu is low, large packets may be fragmented", "mtu", mtu)
	default:
		t.logger.Debug("ble mtu", "mtu", mtu)
	}
}

// ============================================================================
// Notifications
// ============================================================================

// watch subscribes to FromNum value changes (drain FromRadio) and to the
// device's Connected property (link loss).
func (t *BLETransport) watch() error {
	for _, path := range []dbus.ObjectPath{t.chars.fromNum, t.device} {
		rule := fmt.Sprintf("type='signal',sender='%s',interface='%s',member='PropertiesChanged',path='%s'",
			busBlueZ, ifaceProperties, path)
		if call := t.bz.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule); call.Err != nil {
			return fmt.Errorf("add match: %w", call.Err)
		}
		t.rules = append(t.rules, rule)
	}
	if err := t.bz.call(t.chars.fromNum, ifaceGattChar+".StartNotify"); err != nil {
		return err
	}

	signals := make(chan *dbus.Signal, packetQueueDepth)
	conn, stop := t.bz.conn, t.stop
	conn.Signal(signals)

	go func() {
		defer conn.RemoveSignal(signals)
		// The radio may have queued packets before notifications were on.
		t.drain()
		for {
			select {
			case <-stop:
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				t.onSignal(sig)
			}
		}
	}()
	return nil
}

func (t *BLETransport) onSignal(sig *dbus.Signal) {
	if sig.Name != ifaceProperties+".PropertiesChanged" || len(sig.Body) < 2 {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	t.mu.Lock()
	chars, device := t.chars, t.device
	t.mu.Unlock()

	switch sig.Path {
	case chars.fromNum:
		if _, ok := changed["Value"]; ok {
			t.drain()
		}
	case device:
		if up, ok := variantValue[bool](changed, "Connected"); ok && !up {
			t.markLost()
		}
	}
}

// drain reads FromRadio until it returns an empty value.
func (t *BLETransport) drain() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bz == nil || t.chars.fromRadio == "" {
		return
	}
	for i := 0; i < maxDrainPerWake; i++ {
		var data []byte
		if err := t.bz.read(t.chars.fromRadio, &data); err != nil || len(data) == 0 {
			return
		}
		select {
		case t.inbox <- data:
		default:
			t.logger.Warn("ble packet queue full, dropping packet")
		}
	}
}

// ============================================================================
// D-Bus helpers
// ============================================================================

const (
	busBlueZ            = "org.bluez"
	ifaceAdapter        = "org.bluez.Adapter1"
	ifaceDevice         = "org.bluez.Device1"
	ifaceGattChar       = "org.bluez.GattCharacteristic1"
	ifaceProperties     = "org.freedesktop.DBus.Properties"
	ifaceObjectManager  = "org.freedesktop.DBus.ObjectManager"
	errUnknownObject    = "org.freedesktop.DBus.Error.UnknownObject"
	errBlueZNonexistent = "org.bluez.Error.DoesNotExist"
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// bluez issues method calls against org.bluez on one bus connection.
type bluez struct {
	conn *dbus.Conn
}

func (b *bluez) call(path dbus.ObjectPath, method string, args ...interface{}) error {
	return b.conn.Object(busBlueZ, path).Call(method, 0, args...).Err
}

func (b *bluez) read(path dbus.ObjectPath, out *[]byte) error {
	call := b.conn.Object(busBlueZ, path).Call(ifaceGattChar+".ReadValue", 0, map[string]dbus.Variant{})
	if call.Err != nil {
		return call.Err
	}
	return call.Store(out)
}

func (b *bluez) objects() (managedObjects, error) {
	var objs managedObjects
	call := b.conn.Object(busBlueZ, "/").Call(ifaceObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("managed objects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("managed objects: %w", err)
	}
	return objs, nil
}

// property reads iface.name from a BlueZ object as T.
func property[T any](b *bluez, path dbus.ObjectPath, iface, name string) (T, error) {
	var zero T
	v, err := b.conn.Object(busBlueZ, path).GetProperty(iface + "." + name)
	if err != nil {
		return zero, err
	}
	val, ok := v.Value().(T)
	if !ok {
		return zero, fmt.Errorf("%s.%s: unexpected type %T", iface, name, v.Value())
	}
	return val, nil
}

func variantValue[T any](props map[string]dbus.Variant, key string) (T, bool) {
	v, ok := props[key]
	if !ok {
		var zero T
		return zero, false
	}
	val, ok := v.Value().(T)
	return val, ok
}

// adapterDevicePath maps a MAC to its BlueZ object path, e.g.
// AA:BB:CC:DD:EE:FF on hci0 is /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func adapterDevicePath(adapter, address string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter + "/dev_" + strings.ReplaceAll(strings.ToUpper(address), ":", "_"))
}

func containsFold(list []string, want string) bool {
	for _, s := range list {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}

// isUnknownObject reports BlueZ "no such device" replies.
func isUnknownObject(err error) bool {
	var name string
	var e dbus.Error
	var pe *dbus.Error
	switch {
	case errors.As(err, &e):
		name = e.Name
	case errors.As(err, &pe):
		name = pe.Name
	default:
		return false
	}
	return name == errUnknownObject || name == errBlueZNonexistent
}
