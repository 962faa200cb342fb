package radio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"
)

type fakeAdvert struct {
	name  string
	uuids []bluetooth.UUID
}

func (a fakeAdvert) LocalName() string { return a.name }

func (a fakeAdvert) HasServiceUUID(u bluetooth.UUID) bool {
	for _, have := range a.uuids {
		if have == u {
			return true
		}
	}
	return false
}

func (a fakeAdvert) ServiceUUIDs() []bluetooth.UUID                        { return a.uuids }
func (a fakeAdvert) Bytes() []byte                                         { return nil }
func (a fakeAdvert) ManufacturerData() []bluetooth.ManufacturerDataElement { return nil }
func (a fakeAdvert) ServiceData() []bluetooth.ServiceDataElement           { return nil }

type fakeAdapter struct {
	mu          sync.Mutex
	enableErr   error
	enableBlock chan struct{}
	scanErr     error
	adverts     []bluetooth.ScanResult
	connectErr  error
	connectHold chan struct{}
	connects    []string
}

func (a *fakeAdapter) Enable() error {
	if a.enableBlock != nil {
		<-a.enableBlock
	}
	return a.enableErr
}

func (a *fakeAdapter) Scan(cb func(*bluetooth.Adapter, bluetooth.ScanResult)) error {
	for _, sr := range a.adverts {
		cb(nil, sr)
	}
	return a.scanErr
}

func (a *fakeAdapter) StopScan() error { return nil }

func (a *fakeAdapter) Connect(addr bluetooth.Address, _ bluetooth.ConnectionParams) (bluetooth.Device, error) {
	a.mu.Lock()
	a.connects = append(a.connects, addr.String())
	hold := a.connectHold
	a.mu.Unlock()
	if hold != nil {
		<-hold
	}
	return bluetooth.Device{}, a.connectErr
}

func (a *fakeAdapter) connectCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.connects...)
}

func advert(t *testing.T, address, name string, rssi int16, uuids ...bluetooth.UUID) bluetooth.ScanResult {
	t.Helper()
	var addr bluetooth.Address
	addr.Set(address)
	return bluetooth.ScanResult{Address: addr, RSSI: rssi, AdvertisementPayload: fakeAdvert{name: name, uuids: uuids}}
}

func testDiscovery(adapter Scanner, configured string) *Discovery {
	return NewDiscoveryWithAdapter(adapter, configured, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestScanBucketsSortsAndTruncates(t *testing.T) {
	service, err := bluetooth.ParseUUID(ServiceUUID)
	require.NoError(t, err)

	adapter := &fakeAdapter{adverts: []bluetooth.ScanResult{
		advert(t, "AA:00:00:00:00:02", "Meshtastic_b2", -70),
		advert(t, "AA:00:00:00:00:01", "Meshtastic_a1", -80),
		advert(t, "AA:00:00:00:00:01", "Meshtastic_a1", -60),
		advert(t, "AA:00:00:00:00:03", "", -75, service),
		// Seen nameless first, then with a Meshtastic name.
		advert(t, "AA:00:00:00:00:04", "", -50),
		advert(t, "AA:00:00:00:00:04", "Meshtastic_c3", -55),
	}}
	for i := 1; i <= 12; i++ {
		adapter.adverts = append(adapter.adverts,
			advert(t, fmt.Sprintf("BB:00:00:00:00:%02X", i), fmt.Sprintf("Speaker %d", i), int16(-i)))
	}

	res := testDiscovery(adapter, "meshtastic_A1").Scan(context.Background(), time.Second)

	assert.Empty(t, res.Error)
	require.Len(t, res.MeshtasticDevices, 4)
	names := make([]string, 0, 4)
	for _, d := range res.MeshtasticDevices {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"", "Meshtastic_a1", "Meshtastic_b2", "Meshtastic_c3"}, names)
	assert.Equal(t, ScanDevice{Name: "Meshtastic_a1", Address: "AA:00:00:00:00:01", RSSI: -60}, res.MeshtasticDevices[1])

	require.Len(t, res.OtherDevices, maxOtherDevices)
	for i, d := range res.OtherDevices {
		assert.Equal(t, -(i + 1), d.RSSI)
		assert.NotEqual(t, "AA:00:00:00:00:04", d.Address)
	}
	assert.Equal(t, 16, res.TotalDevices)
	assert.Equal(t, "meshtastic_A1", res.ConfiguredDevice)
	assert.True(t, res.ConfiguredFound)
}

func TestScanConfiguredNotFound(t *testing.T) {
	adapter := &fakeAdapter{adverts: []bluetooth.ScanResult{
		advert(t, "AA:00:00:00:00:01", "Meshtastic_a1", -60),
	}}
	res := testDiscovery(adapter, "Meshtastic_ffff").Scan(context.Background(), time.Second)
	assert.False(t, res.ConfiguredFound)

	res = testDiscovery(adapter, "").Scan(context.Background(), time.Second)
	assert.False(t, res.ConfiguredFound)
}

func TestScanErrorDegrades(t *testing.T) {
	t.Run("enable", func(t *testing.T) {
		res := testDiscovery(&fakeAdapter{enableErr: errors.New("no adapter")}, "").Scan(context.Background(), time.Second)
		assert.Contains(t, res.Error, "no adapter")
		assert.NotNil(t, res.MeshtasticDevices)
		assert.NotNil(t, res.OtherDevices)
		assert.Empty(t, res.MeshtasticDevices)
		assert.Empty(t, res.OtherDevices)
		assert.Zero(t, res.TotalDevices)
	})

	t.Run("scan", func(t *testing.T) {
		res := testDiscovery(&fakeAdapter{scanErr: errors.New("org.bluez.Error.InProgress")}, "").Scan(context.Background(), time.Second)
		assert.Equal(t, "org.bluez.Error.InProgress", res.Error)
		assert.Empty(t, res.MeshtasticDevices)
		assert.Empty(t, res.OtherDevices)
	})

	t.Run("enable hangs", func(t *testing.T) {
		block := make(chan struct{})
		t.Cleanup(func() { close(block) })
		start := time.Now()
		res := testDiscovery(&fakeAdapter{enableBlock: block}, "").Scan(context.Background(), 20*time.Millisecond)
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Contains(t, res.Error, "adapter not ready")
	})
}

func TestForceCleanupSkipsNonMAC(t *testing.T) {
	adapter := &fakeAdapter{}
	assert.False(t, testDiscovery(adapter, "").ForceCleanup(context.Background(), "Meshtastic_a1"))
	assert.Empty(t, adapter.connectCalls())
}

func TestForceCleanupConnectError(t *testing.T) {
	adapter := &fakeAdapter{connectErr: errors.New("br-connection-canceled")}
	assert.False(t, testDiscovery(adapter, "").ForceCleanup(context.Background(), "AA:BB:CC:DD:EE:FF"))
	assert.Equal(t, []string{"AA:BB:CC:DD:EE:FF"}, adapter.connectCalls())
}

func TestForceCleanupBoundedWithoutDeadline(t *testing.T) {
	hold := make(chan struct{})
	adapter := &fakeAdapter{connectHold: hold, connectErr: errors.New("released")}
	t.Cleanup(func() { close(hold) })

	d := testDiscovery(adapter, "")
	d.cleanupTimeout = 20 * time.Millisecond

	done := make(chan bool, 1)
	go func() { done <- d.ForceCleanup(context.Background(), "AA:BB:CC:DD:EE:FF") }()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("force cleanup did not give up on a connect that never returns")
	}

	// The discovery lock is free again.
	res := d.Scan(context.Background(), 10*time.Millisecond)
	assert.Empty(t, res.Error)
}
