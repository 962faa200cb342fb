package radio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// ScanDevice is one device seen during a discovery sweep.
type ScanDevice struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	RSSI    int    `json:"rssi"`
}

// ScanResult partitions a sweep into Meshtastic and other devices.
type ScanResult struct {
	MeshtasticDevices []ScanDevice `json:"meshtastic_devices"`
	OtherDevices      []ScanDevice `json:"other_devices"`
	TotalDevices      int          `json:"total_devices"`
	ConfiguredDevice  string       `json:"configured_device,omitempty"`
	ConfiguredFound   bool         `json:"configured_device_found"`
	Error             string       `json:"error,omitempty"`
}

// maxOtherDevices bounds OtherDevices to the strongest signals.
const maxOtherDevices = 10

// scanStopBuffer is added to the sweep duration before the blocking scan
// call is abandoned.
const scanStopBuffer = 2 * time.Second

// defaultCleanupTimeout bounds ForceCleanup when the caller's context has
// no earlier deadline. BlueZ connects have no timeout of their own.
const defaultCleanupTimeout = 15 * time.Second

// Scanner is the subset of tinygo's bluetooth.Adapter used for discovery.
type Scanner interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
	Connect(address bluetooth.Address, params bluetooth.ConnectionParams) (bluetooth.Device, error)
}

// Discovery runs bounded BLE sweeps and forced link cleanup. Only one sweep
// runs at a time; the adapter cannot scan concurrently.
type Discovery struct {
	mu         sync.Mutex
	adapter    Scanner
	configured string
	logger     *slog.Logger

	cleanupTimeout time.Duration

	enableOnce sync.Once
	enabled    chan struct{}
	enableErr  error
}

// NewDiscovery creates a Discovery on tinygo's default adapter. configured
// is the device name or address the operator expects to find.
func NewDiscovery(configured string, logger *slog.Logger) *Discovery {
	return NewDiscoveryWithAdapter(bluetooth.DefaultAdapter, configured, logger)
}

// NewDiscoveryWithAdapter creates a Discovery over an explicit adapter.
func NewDiscoveryWithAdapter(adapter Scanner, configured string, logger *slog.Logger) *Discovery {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discovery{
		adapter:        adapter,
		configured:     configured,
		logger:         logger.With("component", "discovery"),
		cleanupTimeout: defaultCleanupTimeout,
	}
}

// enable powers the adapter once. A caller whose ctx ends first gets an
// error; the enable itself keeps running for the next caller.
func (d *Discovery) enable(ctx context.Context) error {
	d.enableOnce.Do(func() {
		d.enabled = make(chan struct{})
		go func() {
			d.enableErr = d.adapter.Enable()
			close(d.enabled)
		}()
	})
	select {
	case <-d.enabled:
		return d.enableErr
	case <-ctx.Done():
		return fmt.Errorf("adapter not ready: %w", ctx.Err())
	}
}

// Scan sweeps for timeout and classifies everything seen. Faults are
// reported in ScanResult.Error; the result is never nil-valued.
func (d *Discovery) Scan(ctx context.Context, timeout time.Duration) ScanResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := ScanResult{
		MeshtasticDevices: []ScanDevice{},
		OtherDevices:      []ScanDevice{},
		ConfiguredDevice:  d.configured,
	}

	sweepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := d.enable(sweepCtx); err != nil {
		result.Error = fmt.Sprintf("enable adapter: %v", err)
		d.logger.Warn("ble scan failed", "error", err)
		return result
	}

	serviceUUID, _ := bluetooth.ParseUUID(ServiceUUID)

	var seenMu sync.Mutex
	meshtastic := make(map[string]ScanDevice)
	others := make(map[string]ScanDevice)

	done := make(chan error, 1)
	go func() {
		done <- d.adapter.Scan(func(_ *bluetooth.Adapter, sr bluetooth.ScanResult) {
			dev := ScanDevice{
				Name:    sr.LocalName(),
				Address: strings.ToUpper(sr.Address.String()),
				RSSI:    int(sr.RSSI),
			}
			bucket := others
			if sr.HasServiceUUID(serviceUUID) || IsMeshtasticName(dev.Name) {
				bucket = meshtastic
			}

			seenMu.Lock()
			defer seenMu.Unlock()
			prev, ok := bucket[dev.Address]
			if !ok || dev.RSSI > prev.RSSI || (prev.Name == "" && dev.Name != "") {
				if dev.Name == "" {
					dev.Name = prev.Name
				}
				bucket[dev.Address] = dev
			}
		})
	}()

	var scanErr error
	select {
	case <-sweepCtx.Done():
		_ = d.adapter.StopScan()
		select {
		case scanErr = <-done:
		case <-time.After(scanStopBuffer):
			scanErr = errors.New("scan did not stop in time")
		}
	case scanErr = <-done:
	}
	if scanErr != nil {
		result.Error = scanErr.Error()
		d.logger.Warn("ble scan failed", "error", scanErr)
	}

	seenMu.Lock()
	defer seenMu.Unlock()

	for _, dev := range meshtastic {
		result.MeshtasticDevices = append(result.MeshtasticDevices, dev)
	}
	for addr, dev := range others {
		if _, dup := meshtastic[addr]; dup {
			continue
		}
		result.OtherDevices = append(result.OtherDevices, dev)
	}
	result.TotalDevices = len(result.MeshtasticDevices) + len(result.OtherDevices)

	sort.Slice(result.MeshtasticDevices, func(i, j int) bool {
		return result.MeshtasticDevices[i].Name < result.MeshtasticDevices[j].Name
	})
	sort.Slice(result.OtherDevices, func(i, j int) bool {
		return result.OtherDevices[i].RSSI > result.OtherDevices[j].RSSI
	})
	if len(result.OtherDevices) > maxOtherDevices {
		result.OtherDevices = result.OtherDevices[:maxOtherDevices]
	}

	result.ConfiguredFound = d.configured != "" && containsDevice(result.MeshtasticDevices, d.configured)

	d.logger.Info("ble scan complete",
		"meshtastic", len(result.MeshtasticDevices),
		"total", result.TotalDevices,
		"configured_found", result.ConfiguredFound)
	return result
}

func containsDevice(devices []ScanDevice, target string) bool {
	for _, dev := range devices {
		if strings.EqualFold(dev.Name, target) || strings.EqualFold(dev.Address, target) {
			return true
		}
	}
	return false
}

// ForceCleanup opens and immediately closes a fresh connection to address,
// which makes BlueZ drop a half-open link left by a failed close. All
// faults are swallowed; the return value reports whether both steps worked.
// The attempt never outlives the cleanup timeout.
func (d *Discovery) ForceCleanup(ctx context.Context, address string) bool {
	if !IsMACAddress(address) {
		d.logger.Debug("force cleanup skipped, not a MAC address", "address", address)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, d.cleanupTimeout)
	defer cancel()

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enable(ctx); err != nil {
		d.logger.Warn("force cleanup: enable adapter failed", "error", err)
		return false
	}

	var addr bluetooth.Address
	addr.Set(address)

	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := d.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		d.logger.Warn("force cleanup timed out", "address", address)
		// Disconnect whatever the late connect produces.
		go func() {
			if res := <-ch; res.err == nil {
				_ = res.device.Disconnect()
			}
		}()
		return false
	case res := <-ch:
		if res.err != nil {
			d.logger.Warn("force cleanup connect failed", "address", address, "error", res.err)
			return false
		}
		if err := res.device.Disconnect(); err != nil {
			d.logger.Warn("force cleanup disconnect failed", "address", address, "error", err)
			return false
		}
	}
	d.logger.Info("force cleanup complete", "address", address)
	return true
}
