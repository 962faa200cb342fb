package radio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Transport abstracts the physical link to a Meshtastic device. All protocol
// logic (protobuf parsing, NodeDB, response routing) sits above this.
type Transport interface {
	// Connect establishes the link to the device.
	Connect(ctx context.Context) error
	// Disconnect closes the link. It is safe to call more than once.
	Disconnect() error
	// SendToRadio writes a raw ToRadio protobuf payload.
	SendToRadio(data []byte) error
	// RecvFromRadio blocks until a FromRadio protobuf payload is available.
	// It returns ErrLinkLost once the device drops the link.
	RecvFromRadio(ctx context.Context) ([]byte, error)
	// IsConnected reports the current link state.
	IsConnected() bool
	// DeviceAddress returns the resolved device address (BLE MAC).
	DeviceAddress() string
}

var (
	// ErrDeviceNotFound is returned when no device matches the configured
	// name or address.
	ErrDeviceNotFound = errors.New("meshtastic device not found")
	// ErrLinkLost is returned by RecvFromRadio after the device dropped the link.
	ErrLinkLost = errors.New("link to device lost")
	// ErrNotConnected is returned by operations on a closed link.
	ErrNotConnected = errors.New("not connected")
)

// AdapterConflictError is returned when the selected adapter shares its
// radio with a running WiFi access point.
type AdapterConflictError struct {
	Adapter string
}

func (e *AdapterConflictError) Error() string {
	return fmt.Sprintf("BLE blocked: %s shares its radio with the WiFi access point; use a USB Bluetooth adapter", e.Adapter)
}

var (
	reAdapter = regexp.MustCompile(`^[a-z0-9_]+$`)
	reMAC     = regexp.MustCompile(`^[0-9A-Fa-f]{2}(:[0-9A-Fa-f]{2}){5}$`)
)

// Host paths, replaced in tests.
var (
	sysBluetooth = "/sys/class/bluetooth"
	procDir      = "/proc"
)

// SelectAdapter resolves the BlueZ adapter: the explicit request, else the
// lowest-numbered USB adapter (hci1..hci5), else hci0. The onboard hci0 of a
// Raspberry Pi shares the 2.4GHz radio with WiFi and is refused while
// hostapd runs.
func SelectAdapter(requested string) (string, error) {
	if requested == "" {
		requested = firstExternalAdapter()
	}
	adapter, err := sanitizeAdapterName(requested)
	if err != nil {
		return "", err
	}
	if adapter == "hci0" && !isUSBAdapter(adapter) && processRunning("hostapd") {
		return "", &AdapterConflictError{Adapter: adapter}
	}
	return adapter, nil
}

// isUSBAdapter reports whether the adapter's sysfs device hangs off a USB
// bus. Unknown adapters count as onboard.
func isUSBAdapter(adapter string) bool {
	link, err := os.Readlink(filepath.Join(sysBluetooth, adapter, "device"))
	return err == nil && strings.Contains(link, "usb")
}

// processRunning reports whether any process has the given comm name.
func processRunning(comm string) bool {
	paths, _ := filepath.Glob(filepath.Join(procDir, "[1-9]*", "comm"))
	for _, p := range paths {
		if b, err := os.ReadFile(p); err == nil && strings.TrimSpace(string(b)) == comm {
			return true
		}
	}
	return false
}

func firstExternalAdapter() string {
	for i := 1; i <= 5; i++ {
		name := "hci" + strconv.Itoa(i)
		if _, err := os.Stat(filepath.Join(sysBluetooth, name)); err == nil {
			return name
		}
	}
	return "hci0"
}

// sanitizeAdapterName rejects names that could escape /org/bluez or sysfs.
func sanitizeAdapterName(adapter string) (string, error) {
	if adapter == "" {
		return "hci0", nil
	}
	if !reAdapter.MatchString(adapter) {
		return "", fmt.Errorf("invalid adapter name: %q", adapter)
	}
	return adapter, nil
}

// IsMACAddress reports whether s has the XX:XX:XX:XX:XX:XX form.
func IsMACAddress(s string) bool {
	return reMAC.MatchString(s)
}

// knownDeviceNames are advertised-name fragments used by Meshtastic firmware
// builds across hardware vendors.
var knownDeviceNames = []string{"meshtastic", "t-echo", "t_echo", "heltec", "rak4631", "tbeam", "t-beam", "t1000"}

// IsMeshtasticName reports whether an advertised BLE name belongs to the
// Meshtastic product family.
func IsMeshtasticName(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range knownDeviceNames {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
