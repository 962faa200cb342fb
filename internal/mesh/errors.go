package mesh

import (
	"errors"

	"github.com/anthonybo/meshtastic-dashboard/internal/radio"
)

var (
	// ErrLinkUnavailable is returned when an operation needs a connected radio.
	ErrLinkUnavailable = errors.New("not connected to Meshtastic device")
	// ErrConnectTimeout is returned when the dial exceeds the connect timeout.
	ErrConnectTimeout = errors.New("connection timed out")
	// ErrCloseTimeout is returned when the driver close exceeds the close timeout.
	ErrCloseTimeout = errors.New("close timed out")
	// ErrDeviceNotFound is returned when the configured device is not visible.
	ErrDeviceNotFound = radio.ErrDeviceNotFound
	// ErrDeliveryFailed wraps a routing error reported for a direct message.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrTracerouteTimeout is reported when no route reply arrives in time.
	ErrTracerouteTimeout = errors.New("traceroute timed out")
	// ErrTracerouteFailed wraps a routing error reported for a traceroute.
	ErrTracerouteFailed = errors.New("traceroute failed")
)
