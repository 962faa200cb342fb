package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/anthonybo/meshtastic-dashboard/internal/mesh"
)

func TestConnectionStatus(t *testing.T) {
	tests := []struct {
		name string
		in   mesh.ConnectionPayload
		want string
	}{
		{"connected", mesh.ConnectionPayload{Connected: true, DeviceName: "Heltec", FirmwareVersion: "2.5.6"}, "connected to Heltec (fw 2.5.6)"},
		{"reconnecting", mesh.ConnectionPayload{Reconnecting: true, Attempt: 2, MaxAttempts: 5}, "reconnecting (2/5)"},
		{"gave up", mesh.ConnectionPayload{ReconnectFailed: true}, "disconnected: reconnect failed"},
		{"error", mesh.ConnectionPayload{Error: "device not found"}, "disconnected: device not found"},
		{"plain", mesh.ConnectionPayload{}, "disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, connectionStatus(tt.in))
		})
	}
}
