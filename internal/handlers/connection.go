package handlers

import (
	"net/http"

	"github.com/anthonybo/meshtastic-dashboard/internal/mesh"
	"github.com/anthonybo/meshtastic-dashboard/internal/radio"
)

// ============================================================================
// Connection Types
// ============================================================================

// ConnectionResponse is the status snapshot returned by connection actions.
// @Description Meshtastic connection status after an action
type ConnectionResponse struct {
	Result string `json:"status" example:"connected"`
	mesh.Status
	Warning string `json:"warning,omitempty"`
}

// ConnectError is returned when a connect attempt fails. ScanResult lists
// the devices seen when the configured one was not found.
// @Description Connect failure with discovery diagnostics
type ConnectError struct {
	Error      string            `json:"error"`
	Code       int               `json:"code"`
	ScanResult *radio.ScanResult `json:"scan_result,omitempty"`
}

const closeFailedWarning = "BLE close timed out. Try Reset BLE or restart the server if reconnect fails."

// ============================================================================
// Connection Handlers
// ============================================================================

// GetConnectionStatus returns the link status.
// @Summary Get connection status
// @Tags Connection
// @Produce json
// @Success 200 {object} mesh.Status
// @Router /api/connection [get]
func (h *BridgeHandler) GetConnectionStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.link.Status())
}

// Connect opens the BLE link to the configured device.
// @Summary Connect to device
// @Tags Connection
// @Produce json
// @Success 200 {object} ConnectionResponse
// @Failure 503 {object} ConnectError
// @Router /api/connection/connect [post]
func (h *BridgeHandler) Connect(w http.ResponseWriter, r *http.Request) {
	if st := h.link.Status(); st.Connected {
		jsonResponse(w, http.StatusOK, ConnectionResponse{Result: "already_connected", Status: st})
		return
	}

	res := h.link.Connect(r.Context())
	if !res.OK {
		detail := res.Detail
		if detail == "" {
			detail = "failed to connect to device"
		}
		h.logger.Error("connect failed", "error", detail)
		jsonResponse(w, http.StatusServiceUnavailable, ConnectError{
			Error:      detail,
			Code:       http.StatusServiceUnavailable,
			ScanResult: res.ScanResult,
		})
		return
	}
	jsonResponse(w, http.StatusOK, ConnectionResponse{Result: "connected", Status: h.link.Status()})
}

// Disconnect closes the BLE link.
// @Summary Disconnect from device
// @Tags Connection
// @Produce json
// @Success 200 {object} ConnectionResponse
// @Router /api/connection/disconnect [post]
func (h *BridgeHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("disconnect requested")
	res := h.link.Disconnect(r.Context())

	resp := ConnectionResponse{Result: "disconnected", Status: h.link.Status()}
	if res.CloseFailed {
		resp.Warning = closeFailedWarning
	}
	jsonResponse(w, http.StatusOK, resp)
}

// ResetLink forces the link down, cleans up the stack and rescans.
// @Summary Reset BLE link
// @Tags Connection
// @Produce json
// @Success 200 {object} mesh.ResetResult
// @Router /api/connection/reset [post]
func (h *BridgeHandler) ResetLink(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("ble reset requested")
	res := h.link.ResetLink(r.Context())
	h.logger.Info("ble reset completed", "device_visible", res.DeviceVisible, "cleanup", res.CleanupOK)
	jsonResponse(w, http.StatusOK, res)
}

// ScanDevices runs a BLE sweep.
// @Summary Scan for BLE devices
// @Tags Connection
// @Produce json
// @Param timeout query int false "Sweep duration in seconds"
// @Success 200 {object} radio.ScanResult
// @Failure 400 {object} ErrorResponse
// @Router /api/connection/scan [get]
func (h *BridgeHandler) ScanDevices(w http.ResponseWriter, r *http.Request) {
	timeout, err := scanTimeout(r)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	res := h.link.ScanDevices(r.Context(), timeout)
	h.logger.Info("ble scan completed", "meshtastic", len(res.MeshtasticDevices), "total", res.TotalDevices)
	jsonResponse(w, http.StatusOK, res)
}
