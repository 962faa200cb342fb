package handlers

import (
	"net/http"
)

// ListTelemetry returns device metrics history, newest first.
// @Summary List telemetry
// @Tags Telemetry
// @Produce json
// @Param node_id query string false "Node filter" example(!a1b2c3d4)
// @Param limit query int false "Page size" default(100)
// @Success 200 {array} store.Telemetry
// @Failure 400 {object} ErrorResponse
// @Router /api/telemetry [get]
func (h *BridgeHandler) ListTelemetry(w http.ResponseWriter, r *http.Request) {
	nodeID, limit, ok := h.historyQuery(w, r)
	if !ok {
		return
	}
	rows, err := h.history.ListTelemetry(r.Context(), nodeID, limit)
	if err != nil {
		h.logger.Error("list telemetry failed", "error", err)
		errorResponse(w, http.StatusInternalServerError, "failed to list telemetry")
		return
	}
	jsonResponse(w, http.StatusOK, rows)
}

// ListPositions returns position history, newest first.
// @Summary List positions
// @Tags Telemetry
// @Produce json
// @Param node_id query string false "Node filter" example(!a1b2c3d4)
// @Param limit query int false "Page size" default(100)
// @Success 200 {array} store.Position
// @Failure 400 {object} ErrorResponse
// @Router /api/telemetry/positions [get]
func (h *BridgeHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	nodeID, limit, ok := h.historyQuery(w, r)
	if !ok {
		return
	}
	rows, err := h.history.ListPositions(r.Context(), nodeID, limit)
	if err != nil {
		h.logger.Error("list positions failed", "error", err)
		errorResponse(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	jsonResponse(w, http.StatusOK, rows)
}

func (h *BridgeHandler) historyQuery(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	nodeID := r.URL.Query().Get("node_id")
	if nodeID != "" && !reMeshtasticNode.MatchString(nodeID) {
		errorResponse(w, http.StatusBadRequest, "invalid node_id")
		return "", 0, false
	}
	limit, err := queryInt(r, "limit", h.opts.HistoryLimit, 1, 1000)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return "", 0, false
	}
	return nodeID, limit, true
}

// ============================================================================
// Traceroute
// ============================================================================

// TracerouteRequest is the body of POST /api/traceroute.
// @Description Traceroute parameters
type TracerouteRequest struct {
	Destination string `json:"destination" example:"!abcd1234"`
	HopLimit    int    `json:"hop_limit,omitempty" example:"3"`
	Channel     int    `json:"channel,omitempty" example:"0"`
}

// SendTraceroute dispatches a traceroute. The route arrives later as a
// traceroute or traceroute_error event.
// @Summary Start a traceroute
// @Tags Traceroute
// @Accept json
// @Produce json
// @Param request body TracerouteRequest true "Traceroute parameters"
// @Success 202 {object} mesh.TracerouteResult
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/traceroute [post]
func (h *BridgeHandler) SendTraceroute(w http.ResponseWriter, r *http.Request) {
	var req TracerouteRequest
	if err := decodeBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Destination == "" || !reMeshtasticNode.MatchString(req.Destination) {
		errorResponse(w, http.StatusBadRequest, errInvalidDestination.Error())
		return
	}
	if err := validateHopLimit(req.HopLimit); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateChannel(req.Channel); err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.requireConnected(w) {
		return
	}

	res := h.link.SendTraceroute(r.Context(), req.Destination, uint32(req.HopLimit), uint32(req.Channel))
	if !res.OK {
		errorResponse(w, http.StatusInternalServerError, "traceroute failed: "+res.Detail)
		return
	}
	jsonResponse(w, http.StatusAccepted, res)
}
