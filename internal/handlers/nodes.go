package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/anthonybo/meshtastic-dashboard/internal/store"
)

// ListNodes returns every node recorded in history.
// @Summary List known nodes
// @Tags Nodes
// @Produce json
// @Success 200 {array} store.Node
// @Failure 500 {object} ErrorResponse
// @Router /api/nodes [get]
func (h *BridgeHandler) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.history.ListNodes(r.Context())
	if err != nil {
		h.logger.Error("list nodes failed", "error", err)
		errorResponse(w, http.StatusInternalServerError, "failed to list nodes")
		return
	}
	jsonResponse(w, http.StatusOK, nodes)
}

// GetLiveNodes returns the NodeDB of the connected radio.
// @Summary List nodes from the radio
// @Tags Nodes
// @Produce json
// @Success 200 {object} map[string]radio.Node
// @Failure 503 {object} ErrorResponse
// @Router /api/nodes/live [get]
func (h *BridgeHandler) GetLiveNodes(w http.ResponseWriter, r *http.Request) {
	if !h.requireConnected(w) {
		return
	}
	nodes := h.link.Nodes()
	h.logger.Debug("returning live nodes", "count", len(nodes))
	jsonResponse(w, http.StatusOK, nodes)
}

// GetNode returns one recorded node.
// @Summary Get a node
// @Tags Nodes
// @Produce json
// @Param id path string true "Node ID" example(!a1b2c3d4)
// @Success 200 {object} store.Node
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/nodes/{id} [get]
func (h *BridgeHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !reMeshtasticNode.MatchString(id) {
		errorResponse(w, http.StatusBadRequest, "invalid node id: "+id)
		return
	}
	node, err := h.history.GetNode(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, "node not found")
		return
	}
	if err != nil {
		h.logger.Error("get node failed", "id", id, "error", err)
		errorResponse(w, http.StatusInternalServerError, "failed to load node")
		return
	}
	jsonResponse(w, http.StatusOK, node)
}

// SyncNodes copies the radio's NodeDB into history.
// @Summary Sync nodes from the radio
// @Tags Nodes
// @Produce json
// @Success 200 {object} map[string]int
// @Failure 503 {object} ErrorResponse
// @Router /api/nodes/sync [post]
func (h *BridgeHandler) SyncNodes(w http.ResponseWriter, r *http.Request) {
	if !h.requireConnected(w) {
		return
	}
	synced, err := h.history.SyncNodes(r.Context(), h.link.Nodes())
	if err != nil {
		h.logger.Error("node sync failed", "synced", synced, "error", err)
		errorResponse(w, http.StatusInternalServerError, "node sync failed")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]int{"synced": synced})
}
