package httpapi

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"

	"edge-console/internal/domain"
	"edge-console/internal/service"

	"go.uber.org/zap"
)

// NodeHandler serves the registration API consumed by the operator
// console.
type NodeHandler struct {
	nodes    service.NodeService
	registry service.RegistryService
	states   service.StateService
	gateway  *service.GatewayClient // optional
	logger   *zap.Logger
}

func NewNodeHandler(
	nodes service.NodeService,
	registry service.RegistryService,
	states service.StateService,
	gateway *service.GatewayClient,
	logger *zap.Logger,
) *NodeHandler {
	return &NodeHandler{
		nodes:    nodes,
		registry: registry,
		states:   states,
		gateway:  gateway,
		logger:   logger,
	}
}

func (h *NodeHandler) CreateNode(w http.ResponseWriter, r *http.Request) {
	var cfg domain.NodeConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, h.logger, &domain.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	node, err := h.nodes.CreateNode(r.Context(), cfg)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"node_id": node.NodeID,
	})
}

func (h *NodeHandler) GetAllNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.nodes.ListNodes(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ToJSON())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *NodeHandler) GetNodeState(w http.ResponseWriter, r *http.Request) {
	states, err := h.states.NodeStates(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	// node_id -> {time: unix seconds, state}, the shape the dashboard
	// polls.
	out := map[string]map[string]any{}
	for nodeID, snap := range states {
		out[nodeID] = map[string]any{
			"time":  float64(snap.Time.UnixNano()) / 1e9,
			"state": snap.State,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *NodeHandler) GetNodeDetails(w http.ResponseWriter, r *http.Request, nodeID string) {
	details, err := h.states.NodeDetails(r.Context(), nodeID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// devicePayload is the wire shape of a device registration; optional
// fields are pointers so absent and empty are distinguishable.
type devicePayload struct {
	GroupID      string  `json:"group_id"`
	NodeID       string  `json:"node_id"`
	DeviceID     string  `json:"device_id"`
	ProtocolType string  `json:"protocol_type"`
	Alias        *string `json:"alias"`
	Manufacturer *string `json:"manufacturer"`
	Model        *string `json:"model"`
	DeviceIP     *string `json:"device_ip"`
	DevicePort   *int32  `json:"device_port"`
}

func (p *devicePayload) toDomain() domain.DeviceData {
	d := domain.DeviceData{
		GroupID:      p.GroupID,
		NodeID:       p.NodeID,
		DeviceID:     p.DeviceID,
		ProtocolType: p.ProtocolType,
	}
	if p.Alias != nil {
		d.Alias = sql.NullString{String: *p.Alias, Valid: true}
	}
	if p.Manufacturer != nil {
		d.Manufacturer = sql.NullString{String: *p.Manufacturer, Valid: true}
	}
	if p.Model != nil {
		d.Model = sql.NullString{String: *p.Model, Valid: true}
	}
	if p.DeviceIP != nil {
		d.DeviceIP = sql.NullString{String: *p.DeviceIP, Valid: true}
	}
	if p.DevicePort != nil {
		d.DevicePort = sql.NullInt32{Int32: *p.DevicePort, Valid: true}
	}
	return d
}

type addDevicePayload struct {
	DeviceData devicePayload         `json:"device_data"`
	Triggers   []domain.TriggerInput `json:"triggers"`
}

func (h *NodeHandler) AddDeviceWithTriggers(w http.ResponseWriter, r *http.Request) {
	var payload addDevicePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, h.logger, &domain.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	err := h.registry.RegisterDeviceWithTriggers(r.Context(), service.RegisterDeviceRequest{
		Device:   payload.DeviceData.toDomain(),
		Triggers: payload.Triggers,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *NodeHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	nodeID := r.URL.Query().Get("node_id")
	if err := h.registry.DeleteNodeCascade(r.Context(), nodeID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "deleted edge node " + nodeID + " and its devices",
	})
}

func (h *NodeHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	nodeID := r.URL.Query().Get("node_id")
	deviceID := r.URL.Query().Get("device_id")
	if err := h.registry.DeleteDeviceCascade(r.Context(), nodeID, deviceID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "deleted device " + deviceID + " from node " + nodeID,
	})
}

// DeviceMetrics serves the node page's telemetry chart: the device's
// newest samples from its group's series table.
func (h *NodeHandler) DeviceMetrics(w http.ResponseWriter, r *http.Request, nodeID string) {
	deviceID := r.URL.Query().Get("device_id")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, h.logger, &domain.ValidationError{Field: "limit", Reason: "must be a positive integer"})
			return
		}
		limit = n
	}
	points, err := h.states.DeviceMetrics(r.Context(), nodeID, deviceID, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// ContainerLogs proxies the gateway's container-log endpoint so the
// node page can show adapter logs without talking to the gateway
// directly.
func (h *NodeHandler) ContainerLogs(w http.ResponseWriter, r *http.Request, nodeID string) {
	if h.gateway == nil {
		writeJSON(w, http.StatusServiceUnavailable,
			errorBody{Error: "Server Error", Message: "gateway client not configured"})
		return
	}
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeError(w, h.logger, &domain.ValidationError{Field: "device_id", Reason: "must not be empty"})
		return
	}
	node, err := h.nodes.GetNode(r.Context(), nodeID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	logs, err := h.gateway.GetContainerLogs(r.Context(), node.IP, deviceID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"device_id": deviceID,
		"logs":      logs,
	})
}

func (h *NodeHandler) ExportDevices(w http.ResponseWriter, r *http.Request, nodeID string) {
	summary, err := h.states.DeviceSummary(r.Context(), nodeID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	data, err := GenerateDeviceExport(summary)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="devices_`+nodeID+`.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
