package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()
	r.mux.ServeHTTP(w, req)
	r.logger.Debug("http request",
		zap.String("request_id", requestID),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// RegisterNodeRoutes wires the registration API the operator console
// calls. Paths match the original console so the UI needs no changes.
func (r *Router) RegisterNodeRoutes(h *NodeHandler) {
	r.Handle("/api/add_nodes/create_node", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.CreateNode(w, req)
	})

	r.Handle("/api/manage_nodes/get_all_nodes", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.GetAllNodes(w, req)
	})

	r.Handle("/api/manage_nodes/get_node_state", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.GetNodeState(w, req)
	})

	r.Handle("/api/manage_nodes/add_devicedata_db", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.AddDeviceWithTriggers(w, req)
	})

	r.Handle("/api/manage_nodes/delete_node", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.DeleteNode(w, req)
	})

	r.Handle("/api/manage_nodes/delete_device", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.DeleteDevice(w, req)
	})

	// /api/manage_nodes/{node_id}
	// /api/manage_nodes/{node_id}/devices/export
	// /api/manage_nodes/{node_id}/metrics
	// /api/manage_nodes/{node_id}/logs
	r.Handle("/api/manage_nodes/", func(w http.ResponseWriter, req *http.Request) {
		rest := strings.TrimPrefix(req.URL.Path, "/api/manage_nodes/")
		parts := strings.Split(strings.Trim(rest, "/"), "/")
		switch {
		case len(parts) == 1 && parts[0] != "":
			if req.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			h.GetNodeDetails(w, req, parts[0])
		case len(parts) == 3 && parts[1] == "devices" && parts[2] == "export":
			if req.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			h.ExportDevices(w, req, parts[0])
		case len(parts) == 2 && parts[1] == "metrics":
			if req.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			h.DeviceMetrics(w, req, parts[0])
		case len(parts) == 2 && parts[1] == "logs":
			if req.Method != http.MethodPost {
				methodNotAllowed(w)
				return
			}
			h.ContainerLogs(w, req, parts[0])
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func (r *Router) RegisterDataSaverRoutes(h *AudioHandler) {
	r.Handle("/api/data_saver/upload_audio", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.UploadAudio(w, req)
	})
}

func (r *Router) RegisterDashboardRoutes() {
	r.Handle("/api/dashboard/status", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "online"})
	})
}
