package service

import (
	"context"
	"encoding/json"
	"time"

	"edge-console/internal/domain"
	"edge-console/internal/repository"
	"edge-console/internal/store"

	"go.uber.org/zap"
)

// nodeStateCacheKey / TTL: the UI polls node state every few seconds
// across all open sessions; a short-lived snapshot keeps that off the
// store. Derivation stays the source of truth.
const (
	nodeStateCacheKey = "edge-console:node-state"
	nodeStateCacheTTL = 2 * time.Second
)

// neverReported is the last_updated sentinel for devices with no
// birth/death event in the log.
const neverReported = "-"

// StateService derives current node and device state from the
// append-only event log. It owns no data.
type StateService interface {
	// NodeStates returns node_id -> {time, state} for every node that
	// ever emitted a node-level event.
	NodeStates(ctx context.Context) (map[string]domain.NodeStateSnapshot, error)

	// DeviceSummary joins the node's device list with the latest
	// birth/death state per device.
	DeviceSummary(ctx context.Context, nodeID string) ([]map[string]any, error)

	// NodeDetails bundles the node row, device summary and triggers the
	// way the console's node page consumes them.
	NodeDetails(ctx context.Context, nodeID string) (*NodeDetails, error)

	// DeviceMetrics returns the device's newest samples from its group's
	// series table, newest first.
	DeviceMetrics(ctx context.Context, nodeID, deviceID string, limit int) ([]domain.MetricPoint, error)
}

// NodeDetails 节点详情（node + devices + triggers）
type NodeDetails struct {
	NodeData     map[string]any   `json:"node_data"`
	DeviceData   []map[string]any `json:"device_data"`
	TriggersData []map[string]any `json:"triggers_data"`
}

type stateService struct {
	states     repository.StatesRepository
	devices    repository.DevicesRepository
	triggers   repository.TriggersRepository
	nodes      repository.NodesRepository
	timeseries repository.TimeSeriesRepository
	kv         store.KV // optional snapshot cache
	logger     *zap.Logger
}

func NewStateService(
	states repository.StatesRepository,
	devices repository.DevicesRepository,
	triggers repository.TriggersRepository,
	nodes repository.NodesRepository,
	timeseries repository.TimeSeriesRepository,
	kv store.KV,
	logger *zap.Logger,
) StateService {
	return &stateService{
		states:     states,
		devices:    devices,
		triggers:   triggers,
		nodes:      nodes,
		timeseries: timeseries,
		kv:         kv,
		logger:     logger,
	}
}

func (s *stateService) NodeStates(ctx context.Context) (map[string]domain.NodeStateSnapshot, error) {
	if s.kv != nil {
		if cached, err := s.kv.Get(ctx, nodeStateCacheKey); err == nil {
			var out map[string]domain.NodeStateSnapshot
			if json.Unmarshal([]byte(cached), &out) == nil {
				return out, nil
			}
		} else if err != store.ErrMiss {
			s.logger.Warn("node state cache read failed", zap.Error(err))
		}
	}

	out, err := s.states.LatestNodeStates(ctx)
	if err != nil {
		return nil, err
	}

	if s.kv != nil {
		if raw, err := json.Marshal(out); err == nil {
			if err := s.kv.Set(ctx, nodeStateCacheKey, string(raw), nodeStateCacheTTL); err != nil {
				s.logger.Warn("node state cache write failed", zap.Error(err))
			}
		}
	}
	return out, nil
}

func (s *stateService) DeviceSummary(ctx context.Context, nodeID string) ([]map[string]any, error) {
	devices, err := s.devices.ListDevices(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return []map[string]any{}, nil
	}

	states, err := s.states.LatestDeviceStates(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(devices))
	for _, d := range devices {
		row := d.ToJSON()
		if snap, ok := states[d.DeviceID]; ok {
			row["state"] = snap.State
			row["last_updated"] = snap.Time.Format(time.RFC3339)
		} else {
			row["state"] = nil
			row["last_updated"] = neverReported
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *stateService) DeviceMetrics(ctx context.Context, nodeID, deviceID string, limit int) ([]domain.MetricPoint, error) {
	if deviceID == "" {
		return nil, &domain.ValidationError{Field: "device_id", Reason: "must not be empty"}
	}
	node, err := s.nodes.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	// Group resolves which series table holds the samples.
	return s.timeseries.RecentMetrics(ctx, node.GroupID, deviceID, time.Time{}, limit)
}

func (s *stateService) NodeDetails(ctx context.Context, nodeID string) (*NodeDetails, error) {
	node, err := s.nodes.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	devices, err := s.DeviceSummary(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	triggers, err := s.triggers.ListTriggers(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	triggerRows := make([]map[string]any, 0, len(triggers))
	for _, t := range triggers {
		triggerRows = append(triggerRows, t.ToJSON())
	}
	return &NodeDetails{
		NodeData:     node.ToJSON(),
		DeviceData:   devices,
		TriggersData: triggerRows,
	}, nil
}
