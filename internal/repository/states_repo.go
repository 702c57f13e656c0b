package repository

import (
	"context"
	"time"

	"edge-console/internal/domain"
)

// StatesRepository projects over the append-only state log. It owns no
// mutable data: writes are appends, reads are last-writer-wins
// projections.
type StatesRepository interface {
	AppendEvent(ctx context.Context, ev *domain.StateEvent) error

	// LatestNodeStates returns, for every node that has emitted a
	// node-level event (device_id null), the most recent (time, state)
	// pair. Ties on time break on message_type descending so the result
	// is deterministic.
	LatestNodeStates(ctx context.Context) (map[string]domain.NodeStateSnapshot, error)

	// LatestDeviceStates is restricted to DBIRTH/DDEATH rows for the
	// node, keyed by device_id. Devices that never reported are simply
	// absent from the map.
	LatestDeviceStates(ctx context.Context, nodeID string) (map[string]domain.DeviceStateSnapshot, error)
}

// TimeSeriesRepository writes and reads a group's telemetry hypertable
// (time, device_id, sensor_id, metric_value).
type TimeSeriesRepository interface {
	InsertMetrics(ctx context.Context, groupID string, points []domain.MetricPoint) error
	RecentMetrics(ctx context.Context, groupID, deviceID string, since time.Time, limit int) ([]domain.MetricPoint, error)
}

// RegistrationsRepository is the orchestrator's storage arm: the
// multi-entity operations that must commit or roll back as one unit.
type RegistrationsRepository interface {
	// RegisterDeviceWithTriggers attaches the device id to the owning
	// node, inserts the device row and bulk-inserts its triggers in a
	// single transaction. Any step failing rolls back all three.
	RegisterDeviceWithTriggers(ctx context.Context, device *domain.DeviceData, triggers []domain.TriggerInput) error

	// DeleteNodeCascade removes devices, triggers, state-log rows and the
	// node row atomically. domain.ErrNotFound when the node is absent.
	DeleteNodeCascade(ctx context.Context, nodeID string) error

	// DeleteDeviceCascade removes the device's rows, triggers, state-log
	// rows and its device_services entry atomically. Missing rows are a
	// no-op, a missing node is domain.ErrNotFound.
	DeleteDeviceCascade(ctx context.Context, nodeID, deviceID string) error
}
