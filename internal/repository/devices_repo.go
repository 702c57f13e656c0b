package repository

import (
	"context"

	"edge-console/internal/domain"
)

// DevicesRepository 设备Repository接口
type DevicesRepository interface {
	// InsertDevice inserts one device row. domain.ErrDeviceExists when a
	// row with the same (group, node, device, protocol) key — or the same
	// device_id on the node under any protocol — already exists.
	InsertDevice(ctx context.Context, device *domain.DeviceData) error

	// ListDevices returns all devices on the node; an empty slice (not an
	// error) when there are none.
	ListDevices(ctx context.Context, nodeID string) ([]*domain.DeviceData, error)
}

// TriggersRepository 触发器Repository接口
type TriggersRepository interface {
	// BulkInsertTriggers inserts all rows in one transaction; any failing
	// row aborts the whole batch.
	BulkInsertTriggers(ctx context.Context, triggers []domain.TriggerInput) error

	ListTriggers(ctx context.Context, nodeID string) ([]*domain.Trigger, error)
}
