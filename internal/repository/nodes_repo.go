package repository

import (
	"context"

	"edge-console/internal/domain"
)

// NodesRepository 节点Repository接口
// Owns edge_nodes rows and the device_services attachment list.
type NodesRepository interface {
	// CreateNode inserts the node row. Returns domain.ErrNodeExists when
	// the node_id is already registered (constraint violation, not a
	// pre-check, so concurrent identical requests cannot both win).
	CreateNode(ctx context.Context, node *domain.EdgeNode) error

	ListNodes(ctx context.Context) ([]*domain.EdgeNode, error)

	// GetNode returns domain.ErrNotFound when absent.
	GetNode(ctx context.Context, nodeID string) (*domain.EdgeNode, error)

	// AttachDeviceService appends deviceID to the node's device_services.
	// domain.ErrNotFound if the node is absent, domain.ErrAlreadyAttached
	// if the id is already present.
	AttachDeviceService(ctx context.Context, nodeID, deviceID string) error

	// DetachDeviceService removes deviceID if present; absence of the id
	// is a no-op, absence of the node is domain.ErrNotFound.
	DetachDeviceService(ctx context.Context, nodeID, deviceID string) error
}
