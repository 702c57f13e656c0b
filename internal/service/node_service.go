package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"edge-console/internal/domain"
	"edge-console/internal/repository"

	"go.uber.org/zap"
)

// GroupProvisioner guarantees a group's series table exists before the
// first node of that group is committed.
type GroupProvisioner interface {
	EnsureGroupTable(ctx context.Context, groupID string) error
}

// NodeService 节点注册服务接口
type NodeService interface {
	CreateNode(ctx context.Context, cfg domain.NodeConfig) (*domain.EdgeNode, error)
	ListNodes(ctx context.Context) ([]*domain.EdgeNode, error)
	GetNode(ctx context.Context, nodeID string) (*domain.EdgeNode, error)
	AttachDeviceService(ctx context.Context, nodeID, deviceID string) error
	DetachDeviceService(ctx context.Context, nodeID, deviceID string) error
}

// mqttBridgeService is the app_services entry that makes a node run
// the messaging bridge; registering such a node also pushes the broker
// address to the gateway.
const mqttBridgeService = "mqtt_bridge"

type nodeService struct {
	nodes       repository.NodesRepository
	provisioner GroupProvisioner
	gateway     *GatewayClient // optional
	brokerIP    string
	logger      *zap.Logger
}

func NewNodeService(
	nodes repository.NodesRepository,
	provisioner GroupProvisioner,
	gateway *GatewayClient,
	brokerIP string,
	logger *zap.Logger,
) NodeService {
	return &nodeService{
		nodes:       nodes,
		provisioner: provisioner,
		gateway:     gateway,
		brokerIP:    brokerIP,
		logger:      logger,
	}
}

// CreateNode validates, provisions the group's series table, then
// inserts the node row. The duplicate check runs before provisioning so
// a rejected request leaves no schema side effect; the insert still
// relies on the primary key, so two concurrent identical requests
// cannot both win.
//
// Provisioning and the insert are two steps on two stores: a crash in
// between leaves an unreferenced group table behind. Harmless, and the
// next registration in that group adopts it.
func (s *nodeService) CreateNode(ctx context.Context, cfg domain.NodeConfig) (*domain.EdgeNode, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.nodes.GetNode(ctx, cfg.NodeID); err == nil {
		return nil, domain.ErrNodeExists
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("check node existence: %w", err)
	}

	if err := s.provisioner.EnsureGroupTable(ctx, cfg.GroupID); err != nil {
		s.logger.Error("group table provisioning failed",
			zap.String("group_id", cfg.GroupID), zap.Error(err))
		return nil, err
	}

	// Gateway before the row: a gateway that refuses its configuration
	// leaves no registry record behind.
	if s.gateway != nil && cfg.IP != "" {
		gwCfg := NodeGatewayConfig{
			GroupID:     cfg.GroupID,
			NodeID:      cfg.NodeID,
			BrokerIP:    s.brokerIP,
			AppServices: cfg.AppServices,
		}
		if err := s.gateway.ConfigureNode(ctx, cfg.IP, gwCfg); err != nil {
			s.logger.Error("gateway configure failed",
				zap.String("node_id", cfg.NodeID), zap.Error(err))
			return nil, err
		}
		if s.brokerIP != "" && hasService(cfg.AppServices, mqttBridgeService) {
			if err := s.gateway.ConfigureMQTTBridge(ctx, cfg.IP, s.brokerIP); err != nil {
				s.logger.Error("gateway MQTT bridge configure failed",
					zap.String("node_id", cfg.NodeID), zap.Error(err))
				return nil, err
			}
		}
	}

	node := &domain.EdgeNode{
		NodeID:         cfg.NodeID,
		GroupID:        cfg.GroupID,
		IP:             cfg.IP,
		AppServices:    cfg.AppServices,
		DeviceServices: []string{},
	}
	if cfg.Description != "" {
		node.Description = sql.NullString{String: cfg.Description, Valid: true}
	}
	if err := s.nodes.CreateNode(ctx, node); err != nil {
		return nil, err
	}

	s.logger.Info("node registered",
		zap.String("node_id", node.NodeID), zap.String("group_id", node.GroupID))
	return node, nil
}

func hasService(services []string, name string) bool {
	for _, s := range services {
		if s == name {
			return true
		}
	}
	return false
}

func (s *nodeService) ListNodes(ctx context.Context) ([]*domain.EdgeNode, error) {
	return s.nodes.ListNodes(ctx)
}

func (s *nodeService) GetNode(ctx context.Context, nodeID string) (*domain.EdgeNode, error) {
	if nodeID == "" {
		return nil, &domain.ValidationError{Field: "node_id", Reason: "must not be empty"}
	}
	return s.nodes.GetNode(ctx, nodeID)
}

func (s *nodeService) AttachDeviceService(ctx context.Context, nodeID, deviceID string) error {
	if nodeID == "" || deviceID == "" {
		return &domain.ValidationError{Field: "node_id/device_id", Reason: "must not be empty"}
	}
	return s.nodes.AttachDeviceService(ctx, nodeID, deviceID)
}

func (s *nodeService) DetachDeviceService(ctx context.Context, nodeID, deviceID string) error {
	if nodeID == "" || deviceID == "" {
		return &domain.ValidationError{Field: "node_id/device_id", Reason: "must not be empty"}
	}
	return s.nodes.DetachDeviceService(ctx, nodeID, deviceID)
}
