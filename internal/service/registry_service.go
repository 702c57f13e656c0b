package service

import (
	"context"

	"edge-console/internal/domain"
	"edge-console/internal/repository"

	"go.uber.org/zap"
)

// RegistryService coordinates the multi-entity operations: device
// registration with triggers, and the cascade deletes. When a gateway
// client is configured, registrations and deletes are pushed to the
// physical gateway first and the database is only touched after the
// gateway accepted.
type RegistryService interface {
	RegisterDeviceWithTriggers(ctx context.Context, req RegisterDeviceRequest) error
	DeleteNodeCascade(ctx context.Context, nodeID string) error
	DeleteDeviceCascade(ctx context.Context, nodeID, deviceID string) error
}

// RegisterDeviceRequest 设备注册请求（device + triggers 原子写入）
type RegisterDeviceRequest struct {
	Device   domain.DeviceData
	Triggers []domain.TriggerInput
}

type registryService struct {
	registrations repository.RegistrationsRepository
	nodes         repository.NodesRepository
	gateway       *GatewayClient // optional
	logger        *zap.Logger
}

func NewRegistryService(
	registrations repository.RegistrationsRepository,
	nodes repository.NodesRepository,
	gateway *GatewayClient,
	logger *zap.Logger,
) RegistryService {
	return &registryService{
		registrations: registrations,
		nodes:         nodes,
		gateway:       gateway,
		logger:        logger,
	}
}

func (s *registryService) RegisterDeviceWithTriggers(ctx context.Context, req RegisterDeviceRequest) error {
	if err := req.Device.Validate(); err != nil {
		return err
	}
	for i := range req.Triggers {
		t := &req.Triggers[i]
		if err := t.Validate(); err != nil {
			return err
		}
		// Triggers belong to the device being registered.
		if t.NodeID != req.Device.NodeID || t.DeviceID != req.Device.DeviceID {
			return &domain.ValidationError{Field: "triggers",
				Reason: "node_id/device_id must match the device being registered"}
		}
	}

	// The gateway spins up the adapter container first; if it refuses,
	// nothing is persisted.
	if s.gateway != nil {
		node, err := s.nodes.GetNode(ctx, req.Device.NodeID)
		if err != nil {
			return err
		}
		if node.IP != "" {
			if err := s.gateway.AddDevice(ctx, node.IP, req.Device.ProtocolType, req.Device.ToJSON()); err != nil {
				s.logger.Error("gateway add device failed",
					zap.String("node_id", req.Device.NodeID),
					zap.String("device_id", req.Device.DeviceID), zap.Error(err))
				return err
			}
		}
	}

	if err := s.registrations.RegisterDeviceWithTriggers(ctx, &req.Device, req.Triggers); err != nil {
		return err
	}
	s.logger.Info("device registered",
		zap.String("node_id", req.Device.NodeID),
		zap.String("device_id", req.Device.DeviceID),
		zap.String("protocol_type", req.Device.ProtocolType),
		zap.Int("triggers", len(req.Triggers)),
	)
	return nil
}

func (s *registryService) DeleteNodeCascade(ctx context.Context, nodeID string) error {
	if nodeID == "" {
		return &domain.ValidationError{Field: "node_id", Reason: "must not be empty"}
	}
	node, err := s.nodes.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}

	// Gateway first: if it refuses, registry state stays untouched.
	if s.gateway != nil && node.IP != "" {
		if err := s.gateway.DeleteNode(ctx, node.IP); err != nil {
			s.logger.Error("gateway node delete failed",
				zap.String("node_id", nodeID), zap.Error(err))
			return err
		}
	}
	return s.registrations.DeleteNodeCascade(ctx, nodeID)
}

func (s *registryService) DeleteDeviceCascade(ctx context.Context, nodeID, deviceID string) error {
	if nodeID == "" || deviceID == "" {
		return &domain.ValidationError{Field: "node_id/device_id", Reason: "must not be empty"}
	}
	node, err := s.nodes.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}

	if s.gateway != nil && node.IP != "" {
		if err := s.gateway.DeleteDeviceService(ctx, node.IP, deviceID); err != nil {
			s.logger.Error("gateway device delete failed",
				zap.String("node_id", nodeID),
				zap.String("device_id", deviceID), zap.Error(err))
			return err
		}
	}
	return s.registrations.DeleteDeviceCascade(ctx, nodeID, deviceID)
}
