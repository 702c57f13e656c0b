package repository

import (
	"context"
	"database/sql"
	"fmt"

	"edge-console/internal/domain"
)

type PostgresDevicesRepo struct {
	db *sql.DB
}

func NewPostgresDevicesRepo(db *sql.DB) *PostgresDevicesRepo {
	return &PostgresDevicesRepo{db: db}
}

var _ DevicesRepository = (*PostgresDevicesRepo)(nil)

func (r *PostgresDevicesRepo) InsertDevice(ctx context.Context, device *domain.DeviceData) error {
	return insertDeviceExec(ctx, r.db, device)
}

// execer lets the insert run on *sql.DB or inside a *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertDeviceExec(ctx context.Context, db execer, device *domain.DeviceData) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO devices (group_id, node_id, device_id, protocol_type,
		                     alias, manufacturer, model, device_ip, device_port)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		device.GroupID,
		device.NodeID,
		device.DeviceID,
		device.ProtocolType,
		device.Alias,
		device.Manufacturer,
		device.Model,
		device.DeviceIP,
		device.DevicePort,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDeviceExists
		}
		return fmt.Errorf("insert devices: %w", err)
	}
	return nil
}

func (r *PostgresDevicesRepo) ListDevices(ctx context.Context, nodeID string) ([]*domain.DeviceData, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT group_id, node_id, device_id, protocol_type,
		       alias, manufacturer, model, device_ip, device_port
		FROM devices
		WHERE node_id = $1
		ORDER BY device_id`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	out := []*domain.DeviceData{}
	for rows.Next() {
		var d domain.DeviceData
		if err := rows.Scan(
			&d.GroupID,
			&d.NodeID,
			&d.DeviceID,
			&d.ProtocolType,
			&d.Alias,
			&d.Manufacturer,
			&d.Model,
			&d.DeviceIP,
			&d.DevicePort,
		); err != nil {
			return nil, fmt.Errorf("scan devices row: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
