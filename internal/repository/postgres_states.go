package repository

import (
	"context"
	"database/sql"
	"fmt"

	"edge-console/internal/domain"

	"github.com/lib/pq"
)

type PostgresStatesRepo struct {
	db *sql.DB
}

func NewPostgresStatesRepo(db *sql.DB) *PostgresStatesRepo {
	return &PostgresStatesRepo{db: db}
}

var _ StatesRepository = (*PostgresStatesRepo)(nil)

func (r *PostgresStatesRepo) AppendEvent(ctx context.Context, ev *domain.StateEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_states (time, node_id, device_id, message_type, state_key, state)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.Time, ev.NodeID, ev.DeviceID, ev.MessageType, ev.StateKey, ev.State,
	)
	if err != nil {
		return fmt.Errorf("insert device_states: %w", err)
	}
	return nil
}

// LatestNodeStates projects the log down to one row per node.
// DISTINCT ON with (time DESC, message_type DESC) makes the pick
// deterministic when two events share a timestamp.
func (r *PostgresStatesRepo) LatestNodeStates(ctx context.Context) (map[string]domain.NodeStateSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT ON (node_id) node_id, time, state
		FROM device_states
		WHERE device_id IS NULL
		ORDER BY node_id, time DESC, message_type DESC`)
	if err != nil {
		return nil, fmt.Errorf("query latest node states: %w", err)
	}
	defer rows.Close()

	out := map[string]domain.NodeStateSnapshot{}
	for rows.Next() {
		var nodeID string
		var snap domain.NodeStateSnapshot
		if err := rows.Scan(&nodeID, &snap.Time, &snap.State); err != nil {
			return nil, fmt.Errorf("scan node state row: %w", err)
		}
		out[nodeID] = snap
	}
	return out, rows.Err()
}

func (r *PostgresStatesRepo) LatestDeviceStates(ctx context.Context, nodeID string) (map[string]domain.DeviceStateSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT ON (device_id) device_id, state, time
		FROM device_states
		WHERE node_id = $1 AND device_id IS NOT NULL AND message_type = ANY($2)
		ORDER BY device_id, time DESC, message_type DESC`,
		nodeID, pq.Array(domain.DeviceLifecycleMessages))
	if err != nil {
		return nil, fmt.Errorf("query latest device states: %w", err)
	}
	defer rows.Close()

	out := map[string]domain.DeviceStateSnapshot{}
	for rows.Next() {
		var deviceID string
		var snap domain.DeviceStateSnapshot
		if err := rows.Scan(&deviceID, &snap.State, &snap.Time); err != nil {
			return nil, fmt.Errorf("scan device state row: %w", err)
		}
		out[deviceID] = snap
	}
	return out, rows.Err()
}
