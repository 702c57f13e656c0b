package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"edge-console/internal/domain"

	"go.uber.org/zap"
)

// PostgresRegistrationsRepo runs the multi-entity transactions. Each
// operation is one BeginTx..Commit; any step failing rolls everything
// back, so no partial registration or partial cascade is ever visible.
type PostgresRegistrationsRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresRegistrationsRepo(db *sql.DB, logger *zap.Logger) *PostgresRegistrationsRepo {
	return &PostgresRegistrationsRepo{db: db, logger: logger}
}

var _ RegistrationsRepository = (*PostgresRegistrationsRepo)(nil)

func (r *PostgresRegistrationsRepo) RegisterDeviceWithTriggers(ctx context.Context, device *domain.DeviceData, triggers []domain.TriggerInput) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.TransactionError{Op: "register device", Err: err}
	}
	defer tx.Rollback()

	// Statement order is the contract: attach -> device row -> triggers.
	if err := attachDeviceServiceTx(ctx, tx, device.NodeID, device.DeviceID); err != nil {
		return err
	}
	if err := insertDeviceExec(ctx, tx, device); err != nil {
		return err
	}
	if len(triggers) > 0 {
		if err := bulkInsertTriggersTx(ctx, tx, triggers); err != nil {
			return &domain.TransactionError{Op: "register device", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &domain.TransactionError{Op: "register device", Err: err}
	}
	return nil
}

func (r *PostgresRegistrationsRepo) DeleteNodeCascade(ctx context.Context, nodeID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.TransactionError{Op: "delete node", Err: err}
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM devices WHERE node_id = $1`,
		`DELETE FROM triggers WHERE node_id = $1`,
		`DELETE FROM device_states WHERE node_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, nodeID); err != nil {
			return &domain.TransactionError{Op: "delete node", Err: err}
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM edge_nodes WHERE node_id = $1`, nodeID)
	if err != nil {
		return &domain.TransactionError{Op: "delete node", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return &domain.TransactionError{Op: "delete node", Err: err}
	}
	r.logger.Info("node deleted with cascade", zap.String("node_id", nodeID))
	return nil
}

func (r *PostgresRegistrationsRepo) DeleteDeviceCascade(ctx context.Context, nodeID, deviceID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.TransactionError{Op: "delete device", Err: err}
	}
	defer tx.Rollback()

	// Lock the node row first; also the existence check. A device that
	// was never registered is a no-op, a missing node is not.
	if err := detachDeviceServiceTx(ctx, tx, nodeID, deviceID); err != nil {
		return err
	}
	for _, q := range []string{
		`DELETE FROM devices WHERE node_id = $1 AND device_id = $2`,
		`DELETE FROM triggers WHERE node_id = $1 AND device_id = $2`,
		`DELETE FROM device_states WHERE node_id = $1 AND device_id = $2`,
	} {
		if _, err := tx.ExecContext(ctx, q, nodeID, deviceID); err != nil {
			return &domain.TransactionError{Op: "delete device", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &domain.TransactionError{Op: "delete device", Err: err}
	}
	r.logger.Info("device deleted with cascade",
		zap.String("node_id", nodeID), zap.String("device_id", deviceID))
	return nil
}

func detachDeviceServiceTx(ctx context.Context, tx *sql.Tx, nodeID, deviceID string) error {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT true FROM edge_nodes WHERE node_id = $1 FOR UPDATE`, nodeID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock edge_nodes row: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE edge_nodes SET device_services = array_remove(device_services, $2) WHERE node_id = $1`,
		nodeID, deviceID); err != nil {
		return fmt.Errorf("remove device service: %w", err)
	}
	return nil
}
