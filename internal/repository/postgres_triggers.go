package repository

import (
	"context"
	"database/sql"
	"fmt"

	"edge-console/internal/domain"
)

type PostgresTriggersRepo struct {
	db *sql.DB
}

func NewPostgresTriggersRepo(db *sql.DB) *PostgresTriggersRepo {
	return &PostgresTriggersRepo{db: db}
}

var _ TriggersRepository = (*PostgresTriggersRepo)(nil)

func (r *PostgresTriggersRepo) BulkInsertTriggers(ctx context.Context, triggers []domain.TriggerInput) error {
	if len(triggers) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.TransactionError{Op: "bulk insert triggers", Err: err}
	}
	defer tx.Rollback()

	if err := bulkInsertTriggersTx(ctx, tx, triggers); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &domain.TransactionError{Op: "bulk insert triggers", Err: err}
	}
	return nil
}

func bulkInsertTriggersTx(ctx context.Context, tx *sql.Tx, triggers []domain.TriggerInput) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO triggers (trigger_type, node_id, device_id, topic, source, condition)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return fmt.Errorf("prepare trigger insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range triggers {
		if _, err := stmt.ExecContext(ctx,
			t.TriggerType, t.NodeID, t.DeviceID, t.Topic, []byte(t.Source), t.Condition,
		); err != nil {
			return fmt.Errorf("insert trigger for device %s: %w", t.DeviceID, err)
		}
	}
	return nil
}

func (r *PostgresTriggersRepo) ListTriggers(ctx context.Context, nodeID string) ([]*domain.Trigger, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT trigger_id, trigger_type, node_id, device_id, topic, source, condition,
		       created_at, updated_at
		FROM triggers
		WHERE node_id = $1
		ORDER BY trigger_id`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()

	out := []*domain.Trigger{}
	for rows.Next() {
		var t domain.Trigger
		var source []byte
		if err := rows.Scan(
			&t.TriggerID,
			&t.TriggerType,
			&t.NodeID,
			&t.DeviceID,
			&t.Topic,
			&source,
			&t.Condition,
			&t.CreatedAt,
			&t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan triggers row: %w", err)
		}
		t.Source = source
		out = append(out, &t)
	}
	return out, rows.Err()
}
