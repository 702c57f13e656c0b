package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"edge-console/internal/domain"

	"github.com/lib/pq"
)

// PostgresTimeSeriesRepo reads and writes the per-group hypertables on
// the time-series store. Table names come from group ids, validated as
// plain identifiers before they reach DDL or DML.
type PostgresTimeSeriesRepo struct {
	db *sql.DB
}

func NewPostgresTimeSeriesRepo(db *sql.DB) *PostgresTimeSeriesRepo {
	return &PostgresTimeSeriesRepo{db: db}
}

var _ TimeSeriesRepository = (*PostgresTimeSeriesRepo)(nil)

func (r *PostgresTimeSeriesRepo) InsertMetrics(ctx context.Context, groupID string, points []domain.MetricPoint) error {
	if err := domain.ValidateGroupID(groupID); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.TransactionError{Op: "insert metrics", Err: err}
	}
	defer tx.Rollback()

	q := fmt.Sprintf(`
		INSERT INTO %s (time, device_id, sensor_id, metric_value)
		VALUES ($1, $2, $3, $4)`, pq.QuoteIdentifier(groupID))
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("prepare metric insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		value, err := json.Marshal(p.Value)
		if err != nil {
			return &domain.ValidationError{Field: "metric_value", Reason: "not JSON-encodable"}
		}
		if _, err := stmt.ExecContext(ctx, p.Time, p.DeviceID, p.SensorID, value); err != nil {
			return fmt.Errorf("insert metric for %s/%s: %w", p.DeviceID, p.SensorID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return &domain.TransactionError{Op: "insert metrics", Err: err}
	}
	return nil
}

func (r *PostgresTimeSeriesRepo) RecentMetrics(ctx context.Context, groupID, deviceID string, since time.Time, limit int) ([]domain.MetricPoint, error) {
	if err := domain.ValidateGroupID(groupID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	q := fmt.Sprintf(`
		SELECT time, device_id, sensor_id, metric_value
		FROM %s
		WHERE device_id = $1 AND time >= $2
		ORDER BY time DESC
		LIMIT $3`, pq.QuoteIdentifier(groupID))

	rows, err := r.db.QueryContext(ctx, q, deviceID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	out := []domain.MetricPoint{}
	for rows.Next() {
		var p domain.MetricPoint
		var raw []byte
		if err := rows.Scan(&p.Time, &p.DeviceID, &p.SensorID, &raw); err != nil {
			return nil, fmt.Errorf("scan metric row: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p.Value); err != nil {
				p.Value = string(raw)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
