package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"edge-console/internal/domain"

	"github.com/lib/pq"
)

// uniqueViolation is the Postgres error code surfaced as the
// domain-level duplicate errors.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

type PostgresNodesRepo struct {
	db *sql.DB
}

func NewPostgresNodesRepo(db *sql.DB) *PostgresNodesRepo {
	return &PostgresNodesRepo{db: db}
}

var _ NodesRepository = (*PostgresNodesRepo)(nil)

func (r *PostgresNodesRepo) CreateNode(ctx context.Context, node *domain.EdgeNode) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO edge_nodes (node_id, group_id, description, ip, app_services, device_services)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		node.NodeID,
		node.GroupID,
		node.Description,
		node.IP,
		pq.Array(node.AppServices),
		pq.Array(node.DeviceServices),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrNodeExists
		}
		return fmt.Errorf("insert edge_nodes: %w", err)
	}
	return nil
}

func (r *PostgresNodesRepo) ListNodes(ctx context.Context) ([]*domain.EdgeNode, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT node_id, group_id, description, ip, app_services, device_services
		FROM edge_nodes
		ORDER BY node_id`)
	if err != nil {
		return nil, fmt.Errorf("query edge_nodes: %w", err)
	}
	defer rows.Close()

	out := []*domain.EdgeNode{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *PostgresNodesRepo) GetNode(ctx context.Context, nodeID string) (*domain.EdgeNode, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT node_id, group_id, description, ip, app_services, device_services
		FROM edge_nodes
		WHERE node_id = $1`, nodeID)

	n, err := scanNode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*domain.EdgeNode, error) {
	var n domain.EdgeNode
	if err := row.Scan(
		&n.NodeID,
		&n.GroupID,
		&n.Description,
		&n.IP,
		pq.Array(&n.AppServices),
		pq.Array(&n.DeviceServices),
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan edge_nodes row: %w", err)
	}
	return &n, nil
}

func (r *PostgresNodesRepo) AttachDeviceService(ctx context.Context, nodeID, deviceID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.TransactionError{Op: "attach device service", Err: err}
	}
	defer tx.Rollback()

	if err := attachDeviceServiceTx(ctx, tx, nodeID, deviceID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &domain.TransactionError{Op: "attach device service", Err: err}
	}
	return nil
}

// attachDeviceServiceTx locks the node row so concurrent attach/detach
// on one node serialize. Shared with the registration transaction.
func attachDeviceServiceTx(ctx context.Context, tx *sql.Tx, nodeID, deviceID string) error {
	var services []string
	err := tx.QueryRowContext(ctx,
		`SELECT device_services FROM edge_nodes WHERE node_id = $1 FOR UPDATE`,
		nodeID).Scan(pq.Array(&services))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock edge_nodes row: %w", err)
	}
	for _, s := range services {
		if s == deviceID {
			return domain.ErrAlreadyAttached
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE edge_nodes SET device_services = array_append(device_services, $2) WHERE node_id = $1`,
		nodeID, deviceID); err != nil {
		return fmt.Errorf("append device service: %w", err)
	}
	return nil
}

func (r *PostgresNodesRepo) DetachDeviceService(ctx context.Context, nodeID, deviceID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE edge_nodes SET device_services = array_remove(device_services, $2) WHERE node_id = $1`,
		nodeID, deviceID)
	if err != nil {
		return fmt.Errorf("remove device service: %w", err)
	}
	// array_remove is a no-op when the id is absent; zero rows means the
	// node itself is missing.
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
