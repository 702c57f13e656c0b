package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"edge-console/internal/domain"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// coreTableDDL creates the metadata tables on the relational store.
// Idempotent; runs once at startup and the process does not come up if
// it fails.
var coreTableDDL = []string{
	`CREATE TABLE IF NOT EXISTS edge_nodes (
		node_id         TEXT PRIMARY KEY,
		group_id        TEXT NOT NULL,
		description     TEXT,
		ip              TEXT NOT NULL DEFAULT '',
		app_services    TEXT[] NOT NULL DEFAULT '{}',
		device_services TEXT[] NOT NULL DEFAULT '{}'
	)`,
	`CREATE TABLE IF NOT EXISTS device_states (
		time         TIMESTAMPTZ NOT NULL,
		node_id      TEXT NOT NULL,
		device_id    TEXT,
		message_type TEXT NOT NULL,
		state_key    TEXT,
		state        TEXT,
		PRIMARY KEY (time, node_id, message_type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_device_states_node_time
		ON device_states (node_id, time DESC)`,
	`CREATE TABLE IF NOT EXISTS devices (
		group_id      TEXT NOT NULL,
		node_id       TEXT NOT NULL,
		device_id     TEXT NOT NULL,
		protocol_type TEXT NOT NULL,
		alias         TEXT,
		manufacturer  TEXT,
		model         TEXT,
		device_ip     TEXT,
		device_port   INTEGER,
		PRIMARY KEY (group_id, node_id, device_id, protocol_type)
	)`,
	// device_id is additionally unique per node so the flat
	// device_services list on the node stays unambiguous.
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_devices_node_device
		ON devices (node_id, device_id)`,
	`CREATE TABLE IF NOT EXISTS triggers (
		trigger_id   BIGSERIAL PRIMARY KEY,
		trigger_type TEXT NOT NULL,
		node_id      TEXT NOT NULL,
		device_id    TEXT NOT NULL,
		topic        TEXT NOT NULL,
		source       JSONB NOT NULL,
		condition    TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_triggers_node ON triggers (node_id)`,
}

// Provisioner owns schema existence for both stores: the fixed core
// tables on the relational side and the lazily-created per-group
// hypertables on the time-series side. There is no drop path — deleting
// the last node of a group does not reclaim its table.
type Provisioner struct {
	relational *sql.DB
	timescale  *sql.DB
	logger     *zap.Logger

	mu sync.Mutex
	// process-local cache of groups whose table is known to exist; a
	// miss falls back to a store-level existence check, so a second
	// console instance creating the table first is fine.
	knownGroups map[string]bool
}

func NewProvisioner(relational, timescale *sql.DB, logger *zap.Logger) *Provisioner {
	return &Provisioner{
		relational:  relational,
		timescale:   timescale,
		logger:      logger,
		knownGroups: map[string]bool{},
	}
}

// EnsureCoreTables idempotently creates the metadata tables.
func (p *Provisioner) EnsureCoreTables(ctx context.Context) error {
	for _, ddl := range coreTableDDL {
		if _, err := p.relational.ExecContext(ctx, ddl); err != nil {
			return &domain.ProvisioningError{Table: "core tables", Err: err}
		}
	}
	p.logger.Info("core tables ensured")
	return nil
}

// EnsureGroupTable creates the group's time-series table and converts
// it to a hypertable, lazily on the first node registration in the
// group. CREATE IF NOT EXISTS plus create_hypertable's if_not_exists
// make concurrent first-use from two nodes in a new group safe without
// an application lock.
func (p *Provisioner) EnsureGroupTable(ctx context.Context, groupID string) error {
	if err := domain.ValidateGroupID(groupID); err != nil {
		return err
	}

	p.mu.Lock()
	known := p.knownGroups[groupID]
	p.mu.Unlock()
	if known {
		return nil
	}

	var exists bool
	err := p.timescale.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, groupID).Scan(&exists)
	if err != nil {
		return &domain.ProvisioningError{Table: groupID, Err: err}
	}

	if !exists {
		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				time         TIMESTAMPTZ NOT NULL,
				device_id    TEXT NOT NULL,
				sensor_id    TEXT NOT NULL,
				metric_value JSONB,
				PRIMARY KEY (time, device_id, sensor_id)
			)`, pq.QuoteIdentifier(groupID))
		if _, err := p.timescale.ExecContext(ctx, ddl); err != nil {
			return &domain.ProvisioningError{Table: groupID, Err: err}
		}
		if _, err := p.timescale.ExecContext(ctx,
			`SELECT create_hypertable($1, 'time', if_not_exists => TRUE)`, groupID); err != nil {
			return &domain.ProvisioningError{Table: groupID, Err: err}
		}
		p.logger.Info("group series table created", zap.String("group_id", groupID))
	}

	p.mu.Lock()
	p.knownGroups[groupID] = true
	p.mu.Unlock()
	return nil
}
