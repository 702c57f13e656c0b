package domain

import (
	"database/sql"
	"time"
)

// Sparkplug-style lifecycle message types the gateways publish. Node
// births/deaths carry no device id; device births/deaths do.
const (
	MsgNodeBirth   = "NBIRTH"
	MsgNodeDeath   = "NDEATH"
	MsgDeviceBirth = "DBIRTH"
	MsgDeviceDeath = "DDEATH"
	MsgNodeData    = "NDATA"
	MsgDeviceData  = "DDATA"
	MsgState       = "STATE"
)

// DeviceLifecycleMessages filter the state log down to the rows that
// carry a device's online/offline transitions.
var DeviceLifecycleMessages = []string{MsgDeviceBirth, MsgDeviceDeath}

// StateEvent 对应 device_states 表 — append-only log of reported
// liveness/telemetry events. Rows are never updated; "latest state" is
// always derived from this log, never stored separately.
type StateEvent struct {
	Time   time.Time `db:"time"`
	NodeID string    `db:"node_id"`
	// Null means a node-level event.
	DeviceID    sql.NullString `db:"device_id"`
	MessageType string         `db:"message_type"`
	StateKey    string         `db:"state_key"`
	State       string         `db:"state"`
}

// NodeStateSnapshot is the latest known node-level state.
type NodeStateSnapshot struct {
	Time  time.Time `json:"time"`
	State string    `json:"state"`
}

// DeviceStateSnapshot is the latest birth/death-derived device state.
type DeviceStateSnapshot struct {
	State string    `json:"state"`
	Time  time.Time `json:"time"`
}

// MetricPoint is one sample bound for a group's time-series table
// (schema: time, device_id, sensor_id, metric_value).
type MetricPoint struct {
	Time     time.Time `json:"time"`
	DeviceID string    `json:"device_id"`
	SensorID string    `json:"sensor_id"`
	Value    any       `json:"metric_value"`
}
