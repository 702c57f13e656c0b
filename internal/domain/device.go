package domain

import (
	"database/sql"
	"strings"
)

// Protocol types the console ships adapters for.
const (
	ProtocolS7Comm = "S7comm"
	ProtocolUSB    = "USB"
)

// DeviceData 对应 devices 表 — one row per protocol adapter on a node.
// Identity is the full (group_id, node_id, device_id, protocol_type)
// key; device_id alone is additionally unique per node so that the
// node's flat device_services list stays unambiguous.
type DeviceData struct {
	GroupID      string         `db:"group_id"`
	NodeID       string         `db:"node_id"`
	DeviceID     string         `db:"device_id"`
	ProtocolType string         `db:"protocol_type"`
	Alias        sql.NullString `db:"alias"`        // nullable
	Manufacturer sql.NullString `db:"manufacturer"` // nullable
	Model        sql.NullString `db:"model"`        // nullable
	DeviceIP     sql.NullString `db:"device_ip"`    // nullable
	DevicePort   sql.NullInt32  `db:"device_port"`  // nullable
}

// Validate mirrors the registration schema: required keys non-empty,
// optional strings non-empty when present, IPv4 pattern, port 1–65535.
func (d *DeviceData) Validate() error {
	required := map[string]string{
		"group_id":      d.GroupID,
		"node_id":       d.NodeID,
		"device_id":     d.DeviceID,
		"protocol_type": d.ProtocolType,
	}
	for field, v := range required {
		if strings.TrimSpace(v) == "" {
			return &ValidationError{Field: field, Reason: "must not be empty"}
		}
	}
	optional := map[string]sql.NullString{
		"alias":        d.Alias,
		"manufacturer": d.Manufacturer,
		"model":        d.Model,
	}
	for field, v := range optional {
		if v.Valid && strings.TrimSpace(v.String) == "" {
			return &ValidationError{Field: field, Reason: "must not be empty or whitespace"}
		}
	}
	if d.DeviceIP.Valid && !validIPv4(d.DeviceIP.String) {
		return &ValidationError{Field: "device_ip", Reason: "must be a dotted IPv4 address"}
	}
	if d.DevicePort.Valid && (d.DevicePort.Int32 < 1 || d.DevicePort.Int32 > 65535) {
		return &ValidationError{Field: "device_port", Reason: "must be in range 1-65535"}
	}
	return nil
}

// ToJSON 转换为JSON格式（用于HTTP响应）
func (d *DeviceData) ToJSON() map[string]any {
	m := map[string]any{
		"group_id":      d.GroupID,
		"node_id":       d.NodeID,
		"device_id":     d.DeviceID,
		"protocol_type": d.ProtocolType,
	}
	putNullString(m, "alias", d.Alias)
	putNullString(m, "manufacturer", d.Manufacturer)
	putNullString(m, "model", d.Model)
	putNullString(m, "device_ip", d.DeviceIP)
	if d.DevicePort.Valid {
		m["device_port"] = d.DevicePort.Int32
	} else {
		m["device_port"] = nil
	}
	return m
}

func putNullString(m map[string]any, key string, v sql.NullString) {
	if v.Valid {
		m[key] = v.String
	} else {
		m[key] = nil
	}
}
