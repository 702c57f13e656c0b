package domain

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	TriggerTypeProcess = "process_trigger"
	TriggerTypeData    = "data_trigger"
)

// Trigger 对应 triggers 表 — a condition gating sampling or signalling
// process state for one device. No uniqueness beyond the surrogate key;
// a device may carry any number of triggers.
type Trigger struct {
	TriggerID   int64           `db:"trigger_id"`
	TriggerType string          `db:"trigger_type"`
	NodeID      string          `db:"node_id"`
	DeviceID    string          `db:"device_id"`
	Topic       string          `db:"topic"`
	Source      json.RawMessage `db:"source"` // JSONB, protocol-specific
	Condition   string          `db:"condition"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   sql.NullTime    `db:"updated_at"` // nullable until first update
}

// ToJSON 转换为JSON格式（用于HTTP响应）
func (t *Trigger) ToJSON() map[string]any {
	m := map[string]any{
		"trigger_id":   t.TriggerID,
		"trigger_type": t.TriggerType,
		"node_id":      t.NodeID,
		"device_id":    t.DeviceID,
		"topic":        t.Topic,
		"source":       t.Source,
		"condition":    t.Condition,
		"created_at":   t.CreatedAt,
	}
	if t.UpdatedAt.Valid {
		m["updated_at"] = t.UpdatedAt.Time
	} else {
		m["updated_at"] = nil
	}
	return m
}

// TriggerInput is one row of a bulk trigger registration.
type TriggerInput struct {
	TriggerType string          `json:"trigger_type"`
	NodeID      string          `json:"node_id"`
	DeviceID    string          `json:"device_id"`
	Topic       string          `json:"topic"`
	Source      json.RawMessage `json:"source"`
	Condition   string          `json:"condition"`
}

// Validate rejects a malformed row; one bad row aborts the whole batch.
func (t *TriggerInput) Validate() error {
	if t.TriggerType != TriggerTypeProcess && t.TriggerType != TriggerTypeData {
		return &ValidationError{Field: "trigger_type",
			Reason: fmt.Sprintf("must be %q or %q", TriggerTypeProcess, TriggerTypeData)}
	}
	for field, v := range map[string]string{
		"node_id":   t.NodeID,
		"device_id": t.DeviceID,
		"topic":     t.Topic,
		"condition": t.Condition,
	} {
		if strings.TrimSpace(v) == "" {
			return &ValidationError{Field: field, Reason: "must not be empty"}
		}
	}
	if len(t.Source) == 0 {
		return &ValidationError{Field: "source", Reason: "must not be empty"}
	}
	var src map[string]any
	if err := json.Unmarshal(t.Source, &src); err != nil {
		return &ValidationError{Field: "source", Reason: "must be a JSON object"}
	}
	if len(src) == 0 {
		return &ValidationError{Field: "source", Reason: "must not be empty"}
	}
	return nil
}

// PLCSource is the source payload for S7comm-style data triggers: the
// variable the adapter reads and how to decode it.
type PLCSource struct {
	VariableType string `json:"variable_type,omitempty"`
	DBNumber     int    `json:"db_number"`
	Name         string `json:"name"`
	ReadSize     int    `json:"read_size"`
	DataType     string `json:"data_type"`
	ByteOffset   int    `json:"byte_offset"`
	BitOffset    int    `json:"bit_offset"`
	BoolIndex    *int   `json:"bool_index,omitempty"`
	Units        string `json:"units"`
}

// TopicRefSource references another device's topic, used when a trigger
// fires off a different adapter's published state (e.g. a USB
// microphone gated by a PLC process trigger).
type TopicRefSource struct {
	Topic       string `json:"topic"`
	TriggerType string `json:"trigger_type"`
}

// StateTopic builds the conventional publish topic for a device:
// spBv1.0/{group_id}/STATE/{node_id}/{device_id}.
func StateTopic(groupID, nodeID, deviceID string) string {
	return fmt.Sprintf("spBv1.0/%s/STATE/%s/%s", groupID, nodeID, deviceID)
}
