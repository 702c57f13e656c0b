package domain

import (
	"database/sql"
	"net"
	"regexp"
	"strings"
)

// validIPv4 accepts dotted-quad v4 addresses only; ParseIP also takes
// v6 and shorthand forms, so the dot count pins it down.
func validIPv4(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil && strings.Count(s, ".") == 3
}

// Group ids name the per-group time-series table, so they must be safe
// SQL identifiers. 63 bytes is the Postgres identifier limit.
var groupIDPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func ValidateGroupID(groupID string) error {
	if groupID == "" || len(groupID) > 63 || !groupIDPattern.MatchString(groupID) {
		return &ValidationError{Field: "group_id", Reason: "must be a plain identifier (letters, digits, underscore)"}
	}
	return nil
}

// EdgeNode 对应 edge_nodes 表 — one row per registered gateway.
type EdgeNode struct {
	NodeID      string         `db:"node_id"`
	GroupID     string         `db:"group_id"`
	Description sql.NullString `db:"description"` // nullable
	IP          string         `db:"ip"`
	// Infrastructure services enabled on the node (e.g. mqtt_bridge).
	AppServices []string `db:"app_services"`
	// Device adapters attached to the node. Mutated through attach/detach
	// only; every id in here has a matching devices row.
	DeviceServices []string `db:"device_services"`
}

// ToJSON 转换为JSON格式（用于HTTP响应）
func (n *EdgeNode) ToJSON() map[string]any {
	m := map[string]any{
		"node_id":         n.NodeID,
		"group_id":        n.GroupID,
		"ip":              n.IP,
		"app_services":    emptyIfNil(n.AppServices),
		"device_services": emptyIfNil(n.DeviceServices),
	}
	if n.Description.Valid {
		m["description"] = n.Description.String
	} else {
		m["description"] = nil
	}
	return m
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// NodeConfig is the validated input for node registration.
type NodeConfig struct {
	GroupID     string   `json:"group_id"`
	NodeID      string   `json:"node_id"`
	Description string   `json:"description,omitempty"`
	IP          string   `json:"ip"`
	AppServices []string `json:"app_services"`
}

// Validate rejects the request before anything touches the store.
func (c *NodeConfig) Validate() error {
	if strings.TrimSpace(c.NodeID) == "" {
		return &ValidationError{Field: "node_id", Reason: "must not be empty"}
	}
	if err := ValidateGroupID(c.GroupID); err != nil {
		return err
	}
	if c.IP != "" && !validIPv4(c.IP) {
		return &ValidationError{Field: "ip", Reason: "must be a dotted IPv4 address"}
	}
	for _, svc := range c.AppServices {
		if strings.TrimSpace(svc) == "" {
			return &ValidationError{Field: "app_services", Reason: "entries must not be empty"}
		}
	}
	return nil
}

// Node 生命周期由行存在性推导，不存状态字段：
// UNREGISTERED -> REGISTERED (create) -> HAS_DEVICES (first device)
// -> DELETED (cascade delete, terminal).
