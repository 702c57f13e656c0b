package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"edge-console/internal/domain"
)

// MemoryRegistry backs the whole registry when Postgres is not
// reachable (dev fallback) and in unit tests. One struct implements all
// the repository interfaces because the cross-entity transactions span
// every table; a single lock gives the same all-or-nothing visibility
// the Postgres transactions do. Validation happens before any mutation
// so a failed operation leaves the maps untouched.
type MemoryRegistry struct {
	mu sync.RWMutex

	nodes    map[string]*domain.EdgeNode
	devices  []*domain.DeviceData
	triggers []*domain.Trigger
	events   []*domain.StateEvent

	// per-group metric tables, created lazily like the hypertables
	metrics map[string][]domain.MetricPoint

	nextTriggerID int64
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		nodes:   map[string]*domain.EdgeNode{},
		metrics: map[string][]domain.MetricPoint{},
	}
}

var (
	_ NodesRepository         = (*MemoryRegistry)(nil)
	_ DevicesRepository       = (*MemoryRegistry)(nil)
	_ TriggersRepository      = (*MemoryRegistry)(nil)
	_ StatesRepository        = (*MemoryRegistry)(nil)
	_ RegistrationsRepository = (*MemoryRegistry)(nil)
	_ TimeSeriesRepository    = (*MemoryRegistry)(nil)
)

// ---- nodes ----

func (r *MemoryRegistry) CreateNode(_ context.Context, node *domain.EdgeNode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[node.NodeID]; ok {
		return domain.ErrNodeExists
	}
	n := *node
	n.AppServices = append([]string{}, node.AppServices...)
	n.DeviceServices = append([]string{}, node.DeviceServices...)
	r.nodes[node.NodeID] = &n
	return nil
}

func (r *MemoryRegistry) ListNodes(_ context.Context) ([]*domain.EdgeNode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.EdgeNode, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, copyNode(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

func (r *MemoryRegistry) GetNode(_ context.Context, nodeID string) (*domain.EdgeNode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[nodeID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyNode(n), nil
}

func (r *MemoryRegistry) AttachDeviceService(_ context.Context, nodeID, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attachLocked(nodeID, deviceID)
}

func (r *MemoryRegistry) attachLocked(nodeID, deviceID string) error {
	n, ok := r.nodes[nodeID]
	if !ok {
		return domain.ErrNotFound
	}
	for _, s := range n.DeviceServices {
		if s == deviceID {
			return domain.ErrAlreadyAttached
		}
	}
	n.DeviceServices = append(n.DeviceServices, deviceID)
	return nil
}

func (r *MemoryRegistry) DetachDeviceService(_ context.Context, nodeID, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detachLocked(nodeID, deviceID)
}

func (r *MemoryRegistry) detachLocked(nodeID, deviceID string) error {
	n, ok := r.nodes[nodeID]
	if !ok {
		return domain.ErrNotFound
	}
	for i, s := range n.DeviceServices {
		if s == deviceID {
			n.DeviceServices = append(n.DeviceServices[:i], n.DeviceServices[i+1:]...)
			break
		}
	}
	return nil
}

func copyNode(n *domain.EdgeNode) *domain.EdgeNode {
	c := *n
	c.AppServices = append([]string{}, n.AppServices...)
	c.DeviceServices = append([]string{}, n.DeviceServices...)
	return &c
}

// ---- devices ----

func (r *MemoryRegistry) InsertDevice(_ context.Context, device *domain.DeviceData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertDeviceLocked(device)
}

func (r *MemoryRegistry) insertDeviceLocked(device *domain.DeviceData) error {
	for _, d := range r.devices {
		// device_id is unique per node regardless of protocol, which also
		// covers the full four-part key.
		if d.NodeID == device.NodeID && d.DeviceID == device.DeviceID {
			return domain.ErrDeviceExists
		}
	}
	d := *device
	r.devices = append(r.devices, &d)
	return nil
}

func (r *MemoryRegistry) ListDevices(_ context.Context, nodeID string) ([]*domain.DeviceData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*domain.DeviceData{}
	for _, d := range r.devices {
		if d.NodeID == nodeID {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// ---- triggers ----

func (r *MemoryRegistry) BulkInsertTriggers(_ context.Context, triggers []domain.TriggerInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertTriggersLocked(triggers)
	return nil
}

func (r *MemoryRegistry) insertTriggersLocked(triggers []domain.TriggerInput) {
	now := time.Now().UTC()
	for _, t := range triggers {
		r.nextTriggerID++
		r.triggers = append(r.triggers, &domain.Trigger{
			TriggerID:   r.nextTriggerID,
			TriggerType: t.TriggerType,
			NodeID:      t.NodeID,
			DeviceID:    t.DeviceID,
			Topic:       t.Topic,
			Source:      append([]byte{}, t.Source...),
			Condition:   t.Condition,
			CreatedAt:   now,
		})
	}
}

func (r *MemoryRegistry) ListTriggers(_ context.Context, nodeID string) ([]*domain.Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*domain.Trigger{}
	for _, t := range r.triggers {
		if t.NodeID == nodeID {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

// ---- state log ----

func (r *MemoryRegistry) AppendEvent(_ context.Context, ev *domain.StateEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := *ev
	r.events = append(r.events, &e)
	return nil
}

func (r *MemoryRegistry) LatestNodeStates(_ context.Context) (map[string]domain.NodeStateSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	latest := map[string]*domain.StateEvent{}
	for _, ev := range r.events {
		if ev.DeviceID.Valid {
			continue
		}
		if cur, ok := latest[ev.NodeID]; !ok || laterEvent(ev, cur) {
			latest[ev.NodeID] = ev
		}
	}
	out := map[string]domain.NodeStateSnapshot{}
	for nodeID, ev := range latest {
		out[nodeID] = domain.NodeStateSnapshot{Time: ev.Time, State: ev.State}
	}
	return out, nil
}

func (r *MemoryRegistry) LatestDeviceStates(_ context.Context, nodeID string) (map[string]domain.DeviceStateSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	latest := map[string]*domain.StateEvent{}
	for _, ev := range r.events {
		if ev.NodeID != nodeID || !ev.DeviceID.Valid || !isLifecycleMessage(ev.MessageType) {
			continue
		}
		if cur, ok := latest[ev.DeviceID.String]; !ok || laterEvent(ev, cur) {
			latest[ev.DeviceID.String] = ev
		}
	}
	out := map[string]domain.DeviceStateSnapshot{}
	for deviceID, ev := range latest {
		out[deviceID] = domain.DeviceStateSnapshot{State: ev.State, Time: ev.Time}
	}
	return out, nil
}

// laterEvent matches the Postgres ordering: time DESC, then
// message_type DESC as the deterministic tie-break.
func laterEvent(a, b *domain.StateEvent) bool {
	if !a.Time.Equal(b.Time) {
		return a.Time.After(b.Time)
	}
	return strings.Compare(a.MessageType, b.MessageType) > 0
}

func isLifecycleMessage(msgType string) bool {
	for _, m := range domain.DeviceLifecycleMessages {
		if m == msgType {
			return true
		}
	}
	return false
}

// ---- registrations (cross-entity transactions) ----

func (r *MemoryRegistry) RegisterDeviceWithTriggers(_ context.Context, device *domain.DeviceData, triggers []domain.TriggerInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check every step before mutating anything so a late failure cannot
	// leave a partial registration.
	n, ok := r.nodes[device.NodeID]
	if !ok {
		return domain.ErrNotFound
	}
	for _, s := range n.DeviceServices {
		if s == device.DeviceID {
			return domain.ErrAlreadyAttached
		}
	}
	for _, d := range r.devices {
		if d.NodeID == device.NodeID && d.DeviceID == device.DeviceID {
			return domain.ErrDeviceExists
		}
	}

	n.DeviceServices = append(n.DeviceServices, device.DeviceID)
	d := *device
	r.devices = append(r.devices, &d)
	r.insertTriggersLocked(triggers)
	return nil
}

func (r *MemoryRegistry) DeleteNodeCascade(_ context.Context, nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[nodeID]; !ok {
		return domain.ErrNotFound
	}
	r.devices = filterDevices(r.devices, func(d *domain.DeviceData) bool { return d.NodeID != nodeID })
	r.triggers = filterTriggers(r.triggers, func(t *domain.Trigger) bool { return t.NodeID != nodeID })
	r.events = filterEvents(r.events, func(e *domain.StateEvent) bool { return e.NodeID != nodeID })
	delete(r.nodes, nodeID)
	return nil
}

func (r *MemoryRegistry) DeleteDeviceCascade(_ context.Context, nodeID, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[nodeID]; !ok {
		return domain.ErrNotFound
	}
	r.devices = filterDevices(r.devices, func(d *domain.DeviceData) bool {
		return d.NodeID != nodeID || d.DeviceID != deviceID
	})
	r.triggers = filterTriggers(r.triggers, func(t *domain.Trigger) bool {
		return t.NodeID != nodeID || t.DeviceID != deviceID
	})
	r.events = filterEvents(r.events, func(e *domain.StateEvent) bool {
		return e.NodeID != nodeID || !e.DeviceID.Valid || e.DeviceID.String != deviceID
	})
	return r.detachLocked(nodeID, deviceID)
}

func filterDevices(in []*domain.DeviceData, keep func(*domain.DeviceData) bool) []*domain.DeviceData {
	out := in[:0]
	for _, d := range in {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

func filterTriggers(in []*domain.Trigger, keep func(*domain.Trigger) bool) []*domain.Trigger {
	out := in[:0]
	for _, t := range in {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func filterEvents(in []*domain.StateEvent, keep func(*domain.StateEvent) bool) []*domain.StateEvent {
	out := in[:0]
	for _, e := range in {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// ---- time series ----

func (r *MemoryRegistry) InsertMetrics(_ context.Context, groupID string, points []domain.MetricPoint) error {
	if err := domain.ValidateGroupID(groupID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.metrics[groupID] = append(r.metrics[groupID], points...)
	return nil
}

func (r *MemoryRegistry) RecentMetrics(_ context.Context, groupID, deviceID string, since time.Time, limit int) ([]domain.MetricPoint, error) {
	if err := domain.ValidateGroupID(groupID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []domain.MetricPoint{}
	for _, p := range r.metrics[groupID] {
		if p.DeviceID == deviceID && !p.Time.Before(since) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EnsureGroupTable lets the registry stand in for the schema
// provisioner when running without a time-series store.
func (r *MemoryRegistry) EnsureGroupTable(_ context.Context, groupID string) error {
	if err := domain.ValidateGroupID(groupID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.metrics[groupID]; !ok {
		r.metrics[groupID] = []domain.MetricPoint{}
	}
	return nil
}
