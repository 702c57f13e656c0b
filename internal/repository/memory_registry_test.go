package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"edge-console/internal/domain"

	"github.com/stretchr/testify/require"
)

func testNode(nodeID, groupID string) *domain.EdgeNode {
	return &domain.EdgeNode{
		NodeID:         nodeID,
		GroupID:        groupID,
		IP:             "192.168.1.20",
		AppServices:    []string{"mqtt_bridge"},
		DeviceServices: []string{},
	}
}

func testDevice(nodeID, deviceID, protocol string) *domain.DeviceData {
	return &domain.DeviceData{
		GroupID:      "G1",
		NodeID:       nodeID,
		DeviceID:     deviceID,
		ProtocolType: protocol,
	}
}

func testTrigger(nodeID, deviceID string) domain.TriggerInput {
	return domain.TriggerInput{
		TriggerType: domain.TriggerTypeData,
		NodeID:      nodeID,
		DeviceID:    deviceID,
		Topic:       domain.StateTopic("G1", nodeID, deviceID),
		Source:      json.RawMessage(`{"db_number":1,"name":"x","read_size":2,"data_type":"int","byte_offset":0,"bit_offset":0,"units":"c"}`),
		Condition:   "> 10",
	}
}

func TestCreateGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	in := testNode("N1", "G1")
	in.Description = sql.NullString{String: "line 4 gateway", Valid: true}
	require.NoError(t, reg.CreateNode(ctx, in))

	got, err := reg.GetNode(ctx, "N1")
	require.NoError(t, err)
	require.Equal(t, in, got)
}

func TestCreateNodeDuplicate(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	require.NoError(t, reg.CreateNode(ctx, testNode("N1", "G1")))
	err := reg.CreateNode(ctx, testNode("N1", "G2"))
	require.ErrorIs(t, err, domain.ErrNodeExists)

	// original row untouched
	got, err := reg.GetNode(ctx, "N1")
	require.NoError(t, err)
	require.Equal(t, "G1", got.GroupID)
}

func TestAttachDeviceServiceTwice(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	require.NoError(t, reg.CreateNode(ctx, testNode("N1", "G1")))

	require.NoError(t, reg.AttachDeviceService(ctx, "N1", "D1"))
	require.ErrorIs(t, reg.AttachDeviceService(ctx, "N1", "D1"), domain.ErrAlreadyAttached)

	got, err := reg.GetNode(ctx, "N1")
	require.NoError(t, err)
	require.Equal(t, []string{"D1"}, got.DeviceServices)

	require.ErrorIs(t, reg.AttachDeviceService(ctx, "missing", "D1"), domain.ErrNotFound)
}

func TestDetachDeviceServiceNoop(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	require.NoError(t, reg.CreateNode(ctx, testNode("N1", "G1")))

	// detaching something never attached is not an error
	require.NoError(t, reg.DetachDeviceService(ctx, "N1", "D1"))
	require.ErrorIs(t, reg.DetachDeviceService(ctx, "missing", "D1"), domain.ErrNotFound)
}

func TestInsertDeviceDuplicate(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	require.NoError(t, reg.CreateNode(ctx, testNode("N1", "G1")))
	require.NoError(t, reg.InsertDevice(ctx, testDevice("N1", "D1", domain.ProtocolS7Comm)))

	// same four-part key
	require.ErrorIs(t, reg.InsertDevice(ctx, testDevice("N1", "D1", domain.ProtocolS7Comm)), domain.ErrDeviceExists)
	// same device_id, different protocol — still rejected per node
	require.ErrorIs(t, reg.InsertDevice(ctx, testDevice("N1", "D1", domain.ProtocolUSB)), domain.ErrDeviceExists)

	devices, err := reg.ListDevices(ctx, "N1")
	require.NoError(t, err)
	require.Len(t, devices, 1)
}

func TestListDevicesEmpty(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	require.NoError(t, reg.CreateNode(ctx, testNode("N1", "G1")))

	devices, err := reg.ListDevices(ctx, "N1")
	require.NoError(t, err)
	require.Empty(t, devices)
}

func TestRegisterDeviceWithTriggersAtomic(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	require.NoError(t, reg.CreateNode(ctx, testNode("N1", "G1")))

	dev := testDevice("N1", "D1", domain.ProtocolUSB)
	triggers := []domain.TriggerInput{testTrigger("N1", "D1"), testTrigger("N1", "D1")}
	require.NoError(t, reg.RegisterDeviceWithTriggers(ctx, dev, triggers))

	node, err := reg.GetNode(ctx, "N1")
	require.NoError(t, err)
	require.Equal(t, []string{"D1"}, node.DeviceServices)

	got, err := reg.ListTriggers(ctx, "N1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotZero(t, got[0].TriggerID)
	require.NotEqual(t, got[0].TriggerID, got[1].TriggerID)

	// second registration of the same device changes nothing
	err = reg.RegisterDeviceWithTriggers(ctx, testDevice("N1", "D1", domain.ProtocolUSB), nil)
	require.ErrorIs(t, err, domain.ErrAlreadyAttached)
	devices, err := reg.ListDevices(ctx, "N1")
	require.NoError(t, err)
	require.Len(t, devices, 1)

	// missing node leaves no triggers behind
	err = reg.RegisterDeviceWithTriggers(ctx, testDevice("ghost", "D9", domain.ProtocolUSB),
		[]domain.TriggerInput{testTrigger("ghost", "D9")})
	require.ErrorIs(t, err, domain.ErrNotFound)
	got, err = reg.ListTriggers(ctx, "ghost")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDeleteNodeCascade(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	require.NoError(t, reg.CreateNode(ctx, testNode("N1", "G1")))
	require.NoError(t, reg.RegisterDeviceWithTriggers(ctx,
		testDevice("N1", "D1", domain.ProtocolS7Comm),
		[]domain.TriggerInput{testTrigger("N1", "D1")}))
	require.NoError(t, reg.AppendEvent(ctx, &domain.StateEvent{
		Time: time.Now(), NodeID: "N1", MessageType: domain.MsgNodeBirth, State: "ONLINE",
	}))

	require.NoError(t, reg.DeleteNodeCascade(ctx, "N1"))

	_, err := reg.GetNode(ctx, "N1")
	require.ErrorIs(t, err, domain.ErrNotFound)
	devices, err := reg.ListDevices(ctx, "N1")
	require.NoError(t, err)
	require.Empty(t, devices)
	triggers, err := reg.ListTriggers(ctx, "N1")
	require.NoError(t, err)
	require.Empty(t, triggers)
	states, err := reg.LatestNodeStates(ctx)
	require.NoError(t, err)
	require.NotContains(t, states, "N1")

	require.ErrorIs(t, reg.DeleteNodeCascade(ctx, "N1"), domain.ErrNotFound)
}

func TestDeleteDeviceCascade(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	require.NoError(t, reg.CreateNode(ctx, testNode("N1", "G1")))
	require.NoError(t, reg.RegisterDeviceWithTriggers(ctx,
		testDevice("N1", "D1", domain.ProtocolS7Comm),
		[]domain.TriggerInput{testTrigger("N1", "D1")}))

	require.NoError(t, reg.DeleteDeviceCascade(ctx, "N1", "D1"))

	devices, err := reg.ListDevices(ctx, "N1")
	require.NoError(t, err)
	require.Empty(t, devices)
	triggers, err := reg.ListTriggers(ctx, "N1")
	require.NoError(t, err)
	require.Empty(t, triggers)
	node, err := reg.GetNode(ctx, "N1")
	require.NoError(t, err)
	require.Empty(t, node.DeviceServices)

	// deleting a device that never existed is a no-op success
	require.NoError(t, reg.DeleteDeviceCascade(ctx, "N1", "never-there"))
	// but the node must exist
	require.ErrorIs(t, reg.DeleteDeviceCascade(ctx, "ghost", "D1"), domain.ErrNotFound)
}

func TestLatestNodeStates(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, state := range []string{"OFFLINE", "ONLINE", "OFFLINE"} {
		require.NoError(t, reg.AppendEvent(ctx, &domain.StateEvent{
			Time:        base.Add(time.Duration(i) * time.Minute),
			NodeID:      "N1",
			MessageType: domain.MsgState,
			State:       state,
		}))
	}
	// device-level events never show up in the node projection
	require.NoError(t, reg.AppendEvent(ctx, &domain.StateEvent{
		Time:        base.Add(time.Hour),
		NodeID:      "N1",
		DeviceID:    sql.NullString{String: "D1", Valid: true},
		MessageType: domain.MsgDeviceBirth,
		State:       "ONLINE",
	}))

	states, err := reg.LatestNodeStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.Equal(t, "OFFLINE", states["N1"].State)
	require.Equal(t, base.Add(2*time.Minute), states["N1"].Time)
}

func TestLatestNodeStatesTieBreak(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, reg.AppendEvent(ctx, &domain.StateEvent{
		Time: ts, NodeID: "N1", MessageType: domain.MsgNodeBirth, State: "ONLINE",
	}))
	require.NoError(t, reg.AppendEvent(ctx, &domain.StateEvent{
		Time: ts, NodeID: "N1", MessageType: domain.MsgNodeDeath, State: "OFFLINE",
	}))

	// same timestamp: message_type descending wins (NDEATH > NBIRTH)
	states, err := reg.LatestNodeStates(ctx)
	require.NoError(t, err)
	require.Equal(t, "OFFLINE", states["N1"].State)
}

func TestLatestDeviceStatesFiltersLifecycle(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d1 := sql.NullString{String: "D1", Valid: true}
	require.NoError(t, reg.AppendEvent(ctx, &domain.StateEvent{
		Time: base, NodeID: "N1", DeviceID: d1, MessageType: domain.MsgDeviceBirth, State: "ONLINE",
	}))
	require.NoError(t, reg.AppendEvent(ctx, &domain.StateEvent{
		Time: base.Add(time.Minute), NodeID: "N1", DeviceID: d1, MessageType: domain.MsgDeviceDeath, State: "OFFLINE",
	}))
	// DDATA is not a lifecycle marker
	require.NoError(t, reg.AppendEvent(ctx, &domain.StateEvent{
		Time: base.Add(2 * time.Minute), NodeID: "N1", DeviceID: d1, MessageType: domain.MsgDeviceData, State: "42",
	}))

	states, err := reg.LatestDeviceStates(ctx, "N1")
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.Equal(t, "OFFLINE", states["D1"].State)
	require.Equal(t, base.Add(time.Minute), states["D1"].Time)
}

func TestMetricsInsertAndQuery(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	require.NoError(t, reg.EnsureGroupTable(ctx, "G1"))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	points := []domain.MetricPoint{
		{Time: base, DeviceID: "D1", SensorID: "temp", Value: 21.5},
		{Time: base.Add(time.Minute), DeviceID: "D1", SensorID: "temp", Value: 22.0},
		{Time: base.Add(time.Minute), DeviceID: "D2", SensorID: "temp", Value: 30.0},
	}
	require.NoError(t, reg.InsertMetrics(ctx, "G1", points))

	got, err := reg.RecentMetrics(ctx, "G1", "D1", base, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// newest first
	require.Equal(t, 22.0, got[0].Value)

	_, err = reg.RecentMetrics(ctx, "bad-group!", "D1", base, 10)
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
}
