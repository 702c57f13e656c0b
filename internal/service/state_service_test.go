package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"edge-console/internal/domain"
	"edge-console/internal/repository"
	"edge-console/internal/store"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeKV is an in-process store.KV without expiry handling.
type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
	gets int
	sets int
}

func newFakeKV() *fakeKV { return &fakeKV{data: map[string]string{}} }

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	v, ok := f.data[key]
	if !ok {
		return "", store.ErrMiss
	}
	return v, nil
}

func (f *fakeKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	f.data[key] = value
	return nil
}

func (f *fakeKV) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func appendEvent(t *testing.T, reg *repository.MemoryRegistry, ev domain.StateEvent) {
	t.Helper()
	require.NoError(t, reg.AppendEvent(context.Background(), &ev))
}

func TestNodeStatesUsesCache(t *testing.T) {
	ctx := context.Background()
	reg := repository.NewMemoryRegistry()
	kv := newFakeKV()
	svc := NewStateService(reg, reg, reg, reg, reg, kv, zap.NewNop())

	at := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	appendEvent(t, reg, domain.StateEvent{
		Time: at, NodeID: "N1", MessageType: domain.MsgNodeBirth, State: "ONLINE",
	})

	first, err := svc.NodeStates(ctx)
	require.NoError(t, err)
	require.Equal(t, "ONLINE", first["N1"].State)
	require.Equal(t, 1, kv.sets)

	// second read is served from the snapshot even after the log moved on
	appendEvent(t, reg, domain.StateEvent{
		Time: at.Add(time.Minute), NodeID: "N1", MessageType: domain.MsgNodeDeath, State: "OFFLINE",
	})
	second, err := svc.NodeStates(ctx)
	require.NoError(t, err)
	require.Equal(t, "ONLINE", second["N1"].State)
	require.Equal(t, 1, kv.sets)

	// expiry drops the snapshot and the projection takes over again
	require.NoError(t, kv.Delete(ctx, "edge-console:node-state"))
	third, err := svc.NodeStates(ctx)
	require.NoError(t, err)
	require.Equal(t, "OFFLINE", third["N1"].State)
}

func TestNodeStatesWithoutCache(t *testing.T) {
	ctx := context.Background()
	reg := repository.NewMemoryRegistry()
	svc := NewStateService(reg, reg, reg, reg, reg, nil, zap.NewNop())

	out, err := svc.NodeStates(ctx)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestDeviceSummaryMergesStates(t *testing.T) {
	ctx := context.Background()
	reg := repository.NewMemoryRegistry()
	svc := NewStateService(reg, reg, reg, reg, reg, nil, zap.NewNop())

	seedNode(t, reg, "N1")
	for _, id := range []string{"D1", "D2"} {
		require.NoError(t, reg.InsertDevice(ctx, &domain.DeviceData{
			GroupID: "G1", NodeID: "N1", DeviceID: id, ProtocolType: domain.ProtocolUSB,
		}))
	}

	at := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	appendEvent(t, reg, domain.StateEvent{
		Time:        at,
		NodeID:      "N1",
		DeviceID:    sql.NullString{String: "D1", Valid: true},
		MessageType: domain.MsgDeviceBirth,
		State:       "ONLINE",
	})

	rows, err := svc.DeviceSummary(ctx, "N1")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byID := map[string]map[string]any{}
	for _, row := range rows {
		byID[row["device_id"].(string)] = row
	}
	require.Equal(t, "ONLINE", byID["D1"]["state"])
	require.Equal(t, at.Format(time.RFC3339), byID["D1"]["last_updated"])

	// D2 never reported
	require.Nil(t, byID["D2"]["state"])
	require.Equal(t, "-", byID["D2"]["last_updated"])
}

func TestDeviceMetrics(t *testing.T) {
	ctx := context.Background()
	reg := repository.NewMemoryRegistry()
	svc := NewStateService(reg, reg, reg, reg, reg, nil, zap.NewNop())

	seedNode(t, reg, "N1")
	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	require.NoError(t, reg.InsertMetrics(ctx, "G1", []domain.MetricPoint{
		{Time: base, DeviceID: "D1", SensorID: "temp", Value: 20.0},
		{Time: base.Add(time.Minute), DeviceID: "D1", SensorID: "temp", Value: 21.5},
		{Time: base, DeviceID: "D2", SensorID: "rpm", Value: 900},
	}))

	points, err := svc.DeviceMetrics(ctx, "N1", "D1", 10)
	require.NoError(t, err)
	require.Len(t, points, 2)
	// newest first
	require.Equal(t, 21.5, points[0].Value)

	// a device with no samples is an empty result, not an error
	points, err = svc.DeviceMetrics(ctx, "N1", "D9", 10)
	require.NoError(t, err)
	require.Empty(t, points)

	_, err = svc.DeviceMetrics(ctx, "ghost", "D1", 10)
	require.ErrorIs(t, err, domain.ErrNotFound)

	var vErr *domain.ValidationError
	_, err = svc.DeviceMetrics(ctx, "N1", "", 10)
	require.ErrorAs(t, err, &vErr)
}

func TestNodeDetails(t *testing.T) {
	ctx := context.Background()
	reg := repository.NewMemoryRegistry()
	svc := NewStateService(reg, reg, reg, reg, reg, nil, zap.NewNop())

	_, err := svc.NodeDetails(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	seedNode(t, reg, "N1")
	regSvc := NewRegistryService(reg, reg, nil, zap.NewNop())
	require.NoError(t, regSvc.RegisterDeviceWithTriggers(ctx, registerReq("N1", "D1")))

	details, err := svc.NodeDetails(ctx, "N1")
	require.NoError(t, err)
	require.Equal(t, "N1", details.NodeData["node_id"])
	require.Len(t, details.DeviceData, 1)
	require.Len(t, details.TriggersData, 1)
	require.Equal(t, "-", details.DeviceData[0]["last_updated"])
}
