package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"edge-console/internal/domain"
	"edge-console/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBroker() (*StateBroker, *repository.MemoryRegistry) {
	reg := repository.NewMemoryRegistry()
	return NewStateBroker(reg, reg, "spBv1.0", zap.NewNop()), reg
}

func statePayloadJSON(t *testing.T, state string, ts int64) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"state_key": "lifecycle",
		"state":     state,
		"timestamp": ts,
	})
	require.NoError(t, err)
	return raw
}

func TestSubscriptionTopic(t *testing.T) {
	b, _ := newTestBroker()
	require.Equal(t, "spBv1.0/#", b.SubscriptionTopic())
}

func TestParseTopic(t *testing.T) {
	b, _ := newTestBroker()

	p, err := b.parseTopic("spBv1.0/G1/NBIRTH/N1")
	require.NoError(t, err)
	require.Equal(t, "G1", p.GroupID)
	require.Equal(t, domain.MsgNodeBirth, p.MessageType)
	require.Equal(t, "N1", p.NodeID)
	require.Empty(t, p.DeviceID)

	p, err = b.parseTopic("spBv1.0/G1/DBIRTH/N1/D1")
	require.NoError(t, err)
	require.Equal(t, "D1", p.DeviceID)

	for _, topic := range []string{
		"spBv1.0/G1",
		"spBv1.0/G1/NBIRTH/N1/D1/extra",
		"otherns/G1/NBIRTH/N1",
		"spBv1.0//NBIRTH/N1",
	} {
		_, err := b.parseTopic(topic)
		require.Error(t, err, topic)
	}
}

func TestHandleNodeLifecycleMessage(t *testing.T) {
	b, reg := newTestBroker()

	at := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	err := b.HandleMessage("spBv1.0/G1/NBIRTH/N1", statePayloadJSON(t, "ONLINE", at.UnixMilli()))
	require.NoError(t, err)

	states, err := reg.LatestNodeStates(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ONLINE", states["N1"].State)
	require.True(t, states["N1"].Time.Equal(at))
}

func TestHandleDeviceLifecycleMessage(t *testing.T) {
	b, reg := newTestBroker()

	err := b.HandleMessage("spBv1.0/G1/DBIRTH/N1/D1", statePayloadJSON(t, "ONLINE", 0))
	require.NoError(t, err)
	err = b.HandleMessage("spBv1.0/G1/DDEATH/N1/D1",
		statePayloadJSON(t, "OFFLINE", time.Now().Add(time.Second).UnixMilli()))
	require.NoError(t, err)

	states, err := reg.LatestDeviceStates(context.Background(), "N1")
	require.NoError(t, err)
	require.Equal(t, "OFFLINE", states["D1"].State)

	// device events stay out of the node projection
	nodeStates, err := reg.LatestNodeStates(context.Background())
	require.NoError(t, err)
	require.Empty(t, nodeStates)
}

func TestHandleDeviceDataMessage(t *testing.T) {
	b, reg := newTestBroker()

	payload, err := json.Marshal(map[string]any{
		"timestamp": time.Now().UnixMilli(),
		"metrics": []map[string]any{
			{"sensor_id": "temp", "value": 21.5},
			{"sensor_id": "", "value": 1}, // skipped
		},
	})
	require.NoError(t, err)

	require.NoError(t, b.HandleMessage("spBv1.0/G1/DDATA/N1/D1", payload))

	points, err := reg.RecentMetrics(context.Background(), "G1", "D1", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.Equal(t, "D1", points[0].DeviceID)
	require.Equal(t, "temp", points[0].SensorID)

	// NDATA lands under the node id
	require.NoError(t, b.HandleMessage("spBv1.0/G1/NDATA/N1", payload))
	points, err = reg.RecentMetrics(context.Background(), "G1", "N1", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.Equal(t, "N1", points[0].DeviceID)
}

func TestDeviceLifecycleWithoutDeviceSegmentRejected(t *testing.T) {
	b, reg := newTestBroker()

	for _, msgType := range domain.DeviceLifecycleMessages {
		err := b.HandleMessage("spBv1.0/G1/"+msgType+"/N1", statePayloadJSON(t, "ONLINE", 0))
		require.Error(t, err, msgType)
	}

	// nothing landed in the log, so both projections stay empty
	nodeStates, err := reg.LatestNodeStates(context.Background())
	require.NoError(t, err)
	require.Empty(t, nodeStates)

	deviceStates, err := reg.LatestDeviceStates(context.Background(), "N1")
	require.NoError(t, err)
	require.Empty(t, deviceStates)
}

func TestHandleMessageBadPayload(t *testing.T) {
	b, reg := newTestBroker()

	require.Error(t, b.HandleMessage("spBv1.0/G1/NBIRTH/N1", []byte("{broken")))
	states, err := reg.LatestNodeStates(context.Background())
	require.NoError(t, err)
	require.Empty(t, states)
}
