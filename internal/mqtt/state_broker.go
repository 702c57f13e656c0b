package mqtt

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"edge-console/internal/domain"
	"edge-console/internal/repository"

	"go.uber.org/zap"
)

// StateBroker ingests what the gateways publish. Topics follow
// {root}/{group_id}/{message_type}/{node_id}[/{device_id}]:
// birth/death/state messages append to the state log, NDATA/DDATA
// carry metric samples for the group's series table.
type StateBroker struct {
	states     repository.StatesRepository
	timeseries repository.TimeSeriesRepository
	topicRoot  string
	logger     *zap.Logger
}

func NewStateBroker(
	states repository.StatesRepository,
	timeseries repository.TimeSeriesRepository,
	topicRoot string,
	logger *zap.Logger,
) *StateBroker {
	return &StateBroker{
		states:     states,
		timeseries: timeseries,
		topicRoot:  topicRoot,
		logger:     logger,
	}
}

// SubscriptionTopic covers every message under the scheme root.
func (b *StateBroker) SubscriptionTopic() string {
	return b.topicRoot + "/#"
}

// statePayload is the body of a lifecycle/state message.
type statePayload struct {
	StateKey  string `json:"state_key"`
	State     string `json:"state"`
	Timestamp int64  `json:"timestamp"` // unix millis, 0 means "now"
}

// dataPayload is the body of an NDATA/DDATA message.
type dataPayload struct {
	Timestamp int64 `json:"timestamp"`
	Metrics   []struct {
		SensorID string `json:"sensor_id"`
		Value    any    `json:"value"`
	} `json:"metrics"`
}

type parsedTopic struct {
	GroupID     string
	MessageType string
	NodeID      string
	DeviceID    string // empty for node-level messages
}

func (b *StateBroker) parseTopic(topic string) (*parsedTopic, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || len(parts) > 5 || parts[0] != b.topicRoot {
		return nil, fmt.Errorf("topic %q does not match scheme", topic)
	}
	p := &parsedTopic{
		GroupID:     parts[1],
		MessageType: parts[2],
		NodeID:      parts[3],
	}
	if len(parts) == 5 {
		p.DeviceID = parts[4]
	}
	if p.GroupID == "" || p.MessageType == "" || p.NodeID == "" {
		return nil, fmt.Errorf("topic %q has empty segments", topic)
	}
	return p, nil
}

// HandleMessage is the MQTT subscription callback.
func (b *StateBroker) HandleMessage(topic string, payload []byte) error {
	p, err := b.parseTopic(topic)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch p.MessageType {
	case domain.MsgNodeData, domain.MsgDeviceData:
		return b.handleData(ctx, p, payload)
	case domain.MsgNodeBirth, domain.MsgNodeDeath,
		domain.MsgDeviceBirth, domain.MsgDeviceDeath,
		domain.MsgState:
		return b.handleState(ctx, p, payload)
	default:
		// Unknown message types still land in the log; the projections
		// filter on the types they recognize.
		return b.handleState(ctx, p, payload)
	}
}

func (b *StateBroker) handleState(ctx context.Context, p *parsedTopic, payload []byte) error {
	// Device births/deaths must name the device in the topic; a
	// device-less row would leak into the node projection and break the
	// per-device one on the store side.
	if p.DeviceID == "" {
		for _, m := range domain.DeviceLifecycleMessages {
			if p.MessageType == m {
				return fmt.Errorf("%s on %s lacks a device segment", p.MessageType, p.NodeID)
			}
		}
	}

	var body statePayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("state payload on %s/%s: %w", p.NodeID, p.MessageType, err)
	}

	ev := &domain.StateEvent{
		Time:        eventTime(body.Timestamp),
		NodeID:      p.NodeID,
		MessageType: p.MessageType,
		StateKey:    body.StateKey,
		State:       body.State,
	}
	// Device births/deaths name the device in the topic; node-level
	// events leave device_id null.
	if p.DeviceID != "" {
		ev.DeviceID = sql.NullString{String: p.DeviceID, Valid: true}
	}
	if err := b.states.AppendEvent(ctx, ev); err != nil {
		return err
	}
	b.logger.Debug("state event ingested",
		zap.String("node_id", p.NodeID),
		zap.String("message_type", p.MessageType),
		zap.String("state", body.State),
	)
	return nil
}

func (b *StateBroker) handleData(ctx context.Context, p *parsedTopic, payload []byte) error {
	var body dataPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("data payload on %s/%s: %w", p.NodeID, p.MessageType, err)
	}
	if len(body.Metrics) == 0 {
		return nil
	}

	// NDATA carries node-level samples; store them under the node id.
	deviceID := p.DeviceID
	if deviceID == "" {
		deviceID = p.NodeID
	}
	ts := eventTime(body.Timestamp)
	points := make([]domain.MetricPoint, 0, len(body.Metrics))
	for _, m := range body.Metrics {
		if m.SensorID == "" {
			continue
		}
		points = append(points, domain.MetricPoint{
			Time:     ts,
			DeviceID: deviceID,
			SensorID: m.SensorID,
			Value:    m.Value,
		})
	}
	return b.timeseries.InsertMetrics(ctx, p.GroupID, points)
}

func eventTime(unixMillis int64) time.Time {
	if unixMillis <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(unixMillis).UTC()
}
