package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"safekitchen/config"
	"safekitchen/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Inbound topics are <prefix>/<user>/readings, /status and /presence.
// Device commands go out on <prefix>/<user>/device/<device>/set.
const (
	topicReadings = "readings"
	topicStatus   = "status"
	topicPresence = "presence"
)

// bridgeStatus is the heartbeat payload published by the firmware.
type bridgeStatus struct {
	BridgeID      string `json:"bridge_id"`
	WiFiConnected bool   `json:"wifi_connected"`
	UptimeMs      int64  `json:"uptime_ms"`
}

// MQTTBridge receives ESP32 telemetry over MQTT and publishes device commands.
type MQTTBridge struct {
	client     mqtt.Client
	prefix     string
	ingestor   *Ingestor
	heartbeats chan<- *models.BridgeHeartbeat
	presence   chan<- *models.PresenceEvent
	logger     *zap.Logger
	now        func() time.Time
}

// NewMQTTBridge creates the bridge; Connect must be called before use.
// heartbeats and presence may be nil.
func NewMQTTBridge(cfg *config.Config, ingestor *Ingestor, heartbeats chan<- *models.BridgeHeartbeat, presence chan<- *models.PresenceEvent, logger *zap.Logger) *MQTTBridge {
	b := &MQTTBridge{
		prefix:     strings.Trim(cfg.MQTTTopicPrefix, "/"),
		ingestor:   ingestor,
		heartbeats: heartbeats,
		presence:   presence,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}

	opts := mqtt.NewClientOptions()
	broker := cfg.MQTTBroker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("safekitchen-%d", time.Now().UnixNano()))
	opts.SetUsername(cfg.MQTTUser)
	opts.SetPassword(cfg.MQTTPass)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	opts.OnConnect = func(c mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", broker))
		b.subscribe(c)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	b.client = mqtt.NewClient(opts)
	return b
}

// Connect connects to the broker. Subscriptions are (re)made on every connect.
func (b *MQTTBridge) Connect() error {
	token := b.client.Connect()
	if !token.WaitTimeout(10*time.Second) {
		return fmt.Errorf("timeout connecting to MQTT broker")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

func (b *MQTTBridge) subscribe(c mqtt.Client) {
	filters := map[string]byte{
		fmt.Sprintf("%s/+/%s", b.prefix, topicReadings): 0,
		fmt.Sprintf("%s/+/%s", b.prefix, topicStatus):   0,
		fmt.Sprintf("%s/+/%s", b.prefix, topicPresence): 1,
	}
	token := c.SubscribeMultiple(filters, func(_ mqtt.Client, msg mqtt.Message) {
		if err := b.handleMessage(context.Background(), msg.Topic(), msg.Payload()); err != nil {
			b.logger.Warn("Dropped MQTT message",
				zap.String("topic", msg.Topic()),
				zap.Error(err))
		}
	})
	if token.Wait() && token.Error() != nil {
		b.logger.Error("Failed to subscribe to MQTT topics", zap.Error(token.Error()))
		return
	}
	b.logger.Info("Subscribed to MQTT topics", zap.String("prefix", b.prefix))
}

// parseTopic splits <prefix>/<user>/<kind>.
func (b *MQTTBridge) parseTopic(topic string) (userID, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, b.prefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (b *MQTTBridge) handleMessage(ctx context.Context, topic string, payload []byte) error {
	userID, kind, ok := b.parseTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected topic %q", topic)
	}
	now := b.now()

	switch kind {
	case topicReadings:
		var m BridgeMetrics
		if err := json.Unmarshal(payload, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return b.ingestor.SubmitAll(ctx, m.Readings(userID, SourceMQTT, now), SourceMQTT)

	case topicStatus:
		var st bridgeStatus
		if err := json.Unmarshal(payload, &st); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if st.BridgeID == "" {
			st.BridgeID = "mqtt-" + userID
		}
		if b.heartbeats != nil {
			b.heartbeats <- &models.BridgeHeartbeat{
				BridgeID:      st.BridgeID,
				UserID:        userID,
				Timestamp:     now,
				WiFiConnected: st.WiFiConnected,
				UptimeMs:      st.UptimeMs,
			}
		}
		return nil

	case topicPresence:
		var ev models.PresenceEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		ev.UserID = userID
		if ev.Timestamp.IsZero() {
			ev.Timestamp = now
		}
		if b.presence != nil {
			b.presence <- &ev
		}
		return nil
	}
	return fmt.Errorf("unknown topic kind %q", kind)
}

// CommandTopic returns the topic a device command is published on.
func (b *MQTTBridge) CommandTopic(userID, device string) string {
	return fmt.Sprintf("%s/%s/device/%s/set", b.prefix, userID, device)
}

// Actuate publishes the device command with QoS 1.
func (b *MQTTBridge) Actuate(_ context.Context, userID, device string, on bool) error {
	body, err := json.Marshal(devicePayload{IsOn: on})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	topic := b.CommandTopic(userID, device)
	token := b.client.Publish(topic, 1, false, body)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("timeout publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker
func (b *MQTTBridge) Close() {
	b.client.Disconnect(250)
	b.logger.Info("MQTT bridge closed")
}
