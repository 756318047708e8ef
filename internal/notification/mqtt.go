package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikeyg42/camwatch/internal/config"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 5 * time.Second
)

// publisher is the part of mqtt.Client used to send alerts.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Envelope is the JSON document published for each alert.
type Envelope struct {
	Text  string    `json:"text"`
	Kind  string    `json:"kind"`
	Media string    `json:"media,omitempty"`
	At    time.Time `json:"at"`
}

// MQTT publishes alert envelopes to a broker topic.
type MQTT struct {
	client    publisher
	closer    func()
	topic     string
	qos       byte
	recipient string
	logger    *zap.Logger
}

// NewMQTT connects to the broker in cfg. The client id gets a random
// suffix so two agents on one broker do not kick each other off.
func NewMQTT(cfg config.MQTTConfig, logger *zap.Logger) (*MQTT, error) {
	if logger == nil {
		logger = zap.L()
	}
	logger = logger.Named("mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker("tcp://" + cfg.Broker)
	opts.SetClientID(fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()[:8]))
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost, reconnecting", zap.String("broker", cfg.Broker), zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker), zap.String("topic", cfg.Topic))

	m := newMQTT(client, cfg.Broker, cfg.Topic, byte(cfg.QoS), logger)
	m.closer = func() { client.Disconnect(250) }
	return m, nil
}

func newMQTT(client publisher, broker, topic string, qos byte, logger *zap.Logger) *MQTT {
	return &MQTT{
		client:    client,
		topic:     topic,
		qos:       qos,
		recipient: "mqtt://" + broker,
		logger:    logger,
	}
}

// Broadcast publishes one envelope and reports it as a single delivery.
func (m *MQTT) Broadcast(ctx context.Context, alert Alert) []Delivery {
	err := m.publish(ctx, alert)
	if err != nil {
		m.logger.Warn("Alert publish failed", zap.String("topic", m.topic), zap.Error(err))
	}
	return []Delivery{{Recipient: m.recipient, Err: err}}
}

func (m *MQTT) publish(ctx context.Context, alert Alert) error {
	env := Envelope{
		Text: alert.Text,
		Kind: alert.Kind.String(),
		At:   alert.At,
	}
	if alert.Kind != KindNone && alert.MediaPath != "" {
		env.Media = filepath.Base(alert.MediaPath)
	}
	if env.At.IsZero() {
		env.At = time.Now()
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	token := m.client.Publish(m.topic, m.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttPublishTimeout):
		return fmt.Errorf("publish to %s: timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", m.topic, err)
	}
	return nil
}

func (m *MQTT) Close() {
	if m.closer != nil {
		m.closer()
	}
}
