package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/iamruinous/meshcore-companion/internal/logging"
)

// MQTT publishes events to a broker topic. Unlike the teacher's
// connection-source MQTT client (an inbound subscriber), this is an
// outbound publisher: the radio only speaks BLE/serial, so MQTT here
// is a notification sink bridging delivery/session events to a
// home-automation bus.
type MQTT struct {
	broker  string
	topic   string
	qos     byte
	enabled bool
	client  mqtt.Client
	logger  *zap.Logger
}

// NewMQTT creates a new MQTT notifier and connects to the broker.
func NewMQTT(cfg Config) (*MQTT, error) {
	broker := ""
	if b, ok := cfg.Options["broker"].(string); ok {
		broker = b
	}
	if broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}

	topic := "meshcore/events"
	if t, ok := cfg.Options["topic"].(string); ok {
		topic = t
	}

	qos := byte(1)
	switch q := cfg.Options["qos"].(type) {
	case int:
		qos = byte(q)
	case float64:
		qos = byte(q)
	}

	clientID := fmt.Sprintf("meshcore-companion-%d", time.Now().UnixNano())
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	if u, ok := cfg.Options["username"].(string); ok {
		opts.SetUsername(u)
	}
	if p, ok := cfg.Options["password"].(string); ok {
		opts.SetPassword(p)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	return &MQTT{
		broker:  broker,
		topic:   topic,
		qos:     qos,
		enabled: cfg.Enabled,
		client:  client,
		logger:  logging.With(zap.String("component", "notify.mqtt")),
	}, nil
}

func (m *MQTT) Send(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	token := m.client.Publish(fmt.Sprintf("%s/%s", m.topic, ev.Kind), m.qos, false, data)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt publish timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("mqtt publish: %w", token.Error())
	}
	return nil
}

func (m *MQTT) Close() error {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(1000)
	}
	return nil
}

func (m *MQTT) Name() string { return fmt.Sprintf("mqtt:%s", m.broker) }

func (m *MQTT) Enabled() bool { return m.enabled }
