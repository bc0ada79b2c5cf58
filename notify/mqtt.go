package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"fleet-report/config"
)

// mqttClient is the subset of mqtt.Client the publisher uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes ReportReady to a per-event topic.
type MQTTPublisher struct {
	client  mqttClient
	topic   string
	qos     byte
	timeout time.Duration
	log     *slog.Logger
}

// DialMQTT connects to the broker and returns a publisher.
func DialMQTT(cfg config.MQTTConfig, log *slog.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("mqtt connection established", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return NewMQTTPublisher(client, cfg, log), nil
}

// NewMQTTPublisher wraps an already connected client.
func NewMQTTPublisher(client mqttClient, cfg config.MQTTConfig, log *slog.Logger) *MQTTPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &MQTTPublisher{
		client:  client,
		topic:   cfg.TopicTemplate,
		qos:     byte(cfg.QoS),
		timeout: 10 * time.Second,
		log:     log.With("component", "mqtt-publisher"),
	}
}

// Topic returns the topic for an event.
func (p *MQTTPublisher) Topic(eventID string) string {
	return strings.ReplaceAll(p.topic, "{event_id}", eventID)
}

func (p *MQTTPublisher) Publish(ctx context.Context, msg ReportReady) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal report ready: %w", err)
	}

	topic := p.Topic(msg.EventID)
	token := p.client.Publish(topic, p.qos, false, payload)
	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	p.log.Debug("published report ready", "topic", topic, "event_id", msg.EventID)
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
