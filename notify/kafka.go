package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"fleet-report/config"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes ReportReady keyed by event id, so one event's
// reports stay ordered on a partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	log    *slog.Logger
}

func NewKafkaPublisher(cfg config.KafkaConfig, log *slog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return newKafkaPublisher(w, cfg.Topic, log)
}

func newKafkaPublisher(w messageWriter, topic string, log *slog.Logger) *KafkaPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &KafkaPublisher{writer: w, topic: topic, log: log.With("component", "kafka-publisher")}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg ReportReady) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal report ready: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.EventID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "report_id", Value: []byte(msg.ReportID)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write to %s: %w", p.topic, err)
	}
	p.log.Debug("published report ready", "topic", p.topic, "event_id", msg.EventID)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
