package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"schemawatch/internal/config"
	"schemawatch/internal/types"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaNotifier publishes notification events to a Kafka topic so
// downstream consumers can drive their own alerting or audit flows.
type KafkaNotifier struct {
	config *config.KafkaConfig
	logger *zap.Logger
	writer *kafka.Writer
}

// kafkaEnvelope wraps every published event with its kind
type kafkaEnvelope struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// NewKafkaNotifier creates new Kafka notifier
func NewKafkaNotifier(cfg *config.KafkaConfig, logger *zap.Logger) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaNotifier{
		config: cfg,
		logger: logger,
		writer: writer,
	}, nil
}

// NotifyChange publishes a single change notification
func (n *KafkaNotifier) NotifyChange(ctx context.Context, event *types.NotificationEvent) error {
	return n.publish(ctx, event.ChangeID, kafkaEnvelope{Kind: "schema.change", Data: event})
}

// NotifyDigest publishes a batched digest
func (n *KafkaNotifier) NotifyDigest(ctx context.Context, digest *types.NotificationDigest) error {
	return n.publish(ctx, "digest", kafkaEnvelope{Kind: "schema.digest", Data: digest})
}

// NotifyEscalation publishes a deadline escalation
func (n *KafkaNotifier) NotifyEscalation(ctx context.Context, event *types.EscalationEvent) error {
	return n.publish(ctx, event.ChangeID, kafkaEnvelope{Kind: "schema.escalation", Data: event})
}

// publish writes one message keyed so all events of a change land on
// the same partition in order.
func (n *KafkaNotifier) publish(ctx context.Context, key string, envelope kafkaEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal kafka payload: %w", err)
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to kafka: %w", err)
	}

	return nil
}

// Health checks broker reachability
func (n *KafkaNotifier) Health(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", n.config.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka connection error: %w", err)
	}
	return conn.Close()
}

// Close releases the underlying writer
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
