// Package kafka publishes task lifecycle notifications to a Kafka topic.
// Each record is keyed by task UUID so the transitions of one task stay
// ordered within a partition.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ahrav/vulnscan-armada/internal/domain/notification"
	"github.com/ahrav/vulnscan-armada/pkg/common/logger"
)

var _ notification.Notifier = (*Notifier)(nil)

// EventTypeHeader carries the record type so consumers can route without
// decoding the payload.
const (
	EventTypeHeader     = "event-type"
	EventTypeTransition = "task.transitioned"
)

// Config locates the cluster and topic.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Notifier implements notification.Notifier over a synchronous producer.
type Notifier struct {
	producer sarama.SyncProducer
	topic    string

	logger *logger.Logger
	tracer trace.Tracer
}

// New wraps an existing producer.
func New(producer sarama.SyncProducer, topic string, logger *logger.Logger, tracer trace.Tracer) *Notifier {
	return &Notifier{
		producer: producer,
		topic:    topic,
		logger:   logger.With("component", "kafka_notifier", "topic", topic),
		tracer:   tracer,
	}
}

// Connect creates the producer, retrying with exponential backoff for up to
// five minutes while the brokers come up.
func Connect(cfg Config, logger *logger.Logger, tracer trace.Tracer) (*Notifier, error) {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Version = sarama.V3_6_0_0

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	var producer sarama.SyncProducer
	operation := func() error {
		var err error
		producer, err = sarama.NewSyncProducer(cfg.Brokers, sc)
		return err
	}
	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after retries: %w", err)
	}
	return New(producer, cfg.Topic, logger, tracer), nil
}

// Send publishes msg regardless of its webhook destination.
func (n *Notifier) Send(ctx context.Context, msg notification.Message) error {
	ctx, span := n.tracer.Start(ctx, "kafka_notifier.send",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", n.topic),
			attribute.String("task_uuid", msg.TaskUUID.String()),
		))
	defer span.End()

	value, err := encode(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode message")
		return err
	}

	record := &sarama.ProducerMessage{
		Topic:   n.topic,
		Key:     sarama.StringEncoder(msg.TaskUUID.String()),
		Value:   sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{{Key: []byte(EventTypeHeader), Value: []byte(EventTypeTransition)}},
	}
	injectTraceContext(ctx, record)

	partition, offset, err := n.producer.SendMessage(record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish message")
		return fmt.Errorf("failed to send message to kafka topic %s: %w", n.topic, err)
	}

	n.logger.Debug(ctx, "Published task transition",
		"task_uuid", msg.TaskUUID.String(),
		"partition", partition,
		"offset", offset,
	)
	return nil
}

// Close releases the producer.
func (n *Notifier) Close() error { return n.producer.Close() }

// encode renders msg as a protobuf Struct so consumers need no generated types.
func encode(msg notification.Message) ([]byte, error) {
	attachments := make([]any, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		attachments = append(attachments, map[string]any{"title": a.Title, "color": string(a.Color)})
	}

	s, err := structpb.NewStruct(map[string]any{
		"task_uuid":    msg.TaskUUID.String(),
		"audit_id":     float64(msg.AuditID),
		"scan_id":      float64(msg.ScanID),
		"target":       msg.Target,
		"from":         msg.From,
		"to":           msg.To,
		"reason":       msg.Reason,
		"title":        msg.Title,
		"attachments":  attachments,
		"occurred_at":  msg.OccurredAt.UTC().Format(time.RFC3339Nano),
		"has_endpoint": msg.Destination != "",
	})
	if err != nil {
		return nil, fmt.Errorf("build notification payload: %w", err)
	}

	b, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal notification payload: %w", err)
	}
	return b, nil
}

// headerCarrier adapts record headers to propagation.TextMapCarrier.
type headerCarrier struct {
	headers []sarama.RecordHeader
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	c.headers = append(c.headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, len(c.headers))
	for i, h := range c.headers {
		keys[i] = string(h.Key)
	}
	return keys
}

func injectTraceContext(ctx context.Context, record *sarama.ProducerMessage) {
	carrier := &headerCarrier{headers: record.Headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	record.Headers = carrier.headers
}
