package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ahrav/vulnscan-armada/internal/domain/notification"
	"github.com/ahrav/vulnscan-armada/pkg/common/logger"
)

func TestNotifier_Send(t *testing.T) {
	t.Parallel()

	producer := mocks.NewSyncProducer(t, nil)
	n := New(producer, "task-lifecycle", logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	defer n.Close()

	taskUUID := uuid.New()
	occurred := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "task-lifecycle" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != taskUUID.String() {
			return errors.New("record not keyed by task uuid")
		}
		if len(msg.Headers) == 0 || string(msg.Headers[0].Key) != EventTypeHeader {
			return errors.New("missing event type header")
		}

		raw, _ := msg.Value.Encode()
		var s structpb.Struct
		if err := proto.Unmarshal(raw, &s); err != nil {
			return err
		}
		fields := s.AsMap()
		assert.Equal(t, "RUNNING", fields["from"])
		assert.Equal(t, "FAILED", fields["to"])
		assert.Equal(t, "Scan was terminated due to server down.", fields["reason"])
		assert.Equal(t, float64(7), fields["scan_id"])
		assert.Equal(t, "2024-03-01T10:00:00Z", fields["occurred_at"])
		assert.Equal(t, false, fields["has_endpoint"])
		return nil
	})

	err := n.Send(context.Background(), notification.Message{
		Title:      ":rotating_light: *Scan error at 10.0.0.7*.",
		TaskUUID:   taskUUID,
		AuditID:    3,
		ScanID:     7,
		Target:     "10.0.0.7",
		From:       "RUNNING",
		To:         "FAILED",
		Reason:     "Scan was terminated due to server down.",
		OccurredAt: occurred,
	})
	require.NoError(t, err)
}

func TestNotifier_SendFailure(t *testing.T) {
	t.Parallel()

	producer := mocks.NewSyncProducer(t, nil)
	n := New(producer, "task-lifecycle", logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	defer n.Close()

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := n.Send(context.Background(), notification.Message{TaskUUID: uuid.New()})
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestHeaderCarrier(t *testing.T) {
	t.Parallel()

	c := &headerCarrier{}
	c.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Equal(t, "", c.Get("missing"))
	assert.Equal(t, []string{"traceparent"}, c.Keys())
}
