package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to Kafka. The stream name is used as the topic
// and the correlation id (when the payload carries one) as the message key so
// all events for one attempt land on the same partition.
type KafkaPublisher struct {
	writer messageWriter
}

var _ EventPublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, stream, eventType string, data any) error {
	payload, err := encode(eventType, data)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: stream,
		Key:   []byte(messageKey(data)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event to kafka: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func messageKey(data any) string {
	switch v := data.(type) {
	case TransactionOutcomeEvent:
		return v.CorrelationID
	case ReconciliationRequestedEvent:
		return v.CorrelationID
	case ReconciliationResultEvent:
		return v.CorrelationID
	default:
		return ""
	}
}
