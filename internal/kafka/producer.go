package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-order-finalizer/internal/orders"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes synchronously and waits for all in-sync replicas. Every message
// names its own topic.
type Producer struct {
	w messageWriter
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			WriteTimeout:           10 * time.Second,
		},
	}
}

func (p *Producer) Write(ctx context.Context, msgs ...kafka.Message) error {
	return p.w.WriteMessages(ctx, msgs...)
}

// PublishOrderCreated announces a new order and returns the message id used as the
// consumer's dedup key.
func (p *Producer) PublishOrderCreated(ctx context.Context, topic string, orderID uuid.UUID) (string, error) {
	body, err := json.Marshal(orders.OrderCreatedMessage{OrderID: orderID})
	if err != nil {
		return "", err
	}
	messageID := uuid.NewString()
	err = p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   orders.PartitionKey(orderID.String()),
		Value: body,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: HeaderMessageID, Value: []byte(messageID)},
			{Key: HeaderSubject, Value: []byte(orders.SubjectOrderCreated)},
			{Key: HeaderCorrelationID, Value: []byte(orderID.String())},
			{Key: HeaderEventType, Value: []byte(orders.EventOrderCreated)},
			{Key: HeaderEventVersion, Value: []byte("1")},
		},
	})
	if err != nil {
		return "", fmt.Errorf("publish order created %s: %w", orderID, err)
	}
	return messageID, nil
}

func (p *Producer) Close() error { return p.w.Close() }
