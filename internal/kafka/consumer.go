package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-order-finalizer/internal/worker"
)

const ReasonMaxDeliveryCountExceeded = "MaxDeliveryCountExceeded"

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers          []string
	Group            string
	Topic            string
	DeadLetterTopic  string
	MaxDeliveryCount int
}

// Consumer is a worker.Transport over a consumer group. An offset is committed only
// once its delivery and every earlier one on the partition are settled; abandon and
// dead-letter first write the copy they need.
type Consumer struct {
	r               messageReader
	p               *Producer
	deadLetterTopic string
	maxDeliveries   int
	offsets         *offsetTracker
}

var _ worker.Transport = (*Consumer)(nil)

func NewConsumer(cfg ConsumerConfig, p *Producer) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.Group,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, p, cfg.DeadLetterTopic, cfg.MaxDeliveryCount)
}

func newConsumer(r messageReader, p *Producer, deadLetterTopic string, maxDeliveries int) *Consumer {
	if maxDeliveries <= 0 {
		maxDeliveries = 10
	}
	return &Consumer{
		r:               r,
		p:               p,
		deadLetterTopic: deadLetterTopic,
		maxDeliveries:   maxDeliveries,
		offsets:         newOffsetTracker(),
	}
}

func (c *Consumer) Receive(ctx context.Context) (worker.Delivery, error) {
	m, err := c.r.FetchMessage(ctx)
	if err != nil {
		return worker.Delivery{}, err
	}
	c.offsets.track(m)
	return toDelivery(m), nil
}

func (c *Consumer) Complete(ctx context.Context, d worker.Delivery) error {
	m, err := messageOf(d)
	if err != nil {
		return err
	}
	return c.commit(ctx, m)
}

// Abandon schedules another attempt, or dead-letters once the delivery count is used up.
func (c *Consumer) Abandon(ctx context.Context, d worker.Delivery) error {
	m, err := messageOf(d)
	if err != nil {
		return err
	}
	if d.DeliveryCount >= c.maxDeliveries {
		return c.deadLetter(ctx, m, ReasonMaxDeliveryCountExceeded)
	}
	if err := c.p.Write(ctx, redeliveryOf(m, d.DeliveryCount+1)); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	return c.commit(ctx, m)
}

func (c *Consumer) DeadLetter(ctx context.Context, d worker.Delivery, reason string) error {
	m, err := messageOf(d)
	if err != nil {
		return err
	}
	return c.deadLetter(ctx, m, reason)
}

func (c *Consumer) deadLetter(ctx context.Context, m kafka.Message, reason string) error {
	if err := c.p.Write(ctx, deadLetterOf(m, c.deadLetterTopic, reason)); err != nil {
		return fmt.Errorf("dead-letter: %w", err)
	}
	return c.commit(ctx, m)
}

// commit records m as settled and commits the partition up to the highest offset
// with nothing unsettled before it. The lock is held across the commit so commits
// for one partition go out in offset order.
func (c *Consumer) commit(ctx context.Context, m kafka.Message) error {
	c.offsets.mu.Lock()
	defer c.offsets.mu.Unlock()

	upTo, ok := c.offsets.settle(m)
	if !ok {
		return nil
	}
	return c.r.CommitMessages(ctx, upTo)
}

func (c *Consumer) Close() error { return c.r.Close() }

func messageOf(d worker.Delivery) (kafka.Message, error) {
	m, ok := d.Token.(kafka.Message)
	if !ok {
		return kafka.Message{}, errors.New("delivery was not received from kafka")
	}
	return m, nil
}
