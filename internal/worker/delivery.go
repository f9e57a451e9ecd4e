package worker

import "context"

// Delivery is one message handed to the worker by a transport.
type Delivery struct {
	// MessageID is the dedup key; stable across redeliveries of one message.
	MessageID     string
	Body          []byte
	Subject       string
	CorrelationID string
	EventType     string
	// DeliveryCount is 1 on first delivery.
	DeliveryCount int

	// Token is the transport's own handle for settling this delivery.
	Token any
}

// Transport is an at-least-once queue. Receive blocks until a delivery is available
// or ctx is done. Every delivery must be settled exactly once.
type Transport interface {
	Receive(ctx context.Context) (Delivery, error)
	Complete(ctx context.Context, d Delivery) error
	Abandon(ctx context.Context, d Delivery) error
	DeadLetter(ctx context.Context, d Delivery, reason string) error
}
