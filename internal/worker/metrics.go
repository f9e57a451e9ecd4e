package worker

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/ariefcatur/go-order-finalizer/internal/worker"

// Metrics counts delivery outcomes. A nil *Metrics records nothing.
type Metrics struct {
	outcomes metric.Int64Counter
}

// NewMetrics registers the worker instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	counter, err := otel.Meter(meterName).Int64Counter(
		"orders.worker.outcomes",
		metric.WithDescription("Order created messages processed, by outcome."),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{outcomes: counter}, nil
}

func (m *Metrics) record(ctx context.Context, o Outcome) {
	if m == nil {
		return
	}
	m.outcomes.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("outcome", o.String()),
		attribute.String("action", ActionFor(o).String()),
	))
}
