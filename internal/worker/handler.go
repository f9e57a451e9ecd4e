package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-finalizer/internal/orders"
)

const ReasonMalformed = "MalformedMessage"

var ErrMalformedMessage = errors.New("malformed message")

// Store runs the transactional finalize protocol.
type Store interface {
	Finalize(ctx context.Context, orderID uuid.UUID, messageID string) (orders.FinalizeResult, error)
}

// Cache is an optional fast path in front of Store. The store stays authoritative.
type Cache interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	Remember(ctx context.Context, messageID string) error
	SetStatus(ctx context.Context, orderID uuid.UUID, s orders.Status) error
}

// Result is what processing one delivery produced.
type Result struct {
	Outcome Outcome
	OrderID uuid.UUID
	Err     error
}

type Handler struct {
	Store   Store
	Cache   Cache
	Delay   time.Duration
	Logger  *zap.Logger
	Metrics *Metrics

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Process classifies a delivery, running the finalize protocol when it names an order.
// It never settles the delivery.
func (h *Handler) Process(ctx context.Context, d Delivery) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = Result{Outcome: OutcomeTransient, OrderID: res.OrderID, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	orderID, raw, ok, err := orders.ParseOrderCreated(d.Body)
	if err != nil {
		return Result{Outcome: OutcomeMalformed, Err: fmt.Errorf("%w: %w", ErrMalformedMessage, err)}
	}
	if !ok {
		// no order can carry a non-UUID id
		return Result{Outcome: OutcomeNotFound, Err: fmt.Errorf("%w: %q", orders.ErrOrderNotFound, raw)}
	}
	res.OrderID = orderID

	sleep := h.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	if err := sleep(ctx, h.Delay); err != nil {
		return Result{Outcome: OutcomeTransient, OrderID: orderID, Err: err}
	}

	if h.Cache != nil {
		seen, err := h.Cache.Seen(ctx, d.MessageID)
		if err != nil {
			h.logger().Warn("dedup cache lookup failed", zap.String("message_id", d.MessageID), zap.Error(err))
		} else if seen {
			return Result{Outcome: OutcomeDuplicate, OrderID: orderID}
		}
	}

	r, err := h.Store.Finalize(ctx, orderID, d.MessageID)
	if err != nil {
		return Result{Outcome: OutcomeTransient, OrderID: orderID, Err: err}
	}
	out := outcomeOf(r)
	if out == OutcomeNotFound {
		return Result{Outcome: out, OrderID: orderID, Err: orders.ErrOrderNotFound}
	}
	if out != OutcomeTransient {
		h.remember(ctx, d.MessageID, orderID)
	}
	return Result{Outcome: out, OrderID: orderID}
}

// remember runs only once the store has confirmed the order is Finalized.
func (h *Handler) remember(ctx context.Context, messageID string, orderID uuid.UUID) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.Remember(ctx, messageID); err != nil {
		h.logger().Warn("dedup cache write failed", zap.String("message_id", messageID), zap.Error(err))
	}
	if err := h.Cache.SetStatus(ctx, orderID, orders.StatusFinalized); err != nil {
		h.logger().Warn("status cache write failed", zap.String("order_id", orderID.String()), zap.Error(err))
	}
}

// Handle processes d and settles it on t with the action its outcome maps to.
func (h *Handler) Handle(ctx context.Context, t Transport, d Delivery) (Result, error) {
	res := h.Process(ctx, d)
	action := ActionFor(res.Outcome)
	h.log(d, res, action)
	h.Metrics.record(ctx, res.Outcome)

	var err error
	switch action {
	case ActionComplete:
		err = t.Complete(ctx, d)
	case ActionDeadLetter:
		err = t.DeadLetter(ctx, d, ReasonMalformed)
	case ActionAbandon:
		err = t.Abandon(ctx, d)
	}
	if err != nil {
		err = fmt.Errorf("%s message %s: %w", action, d.MessageID, err)
		h.logger().Error("settle failed", zap.String("message_id", d.MessageID), zap.Stringer("action", action), zap.Error(err))
	}
	return res, err
}

func (h *Handler) log(d Delivery, res Result, action Action) {
	fields := []zap.Field{
		zap.String("message_id", d.MessageID),
		zap.Stringer("outcome", res.Outcome),
		zap.Stringer("action", action),
		zap.Int("delivery_count", d.DeliveryCount),
	}
	if res.OrderID != uuid.Nil {
		fields = append(fields, zap.String("order_id", res.OrderID.String()))
	}
	if res.Err != nil {
		fields = append(fields, zap.Error(res.Err))
	}

	l := h.logger()
	switch res.Outcome {
	case OutcomeUpdated:
		l.Info("order finalized", fields...)
	case OutcomeDuplicate:
		l.Info("duplicate message ignored", fields...)
	case OutcomeAlreadyFinalized:
		l.Info("order already finalized", fields...)
	case OutcomeNotFound:
		l.Warn("no order to finalize", fields...)
	case OutcomeMalformed:
		l.Warn("malformed message, dead-lettering", fields...)
	default:
		l.Error("processing failed, abandoning for redelivery", fields...)
	}
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}
