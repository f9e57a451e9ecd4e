package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Order struct {
	ID        uuid.UUID       `json:"id"`
	Customer  string          `json:"customer"`
	Product   string          `json:"product"`
	Amount    decimal.Decimal `json:"amount"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`

	// LastProcessedMessageID is written only by the worker.
	LastProcessedMessageID *string `json:"-"`

	StatusHistory []StatusHistory `json:"status_history"` // oldest first
}

// StatusHistory rows are append-only.
type StatusHistory struct {
	ID        int64     `json:"id"`
	OrderID   uuid.UUID `json:"order_id"`
	Status    Status    `json:"status"`
	ChangedAt time.Time `json:"changed_at"`
}

// Metrics are the aggregates served to the analytics consumer.
type Metrics struct {
	OrdersToday             int             `json:"orders_today"`
	PendingOrders           int             `json:"pending_orders"`
	FinalizedAmountMonth    decimal.Decimal `json:"finalized_amount_month"`
	AvgApprovalMinutesMonth float64         `json:"avg_approval_minutes_month"`
	ReferenceMonth          string          `json:"reference_month"`
}
