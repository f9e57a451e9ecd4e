package orders

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	EventOrderCreated   = "OrderCreated"
	SubjectOrderCreated = "order-created"

	// OrderIDField is matched case-sensitively.
	OrderIDField = "OrderId"
)

var (
	ErrMissingOrderID = errors.New("message has no OrderId")
	ErrInvalidBody    = errors.New("message body is not a JSON object")
)

// OrderCreatedMessage is the body published once per created order.
type OrderCreatedMessage struct {
	OrderID uuid.UUID `json:"OrderId"`
}

// ParseOrderCreated extracts the raw OrderId value. ok is false when the value is a
// string that is not a UUID: such an id can never match an order.
func ParseOrderCreated(body []byte) (id uuid.UUID, raw string, ok bool, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return uuid.Nil, "", false, ErrInvalidBody
	}
	v, found := fields[OrderIDField]
	if !found {
		return uuid.Nil, "", false, ErrMissingOrderID
	}
	if err := json.Unmarshal(v, &raw); err != nil {
		return uuid.Nil, "", false, fmt.Errorf("%w: not a string", ErrMissingOrderID)
	}
	if raw == "" {
		return uuid.Nil, "", false, fmt.Errorf("%w: empty", ErrMissingOrderID)
	}
	id, perr := uuid.Parse(raw)
	if perr != nil {
		return uuid.Nil, raw, false, nil
	}
	return id, raw, true, nil
}
