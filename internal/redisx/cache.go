package redisx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-order-finalizer/internal/orders"
)

// StatusPayload is the cached body served for an order status lookup.
type StatusPayload struct {
	Status orders.Status `json:"status"`
}

// Cache holds processed message ids and order status snapshots. It is only ever a
// shortcut: every entry is written after the database committed.
type Cache struct {
	Client  redis.Cmdable
	Service string
}

func (c *Cache) dedupKey(messageID string) string {
	return fmt.Sprintf(KeyDedup, c.Service, messageID)
}

func (c *Cache) Seen(ctx context.Context, messageID string) (bool, error) {
	return Exists(ctx, c.Client, c.dedupKey(messageID))
}

func (c *Cache) Remember(ctx context.Context, messageID string) error {
	return c.Client.Set(ctx, c.dedupKey(messageID), "1", TTLDedup).Err()
}

func (c *Cache) SetStatus(ctx context.Context, orderID uuid.UUID, s orders.Status) error {
	b, err := json.Marshal(StatusPayload{Status: s})
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}

// FillStatus caches s only when no snapshot exists, so a read-through refill never
// replaces a newer status written by the worker.
func (c *Cache) FillStatus(ctx context.Context, orderID uuid.UUID, s orders.Status) error {
	b, err := json.Marshal(StatusPayload{Status: s})
	if err != nil {
		return err
	}
	return c.Client.SetNX(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}

// Status returns the cached snapshot; ok is false on a miss.
func (c *Cache) Status(ctx context.Context, orderID uuid.UUID) (body []byte, ok bool, err error) {
	b, err := c.Client.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}
