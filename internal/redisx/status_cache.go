package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/redis/go-redis/v9"
	"github.com/shahruladnn-prog/LRC-Course/internal/orders"
	"time"
)

// OrderStatus is the cached view served by GET /orders/{id}/status.
type OrderStatus struct {
	OrderID       string               `json:"order_id"`
	PaymentStatus orders.PaymentStatus `json:"payment_status"`
	SyncStatus    orders.SyncStatus    `json:"sync_status"`
	SyncError     string               `json:"sync_error,omitempty"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func StatusOf(o *orders.Order) OrderStatus {
	return OrderStatus{
		OrderID:       o.ID,
		PaymentStatus: o.PaymentStatus,
		SyncStatus:    o.SyncStatus,
		SyncError:     o.SyncError,
		UpdatedAt:     o.UpdatedAt,
	}
}

type StatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStatusCache(rdb *redis.Client) *StatusCache {
	return &StatusCache{rdb: rdb, ttl: TTLStatusCache}
}

// Get returns (nil, nil) on a cache miss.
func (c *StatusCache) Get(ctx context.Context, orderID string) (*OrderStatus, error) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st OrderStatus
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode cached status %s: %w", orderID, err)
	}
	return &st, nil
}

func (c *StatusCache) Set(ctx context.Context, st OrderStatus) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, st.OrderID), b, c.ttl).Err()
}

func (c *StatusCache) Invalidate(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}
