package redisx

import (
	"context"
	"fmt"
	"github.com/redis/go-redis/v9"
	"strings"
)

// Dedup is a TTL marker set in Redis. It is a fast path only; callers keep
// their own authoritative idempotency check.
type Dedup struct {
	rdb   *redis.Client
	scope string
}

func NewDedup(rdb *redis.Client, scope string) *Dedup {
	return &Dedup{rdb: rdb, scope: scope}
}

func (d *Dedup) key(id string) string {
	return fmt.Sprintf(KeyDedup, d.scope, strings.ToLower(strings.TrimSpace(id)))
}

func (d *Dedup) Seen(ctx context.Context, id string) (bool, error) {
	return Exists(ctx, d.rdb, d.key(id))
}

func (d *Dedup) Mark(ctx context.Context, id string) error {
	return d.rdb.Set(ctx, d.key(id), "1", TTLDedup).Err()
}
