package redisx

import "time"

const (
	// Cache status order: order_status:{order_id} -> OrderStatus JSON
	KeyOrderStatus = "order_status:%s"

	// Dedup marker: dedup:{scope}:{id}
	// scope "notify" -> normalized billcode that reached a terminal outcome
	// scope "possync" -> event_id already handled by the POS worker
	KeyDedup = "dedup:%s:%s"
)

const (
	ScopeNotify  = "notify"
	ScopePOSSync = "possync"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
