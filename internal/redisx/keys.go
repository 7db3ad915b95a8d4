package redisx

import "time"

const (
	// Cache order status: order_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Inventory statistics cache for the admin dashboard.
	KeyInventoryStats = "inventory:stats"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLStatsCache  = 1 * time.Minute
	TTLDedup       = 48 * time.Hour
)
