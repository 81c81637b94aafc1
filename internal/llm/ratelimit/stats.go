package ratelimit

// Stats exposes the state of both layers and the Redis connection pool.
type Stats struct {
	LocalLimiters int
	GlobalEnabled bool
	DegradedMode  bool

	PoolHits       uint32
	PoolMisses     uint32
	PoolTimeouts   uint32
	PoolTotalConns uint32
	PoolIdleConns  uint32
	PoolStaleConns uint32
}
