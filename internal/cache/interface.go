// Package cache fronts the world/profile registry (C7) with a hot Redis
// cache backed by the authoritative BadgerDB storage as cold storage, plus a
// NATS pub/sub invalidator so a write on one node evicts the key everywhere
// else. Grounded on the teacher's internal/cache two-tier design.
package cache

import (
	"context"
	"time"
)

// CacheRepo is the hot-cache side of the two-tier lookup: Redis in front of
// ColdStorage (BadgerDB, via internal/storage).
//
//	data, err := repo.Get(ctx, "world:abc")
//	err = repo.Set(ctx, "world:abc", data, 30*time.Second)
//	err = repo.Invalidate(ctx, "world:abc")
type CacheRepo interface {
	// Get fetches key from the cache, falling back to ColdStorage on a miss.
	// Returns ErrCacheMiss if the key isn't found anywhere.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the given ttl. ttl == 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key from the cache.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present in the cache.
	Exists(ctx context.Context, key string) (bool, error)

	// Invalidate evicts key locally and broadcasts the eviction to other nodes.
	Invalidate(ctx context.Context, key string) error

	// BatchGet fetches several keys in one round trip.
	BatchGet(ctx context.Context, keys []string) (map[string][]byte, error)

	// BatchSet stores several key/value pairs in one round trip.
	BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	// Close releases the underlying connection.
	Close() error

	// GetMetrics returns a snapshot of the cache's running metrics.
	GetMetrics() *CacheMetrics
}

// ColdStorage is the durable tier a CacheRepo reads through to on a miss and
// (optionally) writes behind to.
type ColdStorage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	BatchLoad(ctx context.Context, keys []string) (map[string][]byte, error)
	BatchStore(ctx context.Context, items map[string][]byte) error
	Close() error
}

// CacheInvalidator propagates key evictions across nodes over pub/sub.
type CacheInvalidator interface {
	PublishInvalidation(ctx context.Context, key string) error
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error
	Close() error
}

// InvalidationHandler reacts to a remote invalidation notice for key.
type InvalidationHandler func(key string) error

// CacheMetrics is a point-in-time snapshot of cache performance.
type CacheMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`

	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`

	TotalKeys     int64   `json:"total_keys"`
	TotalMemoryMB float64 `json:"total_memory_mb"`

	WriteBehindLagMs int64 `json:"write_behind_lag_ms"`
	PendingWrites    int64 `json:"pending_writes"`

	LastUpdate time.Time `json:"last_update"`
}

// CacheConfig configures a RedisCache: connection, TTLs, and the optional
// write-behind path to ColdStorage.
type CacheConfig struct {
	RedisURL      string `yaml:"redis_url" env:"CACHE_REDIS_URL"`
	RedisPassword string `yaml:"redis_password" env:"CACHE_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"CACHE_REDIS_DB"`

	DefaultTTL time.Duration `yaml:"default_ttl" env:"CACHE_DEFAULT_TTL"`
	MaxTTL     time.Duration `yaml:"max_ttl" env:"CACHE_MAX_TTL"`

	WriteBehindEnabled   bool          `yaml:"write_behind_enabled" env:"CACHE_WRITE_BEHIND_ENABLED"`
	WriteBehindInterval  time.Duration `yaml:"write_behind_interval" env:"CACHE_WRITE_BEHIND_INTERVAL"`
	WriteBehindBatchSize int           `yaml:"write_behind_batch_size" env:"CACHE_WRITE_BEHIND_BATCH_SIZE"`

	MaxConnections int           `yaml:"max_connections" env:"CACHE_MAX_CONNECTIONS"`
	PoolTimeout    time.Duration `yaml:"pool_timeout" env:"CACHE_POOL_TIMEOUT"`

	MetricsEnabled bool `yaml:"metrics_enabled" env:"CACHE_METRICS_ENABLED"`
}

var (
	ErrCacheMiss     = NewCacheError("cache miss")
	ErrCacheTimeout  = NewCacheError("cache timeout")
	ErrCacheConflict = NewCacheError("cache conflict")
	ErrInvalidKey    = NewCacheError("invalid key")
)

// CacheError is a sentinel cache error distinguishable by identity.
type CacheError struct {
	Message string
}

func (e *CacheError) Error() string {
	return e.Message
}

func NewCacheError(message string) *CacheError {
	return &CacheError{Message: message}
}

// IsCacheMiss reports whether err is ErrCacheMiss.
func IsCacheMiss(err error) bool {
	return err == ErrCacheMiss
}
