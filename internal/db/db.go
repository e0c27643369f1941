package db

import (
	"context"
	"time"
)

// Store is the KV facade the service keeps in Redis: embedding vectors and
// budget counters. Consumers depend on the narrow sub-interfaces.
type Store interface {
	Pinger
	KVStore
	BatchKVStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore provides simple key-value operations.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	IncrBy(ctx context.Context, key string, val int64) error
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// KVSetItem holds a single key+value pair for pipelined SET.
type KVSetItem struct {
	Key   string
	Value []byte
}

// BatchKVStore provides pipelined multi-key operations.
type BatchKVStore interface {
	// MGet returns one slot per key; missing keys yield nil.
	MGet(ctx context.Context, keys []string) ([][]byte, error)
	SetMultiWithTTL(ctx context.Context, items []KVSetItem, ttl time.Duration) error
}
