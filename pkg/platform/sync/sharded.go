package sync

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count used when NewShardedMutex receives a
// non-positive value.
const DefaultShards = 64

// ShardedMutex provides fine-grained locking using sharded mutexes.
// Instead of a single global lock, operations are distributed across N shards
// based on a hash of the resource key, so two callers holding the same key are
// always serialized while unrelated keys rarely contend.
type ShardedMutex struct {
	shards []sync.Mutex
}

// NewShardedMutex creates a ShardedMutex with the given number of shards.
func NewShardedMutex(shards int) *ShardedMutex {
	if shards <= 0 {
		shards = DefaultShards
	}
	return &ShardedMutex{shards: make([]sync.Mutex, shards)}
}

// Lock acquires the lock for the given key's shard.
func (m *ShardedMutex) Lock(key string) {
	m.shards[m.shardFor(key)].Lock()
}

// Unlock releases the lock for the given key's shard.
func (m *ShardedMutex) Unlock(key string) {
	m.shards[m.shardFor(key)].Unlock()
}

// With runs fn while holding the key's shard.
func (m *ShardedMutex) With(key string, fn func() error) error {
	m.Lock(key)
	defer m.Unlock(key)
	return fn()
}

// Shards returns the number of shards.
func (m *ShardedMutex) Shards() int {
	return len(m.shards)
}

func (m *ShardedMutex) shardFor(key string) int {
	return ShardIndex(key, len(m.shards))
}

// ShardIndex maps key onto [0, n). Empty keys map to shard 0.
func ShardIndex(key string, n int) int {
	if key == "" || n <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(n))
}
