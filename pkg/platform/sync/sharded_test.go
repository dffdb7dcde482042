package sync

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardedMutex_LockUnlock(t *testing.T) {
	m := NewShardedMutex(8)

	m.Lock("at://did:plc:alice/com.linkedclaims.claim/1")
	m.Unlock("at://did:plc:alice/com.linkedclaims.claim/1")

	// Empty key should work (defaults to shard 0)
	m.Lock("")
	m.Unlock("")
}

func TestShardedMutex_DefaultShards(t *testing.T) {
	assert.Equal(t, DefaultShards, NewShardedMutex(0).Shards())
	assert.Equal(t, 4, NewShardedMutex(4).Shards())
}

func TestShardedMutex_SameKeySerializes(t *testing.T) {
	m := NewShardedMutex(16)
	counter := 0
	var wg sync.WaitGroup

	for range 100 {
		wg.Go(func() {
			m.Lock("same-key")
			defer m.Unlock("same-key")
			counter++
		})
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestShardedMutex_WithPropagatesError(t *testing.T) {
	m := NewShardedMutex(2)
	want := errors.New("apply failed")

	err := m.With("k", func() error { return want })

	assert.ErrorIs(t, err, want)
	// the shard must have been released
	m.Lock("k")
	m.Unlock("k")
}

func TestShardIndex(t *testing.T) {
	assert.Equal(t, 0, ShardIndex("", 32))
	assert.Equal(t, 0, ShardIndex("anything", 1))
	assert.Equal(t, ShardIndex("stable", 32), ShardIndex("stable", 32))

	shards := make(map[int]bool)
	for i := range 64 {
		shards[ShardIndex(fmt.Sprintf("at://did:plc:user%d/c/r", i), 32)] = true
	}
	assert.GreaterOrEqual(t, len(shards), 8, "expected keys to distribute across multiple shards")
}
