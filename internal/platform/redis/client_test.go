package redis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cooperation-org/claim-lexicon/internal/platform/config"
)

func TestNewWithoutURLDisablesTier(t *testing.T) {
	c, err := New(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestOptions(t *testing.T) {
	opts, err := Options(config.RedisConfig{
		URL:         "redis://cache:6380/2",
		PoolSize:    7,
		DialTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, 2*time.Second, opts.DialTimeout)

	_, err = Options(config.RedisConfig{URL: "http://cache"})
	assert.Error(t, err)
}

func TestPoolCollector(t *testing.T) {
	c := &poolCollector{stats: func() *redis.PoolStats {
		return &redis.PoolStats{Hits: 12, Misses: 3, TotalConns: 4, IdleConns: 2}
	}}

	assert.Equal(t, 6, testutil.CollectAndCount(c))
	err := testutil.CollectAndCompare(c, strings.NewReader(`
# HELP claims_redis_pool_hits_total Connections found idle in the pool.
# TYPE claims_redis_pool_hits_total counter
claims_redis_pool_hits_total 12
# HELP claims_redis_pool_idle_conns Idle connections.
# TYPE claims_redis_pool_idle_conns gauge
claims_redis_pool_idle_conns 2
`), "claims_redis_pool_hits_total", "claims_redis_pool_idle_conns")
	assert.NoError(t, err)
}
