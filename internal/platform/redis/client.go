// Package redis opens the shared resolver cache connection.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/Cooperation-org/claim-lexicon/internal/platform/config"
)

const pingTimeout = 5 * time.Second

// Client is a go-redis client that reports its own health and pool stats.
type Client struct {
	*redis.Client
}

// Options converts cfg into go-redis options. Unset fields keep the
// go-redis defaults parsed from the URL.
func Options(cfg config.RedisConfig) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

// New connects to Redis. An empty URL returns nil, nil and the resolver runs
// without a shared tier.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{Client: client}, nil
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// Collector exports connection pool statistics, read at scrape time.
func (c *Client) Collector() prometheus.Collector {
	return &poolCollector{stats: c.PoolStats}
}

var (
	poolHitsDesc = prometheus.NewDesc("claims_redis_pool_hits_total",
		"Connections found idle in the pool.", nil, nil)
	poolMissesDesc = prometheus.NewDesc("claims_redis_pool_misses_total",
		"Connections not found idle in the pool.", nil, nil)
	poolTimeoutsDesc = prometheus.NewDesc("claims_redis_pool_timeouts_total",
		"Waits for a connection that timed out.", nil, nil)
	poolStaleDesc = prometheus.NewDesc("claims_redis_pool_stale_conns_total",
		"Stale connections removed from the pool.", nil, nil)
	poolTotalDesc = prometheus.NewDesc("claims_redis_pool_conns",
		"Open connections.", nil, nil)
	poolIdleDesc = prometheus.NewDesc("claims_redis_pool_idle_conns",
		"Idle connections.", nil, nil)
)

type poolCollector struct {
	stats func() *redis.PoolStats
}

func (p *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- poolHitsDesc
	ch <- poolMissesDesc
	ch <- poolTimeoutsDesc
	ch <- poolStaleDesc
	ch <- poolTotalDesc
	ch <- poolIdleDesc
}

func (p *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.stats()
	ch <- prometheus.MustNewConstMetric(poolHitsDesc, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(poolMissesDesc, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(poolTimeoutsDesc, prometheus.CounterValue, float64(s.Timeouts))
	ch <- prometheus.MustNewConstMetric(poolStaleDesc, prometheus.CounterValue, float64(s.StaleConns))
	ch <- prometheus.MustNewConstMetric(poolTotalDesc, prometheus.GaugeValue, float64(s.TotalConns))
	ch <- prometheus.MustNewConstMetric(poolIdleDesc, prometheus.GaugeValue, float64(s.IdleConns))
}
