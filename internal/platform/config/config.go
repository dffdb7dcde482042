// Package config loads indexer settings from defaults, an optional YAML
// file, CLAIMS_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides: server.addr is read from
// CLAIMS_SERVER_ADDR.
const EnvPrefix = "CLAIMS"

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	Environment     string        `mapstructure:"environment" yaml:"environment"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// AdminToken guards /admin routes; empty disables them.
	AdminToken string `mapstructure:"admin_token" yaml:"admin_token"`
}

// DatabaseConfig selects the derived store. An empty URL keeps everything in
// memory.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" yaml:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate" yaml:"migrate"`
}

// RedisConfig enables the shared resolver cache tier when URL is set.
type RedisConfig struct {
	URL          string        `mapstructure:"url" yaml:"url"`
	PoolSize     int           `mapstructure:"pool_size" yaml:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns" yaml:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	TTL          time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// KafkaConfig enables the Kafka change-stream source when Brokers is set.
type KafkaConfig struct {
	Brokers         string   `mapstructure:"brokers" yaml:"brokers"`
	GroupID         string   `mapstructure:"group_id" yaml:"group_id"`
	Topics          []string `mapstructure:"topics" yaml:"topics"`
	AutoOffsetReset string   `mapstructure:"auto_offset_reset" yaml:"auto_offset_reset"`
	MaxPollRecords  int      `mapstructure:"max_poll_records" yaml:"max_poll_records"`
}

// JetstreamConfig enables the Jetstream websocket source when URL is set.
type JetstreamConfig struct {
	URL            string        `mapstructure:"url" yaml:"url"`
	Name           string        `mapstructure:"name" yaml:"name"`
	BatchSize      int           `mapstructure:"batch_size" yaml:"batch_size"`
	FlushInterval  time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
}

// IngestConfig sizes the ingestion path.
type IngestConfig struct {
	Collections   []string      `mapstructure:"collections" yaml:"collections"`
	Lanes         int           `mapstructure:"lanes" yaml:"lanes"`
	LaneDepth     int           `mapstructure:"lane_depth" yaml:"lane_depth"`
	Workers       int           `mapstructure:"workers" yaml:"workers"`
	QueueSize     int           `mapstructure:"queue_size" yaml:"queue_size"`
	VerifyTimeout time.Duration `mapstructure:"verify_timeout" yaml:"verify_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	SweepBatch    int           `mapstructure:"sweep_batch" yaml:"sweep_batch"`
}

// ResolverConfig controls identity resolution.
type ResolverConfig struct {
	PLCURL       string        `mapstructure:"plc_url" yaml:"plc_url"`
	CacheSize    int           `mapstructure:"cache_size" yaml:"cache_size"`
	FailureTTL   time.Duration `mapstructure:"failure_ttl" yaml:"failure_ttl"`
	TransientTTL time.Duration `mapstructure:"transient_ttl" yaml:"transient_ttl"`
	CallTimeout  time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	Rate         float64       `mapstructure:"rate" yaml:"rate"`
	Burst        int           `mapstructure:"burst" yaml:"burst"`
}

// GraphConfig controls attestation counting and traversal caps.
type GraphConfig struct {
	FlaggedPolicy      string   `mapstructure:"flagged_policy" yaml:"flagged_policy"`
	CountInvalidProofs bool     `mapstructure:"count_invalid_proofs" yaml:"count_invalid_proofs"`
	EndorseTypes       []string `mapstructure:"endorse_types" yaml:"endorse_types"`
	DisputeTypes       []string `mapstructure:"dispute_types" yaml:"dispute_types"`
	MaxDepth           int      `mapstructure:"max_depth" yaml:"max_depth"`
	MaxNodes           int      `mapstructure:"max_nodes" yaml:"max_nodes"`
	MaxFanout          int      `mapstructure:"max_fanout" yaml:"max_fanout"`
	Incremental        bool     `mapstructure:"incremental" yaml:"incremental"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// TracingConfig switches ingest and verification spans to OpenTelemetry.
// Disabled spans go to a no-op tracer.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Config is the complete indexer configuration.
type Config struct {
	Server    Server          `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka" yaml:"kafka"`
	Jetstream JetstreamConfig `mapstructure:"jetstream" yaml:"jetstream"`
	Ingest    IngestConfig    `mapstructure:"ingest" yaml:"ingest"`
	Resolver  ResolverConfig  `mapstructure:"resolver" yaml:"resolver"`
	Graph     GraphConfig     `mapstructure:"graph" yaml:"graph"`
	Tracing   TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// SetDefaults registers every default on v so that environment variables
// for unset keys are still picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.request_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)
	v.SetDefault("server.admin_token", "")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.ttl", 10*time.Minute)

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.group_id", "claims-indexer")
	v.SetDefault("kafka.topics", []string{"claims.events"})
	v.SetDefault("kafka.auto_offset_reset", "earliest")
	v.SetDefault("kafka.max_poll_records", 500)

	v.SetDefault("jetstream.url", "")
	v.SetDefault("jetstream.name", "jetstream")
	v.SetDefault("jetstream.batch_size", 100)
	v.SetDefault("jetstream.flush_interval", 250*time.Millisecond)
	v.SetDefault("jetstream.reconnect_delay", time.Second)

	v.SetDefault("ingest.collections", []string{"com.linkedclaims.claim"})
	v.SetDefault("ingest.lanes", 16)
	v.SetDefault("ingest.lane_depth", 64)
	v.SetDefault("ingest.workers", 8)
	v.SetDefault("ingest.queue_size", 1024)
	v.SetDefault("ingest.verify_timeout", 10*time.Second)
	v.SetDefault("ingest.sweep_interval", 30*time.Second)
	v.SetDefault("ingest.sweep_batch", 200)

	v.SetDefault("resolver.plc_url", "https://plc.directory")
	v.SetDefault("resolver.cache_size", 10_000)
	v.SetDefault("resolver.failure_ttl", time.Minute)
	v.SetDefault("resolver.transient_ttl", 200*time.Millisecond)
	v.SetDefault("resolver.call_timeout", 5*time.Second)
	v.SetDefault("resolver.rate", 50.0)
	v.SetDefault("resolver.burst", 20)

	v.SetDefault("graph.flagged_policy", "flag")
	v.SetDefault("graph.count_invalid_proofs", false)
	v.SetDefault("graph.endorse_types", []string{})
	v.SetDefault("graph.dispute_types", []string{})
	v.SetDefault("graph.max_depth", 5)
	v.SetDefault("graph.max_nodes", 500)
	v.SetDefault("graph.max_fanout", 100)
	v.SetDefault("graph.incremental", true)

	v.SetDefault("tracing.enabled", false)

	v.SetDefault("log.level", "info")
}

// Load reads the configuration. file may be empty; a missing explicit file
// is an error.
func Load(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch c.Graph.FlaggedPolicy {
	case "flag", "exclude":
	default:
		errs = append(errs, fmt.Errorf("graph.flagged_policy must be flag or exclude, got %q", c.Graph.FlaggedPolicy))
	}
	if c.Graph.MaxDepth < 1 {
		errs = append(errs, errors.New("graph.max_depth must be at least 1"))
	}
	if c.Ingest.Workers < 1 {
		errs = append(errs, errors.New("ingest.workers must be at least 1"))
	}
	if c.Ingest.QueueSize < 1 {
		errs = append(errs, errors.New("ingest.queue_size must be at least 1"))
	}
	if c.Kafka.Brokers != "" && len(c.Kafka.Topics) == 0 {
		errs = append(errs, errors.New("kafka.topics is required when kafka.brokers is set"))
	}
	switch c.Kafka.AutoOffsetReset {
	case "earliest", "latest":
	default:
		errs = append(errs, fmt.Errorf("kafka.auto_offset_reset must be earliest or latest, got %q", c.Kafka.AutoOffsetReset))
	}
	return errors.Join(errs...)
}
