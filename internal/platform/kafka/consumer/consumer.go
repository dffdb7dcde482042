// Package consumer runs a Kafka group consumer that hands each partition's
// records to a Handler and commits only what the Handler accepted.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// ErrStopped is returned by Health once Stop has been called.
var ErrStopped = errors.New("consumer stopped")

const defaultMaxPollRecords = 500

// Message is one received record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Handler processes the records polled from one partition, in offset order.
type Handler interface {
	// HandleBatch returns an error to stop consumption. The batch is not
	// committed and is redelivered to the next member of the group.
	HandleBatch(ctx context.Context, msgs []*Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msgs []*Message) error

func (f HandlerFunc) HandleBatch(ctx context.Context, msgs []*Message) error {
	return f(ctx, msgs)
}

// Config holds consumer configuration.
type Config struct {
	// Brokers is a comma separated seed list.
	Brokers string
	GroupID string
	Topics  []string
	// AutoOffsetReset is "earliest" or "latest" and applies to partitions
	// the group has never committed.
	AutoOffsetReset string
	MaxPollRecords  int
}

func (c Config) validate() error {
	var errs []error
	if strings.TrimSpace(c.Brokers) == "" {
		errs = append(errs, errors.New("kafka brokers not configured"))
	}
	if c.GroupID == "" {
		errs = append(errs, errors.New("kafka consumer group not configured"))
	}
	if len(c.Topics) == 0 {
		errs = append(errs, errors.New("kafka topics not configured"))
	}
	return errors.Join(errs...)
}

// Consumer polls with auto-commit disabled.
type Consumer struct {
	client   *kgo.Client
	handler  Handler
	logger   *slog.Logger
	maxBatch int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	started  atomic.Bool
	stopOnce sync.Once
	mu       sync.Mutex
	err      error
}

// New creates a consumer subscribed to cfg.Topics. Call Start to poll.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Consumer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	reset := kgo.NewOffset().AtStart()
	if cfg.AutoOffsetReset == "latest" {
		reset = kgo.NewOffset().AtEnd()
	}
	maxBatch := cfg.MaxPollRecords
	if maxBatch <= 0 {
		maxBatch = defaultMaxPollRecords
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(cfg.Brokers, ",")...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(reset),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		client:   client,
		handler:  handler,
		logger:   logger.With("group", cfg.GroupID),
		maxBatch: maxBatch,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

// Start launches the poll loop.
func (c *Consumer) Start() {
	if c.started.CompareAndSwap(false, true) {
		go c.run()
	}
}

// Done is closed when the poll loop exits.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// Err returns the handler error that stopped the loop, if any.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Consumer) run() {
	defer close(c.done)
	for c.ctx.Err() == nil {
		if err := c.poll(); err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}
	}
}

// poll hands one fetch to the handler partition by partition. Records the
// handler accepted are committed even when a later partition fails.
func (c *Consumer) poll() error {
	fetches := c.client.PollRecords(c.ctx, c.maxBatch)
	defer c.client.AllowRebalance()

	if fetches.IsClientClosed() || c.ctx.Err() != nil {
		return nil
	}
	fetches.EachError(func(topic string, partition int32, err error) {
		if !errors.Is(err, context.Canceled) {
			c.logger.Error("kafka fetch error", "topic", topic, "partition", partition, "error", err)
		}
	})

	var parts []kgo.FetchTopicPartition
	fetches.EachPartition(func(p kgo.FetchTopicPartition) {
		if len(p.Records) > 0 {
			parts = append(parts, p)
		}
	})

	var handled []*kgo.Record
	var handlerErr error
	for _, p := range parts {
		if err := c.handler.HandleBatch(c.ctx, toMessages(p.Records)); err != nil {
			last := p.Records[len(p.Records)-1]
			c.logger.Error("failed to handle batch, consumption stopped",
				"topic", p.Topic,
				"partition", p.Partition,
				"offset", last.Offset,
				"records", len(p.Records),
				"error", err,
			)
			handlerErr = err
			break
		}
		handled = append(handled, p.Records...)
	}

	if len(handled) > 0 {
		if err := c.client.CommitRecords(c.ctx, handled...); err != nil && c.ctx.Err() == nil {
			// Uncommitted records are redelivered; the handler is idempotent.
			c.logger.Error("failed to commit offsets", "records", len(handled), "error", err)
		}
	}
	return handlerErr
}

func toMessages(records []*kgo.Record) []*Message {
	msgs := make([]*Message, len(records))
	for i, r := range records {
		headers := make(map[string]string, len(r.Headers))
		for _, h := range r.Headers {
			headers[h.Key] = string(h.Value)
		}
		msgs[i] = &Message{
			Topic:     r.Topic,
			Partition: r.Partition,
			Offset:    r.Offset,
			Key:       r.Key,
			Value:     r.Value,
			Headers:   headers,
			Timestamp: r.Timestamp,
		}
	}
	return msgs
}

// Stop ends the poll loop, leaves the group and closes the client. It waits
// for an in-flight batch until ctx expires.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.cancel()
		if c.started.CompareAndSwap(false, true) {
			close(c.done)
		}
		select {
		case <-c.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		c.client.Close()
	})
	return err
}

// Health reports whether a broker answers.
func (c *Consumer) Health(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrStopped
	}
	return c.client.Ping(ctx)
}
