// Package producer publishes keyed records to Kafka and waits for the
// broker to acknowledge them.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("producer is closed")

const closeFlushTimeout = 30 * time.Second

// Message is one record to publish.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Delivery is where the broker stored an acknowledged message.
type Delivery struct {
	Topic     string
	Partition int32
	Offset    int64
}

// Config holds producer configuration.
type Config struct {
	// Brokers is a comma separated seed list.
	Brokers string
	// Acks is "0", "1" or "all". Only "all" enables idempotent writes.
	Acks            string
	Retries         int
	DeliveryTimeout time.Duration
	Linger          time.Duration
}

// Producer publishes synchronously over one franz-go client.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
	closed atomic.Bool
}

func ackOpts(acks string) ([]kgo.Opt, error) {
	switch acks {
	case "", "all", "-1":
		return []kgo.Opt{kgo.RequiredAcks(kgo.AllISRAcks())}, nil
	case "1":
		return []kgo.Opt{kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite()}, nil
	case "0":
		return []kgo.Opt{kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite()}, nil
	default:
		return nil, fmt.Errorf("unknown acks %q: want 0, 1 or all", acks)
	}
}

// New creates a producer. Topics are created on first use when the broker
// allows it.
func New(cfg Config, logger *slog.Logger) (*Producer, error) {
	if strings.TrimSpace(cfg.Brokers) == "" {
		return nil, errors.New("kafka brokers not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := ackOpts(cfg.Acks)
	if err != nil {
		return nil, err
	}

	linger := cfg.Linger
	if linger <= 0 {
		linger = 5 * time.Millisecond
	}
	opts = append(opts,
		kgo.SeedBrokers(strings.Split(cfg.Brokers, ",")...),
		kgo.ProducerLinger(linger),
		kgo.AllowAutoTopicCreation(),
	)
	if cfg.Retries > 0 {
		opts = append(opts, kgo.RecordRetries(cfg.Retries))
	}
	if cfg.DeliveryTimeout > 0 {
		opts = append(opts, kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{client: client, logger: logger}, nil
}

// Produce publishes one message.
func (p *Producer) Produce(ctx context.Context, msg *Message) (Delivery, error) {
	out, err := p.ProduceBatch(ctx, []*Message{msg})
	if err != nil {
		return Delivery{}, err
	}
	return out[0], nil
}

// ProduceBatch publishes msgs and waits for every acknowledgement. Messages
// sharing a key land on one partition in slice order. Deliveries are
// returned in the same order; failed records are joined into the error.
func (p *Producer) ProduceBatch(ctx context.Context, msgs []*Message) ([]Delivery, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	records := make([]*kgo.Record, len(msgs))
	for i, msg := range msgs {
		records[i] = toRecord(msg)
	}

	results := p.client.ProduceSync(ctx, records...)
	out := make([]Delivery, len(results))
	var errs []error
	for i, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("record %d to %s: %w", i, res.Record.Topic, res.Err))
			continue
		}
		out[i] = Delivery{Topic: res.Record.Topic, Partition: res.Record.Partition, Offset: res.Record.Offset}
	}
	if err := errors.Join(errs...); err != nil {
		return out, fmt.Errorf("produce: %w", err)
	}
	return out, nil
}

func toRecord(msg *Message) *kgo.Record {
	r := &kgo.Record{Topic: msg.Topic, Key: msg.Key, Value: msg.Value}
	for k, v := range msg.Headers {
		r.Headers = append(r.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	return r
}

// Health reports whether a broker answers.
func (p *Producer) Health(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.client.Ping(ctx)
}

// Close flushes buffered records and releases the client. It is safe to
// call more than once.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("kafka producer closed with unflushed records", "error", err)
	}
	p.client.Close()
	return nil
}
