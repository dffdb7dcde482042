//go:build integration

package containers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// redpandaImage speaks the Kafka protocol and starts in seconds.
const redpandaImage = "redpandadata/redpanda:v24.2.7"

// KafkaContainer is a single-broker change-stream backend.
type KafkaContainer struct {
	container *kafka.KafkaContainer
	Brokers   string
}

// NewKafkaContainer starts a broker. Ryuk removes it when the test binary
// exits.
func NewKafkaContainer(t *testing.T) *KafkaContainer {
	t.Helper()
	ctx := context.Background()

	c, err := kafka.Run(ctx, redpandaImage, kafka.WithClusterID("claims-test"))
	if err != nil {
		t.Fatalf("start kafka: %v", err)
	}
	brokers, err := c.Brokers(ctx)
	if err != nil || len(brokers) == 0 {
		_ = c.Terminate(ctx)
		t.Fatalf("kafka brokers: %v", err)
	}
	return &KafkaContainer{container: c, Brokers: brokers[0]}
}

// CreateTopic creates topic with the given layout. An existing topic is an
// error so tests notice name collisions.
func (k *KafkaContainer) CreateTopic(ctx context.Context, topic string, partitions int32, replicationFactor int16) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(k.Brokers))
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := kadm.NewClient(client).CreateTopics(ctx, partitions, replicationFactor, nil, topic)
	if err != nil {
		return err
	}
	if res, ok := resp[topic]; ok && res.Err != nil {
		return fmt.Errorf("create topic %s: %w", topic, res.Err)
	}
	return nil
}

// NewReader returns a group consumer reading topics from the start.
func (k *KafkaContainer) NewReader(groupID string, topics ...string) (*kgo.Client, error) {
	return kgo.NewClient(
		kgo.SeedBrokers(k.Brokers),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
	)
}

// WaitForRecord polls until a record satisfies match or timeout elapses, and
// returns nil on timeout.
func (k *KafkaContainer) WaitForRecord(ctx context.Context, client *kgo.Client, timeout time.Duration, match func(*kgo.Record) bool) *kgo.Record {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for ctx.Err() == nil {
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		iter := fetches.RecordIter()
		for !iter.Done() {
			if r := iter.Next(); match(r) {
				return r
			}
		}
	}
	return nil
}
