//go:build integration

package producer_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/ingest"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/internal/platform/kafka/producer"
	"github.com/Cooperation-org/claim-lexicon/pkg/testutil"
	"github.com/Cooperation-org/claim-lexicon/pkg/testutil/containers"
)

type ProducerIntegrationSuite struct {
	suite.Suite
	ctx      context.Context
	kafka    *containers.KafkaContainer
	producer *producer.Producer
}

func TestProducerIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ProducerIntegrationSuite))
}

func (s *ProducerIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.kafka = containers.GetManager().GetKafka(s.T())

	prod, err := producer.New(producer.Config{
		Brokers:         s.kafka.Brokers,
		Acks:            "all",
		Retries:         3,
		DeliveryTimeout: 10 * time.Second,
	}, nil)
	s.Require().NoError(err)
	s.producer = prod
}

func (s *ProducerIntegrationSuite) TearDownSuite() {
	if s.producer != nil {
		s.Require().NoError(s.producer.Close())
	}
}

func (s *ProducerIntegrationSuite) read(group, topic string, want int) []*kgo.Record {
	reader, err := s.kafka.NewReader(group, topic)
	s.Require().NoError(err)
	defer reader.Close()

	var got []*kgo.Record
	s.kafka.WaitForRecord(s.ctx, reader, 5*time.Second, func(r *kgo.Record) bool {
		got = append(got, r)
		return len(got) == want
	})
	s.Require().Len(got, want)
	return got
}

func (s *ProducerIntegrationSuite) TestClaimEventRoundTrip() {
	topic := "claims-produce-event"
	s.Require().NoError(s.kafka.CreateTopic(s.ctx, topic, 1, 1))

	ev := testutil.CreateEvent(testutil.TestDIDs.Alice, "r1", testutil.NewRecord().JSON())
	value, err := json.Marshal(ev)
	s.Require().NoError(err)

	d, err := s.producer.Produce(s.ctx, &producer.Message{
		Topic:   topic,
		Key:     []byte(ingest.LaneKey(ev)),
		Value:   value,
		Headers: map[string]string{"source": "relay-1"},
	})
	s.Require().NoError(err)
	s.Equal(topic, d.Topic)
	s.Equal(int64(0), d.Offset)

	r := s.read("produce-event-reader", topic, 1)[0]
	s.Equal(ingest.LaneKey(ev), string(r.Key))
	s.Require().Len(r.Headers, 1)
	s.Equal("relay-1", string(r.Headers[0].Value))

	var got models.Event
	s.Require().NoError(json.Unmarshal(r.Value, &got))
	s.Equal(ev.RecordKey, got.RecordKey)
	s.Equal(models.ActionCreate, got.Action)
}

func (s *ProducerIntegrationSuite) TestBatchKeepsSlotOrder() {
	topic := "claims-produce-batch"
	s.Require().NoError(s.kafka.CreateTopic(s.ctx, topic, 3, 1))

	var msgs []*producer.Message
	for _, action := range []string{"create", "update", "delete"} {
		msgs = append(msgs, &producer.Message{Topic: topic, Key: []byte("did:plc:alice/org.claims.claim/r1"), Value: []byte(action)})
	}
	ds, err := s.producer.ProduceBatch(s.ctx, msgs)
	s.Require().NoError(err)
	s.Require().Len(ds, 3)
	s.Equal(ds[0].Partition, ds[2].Partition)
	s.Less(ds[0].Offset, ds[1].Offset)
	s.Less(ds[1].Offset, ds[2].Offset)

	var seen []string
	for _, r := range s.read("produce-batch-reader", topic, 3) {
		seen = append(seen, string(r.Value))
	}
	s.Equal([]string{"create", "update", "delete"}, seen)
}

func (s *ProducerIntegrationSuite) TestUnknownTopicIsCreated() {
	topic := "claims-auto-" + time.Now().Format("20060102150405")

	_, err := s.producer.Produce(s.ctx, &producer.Message{Topic: topic, Key: []byte("k"), Value: []byte("v")})
	s.Require().NoError(err)
	s.read("produce-auto-reader", topic, 1)
}

func (s *ProducerIntegrationSuite) TestHealthAndClose() {
	prod, err := producer.New(producer.Config{Brokers: s.kafka.Brokers}, nil)
	s.Require().NoError(err)
	s.NoError(prod.Health(s.ctx))

	s.Require().NoError(prod.Close())
	s.Require().NoError(prod.Close())
	s.ErrorIs(prod.Health(s.ctx), producer.ErrClosed)
	_, err = prod.Produce(s.ctx, &producer.Message{Topic: "t"})
	s.ErrorIs(err, producer.ErrClosed)
}
