package producer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Brokers: " "}, nil)
	assert.ErrorContains(t, err, "brokers not configured")

	_, err = New(Config{Brokers: "localhost:9092", Acks: "most"}, nil)
	assert.ErrorContains(t, err, `unknown acks "most"`)
}

func TestAckOpts(t *testing.T) {
	for _, acks := range []string{"", "all", "-1"} {
		opts, err := ackOpts(acks)
		require.NoError(t, err)
		assert.Len(t, opts, 1, acks)
	}
	for _, acks := range []string{"0", "1"} {
		opts, err := ackOpts(acks)
		require.NoError(t, err)
		assert.Len(t, opts, 2, "%s disables idempotent writes", acks)
	}
}

func TestToRecordCopiesHeaders(t *testing.T) {
	r := toRecord(&Message{
		Topic:   "claims.events",
		Key:     []byte("did:plc:alice/org.claims.claim/r1"),
		Value:   []byte(`{}`),
		Headers: map[string]string{"source": "relay-1"},
	})
	assert.Equal(t, "claims.events", r.Topic)
	require.Len(t, r.Headers, 1)
	assert.Equal(t, "source", r.Headers[0].Key)
	assert.Equal(t, "relay-1", string(r.Headers[0].Value))
}
