package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
)

const redisKeyPrefix = "claims:resolver:"

// RedisTier shares resolved key material between indexer instances. Keys are
// stored in multikey form and decoded on read.
type RedisTier struct {
	client redis.Cmdable
	ttl    time.Duration
}

type storedKey struct {
	ID         string `json:"id"`
	Controller string `json:"controller"`
	Multikey   string `json:"multikey"`
}

type storedKeySet struct {
	DID        string      `json:"did"`
	Keys       []storedKey `json:"keys"`
	ResolvedAt time.Time   `json:"resolvedAt"`
}

// NewRedisTier creates a shared tier. A zero ttl keeps entries until
// invalidated.
func NewRedisTier(client redis.Cmdable, ttl time.Duration) *RedisTier {
	return &RedisTier{client: client, ttl: ttl}
}

// Get loads the key set of did. A miss returns ok=false and no error.
func (t *RedisTier) Get(ctx context.Context, did string) (models.KeySet, bool, error) {
	data, err := t.client.Get(ctx, redisKeyPrefix+did).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.KeySet{}, false, nil
		}
		return models.KeySet{}, false, fmt.Errorf("read resolver entry: %w", err)
	}

	var stored storedKeySet
	if err := json.Unmarshal(data, &stored); err != nil {
		return models.KeySet{}, false, fmt.Errorf("decode resolver entry: %w", err)
	}
	ks := models.KeySet{DID: stored.DID, ResolvedAt: stored.ResolvedAt}
	for _, sk := range stored.Keys {
		km, err := DecodeMultikey(sk.Multikey)
		if err != nil {
			return models.KeySet{}, false, fmt.Errorf("decode resolver entry key %s: %w", sk.ID, err)
		}
		km.ID = sk.ID
		km.Controller = sk.Controller
		ks.Keys = append(ks.Keys, km)
	}
	return ks, true, nil
}

// Set stores ks under its DID.
func (t *RedisTier) Set(ctx context.Context, ks models.KeySet) error {
	stored := storedKeySet{DID: ks.DID, ResolvedAt: ks.ResolvedAt}
	for _, k := range ks.Keys {
		stored.Keys = append(stored.Keys, storedKey{ID: k.ID, Controller: k.Controller, Multikey: k.Multikey})
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode resolver entry: %w", err)
	}
	if err := t.client.Set(ctx, redisKeyPrefix+ks.DID, payload, t.ttl).Err(); err != nil {
		return fmt.Errorf("write resolver entry: %w", err)
	}
	return nil
}

// Delete removes did from the shared tier.
func (t *RedisTier) Delete(ctx context.Context, did string) error {
	if err := t.client.Del(ctx, redisKeyPrefix+did).Err(); err != nil {
		return fmt.Errorf("delete resolver entry: %w", err)
	}
	return nil
}
