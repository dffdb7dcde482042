//go:build integration

package resolver_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/resolver"
	"github.com/Cooperation-org/claim-lexicon/pkg/testutil"
	"github.com/Cooperation-org/claim-lexicon/pkg/testutil/containers"
)

type RedisTierSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	tier  *resolver.RedisTier
	ctx   context.Context
}

func TestRedisTierSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisTierSuite))
}

func (s *RedisTierSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.tier = resolver.NewRedisTier(s.redis.Client, time.Minute)
}

func (s *RedisTierSuite) SetupTest() {
	s.ctx = context.Background()
	s.Require().NoError(s.redis.Flush(s.ctx))
}

func (s *RedisTierSuite) resolveDIDKey(did string) models.KeySet {
	ks, err := resolver.NewChain().Register("key", resolver.DIDKey{}).Resolve(s.ctx, did)
	s.Require().NoError(err)
	return ks
}

func (s *RedisTierSuite) TestRoundTripAndDelete() {
	key := testutil.NewEd25519Key()
	ks := s.resolveDIDKey(key.DID)

	_, ok, err := s.tier.Get(s.ctx, key.DID)
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.tier.Set(s.ctx, ks))
	got, ok, err := s.tier.Get(s.ctx, key.DID)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(ks.DID, got.DID)
	s.Require().Len(got.Keys, len(ks.Keys))
	s.Equal(ks.Keys[0].ID, got.Keys[0].ID)
	s.Equal(ks.Keys[0].Kind, got.Keys[0].Kind)

	s.Require().NoError(s.tier.Delete(s.ctx, key.DID))
	_, ok, err = s.tier.Get(s.ctx, key.DID)
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisTierSuite) TestSecondInstanceSkipsUpstream() {
	key := testutil.NewP256Key()
	first := testutil.NewCountingResolver()
	second := testutil.NewCountingResolver()

	a, err := resolver.New(first, resolver.WithSharedTier(s.tier))
	s.Require().NoError(err)
	b, err := resolver.New(second, resolver.WithSharedTier(s.tier))
	s.Require().NoError(err)

	_, err = a.Resolve(s.ctx, key.DID)
	s.Require().NoError(err)
	s.Equal(int64(1), first.Calls())

	ks, err := b.Resolve(s.ctx, key.DID)
	s.Require().NoError(err)
	s.Equal(key.DID, ks.DID)
	s.Zero(second.Calls())
}
