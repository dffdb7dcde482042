package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	dErrors "github.com/Cooperation-org/claim-lexicon/pkg/domain-errors"
)

type ModelsSuite struct {
	suite.Suite
}

func TestModelsSuite(t *testing.T) {
	suite.Run(t, new(ModelsSuite))
}

func (s *ModelsSuite) TestParseLocator() {
	s.Run("accepts a record locator", func() {
		loc, err := ParseLocator("at://did:plc:alice123/com.linkedclaims.claim/3kabc")
		s.Require().NoError(err)
		s.Equal("did:plc:alice123", loc.Owner())
		s.Equal("com.linkedclaims.claim", loc.Collection())
		s.Equal("3kabc", loc.RecordKey())
	})

	s.Run("rejects a handle authority", func() {
		_, err := ParseLocator("at://alice.example.com/com.linkedclaims.claim/3kabc")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("rejects a collection-only uri", func() {
		_, err := ParseLocator("at://did:plc:alice123/com.linkedclaims.claim")
		s.Require().Error(err)
	})

	s.Run("rejects plain web urls", func() {
		_, err := ParseLocator("https://ngo.example/project")
		s.Require().Error(err)
	})

	s.Run("rejects empty input", func() {
		_, err := ParseLocator("  ")
		s.Require().Error(err)
	})
}

func (s *ModelsSuite) TestDigest() {
	d := DigestOf([]byte(`{"a":1}`))
	s.True(strings.HasPrefix(d.String(), "sha256-"))

	parsed, err := ParseDigest(d.String())
	s.Require().NoError(err)
	s.Equal(d, parsed)

	s.NotEqual(d, DigestOf([]byte(`{"a":2}`)))

	_, err = ParseDigest("sha256-zz")
	s.Error(err)
	_, err = ParseDigest("md5-" + strings.Repeat("0", 64))
	s.Error(err)
}

func (s *ModelsSuite) TestControllerDID() {
	did, err := ControllerDID("did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK#z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK")
	s.Require().NoError(err)
	s.Equal("did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK", did)
	s.Equal("key", DIDMethod(did))

	_, err = ControllerDID("not-a-did#key-1")
	s.Error(err)
}

func (s *ModelsSuite) TestProofValid() {
	s.Nil(Claim{Verdict: VerdictUnverifiable}.ProofValid())
	s.Nil(Claim{Verdict: VerdictPending}.ProofValid())
	s.Nil(Claim{Verdict: VerdictNone}.ProofValid())

	valid := Claim{Verdict: VerdictValid}.ProofValid()
	s.Require().NotNil(valid)
	s.True(*valid)

	invalid := Claim{Verdict: VerdictInvalid}.ProofValid()
	s.Require().NotNil(invalid)
	s.False(*invalid)
}

func (s *ModelsSuite) TestNormalizeHowKnown() {
	s.Equal(HowKnownFirstHand, NormalizeHowKnown("first_hand"))
	s.Equal(HowKnownOther, NormalizeHowKnown("TELEPATHY"))
	s.Equal(HowKnown(""), NormalizeHowKnown(""))
}

func (s *ModelsSuite) TestKeySetFind() {
	ks := KeySet{DID: "did:web:example.com", Keys: []KeyMaterial{
		{ID: "did:web:example.com#p256", Kind: KeyKindP256},
		{ID: "did:web:example.com#ed", Kind: KeyKindEd25519},
	}}

	k, ok := ks.Find("did:web:example.com#ed", KeyKindEd25519)
	s.Require().True(ok)
	s.Equal("did:web:example.com#ed", k.ID)

	k, ok = ks.Find("did:web:example.com", KeyKindP256)
	s.Require().True(ok)
	s.Equal("did:web:example.com#p256", k.ID)

	_, ok = ks.Find("did:web:example.com#ed", KeyKindP256)
	s.False(ok)
}

func (s *ModelsSuite) TestCloneIsDeep() {
	c := Claim{Record: []byte(`{"a":1}`), Source: &Source{URI: "https://x"}}
	clone := c.Clone()
	clone.Record[0] = 'X'
	clone.Source.URI = "changed"
	s.Equal(byte('{'), c.Record[0])
	s.Equal("https://x", c.Source.URI)
}
