package store_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/store"
	dErrors "github.com/Cooperation-org/claim-lexicon/pkg/domain-errors"
)

const (
	alice = "did:plc:alice"
	bob   = "did:plc:bob"
	carol = "did:plc:carol"
)

// ContractSuite exercises the Store semantics every backend must share.
// Backends embed it and set newStore.
type ContractSuite struct {
	suite.Suite
	ctx      context.Context
	newStore func() store.Store
	store    store.Store
	changes  *recordingObserver
}

func (s *ContractSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore()
	s.changes = &recordingObserver{}
	s.store.Subscribe(s.changes)
}

type change struct {
	uri    models.Locator
	digest models.Digest
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []change
}

func (o *recordingObserver) ClaimChanged(_ context.Context, uri models.Locator, digest models.Digest) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, change{uri: uri, digest: digest})
}

func (o *recordingObserver) all() []change {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]change(nil), o.seen...)
}

func locator(owner, rkey string) models.Locator {
	return models.Locator(fmt.Sprintf("at://%s/%s/%s", owner, models.DefaultCollection, rkey))
}

func newClaim(uri models.Locator, statement string) *models.Claim {
	record := []byte(fmt.Sprintf(`{"subject":"https://ngo.example/project","claim":"impact","statement":%q}`, statement))
	created := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	return &models.Claim{
		URI:       uri,
		Digest:    models.DigestOf(record),
		Owner:     uri.Owner(),
		Subject:   "https://ngo.example/project",
		ClaimType: "impact",
		Statement: statement,
		CreatedAt: &created,
		Signer:    uri.Owner(),
		Record:    record,
		Canonical: record,
		Verdict:   models.VerdictNone,
		Source: &models.Source{
			URI:      "https://ngo.example/report.pdf",
			HowKnown: models.HowKnownWebDocument,
		},
	}
}

func (s *ContractSuite) TestApplyCreate() {
	uri := locator(alice, "c1")

	s.Run("new locator is created", func() {
		res, err := s.store.ApplyCreate(s.ctx, newClaim(uri, "planted 40 trees"), nil)
		s.Require().NoError(err)
		s.Equal(store.Created, res.Outcome)
		s.Positive(res.Claim.Seq)
		s.Nil(res.Previous)

		got, err := s.store.GetByLocator(s.ctx, uri)
		s.Require().NoError(err)
		s.Equal("planted 40 trees", got.Statement)
		s.Require().NotNil(got.Source)
		s.Equal(models.HowKnownWebDocument, got.Source.HowKnown)
		s.True(got.Active())
	})

	s.Run("same content again is a duplicate", func() {
		res, err := s.store.ApplyCreate(s.ctx, newClaim(uri, "planted 40 trees"), nil)
		s.Require().NoError(err)
		s.Equal(store.DuplicateCreate, res.Outcome)

		revs, err := s.store.Revisions(s.ctx, uri)
		s.Require().NoError(err)
		s.Len(revs, 1)
	})

	s.Run("new content supersedes the live revision", func() {
		first, err := s.store.GetByLocator(s.ctx, uri)
		s.Require().NoError(err)

		res, err := s.store.ApplyCreate(s.ctx, newClaim(uri, "planted 41 trees"), nil)
		s.Require().NoError(err)
		s.Equal(store.Superseded, res.Outcome)
		s.Require().NotNil(res.Previous)
		s.Equal(first.Digest, res.Previous.Digest)

		old, err := s.store.GetRevision(s.ctx, uri, first.Digest)
		s.Require().NoError(err)
		s.Equal(res.Claim.Digest, old.SupersededBy)
		s.False(old.Active())

		cur, err := s.store.GetByLocator(s.ctx, uri)
		s.Require().NoError(err)
		s.Equal(res.Claim.Digest, cur.Digest)
	})
}

func (s *ContractSuite) TestApplyDelete() {
	uri := locator(alice, "d1")
	_, err := s.store.ApplyCreate(s.ctx, newClaim(uri, "served 300 meals"), nil)
	s.Require().NoError(err)
	at := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	res, err := s.store.ApplyDelete(s.ctx, uri, at)
	s.Require().NoError(err)
	s.Equal(store.Deleted, res.Outcome)

	got, err := s.store.GetByLocator(s.ctx, uri)
	s.Require().NoError(err)
	s.True(got.Deleted)
	s.Equal(models.DeletedByOwner, got.DeletedReason)
	s.Require().NotNil(got.DeletedAt)
	s.True(at.Equal(*got.DeletedAt))

	res, err = s.store.ApplyDelete(s.ctx, uri, at.Add(time.Hour))
	s.Require().NoError(err)
	s.Equal(store.DuplicateDelete, res.Outcome)

	list, err := s.store.ListBySubject(s.ctx, "https://ngo.example/project", store.ListFilter{})
	s.Require().NoError(err)
	s.Empty(list)

	list, err = s.store.ListBySubject(s.ctx, "https://ngo.example/project", store.ListFilter{IncludeInactive: true})
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *ContractSuite) TestDeleteBeforeCreate() {
	uri := locator(bob, "early")
	at := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	res, err := s.store.ApplyDelete(s.ctx, uri, at)
	s.Require().NoError(err)
	s.Equal(store.DeletePending, res.Outcome)

	res, err = s.store.ApplyDelete(s.ctx, uri, at)
	s.Require().NoError(err)
	s.Equal(store.DuplicateDelete, res.Outcome)

	created, err := s.store.ApplyCreate(s.ctx, newClaim(uri, "late create"), nil)
	s.Require().NoError(err)
	s.Equal(store.CreatedTombstoned, created.Outcome)
	s.True(created.Claim.Deleted)
	s.Equal(models.DeletedBeforeCreate, created.Claim.DeletedReason)

	again, err := s.store.ApplyCreate(s.ctx, newClaim(uri, "late create"), nil)
	s.Require().NoError(err)
	s.Equal(store.DuplicateCreate, again.Outcome)
	s.True(again.Claim.Deleted)
}

func (s *ContractSuite) TestCreateAfterDeleteIsLive() {
	uri := locator(alice, "reborn")
	_, err := s.store.ApplyCreate(s.ctx, newClaim(uri, "v1"), nil)
	s.Require().NoError(err)
	_, err = s.store.ApplyDelete(s.ctx, uri, time.Now())
	s.Require().NoError(err)

	res, err := s.store.ApplyCreate(s.ctx, newClaim(uri, "v2"), nil)
	s.Require().NoError(err)
	s.Equal(store.Created, res.Outcome)
	s.True(res.Claim.Active())
}

func (s *ContractSuite) TestSetVerdict() {
	uri := locator(alice, "v1")
	c := newClaim(uri, "signed")
	c.Verdict = models.VerdictPending
	c.Proof = &models.Proof{Type: "Ed25519Signature2020", VerificationMethod: alice + "#k", ProofValue: "z1"}
	_, err := s.store.ApplyCreate(s.ctx, c, nil)
	s.Require().NoError(err)

	pending, err := s.store.ListPending(s.ctx, store.ListFilter{})
	s.Require().NoError(err)
	s.Len(pending, 1)

	err = s.store.SetVerdict(s.ctx, uri, c.Digest, models.VerificationResult{
		Verdict: models.VerdictValid,
		Reason:  models.ReasonOK,
	}, time.Now())
	s.Require().NoError(err)

	got, err := s.store.GetRevision(s.ctx, uri, c.Digest)
	s.Require().NoError(err)
	s.Equal(models.VerdictValid, got.Verdict)
	s.Require().NotNil(got.Proof)
	s.Equal("Ed25519Signature2020", got.Proof.Type)
	s.NotNil(got.VerifiedAt)

	pending, err = s.store.ListPending(s.ctx, store.ListFilter{})
	s.Require().NoError(err)
	s.Empty(pending)

	signed, err := s.store.ListSigned(s.ctx, alice, store.ListFilter{})
	s.Require().NoError(err)
	s.Len(signed, 1)

	err = s.store.SetVerdict(s.ctx, uri, "sha256-missing", models.VerificationResult{Verdict: models.VerdictValid}, time.Now())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ContractSuite) TestLookups() {
	a := newClaim(locator(alice, "l1"), "shared")
	b := newClaim(locator(bob, "l2"), "shared")
	_, err := s.store.ApplyCreate(s.ctx, a, nil)
	s.Require().NoError(err)
	_, err = s.store.ApplyCreate(s.ctx, b, nil)
	s.Require().NoError(err)

	s.Run("digest resolves to the earliest revision", func() {
		got, err := s.store.GetByDigest(s.ctx, a.Digest)
		s.Require().NoError(err)
		s.Equal(a.URI, got.URI)
	})

	s.Run("unknown locator is not found", func() {
		_, err := s.store.GetByLocator(s.ctx, locator(alice, "missing"))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("by signer", func() {
		got, err := s.store.ListBySigner(s.ctx, bob, store.ListFilter{})
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(b.URI, got[0].URI)
	})

	s.Run("by type with paging", func() {
		first, err := s.store.ListByType(s.ctx, "impact", store.ListFilter{Limit: 1})
		s.Require().NoError(err)
		s.Require().Len(first, 1)
		s.Equal(a.URI, first[0].URI)

		next, err := s.store.ListByType(s.ctx, "impact", store.ListFilter{Limit: 1, AfterSeq: first[0].Seq})
		s.Require().NoError(err)
		s.Require().Len(next, 1)
		s.Equal(b.URI, next[0].URI)
	})

	s.Run("since returns everything in order", func() {
		got, err := s.store.ListSince(s.ctx, store.ListFilter{})
		s.Require().NoError(err)
		s.Require().Len(got, 2)
		s.Less(got[0].Seq, got[1].Seq)
	})
}

func (s *ContractSuite) TestEdgesKeepFirstSequence() {
	target := locator(alice, "t")
	source := locator(bob, "s")
	_, err := s.store.ApplyCreate(s.ctx, newClaim(target, "target"), nil)
	s.Require().NoError(err)

	v1 := newClaim(source, "endorse v1")
	v1.Subject = string(target)
	v1.Target = target
	r1, err := s.store.ApplyCreate(s.ctx, v1, &models.Edge{
		Source: source, Target: target, SourceDigest: v1.Digest, ClaimType: "endorse", Signer: bob,
	})
	s.Require().NoError(err)

	v2 := newClaim(source, "dispute v2")
	v2.Subject = string(target)
	v2.Target = target
	_, err = s.store.ApplyCreate(s.ctx, v2, &models.Edge{
		Source: source, Target: target, SourceDigest: v2.Digest, ClaimType: "dispute", Signer: bob,
	})
	s.Require().NoError(err)

	edges, err := s.store.EdgesTo(s.ctx, target)
	s.Require().NoError(err)
	s.Require().Len(edges, 1)
	s.Equal(r1.Claim.Seq, edges[0].Seq)
	s.Equal(v2.Digest, edges[0].SourceDigest)
	s.Equal("dispute", edges[0].ClaimType)

	from, err := s.store.EdgesFrom(s.ctx, source)
	s.Require().NoError(err)
	s.Len(from, 1)
}

func (s *ContractSuite) TestEdgesRetireWhenSourceMovesOrIsDeleted() {
	first := locator(alice, "first")
	second := locator(carol, "second")
	source := locator(bob, "s")
	for _, uri := range []models.Locator{first, second} {
		_, err := s.store.ApplyCreate(s.ctx, newClaim(uri, "target "+string(uri)), nil)
		s.Require().NoError(err)
	}

	pointAt := func(target models.Locator, statement string) {
		c := newClaim(source, statement)
		c.Subject = string(target)
		c.Target = target
		_, err := s.store.ApplyCreate(s.ctx, c, &models.Edge{
			Source: source, Target: target, SourceDigest: c.Digest, ClaimType: "endorse", Signer: bob,
		})
		s.Require().NoError(err)
	}
	retired := func(target models.Locator) bool {
		edges, err := s.store.EdgesTo(s.ctx, target)
		s.Require().NoError(err)
		s.Require().Len(edges, 1)
		return edges[0].Retired
	}

	pointAt(first, "v1")
	s.False(retired(first))

	pointAt(second, "v2")
	s.True(retired(first))
	s.False(retired(second))

	pointAt(first, "v3")
	s.False(retired(first))
	s.True(retired(second))

	_, err := s.store.ApplyDelete(s.ctx, source, time.Now())
	s.Require().NoError(err)
	s.True(retired(first))
	s.True(retired(second))
}

func (s *ContractSuite) TestObserverSeesEveryChangedRevision() {
	uri := locator(alice, "obs")
	v1 := newClaim(uri, "v1")
	v2 := newClaim(uri, "v2")
	_, err := s.store.ApplyCreate(s.ctx, v1, nil)
	s.Require().NoError(err)
	_, err = s.store.ApplyCreate(s.ctx, v2, nil)
	s.Require().NoError(err)
	_, err = s.store.ApplyDelete(s.ctx, uri, time.Now())
	s.Require().NoError(err)

	s.Equal([]change{
		{uri: uri, digest: v1.Digest},
		{uri: uri, digest: v2.Digest},
		{uri: uri, digest: v1.Digest},
		{uri: uri, digest: v2.Digest},
	}, s.changes.all())
}

func (s *ContractSuite) TestCursors() {
	got, err := s.store.LoadCursor(s.ctx, "jetstream")
	s.Require().NoError(err)
	s.Empty(got)

	s.Require().NoError(s.store.SaveCursor(s.ctx, "jetstream", "1700000000000"))
	s.Require().NoError(s.store.SaveCursor(s.ctx, "jetstream", "1700000000001"))

	got, err = s.store.LoadCursor(s.ctx, "jetstream")
	s.Require().NoError(err)
	s.Equal("1700000000001", got)
}
