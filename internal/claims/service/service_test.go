package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/graph"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/ingest"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/service"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/store"
	dErrors "github.com/Cooperation-org/claim-lexicon/pkg/domain-errors"
	"github.com/Cooperation-org/claim-lexicon/pkg/testutil"
)

const projectURL = "https://ngo.example/project"

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	store    *store.InMemoryStore
	pipeline *ingest.Pipeline
	svc      *service.Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewInMemoryStore()
	s.pipeline = ingest.NewPipeline(s.store)
	s.svc = service.NewFromStore(s.store, graph.DefaultPolicy(), graph.DefaultLimits())
}

func (s *ServiceSuite) create(owner, rkey string, rec *testutil.RecordBuilder) models.Locator {
	s.Require().NoError(s.pipeline.Handle(s.ctx, testutil.CreateEvent(owner, rkey, rec.JSON())))
	return testutil.LocatorOf(owner, rkey)
}

func (s *ServiceSuite) delete(owner, rkey string) {
	s.Require().NoError(s.pipeline.Handle(s.ctx, testutil.DeleteEvent(owner, rkey)))
}

func (s *ServiceSuite) TestGetBySubjectExcludesTombstonesUnlessAsked() {
	s.create(testutil.TestDIDs.Alice, "r1", testutil.NewRecord().WithSubject(projectURL))
	s.create(testutil.TestDIDs.Bob, "r2", testutil.NewRecord().WithSubject(projectURL))
	s.delete(testutil.TestDIDs.Alice, "r1")

	page, err := s.svc.GetBySubject(s.ctx, projectURL, service.ListOptions{})
	s.Require().NoError(err)
	s.Require().Len(page.Claims, 1)
	s.Equal(testutil.TestDIDs.Bob, page.Claims[0].Signer)

	page, err = s.svc.GetBySubject(s.ctx, projectURL, service.ListOptions{IncludeDeleted: true})
	s.Require().NoError(err)
	s.Len(page.Claims, 2)
}

func (s *ServiceSuite) TestGetBySubjectNeverReturnsSupersededRevisions() {
	s.create(testutil.TestDIDs.Alice, "r1", testutil.NewRecord().WithStatement("v1"))
	s.create(testutil.TestDIDs.Alice, "r1", testutil.NewRecord().WithStatement("v2"))

	page, err := s.svc.GetBySubject(s.ctx, projectURL, service.ListOptions{IncludeDeleted: true})
	s.Require().NoError(err)
	s.Require().Len(page.Claims, 1)
	s.Equal("v2", page.Claims[0].Statement)
}

func (s *ServiceSuite) TestPaging() {
	for i := range 5 {
		s.create(testutil.TestDIDs.Alice, fmt.Sprintf("r%d", i), testutil.NewRecord().WithStatement(fmt.Sprintf("claim %d", i)))
	}

	first, err := s.svc.GetBySigner(s.ctx, testutil.TestDIDs.Alice, service.ListOptions{Limit: 3})
	s.Require().NoError(err)
	s.Len(first.Claims, 3)
	s.NotZero(first.Cursor)

	second, err := s.svc.GetBySigner(s.ctx, testutil.TestDIDs.Alice, service.ListOptions{Limit: 3, After: first.Cursor})
	s.Require().NoError(err)
	s.Len(second.Claims, 2)
	s.Zero(second.Cursor)
	s.Equal("claim 3", second.Claims[0].Statement)
}

func (s *ServiceSuite) TestPageSizeDefaultsAndCap() {
	for i := range service.MaxPageSize + 20 {
		s.create(testutil.TestDIDs.Alice, fmt.Sprintf("r%d", i), testutil.NewRecord().WithStatement(fmt.Sprintf("claim %d", i)))
	}

	page, err := s.svc.GetBySigner(s.ctx, testutil.TestDIDs.Alice, service.ListOptions{})
	s.Require().NoError(err)
	s.Len(page.Claims, service.DefaultPageSize)
	s.NotZero(page.Cursor)

	page, err = s.svc.GetBySigner(s.ctx, testutil.TestDIDs.Alice, service.ListOptions{Limit: 500})
	s.Require().NoError(err)
	s.Len(page.Claims, service.MaxPageSize)
	s.NotZero(page.Cursor)

	rest, err := s.svc.GetBySigner(s.ctx, testutil.TestDIDs.Alice, service.ListOptions{Limit: 500, After: page.Cursor})
	s.Require().NoError(err)
	s.Len(rest.Claims, 20)
	s.Zero(rest.Cursor)
}

func (s *ServiceSuite) TestInvalidInput() {
	_, err := s.svc.GetBySubject(s.ctx, "  ", service.ListOptions{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = s.svc.GetBySigner(s.ctx, "alice", service.ListOptions{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = s.svc.GetBySigner(s.ctx, testutil.TestDIDs.Alice+"#key-1", service.ListOptions{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = s.svc.GetByType(s.ctx, "", service.ListOptions{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ServiceSuite) TestPointLookups() {
	uri := s.create(testutil.TestDIDs.Alice, "r1", testutil.NewRecord())

	c, err := s.svc.GetClaim(s.ctx, uri)
	s.Require().NoError(err)
	s.Equal(uri, c.URI)

	byDigest, err := s.svc.GetByDigest(s.ctx, c.Digest)
	s.Require().NoError(err)
	s.Equal(uri, byDigest.URI)

	_, err = s.svc.GetClaim(s.ctx, testutil.LocatorOf(testutil.TestDIDs.Bob, "missing"))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestAttestationsOfDeletedTargetStillResolve() {
	alice := s.create(testutil.TestDIDs.Alice, "r1", testutil.NewRecord())
	s.create(testutil.TestDIDs.Bob, "e1", testutil.NewRecord().WithSubject(alice.String()).WithType("endorsement"))
	s.delete(testutil.TestDIDs.Alice, "r1")

	att, err := s.svc.GetAttestations(s.ctx, alice)
	s.Require().NoError(err)
	s.True(att.Target.Exists)
	s.True(att.Target.Deleted)
	s.Require().Len(att.Items, 1)
	s.Equal(testutil.TestDIDs.Bob, att.Items[0].Edge.Signer)
}

func (s *ServiceSuite) TestTrustGraphTerminatesOnCycles() {
	a := testutil.LocatorOf(testutil.TestDIDs.Alice, "a")
	b := testutil.LocatorOf(testutil.TestDIDs.Bob, "b")
	s.create(testutil.TestDIDs.Alice, "a", testutil.NewRecord().WithSubject(b.String()).WithType("endorsement"))
	s.create(testutil.TestDIDs.Bob, "b", testutil.NewRecord().WithSubject(a.String()).WithType("endorsement"))

	g, err := s.svc.GetTrustGraph(s.ctx, a, 5)
	s.Require().NoError(err)
	s.Require().Len(g.Direct, 1)
	s.Equal(b, g.Direct[0].Source)
	s.Equal(2, g.Visited)
	s.False(g.Truncated)
}

func (s *ServiceSuite) TestTrustScoreFromTallyMatchesEngine() {
	alice := s.create(testutil.TestDIDs.Alice, "r1", testutil.NewRecord())
	s.create(testutil.TestDIDs.Bob, "e1", testutil.NewRecord().WithSubject(alice.String()).WithType("endorsement"))

	lazy, err := s.svc.TrustScore(s.ctx, alice)
	s.Require().NoError(err)

	tally := graph.NewTally(s.store)
	s.Require().NoError(tally.Rebuild(s.ctx))
	s.store.Subscribe(tally)
	withTally := service.NewFromStore(s.store, graph.DefaultPolicy(), graph.DefaultLimits(), service.WithTally(tally))

	s.create(testutil.TestDIDs.Carol, "d1", testutil.NewRecord().WithSubject(alice.String()).WithType("dispute"))

	incremental, err := withTally.TrustScore(s.ctx, alice)
	s.Require().NoError(err)
	recomputed, err := s.svc.TrustScore(s.ctx, alice)
	s.Require().NoError(err)

	s.Equal(1, lazy.EndorsementCount)
	s.Equal(recomputed, incremental)
	s.Equal(1, incremental.DisputeCount)
	s.Equal(2, incremental.DistinctSignerCount)
}

func (s *ServiceSuite) TestReverifyNeedsReverifier() {
	_, err := s.svc.Reverify(s.ctx, testutil.LocatorOf(testutil.TestDIDs.Alice, "r1"))
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *ServiceSuite) TestReverifyDelegates() {
	rv := &stubReverifier{count: 3}
	svc := service.NewFromStore(s.store, graph.DefaultPolicy(), graph.DefaultLimits(), service.WithReverifier(rv))

	n, err := svc.ReverifySigner(s.ctx, testutil.TestDIDs.Alice)
	s.Require().NoError(err)
	s.Equal(3, n)
	s.Equal([]string{testutil.TestDIDs.Alice}, rv.signers)

	_, err = svc.Reverify(s.ctx, testutil.LocatorOf(testutil.TestDIDs.Alice, "gone"))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	rv.err = errors.New("store offline")
	_, err = svc.ReverifySigner(s.ctx, testutil.TestDIDs.Alice)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

type stubReverifier struct {
	count   int
	err     error
	signers []string
}

func (r *stubReverifier) Reverify(context.Context, models.Locator) (*models.Claim, error) {
	return nil, store.ErrNotFound
}

func (r *stubReverifier) ReverifySigner(_ context.Context, did string) (int, error) {
	r.signers = append(r.signers, did)
	return r.count, r.err
}
