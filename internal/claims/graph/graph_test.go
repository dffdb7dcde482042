package graph

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/store"
)

const (
	alice = "did:plc:alice"
	bob   = "did:plc:bob"
	carol = "did:plc:carol"
	dave  = "did:plc:dave"
)

type GraphSuite struct {
	suite.Suite
	ctx   context.Context
	store *store.InMemoryStore
	tally *Tally
	n     int
}

func TestGraphSuite(t *testing.T) {
	suite.Run(t, new(GraphSuite))
}

func (s *GraphSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewInMemoryStore()
	s.tally = NewTally(s.store)
	s.Require().NoError(s.tally.Rebuild(s.ctx))
	s.store.Subscribe(s.tally)
}

func locator(owner, rkey string) models.Locator {
	return models.Locator(fmt.Sprintf("at://%s/%s/%s", owner, models.DefaultCollection, rkey))
}

// put stores a claim at owner/rkey about subject. When subject is a claim
// locator the reference edge is written too.
func (s *GraphSuite) put(owner, rkey, subject, claimType string, mutate ...func(*models.Claim)) *models.Claim {
	s.n++
	uri := locator(owner, rkey)
	record := []byte(fmt.Sprintf(`{"subject":%q,"claim":%q,"n":%d}`, subject, claimType, s.n))
	c := &models.Claim{
		URI:       uri,
		Digest:    models.DigestOf(record),
		Owner:     owner,
		Subject:   subject,
		ClaimType: claimType,
		Signer:    owner,
		Record:    record,
		Canonical: record,
		Verdict:   models.VerdictNone,
	}
	if target, err := models.ParseLocator(subject); err == nil {
		c.Target = target
	}
	for _, m := range mutate {
		m(c)
	}

	var edge *models.Edge
	if c.Target != "" {
		edge = &models.Edge{Source: uri, Target: c.Target, SourceDigest: c.Digest, ClaimType: claimType, Signer: c.Signer}
	}
	res, err := s.store.ApplyCreate(s.ctx, c, edge)
	s.Require().NoError(err)
	return res.Claim
}

func (s *GraphSuite) del(owner, rkey string) {
	_, err := s.store.ApplyDelete(s.ctx, locator(owner, rkey), time.Now())
	s.Require().NoError(err)
}

// score computes the lazy score and checks the tally agrees.
func (s *GraphSuite) score(engine *Engine, tally *Tally, uri models.Locator) models.TrustScore {
	lazy, err := engine.TrustScore(s.ctx, uri)
	s.Require().NoError(err)
	s.Require().True(tally.Ready())
	s.Equal(lazy, tally.TrustScore(uri), "incremental score diverged for %s", uri)
	return lazy
}

func (s *GraphSuite) TestEndorsementOfImpactClaim() {
	impact := s.put(alice, "impact", "https://ngo.example/project", "impact")
	s.put(bob, "endorse", string(impact.URI), "endorsement")

	engine := NewEngine(s.store)
	atts, err := engine.AttestationsFor(s.ctx, impact.URI)
	s.Require().NoError(err)
	s.True(atts.Target.Exists)
	s.Require().Len(atts.Items, 1)
	s.Equal(bob, atts.Items[0].Edge.Signer)
	s.False(atts.Items[0].Flagged)

	score := s.score(engine, s.tally, impact.URI)
	s.Equal(1, score.EndorsementCount)
	s.Equal(0, score.DisputeCount)
	s.Equal(1, score.DistinctSignerCount)
	s.InDelta(1.0, *score.WeightedScore, 1e-9)
}

func (s *GraphSuite) TestTombstonedSourceIsListedButNotCounted() {
	impact := s.put(alice, "impact", "https://ngo.example/project", "impact")
	s.put(bob, "e1", string(impact.URI), "endorsement")
	s.put(carol, "e2", string(impact.URI), "endorsement")
	s.del(bob, "e1")

	engine := NewEngine(s.store)
	atts, err := engine.AttestationsFor(s.ctx, impact.URI)
	s.Require().NoError(err)
	s.Require().Len(atts.Items, 2)
	s.True(atts.Items[0].Claim.Deleted)

	score := s.score(engine, s.tally, impact.URI)
	s.Equal(1, score.EndorsementCount)
	s.Equal(1, score.DistinctSignerCount)
}

func (s *GraphSuite) TestDeletedTargetStillResolves() {
	impact := s.put(alice, "impact", "https://ngo.example/project", "impact")
	s.put(bob, "e1", string(impact.URI), "endorsement")
	s.del(alice, "impact")

	atts, err := NewEngine(s.store).AttestationsFor(s.ctx, impact.URI)
	s.Require().NoError(err)
	s.True(atts.Target.Exists)
	s.True(atts.Target.Deleted)
	s.Len(atts.Items, 1)
}

func (s *GraphSuite) TestUnknownTargetIsEmpty() {
	atts, err := NewEngine(s.store).AttestationsFor(s.ctx, locator(alice, "nothing"))
	s.Require().NoError(err)
	s.False(atts.Target.Exists)
	s.Empty(atts.Items)
}

func (s *GraphSuite) TestInvalidProofs() {
	impact := s.put(alice, "impact", "https://ngo.example/project", "impact")
	s.put(bob, "e1", string(impact.URI), "endorsement", func(c *models.Claim) {
		c.Verdict = models.VerdictInvalid
	})
	s.put(carol, "e2", string(impact.URI), "endorsement", func(c *models.Claim) {
		c.Verdict = models.VerdictUnverifiable
	})

	s.Run("excluded by default", func() {
		score := s.score(NewEngine(s.store), s.tally, impact.URI)
		s.Equal(1, score.EndorsementCount)
	})

	s.Run("counted on request", func() {
		p := DefaultPolicy()
		p.CountInvalidProofs = true
		tally := NewTally(s.store, WithPolicy(p))
		s.Require().NoError(tally.Rebuild(s.ctx))

		score := s.score(NewEngine(s.store, WithPolicy(p)), tally, impact.URI)
		s.Equal(2, score.EndorsementCount)
	})
}

func (s *GraphSuite) TestRetargetedAttestationMovesToNewTarget() {
	impact := s.put(alice, "impact", "https://ngo.example/project", "impact")
	other := s.put(carol, "other", "https://ngo.example/other", "impact")
	s.put(bob, "e1", string(impact.URI), "endorsement")
	// Bob rewrites the record to point at a different claim.
	s.put(bob, "e1", string(other.URI), "endorsement")

	engine := NewEngine(s.store)
	old := s.score(engine, s.tally, impact.URI)
	s.Zero(old.EndorsementCount)
	s.Zero(old.FlaggedCount)

	current := s.score(engine, s.tally, other.URI)
	s.Equal(1, current.EndorsementCount)
	s.Zero(current.FlaggedCount)

	atts, err := engine.AttestationsFor(s.ctx, impact.URI)
	s.Require().NoError(err)
	s.Require().Len(atts.Items, 1)
	s.True(atts.Items[0].Edge.Retired)

	// Pointing back revives the original edge.
	s.put(bob, "e1", string(impact.URI), "endorsement")
	s.Equal(1, s.score(engine, s.tally, impact.URI).EndorsementCount)
	s.Zero(s.score(engine, s.tally, other.URI).EndorsementCount)
}

func (s *GraphSuite) TestDeletedSlotStopsCountingEverywhere() {
	impact := s.put(alice, "impact", "https://ngo.example/project", "impact")
	s.put(bob, "e1", string(impact.URI), "endorsement")
	s.put(bob, "e1", "https://elsewhere.example", "note")
	s.del(bob, "e1")

	engine := NewEngine(s.store)
	score := s.score(engine, s.tally, impact.URI)
	s.Zero(score.EndorsementCount)
	s.Zero(score.FlaggedCount)
	s.Zero(score.DistinctSignerCount)

	rebuilt := NewTally(s.store)
	s.Require().NoError(rebuilt.Rebuild(s.ctx))
	s.Zero(s.score(engine, rebuilt, impact.URI).EndorsementCount)
}

func (s *GraphSuite) TestRetiredDisputeDoesNotFlag() {
	impact := s.put(alice, "impact", "https://ngo.example/project", "impact")
	endorsement := s.put(bob, "e1", string(impact.URI), "endorsement")
	s.put(carol, "d1", string(endorsement.URI), "dispute")
	s.put(carol, "d1", "https://elsewhere.example", "dispute")

	score := s.score(NewEngine(s.store), s.tally, impact.URI)
	s.Equal(1, score.EndorsementCount)
	s.Zero(score.FlaggedCount)
}

func (s *GraphSuite) TestDisputedAttesterIsFlagged() {
	impact := s.put(alice, "impact", "https://ngo.example/project", "impact")
	endorsement := s.put(bob, "e1", string(impact.URI), "endorsement")
	s.put(carol, "d1", string(endorsement.URI), "dispute")

	engine := NewEngine(s.store)
	atts, err := engine.AttestationsFor(s.ctx, impact.URI)
	s.Require().NoError(err)
	s.Require().Len(atts.Items, 1)
	s.True(atts.Items[0].Flagged)

	score := s.score(engine, s.tally, impact.URI)
	s.Equal(1, score.FlaggedCount)

	onEndorsement := s.score(engine, s.tally, endorsement.URI)
	s.Equal(1, onEndorsement.DisputeCount)
	s.InDelta(-1.0, *onEndorsement.WeightedScore, 1e-9)

	s.Run("exclude policy drops it", func() {
		p := DefaultPolicy()
		p.Flagged = FlaggedExclude
		tally := NewTally(s.store, WithPolicy(p))
		s.Require().NoError(tally.Rebuild(s.ctx))

		excluded := s.score(NewEngine(s.store, WithPolicy(p)), tally, impact.URI)
		s.Zero(excluded.EndorsementCount)
		s.Zero(excluded.FlaggedCount)
	})

	// Retracting the dispute clears the flag.
	s.del(carol, "d1")
	score = s.score(engine, s.tally, impact.URI)
	s.Zero(score.FlaggedCount)
}

func (s *GraphSuite) TestWeightedScoreUsesConfidence() {
	impact := s.put(alice, "impact", "https://ngo.example/project", "impact")
	withConfidence := func(v float64) func(*models.Claim) {
		return func(c *models.Claim) { c.Confidence = &v }
	}
	s.put(bob, "e1", string(impact.URI), "endorsement", withConfidence(0.8))
	s.put(carol, "e2", string(impact.URI), "Endorse", withConfidence(0.5))
	s.put(dave, "d1", string(impact.URI), "dispute", withConfidence(0.25))
	s.put(dave, "c1", string(impact.URI), "comment")

	score := s.score(NewEngine(s.store), s.tally, impact.URI)
	s.Equal(2, score.EndorsementCount)
	s.Equal(1, score.DisputeCount)
	s.Equal(1, score.OtherCount)
	s.Equal(3, score.DistinctSignerCount)
	s.InDelta(1.05, *score.WeightedScore, 1e-9)
}

func (s *GraphSuite) TestCustomClassifier() {
	impact := s.put(alice, "impact", "https://ngo.example/project", "impact")
	s.put(bob, "r1", string(impact.URI), "rating")

	p := DefaultPolicy()
	p.Classifier = NewClassifier([]string{"rating"}, nil)
	score, err := NewEngine(s.store, WithPolicy(p)).TrustScore(s.ctx, impact.URI)
	s.Require().NoError(err)
	s.Equal(1, score.EndorsementCount)
}

func (s *GraphSuite) TestIncrementalMatchesLazyAcrossMutations() {
	impact := s.put(alice, "impact", "https://ngo.example/project", "impact")
	e1 := s.put(bob, "e1", string(impact.URI), "endorsement")
	s.put(carol, "d1", string(impact.URI), "dispute")
	s.put(dave, "d2", string(e1.URI), "dispute")
	s.put(carol, "d1", string(impact.URI), "endorsement")
	s.del(dave, "d2")
	s.put(dave, "d2", string(e1.URI), "dispute")
	s.del(bob, "e1")
	s.put(bob, "e1", string(impact.URI), "endorsement")
	err := s.store.SetVerdict(s.ctx, locator(carol, "d1"), s.mustCurrent(carol, "d1").Digest,
		models.VerificationResult{Verdict: models.VerdictInvalid, Reason: models.ReasonSignatureMismatch}, time.Now())
	s.Require().NoError(err)

	engine := NewEngine(s.store)
	for _, uri := range []models.Locator{impact.URI, e1.URI, locator(carol, "d1")} {
		s.score(engine, s.tally, uri)
	}

	rebuilt := NewTally(s.store)
	s.Require().NoError(rebuilt.Rebuild(s.ctx))
	for _, uri := range []models.Locator{impact.URI, e1.URI} {
		s.score(engine, rebuilt, uri)
	}
}

func (s *GraphSuite) mustCurrent(owner, rkey string) *models.Claim {
	c, err := s.store.GetByLocator(s.ctx, locator(owner, rkey))
	s.Require().NoError(err)
	return c
}

func (s *GraphSuite) TestTallyNotReadyBeforeRebuild() {
	s.False(NewTally(s.store).Ready())
}

func (s *GraphSuite) TestTrustGraph() {
	a := s.put(alice, "a", "https://ngo.example/project", "impact")
	b := s.put(bob, "b", string(a.URI), "endorsement")
	c := s.put(carol, "c", string(b.URI), "endorsement")

	engine := NewEngine(s.store)

	s.Run("depth one returns direct edges", func() {
		g, err := engine.TrustGraph(s.ctx, a.URI, 1)
		s.Require().NoError(err)
		s.Require().Len(g.Direct, 1)
		s.Equal(b.URI, g.Direct[0].Source)
		s.Empty(g.Transitive)
		s.False(g.Truncated)
	})

	s.Run("deeper levels are transitive", func() {
		g, err := engine.TrustGraph(s.ctx, a.URI, 3)
		s.Require().NoError(err)
		s.Len(g.Direct, 1)
		s.Require().Len(g.Transitive, 1)
		s.Equal(c.URI, g.Transitive[0].Source)
		s.Equal(2, g.Transitive[0].Depth)
		s.Equal(3, g.Visited)
	})

	s.Run("depth is clamped", func() {
		g, err := engine.TrustGraph(s.ctx, a.URI, 50)
		s.Require().NoError(err)
		s.Equal(DefaultLimits().MaxDepth, g.Depth)
		s.True(g.Truncated)
	})

	s.Run("tombstoned sources are marked", func() {
		s.del(carol, "c")
		g, err := engine.TrustGraph(s.ctx, a.URI, 2)
		s.Require().NoError(err)
		s.Require().Len(g.Transitive, 1)
		s.True(g.Transitive[0].SourceDeleted)
	})
}

func (s *GraphSuite) TestTrustGraphCycleTerminates() {
	// A and B attest each other: B is written first pointing at A's future
	// locator, then A points back at B.
	aURI := locator(alice, "a")
	b := s.put(bob, "b", string(aURI), "endorsement")
	s.put(alice, "a", string(b.URI), "endorsement")

	done := make(chan struct{})
	var g models.TrustGraph
	var err error
	go func() {
		defer close(done)
		g, err = NewEngine(s.store).TrustGraph(s.ctx, aURI, 5)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.FailNow("traversal did not terminate")
	}
	s.Require().NoError(err)
	s.Len(g.Direct, 1)
	s.Len(g.Transitive, 1)
	s.Equal(2, g.Visited)
}

func (s *GraphSuite) TestTrustGraphCaps() {
	root := s.put(alice, "root", "https://ngo.example/project", "impact")
	for i := range 5 {
		s.put(bob, fmt.Sprintf("e%d", i), string(root.URI), "endorsement")
	}

	s.Run("fanout", func() {
		engine := NewEngine(s.store, WithLimits(Limits{MaxDepth: 5, MaxNodes: 100, MaxFanout: 3}))
		g, err := engine.TrustGraph(s.ctx, root.URI, 2)
		s.Require().NoError(err)
		s.Len(g.Direct, 3)
		s.True(g.Truncated)
	})

	s.Run("nodes", func() {
		engine := NewEngine(s.store, WithLimits(Limits{MaxDepth: 5, MaxNodes: 3, MaxFanout: 100}))
		g, err := engine.TrustGraph(s.ctx, root.URI, 2)
		s.Require().NoError(err)
		s.Len(g.Direct, 5)
		s.Equal(3, g.Visited)
		s.True(g.Truncated)
	})
}

func TestClassifier(t *testing.T) {
	c := NewClassifier([]string{"Endorsement", "both"}, []string{"dispute", "both"})
	cases := map[string]Polarity{
		"endorsement":   Endorse,
		" ENDORSEMENT ": Endorse,
		"dispute":       Dispute,
		"both":          Dispute,
		"impact":        Neutral,
		"":              Neutral,
	}
	for in, want := range cases {
		if got := c.Classify(in); got != want {
			t.Errorf("Classify(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseFlaggedPolicy(t *testing.T) {
	if p, ok := ParseFlaggedPolicy("EXCLUDE"); !ok || p != FlaggedExclude {
		t.Errorf("got %q %v", p, ok)
	}
	if _, ok := ParseFlaggedPolicy("maybe"); ok {
		t.Error("expected rejection")
	}
}
