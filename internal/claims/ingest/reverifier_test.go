package ingest_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/ingest"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/store"
	"github.com/Cooperation-org/claim-lexicon/pkg/testutil"
)

type capturingSubmitter struct {
	mu     sync.Mutex
	jobs   []ingest.VerifyJob
	refuse bool
}

func (c *capturingSubmitter) Submit(job ingest.VerifyJob) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refuse {
		return false
	}
	c.jobs = append(c.jobs, job)
	return true
}

func (c *capturingSubmitter) submitted() []ingest.VerifyJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ingest.VerifyJob(nil), c.jobs...)
}

type recordingInvalidator struct {
	mu   sync.Mutex
	dids []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, did string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dids = append(r.dids, did)
	return nil
}

// seed indexes signed claims and records a final verdict for each.
func seed(t *testing.T, st *store.InMemoryStore, key *testutil.Ed25519Key, rkeys ...string) {
	t.Helper()
	ctx := context.Background()
	p := ingest.NewPipeline(st)
	for _, rkey := range rkeys {
		rec := testutil.NewRecord().WithStatement("claim " + rkey).SignEd25519(key).JSON()
		require.NoError(t, p.Handle(ctx, testutil.CreateEvent(testutil.TestDIDs.Alice, rkey, rec)))
		c, err := st.GetByLocator(ctx, testutil.LocatorOf(testutil.TestDIDs.Alice, rkey))
		require.NoError(t, err)
		require.NoError(t, st.SetVerdict(ctx, c.URI, c.Digest,
			models.VerificationResult{Verdict: models.VerdictValid, Reason: models.ReasonOK}, time.Now()))
	}
}

func TestReverifier_ReverifySignerRequeuesEveryClaim(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	key := testutil.NewEd25519Key()
	seed(t, st, key, "r1", "r2", "r3")

	sub := &capturingSubmitter{}
	cache := &recordingInvalidator{}
	r := ingest.NewReverifier(st, sub, cache, ingest.WithSweepBatch(2))

	n, err := r.ReverifySigner(ctx, key.DID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{key.DID}, cache.dids)
	assert.Len(t, sub.submitted(), 3)

	pending, err := st.ListPending(ctx, store.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestReverifier_ReverifySingleClaim(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	key := testutil.NewEd25519Key()
	seed(t, st, key, "r1", "r2")

	sub := &capturingSubmitter{}
	cache := &recordingInvalidator{}
	r := ingest.NewReverifier(st, sub, cache)

	uri := testutil.LocatorOf(testutil.TestDIDs.Alice, "r1")
	c, err := r.Reverify(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, models.VerdictPending, c.Verdict)
	assert.Equal(t, []string{key.DID}, cache.dids)

	jobs := sub.submitted()
	require.Len(t, jobs, 1)
	assert.Equal(t, uri, jobs[0].URI)

	other, err := st.GetByLocator(ctx, testutil.LocatorOf(testutil.TestDIDs.Alice, "r2"))
	require.NoError(t, err)
	assert.Equal(t, models.VerdictValid, other.Verdict)
}

func TestReverifier_ReverifyUnknownClaim(t *testing.T) {
	r := ingest.NewReverifier(store.NewInMemoryStore(), &capturingSubmitter{}, nil)
	_, err := r.Reverify(context.Background(), testutil.LocatorOf(testutil.TestDIDs.Alice, "missing"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReverifier_UnsignedClaimIsLeftAlone(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	require.NoError(t, ingest.NewPipeline(st).Handle(ctx,
		testutil.CreateEvent(testutil.TestDIDs.Alice, "r1", testutil.NewRecord().JSON())))

	sub := &capturingSubmitter{}
	r := ingest.NewReverifier(st, sub, nil)
	c, err := r.Reverify(ctx, testutil.LocatorOf(testutil.TestDIDs.Alice, "r1"))
	require.NoError(t, err)
	assert.Equal(t, models.VerdictNone, c.Verdict)
	assert.Empty(t, sub.submitted())
}

func TestReverifier_SweepStopsWhenQueueRefuses(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	p := ingest.NewPipeline(st)
	key := testutil.NewEd25519Key()
	for _, rkey := range []string{"r1", "r2"} {
		rec := testutil.NewRecord().WithStatement(rkey).SignEd25519(key).JSON()
		require.NoError(t, p.Handle(ctx, testutil.CreateEvent(testutil.TestDIDs.Alice, rkey, rec)))
	}

	sub := &capturingSubmitter{refuse: true}
	r := ingest.NewReverifier(st, sub, nil)
	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	sub.refuse = false
	n, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestReverifier_StartStop(t *testing.T) {
	st := store.NewInMemoryStore()
	sub := &capturingSubmitter{}
	r := ingest.NewReverifier(st, sub, nil, ingest.WithSweepInterval(5*time.Millisecond))
	r.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
}
