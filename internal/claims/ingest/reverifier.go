package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/store"
)

// PendingStore is the store surface the Reverifier needs.
type PendingStore interface {
	VerdictWriter
	GetByLocator(ctx context.Context, uri models.Locator) (*models.Claim, error)
	ListPending(ctx context.Context, f store.ListFilter) ([]models.Claim, error)
	ListSigned(ctx context.Context, did string, f store.ListFilter) ([]models.Claim, error)
}

// Invalidator drops cached identity data for a DID.
type Invalidator interface {
	Invalidate(ctx context.Context, did string) error
}

// Reverifier resubmits pending claims that never reached the pool, and
// re-runs verification on demand after an identity changes.
type Reverifier struct {
	store     PendingStore
	pool      Submitter
	cache     Invalidator
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ReverifierOption configures the Reverifier.
type ReverifierOption func(*Reverifier)

// WithSweepInterval sets how often pending claims are swept.
func WithSweepInterval(d time.Duration) ReverifierOption {
	return func(r *Reverifier) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithSweepBatch sets the page size used by sweeps.
func WithSweepBatch(n int) ReverifierOption {
	return func(r *Reverifier) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithReverifierLogger sets the logger.
func WithReverifierLogger(l *slog.Logger) ReverifierOption {
	return func(r *Reverifier) {
		r.logger = l
	}
}

// NewReverifier creates a reverifier. cache may be nil.
func NewReverifier(st PendingStore, pool Submitter, cache Invalidator, opts ...ReverifierOption) *Reverifier {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reverifier{
		store:     st,
		pool:      pool,
		cache:     cache,
		interval:  30 * time.Second,
		batchSize: 200,
		logger:    slog.Default(),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins the sweep loop in a background goroutine.
func (r *Reverifier) Start() {
	r.wg.Add(1)
	go r.run()
}

func (r *Reverifier) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(r.ctx); err != nil && r.ctx.Err() == nil {
				r.logger.Error("pending sweep failed", "error", err)
			}
		}
	}
}

// Sweep submits pending claims to the pool, page by page, until the pool
// refuses a job or nothing is left. It returns the number submitted.
func (r *Reverifier) Sweep(ctx context.Context) (int, error) {
	submitted := 0
	f := store.ListFilter{Limit: r.batchSize}
	for {
		page, err := r.store.ListPending(ctx, f)
		if err != nil {
			return submitted, fmt.Errorf("list pending: %w", err)
		}
		for i := range page {
			if !r.pool.Submit(JobFor(&page[i])) {
				r.logger.Debug("sweep stopped, queue full", "submitted", submitted)
				return submitted, nil
			}
			submitted++
			f.AfterSeq = page[i].Seq
		}
		if len(page) < f.EffectiveLimit() {
			break
		}
	}
	if submitted > 0 {
		r.logger.Info("pending claims resubmitted", "count", submitted)
	}
	return submitted, nil
}

// Reverify forgets cached keys for the claim's signer and schedules a fresh
// verification of the current revision at uri.
func (r *Reverifier) Reverify(ctx context.Context, uri models.Locator) (*models.Claim, error) {
	c, err := r.store.GetByLocator(ctx, uri)
	if err != nil {
		return nil, err
	}
	if c.Proof == nil {
		return c, nil
	}
	r.invalidate(ctx, c.Signer)
	if err := r.requeue(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ReverifySigner forgets cached keys for did and schedules verification of
// every claim it signed. It returns the number of claims requeued.
func (r *Reverifier) ReverifySigner(ctx context.Context, did string) (int, error) {
	r.invalidate(ctx, did)

	n := 0
	f := store.ListFilter{Limit: r.batchSize}
	for {
		page, err := r.store.ListSigned(ctx, did, f)
		if err != nil {
			return n, fmt.Errorf("list signed by %s: %w", did, err)
		}
		for i := range page {
			if err := r.requeue(ctx, &page[i]); err != nil {
				return n, err
			}
			n++
			f.AfterSeq = page[i].Seq
		}
		if len(page) < f.EffectiveLimit() {
			break
		}
	}
	if n > 0 {
		r.logger.Info("signer claims requeued", "did", did, "count", n)
	}
	return n, nil
}

func (r *Reverifier) invalidate(ctx context.Context, did string) {
	if r.cache == nil || did == "" {
		return
	}
	if err := r.cache.Invalidate(ctx, did); err != nil {
		r.logger.Warn("identity cache invalidation failed", "did", did, "error", err)
	}
}

func (r *Reverifier) requeue(ctx context.Context, c *models.Claim) error {
	res := models.VerificationResult{Verdict: models.VerdictPending}
	if err := r.store.SetVerdict(ctx, c.URI, c.Digest, res, r.now().UTC()); err != nil {
		return fmt.Errorf("reset verdict for %s: %w", c.URI, err)
	}
	c.Verdict = models.VerdictPending
	c.VerdictReason = ""
	// A refused job is picked up by the next sweep. A run already in flight
	// is discarded and repeated.
	if rs, ok := r.pool.(Resubmitter); ok {
		rs.Resubmit(JobFor(c))
		return nil
	}
	r.pool.Submit(JobFor(c))
	return nil
}

// Stop halts the sweep loop.
func (r *Reverifier) Stop(ctx context.Context) error {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
