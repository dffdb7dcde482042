package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/metrics"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/tracer"
)

// Verifier checks an embedded proof against canonical bytes.
type Verifier interface {
	Verify(ctx context.Context, canonical []byte, p *models.Proof) models.VerificationResult
}

// VerdictWriter records verification outcomes.
type VerdictWriter interface {
	SetVerdict(ctx context.Context, uri models.Locator, digest models.Digest, res models.VerificationResult, at time.Time) error
}

// Submitter accepts verification jobs without blocking.
type Submitter interface {
	// Submit reports false when the job could not be queued; the claim then
	// stays pending until a sweep picks it up.
	Submit(job VerifyJob) bool
}

// Resubmitter is a Submitter that can force a fresh run of a job even while
// an earlier run of the same revision is in progress.
type Resubmitter interface {
	Submitter
	Resubmit(job VerifyJob) bool
}

// VerifyJob is one claim revision awaiting a verdict.
type VerifyJob struct {
	URI       models.Locator
	Digest    models.Digest
	Canonical []byte
	Proof     *models.Proof
}

// JobFor builds the verification job for a stored claim.
func JobFor(c *models.Claim) VerifyJob {
	return VerifyJob{URI: c.URI, Digest: c.Digest, Canonical: c.Canonical, Proof: c.Proof}
}

func (j VerifyJob) key() string {
	return string(j.URI) + "|" + string(j.Digest)
}

// PoolConfig sizes the verification pool.
type PoolConfig struct {
	Workers   int
	QueueSize int
}

// DefaultPoolConfig returns the pool sizing used when none is configured.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Workers: 8, QueueSize: 1024}
}

// VerifyPool runs proof verification on a bounded set of workers fed by a
// bounded queue. Results are written back to the store as they complete.
type VerifyPool struct {
	verifier Verifier
	store    VerdictWriter
	cfg      PoolConfig
	metrics  *metrics.Metrics
	tracer   tracer.Tracer
	logger   *slog.Logger
	now      func() time.Time

	jobs chan VerifyJob

	mu       sync.Mutex
	inflight map[string]*flight

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// flight tracks one queued or running job. stale is set when the job is
// resubmitted while running; its result is then discarded and the job runs
// again.
type flight struct {
	running bool
	stale   bool
}

// PoolOption configures the VerifyPool.
type PoolOption func(*VerifyPool)

// WithPoolConfig sets worker and queue sizes.
func WithPoolConfig(cfg PoolConfig) PoolOption {
	return func(p *VerifyPool) {
		if cfg.Workers > 0 {
			p.cfg.Workers = cfg.Workers
		}
		if cfg.QueueSize > 0 {
			p.cfg.QueueSize = cfg.QueueSize
		}
	}
}

// WithPoolMetrics sets the metrics collector.
func WithPoolMetrics(m *metrics.Metrics) PoolOption {
	return func(p *VerifyPool) {
		p.metrics = m
	}
}

// WithPoolTracer sets the tracer used for verification spans.
func WithPoolTracer(t tracer.Tracer) PoolOption {
	return func(p *VerifyPool) {
		p.tracer = t
	}
}

// WithPoolLogger sets the logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *VerifyPool) {
		p.logger = l
	}
}

// WithPoolClock overrides the verdict timestamp source.
func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *VerifyPool) {
		p.now = now
	}
}

// NewVerifyPool creates a pool. Call Start to launch the workers.
func NewVerifyPool(v Verifier, st VerdictWriter, opts ...PoolOption) *VerifyPool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &VerifyPool{
		verifier: v,
		store:    st,
		cfg:      DefaultPoolConfig(),
		tracer:   tracer.NewNoop(),
		logger:   slog.Default(),
		now:      time.Now,
		inflight: make(map[string]*flight),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.jobs = make(chan VerifyJob, p.cfg.QueueSize)
	return p
}

// Start launches the workers.
func (p *VerifyPool) Start() {
	for range p.cfg.Workers {
		p.wg.Add(1)
		go p.run()
	}
}

// Submit queues a job. A job already queued or running is accepted without
// being queued twice.
func (p *VerifyPool) Submit(job VerifyJob) bool {
	return p.submit(job, false)
}

// Resubmit queues a job like Submit, except that a run already in progress
// is treated as stale: its verdict is dropped and the job runs again.
func (p *VerifyPool) Resubmit(job VerifyJob) bool {
	return p.submit(job, true)
}

func (p *VerifyPool) submit(job VerifyJob, fresh bool) bool {
	if job.Proof == nil || p.ctx.Err() != nil {
		return false
	}
	key := job.key()

	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.inflight[key]; ok {
		if fresh && f.running {
			f.stale = true
		}
		return true
	}
	select {
	case p.jobs <- job:
		p.inflight[key] = &flight{}
		p.metrics.SetQueueDepth(len(p.jobs))
		return true
	default:
		p.metrics.RecordQueueFull()
		p.logger.Warn("verification queue full, claim left pending",
			"uri", job.URI,
			"digest", job.Digest,
		)
		return false
	}
}

// Pending returns the number of queued or running jobs.
func (p *VerifyPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

func (p *VerifyPool) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobs:
			p.metrics.SetQueueDepth(len(p.jobs))
			p.verify(job)
		}
	}
}

// verify runs job until a run completes without being marked stale. The
// stale check and the release of the in-flight slot happen under one lock so
// a resubmit is never lost.
func (p *VerifyPool) verify(job VerifyJob) {
	key := job.key()
	for {
		p.mu.Lock()
		f := p.inflight[key]
		f.running = true
		f.stale = false
		p.mu.Unlock()

		completed := p.attempt(job, f)

		p.mu.Lock()
		if !completed || !f.stale {
			delete(p.inflight, key)
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
		p.logger.Debug("verification rerun after resubmit",
			"uri", job.URI,
			"digest", job.Digest,
		)
	}
}

// attempt verifies job once and records the verdict unless f went stale
// meanwhile. It reports false when the pool was stopped.
func (p *VerifyPool) attempt(job VerifyJob, f *flight) bool {
	ctx, span := p.tracer.Start(p.ctx, tracer.SpanVerify,
		tracer.String(tracer.AttrURI, job.URI.String()),
		tracer.String(tracer.AttrDigest, job.Digest.String()),
		tracer.String(tracer.AttrProofType, job.Proof.Type),
	)
	var spanErr error
	defer func() { span.End(spanErr) }()

	start := time.Now()
	res := p.verifier.Verify(ctx, job.Canonical, job.Proof)
	if p.ctx.Err() != nil {
		// Cancelled verdicts are not recorded; the claim stays pending.
		spanErr = p.ctx.Err()
		return false
	}
	p.metrics.RecordVerdict(job.Proof.Type, string(res.Verdict), time.Since(start).Seconds())
	span.SetAttributes(
		tracer.String(tracer.AttrVerdict, string(res.Verdict)),
		tracer.String(tracer.AttrReason, string(res.Reason)),
	)

	p.mu.Lock()
	stale := f.stale
	p.mu.Unlock()
	if stale {
		return true
	}

	if err := p.store.SetVerdict(ctx, job.URI, job.Digest, res, p.now().UTC()); err != nil {
		spanErr = err
		p.logger.Error("failed to record verdict",
			"uri", job.URI,
			"digest", job.Digest,
			"verdict", res.Verdict,
			"error", err,
		)
		return true
	}
	p.logger.Debug("claim verified",
		"uri", job.URI,
		"verdict", res.Verdict,
		"reason", res.Reason,
		"key_id", res.KeyID,
	)
	return true
}

// Stop cancels in-flight work and waits for the workers. Queued jobs are
// dropped; their claims stay pending for the next sweep.
func (p *VerifyPool) Stop(ctx context.Context) error {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
