// Package resolver memoizes identity to public-key resolution for the proof
// verifier. Positive results are kept in a bounded LRU without expiry, failures
// are cached briefly, and concurrent lookups of one identity share a single
// upstream call.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/metrics"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/pkg/platform/circuit"
)

// Defaults for Config fields left zero.
const (
	DefaultSize         = 10_000
	DefaultFailureTTL   = time.Minute
	DefaultTransientTTL = 200 * time.Millisecond
	DefaultCallTimeout  = 5 * time.Second
	DefaultRate         = rate.Limit(50)
	DefaultBurst        = 20
)

// Config controls cache sizing and upstream pressure.
type Config struct {
	// Size caps the positive cache; least recently used entries are evicted.
	Size int
	// FailureTTL is how long permanent failures (unknown identity, bad
	// document) are served from the negative cache.
	FailureTTL time.Duration
	// TransientTTL is how long transient failures (timeouts, outages) are
	// served from the negative cache. Keep it below the verifier's first
	// retry delay so retries reach the upstream.
	TransientTTL time.Duration
	// CallTimeout bounds one upstream resolution.
	CallTimeout time.Duration
	// Rate and Burst limit upstream calls across all identities.
	Rate  rate.Limit
	Burst int
}

func (c *Config) applyDefaults() {
	if c.Size <= 0 {
		c.Size = DefaultSize
	}
	if c.FailureTTL <= 0 {
		c.FailureTTL = DefaultFailureTTL
	}
	if c.TransientTTL <= 0 {
		c.TransientTTL = DefaultTransientTTL
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.Rate <= 0 {
		c.Rate = DefaultRate
	}
	if c.Burst <= 0 {
		c.Burst = DefaultBurst
	}
}

// SharedTier is an optional second cache level shared between indexer
// instances.
type SharedTier interface {
	Get(ctx context.Context, did string) (models.KeySet, bool, error)
	Set(ctx context.Context, ks models.KeySet) error
	Delete(ctx context.Context, did string) error
}

// Cache is the identity resolver cache. It is safe for concurrent use and is
// shared by all verification workers.
type Cache struct {
	upstream Upstream
	cfg      Config
	positive *lru.Cache[string, models.KeySet]
	negative *gocache.Cache
	group    singleflight.Group
	limiter  *rate.Limiter
	breaker  *circuit.Breaker
	shared   SharedTier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithConfig overrides the cache configuration.
func WithConfig(cfg Config) Option {
	return func(c *Cache) { c.cfg = cfg }
}

// WithSharedTier adds a second cache level consulted before the upstream.
func WithSharedTier(t SharedTier) Option {
	return func(c *Cache) { c.shared = t }
}

// WithBreaker overrides the upstream circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Cache) { c.breaker = b }
}

// WithMetrics records cache metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a resolver cache in front of upstream.
func New(upstream Upstream, opts ...Option) (*Cache, error) {
	c := &Cache{upstream: upstream, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.cfg.applyDefaults()

	positive, err := lru.New[string, models.KeySet](c.cfg.Size)
	if err != nil {
		return nil, err
	}
	c.positive = positive
	c.negative = gocache.New(c.cfg.FailureTTL, 2*c.cfg.FailureTTL)
	c.limiter = rate.NewLimiter(c.cfg.Rate, c.cfg.Burst)
	if c.breaker == nil {
		c.breaker = circuit.New("identity-resolver")
	}
	return c, nil
}

// Resolve returns the key material of did, consulting the memory tier, the
// negative cache, the shared tier and finally the upstream.
func (c *Cache) Resolve(ctx context.Context, did string) (models.KeySet, error) {
	if ks, ok := c.positive.Get(did); ok {
		c.metrics.RecordResolverHit("memory")
		return ks, nil
	}
	if cached, ok := c.negative.Get(did); ok {
		c.metrics.RecordResolverHit("negative")
		return models.KeySet{}, cached.(error)
	}
	c.metrics.RecordResolverMiss()

	ch := c.group.DoChan(did, func() (any, error) {
		// Detached so one caller's cancellation does not fail the others.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CallTimeout)
		defer cancel()
		return c.load(callCtx, did)
	})
	select {
	case <-ctx.Done():
		return models.KeySet{}, NewResolveError(CategoryTimeout, did, "resolution abandoned", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return models.KeySet{}, res.Err
		}
		return res.Val.(models.KeySet), nil
	}
}

func (c *Cache) load(ctx context.Context, did string) (models.KeySet, error) {
	if c.shared != nil {
		ks, ok, err := c.shared.Get(ctx, did)
		switch {
		case err != nil:
			c.logger.WarnContext(ctx, "shared resolver tier read failed", "did", did, "error", err)
		case ok:
			c.metrics.RecordResolverHit("shared")
			c.store(ks)
			return ks, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		c.metrics.RecordUpstream("rate_limited")
		return models.KeySet{}, NewResolveError(CategoryRateLimited, did, "resolver rate limit", err)
	}
	// Allow must be paired with a recorded outcome.
	if !c.breaker.Allow() {
		c.metrics.RecordUpstream("circuit_open")
		return models.KeySet{}, NewResolveError(CategoryOutage, did, "resolver circuit open", nil)
	}

	ks, err := c.upstream.Resolve(ctx, did)
	if err != nil {
		var re *ResolveError
		if !errors.As(err, &re) {
			re = NewResolveError(CategoryOf(err), did, "upstream", err)
		}
		c.recordOutcome(ctx, re)
		c.remember(did, re)
		return models.KeySet{}, re
	}

	if t := c.breaker.RecordSuccess(); t.Changed() {
		c.logger.InfoContext(ctx, "resolver circuit changed", "state", t.To.String())
	}
	c.metrics.RecordUpstream("ok")
	c.store(ks)
	if c.shared != nil {
		if err := c.shared.Set(ctx, ks); err != nil {
			c.logger.WarnContext(ctx, "shared resolver tier write failed", "did", did, "error", err)
		}
	}
	return ks, nil
}

func (c *Cache) recordOutcome(ctx context.Context, re *ResolveError) {
	c.metrics.RecordUpstream(string(re.Category))
	if !re.Retryable {
		// The upstream answered; only transient failures count against it.
		c.breaker.RecordSuccess()
		return
	}
	if t := c.breaker.RecordFailure(); t.Changed() {
		c.logger.WarnContext(ctx, "resolver circuit changed", "state", t.To.String(), "did", re.DID, "error", re)
	}
}

func (c *Cache) remember(did string, re *ResolveError) {
	ttl := c.cfg.FailureTTL
	if re.Retryable {
		ttl = c.cfg.TransientTTL
	}
	c.negative.Set(did, error(re), ttl)
}

func (c *Cache) store(ks models.KeySet) {
	c.positive.Add(ks.DID, ks)
	c.negative.Delete(ks.DID)
	c.metrics.SetResolverEntries(c.positive.Len())
}

// Invalidate evicts did from every tier so the next lookup reaches the
// upstream. Used on key revocation and explicit re-verification.
func (c *Cache) Invalidate(ctx context.Context, did string) error {
	c.positive.Remove(did)
	c.negative.Delete(did)
	c.group.Forget(did)
	c.metrics.SetResolverEntries(c.positive.Len())
	if c.shared != nil {
		return c.shared.Delete(ctx, did)
	}
	return nil
}

// Len returns the number of identities in the positive memory tier.
func (c *Cache) Len() int {
	return c.positive.Len()
}
