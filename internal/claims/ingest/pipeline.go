package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/metrics"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/store"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/tracer"
	platformsync "github.com/Cooperation-org/claim-lexicon/pkg/platform/sync"
)

// ErrStorage marks failures of the derived store. Ingestion cannot continue
// past one without losing events, so sources stop and the process exits.
var ErrStorage = errors.New("derived store failure")

// Applier is the store surface the pipeline mutates.
type Applier interface {
	ApplyCreate(ctx context.Context, claim *models.Claim, edge *models.Edge) (store.CreateResult, error)
	ApplyDelete(ctx context.Context, uri models.Locator, at time.Time) (store.DeleteResult, error)
}

// Pipeline applies change-stream events to the derived store and hands
// proof-carrying claims to the verification pool.
type Pipeline struct {
	store       Applier
	pool        Submitter
	collections map[string]struct{}
	locks       *platformsync.ShardedMutex
	metrics     *metrics.Metrics
	tracer      tracer.Tracer
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures the Pipeline.
type Option func(*Pipeline)

// WithSubmitter sets the verification pool. Without one, claims stay
// pending until a sweep runs.
func WithSubmitter(s Submitter) Option {
	return func(p *Pipeline) {
		p.pool = s
	}
}

// WithCollections restricts ingestion to the named collections. Events for
// other collections are ignored.
func WithCollections(nsids ...string) Option {
	return func(p *Pipeline) {
		for _, c := range nsids {
			if c != "" {
				p.collections[c] = struct{}{}
			}
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithTracer sets the tracer used for apply spans.
func WithTracer(t tracer.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithClock overrides the time source used for IndexedAt and tombstones.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithShards sets the number of locator lock shards.
func WithShards(n int) Option {
	return func(p *Pipeline) {
		p.locks = platformsync.NewShardedMutex(n)
	}
}

// NewPipeline creates a pipeline over st.
func NewPipeline(st Applier, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       st,
		collections: make(map[string]struct{}),
		locks:       platformsync.NewShardedMutex(platformsync.DefaultShards),
		tracer:      tracer.NewNoop(),
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Accepts reports whether events for collection are ingested.
func (p *Pipeline) Accepts(collection string) bool {
	if len(p.collections) == 0 {
		return true
	}
	_, ok := p.collections[collection]
	return ok
}

// Handle applies one event. Unparseable records are dropped and nil is
// returned; only storage failures surface, wrapped in ErrStorage.
func (p *Pipeline) Handle(ctx context.Context, ev models.Event) error {
	if !p.Accepts(ev.Collection) {
		return nil
	}
	start := time.Now()
	key := LaneKey(ev)

	ctx, span := p.tracer.Start(ctx, tracer.SpanApply,
		tracer.String(tracer.AttrAction, string(ev.Action)),
		tracer.String(tracer.AttrURI, "at://"+key),
		tracer.String(tracer.AttrSource, ev.Source),
	)
	var (
		outcome string
		err     error
	)
	defer func() { span.End(err) }()

	p.locks.Lock(key)
	defer p.locks.Unlock(key)

	switch ev.Action {
	case models.ActionCreate, models.ActionUpdate:
		outcome, err = p.create(ctx, ev, span)
	case models.ActionDelete:
		outcome, err = p.delete(ctx, ev)
	default:
		err = parseErr(ReasonAction, "%s: unknown action %q", ev, ev.Action)
	}

	if err != nil {
		if errors.Is(err, ErrParse) {
			span.AddEvent(tracer.EventDropped, tracer.String(tracer.AttrReason, ParseReason(err)))
			p.metrics.RecordParseFailure(ParseReason(err))
			p.metrics.RecordEvent(string(ev.Action), "dropped")
			p.logger.WarnContext(ctx, "record dropped",
				"event", ev.String(),
				"reason", ParseReason(err),
				"error", err,
			)
			err = nil
			return nil
		}
		p.logger.ErrorContext(ctx, "failed to apply event",
			"event", ev.String(),
			"error", err,
		)
		return err
	}

	span.SetAttributes(tracer.String(tracer.AttrOutcome, outcome))
	p.metrics.RecordEvent(string(ev.Action), outcome)
	p.metrics.ObserveApply(string(ev.Action), time.Since(start).Seconds())
	return nil
}

func (p *Pipeline) create(ctx context.Context, ev models.Event, span tracer.Span) (string, error) {
	claim, edge, err := Parse(ev, p.now())
	if err != nil {
		return "", err
	}

	res, err := p.store.ApplyCreate(ctx, claim, edge)
	if err != nil {
		return "", fmt.Errorf("%w: apply create %s: %w", ErrStorage, claim.URI, err)
	}

	switch res.Outcome {
	case store.DuplicateCreate:
		p.logger.DebugContext(ctx, "duplicate create ignored", "uri", claim.URI, "digest", claim.Digest)
	case store.CreatedTombstoned:
		p.logger.InfoContext(ctx, "create matched pending tombstone", "uri", claim.URI, "digest", claim.Digest)
	default:
		p.logger.DebugContext(ctx, "claim indexed",
			"uri", claim.URI,
			"digest", claim.Digest,
			"outcome", res.Outcome,
			"verdict", res.Claim.Verdict,
		)
		if res.Claim.Verdict == models.VerdictPending && p.pool != nil && p.pool.Submit(JobFor(res.Claim)) {
			span.AddEvent(tracer.EventQueued)
		}
	}
	return string(res.Outcome), nil
}

func (p *Pipeline) delete(ctx context.Context, ev models.Event) (string, error) {
	uri, err := ev.Locator()
	if err != nil {
		return "", parseErr(ReasonLocator, "%s: %v", ev, err)
	}

	res, err := p.store.ApplyDelete(ctx, uri, p.now().UTC())
	if err != nil {
		return "", fmt.Errorf("%w: apply delete %s: %w", ErrStorage, uri, err)
	}
	if res.Outcome == store.DeletePending {
		p.logger.InfoContext(ctx, "delete held as pending tombstone", "uri", uri)
	}
	return string(res.Outcome), nil
}
