package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/store"
	dErrors "github.com/Cooperation-org/claim-lexicon/pkg/domain-errors"
)

// Reader is the slice of the store the graph needs.
type Reader interface {
	GetByLocator(ctx context.Context, uri models.Locator) (*models.Claim, error)
	GetRevision(ctx context.Context, uri models.Locator, digest models.Digest) (*models.Claim, error)
	EdgesTo(ctx context.Context, target models.Locator) ([]models.Edge, error)
}

// Engine answers graph queries by scanning the edges of one target per call.
type Engine struct {
	store  Reader
	policy Policy
	limits Limits
	logger *slog.Logger
}

// Option configures an Engine or a Tally.
type Option func(*options)

type options struct {
	policy Policy
	limits Limits
	logger *slog.Logger
}

// WithPolicy sets the scoring policy.
func WithPolicy(p Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithLimits sets the traversal caps.
func WithLimits(l Limits) Option {
	return func(o *options) {
		o.limits = l
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func buildOptions(opts []Option) options {
	o := options{
		policy: DefaultPolicy(),
		limits: DefaultLimits(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewEngine creates a lazy graph engine over st.
func NewEngine(st Reader, opts ...Option) *Engine {
	o := buildOptions(opts)
	return &Engine{store: st, policy: o.policy, limits: o.limits, logger: o.logger}
}

// Policy returns the scoring policy in effect.
func (e *Engine) Policy() Policy {
	return e.policy
}

// AttestationsFor lists every edge targeting uri in insertion order with the
// source revision behind it. Edges from tombstoned or retargeted sources are
// kept and marked retired. The
// target may be unknown or tombstoned; that is reported, not an error.
func (e *Engine) AttestationsFor(ctx context.Context, uri models.Locator) (models.Attestations, error) {
	out := models.Attestations{Target: models.TargetStatus{URI: uri}}

	target, err := e.store.GetByLocator(ctx, uri)
	switch {
	case err == nil:
		out.Target.Exists = true
		out.Target.Deleted = target.Deleted
	case !dErrors.HasCode(err, dErrors.CodeNotFound):
		return out, fmt.Errorf("load target %s: %w", uri, err)
	}

	edges, err := e.store.EdgesTo(ctx, uri)
	if err != nil {
		return out, fmt.Errorf("load edges to %s: %w", uri, err)
	}
	out.Items = make([]models.Attestation, 0, len(edges))
	for _, edge := range edges {
		c, err := e.contribution(ctx, edge)
		if err != nil {
			return out, err
		}
		out.Items = append(out.Items, models.Attestation{
			Edge:    edge,
			Claim:   c.Claim,
			Flagged: Flagged(c),
		})
	}
	return out, nil
}

// TrustScore aggregates the attestations of uri under the engine's policy.
func (e *Engine) TrustScore(ctx context.Context, uri models.Locator) (models.TrustScore, error) {
	edges, err := e.store.EdgesTo(ctx, uri)
	if err != nil {
		return models.TrustScore{}, fmt.Errorf("load edges to %s: %w", uri, err)
	}
	contributions := make([]Contribution, 0, len(edges))
	for _, edge := range edges {
		c, err := e.contribution(ctx, edge)
		if err != nil {
			return models.TrustScore{}, err
		}
		contributions = append(contributions, c)
	}
	return Score(uri, contributions, e.policy), nil
}

func (e *Engine) contribution(ctx context.Context, edge models.Edge) (Contribution, error) {
	claim, err := e.revision(ctx, edge)
	if err != nil {
		return Contribution{}, err
	}
	c := Contribution{Claim: claim, Retired: edge.Retired}
	if !c.Retired && e.policy.eligible(claim) {
		c.Disputed, err = e.disputed(ctx, edge.Source)
		if err != nil {
			return Contribution{}, err
		}
	}
	return c, nil
}

// revision loads the source revision an edge was last written by. A missing
// revision yields nil.
func (e *Engine) revision(ctx context.Context, edge models.Edge) (*models.Claim, error) {
	c, err := e.store.GetRevision(ctx, edge.Source, edge.SourceDigest)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || dErrors.HasCode(err, dErrors.CodeNotFound) {
			e.logger.WarnContext(ctx, "edge source revision missing",
				"source", edge.Source,
				"digest", edge.SourceDigest,
			)
			return nil, nil
		}
		return nil, fmt.Errorf("load source %s: %w", edge.Source, err)
	}
	return c, nil
}

// disputed reports whether any eligible dispute targets uri.
func (e *Engine) disputed(ctx context.Context, uri models.Locator) (bool, error) {
	edges, err := e.store.EdgesTo(ctx, uri)
	if err != nil {
		return false, fmt.Errorf("load edges to %s: %w", uri, err)
	}
	for _, edge := range edges {
		if edge.Retired || e.policy.Classifier.Classify(edge.ClaimType) != Dispute {
			continue
		}
		c, err := e.revision(ctx, edge)
		if err != nil {
			return false, err
		}
		if e.policy.disputes(c) {
			return true, nil
		}
	}
	return false, nil
}
