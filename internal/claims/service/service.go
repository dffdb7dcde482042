// Package service is the read-only query facade over the derived store and
// the trust graph, plus the administrative re-verification entry points.
package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/graph"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/store"
	dErrors "github.com/Cooperation-org/claim-lexicon/pkg/domain-errors"
)

// Reader is the store surface the service queries.
type Reader interface {
	GetByLocator(ctx context.Context, uri models.Locator) (*models.Claim, error)
	GetByDigest(ctx context.Context, digest models.Digest) (*models.Claim, error)
	ListBySubject(ctx context.Context, subject string, f store.ListFilter) ([]models.Claim, error)
	ListBySigner(ctx context.Context, signer string, f store.ListFilter) ([]models.Claim, error)
	ListByType(ctx context.Context, claimType string, f store.ListFilter) ([]models.Claim, error)
}

// Graph answers attestation and traversal queries.
type Graph interface {
	AttestationsFor(ctx context.Context, uri models.Locator) (models.Attestations, error)
	TrustScore(ctx context.Context, uri models.Locator) (models.TrustScore, error)
	TrustGraph(ctx context.Context, root models.Locator, depth int) (models.TrustGraph, error)
}

// Scorer serves precomputed trust scores once it is Ready.
type Scorer interface {
	Ready() bool
	TrustScore(uri models.Locator) models.TrustScore
}

// Reverifier re-runs proof verification on request.
type Reverifier interface {
	Reverify(ctx context.Context, uri models.Locator) (*models.Claim, error)
	ReverifySigner(ctx context.Context, did string) (int, error)
}

// Page is one page of a list query. Cursor is empty on the last page.
type Page struct {
	Claims []models.Claim
	Cursor int64
}

// Page sizes for list queries.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// ListOptions bounds list queries.
type ListOptions struct {
	// IncludeDeleted returns tombstoned claims alongside live ones.
	IncludeDeleted bool
	// After resumes from a previous Page.Cursor.
	After int64
	// Limit is clamped to [1, MaxPageSize]; zero means DefaultPageSize.
	Limit int
}

func (o ListOptions) filter() store.ListFilter {
	limit := o.Limit
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}
	return store.ListFilter{IncludeInactive: o.IncludeDeleted, AfterSeq: o.After, Limit: limit}
}

// Service answers queries. Every method is a pure function of the current
// derived state.
type Service struct {
	store      Reader
	graph      Graph
	tally      Scorer
	reverifier Reverifier
	logger     *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithTally serves trust scores from an incremental tally when it is ready.
func WithTally(t Scorer) Option {
	return func(s *Service) {
		s.tally = t
	}
}

// WithReverifier enables the administrative re-verification calls.
func WithReverifier(r Reverifier) Option {
	return func(s *Service) {
		s.reverifier = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// New creates a query service.
func New(st Reader, g Graph, opts ...Option) *Service {
	s := &Service{store: st, graph: g, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromStore wires a lazy graph engine over st.
func NewFromStore(st store.Store, policy graph.Policy, limits graph.Limits, opts ...Option) *Service {
	return New(st, graph.NewEngine(st, graph.WithPolicy(policy), graph.WithLimits(limits)), opts...)
}

// GetBySubject lists claims about subject. Superseded revisions are never
// returned; tombstoned ones only with IncludeDeleted.
func (s *Service) GetBySubject(ctx context.Context, subject string, opts ListOptions) (Page, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Page{}, dErrors.New(dErrors.CodeInvalidInput, "subject is required")
	}
	claims, err := s.store.ListBySubject(ctx, subject, opts.filter())
	if err != nil {
		return Page{}, s.internal(ctx, "list by subject", err)
	}
	return pageOf(claims, opts), nil
}

// GetBySigner lists live claims whose authoritative signer is did.
func (s *Service) GetBySigner(ctx context.Context, did string, opts ListOptions) (Page, error) {
	did = strings.TrimSpace(did)
	if _, err := models.ControllerDID(did); err != nil || strings.Contains(did, "#") {
		return Page{}, dErrors.New(dErrors.CodeInvalidInput, "signer must be a did")
	}
	claims, err := s.store.ListBySigner(ctx, did, opts.filter())
	if err != nil {
		return Page{}, s.internal(ctx, "list by signer", err)
	}
	return pageOf(claims, opts), nil
}

// GetByType lists claims of one claimType.
func (s *Service) GetByType(ctx context.Context, claimType string, opts ListOptions) (Page, error) {
	claimType = strings.TrimSpace(claimType)
	if claimType == "" {
		return Page{}, dErrors.New(dErrors.CodeInvalidInput, "claimType is required")
	}
	claims, err := s.store.ListByType(ctx, claimType, opts.filter())
	if err != nil {
		return Page{}, s.internal(ctx, "list by type", err)
	}
	return pageOf(claims, opts), nil
}

// GetClaim returns the current revision at uri, tombstoned or not.
func (s *Service) GetClaim(ctx context.Context, uri models.Locator) (*models.Claim, error) {
	c, err := s.store.GetByLocator(ctx, uri)
	if err != nil {
		return nil, s.lookupErr(ctx, err)
	}
	return c, nil
}

// GetByDigest returns the earliest revision with digest.
func (s *Service) GetByDigest(ctx context.Context, digest models.Digest) (*models.Claim, error) {
	c, err := s.store.GetByDigest(ctx, digest)
	if err != nil {
		return nil, s.lookupErr(ctx, err)
	}
	return c, nil
}

// GetAttestations lists the claims attesting uri. A tombstoned or unknown
// target still resolves; its status is reported on the result.
func (s *Service) GetAttestations(ctx context.Context, uri models.Locator) (models.Attestations, error) {
	out, err := s.graph.AttestationsFor(ctx, uri)
	if err != nil {
		return out, s.internal(ctx, "attestations", err)
	}
	return out, nil
}

// GetTrustGraph walks attestations of uri up to depth levels. Caps mark the
// result truncated rather than failing.
func (s *Service) GetTrustGraph(ctx context.Context, uri models.Locator, depth int) (models.TrustGraph, error) {
	out, err := s.graph.TrustGraph(ctx, uri, depth)
	if err != nil {
		if ctx.Err() != nil {
			return out, dErrors.Wrap(err, dErrors.CodeTimeout, "trust graph traversal cancelled")
		}
		return out, s.internal(ctx, "trust graph", err)
	}
	return out, nil
}

// TrustScore aggregates the attestations of uri, from the tally when ready.
func (s *Service) TrustScore(ctx context.Context, uri models.Locator) (models.TrustScore, error) {
	if s.tally != nil && s.tally.Ready() {
		return s.tally.TrustScore(uri), nil
	}
	score, err := s.graph.TrustScore(ctx, uri)
	if err != nil {
		return score, s.internal(ctx, "trust score", err)
	}
	return score, nil
}

// Reverify re-runs verification for the claim at uri.
func (s *Service) Reverify(ctx context.Context, uri models.Locator) (*models.Claim, error) {
	if s.reverifier == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "re-verification is not enabled")
	}
	c, err := s.reverifier.Reverify(ctx, uri)
	if err != nil {
		return nil, s.lookupErr(ctx, err)
	}
	s.logger.InfoContext(ctx, "claim re-verification requested", "uri", uri)
	return c, nil
}

// ReverifySigner re-runs verification for every claim signed by did.
func (s *Service) ReverifySigner(ctx context.Context, did string) (int, error) {
	if s.reverifier == nil {
		return 0, dErrors.New(dErrors.CodeUnavailable, "re-verification is not enabled")
	}
	if _, err := models.ControllerDID(did); err != nil || strings.Contains(did, "#") {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "signer must be a did")
	}
	n, err := s.reverifier.ReverifySigner(ctx, did)
	if err != nil {
		return n, s.internal(ctx, "reverify signer", err)
	}
	s.logger.InfoContext(ctx, "signer re-verification requested", "did", did, "claims", n)
	return n, nil
}

func (s *Service) lookupErr(ctx context.Context, err error) error {
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return err
	}
	return s.internal(ctx, "lookup", err)
}

func (s *Service) internal(ctx context.Context, op string, err error) error {
	s.logger.ErrorContext(ctx, "query failed", "op", op, "error", err)
	return dErrors.Wrap(err, dErrors.CodeInternal, op+" failed")
}

// pageOf drops superseded revisions and sets the next cursor when the store
// returned a full page.
func pageOf(claims []models.Claim, opts ListOptions) Page {
	out := Page{Claims: make([]models.Claim, 0, len(claims))}
	for _, c := range claims {
		if c.SupersededBy != "" {
			continue
		}
		out.Claims = append(out.Claims, c)
	}
	if len(claims) > 0 && len(claims) == opts.filter().EffectiveLimit() {
		out.Cursor = claims[len(claims)-1].Seq
	}
	return out
}
