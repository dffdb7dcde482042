// Package store holds the derived claim indexes: claim revisions keyed by
// (locator, digest), their evidence sources, and the reference edges between
// claims. Tombstones are flags; rows are never removed.
package store

import (
	"context"
	"time"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	dErrors "github.com/Cooperation-org/claim-lexicon/pkg/domain-errors"
)

// ErrNotFound is returned when no claim matches a lookup.
var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "claim not found")

// CreateOutcome describes what ApplyCreate did.
type CreateOutcome string

const (
	// Created inserted a new live revision.
	Created CreateOutcome = "created"
	// Superseded inserted a new live revision and flagged the previous one.
	Superseded CreateOutcome = "superseded"
	// CreatedTombstoned inserted a revision already covered by a pending
	// tombstone.
	CreatedTombstoned CreateOutcome = "created_tombstoned"
	// DuplicateCreate found the (locator, digest) revision already stored.
	DuplicateCreate CreateOutcome = "duplicate"
)

// DeleteOutcome describes what ApplyDelete did.
type DeleteOutcome string

const (
	// Deleted tombstoned the current revision.
	Deleted DeleteOutcome = "deleted"
	// DeletePending recorded a tombstone for a claim not seen yet.
	DeletePending DeleteOutcome = "pending"
	// DuplicateDelete found the current revision already tombstoned.
	DuplicateDelete DeleteOutcome = "duplicate"
)

// CreateResult reports the effect of ApplyCreate. Claim is the stored
// revision; Previous is the revision it superseded, if any.
type CreateResult struct {
	Outcome  CreateOutcome
	Claim    *models.Claim
	Previous *models.Claim
}

// DeleteResult reports the effect of ApplyDelete.
type DeleteResult struct {
	Outcome DeleteOutcome
	Claim   *models.Claim
}

// ListFilter bounds and filters list queries. Results are ordered by
// insertion sequence.
type ListFilter struct {
	// IncludeInactive returns tombstoned and superseded revisions too.
	IncludeInactive bool
	// AfterSeq skips revisions up to and including this sequence.
	AfterSeq int64
	// Limit caps the result size; zero means DefaultLimit.
	Limit int
}

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// EffectiveLimit clamps Limit to [1, MaxLimit].
func (f ListFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLimit
	case f.Limit > MaxLimit:
		return MaxLimit
	default:
		return f.Limit
	}
}

// Observer is notified after a claim revision or its edge changes. It is
// called outside store locks and may read the store.
type Observer interface {
	ClaimChanged(ctx context.Context, uri models.Locator, digest models.Digest)
}

// Store is the derived state of the indexer. Each mutating call is applied
// atomically; readers never observe half of an event.
type Store interface {
	// ApplyCreate stores a parsed claim revision and, when edge is non-nil,
	// upserts its reference edge in the same transaction.
	ApplyCreate(ctx context.Context, claim *models.Claim, edge *models.Edge) (CreateResult, error)
	// ApplyDelete tombstones the current revision at uri.
	ApplyDelete(ctx context.Context, uri models.Locator, at time.Time) (DeleteResult, error)
	// SetVerdict records the outcome of proof verification for one revision.
	SetVerdict(ctx context.Context, uri models.Locator, digest models.Digest, res models.VerificationResult, at time.Time) error

	// GetByLocator returns the current (latest) revision at uri, tombstoned
	// or not.
	GetByLocator(ctx context.Context, uri models.Locator) (*models.Claim, error)
	// GetByDigest returns the earliest revision with the given digest.
	GetByDigest(ctx context.Context, digest models.Digest) (*models.Claim, error)
	// GetRevision returns one specific revision.
	GetRevision(ctx context.Context, uri models.Locator, digest models.Digest) (*models.Claim, error)
	// Revisions returns every revision stored at uri, oldest first.
	Revisions(ctx context.Context, uri models.Locator) ([]models.Claim, error)

	ListBySubject(ctx context.Context, subject string, f ListFilter) ([]models.Claim, error)
	ListBySigner(ctx context.Context, signer string, f ListFilter) ([]models.Claim, error)
	ListByType(ctx context.Context, claimType string, f ListFilter) ([]models.Claim, error)
	// ListPending returns revisions awaiting verification.
	ListPending(ctx context.Context, f ListFilter) ([]models.Claim, error)
	// ListSigned returns proof-carrying revisions whose signer is did.
	ListSigned(ctx context.Context, did string, f ListFilter) ([]models.Claim, error)
	// ListSince returns revisions with a sequence above f.AfterSeq, active or
	// not, for rebuilding derived counters.
	ListSince(ctx context.Context, f ListFilter) ([]models.Claim, error)

	// EdgesTo returns edges targeting uri in insertion order.
	EdgesTo(ctx context.Context, target models.Locator) ([]models.Edge, error)
	// EdgesFrom returns edges whose source is uri in insertion order.
	EdgesFrom(ctx context.Context, source models.Locator) ([]models.Edge, error)

	SaveCursor(ctx context.Context, source, cursor string) error
	// LoadCursor returns "" when no cursor was saved.
	LoadCursor(ctx context.Context, source string) (string, error)

	// Subscribe registers an observer for claim changes.
	Subscribe(o Observer)
}
