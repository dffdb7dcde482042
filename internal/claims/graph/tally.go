package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/store"
)

// RevisionReader loads revisions for the tally.
type RevisionReader interface {
	GetRevision(ctx context.Context, uri models.Locator, digest models.Digest) (*models.Claim, error)
	ListSince(ctx context.Context, f store.ListFilter) ([]models.Claim, error)
}

// Tally keeps an in-memory index of attesting revisions per target, fed by
// store notifications, so scores are computed without reading the store.
// Only the newest revision at each source locator is indexed, under the
// target it references. Older revisions are ignored, matching the store's
// retirement of edges the newest revision no longer backs.
type Tally struct {
	store  RevisionReader
	policy Policy
	logger *slog.Logger

	mu      sync.RWMutex
	targets map[models.Locator]map[models.Locator]*models.Claim
	latest  map[models.Locator]*models.Claim
	ready   bool
}

// NewTally creates an empty tally. Call Rebuild before relying on it, then
// subscribe it to the store.
func NewTally(st RevisionReader, opts ...Option) *Tally {
	o := buildOptions(opts)
	return &Tally{
		store:   st,
		policy:  o.policy,
		logger:  o.logger,
		targets: make(map[models.Locator]map[models.Locator]*models.Claim),
		latest:  make(map[models.Locator]*models.Claim),
	}
}

// Ready reports whether the index reflects the store. It is false before
// Rebuild and after a notification could not be applied.
func (t *Tally) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// Rebuild replays every stored revision into an empty index.
func (t *Tally) Rebuild(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.targets = make(map[models.Locator]map[models.Locator]*models.Claim)
	t.latest = make(map[models.Locator]*models.Claim)
	t.ready = false

	f := store.ListFilter{Limit: store.MaxLimit}
	for {
		page, err := t.store.ListSince(ctx, f)
		if err != nil {
			return fmt.Errorf("rebuild tally: %w", err)
		}
		for i := range page {
			t.applyLocked(&page[i])
		}
		if len(page) < f.Limit {
			break
		}
		f.AfterSeq = page[len(page)-1].Seq
	}
	t.ready = true
	return nil
}

// ClaimChanged implements store.Observer. The revision is reloaded under
// the tally lock so concurrent notifications settle on the newest state.
func (t *Tally) ClaimChanged(ctx context.Context, uri models.Locator, digest models.Digest) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, err := t.store.GetRevision(ctx, uri, digest)
	if err != nil {
		t.ready = false
		t.logger.ErrorContext(ctx, "tally reload failed",
			"uri", uri,
			"digest", digest,
			"error", err,
		)
		return
	}
	t.applyLocked(c)
}

func (t *Tally) applyLocked(c *models.Claim) {
	prev, seen := t.latest[c.URI]
	if seen && prev.Seq > c.Seq {
		return
	}
	if seen && prev.Target != "" {
		t.removeLocked(prev.Target, c.URI)
	}

	slim := c.Clone()
	slim.Record = nil
	slim.Canonical = nil
	t.latest[c.URI] = &slim
	if c.Target == "" || c.Deleted {
		return
	}
	sources, ok := t.targets[c.Target]
	if !ok {
		sources = make(map[models.Locator]*models.Claim)
		t.targets[c.Target] = sources
	}
	sources[c.URI] = &slim
}

func (t *Tally) removeLocked(target, source models.Locator) {
	sources := t.targets[target]
	delete(sources, source)
	if len(sources) == 0 {
		delete(t.targets, target)
	}
}

// TrustScore scores uri from the index.
func (t *Tally) TrustScore(uri models.Locator) models.TrustScore {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sources := t.targets[uri]
	contributions := make([]Contribution, 0, len(sources))
	for src, c := range sources {
		contributions = append(contributions, Contribution{
			Claim:    c,
			Disputed: t.policy.eligible(c) && t.disputedLocked(src),
		})
	}
	return Score(uri, contributions, t.policy)
}

func (t *Tally) disputedLocked(uri models.Locator) bool {
	for _, c := range t.targets[uri] {
		if t.policy.disputes(c) {
			return true
		}
	}
	return false
}
