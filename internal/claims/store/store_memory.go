package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
)

type claimKey struct {
	uri    models.Locator
	digest models.Digest
}

type edgeKey struct {
	source models.Locator
	target models.Locator
}

// InMemoryStore is a Store backed by maps. A single RWMutex makes every
// mutation atomic with respect to readers.
type InMemoryStore struct {
	mu sync.RWMutex

	claims    map[claimKey]*models.Claim
	revisions map[models.Locator][]claimKey
	byDigest  map[models.Digest][]claimKey
	bySubject map[string][]claimKey
	bySigner  map[string][]claimKey
	byType    map[string][]claimKey
	ordered   []claimKey

	edges     map[edgeKey]*models.Edge
	edgesTo   map[models.Locator][]edgeKey
	edgesFrom map[models.Locator][]edgeKey

	pending map[models.Locator]time.Time
	cursors map[string]string

	seq       int64
	observers []Observer
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		claims:    make(map[claimKey]*models.Claim),
		revisions: make(map[models.Locator][]claimKey),
		byDigest:  make(map[models.Digest][]claimKey),
		bySubject: make(map[string][]claimKey),
		bySigner:  make(map[string][]claimKey),
		byType:    make(map[string][]claimKey),
		edges:     make(map[edgeKey]*models.Edge),
		edgesTo:   make(map[models.Locator][]edgeKey),
		edgesFrom: make(map[models.Locator][]edgeKey),
		pending:   make(map[models.Locator]time.Time),
		cursors:   make(map[string]string),
	}
}

// Subscribe registers an observer. Not safe to call concurrently with
// mutations.
func (s *InMemoryStore) Subscribe(o Observer) {
	s.observers = append(s.observers, o)
}

func (s *InMemoryStore) notify(ctx context.Context, keys ...claimKey) {
	for _, k := range keys {
		for _, o := range s.observers {
			o.ClaimChanged(ctx, k.uri, k.digest)
		}
	}
}

func (s *InMemoryStore) ApplyCreate(ctx context.Context, claim *models.Claim, edge *models.Edge) (CreateResult, error) {
	key := claimKey{uri: claim.URI, digest: claim.Digest}

	s.mu.Lock()
	if existing, ok := s.claims[key]; ok {
		out := existing.Clone()
		s.mu.Unlock()
		return CreateResult{Outcome: DuplicateCreate, Claim: &out}, nil
	}

	s.seq++
	stored := claim.Clone()
	stored.Seq = s.seq
	if stored.IndexedAt.IsZero() {
		stored.IndexedAt = time.Now().UTC()
	}

	outcome := Created
	var previous *models.Claim
	changed := []claimKey{key}

	if deletedAt, ok := s.pending[claim.URI]; ok {
		stored.Deleted = true
		stored.DeletedReason = models.DeletedBeforeCreate
		stored.DeletedAt = &deletedAt
		delete(s.pending, claim.URI)
		outcome = CreatedTombstoned
	} else if cur := s.currentLocked(claim.URI); cur != nil && cur.Active() {
		cur.SupersededBy = claim.Digest
		prev := cur.Clone()
		previous = &prev
		outcome = Superseded
		changed = append(changed, claimKey{uri: cur.URI, digest: cur.Digest})
	}

	s.claims[key] = &stored
	s.revisions[claim.URI] = append(s.revisions[claim.URI], key)
	s.byDigest[claim.Digest] = append(s.byDigest[claim.Digest], key)
	s.bySubject[claim.Subject] = append(s.bySubject[claim.Subject], key)
	s.bySigner[claim.Signer] = append(s.bySigner[claim.Signer], key)
	s.byType[claim.ClaimType] = append(s.byType[claim.ClaimType], key)
	s.ordered = append(s.ordered, key)

	var live models.Locator
	if edge != nil {
		s.upsertEdgeLocked(*edge, stored.Seq, stored.IndexedAt)
		if stored.Active() {
			live = edge.Target
		}
	}
	s.retireEdgesLocked(claim.URI, live)

	out := stored.Clone()
	s.mu.Unlock()

	s.notify(ctx, changed...)
	return CreateResult{Outcome: outcome, Claim: &out, Previous: previous}, nil
}

// retireEdgesLocked marks every edge from source as retired except the one
// to live. An empty live retires them all.
func (s *InMemoryStore) retireEdgesLocked(source, live models.Locator) {
	for _, k := range s.edgesFrom[source] {
		s.edges[k].Retired = k.target != live
	}
}

// upsertEdgeLocked keeps the insertion sequence of an existing edge so
// attestation order is stable across revisions of the source claim.
func (s *InMemoryStore) upsertEdgeLocked(e models.Edge, seq int64, at time.Time) {
	k := edgeKey{source: e.Source, target: e.Target}
	if existing, ok := s.edges[k]; ok {
		existing.SourceDigest = e.SourceDigest
		existing.ClaimType = e.ClaimType
		existing.Signer = e.Signer
		return
	}
	e.Seq = seq
	e.CreatedAt = at
	s.edges[k] = &e
	s.edgesTo[e.Target] = append(s.edgesTo[e.Target], k)
	s.edgesFrom[e.Source] = append(s.edgesFrom[e.Source], k)
}

func (s *InMemoryStore) ApplyDelete(ctx context.Context, uri models.Locator, at time.Time) (DeleteResult, error) {
	s.mu.Lock()
	cur := s.currentLocked(uri)
	if cur == nil {
		if _, ok := s.pending[uri]; ok {
			s.mu.Unlock()
			return DeleteResult{Outcome: DuplicateDelete}, nil
		}
		s.pending[uri] = at
		s.mu.Unlock()
		return DeleteResult{Outcome: DeletePending}, nil
	}
	if cur.Deleted {
		out := cur.Clone()
		s.mu.Unlock()
		return DeleteResult{Outcome: DuplicateDelete, Claim: &out}, nil
	}

	cur.Deleted = true
	cur.DeletedReason = models.DeletedByOwner
	cur.DeletedAt = &at
	s.retireEdgesLocked(uri, "")
	out := cur.Clone()
	s.mu.Unlock()

	s.notify(ctx, claimKey{uri: out.URI, digest: out.Digest})
	return DeleteResult{Outcome: Deleted, Claim: &out}, nil
}

func (s *InMemoryStore) SetVerdict(ctx context.Context, uri models.Locator, digest models.Digest, res models.VerificationResult, at time.Time) error {
	key := claimKey{uri: uri, digest: digest}
	s.mu.Lock()
	c, ok := s.claims[key]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	c.Verdict = res.Verdict
	c.VerdictReason = res.Reason
	c.VerifiedAt = &at
	s.mu.Unlock()

	s.notify(ctx, key)
	return nil
}

func (s *InMemoryStore) currentLocked(uri models.Locator) *models.Claim {
	revs := s.revisions[uri]
	if len(revs) == 0 {
		return nil
	}
	return s.claims[revs[len(revs)-1]]
}

func (s *InMemoryStore) GetByLocator(_ context.Context, uri models.Locator) (*models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.currentLocked(uri)
	if cur == nil {
		return nil, ErrNotFound
	}
	out := cur.Clone()
	return &out, nil
}

func (s *InMemoryStore) GetByDigest(_ context.Context, digest models.Digest) (*models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.byDigest[digest]
	if len(keys) == 0 {
		return nil, ErrNotFound
	}
	out := s.claims[keys[0]].Clone()
	return &out, nil
}

func (s *InMemoryStore) GetRevision(_ context.Context, uri models.Locator, digest models.Digest) (*models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.claims[claimKey{uri: uri, digest: digest}]
	if !ok {
		return nil, ErrNotFound
	}
	out := c.Clone()
	return &out, nil
}

func (s *InMemoryStore) Revisions(_ context.Context, uri models.Locator) ([]models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.revisions[uri], ListFilter{IncludeInactive: true, Limit: MaxLimit}, nil), nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subject string, f ListFilter) ([]models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.bySubject[subject], f, nil), nil
}

func (s *InMemoryStore) ListBySigner(_ context.Context, signer string, f ListFilter) ([]models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.bySigner[signer], f, nil), nil
}

func (s *InMemoryStore) ListByType(_ context.Context, claimType string, f ListFilter) ([]models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.byType[claimType], f, nil), nil
}

func (s *InMemoryStore) ListPending(_ context.Context, f ListFilter) ([]models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f.IncludeInactive = true
	return s.collectLocked(s.ordered, f, func(c *models.Claim) bool {
		return c.Verdict == models.VerdictPending
	}), nil
}

func (s *InMemoryStore) ListSigned(_ context.Context, did string, f ListFilter) ([]models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.bySigner[did], f, func(c *models.Claim) bool {
		return c.Proof != nil
	}), nil
}

func (s *InMemoryStore) ListSince(_ context.Context, f ListFilter) ([]models.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f.IncludeInactive = true
	return s.collectLocked(s.ordered, f, nil), nil
}

// collectLocked walks keys in insertion order applying f and keep.
func (s *InMemoryStore) collectLocked(keys []claimKey, f ListFilter, keep func(*models.Claim) bool) []models.Claim {
	limit := f.EffectiveLimit()
	out := make([]models.Claim, 0, min(limit, len(keys)))
	for _, k := range keys {
		c := s.claims[k]
		if c.Seq <= f.AfterSeq {
			continue
		}
		if !f.IncludeInactive && !c.Active() {
			continue
		}
		if keep != nil && !keep(c) {
			continue
		}
		out = append(out, c.Clone())
		if len(out) == limit {
			break
		}
	}
	return out
}

func (s *InMemoryStore) EdgesTo(_ context.Context, target models.Locator) ([]models.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.edgesLocked(s.edgesTo[target]), nil
}

func (s *InMemoryStore) EdgesFrom(_ context.Context, source models.Locator) ([]models.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.edgesLocked(s.edgesFrom[source]), nil
}

func (s *InMemoryStore) edgesLocked(keys []edgeKey) []models.Edge {
	out := make([]models.Edge, 0, len(keys))
	for _, k := range keys {
		out = append(out, *s.edges[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (s *InMemoryStore) SaveCursor(_ context.Context, source, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[source] = cursor
	return nil
}

func (s *InMemoryStore) LoadCursor(_ context.Context, source string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[source], nil
}

// PendingTombstones returns the number of deletes waiting for their create.
func (s *InMemoryStore) PendingTombstones() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}
