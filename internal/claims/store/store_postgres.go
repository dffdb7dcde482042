package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
)

const defaultTxTimeout = 5 * time.Second

// PostgresStore persists claim revisions, sources, edges and cursors in
// PostgreSQL. Each ApplyCreate and ApplyDelete runs in one transaction that
// takes an advisory lock on the locator.
type PostgresStore struct {
	db        *sql.DB
	observers []Observer
}

// NewPostgres constructs a PostgreSQL-backed claim store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Subscribe registers an observer. Not safe to call concurrently with
// mutations.
func (s *PostgresStore) Subscribe(o Observer) {
	s.observers = append(s.observers, o)
}

func (s *PostgresStore) notify(ctx context.Context, keys ...claimKey) {
	for _, k := range keys {
		for _, o := range s.observers {
			o.ClaimChanged(ctx, k.uri, k.digest)
		}
	}
}

// runInTx executes fn inside a transaction, applying a default timeout when
// ctx carries no deadline.
func (s *PostgresStore) runInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTxTimeout)
		defer cancel()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // rollback after commit is no-op
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func lockLocator(ctx context.Context, tx *sql.Tx, uri models.Locator) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(uri)); err != nil {
		return fmt.Errorf("lock locator: %w", err)
	}
	return nil
}

const claimColumns = `
	c.uri, c.digest, c.seq, c.commit_cid, c.owner_did, c.subject, c.claim_type, c.object, c.statement,
	c.created_at, c.effective_date, c.confidence, c.stars, c.proof, c.signer, c.target_uri,
	c.record, c.canonical, c.verdict, c.verdict_reason, c.verified_at,
	c.deleted, c.deleted_reason, c.deleted_at, c.superseded_by, c.indexed_at,
	s.uri IS NOT NULL, COALESCE(s.source_uri, ''), COALESCE(s.source_digest, ''), COALESCE(s.how_known, ''),
	s.date_observed, COALESCE(s.observer, ''), COALESCE(s.author, ''), COALESCE(s.curator, '')`

const claimFrom = `
	FROM claims c
	LEFT JOIN claim_sources s ON s.uri = c.uri AND s.digest = c.digest`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (*models.Claim, error) {
	var (
		c                          models.Claim
		uri, digest, superseded    string
		target                     string
		createdAt, effectiveDate   sql.NullTime
		verifiedAt, deletedAt      sql.NullTime
		confidence                 sql.NullFloat64
		stars                      sql.NullInt32
		proof, record              []byte
		hasSource                  bool
		src                        models.Source
		howKnown                   string
		dateObserved               sql.NullTime
		verdict, reason, delReason string
	)
	err := row.Scan(
		&uri, &digest, &c.Seq, &c.CommitCID, &c.Owner, &c.Subject, &c.ClaimType, &c.Object, &c.Statement,
		&createdAt, &effectiveDate, &confidence, &stars, &proof, &c.Signer, &target,
		&record, &c.Canonical, &verdict, &reason, &verifiedAt,
		&c.Deleted, &delReason, &deletedAt, &superseded, &c.IndexedAt,
		&hasSource, &src.URI, &src.Digest, &howKnown,
		&dateObserved, &src.Observer, &src.Author, &src.Curator,
	)
	if err != nil {
		return nil, err
	}

	c.URI = models.Locator(uri)
	c.Digest = models.Digest(digest)
	c.Target = models.Locator(target)
	c.SupersededBy = models.Digest(superseded)
	c.Verdict = models.Verdict(verdict)
	c.VerdictReason = models.VerificationReason(reason)
	c.DeletedReason = models.DeletedReason(delReason)
	c.Record = json.RawMessage(record)
	c.CreatedAt = timePtr(createdAt)
	c.EffectiveDate = timePtr(effectiveDate)
	c.VerifiedAt = timePtr(verifiedAt)
	c.DeletedAt = timePtr(deletedAt)
	c.IndexedAt = c.IndexedAt.UTC()
	if confidence.Valid {
		v := confidence.Float64
		c.Confidence = &v
	}
	if stars.Valid {
		v := int(stars.Int32)
		c.Stars = &v
	}
	if len(proof) > 0 {
		var p models.Proof
		if err := json.Unmarshal(proof, &p); err != nil {
			return nil, fmt.Errorf("decode proof: %w", err)
		}
		c.Proof = &p
	}
	if hasSource {
		src.HowKnown = models.HowKnown(howKnown)
		src.DateObserved = timePtr(dateObserved)
		c.Source = &src
	}
	return &c, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *PostgresStore) ApplyCreate(ctx context.Context, claim *models.Claim, edge *models.Edge) (CreateResult, error) {
	var (
		result  CreateResult
		changed []claimKey
	)
	err := s.runInTx(ctx, func(tx *sql.Tx) error {
		if err := lockLocator(ctx, tx, claim.URI); err != nil {
			return err
		}

		existing, err := scanClaim(tx.QueryRowContext(ctx,
			`SELECT`+claimColumns+claimFrom+` WHERE c.uri = $1 AND c.digest = $2`,
			string(claim.URI), string(claim.Digest)))
		switch {
		case err == nil:
			result = CreateResult{Outcome: DuplicateCreate, Claim: existing}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("find revision: %w", err)
		}

		stored := claim.Clone()
		if stored.IndexedAt.IsZero() {
			stored.IndexedAt = time.Now().UTC()
		}
		result.Outcome = Created

		var pendingAt time.Time
		err = tx.QueryRowContext(ctx,
			`DELETE FROM pending_tombstones WHERE uri = $1 RETURNING deleted_at`,
			string(claim.URI)).Scan(&pendingAt)
		switch {
		case err == nil:
			at := pendingAt.UTC()
			stored.Deleted = true
			stored.DeletedReason = models.DeletedBeforeCreate
			stored.DeletedAt = &at
			result.Outcome = CreatedTombstoned
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("consume pending tombstone: %w", err)
		default:
			cur, err := currentRevision(ctx, tx, claim.URI)
			if err != nil {
				return err
			}
			if cur != nil && cur.Active() {
				if _, err := tx.ExecContext(ctx,
					`UPDATE claims SET superseded_by = $3 WHERE uri = $1 AND digest = $2`,
					string(cur.URI), string(cur.Digest), string(claim.Digest)); err != nil {
					return fmt.Errorf("supersede revision: %w", err)
				}
				cur.SupersededBy = claim.Digest
				result.Outcome = Superseded
				result.Previous = cur
				changed = append(changed, claimKey{uri: cur.URI, digest: cur.Digest})
			}
		}

		if err := insertClaim(ctx, tx, &stored); err != nil {
			return err
		}
		var live models.Locator
		if edge != nil {
			if err := upsertEdge(ctx, tx, *edge, stored.Seq, stored.IndexedAt); err != nil {
				return err
			}
			if stored.Active() {
				live = edge.Target
			}
		}
		if err := retireEdges(ctx, tx, stored.URI, live); err != nil {
			return err
		}
		result.Claim = &stored
		changed = append([]claimKey{{uri: stored.URI, digest: stored.Digest}}, changed...)
		return nil
	})
	if err != nil {
		return CreateResult{}, fmt.Errorf("apply create %s: %w", claim.URI, err)
	}
	s.notify(ctx, changed...)
	return result, nil
}

func currentRevision(ctx context.Context, tx *sql.Tx, uri models.Locator) (*models.Claim, error) {
	cur, err := scanClaim(tx.QueryRowContext(ctx,
		`SELECT`+claimColumns+claimFrom+` WHERE c.uri = $1 ORDER BY c.seq DESC LIMIT 1`,
		string(uri)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find current revision: %w", err)
	}
	return cur, nil
}

func insertClaim(ctx context.Context, tx *sql.Tx, c *models.Claim) error {
	var proof any
	if c.Proof != nil {
		raw, err := json.Marshal(c.Proof)
		if err != nil {
			return fmt.Errorf("marshal proof: %w", err)
		}
		proof = string(raw)
	}
	var confidence sql.NullFloat64
	if c.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *c.Confidence, Valid: true}
	}
	var stars sql.NullInt32
	if c.Stars != nil {
		stars = sql.NullInt32{Int32: int32(*c.Stars), Valid: true}
	}

	err := tx.QueryRowContext(ctx, `
		INSERT INTO claims (
			uri, digest, commit_cid, owner_did, subject, claim_type, object, statement,
			created_at, effective_date, confidence, stars, proof, signer, target_uri,
			record, canonical, verdict, verdict_reason, verified_at,
			deleted, deleted_reason, deleted_at, superseded_by, indexed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
		RETURNING seq
	`,
		string(c.URI), string(c.Digest), c.CommitCID, c.Owner, c.Subject, c.ClaimType, c.Object, c.Statement,
		nullTime(c.CreatedAt), nullTime(c.EffectiveDate), confidence, stars, proof, c.Signer, string(c.Target),
		string(c.Record), c.Canonical, string(c.Verdict), string(c.VerdictReason), nullTime(c.VerifiedAt),
		c.Deleted, string(c.DeletedReason), nullTime(c.DeletedAt), string(c.SupersededBy), c.IndexedAt,
	).Scan(&c.Seq)
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}

	if c.Source == nil {
		return nil
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO claim_sources (uri, digest, source_uri, source_digest, how_known, date_observed, observer, author, curator)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		string(c.URI), string(c.Digest), c.Source.URI, c.Source.Digest, string(c.Source.HowKnown),
		nullTime(c.Source.DateObserved), c.Source.Observer, c.Source.Author, c.Source.Curator,
	)
	if err != nil {
		return fmt.Errorf("insert claim source: %w", err)
	}
	return nil
}

// retireEdges marks every edge from source as retired except the one to
// live. An empty live retires them all.
func retireEdges(ctx context.Context, tx *sql.Tx, source, live models.Locator) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE claim_edges SET retired = (target_uri <> $2) WHERE source_uri = $1`,
		string(source), string(live))
	if err != nil {
		return fmt.Errorf("retire edges: %w", err)
	}
	return nil
}

// upsertEdge keeps seq and created_at of an existing edge.
func upsertEdge(ctx context.Context, tx *sql.Tx, e models.Edge, seq int64, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO claim_edges (source_uri, target_uri, source_digest, claim_type, signer, seq, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_uri, target_uri) DO UPDATE SET
			source_digest = EXCLUDED.source_digest,
			claim_type = EXCLUDED.claim_type,
			signer = EXCLUDED.signer
	`, string(e.Source), string(e.Target), string(e.SourceDigest), e.ClaimType, e.Signer, seq, at)
	if err != nil {
		return fmt.Errorf("upsert edge: %w", err)
	}
	return nil
}

func (s *PostgresStore) ApplyDelete(ctx context.Context, uri models.Locator, at time.Time) (DeleteResult, error) {
	var result DeleteResult
	err := s.runInTx(ctx, func(tx *sql.Tx) error {
		if err := lockLocator(ctx, tx, uri); err != nil {
			return err
		}
		cur, err := currentRevision(ctx, tx, uri)
		if err != nil {
			return err
		}
		if cur == nil {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO pending_tombstones (uri, deleted_at) VALUES ($1, $2) ON CONFLICT (uri) DO NOTHING`,
				string(uri), at)
			if err != nil {
				return fmt.Errorf("record pending tombstone: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("pending tombstone rows: %w", err)
			}
			if n == 0 {
				result.Outcome = DuplicateDelete
			} else {
				result.Outcome = DeletePending
			}
			return nil
		}
		if cur.Deleted {
			result = DeleteResult{Outcome: DuplicateDelete, Claim: cur}
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE claims SET deleted = TRUE, deleted_reason = $3, deleted_at = $4
			WHERE uri = $1 AND digest = $2
		`, string(cur.URI), string(cur.Digest), string(models.DeletedByOwner), at); err != nil {
			return fmt.Errorf("tombstone claim: %w", err)
		}
		if err := retireEdges(ctx, tx, uri, ""); err != nil {
			return err
		}
		deletedAt := at.UTC()
		cur.Deleted = true
		cur.DeletedReason = models.DeletedByOwner
		cur.DeletedAt = &deletedAt
		result = DeleteResult{Outcome: Deleted, Claim: cur}
		return nil
	})
	if err != nil {
		return DeleteResult{}, fmt.Errorf("apply delete %s: %w", uri, err)
	}
	if result.Outcome == Deleted {
		s.notify(ctx, claimKey{uri: result.Claim.URI, digest: result.Claim.Digest})
	}
	return result, nil
}

func (s *PostgresStore) SetVerdict(ctx context.Context, uri models.Locator, digest models.Digest, res models.VerificationResult, at time.Time) error {
	r, err := s.db.ExecContext(ctx, `
		UPDATE claims SET verdict = $3, verdict_reason = $4, verified_at = $5
		WHERE uri = $1 AND digest = $2
	`, string(uri), string(digest), string(res.Verdict), string(res.Reason), at)
	if err != nil {
		return fmt.Errorf("set verdict: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return fmt.Errorf("set verdict rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.notify(ctx, claimKey{uri: uri, digest: digest})
	return nil
}

func (s *PostgresStore) getOne(ctx context.Context, where string, args ...any) (*models.Claim, error) {
	c, err := scanClaim(s.db.QueryRowContext(ctx, `SELECT`+claimColumns+claimFrom+` WHERE `+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get claim: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetByLocator(ctx context.Context, uri models.Locator) (*models.Claim, error) {
	return s.getOne(ctx, `c.uri = $1 ORDER BY c.seq DESC LIMIT 1`, string(uri))
}

func (s *PostgresStore) GetByDigest(ctx context.Context, digest models.Digest) (*models.Claim, error) {
	return s.getOne(ctx, `c.digest = $1 ORDER BY c.seq ASC LIMIT 1`, string(digest))
}

func (s *PostgresStore) GetRevision(ctx context.Context, uri models.Locator, digest models.Digest) (*models.Claim, error) {
	return s.getOne(ctx, `c.uri = $1 AND c.digest = $2`, string(uri), string(digest))
}

func (s *PostgresStore) Revisions(ctx context.Context, uri models.Locator) ([]models.Claim, error) {
	return s.list(ctx, ListFilter{IncludeInactive: true, Limit: MaxLimit}, "c.uri = $1", string(uri))
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subject string, f ListFilter) ([]models.Claim, error) {
	return s.list(ctx, f, "c.subject = $1", subject)
}

func (s *PostgresStore) ListBySigner(ctx context.Context, signer string, f ListFilter) ([]models.Claim, error) {
	return s.list(ctx, f, "c.signer = $1", signer)
}

func (s *PostgresStore) ListByType(ctx context.Context, claimType string, f ListFilter) ([]models.Claim, error) {
	return s.list(ctx, f, "c.claim_type = $1", claimType)
}

func (s *PostgresStore) ListPending(ctx context.Context, f ListFilter) ([]models.Claim, error) {
	f.IncludeInactive = true
	return s.list(ctx, f, "c.verdict = $1", string(models.VerdictPending))
}

func (s *PostgresStore) ListSigned(ctx context.Context, did string, f ListFilter) ([]models.Claim, error) {
	return s.list(ctx, f, "c.signer = $1 AND c.proof IS NOT NULL", did)
}

func (s *PostgresStore) ListSince(ctx context.Context, f ListFilter) ([]models.Claim, error) {
	f.IncludeInactive = true
	return s.list(ctx, f, "TRUE")
}

// list appends the filter clauses to where. Positional arguments in where
// must come first.
func (s *PostgresStore) list(ctx context.Context, f ListFilter, where string, args ...any) ([]models.Claim, error) {
	var b strings.Builder
	b.WriteString(`SELECT` + claimColumns + claimFrom + ` WHERE ` + where)
	args = append(args, f.AfterSeq)
	fmt.Fprintf(&b, " AND c.seq > $%d", len(args))
	if !f.IncludeInactive {
		b.WriteString(" AND NOT c.deleted AND c.superseded_by = ''")
	}
	args = append(args, f.EffectiveLimit())
	fmt.Fprintf(&b, " ORDER BY c.seq ASC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	out := make([]models.Claim, 0)
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) EdgesTo(ctx context.Context, target models.Locator) ([]models.Edge, error) {
	return s.edges(ctx, "target_uri", target)
}

func (s *PostgresStore) EdgesFrom(ctx context.Context, source models.Locator) ([]models.Edge, error) {
	return s.edges(ctx, "source_uri", source)
}

func (s *PostgresStore) edges(ctx context.Context, column string, uri models.Locator) ([]models.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_uri, target_uri, source_digest, claim_type, signer, seq, created_at, retired
		FROM claim_edges
		WHERE `+column+` = $1
		ORDER BY seq ASC
	`, string(uri))
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()

	out := make([]models.Edge, 0)
	for rows.Next() {
		var (
			e                         models.Edge
			source, target, srcDigest string
		)
		if err := rows.Scan(&source, &target, &srcDigest, &e.ClaimType, &e.Signer, &e.Seq, &e.CreatedAt, &e.Retired); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.Source = models.Locator(source)
		e.Target = models.Locator(target)
		e.SourceDigest = models.Digest(srcDigest)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SaveCursor(ctx context.Context, source, cursor string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_cursors (source, cursor, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (source) DO UPDATE SET
			cursor = EXCLUDED.cursor,
			updated_at = EXCLUDED.updated_at
	`, source, cursor)
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadCursor(ctx context.Context, source string) (string, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx, `SELECT cursor FROM ingest_cursors WHERE source = $1`, source).Scan(&cursor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("load cursor: %w", err)
	}
	return cursor, nil
}
