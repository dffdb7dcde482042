// Package ingest turns change-stream events into derived store mutations and
// schedules proof verification off the ingestion path.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/canonical"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
)

// ErrParse marks records that cannot become claims. They are dropped and
// counted; they never stop the stream.
var ErrParse = errors.New("unparseable record")

// Parse failure reasons, used as metric labels.
const (
	ReasonLocator      = "invalid_locator"
	ReasonMalformed    = "malformed_record"
	ReasonMissingField = "missing_field"
	ReasonOutOfRange   = "out_of_range"
	ReasonInvalidDate  = "invalid_date"
	ReasonAction       = "unknown_action"
)

// ParseError describes why a record was dropped.
type ParseError struct {
	Reason string
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

func parseErr(reason, format string, args ...any) error {
	return &ParseError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ParseReason returns the reason label of a parse error, or "".
func ParseReason(err error) string {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ""
}

type recordSource struct {
	URI          string `json:"uri"`
	Digest       string `json:"digest"`
	HowKnown     string `json:"howKnown"`
	DateObserved string `json:"dateObserved"`
	Observer     string `json:"observer"`
	Author       string `json:"author"`
	Curator      string `json:"curator"`
}

type claimRecord struct {
	Subject       string        `json:"subject"`
	ClaimType     string        `json:"claimType"`
	Object        string        `json:"object"`
	Statement     string        `json:"statement"`
	Source        *recordSource `json:"source"`
	CreatedAt     string        `json:"createdAt"`
	EffectiveDate string        `json:"effectiveDate"`
	Confidence    *float64      `json:"confidence"`
	Stars         *int          `json:"stars"`
	Proof         *models.Proof `json:"embeddedProof"`
}

// Parse builds a claim revision from a create event. The returned edge is
// non-nil when the subject addresses another claim. Claims carrying a proof
// whose verification method names no usable DID are indexed with an invalid
// verdict and attributed to the repository owner.
func Parse(ev models.Event, now time.Time) (*models.Claim, *models.Edge, error) {
	uri, err := ev.Locator()
	if err != nil {
		return nil, nil, parseErr(ReasonLocator, "%s: %v", ev, err)
	}

	canon, digest, err := canonical.Compute(ev.Record)
	if err != nil {
		return nil, nil, parseErr(ReasonMalformed, "%s: %v", uri, err)
	}

	var rec claimRecord
	if err := json.Unmarshal(ev.Record, &rec); err != nil {
		return nil, nil, parseErr(ReasonMalformed, "%s: %v", uri, err)
	}
	rec.Subject = strings.TrimSpace(rec.Subject)
	rec.ClaimType = strings.TrimSpace(rec.ClaimType)
	if rec.Subject == "" {
		return nil, nil, parseErr(ReasonMissingField, "%s: subject is required", uri)
	}
	if rec.ClaimType == "" {
		return nil, nil, parseErr(ReasonMissingField, "%s: claimType is required", uri)
	}
	if rec.Confidence != nil && (*rec.Confidence < 0 || *rec.Confidence > 1) {
		return nil, nil, parseErr(ReasonOutOfRange, "%s: confidence %v not in [0,1]", uri, *rec.Confidence)
	}
	if rec.Stars != nil && (*rec.Stars < 1 || *rec.Stars > 5) {
		return nil, nil, parseErr(ReasonOutOfRange, "%s: stars %d not in [1,5]", uri, *rec.Stars)
	}

	claim := &models.Claim{
		URI:        uri,
		Digest:     digest,
		CommitCID:  ev.CommitCID,
		Owner:      ev.Owner,
		Subject:    rec.Subject,
		ClaimType:  rec.ClaimType,
		Object:     rec.Object,
		Statement:  rec.Statement,
		Confidence: rec.Confidence,
		Stars:      rec.Stars,
		Record:     append(json.RawMessage(nil), ev.Record...),
		Canonical:  canon,
		IndexedAt:  now.UTC(),
	}
	if claim.CreatedAt, err = parseDate(rec.CreatedAt); err != nil {
		return nil, nil, parseErr(ReasonInvalidDate, "%s: createdAt: %v", uri, err)
	}
	if claim.EffectiveDate, err = parseDate(rec.EffectiveDate); err != nil {
		return nil, nil, parseErr(ReasonInvalidDate, "%s: effectiveDate: %v", uri, err)
	}
	if rec.Source != nil {
		src := &models.Source{
			URI:      rec.Source.URI,
			Digest:   rec.Source.Digest,
			HowKnown: models.NormalizeHowKnown(rec.Source.HowKnown),
			Observer: rec.Source.Observer,
			Author:   rec.Source.Author,
			Curator:  rec.Source.Curator,
		}
		if src.DateObserved, err = parseDate(rec.Source.DateObserved); err != nil {
			return nil, nil, parseErr(ReasonInvalidDate, "%s: source.dateObserved: %v", uri, err)
		}
		claim.Source = src
	}

	attribute(claim, rec.Proof, now)

	var edge *models.Edge
	if target, err := models.ParseLocator(rec.Subject); err == nil && target != uri {
		claim.Target = target
		edge = &models.Edge{
			Source:       uri,
			Target:       target,
			SourceDigest: digest,
			ClaimType:    claim.ClaimType,
			Signer:       claim.Signer,
		}
	}
	return claim, edge, nil
}

// attribute sets the signer and initial verdict.
func attribute(c *models.Claim, p *models.Proof, now time.Time) {
	c.Signer = c.Owner
	if p == nil {
		c.Verdict = models.VerdictNone
		c.VerdictReason = models.ReasonNoProof
		return
	}

	proof := *p
	c.Proof = &proof
	signer, err := models.ControllerDID(proof.VerificationMethod)
	if err != nil || proof.Type == "" {
		at := now.UTC()
		c.Verdict = models.VerdictInvalid
		c.VerdictReason = models.ReasonMalformedProof
		c.VerifiedAt = &at
		return
	}
	c.Signer = signer
	c.Verdict = models.VerdictPending
}

func parseDate(raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	dt, err := syntax.ParseDatetimeLenient(raw)
	if err != nil {
		return nil, err
	}
	t := dt.Time().UTC()
	return &t, nil
}
