package models

import (
	"encoding/json"
	"strings"
	"time"
)

// ProofField is the record field carrying an embedded proof. It is excluded
// from canonical bytes.
const ProofField = "embeddedProof"

// HowKnown enumerates how the evidence behind a claim was obtained.
type HowKnown string

const (
	HowKnownFirstHand      HowKnown = "FIRST_HAND"
	HowKnownSecondHand     HowKnown = "SECOND_HAND"
	HowKnownWebDocument    HowKnown = "WEB_DOCUMENT"
	HowKnownVerifiedLogin  HowKnown = "VERIFIED_LOGIN"
	HowKnownSignedDocument HowKnown = "SIGNED_DOCUMENT"
	HowKnownBlockchain     HowKnown = "BLOCKCHAIN"
	HowKnownResearch       HowKnown = "RESEARCH"
	HowKnownOpinion        HowKnown = "OPINION"
	HowKnownOther          HowKnown = "OTHER"
)

var knownHowKnown = map[HowKnown]struct{}{
	HowKnownFirstHand: {}, HowKnownSecondHand: {}, HowKnownWebDocument: {},
	HowKnownVerifiedLogin: {}, HowKnownSignedDocument: {}, HowKnownBlockchain: {},
	HowKnownResearch: {}, HowKnownOpinion: {}, HowKnownOther: {},
}

// NormalizeHowKnown upper-cases the value and maps unknown categories to OTHER.
// An empty value stays empty.
func NormalizeHowKnown(v string) HowKnown {
	if v == "" {
		return ""
	}
	h := HowKnown(strings.ToUpper(strings.TrimSpace(v)))
	if _, ok := knownHowKnown[h]; ok {
		return h
	}
	return HowKnownOther
}

// Source is the evidence/provenance sub-record attached to a claim.
type Source struct {
	URI          string     `json:"uri,omitempty"`
	Digest       string     `json:"digest,omitempty"`
	HowKnown     HowKnown   `json:"howKnown,omitempty"`
	DateObserved *time.Time `json:"dateObserved,omitempty"`
	Observer     string     `json:"observer,omitempty"`
	Author       string     `json:"author,omitempty"`
	Curator      string     `json:"curator,omitempty"`
}

// Proof is a signature produced outside the repository's native signing.
type Proof struct {
	Type               string `json:"type"`
	VerificationMethod string `json:"verificationMethod"`
	ProofPurpose       string `json:"proofPurpose,omitempty"`
	Created            string `json:"created,omitempty"`
	ProofValue         string `json:"proofValue,omitempty"`
	JWS                string `json:"jws,omitempty"`
}

// Verdict is the stored outcome of proof verification.
type Verdict string

const (
	// VerdictNone marks claims without an embedded proof.
	VerdictNone Verdict = "none"
	// VerdictPending marks claims whose proof has not been checked yet.
	VerdictPending      Verdict = "pending"
	VerdictValid        Verdict = "valid"
	VerdictInvalid      Verdict = "invalid"
	VerdictUnverifiable Verdict = "unverifiable"
)

// IsFinal reports whether the verdict needs no further verification.
func (v Verdict) IsFinal() bool {
	return v != VerdictPending
}

// VerificationReason explains a verdict.
type VerificationReason string

const (
	ReasonOK                 VerificationReason = "ok"
	ReasonNoProof            VerificationReason = "no_proof"
	ReasonUnknownProofType   VerificationReason = "unknown_proof_type"
	ReasonUnresolvedIdentity VerificationReason = "unresolved_identity"
	ReasonResolutionTimeout  VerificationReason = "resolution_timeout"
	ReasonKeyNotFound        VerificationReason = "key_not_found"
	ReasonMalformedProof     VerificationReason = "malformed_proof"
	ReasonSignatureMismatch  VerificationReason = "signature_mismatch"
)

// VerificationResult is the output of the proof verifier.
type VerificationResult struct {
	Verdict Verdict
	Reason  VerificationReason
	Detail  string
	KeyID   string
}

// DeletedReason records why a claim revision is tombstoned.
type DeletedReason string

const (
	DeletedByOwner DeletedReason = "deleted"
	// DeletedBeforeCreate marks a create that landed after its delete.
	DeletedBeforeCreate DeletedReason = "deleted_before_create"
)

// Claim is an immutable, content-addressed assertion plus the indexer's
// derived state about it (verdict, tombstone, supersession).
type Claim struct {
	URI       Locator
	Digest    Digest
	CommitCID string
	Owner     string

	Subject       string
	ClaimType     string
	Object        string
	Statement     string
	Source        *Source
	CreatedAt     *time.Time
	EffectiveDate *time.Time
	Confidence    *float64
	Stars         *int
	Proof         *Proof

	// Signer is the authoritative identity: the proof's controller DID when
	// an embedded proof is present, the repository owner otherwise.
	Signer string
	// Target is set when Subject addresses another claim.
	Target Locator
	// Record holds the record bytes exactly as received.
	Record json.RawMessage
	// Canonical is the digest and signature input.
	Canonical []byte

	Verdict       Verdict
	VerdictReason VerificationReason
	VerifiedAt    *time.Time

	Deleted       bool
	DeletedReason DeletedReason
	DeletedAt     *time.Time
	SupersededBy  Digest

	IndexedAt time.Time
	Seq       int64
}

// ProofValid maps the verdict onto the public tri-state: true for valid,
// false for invalid and nil when no cryptographic decision exists.
func (c Claim) ProofValid() *bool {
	var v bool
	switch c.Verdict {
	case VerdictValid:
		v = true
	case VerdictInvalid:
		v = false
	default:
		return nil
	}
	return &v
}

// Active reports whether the claim is the live revision of its locator.
func (c Claim) Active() bool {
	return !c.Deleted && c.SupersededBy == ""
}

// Clone returns a deep copy safe to hand to callers.
func (c Claim) Clone() Claim {
	out := c
	if c.Source != nil {
		src := *c.Source
		out.Source = &src
	}
	if c.Proof != nil {
		p := *c.Proof
		out.Proof = &p
	}
	if c.Record != nil {
		out.Record = append(json.RawMessage(nil), c.Record...)
	}
	if c.Canonical != nil {
		out.Canonical = append([]byte(nil), c.Canonical...)
	}
	return out
}

// KeyKind identifies the algorithm of resolved key material.
type KeyKind string

const (
	KeyKindEd25519 KeyKind = "Ed25519"
	KeyKindP256    KeyKind = "P-256"
	KeyKindK256    KeyKind = "secp256k1"
)

// KeyMaterial is one public key published by an identity.
type KeyMaterial struct {
	ID         string
	Controller string
	Kind       KeyKind
	// PublicKey is an ed25519.PublicKey, a *ecdsa.PublicKey (P-256) or an
	// atproto crypto.PublicKey (secp256k1).
	PublicKey any
	// Multikey is the multibase multicodec form of PublicKey.
	Multikey string
}

// KeySet is the resolved key material of one identity.
type KeySet struct {
	DID        string
	Keys       []KeyMaterial
	ResolvedAt time.Time
}

// Find returns the key referenced by verificationMethod. A reference without
// a fragment selects the first key of the requested kind.
func (ks KeySet) Find(verificationMethod string, kind KeyKind) (KeyMaterial, bool) {
	_, fragment, hasFragment := strings.Cut(verificationMethod, "#")
	for _, k := range ks.Keys {
		if kind != "" && k.Kind != kind {
			continue
		}
		if !hasFragment {
			return k, true
		}
		if k.ID == verificationMethod || strings.HasSuffix(k.ID, "#"+fragment) {
			return k, true
		}
	}
	return KeyMaterial{}, false
}
