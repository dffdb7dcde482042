package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/bluesky-social/indigo/atproto/syntax"

	dErrors "github.com/Cooperation-org/claim-lexicon/pkg/domain-errors"
)

// DefaultCollection is the NSID under which claims are published.
const DefaultCollection = "com.linkedclaims.claim"

// Locator is the stable at:// address of a record slot:
// at://<owner DID>/<collection NSID>/<record key>.
type Locator string

// NewLocator builds a locator from its parts, validating each against the
// AT Protocol grammar.
func NewLocator(owner, collection, recordKey string) (Locator, error) {
	if _, err := syntax.ParseDID(owner); err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid owner did %q", owner))
	}
	if _, err := syntax.ParseNSID(collection); err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid collection %q", collection))
	}
	if _, err := syntax.ParseRecordKey(recordKey); err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid record key %q", recordKey))
	}
	return Locator("at://" + owner + "/" + collection + "/" + recordKey), nil
}

// ParseLocator parses a fully qualified record locator. The authority must be
// a DID; handles are not stable and never identify a claim.
func ParseLocator(raw string) (Locator, error) {
	if strings.TrimSpace(raw) == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "uri is required")
	}
	uri, err := syntax.ParseATURI(raw)
	if err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid at-uri %q", raw))
	}
	if !uri.Authority().IsDID() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "at-uri authority must be a did")
	}
	if uri.Collection() == "" || uri.RecordKey() == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "at-uri must address a record")
	}
	return NewLocator(uri.Authority().String(), uri.Collection().String(), uri.RecordKey().String())
}

func (l Locator) String() string { return string(l) }

// Owner returns the DID authority of the locator.
func (l Locator) Owner() string {
	owner, _, _ := l.parts()
	return owner
}

// Collection returns the collection NSID of the locator.
func (l Locator) Collection() string {
	_, collection, _ := l.parts()
	return collection
}

// RecordKey returns the record key of the locator.
func (l Locator) RecordKey() string {
	_, _, rkey := l.parts()
	return rkey
}

func (l Locator) parts() (string, string, string) {
	rest := strings.TrimPrefix(string(l), "at://")
	segs := strings.SplitN(rest, "/", 3)
	for len(segs) < 3 {
		segs = append(segs, "")
	}
	return segs[0], segs[1], segs[2]
}

// Digest is the content address of a claim: sha256 over its canonical bytes.
type Digest string

const digestPrefix = "sha256-"

// DigestOf hashes canonical bytes into a Digest.
func DigestOf(canonical []byte) Digest {
	sum := sha256.Sum256(canonical)
	return Digest(digestPrefix + hex.EncodeToString(sum[:]))
}

// ParseDigest validates the textual form of a digest.
func ParseDigest(raw string) (Digest, error) {
	hexPart, ok := strings.CutPrefix(raw, digestPrefix)
	if !ok || len(hexPart) != sha256.Size*2 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "digest must be sha256-<64 hex chars>")
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "digest is not valid hex")
	}
	return Digest(raw), nil
}

func (d Digest) String() string { return string(d) }

// ControllerDID strips the fragment from a verification method reference
// (did:example:123#key-1 -> did:example:123) and validates the DID.
func ControllerDID(verificationMethod string) (string, error) {
	didPart, _, _ := strings.Cut(verificationMethod, "#")
	did, err := syntax.ParseDID(didPart)
	if err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid verification method %q", verificationMethod))
	}
	return did.String(), nil
}

// DIDMethod returns the method segment of a DID (plc, web, key).
func DIDMethod(did string) string {
	parsed, err := syntax.ParseDID(did)
	if err != nil {
		return ""
	}
	return parsed.Method()
}
