package testutil

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	atcrypto "github.com/bluesky-social/indigo/atproto/crypto"
	"github.com/google/uuid"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/canonical"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/resolver"
	"github.com/Cooperation-org/claim-lexicon/pkg/multibase"
)

// TestDIDs provides stable repository owners for tests.
var TestDIDs = struct {
	Alice string
	Bob   string
	Carol string
}{
	Alice: "did:plc:alice0000000000000000000",
	Bob:   "did:plc:bob00000000000000000000000",
	Carol: "did:plc:carol000000000000000000",
}

// RecordBuilder provides a fluent interface for building claim records.
type RecordBuilder struct {
	fields map[string]any
}

// NewRecord creates a RecordBuilder with sensible defaults.
func NewRecord() *RecordBuilder {
	return &RecordBuilder{fields: map[string]any{
		"$type":     models.DefaultCollection,
		"subject":   "https://ngo.example/project",
		"claimType": "impact",
		"createdAt": "2024-05-01T12:00:00Z",
	}}
}

func (b *RecordBuilder) WithSubject(subject string) *RecordBuilder {
	b.fields["subject"] = subject
	return b
}

func (b *RecordBuilder) WithType(claimType string) *RecordBuilder {
	b.fields["claimType"] = claimType
	return b
}

func (b *RecordBuilder) WithStatement(statement string) *RecordBuilder {
	b.fields["statement"] = statement
	return b
}

func (b *RecordBuilder) WithConfidence(c float64) *RecordBuilder {
	b.fields["confidence"] = c
	return b
}

func (b *RecordBuilder) WithStars(n int) *RecordBuilder {
	b.fields["stars"] = n
	return b
}

func (b *RecordBuilder) WithSource(uri, howKnown string) *RecordBuilder {
	b.fields["source"] = map[string]any{"uri": uri, "howKnown": howKnown}
	return b
}

func (b *RecordBuilder) WithField(key string, v any) *RecordBuilder {
	b.fields[key] = v
	return b
}

// WithProof attaches an embedded proof as-is.
func (b *RecordBuilder) WithProof(p models.Proof) *RecordBuilder {
	b.fields[models.ProofField] = p
	return b
}

// Map returns a copy of the record fields.
func (b *RecordBuilder) Map() map[string]any {
	out := make(map[string]any, len(b.fields))
	for k, v := range b.fields {
		out[k] = v
	}
	return out
}

// JSON renders the record.
func (b *RecordBuilder) JSON() json.RawMessage {
	raw, err := json.Marshal(b.fields)
	if err != nil {
		panic(fmt.Sprintf("marshal record: %v", err))
	}
	return raw
}

// SignEd25519 signs the record with an Ed25519Signature2020 proof.
func (b *RecordBuilder) SignEd25519(k *Ed25519Key) *RecordBuilder {
	sig := ed25519.Sign(k.Private, b.canonical())
	return b.WithProof(models.Proof{
		Type:               "Ed25519Signature2020",
		VerificationMethod: k.VerificationMethod(),
		ProofPurpose:       "assertionMethod",
		Created:            "2024-05-01T12:00:00Z",
		ProofValue:         multibase.EncodeBase58BTC(sig),
	})
}

// SignP256 signs the record with an EcdsaSecp256r1Signature2019 proof using
// a raw r||s signature.
func (b *RecordBuilder) SignP256(k *P256Key) *RecordBuilder {
	digest := sha256.Sum256(b.canonical())
	r, s, err := ecdsa.Sign(rand.Reader, k.Private, digest[:])
	if err != nil {
		panic(fmt.Sprintf("sign p-256: %v", err))
	}
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return b.WithProof(models.Proof{
		Type:               "EcdsaSecp256r1Signature2019",
		VerificationMethod: k.VerificationMethod(),
		ProofPurpose:       "assertionMethod",
		ProofValue:         multibase.EncodeBase58BTC(sig),
	})
}

// SignK256 signs the record with an EcdsaSecp256k1Signature2019 proof using
// a compact low-S signature.
func (b *RecordBuilder) SignK256(k *K256Key) *RecordBuilder {
	sig, err := k.Private.HashAndSign(b.canonical())
	if err != nil {
		panic(fmt.Sprintf("sign secp256k1: %v", err))
	}
	return b.WithProof(models.Proof{
		Type:               "EcdsaSecp256k1Signature2019",
		VerificationMethod: k.VerificationMethod(),
		ProofPurpose:       "assertionMethod",
		ProofValue:         multibase.EncodeBase58BTC(sig),
	})
}

func (b *RecordBuilder) canonical() []byte {
	fields := b.Map()
	delete(fields, models.ProofField)
	raw, err := json.Marshal(fields)
	if err != nil {
		panic(fmt.Sprintf("marshal record: %v", err))
	}
	c, err := canonical.Canonicalize(raw)
	if err != nil {
		panic(fmt.Sprintf("canonicalize record: %v", err))
	}
	return c
}

// Ed25519Key is a did:key identity for signing test records.
type Ed25519Key struct {
	DID     string
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// NewEd25519Key generates a fresh did:key identity.
func NewEd25519Key() *Ed25519Key {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	mk, err := resolver.EncodeMultikey(pub)
	if err != nil {
		panic(err)
	}
	return &Ed25519Key{DID: "did:key:" + mk, Private: priv, Public: pub}
}

func (k *Ed25519Key) VerificationMethod() string {
	return k.DID + "#" + k.DID[len("did:key:"):]
}

// P256Key is a did:key identity backed by a P-256 key.
type P256Key struct {
	DID     string
	Private *ecdsa.PrivateKey
}

// NewP256Key generates a fresh P-256 did:key identity.
func NewP256Key() *P256Key {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(err)
	}
	mk, err := resolver.EncodeMultikey(&priv.PublicKey)
	if err != nil {
		panic(err)
	}
	return &P256Key{DID: "did:key:" + mk, Private: priv}
}

func (k *P256Key) VerificationMethod() string {
	return k.DID + "#" + k.DID[len("did:key:"):]
}

// K256Key is a did:key identity backed by a secp256k1 key, the key type
// atproto repositories sign with.
type K256Key struct {
	DID     string
	Private *atcrypto.PrivateKeyK256
	Public  atcrypto.PublicKey
}

// NewK256Key generates a fresh secp256k1 did:key identity.
func NewK256Key() *K256Key {
	priv, err := atcrypto.GeneratePrivateKeyK256()
	if err != nil {
		panic(err)
	}
	pub, err := priv.PublicKey()
	if err != nil {
		panic(err)
	}
	mk, err := resolver.EncodeMultikey(pub)
	if err != nil {
		panic(err)
	}
	return &K256Key{DID: "did:key:" + mk, Private: priv, Public: pub}
}

func (k *K256Key) VerificationMethod() string {
	return k.DID + "#" + k.DID[len("did:key:"):]
}

// CreateEvent builds a create event for owner/rkey carrying record.
func CreateEvent(owner, rkey string, record json.RawMessage) models.Event {
	return models.Event{
		Action:     models.ActionCreate,
		Owner:      owner,
		Collection: models.DefaultCollection,
		RecordKey:  rkey,
		CommitCID:  "bafy" + uuid.NewString()[:8],
		Record:     record,
	}
}

// DeleteEvent builds a delete event for owner/rkey.
func DeleteEvent(owner, rkey string) models.Event {
	return models.Event{
		Action:     models.ActionDelete,
		Owner:      owner,
		Collection: models.DefaultCollection,
		RecordKey:  rkey,
	}
}

// LocatorOf returns the locator for owner/rkey in the default collection.
func LocatorOf(owner, rkey string) models.Locator {
	loc, err := models.NewLocator(owner, models.DefaultCollection, rkey)
	if err != nil {
		panic(err)
	}
	return loc
}

// CountingResolver is an in-memory upstream that counts calls and can be
// told to fail or block.
type CountingResolver struct {
	mu      sync.Mutex
	sets    map[string]models.KeySet
	errs    map[string]error
	calls   atomic.Int64
	Delay   time.Duration
	Release chan struct{}
}

// NewCountingResolver creates an upstream that resolves did:key locally and
// any registered key sets from memory.
func NewCountingResolver() *CountingResolver {
	return &CountingResolver{sets: make(map[string]models.KeySet), errs: make(map[string]error)}
}

func (r *CountingResolver) Put(ks models.KeySet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets[ks.DID] = ks
}

func (r *CountingResolver) Fail(did string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[did] = err
}

func (r *CountingResolver) Calls() int64 {
	return r.calls.Load()
}

// Resolve answers from the state registered at call time, then waits on
// Release and Delay before returning it.
func (r *CountingResolver) Resolve(ctx context.Context, did string) (models.KeySet, error) {
	r.calls.Add(1)
	r.mu.Lock()
	err, failing := r.errs[did]
	ks, ok := r.sets[did]
	r.mu.Unlock()

	if r.Release != nil {
		select {
		case <-r.Release:
		case <-ctx.Done():
			return models.KeySet{}, ctx.Err()
		}
	}
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return models.KeySet{}, ctx.Err()
		}
	}

	if failing {
		return models.KeySet{}, err
	}
	if ok {
		return ks, nil
	}
	if models.DIDMethod(did) == "key" {
		return resolver.DIDKey{}.Resolve(ctx, did)
	}
	return models.KeySet{}, resolver.NewResolveError(resolver.CategoryNotFound, did, "unknown identity", nil)
}
