package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
)

// Upstream performs raw identity resolution. Implementations return
// ResolveError values so the cache can classify failures.
type Upstream interface {
	Resolve(ctx context.Context, did string) (models.KeySet, error)
}

// UpstreamFunc adapts a function to Upstream.
type UpstreamFunc func(ctx context.Context, did string) (models.KeySet, error)

func (f UpstreamFunc) Resolve(ctx context.Context, did string) (models.KeySet, error) {
	return f(ctx, did)
}

// Chain routes resolution by DID method.
type Chain struct {
	byMethod map[string]Upstream
}

// NewChain creates an empty method router.
func NewChain() *Chain {
	return &Chain{byMethod: make(map[string]Upstream)}
}

// Register binds a DID method (key, plc, web) to an upstream.
func (c *Chain) Register(method string, u Upstream) *Chain {
	c.byMethod[method] = u
	return c
}

// Resolve dispatches to the upstream registered for the DID's method.
func (c *Chain) Resolve(ctx context.Context, did string) (models.KeySet, error) {
	method := models.DIDMethod(did)
	if method == "" {
		return models.KeySet{}, NewResolveError(CategoryBadData, did, "not a did", nil)
	}
	u, ok := c.byMethod[method]
	if !ok {
		return models.KeySet{}, NewResolveError(CategoryUnsupported, did, "no resolver for did method "+method, nil)
	}
	return u.Resolve(ctx, did)
}

// DIDKey resolves did:key identities locally from the identifier itself.
type DIDKey struct{}

func (DIDKey) Resolve(_ context.Context, did string) (models.KeySet, error) {
	mk, ok := strings.CutPrefix(did, "did:key:")
	if !ok || mk == "" {
		return models.KeySet{}, NewResolveError(CategoryBadData, did, "not a did:key", nil)
	}
	km, err := DecodeMultikey(mk)
	if err != nil {
		category := CategoryBadData
		if errors.Is(err, ErrUnsupportedKey) {
			category = CategoryUnsupported
		}
		return models.KeySet{}, NewResolveError(category, did, "decode did:key", err)
	}
	km.ID = did + "#" + mk
	km.Controller = did
	return models.KeySet{DID: did, Keys: []models.KeyMaterial{km}, ResolvedAt: time.Now()}, nil
}

// Document is the part of a DID document the resolver reads.
type Document struct {
	ID                 string               `json:"id"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
}

// VerificationMethod is one key entry of a DID document.
type VerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase,omitempty"`
	PublicKeyJwk       *JWK   `json:"publicKeyJwk,omitempty"`
}

// KeySetFromDocument extracts usable keys from a DID document. Entries with
// unsupported key types are skipped; a document with no usable key is a
// not-found result.
func KeySetFromDocument(did string, doc Document) (models.KeySet, error) {
	if doc.ID != "" && doc.ID != did {
		return models.KeySet{}, NewResolveError(CategoryBadData, did, fmt.Sprintf("document id %q does not match", doc.ID), nil)
	}
	ks := models.KeySet{DID: did, ResolvedAt: time.Now()}
	var skipped []error
	for _, vm := range doc.VerificationMethod {
		var (
			km  models.KeyMaterial
			err error
		)
		switch {
		case vm.PublicKeyMultibase != "":
			km, err = DecodeMultikey(vm.PublicKeyMultibase)
		case vm.PublicKeyJwk != nil:
			km, err = DecodeJWK(*vm.PublicKeyJwk)
		default:
			err = fmt.Errorf("%s: no public key", vm.ID)
		}
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		km.ID = vm.ID
		if strings.HasPrefix(km.ID, "#") {
			km.ID = did + km.ID
		}
		km.Controller = vm.Controller
		if km.Controller == "" {
			km.Controller = did
		}
		ks.Keys = append(ks.Keys, km)
	}
	if len(ks.Keys) == 0 {
		return models.KeySet{}, NewResolveError(CategoryNotFound, did, "no usable verification method", errors.Join(skipped...))
	}
	return ks, nil
}
