package resolver

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
)

// JWK is the subset of a JSON Web Key carried in DID documents.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y,omitempty"`
}

// DecodeJWK converts an OKP/Ed25519 or EC/P-256 JWK into key material.
func DecodeJWK(jwk JWK) (models.KeyMaterial, error) {
	x, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return models.KeyMaterial{}, fmt.Errorf("decode jwk x: %w", err)
	}

	var km models.KeyMaterial
	switch {
	case jwk.Kty == "OKP" && jwk.Crv == "Ed25519":
		if len(x) != ed25519.PublicKeySize {
			return models.KeyMaterial{}, fmt.Errorf("ed25519 jwk has %d bytes", len(x))
		}
		km = models.KeyMaterial{Kind: models.KeyKindEd25519, PublicKey: ed25519.PublicKey(x)}
	case jwk.Kty == "EC" && jwk.Crv == "P-256":
		y, err := base64.RawURLEncoding.DecodeString(jwk.Y)
		if err != nil {
			return models.KeyMaterial{}, fmt.Errorf("decode jwk y: %w", err)
		}
		curve := elliptic.P256()
		pub := &ecdsa.PublicKey{Curve: curve, X: new(big.Int).SetBytes(x), Y: new(big.Int).SetBytes(y)}
		if !curve.IsOnCurve(pub.X, pub.Y) { //nolint:staticcheck // point validation for untrusted input
			return models.KeyMaterial{}, fmt.Errorf("p-256 jwk point is not on the curve")
		}
		km = models.KeyMaterial{Kind: models.KeyKindP256, PublicKey: pub}
	default:
		return models.KeyMaterial{}, fmt.Errorf("%w: jwk %s/%s", ErrUnsupportedKey, jwk.Kty, jwk.Crv)
	}

	mk, err := EncodeMultikey(km.PublicKey)
	if err != nil {
		return models.KeyMaterial{}, err
	}
	km.Multikey = mk
	return km, nil
}
