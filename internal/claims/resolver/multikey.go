package resolver

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"errors"
	"fmt"

	atcrypto "github.com/bluesky-social/indigo/atproto/crypto"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/pkg/multibase"
)

// Multicodec varint prefixes for public keys.
var (
	codecEd25519 = []byte{0xed, 0x01}
	codecP256    = []byte{0x80, 0x24}
	codecK256    = []byte{0xe7, 0x01}
)

// ErrUnsupportedKey is returned for key types the verifier cannot use.
var ErrUnsupportedKey = errors.New("unsupported key type")

// DecodeMultikey parses a multibase multicodec public key into key material.
// ID and Controller are left for the caller.
func DecodeMultikey(mk string) (models.KeyMaterial, error) {
	raw, err := multibase.Decode(mk)
	if err != nil {
		return models.KeyMaterial{}, fmt.Errorf("decode multikey: %w", err)
	}
	if len(raw) < 2 {
		return models.KeyMaterial{}, fmt.Errorf("decode multikey: too short")
	}
	prefix, body := raw[:2], raw[2:]
	switch {
	case prefix[0] == codecEd25519[0] && prefix[1] == codecEd25519[1]:
		if len(body) != ed25519.PublicKeySize {
			return models.KeyMaterial{}, fmt.Errorf("ed25519 key has %d bytes", len(body))
		}
		return models.KeyMaterial{
			Kind:      models.KeyKindEd25519,
			PublicKey: ed25519.PublicKey(append([]byte(nil), body...)),
			Multikey:  mk,
		}, nil
	case prefix[0] == codecP256[0] && prefix[1] == codecP256[1]:
		pub, err := parseP256(body)
		if err != nil {
			return models.KeyMaterial{}, err
		}
		return models.KeyMaterial{Kind: models.KeyKindP256, PublicKey: pub, Multikey: mk}, nil
	case prefix[0] == codecK256[0] && prefix[1] == codecK256[1]:
		pub, err := atcrypto.ParsePublicMultibase(mk)
		if err != nil {
			return models.KeyMaterial{}, fmt.Errorf("parse secp256k1 key: %w", err)
		}
		return models.KeyMaterial{Kind: models.KeyKindK256, PublicKey: pub, Multikey: mk}, nil
	default:
		return models.KeyMaterial{}, fmt.Errorf("%w: multicodec 0x%x%x", ErrUnsupportedKey, prefix[0], prefix[1])
	}
}

// EncodeMultikey renders a public key as a base58btc multikey.
func EncodeMultikey(pub any) (string, error) {
	switch k := pub.(type) {
	case ed25519.PublicKey:
		return multibase.EncodeBase58BTC(append(append([]byte(nil), codecEd25519...), k...)), nil
	case *ecdsa.PublicKey:
		if k.Curve != elliptic.P256() {
			return "", fmt.Errorf("%w: curve %s", ErrUnsupportedKey, k.Curve.Params().Name)
		}
		compressed := elliptic.MarshalCompressed(k.Curve, k.X, k.Y)
		return multibase.EncodeBase58BTC(append(append([]byte(nil), codecP256...), compressed...)), nil
	case atcrypto.PublicKey:
		return k.Multibase(), nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
}

func parseP256(body []byte) (*ecdsa.PublicKey, error) {
	curve := elliptic.P256()
	switch len(body) {
	case 33:
		x, y := elliptic.UnmarshalCompressed(curve, body)
		if x == nil {
			return nil, fmt.Errorf("invalid compressed p-256 point")
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
	case 65:
		x, y := elliptic.Unmarshal(curve, body) //nolint:staticcheck // uncompressed points are still published
		if x == nil {
			return nil, fmt.Errorf("invalid uncompressed p-256 point")
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
	default:
		return nil, fmt.Errorf("p-256 key has %d bytes", len(body))
	}
}
