package proof

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	atcrypto "github.com/bluesky-social/indigo/atproto/crypto"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/pkg/multibase"
)

// Proof type tags with built-in schemes.
const (
	TypeEd25519Signature2020        = "Ed25519Signature2020"
	TypeEcdsaSecp256r1Signature2019 = "EcdsaSecp256r1Signature2019"
	TypeEcdsaSecp256k1Signature2019 = "EcdsaSecp256k1Signature2019"
	TypeJSONWebSignature2020        = "JsonWebSignature2020"
)

var (
	// ErrMalformedProof means the proof could not be decoded.
	ErrMalformedProof = errors.New("malformed proof")
	// ErrSignatureMismatch means the signature does not verify.
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// Scheme verifies one proof type against resolved key material.
type Scheme interface {
	// KeyKinds lists the key kinds the scheme accepts, in preference order.
	KeyKinds() []models.KeyKind
	Verify(canonical []byte, p *models.Proof, key models.KeyMaterial) error
}

// ProofKeyKinds is implemented by schemes whose key kind is named by the
// proof itself. The registry uses it instead of KeyKinds when selecting a
// key. Errors wrap ErrMalformedProof.
type ProofKeyKinds interface {
	KeyKindsFor(p *models.Proof) ([]models.KeyKind, error)
}

// Ed25519Signature2020 verifies a multibase proofValue over the canonical
// bytes with an Ed25519 key.
type Ed25519Signature2020 struct{}

func (Ed25519Signature2020) KeyKinds() []models.KeyKind {
	return []models.KeyKind{models.KeyKindEd25519}
}

func (Ed25519Signature2020) Verify(canonical []byte, p *models.Proof, key models.KeyMaterial) error {
	pub, ok := key.PublicKey.(ed25519.PublicKey)
	if !ok {
		return fmt.Errorf("%w: key %s is not ed25519", ErrMalformedProof, key.ID)
	}
	sig, err := decodeProofValue(p)
	if err != nil {
		return err
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: ed25519 signature has %d bytes", ErrMalformedProof, len(sig))
	}
	if !ed25519.Verify(pub, canonical, sig) {
		return ErrSignatureMismatch
	}
	return nil
}

// EcdsaSecp256r1Signature2019 verifies a P-256 signature over SHA-256 of the
// canonical bytes. Both raw r||s and ASN.1 DER encodings are accepted.
type EcdsaSecp256r1Signature2019 struct{}

func (EcdsaSecp256r1Signature2019) KeyKinds() []models.KeyKind {
	return []models.KeyKind{models.KeyKindP256}
}

func (EcdsaSecp256r1Signature2019) Verify(canonical []byte, p *models.Proof, key models.KeyMaterial) error {
	pub, ok := key.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: key %s is not p-256", ErrMalformedProof, key.ID)
	}
	sig, err := decodeProofValue(p)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(canonical)
	if verifyECDSA(pub, digest[:], sig) {
		return nil
	}
	return ErrSignatureMismatch
}

// EcdsaSecp256k1Signature2019 verifies a compact secp256k1 signature, the key
// type most atproto identities publish.
type EcdsaSecp256k1Signature2019 struct{}

func (EcdsaSecp256k1Signature2019) KeyKinds() []models.KeyKind {
	return []models.KeyKind{models.KeyKindK256}
}

func (EcdsaSecp256k1Signature2019) Verify(canonical []byte, p *models.Proof, key models.KeyMaterial) error {
	pub, ok := key.PublicKey.(atcrypto.PublicKey)
	if !ok {
		return fmt.Errorf("%w: key %s is not secp256k1", ErrMalformedProof, key.ID)
	}
	sig, err := decodeProofValue(p)
	if err != nil {
		return err
	}
	if err := pub.HashAndVerifyLenient(canonical, sig); err != nil {
		return fmt.Errorf("%w: %w", ErrSignatureMismatch, err)
	}
	return nil
}

// JSONWebSignature2020 verifies a detached JWS (<header>..<signature>). The
// payload is the base64url canonical bytes, or the raw bytes when the header
// sets "b64": false. The header alg picks the key kind: EdDSA for Ed25519,
// ES256 for P-256 and ES256K for secp256k1.
type JSONWebSignature2020 struct{}

func (JSONWebSignature2020) KeyKinds() []models.KeyKind {
	return []models.KeyKind{models.KeyKindEd25519, models.KeyKindP256, models.KeyKindK256}
}

func (JSONWebSignature2020) KeyKindsFor(p *models.Proof) ([]models.KeyKind, error) {
	jws, err := parseDetachedJWS(p.JWS)
	if err != nil {
		return nil, err
	}
	kind, ok := keyKindForAlg(jws.header.Alg)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported jws alg %q", ErrMalformedProof, jws.header.Alg)
	}
	return []models.KeyKind{kind}, nil
}

type jwsHeader struct {
	Alg  string   `json:"alg"`
	B64  *bool    `json:"b64,omitempty"`
	Crit []string `json:"crit,omitempty"`
}

type detachedJWS struct {
	rawHeader string
	header    jwsHeader
	sig       []byte
}

func parseDetachedJWS(s string) (detachedJWS, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 || parts[1] != "" {
		return detachedJWS{}, fmt.Errorf("%w: jws must be detached", ErrMalformedProof)
	}
	rawHeader, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return detachedJWS{}, fmt.Errorf("%w: jws header: %w", ErrMalformedProof, err)
	}
	out := detachedJWS{rawHeader: parts[0]}
	if err := json.Unmarshal(rawHeader, &out.header); err != nil {
		return detachedJWS{}, fmt.Errorf("%w: jws header: %w", ErrMalformedProof, err)
	}
	out.sig, err = base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return detachedJWS{}, fmt.Errorf("%w: jws signature: %w", ErrMalformedProof, err)
	}
	return out, nil
}

func (JSONWebSignature2020) Verify(canonical []byte, p *models.Proof, key models.KeyMaterial) error {
	jws, err := parseDetachedJWS(p.JWS)
	if err != nil {
		return err
	}
	alg := jws.header.Alg
	if kind, ok := keyKindForAlg(alg); !ok || kind != key.Kind {
		return fmt.Errorf("%w: alg %q does not fit key %s", ErrMalformedProof, alg, key.Kind)
	}

	payload := base64.RawURLEncoding.EncodeToString(canonical)
	if jws.header.B64 != nil && !*jws.header.B64 {
		payload = string(canonical)
	}
	signingInput := jws.rawHeader + "." + payload

	if alg == "ES256K" {
		pub, ok := key.PublicKey.(atcrypto.PublicKey)
		if !ok {
			return fmt.Errorf("%w: alg ES256K needs a secp256k1 key", ErrMalformedProof)
		}
		if err := pub.HashAndVerifyLenient([]byte(signingInput), jws.sig); err != nil {
			return fmt.Errorf("%w: %w", ErrSignatureMismatch, err)
		}
		return nil
	}

	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return fmt.Errorf("%w: unsupported jws alg %q", ErrMalformedProof, alg)
	}
	if err := method.Verify(signingInput, jws.sig, key.PublicKey); err != nil {
		if errors.Is(err, jwt.ErrInvalidKeyType) || errors.Is(err, jwt.ErrInvalidKey) {
			return fmt.Errorf("%w: %w", ErrMalformedProof, err)
		}
		return fmt.Errorf("%w: %w", ErrSignatureMismatch, err)
	}
	return nil
}

func keyKindForAlg(alg string) (models.KeyKind, bool) {
	switch alg {
	case "EdDSA":
		return models.KeyKindEd25519, true
	case "ES256":
		return models.KeyKindP256, true
	case "ES256K":
		return models.KeyKindK256, true
	default:
		return "", false
	}
}

func decodeProofValue(p *models.Proof) ([]byte, error) {
	if p.ProofValue == "" {
		return nil, fmt.Errorf("%w: proofValue is empty", ErrMalformedProof)
	}
	sig, err := multibase.Decode(p.ProofValue)
	if err != nil {
		return nil, fmt.Errorf("%w: proofValue: %w", ErrMalformedProof, err)
	}
	return sig, nil
}

func verifyECDSA(pub *ecdsa.PublicKey, digest, sig []byte) bool {
	if len(sig) == 64 {
		r := new(big.Int).SetBytes(sig[:32])
		s := new(big.Int).SetBytes(sig[32:])
		return ecdsa.Verify(pub, digest, r, s)
	}
	return ecdsa.VerifyASN1(pub, digest, sig)
}
