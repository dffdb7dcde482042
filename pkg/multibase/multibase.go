// Package multibase decodes and encodes the multibase strings carried in
// proof values and public-key multikeys.
package multibase

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	Base58BTC    = 'z'
	Base64URL    = 'u'
	Base64       = 'm'
	Base64URLPad = 'U'
)

var ErrUnsupportedEncoding = errors.New("unsupported multibase encoding")

// Decode decodes a multibase string. Supported prefixes: z (base58btc),
// u (base64url, no padding), U (base64url, padded), m (base64, no padding).
func Decode(s string) ([]byte, error) {
	if len(s) < 2 {
		return nil, fmt.Errorf("multibase value too short")
	}
	body := s[1:]
	switch s[0] {
	case Base58BTC:
		out, err := base58.Decode(body)
		if err != nil {
			return nil, fmt.Errorf("decode base58btc: %w", err)
		}
		return out, nil
	case Base64URL:
		return decode64(base64.RawURLEncoding, body)
	case Base64URLPad:
		return decode64(base64.URLEncoding, body)
	case Base64:
		return decode64(base64.RawStdEncoding, body)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, s[0])
	}
}

// EncodeBase58BTC encodes b with the z prefix.
func EncodeBase58BTC(b []byte) string {
	return string(Base58BTC) + base58.Encode(b)
}

// EncodeBase64URL encodes b with the u prefix.
func EncodeBase64URL(b []byte) string {
	return string(Base64URL) + base64.RawURLEncoding.EncodeToString(b)
}

func decode64(enc *base64.Encoding, body string) ([]byte, error) {
	out, err := enc.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return out, nil
}
