package multibase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	payload := []byte{0xed, 0x01, 0x00, 0xff, 0x10, 0x20}

	for name, enc := range map[string]string{
		"base58btc": EncodeBase58BTC(payload),
		"base64url": EncodeBase64URL(payload),
	} {
		t.Run(name, func(t *testing.T) {
			out, err := Decode(enc)
			require.NoError(t, err)
			assert.Equal(t, payload, out)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"prefix only", "z"},
		{"unknown prefix", "f00ff"},
		{"bad base58", "z0OIl"},
		{"bad base64", "u***"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestDecode_UnsupportedIsTyped(t *testing.T) {
	_, err := Decode("f00")
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)
}
