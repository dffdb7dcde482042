// Package canonical produces the deterministic byte form of a claim record.
// The same bytes feed content addressing and proof verification.
package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
)

// ErrMalformed is returned for input that is not a single JSON object.
var ErrMalformed = errors.New("malformed record")

// maxSafeInteger bounds the floats that are printed as integers.
const maxSafeInteger = 1 << 53

// Canonicalize returns the canonical bytes of record with the embedded proof
// removed: object keys sorted by byte order at every depth, no insignificant
// whitespace, no HTML escaping and normalized numbers.
func Canonicalize(record []byte) ([]byte, error) {
	obj, err := decodeObject(record)
	if err != nil {
		return nil, err
	}
	delete(obj, models.ProofField)

	var buf bytes.Buffer
	buf.Grow(len(record))
	if err := writeValue(&buf, obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Digest content-addresses canonical bytes.
func Digest(canonical []byte) models.Digest {
	return models.DigestOf(canonical)
}

// Compute canonicalizes record and digests the result in one step.
func Compute(record []byte) ([]byte, models.Digest, error) {
	c, err := Canonicalize(record)
	if err != nil {
		return nil, "", err
	}
	return c, Digest(c), nil
}

func decodeObject(record []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(record))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after object", ErrMalformed)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: record is not an object", ErrMalformed)
	}
	return obj, nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(t))
	case json.Number:
		n, err := normalizeNumber(t)
		if err != nil {
			return err
		}
		buf.WriteString(n)
	case string:
		return writeString(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeValue(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("%w: unexpected value of type %T", ErrMalformed, v)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

// normalizeNumber prints integers exactly while they fit in int64; every other
// number goes through float64 and prints in its shortest round-trip form, as
// an integer when integral and within the safe range.
func normalizeNumber(n json.Number) (string, error) {
	raw := n.String()
	if !strings.ContainsAny(raw, ".eE") {
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return strconv.FormatInt(i, 10), nil
		}
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", fmt.Errorf("%w: number %q: %w", ErrMalformed, raw, err)
	}
	if f == math.Trunc(f) && math.Abs(f) < maxSafeInteger {
		return strconv.FormatInt(int64(f), 10), nil
	}
	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		return strconv.FormatFloat(f, 'e', -1, 64), nil
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}
