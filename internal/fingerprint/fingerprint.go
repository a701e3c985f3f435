// Package fingerprint computes stable content fingerprints for JSON-like
// payloads.
//
// The fingerprint is the SHA-256 digest of a canonical JSON serialization of
// the value. It is the idempotency primitive for the ingestion pipeline: every
// staged raw row carries one so a re-fetch returning byte-identical content can
// be detected later.
//
// Canonicalization rules:
//   - Object keys are emitted in lexical order.
//   - No insignificant whitespace.
//   - Numbers keep their original JSON literal when the input is raw JSON
//     (decoded with json.Number), so 1.0 and 1.00 differ, but two decodes of
//     the same payload never differ.
//   - Strings are escaped by encoding/json, which is deterministic.
//
// Fingerprint is a pure function: same input, same output, no side effects.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint returns the lowercase hex SHA-256 of v's canonical JSON form.
//
// v may be any JSON-serializable Go value. Typed structs are first round-
// tripped through encoding/json so the canonical form depends only on the
// serialized content, not on Go-side field ordering or types.
func Fingerprint(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("fingerprint: marshal: %w", err)
	}
	return FingerprintJSON(raw)
}

// FingerprintJSON returns the fingerprint of a raw JSON document.
//
// Use this for payloads that arrive as bytes (HTTP bodies): it avoids a lossy
// decode/encode cycle for numbers by decoding with json.Number.
func FingerprintJSON(raw []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("fingerprint: decode: %w", err)
	}

	var b strings.Builder
	b.Grow(len(raw))
	if err := writeCanonical(&b, v); err != nil {
		return "", err
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

// writeCanonical appends the canonical JSON form of v.
//
// Only the types produced by encoding/json with UseNumber can appear here:
// nil, bool, string, json.Number, []any and map[string]any.
func writeCanonical(b *strings.Builder, v any) error {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")

	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}

	case string:
		enc, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("fingerprint: encode string: %w", err)
		}
		b.Write(enc)

	case json.Number:
		b.WriteString(t.String())

	case []any:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, e); err != nil {
				return err
			}
		}
		b.WriteByte(']')

	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			enc, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("fingerprint: encode key: %w", err)
			}
			b.Write(enc)
			b.WriteByte(':')
			if err := writeCanonical(b, t[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')

	default:
		return fmt.Errorf("fingerprint: unsupported type %T", v)
	}
	return nil
}
