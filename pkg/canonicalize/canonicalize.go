// Package canonicalize provides deterministic serialization and hashing for
// Latchflow's authorization rules, change-log states, and bundle
// compositions.
//
// Two canonical forms are exposed:
//
// - JCS produces the RFC 8785 JSON Canonicalization Scheme form (sorted
// object keys, fixed number/string formatting, arrays left in source
// order) via the real gowebpki/jcs implementation. This is the form used
// wherever byte-identical JSON across processes matters but array order
// is already meaningful (bundle digests, decision hashes).
// - Canonical produces Latchflow's rule-canonicalization form: like JCS,
// but arrays are additionally sorted *after* their elements have been
// recursively canonicalized, comparing by serialized form.
// Naive pre-serialization comparators
// diverge from this on arrays of objects.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
func JCS(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: pre-marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: jcs transform: %w", err)
	}
	return out, nil
}

// Hash returns the lowercase hex SHA-256 digest of the JCS canonical form of v.
func Hash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the lowercase hex SHA-256 digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Canonical returns Latchflow's rule-canonicalization form of v: object keys
// sorted by UTF-8 byte order, string leaves NFC-normalized, and arrays sorted
// *after* recursively canonicalizing their elements (comparing by serialized
// form). Unlike JCS, element order within v itself is not special-cased here;
// callers that must preserve a top-level sequence (e.g. the rules array
// itself) should canonicalize each element individually
// with Canonical and assemble the array themselves — see RulesHash.
func Canonical(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: pre-marshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize: decode: %w", err)
	}
	return marshalSorted(generic)
}

func marshalSorted(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if t {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case json.Number:
		return []byte(t.String()), nil
	case string:
		return marshalString(norm.NFC.String(t))
	case []interface{}:
		elems := make([][]byte, len(t))
		for i, e := range t {
			b, err := marshalSorted(e)
			if err != nil {
				return nil, err
			}
			elems[i] = b
		}
		sort.Slice(elems, func(i, j int) bool {
			return bytes.Compare(elems[i], elems[j]) < 0
		})
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range elems {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(e)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := marshalString(norm.NFC.String(k))
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := marshalSorted(t[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("canonicalize: unrepresentable type %T", v)
	}
}

func marshalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// sentinelClock lets tests override the fallback hash's time seed.
var sentinelClock = time.Now

// RulesHash computes the rules-hash: each rule is
// canonicalized independently (deep key/array sort), then the resulting
// per-rule canonical forms are joined, in the ORIGINAL rule order, into a
// JSON array and SHA-256 hashed. A rule that fails to canonicalize (circular
// data, unrepresentable type) is logged and skipped; if every rule fails,
// fallback falls back to callerHash when non-empty, else a time-seeded
// sentinel so callers never panic on pathological input.
func RulesHash(rules []interface{}, callerHash string) string {
	parts := make([][]byte, 0, len(rules))
	for i, r := range rules {
		b, err := Canonical(r)
		if err != nil {
			slog.Warn("canonicalize: skipping rule that failed to canonicalize",
				"index", i, "error", err)
			continue
		}
		parts = append(parts, b)
	}

	if len(parts) == 0 && len(rules) > 0 {
		if callerHash != "" {
			return callerHash
		}
		return HashBytes([]byte(fmt.Sprintf("sentinel:%d", sentinelClock().UnixNano())))
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, p := range parts {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(p)
	}
	buf.WriteByte(']')

	return HashBytes(buf.Bytes())
}
