// Package signing implements the per-session request authentication
// protocol: HMAC-SHA256 over a timestamp and the stable canonical JSON
// rendering of the request payload. The browser client and this package
// must produce byte-identical canonical JSON for signatures to match.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MaxClockSkew is the accepted window between the client timestamp and
// server time.
const MaxClockSkew = 5 * time.Minute

var (
	ErrStaleTimestamp   = errors.New("request timestamp outside accepted window")
	ErrInvalidSignature = errors.New("invalid request signature")
)

// StableStringify renders v as deterministic JSON: object keys are sorted
// lexicographically at every nesting level, array order is preserved, and
// primitives use canonical JSON form. json.Number values are written verbatim
// so a payload decoded with UseNumber re-serializes exactly as sent.
func StableStringify(v interface{}) (string, error) {
	var b strings.Builder
	if err := writeStable(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeStable(b *strings.Builder, v interface{}) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case json.Number:
		b.WriteString(val.String())
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			b.Write(kb)
			b.WriteByte(':')
			if err := writeStable(b, val[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	case []interface{}:
		b.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeStable(b, elem); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	default:
		// Strings, bools, and any typed values fall through to the
		// standard encoder, which already emits canonical form.
		enc, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("stable stringify: %w", err)
		}
		b.Write(enc)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of "<timestamp>.<canonical payload>"
// with the raw key bytes.
func Sign(key []byte, timestamp string, payload interface{}) (string, error) {
	canonical, err := StableStringify(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(timestamp + "." + canonical))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a client-supplied timestamp and signature against the
// session's hex-encoded signing key. The comparison is constant time.
func Verify(hexKey, timestamp, signature string, payload interface{}, now time.Time) error {
	ms, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed timestamp", ErrStaleTimestamp)
	}
	delta := now.Sub(time.UnixMilli(ms))
	if delta < 0 {
		delta = -delta
	}
	if delta > MaxClockSkew {
		return ErrStaleTimestamp
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return fmt.Errorf("decode signing key: %w", err)
	}
	expected, err := Sign(key, timestamp, payload)
	if err != nil {
		return err
	}

	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	want, _ := hex.DecodeString(expected)
	if !hmac.Equal(got, want) {
		return ErrInvalidSignature
	}
	return nil
}
