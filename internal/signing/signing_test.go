package signing

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"
)

func decodePayload(t *testing.T, raw string) interface{} {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return v
}

func TestStableStringify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"sorted keys", `{"b":1,"a":2}`, `{"a":2,"b":1}`},
		{"nested sort", `{"z":{"y":1,"x":2},"a":[3,2,1]}`, `{"a":[3,2,1],"z":{"x":2,"y":1}}`},
		{"array order preserved", `[{"b":1,"a":2},null,true]`, `[{"a":2,"b":1},null,true]`},
		{"numbers verbatim", `{"n":1.50,"m":100000000000000000001}`, `{"m":100000000000000000001,"n":1.50}`},
		{"string escaping", `{"s":"a\"b\n"}`, `{"s":"a\"b\n"}`},
		{"empty object", `{}`, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StableStringify(decodePayload(t, tt.in))
			if err != nil {
				t.Fatalf("StableStringify: %v", err)
			}
			if got != tt.want {
				t.Errorf("StableStringify(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestStableStringifyInsertionOrderIndependent(t *testing.T) {
	a := decodePayload(t, `{"sessionId":"S","query":"SELECT 1","limit":10}`)
	b := decodePayload(t, `{"limit":10,"query":"SELECT 1","sessionId":"S"}`)
	sa, _ := StableStringify(a)
	sb, _ := StableStringify(b)
	if sa != sb {
		t.Errorf("canonical forms differ: %s vs %s", sa, sb)
	}
}

func TestSignAndVerify(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	hexKey := hex.EncodeToString(key)

	now := time.Now()
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	payload := decodePayload(t, `{"sessionId":"S","query":"SELECT 1"}`)

	sig, err := Sign(key, ts, payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if err := Verify(hexKey, ts, sig, payload, now); err != nil {
		t.Fatalf("Verify of valid signature failed: %v", err)
	}

	// Tampered payload.
	other := decodePayload(t, `{"sessionId":"S","query":"SELECT 2"}`)
	if err := Verify(hexKey, ts, sig, other, now); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered payload: got %v, want ErrInvalidSignature", err)
	}

	// Tampered timestamp (still within skew window so the HMAC is what fails).
	ts2 := strconv.FormatInt(now.UnixMilli()+1, 10)
	if err := Verify(hexKey, ts2, sig, payload, now); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered timestamp: got %v, want ErrInvalidSignature", err)
	}

	// Flipped signature bit.
	bad := []byte(sig)
	if bad[0] == '0' {
		bad[0] = '1'
	} else {
		bad[0] = '0'
	}
	if err := Verify(hexKey, ts, string(bad), payload, now); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("flipped signature: got %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyStaleTimestamp(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	hexKey := hex.EncodeToString(key)
	payload := decodePayload(t, `{"a":1}`)
	now := time.Now()

	for _, offset := range []time.Duration{-6 * time.Minute, 6 * time.Minute} {
		ts := strconv.FormatInt(now.Add(offset).UnixMilli(), 10)
		sig, _ := Sign(key, ts, payload)
		if err := Verify(hexKey, ts, sig, payload, now); !errors.Is(err, ErrStaleTimestamp) {
			t.Errorf("offset %v: got %v, want ErrStaleTimestamp", offset, err)
		}
	}

	// Just inside the window passes.
	ts := strconv.FormatInt(now.Add(-4*time.Minute).UnixMilli(), 10)
	sig, _ := Sign(key, ts, payload)
	if err := Verify(hexKey, ts, sig, payload, now); err != nil {
		t.Errorf("4 minutes old should verify: %v", err)
	}

	if err := Verify(hexKey, "not-a-number", "00", payload, now); !errors.Is(err, ErrStaleTimestamp) {
		t.Errorf("malformed timestamp: got %v", err)
	}
}

func TestSignStability(t *testing.T) {
	key := bytes.Repeat([]byte{1}, 32)
	ts := "1700000000000"
	for i := 0; i < 20; i++ {
		payload := decodePayload(t, fmt.Sprintf(`{"q":"x","i":%d,"m":{"b":1,"a":2}}`, i))
		s1, _ := Sign(key, ts, payload)
		s2, _ := Sign(key, ts, payload)
		if s1 != s2 {
			t.Fatalf("signature unstable at i=%d", i)
		}
	}
}
