package webhook

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var signedAt = time.Unix(1740830400, 0)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestBuildSignableString_Canonical(t *testing.T) {
	t.Parallel()

	a, err := BuildSignableString([]byte(`{"b": "2", "a": {"y": true, "x": "1"}}`), signedAt)
	if err != nil {
		t.Fatalf("BuildSignableString: %v", err)
	}
	b, err := BuildSignableString([]byte(`{"a":{"x":"1","y":true},"b":"2"}`), signedAt)
	if err != nil {
		t.Fatalf("BuildSignableString: %v", err)
	}

	if string(a) != string(b) {
		t.Errorf("expected equal signable strings, got %s and %s", a, b)
	}
	if want := `1740830400.{"a":{"x":"1","y":true},"b":"2"}`; string(a) != want {
		t.Errorf("expected %s, got %s", want, a)
	}
}

func TestSignVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":"evt_1","amount":"25.00"}`)

	header, err := Sign(payload, "whsec_a", signedAt)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !strings.HasPrefix(header, "t=1740830400,v1=") {
		t.Errorf("unexpected header %q", header)
	}

	v := Verifier{Tolerance: 5 * time.Minute, Clock: fixedClock(signedAt.Add(30 * time.Second))}
	if err := v.VerifyAt(payload, header, "whsec_a"); err != nil {
		t.Errorf("expected valid signature, got: %v", err)
	}

	// Whitespace and key order do not matter.
	if err := v.VerifyAt([]byte(`{ "amount": "25.00", "id": "evt_1" }`), header, "whsec_a"); err != nil {
		t.Errorf("expected canonically equal payload to verify, got: %v", err)
	}
}

func TestVerify_Rejections(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":"evt_1"}`)
	header, _ := Sign(payload, "whsec_a", signedAt)

	testCases := []struct {
		name    string
		payload []byte
		header  string
		secret  string
		now     time.Time
		want    error
	}{
		{"wrong secret", payload, header, "whsec_b", signedAt, ErrSignatureMismatch},
		{"tampered payload", []byte(`{"id":"evt_2"}`), header, "whsec_a", signedAt, ErrSignatureMismatch},
		{"replayed late", payload, header, "whsec_a", signedAt.Add(6 * time.Minute), ErrSignatureExpired},
		{"from the future", payload, header, "whsec_a", signedAt.Add(-6 * time.Minute), ErrSignatureExpired},
		{"one second past tolerance", payload, header, "whsec_a", signedAt.Add(5*time.Minute + time.Second), ErrSignatureExpired},
		{"one second before tolerance", payload, header, "whsec_a", signedAt.Add(-5*time.Minute - time.Second), ErrSignatureExpired},
		{"empty header", payload, "", "whsec_a", signedAt, ErrSignatureMalformed},
		{"missing signature", payload, "t=1740830400", "whsec_a", signedAt, ErrSignatureMalformed},
		{"bad timestamp", payload, "t=abc,v1=00", "whsec_a", signedAt, ErrSignatureMalformed},
		{"empty secret", payload, header, "", signedAt, ErrSignatureMismatch},
		{"non-json payload", []byte("not json"), header, "whsec_a", signedAt, ErrSignatureMalformed},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			v := Verifier{Tolerance: 5 * time.Minute, Clock: fixedClock(tc.now)}
			err := v.VerifyAt(tc.payload, tc.header, tc.secret)
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
			if !errors.Is(err, ErrSignature) {
				t.Error("expected every rejection to wrap ErrSignature")
			}
		})
	}
}

func TestVerify_AcceptsAtToleranceBoundary(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":"evt_1"}`)
	header, _ := Sign(payload, "whsec_a", signedAt)

	for _, now := range []time.Time{signedAt.Add(5 * time.Minute), signedAt.Add(-5 * time.Minute)} {
		v := Verifier{Tolerance: 5 * time.Minute, Clock: fixedClock(now)}
		if err := v.VerifyAt(payload, header, "whsec_a"); err != nil {
			t.Errorf("expected skew of exactly the tolerance to pass at %s, got %v", now, err)
		}
	}
}

func TestVerify_AcceptsAnyMatchingSignature(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id":"evt_1"}`)
	signable, _ := BuildSignableString(payload, signedAt)
	header := "t=1740830400,v1=" + ComputeSignature("whsec_old", signable) + ",v1=" + ComputeSignature("whsec_new", signable)

	v := Verifier{Tolerance: time.Minute, Clock: fixedClock(signedAt)}
	if err := v.VerifyAt(payload, header, "whsec_new"); err != nil {
		t.Errorf("expected match on second signature, got: %v", err)
	}
}

func TestSign_EmptySecretFails(t *testing.T) {
	t.Parallel()

	if _, err := Sign([]byte(`{}`), "", signedAt); err == nil {
		t.Error("expected error for empty secret")
	}
}
