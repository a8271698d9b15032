// Package webhook signs, renders and delivers merchant webhooks.
package webhook

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	canonicaljson "github.com/gibson042/canonicaljson-go"

	"payup/internal/crypto"
)

const (
	// SignatureHeader carries "t=<unix seconds>,v1=<hex hmac>".
	SignatureHeader = "Payup-Signature"
	// EventIDHeader carries the stable message id merchants dedup on.
	EventIDHeader   = "Payup-Event-Id"
	// EventTypeHeader names the event, e.g. payment.succeeded.
	EventTypeHeader = "Payup-Event-Type"

	signatureScheme = "v1"
)

var (
	// ErrSignature is the parent of every verification failure.
	ErrSignature = errors.New("invalid webhook signature")

	// ErrSignatureMalformed means the header could not be parsed or carried no v1 entry.
	ErrSignatureMalformed = fmt.Errorf("%w: malformed header", ErrSignature)
	// ErrSignatureExpired means the signed timestamp is further than the tolerance from now.
	ErrSignatureExpired   = fmt.Errorf("%w: timestamp outside tolerance", ErrSignature)
	// ErrSignatureMismatch means no v1 entry matched the payload under the secret.
	ErrSignatureMismatch  = fmt.Errorf("%w: signature mismatch", ErrSignature)
)

// CanonicalizeJSON re-encodes a JSON document in canonical form so that
// semantically equal payloads sign identically.
func CanonicalizeJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("multiple JSON documents in payload")
	}

	return canonicaljson.Marshal(payload)
}

// BuildSignableString returns "<unix ts>.<canonical payload>".
func BuildSignableString(payload []byte, ts time.Time) ([]byte, error) {
	canonical, err := CanonicalizeJSON(payload)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(strconv.FormatInt(ts.Unix(), 10))
	buf.WriteByte('.')
	buf.Write(canonical)
	return buf.Bytes(), nil
}

// ComputeSignature returns the hex HMAC-SHA256 of signable.
func ComputeSignature(secret string, signable []byte) string {
	return hex.EncodeToString(crypto.HMACSHA256([]byte(secret), signable))
}

// Sign returns the Payup-Signature header value for payload at ts.
func Sign(payload []byte, secret string, ts time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("empty webhook secret")
	}

	signable, err := BuildSignableString(payload, ts)
	if err != nil {
		return "", err
	}

	return FormatHeader(ts, ComputeSignature(secret, signable)), nil
}

// FormatHeader encodes a timestamp and signature as a header value.
func FormatHeader(ts time.Time, signature string) string {
	return "t=" + strconv.FormatInt(ts.Unix(), 10) + "," + signatureScheme + "=" + signature
}

// ParseHeader decodes a header value. Several v1 entries are allowed so that
// a sender may sign with more than one secret; unknown schemes are ignored.
func ParseHeader(header string) (time.Time, []string, error) {
	var ts time.Time
	var haveTS bool
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return time.Time{}, nil, ErrSignatureMalformed
		}

		switch key {
		case "t":
			unix, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return time.Time{}, nil, ErrSignatureMalformed
			}
			ts = time.Unix(unix, 0)
			haveTS = true
		case signatureScheme:
			if value != "" {
				signatures = append(signatures, value)
			}
		}
	}

	if !haveTS || len(signatures) == 0 {
		return time.Time{}, nil, ErrSignatureMalformed
	}

	return ts, signatures, nil
}

// Verifier checks signed webhook payloads. Any failure rejects the payload.
type Verifier struct {
	Tolerance time.Duration
	Clock     func() time.Time // Defaults to time.Now.
}

// VerifyAt returns nil when header carries a valid signature of payload under
// secret, or the ErrSignature variant describing why it does not.
func (v Verifier) VerifyAt(payload []byte, header, secret string) error {
	if secret == "" {
		return ErrSignatureMismatch
	}

	ts, signatures, err := ParseHeader(header)
	if err != nil {
		return err
	}

	now := time.Now()
	if v.Clock != nil {
		now = v.Clock()
	}
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.Tolerance {
		return ErrSignatureExpired
	}

	signable, err := BuildSignableString(payload, ts)
	if err != nil {
		return ErrSignatureMalformed
	}
	expected := crypto.HMACSHA256([]byte(secret), signable)

	for _, sig := range signatures {
		decoded, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if crypto.Equal(decoded, expected) {
			return nil
		}
	}

	return ErrSignatureMismatch
}

// Verify reports whether header carries a valid signature of payload made
// with secret within tolerance of the current time.
func Verify(payload []byte, header, secret string, tolerance time.Duration) bool {
	return Verifier{Tolerance: tolerance}.VerifyAt(payload, header, secret) == nil
}
