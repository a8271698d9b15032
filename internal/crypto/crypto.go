// Package crypto generates credentials and identifiers and provides the keyed-hash
// and sealing primitives used across payup.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/segmentio/ksuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	apiKeyPrefix        = "pk_"
	webhookSecretPrefix = "whsec_"
	sessionIDPrefix     = "pu_"

	secretBytes = 32
)

// ErrMalformedAPIKey is returned when an API key does not have the pk_<app>.<secret> shape.
var ErrMalformedAPIKey = errors.New("malformed api key")

// RandomToken returns n random bytes encoded as unpadded base64url.
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewSessionID returns an unguessable, time-sortable payup identifier.
func NewSessionID() (string, error) {
	id, err := ksuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return sessionIDPrefix + id.String(), nil
}

// NewAPIKey returns a fresh API key bound to appID. The app ID is embedded so that
// authentication can locate the bcrypt hash without a lookup by key.
func NewAPIKey(appID string) (string, error) {
	token, err := RandomToken(secretBytes)
	if err != nil {
		return "", err
	}
	return apiKeyPrefix + appID + "." + token, nil
}

// ParseAPIKey extracts the app ID from an API key.
func ParseAPIKey(key string) (appID string, err error) {
	appID, _, err = splitAPIKey(key)
	return appID, err
}

func splitAPIKey(key string) (appID, token string, err error) {
	rest, ok := strings.CutPrefix(key, apiKeyPrefix)
	if !ok {
		return "", "", ErrMalformedAPIKey
	}
	appID, token, ok = strings.Cut(rest, ".")
	if !ok || appID == "" || token == "" {
		return "", "", ErrMalformedAPIKey
	}
	return appID, token, nil
}

// HashAPIKey hashes an API key for storage. Only the random part is hashed,
// keeping the input within bcrypt's 72-byte limit.
func HashAPIKey(key string) (string, error) {
	_, token, err := splitAPIKey(key)
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

// CompareAPIKey reports whether key matches the stored hash.
func CompareAPIKey(hash, key string) bool {
	_, token, err := splitAPIKey(key)
	if err != nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// NewWebhookSecret returns a fresh webhook signing secret.
func NewWebhookSecret() (string, error) {
	token, err := RandomToken(secretBytes)
	if err != nil {
		return "", err
	}
	return webhookSecretPrefix + token, nil
}

// HMACSHA256 computes the keyed hash of msg.
func HMACSHA256(secret, msg []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(msg)
	return mac.Sum(nil)
}

// Equal compares two MACs in constant time.
func Equal(a, b []byte) bool {
	return hmac.Equal(a, b)
}
