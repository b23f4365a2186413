// Package auth implements API key issuance and verification. Keys carry
// the ak_live_ prefix; only a SHA-256 hash and a short lookup prefix are
// stored, never the secret itself.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/actionbridge/actionbridge/internal/domain/catalog"
)

// KeyPrefix starts every issued API key.
const KeyPrefix = "ak_live_"

// LookupPrefixLen is how many leading characters of the secret are stored
// in clear for indexed lookup.
const LookupPrefixLen = 10

// minKeyLen is the shortest acceptable raw key.
const minKeyLen = 40

// ErrInvalidKey is returned for any authentication failure: malformed,
// unknown, or disabled keys all look the same to the caller.
var ErrInvalidKey = errors.New("auth: invalid api key")

// HashKey returns the lowercase SHA-256 hex digest of a raw key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateKey mints a new raw API key: ak_live_ followed by 32 random
// bytes hex-encoded, 72 characters total.
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generate key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(b), nil
}

// Mint creates a raw key and the stored fields derived from it. The raw
// key is shown once and never persisted.
func Mint() (raw, lookupPrefix, hash string, err error) {
	raw, err = GenerateKey()
	if err != nil {
		return "", "", "", err
	}
	return raw, raw[:LookupPrefixLen], HashKey(raw), nil
}

// WellFormed reports whether a presented key has the issued shape. It is
// a cheap pre-check before any store lookup.
func WellFormed(raw string) bool {
	return strings.HasPrefix(raw, KeyPrefix) && len(raw) >= minKeyLen
}

// Verifier authenticates raw API keys against the catalog.
type Verifier struct {
	store catalog.Store
}

// NewVerifier creates a Verifier backed by the given store.
func NewVerifier(store catalog.Store) *Verifier {
	return &Verifier{store: store}
}

// Verify authenticates a raw key. Lookup is by stored prefix; the full
// secret is then checked hash-to-hash in constant time. Disabled keys
// fail. On success the key row is returned; the caller is responsible
// for TouchKey bookkeeping.
func (v *Verifier) Verify(ctx context.Context, raw string) (*catalog.APIKey, error) {
	if !WellFormed(raw) {
		return nil, ErrInvalidKey
	}
	key, err := v.store.GetKeyByPrefix(ctx, raw[:LookupPrefixLen])
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("auth: key lookup: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(HashKey(raw)), []byte(key.KeyHash)) != 1 {
		return nil, ErrInvalidKey
	}
	if key.Disabled {
		return nil, ErrInvalidKey
	}
	return key, nil
}
