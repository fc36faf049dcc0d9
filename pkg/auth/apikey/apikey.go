// Package apikey authenticates bearer tokens against the static keys
// declared in the gateway's auth.api_keys config block. Each key maps
// to an identity carrying the subject, service tier and scopes that
// drive rate limiting and admin access downstream. Keys are stored as
// SHA-256 digests and matched in constant time.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/atelier-dev/atelier/pkg/auth"
)

// KeyEntry maps a key digest to the identity it authenticates.
type KeyEntry struct {
	KeyHash  [32]byte
	Identity auth.Identity
}

// Authenticator validates bearer tokens against a static key store.
type Authenticator struct {
	keys []KeyEntry
}

// RawKeyEntry is one configured key before hashing.
type RawKeyEntry struct {
	Key      string
	Identity auth.Identity
}

// New hashes the configured keys into an authenticator. Plaintext keys
// are not retained.
func New(entries []RawKeyEntry) *Authenticator {
	a := &Authenticator{}
	for _, e := range entries {
		a.keys = append(a.keys, KeyEntry{
			KeyHash:  sha256.Sum256([]byte(e.Key)),
			Identity: e.Identity,
		})
	}
	return a
}

// Authenticate votes on the request's bearer token: Yes with the mapped
// identity when the token matches a configured key, No when a bearer
// token is present but unknown, Abstain when there is no bearer token to
// judge (leaving room for other authenticators in the chain).
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.AuthResult {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return auth.AuthResult{Decision: auth.Abstain}
	}

	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	tokenHash := sha256.Sum256([]byte(token))
	for _, entry := range a.keys {
		if subtle.ConstantTimeCompare(tokenHash[:], entry.KeyHash[:]) == 1 {
			// Copy so callers never mutate the stored identity.
			id := entry.Identity
			return auth.AuthResult{Decision: auth.Yes, Identity: &id}
		}
	}
	return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
}
