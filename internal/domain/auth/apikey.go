// Package auth authenticates back-office operators by API key and carries the
// resulting principal through the request context.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/edu-backoffice/internal/domain/payment"
)

// ScopeAdmin grants refund, reconciliation and export access.
const ScopeAdmin = "admin"

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Principal is an authenticated operator.
type Principal struct {
	KeyID  string
	Name   string
	Scopes []string
}

// Has reports whether the principal holds scope.
func (p *Principal) Has(scope string) bool {
	return p != nil && slices.Contains(p.Scopes, scope)
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, or nil.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// RequireAdmin fails with payment.ErrUnauthorized unless ctx carries an admin
// principal.
func RequireAdmin(ctx context.Context) error {
	if !PrincipalFrom(ctx).Has(ScopeAdmin) {
		return payment.ErrUnauthorized
	}
	return nil
}

// Authenticator resolves raw API keys to principals.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator with the given key repository
// and HMAC pepper.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Hash returns the hex HMAC-SHA256 of key under pepper, as stored in the
// api_keys table.
func Hash(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate looks the key up by its HMAC and compares the stored hash in
// constant time. Every failure is reported as payment.ErrUnauthorized.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*Principal, error) {
	if key == "" {
		return nil, payment.ErrUnauthorized
	}
	hexHash := Hash(a.pepper, key)

	info, err := a.keys.FindByHash(ctx, hexHash)
	if errors.Is(err, payment.ErrNotFound) {
		return nil, payment.ErrUnauthorized
	}
	if err != nil {
		return nil, errors.Wrap(err, "find api key")
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, payment.ErrUnauthorized
	}
	want, _ := hex.DecodeString(hexHash)
	if subtle.ConstantTimeCompare(want, stored) != 1 {
		return nil, payment.ErrUnauthorized
	}

	return &Principal{KeyID: info.ID, Name: info.Name, Scopes: info.Scopes}, nil
}
