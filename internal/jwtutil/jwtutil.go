// Package jwtutil decodes JWTs issued by external attestation oracles
// (NVIDIA NRAS, Intel Trust Authority). By default these tokens are
// decoded without signature verification against the issuer's JWKS —
// trust is placed in the HTTPS connection to the issuer instead,
// matching the upstream Python implementation's documented
// trust-downgrade. Callers that want the stronger guarantee can supply
// a pinned jwk.Set via VerifyWithJWKS, or a refreshed one via
// NewJWKCache.
package jwtutil

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// DecodeUnverified base64-decodes a JWT's payload segment and unmarshals
// it into a claims map, without checking the signature. This is the
// TODO-tracked trust-downgrade documented in spec §9: an implementation
// may tighten it later by pinning the issuer's JWKS via VerifyWithJWKS.
func DecodeUnverified(token string) (map[string]any, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("jwtutil: malformed JWT, expected 3 segments, got %d", len(parts))
	}

	payload := parts[1]
	if m := len(payload) % 4; m != 0 {
		payload += strings.Repeat("=", 4-m)
	}

	decoded, err := base64.URLEncoding.DecodeString(payload)
	if err != nil {
		// Some issuers use unpadded/standard base64 rather than URL-safe.
		decoded, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("jwtutil: decode payload: %w", err)
		}
	}

	var claims map[string]any
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return nil, fmt.Errorf("jwtutil: unmarshal claims: %w", err)
	}
	return claims, nil
}

// NewJWKCache builds a refreshing JWK cache for jwkURL, fetching once
// synchronously on startup so the first verification never races an
// empty cache.
func NewJWKCache(ctx context.Context, jwkURL string, refreshInterval time.Duration) (jwk.Set, error) {
	cache, err := jwk.NewCache(ctx, httprc.NewClient())
	if err != nil {
		return nil, fmt.Errorf("jwtutil: create jwk cache: %w", err)
	}

	if err := cache.Register(ctx, jwkURL, jwk.WithConstantInterval(refreshInterval)); err != nil {
		return nil, fmt.Errorf("jwtutil: register jwk location: %w", err)
	}

	if _, err := cache.Refresh(ctx, jwkURL); err != nil {
		return nil, fmt.Errorf("jwtutil: fetch jwks on startup: %w", err)
	}

	return cache.CachedSet(jwkURL)
}

// VerifyWithJWKS verifies token's signature against keySet and returns
// its claims as a generic map. Keys are filtered by the token's
// algorithm first, since some issuers publish duplicate key IDs under
// different algorithms.
func VerifyWithJWKS(token string, keySet jwk.Set) (map[string]any, error) {
	filtered, err := filterKeySetForToken(token, keySet)
	if err != nil {
		return nil, err
	}

	parsed, err := jwt.Parse([]byte(token), jwt.WithKeySet(filtered), jwt.WithValidate(true))
	if err != nil {
		return nil, fmt.Errorf("jwtutil: token parse/verify failed: %w", err)
	}

	raw, err := json.Marshal(parsed)
	if err != nil {
		return nil, fmt.Errorf("jwtutil: marshal verified token: %w", err)
	}

	var claims map[string]any
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, fmt.Errorf("jwtutil: unmarshal verified claims: %w", err)
	}
	return claims, nil
}

func filterKeySetForToken(token string, keySet jwk.Set) (jwk.Set, error) {
	msg, err := jws.Parse([]byte(token))
	if err != nil {
		return nil, fmt.Errorf("jwtutil: parse JWS message: %w", err)
	}
	if len(msg.Signatures()) == 0 {
		return nil, fmt.Errorf("jwtutil: token has no signatures")
	}

	header := msg.Signatures()[0].ProtectedHeaders()
	alg, ok := header.Algorithm()
	if !ok {
		return nil, fmt.Errorf("jwtutil: token does not specify an algorithm")
	}

	filtered := jwk.NewSet()
	for i := 0; i < keySet.Len(); i++ {
		key, ok := keySet.Key(i)
		if !ok {
			continue
		}
		if keyAlg, ok := key.Algorithm(); ok && keyAlg == alg {
			_ = filtered.AddKey(key)
		}
	}
	if filtered.Len() == 0 {
		return nil, fmt.Errorf("jwtutil: no keys found in JWKS matching algorithm %s", alg)
	}
	return filtered, nil
}
