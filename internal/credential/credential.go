// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

// Package credential verifies the externally-issued VoterCredential bearer
// token (§6.1). It never persists the credential: each request presents one,
// it is validated and its bucketed demographics extracted, and it is
// discarded. Modeled on the teacher's practice of keeping verification logic
// in its own narrow package (core/verify) rather than folding it into the
// caller.
package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrUnknownIssuer  = errors.New("credential: issuer not in allow-list")
	ErrExpired        = errors.New("credential: expired")
	ErrMalformedClaim = errors.New("credential: malformed claim data")
)

// AgeBuckets enumerates the allowed age-bucket values (§3 Poll/VoterCredential
// data model).
var AgeBuckets = map[string]struct{}{
	"18-24": {}, "25-34": {}, "35-44": {}, "45-54": {}, "55-64": {}, "65+": {},
}

// Demographics is the bucketed (never-identifying) data carried by a
// VoterCredential.
type Demographics struct {
	AgeBucket   string `json:"age_bucket"`
	Gender      string `json:"gender"`
	Region      string `json:"region"`
	Citizenship string `json:"citizenship"`
}

// Credential is the verified, in-memory-only result of checking a bearer
// token. Subject is opaque and used solely to derive the nullifier; it is
// never logged or stored.
type Credential struct {
	Issuer       string
	Subject      string
	Demographics Demographics
	ExpiresAt    time.Time
}

type claims struct {
	jwt.RegisteredClaims
	Data Demographics `json:"data"`
}

// Verifier checks signed VoterCredential bearer tokens against an issuer
// allow-list and a fixed signing key, per deployment (§6.1: "algorithm fixed
// per deployment").
type Verifier struct {
	key           interface{}
	method        jwt.SigningMethod
	allowedIssuer map[string]struct{}
}

// NewVerifier builds a Verifier for the given signing key, algorithm, and
// issuer allow-list.
func NewVerifier(key interface{}, method jwt.SigningMethod, allowedIssuers []string) *Verifier {
	allow := make(map[string]struct{}, len(allowedIssuers))
	for _, iss := range allowedIssuers {
		allow[iss] = struct{}{}
	}
	return &Verifier{key: key, method: method, allowedIssuer: allow}
}

// Verify validates the bearer token's signature, issuer, and expiry, then
// returns the extracted demographics. The token itself is never retained
// beyond this call.
func (v *Verifier) Verify(token string) (Credential, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != v.method.Alg() {
			return nil, fmt.Errorf("credential: unexpected signing algorithm %q", t.Method.Alg())
		}
		return v.key, nil
	}, jwt.WithValidMethods([]string{v.method.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Credential{}, ErrExpired
		}
		return Credential{}, fmt.Errorf("credential: parse token: %w", err)
	}
	if !parsed.Valid {
		return Credential{}, fmt.Errorf("credential: invalid token")
	}

	if _, ok := v.allowedIssuer[c.Issuer]; !ok {
		return Credential{}, ErrUnknownIssuer
	}
	if c.ExpiresAt == nil || c.ExpiresAt.Before(time.Now()) {
		return Credential{}, ErrExpired
	}
	if _, ok := AgeBuckets[c.Data.AgeBucket]; !ok {
		return Credential{}, ErrMalformedClaim
	}

	return Credential{
		Issuer:       c.Issuer,
		Subject:      c.Subject,
		Demographics: c.Data,
		ExpiresAt:    c.ExpiresAt.Time,
	}, nil
}
