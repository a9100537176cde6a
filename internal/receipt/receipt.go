// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

// Package receipt issues and verifies the Ed25519-signed vote receipt (C5).
// Adapted from the streaming-segment receipt signer
// (other_examples/8de08444_slowdrip-network-slowdrip-miner__internal-receipts-signer.go.go):
// that signer keeps an ephemeral session keypair and signs a canonical,
// domain-tagged digest; this one keeps a single process-wide Ed25519 keypair
// loaded from the secret store and signs a canonical-JSON payload instead of
// a fixed binary layout, per §4.5 of the specification.
package receipt

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
)

const (
	// Version is the only receipt payload version this signer emits or
	// accepts.
	Version = 1
	// Algorithm is the only signature algorithm this signer emits or
	// accepts.
	Algorithm = "Ed25519"
)

var (
	ErrWrongVersion   = errors.New("receipt: unsupported version")
	ErrWrongAlgorithm = errors.New("receipt: unsupported algorithm")
	ErrBadSignature   = errors.New("receipt: signature does not verify")
	ErrBadPEM         = errors.New("receipt: malformed PEM key")
)

// Payload is the compact, independently-verifiable vote receipt body.
type Payload struct {
	VoteID     string `json:"voteId"`
	PollID     string `json:"pollId"`
	LeafHash   string `json:"leafHash"`
	MerkleRoot string `json:"merkleRoot"`
	TS         string `json:"ts"` // RFC 3339 UTC
}

// Signed wraps a Payload with its detached signature and algorithm tag.
type Signed struct {
	Payload   Payload `json:"payload"`
	Signature string  `json:"signature"` // base64url, no padding
	Algorithm string  `json:"algorithm"`
	Version   int     `json:"version"`
}

// Signer holds the process-wide Ed25519 keypair used to sign and verify
// receipts.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner loads an Ed25519 keypair from PEM-encoded private/public key
// material (as read from the secret store at startup, §4.5).
func NewSigner(privPEM, pubPEM string) (*Signer, error) {
	priv, err := parseEd25519PrivatePEM(privPEM)
	if err != nil {
		return nil, fmt.Errorf("receipt: parse private key: %w", err)
	}
	pub, err := parseEd25519PublicPEM(pubPEM)
	if err != nil {
		return nil, fmt.Errorf("receipt: parse public key: %w", err)
	}
	return &Signer{priv: priv, pub: pub}, nil
}

// PublicKeyPEM returns the active public key, PEM-encoded, for the
// well-known public-key endpoint (§6.2).
func (s *Signer) PublicKeyPEM() (string, error) {
	return encodeEd25519PublicPEM(s.pub)
}

// Sign deterministically signs payload and returns the full receipt.
func (s *Signer) Sign(payload Payload) (Signed, error) {
	canon, err := canonicalJSON(payload)
	if err != nil {
		return Signed{}, fmt.Errorf("receipt: canonicalize payload: %w", err)
	}
	sig := ed25519.Sign(s.priv, canon)
	return Signed{
		Payload:   payload,
		Signature: base64.RawURLEncoding.EncodeToString(sig),
		Algorithm: Algorithm,
		Version:   Version,
	}, nil
}

// Verify checks that r is well-formed (right version, right algorithm,
// untampered payload, uncorrupted signature) under s's public key.
func (s *Signer) Verify(r Signed) bool {
	return verify(r, s.pub)
}

// VerifyWithKey checks r against an externally-supplied public key, for a
// caller that only has the published PEM (no Signer instance), e.g. an
// external auditor.
func VerifyWithKey(r Signed, pub ed25519.PublicKey) bool {
	return verify(r, pub)
}

func verify(r Signed, pub ed25519.PublicKey) bool {
	if r.Version != Version {
		return false
	}
	if r.Algorithm != Algorithm {
		return false
	}
	sig, err := base64.RawURLEncoding.DecodeString(r.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	canon, err := canonicalJSON(r.Payload)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, canon, sig)
}

// canonicalJSON serializes p with lexicographically sorted keys and no
// insignificant whitespace, per §6.3. Payload's fields are all strings, so
// writing them from a fixed, pre-sorted key list yields the canonical key
// order deterministically.
func canonicalJSON(p Payload) ([]byte, error) {
	ordered := []struct {
		key, val string
	}{
		{"leafHash", p.LeafHash},
		{"merkleRoot", p.MerkleRoot},
		{"pollId", p.PollID},
		{"ts", p.TS},
		{"voteId", p.VoteID},
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range ordered {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(kv.key)
		if err != nil {
			return nil, err
		}
		valBytes, err := json.Marshal(kv.val)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		buf.Write(valBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func parseEd25519PrivatePEM(s string) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, ErrBadPEM
	}
	switch len(block.Bytes) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(block.Bytes), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(block.Bytes), nil
	default:
		return nil, ErrBadPEM
	}
}

func parseEd25519PublicPEM(s string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil || len(block.Bytes) != ed25519.PublicKeySize {
		return nil, ErrBadPEM
	}
	return ed25519.PublicKey(block.Bytes), nil
}

func encodeEd25519PublicPEM(pub ed25519.PublicKey) (string, error) {
	block := &pem.Block{Type: "ED25519 PUBLIC KEY", Bytes: pub}
	var buf bytes.Buffer
	if err := pem.Encode(&buf, block); err != nil {
		return "", err
	}
	return buf.String(), nil
}
