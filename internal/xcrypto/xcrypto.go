// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

// Package xcrypto is the crypto registry (C1): a centralized factory that
// selects, at startup, the active keyed hasher (used by the nullifier
// service) and leaf hasher (used by the Merkle service), the way the teacher
// segregates Reader/Writer/Batch into small capability interfaces
// (crypto/database/database.go) rather than one fat interface.
package xcrypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfo domain-separates the derived HMAC key from any other use of the
// same operator-supplied secret.
var hkdfInfo = []byte("civora-ballotcore-nullifier-hmac-v1")

// Variant names the active hasher family. Selection happens once at startup
// and is immutable thereafter (§4.1, §9 "Do not keep the selection per-request").
type Variant string

const (
	VariantHMAC     Variant = "hmac"
	VariantPoseidon Variant = "poseidon"
)

var (
	ErrUnknownVariant = errors.New("xcrypto: unknown variant")
	ErrMissingSecret  = errors.New("xcrypto: secret required for hmac variant")
)

// KeyedHasher produces a deterministic, collision-resistant, unforgeable
// (without the secret) 32-byte digest of its ordered inputs.
type KeyedHasher interface {
	// KeyedHash returns the hex-encoded (64 char) digest of inputs, in order.
	KeyedHash(inputs ...[]byte) string
	// Verify does a constant-time comparison of expected against a freshly
	// recomputed digest of inputs.
	Verify(expected string, inputs ...[]byte) bool
}

// LeafHasher hashes a single pre-built byte string into a Merkle leaf.
type LeafHasher interface {
	LeafHash(b []byte) [32]byte
}

// Registry exposes the process-wide active hasher pair plus its own
// identity (Name). Audit entries do not record the variant name.
type Registry struct {
	name   Variant
	keyed  KeyedHasher
	leaf   LeafHasher
}

// New constructs the Registry for the given variant. secret is required
// (and must be non-empty) for VariantHMAC; it is optional domain-separation
// material for VariantPoseidon.
func New(variant Variant, secret []byte) (*Registry, error) {
	switch variant {
	case VariantHMAC:
		if len(secret) == 0 {
			return nil, ErrMissingSecret
		}
		derived, err := deriveHMACKey(secret)
		if err != nil {
			return nil, fmt.Errorf("xcrypto: derive hmac key: %w", err)
		}
		h := &hmacHasher{secret: derived}
		return &Registry{name: VariantHMAC, keyed: h, leaf: sha256LeafHasher{}}, nil
	case VariantPoseidon:
		h := &poseidonHasher{secret: append([]byte(nil), secret...)}
		return &Registry{name: VariantPoseidon, keyed: h, leaf: h}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}
}

// Name returns the active variant's identity. No audit entry records it.
func (r *Registry) Name() Variant { return r.name }

// KeyedHash delegates to the active keyed hasher.
func (r *Registry) KeyedHash(inputs ...[]byte) string { return r.keyed.KeyedHash(inputs...) }

// Verify delegates to the active keyed hasher.
func (r *Registry) Verify(expected string, inputs ...[]byte) bool {
	return r.keyed.Verify(expected, inputs...)
}

// LeafHash delegates to the active leaf hasher.
func (r *Registry) LeafHash(b []byte) [32]byte { return r.leaf.LeafHash(b) }

// --- hmac variant ---

// deriveHMACKey runs the operator-supplied secret through HKDF-SHA256 to
// produce a fixed-length, uniformly-distributed key, so an operationally
// weak or short secret doesn't become the literal HMAC key.
func deriveHMACKey(secret []byte) ([]byte, error) {
	out := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, secret, nil, hkdfInfo)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

type hmacHasher struct {
	secret []byte
}

func (h *hmacHasher) KeyedHash(inputs ...[]byte) string {
	mac := hmac.New(sha256.New, h.secret)
	for _, in := range inputs {
		mac.Write(in)
	}
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *hmacHasher) Verify(expected string, inputs ...[]byte) bool {
	got := h.KeyedHash(inputs...)
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

type sha256LeafHasher struct{}

func (sha256LeafHasher) LeafHash(b []byte) [32]byte { return sha256.Sum256(b) }

// --- poseidon variant ---

// poseidonHasher implements both KeyedHasher and LeafHasher over the BN254
// scalar field, the way vocdoni's apiclient derives nullifiers with
// poseidon.Hash over big.Int field elements (see
// other_examples/7cff5884_linghuying-vocdoni-node__apiclient-vote.go.go).
type poseidonHasher struct {
	secret []byte
}

// KeyedHash prepends the secret (if any) as the first field element for
// domain separation, then folds the remaining inputs in as field elements
// derived from their SHA-256 digest (poseidon's native inputs are field
// elements, not arbitrary byte strings).
func (h *poseidonHasher) KeyedHash(inputs ...[]byte) string {
	elems := make([]*big.Int, 0, len(inputs)+1)
	if len(h.secret) > 0 {
		elems = append(elems, bytesToFieldElement(h.secret))
	}
	for _, in := range inputs {
		elems = append(elems, bytesToFieldElement(in))
	}
	out, err := poseidon.Hash(elems)
	if err != nil {
		// poseidon.Hash only errors on arity/overflow issues that cannot
		// occur with our fixed, reduced inputs; treat as a programming error.
		panic(fmt.Sprintf("xcrypto: poseidon hash failed: %v", err))
	}
	var digest [32]byte
	out.FillBytes(digest[:])
	return hex.EncodeToString(digest[:])
}

func (h *poseidonHasher) Verify(expected string, inputs ...[]byte) bool {
	got := h.KeyedHash(inputs...)
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// LeafHash runs the same poseidon permutation over a single chunked input,
// so Merkle internals stay within the variant's native field arithmetic.
func (h *poseidonHasher) LeafHash(b []byte) [32]byte {
	elem := bytesToFieldElement(b)
	out, err := poseidon.Hash([]*big.Int{elem})
	if err != nil {
		panic(fmt.Sprintf("xcrypto: poseidon leaf hash failed: %v", err))
	}
	var digest [32]byte
	out.FillBytes(digest[:])
	return digest
}

// bytesToFieldElement reduces an arbitrary-length byte string into the
// scalar field via SHA-256 first, keeping the digest's low 253 bits: 2^253 is
// below the BN254 scalar field order, so no input ever overflows the field.
func bytesToFieldElement(b []byte) *big.Int {
	sum := sha256.Sum256(b)
	sum[0] &= 0x1f
	return new(big.Int).SetBytes(sum[:])
}
