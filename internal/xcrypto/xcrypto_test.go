// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

package xcrypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHMACDeterministicAndUnforgeable(t *testing.T) {
	reg, err := New(VariantHMAC, []byte("top-secret"))
	require.NoError(t, err)

	a := reg.KeyedHash([]byte("voter-1"), []byte("poll-1"))
	b := reg.KeyedHash([]byte("voter-1"), []byte("poll-1"))
	require.Equal(t, a, b, "same inputs must yield byte-identical digests")
	require.Len(t, a, 64)

	c := reg.KeyedHash([]byte("voter-2"), []byte("poll-1"))
	require.NotEqual(t, a, c)

	require.True(t, reg.Verify(a, []byte("voter-1"), []byte("poll-1")))
	require.False(t, reg.Verify(a, []byte("voter-2"), []byte("poll-1")))
}

func TestHMACRequiresSecret(t *testing.T) {
	_, err := New(VariantHMAC, nil)
	require.ErrorIs(t, err, ErrMissingSecret)
}

func TestPoseidonDeterministicAndUnforgeable(t *testing.T) {
	reg, err := New(VariantPoseidon, []byte("domain-secret"))
	require.NoError(t, err)

	a := reg.KeyedHash([]byte("voter-1"), []byte("poll-1"))
	b := reg.KeyedHash([]byte("voter-1"), []byte("poll-1"))
	require.Equal(t, a, b)

	c := reg.KeyedHash([]byte("voter-1"), []byte("poll-2"))
	require.NotEqual(t, a, c)
}

func TestPoseidonSecretOptional(t *testing.T) {
	reg, err := New(VariantPoseidon, nil)
	require.NoError(t, err)
	require.Len(t, reg.KeyedHash([]byte("v"), []byte("p")), 64)
}

func TestUnknownVariant(t *testing.T) {
	_, err := New("sha3", []byte("x"))
	require.ErrorIs(t, err, ErrUnknownVariant)
}

func TestLeafHashBothVariants(t *testing.T) {
	hreg, err := New(VariantHMAC, []byte("s"))
	require.NoError(t, err)
	preg, err := New(VariantPoseidon, nil)
	require.NoError(t, err)

	hLeaf := hreg.LeafHash([]byte("leaf-bytes"))
	pLeaf := preg.LeafHash([]byte("leaf-bytes"))
	require.NotEqual(t, hLeaf, pLeaf)
}

func TestHMACKeyIsDerivedNotRaw(t *testing.T) {
	derived, err := deriveHMACKey([]byte("short"))
	require.NoError(t, err)
	require.Len(t, derived, 32)
	require.NotEqual(t, []byte("short"), derived)

	again, err := deriveHMACKey([]byte("short"))
	require.NoError(t, err)
	require.Equal(t, derived, again, "derivation must be deterministic for the same secret")

	other, err := deriveHMACKey([]byte("different"))
	require.NoError(t, err)
	require.NotEqual(t, derived, other)
}
