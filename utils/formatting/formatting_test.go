// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

package formatting

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripHexC(t *testing.T) {
	raw := []byte{0xde, 0xad, 0xbe, 0xef}
	s, err := Encode(HexC, raw)
	require.NoError(t, err)
	require.Equal(t, "0xdeadbeef", s)

	back, err := Decode(HexC, s)
	require.NoError(t, err)
	require.Equal(t, raw, back)
}

func TestEncodeDecodeRoundTripHexNC(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03}
	s, err := Encode(HexNC, raw)
	require.NoError(t, err)
	require.Equal(t, "010203", s)

	back, err := Decode(HexNC, s)
	require.NoError(t, err)
	require.Equal(t, raw, back)
}

func TestDecodeHexCRejectsMissingPrefix(t *testing.T) {
	_, err := Decode(HexC, "deadbeef")
	require.Error(t, err)
}

func TestEncodeRejectsUnknownEncoding(t *testing.T) {
	_, err := Encode(Encoding(99), []byte("x"))
	require.Error(t, err)
}
