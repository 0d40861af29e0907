package wire_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netobserve/l7agent/wire"
)

func TestU32LE(t *testing.T) {
	v, ok := wire.U32LE([]byte{0x01, 0x00, 0x00, 0x00}, 0)
	require.True(t, ok)
	require.Equal(t, uint32(1), v)
}

func TestU32LETruncated(t *testing.T) {
	_, ok := wire.U32LE([]byte{0x01, 0x00}, 0)
	require.False(t, ok)
}

func TestU24LE(t *testing.T) {
	v, ok := wire.U24LE([]byte{0x2a, 0x00, 0x00}, 0)
	require.True(t, ok)
	require.Equal(t, uint32(42), v)
}

func TestNulString(t *testing.T) {
	s, pos, ok := wire.NulString([]byte("5.7.28\x00\x0b\x00\x00\x00"), 0)
	require.True(t, ok)
	require.Equal(t, "5.7.28", s)
	require.Equal(t, 6, pos)
}

func TestNulStringMissing(t *testing.T) {
	_, _, ok := wire.NulString([]byte("no terminator here"), 0)
	require.False(t, ok)
}

func TestSliceOutOfBounds(t *testing.T) {
	_, ok := wire.Slice([]byte{1, 2, 3}, 2, 5)
	require.False(t, ok)
}

func TestU32BE(t *testing.T) {
	v, ok := wire.U32BE([]byte{0x00, 0x00, 0x00, 0x2a}, 0)
	require.True(t, ok)
	require.Equal(t, uint32(42), v)
}
