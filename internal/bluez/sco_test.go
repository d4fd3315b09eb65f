package bluez

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBdaddr(t *testing.T) {
	got, err := parseBdaddr("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	require.Equal(t, [6]byte{0xFF, 0xEE, 0xDD, 0xCC, 0xBB, 0xAA}, got)
}

func TestParseBdaddrInvalid(t *testing.T) {
	_, err := parseBdaddr("not-an-address")
	require.Error(t, err)
}

func TestNewNativeSCOAcquirerReleaseWithoutAcquire(t *testing.T) {
	a := NewNativeSCOAcquirer("AA:BB:CC:DD:EE:FF")
	require.NoError(t, a.Release())
}
