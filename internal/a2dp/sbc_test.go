package a2dp

import (
	"testing"

	"github.com/bluealsa/bluealsa-go/internal/codec"
	"github.com/stretchr/testify/require"
)

func TestParseSBCCapabilitiesTooShort(t *testing.T) {
	_, err := ParseSBCCapabilities([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestParseSBCCapabilitiesRoundTrip(t *testing.T) {
	caps, err := ParseSBCCapabilities([]byte{0xff, 0xff, 2, 53})
	require.NoError(t, err)
	require.Equal(t, byte(0x0f), caps.FreqMask)
	require.Equal(t, byte(0x0f), caps.ChannelMask)
	require.EqualValues(t, 2, caps.MinBitpool)
	require.EqualValues(t, 53, caps.MaxBitpool)
}

func TestSelectSBCConfigurationPrefers48kHzJointStereo(t *testing.T) {
	caps := SBCCapabilities{FreqMask: 0x0f, ChannelMask: 0x0f, MaxBitpool: 53}
	_, cfg, err := SelectSBCConfiguration(caps, false, false)
	require.NoError(t, err)
	require.EqualValues(t, 48000, cfg.SampleRate)
	require.Equal(t, codec.ChannelModeJointStereo, cfg.ChannelMode)
	require.EqualValues(t, 2, cfg.Channels)
}

func TestSelectSBCConfigurationForceMono(t *testing.T) {
	caps := SBCCapabilities{FreqMask: 0x0f, ChannelMask: 0x0f, MaxBitpool: 53}
	_, cfg, err := SelectSBCConfiguration(caps, true, false)
	require.NoError(t, err)
	require.Equal(t, codec.ChannelModeMono, cfg.ChannelMode)
	require.EqualValues(t, 1, cfg.Channels)
}

func TestSelectSBCConfigurationForceAudioCDPrefers44100(t *testing.T) {
	caps := SBCCapabilities{FreqMask: 0x0f, ChannelMask: 0x0f, MaxBitpool: 53}
	_, cfg, err := SelectSBCConfiguration(caps, false, true)
	require.NoError(t, err)
	require.EqualValues(t, 44100, cfg.SampleRate)
}

func TestSelectSBCConfigurationNoSupportedRate(t *testing.T) {
	caps := SBCCapabilities{FreqMask: 0, ChannelMask: 0x0f, MaxBitpool: 53}
	_, _, err := SelectSBCConfiguration(caps, false, false)
	require.Error(t, err)
}

// TestSelectSBCConfigurationClampsToLocalDefault exercises spec.md §4.3
// Scenario 1: a peer advertising a MaxBitpool above the standard SBC default
// for the negotiated rate/mode must not get that default overridden by its
// own raw ceiling.
func TestSelectSBCConfigurationClampsToLocalDefault(t *testing.T) {
	caps := SBCCapabilities{FreqMask: 0x0f, ChannelMask: 0x0f, MinBitpool: 2, MaxBitpool: 64}
	_, cfg, err := SelectSBCConfiguration(caps, false, false)
	require.NoError(t, err)
	require.EqualValues(t, 48000, cfg.SampleRate)
	require.Equal(t, codec.ChannelModeJointStereo, cfg.ChannelMode)
	require.EqualValues(t, 51, cfg.Bitpool, "48kHz/joint-stereo default bitpool is 51, not the peer's raw max")
}

// TestSelectSBCConfigurationBitpoolFollowsPeerCeiling confirms a peer whose
// MaxBitpool is below the local default still gets clamped down to it,
// rather than the default silently exceeding what the peer advertised.
func TestSelectSBCConfigurationBitpoolFollowsPeerCeiling(t *testing.T) {
	caps := SBCCapabilities{FreqMask: 0x0f, ChannelMask: 0x0f, MinBitpool: 2, MaxBitpool: 40}
	_, cfg, err := SelectSBCConfiguration(caps, false, false)
	require.NoError(t, err)
	require.EqualValues(t, 40, cfg.Bitpool)
}

// TestSelectSBCConfigurationMonoDefaultBitpool checks the lower mono/dual
// default (29 at 48kHz) applies when forceMono picks that channel mode.
func TestSelectSBCConfigurationMonoDefaultBitpool(t *testing.T) {
	caps := SBCCapabilities{FreqMask: 0x0f, ChannelMask: 0x0f, MinBitpool: 2, MaxBitpool: 64}
	_, cfg, err := SelectSBCConfiguration(caps, true, false)
	require.NoError(t, err)
	require.EqualValues(t, 29, cfg.Bitpool)
}

func TestHighestSetBit(t *testing.T) {
	require.Equal(t, byte(0x08), highestSetBit(0x0f, 4))
	require.Equal(t, byte(0x02), highestSetBit(0x03, 2))
	require.Equal(t, byte(0), highestSetBit(0, 4))
}
