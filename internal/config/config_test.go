package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, "org.bluealsa", cfg.BusName())
	require.True(t, cfg.ProfileEnabled(ProfileA2DPSource))
	require.True(t, cfg.ProfileEnabled(ProfileA2DPSink))
	require.True(t, cfg.ProfileEnabled(ProfileHFPAG))
	require.False(t, cfg.ProfileEnabled(ProfileHFPHF))
	require.False(t, cfg.ProfileEnabled(ProfileMIDI))
	require.Equal(t, 100, cfg.InitialVolume)
	require.Equal(t, 5*time.Second, cfg.KeepAlive)
}

func TestParseBusSuffix(t *testing.T) {
	cfg, err := Parse([]string{"-B", "test"})
	require.NoError(t, err)
	require.Equal(t, "org.bluealsa.test", cfg.BusName())
}

func TestParseProfileToggles(t *testing.T) {
	cfg, err := Parse([]string{"-p", "+hfp-hf", "-p", "-a2dp-sink", "-p", "+midi"})
	require.NoError(t, err)
	require.True(t, cfg.ProfileEnabled(ProfileHFPHF))
	require.False(t, cfg.ProfileEnabled(ProfileA2DPSink))
	require.True(t, cfg.ProfileEnabled(ProfileMIDI))
	// untouched defaults survive
	require.True(t, cfg.ProfileEnabled(ProfileA2DPSource))
}

func TestCodecEnabled(t *testing.T) {
	cfg, err := Parse([]string{"-c", "-aptx", "-c", "+ldac"})
	require.NoError(t, err)
	require.False(t, cfg.CodecEnabled("aptx"))
	require.False(t, cfg.CodecEnabled("APTX"))
	require.True(t, cfg.CodecEnabled("ldac"))
	require.True(t, cfg.CodecEnabled("sbc")) // unmentioned codecs default enabled
}

func TestInitialVolumeClamped(t *testing.T) {
	cfg, err := Parse([]string{"--initial-volume", "250"})
	require.NoError(t, err)
	require.Equal(t, 100, cfg.InitialVolume)

	cfg, err = Parse([]string{"--initial-volume", "-5"})
	require.NoError(t, err)
	require.Equal(t, 0, cfg.InitialVolume)
}

func TestAdapterAllowList(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.True(t, cfg.AdapterAllowed("hci0"))

	cfg, err = Parse([]string{"-i", "hci0", "-i", "hci1"})
	require.NoError(t, err)
	require.True(t, cfg.AdapterAllowed("hci0"))
	require.True(t, cfg.AdapterAllowed("hci1"))
	require.False(t, cfg.AdapterAllowed("hci2"))
}

func TestParseHCIIndex(t *testing.T) {
	idx, err := ParseHCIIndex("hci3")
	require.NoError(t, err)
	require.Equal(t, 3, idx)

	_, err = ParseHCIIndex("not-an-adapter")
	require.Error(t, err)
}
