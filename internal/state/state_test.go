package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bluealsa/bluealsa-go/internal/pcm"
)

func TestSaveRestoreEndpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)

	ep := pcm.NewEndpoint(pcm.ModeSink, 2, 48000, 100)
	ep.SoftVolume = true
	ep.SetChannelVolume(0, pcm.Channel{LevelCentiDB: -2000, Muted: false})
	ep.SetChannelVolume(1, pcm.Channel{LevelCentiDB: -4000, Muted: false})

	require.NoError(t, store.SaveEndpoint("00:11:22:33:44:55", "AA:BB:CC:DD:EE:FF", "a2dp-sink", ep))

	restored := pcm.NewEndpoint(pcm.ModeSink, 2, 48000, 0)
	ok := store.RestoreEndpoint("00:11:22:33:44:55", "AA:BB:CC:DD:EE:FF", "a2dp-sink", restored)
	require.True(t, ok)
	require.True(t, restored.SoftVolume)
	require.Equal(t, int16(-2000), restored.ChannelVolume(0).LevelCentiDB)
	require.Equal(t, int16(-4000), restored.ChannelVolume(1).LevelCentiDB)
}

func TestRestoreEndpointMissingIsNotFound(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)

	ep := pcm.NewEndpoint(pcm.ModeSink, 2, 48000, 100)
	ok := store.RestoreEndpoint("00:00:00:00:00:00", "11:11:11:11:11:11", "a2dp-sink", ep)
	require.False(t, ok)
}

func TestSanitizeStripsSeparators(t *testing.T) {
	require.Equal(t, "AA_BB", sanitize("AA/BB"))
}
