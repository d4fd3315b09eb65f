package pcm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func i16bytes(vs ...int16) []byte {
	buf := make([]byte, len(vs)*2)
	for i, v := range vs {
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], uint16(v))
	}
	return buf
}

func TestMixerSumsAndClips(t *testing.T) {
	m := NewMixer(1)
	m.Submit("a", i16bytes(20000))
	m.Submit("b", i16bytes(20000))

	out := m.Mix(nil)
	v := int16(binary.LittleEndian.Uint16(out[0:2]))
	require.Equal(t, int16(32767), v) // clipped, never exceeds full scale
}

func TestMixerRemoveStopsContribution(t *testing.T) {
	m := NewMixer(1)
	m.Submit("a", i16bytes(1000))
	m.Submit("b", i16bytes(2000))
	m.Remove("b")

	out := m.Mix(nil)
	v := int16(binary.LittleEndian.Uint16(out[0:2]))
	require.Equal(t, int16(1000), v)
}

func TestApplyChannelVolumeMute(t *testing.T) {
	pcm := i16bytes(1000, 2000) // one stereo frame
	ApplyChannelVolume(pcm, 2, [2]Channel{{Muted: true}, {LevelCentiDB: MaxCentiDB}})
	left := int16(binary.LittleEndian.Uint16(pcm[0:2]))
	right := int16(binary.LittleEndian.Uint16(pcm[2:4]))
	require.Equal(t, int16(0), left)
	require.Equal(t, int16(2000), right)
}

func TestApplyChannelVolumeUnityGainUnchanged(t *testing.T) {
	pcm := i16bytes(12345)
	ApplyChannelVolume(pcm, 1, [2]Channel{{LevelCentiDB: MaxCentiDB}, {}})
	require.Equal(t, int16(12345), int16(binary.LittleEndian.Uint16(pcm[0:2])))
}

func TestApplyChannelVolumeAttenuates(t *testing.T) {
	pcm := i16bytes(10000)
	ApplyChannelVolume(pcm, 1, [2]Channel{{LevelCentiDB: MinCentiDB}, {}})
	v := int16(binary.LittleEndian.Uint16(pcm[0:2]))
	require.Less(t, int(v), 10000)
}
