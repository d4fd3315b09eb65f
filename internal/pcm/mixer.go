// Mixer fans playback from multiple local clients into the one Bluetooth
// transport they share. It mixes playback only; capture is not teed out to
// the clients.
//
// The summation/clip discipline mirrors the N-1 conference mix in
// flowpbx/flowpbx's internal/media.Mixer (mixCycle: sum all participants,
// clip to the format's full scale), narrowed here to full fan-in (every
// writer contributes, since BlueALSA mixes down to a single encoder input
// rather than per-listener N-1 mixes).
package pcm

import (
	"encoding/binary"
	"math"
)

// Mixer combines S16LE PCM frames from any number of registered writer
// slots into one frame buffer, saturating the sum at the format's full
// scale so it never wraps around (spec.md §8 Scenario 5).
type Mixer struct {
	channels int
	slots    map[string][]int16 // per-client pending samples, same length
}

// NewMixer creates a mixer for the given channel count.
func NewMixer(channels int) *Mixer {
	return &Mixer{channels: channels, slots: make(map[string][]int16)}
}

// Submit stages one client's decoded frame (interleaved S16LE samples,
// length a multiple of channels). The caller must submit the same sample
// count for every client before calling Mix for this cycle; a client with
// nothing new submits silence.
func (m *Mixer) Submit(clientID string, pcm []byte) {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	m.slots[clientID] = samples
}

// Remove drops a client slot, e.g. on PCM close or disconnect.
func (m *Mixer) Remove(clientID string) {
	delete(m.slots, clientID)
}

// Mix sums every staged client's samples and writes the clipped S16LE
// result to dst, resizing it as needed. It is the caller's responsibility
// to call Submit for every live client first (spec.md §8 Scenario 5: "the
// output RTP stream carries the normalized sum and never clips beyond the
// configured format's full scale").
func (m *Mixer) Mix(dst []byte) []byte {
	n := 0
	for _, s := range m.slots {
		if len(s) > n {
			n = len(s)
		}
	}
	if cap(dst) < n*2 {
		dst = make([]byte, n*2)
	} else {
		dst = dst[:n*2]
	}

	for i := 0; i < n; i++ {
		var sum int32
		for _, s := range m.slots {
			if i < len(s) {
				sum += int32(s[i])
			}
		}
		sum = clipS16(sum)
		binary.LittleEndian.PutUint16(dst[i*2:i*2+2], uint16(int16(sum)))
	}
	return dst
}

func clipS16(v int32) int32 {
	const (
		maxS16 = 32767
		minS16 = -32768
	)
	if v > maxS16 {
		return maxS16
	}
	if v < minS16 {
		return minS16
	}
	return v
}

// ApplyChannelVolume zeroes muted channels and scales the rest by a linear
// factor derived from centi-dB. The A2DP and SCO I/O loops do not call it,
// so mute and soft-volume gain are not applied to the audio they carry.
func ApplyChannelVolume(pcm []byte, channels int, vol [2]Channel) {
	frameBytes := channels * 2
	for off := 0; off+frameBytes <= len(pcm); off += frameBytes {
		for ch := 0; ch < channels; ch++ {
			idx := ch
			if channels == 1 {
				idx = 0
			} else if ch > 1 {
				idx = 1 // beyond stereo, mirror channel 1's settings
			}
			c := vol[idx]
			sOff := off + ch*2
			if c.Muted {
				binary.LittleEndian.PutUint16(pcm[sOff:sOff+2], 0)
				continue
			}
			if c.LevelCentiDB == MaxCentiDB {
				continue // unity gain, nothing to scale
			}
			sample := int16(binary.LittleEndian.Uint16(pcm[sOff : sOff+2]))
			scaled := scaleSample(sample, c.LevelCentiDB)
			binary.LittleEndian.PutUint16(pcm[sOff:sOff+2], uint16(scaled))
		}
	}
}

// scaleSample applies a centi-dB gain to one sample using a linear
// amplitude ratio of 10^(centiDB/2000) (centiDB is dB*100, dB/20 -> amplitude).
func scaleSample(sample int16, centiDB int16) int16 {
	ratio := centiDBToRatio(centiDB)
	v := int32(float64(sample) * ratio)
	return int16(clipS16(v))
}

func centiDBToRatio(centiDB int16) float64 {
	return math.Pow(10, float64(centiDB)/2000.0)
}
