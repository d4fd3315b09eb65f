// Package a2dp implements A2DP codec negotiation and the media endpoint
// glue that turns a BlueZ SetConfiguration call into a running Transport
// (spec.md §4.3 "Codec negotiation" and "A2DP media I/O loop").
package a2dp

import (
	"fmt"

	"github.com/bluealsa/bluealsa-go/internal/codec"
)

// SBC capability/configuration blob layout (A2DP spec Table 4.7): 4 bytes,
// byte0 high nibble sample-frequency bitmask, low nibble channel-mode
// bitmask; byte1 high nibble block-length bitmask, next 2 bits subbands
// bitmask, low 2 bits allocation-method bitmask; byte2 min bitpool; byte3
// max bitpool.
const (
	sbcFreq16000     = 1 << 3
	sbcFreq32000     = 1 << 2
	sbcFreq44100     = 1 << 1
	sbcFreq48000     = 1 << 0

	sbcChannelMono        = 1 << 3
	sbcChannelDualChannel = 1 << 2
	sbcChannelStereo      = 1 << 1
	sbcChannelJointStereo = 1 << 0
)

// SBCCapabilities is the parsed form of the 4-byte SBC capability blob.
type SBCCapabilities struct {
	FreqMask    byte
	ChannelMask byte
	BlockLength byte
	Subbands    byte
	Allocation  byte
	MinBitpool  byte
	MaxBitpool  byte
}

// ParseSBCCapabilities decodes the blob BlueZ passes to
// MediaEndpoint1.SelectConfiguration for an SBC endpoint.
func ParseSBCCapabilities(b []byte) (SBCCapabilities, error) {
	if len(b) < 4 {
		return SBCCapabilities{}, fmt.Errorf("a2dp: sbc capabilities too short (%d bytes)", len(b))
	}
	return SBCCapabilities{
		FreqMask:    b[0] >> 4,
		ChannelMask: b[0] & 0x0f,
		BlockLength: (b[1] >> 4) & 0x0f,
		Subbands:    (b[1] >> 2) & 0x03,
		Allocation:  b[1] & 0x03,
		MinBitpool:  b[2],
		MaxBitpool:  b[3],
	}, nil
}

// sampleRatePreference ranks candidate frequencies highest-first, matching
// spec.md §4.3: "48kHz > 44.1kHz > 32kHz > 16kHz."
var sampleRatePreference = []struct {
	bit  byte
	rate uint32
}{
	{sbcFreq48000, 48000},
	{sbcFreq44100, 44100},
	{sbcFreq32000, 32000},
	{sbcFreq16000, 16000},
}

// channelModePreference ranks candidate channel modes highest-first,
// matching spec.md §4.3: "joint-stereo > stereo > dual-channel > mono."
var channelModePreference = []struct {
	bit  byte
	mode codec.ChannelMode
}{
	{sbcChannelJointStereo, codec.ChannelModeJointStereo},
	{sbcChannelStereo, codec.ChannelModeStereo},
	{sbcChannelDualChannel, codec.ChannelModeDualChannel},
	{sbcChannelMono, codec.ChannelModeMono},
}

// SelectSBCConfiguration picks the most-preferred sample rate and channel
// mode present in caps, honoring forceMono/forceAudioCD overrides from
// spec.md §6 (--a2dp-force-mono, --a2dp-force-audio-cd), and returns the
// 4-byte configuration blob plus the equivalent codec.Config. With
// forceAudioCD, caps without 44.1kHz are rejected.
func SelectSBCConfiguration(caps SBCCapabilities, forceMono, forceAudioCD bool) ([]byte, codec.Config, error) {
	freqBit, rate, err := pickSampleRate(caps.FreqMask, forceAudioCD)
	if err != nil {
		return nil, codec.Config{}, err
	}
	chBit, mode, err := pickChannelMode(caps.ChannelMask, forceMono)
	if err != nil {
		return nil, codec.Config{}, err
	}

	blockLength := highestSetBit(caps.BlockLength, 4)
	subbands := highestSetBit(caps.Subbands, 2)
	allocation := highestSetBit(caps.Allocation, 2)

	bitpool := defaultBitpool(rate, mode)
	if bitpool > caps.MaxBitpool {
		bitpool = caps.MaxBitpool
	}
	if bitpool < caps.MinBitpool {
		bitpool = caps.MinBitpool
	}

	blob := []byte{
		(freqBit << 4) | chBit,
		(blockLength << 4) | (subbands << 2) | allocation,
		caps.MinBitpool,
		bitpool,
	}

	channels := uint8(2)
	if mode == codec.ChannelModeMono {
		channels = 1
	}
	cfg := codec.Config{
		SampleRate:  rate,
		Channels:    channels,
		ChannelMode: mode,
		Bitpool:     int(bitpool),
	}
	return blob, cfg, nil
}

func pickSampleRate(mask byte, forceAudioCD bool) (byte, uint32, error) {
	if forceAudioCD {
		if mask&sbcFreq44100 != 0 {
			return sbcFreq44100, 44100, nil
		}
		return 0, 0, fmt.Errorf("a2dp: 44.1kHz forced but not in mask 0x%x", mask)
	}
	for _, cand := range sampleRatePreference {
		if mask&cand.bit != 0 {
			return cand.bit, cand.rate, nil
		}
	}
	return 0, 0, fmt.Errorf("a2dp: no supported sample rate in mask 0x%x", mask)
}

func pickChannelMode(mask byte, forceMono bool) (byte, codec.ChannelMode, error) {
	if forceMono && mask&sbcChannelMono != 0 {
		return sbcChannelMono, codec.ChannelModeMono, nil
	}
	for _, cand := range channelModePreference {
		if mask&cand.bit != 0 {
			return cand.bit, cand.mode, nil
		}
	}
	return 0, 0, fmt.Errorf("a2dp: no supported channel mode in mask 0x%x", mask)
}

// defaultBitpool returns the recommended SBC bitpool for a given sample rate
// and channel mode (A2DP spec Table 4.7's "Recommended Bitpool values"),
// rather than handing a peer its own advertised MaxBitpool verbatim — per
// spec.md §4.3, the final bitpool is "the intersection with a local default
// function," not the peer's raw maximum.
func defaultBitpool(rate uint32, mode codec.ChannelMode) byte {
	switch rate {
	case 48000:
		if mode == codec.ChannelModeMono || mode == codec.ChannelModeDualChannel {
			return 29
		}
		return 51
	case 44100:
		if mode == codec.ChannelModeMono || mode == codec.ChannelModeDualChannel {
			return 31
		}
		return 53
	default:
		return 53
	}
}

// highestSetBit returns a mask selecting only the highest set bit among the
// low nBits bits of v, BlueZ's convention for "pick one option from a
// capability bitmask" when ranking isn't otherwise specified.
func highestSetBit(v byte, nBits uint) byte {
	for i := int(nBits) - 1; i >= 0; i-- {
		bit := byte(1) << uint(i)
		if v&bit != 0 {
			return bit
		}
	}
	return 0
}
