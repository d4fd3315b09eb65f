package rtp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{
		Version:     2,
		Marker:      true,
		PayloadType: DefaultPayloadType,
		Sequence:    1234,
		Timestamp:   5678,
		SSRC:        0,
	}
	buf := make([]byte, HeaderLen)
	n := h.Encode(buf)
	require.Equal(t, HeaderLen, n)

	got, ok := Decode(buf)
	require.True(t, ok)
	require.Equal(t, h, got)
}

func TestDecodeTooShort(t *testing.T) {
	_, ok := Decode(make([]byte, HeaderLen-1))
	require.False(t, ok)
}

func TestNextHeaderIncrementsSequenceByOne(t *testing.T) {
	s := NewState(48000, 48000)
	first := s.NextHeader(128, DefaultPayloadType, false)
	second := s.NextHeader(128, DefaultPayloadType, false)
	require.Equal(t, uint16(1), second.Sequence-first.Sequence)
}

func TestNextHeaderSequenceWrapsModulo2_16(t *testing.T) {
	s := NewState(48000, 48000)
	s.Sequence = 0xFFFF
	h := s.NextHeader(128, DefaultPayloadType, false)
	require.Equal(t, uint16(0), h.Sequence)
}

func TestNextHeaderTimestampMath(t *testing.T) {
	s := NewState(44100, 48000)
	s.TSOffset = 1000
	s.PCMFrames = 0
	h := s.NextHeader(441, DefaultPayloadType, false)
	// ts_offset + round_up_half(pcm_frames * clockrate / samplerate)
	want := uint32(1000) + roundUpHalf(441*48000, 44100)
	require.Equal(t, want, h.Timestamp)
}

func TestSyncFirstPacketEstablishesAnchor(t *testing.T) {
	s := NewState(16000, 16000)
	res := s.Sync(Header{Sequence: 500, Timestamp: 10000})
	require.True(t, res.FirstPacket)
	require.True(t, s.Synced)
}

func TestSyncReportsNoGapOnConsecutivePackets(t *testing.T) {
	s := NewState(16000, 16000)
	s.Sync(Header{Sequence: 500, Timestamp: 10000})
	res := s.Sync(Header{Sequence: 501, Timestamp: 10240}) // +240 samples at 16kHz frame
	require.Equal(t, uint16(0), res.MissingRTPFrames)
	require.Equal(t, uint32(0), res.MissingPCMFrames)
}

func TestSyncReportsGapOnDroppedPackets(t *testing.T) {
	s := NewState(16000, 16000)
	s.Sync(Header{Sequence: 500, Timestamp: 10000})
	// two packets lost: sequence jumps by 3, ts jumps by 3*240
	res := s.Sync(Header{Sequence: 503, Timestamp: 10000 + 3*240})
	require.Equal(t, uint16(2), res.MissingRTPFrames)
	require.Equal(t, uint32(2*240), res.MissingPCMFrames)
}

func TestMediaSubHeaderRoundTrip(t *testing.T) {
	m := MediaSubHeader{Fragmented: false, First: true, Last: true, FrameCount: 5}
	got := DecodeMediaSubHeader(m.Encode())
	require.Equal(t, m, got)
}

func TestPayloadOffset(t *testing.T) {
	require.Equal(t, HeaderLen+1, PayloadOffset(1))
}

func TestRandomizedInitialState(t *testing.T) {
	a := NewState(48000, 48000)
	b := NewState(48000, 48000)
	// Astronomically unlikely to collide on both fields; guards against a
	// NewState that forgot to randomize.
	require.False(t, a.Sequence == b.Sequence && a.TSOffset == b.TSOffset)
}
