// Package rtp builds and parses the RTP/A2DP header this daemon wraps every
// media frame in, and tracks the per-stream sequence/timestamp/sync state
// described in spec.md §3 "RTP state" and §4.4.
//
// No library in the retrieved pack frames RTP; this is built directly
// against the wire format in spec.md §4.4 using encoding/binary, which is
// the only reasonable choice for a fixed 12-byte big-endian header (see
// DESIGN.md for the standard-library justification).
package rtp

import (
	"crypto/rand"
	"encoding/binary"
)

// HeaderLen is the fixed RTP header size before any payload sub-header.
const HeaderLen = 12

// DefaultPayloadType is the default dynamic payload type used for A2DP.
const DefaultPayloadType = 96

// Header mirrors the wire layout of spec.md §4.4: 2-bit version, padding and
// extension bits, 4-bit CSRC count, marker bit, 7-bit payload type, 16-bit
// sequence, 32-bit timestamp, 32-bit SSRC. All multi-byte fields are
// big-endian on the wire.
type Header struct {
	Version     uint8
	Padding     bool
	Extension   bool
	CSRCCount   uint8
	Marker      bool
	PayloadType uint8
	Sequence    uint16
	Timestamp   uint32
	SSRC        uint32
}

// Encode writes the 12-byte header into buf[:HeaderLen] and returns the
// number of bytes written. buf must have capacity >= HeaderLen.
func (h *Header) Encode(buf []byte) int {
	buf[0] = (h.Version << 6) | boolBit(h.Padding, 5) | boolBit(h.Extension, 4) | (h.CSRCCount & 0x0f)
	buf[1] = boolBit(h.Marker, 7) | (h.PayloadType & 0x7f)
	binary.BigEndian.PutUint16(buf[2:4], h.Sequence)
	binary.BigEndian.PutUint32(buf[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], h.SSRC)
	return HeaderLen
}

// Decode parses a 12-byte RTP header from buf.
func Decode(buf []byte) (Header, bool) {
	if len(buf) < HeaderLen {
		return Header{}, false
	}
	var h Header
	h.Version = buf[0] >> 6
	h.Padding = buf[0]&0x20 != 0
	h.Extension = buf[0]&0x10 != 0
	h.CSRCCount = buf[0] & 0x0f
	h.Marker = buf[1]&0x80 != 0
	h.PayloadType = buf[1] & 0x7f
	h.Sequence = binary.BigEndian.Uint16(buf[2:4])
	h.Timestamp = binary.BigEndian.Uint32(buf[4:8])
	h.SSRC = binary.BigEndian.Uint32(buf[8:12])
	return h, true
}

func boolBit(v bool, shift uint) byte {
	if v {
		return 1 << shift
	}
	return 0
}

// State tracks the per-direction sequence/timestamp/sync machinery spec.md
// §3 "RTP state" and §4.4 describe. One State belongs to exactly one
// transport direction (encoder or decoder).
type State struct {
	Synced      bool
	Sequence    uint16
	PCMFrames   uint32 // accumulator of PCM frames sent/received this stream
	SampleRate  uint32 // PCM sample rate
	ClockRate   uint32 // RTP clock rate (usually == sample rate for A2DP)
	TSOffset    uint32

	// receive-only sync anchors, valid once Synced is true
	peerSeqAnchor uint16
	peerTSAnchor  uint32
}

// NewState creates sender/receiver RTP state with a randomized initial
// sequence number and timestamp offset, per spec.md §3: "Initial sequence
// and offset are randomized."
func NewState(sampleRate, clockRate uint32) *State {
	return &State{
		Sequence:   randomUint16(),
		TSOffset:   randomUint32(),
		SampleRate: sampleRate,
		ClockRate:  clockRate,
	}
}

func randomUint16() uint16 {
	var b [2]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint16(b[:])
}

func randomUint32() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

// NextHeader advances the sender's sequence number by exactly one (modulo
// 2^16) and recomputes the timestamp as
// ts_offset + round_up_half(pcm_frames * clockrate / samplerate),
// satisfying the invariant in spec.md §8.
func (s *State) NextHeader(pcmFrames uint32, payloadType uint8, marker bool) Header {
	s.Sequence++
	s.PCMFrames += pcmFrames
	ts := s.TSOffset + roundUpHalf(uint64(s.PCMFrames)*uint64(s.ClockRate), uint64(s.SampleRate))
	return Header{
		Version:     2,
		Marker:      marker,
		PayloadType: payloadType,
		Sequence:    s.Sequence,
		Timestamp:   ts,
		SSRC:        0,
	}
}

// roundUpHalf computes round(num/den) using round-half-up semantics so the
// result matches a systems-language `(num + den/2) / den` rounding idiom.
func roundUpHalf(num, den uint64) uint32 {
	if den == 0 {
		return 0
	}
	return uint32((num + den/2) / den)
}

// SyncResult reports the gap analysis spec.md §4.4 assigns to sync_stream:
// on the first packet it establishes the anchor; on later packets it
// reports any sequence gap and any timestamp gap converted to PCM frames.
type SyncResult struct {
	FirstPacket       bool
	MissingRTPFrames  uint16
	MissingPCMFrames  uint32
}

// Sync processes one received header, establishing the synchronization
// anchor on first call and reporting gaps afterward (spec.md §4.4, §8).
func (s *State) Sync(h Header) SyncResult {
	if !s.Synced {
		s.Synced = true
		s.peerSeqAnchor = h.Sequence
		s.peerTSAnchor = h.Timestamp
		s.Sequence = h.Sequence
		return SyncResult{FirstPacket: true}
	}

	expectedSeq := s.peerSeqAnchor + 1
	missingSeq := uint16(h.Sequence - expectedSeq)
	s.peerSeqAnchor = h.Sequence

	tsDelta := h.Timestamp - s.peerTSAnchor
	s.peerTSAnchor = h.Timestamp

	// The frame just received is not itself "missing"; only the gap before
	// it is. The timestamp advance spans missingSeq+1 frames, of which
	// missingSeq were lost. A zero sequence gap implies no PCM frames were
	// skipped either.
	pcmDelta := uint64(tsDelta) * uint64(s.SampleRate) / uint64(maxu32(s.ClockRate, 1))
	missingPCM := uint32(pcmDelta * uint64(missingSeq) / (uint64(missingSeq) + 1))

	return SyncResult{
		MissingRTPFrames: missingSeq,
		MissingPCMFrames: missingPCM,
	}
}

func maxu32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// MediaSubHeader is the one-byte generic-media payload sub-header spec.md
// §4.4 describes for non-MPEG, non-LHDC codecs: fragmented/first/last bits
// and a 4-bit frame count.
type MediaSubHeader struct {
	Fragmented bool
	First      bool
	Last       bool
	FrameCount uint8
}

// Encode packs the sub-header into a single byte.
func (m MediaSubHeader) Encode() byte {
	var b byte
	if m.Fragmented {
		b |= 1 << 7
	}
	if m.First {
		b |= 1 << 6
	}
	if m.Last {
		b |= 1 << 5
	}
	b |= m.FrameCount & 0x0f
	return b
}

// DecodeMediaSubHeader unpacks a single sub-header byte.
func DecodeMediaSubHeader(b byte) MediaSubHeader {
	return MediaSubHeader{
		Fragmented: b&(1<<7) != 0,
		First:      b&(1<<6) != 0,
		Last:       b&(1<<5) != 0,
		FrameCount: b & 0x0f,
	}
}

// PayloadOffset returns the byte offset into a packet where the payload
// (past the RTP header and any codec sub-header) begins, mirroring init()
// returning "the pointer to the payload area past the sub-header".
func PayloadOffset(subHeaderLen int) int {
	return HeaderLen + subHeaderLen
}
