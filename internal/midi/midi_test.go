package midi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeNoteOnNoteOff(t *testing.T) {
	d := NewDecoder()
	// header=0x80, ts=0x00, note-on ch0 (0x90) note 60 vel 100
	packet := []byte{0x80, 0x80, 0x90, 60, 100}
	events, err := d.Decode(packet)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, []byte{0x90, 60, 100}, events[0].Data)
}

func TestDecodeRunningStatus(t *testing.T) {
	d := NewDecoder()
	// header + ts + note-on, then another ts byte + two data bytes (running status)
	packet := []byte{0x80, 0x80, 0x90, 60, 100, 0x81, 61, 101}
	events, err := d.Decode(packet)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, []byte{0x90, 61, 101}, events[1].Data)
	require.Equal(t, uint16(1), events[1].TimestampMS&0x7f)
}

func TestDecodeMissingHeaderByte(t *testing.T) {
	d := NewDecoder()
	_, err := d.Decode([]byte{0x00, 0x90, 60, 100})
	require.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc := NewEncoder()
	events := []Event{{TimestampMS: 5, Data: []byte{0x90, 64, 90}}}
	packet := enc.Encode(events)

	dec := NewDecoder()
	got, err := dec.Decode(packet)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, events[0].Data, got[0].Data)
}

func TestLoopbackSequencerSendReceive(t *testing.T) {
	seq := NewLoopbackSequencer()
	ev := Event{TimestampMS: 1, Data: []byte{0x80, 60, 0}}
	require.NoError(t, seq.Send(ev))
	got, err := seq.Receive()
	require.NoError(t, err)
	require.Equal(t, ev, got)
}
