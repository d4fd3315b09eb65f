package midi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluealsa/bluealsa-go/internal/registry"
)

func newTestDevice(t *testing.T) *registry.Device {
	t.Helper()
	reg := registry.NewRegistry()
	a, err := reg.CreateAdapter(0, "hci0", "00:00:00:00:00:00", 0)
	require.NoError(t, err)
	return a.LookupOrCreateDevice("AA:BB:CC:DD:EE:FF", "peer")
}

func TestNewTransportWiresSequencerAndSockets(t *testing.T) {
	dev := newTestDevice(t)
	seq := NewLoopbackSequencer()

	tr, err := New(dev, "/org/bluealsa/hci0/dev_AA_BB_CC_DD_EE_FF/midi", seq)
	require.NoError(t, err)
	defer tr.Close()

	require.Equal(t, "midi", tr.Transport().Profile())
	require.NotNil(t, tr.Transport().MIDI)
	require.GreaterOrEqual(t, tr.Transport().MIDI.WriteSocketFD, 0)
	require.GreaterOrEqual(t, tr.Transport().MIDI.NotifySocketFD, 0)
}

func TestWriteValueForwardsToSequencerAndNotifySocket(t *testing.T) {
	dev := newTestDevice(t)
	seq := NewLoopbackSequencer()
	tr, err := New(dev, "/test/midi", seq)
	require.NoError(t, err)
	defer tr.Close()

	packet := []byte{0x80, 0x80, 0x90, 60, 100}
	require.NoError(t, tr.WriteValue(packet, nil))

	ev, err := seq.Receive()
	require.NoError(t, err)
	require.Equal(t, []byte{0x90, 60, 100}, ev.Data)

	buf := make([]byte, 16)
	tr.notifySock.SetReadDeadline(time.Now().Add(time.Second))
	n, err := tr.notifySock.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0x90, 60, 100}, buf[:n])
}

func TestStartStopNotifyIdempotent(t *testing.T) {
	dev := newTestDevice(t)
	seq := NewLoopbackSequencer()
	tr, err := New(dev, "/test/midi2", seq)
	require.NoError(t, err)
	defer tr.Close()

	tr.StartNotify()
	tr.StartNotify() // no-op second call
	tr.StopNotify()
	tr.StopNotify() // no-op second call
}
