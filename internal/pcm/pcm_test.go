package pcm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPercentToCentiDBFloorAndCeiling(t *testing.T) {
	require.Equal(t, int16(MinCentiDB), PercentToCentiDB(0))
	require.Equal(t, int16(MaxCentiDB), PercentToCentiDB(100))
}

func TestBTVolumeRoundTrip(t *testing.T) {
	for _, pct := range []int{0, 25, 50, 75, 100} {
		db := PercentToCentiDB(pct)
		bt := BTVolumeFromCentiDB(db, 15)
		require.True(t, bt <= 15)
		back := CentiDBFromBTVolume(bt, 15)
		// lossy quantization through a 4-bit scale; just bound the error
		require.InDelta(t, int(db), int(back), 700)
	}
}

func TestEndpointOpenCloseIdempotentDescriptor(t *testing.T) {
	e := NewEndpoint(ModeSource, 2, 48000, 100)
	e.Open("/tmp/fifo1", "client-a")
	require.True(t, e.Active())
	require.Equal(t, "/tmp/fifo1", e.FifoPath())

	e.Close()
	require.False(t, e.Active())

	e.Open("/tmp/fifo1", "client-b")
	require.True(t, e.Active())
	require.Equal(t, "/tmp/fifo1", e.FifoPath())
}

func TestChannelVolumeMonoIgnoresIndex1(t *testing.T) {
	e := NewEndpoint(ModeSink, 1, 44100, 100)
	before := e.ChannelVolume(1)
	e.SetChannelVolume(1, Channel{LevelCentiDB: -4000})
	require.Equal(t, before, e.ChannelVolume(1))
}

func TestLockPairFixedOrderAvoidsDeadlock(t *testing.T) {
	a := NewEndpoint(ModeSource, 2, 48000, 100)
	b := NewEndpoint(ModeSink, 2, 48000, 100)

	done := make(chan struct{})
	go func() {
		unlock := LockPair(a, b)
		unlock()
		close(done)
	}()
	go func() {
		unlock := LockPair(b, a) // reversed call-site order
		unlock()
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("LockPair deadlocked on reversed argument order")
	}
}

func TestWaitDrainedTimesOutWithoutMark(t *testing.T) {
	e := NewEndpoint(ModeSource, 2, 48000, 100)
	timeout := time.After(20 * time.Millisecond)
	require.False(t, e.WaitDrained(timeout))
}

func TestWaitDrainedSucceedsAfterMark(t *testing.T) {
	e := NewEndpoint(ModeSource, 2, 48000, 100)
	go func() {
		time.Sleep(5 * time.Millisecond)
		e.MarkDrained()
	}()
	require.True(t, e.WaitDrained(time.After(time.Second)))
}

func TestFormatAccessors(t *testing.T) {
	require.Equal(t, 16, FormatS16LE.Width())
	require.Equal(t, 2, FormatS16LE.Bytes())
	require.True(t, FormatS16LE.Signed())
	require.False(t, FormatS16LE.BigEndian())
}
