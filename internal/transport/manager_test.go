package transport

import (
	"testing"
	"time"

	"github.com/bluealsa/bluealsa-go/internal/notify"
	"github.com/stretchr/testify/require"
)

func TestThreadStartTwiceRejectsSecond(t *testing.T) {
	th := newThread()
	_, _, ok1 := th.Start()
	require.True(t, ok1)
	_, _, ok2 := th.Start()
	require.False(t, ok2, "a thread already starting/running must reject a second Start")
}

func TestThreadMarkRunningThenCancelJoins(t *testing.T) {
	th := newThread()
	stop, done, ok := th.Start()
	require.True(t, ok)
	th.MarkRunning()
	require.Equal(t, ThreadRunning, th.State())

	go func() {
		<-stop
		close(done)
	}()

	cancelDone := make(chan struct{})
	go func() {
		th.Cancel()
		close(cancelDone)
	}()

	select {
	case <-cancelDone:
	case <-time.After(time.Second):
		t.Fatal("Cancel did not return after worker closed done")
	}
	require.Equal(t, ThreadNone, th.State())
}

func TestThreadCancelOnNeverStartedIsNoop(t *testing.T) {
	th := newThread()
	th.Cancel()
	require.Equal(t, ThreadNone, th.State())
}

func TestThreadManagerAnyRunning(t *testing.T) {
	tr := New(newTestDevice(), ProfileA2DPSink, ":1.1", "/path", &fakeAcquirer{fd: 1})
	m := tr.Manager()
	require.False(t, m.AnyRunning())

	stop, done, ok := m.Encoder().Start()
	require.True(t, ok)
	m.Encoder().MarkRunning()
	require.True(t, m.AnyRunning())

	go func() {
		<-stop
		close(done)
	}()
	m.StopAll()
	require.False(t, m.AnyRunning())
}

func TestThreadManagerNotifyDeliversSignal(t *testing.T) {
	tr := New(newTestDevice(), ProfileA2DPSink, ":1.1", "/path", &fakeAcquirer{fd: 1})
	m := tr.Manager()
	m.Notify(notify.SignalPCMOpen)

	select {
	case sig := <-m.Pipe().C():
		require.Equal(t, notify.SignalPCMOpen, sig)
	case <-time.After(time.Second):
		t.Fatal("notify signal not delivered")
	}
}
