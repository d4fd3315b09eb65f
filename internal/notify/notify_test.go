package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendDrain(t *testing.T) {
	p := NewPipe()
	p.Send(SignalPCMOpen)
	p.Send(SignalPing)

	got := p.Drain()
	require.Equal(t, []Signal{SignalPCMOpen, SignalPing}, got)
	require.Empty(t, p.Drain())
}

func TestSendAfterCloseIsNoop(t *testing.T) {
	p := NewPipe()
	p.Close()
	require.NotPanics(t, func() { p.Send(SignalPCMClose) })
}

func TestWaitForMatchesPredicate(t *testing.T) {
	p := NewPipe()
	go func() {
		p.Send(SignalPCMOpen)
		p.Send(SignalPCMSync)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, ok := WaitFor(ctx, p, func(s Signal) bool { return s == SignalPCMSync })
	require.True(t, ok)
	require.Equal(t, SignalPCMSync, s)
}

func TestWaitForCancelled(t *testing.T) {
	p := NewPipe()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := WaitFor(ctx, p, func(Signal) bool { return true })
	require.False(t, ok)
}

func TestSignalString(t *testing.T) {
	require.Equal(t, "pcm-drop", SignalPCMDrop.String())
}
