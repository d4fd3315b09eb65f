// Package notify implements the notification-pipe primitive each transport
// thread uses to receive cooperative signals from the main loop and the
// controller. It generalizes the teacher's pkg/core.Eventer pub/sub channel
// (bluetooth/resource_manager.go's lifecycle and pkg/core/eventer.go's
// fan-out goroutine) from named string events to the fixed small signal set
// spec.md §3/§4.2/§4.3 assigns to a Transport thread.
package notify

import (
	"context"
	"sync"
)

// Signal is one of the fixed notifications a transport thread's pipe can
// carry (spec.md §3 Transport thread, §4.3 step 2).
type Signal int

const (
	SignalPing Signal = iota
	SignalPCMOpen
	SignalPCMClose
	SignalPCMPause
	SignalPCMResume
	SignalPCMSync
	SignalPCMDrop
)

func (s Signal) String() string {
	switch s {
	case SignalPing:
		return "ping"
	case SignalPCMOpen:
		return "pcm-open"
	case SignalPCMClose:
		return "pcm-close"
	case SignalPCMPause:
		return "pcm-pause"
	case SignalPCMResume:
		return "pcm-resume"
	case SignalPCMSync:
		return "pcm-sync"
	case SignalPCMDrop:
		return "pcm-drop"
	default:
		return "unknown"
	}
}

// pipeBuffer bounds how many undelivered signals can queue; once it is full,
// further Sends are dropped rather than blocking the sender.
const pipeBuffer = 16

// Pipe is a single-writer-many-reader notification channel. A transport's
// encoder and decoder worker each hold their own Pipe so pausing one
// direction never blocks the other (spec.md §5: "notifications sent via the
// pipe preserve FIFO order").
type Pipe struct {
	mu     sync.Mutex
	ch     chan Signal
	closed bool
}

// NewPipe creates a ready-to-use notification pipe.
func NewPipe() *Pipe {
	return &Pipe{ch: make(chan Signal, pipeBuffer)}
}

// Send delivers a signal, dropping it rather than blocking if the pipe is
// saturated or already closed — a worker that is not draining its pipe is
// already on its way to "stopping" and will observe the transition some
// other way.
func (p *Pipe) Send(s Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.ch <- s:
	default:
	}
}

// C returns the receive side for use in a select alongside the BT socket and
// PCM FIFO polling (spec.md §4.3 step 1).
func (p *Pipe) C() <-chan Signal {
	return p.ch
}

// Drain consumes and returns every signal currently queued without blocking,
// used when a poll wakeup reports pipe readiness (spec.md §4.3 step 2: "drain
// and apply the signal").
func (p *Pipe) Drain() []Signal {
	var out []Signal
	for {
		select {
		case s := <-p.ch:
			out = append(out, s)
		default:
			return out
		}
	}
}

// Close marks the pipe closed; further Sends are no-ops. Safe to call more
// than once.
func (p *Pipe) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
}

// WaitFor blocks until a signal matching pred arrives, the pipe closes, or
// ctx is cancelled. It is used by cancellation-aware waiters (e.g. drain)
// that need one specific signal rather than to drive the main I/O loop.
func WaitFor(ctx context.Context, p *Pipe, pred func(Signal) bool) (Signal, bool) {
	for {
		select {
		case s, ok := <-p.ch:
			if !ok {
				return 0, false
			}
			if pred(s) {
				return s, true
			}
		case <-ctx.Done():
			return 0, false
		}
	}
}
