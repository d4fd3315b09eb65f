package midi

import (
	"errors"
	"sync"
)

// SequencerPort is the ALSA sequencer boundary BLE-MIDI events are relayed
// through (spec.md §3 MIDI: "an ALSA sequencer port/queue triple"). A real
// binding talks to ALSA's seq API via cgo, which is out of scope for the
// retrieved pack in the same way internal/codec's real SBC/AAC bindings
// are (see DESIGN.md) — this interface is the seam a real implementation
// self-registers behind.
type SequencerPort interface {
	// Open allocates a port/queue pair under clientName/portName, returning
	// their ALSA ids (spec.md §3: "an ALSA sequencer port/queue triple").
	Open(clientName, portName string) (port, queue int, err error)
	Close() error
	// Send delivers one decoded BLE-MIDI event to the local ALSA graph.
	Send(ev Event) error
	// Receive blocks for the next event originating from the local ALSA
	// graph, to be re-encoded and sent to the BLE peer via Notify.
	Receive() (Event, error)
}

// LoopbackSequencer is the pure-Go reference SequencerPort: Send enqueues
// onto an internal channel that Receive drains, so a process with no ALSA
// library linked can still exercise the full MIDI transport path in tests.
type LoopbackSequencer struct {
	mu     sync.Mutex
	port   int
	queue  int
	events chan Event
	closed bool
}

// NewLoopbackSequencer creates a ready-to-use loopback sequencer.
func NewLoopbackSequencer() *LoopbackSequencer {
	return &LoopbackSequencer{events: make(chan Event, 64)}
}

// Open implements SequencerPort, assigning fixed stub ids (a real ALSA
// binding would obtain these from snd_seq_create_simple_port).
func (l *LoopbackSequencer) Open(clientName, portName string) (int, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.port, l.queue = 0, 0
	return l.port, l.queue, nil
}

// Close implements SequencerPort.
func (l *LoopbackSequencer) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.events)
	}
	return nil
}

// Send implements SequencerPort.
func (l *LoopbackSequencer) Send(ev Event) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return errors.New("midi: sequencer closed")
	}
	select {
	case l.events <- ev:
		return nil
	default:
		return errors.New("midi: sequencer event queue full")
	}
}

// Receive implements SequencerPort.
func (l *LoopbackSequencer) Receive() (Event, error) {
	ev, ok := <-l.events
	if !ok {
		return Event{}, errors.New("midi: sequencer closed")
	}
	return ev, nil
}
