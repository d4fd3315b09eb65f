package transport

import (
	"sync"

	"github.com/bluealsa/bluealsa-go/internal/notify"
)

// ThreadState is the lifecycle of one I/O thread (encoder or decoder),
// spec.md §4.2: "each I/O thread is {none, starting, running, stopping}".
type ThreadState int

const (
	ThreadNone ThreadState = iota
	ThreadStarting
	ThreadRunning
	ThreadStopping
)

// String renders the thread state for logging.
func (s ThreadState) String() string {
	switch s {
	case ThreadNone:
		return "none"
	case ThreadStarting:
		return "starting"
	case ThreadRunning:
		return "running"
	case ThreadStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Thread tracks one cooperatively-cancelled I/O goroutine (the A2DP
// encoder/decoder, or the SCO read/write pump). Cancellation is a closed
// channel, not an OS-level thread kill, per the Go-idiomatic redesign of
// spec.md §9: "Thread cancellation becomes cooperative (context/channel),
// not OS thread cancellation."
type Thread struct {
	mu    sync.Mutex
	state ThreadState
	stop  chan struct{}
	done  chan struct{}
}

func newThread() *Thread {
	return &Thread{state: ThreadNone}
}

// State reads the current thread state.
func (th *Thread) State() ThreadState {
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.state
}

// Start transitions none/stopping->starting and returns the channels the
// worker goroutine should select on (stop) and close when it exits (done).
// Returns ok=false if a thread is already starting or running.
func (th *Thread) Start() (stop <-chan struct{}, done chan<- struct{}, ok bool) {
	th.mu.Lock()
	defer th.mu.Unlock()
	if th.state == ThreadStarting || th.state == ThreadRunning {
		return nil, nil, false
	}
	th.state = ThreadStarting
	th.stop = make(chan struct{})
	th.done = make(chan struct{})
	return th.stop, th.done, true
}

// MarkRunning transitions starting->running, called by the worker once its
// setup (e.g. codec init) succeeds.
func (th *Thread) MarkRunning() {
	th.mu.Lock()
	defer th.mu.Unlock()
	if th.state == ThreadStarting {
		th.state = ThreadRunning
	}
}

// Cancel requests the worker stop and blocks until its done channel closes.
// Safe to call when the thread is already stopped.
func (th *Thread) Cancel() {
	th.mu.Lock()
	if th.state == ThreadNone {
		th.mu.Unlock()
		return
	}
	th.state = ThreadStopping
	stop, done := th.stop, th.done
	th.mu.Unlock()

	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	if done != nil {
		<-done
	}

	th.mu.Lock()
	th.state = ThreadNone
	th.mu.Unlock()
}

// Running reports whether the thread is starting or running, the
// contribution this thread makes to the Transport ref-count invariant of
// spec.md §8.
func (th *Thread) Running() bool {
	s := th.State()
	return s == ThreadStarting || s == ThreadRunning
}

// ThreadManager owns a Transport's encoder/decoder threads and the
// notification pipe used to wake them (spec.md §4.2 "Transport thread
// manager"). It generalizes the teacher's resource_manager.go cleanup-loop
// idea (a single goroutine reacting to signals on a channel) from a flat
// resource table to per-transport encoder/decoder pairs.
type ThreadManager struct {
	t *Transport

	pipe *notify.Pipe

	encoder *Thread
	decoder *Thread

	idleMu   sync.Mutex
	idleQuit chan struct{} // not read or closed by any method; the manager runs no keep-alive watchdog
}

// NewThreadManager creates a manager bound to t, with both threads in
// ThreadNone and a fresh notification pipe.
func NewThreadManager(t *Transport) *ThreadManager {
	return &ThreadManager{
		t:       t,
		pipe:    notify.NewPipe(),
		encoder: newThread(),
		decoder: newThread(),
	}
}

// Pipe returns the notification pipe used to signal this transport's I/O
// loop (spec.md §3 "Transport thread": "wakes on a notification pipe
// carrying one of a fixed signal set").
func (m *ThreadManager) Pipe() *notify.Pipe { return m.pipe }

// Encoder returns the encoder-direction thread handle (sink playback path).
func (m *ThreadManager) Encoder() *Thread { return m.encoder }

// Decoder returns the decoder-direction thread handle (source capture path).
func (m *ThreadManager) Decoder() *Thread { return m.decoder }

// AnyRunning reports whether either thread is starting or running, used to
// decide whether the BT socket can be released (spec.md §4.2: "release the
// BT socket only once both threads have stopped").
func (m *ThreadManager) AnyRunning() bool {
	return m.encoder.Running() || m.decoder.Running()
}

// Ping wakes the I/O loop without requesting a specific action, e.g. after
// a PCM volume change that doesn't need a full pause/resume cycle.
func (m *ThreadManager) Ping() { m.pipe.Send(notify.SignalPing) }

// Notify sends a named signal to the I/O loop (spec.md §3 notification
// set: ping, pcm-open, pcm-close, pcm-pause, pcm-resume, pcm-sync,
// pcm-drop).
func (m *ThreadManager) Notify(sig notify.Signal) { m.pipe.Send(sig) }

// StopAll cancels both threads (idempotent) and closes the notification
// pipe, the terminal step of spec.md §4.1's dependency-ordered Transport
// teardown ("thread manager joined" before "PCMs released").
func (m *ThreadManager) StopAll() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); m.encoder.Cancel() }()
	go func() { defer wg.Done(); m.decoder.Cancel() }()
	wg.Wait()
	m.pipe.Close()
}
