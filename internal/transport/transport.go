// Package transport implements the Transport object and its thread manager
// (spec.md §3 "Transport", "Transport thread"; §4.1 Ownership rules; §4.2
// Transport thread manager; §9 Polymorphism note on acquire/release).
//
// The reference-counted lifecycle here generalizes the teacher's
// bluetooth/resource_manager.go Register/Unregister/Cleanup discipline from
// a flat resource table to the acquire/release capability dispatch spec.md
// assigns to A2DP, native-SCO, and oFono-SCO transports.
package transport

import (
	"sync"
	"sync/atomic"

	"github.com/bluealsa/bluealsa-go/internal/codec"
	"github.com/bluealsa/bluealsa-go/internal/pcm"
	"github.com/bluealsa/bluealsa-go/internal/registry"
)

// Profile is the BlueALSA profile tag carried by every Transport.
type Profile string

const (
	ProfileA2DPSource Profile = "a2dp-source"
	ProfileA2DPSink   Profile = "a2dp-sink"
	ProfileHFPAG      Profile = "hfp-ag"
	ProfileHFPHF      Profile = "hfp-hf"
	ProfileHSPAG      Profile = "hsp-ag"
	ProfileHSPHS      Profile = "hsp-hs"
	ProfileMIDI       Profile = "midi"
)

// IsA2DP reports whether the profile is one of the A2DP source/sink roles.
func (p Profile) IsA2DP() bool { return p == ProfileA2DPSource || p == ProfileA2DPSink }

// IsSCO reports whether the profile is one of the telephony roles that uses
// a SCO link (HFP/HSP, either role).
func (p Profile) IsSCO() bool {
	switch p {
	case ProfileHFPAG, ProfileHFPHF, ProfileHSPAG, ProfileHSPHS:
		return true
	default:
		return false
	}
}

// A2DPState is the transport state machine of spec.md §3/§8:
// "a2dp_state ∈ {idle, pending, broadcasting, active} and transitions only
// come from bus property-change events or internal stop."
type A2DPState int

const (
	A2DPIdle A2DPState = iota
	A2DPPending
	A2DPBroadcasting
	A2DPActive
)

// Acquirer is the capability spec.md §9 describes: "The acquire/release
// function pointers on Transport enable three implementations (native A2DP,
// native SCO via BlueZ, oFono SCO)." Express as a capability set dispatched
// by variant rather than C function pointers.
type Acquirer interface {
	// Acquire obtains the Bluetooth socket fd for this transport, probing
	// MTU/queue state at the same time (spec.md §9 open question iii).
	Acquire() (fd int, readMTU, writeMTU int, err error)
	// Release closes/returns the Bluetooth socket.
	Release() error
}

// A2DPData carries the A2DP-only fields of spec.md §3 Transport.
type A2DPData struct {
	RemoteEndpointPath string
	CodecID            string
	Config             codec.Config
	State              A2DPState
	DelayReporting     bool
	Delay              uint16 // 1/10 ms units, as reported to the peer
	Main               *pcm.Endpoint
	Back               *pcm.Endpoint // optional back-channel (e.g. A2DP source mic)
	InitialOutQueue    int           // TIOCOUTQ anchor; Acquire does not set it, so it stays 0
}

// SCOData carries the SCO-only fields of spec.md §3 Transport.
type SCOData struct {
	RFCOMMPath  string // native HFP/HSP association, mutually exclusive with...
	OfonoCard   string // ...the oFono card/modem path pair
	OfonoModem  string
	Speaker     *pcm.Endpoint // outgoing for AG, incoming for HS
	Microphone  *pcm.Endpoint
	LastClosed  int64 // unix nanos, 0 if never closed
}

// MIDIData carries the BLE-MIDI transport's fields.
type MIDIData struct {
	WriteSocketFD  int
	NotifySocketFD int
	SeqPort        int
	SeqQueue       int
}

// Transport is a single profile endpoint on a device (spec.md §3
// "Transport"). Exactly one of A2DP/SCO/MIDI is non-nil, matching "Variants
// carry disjoint state."
type Transport struct {
	ProfileTag Profile
	Owner    string // D-Bus name of the owning client (BlueZ/oFono)
	path     string
	device   *registry.Device

	A2DP *A2DPData
	SCO  *SCOData
	MIDI *MIDIData

	codecMu sync.Mutex // guards A2DP.CodecID / A2DP.Config, or SCO codec state

	fdMu sync.Mutex
	fd   int // -1 when not acquired
	readMTU, writeMTU int

	acquireMu sync.Mutex
	cap       Acquirer

	refCount int32

	stopping atomic.Bool

	manager *ThreadManager

	scoCodecID string // guarded by codecMu; set via SetSCOCodec
}

// New creates a Transport owned by device, with refCount 1 for the
// registry's own reference (spec.md §4.1: "Transport new takes the owning
// device (ref++)...").
func New(device *registry.Device, profile Profile, owner, path string, cap Acquirer) *Transport {
	t := &Transport{
		ProfileTag: profile,
		Owner:    owner,
		path:     path,
		device:   device,
		fd:       -1,
		refCount: 1,
		cap:      cap,
	}
	t.manager = NewThreadManager(t)
	return t
}

// Path implements registry.Transport.
func (t *Transport) Path() string { return t.path }

// Profile implements registry.Transport.
func (t *Transport) Profile() string { return string(t.ProfileTag) }

var _ registry.Transport = (*Transport)(nil)

// Ref increments the reference count (spec.md §4.1 ownership rules: each
// interested party holds exactly one ref).
func (t *Transport) Ref() { atomic.AddInt32(&t.refCount, 1) }

// Unref decrements the reference count and, at zero, runs Destroy: threads
// stopped, Bluetooth socket released, transport dropped from its device.
// Unexporting the transport's D-Bus objects is left to the caller.
func (t *Transport) Unref() int32 {
	n := atomic.AddInt32(&t.refCount, -1)
	if n == 0 {
		t.Destroy()
	}
	return n
}

// RefCount reports the current reference count, used by the invariant in
// spec.md §8: "ref_count >= 1 + (encoder_running?) + (decoder_running?) +
// (manager_running?) + (open_pcm_clients)".
func (t *Transport) RefCount() int32 { return atomic.LoadInt32(&t.refCount) }

// Stopping reports whether Destroy has begun.
func (t *Transport) Stopping() bool { return t.stopping.Load() }

// Manager returns the transport's thread manager.
func (t *Transport) Manager() *ThreadManager { return t.manager }

// Destroy implements spec.md §4.1's "Transport destroy" operation: flip the
// stopping flag, cancel both I/O threads via the thread manager, release the
// Bluetooth socket, and drop the transport from its owning device's map
// (destroying the device in turn once its last transport drops, per spec.md
// §3 Device lifecycle: "destroyed when last transport drops"). Idempotent,
// per the §8 testable property "Destroying a transport twice is safe and a
// no-op the second time" — only the goroutine that flips stopping from false
// to true runs the teardown.
func (t *Transport) Destroy() {
	if !t.stopping.CompareAndSwap(false, true) {
		return
	}
	t.manager.StopAll()
	_ = t.ReleaseBT()
	if t.device == nil {
		return
	}
	remaining := t.device.RemoveTransport(t.path)
	if remaining == 0 && t.device.Adapter != nil {
		t.device.Adapter.RemoveDevice(t.device.Address)
	}
}

// FD returns the current Bluetooth socket fd (-1 if not acquired) under the
// fd mutex (spec.md §3 invariant (b): "The BT fd can be assigned or closed
// only under the fd mutex").
func (t *Transport) FD() int {
	t.fdMu.Lock()
	defer t.fdMu.Unlock()
	return t.fd
}

// MTUs returns the read/write MTUs captured at acquire time (spec.md §9 open
// question iii: not refreshed if the peer renegotiates mid-stream).
func (t *Transport) MTUs() (read, write int) {
	t.fdMu.Lock()
	defer t.fdMu.Unlock()
	return t.readMTU, t.writeMTU
}

// SetAcquirer installs the acquisition strategy after construction, for
// callers (like internal/hfp) that need a transport's own path/identity
// before they can build the Acquirer that closes over it.
func (t *Transport) SetAcquirer(cap Acquirer) {
	t.acquireMu.Lock()
	defer t.acquireMu.Unlock()
	t.cap = cap
}

// Acquire obtains the Bluetooth socket, serializing concurrent acquirers
// under the acquisition mutex (spec.md §3: "an acquisition mutex (so only
// one actor can acquire at a time)").
func (t *Transport) Acquire() (int, error) {
	t.acquireMu.Lock()
	defer t.acquireMu.Unlock()

	t.fdMu.Lock()
	if t.fd >= 0 {
		fd := t.fd
		t.fdMu.Unlock()
		return fd, nil
	}
	t.fdMu.Unlock()

	fd, rmtu, wmtu, err := t.cap.Acquire()
	if err != nil {
		return -1, err
	}
	t.fdMu.Lock()
	t.fd = fd
	t.readMTU = rmtu
	t.writeMTU = wmtu
	t.fdMu.Unlock()
	return fd, nil
}

// ReleaseBT releases the Bluetooth socket under the fd mutex, idempotent.
func (t *Transport) ReleaseBT() error {
	t.fdMu.Lock()
	defer t.fdMu.Unlock()
	if t.fd < 0 {
		return nil
	}
	err := t.cap.Release()
	t.fd = -1
	t.readMTU, t.writeMTU = 0, 0
	return err
}

// SetCodec assigns a new codec id/config under the codec mutex (spec.md §3
// invariant (a)).
func (t *Transport) SetCodec(id string, cfg codec.Config) {
	t.codecMu.Lock()
	defer t.codecMu.Unlock()
	if t.A2DP != nil {
		t.A2DP.CodecID = id
		t.A2DP.Config = cfg
	}
}

// Codec reads the current codec id/config under the codec mutex.
func (t *Transport) Codec() (string, codec.Config) {
	t.codecMu.Lock()
	defer t.codecMu.Unlock()
	if t.A2DP != nil {
		return t.A2DP.CodecID, t.A2DP.Config
	}
	return "", codec.Config{}
}

// SetA2DPState transitions the A2DP state machine (spec.md §8: transitions
// only come from bus property-change events or internal stop; enforcing
// that ordering is the caller's responsibility — here we just store it
// under the codec mutex so readers get a consistent snapshot).
func (t *Transport) SetA2DPState(s A2DPState) {
	t.codecMu.Lock()
	defer t.codecMu.Unlock()
	if t.A2DP != nil {
		t.A2DP.State = s
	}
}

// A2DPStateValue reads the current A2DP state.
func (t *Transport) A2DPStateValue() A2DPState {
	t.codecMu.Lock()
	defer t.codecMu.Unlock()
	if t.A2DP != nil {
		return t.A2DP.State
	}
	return A2DPIdle
}

// Visible implements spec.md §3 invariant (c): "a Transport is observable
// to clients (listed, openable) only after it reaches a non-pending codec
// selection — SCO transports with undefined codec are hidden."
func (t *Transport) Visible() bool {
	t.codecMu.Lock()
	defer t.codecMu.Unlock()
	if t.A2DP != nil {
		return t.A2DP.State != A2DPPending && t.A2DP.CodecID != ""
	}
	if t.SCO != nil {
		return t.hasSCOCodec()
	}
	return true // MIDI has no codec-selection gate
}

func (t *Transport) hasSCOCodec() bool {
	return t.SCO != nil && t.scoCodecID != ""
}

// SetSCOCodec records the negotiated SCO codec id (mSBC or CVSD), called by
// the HFP/HSP package once the AT+BCS/codec-connection handshake picks one.
func (t *Transport) SetSCOCodec(id string) {
	t.codecMu.Lock()
	defer t.codecMu.Unlock()
	t.scoCodecID = id
}

// SCOCodecID reads the negotiated SCO codec id, "" if none yet.
func (t *Transport) SCOCodecID() string {
	t.codecMu.Lock()
	defer t.codecMu.Unlock()
	return t.scoCodecID
}
