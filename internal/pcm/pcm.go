// Package pcm implements the per-direction PCM FIFO endpoint and the
// multi-client mixer described in spec.md §3 "PCM endpoint" and §4.6's
// mention of fan-in/fan-out sharing.
package pcm

import (
	"math"
	"sync"
	"unsafe"
)

// Mode tags a PCM endpoint's direction relative to the local client, not the
// Bluetooth link (spec.md §3: "a mode tag in {source, sink}").
type Mode uint8

const (
	ModeSource Mode = iota // BT -> FIFO reader (client reads)
	ModeSink                // FIFO writer -> BT (client writes)
)

// Format is the 16-bit descriptor spec.md §3 assigns to a PCM endpoint,
// packing sign/width/bytes/endian the way the upstream wire format does.
type Format uint16

// Well-known formats; bit layout: [15:8] width in bits, [7:4] bytes,
// bit 3 signed, bit 2 big-endian, bits [1:0] reserved.
const (
	FormatS16LE Format = (16 << 8) | (2 << 4) | (1 << 3)
	FormatS32LE Format = (32 << 8) | (4 << 4) | (1 << 3)
	FormatU8    Format = (8 << 8) | (1 << 4)
)

// Width returns the sample width in bits.
func (f Format) Width() int { return int(f >> 8) }

// Bytes returns the sample size in bytes.
func (f Format) Bytes() int { return int((f >> 4) & 0x0f) }

// Signed reports whether samples are signed.
func (f Format) Signed() bool { return f&(1<<3) != 0 }

// BigEndian reports whether samples are big-endian on the wire.
func (f Format) BigEndian() bool { return f&(1<<2) != 0 }

// Channel carries the per-channel volume state spec.md §3 describes:
// "a per-channel {level-in-centidB, muted} pair (mono uses index 0 only)".
type Channel struct {
	LevelCentiDB int16
	Muted        bool
}

// Volume floor/ceiling, spec.md §8: "Initial volume at 0 produces -96 dB
// (floor) ... 100 produces the local max (clamped to +96 dB)."
const (
	MinCentiDB = -9600
	MaxCentiDB = 9600
)

// PercentToCentiDB maps an initial-volume percentage (0..100) onto the
// centi-dB scale, floor at MinCentiDB and linear toward MaxCentiDB,
// satisfying the boundary property in spec.md §8.
func PercentToCentiDB(pct int) int16 {
	if pct <= 0 {
		return MinCentiDB
	}
	if pct >= 100 {
		return MaxCentiDB
	}
	span := MaxCentiDB - MinCentiDB
	return int16(MinCentiDB + (pct*span)/100)
}

// BTVolumeFromCentiDB maps a centi-dB level onto the Bluetooth 0..15 gain
// range used by AVRCP/+VGM/+VGS (spec.md §4.5 "+VGM/+VGS map PCM gain from
// and to the Bluetooth 0..15 range").
func BTVolumeFromCentiDB(centiDB int16, ceiling uint8) uint8 {
	if ceiling == 0 {
		ceiling = 15
	}
	frac := float64(int(centiDB)-MinCentiDB) / float64(MaxCentiDB-MinCentiDB)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return uint8(math.Round(frac * float64(ceiling)))
}

// CentiDBFromBTVolume is the inverse of BTVolumeFromCentiDB.
func CentiDBFromBTVolume(v uint8, ceiling uint8) int16 {
	if ceiling == 0 {
		ceiling = 15
	}
	frac := float64(v) / float64(ceiling)
	return int16(MinCentiDB + int(frac*float64(MaxCentiDB-MinCentiDB)))
}

// Endpoint is the PCM FIFO endpoint owned by a Transport (spec.md §3 "PCM
// endpoint"). Exactly one local client can own it at a time; everything
// that mutates shared state (fifo path, client handle, volume) goes through
// the pcms-lock discipline in spec.md §4.1/§5.
type Endpoint struct {
	Mode     Mode
	Format   Format
	Channels uint8
	Sampling uint32
	DelayTenthMs int32

	SoftVolume bool
	MaxBTVolume uint8

	mu      sync.Mutex
	active  bool
	fifoPath string
	client   any // opaque client handle/fd set by the controller

	channels [2]Channel // index 0 used alone when Channels==1

	drainMu sync.Mutex
	drainCh chan struct{}
	drained bool
}

// NewEndpoint creates an endpoint in its torn-down (unopened) state, with
// the initial per-channel volume derived from cfg's percentage per spec.md
// §6 CLI surface (--initial-volume) and §8's floor/ceiling boundary.
func NewEndpoint(mode Mode, channels uint8, sampling uint32, initialVolumePercent int) *Endpoint {
	e := &Endpoint{
		Mode:        mode,
		Format:      FormatS16LE,
		Channels:    channels,
		Sampling:    sampling,
		MaxBTVolume: 15,
	}
	e.drainCh = make(chan struct{})
	level := PercentToCentiDB(initialVolumePercent)
	e.channels[0] = Channel{LevelCentiDB: level}
	e.channels[1] = Channel{LevelCentiDB: level}
	return e
}

// Lock/Unlock implement the "pcms_lock/pcms_unlock" discipline of spec.md
// §4.1/§5: callers that need to touch both directions of a transport's PCM
// pair acquire them in a fixed order to avoid deadlock; LockPair below
// does that for a caller holding two endpoints, ordering them by address.
func (e *Endpoint) Lock()   { e.mu.Lock() }
func (e *Endpoint) Unlock() { e.mu.Unlock() }

// LockPair locks two endpoints in a fixed pointer-address order, giving the
// "pcms-lock/unlock pair that acquires both directions in a fixed order to
// avoid deadlock" spec.md §4.1 describes, regardless of call-site order.
func LockPair(a, b *Endpoint) (unlock func()) {
	if a == b || b == nil {
		if a != nil {
			a.Lock()
		}
		return func() {
			if a != nil {
				a.Unlock()
			}
		}
	}
	if a == nil {
		b.Lock()
		return b.Unlock
	}
	first, second := a, b
	if fmtPtrLess(b, a) {
		first, second = b, a
	}
	first.Lock()
	second.Lock()
	return func() {
		second.Unlock()
		first.Unlock()
	}
}

func fmtPtrLess(a, b *Endpoint) bool {
	// Any total order over the two pointers is sufficient; using the
	// uintptr representation keeps this allocation-free.
	return uintptr(unsafe.Pointer(a)) < uintptr(unsafe.Pointer(b))
}

// Open attaches a FIFO path and marks the endpoint active, as the controller
// does on a successful Open (spec.md §4.6 Open protocol).
func (e *Endpoint) Open(fifoPath string, client any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fifoPath = fifoPath
	e.client = client
	e.active = true
}

// Close detaches the FIFO/client and clears the active flag (spec.md §4.6
// Close protocol: "reset the PCM endpoint's fifo/client fields").
func (e *Endpoint) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fifoPath = ""
	e.client = nil
	e.active = false
}

// Active reports whether a client currently owns this endpoint.
func (e *Endpoint) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Client returns the owning client handle, or nil.
func (e *Endpoint) Client() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client
}

// FifoPath returns the attached FIFO path, or "" if not open.
func (e *Endpoint) FifoPath() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fifoPath
}

// SetChannelVolume writes one channel's level/mute pair. Index 1 is ignored
// for mono endpoints (spec.md §3: "mono uses index 0 only").
func (e *Endpoint) SetChannelVolume(idx int, c Channel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx < 0 || idx > 1 {
		return
	}
	if e.Channels < 2 && idx == 1 {
		return
	}
	e.channels[idx] = c
}

// ChannelVolume reads one channel's level/mute pair.
func (e *Endpoint) ChannelVolume(idx int) Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx < 0 || idx > 1 {
		return Channel{}
	}
	return e.channels[idx]
}

// MarkDrained signals any Drain waiter that the transport's buffers are
// empty (spec.md §4.6 Drain: "waits on the drained condition").
func (e *Endpoint) MarkDrained() {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()
	if !e.drained {
		e.drained = true
		close(e.drainCh)
	}
}

// ResetDrained clears the drained flag, called when new frames start
// flowing again after a Drain completed.
func (e *Endpoint) ResetDrained() {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()
	if e.drained {
		e.drained = false
		e.drainCh = make(chan struct{})
	}
}

// WaitDrained blocks until MarkDrained is called or timeoutCh fires,
// returning whether the endpoint drained in time (spec.md §5 Timeouts:
// "Drain = codec-dependent upper bound").
func (e *Endpoint) WaitDrained(timeoutCh <-chan struct{}) bool {
	e.drainMu.Lock()
	ch := e.drainCh
	e.drainMu.Unlock()
	select {
	case <-ch:
		return true
	case <-timeoutCh:
		return false
	}
}
