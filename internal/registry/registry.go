// Package registry implements the process-wide adapter/device collection
// described in spec.md §3 (Adapter, Device) and §4.1: an array of Adapter
// slots, each owning a mutex-guarded map of devices, each device owning a
// mutex-guarded map of transports keyed by D-Bus object path.
//
// The lookup-or-create pattern and the shared-ownership/reference-counting
// discipline are adapted from the teacher's bluetooth/linux.go adapters map
// and bluetooth/resource_manager.go Register/Unregister pair, generalized
// from gobot's single flat resource table to the two-level adapter->device
// tree spec.md requires.
package registry

import (
	"fmt"
	"sync"
)

// MaxAdapters bounds the adapter slot array, matching the OS's practical
// limit on local Bluetooth controllers (spec.md §4.1: "bounded by the OS's
// maximum Bluetooth adapters").
const MaxAdapters = 16

// Transport is the minimal handle the registry needs from a transport: a
// stable identity and the reference-counting hooks described in spec.md
// §4.1. The concrete implementation (A2DP/SCO/MIDI variants, I/O threads)
// lives in internal/transport, which depends on this package — not the
// other way around, so the object graph has one import direction.
type Transport interface {
	Path() string
	Profile() string
	Ref()
	Unref() (remaining int32)
}

// Adapter represents one local Bluetooth controller (spec.md §3 Adapter).
type Adapter struct {
	ID          int
	Name        string // "hciX"
	Address     string
	FeatureBits uint64 // used for eSCO detection
	ObjectPath  string // exported object path
	BlueZPath   string // mirror of the system Bluetooth daemon's adapter path

	mu      sync.Mutex
	devices map[string]*Device // keyed by remote device address
}

// AppleExtension carries the vendor/product/software-version/feature/docked
// state spec.md §3 assigns to a Device's Apple-extension fields.
type AppleExtension struct {
	Vendor          uint16
	Product         uint16
	SoftwareVersion string
	FeatureBits     uint32
	Docked          bool
}

// Device represents one remote peer (spec.md §3 Device).
type Device struct {
	Address string
	Name    string

	mu      sync.Mutex
	battery *int // nil == unknown, else 0..100
	apple   AppleExtension

	Adapter *Adapter

	tmu        sync.Mutex
	transports map[string]Transport // keyed by D-Bus object path
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Registry is the process-wide adapter collection.
type Registry struct {
	mu   sync.Mutex
	slot [MaxAdapters]*Adapter
}

// CreateAdapter installs a new Adapter at its id slot. Returns an error if
// the id is out of range or already occupied (the daemon should only ever
// observe each hciX index once while it is present on the bus).
func (r *Registry) CreateAdapter(id int, name, address string, features uint64) (*Adapter, error) {
	if id < 0 || id >= MaxAdapters {
		return nil, fmt.Errorf("registry: adapter id %d out of range [0,%d)", id, MaxAdapters)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slot[id] != nil {
		return nil, fmt.Errorf("registry: adapter id %d already registered", id)
	}
	a := &Adapter{
		ID:          id,
		Name:        name,
		Address:     address,
		FeatureBits: features,
		devices:     make(map[string]*Device),
	}
	r.slot[id] = a
	return a, nil
}

// Adapter returns the adapter at id, or nil if absent.
func (r *Registry) Adapter(id int) *Adapter {
	if id < 0 || id >= MaxAdapters {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slot[id]
}

// RemoveAdapter destroys the adapter at id, invalidating the registry's
// reference. Callers must have already torn down its devices/transports.
func (r *Registry) RemoveAdapter(id int) {
	if id < 0 || id >= MaxAdapters {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slot[id] = nil
}

// Adapters returns a snapshot slice of the currently registered adapters.
func (r *Registry) Adapters() []*Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Adapter, 0, MaxAdapters)
	for _, a := range r.slot {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

// LookupOrCreateDevice implements the lookup-or-create pattern of spec.md
// §4.1: "lock, try lookup (ref++ on hit), otherwise create and insert,
// unlock." BlueALSA devices have no independent refcount of their own (they
// live and die with their transport map), so "ref++" here means "return the
// existing *Device unchanged."
func (a *Adapter) LookupOrCreateDevice(address, name string) *Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	if d, ok := a.devices[address]; ok {
		return d
	}
	d := &Device{
		Address:    address,
		Name:       name,
		Adapter:    a,
		transports: make(map[string]Transport),
	}
	a.devices[address] = d
	return d
}

// Device returns the device at address, or nil.
func (a *Adapter) Device(address string) *Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.devices[address]
}

// Devices returns a snapshot of the adapter's devices.
func (a *Adapter) Devices() []*Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Device, 0, len(a.devices))
	for _, d := range a.devices {
		out = append(out, d)
	}
	return out
}

// RemoveDevice drops a device from the adapter's map. The caller must have
// already destroyed all of its transports (spec.md §3 Device: "destroyed
// when last transport drops").
func (a *Adapter) RemoveDevice(address string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.devices, address)
}

// Battery returns the device's last-known battery percentage and whether it
// is known at all (spec.md §3 Device: "optional battery level (0-100 or
// 'unknown')").
func (d *Device) Battery() (level int, known bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.battery == nil {
		return 0, false
	}
	return *d.battery, true
}

// SetBattery records a new battery percentage, clamped to [0,100].
func (d *Device) SetBattery(level int) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.battery = &level
}

// Apple returns a copy of the device's Apple-extension state.
func (d *Device) Apple() AppleExtension {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.apple
}

// SetApple updates the device's Apple-extension state.
func (d *Device) SetApple(ext AppleExtension) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.apple = ext
}

// AddTransport inserts t under its own Path() key. Returns an error if a
// transport is already registered at that path (spec.md invariant: one
// transport per D-Bus path).
func (d *Device) AddTransport(t Transport) error {
	d.tmu.Lock()
	defer d.tmu.Unlock()
	if _, ok := d.transports[t.Path()]; ok {
		return fmt.Errorf("registry: transport already exists at %s", t.Path())
	}
	d.transports[t.Path()] = t
	return nil
}

// Transport looks up a transport by D-Bus path.
func (d *Device) Transport(path string) (Transport, bool) {
	d.tmu.Lock()
	defer d.tmu.Unlock()
	t, ok := d.transports[path]
	return t, ok
}

// Transports returns a snapshot of the device's transports.
func (d *Device) Transports() []Transport {
	d.tmu.Lock()
	defer d.tmu.Unlock()
	out := make([]Transport, 0, len(d.transports))
	for _, t := range d.transports {
		out = append(out, t)
	}
	return out
}

// RemoveTransport drops a transport from the device's map and reports how
// many remain, so callers can decide whether the device itself should now
// be destroyed (spec.md §3 Device lifecycle).
func (d *Device) RemoveTransport(path string) (remaining int) {
	d.tmu.Lock()
	defer d.tmu.Unlock()
	delete(d.transports, path)
	return len(d.transports)
}
