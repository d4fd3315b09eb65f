// Package controller implements the external PCM API spec.md §4.6
// describes: a D-Bus manager object exporting ListPCMs/ListServices/Open/
// Close/Pause/Resume/Drain/Drop plus per-PCM property get/set for volume,
// mute, soft-volume, and codec.
//
// Grounded on internal/bluez's Export/GetAll pattern (a Go struct answering
// D-Bus method calls via godbus/dbus/v5's conn.Export) generalized from a
// single BlueZ-facing object to the daemon's own client-facing manager plus
// one PCM1 object per visible PCM direction.
package controller

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"

	"github.com/bluealsa/bluealsa-go/internal/config"
	"github.com/bluealsa/bluealsa-go/internal/logging"
	"github.com/bluealsa/bluealsa-go/internal/notify"
	"github.com/bluealsa/bluealsa-go/internal/pcm"
	"github.com/bluealsa/bluealsa-go/internal/registry"
	"github.com/bluealsa/bluealsa-go/internal/state"
	"github.com/bluealsa/bluealsa-go/internal/transport"
)

var log = logging.Get("controller")

const (
	ManagerIface = "org.bluealsa.Manager1"
	PCMIface     = "org.bluealsa.PCM1"
	ManagerPath  = "/org/bluealsa"

	propsIface = "org.freedesktop.DBus.Properties"
)

// PCMDescriptor is the per-direction snapshot ListPCMs hands back (spec.md
// §4.6: "ListPCMs (returns per-direction PCM descriptors)").
type PCMDescriptor struct {
	Path     dbus.ObjectPath
	Adapter  string
	Device   string
	Profile  string
	Mode     string
	Format   uint16
	Channels uint8
	Sampling uint32
	Codec    string
	Delay    uint16
}

// handle is the bookkeeping the controller keeps for one opened PCM.
type handle struct {
	owner     string // unique bus name of the owning client
	fifoPath  string
	fifoFile  *os.File
	ctrlLocal *os.File // kept open by the daemon for future notifications
	ctrlPeer  *os.File // fd handed to the client
}

// Manager implements org.bluealsa.Manager1 and tracks exported PCM1 objects
// and open client handles (spec.md §4.6 Open/Close protocol).
type Manager struct {
	conn  *dbus.Conn
	cfg   *config.Config
	reg   *registry.Registry
	store *state.Store

	mu       sync.Mutex
	exported map[dbus.ObjectPath]*pcmObject
	opened   map[dbus.ObjectPath]*handle
}

// NewManager builds a controller bound to reg (the live adapter/device
// registry) and store (persisted volume state, may be nil to disable
// persistence).
func NewManager(conn *dbus.Conn, cfg *config.Config, reg *registry.Registry, store *state.Store) *Manager {
	return &Manager{
		conn:     conn,
		cfg:      cfg,
		reg:      reg,
		store:    store,
		exported: make(map[dbus.ObjectPath]*pcmObject),
		opened:   make(map[dbus.ObjectPath]*handle),
	}
}

// Export publishes the Manager1 object at ManagerPath.
func (m *Manager) Export() error {
	return m.conn.Export(m, ManagerPath, ManagerIface)
}

// snapshot walks the registry and returns every visible PCM direction
// (spec.md §3 invariant (c): transports hidden until codec selection
// completes are excluded), exporting a pcmObject for any path not already
// exported.
func (m *Manager) snapshot() []*pcmObject {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*pcmObject
	for _, a := range m.reg.Adapters() {
		for _, d := range a.Devices() {
			for _, rt := range d.Transports() {
				tr, ok := rt.(*transport.Transport)
				if !ok || !tr.Visible() {
					continue
				}
				for _, po := range m.pcmObjectsFor(a, d, tr) {
					if existing, ok := m.exported[po.path]; ok {
						out = append(out, existing)
						continue
					}
					if err := m.conn.Export(po, po.path, propsIface); err != nil {
						log.Warn("export PCM1 object failed", "path", po.path, "err", err)
						continue
					}
					m.exported[po.path] = po
					out = append(out, po)
				}
			}
		}
	}
	return out
}

// pcmObjectsFor builds one pcmObject per live PCM direction a transport
// carries (A2DP has one or two, SCO has exactly two, MIDI has none — BLE-MIDI
// is not PCM-shaped).
func (m *Manager) pcmObjectsFor(a *registry.Adapter, d *registry.Device, tr *transport.Transport) []*pcmObject {
	var out []*pcmObject
	switch {
	case tr.A2DP != nil:
		id, _ := tr.Codec()
		out = append(out, newPCMObject(tr, tr.A2DP.Main, a, d, id, tr.A2DP.Delay, m.store))
		if tr.A2DP.Back != nil {
			out = append(out, newPCMObject(tr, tr.A2DP.Back, a, d, id, tr.A2DP.Delay, m.store))
		}
	case tr.SCO != nil:
		codecID := tr.SCOCodecID()
		if tr.SCO.Speaker != nil {
			out = append(out, newPCMObject(tr, tr.SCO.Speaker, a, d, codecID, uint16(tr.SCO.Speaker.DelayTenthMs), m.store))
		}
		if tr.SCO.Microphone != nil {
			out = append(out, newPCMObject(tr, tr.SCO.Microphone, a, d, codecID, uint16(tr.SCO.Microphone.DelayTenthMs), m.store))
		}
	}
	return out
}

// ListPCMs implements org.bluealsa.Manager1.ListPCMs.
func (m *Manager) ListPCMs() ([]PCMDescriptor, *dbus.Error) {
	var out []PCMDescriptor
	for _, po := range m.snapshot() {
		out = append(out, po.descriptor())
	}
	return out, nil
}

// ListServices implements org.bluealsa.Manager1.ListServices: the currently
// enabled profile set (spec.md §6/SUPPLEMENTED FEATURES: "enumerates which
// profiles are currently enabled").
func (m *Manager) ListServices() ([]string, *dbus.Error) {
	var out []string
	for p, enabled := range m.cfg.Profiles {
		if enabled {
			out = append(out, string(p))
		}
	}
	return out, nil
}

// findPCM resolves a PCM1 object path to its pcmObject, exporting a fresh
// snapshot first in case the client asks about a PCM that appeared since
// the last ListPCMs call.
func (m *Manager) findPCM(path dbus.ObjectPath) (*pcmObject, bool) {
	m.snapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	po, ok := m.exported[path]
	return po, ok
}

// Open implements spec.md §4.6's Open protocol: validate, create the FIFO
// under the state directory, attach it to the endpoint, notify the
// transport thread, and (for A2DP source) lazily acquire the Bluetooth
// socket. Returns the FIFO fd and a control-socket fd.
func (m *Manager) Open(path dbus.ObjectPath, sender dbus.Sender) (dbus.UnixFD, dbus.UnixFD, *dbus.Error) {
	po, ok := m.findPCM(path)
	if !ok {
		return 0, 0, dbus.MakeFailedError(fmt.Errorf("controller: no such PCM %s", path))
	}

	if po.ep.Active() {
		return 0, 0, dbus.MakeFailedError(fmt.Errorf("controller: PCM %s already open", path))
	}

	fifoPath, err := m.fifoPathFor(po)
	if err != nil {
		return 0, 0, dbus.MakeFailedError(err)
	}
	if err := createFIFO(fifoPath); err != nil {
		return 0, 0, dbus.MakeFailedError(err)
	}

	// Opened O_RDWR regardless of direction: the standard trick to avoid a
	// FIFO open blocking (or failing ENXIO) while waiting for a peer on the
	// other end, since the daemon's own I/O loop opens its side separately.
	fifoFile, err := os.OpenFile(fifoPath, os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		os.Remove(fifoPath)
		return 0, 0, dbus.MakeFailedError(fmt.Errorf("controller: open fifo: %w", err))
	}

	ctrlLocal, ctrlPeer, err := socketpair()
	if err != nil {
		fifoFile.Close()
		os.Remove(fifoPath)
		return 0, 0, dbus.MakeFailedError(err)
	}

	h := &handle{owner: string(sender), fifoPath: fifoPath, fifoFile: fifoFile, ctrlLocal: ctrlLocal, ctrlPeer: ctrlPeer}

	po.ep.Open(fifoPath, h)
	po.ep.ResetDrained()

	if po.tr.A2DP != nil && po.tr.ProfileTag == transport.ProfileA2DPSource {
		if _, err := po.tr.Acquire(); err != nil {
			po.ep.Close()
			fifoFile.Close()
			ctrlLocal.Close()
			ctrlPeer.Close()
			os.Remove(fifoPath)
			return 0, 0, dbus.MakeFailedError(fmt.Errorf("controller: acquire BT socket: %w", err))
		}
	}

	m.mu.Lock()
	m.opened[path] = h
	m.mu.Unlock()

	po.notify(notify.SignalPCMOpen)

	return dbus.UnixFD(fifoFile.Fd()), dbus.UnixFD(ctrlPeer.Fd()), nil
}

// Close implements spec.md §4.6's Close protocol. Only the owning client
// may close; a mismatched sender is rejected.
func (m *Manager) Close(path dbus.ObjectPath, sender dbus.Sender) *dbus.Error {
	po, ok := m.findPCM(path)
	if !ok {
		return dbus.MakeFailedError(fmt.Errorf("controller: no such PCM %s", path))
	}

	m.mu.Lock()
	h, ok := m.opened[path]
	if !ok {
		m.mu.Unlock()
		return nil // already closed; idempotent
	}
	if h.owner != string(sender) {
		m.mu.Unlock()
		return dbus.MakeFailedError(fmt.Errorf("controller: %s does not own PCM %s", sender, path))
	}
	delete(m.opened, path)
	m.mu.Unlock()

	m.closeHandle(po, h)
	return nil
}

func (m *Manager) closeHandle(po *pcmObject, h *handle) {
	po.ep.Close()
	h.fifoFile.Close()
	h.ctrlLocal.Close()
	h.ctrlPeer.Close()
	os.Remove(h.fifoPath)
	po.notify(notify.SignalPCMClose)
}

// CloseBySender runs the Close path for every PCM a disconnected client
// still owned, the D-Bus-name-loss equivalent of the client control
// socket's POLLHUP spec.md §4.6 describes.
func (m *Manager) CloseBySender(sender string) {
	m.mu.Lock()
	var stale []dbus.ObjectPath
	for path, h := range m.opened {
		if h.owner == sender {
			stale = append(stale, path)
		}
	}
	m.mu.Unlock()
	for _, path := range stale {
		po, ok := m.findPCM(path)
		if !ok {
			continue
		}
		m.mu.Lock()
		h, ok := m.opened[path]
		if ok {
			delete(m.opened, path)
		}
		m.mu.Unlock()
		if ok {
			m.closeHandle(po, h)
		}
	}
}

// Pause implements spec.md §4.6 Pause/Resume: a transition the I/O loop
// observes via the notification pipe.
func (m *Manager) Pause(path dbus.ObjectPath, paused bool) *dbus.Error {
	po, ok := m.findPCM(path)
	if !ok {
		return dbus.MakeFailedError(fmt.Errorf("controller: no such PCM %s", path))
	}
	if paused {
		po.notify(notify.SignalPCMPause)
	} else {
		po.notify(notify.SignalPCMResume)
	}
	return nil
}

// Drain implements spec.md §4.6 Drain: "waits on the drained condition
// until the transport reports its buffers empty or a timeout fires."
func (m *Manager) Drain(path dbus.ObjectPath) *dbus.Error {
	po, ok := m.findPCM(path)
	if !ok {
		return dbus.MakeFailedError(fmt.Errorf("controller: no such PCM %s", path))
	}
	po.notify(notify.SignalPCMSync)

	const drainTimeout = 5 * time.Second
	timeoutCh := make(chan struct{})
	timer := time.AfterFunc(drainTimeout, func() { close(timeoutCh) })
	defer timer.Stop()
	if !po.ep.WaitDrained(timeoutCh) {
		return dbus.MakeFailedError(fmt.Errorf("controller: drain timed out"))
	}
	return nil
}

// Drop implements spec.md §4.6 Drop: "discards outstanding frames
// immediately."
func (m *Manager) Drop(path dbus.ObjectPath) *dbus.Error {
	po, ok := m.findPCM(path)
	if !ok {
		return dbus.MakeFailedError(fmt.Errorf("controller: no such PCM %s", path))
	}
	po.ep.ResetDrained()
	po.notify(notify.SignalPCMDrop)
	return nil
}

// fifoPathFor builds "<state-dir>/<hci-name>-<addr>-<profile>-<stream>"
// (spec.md §6 External PCM clients).
func (m *Manager) fifoPathFor(po *pcmObject) (string, error) {
	stream := "source"
	if po.ep.Mode == pcm.ModeSink {
		stream = "sink"
	}
	name := fmt.Sprintf("%s-%s-%s-%s", po.adapterName, sanitizeAddr(po.deviceAddr), po.tr.Profile(), stream)
	if err := os.MkdirAll(m.cfg.StateDirectory, 0o750); err != nil {
		return "", fmt.Errorf("controller: create state directory: %w", err)
	}
	return filepath.Join(m.cfg.StateDirectory, name), nil
}

func sanitizeAddr(addr string) string {
	out := make([]rune, 0, len(addr))
	for _, r := range addr {
		if r == filepath.Separator || r == '/' {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// createFIFO makes a mode-0660 FIFO owned by the "audio" group, per spec.md
// §6: "The sockets and FIFOs are mode 0660, group = audio."
func createFIFO(path string) error {
	os.Remove(path) // stale FIFO from a prior unclean shutdown
	if err := unix.Mkfifo(path, 0o660); err != nil {
		return fmt.Errorf("controller: mkfifo %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o660); err != nil {
		return fmt.Errorf("controller: chmod fifo: %w", err)
	}
	if g, err := user.LookupGroup("audio"); err == nil {
		if gid, err := strconv.Atoi(g.Gid); err == nil {
			_ = unix.Chown(path, -1, gid)
		}
	}
	return nil
}

func socketpair() (local, peer *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, err
	}
	return os.NewFile(uintptr(fds[0]), "bluealsa-ctrl"), os.NewFile(uintptr(fds[1]), "bluealsa-ctrl-peer"), nil
}
