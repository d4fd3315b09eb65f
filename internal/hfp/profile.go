package hfp

import (
	"context"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/bluealsa/bluealsa-go/internal/codec"
	"github.com/bluealsa/bluealsa-go/internal/config"
	"github.com/bluealsa/bluealsa-go/internal/pcm"
	"github.com/bluealsa/bluealsa-go/internal/registry"
	"github.com/bluealsa/bluealsa-go/internal/transport"
)

// Manager implements bluez.ProfileHandler for one HFP/HSP role, owning the
// RFCOMM sessions and their backing SCO transports (spec.md §4.5 "external
// surfaces: one Profile per HSP/HFP role").
type Manager struct {
	adapter *registry.Adapter
	profile transport.Profile
	role    Role
	cfg     *config.Config

	deviceForPath func(dbus.ObjectPath) (*registry.Device, error)
	newAcquirer   func(*Session) transport.Acquirer

	mu       sync.Mutex
	sessions map[dbus.ObjectPath]*Session
}

// NewManager builds the profile handler. newAcquirer lets the wiring layer
// supply the real SCO socket acquisition strategy (native HCI SCO connect
// or an oFono-provided fd) without this package importing internal/bluez.
func NewManager(adapter *registry.Adapter, profile transport.Profile, role Role, cfg *config.Config,
	deviceForPath func(dbus.ObjectPath) (*registry.Device, error),
	newAcquirer func(*Session) transport.Acquirer,
) *Manager {
	return &Manager{
		adapter:       adapter,
		profile:       profile,
		role:          role,
		cfg:           cfg,
		deviceForPath: deviceForPath,
		newAcquirer:   newAcquirer,
		sessions:      make(map[dbus.ObjectPath]*Session),
	}
}

// NewConnection implements bluez.ProfileHandler: BlueZ has accepted an
// incoming RFCOMM connection and hands us the socket fd.
func (m *Manager) NewConnection(devicePath dbus.ObjectPath, fd int, properties map[string]dbus.Variant) error {
	dev, err := m.deviceForPath(devicePath)
	if err != nil {
		return err
	}

	conn := os.NewFile(uintptr(fd), "rfcomm")
	path := string(devicePath) + "/" + string(m.profile)

	tr := transport.New(dev, m.profile, "org.bluez", path, nil)
	tr.SCO = &transport.SCOData{RFCOMMPath: path}
	initVol := 100
	if m.cfg != nil {
		initVol = m.cfg.InitialVolume
	}
	tr.SCO.Speaker = pcm.NewEndpoint(pcm.ModeSink, 1, 8000, initVol)
	tr.SCO.Microphone = pcm.NewEndpoint(pcm.ModeSource, 1, 8000, initVol)

	mSBCEnabled := m.cfg == nil || m.cfg.CodecEnabled(codec.IDMSBC)
	sess := NewSession(m.role, tr, dev, conn, mSBCEnabled)
	if m.newAcquirer != nil {
		tr.SetAcquirer(m.newAcquirer(sess))
	}

	if err := dev.AddTransport(tr); err != nil {
		conn.Close()
		return err
	}

	m.mu.Lock()
	m.sessions[devicePath] = sess
	m.mu.Unlock()

	go m.run(sess, tr)
	go func() {
		if err := StartIO(context.Background(), tr); err != nil {
			log.Error("sco io start failed", "path", tr.Path(), "err", err)
		}
	}()
	return nil
}

func (m *Manager) run(sess *Session, tr *transport.Transport) {
	ctx := context.Background()
	err := sess.Run(ctx)
	if err != nil {
		log.Warn("rfcomm session ended", "transport", tr.Path(), "err", err)
	}
	// spec.md §4.5 "Link loss": an unexpected RFCOMM error destroys the SCO
	// transport only when the link-lost quirk is armed; otherwise this
	// thread alone terminates and the transport waits for an explicit
	// RequestDisconnection (BlueZ doesn't always emit one after RFCOMM
	// loss, which is exactly the quirk this guards against).
	if sess.ShouldDestroyTransport(err) {
		tr.Destroy()
		return
	}
}

// RequestDisconnection implements bluez.ProfileHandler: BlueZ itself is
// reporting the profile disconnected, the authoritative signal to destroy
// the SCO transport regardless of the link-lost quirk (that quirk only
// covers the case where BlueZ does *not* reliably report disconnection).
func (m *Manager) RequestDisconnection(devicePath dbus.ObjectPath) {
	m.mu.Lock()
	sess, ok := m.sessions[devicePath]
	delete(m.sessions, devicePath)
	m.mu.Unlock()
	if !ok {
		return
	}
	sess.Close()
	if tr := sess.Transport(); tr != nil {
		tr.Destroy()
	}
}

// Session looks up the active session for a device path, if any.
func (m *Manager) Session(devicePath dbus.ObjectPath) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[devicePath]
	return s, ok
}
