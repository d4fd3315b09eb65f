// Package ofono implements the optional oFono integration spec.md §6
// describes: a HandsfreeAudioAgent registered with oFono's
// HandsfreeAudioManager, CardAdded/CardRemoved observation, and SCO fd
// acquisition through NewConnection. "When oFono is present the native HFP
// implementation is disabled" (spec.md §6) — the wiring layer chooses
// between internal/hfp and internal/ofono per adapter/profile
// configuration, never both.
//
// Grounded on internal/bluez's bus/profile/endpoint pattern (a thin
// godbus/dbus/v5 proxy plus an exported agent object answering method
// calls BlueZ/oFono invoke), generalized from BlueZ's object tree to
// oFono's manager-plus-cards shape.
package ofono

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"

	"github.com/bluealsa/bluealsa-go/internal/codec"
	"github.com/bluealsa/bluealsa-go/internal/config"
	"github.com/bluealsa/bluealsa-go/internal/hfp"
	"github.com/bluealsa/bluealsa-go/internal/ioctlutil"
	"github.com/bluealsa/bluealsa-go/internal/logging"
	"github.com/bluealsa/bluealsa-go/internal/pcm"
	"github.com/bluealsa/bluealsa-go/internal/registry"
	"github.com/bluealsa/bluealsa-go/internal/transport"
)

var log = logging.Get("ofono")

const (
	Service                    = "org.ofono"
	HandsfreeAudioManagerIface = "org.ofono.HandsfreeAudioManager"
	HandsfreeAudioCardIface    = "org.ofono.HandsfreeAudioCard"
	HandsfreeAudioAgentIface   = "org.ofono.HandsfreeAudioAgent"

	managerPath dbus.ObjectPath = "/"
)

// Codec ids oFono's NewConnection reports (spec.md §6: "supported codecs
// (CVSD, mSBC, and LC3-SWB where compiled in)"; LC3-SWB is left
// unimplemented here since no codec library in the retrieved pack binds
// it — see DESIGN.md).
const (
	CodecCVSD byte = 1
	CodecMSBC byte = 2
)

// Manager implements org.ofono.HandsfreeAudioAgent and tracks the SCO
// Transport created for each oFono card (spec.md §3 SCOData: "optional
// oFono card/modem path pair").
type Manager struct {
	conn      *dbus.Conn
	agentPath dbus.ObjectPath
	cfg       *config.Config

	deviceForCard func(card dbus.ObjectPath) (*registry.Device, error)

	mu    sync.Mutex
	cards map[dbus.ObjectPath]*transport.Transport
}

// NewManager builds the agent. deviceForCard resolves an oFono card path to
// the registry Device that owns it (supplied by the wiring layer, which
// knows how to map a card's "RemoteAddress" property onto an adapter/device
// pair without this package importing internal/bluez).
func NewManager(conn *dbus.Conn, agentPath dbus.ObjectPath, cfg *config.Config, deviceForCard func(dbus.ObjectPath) (*registry.Device, error)) *Manager {
	return &Manager{
		conn:          conn,
		agentPath:     agentPath,
		cfg:           cfg,
		deviceForCard: deviceForCard,
		cards:         make(map[dbus.ObjectPath]*transport.Transport),
	}
}

// Register exports the agent object and calls
// HandsfreeAudioManager.Register with the codec ids this build supports.
func (m *Manager) Register(codecs []byte) error {
	if err := m.conn.Export(m, m.agentPath, HandsfreeAudioAgentIface); err != nil {
		return err
	}
	obj := m.conn.Object(Service, managerPath)
	call := obj.Call(HandsfreeAudioManagerIface+".Register", 0, m.agentPath, codecs)
	return call.Err
}

// Unregister asks oFono to drop the agent and unexports it.
func (m *Manager) Unregister() error {
	obj := m.conn.Object(Service, managerPath)
	call := obj.Call(HandsfreeAudioManagerIface+".Unregister", 0, m.agentPath)
	_ = m.conn.Export(nil, m.agentPath, HandsfreeAudioAgentIface)
	return call.Err
}

// NewConnection implements org.ofono.HandsfreeAudioAgent.NewConnection:
// oFono hands over an already-connected SCO socket fd plus the negotiated
// codec id (spec.md §6: "obtain SCO fds via NewConnection").
func (m *Manager) NewConnection(card dbus.ObjectPath, fdIdx dbus.UnixFD, codecID byte) *dbus.Error {
	f := os.NewFile(uintptr(fdIdx), "ofono-sco")
	fd := int(f.Fd())

	dev, err := m.deviceForCard(card)
	if err != nil {
		log.Warn("ofono NewConnection: unknown card", "card", card, "err", err)
		f.Close()
		return dbus.MakeFailedError(err)
	}

	readMTU, writeMTU := ioctlutil.SocketMTUs(fd)
	acquirer := transport.NewFuncAcquirer(
		func() (int, int, int, error) { return fd, readMTU, writeMTU, nil },
		func(fd int) error { return unix.Close(fd) },
	)

	path := string(card) + "/sco"
	tr := transport.New(dev, transport.ProfileHFPAG, Service, path, acquirer)
	tr.SCO = &transport.SCOData{OfonoCard: string(card)}

	initVol := 100
	if m.cfg != nil {
		initVol = m.cfg.InitialVolume
	}
	rate := sampleRateForCodec(codecID)
	tr.SCO.Speaker = pcm.NewEndpoint(pcm.ModeSink, 1, rate, initVol)
	tr.SCO.Microphone = pcm.NewEndpoint(pcm.ModeSource, 1, rate, initVol)
	tr.SetSCOCodec(codecIDString(codecID))

	if err := dev.AddTransport(tr); err != nil {
		f.Close()
		return dbus.MakeFailedError(err)
	}

	m.mu.Lock()
	m.cards[card] = tr
	m.mu.Unlock()

	go func() {
		if err := hfp.StartIO(context.Background(), tr); err != nil {
			log.Error("sco io start failed", "card", card, "err", err)
		}
	}()

	log.Info("ofono SCO connected", "card", card, "codec", codecIDString(codecID))
	return nil
}

// Release implements org.ofono.HandsfreeAudioAgent.Release, called when
// oFono itself is shutting the agent registration down.
func (m *Manager) Release() *dbus.Error { return nil }

// CardRemoved tears down the transport associated with a card oFono
// reported gone (spec.md §6: "observe CardAdded/CardRemoved").
func (m *Manager) CardRemoved(card dbus.ObjectPath) {
	m.mu.Lock()
	tr, ok := m.cards[card]
	delete(m.cards, card)
	m.mu.Unlock()
	if !ok {
		return
	}
	tr.Destroy()
}

// Transport returns the live SCO transport for a card path, if any.
func (m *Manager) Transport(card dbus.ObjectPath) (*transport.Transport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.cards[card]
	return tr, ok
}

// WatchCards subscribes to CardRemoved and tears down the matching
// transport automatically; CardAdded carries no audio fd of its own
// (upstream behavior: a card only becomes useful once NewConnection
// delivers a socket), so it is observed only for logging.
func (m *Manager) WatchCards() (stop func(), err error) {
	rule := "type='signal',interface='" + HandsfreeAudioManagerIface + "'"
	if err := m.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		return nil, fmt.Errorf("ofono: AddMatch: %w", err)
	}
	sigCh := make(chan *dbus.Signal, 16)
	m.conn.Signal(sigCh)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig, ok := <-sigCh:
				if !ok {
					return
				}
				switch sig.Name {
				case HandsfreeAudioManagerIface + ".CardRemoved":
					if len(sig.Body) == 1 {
						if path, ok := sig.Body[0].(dbus.ObjectPath); ok {
							m.CardRemoved(path)
						}
					}
				case HandsfreeAudioManagerIface + ".CardAdded":
					if len(sig.Body) >= 1 {
						log.Info("ofono card added", "card", sig.Body[0])
					}
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		m.conn.RemoveSignal(sigCh)
		_ = m.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule).Err
	}, nil
}

func sampleRateForCodec(codecID byte) uint32 {
	if codecID == CodecMSBC {
		return 16000
	}
	return 8000
}

func codecIDString(codecID byte) string {
	if codecID == CodecMSBC {
		return codec.IDMSBC
	}
	return codec.IDCVSD
}
