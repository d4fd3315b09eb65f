// Command bluealsad is the daemon root: option parsing, configuration
// init, bus ownership, signal handlers, and service orchestration (spec.md
// §1 "Daemon root", §6 CLI surface). It owns nothing of the transport
// runtime itself — every object it builds (adapters, endpoints, profiles,
// the controller) is a component of internal/* wired together here,
// mirroring the teacher's robot.go Start/Stop choreography generalized
// from "collection of connections and devices" to "collection of
// adapters" (SPEC_FULL.md MODULE MAP).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"

	"github.com/bluealsa/bluealsa-go/internal/a2dp"
	"github.com/bluealsa/bluealsa-go/internal/bluez"
	"github.com/bluealsa/bluealsa-go/internal/config"
	"github.com/bluealsa/bluealsa-go/internal/controller"
	"github.com/bluealsa/bluealsa-go/internal/hfp"
	"github.com/bluealsa/bluealsa-go/internal/logging"
	"github.com/bluealsa/bluealsa-go/internal/midi"
	"github.com/bluealsa/bluealsa-go/internal/ofono"
	"github.com/bluealsa/bluealsa-go/internal/registry"
	"github.com/bluealsa/bluealsa-go/internal/state"
	"github.com/bluealsa/bluealsa-go/internal/transport"
)

// Well-known Bluetooth SDP service class UUIDs for the profiles spec.md §6
// lets an operator enable/disable (assigned numbers, not retrieved from
// any pack repo since none registers HFP/HSP profiles directly).
const (
	uuidAudioSource        = "0000110a-0000-1000-8000-00805f9b34fb"
	uuidAudioSink          = "0000110b-0000-1000-8000-00805f9b34fb"
	uuidHandsfree          = "0000111e-0000-1000-8000-00805f9b34fb"
	uuidHandsfreeAG        = "0000111f-0000-1000-8000-00805f9b34fb"
	uuidHeadset            = "00001108-0000-1000-8000-00805f9b34fb"
	uuidHeadsetAG          = "00001112-0000-1000-8000-00805f9b34fb"
)

var log = logging.Get("daemon")

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logging.Configure(logging.Level(cfg.LogLevel), logging.OpenSyslogOrStderr(cfg.Syslog))

	store, err := state.Open(cfg.StateDirectory)
	if err != nil {
		log.Error("failed to open state store", "err", err)
		return 1
	}
	defer store.Close()

	reg := registry.NewRegistry()

	bus, err := bluez.Connect(reg, cfg.BusName())
	if err != nil {
		log.Error("failed to acquire bus name", "bus", cfg.BusName(), "err", err)
		return 1
	}

	if err := bus.DiscoverAll(); err != nil {
		log.Error("bluez discovery failed", "err", err)
		return 1
	}

	d := &daemon{cfg: cfg, reg: reg, bus: bus, store: store}
	if err := d.startAdapters(); err != nil {
		log.Error("adapter startup failed", "err", err)
		return 1
	}
	defer d.stopAdapters()

	ctrl := controller.NewManager(bus.Conn(), cfg, reg, store)
	if err := ctrl.Export(); err != nil {
		log.Error("failed to export controller", "err", err)
		return 1
	}

	stopWatch, err := bus.WatchPropertiesChanged(d.onPropertiesChanged)
	if err != nil {
		log.Warn("PropertiesChanged watch failed, continuing without it", "err", err)
	} else {
		defer stopWatch()
	}

	log.Info("bluealsad ready", "bus", cfg.BusName(), "adapters", len(reg.Adapters()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig)
	return 0
}

// daemon holds the live service objects registered against one running
// bus connection, so shutdown can unregister everything it started.
type daemon struct {
	cfg   *config.Config
	reg   *registry.Registry
	bus   *bluez.Bus
	store *state.Store

	endpoints []endpointReg
	profiles  []profileReg
	ofonoMgrs []*ofono.Manager
	midiApps  []midiReg
}

type endpointReg struct {
	ep          *bluez.MediaEndpoint
	adapterPath dbus.ObjectPath
}

type profileReg struct {
	p *bluez.Profile
}

type midiReg struct {
	app         *bluez.GattApplication
	adv         *bluez.Advertisement
	adapterPath dbus.ObjectPath
}

// startAdapters walks every adapter bluez.DiscoverAll populated, skips
// those outside the CLI allow-list (spec.md §6 "-i/--device=hciX,
// repeatable -> adapter allow-list"), and registers the endpoints/
// profiles/GATT application for every enabled profile (spec.md §6
// "-p/--profile=NAME").
func (d *daemon) startAdapters() error {
	for _, adapter := range d.reg.Adapters() {
		if !d.cfg.AdapterAllowed(adapter.Name) {
			continue
		}
		adapterPath, ok := d.bus.AdapterBluezPath(adapter)
		if !ok {
			log.Warn("adapter has no known bluez path, skipping", "adapter", adapter.Name)
			continue
		}

		if d.cfg.ProfileEnabled(config.ProfileA2DPSource) {
			if err := d.registerA2DP(adapter, adapterPath, transport.ProfileA2DPSource, uuidAudioSource); err != nil {
				return err
			}
		}
		if d.cfg.ProfileEnabled(config.ProfileA2DPSink) {
			if err := d.registerA2DP(adapter, adapterPath, transport.ProfileA2DPSink, uuidAudioSink); err != nil {
				return err
			}
		}

		useOfono := d.cfg.ProfileEnabled(config.ProfileHFPOfono)
		if useOfono {
			if err := d.registerOfono(adapter); err != nil {
				return err
			}
		} else {
			if d.cfg.ProfileEnabled(config.ProfileHFPAG) {
				if err := d.registerHFP(adapter, transport.ProfileHFPAG, hfp.RoleAG, uuidHandsfreeAG); err != nil {
					return err
				}
			}
			if d.cfg.ProfileEnabled(config.ProfileHFPHF) {
				if err := d.registerHFP(adapter, transport.ProfileHFPHF, hfp.RoleHF, uuidHandsfree); err != nil {
					return err
				}
			}
			if d.cfg.ProfileEnabled(config.ProfileHSPAG) {
				if err := d.registerHFP(adapter, transport.ProfileHSPAG, hfp.RoleAG, uuidHeadsetAG); err != nil {
					return err
				}
			}
			if d.cfg.ProfileEnabled(config.ProfileHSPHS) {
				if err := d.registerHFP(adapter, transport.ProfileHSPHS, hfp.RoleHF, uuidHeadset); err != nil {
					return err
				}
			}
		}

		if d.cfg.ProfileEnabled(config.ProfileMIDI) {
			if err := d.registerMIDI(adapter, adapterPath); err != nil {
				return err
			}
		}
	}
	return nil
}

// registerA2DP builds the SBC media endpoint (the only codec this module
// ships a real negotiation table for, per spec.md §4.3's SBC worked
// example) and publishes it on adapterPath.
func (d *daemon) registerA2DP(adapter *registry.Adapter, adapterPath dbus.ObjectPath, profile transport.Profile, uuid string) error {
	path := dbus.ObjectPath(fmt.Sprintf("/org/bluealsa/%s/%s/sbc", adapter.Name, profile))

	deviceForTransport := func(transportPath dbus.ObjectPath) (*registry.Device, error) {
		return d.deviceForA2DPTransport(adapter, transportPath)
	}
	newAcquirer := func(transportPath dbus.ObjectPath) transport.Acquirer {
		proxy := bluez.NewMediaTransportProxy(d.bus, transportPath)
		acquire, release := proxy.AcquireFuncs()
		return transport.NewFuncAcquirer(acquire, release)
	}

	negotiator := a2dp.NewNegotiator(adapter, profile, d.cfg, deviceForTransport, newAcquirer)
	ep := bluez.NewMediaEndpoint(path, uuid, 0x00, defaultSBCCapabilities(), negotiator)
	if err := ep.Export(d.bus, adapterPath); err != nil {
		return fmt.Errorf("register a2dp endpoint %s: %w", path, err)
	}
	d.endpoints = append(d.endpoints, endpointReg{ep: ep, adapterPath: adapterPath})
	log.Info("a2dp endpoint registered", "adapter", adapter.Name, "profile", profile, "path", path)
	return nil
}

// deviceForA2DPTransport resolves a MediaTransport1 object path back to its
// owning Device by querying the transport's "Device" property over D-Bus
// and looking that up in the bus's device map, since the transport path
// itself carries no device address (spec.md §4.3's "deviceForTransport
// resolves a BlueZ transport path back to the owning Device").
func (d *daemon) deviceForA2DPTransport(adapter *registry.Adapter, transportPath dbus.ObjectPath) (*registry.Device, error) {
	proxy := bluez.NewMediaTransportProxy(d.bus, transportPath)
	v, err := proxy.Property("Device")
	if err != nil {
		return nil, err
	}
	devPath, ok := v.Value().(dbus.ObjectPath)
	if !ok {
		return nil, fmt.Errorf("a2dp: transport %s has no Device property", transportPath)
	}
	if dev, ok := d.bus.DeviceByPath(devPath); ok {
		return dev, nil
	}
	return nil, fmt.Errorf("a2dp: unknown device for transport %s", transportPath)
}

// registerHFP registers one native HFP/HSP Profile1 role, wiring its SCO
// acquisition to a direct AF_BLUETOOTH/BTPROTO_SCO connect against the
// peer's address (internal/bluez.NativeSCOAcquirer), the "native SCO via
// BlueZ" capability of spec.md §9's polymorphism note.
func (d *daemon) registerHFP(adapter *registry.Adapter, profile transport.Profile, role hfp.Role, uuid string) error {
	path := dbus.ObjectPath(fmt.Sprintf("/org/bluealsa/%s/%s", adapter.Name, profile))

	deviceForPath := func(devicePath dbus.ObjectPath) (*registry.Device, error) {
		if dev, ok := d.bus.DeviceByPath(devicePath); ok {
			return dev, nil
		}
		return nil, fmt.Errorf("hfp: unknown device %s", devicePath)
	}
	newAcquirer := func(sess *hfp.Session) transport.Acquirer {
		return bluez.NewNativeSCOAcquirer(sess.Device().Address)
	}

	mgr := hfp.NewManager(adapter, profile, role, d.cfg, deviceForPath, newAcquirer)
	p := bluez.NewProfile(path, uuid, mgr)
	if err := p.Export(d.bus, map[string]dbus.Variant{}); err != nil {
		return fmt.Errorf("register hfp profile %s: %w", path, err)
	}
	d.profiles = append(d.profiles, profileReg{p: p})
	log.Info("hfp profile registered", "adapter", adapter.Name, "profile", profile, "path", path)
	return nil
}

// registerOfono registers the oFono HandsfreeAudioAgent in place of native
// HFP (spec.md §6: "When oFono is present the native HFP implementation is
// disabled"), preferring mSBC over CVSD (DESIGN.md Open Question 4).
func (d *daemon) registerOfono(adapter *registry.Adapter) error {
	agentPath := dbus.ObjectPath(fmt.Sprintf("/org/bluealsa/%s/ofono_agent", adapter.Name))
	deviceForCard := func(card dbus.ObjectPath) (*registry.Device, error) {
		// oFono card paths aren't BlueZ device paths; look up (or create) the
		// device from the card's RemoteAddress property.
		return d.deviceForOfonoCard(adapter, card)
	}
	mgr := ofono.NewManager(d.bus.Conn(), agentPath, d.cfg, deviceForCard)
	if err := mgr.Register([]byte{ofono.CodecMSBC, ofono.CodecCVSD}); err != nil {
		return fmt.Errorf("register ofono agent: %w", err)
	}
	if _, err := mgr.WatchCards(); err != nil {
		log.Warn("ofono card watch failed", "err", err)
	}
	d.ofonoMgrs = append(d.ofonoMgrs, mgr)
	log.Info("ofono agent registered", "adapter", adapter.Name, "path", agentPath)
	return nil
}

func (d *daemon) deviceForOfonoCard(adapter *registry.Adapter, card dbus.ObjectPath) (*registry.Device, error) {
	obj := d.bus.Conn().Object(ofono.Service, card)
	var props map[string]dbus.Variant
	if err := obj.Call("org.ofono.HandsfreeAudioCard.GetProperties", 0).Store(&props); err != nil {
		return nil, fmt.Errorf("ofono: card GetProperties: %w", err)
	}
	addr, _ := props["RemoteAddress"].Value().(string)
	if addr == "" {
		return nil, fmt.Errorf("ofono: card %s has no RemoteAddress", card)
	}
	return adapter.LookupOrCreateDevice(addr, addr), nil
}

// registerMIDI publishes the BLE-MIDI GATT application and advertisement
// for one service/characteristic pair (spec.md §6: "a GATT application
// with one service and one characteristic ... and, optionally, an LE
// advertisement").
func (d *daemon) registerMIDI(adapter *registry.Adapter, adapterPath dbus.ObjectPath) error {
	basePath := dbus.ObjectPath(fmt.Sprintf("/org/bluealsa/%s/midi", adapter.Name))
	servicePath := basePath + "/service0"
	charPath := servicePath + "/char0"

	dev := adapter.LookupOrCreateDevice("00:00:00:00:00:00", "midi-gatt-peer")
	mt, err := midi.New(dev, string(basePath), midi.NewLoopbackSequencer())
	if err != nil {
		return fmt.Errorf("midi: build transport: %w", err)
	}
	if err := dev.AddTransport(mt.Transport()); err != nil {
		return fmt.Errorf("midi: register transport: %w", err)
	}

	svc := bluez.NewGattService(servicePath, midi.ServiceUUID)
	char := bluez.NewGattCharacteristic(charPath, midi.CharacteristicUUID, servicePath, midi.CharacteristicFlags, mt)
	mt.BindCharacteristic(char)

	if err := svc.Export(d.bus); err != nil {
		return fmt.Errorf("midi: export service: %w", err)
	}
	if err := char.Export(d.bus); err != nil {
		return fmt.Errorf("midi: export characteristic: %w", err)
	}

	app := bluez.NewGattApplication(basePath)
	if err := app.RegisterApplication(d.bus, adapterPath); err != nil {
		return fmt.Errorf("midi: register gatt application: %w", err)
	}

	adv := bluez.NewAdvertisement(basePath+"/advertisement0", []string{midi.ServiceUUID}, "bluealsa-midi")
	if err := adv.Export(d.bus, adapterPath); err != nil {
		log.Warn("midi advertisement failed, continuing discoverable only via bonding", "err", err)
	}

	d.midiApps = append(d.midiApps, midiReg{app: app, adv: adv, adapterPath: adapterPath})
	log.Info("midi gatt application registered", "adapter", adapter.Name, "path", basePath)
	return nil
}

// onPropertiesChanged logs PropertiesChanged signals this daemon doesn't
// otherwise act on directly (codec/volume changes on an existing
// MediaTransport1/Device1 arrive through the MediaEndpoint1/Profile1
// method calls instead); kept so an operator can see device state drift
// (e.g. RSSI, Battery1.Percentage on devices without an HFP session) at
// debug level without the daemon needing a handler for every interface.
func (d *daemon) onPropertiesChanged(path dbus.ObjectPath, iface string, changed map[string]dbus.Variant) {
	log.Debug("properties changed", "path", path, "interface", iface, "keys", len(changed))
}

// stopAdapters unregisters everything startAdapters registered, in the
// dependency order BlueZ expects (endpoints/profiles/GATT application
// before the adapter itself might disappear).
func (d *daemon) stopAdapters() {
	for _, m := range d.midiApps {
		if m.adv != nil {
			_ = m.adv.Unexport(d.bus, m.adapterPath)
		}
		_ = m.app.UnregisterApplication(d.bus, m.adapterPath)
	}
	for _, m := range d.ofonoMgrs {
		_ = m.Unregister()
	}
	for _, p := range d.profiles {
		_ = p.p.Unexport(d.bus)
	}
	for _, e := range d.endpoints {
		_ = e.ep.Unexport(d.bus, e.adapterPath)
	}
}

// defaultSBCCapabilities advertises the full SBC capability range (every
// sample rate, channel mode, block length, subbands, allocation method,
// and a wide bitpool range), letting SelectSBCConfiguration's preference
// table (spec.md §4.3) pick the best intersection with whatever the peer
// offers.
func defaultSBCCapabilities() []byte {
	return []byte{0xFF, 0xFF, 2, 250}
}
