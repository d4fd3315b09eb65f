package bluez

import (
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"

	"github.com/bluealsa/bluealsa-go/internal/transport"
)

// MediaTransportProxy wraps calls against one org.bluez.MediaTransport1
// object, the BlueZ side of spec.md §9's "native A2DP" acquire/release
// capability.
type MediaTransportProxy struct {
	bus  *Bus
	path dbus.ObjectPath
}

// NewMediaTransportProxy binds a proxy to the transport object BlueZ handed
// back via MediaEndpoint1.SetConfiguration.
func NewMediaTransportProxy(b *Bus, path dbus.ObjectPath) *MediaTransportProxy {
	return &MediaTransportProxy{bus: b, path: path}
}

// AcquireFuncs returns the (Acquire, Release) pair internal/transport's
// FuncAcquirer wraps, calling MediaTransport1.Acquire/Release over D-Bus.
func (p *MediaTransportProxy) AcquireFuncs() (transport.AcquireFunc, transport.ReleaseFunc) {
	acquire := func() (int, int, int, error) {
		obj := p.bus.conn.Object(Service, p.path)
		var fdIdx dbus.UnixFD
		var readMTU, writeMTU uint16
		call := obj.Call(MediaTransportIface+".Acquire", 0)
		if call.Err != nil {
			return -1, 0, 0, fmt.Errorf("bluez: MediaTransport1.Acquire: %w", call.Err)
		}
		if err := call.Store(&fdIdx, &readMTU, &writeMTU); err != nil {
			return -1, 0, 0, fmt.Errorf("bluez: MediaTransport1.Acquire reply: %w", err)
		}
		f := os.NewFile(uintptr(fdIdx), "bt-transport")
		fd := int(f.Fd())
		return fd, int(readMTU), int(writeMTU), nil
	}
	release := func(fd int) error {
		obj := p.bus.conn.Object(Service, p.path)
		return obj.Call(MediaTransportIface+".Release", 0).Err
	}
	return acquire, release
}

// Property reads a single MediaTransport1 property (Device, UUID, Codec,
// Configuration, State, Volume, Delay — spec.md §4.3).
func (p *MediaTransportProxy) Property(name string) (dbus.Variant, error) {
	obj := p.bus.conn.Object(Service, p.path)
	v, err := obj.GetProperty(MediaTransportIface + "." + name)
	if err != nil {
		return dbus.Variant{}, fmt.Errorf("bluez: get %s: %w", name, err)
	}
	return v, nil
}

// SetVolume pushes a local volume change to BlueZ's AVRCP absolute-volume
// state, the counterpart to BlueZ notifying us of a remote volume change via
// PropertiesChanged (spec.md §4.5 +VGM/+VGS equivalent for A2DP/AVRCP).
func (p *MediaTransportProxy) SetVolume(v uint16) error {
	obj := p.bus.conn.Object(Service, p.path)
	call := obj.Call(propsIface+".Set", 0, MediaTransportIface, "Volume", dbus.MakeVariant(v))
	return call.Err
}
