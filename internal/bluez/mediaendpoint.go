package bluez

import (
	"github.com/godbus/dbus/v5"

	"github.com/bluealsa/bluealsa-go/internal/codec"
)

// EndpointNegotiator is implemented by internal/a2dp to answer BlueZ's
// SelectConfiguration/SetConfiguration/ClearConfiguration calls (spec.md
// §4.3 "Codec negotiation"). Kept here as a narrow interface so this
// package never imports internal/a2dp (one-directional dependency, same
// discipline as internal/registry's Transport interface).
type EndpointNegotiator interface {
	// SelectConfiguration picks the best configuration from the capability
	// blob BlueZ offers, returning the raw bytes to send back.
	SelectConfiguration(capabilities []byte) ([]byte, error)
	// SetConfiguration is notified of the transport object path and the
	// final negotiated configuration once BlueZ opens the media transport.
	SetConfiguration(transportPath dbus.ObjectPath, properties map[string]dbus.Variant) error
	// ClearConfiguration tears down any transport state associated with path.
	ClearConfiguration(transportPath dbus.ObjectPath)
}

// MediaEndpoint exports org.bluez.MediaEndpoint1 for one A2DP role
// (source or sink) under a stable object path, dispatching to a
// negotiator (spec.md §4.3 steps 1-2).
type MediaEndpoint struct {
	path        dbus.ObjectPath
	uuid        string
	codecID     byte // A2DP codec octet (SBC=0x00, MPEG-AAC=0x02, vendor=0xFF)
	capabilities []byte
	negotiator  EndpointNegotiator
}

// NewMediaEndpoint builds an endpoint descriptor; Export still needs to be
// called to publish it on the bus.
func NewMediaEndpoint(path dbus.ObjectPath, uuid string, codecID byte, capabilities []byte, n EndpointNegotiator) *MediaEndpoint {
	return &MediaEndpoint{path: path, uuid: uuid, codecID: codecID, capabilities: capabilities, negotiator: n}
}

// SelectConfiguration implements the MediaEndpoint1 D-Bus method.
func (e *MediaEndpoint) SelectConfiguration(capabilities []byte) ([]byte, *dbus.Error) {
	cfg, err := e.negotiator.SelectConfiguration(capabilities)
	if err != nil {
		return nil, dbus.MakeFailedError(err)
	}
	return cfg, nil
}

// SetConfiguration implements the MediaEndpoint1 D-Bus method. BlueZ calls
// this with the transport object path and its property dictionary once
// negotiation settles.
func (e *MediaEndpoint) SetConfiguration(transport dbus.ObjectPath, properties map[string]dbus.Variant) *dbus.Error {
	if err := e.negotiator.SetConfiguration(transport, properties); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

// ClearConfiguration implements the MediaEndpoint1 D-Bus method.
func (e *MediaEndpoint) ClearConfiguration(transport dbus.ObjectPath) *dbus.Error {
	e.negotiator.ClearConfiguration(transport)
	return nil
}

// Release implements the MediaEndpoint1 D-Bus method, called when BlueZ
// unregisters the endpoint (adapter removed, daemon shutting down).
func (e *MediaEndpoint) Release() *dbus.Error { return nil }

// Export publishes the endpoint object on the bus and registers it with
// BlueZ's Media1.RegisterEndpoint (spec.md §4.3 step 0).
func (e *MediaEndpoint) Export(b *Bus, adapterPath dbus.ObjectPath) error {
	if err := b.conn.Export(e, e.path, MediaEndpointIface); err != nil {
		return err
	}
	props := map[string]dbus.Variant{
		"UUID":         dbus.MakeVariant(e.uuid),
		"Codec":        dbus.MakeVariant(e.codecID),
		"Capabilities": dbus.MakeVariant(e.capabilities),
	}
	obj := b.conn.Object(Service, adapterPath)
	call := obj.Call(MediaIface+".RegisterEndpoint", 0, e.path, props)
	return call.Err
}

// Unexport unregisters the endpoint, the mirror call to Export, used during
// adapter removal or daemon shutdown.
func (e *MediaEndpoint) Unexport(b *Bus, adapterPath dbus.ObjectPath) error {
	obj := b.conn.Object(Service, adapterPath)
	call := obj.Call(MediaIface+".UnregisterEndpoint", 0, e.path)
	_ = b.conn.Export(nil, e.path, MediaEndpointIface)
	return call.Err
}

// codecConfigFromProperties reads the max bitpool (byte 3) of
// MediaTransport1's "Configuration" SBC blob into codec.Config.Bitpool;
// sample rate and channel count are left zero. Nothing in this package
// calls it.
func codecConfigFromProperties(properties map[string]dbus.Variant) codec.Config {
	var cfg codec.Config
	if v, ok := properties["Configuration"]; ok {
		if raw, ok := v.Value().([]byte); ok && len(raw) >= 4 {
			// SBC configuration blob: byte0 freq/mode bits, byte1 block/subbands/alloc,
			// byte2 min bitpool, byte3 max bitpool (A2DP SBC spec layout).
			cfg.Bitpool = int(raw[3])
		}
	}
	return cfg
}
