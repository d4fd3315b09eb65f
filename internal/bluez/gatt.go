package bluez

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// GattApplication is the minimal handle internal/midi needs to publish a
// GATT application (one service, one characteristic: the BLE-MIDI I/O
// characteristic) and advertise it, spec.md glossary "BLE-MIDI".
type GattApplication struct {
	path dbus.ObjectPath
}

// NewGattApplication wraps the root object path under which the GATT
// service/characteristic/descriptor tree is exported (BlueZ walks the tree
// via ObjectManager once RegisterApplication is called).
func NewGattApplication(path dbus.ObjectPath) *GattApplication {
	return &GattApplication{path: path}
}

// RegisterApplication calls GattManager1.RegisterApplication on adapterPath,
// publishing the whole object subtree rooted at the application path.
func (g *GattApplication) RegisterApplication(b *Bus, adapterPath dbus.ObjectPath) error {
	obj := b.conn.Object(Service, adapterPath)
	call := obj.Call(GattManagerIface+".RegisterApplication", 0, g.path, map[string]dbus.Variant{})
	return call.Err
}

// UnregisterApplication is the mirror call to RegisterApplication.
func (g *GattApplication) UnregisterApplication(b *Bus, adapterPath dbus.ObjectPath) error {
	obj := b.conn.Object(Service, adapterPath)
	call := obj.Call(GattManagerIface+".UnregisterApplication", 0, g.path)
	return call.Err
}

const (
	GattServiceIface        = "org.bluez.GattService1"
	GattCharacteristicIface = "org.bluez.GattCharacteristic1"
)

// GattService exports org.bluez.GattService1 for one primary service in the
// application's object subtree (spec.md glossary "BLE-MIDI": "one service,
// one characteristic").
type GattService struct {
	path    dbus.ObjectPath
	uuid    string
	primary bool
}

// NewGattService builds a primary service descriptor.
func NewGattService(path dbus.ObjectPath, uuid string) *GattService {
	return &GattService{path: path, uuid: uuid, primary: true}
}

func (s *GattService) properties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"UUID":    dbus.MakeVariant(s.uuid),
		"Primary": dbus.MakeVariant(s.primary),
	}
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll.
func (s *GattService) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != GattServiceIface {
		return nil, dbus.MakeFailedError(fmt.Errorf("bluez: unknown interface %q", iface))
	}
	return s.properties(), nil
}

// Export publishes the service object (BlueZ discovers it via the
// application's ObjectManager tree, not a direct RegisterService call).
func (s *GattService) Export(b *Bus) error {
	if err := b.conn.Export(s, s.path, GattServiceIface); err != nil {
		return err
	}
	return b.conn.Export(s, s.path, propsIface)
}

// CharacteristicHandler is implemented by internal/midi to answer reads,
// writes, and notify subscription toggles on the BLE-MIDI I/O
// characteristic (spec.md §3 MIDI: "two unix-domain sockets (write,
// notify)").
type CharacteristicHandler interface {
	ReadValue(options map[string]dbus.Variant) ([]byte, error)
	WriteValue(value []byte, options map[string]dbus.Variant) error
	StartNotify()
	StopNotify()
}

// GattCharacteristic exports org.bluez.GattCharacteristic1 for the
// BLE-MIDI characteristic (flags: read, write, write-without-response,
// notify — spec.md §6 "one characteristic (flags: read, write,
// write-without-response, notify)").
type GattCharacteristic struct {
	path    dbus.ObjectPath
	uuid    string
	service dbus.ObjectPath
	flags   []string
	handler CharacteristicHandler

	conn *dbus.Conn
}

// NewGattCharacteristic builds a characteristic descriptor under service.
func NewGattCharacteristic(path dbus.ObjectPath, uuid string, service dbus.ObjectPath, flags []string, handler CharacteristicHandler) *GattCharacteristic {
	return &GattCharacteristic{path: path, uuid: uuid, service: service, flags: flags, handler: handler}
}

func (c *GattCharacteristic) properties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"UUID":    dbus.MakeVariant(c.uuid),
		"Service": dbus.MakeVariant(c.service),
		"Flags":   dbus.MakeVariant(c.flags),
	}
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll.
func (c *GattCharacteristic) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != GattCharacteristicIface {
		return nil, dbus.MakeFailedError(fmt.Errorf("bluez: unknown interface %q", iface))
	}
	return c.properties(), nil
}

// ReadValue implements the GattCharacteristic1 D-Bus method.
func (c *GattCharacteristic) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	v, err := c.handler.ReadValue(options)
	if err != nil {
		return nil, dbus.MakeFailedError(err)
	}
	return v, nil
}

// WriteValue implements the GattCharacteristic1 D-Bus method: a peer wrote
// a BLE-MIDI packet to the characteristic.
func (c *GattCharacteristic) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	if err := c.handler.WriteValue(value, options); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

// StartNotify implements the GattCharacteristic1 D-Bus method: a peer
// subscribed to notifications on this characteristic.
func (c *GattCharacteristic) StartNotify() *dbus.Error {
	c.handler.StartNotify()
	return nil
}

// StopNotify implements the GattCharacteristic1 D-Bus method.
func (c *GattCharacteristic) StopNotify() *dbus.Error {
	c.handler.StopNotify()
	return nil
}

// Export publishes the characteristic object.
func (c *GattCharacteristic) Export(b *Bus) error {
	c.conn = b.conn
	if err := b.conn.Export(c, c.path, GattCharacteristicIface); err != nil {
		return err
	}
	return b.conn.Export(c, c.path, propsIface)
}

// Notify emits a PropertiesChanged signal carrying the characteristic's new
// Value, the GATT mechanism a peer subscribed via StartNotify observes
// (spec.md §3 MIDI "notify" socket direction).
func (c *GattCharacteristic) Notify(value []byte) error {
	if c.conn == nil {
		return fmt.Errorf("bluez: characteristic %s not exported", c.path)
	}
	changed := map[string]dbus.Variant{"Value": dbus.MakeVariant(value)}
	return c.conn.Emit(c.path, propsIface+".PropertiesChanged", GattCharacteristicIface, changed, []string{})
}

// Advertisement exports org.bluez.LEAdvertisement1 for the BLE-MIDI GATT
// service, so peers can discover it without a prior bonding step.
type Advertisement struct {
	path         dbus.ObjectPath
	serviceUUIDs []string
	localName    string
}

// NewAdvertisement builds an advertisement descriptor for the given
// service UUID list (the BLE-MIDI service UUID) and local name.
func NewAdvertisement(path dbus.ObjectPath, serviceUUIDs []string, localName string) *Advertisement {
	return &Advertisement{path: path, serviceUUIDs: serviceUUIDs, localName: localName}
}

// Release implements the LEAdvertisement1 D-Bus method.
func (a *Advertisement) Release() *dbus.Error { return nil }

// properties returns the property map BlueZ reads via
// org.freedesktop.DBus.Properties.GetAll, since LEAdvertisement1 is a
// property-bag interface rather than a method-call one.
func (a *Advertisement) properties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"Type":         dbus.MakeVariant("peripheral"),
		"ServiceUUIDs": dbus.MakeVariant(a.serviceUUIDs),
		"LocalName":    dbus.MakeVariant(a.localName),
	}
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll for this object,
// so BlueZ can read the advertisement's declared properties.
func (a *Advertisement) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != "org.bluez.LEAdvertisement1" {
		return nil, dbus.MakeFailedError(fmt.Errorf("bluez: unknown interface %q", iface))
	}
	return a.properties(), nil
}

// Export publishes the advertisement and registers it with
// LEAdvertisingManager1.RegisterAdvertisement.
func (a *Advertisement) Export(b *Bus, adapterPath dbus.ObjectPath) error {
	if err := b.conn.Export(a, a.path, "org.bluez.LEAdvertisement1"); err != nil {
		return err
	}
	if err := b.conn.Export(a, a.path, propsIface); err != nil {
		return err
	}
	obj := b.conn.Object(Service, adapterPath)
	call := obj.Call(LEAdvertisingMgrIface+".RegisterAdvertisement", 0, a.path, map[string]dbus.Variant{})
	return call.Err
}

// Unexport unregisters and stops advertising.
func (a *Advertisement) Unexport(b *Bus, adapterPath dbus.ObjectPath) error {
	obj := b.conn.Object(Service, adapterPath)
	call := obj.Call(LEAdvertisingMgrIface+".UnregisterAdvertisement", 0, a.path)
	return call.Err
}
