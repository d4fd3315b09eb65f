package bluez

import (
	"github.com/godbus/dbus/v5"

	"github.com/bluealsa/bluealsa-go/internal/logging"
)

var profileLog = logging.Get("bluez-profile")

// ProfileHandler is implemented by internal/hfp to accept/tear down RFCOMM
// connections BlueZ hands over once a peer connects to a registered profile
// UUID (spec.md §4.5 "SLC over RFCOMM").
type ProfileHandler interface {
	NewConnection(device dbus.ObjectPath, fd int, properties map[string]dbus.Variant) error
	RequestDisconnection(device dbus.ObjectPath)
}

// Profile exports org.bluez.Profile1 for one HFP/HSP role.
type Profile struct {
	path    dbus.ObjectPath
	uuid    string
	handler ProfileHandler
}

// NewProfile builds a profile descriptor for uuid (HandsfreeAG, Handsfree,
// Headset, HeadsetAG — spec.md glossary).
func NewProfile(path dbus.ObjectPath, uuid string, handler ProfileHandler) *Profile {
	return &Profile{path: path, uuid: uuid, handler: handler}
}

// NewConnection implements the Profile1 D-Bus method. godbus delivers the
// RFCOMM socket as the received descriptor itself; ownership of it passes
// to the handler, and no *os.File is created here whose finalizer could
// close it once this call returns.
func (p *Profile) NewConnection(device dbus.ObjectPath, fdIdx dbus.UnixFD, properties map[string]dbus.Variant) *dbus.Error {
	fd := int(fdIdx)
	if err := p.handler.NewConnection(device, fd, properties); err != nil {
		profileLog.Error("NewConnection rejected", "device", device, "err", err)
		return dbus.MakeFailedError(err)
	}
	return nil
}

// RequestDisconnection implements the Profile1 D-Bus method.
func (p *Profile) RequestDisconnection(device dbus.ObjectPath) *dbus.Error {
	p.handler.RequestDisconnection(device)
	return nil
}

// Release implements the Profile1 D-Bus method, called when BlueZ itself is
// shutting down the profile registration.
func (p *Profile) Release() *dbus.Error { return nil }

// Export publishes the profile object and registers it with BlueZ's
// ProfileManager1.RegisterProfile (spec.md §4.5).
func (p *Profile) Export(b *Bus, options map[string]dbus.Variant) error {
	if err := b.conn.Export(p, p.path, ProfileIface); err != nil {
		return err
	}
	obj := b.conn.Object(Service, RootPath)
	call := obj.Call(ProfileManagerIface+".RegisterProfile", 0, p.path, p.uuid, options)
	return call.Err
}

// Unexport unregisters the profile.
func (p *Profile) Unexport(b *Bus) error {
	obj := b.conn.Object(Service, RootPath)
	call := obj.Call(ProfileManagerIface+".UnregisterProfile", 0, p.path)
	_ = b.conn.Export(nil, p.path, ProfileIface)
	return call.Err
}
