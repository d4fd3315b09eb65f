package controller

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/bluealsa/bluealsa-go/internal/notify"
	"github.com/bluealsa/bluealsa-go/internal/pcm"
	"github.com/bluealsa/bluealsa-go/internal/registry"
	"github.com/bluealsa/bluealsa-go/internal/state"
	"github.com/bluealsa/bluealsa-go/internal/transport"
)

// pcmObject is the exported org.bluealsa.PCM1 object for one PCM direction
// of one transport. It answers org.freedesktop.DBus.Properties Get/GetAll/
// Set directly (spec.md §4.6: "property gets/sets for volume, mute,
// soft-volume, and codec").
type pcmObject struct {
	path dbus.ObjectPath
	tr   *transport.Transport
	ep   *pcm.Endpoint

	adapterName string
	deviceAddr  string
	codecID     string
	delay       uint16

	store *state.Store
}

func newPCMObject(tr *transport.Transport, ep *pcm.Endpoint, a *registry.Adapter, d *registry.Device, codecID string, delay uint16, store *state.Store) *pcmObject {
	stream := "source"
	if ep.Mode == pcm.ModeSink {
		stream = "sink"
	}
	path := dbus.ObjectPath(fmt.Sprintf("%s/%s", tr.Path(), stream))
	return &pcmObject{
		path:        path,
		tr:          tr,
		ep:          ep,
		adapterName: a.Name,
		deviceAddr:  d.Address,
		codecID:     codecID,
		delay:       delay,
		store:       store,
	}
}

func (po *pcmObject) notify(sig notify.Signal) { po.tr.Manager().Notify(sig) }

func (po *pcmObject) descriptor() PCMDescriptor {
	return PCMDescriptor{
		Path:     po.path,
		Adapter:  po.adapterName,
		Device:   po.deviceAddr,
		Profile:  po.tr.Profile(),
		Mode:     modeString(po.ep.Mode),
		Format:   uint16(po.ep.Format),
		Channels: po.ep.Channels,
		Sampling: po.ep.Sampling,
		Codec:    po.codecID,
		Delay:    po.delay,
	}
}

func modeString(m pcm.Mode) string {
	if m == pcm.ModeSink {
		return "sink"
	}
	return "source"
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll.
func (po *pcmObject) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != PCMIface {
		return nil, dbus.MakeFailedError(fmt.Errorf("controller: unknown interface %s", iface))
	}
	ch0 := po.ep.ChannelVolume(0)
	props := map[string]dbus.Variant{
		"Codec":      dbus.MakeVariant(po.codecID),
		"Channels":   dbus.MakeVariant(po.ep.Channels),
		"Sampling":   dbus.MakeVariant(po.ep.Sampling),
		"SoftVolume": dbus.MakeVariant(po.ep.SoftVolume),
		"Volume":     dbus.MakeVariant(ch0.LevelCentiDB),
		"Mute":       dbus.MakeVariant(ch0.Muted),
		"Delay":      dbus.MakeVariant(po.delay),
	}
	return props, nil
}

// Get implements org.freedesktop.DBus.Properties.Get.
func (po *pcmObject) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	all, err := po.GetAll(iface)
	if err != nil {
		return dbus.Variant{}, err
	}
	v, ok := all[name]
	if !ok {
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("controller: unknown property %s", name))
	}
	return v, nil
}

// Set implements org.freedesktop.DBus.Properties.Set: volume/mute/
// soft-volume changes write through to the endpoint and, when a store is
// configured, persist immediately (spec.md §6 Persistent state; §4.6
// "Volume/mute changes write through a per-PCM helper").
func (po *pcmObject) Set(iface, name string, value dbus.Variant) *dbus.Error {
	if iface != PCMIface {
		return dbus.MakeFailedError(fmt.Errorf("controller: unknown interface %s", iface))
	}
	switch name {
	case "SoftVolume":
		v, ok := value.Value().(bool)
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("controller: SoftVolume must be bool"))
		}
		po.ep.SoftVolume = v
	case "Volume":
		v, ok := value.Value().(int16)
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("controller: Volume must be int16 centi-dB"))
		}
		ch := po.ep.ChannelVolume(0)
		ch.LevelCentiDB = v
		po.ep.SetChannelVolume(0, ch)
		po.ep.SetChannelVolume(1, ch)
	case "Mute":
		v, ok := value.Value().(bool)
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("controller: Mute must be bool"))
		}
		ch := po.ep.ChannelVolume(0)
		ch.Muted = v
		po.ep.SetChannelVolume(0, ch)
		po.ep.SetChannelVolume(1, ch)
	default:
		return dbus.MakeFailedError(fmt.Errorf("controller: property %s is read-only", name))
	}
	po.persist()
	po.notify(notify.SignalPing)
	return nil
}

func (po *pcmObject) persist() {
	if po.store == nil {
		return
	}
	pcmName := po.tr.Profile() + "-" + modeString(po.ep.Mode)
	if err := po.store.SaveEndpoint(po.adapterName, po.deviceAddr, pcmName, po.ep); err != nil {
		log.Warn("persist PCM volume failed", "path", po.path, "err", err)
	}
}
