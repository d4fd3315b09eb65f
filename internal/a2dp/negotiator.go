package a2dp

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/bluealsa/bluealsa-go/internal/codec"
	"github.com/bluealsa/bluealsa-go/internal/config"
	"github.com/bluealsa/bluealsa-go/internal/logging"
	"github.com/bluealsa/bluealsa-go/internal/pcm"
	"github.com/bluealsa/bluealsa-go/internal/registry"
	"github.com/bluealsa/bluealsa-go/internal/transport"
)

var log = logging.Get("a2dp")

// Negotiator implements bluez.EndpointNegotiator for one A2DP role (source
// or sink) on one adapter, turning BlueZ's SelectConfiguration/
// SetConfiguration calls into registry Transport objects (spec.md §4.3
// steps 1-2).
type Negotiator struct {
	adapter *registry.Adapter
	profile transport.Profile
	cfg     *config.Config

	mu          sync.Mutex
	byTransport map[dbus.ObjectPath]*transport.Transport
	mixers      map[dbus.ObjectPath]*a2dpMixer

	// deviceForTransport resolves a BlueZ transport path back to the owning
	// Device, supplied by the caller since MediaTransport1's "Device"
	// property carries that association rather than the path itself.
	deviceForTransport func(dbus.ObjectPath) (*registry.Device, error)

	// newAcquirer builds the Acquirer for a freshly negotiated transport,
	// injected so this package never imports internal/bluez (it would
	// otherwise create an import cycle, since bluez's EndpointNegotiator
	// interface is satisfied by this type).
	newAcquirer func(transportPath dbus.ObjectPath) transport.Acquirer
}

// NewNegotiator builds a negotiator bound to one adapter/profile pair.
func NewNegotiator(adapter *registry.Adapter, profile transport.Profile, cfg *config.Config,
	deviceForTransport func(dbus.ObjectPath) (*registry.Device, error),
	newAcquirer func(dbus.ObjectPath) transport.Acquirer,
) *Negotiator {
	return &Negotiator{
		adapter:             adapter,
		profile:             profile,
		cfg:                 cfg,
		byTransport:         make(map[dbus.ObjectPath]*transport.Transport),
		mixers:              make(map[dbus.ObjectPath]*a2dpMixer),
		deviceForTransport:  deviceForTransport,
		newAcquirer:         newAcquirer,
	}
}

// SelectConfiguration implements bluez.EndpointNegotiator.
func (n *Negotiator) SelectConfiguration(capabilities []byte) ([]byte, error) {
	caps, err := ParseSBCCapabilities(capabilities)
	if err != nil {
		return nil, err
	}
	blob, _, err := SelectSBCConfiguration(caps, n.cfg.A2DPForceMono, n.cfg.A2DPForceAudioCD)
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// SetConfiguration implements bluez.EndpointNegotiator: builds the
// Transport for this transport path, initializing its PCM endpoints from
// the negotiated configuration. A second call for a path that already has
// a transport fails with AddTransport's error.
func (n *Negotiator) SetConfiguration(transportPath dbus.ObjectPath, properties map[string]dbus.Variant) error {
	device, err := n.deviceForTransport(transportPath)
	if err != nil {
		return fmt.Errorf("a2dp: resolve device for %s: %w", transportPath, err)
	}

	caps := sbcCapsFromConfigProperty(properties)
	_, cfg, err := SelectSBCConfiguration(caps, n.cfg.A2DPForceMono, n.cfg.A2DPForceAudioCD)
	if err != nil {
		return err
	}

	acquirer := n.newAcquirer(transportPath)
	tr := transport.New(device, n.profile, "org.bluez", string(transportPath), acquirer)
	tr.A2DP = &transport.A2DPData{
		CodecID:        codec.IDSBC,
		Config:         cfg,
		State:          transport.A2DPPending,
		DelayReporting: true,
	}
	mode := pcm.ModeSink
	if n.profile == transport.ProfileA2DPSource {
		mode = pcm.ModeSource
	}
	tr.A2DP.Main = pcm.NewEndpoint(mode, cfg.Channels, cfg.SampleRate, n.cfg.InitialVolume)
	tr.SetCodec(codec.IDSBC, cfg)
	tr.SetA2DPState(transport.A2DPActive)

	if err := device.AddTransport(tr); err != nil {
		return fmt.Errorf("a2dp: register transport: %w", err)
	}

	mixer := NewA2DPMixer(int(cfg.Channels))
	n.mu.Lock()
	n.byTransport[transportPath] = tr
	n.mixers[transportPath] = mixer
	n.mu.Unlock()

	log.Info("a2dp configured", "path", transportPath, "rate", cfg.SampleRate, "channels", cfg.Channels)

	// Acquiring here rather than waiting for the local client's PCM Open
	// matches BlueZ's own expectation for the non-source role (it calls
	// Acquire on the media transport as soon as SetConfiguration settles);
	// internal/controller's Open still acquires lazily for the source role,
	// a harmless no-op re-acquire since transport.Acquire caches the fd.
	go func() {
		if err := StartIO(context.Background(), tr, mixer); err != nil {
			log.Error("a2dp io start failed", "path", transportPath, "err", err)
		}
	}()
	return nil
}

// ClearConfiguration implements bluez.EndpointNegotiator.
func (n *Negotiator) ClearConfiguration(transportPath dbus.ObjectPath) {
	n.mu.Lock()
	tr, ok := n.byTransport[transportPath]
	delete(n.byTransport, transportPath)
	delete(n.mixers, transportPath)
	n.mu.Unlock()
	if !ok {
		return
	}
	tr.Destroy()
}

// Transport returns the live Transport for a BlueZ transport path, if any.
func (n *Negotiator) Transport(transportPath dbus.ObjectPath) (*transport.Transport, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	tr, ok := n.byTransport[transportPath]
	return tr, ok
}

// sbcCapsFromConfigProperty extracts the raw SBC configuration bytes BlueZ
// reports on MediaTransport1.Configuration.
func sbcCapsFromConfigProperty(properties map[string]dbus.Variant) SBCCapabilities {
	if v, ok := properties["Configuration"]; ok {
		if raw, ok := v.Value().([]byte); ok {
			if caps, err := ParseSBCCapabilities(raw); err == nil {
				return caps
			}
		}
	}
	// Fall back to a fixed 48/44.1kHz, joint-stereo/mono mask (max bitpool
	// 53) so SelectSBCConfiguration still yields a configuration rather than
	// failing outright.
	return SBCCapabilities{FreqMask: sbcFreq48000 | sbcFreq44100, ChannelMask: sbcChannelJointStereo | sbcChannelMono, MaxBitpool: 53}
}
