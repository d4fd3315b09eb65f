package controller

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"

	"github.com/bluealsa/bluealsa-go/internal/codec"
	"github.com/bluealsa/bluealsa-go/internal/pcm"
	"github.com/bluealsa/bluealsa-go/internal/registry"
	"github.com/bluealsa/bluealsa-go/internal/transport"
)

func newTestA2DPTransport(t *testing.T, reg *registry.Registry) (*registry.Adapter, *registry.Device, *transport.Transport) {
	t.Helper()
	a, err := reg.CreateAdapter(0, "hci0", "00:00:00:00:00:00", 0)
	require.NoError(t, err)
	d := a.LookupOrCreateDevice("AA:BB:CC:DD:EE:FF", "peer")

	tr := transport.New(d, transport.ProfileA2DPSink, "org.bluez", "/org/bluealsa/hci0/dev_AA_BB_CC_DD_EE_FF/a2dpsink", nil)
	tr.A2DP = &transport.A2DPData{
		State: transport.A2DPActive,
		Main:  pcm.NewEndpoint(pcm.ModeSink, 2, 44100, 100),
	}
	tr.SetCodec(codec.IDSBC, codec.Config{SampleRate: 44100, Channels: 2})
	require.NoError(t, d.AddTransport(tr))
	return a, d, tr
}

func TestSanitizeAddrReplacesSeparators(t *testing.T) {
	require.Equal(t, "AA_BB", sanitizeAddr("AA/BB"))
	require.Equal(t, "AA:BB", sanitizeAddr("AA:BB"))
}

func TestPCMObjectDescriptorFields(t *testing.T) {
	reg := registry.NewRegistry()
	a, d, tr := newTestA2DPTransport(t, reg)

	po := newPCMObject(tr, tr.A2DP.Main, a, d, "sbc", 0, nil)
	desc := po.descriptor()

	require.Equal(t, "hci0", desc.Adapter)
	require.Equal(t, "AA:BB:CC:DD:EE:FF", desc.Device)
	require.Equal(t, "a2dp-sink", desc.Profile)
	require.Equal(t, "sink", desc.Mode)
	require.Equal(t, uint8(2), desc.Channels)
	require.Equal(t, uint32(44100), desc.Sampling)
	require.Equal(t, "sbc", desc.Codec)
}

func TestPCMObjectSetVolumeAndMute(t *testing.T) {
	reg := registry.NewRegistry()
	a, d, tr := newTestA2DPTransport(t, reg)
	po := newPCMObject(tr, tr.A2DP.Main, a, d, "sbc", 0, nil)

	require.Nil(t, po.Set(PCMIface, "SoftVolume", dbus.MakeVariant(true)))
	require.True(t, po.ep.SoftVolume)

	require.Nil(t, po.Set(PCMIface, "Mute", dbus.MakeVariant(true)))
	require.True(t, po.ep.ChannelVolume(0).Muted)
	require.True(t, po.ep.ChannelVolume(1).Muted)
}

func TestCreateFIFOMakesMode0660(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test-fifo")
	require.NoError(t, createFIFO(path))
	defer os.Remove(path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.ModeNamedPipe, info.Mode()&os.ModeNamedPipe)
	require.Equal(t, os.FileMode(0o660), info.Mode().Perm())
}
