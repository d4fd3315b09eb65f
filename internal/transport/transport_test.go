package transport

import (
	"testing"

	"github.com/bluealsa/bluealsa-go/internal/codec"
	"github.com/bluealsa/bluealsa-go/internal/registry"
	"github.com/stretchr/testify/require"
)

type fakeAcquirer struct {
	acquireN  int
	releaseN  int
	fd        int
	failAfter int
}

func (f *fakeAcquirer) Acquire() (int, int, int, error) {
	f.acquireN++
	return f.fd, 672, 672, nil
}

func (f *fakeAcquirer) Release() error {
	f.releaseN++
	return nil
}

func newTestDevice() *registry.Device {
	_, d := newTestAdapterDevice()
	return d
}

func newTestAdapterDevice() (*registry.Adapter, *registry.Device) {
	reg := registry.NewRegistry()
	a, err := reg.CreateAdapter(0, "hci0", "00:11:22:33:44:55", 0)
	if err != nil {
		panic(err)
	}
	return a, a.LookupOrCreateDevice("AA:BB:CC:DD:EE:FF", "test-device")
}

func TestNewTransportStartsWithSingleRef(t *testing.T) {
	tr := New(newTestDevice(), ProfileA2DPSink, ":1.1", "/org/bluealsa/hci0/dev_AA/sink/a2dp", &fakeAcquirer{fd: 7})
	require.EqualValues(t, 1, tr.RefCount())
}

func TestRefUnrefBalances(t *testing.T) {
	tr := New(newTestDevice(), ProfileA2DPSink, ":1.1", "/path", &fakeAcquirer{fd: 7})
	tr.Ref()
	tr.Ref()
	require.EqualValues(t, 3, tr.RefCount())
	require.EqualValues(t, 2, tr.Unref())
	require.EqualValues(t, 1, tr.Unref())
	require.EqualValues(t, 0, tr.Unref())
}

func TestAcquireCachesFD(t *testing.T) {
	fa := &fakeAcquirer{fd: 9}
	tr := New(newTestDevice(), ProfileA2DPSink, ":1.1", "/path", fa)

	fd1, err := tr.Acquire()
	require.NoError(t, err)
	require.Equal(t, 9, fd1)

	fd2, err := tr.Acquire()
	require.NoError(t, err)
	require.Equal(t, fd1, fd2)
	require.Equal(t, 1, fa.acquireN, "second Acquire should reuse the cached fd")
}

func TestReleaseBTIsIdempotent(t *testing.T) {
	fa := &fakeAcquirer{fd: 9}
	tr := New(newTestDevice(), ProfileA2DPSink, ":1.1", "/path", fa)
	_, err := tr.Acquire()
	require.NoError(t, err)

	require.NoError(t, tr.ReleaseBT())
	require.NoError(t, tr.ReleaseBT())
	require.Equal(t, 1, fa.releaseN)
	require.Equal(t, -1, tr.FD())
}

func TestSetCodecOnlyAffectsA2DP(t *testing.T) {
	tr := New(newTestDevice(), ProfileA2DPSink, ":1.1", "/path", &fakeAcquirer{fd: 1})
	tr.A2DP = &A2DPData{}
	tr.SetCodec(codec.IDSBC, codec.Config{SampleRate: 44100, Channels: 2})

	id, cfg := tr.Codec()
	require.Equal(t, codec.IDSBC, id)
	require.EqualValues(t, 44100, cfg.SampleRate)
}

func TestVisibleA2DPGatedOnCodecAndState(t *testing.T) {
	tr := New(newTestDevice(), ProfileA2DPSink, ":1.1", "/path", &fakeAcquirer{fd: 1})
	tr.A2DP = &A2DPData{State: A2DPPending}
	require.False(t, tr.Visible())

	tr.SetA2DPState(A2DPActive)
	tr.SetCodec(codec.IDSBC, codec.Config{})
	require.True(t, tr.Visible())
}

func TestVisibleSCOGatedOnNegotiatedCodec(t *testing.T) {
	tr := New(newTestDevice(), ProfileHFPAG, ":1.1", "/path", &fakeAcquirer{fd: 1})
	tr.SCO = &SCOData{}
	require.False(t, tr.Visible())

	tr.SetSCOCodec(codec.IDMSBC)
	require.True(t, tr.Visible())
	require.Equal(t, codec.IDMSBC, tr.SCOCodecID())
}

func TestProfileHelpers(t *testing.T) {
	require.True(t, ProfileA2DPSource.IsA2DP())
	require.False(t, ProfileA2DPSource.IsSCO())
	require.True(t, ProfileHFPHF.IsSCO())
	require.False(t, ProfileMIDI.IsA2DP())
}

func TestTransportImplementsRegistryInterface(t *testing.T) {
	var _ registry.Transport = New(newTestDevice(), ProfileMIDI, ":1.1", "/path", &fakeAcquirer{fd: 1})
}

// TestDestroyRemovesFromDeviceAndAdapter exercises spec.md §4.1 "Transport
// destroy" and the §8 testable property "Destroying a transport twice is
// safe and a no-op the second time": the transport must leave its device's
// map (freeing its path for a later reconnect), and the device itself must
// leave the adapter's map once its last transport drops.
func TestDestroyRemovesFromDeviceAndAdapter(t *testing.T) {
	adapter, dev := newTestAdapterDevice()
	fa := &fakeAcquirer{fd: 9}
	tr := New(dev, ProfileHFPAG, ":1.1", "/org/bluez/hci0/dev_AA/hfp-ag", fa)
	require.NoError(t, dev.AddTransport(tr))
	_, err := tr.Acquire()
	require.NoError(t, err)

	require.False(t, tr.Stopping())
	tr.Destroy()
	require.True(t, tr.Stopping())
	require.Equal(t, 1, fa.releaseN)

	_, ok := dev.Transport(tr.Path())
	require.False(t, ok, "transport must be removed from its device's map")
	require.Nil(t, adapter.Device(dev.Address), "device must be removed once its last transport drops")

	// Idempotent: a second Destroy does not double-release the BT socket or
	// panic on an already-removed device/transport entry.
	tr.Destroy()
	require.Equal(t, 1, fa.releaseN)
}

// TestDestroyFreesPathForReconnect is the concrete regression this guards
// against: a deterministic per-device/profile transport path (as
// internal/hfp builds for native RFCOMM sessions) must become reusable
// again after Destroy, or a reconnect is rejected forever by AddTransport's
// "already exists" check.
func TestDestroyFreesPathForReconnect(t *testing.T) {
	_, dev := newTestAdapterDevice()
	path := "/org/bluez/hci0/dev_AA/hfp-ag"

	tr1 := New(dev, ProfileHFPAG, ":1.1", path, &fakeAcquirer{fd: 1})
	require.NoError(t, dev.AddTransport(tr1))
	tr1.Destroy()

	tr2 := New(dev, ProfileHFPAG, ":1.1", path, &fakeAcquirer{fd: 2})
	require.NoError(t, dev.AddTransport(tr2), "path must be reusable after the prior transport was destroyed")
}
