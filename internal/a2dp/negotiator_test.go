package a2dp

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"

	"github.com/bluealsa/bluealsa-go/internal/config"
	"github.com/bluealsa/bluealsa-go/internal/registry"
	"github.com/bluealsa/bluealsa-go/internal/transport"
)

type fakeAcquirer struct{}

func (fakeAcquirer) Acquire() (int, int, int, error) { return 5, 672, 672, nil }
func (fakeAcquirer) Release() error                  { return nil }

func newTestNegotiator(t *testing.T) (*Negotiator, *registry.Device) {
	t.Helper()
	reg := registry.NewRegistry()
	a, err := reg.CreateAdapter(0, "hci0", "00:11:22:33:44:55", 0)
	require.NoError(t, err)
	dev := a.LookupOrCreateDevice("AA:BB:CC:DD:EE:FF", "test")

	n := NewNegotiator(a, transport.ProfileA2DPSink, &config.Config{InitialVolume: 100},
		func(dbus.ObjectPath) (*registry.Device, error) { return dev, nil },
		func(dbus.ObjectPath) transport.Acquirer { return fakeAcquirer{} },
	)
	return n, dev
}

func TestNegotiatorSelectConfigurationReturnsSBCBlob(t *testing.T) {
	n, _ := newTestNegotiator(t)
	blob, err := n.SelectConfiguration([]byte{0xff, 0xff, 2, 53})
	require.NoError(t, err)
	require.Len(t, blob, 4)
}

func TestNegotiatorSetConfigurationRegistersTransport(t *testing.T) {
	n, dev := newTestNegotiator(t)
	path := dbus.ObjectPath("/org/bluez/hci0/dev_AA/sink/fd0")

	err := n.SetConfiguration(path, map[string]dbus.Variant{
		"Configuration": dbus.MakeVariant([]byte{0xff, 0xff, 2, 53}),
	})
	require.NoError(t, err)

	tr, ok := n.Transport(path)
	require.True(t, ok)
	require.Equal(t, string(path), tr.Path())

	_, ok = dev.Transport(string(path))
	require.True(t, ok)
}

func TestNegotiatorClearConfigurationRemovesTransport(t *testing.T) {
	n, _ := newTestNegotiator(t)
	path := dbus.ObjectPath("/org/bluez/hci0/dev_AA/sink/fd0")
	require.NoError(t, n.SetConfiguration(path, map[string]dbus.Variant{
		"Configuration": dbus.MakeVariant([]byte{0xff, 0xff, 2, 53}),
	}))

	n.ClearConfiguration(path)
	_, ok := n.Transport(path)
	require.False(t, ok)
}
