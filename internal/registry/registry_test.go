package registry

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	path    string
	profile string
	refs    int32
}

func (f *fakeTransport) Path() string    { return f.path }
func (f *fakeTransport) Profile() string { return f.profile }
func (f *fakeTransport) Ref()            { atomic.AddInt32(&f.refs, 1) }
func (f *fakeTransport) Unref() int32    { return atomic.AddInt32(&f.refs, -1) }

func TestCreateAdapterRejectsOutOfRangeAndDuplicate(t *testing.T) {
	r := NewRegistry()
	_, err := r.CreateAdapter(-1, "hci-1", "AA", 0)
	require.Error(t, err)

	_, err = r.CreateAdapter(0, "hci0", "00:11:22:33:44:55", 0)
	require.NoError(t, err)
	_, err = r.CreateAdapter(0, "hci0", "00:11:22:33:44:55", 0)
	require.Error(t, err)
}

func TestLookupOrCreateDeviceReturnsSameInstance(t *testing.T) {
	r := NewRegistry()
	a, err := r.CreateAdapter(0, "hci0", "AA:BB", 0)
	require.NoError(t, err)

	d1 := a.LookupOrCreateDevice("11:22:33:44:55:66", "phone")
	d2 := a.LookupOrCreateDevice("11:22:33:44:55:66", "phone-renamed")
	require.Same(t, d1, d2)
}

func TestDeviceBatteryUnknownUntilSet(t *testing.T) {
	r := NewRegistry()
	a, _ := r.CreateAdapter(0, "hci0", "AA", 0)
	d := a.LookupOrCreateDevice("BB", "x")

	_, known := d.Battery()
	require.False(t, known)

	d.SetBattery(150) // clamps to 100
	level, known := d.Battery()
	require.True(t, known)
	require.Equal(t, 100, level)
}

func TestAddTransportRejectsDuplicatePath(t *testing.T) {
	r := NewRegistry()
	a, _ := r.CreateAdapter(0, "hci0", "AA", 0)
	d := a.LookupOrCreateDevice("BB", "x")

	tr := &fakeTransport{path: "/org/bluealsa/hci0/devBB/a2dpsrc", profile: "a2dp-source"}
	require.NoError(t, d.AddTransport(tr))
	require.Error(t, d.AddTransport(tr))
}

func TestRemoveTransportReportsRemainingCount(t *testing.T) {
	r := NewRegistry()
	a, _ := r.CreateAdapter(0, "hci0", "AA", 0)
	d := a.LookupOrCreateDevice("BB", "x")

	t1 := &fakeTransport{path: "/p1"}
	t2 := &fakeTransport{path: "/p2"}
	require.NoError(t, d.AddTransport(t1))
	require.NoError(t, d.AddTransport(t2))

	require.Equal(t, 1, d.RemoveTransport("/p1"))
	require.Equal(t, 0, d.RemoveTransport("/p2"))
}

func TestAdaptersSnapshot(t *testing.T) {
	r := NewRegistry()
	_, _ = r.CreateAdapter(0, "hci0", "AA", 0)
	_, _ = r.CreateAdapter(2, "hci2", "BB", 0)
	require.Len(t, r.Adapters(), 2)

	r.RemoveAdapter(0)
	require.Len(t, r.Adapters(), 1)
}
