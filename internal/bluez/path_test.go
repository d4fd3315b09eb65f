package bluez

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"
)

func TestHciIndexFromPath(t *testing.T) {
	require.Equal(t, 0, hciIndexFromPath(dbus.ObjectPath("/org/bluez/hci0")))
	require.Equal(t, 2, hciIndexFromPath(dbus.ObjectPath("/org/bluez/hci2")))
	require.Equal(t, -1, hciIndexFromPath(dbus.ObjectPath("/org/bluez")))
	require.Equal(t, -1, hciIndexFromPath(dbus.ObjectPath("/org/bluez/notahci")))
}

func TestParentPath(t *testing.T) {
	require.Equal(t, "/org/bluez/hci0", parentPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"))
	require.Equal(t, "/org/bluez", parentPath("/org/bluez/hci0"))
	require.Equal(t, "noslash", parentPath("noslash"))
}
