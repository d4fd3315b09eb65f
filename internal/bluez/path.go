package bluez

import (
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
)

// hciIndexFromPath extracts the numeric suffix from a BlueZ adapter path
// like "/org/bluez/hci0", returning -1 if it doesn't match that shape.
func hciIndexFromPath(path dbus.ObjectPath) int {
	base := string(path)
	slash := strings.LastIndexByte(base, '/')
	if slash < 0 {
		return -1
	}
	seg := base[slash+1:]
	if !strings.HasPrefix(seg, "hci") {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimPrefix(seg, "hci"))
	if err != nil {
		return -1
	}
	return n
}
