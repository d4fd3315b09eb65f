package bluez

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/bluealsa/bluealsa-go/internal/ioctlutil"
)

// rawSockaddrSCO mirrors the kernel's struct sockaddr_sco (bluetooth.h):
// a 2-byte family followed by a 6-byte device address, no PSM/channel
// field (SCO has none). Grounded on the rawSockaddrL2 layout technique in
// the retrieved inoc603/btk bluetooth.go reference (family + bdaddr raw
// struct passed to connect(2) via unsafe.Pointer), adapted from L2CAP's
// PSM field to SCO's bare address.
type rawSockaddrSCO struct {
	Family uint16
	Bdaddr [6]byte
}

// parseBdaddr decodes a "AA:BB:CC:DD:EE:FF" address into the kernel's
// little-endian-reversed 6-byte form.
func parseBdaddr(addr string) ([6]byte, error) {
	var out [6]byte
	var b [6]int
	n, err := fmt.Sscanf(addr, "%02X:%02X:%02X:%02X:%02X:%02X", &b[0], &b[1], &b[2], &b[3], &b[4], &b[5])
	if err != nil || n != 6 {
		return out, fmt.Errorf("bluez: malformed bluetooth address %q", addr)
	}
	for i := 0; i < 6; i++ {
		out[5-i] = byte(b[i])
	}
	return out, nil
}

// NativeSCOAcquirer opens a raw AF_BLUETOOTH/BTPROTO_SCO socket directly to
// a peer address, the native-HFP counterpart to MediaTransportProxy's
// D-Bus-mediated A2DP acquire (spec.md §9 Polymorphism: "native SCO via
// BlueZ"). BlueZ's Profile1 flow only ever hands the RFCOMM control fd; the
// SCO audio link itself is connected directly against the Bluetooth socket
// layer, so this is the one capability implementation that does not proxy
// through a D-Bus method call. Implements transport.Acquirer directly.
type NativeSCOAcquirer struct {
	peerAddr string
	fd       int
}

// NewNativeSCOAcquirer builds an Acquirer that connects a SCO socket to
// peerAddr ("AA:BB:CC:DD:EE:FF") on first use.
func NewNativeSCOAcquirer(peerAddr string) *NativeSCOAcquirer {
	return &NativeSCOAcquirer{peerAddr: peerAddr, fd: -1}
}

// Acquire implements transport.Acquirer by dialing a SCO socket. MTUs for
// SCO links are fixed-size and not reported by the kernel the way an L2CAP
// socket's are, so they're read back as the socket's buffer sizes via
// SO_SNDBUF/SO_RCVBUF (internal/ioctlutil.SocketMTUs), matching the same
// MTU-at-acquire-time policy spec.md §9 open question iii records for A2DP.
func (a *NativeSCOAcquirer) Acquire() (int, int, int, error) {
	bdaddr, err := parseBdaddr(a.peerAddr)
	if err != nil {
		return -1, 0, 0, err
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_SCO)
	if err != nil {
		return -1, 0, 0, fmt.Errorf("bluez: socket(AF_BLUETOOTH, SCO): %w", err)
	}

	var sa rawSockaddrSCO
	sa.Family = unix.AF_BLUETOOTH
	sa.Bdaddr = bdaddr
	_, _, errno := unix.Syscall(unix.SYS_CONNECT, uintptr(fd),
		uintptr(unsafe.Pointer(&sa)), unsafe.Sizeof(sa))
	if errno != 0 {
		unix.Close(fd)
		return -1, 0, 0, fmt.Errorf("bluez: connect SCO %s: %w", a.peerAddr, errno)
	}

	readMTU, writeMTU := ioctlutil.SocketMTUs(fd)
	a.fd = fd
	return fd, readMTU, writeMTU, nil
}

// Release implements transport.Acquirer.
func (a *NativeSCOAcquirer) Release() error {
	if a.fd < 0 {
		return nil
	}
	fd := a.fd
	a.fd = -1
	return unix.Close(fd)
}
