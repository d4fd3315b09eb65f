// Package ioctlutil wraps the small set of raw ioctl(2) probes the
// transport runtime needs against Bluetooth sockets: the TIOCOUTQ out-queue
// depth used for the A2DP delay-reporting anchor, and the socket MTU probe
// taken once at acquire time (spec.md §3 Transport "an initial TIOCOUTQ
// anchor"; §9 open question iii "mtu_read and mtu_write ... taken from the
// socket at acquire time").
//
// Grounded on Daedaluz-goserial/ioctl_linux.go's pattern of hand-declaring
// request numbers and calling through github.com/daedaluz/goioctl rather
// than shelling out or reimplementing syscall.Syscall directly.
package ioctlutil

import (
	"fmt"
	"unsafe"

	ioctl "github.com/daedaluz/goioctl"
	"golang.org/x/sys/unix"
)

// tiocoutq is the Linux ioctl request number for querying the number of
// unsent bytes in a socket's output queue (bits/ioctls.h TIOCOUTQ).
const tiocoutq = uintptr(0x5411)

// OutputQueueBytes reports the number of bytes still queued for transmit on
// fd via TIOCOUTQ (spec.md §3 Transport: "an initial TIOCOUTQ anchor").
func OutputQueueBytes(fd int) (int, error) {
	var queued int32
	if err := ioctl.Ioctl(uintptr(fd), tiocoutq, uintptr(unsafe.Pointer(&queued))); err != nil {
		return 0, fmt.Errorf("ioctlutil: TIOCOUTQ: %w", err)
	}
	return int(queued), nil
}

// SocketMTUs is the "getsockopt-style probe on acquire" spec.md §4.3 Edge
// policies describes: it reads SO_RCVBUF and SO_SNDBUF via getsockopt and
// returns them as the read and write MTUs. It does not query the
// BT_RCVMTU/BT_SNDMTU options; a value it cannot read (e.g. on a plain pipe
// in tests) becomes 1024 rather than failing the acquire.
func SocketMTUs(fd int) (readMTU, writeMTU int) {
	if v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF); err == nil && v > 0 {
		readMTU = v
	}
	if v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF); err == nil && v > 0 {
		writeMTU = v
	}
	if readMTU == 0 {
		readMTU = 1024
	}
	if writeMTU == 0 {
		writeMTU = 1024
	}
	return readMTU, writeMTU
}
