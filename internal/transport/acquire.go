package transport

import (
	"github.com/bluealsa/bluealsa-go/internal/ioctlutil"
)

// AcquireFunc performs the actual transport-specific handshake that yields a
// Bluetooth socket fd plus its negotiated read/write MTUs. Concrete values
// are supplied by internal/bluez (MediaTransport1.Acquire, native SCO
// Connect) and internal/ofono (HandsfreeCard Connect), keeping this package
// free of a D-Bus import and matching spec.md §9's "acquire/release function
// pointers" note without resorting to function pointers on a struct.
type AcquireFunc func() (fd int, readMTU, writeMTU int, err error)

// ReleaseFunc closes/returns the fd obtained by the matching AcquireFunc.
type ReleaseFunc func(fd int) error

// FuncAcquirer adapts an (AcquireFunc, ReleaseFunc) pair to the Acquirer
// interface, the single concrete type backing all three capability
// variants spec.md §9 calls out (native A2DP, native SCO, oFono SCO).
type FuncAcquirer struct {
	acquire AcquireFunc
	release ReleaseFunc
	fd      int
}

// NewFuncAcquirer builds a FuncAcquirer from the pair of hooks.
func NewFuncAcquirer(acquire AcquireFunc, release ReleaseFunc) *FuncAcquirer {
	return &FuncAcquirer{acquire: acquire, release: release, fd: -1}
}

// Acquire implements Acquirer.
func (f *FuncAcquirer) Acquire() (int, int, int, error) {
	fd, rmtu, wmtu, err := f.acquire()
	if err != nil {
		return -1, 0, 0, err
	}
	f.fd = fd
	return fd, rmtu, wmtu, nil
}

// Release implements Acquirer.
func (f *FuncAcquirer) Release() error {
	if f.fd < 0 {
		return nil
	}
	fd := f.fd
	f.fd = -1
	if f.release == nil {
		return nil
	}
	return f.release(fd)
}

// OutputQueueBytes reports the number of bytes still queued for transmit on
// fd via TIOCOUTQ, used by the delay-reporting calculation in spec.md §4.3
// step 6 and the open question in §9 about exposing real queue depth.
func OutputQueueBytes(fd int) (int, error) {
	return ioctlutil.OutputQueueBytes(fd)
}
