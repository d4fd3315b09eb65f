// Package bluealsaerr defines the semantic error taxonomy shared by the
// transport runtime and the controller's D-Bus surface.
package bluealsaerr

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying a failure the way the controller and the I/O
// loops need to react to it, independent of the syscall that produced it.
var (
	ErrDeviceBusy     = errors.New("device busy")
	ErrDeviceNotFound = errors.New("device not found")
	ErrForbidden      = errors.New("forbidden")
	ErrProtocol       = errors.New("protocol error")
	ErrLinkLost       = errors.New("link lost")
	ErrTimeout        = errors.New("timeout")
	ErrNotSupported   = errors.New("not supported")
)

// NewDeviceBusy reports that a PCM already has an owning client.
func NewDeviceBusy(path string) error {
	return fmt.Errorf("%w: %s", ErrDeviceBusy, path)
}

// NewDeviceNotFound reports that no transport/device exists at path.
func NewDeviceNotFound(path string) error {
	return fmt.Errorf("%w: %s", ErrDeviceNotFound, path)
}

// NewForbidden reports a Close/Pause/Resume attempted by a non-owner.
func NewForbidden(op, path string) error {
	return fmt.Errorf("%w: %s on %s", ErrForbidden, op, path)
}

// NewProtocol reports a malformed AT command, unexpected RTP payload type,
// or invalid codec configuration blob.
func NewProtocol(detail string) error {
	return fmt.Errorf("%w: %s", ErrProtocol, detail)
}

// AppendError joins two errors the way the teacher's root errors.go does,
// so that cleanup sweeps can continue past a single failure and still
// report everything that went wrong.
func AppendError(base, next error) error {
	if next == nil {
		return base
	}
	if base == nil {
		return next
	}
	return errors.Join(base, next)
}
