package a2dp

import (
	"os"
)

// socketConn adapts a raw Bluetooth socket fd (handed back by
// MediaTransport1.Acquire) to io.Reader/io.Writer for the media I/O loop.
type socketConn struct {
	f *os.File
}

func newSocketConn(fd int) *socketConn {
	return &socketConn{f: os.NewFile(uintptr(fd), "bt-media")}
}

func (s *socketConn) Read(p []byte) (int, error)  { return s.f.Read(p) }
func (s *socketConn) Write(p []byte) (int, error) { return s.f.Write(p) }
func (s *socketConn) Close() error                { return s.f.Close() }

// openFIFOWriter opens a PCM source-direction FIFO for writing decoded audio,
// the file the local ALSA/PulseAudio client reads from (spec.md §3 "PCM
// endpoint": "the daemon is the writer of a source-direction FIFO").
func openFIFOWriter(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY, 0)
}

// openFIFOReader opens a PCM sink-direction FIFO for reading the PCM a
// local client wrote, the daemon's side of feeding the encoder's mixer.
func openFIFOReader(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDONLY, 0)
}
