package transport

import (
	"context"
	"io"
	"time"

	"github.com/bluealsa/bluealsa-go/internal/codec"
	"github.com/bluealsa/bluealsa-go/internal/logging"
	"github.com/bluealsa/bluealsa-go/internal/notify"
	"github.com/bluealsa/bluealsa-go/internal/pcm"
	"github.com/bluealsa/bluealsa-go/internal/rtp"
)

// ioLog is the shared logger for the A2DP/SCO media I/O loops, named the
// way the teacher names one logger per subsystem in its Driver/Adaptor
// constructors.
var ioLog = logging.Get("transport-io")

// encodePacer paces outgoing RTP packets to the codec's native frame
// duration, the Go-channel-based replacement (spec.md §9 redesign note) for
// the original implementation's poll()-driven BT-socket write-readiness
// wait: since the notification pipe is already a Go channel here, pacing
// the encoder on a ticker tied to the codec frame duration gives the same
// "don't write faster than the link drains" behavior without needing a
// raw poll(2) over heterogeneous fds.
func encodePacer(frameDuration time.Duration) *time.Ticker {
	if frameDuration <= 0 {
		frameDuration = 20 * time.Millisecond
	}
	return time.NewTicker(frameDuration)
}

// RunEncoder drives the sink-direction media I/O loop: read PCM frames from
// the FIFO mixer, encode, frame with RTP, write to the Bluetooth socket
// (spec.md §3 "Transport thread" sink role; §4.3 numbered pipeline).
// It returns when stop is closed or bt/fifo returns a fatal error, and
// always closes done before returning (spec.md §4.2 thread lifecycle).
func RunEncoder(ctx context.Context, th *Thread, mixer *pcm.Mixer, ep *pcm.Endpoint, enc codec.Encoder, state *rtp.State, bt io.Writer, pipe *notify.Pipe, frameDuration time.Duration) error {
	stop, done, ok := th.Start()
	if !ok {
		return nil
	}
	defer close(done)
	th.MarkRunning()

	ticker := encodePacer(frameDuration)
	defer ticker.Stop()

	header := make([]byte, rtp.HeaderLen)
	pcmBuf := make([]byte, 0)

	for {
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-pipe.C():
			switch sig {
			case notify.SignalPCMPause:
				if !waitResume(stop, pipe) {
					return nil
				}
			case notify.SignalPCMDrop:
				continue
			}
		case <-ticker.C:
			if !ep.Active() {
				ep.MarkDrained()
				continue
			}
			ep.ResetDrained()

			pcmBuf = mixer.Mix(pcmBuf)
			if len(pcmBuf) == 0 {
				continue
			}
			encoded, consumed, err := enc.Encode(nil, pcmBuf)
			if err != nil {
				ioLog.Error("encode failed", "err", err)
				continue
			}
			frameBytes := int(ep.Channels) * ep.Format.Bytes()
			if frameBytes == 0 {
				frameBytes = 1
			}
			frames := uint32(consumed / frameBytes)
			h := state.NextHeader(frames, rtp.DefaultPayloadType, false)
			n := h.Encode(header)
			if _, err := bt.Write(append(header[:n:n], encoded...)); err != nil {
				return err
			}
		}
	}
}

// RunDecoder drives the source-direction media I/O loop: read RTP packets
// from the Bluetooth socket, decode, and write PCM to the FIFO (spec.md §3
// source role).
func RunDecoder(ctx context.Context, th *Thread, ep *pcm.Endpoint, dec codec.Decoder, state *rtp.State, bt io.Reader, fifo io.Writer, pipe *notify.Pipe, readBuf []byte) error {
	stop, done, ok := th.Start()
	if !ok {
		return nil
	}
	defer close(done)
	th.MarkRunning()

	if readBuf == nil {
		readBuf = make([]byte, 4096)
	}

	readDone := make(chan readResult, 1)
	go blockingRead(bt, readBuf, readDone, stop)

	for {
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-pipe.C():
			if sig == notify.SignalPCMPause {
				if !waitResume(stop, pipe) {
					return nil
				}
			}
		case r := <-readDone:
			if r.err != nil {
				return r.err
			}
			h, ok := rtp.Decode(r.buf)
			if !ok {
				go blockingRead(bt, readBuf, readDone, stop)
				continue
			}
			sync := state.Sync(h)
			if sync.MissingRTPFrames > 0 {
				ioLog.Warn("rtp sequence gap", "missing", sync.MissingRTPFrames)
			}
			payload := r.buf[rtp.HeaderLen:]
			decoded, err := dec.Decode(nil, payload)
			if err != nil {
				ioLog.Error("decode failed", "err", err)
				go blockingRead(bt, readBuf, readDone, stop)
				continue
			}
			if ep.Active() {
				if _, err := fifo.Write(decoded); err != nil {
					ioLog.Error("fifo write failed", "err", err)
				}
			}
			go blockingRead(bt, readBuf, readDone, stop)
		}
	}
}

type readResult struct {
	buf []byte
	n   int
	err error
}

// blockingRead performs one Read call and posts the result, used so the
// select-based loop above never blocks directly on a socket read (the
// cooperative-cancellation replacement for poll(2) on the BT fd).
func blockingRead(r io.Reader, buf []byte, out chan<- readResult, stop <-chan struct{}) {
	n, err := r.Read(buf)
	select {
	case <-stop:
		return
	case out <- readResult{buf: buf[:n], n: n, err: err}:
	}
}

// waitResume blocks until a pcm-resume signal, stop is closed, or the pipe
// is closed, returning false if the loop should exit.
func waitResume(stop <-chan struct{}, pipe *notify.Pipe) bool {
	for {
		select {
		case <-stop:
			return false
		case sig, open := <-pipe.C():
			if !open {
				return false
			}
			if sig == notify.SignalPCMResume || sig == notify.SignalPCMDrop {
				return true
			}
		}
	}
}
