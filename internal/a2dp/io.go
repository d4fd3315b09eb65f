package a2dp

import (
	"context"
	"io"
	"time"

	"github.com/bluealsa/bluealsa-go/internal/codec"
	"github.com/bluealsa/bluealsa-go/internal/pcm"
	"github.com/bluealsa/bluealsa-go/internal/rtp"
	"github.com/bluealsa/bluealsa-go/internal/transport"
)

// fifoPollInterval is how often StartIO checks whether the controller has
// attached a FIFO to an endpoint yet (SetConfiguration runs well before any
// client calls Open, spec.md §4.3 step 2 vs §4.6 Open).
const fifoPollInterval = 50 * time.Millisecond

// waitFifoPath blocks until ep has a client-attached FIFO path (the
// controller's Open sets one, internal/controller's pcm.Endpoint.Open) or
// ctx is cancelled.
func waitFifoPath(ctx context.Context, ep *pcm.Endpoint) (string, error) {
	ticker := time.NewTicker(fifoPollInterval)
	defer ticker.Stop()
	for {
		if p := ep.FifoPath(); p != "" {
			return p, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// frameDuration returns the codec's native frame period, used to pace the
// encoder loop (spec.md §4.3 step 4: "pace writes to the codec's native
// frame duration").
func frameDuration(cfg codec.Config) time.Duration {
	if cfg.SampleRate == 0 || cfg.BlockSize == 0 {
		return 20 * time.Millisecond // fixed fallback when rate or block size is unknown
	}
	return time.Duration(cfg.BlockSize) * time.Second / time.Duration(cfg.SampleRate)
}

// StartIO brings up the encoder or decoder loop (whichever matches tr's
// profile direction) for a freshly active A2DP transport, acquiring the
// Bluetooth socket first (spec.md §4.3 steps 3-7).
func StartIO(ctx context.Context, tr *transport.Transport, mixer *a2dpMixer) error {
	fd, err := tr.Acquire()
	if err != nil {
		return err
	}

	c, err := codec.Lookup(tr.A2DP.CodecID)
	if err != nil {
		return err
	}

	sock := newSocketConn(fd)
	state := rtp.NewState(tr.A2DP.Config.SampleRate, tr.A2DP.Config.SampleRate)
	pipe := tr.Manager().Pipe()

	if tr.ProfileTag == transport.ProfileA2DPSink {
		enc, err := c.Encoder(tr.A2DP.Config)
		if err != nil {
			return err
		}
		fifoPath, err := waitFifoPath(ctx, tr.A2DP.Main)
		if err != nil {
			enc.Close()
			return err
		}
		fifo, err := openFIFOReader(fifoPath)
		if err != nil {
			enc.Close()
			return err
		}
		const localClientID = "local"
		go feedMixerFromFIFO(ctx, fifo, mixer.Mixer, localClientID)
		go func() {
			defer enc.Close()
			defer fifo.Close()
			defer mixer.Mixer.Remove(localClientID)
			if err := transport.RunEncoder(ctx, tr.Manager().Encoder(), mixer.Mixer, tr.A2DP.Main, enc, state, sock, pipe, frameDuration(tr.A2DP.Config)); err != nil {
				ioErrLog(tr, "encoder", err)
			}
		}()
	} else {
		dec, err := c.Decoder(tr.A2DP.Config)
		if err != nil {
			return err
		}
		fifoPath, err := waitFifoPath(ctx, tr.A2DP.Main)
		if err != nil {
			dec.Close()
			return err
		}
		fifo, err := openFIFOWriter(fifoPath)
		if err != nil {
			dec.Close()
			return err
		}
		go func() {
			defer dec.Close()
			defer fifo.Close()
			if err := transport.RunDecoder(ctx, tr.Manager().Decoder(), tr.A2DP.Main, dec, state, sock, fifo, pipe, nil); err != nil {
				ioErrLog(tr, "decoder", err)
			}
		}()
	}
	return nil
}

// feedMixerFromFIFO reads decoded PCM frames a local client wrote into the
// sink-direction FIFO and stages each as clientID's slot for the next Mix
// call (spec.md §3 "Multi-client mixer": every writer contributes), exiting
// once fifo returns an error (closed by the encoder goroutine on shutdown)
// or ctx is done.
func feedMixerFromFIFO(ctx context.Context, fifo io.Reader, mixer *pcm.Mixer, clientID string) {
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := fifo.Read(buf)
		if n > 0 {
			mixer.Submit(clientID, buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func ioErrLog(tr *transport.Transport, loop string, err error) {
	if err == nil {
		return
	}
	log.Error("media io loop stopped", "transport", tr.Path(), "loop", loop, "err", err)
}

// a2dpMixer wraps the per-transport Mixer. StartIO feeds it from the one
// local FIFO under the fixed client id "local"; no other client slots are
// used.
type a2dpMixer struct {
	Mixer *pcm.Mixer
}

// NewA2DPMixer creates the per-transport mixer for channels channels.
func NewA2DPMixer(channels int) *a2dpMixer {
	return &a2dpMixer{Mixer: pcm.NewMixer(channels)}
}
