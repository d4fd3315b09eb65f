package hfp

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/bluealsa/bluealsa-go/internal/codec"
	"github.com/bluealsa/bluealsa-go/internal/pcm"
	"github.com/bluealsa/bluealsa-go/internal/rtp"
	"github.com/bluealsa/bluealsa-go/internal/transport"
)

// scoFrameDuration is SCO's fixed HCI frame period, the pacing value
// internal/a2dp derives from the codec's block size instead (A2DP has no
// fixed link clock the way SCO does).
const scoFrameDuration = 7500 * time.Microsecond

// fifoPollInterval mirrors internal/a2dp's wait for the controller to
// attach a FIFO to an endpoint (NewConnection runs well before any client
// calls Open, spec.md §4.6).
const fifoPollInterval = 50 * time.Millisecond

// waitFifoPath blocks until ep has a client-attached FIFO path or ctx is
// cancelled.
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

// StartIO brings up both halves of a SCO transport's full-duplex audio
// (spec.md §4.5: speaker playback and microphone capture run concurrently,
// unlike A2DP's single direction), reusing the same encoder/decoder engine
// internal/a2dp drives for media transports.
func StartIO(ctx context.Context, tr *transport.Transport) error {
	fd, err := tr.Acquire()
	if err != nil {
		return err
	}

	codecID := tr.SCOCodecID()
	c, err := codec.Lookup(codecID)
	if err != nil {
		return err
	}
	cfg := codec.Config{SampleRate: SamplingForCodec(codecID), Channels: 1}

	sock := newSCOConn(fd)
	pipe := tr.Manager().Pipe()
	mixer := pcm.NewMixer(1)

	enc, err := c.Encoder(cfg)
	if err != nil {
		return err
	}
	speakerPath, err := waitFifoPath(ctx, tr.SCO.Speaker)
	if err != nil {
		enc.Close()
		return err
	}
	speakerFifo, err := openFIFOReader(speakerPath)
	if err != nil {
		enc.Close()
		return err
	}
	const localClientID = "local"
	encState := rtp.NewState(cfg.SampleRate, cfg.SampleRate)
	go feedMixerFromFIFO(ctx, speakerFifo, mixer, localClientID)
	go func() {
		defer enc.Close()
		defer speakerFifo.Close()
		defer mixer.Remove(localClientID)
		if err := transport.RunEncoder(ctx, tr.Manager().Encoder(), mixer, tr.SCO.Speaker, enc, encState, sock, pipe, scoFrameDuration); err != nil {
			ioErrLog(tr, "encoder", err)
		}
	}()

	dec, err := c.Decoder(cfg)
	if err != nil {
		return err
	}
	micPath, err := waitFifoPath(ctx, tr.SCO.Microphone)
	if err != nil {
		dec.Close()
		return err
	}
	micFifo, err := openFIFOWriter(micPath)
	if err != nil {
		dec.Close()
		return err
	}
	decState := rtp.NewState(cfg.SampleRate, cfg.SampleRate)
	go func() {
		defer dec.Close()
		defer micFifo.Close()
		if err := transport.RunDecoder(ctx, tr.Manager().Decoder(), tr.SCO.Microphone, dec, decState, sock, micFifo, pipe, nil); err != nil {
			ioErrLog(tr, "decoder", err)
		}
	}()

	return nil
}

func ioErrLog(tr *transport.Transport, loop string, err error) {
	if err == nil {
		return
	}
	log.Error("sco io loop stopped", "transport", tr.Path(), "loop", loop, "err", err)
}

// feedMixerFromFIFO reads PCM a local client wrote into the speaker FIFO
// and stages it as clientID's slot for the encoder's next mix cycle,
// mirroring internal/a2dp's identically-named helper (kept package-private
// here too since internal/hfp must not import internal/a2dp).
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

func openFIFOReader(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDONLY, 0)
}

func openFIFOWriter(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY, 0)
}

// scoConn adapts a raw SCO socket fd to io.Reader/io.Writer, the SCO
// counterpart of internal/a2dp's socketConn.
type scoConn struct {
	f *os.File
}

func newSCOConn(fd int) *scoConn {
	return &scoConn{f: os.NewFile(uintptr(fd), "bt-sco")}
}

func (s *scoConn) Read(p []byte) (int, error)  { return s.f.Read(p) }
func (s *scoConn) Write(p []byte) (int, error) { return s.f.Write(p) }
func (s *scoConn) Close() error                { return s.f.Close() }
