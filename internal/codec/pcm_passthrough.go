package codec

// pcmPassthrough is the pure-Go reference Codec used by tests and by any
// deployment lacking a real codec library binding. It treats one "encoded"
// payload as a fixed-size block of raw 16-bit LE PCM, so the frame-size and
// block-boundary behavior of the real codecs (spec.md §4.3 "frame smaller
// than one codec block -> buffer and retry") is exercisable without linking
// SBC/AAC/aptX math that is out of this repository's scope.
type pcmPassthrough struct {
	id string
}

func newPCMPassthrough(id string) *pcmPassthrough {
	return &pcmPassthrough{id: id}
}

func (p *pcmPassthrough) ID() string { return p.id }

// defaultBlockFrames is the number of PCM frames per codec block when the
// caller did not negotiate one explicitly.
const defaultBlockFrames = 128

func (p *pcmPassthrough) FrameSize(cfg Config) int {
	block := cfg.BlockSize
	if block <= 0 {
		block = defaultBlockFrames
	}
	return block * int(cfg.Channels) * 2 // 16-bit samples
}

func (p *pcmPassthrough) Encoder(cfg Config) (Encoder, error) {
	return &pcmPassthroughCodec{frameSize: p.FrameSize(cfg)}, nil
}

func (p *pcmPassthrough) Decoder(cfg Config) (Decoder, error) {
	return &pcmPassthroughCodec{frameSize: p.FrameSize(cfg)}, nil
}

type pcmPassthroughCodec struct {
	frameSize int
}

func (c *pcmPassthroughCodec) Encode(dst, pcm []byte) ([]byte, int, error) {
	n := c.frameSize
	if len(pcm) < n {
		n = len(pcm)
	}
	return append(dst, pcm[:n]...), n, nil
}

func (c *pcmPassthroughCodec) Decode(dst, payload []byte) ([]byte, error) {
	return append(dst, payload...), nil
}

func (c *pcmPassthroughCodec) Close() error { return nil }
