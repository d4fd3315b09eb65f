package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupKnownCodecs(t *testing.T) {
	for _, id := range []string{IDSBC, IDMSBC, IDCVSD} {
		c, err := Lookup(id)
		require.NoError(t, err)
		require.Equal(t, id, c.ID())
	}
}

func TestLookupUnknownCodec(t *testing.T) {
	_, err := Lookup("not-a-codec")
	require.Error(t, err)
}

func TestPCMPassthroughEncodeDecodeRoundTrip(t *testing.T) {
	c, err := Lookup(IDSBC)
	require.NoError(t, err)

	cfg := Config{SampleRate: 48000, Channels: 2, BlockSize: 4}
	enc, err := c.Encoder(cfg)
	require.NoError(t, err)
	dec, err := c.Decoder(cfg)
	require.NoError(t, err)

	pcm := make([]byte, c.FrameSize(cfg))
	for i := range pcm {
		pcm[i] = byte(i)
	}

	payload, consumed, err := enc.Encode(nil, pcm)
	require.NoError(t, err)
	require.Equal(t, len(pcm), consumed)

	out, err := dec.Decode(nil, payload)
	require.NoError(t, err)
	require.Equal(t, pcm, out)
}

func TestFrameSizeScalesWithChannelsAndBlock(t *testing.T) {
	c, _ := Lookup(IDSBC)
	mono := c.FrameSize(Config{Channels: 1, BlockSize: 10})
	stereo := c.FrameSize(Config{Channels: 2, BlockSize: 10})
	require.Equal(t, mono*2, stereo)
}
