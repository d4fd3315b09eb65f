package ofono

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSampleRateForCodec(t *testing.T) {
	require.Equal(t, uint32(16000), sampleRateForCodec(CodecMSBC))
	require.Equal(t, uint32(8000), sampleRateForCodec(CodecCVSD))
}

func TestCodecIDString(t *testing.T) {
	require.Equal(t, "msbc", codecIDString(CodecMSBC))
	require.Equal(t, "cvsd", codecIDString(CodecCVSD))
}
