package hfp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bluealsa/bluealsa-go/internal/pcm"
)

// VolumeKind distinguishes the microphone (+VGM) and speaker (+VGS) gain
// channels spec.md §4.5 maps to/from the Bluetooth 0-15 range.
type VolumeKind int

const (
	VolumeMicrophone VolumeKind = iota
	VolumeSpeaker
)

func (k VolumeKind) atCommand() string {
	if k == VolumeMicrophone {
		return "+VGM"
	}
	return "+VGS"
}

// ParseVolumeArgs parses a "+VGM=<n>" / "+VGS=<n>" SET argument body into
// the raw 0-15 Bluetooth gain value.
func ParseVolumeArgs(args string) (uint8, error) {
	v, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil || v < 0 || v > 15 {
		return 0, fmt.Errorf("hfp: malformed volume value %q", args)
	}
	return uint8(v), nil
}

// FormatVolume formats an unsolicited +VGM/+VGS result reporting the given
// 0-15 Bluetooth gain.
func FormatVolume(kind VolumeKind, v uint8) string {
	return FormatResult(kind.atCommand(), strconv.Itoa(int(v)))
}

// ApplyBTVolumeToEndpoint maps an incoming 0-15 Bluetooth gain onto the
// endpoint's channel 0 level. In soft-volume mode the transport does not
// actually rescale audio (spec.md §4.5: "cosmetic-only in soft-volume
// mode") — the level is still recorded so a Controller query reports the
// peer's reported value, but RunEncoder does not apply it.
func ApplyBTVolumeToEndpoint(ep *pcm.Endpoint, v uint8, ceiling uint8) {
	level := pcm.CentiDBFromBTVolume(v, ceiling)
	ch := ep.ChannelVolume(0)
	ch.LevelCentiDB = level
	ep.SetChannelVolume(0, ch)
}

// BTVolumeFromEndpoint reads the endpoint's current channel 0 level back
// out as a 0-15 Bluetooth gain, for the AG's unsolicited +VGS/+VGM reports.
func BTVolumeFromEndpoint(ep *pcm.Endpoint, ceiling uint8) uint8 {
	return pcm.BTVolumeFromCentiDB(ep.ChannelVolume(0).LevelCentiDB, ceiling)
}
