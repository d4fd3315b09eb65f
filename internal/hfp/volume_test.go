package hfp

import (
	"testing"

	"github.com/bluealsa/bluealsa-go/internal/pcm"
)

func TestParseVolumeArgs(t *testing.T) {
	v, err := ParseVolumeArgs("15")
	if err != nil || v != 15 {
		t.Fatalf("got v=%d err=%v", v, err)
	}
	if _, err := ParseVolumeArgs("16"); err == nil {
		t.Fatal("expected error for out-of-range value")
	}
}

func TestFormatVolume(t *testing.T) {
	if got := FormatVolume(VolumeSpeaker, 10); got != "+VGS: 10" {
		t.Fatalf("got %q", got)
	}
	if got := FormatVolume(VolumeMicrophone, 3); got != "+VGM: 3" {
		t.Fatalf("got %q", got)
	}
}

func TestApplyAndReadBTVolume(t *testing.T) {
	ep := pcm.NewEndpoint(pcm.ModeSink, 1, 8000, 50)
	ApplyBTVolumeToEndpoint(ep, 15, 15)
	if got := BTVolumeFromEndpoint(ep, 15); got != 15 {
		t.Fatalf("got %d", got)
	}
	ApplyBTVolumeToEndpoint(ep, 0, 15)
	if got := BTVolumeFromEndpoint(ep, 15); got != 0 {
		t.Fatalf("got %d", got)
	}
}
