// Package config parses the daemon's CLI surface into an immutable
// configuration bag threaded explicitly into every component's constructor
// (spec.md §9: "a port should replace this with a configuration struct").
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
)

// Profile identifies one of the Bluetooth profiles the daemon can enable.
type Profile string

const (
	ProfileA2DPSource Profile = "a2dp-source"
	ProfileA2DPSink   Profile = "a2dp-sink"
	ProfileHFPAG      Profile = "hfp-ag"
	ProfileHFPHF      Profile = "hfp-hf"
	ProfileHSPAG      Profile = "hsp-ag"
	ProfileHSPHS      Profile = "hsp-hs"
	ProfileHFPOfono   Profile = "hfp-ofono"
	ProfileMIDI       Profile = "midi"
)

// SBCQuality is the --sbc-quality setting. It is parsed and stored in
// Config; SBC configuration selection in internal/a2dp does not read it.
type SBCQuality string

const (
	SBCQualityLow    SBCQuality = "low"
	SBCQualityMedium SBCQuality = "medium"
	SBCQualityHigh   SBCQuality = "high"
	SBCQualityXQ     SBCQuality = "xq"
	SBCQualityXQPlus SBCQuality = "xq+"
)

// LogLevel mirrors --loglevel.
type LogLevel string

const (
	LogLevelError   LogLevel = "error"
	LogLevelWarning LogLevel = "warning"
	LogLevelInfo    LogLevel = "info"
	LogLevelDebug   LogLevel = "debug"
)

// Config is the immutable configuration bag assembled once at startup.
// Every field is read-only after Parse returns; there is no global mutable
// state anywhere else in the daemon.
type Config struct {
	DBusSuffix string // -B/--dbus, bus name becomes org.bluealsa.SUFFIX

	AdapterAllowList []string // -i/--device=hciX, repeatable

	Profiles map[Profile]bool // -p/--profile=[+-]NAME

	CodecOverrides map[string]bool // -c/--codec=[+-]NAME

	InitialVolume int // --initial-volume=0..100
	KeepAlive     time.Duration
	IORTPriority  int

	A2DPForceMono    bool
	A2DPForceAudioCD bool // --a2dp-force-audio-cd: reject SBC peers without 44.1kHz (at every --sbc-quality)
	SBCQuality       SBCQuality

	LogLevel LogLevel
	Syslog   bool

	StateDirectory string
}

// defaultProfiles matches the upstream default of enabling both A2DP roles
// and both HFP/HSP AG roles, leaving HF/HS and MIDI opt-in.
func defaultProfiles() map[Profile]bool {
	return map[Profile]bool{
		ProfileA2DPSource: true,
		ProfileA2DPSink:   true,
		ProfileHFPAG:      true,
		ProfileHSPAG:      true,
	}
}

// Parse builds a Config from the given argv (excluding argv[0]). It is the
// only place CLI flags are read; everything downstream receives the result.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("bluealsad", flag.ContinueOnError)

	dbusSuffix := fs.StringP("dbus", "B", "", "bus name becomes org.bluealsa.SUFFIX")
	devices := fs.StringArrayP("device", "i", nil, "adapter allow-list, e.g. hci0 (repeatable)")
	profiles := fs.StringArrayP("profile", "p", nil, "enable/disable a profile, e.g. a2dp-source or -hfp-hf")
	codecs := fs.StringArrayP("codec", "c", nil, "enable/disable a codec by string id, e.g. -sbc or +aptx")
	initialVolume := fs.Int("initial-volume", 100, "initial PCM volume 0..100")
	keepAlive := fs.Float64("keep-alive", 5.0, "keep-alive seconds after last client close (stored; no keep-alive timer applies it)")
	ioRTPriority := fs.Int("io-rt-priority", 0, "real-time priority for I/O threads (stored; not applied to any thread)")
	forceMono := fs.Bool("a2dp-force-mono", false, "collapse A2DP to mono before encode")
	forceCD := fs.Bool("a2dp-force-audio-cd", false, "reject SBC configurations when the peer lacks 44.1kHz")
	sbcQuality := fs.String("sbc-quality", string(SBCQualityHigh), "low|medium|high|xq|xq+")
	loglevel := fs.String("loglevel", string(LogLevelInfo), "error|warning|info|debug")
	syslog := fs.Bool("syslog", false, "prefix log lines with \"bluealsad: \" (output stays on stderr)")
	stateDir := fs.String("state-directory", defaultStateDirectory(), "directory for persisted per-device volume")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of bluealsad:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{
		DBusSuffix:       *dbusSuffix,
		AdapterAllowList: append([]string(nil), *devices...),
		Profiles:         defaultProfiles(),
		CodecOverrides:   map[string]bool{},
		InitialVolume:    clampPercent(*initialVolume),
		KeepAlive:        time.Duration(*keepAlive * float64(time.Second)),
		IORTPriority:     *ioRTPriority,
		A2DPForceMono:    *forceMono,
		A2DPForceAudioCD: *forceCD,
		SBCQuality:       SBCQuality(*sbcQuality),
		LogLevel:         LogLevel(*loglevel),
		Syslog:           *syslog,
		StateDirectory:   *stateDir,
	}

	for _, p := range *profiles {
		name, enabled, err := parseToggle(p)
		if err != nil {
			return nil, err
		}
		cfg.Profiles[Profile(name)] = enabled
	}
	for _, c := range *codecs {
		name, enabled, err := parseToggle(c)
		if err != nil {
			return nil, err
		}
		cfg.CodecOverrides[name] = enabled
	}

	return cfg, nil
}

// parseToggle splits a leading '+'/'-' prefix toggle from its name,
// defaulting to enable when no prefix is given.
func parseToggle(s string) (name string, enabled bool, err error) {
	if s == "" {
		return "", false, fmt.Errorf("empty --profile/--codec value")
	}
	switch s[0] {
	case '+':
		return strings.ToLower(s[1:]), true, nil
	case '-':
		return strings.ToLower(s[1:]), false, nil
	default:
		return strings.ToLower(s), true, nil
	}
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func defaultStateDirectory() string {
	if d := os.Getenv("STATE_DIRECTORY"); d != "" {
		return d
	}
	return "/var/lib/bluealsa"
}

// BusName returns the well-known bus name the daemon should own.
func (c *Config) BusName() string {
	if c.DBusSuffix == "" {
		return "org.bluealsa"
	}
	return "org.bluealsa." + c.DBusSuffix
}

// ProfileEnabled reports whether a profile is enabled in this configuration.
func (c *Config) ProfileEnabled(p Profile) bool {
	return c.Profiles[p]
}

// AdapterAllowed reports whether the named adapter ("hci0") passes the
// allow-list filter (an empty allow-list passes everything).
func (c *Config) AdapterAllowed(name string) bool {
	if len(c.AdapterAllowList) == 0 {
		return true
	}
	for _, a := range c.AdapterAllowList {
		if a == name {
			return true
		}
	}
	return false
}

// CodecEnabled reports whether a codec string id is enabled, honoring any
// -c/+c override; codecs are enabled by default absent an override.
func (c *Config) CodecEnabled(id string) bool {
	if v, ok := c.CodecOverrides[strings.ToLower(id)]; ok {
		return v
	}
	return true
}

// ParseHCIIndex extracts the numeric index from an adapter name like "hci2".
func ParseHCIIndex(name string) (int, error) {
	if !strings.HasPrefix(name, "hci") {
		return 0, fmt.Errorf("not an hci adapter name: %s", name)
	}
	return strconv.Atoi(strings.TrimPrefix(name, "hci"))
}
