// Package codec defines the encode/decode boundary spec.md §1 places outside
// the core: "the concrete codec encode/decode primitives (SBC, AAC, aptX,
// LDAC, LC3plus, mSBC, CVSD) ... specified only by the interface it presents
// to the core." This package is that interface, a registry of named
// implementations, and one pure-Go reference codec used by tests and by any
// deployment that has not linked a real codec library.
package codec

import "fmt"

// ChannelMode enumerates the channel layouts the A2DP preference table in
// spec.md §4.3 ranks.
type ChannelMode uint8

const (
	ChannelModeMono ChannelMode = iota
	ChannelModeDualChannel
	ChannelModeStereo
	ChannelModeJointStereo
)

// Config is the negotiated configuration blob a Transport carries once
// SetConfiguration completes (spec.md §3 Transport, §4.3).
type Config struct {
	SampleRate  uint32
	Channels    uint8
	ChannelMode ChannelMode
	BlockSize   int // frame-aligned PCM block size this codec consumes/produces
	Bitpool     int // SBC/aptX-style bitpool, 0 if not applicable
}

// Codec is the interface every concrete encode/decode primitive implements.
// BlueALSA's core never inlines codec math; it only calls through this
// interface, matching spec.md's framing of codecs as an external collaborator.
type Codec interface {
	// ID is the string identifier used by -c/--codec and ListPCMs.
	ID() string

	// FrameSize reports how many PCM bytes one codec block consumes
	// (encode) or produces (decode) for the given configuration.
	FrameSize(cfg Config) int

	// Encoder returns a fresh stateful encoder bound to cfg. Handle
	// lifetime is owned exclusively by the worker that creates it
	// (spec.md §5: "codec handles are owned exclusively by the worker
	// that created them").
	Encoder(cfg Config) (Encoder, error)

	// Decoder returns a fresh stateful decoder bound to cfg.
	Decoder(cfg Config) (Decoder, error)
}

// Encoder turns one PCM block into one encoded payload.
type Encoder interface {
	// Encode consumes exactly FrameSize(cfg) bytes of pcm and appends the
	// encoded payload to dst, returning the extended slice and the number
	// of PCM bytes consumed.
	Encode(dst, pcm []byte) (out []byte, consumed int, err error)
	Close() error
}

// Decoder turns one encoded payload into PCM.
type Decoder interface {
	// Decode consumes one encoded payload and appends decoded PCM to dst.
	Decode(dst, payload []byte) (out []byte, err error)
	Close() error
}

// registry of codecs by string id, populated by Register at package init
// time from this package and any real codec-library bindings that choose to
// self-register.
var registry = map[string]Codec{}

// Register adds (or replaces) a codec under its ID. Intended to be called
// from init() in packages that bind a real codec library.
func Register(c Codec) {
	registry[c.ID()] = c
}

// Lookup returns the codec registered under id.
func Lookup(id string) (Codec, error) {
	c, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("codec: no implementation registered for %q", id)
	}
	return c, nil
}

// IDs lists every registered codec id, in registration order is not
// guaranteed (map iteration), callers that need a stable preference order
// maintain their own table (see internal/a2dp negotiation).
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	return ids
}

// Well-known codec string ids used throughout negotiation tables and the
// -c/--codec CLI surface.
const (
	IDSBC     = "sbc"
	IDAAC     = "aac"
	IDAptX    = "aptx"
	IDAptXHD  = "aptx-hd"
	IDLDAC    = "ldac"
	IDLC3plus = "lc3plus"
	IDMSBC    = "msbc"
	IDCVSD    = "cvsd"
)

func init() {
	Register(newPCMPassthrough(IDSBC))
	Register(newPCMPassthrough(IDMSBC))
	Register(newPCMPassthrough(IDCVSD))
}
