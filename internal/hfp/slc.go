package hfp

// Role distinguishes which side of the service-level connection this
// session plays: AG (audio gateway, e.g. a phone) or HF (hands-free unit,
// e.g. a headset) — spec.md §4.5 "HF-role behavior" / "AG-role behavior".
type Role int

const (
	RoleAG Role = iota
	RoleHF
)

// State enumerates the SLC handshake steps in the monotone order spec.md
// §4.5's invariant requires: "RFCOMM SLC states are monotone-increasing
// during a successful handshake; only failures reset to disconnected."
// HSP sessions skip straight from StateDisconnected to StateConnected
// since HSP has no handshake (spec.md §4.5: "state is forced to connected
// as soon as the socket is open").
type State int

const (
	StateDisconnected State = iota
	StateBRSFExchanged
	StateCodecListExchanged // AT+BAC; the HF sends it when local codec negotiation is enabled
	StateIndicatorsListed   // AT+CIND=?
	StateIndicatorsRead     // AT+CIND?
	StateCMERSet            // AT+CMER, SLC established per HFP spec
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateBRSFExchanged:
		return "brsf-exchanged"
	case StateCodecListExchanged:
		return "codec-list-exchanged"
	case StateIndicatorsListed:
		return "indicators-listed"
	case StateIndicatorsRead:
		return "indicators-read"
	case StateCMERSet:
		return "cmer-set"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// HF feature bits relevant to codec negotiation (AT+BRSF argument / bitmap
// the AG reports back), restricted to the subset this implementation acts
// on; unused bits are preserved verbatim in the session but not interpreted.
const (
	HFFeatureCodecNegotiation uint32 = 1 << 7
	HFFeatureESCOS4T2         uint32 = 1 << 8
)

const (
	AGFeatureCodecNegotiation uint32 = 1 << 9
	AGFeatureInBandRinging    uint32 = 1 << 1
)

// codecNegotiationSupported reports whether both feature masks advertise
// AT+BAC/+BCS codec negotiation support.
func codecNegotiationSupported(hfFeatures, agFeatures uint32) bool {
	return hfFeatures&HFFeatureCodecNegotiation != 0 && agFeatures&AGFeatureCodecNegotiation != 0
}
