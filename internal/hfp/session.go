package hfp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bluealsa/bluealsa-go/internal/bluealsaerr"
	"github.com/bluealsa/bluealsa-go/internal/codec"
	"github.com/bluealsa/bluealsa-go/internal/logging"
	"github.com/bluealsa/bluealsa-go/internal/registry"
	"github.com/bluealsa/bluealsa-go/internal/transport"
)

var log = logging.Get("hfp")

// Default per-step timeouts/retry bound (spec.md §4.5 Timeouts: "RFCOMM
// SLC step = configurable ACK timeout"; "a bounded retry+timeout per
// step"). These are package defaults; config.Config carries no
// HFP-specific timeout settings.
const (
	DefaultACKTimeout  = 2 * time.Second
	DefaultIdleTimeout = 30 * time.Second
	DefaultMaxRetries  = 3
)

// expectedResponse is the "handler descriptor for an expected response" of
// spec.md §3: the HF role arms one before sending a command, the read loop
// resolves it when a matching line arrives.
type expectedResponse struct {
	prefix string // e.g. "+BRSF", or "" to match the next plain "OK"/"ERROR"
	result chan atLine
}

type atLine struct {
	raw string
	cmd Command
}

// Session is one RFCOMM service-level connection (spec.md §3 "RFCOMM
// session"): AT-reader buffer, SLC state + retry counter, negotiated
// codec, feature masks, indicator table, and the codec-selection
// synchronization point, all guarded by one mutex.
type Session struct {
	role Role
	tr   *transport.Transport
	dev  *registry.Device

	conn   io.ReadWriteCloser
	reader *LineReader
	wmu    sync.Mutex // serializes writes to conn

	mu            sync.Mutex
	state         State
	prevState     State
	retries       int
	selectedCodec string
	mSBCSupported bool
	hfFeatures    uint32
	agFeatures    uint32
	indicators    *IndicatorTable
	cmerEnabled   bool
	lastMicGain   uint8
	lastSpkGain   uint8
	expected      *expectedResponse
	linkLostQuirk bool
	mSBCEnabled   bool // local codec-negotiation support, gates AT+BRSF/AT+BAC on the HF side

	codecMu  sync.Mutex
	codecCnd *sync.Cond
	codecErr error

	ackTimeout  time.Duration
	idleTimeout time.Duration
	maxRetries  int
}

// NewSession builds a session for an already-accepted RFCOMM socket. tr is
// the SCO transport this session backs; dev is the peer device used for
// battery/Apple-extension propagation. mSBCEnabled gates whether the HF role
// advertises codec-negotiation support in AT+BRSF and follows up with
// AT+BAC=1,2 (spec.md §4.5 state diagram: "brsf-set-ok -> bac-set-ok ->
// cind-test", only reachable when codec negotiation is configured on).
func NewSession(role Role, tr *transport.Transport, dev *registry.Device, conn io.ReadWriteCloser, mSBCEnabled bool) *Session {
	s := &Session{
		role:        role,
		tr:          tr,
		dev:         dev,
		conn:        conn,
		reader:      NewLineReader(bufio.NewReader(conn)),
		indicators:  NewIndicatorTable(),
		agFeatures:  AGFeatureCodecNegotiation | AGFeatureInBandRinging,
		ackTimeout:  DefaultACKTimeout,
		idleTimeout: DefaultIdleTimeout,
		maxRetries:  DefaultMaxRetries,
		mSBCEnabled: mSBCEnabled,
		// BlueZ's native Profile1/RFCOMM path is the only transport this
		// session type drives, and it is the one spec.md §4.5 "Link loss"
		// describes as sometimes failing to emit a MediaTransport removal
		// after RFCOMM loss, so the quirk defaults on here; SetLinkLostQuirk
		// lets a caller (or a test) turn it off.
		linkLostQuirk: true,
	}
	s.codecCnd = sync.NewCond(&s.codecMu)
	if tr != nil && (tr.ProfileTag == transport.ProfileHSPAG || tr.ProfileTag == transport.ProfileHSPHS) {
		s.state = StateConnected // HSP: "state is forced to connected as soon as the socket is open"
		tr.SetSCOCodec(codec.IDCVSD) // HSP has no codec negotiation at all
	}
	return s
}

func (s *Session) writeLine(line string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := io.WriteString(s.conn, wireEncode(line))
	return err
}

// setState advances the SLC state, enforcing the monotone-increasing
// invariant on success; callers reset to StateDisconnected explicitly on
// failure (spec.md §4.5 invariant).
func (s *Session) setState(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prevState = s.state
	s.state = next
}

// fail resets the SLC state to disconnected, per the monotone-increasing
// invariant's failure clause.
func (s *Session) fail() {
	s.mu.Lock()
	s.prevState = s.state
	s.state = StateDisconnected
	s.mu.Unlock()
}

// Device returns the peer device this session is driving the SLC for, used
// by the wiring layer to build a native SCO Acquirer against its address
// without this package importing internal/bluez.
func (s *Session) Device() *registry.Device { return s.dev }

// Transport returns the SCO transport this session drives.
func (s *Session) Transport() *transport.Transport { return s.tr }

// SetLinkLostQuirk overrides the default link-lost-quirk setting (spec.md
// §4.5 "Link loss"; §9 design note (ii)).
func (s *Session) SetLinkLostQuirk(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linkLostQuirk = enabled
}

// isLinkLostError reports whether err is one of the peer-disconnect errno
// classes spec.md §7's error taxonomy lists for RFCOMM: ECONNRESET,
// ECONNABORTED, ENOTCONN, ETIMEDOUT, EPIPE.
func isLinkLostError(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ENOTCONN) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EPIPE)
}

// ShouldDestroyTransport implements spec.md §4.5 "Link loss": "If the RFCOMM
// socket errors out with ECONNRESET/ETIMEDOUT/EPIPE, and the link-lost
// quirk flag is set, the session destroys its SCO Transport ... otherwise
// it merely returns its thread."
func (s *Session) ShouldDestroyTransport(err error) bool {
	s.mu.Lock()
	quirk := s.linkLostQuirk
	s.mu.Unlock()
	return quirk && isLinkLostError(err)
}

// State reports the current SLC state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close tears down the RFCOMM socket and wakes any waiter blocked on codec
// selection, per spec.md §4.5 Timeouts: "cancellation of pending
// codec-selection releases its condition variable with an error code."
func (s *Session) Close() error {
	s.codecMu.Lock()
	if s.codecErr == nil {
		s.codecErr = bluealsaerr.ErrLinkLost
	}
	s.codecCnd.Broadcast()
	s.codecMu.Unlock()
	return s.conn.Close()
}

// Run drives the session until ctx is cancelled or the link is lost. HF
// sessions actively send the SLC handshake; AG sessions wait for the peer
// to drive it and respond to each step.
func (s *Session) Run(ctx context.Context) error {
	readCh := make(chan atLine, 4)
	errCh := make(chan error, 1)
	go s.readLoop(readCh, errCh)

	if s.role == RoleHF && s.State() != StateConnected {
		if err := s.driveSLCAsHF(ctx, readCh, errCh); err != nil {
			s.fail()
			return err
		}
	}
	return s.serve(ctx, readCh, errCh)
}

func (s *Session) readLoop(out chan<- atLine, errCh chan<- error) {
	for {
		line, err := s.reader.ReadLine()
		if err != nil {
			errCh <- err
			return
		}
		cmd, ok := ParseLine(line)
		if !ok {
			// Result codes ("+CIEV: 7,3", "+BCS: 2", "+BRSF: 514") are not AT
			// commands; split them into name and arguments the same way.
			if name, args, found := strings.Cut(line, ":"); found && strings.HasPrefix(name, "+") {
				cmd = Command{Name: name, Kind: KindSet, Args: strings.TrimSpace(args)}
			}
		}
		out <- atLine{raw: line, cmd: cmd}
	}
}

// serve is the steady-state loop once the SLC is established: AG responds
// to further commands (volume, Apple extension, codec confirmation); HF
// reacts to unsolicited +CIEV/+BCS lines from the AG.
func (s *Session) serve(ctx context.Context, readCh <-chan atLine, errCh <-chan error) error {
	idle := time.NewTimer(s.idleTimeout)
	defer idle.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			s.fail()
			return err
		case line := <-readCh:
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(s.idleTimeout)
			if s.tryDeliverExpected(line) {
				continue
			}
			if s.role == RoleAG {
				s.handleAGLine(line)
			} else {
				s.handleHFUnsolicited(line)
			}
		case <-idle.C:
			return bluealsaerr.NewProtocol("rfcomm idle timeout")
		}
	}
}

// tryDeliverExpected hands line to an armed handler (spec.md §3 "handler
// descriptor for an expected response") if one is waiting for exactly this
// prefix. sendExpect below does not use this path — it owns readCh
// exclusively while a handshake step is outstanding — this exists for a
// future AG-initiated request that needs to block the read loop the same
// way (e.g. a codec re-negotiation kicked off mid-call).
func (s *Session) tryDeliverExpected(line atLine) bool {
	s.mu.Lock()
	exp := s.expected
	s.mu.Unlock()
	if exp == nil || exp.prefix == "" || !strings.HasPrefix(line.raw, exp.prefix) {
		return false
	}
	select {
	case exp.result <- line:
	default:
	}
	return true
}

// --- AG role: respond to commands the HF side drives ---

func (s *Session) handleAGLine(line atLine) {
	cmd := line.cmd
	switch cmd.Name {
	case "+BRSF":
		hf, _ := strconv.ParseUint(cmd.Args, 10, 32)
		s.mu.Lock()
		s.hfFeatures = uint32(hf)
		ag := s.agFeatures
		s.mu.Unlock()
		s.writeLine(FormatResult("+BRSF", strconv.FormatUint(uint64(ag), 10)))
		s.writeLine("OK")
		s.setState(StateBRSFExchanged)
	case "+BAC":
		s.mu.Lock()
		s.mSBCSupported = strings.Contains(cmd.Args, "2")
		s.mu.Unlock()
		s.writeLine("OK")
		s.setState(StateCodecListExchanged)
	case "+CIND":
		if cmd.Kind == KindTest {
			s.writeLine(FormatResult("+CIND", s.indicators.TestResponse()))
			s.writeLine("OK")
			s.setState(StateIndicatorsListed)
		} else {
			s.writeLine(FormatResult("+CIND", s.indicators.GetResponse()))
			s.writeLine("OK")
			s.setState(StateIndicatorsRead)
		}
	case "+CMER":
		s.mu.Lock()
		s.cmerEnabled = true
		s.mu.Unlock()
		s.writeLine("OK")
		s.setState(StateCMERSet)
		s.setState(StateConnected)
		s.maybeStartCodecSelection()
		s.mu.Lock()
		negotiating := s.mSBCSupported && codecNegotiationSupported(s.hfFeatures, s.agFeatures)
		s.mu.Unlock()
		if !negotiating && s.tr != nil {
			// No codec negotiation support on one side: CVSD is the only
			// option HFP/HSP allows, so there is no +BCS round trip to wait
			// for (spec.md §4.5 codec selection paragraph).
			s.tr.SetSCOCodec(codec.IDCVSD)
		}
	case "+BCS":
		// HF's confirming SET after our unsolicited +BCS offer.
		s.mu.Lock()
		codecID := bcsArgToCodecID(cmd.Args)
		offered := s.selectedCodec
		s.mu.Unlock()
		s.writeLine("OK")
		s.codecMu.Lock()
		if codecID != "" && (offered == "" || codecID == offered) {
			s.mu.Lock()
			s.selectedCodec = codecID
			s.mu.Unlock()
			if s.tr != nil {
				s.tr.SetSCOCodec(codecID)
			}
			s.codecErr = nil
		} else {
			s.codecErr = bluealsaerr.NewProtocol("hfp: codec selection mismatch")
		}
		s.codecCnd.Broadcast()
		s.codecMu.Unlock()
	case "+VGM", "+VGS":
		v, err := ParseVolumeArgs(cmd.Args)
		if err == nil {
			s.applyVolume(cmd.Name, v)
		}
		s.writeLine("OK")
	case "+XAPL":
		ext, err := ParseXAPL(cmd.Args)
		if err == nil && s.dev != nil {
			s.dev.SetApple(ext)
		}
		s.writeLine(FormatXAPLResponse())
		s.writeLine("OK")
	case "+IPHONEACCEV":
		pct, docked, err := ParseIPHONEACCEV(cmd.Args)
		if err == nil && s.dev != nil {
			s.dev.SetApple(appleWithDocked(s.dev.Apple(), docked))
			s.dev.SetBattery(pct)
		}
		s.writeLine("OK")
	default:
		s.writeLine("ERROR")
	}
}

func appleWithDocked(ext registry.AppleExtension, docked bool) registry.AppleExtension {
	ext.Docked = docked
	return ext
}

func (s *Session) applyVolume(name string, v uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr == nil || s.tr.SCO == nil {
		return
	}
	switch name {
	case "+VGM":
		s.lastMicGain = v
		if s.tr.SCO.Microphone != nil {
			ApplyBTVolumeToEndpoint(s.tr.SCO.Microphone, v, 15)
		}
	case "+VGS":
		s.lastSpkGain = v
		if s.tr.SCO.Speaker != nil {
			ApplyBTVolumeToEndpoint(s.tr.SCO.Speaker, v, 15)
		}
	}
}

// maybeStartCodecSelection sends the unsolicited +BCS offer once the SLC
// is established, if both sides advertised codec negotiation support
// (spec.md §4.5 codec selection paragraph).
func (s *Session) maybeStartCodecSelection() {
	s.mu.Lock()
	eligible := s.mSBCSupported && codecNegotiationSupported(s.hfFeatures, s.agFeatures)
	if eligible {
		s.selectedCodec = codec.IDMSBC
	}
	s.mu.Unlock()
	if !eligible {
		return
	}
	s.writeLine(FormatResult("+BCS", "2"))
}

// bcsArgToCodecID maps the numeric +BCS codec id (1=CVSD, 2=mSBC) onto the
// codec package's string identifiers.
func bcsArgToCodecID(arg string) string {
	switch strings.TrimSpace(arg) {
	case "1":
		return codec.IDCVSD
	case "2":
		return codec.IDMSBC
	default:
		return ""
	}
}

func codecIDToBCSArg(id string) string {
	if id == codec.IDMSBC {
		return "2"
	}
	return "1"
}

// --- HF role: drive the handshake, then react to unsolicited lines ---

// slcStep is one command/expected-response/resulting-state triple in the HF
// role's handshake drive.
type slcStep struct {
	cmd   string
	want  string
	state State
}

func (s *Session) driveSLCAsHF(ctx context.Context, readCh <-chan atLine, errCh <-chan error) error {
	hfFeatures := HFFeatureESCOS4T2
	if s.mSBCEnabled {
		hfFeatures |= HFFeatureCodecNegotiation
	}

	steps := []slcStep{
		{fmt.Sprintf("AT+BRSF=%d", hfFeatures), "+BRSF", StateBRSFExchanged},
	}
	if s.mSBCEnabled {
		// "brsf-set-ok -> bac-set-ok -> cind-test": advertise supported
		// codecs (1=CVSD, 2=mSBC) only when local codec negotiation is on.
		steps = append(steps, slcStep{"AT+BAC=1,2", "OK", StateCodecListExchanged})
	}
	steps = append(steps,
		slcStep{"AT+CIND=?", "+CIND", StateIndicatorsListed},
		slcStep{"AT+CIND?", "+CIND", StateIndicatorsRead},
		slcStep{"AT+CMER=3,0,0,1,0", "OK", StateCMERSet},
	)
	for _, step := range steps {
		line, err := s.sendExpect(ctx, readCh, errCh, step.cmd, step.want)
		if err != nil {
			return err
		}
		if step.want == "+BRSF" {
			ag, _ := strconv.ParseUint(line.cmd.Args, 10, 32)
			s.mu.Lock()
			s.agFeatures = uint32(ag)
			s.mu.Unlock()
		}
		s.setState(step.state)
	}
	s.setState(StateConnected)

	s.mu.Lock()
	negotiating := codecNegotiationSupported(hfFeatures, s.agFeatures)
	s.mu.Unlock()
	if !negotiating && s.tr != nil {
		// AG never advertised codec negotiation support: no +BCS offer is
		// coming, so CVSD is the only codec this link will ever use.
		s.mu.Lock()
		s.selectedCodec = codec.IDCVSD
		s.mu.Unlock()
		s.tr.SetSCOCodec(codec.IDCVSD)
	}
	return nil
}

// sendExpect sends cmd and waits for a response matching wantPrefix,
// retrying up to maxRetries times on timeout before giving up with
// ErrTimeout (spec.md §4.5 edge case: "retried up to the configured
// bound, after which the RFCOMM thread terminates with ETIMEDOUT").
func (s *Session) sendExpect(ctx context.Context, readCh <-chan atLine, errCh <-chan error, cmd, wantPrefix string) (atLine, error) {
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := s.writeLine(cmd); err != nil {
			return atLine{}, err
		}

		got, err := s.awaitLine(ctx, readCh, errCh, wantPrefix)
		if err == nil {
			// Swallow the terminating OK that follows a data response
			// ("+BRSF:"/"+CIND:" lines are always followed by a bare OK).
			if wantPrefix != "OK" {
				if _, err := s.awaitLine(ctx, readCh, errCh, "OK"); err != nil {
					return atLine{}, err
				}
			}
			return got, nil
		}
		if err == errAwaitTimeout {
			s.mu.Lock()
			s.retries++
			s.mu.Unlock()
			continue
		}
		return atLine{}, err
	}
	return atLine{}, fmt.Errorf("%w: no response to %s after %d attempts", bluealsaerr.ErrTimeout, cmd, s.maxRetries+1)
}

var errAwaitTimeout = fmt.Errorf("hfp: ack timeout")

// awaitLine reads lines from readCh until one matches wantPrefix (treating
// "OK"/"ERROR" as the literal prefix when wantPrefix is "OK"), handing any
// unrelated unsolicited line (e.g. a stray +CIEV) to handleHFUnsolicited
// rather than discarding it.
func (s *Session) awaitLine(ctx context.Context, readCh <-chan atLine, errCh <-chan error, wantPrefix string) (atLine, error) {
	timer := time.NewTimer(s.ackTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return atLine{}, ctx.Err()
		case err := <-errCh:
			return atLine{}, err
		case line := <-readCh:
			if wantPrefix == "OK" {
				if line.raw == "OK" {
					return line, nil
				}
				if line.raw == "ERROR" {
					return atLine{}, bluealsaerr.NewProtocol("hfp: AG returned ERROR")
				}
				s.handleHFUnsolicited(line)
				continue
			}
			if strings.HasPrefix(line.raw, wantPrefix) {
				return line, nil
			}
			if line.raw == "ERROR" {
				return atLine{}, bluealsaerr.NewProtocol("hfp: AG returned ERROR")
			}
			s.handleHFUnsolicited(line)
		case <-timer.C:
			return atLine{}, errAwaitTimeout
		}
	}
}

// handleHFUnsolicited reacts to lines the AG sends outside an armed
// expectation: +CIEV indicator updates and the +BCS codec offer.
func (s *Session) handleHFUnsolicited(line atLine) {
	switch line.cmd.Name {
	case "+CIEV":
		n, v, err := ParseCIEV(line.cmd.Args)
		if err == nil {
			s.indicators.Set(n, v)
			if n == IndicatorBattChg && s.dev != nil {
				s.dev.SetBattery(BatteryBTToHost(v))
			}
		}
	case "+BCS":
		codecID := bcsArgToCodecID(line.cmd.Args)
		if codecID == "" {
			return
		}
		s.writeLine("AT+BCS=" + codecIDToBCSArg(codecID))
		s.mu.Lock()
		s.selectedCodec = codecID
		s.mu.Unlock()
		if s.tr != nil {
			s.tr.SetSCOCodec(codecID)
		}
		s.codecMu.Lock()
		s.codecErr = nil
		s.codecCnd.Broadcast()
		s.codecMu.Unlock()
	}
}

// WaitForCodec blocks until a codec has been negotiated (or ctx expires),
// returning the selected codec id; SamplingForCodec maps it to the PCM rate
// (mSBC 16kHz, CVSD 8kHz).
func (s *Session) WaitForCodec(ctx context.Context) (string, error) {
	done := make(chan struct{})
	go func() {
		s.codecMu.Lock()
		for s.selectedCodecLocked() == "" && s.codecErr == nil {
			s.codecCnd.Wait()
		}
		s.codecMu.Unlock()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-done:
	}
	s.mu.Lock()
	id := s.selectedCodec
	s.mu.Unlock()
	s.codecMu.Lock()
	err := s.codecErr
	s.codecMu.Unlock()
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Session) selectedCodecLocked() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedCodec
}

// SamplingForCodec maps a negotiated SCO codec id to its fixed sample rate.
func SamplingForCodec(id string) uint32 {
	if id == codec.IDMSBC {
		return 16000
	}
	return 8000
}
