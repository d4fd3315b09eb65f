package hfp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/bluealsa/bluealsa-go/internal/pcm"
	"github.com/bluealsa/bluealsa-go/internal/registry"
	"github.com/bluealsa/bluealsa-go/internal/transport"
)

func newTestDevice(t *testing.T) *registry.Device {
	t.Helper()
	reg := registry.NewRegistry()
	a, err := reg.CreateAdapter(0, "hci0", "00:11:22:33:44:55", 0)
	if err != nil {
		t.Fatal(err)
	}
	return a.LookupOrCreateDevice("AA:BB:CC:DD:EE:FF", "phone")
}

// peer wraps one end of a net.Pipe with line helpers for driving an AG
// session the way a real HF peer would.
type peer struct {
	t *testing.T
	w net.Conn
	r *bufio.Reader
}

func newPeer(t *testing.T, conn net.Conn) *peer {
	return &peer{t: t, w: conn, r: bufio.NewReader(conn)}
}

func (p *peer) send(line string) {
	p.t.Helper()
	if _, err := p.w.Write([]byte("\r\n" + line + "\r\n")); err != nil {
		p.t.Fatal(err)
	}
}

func (p *peer) expect(want string) {
	p.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	p.w.SetReadDeadline(deadline)
	for {
		raw, err := p.r.ReadString('\n')
		if err != nil {
			p.t.Fatalf("expect(%q): read error: %v", want, err)
		}
		line := strings.TrimRight(raw, "\r\n")
		if line == "" {
			continue
		}
		if line != want {
			p.t.Fatalf("got line %q, want %q", line, want)
		}
		return
	}
}

// TestAGSessionFullSLCAndCodecSelection drives the AG role through the
// worked scenario: HF connects, exchanges BRSF/BAC/CIND/CMER, then the AG
// offers mSBC and the HF confirms it.
func TestAGSessionFullSLCAndCodecSelection(t *testing.T) {
	agConn, hfConn := net.Pipe()
	defer agConn.Close()
	defer hfConn.Close()

	dev := newTestDevice(t)
	tr := transport.New(dev, transport.ProfileHFPAG, "org.bluez", "/test/hfp", nil)
	tr.SCO = &transport.SCOData{}

	sess := NewSession(RoleAG, tr, dev, agConn, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	hf := newPeer(t, hfConn)

	hf.send("AT+BRSF=191")
	hf.expect("+BRSF: 514")
	hf.expect("OK")

	hf.send("AT+BAC=1,2")
	hf.expect("OK")

	hf.send("AT+CIND=?")
	hf.expect(FormatResult("+CIND", sess.indicators.TestResponse()))
	hf.expect("OK")

	hf.send("AT+CIND?")
	hf.expect(FormatResult("+CIND", sess.indicators.GetResponse()))
	hf.expect("OK")

	hf.send("AT+CMER=3,0,0,1,0")
	hf.expect("OK")

	// AG offers mSBC unsolicited, HF confirms.
	hf.expect("+BCS: 2")
	hf.send("AT+BCS=2")
	hf.expect("OK")

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	codecID, err := sess.WaitForCodec(waitCtx)
	if err != nil {
		t.Fatalf("WaitForCodec: %v", err)
	}
	if codecID != "msbc" {
		t.Fatalf("got codec %q, want msbc", codecID)
	}
	if sess.State() != StateConnected {
		t.Fatalf("got state %v, want connected", sess.State())
	}
	if SamplingForCodec(codecID) != 16000 {
		t.Fatalf("got sampling %d, want 16000", SamplingForCodec(codecID))
	}

	cancel()
	agConn.Close()
	<-done
}

func TestAGSessionVolumeAndBattery(t *testing.T) {
	agConn, hfConn := net.Pipe()
	defer agConn.Close()
	defer hfConn.Close()

	dev := newTestDevice(t)
	tr := transport.New(dev, transport.ProfileHFPAG, "org.bluez", "/test/hfp2", nil)
	tr.SCO = &transport.SCOData{
		Speaker:    pcm.NewEndpoint(pcm.ModeSink, 1, 8000, 100),
		Microphone: pcm.NewEndpoint(pcm.ModeSource, 1, 8000, 100),
	}
	sess := NewSession(RoleAG, tr, dev, agConn, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	hf := newPeer(t, hfConn)
	hf.send("AT+VGS=10")
	hf.expect("OK")
	hf.send("AT+IPHONEACCEV=2,1,9,2,0")
	hf.expect("OK")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if level, known := dev.Battery(); known && level == 100 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	level, known := dev.Battery()
	if !known || level != 100 {
		t.Fatalf("got battery level=%d known=%v, want 100/true", level, known)
	}

	cancel()
	agConn.Close()
	<-done
}

// TestHFSessionDrivesSLCWithBAC drives the HF role through the handshake
// and verifies the mandatory "brsf-set-ok -> bac-set-ok -> cind-test" step
// (spec.md §4.5 state diagram) is actually sent when codec negotiation is
// enabled, since a real AG peer will never offer +BCS without having seen
// AT+BAC first.
func TestHFSessionDrivesSLCWithBAC(t *testing.T) {
	hfConn, agConn := net.Pipe()
	defer hfConn.Close()
	defer agConn.Close()

	dev := newTestDevice(t)
	tr := transport.New(dev, transport.ProfileHFPHF, "org.bluez", "/test/hfp-hf", nil)
	tr.SCO = &transport.SCOData{}

	sess := NewSession(RoleHF, tr, dev, hfConn, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	ag := newPeer(t, agConn)

	wantBRSF := fmt.Sprintf("AT+BRSF=%d", HFFeatureCodecNegotiation|HFFeatureESCOS4T2)
	ag.expect(wantBRSF)
	ag.send(FormatResult("+BRSF", "0"))
	ag.send("OK")

	// This is the step under test: the HF role must advertise its codec
	// list before the AG will ever consider offering +BCS.
	ag.expect("AT+BAC=1,2")
	ag.send("OK")

	ag.expect("AT+CIND=?")
	ag.send(FormatResult("+CIND", `("service",(0,1))`))
	ag.send("OK")

	ag.expect("AT+CIND?")
	ag.send(FormatResult("+CIND", "1"))
	ag.send("OK")

	ag.expect("AT+CMER=3,0,0,1,0")
	ag.send("OK")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sess.State() != StateConnected {
		time.Sleep(5 * time.Millisecond)
	}
	if sess.State() != StateConnected {
		t.Fatalf("got state %v, want connected", sess.State())
	}
	// AG's BRSF reply advertised no codec-negotiation support, so the
	// session must have fallen back to CVSD rather than waiting for +BCS.
	if got := tr.SCOCodecID(); got != "cvsd" {
		t.Fatalf("got sco codec %q, want cvsd", got)
	}

	cancel()
	hfConn.Close()
	<-done
}

// TestShouldDestroyTransportHonorsQuirk exercises spec.md §4.5 "Link loss"
// and the mandatory Scenario 4: with the quirk enabled, a peer-disconnect
// errno destroys the transport; with it disabled, the same errno does not.
func TestShouldDestroyTransportHonorsQuirk(t *testing.T) {
	agConn, _ := net.Pipe()
	defer agConn.Close()
	dev := newTestDevice(t)
	tr := transport.New(dev, transport.ProfileHFPAG, "org.bluez", "/test/hfp-quirk", nil)
	sess := NewSession(RoleAG, tr, dev, agConn, true)

	if !sess.ShouldDestroyTransport(syscall.ECONNRESET) {
		t.Fatal("quirk enabled + ECONNRESET must destroy the transport")
	}
	if !sess.ShouldDestroyTransport(syscall.ETIMEDOUT) {
		t.Fatal("quirk enabled + ETIMEDOUT must destroy the transport")
	}
	if !sess.ShouldDestroyTransport(syscall.EPIPE) {
		t.Fatal("quirk enabled + EPIPE must destroy the transport")
	}
	if sess.ShouldDestroyTransport(io.EOF) {
		t.Fatal("a clean EOF is not a link-lost errno and must not destroy the transport")
	}

	sess.SetLinkLostQuirk(false)
	if sess.ShouldDestroyTransport(syscall.ECONNRESET) {
		t.Fatal("quirk disabled must never destroy the transport, even on ECONNRESET")
	}
}

func TestHSPSessionStartsConnected(t *testing.T) {
	agConn, _ := net.Pipe()
	defer agConn.Close()
	dev := newTestDevice(t)
	tr := transport.New(dev, transport.ProfileHSPAG, "org.bluez", "/test/hsp", nil)
	sess := NewSession(RoleAG, tr, dev, agConn, true)
	if sess.State() != StateConnected {
		t.Fatalf("got state %v, want connected immediately for HSP", sess.State())
	}
}
