// Package midi wires the BLE-MIDI GATT characteristic to a registry
// Transport: decoding characteristic writes from the BLE peer into ALSA
// sequencer events, and encoding sequencer/local-client output back into
// BLE-MIDI notifications (spec.md §3 "MIDI" variant; §6 "GATT application
// with one service and one characteristic").
package midi

import (
	"fmt"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/bluealsa/bluealsa-go/internal/bluez"
	"github.com/bluealsa/bluealsa-go/internal/logging"
	"github.com/bluealsa/bluealsa-go/internal/registry"
	"github.com/bluealsa/bluealsa-go/internal/transport"
)

var log = logging.Get("midi")

// ServiceUUID and CharacteristicUUID are the well-known BLE-MIDI GATT
// identifiers (spec.md §6: "one service, one characteristic").
const (
	ServiceUUID        = "03b80e5a-ede8-4b33-a751-6ce34ec4c700"
	CharacteristicUUID = "7772e5db-3868-4112-a1a9-f2669d106bf3"
)

// CharacteristicFlags are the access modes spec.md §6 requires: "flags:
// read, write, write-without-response, notify".
var CharacteristicFlags = []string{"read", "write", "write-without-response", "notify"}

func init() {
	// Fail fast if either well-known id above was mistyped rather than
	// rejecting a GATT registration attempt at runtime.
	uuid.MustParse(ServiceUUID)
	uuid.MustParse(CharacteristicUUID)
}

// Transport binds a registry/transport.Transport carrying a MIDIData
// payload to its GATT characteristic and ALSA sequencer port.
//
// Direction convention (spec.md §3 lists the two sockets without
// prescribing which carries which way; this module picks the PCM-FIFO
// analogue): the "write" socket is where a local client writes MIDI bytes
// destined for the BLE peer; the "notify" socket is where the daemon
// writes MIDI bytes decoded from an incoming characteristic write, for a
// local client to read — mirroring the "source"/"sink" PCM endpoint split.
type Transport struct {
	tr   *transport.Transport
	char *bluez.GattCharacteristic
	seq  SequencerPort

	decoder *Decoder
	encoder *Encoder

	writeSock, writeSockPeer   *os.File
	notifySock, notifySockPeer *os.File

	mu        sync.Mutex
	notifying bool
	stop      chan struct{}
	wg        sync.WaitGroup
}

// New creates a MIDI transport for device at path: two Unix-domain
// socketpairs (spec.md §3: "two unix-domain sockets (write, notify)") and
// an opened sequencer port/queue (spec.md §3: "an ALSA sequencer
// port/queue triple").
func New(device *registry.Device, path string, seq SequencerPort) (*Transport, error) {
	writeSock, writeSockPeer, err := socketpair()
	if err != nil {
		return nil, fmt.Errorf("midi: write socketpair: %w", err)
	}
	notifySock, notifySockPeer, err := socketpair()
	if err != nil {
		writeSock.Close()
		writeSockPeer.Close()
		return nil, fmt.Errorf("midi: notify socketpair: %w", err)
	}

	port, queue, err := seq.Open("bluealsa", path)
	if err != nil {
		writeSock.Close()
		writeSockPeer.Close()
		notifySock.Close()
		notifySockPeer.Close()
		return nil, fmt.Errorf("midi: open sequencer port: %w", err)
	}

	tr := transport.New(device, transport.ProfileMIDI, "org.bluez", path, nil)
	tr.MIDI = &transport.MIDIData{
		WriteSocketFD:  int(writeSock.Fd()),
		NotifySocketFD: int(notifySock.Fd()),
		SeqPort:        port,
		SeqQueue:       queue,
	}

	return &Transport{
		tr:             tr,
		seq:            seq,
		decoder:        NewDecoder(),
		encoder:        NewEncoder(),
		writeSock:      writeSock,
		writeSockPeer:  writeSockPeer,
		notifySock:     notifySock,
		notifySockPeer: notifySockPeer,
	}, nil
}

// Transport returns the underlying registry/transport.Transport (so the
// caller can AddTransport it onto the device and export it to the
// controller like any other profile).
func (m *Transport) Transport() *transport.Transport { return m.tr }

// BindCharacteristic attaches the exported GATT characteristic this
// transport answers reads/writes/notify-subscriptions through. Called once
// the characteristic has been built (it needs this Transport as its
// bluez.CharacteristicHandler, a one-time wiring cycle resolved by the
// caller).
func (m *Transport) BindCharacteristic(c *bluez.GattCharacteristic) { m.char = c }

// ReadValue implements bluez.CharacteristicHandler. BLE-MIDI's
// characteristic carries no meaningful resting value; peers read it only
// to discover its attributes.
func (m *Transport) ReadValue(options map[string]dbus.Variant) ([]byte, error) {
	return nil, nil
}

// WriteValue implements bluez.CharacteristicHandler: the BLE peer sent a
// BLE-MIDI packet. Decode it and fan each event out to the local ALSA
// sequencer and to any local client reading the notify socket.
func (m *Transport) WriteValue(value []byte, options map[string]dbus.Variant) error {
	events, err := m.decoder.Decode(value)
	if err != nil {
		log.Warn("malformed BLE-MIDI packet", "err", err)
		return nil // spec.md §7 Protocol error: drop the offending message, don't abort the session
	}
	for _, ev := range events {
		if err := m.seq.Send(ev); err != nil {
			log.Warn("sequencer send failed", "err", err)
		}
		if _, err := m.notifySockPeer.Write(ev.Data); err != nil {
			log.Warn("notify socket write failed", "err", err)
		}
	}
	return nil
}

// StartNotify implements bluez.CharacteristicHandler: a peer subscribed to
// notifications. Start relaying the local client's "write" socket and the
// ALSA sequencer's output back to the peer.
func (m *Transport) StartNotify() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notifying {
		return
	}
	m.notifying = true
	m.stop = make(chan struct{})
	m.wg.Add(2)
	go m.relayFromWriteSocket(m.stop)
	go m.relayFromSequencer(m.stop)
}

// StopNotify implements bluez.CharacteristicHandler.
func (m *Transport) StopNotify() {
	m.mu.Lock()
	if !m.notifying {
		m.mu.Unlock()
		return
	}
	m.notifying = false
	close(m.stop)
	m.mu.Unlock()
	m.wg.Wait()
}

// relayFromWriteSocket reads raw MIDI bytes a local client wrote, wraps
// each as a zero-timestamp Event, and notifies the peer.
func (m *Transport) relayFromWriteSocket(stop <-chan struct{}) {
	defer m.wg.Done()
	buf := make([]byte, 256)
	for {
		n, err := m.writeSockPeer.Read(buf)
		select {
		case <-stop:
			return
		default:
		}
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		m.notifyEvent(Event{Data: append([]byte(nil), buf[:n]...)})
	}
}

// relayFromSequencer drains ALSA sequencer output and notifies the peer.
func (m *Transport) relayFromSequencer(stop <-chan struct{}) {
	defer m.wg.Done()
	for {
		ev, err := m.seq.Receive()
		select {
		case <-stop:
			return
		default:
		}
		if err != nil {
			return
		}
		m.notifyEvent(ev)
	}
}

func (m *Transport) notifyEvent(ev Event) {
	if m.char == nil {
		return
	}
	payload := m.encoder.Encode([]Event{ev})
	if err := m.char.Notify(payload); err != nil {
		log.Warn("gatt notify failed", "err", err)
	}
}

// Close tears down the transport's threads, sockets, and sequencer port,
// the MIDI variant's share of spec.md §4.1's dependency-ordered teardown.
func (m *Transport) Close() error {
	m.StopNotify()
	m.tr.Manager().StopAll()
	_ = m.seq.Close()
	m.writeSock.Close()
	m.writeSockPeer.Close()
	m.notifySock.Close()
	m.notifySockPeer.Close()
	return nil
}

func socketpair() (local, peer *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, err
	}
	return os.NewFile(uintptr(fds[0]), "midi-sock"), os.NewFile(uintptr(fds[1]), "midi-sock-peer"), nil
}
