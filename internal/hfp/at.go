// Package hfp implements the HFP/HSP service-level-connection state machine
// over RFCOMM: AT command parsing/formatting, codec selection (mSBC/CVSD),
// indicator/volume/battery propagation, and the Apple XAPL/IPHONEACCEV
// handshake (spec.md §3 "RFCOMM session", §4.5).
package hfp

import (
	"bufio"
	"fmt"
	"strings"
)

// Command is one parsed AT command line, split into its name and the raw
// argument text (everything after '=' for a SET; empty for the TEST, READ
// and EXEC forms, which Kind tells apart — spec.md §4.5's AT command
// parser/formatter).
type Command struct {
	Name string // e.g. "+BRSF", "+CIND", "D"
	Kind Kind
	Args string
}

// Kind distinguishes AT command forms.
type Kind int

const (
	KindExec Kind = iota // AT+NAME (no '=' or '?')
	KindSet              // AT+NAME=args
	KindRead             // AT+NAME?
	KindTest             // AT+NAME=?
)

// ParseLine parses one AT command line (without the trailing \r\n, already
// stripped by the reader) into a Command. Lines that are not recognizable AT
// syntax, including result codes such as "+CIEV: 7,3", return ok=false.
func ParseLine(line string) (Command, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "AT") {
		return Command{}, false
	}
	rest := line[2:]
	if rest == "" {
		return Command{}, false
	}

	if strings.HasSuffix(rest, "=?") {
		return Command{Name: rest[:len(rest)-2], Kind: KindTest}, true
	}
	if strings.HasSuffix(rest, "?") {
		return Command{Name: rest[:len(rest)-1], Kind: KindRead}, true
	}
	if idx := strings.IndexByte(rest, '='); idx >= 0 {
		return Command{Name: rest[:idx], Kind: KindSet, Args: rest[idx+1:]}, true
	}
	return Command{Name: rest, Kind: KindExec}, true
}

// FormatResult formats an unsolicited result code or a SET command's
// argument line, e.g. FormatResult("+BCS", "2") -> "+BCS: 2".
func FormatResult(name, args string) string {
	if args == "" {
		return name
	}
	return fmt.Sprintf("%s: %s", name, args)
}

// FormatCommand formats an AT command the HF role sends to the AG, e.g.
// FormatCommand(KindSet, "+BCS", "2") -> "AT+BCS=2".
func FormatCommand(kind Kind, name, args string) string {
	switch kind {
	case KindTest:
		return "AT" + name + "=?"
	case KindRead:
		return "AT" + name + "?"
	case KindSet:
		return "AT" + name + "=" + args
	default:
		return "AT" + name
	}
}

// wireEncode appends the \r\n line terminator AT transport uses.
func wireEncode(line string) string { return "\r\n" + line + "\r\n" }

// LineReader reads \r\n-terminated AT lines from an RFCOMM byte stream,
// the "AT-reader buffer with a next-unparsed-byte cursor" of spec.md §3.
type LineReader struct {
	r *bufio.Reader
}

// NewLineReader wraps r.
func NewLineReader(r *bufio.Reader) *LineReader { return &LineReader{r: r} }

// ReadLine reads one line, stripping \r\n and skipping blank lines (AT
// modems commonly emit a blank line before each result).
func (lr *LineReader) ReadLine() (string, error) {
	for {
		raw, err := lr.r.ReadString('\n')
		if err != nil {
			return "", err
		}
		line := strings.TrimRight(raw, "\r\n")
		if line == "" {
			continue
		}
		return line, nil
	}
}
