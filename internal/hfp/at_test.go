package hfp

import "testing"

func TestParseLineForms(t *testing.T) {
	cases := []struct {
		line string
		ok   bool
		kind Kind
		name string
		args string
	}{
		{"AT+BRSF=191", true, KindSet, "+BRSF", "191"},
		{"AT+CIND=?", true, KindTest, "+CIND", ""},
		{"AT+CIND?", true, KindRead, "+CIND", ""},
		{"ATD12345;", true, KindExec, "D12345;", ""},
		{"garbage", false, 0, "", ""},
	}
	for _, c := range cases {
		cmd, ok := ParseLine(c.line)
		if ok != c.ok {
			t.Fatalf("ParseLine(%q) ok=%v want %v", c.line, ok, c.ok)
		}
		if !ok {
			continue
		}
		if cmd.Kind != c.kind || cmd.Name != c.name || cmd.Args != c.args {
			t.Fatalf("ParseLine(%q) = %+v, want name=%q kind=%v args=%q", c.line, cmd, c.name, c.kind, c.args)
		}
	}
}

func TestFormatCommandAndResult(t *testing.T) {
	if got := FormatCommand(KindSet, "+BCS", "2"); got != "AT+BCS=2" {
		t.Fatalf("got %q", got)
	}
	if got := FormatCommand(KindTest, "+CIND", ""); got != "AT+CIND=?" {
		t.Fatalf("got %q", got)
	}
	if got := FormatResult("+BRSF", "191"); got != "+BRSF: 191" {
		t.Fatalf("got %q", got)
	}
	if got := FormatResult("OK", ""); got != "OK" {
		t.Fatalf("got %q", got)
	}
}
