package hfp

import "testing"

func TestIndicatorTableTestAndGetResponses(t *testing.T) {
	tbl := NewIndicatorTable()
	tbl.Set(IndicatorBattChg, 5)
	tbl.Set(IndicatorCall, 1)

	test := tbl.TestResponse()
	if test == "" {
		t.Fatal("empty test response")
	}
	got := tbl.GetResponse()
	want := "0,1,0,0,0,0,5"
	if got != want {
		t.Fatalf("GetResponse() = %q, want %q", got, want)
	}
}

func TestParseAndFormatCIEV(t *testing.T) {
	n, v, err := ParseCIEV("7,3")
	if err != nil {
		t.Fatal(err)
	}
	if n != IndicatorBattChg || v != 3 {
		t.Fatalf("got n=%v v=%d", n, v)
	}
	if got := FormatCIEV(IndicatorBattChg, 3); got != "+CIEV: 7,3" {
		t.Fatalf("got %q", got)
	}
}

func TestParseCIEVMalformed(t *testing.T) {
	if _, _, err := ParseCIEV("notanumber"); err == nil {
		t.Fatal("expected error")
	}
	if _, _, err := ParseCIEV("99,1"); err == nil {
		t.Fatal("expected error for out-of-range index")
	}
}

func TestBatteryHostBTRoundTrip(t *testing.T) {
	if got := BatteryHostToBT(100); got != 5 {
		t.Fatalf("got %d", got)
	}
	if got := BatteryHostToBT(0); got != 0 {
		t.Fatalf("got %d", got)
	}
	if got := BatteryBTToHost(5); got != 100 {
		t.Fatalf("got %d", got)
	}
}
