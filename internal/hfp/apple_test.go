package hfp

import "testing"

func TestParseXAPL(t *testing.T) {
	ext, err := ParseXAPL("004C-0101-1.0,2")
	if err != nil {
		t.Fatal(err)
	}
	if ext.Vendor != 0x004C || ext.Product != 0x0101 || ext.SoftwareVersion != "1.0" {
		t.Fatalf("got %+v", ext)
	}
}

func TestParseXAPLMalformed(t *testing.T) {
	if _, err := ParseXAPL("not-enough"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseIPHONEACCEV(t *testing.T) {
	pct, docked, err := ParseIPHONEACCEV("2,1,9,2,1")
	if err != nil {
		t.Fatal(err)
	}
	if pct != 100 || !docked {
		t.Fatalf("got pct=%d docked=%v", pct, docked)
	}
}

func TestParseIPHONEACCEVMissingBattery(t *testing.T) {
	if _, _, err := ParseIPHONEACCEV("1,2,1"); err == nil {
		t.Fatal("expected error for missing battery key")
	}
}
