package main

import "testing"

func TestDefaultSBCCapabilities(t *testing.T) {
	got := defaultSBCCapabilities()
	if len(got) != 4 {
		t.Fatalf("expected 4 capability bytes, got %d", len(got))
	}
	if got[2] > got[3] {
		t.Fatalf("min bitpool %d must not exceed max bitpool %d", got[2], got[3])
	}
}
