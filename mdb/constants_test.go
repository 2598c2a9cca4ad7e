package mdb

import "testing"

func TestChecksum(t *testing.T) {
	testCases := []struct {
		data     []byte
		expected byte
	}{
		{data: []byte{}, expected: 0},
		{data: []byte{0x01}, expected: 0x01},
		{data: []byte{0x10, 0x02}, expected: 0x12},
		{data: []byte{0xFF, 0xFF}, expected: 0xFE},
	}

	for i, tc := range testCases {
		result := Checksum(tc.data)
		if result != tc.expected {
			t.Errorf("case %d: Checksum(%v) = 0x%02X, want 0x%02X", i, tc.data, result, tc.expected)
		}
	}
}

func TestVendApproved(t *testing.T) {
	got := VendApproved(0x01F4)
	want := []byte{0x05, 0x01, 0xF4}
	if len(got) != len(want) {
		t.Fatalf("VendApproved length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("VendApproved()[%d] = 0x%02X, want 0x%02X", i, got[i], want[i])
		}
	}
}

func TestDisplayRequest(t *testing.T) {
	content := []byte("AMIV")
	got := DisplayRequest(60, content)
	if got[0] != 0x02 || got[1] != 60 {
		t.Fatalf("DisplayRequest header = %v", got[:2])
	}
	if string(got[2:]) != "AMIV" {
		t.Errorf("DisplayRequest content = %q, want %q", got[2:], "AMIV")
	}
}

func TestFixedLengthsCoverAllNonVendCommands(t *testing.T) {
	for _, cmd := range []Command{CmdReset, CmdSetup, CmdPoll, CmdReader, CmdExpansion} {
		if _, ok := FixedLengths[cmd]; !ok {
			t.Errorf("FixedLengths missing entry for command 0x%02X", cmd)
		}
	}
	if _, ok := FixedLengths[CmdVend]; ok {
		t.Errorf("FixedLengths should not contain CmdVend; it is keyed by subcommand")
	}
}

func TestVendLengthsCoverAllSubcommands(t *testing.T) {
	for _, sub := range []Subcommand{VendRequest, VendCancel, VendSuccess, VendFailure, VendSessionComplete, VendCashSale} {
		if _, ok := VendLengths[sub]; !ok {
			t.Errorf("VendLengths missing entry for subcommand 0x%02X", sub)
		}
	}
}

func TestExpansionIDLength(t *testing.T) {
	if len(ExpansionID) != 30 {
		t.Fatalf("ExpansionID length = %d, want 30", len(ExpansionID))
	}
	if ExpansionID[0] != 0x09 {
		t.Errorf("ExpansionID[0] = 0x%02X, want 0x09", ExpansionID[0])
	}
	for i := 1; i < len(ExpansionID); i++ {
		if ExpansionID[i] != 0 {
			t.Errorf("ExpansionID[%d] = 0x%02X, want 0x00", i, ExpansionID[i])
		}
	}
}
