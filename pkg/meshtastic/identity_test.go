package meshtastic

import (
	"strings"
	"testing"
)

func TestGenerateShortName(t *testing.T) {
	tests := []struct {
		name     string
		longName string
		want     string
	}{
		{"two words", "Ivan Petrov", "IP"},
		{"four words", "North West Relay Station", "NWRS"},
		{"more than four words", "Alpha Bravo Charlie Delta Echo", "ABCD"},
		{"single short word", "Bob", "BOB"},
		{"single long word", "Basestation", "BASE"},
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		{"lowercase words", "mesh gateway", "MG"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GenerateShortName(tt.longName); got != tt.want {
				t.Errorf("GenerateShortName(%q) = %q, want %q", tt.longName, got, tt.want)
			}
		})
	}
}

func TestTruncateLongName(t *testing.T) {
	long := strings.Repeat("x", MaxLongNameLen+10)
	if got := TruncateLongName(long); len(got) != MaxLongNameLen {
		t.Errorf("TruncateLongName() length = %d, want %d", len(got), MaxLongNameLen)
	}
	if got := TruncateLongName("Short Name"); got != "Short Name" {
		t.Errorf("TruncateLongName() = %q, want unchanged", got)
	}
}

func TestNodeIDString(t *testing.T) {
	if got := NodeID(0xa1b2c3d4).String(); got != "!a1b2c3d4" {
		t.Errorf("String() = %q, want %q", got, "!a1b2c3d4")
	}
	if got := NodeID(42).String(); got != "!0000002a" {
		t.Errorf("String() = %q, want %q", got, "!0000002a")
	}
}

func TestParseNodeID(t *testing.T) {
	id, err := ParseNodeID("!a1b2c3d4")
	if err != nil {
		t.Fatalf("ParseNodeID() error = %v", err)
	}
	if id != NodeID(0xa1b2c3d4) {
		t.Errorf("ParseNodeID() = %v, want %v", uint32(id), uint32(0xa1b2c3d4))
	}

	for _, bad := range []string{"", "a1b2c3d4", "!xyz", "!a1b2", "!a1b2c3d4e5"} {
		if _, err := ParseNodeID(bad); err == nil {
			t.Errorf("ParseNodeID(%q) expected error", bad)
		}
	}
}

func TestBroadcastAddr(t *testing.T) {
	if !BroadcastAddr.IsBroadcast() {
		t.Error("BroadcastAddr.IsBroadcast() = false")
	}
	if NodeID(42).IsBroadcast() {
		t.Error("NodeID(42).IsBroadcast() = true")
	}
}
