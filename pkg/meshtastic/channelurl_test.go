package meshtastic

import (
	"bytes"
	"strings"
	"testing"
)

func TestChannelURLRoundTrip(t *testing.T) {
	psk, err := GeneratePSK(PSKLenStrong)
	if err != nil {
		t.Fatalf("GeneratePSK() error = %v", err)
	}
	in := []SharedChannel{
		{Name: "LongFast", PSK: nil},
		{Name: "Private", PSK: psk},
	}

	link, err := EncodeChannelURL(in)
	if err != nil {
		t.Fatalf("EncodeChannelURL() error = %v", err)
	}
	if !strings.HasPrefix(link, "https://meshtastic.org/e/#") {
		t.Errorf("unexpected link prefix: %q", link)
	}
	if strings.Contains(link, "=") {
		t.Errorf("link fragment must not carry base64 padding: %q", link)
	}

	out, err := DecodeChannelURL(link)
	if err != nil {
		t.Fatalf("DecodeChannelURL() error = %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("decoded %d channels, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i].Name != in[i].Name {
			t.Errorf("channel %d name = %q, want %q", i, out[i].Name, in[i].Name)
		}
		if !bytes.Equal(out[i].PSK, in[i].PSK) {
			t.Errorf("channel %d PSK mismatch", i)
		}
	}
}

func TestDecodeChannelURLInvalid(t *testing.T) {
	for _, bad := range []string{
		"",
		"https://meshtastic.org/e/",
		"https://meshtastic.org/e/#!!!not-base64!!!",
	} {
		if _, err := DecodeChannelURL(bad); err == nil {
			t.Errorf("DecodeChannelURL(%q) expected error", bad)
		}
	}
}
