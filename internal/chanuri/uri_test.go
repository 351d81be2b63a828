package chanuri

import "testing"

func TestParseUDPChannel(t *testing.T) {
	u, err := Parse("aeron:udp?endpoint=localhost:40123|mtu=1408|term-length=1048576")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Media != MediaUDP {
		t.Fatalf("Media = %q, want udp", u.Media)
	}
	if v, _ := u.Get(KeyEndpoint); v != "localhost:40123" {
		t.Fatalf("endpoint = %q", v)
	}
	mtu, err := u.GetInt32(KeyMTU, 0)
	if err != nil || mtu != 1408 {
		t.Fatalf("mtu = %d, err = %v", mtu, err)
	}
}

func TestParseIPCChannelNoParams(t *testing.T) {
	u, err := Parse("aeron:ipc")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Media != MediaIPC {
		t.Fatalf("Media = %q, want ipc", u.Media)
	}
	if len(u.Params) != 0 {
		t.Fatalf("Params = %v, want empty", u.Params)
	}
}

func TestParseRejectsMissingPrefix(t *testing.T) {
	if _, err := Parse("udp?endpoint=localhost:40123"); err == nil {
		t.Fatal("expected error for missing aeron: prefix")
	}
}

func TestParseRejectsUnknownMedia(t *testing.T) {
	if _, err := Parse("aeron:tcp?endpoint=localhost:40123"); err == nil {
		t.Fatal("expected error for unknown media")
	}
}

func TestParseRejectsMalformedParameter(t *testing.T) {
	if _, err := Parse("aeron:udp?endpoint"); err == nil {
		t.Fatal("expected error for parameter without '='")
	}
}

func TestGetBoolAndDefaults(t *testing.T) {
	u, err := Parse("aeron:udp?endpoint=localhost:40123|reliable=false")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	reliable, err := u.GetBool(KeyReliable, true)
	if err != nil || reliable != false {
		t.Fatalf("reliable = %v, err = %v", reliable, err)
	}
	alias := u.GetDefault(KeyAlias, "none")
	if alias != "none" {
		t.Fatalf("alias = %q, want none", alias)
	}
}

func TestIsMulticast(t *testing.T) {
	cases := map[string]bool{
		"aeron:udp?endpoint=224.0.1.1:40123": true,
		"aeron:udp?endpoint=239.1.1.1:40123": true,
		"aeron:udp?endpoint=192.168.1.1:40123": false,
		"aeron:udp?endpoint=localhost:40123": false,
		"aeron:ipc": false,
	}
	for raw, want := range cases {
		u, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%q): %v", raw, err)
		}
		if got := u.IsMulticast(); got != want {
			t.Errorf("IsMulticast(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestCanonicalFormIsOrderIndependent(t *testing.T) {
	a, _ := Parse("aeron:udp?endpoint=localhost:40123|mtu=1408")
	b, _ := Parse("aeron:udp?mtu=1408|endpoint=localhost:40123")
	if a.CanonicalForm() != b.CanonicalForm() {
		t.Fatalf("canonical forms differ: %q vs %q", a.CanonicalForm(), b.CanonicalForm())
	}
}
