//go:build linux

package udp

import (
	"net/netip"
	"testing"
	"time"
)

func TestSocketLoopbackSendReceive(t *testing.T) {
	recv, err := Bind(netip.MustParseAddrPort("127.0.0.1:0"), Config{})
	if err != nil {
		t.Fatalf("bind receiver: %v", err)
	}
	defer recv.Close()

	send, err := Bind(netip.MustParseAddrPort("127.0.0.1:0"), Config{})
	if err != nil {
		t.Fatalf("bind sender: %v", err)
	}
	defer send.Close()

	poller, err := NewPoller(4)
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}
	defer poller.Close()
	if err := poller.Add(recv); err != nil {
		t.Fatalf("add: %v", err)
	}

	msg := []byte("hello driver")
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := send.SendTo(msg, recv.LocalAddr()); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("send never succeeded")
		}
	}

	ready, err := poller.Poll(1000)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(ready) != 1 || ready[0] != recv {
		t.Fatalf("expected receiver socket ready, got %v", ready)
	}

	buf := make([]byte, 1500)
	n, from, err := recv.ReceiveFrom(buf)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(buf[:n]) != string(msg) {
		t.Fatalf("payload mismatch: got %q", buf[:n])
	}
	if from.Addr() != send.LocalAddr().Addr() {
		t.Fatalf("sender address mismatch: got %v want %v", from, send.LocalAddr())
	}
}

func TestDestinationTracker(t *testing.T) {
	tr := NewDestinationTracker()
	a := netip.MustParseAddrPort("10.0.0.1:9000")
	b := netip.MustParseAddrPort("10.0.0.2:9000")
	tr.Add(1, a)
	tr.Add(2, b)
	if tr.Len() != 2 {
		t.Fatalf("expected 2 destinations, got %d", tr.Len())
	}
	seen := map[int64]netip.AddrPort{}
	tr.Each(func(id int64, addr netip.AddrPort) { seen[id] = addr })
	if seen[1] != a || seen[2] != b {
		t.Fatalf("unexpected destination set: %v", seen)
	}
	if !tr.Remove(1) {
		t.Fatalf("expected removal of id 1 to succeed")
	}
	if tr.Len() != 1 {
		t.Fatalf("expected 1 destination after removal, got %d", tr.Len())
	}
	if tr.Remove(1) {
		t.Fatalf("expected second removal of id 1 to fail")
	}
}
