package ringbuf

import "testing"

func TestBroadcastSingleReader(t *testing.T) {
	b := NewBroadcast(256)
	rd := b.NewReader()

	b.Transmit(1, []byte("hello"))
	b.Transmit(2, []byte("world"))

	mt, payload, lapped, ok := rd.Receive()
	if !ok || lapped || mt != 1 || string(payload) != "hello" {
		t.Fatalf("unexpected first receive: mt=%d payload=%q lapped=%v ok=%v", mt, payload, lapped, ok)
	}
	mt, payload, lapped, ok = rd.Receive()
	if !ok || lapped || mt != 2 || string(payload) != "world" {
		t.Fatalf("unexpected second receive: mt=%d payload=%q lapped=%v ok=%v", mt, payload, lapped, ok)
	}
	_, _, _, ok = rd.Receive()
	if ok {
		t.Fatal("expected no more records")
	}
}

func TestBroadcastLapDetection(t *testing.T) {
	b := NewBroadcast(64)
	rd := b.NewReader()

	// Each record is 8(header)+8(payload, aligned)=16 bytes, so 5 records
	// (80 bytes) is more than the 64 byte capacity: the reader, which has
	// not consumed anything, must observe a lap.
	payload := []byte("12345678")
	for i := 0; i < 5; i++ {
		b.Transmit(int32(i), payload)
	}

	_, _, lapped, ok := rd.Receive()
	if ok || !lapped {
		t.Fatalf("expected lapped=true ok=false, got lapped=%v ok=%v", lapped, ok)
	}

	// After resynchronizing, the reader sees only new records.
	b.Transmit(99, []byte("fresh"))
	mt, p, lapped, ok := rd.Receive()
	if !ok || lapped || mt != 99 || string(p) != "fresh" {
		t.Fatalf("unexpected receive after resync: mt=%d p=%q lapped=%v ok=%v", mt, p, lapped, ok)
	}
}

func TestBroadcastMultipleIndependentReaders(t *testing.T) {
	b := NewBroadcast(256)
	r1 := b.NewReader()

	b.Transmit(1, []byte("a"))
	r2 := b.NewReader() // joins after the first record

	b.Transmit(2, []byte("b"))

	mt, _, _, ok := r1.Receive()
	if !ok || mt != 1 {
		t.Fatalf("r1 first receive: mt=%d ok=%v", mt, ok)
	}
	mt, _, _, ok = r1.Receive()
	if !ok || mt != 2 {
		t.Fatalf("r1 second receive: mt=%d ok=%v", mt, ok)
	}

	mt, _, _, ok = r2.Receive()
	if !ok || mt != 2 {
		t.Fatalf("r2 should only see the record published after it joined: mt=%d ok=%v", mt, ok)
	}
}

// TestBroadcastOverExternalBuffer verifies NewBroadcastOver builds a
// usable transmitter over a caller-supplied slice rather than a private
// heap allocation, the same substitution cnc.dat's mmap'd event region
// needs.
func TestBroadcastOverExternalBuffer(t *testing.T) {
	buf := make([]byte, 256)
	b := NewBroadcastOver(buf)
	rd := b.NewReader()
	b.Transmit(3, []byte("event"))
	mt, payload, lapped, ok := rd.Receive()
	if !ok || lapped || mt != 3 || string(payload) != "event" {
		t.Fatalf("unexpected receive: mt=%d payload=%q lapped=%v ok=%v", mt, payload, lapped, ok)
	}
}
