package ringbuf

import (
	"fmt"
	"sync"
	"testing"
)

func TestSPSCWriteRead(t *testing.T) {
	r := NewSPSC(256)

	if !r.Write(1, []byte("hello")) {
		t.Fatal("expected write to succeed")
	}
	if !r.Write(2, []byte("world")) {
		t.Fatal("expected write to succeed")
	}

	var got []string
	n := r.Read(func(msgType int32, payload []byte) {
		got = append(got, fmt.Sprintf("%d:%s", msgType, payload))
	})
	if n != 2 {
		t.Fatalf("expected 2 records, got %d", n)
	}
	if got[0] != "1:hello" || got[1] != "2:world" {
		t.Fatalf("unexpected records: %v", got)
	}

	if n := r.Read(func(int32, []byte) {}); n != 0 {
		t.Fatalf("expected empty ring, got %d records", n)
	}
}

func TestSPSCWrapPadding(t *testing.T) {
	r := NewSPSC(64)
	big := make([]byte, 40)
	for i := range big {
		big[i] = byte(i)
	}

	if !r.Write(1, big) {
		t.Fatal("first write should fit")
	}
	var first []byte
	r.Read(func(_ int32, p []byte) { first = append([]byte{}, p...) })
	if len(first) != 40 {
		t.Fatalf("expected to read back 40 bytes, got %d", len(first))
	}

	// Second write of similar size forces the producer to wrap with a
	// padding record since it won't fit contiguously to the buffer end.
	if !r.Write(2, big) {
		t.Fatal("second write should fit after wrap")
	}
	var second []byte
	var msgType int32
	r.Read(func(mt int32, p []byte) {
		msgType = mt
		second = append([]byte{}, p...)
	})
	if msgType != 2 || len(second) != 40 {
		t.Fatalf("expected wrapped record type=2 len=40, got type=%d len=%d", msgType, len(second))
	}
}

func TestSPSCInsufficientSpace(t *testing.T) {
	r := NewSPSC(64)
	payload := make([]byte, 40)
	if !r.Write(1, payload) {
		t.Fatal("first write should fit")
	}
	if r.Write(1, payload) {
		t.Fatal("second write should not fit in remaining space")
	}
}

func TestSPSCConcurrentProducerConsumer(t *testing.T) {
	r := NewSPSC(1 << 16)
	const n = 5000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			payload := []byte(fmt.Sprintf("msg-%d", i))
			for !r.Write(int32(i%7), payload) {
				// back off and retry; consumer is draining concurrently.
			}
		}
	}()

	received := 0
	for received < n {
		received += r.Read(func(int32, []byte) {})
	}
	wg.Wait()
	if received != n {
		t.Fatalf("expected %d records, got %d", n, received)
	}
}
