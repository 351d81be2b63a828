package image

import (
	"testing"
	"time"

	"github.com/flowdriver/flowdriver/internal/logbuffer"
)

func newTestLogBuffer(termLength int32) *logbuffer.LogBuffer {
	var terms [logbuffer.PartitionCount][]byte
	for i := range terms {
		terms[i] = make([]byte, termLength)
	}
	meta := logbuffer.NewMetadata(make([]byte, logbuffer.MetadataLength))
	meta.SetTermLength(termLength)
	return logbuffer.NewLogBuffer(terms, meta)
}

func TestImageLifecycle(t *testing.T) {
	lb := newTestLogBuffer(64 * 1024)
	img := NewImage(1, 10, 20, 0, "aeron:udp?endpoint=localhost:9000", "127.0.0.1:40000", lb, 0, nil, nil, 99)

	now := time.Now()
	if img.State != StateInit {
		t.Fatalf("expected INIT, got %v", img.State)
	}
	img.Activate(now)
	if img.State != StateActive {
		t.Fatalf("expected ACTIVE, got %v", img.State)
	}

	if img.IsInactive(now.Add(time.Second), 5*time.Second) {
		t.Fatalf("should not be inactive yet")
	}
	if !img.IsInactive(now.Add(10*time.Second), 5*time.Second) {
		t.Fatalf("should be inactive")
	}

	img.BeginDraining(now)
	if img.State != StateDraining {
		t.Fatalf("expected DRAINING, got %v", img.State)
	}
	img.BeginLinger(now, 2*time.Millisecond)
	if img.State != StateLinger {
		t.Fatalf("expected LINGER, got %v", img.State)
	}
	if img.ReadyToClose(now) {
		t.Fatalf("should not be ready to close immediately")
	}
	if !img.ReadyToClose(now.Add(5 * time.Millisecond)) {
		t.Fatalf("should be ready to close after linger")
	}
	img.Close()
	if img.State != StateClosed {
		t.Fatalf("expected CLOSED, got %v", img.State)
	}
}

func TestImageEndOfStream(t *testing.T) {
	lb := newTestLogBuffer(64 * 1024)
	img := NewImage(1, 10, 20, 0, "aeron:udp?endpoint=localhost:9000", "127.0.0.1:40000", lb, 0, nil, nil, 99)
	img.HighWaterMarkPosition = 1000
	img.RebuildPosition = 1000
	if img.IsEndOfStream() {
		t.Fatalf("should not be EOS before sender signals it")
	}
	img.ObserveEOS()
	if !img.IsEndOfStream() {
		t.Fatalf("should be EOS once observed and rebuild caught up")
	}
}
