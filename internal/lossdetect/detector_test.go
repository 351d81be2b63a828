package lossdetect

import (
	"testing"
	"time"

	"github.com/flowdriver/flowdriver/internal/logbuffer"
)

func TestDetectorNoGapNoNAK(t *testing.T) {
	term := make([]byte, 256)
	writeFrame(t, term, 0, 32, logbuffer.FrameTypeData)
	writeFrame(t, term, 32, 32, logbuffer.FrameTypeData)

	d := NewDetector(0, 10*time.Millisecond, time.Second)
	nak, emit := d.Scan(term, 1, 64, time.Now())
	if emit || nak != nil {
		t.Fatalf("expected no NAK, got %+v emit=%v", nak, emit)
	}
}

func TestDetectorDelaysFirstNAK(t *testing.T) {
	term := make([]byte, 256)
	writeFrame(t, term, 0, 32, logbuffer.FrameTypeData)
	// gap at [32,96)
	writeFrame(t, term, 96, 32, logbuffer.FrameTypeData)

	d := NewDetector(0, 20*time.Millisecond, time.Second)
	now := time.Now()

	// First scan: gap just appeared, must not emit yet regardless of delay.
	nak, emit := d.Scan(term, 1, 128, now)
	if emit || nak != nil {
		t.Fatalf("expected no NAK on first observation, got %+v emit=%v", nak, emit)
	}

	// Before the loss-check delay elapses, still nothing.
	nak, emit = d.Scan(term, 1, 128, now.Add(5*time.Millisecond))
	if emit || nak != nil {
		t.Fatalf("expected no NAK before delay elapses, got %+v emit=%v", nak, emit)
	}

	// After the delay, a NAK should fire.
	nak, emit = d.Scan(term, 1, 128, now.Add(25*time.Millisecond))
	if !emit || nak == nil {
		t.Fatal("expected a NAK after the loss-check delay elapses")
	}
	if nak.Offset != 32 || nak.Length != 64 {
		t.Fatalf("nak = %+v, want offset=32 length=64", nak)
	}
}

func TestDetectorSuppressesNAKsWhenDraining(t *testing.T) {
	term := make([]byte, 256)
	writeFrame(t, term, 96, 32, logbuffer.FrameTypeData)

	d := NewDetector(0, time.Millisecond, time.Second)
	d.SetDraining(true)
	now := time.Now()

	d.Scan(term, 1, 128, now)
	nak, emit := d.Scan(term, 1, 128, now.Add(10*time.Millisecond))
	if emit || nak != nil {
		t.Fatalf("expected no NAK while draining, got %+v emit=%v", nak, emit)
	}
}

func TestDetectorResetsOnRepair(t *testing.T) {
	term := make([]byte, 256)
	writeFrame(t, term, 96, 32, logbuffer.FrameTypeData)

	d := NewDetector(0, time.Millisecond, time.Second)
	now := time.Now()
	d.Scan(term, 1, 128, now)

	// Gap gets repaired.
	writeFrame(t, term, 0, 96, logbuffer.FrameTypeData)
	_, emit := d.Scan(term, 1, 128, now.Add(10*time.Millisecond))
	if emit {
		t.Fatal("expected no NAK once the gap is repaired")
	}
}

func writeFrame(t *testing.T, buf []byte, offset, length, frameType int32) {
	t.Helper()
	logbuffer.PutDataHeader(buf, offset, logbuffer.Header{
		FrameLength: length,
		Version:     logbuffer.FrameVersion,
		Flags:       logbuffer.FlagUnfragmented,
		Type:        frameType,
		TermOffset:  offset,
	}, 0)
}
