package counters

import (
	"bytes"
	"testing"
)

func TestLossReporterAggregates(t *testing.T) {
	r := NewLossReporter()
	key := LossKey{SessionID: 1, StreamID: 2, Channel: "aeron:udp?endpoint=localhost:40001"}

	r.RecordLoss(key, 4, 64, 128)
	r.RecordLoss(key, 4, 256, 64)

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("len(snap) = %d, want 1", len(snap))
	}
	rec := snap[0]
	if rec.ObservationCount != 2 {
		t.Fatalf("ObservationCount = %d, want 2", rec.ObservationCount)
	}
	if rec.TotalBytesLost != 192 {
		t.Fatalf("TotalBytesLost = %d, want 192", rec.TotalBytesLost)
	}
	if rec.LastTermOffset != 256 || rec.LastLength != 64 {
		t.Fatalf("unexpected last-observation fields: %+v", rec)
	}
}

func TestLossReporterPrint(t *testing.T) {
	r := NewLossReporter()
	r.RecordLoss(LossKey{SessionID: 1, StreamID: 1, Channel: "aeron:udp?endpoint=localhost:40001"}, 1, 0, 1024)

	var buf bytes.Buffer
	if err := Print(&buf, r.Snapshot()); err != nil {
		t.Fatalf("Print: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected non-empty output")
	}
}
