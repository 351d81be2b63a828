package counters

import (
	"bytes"
	"strings"
	"testing"
)

func TestManagerEachVisitsOnlyAllocatedSlots(t *testing.T) {
	m := NewManager(4)
	a := m.Allocate(TypeBytesSent, "tx-bytes")
	m.Set(a, 4096)
	b := m.Allocate(TypeNAKsSent, "naks")
	m.Set(b, 3)

	seen := map[int32]int64{}
	m.Each(func(id, typeID int32, label string, value int64) {
		seen[id] = value
	})
	if len(seen) != 2 {
		t.Fatalf("Each visited %d counters, want 2", len(seen))
	}
	if seen[a] != 4096 || seen[b] != 3 {
		t.Fatalf("unexpected values: %+v", seen)
	}
}

func TestPrintReportRendersByteCountersWithHumanize(t *testing.T) {
	m := NewManager(4)
	id := m.Allocate(TypeBytesSent, "tx-bytes")
	m.Set(id, 10*1024*1024)

	var buf bytes.Buffer
	if err := PrintReport(&buf, m); err != nil {
		t.Fatalf("PrintReport: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "tx-bytes") || !strings.Contains(out, "bytes-sent") {
		t.Fatalf("expected label and type name in output, got %q", out)
	}
	if !strings.Contains(out, "MB") {
		t.Fatalf("expected a humanized byte size in output, got %q", out)
	}
}

func TestPrintReportFormatsPlainCountersWithThousandsSeparators(t *testing.T) {
	m := NewManager(4)
	id := m.Allocate(TypeClientTimeouts, "timeouts")
	m.Set(id, 1234567)

	var buf bytes.Buffer
	if err := PrintReport(&buf, m); err != nil {
		t.Fatalf("PrintReport: %v", err)
	}
	if !strings.Contains(buf.String(), "1,234,567") {
		t.Fatalf("expected a thousands-grouped value, got %q", buf.String())
	}
}
