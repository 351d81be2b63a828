package logbuffer

import "testing"

func newTestMetadata() *Metadata {
	return NewMetadata(make([]byte, MetadataLength))
}

func TestMetadataStaticFields(t *testing.T) {
	m := newTestMetadata()
	m.SetInitialTermID(42)
	m.SetMTULength(1408)
	m.SetTermLength(1 << 24)
	m.SetPageSize(4096)

	if m.InitialTermID() != 42 {
		t.Errorf("InitialTermID = %d, want 42", m.InitialTermID())
	}
	if m.MTULength() != 1408 {
		t.Errorf("MTULength = %d, want 1408", m.MTULength())
	}
	if m.TermLength() != 1<<24 {
		t.Errorf("TermLength = %d, want %d", m.TermLength(), 1<<24)
	}
	if m.PageSize() != 4096 {
		t.Errorf("PageSize = %d, want 4096", m.PageSize())
	}
}

func TestMetadataRawTail(t *testing.T) {
	m := newTestMetadata()
	raw := PackTail(5, 1024)
	if got := UnpackTermID(raw); got != 5 {
		t.Fatalf("UnpackTermID = %d, want 5", got)
	}
	if got := UnpackTermOffset(raw); got != 1024 {
		t.Fatalf("UnpackTermOffset = %d, want 1024", got)
	}

	if !m.CompareAndSetRawTail(1, 0, raw) {
		t.Fatal("expected initial CAS from zero to succeed")
	}
	if got := m.RawTail(1); got != raw {
		t.Fatalf("RawTail(1) = %d, want %d", got, raw)
	}
	if m.CompareAndSetRawTail(1, 0, raw) {
		t.Fatal("expected stale CAS to fail")
	}
}

func TestMetadataActiveTermCount(t *testing.T) {
	m := newTestMetadata()
	if m.ActiveTermCount() != 0 {
		t.Fatalf("ActiveTermCount = %d, want 0", m.ActiveTermCount())
	}
	if !m.CompareAndSetActiveTermCount(0, 1) {
		t.Fatal("expected CAS to succeed")
	}
	if m.ActiveTermCount() != 1 {
		t.Fatalf("ActiveTermCount = %d, want 1", m.ActiveTermCount())
	}
}

func TestMetadataEndOfStreamPosition(t *testing.T) {
	m := newTestMetadata()
	if m.EndOfStreamPosition() != 0 {
		t.Fatalf("EndOfStreamPosition = %d, want 0 (zero value before set)", m.EndOfStreamPosition())
	}
	m.SetEndOfStreamPositionOrdered(UnsetPosition)
	if m.EndOfStreamPosition() != UnsetPosition {
		t.Fatalf("EndOfStreamPosition = %d, want %d", m.EndOfStreamPosition(), UnsetPosition)
	}
	m.SetEndOfStreamPositionOrdered(123456)
	if m.EndOfStreamPosition() != 123456 {
		t.Fatalf("EndOfStreamPosition = %d, want 123456", m.EndOfStreamPosition())
	}
}

func TestMetadataDefaultFrameHeader(t *testing.T) {
	m := newTestMetadata()
	header := make([]byte, DataHeaderLength)
	for i := range header {
		header[i] = byte(i)
	}
	m.SetDefaultFrameHeader(header)
	got := m.DefaultFrameHeader()
	for i := range header {
		if got[i] != header[i] {
			t.Fatalf("DefaultFrameHeader()[%d] = %d, want %d", i, got[i], header[i])
		}
	}
}

func TestLogBufferActivePartitionIndex(t *testing.T) {
	m := newTestMetadata()
	m.SetInitialTermID(0)
	var terms [PartitionCount][]byte
	for i := range terms {
		terms[i] = make([]byte, 1024)
	}
	lb := NewLogBuffer(terms, m)

	if got := lb.ActivePartitionIndex(); got != 0 {
		t.Fatalf("ActivePartitionIndex = %d, want 0", got)
	}
	m.CompareAndSetActiveTermCount(0, 1)
	if got := lb.ActivePartitionIndex(); got != 1 {
		t.Fatalf("ActivePartitionIndex = %d, want 1", got)
	}
	m.CompareAndSetActiveTermCount(1, 3)
	if got := lb.ActivePartitionIndex(); got != 0 {
		t.Fatalf("ActivePartitionIndex = %d, want 0", got)
	}
}
