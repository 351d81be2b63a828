package logbuffer

import "testing"

func TestFillGapWritesPadding(t *testing.T) {
	term := make([]byte, 256)
	FillGap(term, Gap{TermID: 4, Offset: 32, Length: 64})

	if FrameLength(term, 32) != 64 {
		t.Fatalf("FrameLength = %d, want 64", FrameLength(term, 32))
	}
	if FrameType(term, 32) != FrameTypePad {
		t.Fatalf("FrameType = %d, want FrameTypePad", FrameType(term, 32))
	}
	if TermID(term, 32) != 4 {
		t.Fatalf("TermID = %d, want 4", TermID(term, 32))
	}
}
