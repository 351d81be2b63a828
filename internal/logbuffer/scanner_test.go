package logbuffer

import "testing"

func writeFrame(t *testing.T, buf []byte, offset, length, frameType int32) {
	t.Helper()
	PutDataHeader(buf, offset, Header{
		FrameLength: length,
		Version:     FrameVersion,
		Flags:       FlagUnfragmented,
		Type:        frameType,
		TermOffset:  offset,
	}, 0)
}

func TestScanAccumulatesContiguousFrames(t *testing.T) {
	buf := make([]byte, 256)
	writeFrame(t, buf, 0, 32, FrameTypeData)
	writeFrame(t, buf, 32, 64, FrameTypeData)

	available, isPadding := Scan(buf, 0, 256)
	if isPadding {
		t.Fatal("did not expect padding")
	}
	if available != 32+AlignFrame(64) {
		t.Fatalf("available = %d, want %d", available, 32+AlignFrame(64))
	}
}

func TestScanStopsAtUncommittedFrame(t *testing.T) {
	buf := make([]byte, 256)
	writeFrame(t, buf, 0, 32, FrameTypeData)
	// offset 32 left at zero length: uncommitted.

	available, isPadding := Scan(buf, 0, 256)
	if isPadding {
		t.Fatal("did not expect padding")
	}
	if available != 32 {
		t.Fatalf("available = %d, want 32", available)
	}
}

func TestScanReportsLeadingPadding(t *testing.T) {
	buf := make([]byte, 256)
	writeFrame(t, buf, 0, 64, FrameTypePad)

	available, isPadding := Scan(buf, 0, 256)
	if !isPadding {
		t.Fatal("expected leading padding to be reported")
	}
	if available != 64 {
		t.Fatalf("available = %d, want 64", available)
	}
}

func TestScanStopsBeforeTrailingPadding(t *testing.T) {
	buf := make([]byte, 256)
	writeFrame(t, buf, 0, 32, FrameTypeData)
	writeFrame(t, buf, 32, 32, FrameTypePad)

	available, isPadding := Scan(buf, 0, 256)
	if isPadding {
		t.Fatal("did not expect padding flag when padding isn't the first frame")
	}
	if available != 32 {
		t.Fatalf("available = %d, want 32", available)
	}
}

func TestScanRespectsMaxLength(t *testing.T) {
	buf := make([]byte, 256)
	writeFrame(t, buf, 0, 64, FrameTypeData)
	writeFrame(t, buf, 64, 64, FrameTypeData)

	available, _ := Scan(buf, 0, 96)
	if available != 64 {
		t.Fatalf("available = %d, want 64 (second frame would exceed maxLength)", available)
	}
}
