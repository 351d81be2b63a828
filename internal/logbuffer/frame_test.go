package logbuffer

import "testing"

func TestAlignFrame(t *testing.T) {
	cases := map[int32]int32{0: 0, 1: 32, 31: 32, 32: 32, 33: 64}
	for in, want := range cases {
		if got := AlignFrame(in); got != want {
			t.Errorf("AlignFrame(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestPutAndReadDataHeader(t *testing.T) {
	buf := make([]byte, 128)
	h := Header{
		FrameLength: 96,
		Version:     FrameVersion,
		Flags:       FlagUnfragmented,
		Type:        FrameTypeData,
		TermOffset:  0,
		SessionID:   11,
		StreamID:    22,
		TermID:      3,
	}
	PutDataHeader(buf, 0, h, 0xDEADBEEF)

	if got := FrameLength(buf, 0); got != 96 {
		t.Fatalf("FrameLength = %d, want 96", got)
	}
	got := ReadHeader(buf, 0)
	got.FrameLength = FrameLength(buf, 0)
	if got != h {
		t.Fatalf("ReadHeader = %+v, want %+v", got, h)
	}
	if FrameType(buf, 0) != FrameTypeData {
		t.Fatalf("FrameType = %d, want %d", FrameType(buf, 0), FrameTypeData)
	}
	if FrameFlags(buf, 0) != FlagUnfragmented {
		t.Fatalf("FrameFlags = %x, want %x", FrameFlags(buf, 0), FlagUnfragmented)
	}
	if SessionID(buf, 0) != 11 || StreamID(buf, 0) != 22 || TermID(buf, 0) != 3 {
		t.Fatalf("unexpected sub-fields: session=%d stream=%d term=%d", SessionID(buf, 0), StreamID(buf, 0), TermID(buf, 0))
	}
}

func TestSetFrameLengthOrdered(t *testing.T) {
	buf := make([]byte, 64)
	SetFrameLengthOrdered(buf, 0, 48)
	if got := FrameLength(buf, 0); got != 48 {
		t.Fatalf("FrameLength = %d, want 48", got)
	}
}
