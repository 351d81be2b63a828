package logbuffer

import "testing"

func TestPositionRoundTrip(t *testing.T) {
	const termLength = 1 << 16
	shift := PositionBitsToShift(termLength)

	pos := ComputePosition(7, 3, int32(shift), 4096)
	if got := ComputeTermID(pos, 3, shift); got != 7 {
		t.Fatalf("ComputeTermID = %d, want 7", got)
	}
	if got := ComputeTermOffset(pos, shift); got != 4096 {
		t.Fatalf("ComputeTermOffset = %d, want 4096", got)
	}
}

func TestComputeTermIndex(t *testing.T) {
	cases := map[int32]int32{
		0: 0, 1: 1, 2: 2, 3: 0, 4: 1, -1: 2, -2: 1, -3: 0,
	}
	for termID, want := range cases {
		if got := ComputeTermIndex(termID); got != want {
			t.Errorf("ComputeTermIndex(%d) = %d, want %d", termID, got, want)
		}
	}
}

func TestPositionBitsToShift(t *testing.T) {
	if got := PositionBitsToShift(1 << 20); got != 20 {
		t.Fatalf("PositionBitsToShift(1<<20) = %d, want 20", got)
	}
}
