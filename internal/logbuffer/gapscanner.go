package logbuffer

// Gap describes a missing range of frames between two committed frames in
// a receiver's term buffer.
type Gap struct {
	TermID int32
	Offset int32
	Length int32
}

// ScanForGap walks a receiver's term buffer from rebuildOffset (the
// highest position known to be fully contiguous) up to hwmOffset (the
// highest position any frame has been received at), looking for the first
// gap — a stretch where frame_length has not yet been observed even
// though a later frame has.
//
// It returns the offset up to which frames are contiguous, and the first
// gap found beyond that point, if any.
func ScanForGap(term []byte, termID, rebuildOffset, hwmOffset int32) (contiguousTo int32, gap *Gap) {
	offset := rebuildOffset
	for offset < hwmOffset {
		length := FrameLength(term, offset)
		if length == 0 {
			break
		}
		offset += AlignFrame(length)
	}
	contiguousTo = offset
	if offset >= hwmOffset {
		return contiguousTo, nil
	}

	gapOffset := offset
	for offset < hwmOffset && FrameLength(term, offset) == 0 {
		offset += FrameAlignment
	}
	return contiguousTo, &Gap{TermID: termID, Offset: gapOffset, Length: offset - gapOffset}
}
