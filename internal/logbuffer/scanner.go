package logbuffer

// Scan walks committed frames starting at offset, accumulating aligned
// frame lengths up to maxLength, and reports how much of the range is
// available to send as one batch.
//
// Scanning stops, returning what has accumulated so far, when it meets an
// uncommitted frame (frame_length not yet observable), a padding frame
// that isn't the first frame in the batch, or the maxLength bound. A
// padding frame encountered as the very first frame of the batch is
// reported on its own with isPadding set, so the caller can skip it.
func Scan(buf []byte, offset, maxLength int32) (available int32, isPadding bool) {
	var scanned int32
	for scanned < maxLength {
		frameOffset := offset + scanned
		length := FrameLength(buf, frameOffset)
		if length == 0 {
			break
		}
		alignedLength := AlignFrame(length)

		if FrameType(buf, frameOffset) == FrameTypePad {
			if scanned == 0 {
				return alignedLength, true
			}
			break
		}

		if scanned+alignedLength > maxLength {
			break
		}
		scanned += alignedLength

		// A fragmented message (END flag not yet set) cannot be split across
		// separate sends, but since each fragment is itself a fully framed,
		// independently committed frame, stopping per-frame here is safe:
		// the caller just issues another Scan starting at the new offset.
	}
	return scanned, false
}
