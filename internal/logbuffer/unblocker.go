package logbuffer

// UnblockStatus reports the outcome of attempting to unblock a stalled
// term buffer claim.
type UnblockStatus int

const (
	// NoAction means the offset was not in fact blocked (either already
	// committed, or genuinely beyond the current tail).
	NoAction UnblockStatus = iota
	// Unblocked means a padding frame was written over the stalled claim.
	Unblocked
	// UnblockedCaughtUp means unblocking reached the term's tail, so the
	// active term count may now be able to advance.
	UnblockedCaughtUp
)

// Unblock is run by the conductor's liveness check against a publication
// that has claimed space (advanced the tail) but not yet published
// frame_length at that offset within the unblock timeout — typically
// because the claiming client died mid-write. It writes a padding frame
// from blockedOffset up to the first already-committed frame before
// tailOffset (or up to tailOffset when there is none) so receivers and
// the scanner are not stuck waiting on a frame that will never arrive.
func Unblock(term []byte, blockedOffset, tailOffset, termID int32) UnblockStatus {
	if FrameLength(term, blockedOffset) != 0 {
		return NoAction
	}

	offset := blockedOffset
	for offset < tailOffset {
		length := FrameLength(term, offset)
		if length != 0 {
			// A later frame is already committed (out-of-order claim
			// completion); the gap in between is what actually needs filling.
			break
		}
		offset += FrameAlignment
	}

	gapLength := offset - blockedOffset
	if gapLength <= 0 {
		return NoAction
	}

	PutDataHeader(term, blockedOffset, Header{
		FrameLength: gapLength,
		Version:     FrameVersion,
		Flags:       FlagUnfragmented,
		Type:        FrameTypePad,
		TermOffset:  blockedOffset,
		TermID:      termID,
	}, 0)

	if offset >= tailOffset {
		return UnblockedCaughtUp
	}
	return Unblocked
}
