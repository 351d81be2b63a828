package logbuffer

// Insert copies a received frame into a receiver's term buffer at
// termOffset, idempotently: if a frame is already committed at that
// offset (a duplicate, retransmitted or re-ordered delivery) the buffer is
// left untouched and Insert reports false.
//
// frame_length is published last so a concurrent scan of the same buffer
// never observes a partially written frame.
func Insert(destTerm []byte, termOffset int32, frame []byte) bool {
	if FrameLength(destTerm, termOffset) != 0 {
		return false
	}
	length := int32(len(frame))
	copy(destTerm[termOffset:termOffset+length], frame)
	SetFrameLengthOrdered(destTerm, termOffset, length)
	return true
}
