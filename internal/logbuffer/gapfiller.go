package logbuffer

// FillGap writes a padding frame over a gap that cannot be repaired by
// retransmission — the IPC publication path has no sender to NAK, so a
// gap left by an unblocked claim is instead patched directly into the
// term buffer.
func FillGap(term []byte, gap Gap) {
	PutDataHeader(term, gap.Offset, Header{
		FrameLength: gap.Length,
		Version:     FrameVersion,
		Flags:       FlagUnfragmented,
		Type:        FrameTypePad,
		TermOffset:  gap.Offset,
		TermID:      gap.TermID,
	}, 0)
}
