// Package ringbuf implements the lock-free SPSC and MPSC ring buffers and
// the broadcast transmitter that are the driver's only permitted
// inter-thread and inter-process communication primitives.
//
// All three structures share one record layout over a power-of-two byte
// buffer: [length:i32][msgType:i32][payload...], padded to an 8-byte
// boundary. length is written last by the producer with a release store
// and read first by the consumer with an acquire load; a zero length means
// "not yet committed". A negative length is reserved for padding records
// written when a message would straddle the end of the buffer.
package ringbuf

const (
	// RecordAlignment is the byte alignment every record (header + payload)
	// is padded to.
	RecordAlignment = 8

	// HeaderLength is the size in bytes of the [length][msgType] prefix.
	HeaderLength = 8

	// PaddingMsgTypeID marks a record as wrap-padding: consumers skip its
	// payload and continue at the start of the buffer.
	PaddingMsgTypeID int32 = -1
)

// AlignedSize returns length rounded up to RecordAlignment.
func AlignedSize(length int32) int32 {
	return (length + RecordAlignment - 1) &^ (RecordAlignment - 1)
}

func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
