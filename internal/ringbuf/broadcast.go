package ringbuf

import (
	"sync/atomic"
	"unsafe"

	"github.com/flowdriver/flowdriver/internal/xmem"
)

// Broadcast is a single-producer, multi-reader transmitter: the driver
// Conductor uses one to publish client-facing events without ever blocking
// on a slow or absent client. Readers each track their own cursor; a reader
// that falls behind by more than the buffer's capacity is "lapped" and must
// resynchronize from the current tail.
//
// Unlike SPSC/MPSC, Broadcast never reports back-pressure: the producer
// always succeeds, overwriting the oldest records if necessary. Readers
// therefore copy out payload bytes defensively rather than borrowing a
// slice into the buffer, since the producer may overwrite a slot while a
// slow reader is still looking at it.
type Broadcast struct {
	buf      []byte
	capacity int64
	mask     int64

	tail xmem.PaddedInt64
}

// NewBroadcast allocates a broadcast transmitter over a power-of-two byte
// buffer.
func NewBroadcast(capacity int32) *Broadcast {
	return NewBroadcastOver(make([]byte, capacity))
}

// NewBroadcastOver builds a broadcast transmitter over an externally
// supplied byte slice, so the driver's client event broadcast can live in
// an mmap'd cnc.dat region visible to every client process. buf's length
// must be a power of two.
func NewBroadcastOver(buf []byte) *Broadcast {
	capacity := int32(len(buf))
	if !xmem.IsPowerOfTwo(capacity) {
		panic("ringbuf: Broadcast capacity must be a power of two")
	}
	return &Broadcast{
		buf:      buf,
		capacity: int64(capacity),
		mask:     int64(capacity) - 1,
	}
}

// Capacity returns the usable capacity in bytes.
func (b *Broadcast) Capacity() int32 { return int32(b.capacity) }

func (b *Broadcast) ptrAt(pos int64) unsafe.Pointer {
	off := pos & b.mask
	return unsafe.Pointer(&b.buf[off])
}

// Transmit publishes a record. It never blocks and never fails: if the
// record would straddle the end of the buffer a padding record is written
// first, exactly as in SPSC/MPSC.
func (b *Broadcast) Transmit(msgType int32, payload []byte) {
	recordLen := int32(HeaderLength + len(payload))
	aligned := AlignedSize(recordLen)
	if int64(aligned) > b.capacity {
		panic(ErrMessageTooLarge)
	}

	tail := b.tail.Load()
	toEnd := b.capacity - (tail & b.mask)
	if int64(aligned) > toEnd {
		b.writeAt(tail, PaddingMsgTypeID, nil, int32(toEnd))
		tail += toEnd
	}
	b.writeAt(tail, msgType, payload, recordLen)
	b.tail.Store(tail + int64(aligned))
}

// writeAt writes a record (or, for padding, declaredLength with nil
// payload) at pos, publishing the length last.
func (b *Broadcast) writeAt(pos int64, msgType int32, payload []byte, declaredLength int32) {
	base := b.ptrAt(pos)
	if len(payload) > 0 {
		dst := unsafe.Slice((*byte)(unsafe.Add(base, HeaderLength)), len(payload))
		copy(dst, payload)
	}
	msgTypePtr := (*int32)(unsafe.Add(base, 4))
	atomic.StoreInt32(msgTypePtr, msgType)
	lengthPtr := (*int32)(base)
	length := declaredLength
	if msgType == PaddingMsgTypeID {
		length = -declaredLength
	}
	atomic.StoreInt32(lengthPtr, length)
}

// Reader is an independent cursor into a Broadcast buffer.
type Reader struct {
	b      *Broadcast
	cursor int64
}

// NewReader creates a reader starting at the transmitter's current tail: it
// only observes records published after this call.
func (b *Broadcast) NewReader() *Reader {
	return &Reader{b: b, cursor: b.tail.Load()}
}

// Receive attempts to read the next record.
//
// ok is true iff a record was returned. lapped is true iff the reader fell
// more than Capacity() bytes behind the producer; the cursor is reset to
// the current tail in that case, skipping whatever was overwritten.
func (rd *Reader) Receive() (msgType int32, payload []byte, lapped bool, ok bool) {
	for {
		tailBefore := rd.b.tail.Load()
		if rd.cursor >= tailBefore {
			return 0, nil, false, false
		}
		if tailBefore-rd.cursor > rd.b.capacity {
			rd.cursor = tailBefore
			return 0, nil, true, false
		}

		base := rd.b.ptrAt(rd.cursor)
		lengthPtr := (*int32)(base)
		length := atomic.LoadInt32(lengthPtr)
		aligned := AlignedSize(absInt32(length))

		var out []byte
		if length > 0 {
			payloadLen := int(length) - HeaderLength
			if payloadLen > 0 {
				out = make([]byte, payloadLen)
				copy(out, unsafe.Slice((*byte)(unsafe.Add(base, HeaderLength)), payloadLen))
			}
		}
		msgTypePtr := (*int32)(unsafe.Add(base, 4))
		mt := atomic.LoadInt32(msgTypePtr)

		// Re-validate: if the producer lapped us while we were reading, the
		// bytes we just copied may be torn. Discard and resynchronize.
		tailAfter := rd.b.tail.Load()
		if tailAfter-rd.cursor > rd.b.capacity {
			rd.cursor = tailAfter
			return 0, nil, true, false
		}

		rd.cursor += int64(aligned)
		if length < 0 {
			continue // padding record, not user-visible
		}
		return mt, out, false, true
	}
}
