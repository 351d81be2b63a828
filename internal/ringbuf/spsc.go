package ringbuf

import (
	"errors"
	"sync/atomic"
	"unsafe"

	"github.com/flowdriver/flowdriver/internal/xmem"
)

// ErrMessageTooLarge is returned when a message cannot fit even in an empty
// buffer.
var ErrMessageTooLarge = errors.New("ringbuf: message too large for buffer")

// SPSC is a single-producer/single-consumer ring buffer over a power-of-two
// byte buffer. The driver's client-facing command path is MPSC (any
// client process may submit a command); a per-client response channel or
// a single client's own local queue is the natural SPSC user.
//
// Exactly one goroutine may call Write; exactly one (possibly different)
// goroutine may call Read. Both may run concurrently with each other.
type SPSC struct {
	buf      []byte
	capacity int64
	mask     int64

	tail xmem.PaddedInt64 // next byte offset the producer will claim
	head xmem.PaddedInt64 // next byte offset the consumer will read
}

// NewSPSC allocates an SPSC ring buffer of the given capacity, which must be
// a power of two.
func NewSPSC(capacity int32) *SPSC {
	if !xmem.IsPowerOfTwo(capacity) {
		panic("ringbuf: SPSC capacity must be a power of two")
	}
	return &SPSC{
		buf:      make([]byte, capacity),
		capacity: int64(capacity),
		mask:     int64(capacity) - 1,
	}
}

// Capacity returns the usable capacity in bytes.
func (r *SPSC) Capacity() int32 { return int32(r.capacity) }

func (r *SPSC) ptrAt(pos int64) unsafe.Pointer {
	off := pos & r.mask
	return unsafe.Pointer(&r.buf[off])
}

// Write appends a record of the given message type and payload. It returns
// false if there is not enough free space for the record (callers should
// back off, e.g. via an idle strategy, and retry).
func (r *SPSC) Write(msgType int32, payload []byte) bool {
	recordLen := int32(HeaderLength + len(payload))
	aligned := AlignedSize(recordLen)
	if int64(aligned) > r.capacity {
		panic(ErrMessageTooLarge)
	}

	tail := r.tail.Load()
	head := r.head.Load()
	used := tail - head

	toEnd := r.capacity - (tail & r.mask)
	wraps := int64(aligned) > toEnd
	needed := int64(aligned)
	if wraps {
		// Would straddle the end; the gap is filled with a padding record.
		needed += toEnd
	}

	if used+needed > r.capacity {
		return false
	}

	if wraps {
		r.writePaddingAt(tail, int32(toEnd))
		tail += toEnd
	}

	r.writeRecordAt(tail, msgType, payload)
	r.tail.Store(tail + int64(aligned))
	return true
}

func (r *SPSC) writePaddingAt(pos int64, length int32) {
	base := r.ptrAt(pos)
	msgTypePtr := (*int32)(unsafe.Add(base, 4))
	atomic.StoreInt32(msgTypePtr, PaddingMsgTypeID)
	lengthPtr := (*int32)(base)
	atomic.StoreInt32(lengthPtr, -length)
}

func (r *SPSC) writeRecordAt(pos int64, msgType int32, payload []byte) {
	base := r.ptrAt(pos)
	hdr := (*[HeaderLength]byte)(base)[:]
	if len(payload) > 0 {
		body := unsafe.Add(base, HeaderLength)
		dst := unsafe.Slice((*byte)(body), len(payload))
		copy(dst, payload)
	}
	// Length is written last (release store) so a consumer that observes a
	// non-zero length has also observed the payload bytes written above.
	msgTypePtr := (*int32)(unsafe.Pointer(&hdr[4]))
	atomic.StoreInt32(msgTypePtr, msgType)
	lengthPtr := (*int32)(unsafe.Pointer(&hdr[0]))
	atomic.StoreInt32(lengthPtr, int32(HeaderLength+len(payload)))
}

// Handler processes one dequeued record, given its message type and
// payload bytes.
type Handler func(msgType int32, payload []byte)

// Read drains all currently-committed records, invoking fn for each in
// order. It returns the number of records processed. Read never blocks: if
// no records are committed it returns 0 immediately.
func (r *SPSC) Read(fn Handler) int {
	head := r.head.Load()
	tail := r.tail.Load()
	bytesAvailable := tail - head
	count := 0

	for bytesAvailable > 0 {
		base := r.ptrAt(head)
		lengthPtr := (*int32)(base)
		length := atomic.LoadInt32(lengthPtr) // acquire
		if length == 0 {
			// Not yet committed; single retry semantics: stop here, the
			// producer will complete the write shortly.
			break
		}

		aligned := AlignedSize(absInt32(length))
		if length < 0 {
			// Padding record: skip without invoking fn.
			head += int64(aligned)
			bytesAvailable -= int64(aligned)
			continue
		}

		msgTypePtr := (*int32)(unsafe.Add(base, 4))
		msgType := atomic.LoadInt32(msgTypePtr)
		payloadLen := int(length) - HeaderLength
		var payload []byte
		if payloadLen > 0 {
			payload = unsafe.Slice((*byte)(unsafe.Add(base, HeaderLength)), payloadLen)
		}
		fn(msgType, payload)

		head += int64(aligned)
		bytesAvailable -= int64(aligned)
		count++
	}

	if count > 0 || head != r.head.Load() {
		r.head.Store(head)
	}
	return count
}
