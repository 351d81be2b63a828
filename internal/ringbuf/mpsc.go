package ringbuf

import (
	"sync/atomic"
	"unsafe"

	"github.com/flowdriver/flowdriver/internal/xmem"
)

// claimedLength marks a slot that has been claimed (tail advanced past
// it) but whose body has not yet been written; readers treat it exactly
// like an uncommitted (zero-length) slot and stop.
const claimedLength int32 = 0

// MPSC is a multi-producer/single-consumer ring buffer, used for the
// driver's client command ring: any number of client processes may submit
// commands concurrently; the Conductor is the sole consumer.
//
// Producers claim space with a CAS loop on tail instead of a plain load+
// store, and cooperate on writing the wrap-padding record when a claim
// straddles the end of the buffer.
type MPSC struct {
	buf      []byte
	capacity int64
	mask     int64

	tail xmem.PaddedInt64 // highest claimed offset (CAS target)
	head xmem.PaddedInt64 // consumer-owned next read position
}

// NewMPSC allocates an MPSC ring buffer of the given capacity, which must be
// a power of two.
func NewMPSC(capacity int32) *MPSC {
	return NewMPSCOver(make([]byte, capacity))
}

// NewMPSCOver builds an MPSC ring buffer over an externally-supplied byte
// slice rather than a heap allocation, so the driver's client command ring
// can live in an mmap'd cnc.dat region shared with client processes instead
// of process-local memory. buf's length must be a power of two.
func NewMPSCOver(buf []byte) *MPSC {
	capacity := int32(len(buf))
	if !xmem.IsPowerOfTwo(capacity) {
		panic("ringbuf: MPSC capacity must be a power of two")
	}
	return &MPSC{
		buf:      buf,
		capacity: int64(capacity),
		mask:     int64(capacity) - 1,
	}
}

// Capacity returns the usable capacity in bytes.
func (r *MPSC) Capacity() int32 { return int32(r.capacity) }

func (r *MPSC) ptrAt(pos int64) unsafe.Pointer {
	off := pos & r.mask
	return unsafe.Pointer(&r.buf[off])
}

// Write claims space and writes a record. Returns false if there is
// insufficient space; the caller should back off and retry.
func (r *MPSC) Write(msgType int32, payload []byte) bool {
	recordLen := int32(HeaderLength + len(payload))
	aligned := AlignedSize(recordLen)
	if int64(aligned) > r.capacity {
		panic(ErrMessageTooLarge)
	}

	for {
		tail := r.tail.Load()
		head := r.head.Load()
		used := tail - head

		toEnd := r.capacity - (tail & r.mask)
		wraps := int64(aligned) > toEnd
		needed := int64(aligned)
		if wraps {
			needed += toEnd
		}

		if used+needed > r.capacity {
			return false
		}

		newTail := tail + needed
		if !r.tail.CompareAndSwap(tail, newTail) {
			continue // lost the race; another producer advanced tail, retry
		}

		// We own [tail, newTail). If wrapping, write the padding record
		// ourselves (the CAS makes us the sole owner of that range) before
		// writing the real record at the wrapped position.
		writeAt := tail
		if wraps {
			r.writeClaimedPadding(tail, int32(toEnd))
			writeAt = tail + toEnd
		}
		r.writeRecordAt(writeAt, msgType, payload)
		return true
	}
}

// writeClaimedPadding writes a padding record into a range this producer
// has exclusively claimed via CAS on tail.
func (r *MPSC) writeClaimedPadding(pos int64, length int32) {
	base := r.ptrAt(pos)
	msgTypePtr := (*int32)(unsafe.Add(base, 4))
	atomic.StoreInt32(msgTypePtr, PaddingMsgTypeID)
	lengthPtr := (*int32)(base)
	atomic.StoreInt32(lengthPtr, -length)
}

func (r *MPSC) writeRecordAt(pos int64, msgType int32, payload []byte) {
	base := r.ptrAt(pos)
	if len(payload) > 0 {
		body := unsafe.Add(base, HeaderLength)
		dst := unsafe.Slice((*byte)(body), len(payload))
		copy(dst, payload)
	}
	msgTypePtr := (*int32)(unsafe.Add(base, 4))
	atomic.StoreInt32(msgTypePtr, msgType)
	lengthPtr := (*int32)(base)
	atomic.StoreInt32(lengthPtr, int32(HeaderLength+len(payload)))
}

// Read drains all currently-committed records in FIFO claim order, invoking
// fn for each. It returns the number of records processed.
//
// Because producers claim tail before writing the body, a consumer can
// observe a claimed-but-not-yet-written slot (length still zero); Read
// stops at the first such gap rather than spinning, matching the ring
// buffer's single-retry contract. The remaining records
// become visible on a subsequent Read once the slow producer finishes.
func (r *MPSC) Read(fn Handler) int {
	head := r.head.Load()
	tail := r.tail.Load()
	bytesAvailable := tail - head
	count := 0

	for bytesAvailable > 0 {
		base := r.ptrAt(head)
		lengthPtr := (*int32)(base)
		length := atomic.LoadInt32(lengthPtr)
		if length == claimedLength {
			break
		}

		aligned := AlignedSize(absInt32(length))
		if length < 0 {
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

	if count > 0 {
		r.head.Store(head)
	}
	return count
}
