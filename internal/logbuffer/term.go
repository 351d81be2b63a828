package logbuffer

import (
	"sync/atomic"
	"unsafe"
)

// MetadataLength is the size in bytes of the log metadata region that
// follows the three term partitions in a log buffer file.
// Sized to a page so mmap alignment is trivial.
const MetadataLength = 4096

// UnsetPosition marks a log buffer's end-of-stream position as not yet
// known.
const UnsetPosition int64 = -1

const (
	cacheLine = 64

	metaTailCounters        = 0                             // 3 * cacheLine, one per partition
	metaActiveTermCountOff  = 3 * cacheLine                  // int32 (padded)
	metaInitialTermIDOff    = metaActiveTermCountOff + 8     // int32
	metaMTULengthOff        = metaInitialTermIDOff + 8       // int32
	metaTermLengthOff       = metaMTULengthOff + 8           // int32
	metaPageSizeOff         = metaTermLengthOff + 8          // int32
	metaEndOfStreamOff      = metaPageSizeOff + 8            // int64
	metaDefaultHeaderOff    = metaEndOfStreamOff + 64        // DataHeaderLength bytes, 64 bytes past the EOS field
)

// Metadata is a view over a log buffer's metadata region: active term
// index, initial term id, mtu/term length, page size, per-partition tail
// counters, the default frame header template, and the end-of-stream
// position.
type Metadata struct {
	buf []byte
}

// NewMetadata wraps an existing (mmap'd or plain) byte slice of at least
// MetadataLength bytes as a Metadata view.
func NewMetadata(buf []byte) *Metadata {
	if len(buf) < MetadataLength {
		panic("logbuffer: metadata buffer too small")
	}
	return &Metadata{buf: buf}
}

func (m *Metadata) int64At(off int) *int64 {
	return (*int64)(unsafe.Pointer(&m.buf[off]))
}

func (m *Metadata) int32At(off int) *int32 {
	return (*int32)(unsafe.Pointer(&m.buf[off]))
}

// PackTail combines a term id and term offset into the raw tail value
// stored per partition. termOffset may temporarily exceed the term length
// when producers over-claim past the end (the overclaiming producer is
// responsible for writing the resulting padding frame).
func PackTail(termID, termOffset int32) int64 {
	return int64(termID)<<32 | int64(uint32(termOffset))
}

// UnpackTermID extracts the term id from a raw tail value.
func UnpackTermID(raw int64) int32 { return int32(raw >> 32) }

// UnpackTermOffset extracts the term offset from a raw tail value.
func UnpackTermOffset(raw int64) int32 { return int32(uint32(raw)) }

// RawTail performs an acquire load of partition index's raw tail value.
func (m *Metadata) RawTail(partitionIndex int32) int64 {
	ptr := m.int64At(metaTailCounters + int(partitionIndex)*cacheLine)
	return atomic.LoadInt64((*int64)(unsafe.Pointer(ptr)))
}

// CompareAndSetRawTail CASes the raw tail value, the mechanism producers
// use to claim term space.
func (m *Metadata) CompareAndSetRawTail(partitionIndex int32, expected, update int64) bool {
	ptr := m.int64At(metaTailCounters + int(partitionIndex)*cacheLine)
	return atomic.CompareAndSwapInt64(ptr, expected, update)
}

// SetRawTailOrdered publishes a new raw tail value (release store), used
// when rotating to a fresh term (resetting tail to the new term id with
// offset zero).
func (m *Metadata) SetRawTailOrdered(partitionIndex int32, value int64) {
	ptr := m.int64At(metaTailCounters + int(partitionIndex)*cacheLine)
	atomic.StoreInt64(ptr, value)
}

// ActiveTermCount performs an acquire load of the monotonically increasing
// count of term rotations since the initial term.
func (m *Metadata) ActiveTermCount() int32 {
	return atomic.LoadInt32(m.int32At(metaActiveTermCountOff))
}

// CompareAndSetActiveTermCount CASes the active term count, used by the
// single writer that rotates the active partition.
func (m *Metadata) CompareAndSetActiveTermCount(expected, update int32) bool {
	return atomic.CompareAndSwapInt32(m.int32At(metaActiveTermCountOff), expected, update)
}

// InitialTermID returns the term id the stream began at. Set once at
// creation, before the log buffer is shared with any other agent.
func (m *Metadata) InitialTermID() int32 { return *m.int32At(metaInitialTermIDOff) }

// SetInitialTermID sets the initial term id. Must only be called during
// log buffer creation, before any other agent observes the buffer.
func (m *Metadata) SetInitialTermID(v int32) { *m.int32At(metaInitialTermIDOff) = v }

// MTULength returns the configured MTU length.
func (m *Metadata) MTULength() int32 { return *m.int32At(metaMTULengthOff) }

// SetMTULength sets the configured MTU length.
func (m *Metadata) SetMTULength(v int32) { *m.int32At(metaMTULengthOff) = v }

// TermLength returns the configured term buffer length.
func (m *Metadata) TermLength() int32 { return *m.int32At(metaTermLengthOff) }

// SetTermLength sets the configured term buffer length.
func (m *Metadata) SetTermLength(v int32) { *m.int32At(metaTermLengthOff) = v }

// PageSize returns the configured page size used for mmap alignment.
func (m *Metadata) PageSize() int32 { return *m.int32At(metaPageSizeOff) }

// SetPageSize sets the configured page size.
func (m *Metadata) SetPageSize(v int32) { *m.int32At(metaPageSizeOff) = v }

// EndOfStreamPosition performs an acquire load of the end-of-stream
// position, or UnsetPosition if EOS has not been reached.
func (m *Metadata) EndOfStreamPosition() int64 {
	return atomic.LoadInt64(m.int64At(metaEndOfStreamOff))
}

// SetEndOfStreamPositionOrdered publishes the end-of-stream position
// (release store).
func (m *Metadata) SetEndOfStreamPositionOrdered(pos int64) {
	atomic.StoreInt64(m.int64At(metaEndOfStreamOff), pos)
}

// DefaultFrameHeader returns the stored default frame header template
// (DataHeaderLength bytes), copied into every new frame claim before the
// caller overwrites the per-frame fields.
func (m *Metadata) DefaultFrameHeader() []byte {
	return m.buf[metaDefaultHeaderOff : metaDefaultHeaderOff+DataHeaderLength]
}

// SetDefaultFrameHeader stores the default frame header template.
func (m *Metadata) SetDefaultFrameHeader(header []byte) {
	copy(m.buf[metaDefaultHeaderOff:metaDefaultHeaderOff+DataHeaderLength], header)
}

// LogBuffer is a full log buffer: three term partitions plus metadata,
// mapped either from a real file (client/driver shared memory) or a plain
// byte slice (IPC publications and tests).
type LogBuffer struct {
	Terms [PartitionCount][]byte
	Meta  *Metadata
}

// NewLogBuffer constructs a LogBuffer view over already-allocated term
// partitions and a metadata region.
func NewLogBuffer(terms [PartitionCount][]byte, meta *Metadata) *LogBuffer {
	return &LogBuffer{Terms: terms, Meta: meta}
}

// ActivePartitionIndex returns the partition index currently being written
// to, derived from the active term count: the active partition is
// term_id mod 3.
func (lb *LogBuffer) ActivePartitionIndex() int32 {
	return ComputeTermIndex(lb.Meta.InitialTermID() + lb.Meta.ActiveTermCount())
}
