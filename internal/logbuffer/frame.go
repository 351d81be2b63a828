// Package logbuffer implements the on-wire-compatible in-memory stream
// format: frame headers, term buffers, positions, and the pure term
// operations (scan/rebuild/gap-scan/unblock/gap-fill).
package logbuffer

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// Frame type identifiers.
const (
	FrameTypePad   int32 = 0x00
	FrameTypeData  int32 = 0x01
	FrameTypeNAK   int32 = 0x02
	FrameTypeSM    int32 = 0x03
	FrameTypeErr   int32 = 0x04
	FrameTypeSetup int32 = 0x05
	FrameTypeRTTM  int32 = 0x06
)

// Frame header flags.
const (
	FlagBegin byte = 0x80
	FlagEnd   byte = 0x40
	// FlagUnfragmented is set on a frame that is both the first and last
	// fragment of its message.
	FlagUnfragmented = FlagBegin | FlagEnd
)

// FrameAlignment is the byte boundary every frame is aligned to.
const FrameAlignment = 32

// HeaderLength is the size in bytes of the common frame header shared by
// every frame type (frame_length, version, flags, type, term_offset,
// session_id, stream_id, term_id) — 24 bytes, padded by type-specific
// fields up to FrameAlignment for DATA/PAD frames.
const HeaderLength = 24

// DataHeaderLength is the total header length of a DATA/PAD frame,
// including the reserved_value tail field, aligned to 32 bytes.
const DataHeaderLength = 32

// Header field byte offsets, common to every frame type.
const (
	offFrameLength = 0
	offVersion     = 4
	offFlags       = 5
	offType        = 6 // 2 bytes, even though the type set fits a byte
	offTermOffset  = 8
	offSessionID   = 12
	offStreamID    = 16
	offTermID      = 20
	// DATA/PAD tail.
	offReservedValue = 24
)

// FrameVersion is the only wire version this driver speaks.
const FrameVersion byte = 0

// AlignFrame rounds length up to FrameAlignment.
func AlignFrame(length int32) int32 {
	return (length + FrameAlignment - 1) &^ (FrameAlignment - 1)
}

// FrameLength reads the frame_length field with an acquire load: a
// consumer must observe this before it is safe to read the rest of the
// frame, since the producer writes frame_length last.
func FrameLength(buf []byte, termOffset int32) int32 {
	ptr := (*int32)(unsafe.Pointer(&buf[termOffset+offFrameLength]))
	return atomic.LoadInt32(ptr)
}

// SetFrameLengthOrdered publishes frame_length with a release store. Must
// be the last field written for a frame.
func SetFrameLengthOrdered(buf []byte, termOffset, length int32) {
	ptr := (*int32)(unsafe.Pointer(&buf[termOffset+offFrameLength]))
	atomic.StoreInt32(ptr, length)
}

// FrameType reads the frame type field (plain load; only frame_length
// requires ordering).
func FrameType(buf []byte, termOffset int32) int32 {
	return int32(binary.LittleEndian.Uint16(buf[termOffset+offType:]))
}

func setFrameType(buf []byte, termOffset int32, t int32) {
	binary.LittleEndian.PutUint16(buf[termOffset+offType:], uint16(t))
}

// FrameFlags reads the BEGIN/END flag byte.
func FrameFlags(buf []byte, termOffset int32) byte {
	return buf[termOffset+offFlags]
}

func setFrameFlags(buf []byte, termOffset int32, flags byte) {
	buf[termOffset+offFlags] = flags
}

// TermOffsetField reads the frame's own self-described term_offset.
func TermOffsetField(buf []byte, termOffset int32) int32 {
	return int32(binary.LittleEndian.Uint32(buf[termOffset+offTermOffset:]))
}

// SessionID reads the frame's session id field.
func SessionID(buf []byte, termOffset int32) int32 {
	return int32(binary.LittleEndian.Uint32(buf[termOffset+offSessionID:]))
}

// StreamID reads the frame's stream id field.
func StreamID(buf []byte, termOffset int32) int32 {
	return int32(binary.LittleEndian.Uint32(buf[termOffset+offStreamID:]))
}

// TermID reads the frame's term id field.
func TermID(buf []byte, termOffset int32) int32 {
	return int32(binary.LittleEndian.Uint32(buf[termOffset+offTermID:]))
}

// Header is a parsed view of a frame's fixed header fields, used by
// callers that build or inspect frames outside of the term buffer itself
// (e.g. assembling a wire datagram or a SETUP/SM/NAK/RTTM control frame).
type Header struct {
	FrameLength int32
	Version     byte
	Flags       byte
	Type        int32
	TermOffset  int32
	SessionID   int32
	StreamID    int32
	TermID      int32
}

// PutDataHeader writes a DATA/PAD frame header (through reserved_value)
// into buf at termOffset. frameLength is written last.
func PutDataHeader(buf []byte, termOffset int32, h Header, reservedValue int64) {
	base := buf[termOffset:]
	base[offVersion] = h.Version
	base[offFlags] = h.Flags
	binary.LittleEndian.PutUint16(base[offType:], uint16(h.Type))
	binary.LittleEndian.PutUint32(base[offTermOffset:], uint32(h.TermOffset))
	binary.LittleEndian.PutUint32(base[offSessionID:], uint32(h.SessionID))
	binary.LittleEndian.PutUint32(base[offStreamID:], uint32(h.StreamID))
	binary.LittleEndian.PutUint32(base[offTermID:], uint32(h.TermID))
	binary.LittleEndian.PutUint64(base[offReservedValue:], uint64(reservedValue))
	SetFrameLengthOrdered(buf, termOffset, h.FrameLength)
}

// ReadHeader parses the common header fields at termOffset. It does not
// perform the acquire load on frame_length; callers that need the
// happens-before guarantee should call FrameLength separately before
// trusting the frame body.
func ReadHeader(buf []byte, termOffset int32) Header {
	base := buf[termOffset:]
	return Header{
		FrameLength: int32(binary.LittleEndian.Uint32(base[offFrameLength:])),
		Version:     base[offVersion],
		Flags:       base[offFlags],
		Type:        int32(binary.LittleEndian.Uint16(base[offType:])),
		TermOffset:  int32(binary.LittleEndian.Uint32(base[offTermOffset:])),
		SessionID:   int32(binary.LittleEndian.Uint32(base[offSessionID:])),
		StreamID:    int32(binary.LittleEndian.Uint32(base[offStreamID:])),
		TermID:      int32(binary.LittleEndian.Uint32(base[offTermID:])),
	}
}
