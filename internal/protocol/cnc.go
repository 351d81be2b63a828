package protocol

import (
	"encoding/binary"
	"fmt"
)

// CnCMagic identifies a valid cnc.dat file.
const CnCMagic uint32 = 0x464c4443 // "FLDC"

// CnCVersion is the only cnc.dat layout version this driver writes or
// reads.
const CnCVersion int32 = 1

// CnCHeaderLength is the size in bytes of the fixed cnc.dat header that
// precedes the command ring, broadcast ring, counters metadata/values,
// and distinct-error-log regions.
const CnCHeaderLength = 128

const (
	cncOffMagic               = 0
	cncOffVersion             = 4
	cncOffFileLength          = 8
	cncOffCommandRingLength   = 16
	cncOffBroadcastLength     = 24
	cncOffCounterMetaLength   = 32
	cncOffCounterValuesLength = 40
	cncOffClientLivenessNanos = 48
	cncOffStartTimestampMs    = 56
	cncOffDriverPID           = 64
)

// CnCHeader is the parsed form of a cnc.dat file's fixed header.
type CnCHeader struct {
	Version             int32
	FileLength          int64
	CommandRingLength   int64
	BroadcastLength     int64
	CounterMetaLength   int64
	CounterValuesLength int64
	ClientLivenessNanos int64
	StartTimestampMs    int64
	DriverPID           int64
}

// PutCnCHeader writes h into buf (which must be at least CnCHeaderLength
// bytes), with the magic number written last so a concurrently-mapping
// client can treat its presence as the ready signal.
func PutCnCHeader(buf []byte, h CnCHeader) {
	binary.LittleEndian.PutUint32(buf[cncOffVersion:], uint32(h.Version))
	binary.LittleEndian.PutUint64(buf[cncOffFileLength:], uint64(h.FileLength))
	binary.LittleEndian.PutUint64(buf[cncOffCommandRingLength:], uint64(h.CommandRingLength))
	binary.LittleEndian.PutUint64(buf[cncOffBroadcastLength:], uint64(h.BroadcastLength))
	binary.LittleEndian.PutUint64(buf[cncOffCounterMetaLength:], uint64(h.CounterMetaLength))
	binary.LittleEndian.PutUint64(buf[cncOffCounterValuesLength:], uint64(h.CounterValuesLength))
	binary.LittleEndian.PutUint64(buf[cncOffClientLivenessNanos:], uint64(h.ClientLivenessNanos))
	binary.LittleEndian.PutUint64(buf[cncOffStartTimestampMs:], uint64(h.StartTimestampMs))
	binary.LittleEndian.PutUint64(buf[cncOffDriverPID:], uint64(h.DriverPID))
	binary.LittleEndian.PutUint32(buf[cncOffMagic:], CnCMagic)
}

// ReadCnCHeader parses a cnc.dat header, failing if the magic number is
// absent or the version is unsupported.
func ReadCnCHeader(buf []byte) (CnCHeader, error) {
	if len(buf) < CnCHeaderLength {
		return CnCHeader{}, fmt.Errorf("protocol: cnc header buffer too small: %d bytes", len(buf))
	}
	if magic := binary.LittleEndian.Uint32(buf[cncOffMagic:]); magic != CnCMagic {
		return CnCHeader{}, fmt.Errorf("protocol: bad cnc magic %#x", magic)
	}
	version := int32(binary.LittleEndian.Uint32(buf[cncOffVersion:]))
	if version != CnCVersion {
		return CnCHeader{}, fmt.Errorf("protocol: unsupported cnc version %d", version)
	}
	return CnCHeader{
		Version:             version,
		FileLength:          int64(binary.LittleEndian.Uint64(buf[cncOffFileLength:])),
		CommandRingLength:   int64(binary.LittleEndian.Uint64(buf[cncOffCommandRingLength:])),
		BroadcastLength:     int64(binary.LittleEndian.Uint64(buf[cncOffBroadcastLength:])),
		CounterMetaLength:   int64(binary.LittleEndian.Uint64(buf[cncOffCounterMetaLength:])),
		CounterValuesLength: int64(binary.LittleEndian.Uint64(buf[cncOffCounterValuesLength:])),
		ClientLivenessNanos: int64(binary.LittleEndian.Uint64(buf[cncOffClientLivenessNanos:])),
		StartTimestampMs:    int64(binary.LittleEndian.Uint64(buf[cncOffStartTimestampMs:])),
		DriverPID:           int64(binary.LittleEndian.Uint64(buf[cncOffDriverPID:])),
	}, nil
}

// Layout describes the byte ranges of every region within a cnc.dat
// file, computed from a header so callers can slice the mapped file
// without re-deriving offsets.
type Layout struct {
	CommandRing    [2]int64 // [start, end)
	BroadcastRing  [2]int64
	CounterMeta    [2]int64
	CounterValues  [2]int64
	DistinctErrors [2]int64
}

// ComputeLayout derives region offsets from a header, placing the
// distinct-error-log buffer in whatever space remains up to FileLength.
func ComputeLayout(h CnCHeader) Layout {
	var l Layout
	offset := int64(CnCHeaderLength)

	l.CommandRing = [2]int64{offset, offset + h.CommandRingLength}
	offset = l.CommandRing[1]

	l.BroadcastRing = [2]int64{offset, offset + h.BroadcastLength}
	offset = l.BroadcastRing[1]

	l.CounterMeta = [2]int64{offset, offset + h.CounterMetaLength}
	offset = l.CounterMeta[1]

	l.CounterValues = [2]int64{offset, offset + h.CounterValuesLength}
	offset = l.CounterValues[1]

	l.DistinctErrors = [2]int64{offset, h.FileLength}
	return l
}
