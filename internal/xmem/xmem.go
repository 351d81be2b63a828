// Package xmem provides the memory-ordering primitives the rest of the
// driver is built on: padded counters that avoid false sharing across cache
// lines, and thin wrappers over atomic load/store that name the intended
// ordering at the call site (acquire/release) even though the Go memory
// model only guarantees sequential consistency for atomic ops.
package xmem

import "sync/atomic"

// CacheLineSize is the assumed cache line size used to pad hot counters so
// that independent producers/consumers never contend on the same line.
const CacheLineSize = 64

// PaddedInt64 is an int64 counter padded to occupy a full cache line. Used
// for ring buffer head/tail counters and position counters that are written
// by one goroutine and read by others.
type PaddedInt64 struct {
	v   atomic.Int64
	_   [CacheLineSize - 8]byte
}

// Load performs an acquire load: it happens-after any release store that
// set the value being observed, and any subsequent read in this goroutine
// happens-after the load.
func (p *PaddedInt64) Load() int64 { return p.v.Load() }

// Store performs a release store: all writes preceding this call in program
// order happen-before any goroutine that later observes this value with
// Load.
func (p *PaddedInt64) Store(val int64) { p.v.Store(val) }

// CompareAndSwap performs an atomic CAS, used by MPSC producers racing to
// claim a tail slot.
func (p *PaddedInt64) CompareAndSwap(old, new int64) bool {
	return p.v.CompareAndSwap(old, new)
}

// Add atomically adds delta and returns the new value.
func (p *PaddedInt64) Add(delta int64) int64 { return p.v.Add(delta) }

// PaddedUint32 is a uint32 counter padded to a full cache line.
type PaddedUint32 struct {
	v atomic.Uint32
	_ [CacheLineSize - 4]byte
}

// Load is an acquire load.
func (p *PaddedUint32) Load() uint32 { return p.v.Load() }

// Store is a release store.
func (p *PaddedUint32) Store(val uint32) { p.v.Store(val) }

// Add atomically adds delta and returns the new value.
func (p *PaddedUint32) Add(delta uint32) uint32 { return p.v.Add(delta) }

// IsPowerOfTwo reports whether n is a positive power of two, the precondition
// for every ring/term buffer capacity in this driver.
func IsPowerOfTwo(n int32) bool {
	return n > 0 && n&(n-1) == 0
}

// AlignTo32 rounds length up to the next multiple of 32, the frame alignment
// boundary used throughout the log-buffer wire format.
func AlignTo32(length int32) int32 {
	const align = 32
	return (length + align - 1) &^ (align - 1)
}

// NumberOfTrailingZeros returns log2(n) for a power-of-two n, used to derive
// position_bits_to_shift from a term length.
func NumberOfTrailingZeros(n int32) int {
	if n <= 0 {
		return 0
	}
	count := 0
	for n&1 == 0 {
		n >>= 1
		count++
	}
	return count
}
