// Package lossdetect implements the receiver-side loss detector and the
// sender-side retransmit handler.
package lossdetect

import (
	"math/rand"
	"time"

	"github.com/flowdriver/flowdriver/internal/logbuffer"
)

// Detector holds per-image loss-detection state: the position it has
// scanned up to, and when that position last changed. It invokes the
// term gap scanner on every work cycle and, once a gap has persisted
// past the loss-check delay, emits exactly one NAK per backoff interval.
type Detector struct {
	scanPosition   int64
	lastChangeTime time.Time
	lossCheckDelay time.Duration

	gap           *logbuffer.Gap
	gapDetectedAt time.Time
	nextNAKAt     time.Time
	backoff       time.Duration
	maxBackoff    time.Duration

	draining bool

	rng *rand.Rand
}

// NewDetector constructs a Detector. lossCheckDelay is how long a gap
// must persist before the first NAK is sent; maxBackoff caps the
// exponential backoff between repeated NAKs for a gap that never gets
// repaired.
func NewDetector(initialPosition int64, lossCheckDelay, maxBackoff time.Duration) *Detector {
	return &Detector{
		scanPosition:   initialPosition,
		lossCheckDelay: lossCheckDelay,
		maxBackoff:     maxBackoff,
		rng:            rand.New(rand.NewSource(initialPosition + 1)),
	}
}

// SetDraining suppresses NAK emission once the image is DRAINING: a
// receiver about to close has no reason to keep asking for repair.
func (d *Detector) SetDraining(draining bool) { d.draining = draining }

// NAK describes a retransmission request the detector wants sent.
type NAK struct {
	TermID int32
	Offset int32
	Length int32
}

// Scan runs the term gap scanner over [scanPosition, hwmOffset) and
// decides whether a NAK should be emitted this cycle.
func (d *Detector) Scan(term []byte, termID int32, hwmOffset int32, now time.Time) (nak *NAK, emit bool) {
	rebuildOffset := int32(d.scanPosition)
	contiguousTo, gap := logbuffer.ScanForGap(term, termID, rebuildOffset, hwmOffset)
	d.scanPosition = int64(contiguousTo)

	if gap == nil {
		d.gap = nil
		return nil, false
	}

	if d.gap == nil || d.gap.Offset != gap.Offset || d.gap.Length != gap.Length {
		d.gap = gap
		d.gapDetectedAt = now
		d.backoff = 0
		d.nextNAKAt = now.Add(d.lossCheckDelay)
		return nil, false
	}

	if d.draining || now.Before(d.nextNAKAt) {
		return nil, false
	}

	d.backoff = nextBackoff(d.backoff, d.maxBackoff, d.rng)
	d.nextNAKAt = now.Add(d.backoff)

	return &NAK{TermID: gap.TermID, Offset: gap.Offset, Length: gap.Length}, true
}

// nextBackoff doubles the previous backoff (starting from a small base)
// and adds up to 25% jitter, capped at maxBackoff.
func nextBackoff(prev, max time.Duration, rng *rand.Rand) time.Duration {
	const base = 10 * time.Millisecond
	next := prev * 2
	if next < base {
		next = base
	}
	if next > max {
		next = max
	}
	jitter := time.Duration(rng.Int63n(int64(next)/4 + 1))
	if next+jitter > max {
		return max
	}
	return next + jitter
}
