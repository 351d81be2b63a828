package counters

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
)

// LossKey identifies the image a loss observation belongs to.
type LossKey struct {
	SessionID int32
	StreamID  int32
	Channel   string
}

// LossRecord aggregates NAK-driven retransmission activity for one
// image: how many gaps were observed, how many bytes they covered in
// total, and the term/offset of the most recent gap.
type LossRecord struct {
	Key              LossKey
	ObservationCount int64
	TotalBytesLost   int64
	LastTermID       int32
	LastTermOffset   int32
	LastLength       int32
}

// LossReporter aggregates loss observations per image, accumulating by
// identity the same way a per-interface counter snapshot would, but
// keyed by (session, stream, channel) instead of interface name.
type LossReporter struct {
	mu      sync.Mutex
	records map[LossKey]*LossRecord
}

// NewLossReporter constructs an empty LossReporter.
func NewLossReporter() *LossReporter {
	return &LossReporter{records: make(map[LossKey]*LossRecord)}
}

// RecordLoss registers a detected gap of length bytes at (termID,
// termOffset) for the given image.
func (r *LossReporter) RecordLoss(key LossKey, termID, termOffset, length int32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[key]
	if !ok {
		rec = &LossRecord{Key: key}
		r.records[key] = rec
	}
	rec.ObservationCount++
	rec.TotalBytesLost += int64(length)
	rec.LastTermID = termID
	rec.LastTermOffset = termOffset
	rec.LastLength = length
}

// Snapshot returns every retained loss record, sorted by channel then
// stream then session for stable output.
func (r *LossReporter) Snapshot() []LossRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]LossRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Channel != b.Channel {
			return a.Channel < b.Channel
		}
		if a.StreamID != b.StreamID {
			return a.StreamID < b.StreamID
		}
		return a.SessionID < b.SessionID
	})
	return out
}

// Print writes a human-readable summary of every loss record to w.
func Print(w io.Writer, records []LossRecord) error {
	for _, rec := range records {
		_, err := fmt.Fprintf(w, "%s session=%d stream=%d: %d gaps, %s lost (%s bytes), last term=%d offset=%d len=%d\n",
			rec.Key.Channel, rec.Key.SessionID, rec.Key.StreamID,
			rec.ObservationCount,
			humanize.Bytes(uint64(rec.TotalBytesLost)), humanize.Comma(rec.TotalBytesLost),
			rec.LastTermID, rec.LastTermOffset, rec.LastLength,
		)
		if err != nil {
			return err
		}
	}
	return nil
}
