package counters

import (
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/rs/zerolog"
)

// ErrorEntry is one distinct observed error: a description string and
// the window of time it has recurred in.
type ErrorEntry struct {
	Description           string
	ObservationCount       int64
	FirstObservationMillis int64
	LastObservationMillis  int64
}

// DistinctErrorLog deduplicates error descriptions the conductor
// encounters (malformed frames, rejected channel URIs, resource
// exhaustion) so a client polling the driver's error log sees one entry
// per distinct failure with a count, rather than a flood of repeats.
//
// A sliding-window rate limiter guards how often a genuinely new
// distinct error is allowed to also be written to the structured log, so
// a burst of many distinct malformed frames from a hostile or buggy peer
// can't itself become a logging denial of service.
type DistinctErrorLog struct {
	mu       sync.Mutex
	entries  map[string]*ErrorEntry
	order    []string
	limiter  *catrate.Limiter
	logger   zerolog.Logger
	maxLines int
}

// NewDistinctErrorLog constructs a DistinctErrorLog that logs at most 5
// newly observed distinct errors per second (50 per minute), retaining at
// most maxLines distinct entries before evicting the oldest.
func NewDistinctErrorLog(logger zerolog.Logger, maxLines int) *DistinctErrorLog {
	return &DistinctErrorLog{
		entries: make(map[string]*ErrorEntry),
		limiter: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 5,
			time.Minute: 50,
		}),
		logger:   logger,
		maxLines: maxLines,
	}
}

// Record registers one occurrence of description, logging it at error
// level if it is new and the rate limiter hasn't suppressed logging.
func (l *DistinctErrorLog) Record(description string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UnixMilli()
	entry, exists := l.entries[description]
	if !exists {
		if len(l.entries) >= l.maxLines {
			l.evictOldestLocked()
		}
		entry = &ErrorEntry{Description: description, FirstObservationMillis: now}
		l.entries[description] = entry
		l.order = append(l.order, description)

		if _, allowed := l.limiter.Allow("distinct-error"); allowed {
			l.logger.Error().Str("error", description).Msg("distinct error recorded")
		}
	}
	entry.ObservationCount++
	entry.LastObservationMillis = now
}

func (l *DistinctErrorLog) evictOldestLocked() {
	if len(l.order) == 0 {
		return
	}
	oldest := l.order[0]
	l.order = l.order[1:]
	delete(l.entries, oldest)
}

// Entries returns a snapshot of every currently retained distinct error,
// ordered from oldest to most recently first-observed.
func (l *DistinctErrorLog) Entries() []ErrorEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]ErrorEntry, 0, len(l.order))
	for _, desc := range l.order {
		out = append(out, *l.entries[desc])
	}
	return out
}
