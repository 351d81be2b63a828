package lossdetect

import "time"

// RetransmitState is the lifecycle of one retransmit handler entry.
type RetransmitState int

const (
	Pending RetransmitState = iota
	Active
)

// RetransmitKey identifies a retransmission request uniquely.
type RetransmitKey struct {
	TermID int32
	Offset int32
	Length int32
}

type retransmitEntry struct {
	state      RetransmitState
	delayUntil time.Time
	activeUntil time.Time
}

// RetransmitHandler is the sender-side bounded map from (term_id,
// offset, length) to retransmission state. Capacity is
// fixed at construction; NAKs received while at capacity are counted and
// dropped rather than evicting an in-flight entry.
type RetransmitHandler struct {
	maxConcurrent  int
	retransmitDelay time.Duration
	linger         time.Duration

	entries map[RetransmitKey]*retransmitEntry
	dropped int64
}

// NewRetransmitHandler constructs a RetransmitHandler.
func NewRetransmitHandler(maxConcurrent int, retransmitDelay, linger time.Duration) *RetransmitHandler {
	return &RetransmitHandler{
		maxConcurrent:   maxConcurrent,
		retransmitDelay: retransmitDelay,
		linger:          linger,
		entries:         make(map[RetransmitKey]*retransmitEntry),
	}
}

// OnNAK registers a NAK receipt. Duplicate NAKs for an entry already
// tracked (pending or active) are dropped silently (no-op); a brand new
// key is admitted only if there is spare capacity, otherwise it is
// counted and dropped.
func (h *RetransmitHandler) OnNAK(key RetransmitKey, now time.Time) {
	if e, ok := h.entries[key]; ok {
		// Duplicate NAK while active or lingering: drop. A duplicate while
		// still pending/delayed just means the receiver asked again before
		// the existing entry has had a chance to act; leave it alone too.
		_ = e
		return
	}

	if len(h.entries) >= h.maxConcurrent {
		h.dropped++
		return
	}

	h.entries[key] = &retransmitEntry{
		state:      Pending,
		delayUntil: now.Add(h.retransmitDelay),
	}
}

// RetransmitRequest is a range the sender should re-scan and resend.
type RetransmitRequest struct {
	Key RetransmitKey
}

// Tick advances every entry's state machine and returns the set of
// entries that should be (re-)sent this cycle: an entry fires exactly
// once, the moment its delay elapses and it moves Pending->Active. It is
// then removed once its active_until (now-of-activation plus linger) has
// passed.
func (h *RetransmitHandler) Tick(now time.Time) []RetransmitRequest {
	var due []RetransmitRequest
	for key, e := range h.entries {
		switch e.state {
		case Pending:
			if !now.Before(e.delayUntil) {
				e.state = Active
				e.activeUntil = now.Add(h.linger)
				due = append(due, RetransmitRequest{Key: key})
			}
		case Active:
			if !now.Before(e.activeUntil) {
				delete(h.entries, key)
			}
		}
	}
	return due
}

// DroppedCount returns the number of NAKs dropped due to the handler
// being at capacity.
func (h *RetransmitHandler) DroppedCount() int64 { return h.dropped }

// Len returns the number of entries currently tracked.
func (h *RetransmitHandler) Len() int { return len(h.entries) }
