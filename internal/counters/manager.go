// Package counters implements the driver's system counters (liveness
// heartbeat, per-image/per-publication statistics), the distinct error
// log clients poll for driver-side failures, and the loss reporter that
// aggregates NAK-driven retransmission activity for observability.
package counters

import "sync/atomic"

// ValueSlotLength is a cache-line-sized counter slot length in bytes.
// Manager does not use it: its values live in a plain []int64, so
// neighbouring counters can share a cache line.
const ValueSlotLength = 64

// Unused marks a free slot in the manager's backing array.
const Unused int32 = -1

// SystemCounter type ids, mirroring the fixed small set of driver-wide
// counters a client can look up without first querying a directory.
const (
	TypeDriverHeartbeat int32 = iota
	TypeBytesSent
	TypeBytesReceived
	TypeNAKsSent
	TypeNAKsReceived
	TypeStatusMessagesSent
	TypeStatusMessagesReceived
	TypeClientTimeouts
	TypePublicationUnblocked
	TypeSubscriberPosition
	TypePublicationPositionLimit
)

// Manager is a flat, append-mostly array of int64 counters, each with a
// type id and a free-text label, the same role Aeron's CountersManager
// plays for the driver: allocate once, increment cheaply and often, free
// when the owning resource (image, publication, client) goes away.
//
// Not safe for concurrent Allocate/Free; Get/Set/Increment on an already
// allocated id are safe for any number of concurrent callers, since they
// only ever touch that id's own slot.
type Manager struct {
	values  []int64
	typeIDs []int32
	labels  []string
	free    []int32
}

// NewManager constructs a Manager with capacity for maxCounters.
func NewManager(maxCounters int32) *Manager {
	m := &Manager{
		values:  make([]int64, maxCounters),
		typeIDs: make([]int32, maxCounters),
		labels:  make([]string, maxCounters),
	}
	for i := range m.typeIDs {
		m.typeIDs[i] = Unused
	}
	return m
}

// Allocate claims a free slot for a counter of the given type, returning
// its id, or -1 if the manager is full.
func (m *Manager) Allocate(typeID int32, label string) int32 {
	var id int32
	if n := len(m.free); n > 0 {
		id = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		id = -1
		for i, t := range m.typeIDs {
			if t == Unused {
				id = int32(i)
				break
			}
		}
		if id == -1 {
			return -1
		}
	}
	m.typeIDs[id] = typeID
	m.labels[id] = label
	atomic.StoreInt64(&m.values[id], 0)
	return id
}

// Free releases a counter id back to the pool.
func (m *Manager) Free(id int32) {
	if id < 0 || int(id) >= len(m.typeIDs) || m.typeIDs[id] == Unused {
		return
	}
	m.typeIDs[id] = Unused
	m.labels[id] = ""
	m.free = append(m.free, id)
}

// Get performs an acquire load of a counter's current value.
func (m *Manager) Get(id int32) int64 {
	return atomic.LoadInt64(&m.values[id])
}

// Set performs a release store of a counter's value.
func (m *Manager) Set(id int32, v int64) {
	atomic.StoreInt64(&m.values[id], v)
}

// Increment adds delta to a counter and returns its new value.
func (m *Manager) Increment(id int32, delta int64) int64 {
	return atomic.AddInt64(&m.values[id], delta)
}

// Label returns the free-text label a counter was allocated with.
func (m *Manager) Label(id int32) string {
	if id < 0 || int(id) >= len(m.labels) {
		return ""
	}
	return m.labels[id]
}

// TypeID returns the type id a counter was allocated with, or Unused if
// id is not currently allocated.
func (m *Manager) TypeID(id int32) int32 {
	if id < 0 || int(id) >= len(m.typeIDs) {
		return Unused
	}
	return m.typeIDs[id]
}

// Each visits every currently allocated counter, in id order, the
// enumeration PrintReport (report.go) walks to build its snapshot.
func (m *Manager) Each(fn func(id, typeID int32, label string, value int64)) {
	for id, t := range m.typeIDs {
		if t == Unused {
			continue
		}
		fn(int32(id), t, m.labels[id], atomic.LoadInt64(&m.values[id]))
	}
}
