package udp

import "net/netip"

// DestinationTracker holds the set of destinations a manual-control-mode
// multi-destination-cast (MDC) send channel endpoint fans frames out to
//. Dynamic-mode
// destinations are instead derived from SETUP/SM traffic by the receive
// endpoint and never go through this tracker.
//
// Not safe for concurrent use; owned exclusively by the send channel
// endpoint that the conductor's ADD_DESTINATION/REMOVE_DESTINATION
// commands are proxied to.
type DestinationTracker struct {
	byID map[int64]netip.AddrPort
	ids  []int64
}

// NewDestinationTracker constructs an empty tracker.
func NewDestinationTracker() *DestinationTracker {
	return &DestinationTracker{byID: make(map[int64]netip.AddrPort)}
}

// Add registers addr under registrationID, a key the caller chooses; the
// Conductor passes destinationKey(addr), a hash of the address, so that
// REMOVE_DESTINATION finds the same entry.
func (t *DestinationTracker) Add(registrationID int64, addr netip.AddrPort) {
	if _, exists := t.byID[registrationID]; !exists {
		t.ids = append(t.ids, registrationID)
	}
	t.byID[registrationID] = addr
}

// Remove deregisters a destination by registration id, reporting whether
// it was present.
func (t *DestinationTracker) Remove(registrationID int64) bool {
	if _, ok := t.byID[registrationID]; !ok {
		return false
	}
	delete(t.byID, registrationID)
	for i, id := range t.ids {
		if id == registrationID {
			t.ids = append(t.ids[:i], t.ids[i+1:]...)
			break
		}
	}
	return true
}

// Each calls fn once per currently registered destination, in
// registration order.
func (t *DestinationTracker) Each(fn func(registrationID int64, addr netip.AddrPort)) {
	for _, id := range t.ids {
		fn(id, t.byID[id])
	}
}

// Len returns the number of registered destinations.
func (t *DestinationTracker) Len() int { return len(t.ids) }
