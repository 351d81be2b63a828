// Package driver wires every other internal package into the three
// cooperatively-scheduled agents: the Conductor
// (sole registry mutator, command/event rings, timers), the Sender
// (egress term scan, flow control, retransmission, heartbeats), and the
// Receiver (ingress poll, dispatch, status messages, loss detection).
package driver

import (
	"time"

	"github.com/flowdriver/flowdriver/internal/collections"
	"github.com/flowdriver/flowdriver/internal/counters"
	"github.com/flowdriver/flowdriver/internal/image"
	"github.com/flowdriver/flowdriver/internal/publication"
)

// Client is the Conductor's record of a connected client process: its
// next-expected keepalive deadline, and the resources it owns so they
// can be unwound on timeout.
type Client struct {
	ClientID       int64
	LastKeepaliveAt time.Time
	Publications    []int64 // registration ids
	Subscriptions   []int64
}

// Subscription is the Conductor's registry entry for one client
// subscription: a (channel, stream) interest that the Receiver's
// dispatcher consults to decide whether an unknown stream deserves a
// pending-setup request, and whose image set the Conductor reports back
// to the client via AVAILABLE_IMAGE/UNAVAILABLE_IMAGE.
type Subscription struct {
	RegistrationID int64
	ClientID       int64
	StreamID       int32
	Channel        string

	// ImageRegistrationIDs are the images currently feeding this
	// subscription, each with its own per-subscriber consumed-position
	// counter id.
	ImageRegistrationIDs []int64
	PositionCounterID    map[int64]int32
}

// Registries holds every Conductor-owned lookup table. Only the
// Conductor agent mutates these; the Sender and Receiver only dereference
// pointers handed to them via the proxy queues, never look resources up
// by id themselves.
type Registries struct {
	PublicationsByReg *collections.Registry[int64, *publication.Publication]
	PublicationsBySS  *collections.TwoLevel[int32, int32, *publication.Publication] // session -> stream
	ImagesByReg       *collections.Registry[int64, *image.Image]
	ImagesBySS        *collections.TwoLevel[int32, int32, *image.Image] // session -> stream
	SubscriptionsByReg *collections.Registry[int64, *Subscription]
	ClientsByID       *collections.Registry[int64, *Client]
	CountersByReg     *collections.Registry[int64, int32] // ADD_COUNTER registration id -> allocated counter id

	Counters *counters.Manager

	nextRegistrationID int64
	nextSessionID       int32
}

// NewRegistries constructs empty registries backed by a counters manager
// sized for maxCounters.
func NewRegistries(maxCounters int32) *Registries {
	return &Registries{
		PublicationsByReg:  collections.NewRegistry[int64, *publication.Publication](),
		PublicationsBySS:   collections.NewTwoLevel[int32, int32, *publication.Publication](),
		ImagesByReg:        collections.NewRegistry[int64, *image.Image](),
		ImagesBySS:         collections.NewTwoLevel[int32, int32, *image.Image](),
		SubscriptionsByReg: collections.NewRegistry[int64, *Subscription](),
		ClientsByID:        collections.NewRegistry[int64, *Client](),
		CountersByReg:      collections.NewRegistry[int64, int32](),
		Counters:           counters.NewManager(maxCounters),
		nextSessionID:      1,
	}
}

// NextRegistrationID returns a fresh, monotonically increasing
// registration id. Registration ids and correlation ids share no
// namespace with client-chosen correlation ids, so collisions can't
// occur even across restarts within a process lifetime.
func (r *Registries) NextRegistrationID() int64 {
	r.nextRegistrationID++
	return r.nextRegistrationID
}

// NextSessionID allocates a session id for a new network/IPC
// publication, the same per-process monotonic counter the originating
// client would otherwise have to coordinate out of band.
func (r *Registries) NextSessionID() int32 {
	id := r.nextSessionID
	r.nextSessionID++
	return id
}

// FindPublication looks up an existing publication by (channel, stream,
// session) for ADD_PUBLICATION dedup: a non-exclusive add against an
// already-open publication increments its ref count instead of creating
// a second registration.
func (r *Registries) FindPublication(sessionID, streamID int32, canonicalChannel string) (*publication.Publication, bool) {
	inner := r.PublicationsBySS.Inner(sessionID)
	if inner == nil {
		return nil, false
	}
	var found *publication.Publication
	inner.Each(func(id int32, p *publication.Publication) {
		if id == streamID && p.Channel == canonicalChannel && p.State == publication.StateActive {
			found = p
		}
	})
	return found, found != nil
}

// RegisterPublication adds p to both the by-registration and
// by-session/stream indexes.
func (r *Registries) RegisterPublication(p *publication.Publication) {
	r.PublicationsByReg.Put(p.RegistrationID, p)
	r.PublicationsBySS.Put(p.SessionID, p.StreamID, p)
}

// UnregisterPublication removes p from both indexes.
func (r *Registries) UnregisterPublication(p *publication.Publication) {
	r.PublicationsByReg.Remove(p.RegistrationID)
	r.PublicationsBySS.Remove(p.SessionID, p.StreamID)
}

// FindPublicationByStream looks up any active publication on the same
// canonical channel and stream regardless of session, the ADD_PUBLICATION
// dedup path used when the channel URI does not pin an explicit
// session-id: non-exclusive publications sharing a channel and stream
// share a session unless one is requested explicitly.
func (r *Registries) FindPublicationByStream(streamID int32, canonicalChannel string) (*publication.Publication, bool) {
	var found *publication.Publication
	r.PublicationsByReg.Each(func(_ int64, p *publication.Publication) {
		if found != nil {
			return
		}
		if p.StreamID == streamID && p.Channel == canonicalChannel && p.State == publication.StateActive {
			found = p
		}
	})
	return found, found != nil
}

// RegisterImage adds img to both the by-registration and
// by-session/stream indexes.
func (r *Registries) RegisterImage(img *image.Image) {
	r.ImagesByReg.Put(img.RegistrationID, img)
	r.ImagesBySS.Put(img.SessionID, img.StreamID, img)
}

// UnregisterImage removes img from both indexes.
func (r *Registries) UnregisterImage(img *image.Image) {
	r.ImagesByReg.Remove(img.RegistrationID)
	r.ImagesBySS.Remove(img.SessionID, img.StreamID)
}
