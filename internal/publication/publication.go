// Package publication implements the Conductor-owned publication
// registry entries for both network and IPC publications:
// per-stream state, the subscriber position counters used as the
// consumed-watermark, and the DRAINING/LINGER lifecycle a publication
// passes through after a client unlinks it so late subscribers can still
// observe end-of-stream.
package publication

import (
	"net/netip"
	"time"

	"github.com/flowdriver/flowdriver/internal/flowcontrol"
	"github.com/flowdriver/flowdriver/internal/logbuffer"
	"github.com/flowdriver/flowdriver/internal/transport/udp"
)

// State is a publication's lifecycle stage.
type State int32

const (
	StateActive State = iota
	StateDraining
	StateLinger
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateDraining:
		return "DRAINING"
	case StateLinger:
		return "LINGER"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Kind distinguishes an IPC publication (shared directly with local
// subscribers, no Sender involvement) from a network publication (egress
// through the Sender agent and a channel endpoint).
type Kind int32

const (
	KindNetwork Kind = iota
	KindIPC
)

// Publication is the Conductor's registry entry for one publisher
// stream. The Sender agent holds a borrowed reference to network
// publications (via its proxy queue) to advance SenderPosition and apply
// flow control; IPC publications are never touched by the Sender since
// subscribers read the log buffer directly.
type Publication struct {
	RegistrationID int64
	SessionID      int32
	StreamID       int32
	Channel        string
	Kind           Kind

	LogBuffer *logbuffer.LogBuffer

	// Destination is where the Sender agent sends this publication's
	// frames for network publications; zero value for IPC publications,
	// which the Sender never touches.
	Destination netip.AddrPort

	// Destinations holds the fan-out set for a manual-control-mode
	// multi-destination-cast channel (chanuri.ControlModeManual); nil for
	// every other channel, in which case the Sender uses Destination
	// alone.
	Destinations *udp.DestinationTracker

	FlowControl flowcontrol.Strategy

	// RefCount is the number of live client publisher handles referencing
	// this registration id (exclusive publications always have exactly
	// one; ADD_PUBLICATION against an existing (channel,stream,session)
	// increments this instead of creating a second entry).
	RefCount int32

	// SubscriberPositionIDs are the counters-manager ids of every
	// subscriber's consumed-position counter currently reading this
	// publication, used by the Conductor to decide when DRAINING can
	// advance to LINGER (every subscriber has consumed up to EOS).
	SubscriberPositionIDs []int32

	State        State
	DrainingAt   time.Time
	LingerUntil  time.Time

	// SenderPosition mirrors the Sender agent's own cached tail for this
	// publication; the Conductor only reads it for status/unblock
	// decisions and never mutates it.
	SenderPosition int64

	PositionLimitCounterID int32
}

// NewPublication constructs a Publication in the ACTIVE state.
func NewPublication(registrationID int64, sessionID, streamID int32, channel string, kind Kind, lb *logbuffer.LogBuffer) *Publication {
	return &Publication{
		RegistrationID: registrationID,
		SessionID:      sessionID,
		StreamID:       streamID,
		Channel:        channel,
		Kind:           kind,
		LogBuffer:      lb,
		RefCount:       1,
		State:          StateActive,
	}
}

// IncRef increments the client reference count (another local publisher
// handle opened against the same (channel,stream,session)).
func (p *Publication) IncRef() { p.RefCount++ }

// DecRef decrements the reference count and reports whether it reached
// zero (the Conductor should begin draining).
func (p *Publication) DecRef() bool {
	p.RefCount--
	return p.RefCount <= 0
}

// BeginDraining transitions ACTIVE -> DRAINING at now, freezing new
// client writers out (the Conductor stops accepting further
// ADD_PUBLICATION dedup against this registration) while existing
// subscribers finish consuming.
func (p *Publication) BeginDraining(now time.Time) {
	if p.State != StateActive {
		return
	}
	p.State = StateDraining
	p.DrainingAt = now
}

// EndOfStreamPosition returns the publisher's final tail position, valid
// once DRAINING begins (producers are expected to make no further
// progress once RefCount reaches zero).
func (p *Publication) EndOfStreamPosition() int64 {
	return p.LogBuffer.Meta.EndOfStreamPosition()
}

// AllSubscribersDrained reports whether every registered subscriber
// position has reached the publication's end-of-stream position, the
// precondition for DRAINING -> LINGER.
func (p *Publication) AllSubscribersDrained(positionOf func(counterID int32) int64) bool {
	eos := p.EndOfStreamPosition()
	if eos == logbuffer.UnsetPosition {
		return false
	}
	for _, id := range p.SubscriberPositionIDs {
		if positionOf(id) < eos {
			return false
		}
	}
	return true
}

// BeginLinger transitions DRAINING -> LINGER, holding the publication
// (and its mapped log buffer) open for lingerDuration so any client that
// raced the close can still observe EOS.
func (p *Publication) BeginLinger(now time.Time, lingerDuration time.Duration) {
	if p.State != StateDraining {
		return
	}
	p.State = StateLinger
	p.LingerUntil = now.Add(lingerDuration)
}

// ReadyToClose reports whether LINGER has elapsed.
func (p *Publication) ReadyToClose(now time.Time) bool {
	return p.State == StateLinger && !now.Before(p.LingerUntil)
}

// Close marks the publication CLOSED; the Conductor is responsible for
// unmapping LogBuffer and freeing counters afterward.
func (p *Publication) Close() { p.State = StateClosed }
