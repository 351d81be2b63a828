// Package dispatcher implements the Receiver agent's data packet
// dispatcher: routing an incoming UDP datagram to the
// publication image it belongs to, or deciding that none exists yet and
// that the stream should go on a pending-setup watch list until a SETUP
// frame lets the Conductor allocate one.
package dispatcher

import (
	"time"

	"github.com/flowdriver/flowdriver/internal/collections"
	"github.com/flowdriver/flowdriver/internal/image"
	"github.com/flowdriver/flowdriver/internal/logbuffer"
)

// SetupInfo carries everything gleaned from a SETUP frame (and the
// datagram it arrived on) needed to ask the Conductor to create an
// image.
type SetupInfo struct {
	SessionID      int32
	StreamID       int32
	InitialTermID  int32
	ActiveTermID   int32
	TermLength     int32
	MTU            int32
	TTL            int32
	Channel        string
	SourceIdentity string
}

// ImageRequester is the Receiver's narrow view of the Conductor: asking
// it to allocate log buffers and register a new image. The actual image
// is delivered later via AddImage once the Conductor has done so — the
// dispatcher never allocates shared memory itself.
type ImageRequester interface {
	RequestImage(info SetupInfo)
}

// Subscribable marks a stream id as having at least one live
// subscription wanting it on a given channel, and whether that
// subscription's source filter admits sourceIdentity.
type Subscribable struct {
	StreamID int32
	Channel  string
	Admits   func(sourceIdentity string) bool
}

const pendingSetupDebounce = time.Second

// Dispatcher routes inbound datagrams to images and requests new ones on
// SETUP. It is owned exclusively by the Receiver agent; nothing else
// mutates it.
type Dispatcher struct {
	images        *collections.TwoLevel[int32, int32, *image.Image] // session -> stream -> image
	subscribable  map[int32][]Subscribable                          // stream -> interested subscriptions
	pendingSetups map[pendingKey]time.Time
	requester     ImageRequester
}

type pendingKey struct {
	sessionID int32
	streamID  int32
}

// New constructs an empty Dispatcher.
func New(requester ImageRequester) *Dispatcher {
	return &Dispatcher{
		images:        collections.NewTwoLevel[int32, int32, *image.Image](),
		subscribable:  make(map[int32][]Subscribable),
		pendingSetups: make(map[pendingKey]time.Time),
		requester:     requester,
	}
}

// AddImage registers img for (SessionID, StreamID) dispatch, called by
// the Receiver once the Conductor has created it in response to a prior
// RequestImage.
func (d *Dispatcher) AddImage(img *image.Image) {
	d.images.Put(img.SessionID, img.StreamID, img)
	delete(d.pendingSetups, pendingKey{img.SessionID, img.StreamID})
}

// RemoveImage unregisters an image, e.g. once it reaches CLOSED.
func (d *Dispatcher) RemoveImage(sessionID, streamID int32) {
	d.images.Remove(sessionID, streamID)
}

// ImageFor looks up the image for (sessionID, streamID), if any.
func (d *Dispatcher) ImageFor(sessionID, streamID int32) (*image.Image, bool) {
	return d.images.Get(sessionID, streamID)
}

// Subscribe registers a subscription's interest in streamID on channel,
// so that a SETUP frame for an unknown image on that stream triggers an
// image request, and DATA/PAD frames for it report OutcomePending,
// instead of being ignored.
func (d *Dispatcher) Subscribe(streamID int32, sub Subscribable) {
	d.subscribable[streamID] = append(d.subscribable[streamID], sub)
}

// Unsubscribe removes every subscription entry for streamID on channel.
func (d *Dispatcher) Unsubscribe(streamID int32, channel string) {
	subs := d.subscribable[streamID]
	kept := subs[:0]
	for _, s := range subs {
		if s.Channel != channel {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(d.subscribable, streamID)
	} else {
		d.subscribable[streamID] = kept
	}
}

func (d *Dispatcher) isInterested(streamID int32, sourceIdentity string) bool {
	_, ok := d.matchingSubscription(streamID, sourceIdentity)
	return ok
}

// matchingSubscription returns the first subscription on streamID whose
// source filter admits sourceIdentity, giving a SETUP frame's requested
// image the channel string to register under.
func (d *Dispatcher) matchingSubscription(streamID int32, sourceIdentity string) (Subscribable, bool) {
	for _, s := range d.subscribable[streamID] {
		if s.Admits == nil || s.Admits(sourceIdentity) {
			return s, true
		}
	}
	return Subscribable{}, false
}

// Outcome reports what OnFrame did with an inbound datagram, for the
// Receiver's counters.
type Outcome int

const (
	OutcomeRouted      Outcome = iota // delivered to an existing image
	OutcomeSetupQueued                // SETUP observed, Conductor asked to create an image
	OutcomePending                    // DATA/PAD for an interesting but not-yet-created stream
	OutcomeIgnored                    // no image, no interested subscription
	OutcomeRejected                   // SETUP for an existing image with a mismatched initial term id
)

// OnFrame classifies buf (a single UDP datagram, already known to carry
// a valid frame_length) and either routes it to an existing image's
// rebuilder, requests a new image from the Conductor, or drops it.
// sourceIdentity is the formatted source address the datagram arrived
// from, used for SETUP-based late-join admission and as an image's
// SourceIdentity once created.
func (d *Dispatcher) OnFrame(buf []byte, sourceIdentity string, now time.Time) Outcome {
	frameType := logbuffer.FrameType(buf, 0)
	sessionID := logbuffer.SessionID(buf, 0)
	streamID := logbuffer.StreamID(buf, 0)

	switch frameType {
	case logbuffer.FrameTypeSetup:
		su := logbuffer.ReadSetup(buf)
		if img, ok := d.images.Get(sessionID, streamID); ok {
			if img.InitialTermID != su.InitialTermID {
				return OutcomeRejected
			}
			return OutcomeRouted
		}
		sub, interested := d.matchingSubscription(streamID, sourceIdentity)
		if !interested {
			return OutcomeIgnored
		}
		key := pendingKey{sessionID, streamID}
		if last, ok := d.pendingSetups[key]; ok && now.Sub(last) < pendingSetupDebounce {
			return OutcomeSetupQueued
		}
		d.pendingSetups[key] = now
		if d.requester != nil {
			d.requester.RequestImage(SetupInfo{
				SessionID:      sessionID,
				StreamID:       streamID,
				InitialTermID:  su.InitialTermID,
				ActiveTermID:   su.ActiveTermID,
				TermLength:     su.TermLength,
				MTU:            su.MTU,
				TTL:            su.TTL,
				Channel:        sub.Channel,
				SourceIdentity: sourceIdentity,
			})
		}
		return OutcomeSetupQueued

	case logbuffer.FrameTypeData, logbuffer.FrameTypePad:
		img, ok := d.images.Get(sessionID, streamID)
		if !ok {
			if d.isInterested(streamID, sourceIdentity) {
				return OutcomePending
			}
			return OutcomeIgnored
		}
		img.OnFrameReceived(now)
		return OutcomeRouted

	default:
		return OutcomeIgnored
	}
}
