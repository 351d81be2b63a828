// Package image implements the receiver-side mirror of a remote
// publication: a publication image's term buffers, rebuild/high-water-
// mark positions, loss detector and congestion control state, and its
// INIT -> ACTIVE -> DRAINING -> LINGER -> CLOSED lifecycle.
package image

import (
	"time"

	"github.com/flowdriver/flowdriver/internal/congestioncontrol"
	"github.com/flowdriver/flowdriver/internal/lossdetect"
	"github.com/flowdriver/flowdriver/internal/logbuffer"
)

// State is a publication image's lifecycle stage.
type State int32

const (
	StateInit State = iota
	StateActive
	StateDraining
	StateLinger
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
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

// Image is the Receiver agent's per-remote-publication state: everything
// needed to rebuild an incoming stream into its log buffer, decide when
// to emit a status message, and detect/repair gaps.
//
// The Receiver agent owns its positions and its loss/congestion state
// once created; the Conductor's timer sweep (internal/driver/timers.go)
// drives the DRAINING -> LINGER -> CLOSED transitions, and otherwise the
// Conductor only reads it for client-facing
// AVAILABLE_IMAGE/UNAVAILABLE_IMAGE bookkeeping.
type Image struct {
	RegistrationID int64
	SessionID      int32
	StreamID       int32
	Channel        string
	InitialTermID  int32
	SourceIdentity string

	LogBuffer *logbuffer.LogBuffer

	// RebuildPosition is the contiguous-from-start position the receiver
	// has fully rebuilt up to; equals the consumption position reported
	// in status messages once a subscriber has caught up to it.
	RebuildPosition int64
	// HighWaterMarkPosition is the furthest position any frame has been
	// observed at, including past gaps).
	HighWaterMarkPosition int64

	LastStatusMessagePosition int64
	LastStatusMessageAt       time.Time
	LastActivityAt            time.Time

	CongestionControl congestioncontrol.Strategy
	LossDetector       *lossdetect.Detector

	ReceiverID int64 // identifies this image's SM stream to the sender's multicast-min tracker

	State       State
	DrainingAt  time.Time
	LingerUntil time.Time
	EOSObserved bool
}

// NewImage constructs an Image in the INIT state, seeded at
// initialPosition (usually the position carried by the triggering SETUP
// frame).
func NewImage(registrationID int64, sessionID, streamID, initialTermID int32, channel, sourceIdentity string, lb *logbuffer.LogBuffer, initialPosition int64, cc congestioncontrol.Strategy, ld *lossdetect.Detector, receiverID int64) *Image {
	return &Image{
		RegistrationID:        registrationID,
		SessionID:             sessionID,
		StreamID:              streamID,
		Channel:               channel,
		InitialTermID:         initialTermID,
		SourceIdentity:        sourceIdentity,
		LogBuffer:             lb,
		RebuildPosition:       initialPosition,
		HighWaterMarkPosition: initialPosition,
		CongestionControl:     cc,
		LossDetector:          ld,
		ReceiverID:            receiverID,
		State:                 StateInit,
	}
}

// Activate transitions INIT -> ACTIVE once the log buffer is mapped and
// the image is ready to receive data frames.
func (img *Image) Activate(now time.Time) {
	if img.State != StateInit {
		return
	}
	img.State = StateActive
	img.LastActivityAt = now
}

// PositionBitsToShift derives the position-bit shift from this image's
// term length, used whenever a raw term offset needs folding into a
// Position.
func (img *Image) PositionBitsToShift() uint {
	return logbuffer.PositionBitsToShift(img.LogBuffer.Meta.TermLength())
}

// OnFrameReceived records rebuild activity for the inactivity-timeout
// liveness check. It does not look at the EOS flag; that is ObserveEOS.
func (img *Image) OnFrameReceived(now time.Time) {
	img.LastActivityAt = now
}

// ObserveEOS marks that the sender has signalled end-of-stream.
func (img *Image) ObserveEOS() { img.EOSObserved = true }

// IsInactive reports whether no frame has arrived within timeout, the
// alternative EOS-detection path for a sender that vanished without
// setting the EOS bit.
func (img *Image) IsInactive(now time.Time, timeout time.Duration) bool {
	return now.Sub(img.LastActivityAt) > timeout
}

// BeginDraining transitions ACTIVE -> DRAINING; the loss detector is
// told to suppress further NAKs.
func (img *Image) BeginDraining(now time.Time) {
	if img.State != StateActive {
		return
	}
	img.State = StateDraining
	img.DrainingAt = now
	if img.LossDetector != nil {
		img.LossDetector.SetDraining(true)
	}
}

// BeginLinger transitions DRAINING -> LINGER.
func (img *Image) BeginLinger(now time.Time, lingerDuration time.Duration) {
	if img.State != StateDraining {
		return
	}
	img.State = StateLinger
	img.LingerUntil = now.Add(lingerDuration)
}

// ReadyToClose reports whether LINGER has elapsed.
func (img *Image) ReadyToClose(now time.Time) bool {
	return img.State == StateLinger && !now.Before(img.LingerUntil)
}

// Close marks the image CLOSED.
func (img *Image) Close() { img.State = StateClosed }

// IsEndOfStream reports whether the image should be considered fully
// drained: the sender explicitly signalled EOS and the rebuild position
// has caught up to the last known tail. Inactivity is not considered
// here; IsInactive reports that separately.
func (img *Image) IsEndOfStream() bool {
	return img.EOSObserved && img.RebuildPosition >= img.HighWaterMarkPosition
}
