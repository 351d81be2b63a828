// Package flowcontrol implements the sender-side flow control strategies
// that bound how far a publication's term buffer tail may advance ahead
// of its slowest-acknowledging receiver.
package flowcontrol

import "time"

// StatusMessage is the subset of an inbound status message a strategy
// needs to recompute its position limit.
type StatusMessage struct {
	ReceiverID          int64
	ConsumptionPosition int64
	ReceiverWindowLength int32
	ReceivedAt          time.Time
}

// Strategy is the polymorphic capability set every flow control variant
// implements, resolved once per publication at creation and then called
// on the sender's hot path without further dispatch overhead.
type Strategy interface {
	// OnStatusMessage folds a freshly received status message into the
	// strategy's state and returns the new position limit.
	OnStatusMessage(sm StatusMessage, now time.Time, senderPosition int64) int64
	// OnTriggerSendSetup is invoked when the sender decides to (re-)send a
	// SETUP frame, giving strategies that track receiver liveness via SM
	// arrival (multicast-min) a chance to note the attempt.
	OnTriggerSendSetup(now time.Time)
	// InitialPositionLimit is the position limit to use before any status
	// message has been received.
	InitialPositionLimit(senderPosition int64, termWindowLength int32) int64
}

// UnicastMax is the default strategy for unicast channels: the position
// limit tracks the single stream of status messages, bounded above by the
// sender's own term window so a silent receiver can't let the sender run
// unboundedly far ahead.
type UnicastMax struct {
	termWindowLength int32
	lastSM           StatusMessage
	haveSM           bool
}

// NewUnicastMax constructs a UnicastMax strategy with the given term
// window length.
func NewUnicastMax(termWindowLength int32) *UnicastMax {
	return &UnicastMax{termWindowLength: termWindowLength}
}

func (s *UnicastMax) OnStatusMessage(sm StatusMessage, now time.Time, senderPosition int64) int64 {
	if !s.haveSM || sm.ConsumptionPosition > s.lastSM.ConsumptionPosition {
		s.lastSM = sm
		s.haveSM = true
	}
	return s.positionLimit(senderPosition)
}

func (s *UnicastMax) OnTriggerSendSetup(now time.Time) {}

func (s *UnicastMax) InitialPositionLimit(senderPosition int64, termWindowLength int32) int64 {
	s.termWindowLength = termWindowLength
	return senderPosition + int64(termWindowLength)
}

func (s *UnicastMax) positionLimit(senderPosition int64) int64 {
	senderLimit := senderPosition + int64(s.termWindowLength)
	if !s.haveSM {
		return senderLimit
	}
	receiverLimit := s.lastSM.ConsumptionPosition + int64(s.lastSM.ReceiverWindowLength)
	if receiverLimit < senderLimit {
		return receiverLimit
	}
	return senderLimit
}

// ReceiverTimeoutPolicy controls what MulticastMin does when its last
// tracked receiver is evicted.
type ReceiverTimeoutPolicy int

const (
	// FailOnEmpty freezes the position limit at its last known value once
	// no receivers remain, stalling the publication until one reappears.
	FailOnEmpty ReceiverTimeoutPolicy = iota
	// Optimistic lets the position limit advance as if bounded only by the
	// sender's own term window once no receivers remain.
	Optimistic
)

type multicastReceiver struct {
	consumptionPosition int64
	windowLength        int32
	lastStatusMessageAt time.Time
}

// MulticastMin tracks every receiver on a multicast channel and bounds
// the position limit by the slowest surviving one, evicting receivers
// that have gone silent for longer than receiverTimeout.
type MulticastMin struct {
	termWindowLength int32
	receiverTimeout  time.Duration
	policy           ReceiverTimeoutPolicy
	receivers        map[int64]*multicastReceiver
	lastKnownLimit   int64
}

// NewMulticastMin constructs a MulticastMin strategy.
func NewMulticastMin(termWindowLength int32, receiverTimeout time.Duration, policy ReceiverTimeoutPolicy) *MulticastMin {
	return &MulticastMin{
		termWindowLength: termWindowLength,
		receiverTimeout:  receiverTimeout,
		policy:           policy,
		receivers:        make(map[int64]*multicastReceiver),
	}
}

func (s *MulticastMin) OnStatusMessage(sm StatusMessage, now time.Time, senderPosition int64) int64 {
	r, ok := s.receivers[sm.ReceiverID]
	if !ok {
		r = &multicastReceiver{}
		s.receivers[sm.ReceiverID] = r
	}
	r.consumptionPosition = sm.ConsumptionPosition
	r.windowLength = sm.ReceiverWindowLength
	r.lastStatusMessageAt = sm.ReceivedAt

	s.evictStale(now)
	return s.positionLimit(senderPosition)
}

func (s *MulticastMin) OnTriggerSendSetup(now time.Time) {
	s.evictStale(now)
}

func (s *MulticastMin) InitialPositionLimit(senderPosition int64, termWindowLength int32) int64 {
	s.termWindowLength = termWindowLength
	s.lastKnownLimit = senderPosition + int64(termWindowLength)
	return s.lastKnownLimit
}

func (s *MulticastMin) evictStale(now time.Time) {
	if s.receiverTimeout <= 0 {
		return
	}
	for id, r := range s.receivers {
		if now.Sub(r.lastStatusMessageAt) > s.receiverTimeout {
			delete(s.receivers, id)
		}
	}
}

func (s *MulticastMin) positionLimit(senderPosition int64) int64 {
	senderLimit := senderPosition + int64(s.termWindowLength)

	if len(s.receivers) == 0 {
		switch s.policy {
		case Optimistic:
			s.lastKnownLimit = senderLimit
		}
		return s.lastKnownLimit
	}

	minLimit := senderLimit
	for _, r := range s.receivers {
		receiverLimit := r.consumptionPosition + int64(r.windowLength)
		if receiverLimit < minLimit {
			minLimit = receiverLimit
		}
	}
	s.lastKnownLimit = minLimit
	return minLimit
}
