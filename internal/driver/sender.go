package driver

import (
	"net/netip"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowdriver/flowdriver/internal/collections"
	"github.com/flowdriver/flowdriver/internal/counters"
	"github.com/flowdriver/flowdriver/internal/flowcontrol"
	"github.com/flowdriver/flowdriver/internal/logbuffer"
	"github.com/flowdriver/flowdriver/internal/lossdetect"
	"github.com/flowdriver/flowdriver/internal/publication"
	"github.com/flowdriver/flowdriver/ratelimit"
)

// Transport is the narrow send/receive capability the Sender and
// Receiver agents need from a channel endpoint's socket, satisfied by
// internal/transport/udp.Socket.
type Transport interface {
	SendTo(payload []byte, dest netip.AddrPort) (int, error)
	ReceiveFrom(buf []byte) (int, netip.AddrPort, error)
}

const (
	controlFrameScratchSize = 2048
	maxControlFramesPerCycle = 64
	defaultTermWindowFraction = 1 // term window length == full term length
)

type senderEntry struct {
	pub           *publication.Publication
	retransmits   *lossdetect.RetransmitHandler
	positionLimit int64
	lastHeartbeatAt time.Time
	lastSetupAt     time.Time
	lastDataSentAt  time.Time
}

// Sender is the driver's egress agent: for every active network
// publication it scans committed term-buffer frames past its own
// SenderPosition up to the flow-control-derived position limit, sends
// them as UDP datagrams, services NAK-driven retransmission, and emits
// periodic SETUP/heartbeat frames.
//
// Owned exclusively by its own Runner goroutine; publications are handed
// to it once by the Conductor over SenderProxy and never looked up by id
// from elsewhere.
type Sender struct {
	roleName string
	proxy    *SenderProxy
	transport Transport

	entries         *collections.Registry[int64, *senderEntry]
	bySessionStream *collections.TwoLevel[int32, int32, *senderEntry]

	throttle          *ratelimit.Throttle
	heartbeatInterval time.Duration
	setupInterval     time.Duration
	mtu               int32

	retransmitMaxConcurrent int
	retransmitDelay         time.Duration
	retransmitLinger        time.Duration

	recvBuf []byte

	countersMgr                                      *counters.Manager
	bytesSentCounterID, smReceivedCounterID, naksReceivedCounterID int32

	logger zerolog.Logger
}

// SenderConfig carries the tunables NewSender needs from driver
// configuration.
type SenderConfig struct {
	MTU                     int32
	HeartbeatInterval       time.Duration
	SetupInterval           time.Duration
	RetransmitMaxConcurrent int
	RetransmitDelay         time.Duration
	RetransmitLinger        time.Duration
	HeartbeatPPS            uint64 // 0 disables throttling
}

// NewSender constructs a Sender agent.
func NewSender(proxy *SenderProxy, transport Transport, cfg SenderConfig, countersMgr *counters.Manager, logger zerolog.Logger) *Sender {
	return &Sender{
		roleName:                "sender",
		proxy:                   proxy,
		transport:               transport,
		entries:                 collections.NewRegistry[int64, *senderEntry](),
		bySessionStream:         collections.NewTwoLevel[int32, int32, *senderEntry](),
		throttle:                ratelimit.New(cfg.HeartbeatPPS),
		heartbeatInterval:       cfg.HeartbeatInterval,
		setupInterval:           cfg.SetupInterval,
		mtu:                     cfg.MTU,
		retransmitMaxConcurrent: cfg.RetransmitMaxConcurrent,
		retransmitDelay:         cfg.RetransmitDelay,
		retransmitLinger:        cfg.RetransmitLinger,
		recvBuf:                 make([]byte, controlFrameScratchSize),
		countersMgr:             countersMgr,
		bytesSentCounterID:      countersMgr.Allocate(counters.TypeBytesSent, "bytes-sent"),
		smReceivedCounterID:     countersMgr.Allocate(counters.TypeStatusMessagesReceived, "sm-received"),
		naksReceivedCounterID:   countersMgr.Allocate(counters.TypeNAKsReceived, "naks-received"),
		logger:                  logger.With().Str("agent", "sender").Logger(),
	}
}

// RoleName identifies this agent for logging.
func (s *Sender) RoleName() string { return s.roleName }

// OnClose releases the sender's counters.
func (s *Sender) OnClose() {
	s.countersMgr.Free(s.bytesSentCounterID)
	s.countersMgr.Free(s.smReceivedCounterID)
	s.countersMgr.Free(s.naksReceivedCounterID)
}

// DoWork drains proxy messages, services control frame ingress, and
// advances every owned publication's egress.
func (s *Sender) DoWork() (int, error) {
	work := 0

	for {
		msg, ok := s.proxy.Poll()
		if !ok {
			break
		}
		s.applyProxyMessage(msg)
		work++
	}

	work += s.pollControlFrames()

	now := time.Now()
	for _, e := range s.entries.Values() {
		if e.pub.State == publication.StateClosed {
			continue
		}
		work += s.sendData(e, now)
		work += s.sendRetransmits(e, now)
		work += s.sendHeartbeatOrSetup(e, now)
	}

	return work, nil
}

// sendFrame writes payload to every one of a publication's destinations:
// the single Destination for a normal unicast/multicast channel, or the
// full fan-out set for a manual-control-mode MDC channel. Reports
// whether at least one send succeeded.
func (s *Sender) sendFrame(e *senderEntry, payload []byte) bool {
	if e.pub.Destinations != nil && e.pub.Destinations.Len() > 0 {
		sentAny := false
		e.pub.Destinations.Each(func(_ int64, addr netip.AddrPort) {
			if _, err := s.transport.SendTo(payload, addr); err == nil {
				sentAny = true
			}
		})
		return sentAny
	}
	_, err := s.transport.SendTo(payload, e.pub.Destination)
	return err == nil
}

func (s *Sender) applyProxyMessage(msg ConductorToSender) {
	if msg.AddPublication != nil {
		p := msg.AddPublication
		termWindow := p.LogBuffer.Meta.TermLength() * defaultTermWindowFraction
		if p.FlowControl != nil {
			p.FlowControl.InitialPositionLimit(p.SenderPosition, termWindow)
		}
		e := &senderEntry{
			pub:         p,
			retransmits: lossdetect.NewRetransmitHandler(s.retransmitMaxConcurrent, s.retransmitDelay, s.retransmitLinger),
		}
		s.entries.Put(p.RegistrationID, e)
		s.bySessionStream.Put(p.SessionID, p.StreamID, e)
	}
	if msg.RemovePublication != nil {
		p := msg.RemovePublication
		s.entries.Remove(p.RegistrationID)
		s.bySessionStream.Remove(p.SessionID, p.StreamID)
	}
}

// pollControlFrames drains inbound SM/NAK/RTTM-reply datagrams addressed
// to this endpoint's sent publications, bounded to
// maxControlFramesPerCycle so a flood of control traffic cannot starve
// the egress loop within one DoWork call.
func (s *Sender) pollControlFrames() int {
	n := 0
	for ; n < maxControlFramesPerCycle; n++ {
		read, _, err := s.transport.ReceiveFrom(s.recvBuf)
		if err != nil || read == 0 {
			break
		}
		buf := s.recvBuf[:read]
		sessionID := logbuffer.SessionID(buf, 0)
		streamID := logbuffer.StreamID(buf, 0)
		e, ok := s.bySessionStream.Get(sessionID, streamID)
		if !ok {
			continue
		}
		switch logbuffer.FrameType(buf, 0) {
		case logbuffer.FrameTypeSM:
			sm := logbuffer.ReadStatusMessage(buf)
			limit := e.pub.FlowControl.OnStatusMessage(flowcontrol.StatusMessage{
				ReceiverID:           sm.ReceiverID,
				ConsumptionPosition:  int64(logbuffer.ComputePosition(sm.ConsumptionTermID, e.pub.LogBuffer.Meta.InitialTermID(), int32(logbuffer.PositionBitsToShift(e.pub.LogBuffer.Meta.TermLength())), sm.ConsumptionTermOffset)),
				ReceiverWindowLength: sm.ReceiverWindowLength,
				ReceivedAt:           time.Now(),
			}, time.Now(), e.pub.SenderPosition)
			e.positionLimit = limit
			s.countersMgr.Increment(s.smReceivedCounterID, 1)
		case logbuffer.FrameTypeNAK:
			nak := logbuffer.ReadNAK(buf)
			e.retransmits.OnNAK(lossdetect.RetransmitKey{TermID: nak.TermID, Offset: nak.TermOffset, Length: nak.Length}, time.Now())
			s.countersMgr.Increment(s.naksReceivedCounterID, 1)
		}
	}
	return n
}

func (s *Sender) sendData(e *senderEntry, now time.Time) int {
	lb := e.pub.LogBuffer
	termLength := lb.Meta.TermLength()
	bitsToShift := int32(logbuffer.PositionBitsToShift(termLength))

	limit := e.pub.SenderPosition + int64(termLength)
	if e.positionLimit != 0 && e.positionLimit < limit {
		limit = e.positionLimit
	}

	sent := 0
	for e.pub.SenderPosition < limit && sent < maxControlFramesPerCycle {
		termID := logbuffer.ComputeTermID(logbuffer.Position(e.pub.SenderPosition), lb.Meta.InitialTermID(), uint(bitsToShift))
		termOffset := logbuffer.ComputeTermOffset(logbuffer.Position(e.pub.SenderPosition), uint(bitsToShift))
		partition := logbuffer.ComputeTermIndex(termID)
		term := lb.Terms[partition]

		maxLen := termLength - termOffset
		if remaining := limit - e.pub.SenderPosition; int64(maxLen) > remaining {
			maxLen = int32(remaining)
		}
		if mtuBound := s.mtu; mtuBound > 0 && maxLen > mtuBound {
			maxLen = mtuBound
		}
		if maxLen <= 0 {
			break
		}

		available, isPadding := logbuffer.Scan(term, termOffset, maxLen)
		if available == 0 {
			break
		}
		if !isPadding {
			if !s.sendFrame(e, term[termOffset:termOffset+available]) {
				break
			}
			s.countersMgr.Increment(s.bytesSentCounterID, int64(available))
			e.lastDataSentAt = now
			sent++
		}
		e.pub.SenderPosition += int64(available)
	}
	return sent
}

func (s *Sender) sendRetransmits(e *senderEntry, now time.Time) int {
	due := e.retransmits.Tick(now)
	lb := e.pub.LogBuffer
	termLength := lb.Meta.TermLength()
	sent := 0
	for _, req := range due {
		partition := logbuffer.ComputeTermIndex(req.Key.TermID)
		term := lb.Terms[partition]
		if req.Key.Offset < 0 || req.Key.Offset+req.Key.Length > termLength {
			continue
		}
		if !s.throttle.Allow(1) {
			// Rate-limited: skip rather than block the agent loop waiting
			// for budget. Tick only ever hands this entry back once, so a
			// skipped retransmit is dropped the same way a failed
			// sendFrame already is, not retried on a later cycle.
			continue
		}
		payload := term[req.Key.Offset : req.Key.Offset+req.Key.Length]
		if s.sendFrame(e, payload) {
			sent++
		}
	}
	return sent
}

func (s *Sender) sendHeartbeatOrSetup(e *senderEntry, now time.Time) int {
	work := 0
	lb := e.pub.LogBuffer
	bitsToShift := uint(logbuffer.PositionBitsToShift(lb.Meta.TermLength()))
	termID := logbuffer.ComputeTermID(logbuffer.Position(e.pub.SenderPosition), lb.Meta.InitialTermID(), bitsToShift)
	termOffset := logbuffer.ComputeTermOffset(logbuffer.Position(e.pub.SenderPosition), bitsToShift)

	if now.Sub(e.lastSetupAt) >= s.setupInterval {
		setup := logbuffer.PutSetup(logbuffer.Setup{
			TermOffset:    termOffset,
			SessionID:     e.pub.SessionID,
			StreamID:      e.pub.StreamID,
			InitialTermID: lb.Meta.InitialTermID(),
			ActiveTermID:  termID,
			TermLength:    lb.Meta.TermLength(),
			MTU:           lb.Meta.MTULength(),
		})
		if s.sendFrame(e, setup) {
			work++
		}
		e.lastSetupAt = now
		if e.pub.FlowControl != nil {
			e.pub.FlowControl.OnTriggerSendSetup(now)
		}
	}

	if now.Sub(e.lastDataSentAt) >= s.heartbeatInterval && now.Sub(e.lastHeartbeatAt) >= s.heartbeatInterval {
		heartbeat := make([]byte, logbuffer.DataHeaderLength)
		logbuffer.PutDataHeader(heartbeat, 0, logbuffer.Header{
			FrameLength: 0,
			Version:     logbuffer.FrameVersion,
			Flags:       logbuffer.FlagUnfragmented,
			Type:        logbuffer.FrameTypeData,
			TermOffset:  termOffset,
			SessionID:   e.pub.SessionID,
			StreamID:    e.pub.StreamID,
			TermID:      termID,
		}, 0)
		if s.sendFrame(e, heartbeat) {
			work++
		}
		e.lastHeartbeatAt = now
	}

	return work
}
