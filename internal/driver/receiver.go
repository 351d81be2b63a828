package driver

import (
	"net/netip"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowdriver/flowdriver/internal/collections"
	"github.com/flowdriver/flowdriver/internal/counters"
	"github.com/flowdriver/flowdriver/internal/dispatcher"
	"github.com/flowdriver/flowdriver/internal/image"
	"github.com/flowdriver/flowdriver/internal/logbuffer"
	"github.com/flowdriver/flowdriver/internal/lossdetect"
	"github.com/flowdriver/flowdriver/internal/transport/udp"
)

const (
	receiverScratchSize        = 2048
	maxFramesPerTransportCycle = 64
	statusMessageMinInterval   = 50 * time.Millisecond
	pollerMaxEvents            = 128
)

// imageEntry is the Receiver's own bookkeeping for a live image: the
// image itself plus the transport and remote address replies (SM, NAK)
// go out on, learned from whichever datagram last routed to it.
type imageEntry struct {
	img       *image.Image
	transport Transport
	remote    netip.AddrPort
}

type replyInfo struct {
	transport Transport
	remote    netip.AddrPort
}

// Receiver is the driver's ingress agent: it polls every bound channel
// endpoint for inbound datagrams, runs them through the dispatcher to
// route DATA/PAD frames to the correct image or to request a new one on
// SETUP, rebuilds received frames into each image's term buffer, and
// emits NAKs and status messages on the images' behalf.
//
// The Receiver is the sole mutator of every Image's rebuild/high-water-
// mark positions and loss/congestion state; the Conductor
// only ever reads them when deciding whether an image has drained.
type Receiver struct {
	roleName string

	fromConductor *ReceiverProxy
	toConductor   *ConductorProxy

	dispatcher *dispatcher.Dispatcher

	// poller multiplexes every *udp.Socket transport onto one epoll
	// instance so DoWork makes at most one readiness syscall per cycle
	// regardless of how many channel endpoints are bound; nil if the
	// epoll instance could not be created, in which case every transport
	// falls back to direct polling every cycle instead.
	poller       *udp.Poller
	pollableByFD map[int]Transport
	directPoll   []Transport

	entries      *collections.Registry[int64, *imageEntry]
	bySession    *collections.TwoLevel[int32, int32, *imageEntry]
	pendingReply map[pendingReplyKey]replyInfo

	inactivityTimeout time.Duration

	recvBuf []byte

	countersMgr                                                  *counters.Manager
	bytesReceivedCounterID, naksSentCounterID, smsSentCounterID int32

	logger zerolog.Logger
}

type pendingReplyKey struct {
	sessionID int32
	streamID  int32
}

// NewReceiver constructs a Receiver. fromConductor is the channel the
// Conductor offers AddImage/RemoveImage/Subscribe/Unsubscribe on;
// toConductor is where the Receiver reports RequestImage/ImageInactive
// back.
func NewReceiver(fromConductor *ReceiverProxy, toConductor *ConductorProxy, inactivityTimeout time.Duration, countersMgr *counters.Manager, logger zerolog.Logger) *Receiver {
	r := &Receiver{
		roleName:          "receiver",
		fromConductor:     fromConductor,
		toConductor:       toConductor,
		pollableByFD:      make(map[int]Transport),
		entries:           collections.NewRegistry[int64, *imageEntry](),
		bySession:         collections.NewTwoLevel[int32, int32, *imageEntry](),
		pendingReply:      make(map[pendingReplyKey]replyInfo),
		inactivityTimeout: inactivityTimeout,
		recvBuf:           make([]byte, receiverScratchSize),
		countersMgr:       countersMgr,
		logger:            logger.With().Str("agent", "receiver").Logger(),
	}
	r.dispatcher = dispatcher.New(r)
	if poller, err := udp.NewPoller(pollerMaxEvents); err != nil {
		r.logger.Warn().Err(err).Msg("epoll unavailable, falling back to direct transport polling")
	} else {
		r.poller = poller
	}
	r.bytesReceivedCounterID = countersMgr.Allocate(counters.TypeBytesReceived, "bytes-received")
	r.naksSentCounterID = countersMgr.Allocate(counters.TypeNAKsSent, "naks-sent")
	r.smsSentCounterID = countersMgr.Allocate(counters.TypeStatusMessagesSent, "sms-sent")
	return r
}

// AddTransport registers a bound channel endpoint's transport for
// inbound polling. Called once per receive endpoint at setup time; the
// Conductor delivers it through the ReceiverProxy (ConductorToReceiver's
// AddTransport field) when it opens a receive endpoint.
//
// A udp.Socket is registered with the epoll poller instead of being
// scanned every cycle; any other Transport falls back to direct
// polling.
func (r *Receiver) AddTransport(t Transport) {
	sock, ok := t.(*udp.Socket)
	if !ok || r.poller == nil {
		r.directPoll = append(r.directPoll, t)
		return
	}
	if err := r.poller.Add(sock); err != nil {
		r.logger.Warn().Err(err).Msg("poller: failed to register transport, falling back to direct polling")
		r.directPoll = append(r.directPoll, t)
		return
	}
	r.pollableByFD[sock.Fd()] = t
}

func (r *Receiver) RoleName() string { return r.roleName }

func (r *Receiver) OnClose() {
	r.countersMgr.Free(r.bytesReceivedCounterID)
	r.countersMgr.Free(r.naksSentCounterID)
	r.countersMgr.Free(r.smsSentCounterID)
	if r.poller != nil {
		if err := r.poller.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("poller: close failed")
		}
	}
}

// RequestImage implements dispatcher.ImageRequester, forwarding the
// dispatcher's request on to the Conductor, the sole allocator of log
// buffers and registry entries.
func (r *Receiver) RequestImage(info dispatcher.SetupInfo) {
	r.toConductor.Offer(ReceiverToConductor{RequestImage: &info})
}

func (r *Receiver) DoWork() (int, error) {
	work := 0

	for {
		msg, ok := r.fromConductor.Poll()
		if !ok {
			break
		}
		r.applyProxyMessage(msg)
		work++
	}

	now := time.Now()

	work += r.pollTransports(now)

	for _, e := range r.entries.Values() {
		work += r.scanImage(e, now)
	}

	return work, nil
}

func (r *Receiver) applyProxyMessage(msg ConductorToReceiver) {
	if msg.AddImage != nil {
		img := msg.AddImage
		e := &imageEntry{img: img}
		if reply, ok := r.pendingReply[pendingReplyKey{img.SessionID, img.StreamID}]; ok {
			e.transport = reply.transport
			e.remote = reply.remote
			delete(r.pendingReply, pendingReplyKey{img.SessionID, img.StreamID})
		}
		r.entries.Put(img.RegistrationID, e)
		r.bySession.Put(img.SessionID, img.StreamID, e)
		r.dispatcher.AddImage(img)
		img.Activate(time.Now())
	}
	if msg.RemoveImage != nil {
		img := msg.RemoveImage
		r.entries.Remove(img.RegistrationID)
		r.bySession.Remove(img.SessionID, img.StreamID)
		r.dispatcher.RemoveImage(img.SessionID, img.StreamID)
	}
	if msg.Subscribe != nil {
		sub := msg.Subscribe
		r.dispatcher.Subscribe(sub.StreamID, dispatcher.Subscribable{StreamID: sub.StreamID, Channel: sub.Channel})
	}
	if msg.Unsubscribe != nil {
		sub := msg.Unsubscribe
		r.dispatcher.Unsubscribe(sub.StreamID, sub.Channel)
	}
	if msg.AddTransport != nil {
		r.AddTransport(msg.AddTransport)
	}
}

// pollTransports drains every direct (non-fd) transport every cycle,
// and, for fd-backed transports, asks the poller which ones became
// readable since the last call rather than probing each one in turn.
func (r *Receiver) pollTransports(now time.Time) int {
	work := 0
	for _, t := range r.directPoll {
		work += r.pollTransport(t, now)
	}

	if r.poller == nil || len(r.pollableByFD) == 0 {
		return work
	}
	ready, err := r.poller.Poll(0)
	if err != nil {
		r.logger.Warn().Err(err).Msg("poller: epoll_wait failed")
		return work
	}
	for _, sock := range ready {
		if t, ok := r.pollableByFD[sock.Fd()]; ok {
			work += r.pollTransport(t, now)
		}
	}
	return work
}

func (r *Receiver) pollTransport(t Transport, now time.Time) int {
	work := 0
	for i := 0; i < maxFramesPerTransportCycle; i++ {
		n, from, err := t.ReceiveFrom(r.recvBuf)
		if err != nil || n == 0 {
			break
		}
		buf := r.recvBuf[:n]
		r.onDatagram(t, buf, from, now)
		r.countersMgr.Increment(r.bytesReceivedCounterID, int64(n))
		work++
	}
	return work
}

func (r *Receiver) onDatagram(t Transport, buf []byte, from netip.AddrPort, now time.Time) {
	sourceIdentity := from.String()
	sessionID := logbuffer.SessionID(buf, 0)
	streamID := logbuffer.StreamID(buf, 0)

	outcome := r.dispatcher.OnFrame(buf, sourceIdentity, now)

	switch outcome {
	case dispatcher.OutcomeSetupQueued:
		r.pendingReply[pendingReplyKey{sessionID, streamID}] = replyInfo{transport: t, remote: from}

	case dispatcher.OutcomePending:
		// DATA/PAD for a stream we want but have no image for yet. A
		// bare data frame carries no term_length/MTU, so there is
		// nothing safe to hand the Conductor's allocator here; the
		// matching publication's periodic SETUP resend (see
		// Sender.sendHeartbeatOrSetup) is what actually elevates this
		// to OutcomeSetupQueued once it arrives.

	case dispatcher.OutcomeRouted:
		e, ok := r.bySession.Get(sessionID, streamID)
		if !ok {
			return
		}
		e.transport = t
		e.remote = from
		r.rebuild(e.img, buf)
	}
}

// rebuild inserts a received DATA/PAD frame into its image's term
// buffer and advances the high-water mark. frame_length is 0 for a
// keep-alive heartbeat carrying no payload past the header, which still
// counts as activity but has nothing to insert.
func (r *Receiver) rebuild(img *image.Image, buf []byte) {
	if logbuffer.FrameType(buf, 0) != logbuffer.FrameTypeData && logbuffer.FrameType(buf, 0) != logbuffer.FrameTypePad {
		return
	}
	frameLen := int32(len(buf))
	if frameLen <= logbuffer.DataHeaderLength {
		return
	}

	termID := logbuffer.TermID(buf, 0)
	termOffset := logbuffer.TermOffsetField(buf, 0)
	bitsToShift := img.PositionBitsToShift()
	partition := logbuffer.ComputeTermIndex(termID)
	term := img.LogBuffer.Terms[partition]

	aligned := logbuffer.AlignFrame(frameLen)
	if termOffset < 0 || int64(termOffset)+int64(aligned) > int64(len(term)) {
		return
	}

	frame := make([]byte, aligned)
	copy(frame, buf)
	logbuffer.Insert(term, termOffset, frame)

	pos := int64(logbuffer.ComputePosition(termID, img.InitialTermID, int32(bitsToShift), termOffset)) + int64(aligned)
	if pos > img.HighWaterMarkPosition {
		img.HighWaterMarkPosition = pos
	}
}

// scanImage runs the loss detector and congestion control for one
// active image, emitting a NAK and/or status message if either decided
// one is due this cycle.
func (r *Receiver) scanImage(e *imageEntry, now time.Time) int {
	img := e.img
	if img.State != image.StateActive {
		return 0
	}

	if img.IsEndOfStream() || img.IsInactive(now, r.inactivityTimeout) {
		img.BeginDraining(now)
		r.toConductor.Offer(ReceiverToConductor{ImageInactive: img})
		return 1
	}

	work := 0
	bitsToShift := img.PositionBitsToShift()
	termID := logbuffer.ComputeTermID(logbuffer.Position(img.RebuildPosition), img.InitialTermID, bitsToShift)
	partition := logbuffer.ComputeTermIndex(termID)
	term := img.LogBuffer.Terms[partition]
	hwmOffset := logbuffer.ComputeTermOffset(logbuffer.Position(img.HighWaterMarkPosition), bitsToShift)

	if img.LossDetector != nil {
		if nak, emit := img.LossDetector.Scan(term, termID, hwmOffset, now); emit {
			work += r.sendNAK(e, nak)
		}
	}
	img.RebuildPosition = rebuildPositionFromScan(img, term, termID, hwmOffset, bitsToShift)

	if img.CongestionControl != nil {
		_, window := img.CongestionControl.OnTrackRebuild(now, img.RebuildPosition, img.LastStatusMessagePosition, img.HighWaterMarkPosition, 0)
		if img.RebuildPosition > img.LastStatusMessagePosition && now.Sub(img.LastStatusMessageAt) >= statusMessageMinInterval {
			work += r.sendStatusMessage(e, window, now)
		}
	}

	return work
}

// rebuildPositionFromScan recomputes the image's rebuild position from
// the term's own contiguous-length accounting rather than trusting the
// loss detector's internal scanPosition directly, since the detector
// only reports gaps, not the full position.
func rebuildPositionFromScan(img *image.Image, term []byte, termID int32, hwmOffset int32, bitsToShift uint) int64 {
	contiguousTo, _ := logbuffer.ScanForGap(term, termID, logbuffer.ComputeTermOffset(logbuffer.Position(img.RebuildPosition), bitsToShift), hwmOffset)
	return int64(logbuffer.ComputePosition(termID, img.InitialTermID, int32(bitsToShift), contiguousTo))
}

func (r *Receiver) sendNAK(e *imageEntry, nak *lossdetect.NAK) int {
	if e.transport == nil {
		return 0
	}
	payload := logbuffer.PutNAK(logbuffer.NAK{
		SessionID:  e.img.SessionID,
		StreamID:   e.img.StreamID,
		TermID:     nak.TermID,
		TermOffset: nak.Offset,
		Length:     nak.Length,
	})
	if _, err := e.transport.SendTo(payload, e.remote); err != nil {
		return 0
	}
	r.countersMgr.Increment(r.naksSentCounterID, 1)
	return 1
}

func (r *Receiver) sendStatusMessage(e *imageEntry, window int32, now time.Time) int {
	if e.transport == nil {
		return 0
	}
	img := e.img
	bitsToShift := img.PositionBitsToShift()
	termID := logbuffer.ComputeTermID(logbuffer.Position(img.RebuildPosition), img.InitialTermID, bitsToShift)
	termOffset := logbuffer.ComputeTermOffset(logbuffer.Position(img.RebuildPosition), bitsToShift)

	payload := logbuffer.PutStatusMessage(logbuffer.StatusMessage{
		SessionID:              img.SessionID,
		StreamID:               img.StreamID,
		ConsumptionTermID:      termID,
		ConsumptionTermOffset:  termOffset,
		ReceiverWindowLength:   window,
		ReceiverID:             img.ReceiverID,
	})
	if _, err := e.transport.SendTo(payload, e.remote); err != nil {
		return 0
	}
	img.LastStatusMessagePosition = img.RebuildPosition
	img.LastStatusMessageAt = now
	r.countersMgr.Increment(r.smsSentCounterID, 1)
	return 1
}
