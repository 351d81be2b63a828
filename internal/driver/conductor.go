package driver

import (
	"fmt"
	"hash/fnv"
	"net/netip"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowdriver/flowdriver/internal/chanuri"
	"github.com/flowdriver/flowdriver/internal/congestioncontrol"
	"github.com/flowdriver/flowdriver/internal/counters"
	"github.com/flowdriver/flowdriver/internal/dispatcher"
	"github.com/flowdriver/flowdriver/internal/endpoint"
	"github.com/flowdriver/flowdriver/internal/flowcontrol"
	"github.com/flowdriver/flowdriver/internal/image"
	"github.com/flowdriver/flowdriver/internal/logbuffer"
	"github.com/flowdriver/flowdriver/internal/lossdetect"
	"github.com/flowdriver/flowdriver/internal/protocol"
	"github.com/flowdriver/flowdriver/internal/publication"
	"github.com/flowdriver/flowdriver/internal/ringbuf"
	"github.com/flowdriver/flowdriver/internal/transport/udp"
)

// ConductorConfig carries every tunable the Conductor needs that isn't
// learned from a channel URI: resource limits, the defaults a channel URI
// can override, and the sweep/timeout intervals that apply driver-wide
// rather than per-channel.
type ConductorConfig struct {
	LogBufferDir  string
	MaxCounters   int32
	TermLength    int32
	MTU           int32
	InitialTermID int32

	SweepInterval             time.Duration
	ClientLivenessTimeout     time.Duration
	PublicationLingerTimeout  time.Duration
	PublicationUnblockTimeout time.Duration
	ImageInactivityTimeout    time.Duration
	ImageLingerTimeout        time.Duration

	FlowControlReceiverTimeout time.Duration
	FlowControlPolicy          flowcontrol.ReceiverTimeoutPolicy

	UseCubicCongestion  bool
	CongestionWindowMin int32
	CongestionWindowMax int32

	LossCheckDelay time.Duration
	LossMaxBackoff time.Duration

	Sender SenderConfig
	Socket endpoint.SocketConfig
}

// SenderSpawner starts a freshly constructed Sender agent on its own
// Runner. Supplied by cmd/flowdriverd/main.go, the same place that decides
// dedicated vs. shared threading mode for every other agent — the
// Conductor itself only ever decides *that* a new egress endpoint needs a
// Sender, never *how* it gets scheduled.
type SenderSpawner func(s *Sender, channel string)

type senderHandle struct {
	endpoint *endpoint.Endpoint
	proxy    *SenderProxy
}

type pubConductorEntry struct {
	pub            *publication.Publication
	lastSenderPos  int64
	lastProgressAt time.Time
}

// Conductor is the driver's sole registry mutator: it decodes client
// commands off the MPSC command ring, creates and tears down
// publications/subscriptions/images/counters, resolves channel URIs into
// bound endpoints, and runs the periodic sweeps in timers.go (client
// liveness, DRAINING/LINGER/CLOSED advancement, stalled-producer
// unblocking). Every Sender and Receiver only ever sees pointers the
// Conductor has already registered.
type Conductor struct {
	roleName string

	commandRing    *ringbuf.MPSC
	eventBroadcast *ringbuf.Broadcast

	registries *Registries
	allocator  *LogBufferAllocator

	receiverProxy *ReceiverProxy
	fromReceiver  *ConductorProxy
	spawnSender   SenderSpawner

	senders         map[string]*senderHandle   // canonical channel -> egress endpoint
	receiveEndpoints map[string]*endpoint.Endpoint // canonical channel -> ingress endpoint

	logFileNames map[int64]string // registration id -> log buffer file name

	pubEntries    map[int64]*pubConductorEntry // registration id -> unblock bookkeeping
	pendingImages map[int64]struct{}           // packed (session,stream) -> in-flight createImage

	cfg ConductorConfig

	countersMgr                                              *counters.Manager
	heartbeatCounterID, clientTimeoutsCounterID, unblockedCounterID int32

	errorLog *counters.DistinctErrorLog
	logger   zerolog.Logger

	lastSweepAt time.Time
	terminated  bool
}

// NewConductor constructs a Conductor. spawnSender may be nil in tests
// that never exercise network publications.
func NewConductor(
	commandRing *ringbuf.MPSC,
	eventBroadcast *ringbuf.Broadcast,
	receiverProxy *ReceiverProxy,
	fromReceiver *ConductorProxy,
	spawnSender SenderSpawner,
	cfg ConductorConfig,
	logger zerolog.Logger,
) *Conductor {
	registries := NewRegistries(cfg.MaxCounters)
	c := &Conductor{
		roleName:         "conductor",
		commandRing:      commandRing,
		eventBroadcast:   eventBroadcast,
		registries:       registries,
		allocator:        NewLogBufferAllocator(cfg.LogBufferDir),
		receiverProxy:    receiverProxy,
		fromReceiver:     fromReceiver,
		spawnSender:      spawnSender,
		senders:          make(map[string]*senderHandle),
		receiveEndpoints: make(map[string]*endpoint.Endpoint),
		logFileNames:     make(map[int64]string),
		pubEntries:       make(map[int64]*pubConductorEntry),
		pendingImages:    make(map[int64]struct{}),
		cfg:              cfg,
		countersMgr:      registries.Counters,
		logger:           logger.With().Str("agent", "conductor").Logger(),
	}
	c.errorLog = counters.NewDistinctErrorLog(c.logger, 64)
	c.heartbeatCounterID = registries.Counters.Allocate(counters.TypeDriverHeartbeat, "driver-heartbeat")
	c.clientTimeoutsCounterID = registries.Counters.Allocate(counters.TypeClientTimeouts, "client-timeouts")
	c.unblockedCounterID = registries.Counters.Allocate(counters.TypePublicationUnblocked, "publications-unblocked")
	return c
}

func (c *Conductor) RoleName() string { return c.roleName }

func (c *Conductor) OnClose() {
	for _, h := range c.senders {
		_ = h.endpoint.Close()
	}
	for _, e := range c.receiveEndpoints {
		_ = e.Close()
	}
}

// Terminated reports whether a client has sent TERMINATE_DRIVER.
// cmd/flowdriverd/main.go does not consult it: the daemon shuts down only
// on SIGINT/SIGTERM.
func (c *Conductor) Terminated() bool { return c.terminated }

// Counters returns the counters manager backing this Conductor's
// registries, so cmd/flowdriverd/main.go can hand the same Manager to the
// Receiver it constructs alongside it: both agents allocate counters out
// of one shared pool.
func (c *Conductor) Counters() *counters.Manager { return c.countersMgr }

func (c *Conductor) DoWork() (int, error) {
	work := 0

	work += c.commandRing.Read(c.onCommandRecord)

	for {
		msg, ok := c.fromReceiver.Poll()
		if !ok {
			break
		}
		c.applyReceiverMessage(msg)
		work++
	}

	now := time.Now()
	if now.Sub(c.lastSweepAt) >= c.cfg.SweepInterval {
		work += c.sweepClients(now)
		work += c.sweepPublications(now)
		work += c.sweepImages(now)
		work += c.sweepUnblock(now)
		c.countersMgr.Set(c.heartbeatCounterID, now.UnixNano())
		c.lastSweepAt = now
	}

	return work, nil
}

func (c *Conductor) onCommandRecord(_ int32, payload []byte) {
	cmd, err := protocol.DecodeCommand(payload)
	if err != nil {
		c.errorLog.Record(fmt.Sprintf("malformed command: %v", err))
		return
	}
	c.handleCommand(cmd, time.Now())
}

func (c *Conductor) handleCommand(cmd protocol.Command, now time.Time) {
	switch cmd.Type {
	case protocol.AddPublication:
		c.handleAddPublication(cmd, false, now)
	case protocol.AddExclusivePublication:
		c.handleAddPublication(cmd, true, now)
	case protocol.RemovePublication:
		c.handleRemovePublication(cmd, now)
	case protocol.AddSubscription:
		c.handleAddSubscription(cmd, now)
	case protocol.RemoveSubscription:
		c.handleRemoveSubscription(cmd, now)
	case protocol.AddCounter:
		c.handleAddCounter(cmd)
	case protocol.RemoveCounter:
		c.handleRemoveCounter(cmd)
	case protocol.ClientKeepalive:
		c.handleClientKeepalive(cmd, now)
	case protocol.AddDestination:
		c.handleDestination(cmd, false)
	case protocol.RemoveDestination:
		c.handleDestination(cmd, true)
	case protocol.TerminateDriver:
		c.terminated = true
	default:
		c.emitError(cmd.CorrelationID, protocol.ErrorGeneric, fmt.Sprintf("unknown command type %d", cmd.Type))
	}
}

func (c *Conductor) emitEvent(e protocol.Event) {
	c.eventBroadcast.Transmit(int32(e.Type), protocol.EncodeEvent(e))
}

func (c *Conductor) emitError(correlationID int64, code protocol.ErrorCode, message string) {
	c.errorLog.Record(message)
	c.emitEvent(protocol.NewError(correlationID, code, message))
}

// --- publications ----------------------------------------------------

func (c *Conductor) resolveSessionID(u chanuri.URI) (sessionID int32, explicit bool, err error) {
	v, ok := u.Get(chanuri.KeySessionID)
	if !ok {
		return 0, false, nil
	}
	n, perr := strconv.ParseInt(v, 10, 32)
	if perr != nil {
		return 0, false, fmt.Errorf("invalid session-id %q: %w", v, perr)
	}
	return int32(n), true, nil
}

func (c *Conductor) handleAddPublication(cmd protocol.Command, exclusive bool, now time.Time) {
	u, err := chanuri.Parse(cmd.Channel)
	if err != nil {
		c.emitError(cmd.CorrelationID, protocol.ErrorInvalidChannel, err.Error())
		return
	}
	canonical := u.CanonicalForm()

	sessionID, explicit, err := c.resolveSessionID(u)
	if err != nil {
		c.emitError(cmd.CorrelationID, protocol.ErrorInvalidChannel, err.Error())
		return
	}

	if !exclusive {
		var existing *publication.Publication
		var found bool
		if explicit {
			existing, found = c.registries.FindPublication(sessionID, cmd.StreamID, canonical)
		} else {
			existing, found = c.registries.FindPublicationByStream(cmd.StreamID, canonical)
		}
		if found {
			existing.IncRef()
			c.registerClientPublication(cmd.ClientID, existing.RegistrationID)
			c.emitEvent(protocol.NewPublicationReady(cmd.CorrelationID, existing.RegistrationID, existing.StreamID, existing.SessionID, c.logFileNames[existing.RegistrationID]))
			return
		}
	}
	if !explicit {
		sessionID = c.registries.NextSessionID()
	}

	termLength, err := u.GetInt32(chanuri.KeyTermLength, c.cfg.TermLength)
	if err != nil {
		c.emitError(cmd.CorrelationID, protocol.ErrorInvalidChannel, err.Error())
		return
	}
	mtu, err := u.GetInt32(chanuri.KeyMTU, c.cfg.MTU)
	if err != nil {
		c.emitError(cmd.CorrelationID, protocol.ErrorInvalidChannel, err.Error())
		return
	}
	initialTermID, err := u.GetInt32(chanuri.KeyInitTermID, c.cfg.InitialTermID)
	if err != nil {
		c.emitError(cmd.CorrelationID, protocol.ErrorInvalidChannel, err.Error())
		return
	}

	regID := c.registries.NextRegistrationID()

	var lb *logbuffer.LogBuffer
	var fileName string
	kind := publication.KindNetwork
	if u.Media == chanuri.MediaIPC {
		kind = publication.KindIPC
		lb = AllocateInMemory(termLength, mtu, initialTermID)
	} else {
		lb, fileName, err = c.allocator.Allocate(regID, termLength, mtu, initialTermID)
		if err != nil {
			c.emitError(cmd.CorrelationID, protocol.ErrorResourceTemporarilyUnavailable, err.Error())
			return
		}
	}

	p := publication.NewPublication(regID, sessionID, cmd.StreamID, canonical, kind, lb)

	var sendProxy *SenderProxy
	if kind == publication.KindNetwork {
		sp, destination, manual, err := c.ensureSendEndpoint(canonical, u)
		if err != nil {
			c.emitError(cmd.CorrelationID, protocol.ErrorResourceTemporarilyUnavailable, err.Error())
			return
		}
		sendProxy = sp
		if manual {
			p.Destinations = udp.NewDestinationTracker()
		} else {
			p.Destination = destination
		}
		if u.IsMulticast() {
			p.FlowControl = flowcontrol.NewMulticastMin(termLength, c.cfg.FlowControlReceiverTimeout, c.cfg.FlowControlPolicy)
		} else {
			p.FlowControl = flowcontrol.NewUnicastMax(termLength)
		}
	}

	p.PositionLimitCounterID = c.registries.Counters.Allocate(counters.TypePublicationPositionLimit, fmt.Sprintf("pub-limit-%d", regID))

	c.registries.RegisterPublication(p)
	c.logFileNames[regID] = fileName
	c.registerClientPublication(cmd.ClientID, regID)

	if kind == publication.KindNetwork {
		c.pubEntries[regID] = &pubConductorEntry{pub: p, lastProgressAt: now}
		sendProxy.Offer(ConductorToSender{AddPublication: p})
	} else {
		// IPC publications skip the Sender entirely; a same-process
		// subscriber reads c.attachLocalPublication's registered log
		// buffer directly.
		if sub, ok := c.subscriptionsForStream(cmd.StreamID, canonical); ok {
			for _, s := range sub {
				c.attachLocalPublication(s, p)
			}
		}
	}

	ev := protocol.NewPublicationReady(cmd.CorrelationID, regID, cmd.StreamID, sessionID, fileName)
	ev.PositionLimitID = p.PositionLimitCounterID
	c.emitEvent(ev)
}

// ensureSendEndpoint opens (or reuses) the egress endpoint for canonical,
// spawning a dedicated Sender agent the first time a publication needs
// it. Returns the endpoint's destination and whether it is manual-mode
// MDC (in which case the caller wires a DestinationTracker instead).
func (c *Conductor) ensureSendEndpoint(canonical string, u chanuri.URI) (*SenderProxy, netip.AddrPort, bool, error) {
	manual := u.GetDefault(chanuri.KeyControlMode, "") == chanuri.ControlModeManual
	if h, ok := c.senders[canonical]; ok {
		return h.proxy, h.endpoint.Destination, manual, nil
	}
	ep, err := endpoint.Open(u, c.cfg.Socket)
	if err != nil {
		return nil, netip.AddrPort{}, manual, err
	}
	proxy := NewSenderProxy()
	snd := NewSender(proxy, ep.Socket, c.cfg.Sender, c.countersMgr, c.logger)
	c.senders[canonical] = &senderHandle{endpoint: ep, proxy: proxy}
	if c.spawnSender != nil {
		c.spawnSender(snd, canonical)
	}
	return proxy, ep.Destination, manual, nil
}

func (c *Conductor) handleRemovePublication(cmd protocol.Command, now time.Time) {
	p, ok := c.registries.PublicationsByReg.Get(cmd.RegistrationID)
	if !ok {
		c.emitError(cmd.CorrelationID, protocol.ErrorUnknownPublication, fmt.Sprintf("unknown publication %d", cmd.RegistrationID))
		return
	}
	c.unregisterClientPublication(cmd.ClientID, cmd.RegistrationID)
	if !p.DecRef() {
		c.emitEvent(protocol.NewOperationSuccess(cmd.CorrelationID))
		return
	}
	p.BeginDraining(now)
	p.LogBuffer.Meta.SetEndOfStreamPositionOrdered(p.SenderPosition)
	c.emitEvent(protocol.NewOperationSuccess(cmd.CorrelationID))
}

func (c *Conductor) closePublication(p *publication.Publication) {
	c.registries.UnregisterPublication(p)
	c.registries.Counters.Free(p.PositionLimitCounterID)
	for _, id := range p.SubscriberPositionIDs {
		c.registries.Counters.Free(id)
	}
	delete(c.logFileNames, p.RegistrationID)
	if entry, ok := c.pubEntries[p.RegistrationID]; ok {
		delete(c.pubEntries, p.RegistrationID)
		if h, ok := c.senders[p.Channel]; ok {
			h.proxy.Offer(ConductorToSender{RemovePublication: entry.pub})
		}
	}
	p.Close()
	// TODO: unmap/truncate the log buffer file via LogBufferAllocator once
	// it tracks each mapping's byte length; for now the mapping stays
	// resident for the rest of the driver's lifetime.
}

// --- subscriptions -----------------------------------------------------

func (c *Conductor) handleAddSubscription(cmd protocol.Command, now time.Time) {
	u, err := chanuri.Parse(cmd.Channel)
	if err != nil {
		c.emitError(cmd.CorrelationID, protocol.ErrorInvalidChannel, err.Error())
		return
	}
	canonical := u.CanonicalForm()

	regID := c.registries.NextRegistrationID()
	sub := &Subscription{
		RegistrationID:    regID,
		ClientID:          cmd.ClientID,
		StreamID:          cmd.StreamID,
		Channel:           canonical,
		PositionCounterID: make(map[int64]int32),
	}
	c.registries.SubscriptionsByReg.Put(regID, sub)
	c.registerClientSubscription(cmd.ClientID, regID)

	if u.Media == chanuri.MediaIPC {
		if p, ok := c.registries.FindPublicationByStream(cmd.StreamID, canonical); ok {
			c.attachLocalPublication(sub, p)
		}
		c.emitEvent(protocol.NewSubscriptionReady(cmd.CorrelationID, regID))
		return
	}

	if _, ok := c.receiveEndpoints[canonical]; !ok {
		ep, err := endpoint.Open(u, c.cfg.Socket)
		if err != nil {
			c.emitError(cmd.CorrelationID, protocol.ErrorResourceTemporarilyUnavailable, err.Error())
			return
		}
		c.receiveEndpoints[canonical] = ep
		c.receiverProxy.Offer(ConductorToReceiver{AddTransport: ep.Socket})
	}
	c.receiverProxy.Offer(ConductorToReceiver{Subscribe: &subscribeRequest{StreamID: cmd.StreamID, Channel: canonical}})

	for _, img := range c.imagesForStream(cmd.StreamID, canonical) {
		c.attachImageToSubscription(sub, img)
	}

	c.emitEvent(protocol.NewSubscriptionReady(cmd.CorrelationID, regID))
}

func (c *Conductor) handleRemoveSubscription(cmd protocol.Command, now time.Time) {
	sub, ok := c.registries.SubscriptionsByReg.Get(cmd.RegistrationID)
	if !ok {
		c.emitError(cmd.CorrelationID, protocol.ErrorUnknownSubscription, fmt.Sprintf("unknown subscription %d", cmd.RegistrationID))
		return
	}
	c.unregisterClientSubscription(cmd.ClientID, cmd.RegistrationID)

	for imgRegID, counterID := range sub.PositionCounterID {
		c.registries.Counters.Free(counterID)
		if p, ok := c.registries.PublicationsByReg.Get(imgRegID); ok {
			p.SubscriberPositionIDs = removeInt32(p.SubscriberPositionIDs, counterID)
		}
	}
	c.registries.SubscriptionsByReg.Remove(cmd.RegistrationID)

	if !c.anySubscriptionOn(sub.StreamID, sub.Channel) {
		c.receiverProxy.Offer(ConductorToReceiver{Unsubscribe: &unsubscribeRequest{StreamID: sub.StreamID, Channel: sub.Channel}})
	}

	c.emitEvent(protocol.NewOperationSuccess(cmd.CorrelationID))
}

func (c *Conductor) anySubscriptionOn(streamID int32, channel string) bool {
	for _, s := range c.registries.SubscriptionsByReg.Values() {
		if s.StreamID == streamID && s.Channel == channel {
			return true
		}
	}
	return false
}

func (c *Conductor) subscriptionsForStream(streamID int32, channel string) ([]*Subscription, bool) {
	var out []*Subscription
	for _, s := range c.registries.SubscriptionsByReg.Values() {
		if s.StreamID == streamID && s.Channel == channel {
			out = append(out, s)
		}
	}
	return out, len(out) > 0
}

func (c *Conductor) imagesForStream(streamID int32, channel string) []*image.Image {
	var out []*image.Image
	for _, img := range c.registries.ImagesByReg.Values() {
		if img.StreamID == streamID && img.Channel == channel && img.State == image.StateActive {
			out = append(out, img)
		}
	}
	return out
}

// attachImageToSubscription allocates a subscriber-position counter and
// reports AVAILABLE_IMAGE, used both for a freshly created image and for
// a late-joining subscription finding an already-active one.
func (c *Conductor) attachImageToSubscription(sub *Subscription, img *image.Image) {
	counterID := c.registries.Counters.Allocate(counters.TypeSubscriberPosition, fmt.Sprintf("sub-%d-img-%d", sub.RegistrationID, img.RegistrationID))
	sub.ImageRegistrationIDs = append(sub.ImageRegistrationIDs, img.RegistrationID)
	sub.PositionCounterID[img.RegistrationID] = counterID
	// AVAILABLE_IMAGE carries correlation id -1 rather than the
	// ADD_SUBSCRIPTION's own (on the late-join path it is emitted before
	// that command's SUBSCRIPTION_READY); a client matches it to a
	// subscription by (stream id, channel) rather than correlation id.
	c.emitEvent(protocol.NewAvailableImage(-1, img.RegistrationID, img.StreamID, img.SessionID, counterID, c.logFileNames[img.RegistrationID], img.SourceIdentity))
}

// attachLocalPublication wires a same-process IPC subscription directly
// to its publisher's log buffer; there is no Image, so the publication's
// own SubscriberPositionIDs tracks the consumed watermark instead.
func (c *Conductor) attachLocalPublication(sub *Subscription, p *publication.Publication) {
	counterID := c.registries.Counters.Allocate(counters.TypeSubscriberPosition, fmt.Sprintf("sub-%d-pub-%d", sub.RegistrationID, p.RegistrationID))
	p.SubscriberPositionIDs = append(p.SubscriberPositionIDs, counterID)
	sub.ImageRegistrationIDs = append(sub.ImageRegistrationIDs, p.RegistrationID)
	sub.PositionCounterID[p.RegistrationID] = counterID
	c.emitEvent(protocol.NewAvailableImage(-1, p.RegistrationID, p.StreamID, p.SessionID, counterID, c.logFileNames[p.RegistrationID], "ipc"))
}

// --- images --------------------------------------------------------------

func packSessionStream(sessionID, streamID int32) int64 {
	return int64(sessionID)<<32 | int64(uint32(streamID))
}

func (c *Conductor) applyReceiverMessage(msg ReceiverToConductor) {
	now := time.Now()
	if msg.RequestImage != nil {
		c.createImage(*msg.RequestImage, now)
	}
	if msg.ImageInactive != nil {
		c.onImageInactive(msg.ImageInactive)
	}
}

func (c *Conductor) createImage(info dispatcher.SetupInfo, now time.Time) {
	if _, ok := c.registries.ImagesBySS.Get(info.SessionID, info.StreamID); ok {
		return
	}
	key := packSessionStream(info.SessionID, info.StreamID)
	if _, pending := c.pendingImages[key]; pending {
		return
	}
	c.pendingImages[key] = struct{}{}
	defer delete(c.pendingImages, key)

	regID := c.registries.NextRegistrationID()
	lb, fileName, err := c.allocator.Allocate(regID, info.TermLength, info.MTU, info.InitialTermID)
	if err != nil {
		c.errorLog.Record(fmt.Sprintf("allocate image log buffer: %v", err))
		return
	}

	bitsToShift := int32(logbuffer.PositionBitsToShift(info.TermLength))
	initialPosition := int64(logbuffer.ComputePosition(info.ActiveTermID, info.InitialTermID, bitsToShift, 0))

	var cc congestioncontrol.Strategy
	if c.cfg.UseCubicCongestion {
		cc = congestioncontrol.NewCubic(c.cfg.CongestionWindowMin, c.cfg.CongestionWindowMax)
	} else {
		cc = congestioncontrol.NewStaticWindow(c.cfg.CongestionWindowMin)
	}
	ld := lossdetect.NewDetector(initialPosition, c.cfg.LossCheckDelay, c.cfg.LossMaxBackoff)
	receiverID := c.registries.NextRegistrationID()

	img := image.NewImage(regID, info.SessionID, info.StreamID, info.InitialTermID, info.Channel, info.SourceIdentity, lb, initialPosition, cc, ld, receiverID)

	c.registries.RegisterImage(img)
	c.logFileNames[regID] = fileName

	c.receiverProxy.Offer(ConductorToReceiver{AddImage: img})

	for _, sub := range c.subscriptionsForStreamSlice(info.StreamID, info.Channel) {
		c.attachImageToSubscription(sub, img)
	}
}

func (c *Conductor) subscriptionsForStreamSlice(streamID int32, channel string) []*Subscription {
	out, _ := c.subscriptionsForStream(streamID, channel)
	return out
}

func (c *Conductor) onImageInactive(img *image.Image) {
	for _, sub := range c.subscriptionsForStreamSlice(img.StreamID, img.Channel) {
		if _, ok := sub.PositionCounterID[img.RegistrationID]; ok {
			c.emitEvent(protocol.NewUnavailableImage(-1, img.RegistrationID, img.StreamID))
		}
	}
}

func (c *Conductor) closeImage(img *image.Image) {
	for _, sub := range c.registries.SubscriptionsByReg.Values() {
		if counterID, ok := sub.PositionCounterID[img.RegistrationID]; ok {
			c.registries.Counters.Free(counterID)
			delete(sub.PositionCounterID, img.RegistrationID)
			sub.ImageRegistrationIDs = removeInt64(sub.ImageRegistrationIDs, img.RegistrationID)
		}
	}
	c.registries.UnregisterImage(img)
	delete(c.logFileNames, img.RegistrationID)
	img.Close()
	c.receiverProxy.Offer(ConductorToReceiver{RemoveImage: img})
}

// --- counters ------------------------------------------------------------

func (c *Conductor) handleAddCounter(cmd protocol.Command) {
	counterID := c.registries.Counters.Allocate(cmd.CounterTypeID, cmd.CounterLabel)
	if counterID < 0 {
		c.emitError(cmd.CorrelationID, protocol.ErrorResourceTemporarilyUnavailable, "counters exhausted")
		return
	}
	regID := c.registries.NextRegistrationID()
	c.registries.CountersByReg.Put(regID, counterID)
	c.emitEvent(protocol.NewCounterReady(cmd.CorrelationID, regID))
}

func (c *Conductor) handleRemoveCounter(cmd protocol.Command) {
	counterID, ok := c.registries.CountersByReg.Get(cmd.RegistrationID)
	if !ok {
		c.emitError(cmd.CorrelationID, protocol.ErrorUnknownCounter, fmt.Sprintf("unknown counter %d", cmd.RegistrationID))
		return
	}
	c.registries.Counters.Free(counterID)
	c.registries.CountersByReg.Remove(cmd.RegistrationID)
	c.emitEvent(protocol.NewOperationSuccess(cmd.CorrelationID))
}

// --- clients -------------------------------------------------------------

func (c *Conductor) ensureClient(clientID int64) *Client {
	if cl, ok := c.registries.ClientsByID.Get(clientID); ok {
		return cl
	}
	cl := &Client{ClientID: clientID}
	c.registries.ClientsByID.Put(clientID, cl)
	return cl
}

func (c *Conductor) handleClientKeepalive(cmd protocol.Command, now time.Time) {
	c.ensureClient(cmd.ClientID).LastKeepaliveAt = now
}

func (c *Conductor) registerClientPublication(clientID, regID int64) {
	cl := c.ensureClient(clientID)
	cl.Publications = append(cl.Publications, regID)
}

func (c *Conductor) unregisterClientPublication(clientID, regID int64) {
	if cl, ok := c.registries.ClientsByID.Get(clientID); ok {
		cl.Publications = removeInt64(cl.Publications, regID)
	}
}

func (c *Conductor) registerClientSubscription(clientID, regID int64) {
	cl := c.ensureClient(clientID)
	cl.Subscriptions = append(cl.Subscriptions, regID)
}

func (c *Conductor) unregisterClientSubscription(clientID, regID int64) {
	if cl, ok := c.registries.ClientsByID.Get(clientID); ok {
		cl.Subscriptions = removeInt64(cl.Subscriptions, regID)
	}
}

// --- destinations (manual-mode MDC) --------------------------------------

// destinationKey derives a stable identity for an MDC destination from
// its resolved address, so ADD_DESTINATION and REMOVE_DESTINATION agree
// on which entry to touch without needing a dedicated wire field beyond
// the destination's own address string.
func destinationKey(addr netip.AddrPort) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(addr.String()))
	return int64(h.Sum64())
}

func (c *Conductor) handleDestination(cmd protocol.Command, remove bool) {
	p, ok := c.registries.PublicationsByReg.Get(cmd.RegistrationID)
	if !ok {
		c.emitError(cmd.CorrelationID, protocol.ErrorUnknownPublication, fmt.Sprintf("unknown publication %d", cmd.RegistrationID))
		return
	}
	if p.Destinations == nil {
		c.emitError(cmd.CorrelationID, protocol.ErrorInvalidChannel, "publication channel is not manual-control-mode MDC")
		return
	}
	addr, err := endpoint.ResolveAddress(cmd.Channel)
	if err != nil {
		c.emitError(cmd.CorrelationID, protocol.ErrorInvalidChannel, err.Error())
		return
	}
	if remove {
		p.Destinations.Remove(destinationKey(addr))
	} else {
		p.Destinations.Add(destinationKey(addr), addr)
	}
	c.emitEvent(protocol.NewOperationSuccess(cmd.CorrelationID))
}

// --- small slice helpers --------------------------------------------------

func removeInt64(s []int64, v int64) []int64 {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func removeInt32(s []int32, v int32) []int32 {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
