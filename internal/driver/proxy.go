package driver

import (
	"github.com/flowdriver/flowdriver/internal/dispatcher"
	"github.com/flowdriver/flowdriver/internal/image"
	"github.com/flowdriver/flowdriver/internal/publication"
)

// The Conductor, Sender, and Receiver share one process address space
// (unlike the client<->driver boundary, which crosses real process
// memory over cnc.dat and genuinely needs the SPSC/MPSC/Broadcast ring
// buffers). Buffered channels with a non-blocking send/receive give the
// same never-block-the-agent's-DoWork contract that boundary needs too,
// without forcing live pointers through a byte-oriented wire format
// meant for cross-process data.

const proxyQueueCapacity = 4096

// ConductorToSender is a message the Conductor hands to the Sender.
type ConductorToSender struct {
	AddPublication    *publication.Publication
	RemovePublication *publication.Publication // SenderPosition already final
}

// ConductorToReceiver is a message the Conductor hands to the Receiver.
type ConductorToReceiver struct {
	AddImage    *image.Image
	RemoveImage *image.Image
	Subscribe   *subscribeRequest
	Unsubscribe *unsubscribeRequest
	// AddTransport registers a freshly opened receive endpoint's socket
	// for inbound polling. Sent once per distinct channel endpoint, the
	// first time a subscription needs it.
	AddTransport Transport
}

type subscribeRequest struct {
	StreamID int32
	Channel  string
}

type unsubscribeRequest struct {
	StreamID int32
	Channel  string
}

// ReceiverToConductor is a message the Receiver hands to the Conductor.
type ReceiverToConductor struct {
	RequestImage *dispatcher.SetupInfo
	ImageInactive *image.Image
}

// SenderProxy is the Conductor's outbound handle to the Sender, and the
// Sender's inbound handle in turn; both directions are covered by plain
// unidirectional channels since the Sender never talks back to the
// Conductor (it only mutates Publication.SenderPosition, which the
// Conductor polls by reading the shared pointer — each field has exactly
// one mutator).
type SenderProxy struct {
	ch chan ConductorToSender
}

// NewSenderProxy constructs a SenderProxy.
func NewSenderProxy() *SenderProxy {
	return &SenderProxy{ch: make(chan ConductorToSender, proxyQueueCapacity)}
}

// Offer enqueues msg, reporting false if the queue is full (the
// Conductor should retry next work cycle rather than block).
func (p *SenderProxy) Offer(msg ConductorToSender) bool {
	select {
	case p.ch <- msg:
		return true
	default:
		return false
	}
}

// Poll dequeues the next message, if any.
func (p *SenderProxy) Poll() (ConductorToSender, bool) {
	select {
	case msg := <-p.ch:
		return msg, true
	default:
		return ConductorToSender{}, false
	}
}

// ReceiverProxy is the Conductor's outbound handle to the Receiver.
type ReceiverProxy struct {
	ch chan ConductorToReceiver
}

// NewReceiverProxy constructs a ReceiverProxy.
func NewReceiverProxy() *ReceiverProxy {
	return &ReceiverProxy{ch: make(chan ConductorToReceiver, proxyQueueCapacity)}
}

// Offer enqueues msg, reporting false if the queue is full.
func (p *ReceiverProxy) Offer(msg ConductorToReceiver) bool {
	select {
	case p.ch <- msg:
		return true
	default:
		return false
	}
}

// Poll dequeues the next message, if any.
func (p *ReceiverProxy) Poll() (ConductorToReceiver, bool) {
	select {
	case msg := <-p.ch:
		return msg, true
	default:
		return ConductorToReceiver{}, false
	}
}

// ConductorProxy is the Receiver's (and, in principle, Sender's) outbound
// handle back to the Conductor — only the Receiver currently uses it, to
// request image creation and report inactivity.
type ConductorProxy struct {
	ch chan ReceiverToConductor
}

// NewConductorProxy constructs a ConductorProxy.
func NewConductorProxy() *ConductorProxy {
	return &ConductorProxy{ch: make(chan ReceiverToConductor, proxyQueueCapacity)}
}

// Offer enqueues msg, reporting false if the queue is full.
func (p *ConductorProxy) Offer(msg ReceiverToConductor) bool {
	select {
	case p.ch <- msg:
		return true
	default:
		return false
	}
}

// Poll dequeues the next message, if any.
func (p *ConductorProxy) Poll() (ReceiverToConductor, bool) {
	select {
	case msg := <-p.ch:
		return msg, true
	default:
		return ReceiverToConductor{}, false
	}
}
