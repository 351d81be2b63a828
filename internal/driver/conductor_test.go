package driver

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowdriver/flowdriver/internal/protocol"
	"github.com/flowdriver/flowdriver/internal/ringbuf"
)

func newTestConductor() (*Conductor, *ringbuf.Reader) {
	cfg := ConductorConfig{MaxCounters: 64, TermLength: 64 * 1024, MTU: 1408}
	eventBroadcast := ringbuf.NewBroadcast(4096)
	c := NewConductor(ringbuf.NewMPSC(4096), eventBroadcast, NewReceiverProxy(), NewConductorProxy(), nil, cfg, zerolog.Nop())
	return c, eventBroadcast.NewReader()
}

func nextEvent(t *testing.T, rd *ringbuf.Reader) protocol.Event {
	t.Helper()
	_, payload, lapped, ok := rd.Receive()
	if lapped {
		t.Fatal("reader unexpectedly lapped")
	}
	if !ok {
		t.Fatal("expected an event to be available")
	}
	ev, err := protocol.DecodeEvent(payload)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	return ev
}

func TestConductorAttachesAnIPCSubscriptionToAnExistingPublication(t *testing.T) {
	c, rd := newTestConductor()
	now := time.Now()

	c.handleCommand(protocol.NewAddPublication(1, 10, 7, "aeron:ipc", false), now)
	ready := nextEvent(t, rd)
	if ready.Type != protocol.PublicationReady || ready.CorrelationID != 1 {
		t.Fatalf("unexpected publication ready event: %+v", ready)
	}

	c.handleCommand(protocol.NewAddSubscription(2, 11, 7, "aeron:ipc"), now)

	avail := nextEvent(t, rd)
	if avail.Type != protocol.AvailableImage {
		t.Fatalf("expected AVAILABLE_IMAGE before SUBSCRIPTION_READY, got %+v", avail)
	}
	if avail.StreamID != 7 || avail.SessionID != ready.SessionID {
		t.Fatalf("unexpected available image event: %+v", avail)
	}

	subReady := nextEvent(t, rd)
	if subReady.Type != protocol.SubscriptionReady || subReady.CorrelationID != 2 {
		t.Fatalf("unexpected subscription ready event: %+v", subReady)
	}
}

func TestConductorAddCounterThenRemoveCounterRoundTrips(t *testing.T) {
	c, rd := newTestConductor()
	now := time.Now()

	c.handleCommand(protocol.NewAddCounter(5, 10, 42, nil, "my-counter"), now)
	ready := nextEvent(t, rd)
	if ready.Type != protocol.CounterReady || ready.CorrelationID != 5 {
		t.Fatalf("unexpected counter ready event: %+v", ready)
	}

	c.handleCommand(protocol.NewRemoveCounter(6, 10, ready.RegistrationID), now)
	success := nextEvent(t, rd)
	if success.Type != protocol.OperationSuccess || success.CorrelationID != 6 {
		t.Fatalf("unexpected operation success event: %+v", success)
	}

	c.handleCommand(protocol.NewRemoveCounter(7, 10, ready.RegistrationID), now)
	errEvt := nextEvent(t, rd)
	if errEvt.Type != protocol.Error || errEvt.ErrorCode != protocol.ErrorUnknownCounter {
		t.Fatalf("expected unknown-counter error on second removal, got %+v", errEvt)
	}
}

func TestConductorRemovePublicationRejectsUnknownRegistration(t *testing.T) {
	c, rd := newTestConductor()

	c.handleCommand(protocol.NewRemovePublication(3, 10, 999), time.Now())
	errEvt := nextEvent(t, rd)
	if errEvt.Type != protocol.Error || errEvt.ErrorCode != protocol.ErrorUnknownPublication {
		t.Fatalf("expected unknown-publication error, got %+v", errEvt)
	}
}

func TestConductorTerminateDriverSetsTerminated(t *testing.T) {
	c, _ := newTestConductor()

	if c.Terminated() {
		t.Fatal("expected a freshly constructed Conductor to not be terminated")
	}
	c.handleCommand(protocol.NewTerminateDriver(10), time.Now())
	if !c.Terminated() {
		t.Fatal("expected TERMINATE_DRIVER to set Terminated()")
	}
}
