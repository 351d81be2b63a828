package driver

import (
	"testing"
	"time"

	"github.com/flowdriver/flowdriver/internal/image"
	"github.com/flowdriver/flowdriver/internal/logbuffer"
	"github.com/flowdriver/flowdriver/internal/protocol"
	"github.com/flowdriver/flowdriver/internal/publication"
)

func TestSweepClientsReapsATimedOutClientAndDrainsItsPublication(t *testing.T) {
	c, rd := newTestConductor()
	c.cfg.ClientLivenessTimeout = time.Second

	now := time.Now()
	c.handleCommand(protocol.NewAddPublication(1, 10, 7, "aeron:ipc", false), now)
	_ = nextEvent(t, rd) // PUBLICATION_READY

	cl, ok := c.registries.ClientsByID.Get(10)
	if !ok {
		t.Fatal("expected the conductor to have registered client 10")
	}
	cl.LastKeepaliveAt = now.Add(-2 * time.Second)

	work := c.sweepClients(now)
	if work == 0 {
		t.Fatal("expected sweepClients to reap the timed-out client")
	}
	if _, ok := c.registries.ClientsByID.Get(10); ok {
		t.Fatal("expected the client to be removed from the registry")
	}

	timeout := nextEvent(t, rd)
	if timeout.Type != protocol.ClientTimeout || timeout.ClientID != 10 {
		t.Fatalf("unexpected event after reaping client: %+v", timeout)
	}

	p, ok := c.registries.PublicationsByReg.Get(1)
	if !ok {
		t.Fatal("expected the publication to still be registered while draining")
	}
	if p.State != publication.StateDraining {
		t.Fatalf("expected the publication to begin draining, got %s", p.State)
	}
}

func TestSweepPublicationsAdvancesDrainingToLingerThenCloses(t *testing.T) {
	c, _ := newTestConductor()
	c.cfg.PublicationLingerTimeout = time.Millisecond

	lb := AllocateInMemory(64*1024, 1408, 0)
	p := publication.NewPublication(1, 1, 7, "aeron:ipc", publication.KindIPC, lb)
	c.registries.RegisterPublication(p)

	now := time.Now()
	p.BeginDraining(now)
	p.LogBuffer.Meta.SetEndOfStreamPositionOrdered(0)

	if work := c.sweepPublications(now); work == 0 {
		t.Fatal("expected sweepPublications to advance DRAINING to LINGER")
	}
	if p.State != publication.StateLinger {
		t.Fatalf("expected LINGER, got %s", p.State)
	}

	later := now.Add(time.Second)
	if work := c.sweepPublications(later); work == 0 {
		t.Fatal("expected sweepPublications to close the lingered publication")
	}
	if _, ok := c.registries.PublicationsByReg.Get(1); ok {
		t.Fatal("expected the publication to be unregistered after close")
	}
}

func TestSweepImagesAdvancesDrainingToLingerThenCloses(t *testing.T) {
	c, _ := newTestConductor()
	c.cfg.ImageLingerTimeout = time.Millisecond

	lb := AllocateInMemory(64*1024, 1408, 0)
	img := image.NewImage(1, 1, 7, 0, "aeron:udp?endpoint=127.0.0.1:40220", "127.0.0.1:50000", lb, 0, nil, nil, 2)
	c.registries.RegisterImage(img)

	now := time.Now()
	img.State = image.StateDraining

	if work := c.sweepImages(now); work == 0 {
		t.Fatal("expected sweepImages to advance DRAINING to LINGER")
	}
	if img.State != image.StateLinger {
		t.Fatalf("expected LINGER, got %s", img.State)
	}

	later := now.Add(time.Second)
	if work := c.sweepImages(later); work == 0 {
		t.Fatal("expected sweepImages to close the lingered image")
	}
	if _, ok := c.registries.ImagesByReg.Get(1); ok {
		t.Fatal("expected the image to be unregistered after close")
	}
}

func TestSweepUnblockTakesNoActionWhenNothingIsClaimed(t *testing.T) {
	c, _ := newTestConductor()
	c.cfg.PublicationUnblockTimeout = time.Millisecond

	lb := AllocateInMemory(64*1024, 1408, 0)
	p := publication.NewPublication(1, 1, 7, "aeron:udp?endpoint=127.0.0.1:40221", publication.KindNetwork, lb)
	c.registries.RegisterPublication(p)

	now := time.Now()
	c.pubEntries[1] = &pubConductorEntry{pub: p, lastSenderPos: 0, lastProgressAt: now.Add(-time.Second)}

	work := c.sweepUnblock(now)
	if work != 0 {
		t.Fatalf("expected no unblock action against an empty term, got work=%d", work)
	}
	if logbuffer.FrameLength(p.LogBuffer.Terms[0], 0) != 0 {
		t.Fatal("expected the term to remain untouched")
	}
}

func TestSweepUnblockTracksSenderProgressAcrossCalls(t *testing.T) {
	c, _ := newTestConductor()
	c.cfg.PublicationUnblockTimeout = time.Hour

	lb := AllocateInMemory(64*1024, 1408, 0)
	p := publication.NewPublication(1, 1, 7, "aeron:udp?endpoint=127.0.0.1:40222", publication.KindNetwork, lb)
	c.registries.RegisterPublication(p)

	now := time.Now()
	entry := &pubConductorEntry{pub: p, lastSenderPos: 0, lastProgressAt: now}
	c.pubEntries[1] = entry

	p.SenderPosition = 128
	c.sweepUnblock(now)

	if entry.lastSenderPos != 128 {
		t.Fatalf("expected lastSenderPos to track SenderPosition, got %d", entry.lastSenderPos)
	}
	if !entry.lastProgressAt.Equal(now) {
		t.Fatal("expected lastProgressAt to be refreshed when the sender made progress")
	}
}
