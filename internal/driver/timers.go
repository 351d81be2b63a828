package driver

import (
	"time"

	"github.com/flowdriver/flowdriver/internal/image"
	"github.com/flowdriver/flowdriver/internal/logbuffer"
	"github.com/flowdriver/flowdriver/internal/protocol"
	"github.com/flowdriver/flowdriver/internal/publication"
)

// sweepClients reaps clients that have missed ClientLivenessTimeout
// worth of CLIENT_KEEPALIVE commands, unwinding every publication and
// subscription they still hold open.
func (c *Conductor) sweepClients(now time.Time) int {
	work := 0
	var dead []int64
	c.registries.ClientsByID.Each(func(id int64, cl *Client) {
		if now.Sub(cl.LastKeepaliveAt) > c.cfg.ClientLivenessTimeout {
			dead = append(dead, id)
		}
	})
	for _, id := range dead {
		cl, ok := c.registries.ClientsByID.Get(id)
		if !ok {
			continue
		}
		c.reapClient(cl, now)
		c.registries.ClientsByID.Remove(id)
		c.countersMgr.Increment(c.clientTimeoutsCounterID, 1)
		c.emitEvent(protocol.NewClientTimeout(id))
		work++
	}
	return work
}

// reapClient drops every resource a timed-out client still references,
// following the same ref-counted drain path an explicit REMOVE_* command
// would.
func (c *Conductor) reapClient(cl *Client, now time.Time) {
	for _, regID := range append([]int64(nil), cl.Publications...) {
		p, ok := c.registries.PublicationsByReg.Get(regID)
		if !ok {
			continue
		}
		if p.DecRef() {
			p.BeginDraining(now)
			p.LogBuffer.Meta.SetEndOfStreamPositionOrdered(p.SenderPosition)
		}
	}
	for _, regID := range append([]int64(nil), cl.Subscriptions...) {
		sub, ok := c.registries.SubscriptionsByReg.Get(regID)
		if !ok {
			continue
		}
		for imgRegID, counterID := range sub.PositionCounterID {
			c.registries.Counters.Free(counterID)
			if p, ok := c.registries.PublicationsByReg.Get(imgRegID); ok {
				p.SubscriberPositionIDs = removeInt32(p.SubscriberPositionIDs, counterID)
			}
		}
		c.registries.SubscriptionsByReg.Remove(regID)
		if !c.anySubscriptionOn(sub.StreamID, sub.Channel) {
			c.receiverProxy.Offer(ConductorToReceiver{Unsubscribe: &unsubscribeRequest{StreamID: sub.StreamID, Channel: sub.Channel}})
		}
	}
}

// sweepPublications advances DRAINING -> LINGER -> CLOSED for every
// registered publication once every subscriber has consumed up to its
// end-of-stream position.
func (c *Conductor) sweepPublications(now time.Time) int {
	work := 0
	var toClose []*publication.Publication
	c.registries.PublicationsByReg.Each(func(_ int64, p *publication.Publication) {
		switch p.State {
		case publication.StateDraining:
			if p.AllSubscribersDrained(c.countersMgr.Get) {
				p.BeginLinger(now, c.cfg.PublicationLingerTimeout)
				work++
			}
		case publication.StateLinger:
			if p.ReadyToClose(now) {
				toClose = append(toClose, p)
			}
		}
	})
	for _, p := range toClose {
		c.closePublication(p)
		work++
	}
	return work
}

// sweepImages advances DRAINING -> LINGER -> CLOSED; the ACTIVE ->
// DRAINING transition itself is detected inline by the Receiver agent
// (receiver.go's scanImage), which has direct visibility into inbound
// activity and EOS bits.
func (c *Conductor) sweepImages(now time.Time) int {
	work := 0
	var toClose []*image.Image
	c.registries.ImagesByReg.Each(func(_ int64, img *image.Image) {
		switch img.State {
		case image.StateDraining:
			img.BeginLinger(now, c.cfg.ImageLingerTimeout)
			work++
		case image.StateLinger:
			if img.ReadyToClose(now) {
				toClose = append(toClose, img)
			}
		}
	})
	for _, img := range toClose {
		c.closeImage(img)
		work++
	}
	return work
}

// sweepUnblock detects a publisher stalled mid-claim (crashed between
// reserving a frame slot and committing it) by watching for
// SenderPosition to stop advancing past PublicationUnblockTimeout, then
// calls logbuffer.Unblock to fill the gap so the Sender and any readers
// can make progress again.
func (c *Conductor) sweepUnblock(now time.Time) int {
	work := 0
	for regID, entry := range c.pubEntries {
		p := entry.pub
		if p.State == publication.StateClosed {
			delete(c.pubEntries, regID)
			continue
		}
		pos := p.SenderPosition
		if pos != entry.lastSenderPos {
			entry.lastSenderPos = pos
			entry.lastProgressAt = now
			continue
		}
		if now.Sub(entry.lastProgressAt) < c.cfg.PublicationUnblockTimeout {
			continue
		}

		termLength := p.LogBuffer.Meta.TermLength()
		bitsToShift := int32(logbuffer.PositionBitsToShift(termLength))
		termID := logbuffer.ComputeTermID(logbuffer.Position(pos), p.LogBuffer.Meta.InitialTermID(), uint(bitsToShift))
		termOffset := logbuffer.ComputeTermOffset(logbuffer.Position(pos), uint(bitsToShift))
		termIndex := logbuffer.ComputeTermIndex(termID)

		rawTail := p.LogBuffer.Meta.RawTail(termIndex)
		_, tailOffset := logbuffer.UnpackTermID(rawTail), logbuffer.UnpackTermOffset(rawTail)

		status := logbuffer.Unblock(p.LogBuffer.Terms[termIndex], termOffset, tailOffset, termID)
		if status != logbuffer.NoAction {
			c.countersMgr.Increment(c.unblockedCounterID, 1)
			entry.lastProgressAt = now
			work++
		}
	}
	return work
}
