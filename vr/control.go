package vr

import (
	"time"

	"github.com/kfsvr/metavr/vrpb"
)

// ControlCallback adapts inbound VR control messages, delivered by
// whatever net manager a driving loop wires up, into the state
// machine's Handle* surface. Like LogTransmitterCallback, it exists
// so the net manager collaborator never touches StateMachine fields
// directly from its own accept/read goroutines; every dispatch is
// deferred onto the driving thread via enqueueInbound, per spec.md §5.
type ControlCallback struct {
	SM *StateMachine
}

// OnStartViewChange dispatches an inbound StartViewChange.
func (c *ControlCallback) OnStartViewChange(msg vrpb.StartViewChange) {
	c.SM.enqueueInbound(func(now time.Time) {
		if err := c.SM.HandleStartViewChange(now, msg); err != nil {
			vrLogger.Warningf("node %d: StartViewChange from %d: %v", c.SM.id, msg.From, err)
		}
	})
}

// OnDoViewChange dispatches an inbound DoViewChange.
func (c *ControlCallback) OnDoViewChange(msg vrpb.DoViewChange) {
	c.SM.enqueueInbound(func(now time.Time) {
		if err := c.SM.HandleDoViewChange(now, msg); err != nil {
			vrLogger.Warningf("node %d: DoViewChange from %d: %v", c.SM.id, msg.From, err)
		}
	})
}

// OnStartView dispatches an inbound StartView.
func (c *ControlCallback) OnStartView(msg vrpb.StartView) {
	c.SM.enqueueInbound(func(now time.Time) {
		if err := c.SM.HandleStartView(now, msg); err != nil {
			vrLogger.Warningf("node %d: StartView from %d: %v", c.SM.id, msg.From, err)
		}
	})
}

// OnTransferPrimary dispatches an inbound TransferPrimary request.
func (c *ControlCallback) OnTransferPrimary(msg vrpb.TransferPrimary) {
	c.SM.enqueueInbound(func(now time.Time) {
		if err := c.SM.HandleTransferPrimary(msg); err != nil {
			vrLogger.Warningf("node %d: TransferPrimary from %d: %v", c.SM.id, msg.From, err)
		}
	})
}

// OnReadIndex dispatches an inbound ReadIndex request.
func (c *ControlCallback) OnReadIndex(msg vrpb.ReadIndex) {
	c.SM.enqueueInbound(func(now time.Time) {
		if err := c.SM.HandleReadIndex(msg); err != nil {
			vrLogger.Warningf("node %d: ReadIndex from %d: %v", c.SM.id, msg.From, err)
		}
	})
}

// OnHello dispatches an inbound Hello handshake. Unlike the other
// control messages, HandleHello cannot fail; it only compares epochs
// and queues a reply.
func (c *ControlCallback) OnHello(msg vrpb.Hello) {
	c.SM.enqueueInbound(func(now time.Time) {
		c.SM.HandleHello(msg)
	})
}
