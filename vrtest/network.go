// Package vrtest provides an in-memory fake multi-node network used to
// drive the VR state machine's end-to-end scenarios without real
// sockets: every vr.StateMachine's outbox is drained and routed
// directly into its peers' Handle* calls on the calling goroutine.
//
// (etcd raft.rafttest's fake network harness, narrowed from raftpb.Message
// routing to dispatch over the vr package's typed OutboundMessage payloads)
package vrtest

import (
	"fmt"
	"time"

	"github.com/kfsvr/metavr/vr"
	"github.com/kfsvr/metavr/vrconfig"
	"github.com/kfsvr/metavr/vrpb"
)

type edge struct {
	from, to vrconfig.NodeId
}

// Network wires a fixed set of StateMachines together and routes the
// OutboundMessages any of them enqueue into the right peer's Handle*
// method, synchronously, on the test goroutine.
type Network struct {
	nodes   map[vrconfig.NodeId]*vr.StateMachine
	dropped map[edge]bool
}

// NewNetwork constructs a Network over nodes, keyed by node id.
func NewNetwork(nodes map[vrconfig.NodeId]*vr.StateMachine) *Network {
	return &Network{nodes: nodes, dropped: make(map[edge]bool)}
}

// Drop makes every message from `from` to `to` vanish, simulating a
// partition between the two nodes, until Heal is called.
func (n *Network) Drop(from, to vrconfig.NodeId) { n.dropped[edge{from, to}] = true }

// Heal reverses a prior Drop.
func (n *Network) Heal(from, to vrconfig.NodeId) { delete(n.dropped, edge{from, to}) }

// Converge repeatedly drains every node's outbox and routes its
// messages until no node has anything queued, or maxRounds is
// exhausted (a stuck protocol should not hang a test suite).
func (n *Network) Converge(now time.Time, maxRounds int) error {
	for round := 0; round < maxRounds; round++ {
		any := false
		for from, sm := range n.nodes {
			for _, msg := range sm.DrainOutbox() {
				any = true
				if err := n.route(now, from, msg); err != nil {
					return err
				}
			}
		}
		if !any {
			return nil
		}
	}
	return fmt.Errorf("vrtest: network did not converge within %d rounds", maxRounds)
}

func (n *Network) route(now time.Time, from vrconfig.NodeId, msg vr.OutboundMessage) error {
	targets := []vrconfig.NodeId{msg.To}
	if msg.To == vrconfig.NoNodeID {
		targets = nil
		for id := range n.nodes {
			if id != from {
				targets = append(targets, id)
			}
		}
	}

	for _, to := range targets {
		if n.dropped[edge{from, to}] {
			continue
		}
		sm, ok := n.nodes[to]
		if !ok {
			continue
		}
		if err := deliver(sm, now, msg.Payload); err != nil {
			return err
		}
	}
	return nil
}

// deliver dispatches payload to sm's matching Handle* method. Errors
// from Handle* (stale view, protocol mismatch) are swallowed the way
// a real driving loop would log-and-drop them, except for programmer
// errors (an unknown payload type), which fail the test outright.
func deliver(sm *vr.StateMachine, now time.Time, payload interface{}) error {
	switch m := payload.(type) {
	case vrpb.StartViewChange:
		sm.HandleStartViewChange(now, m)
	case vrpb.DoViewChange:
		sm.HandleDoViewChange(now, m)
	case vrpb.StartView:
		sm.HandleStartView(now, m)
	case vrpb.TransferPrimary:
		sm.HandleTransferPrimary(m)
	case vrpb.ReadIndex:
		sm.HandleReadIndex(m)
	default:
		return fmt.Errorf("vrtest: no route for payload type %T", payload)
	}
	return nil
}
