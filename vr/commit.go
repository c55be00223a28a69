package vr

import (
	"fmt"
	"time"

	"github.com/kfsvr/metavr/logseq"
	"github.com/kfsvr/metavr/logxmit"
	"github.com/kfsvr/metavr/vrconfig"
	"github.com/kfsvr/metavr/vrpb"
)

// ProposeLogBlock is called by the primary to replicate a new log
// block to every other node via the LogTransmitter collaborator.
// Acks flow back asynchronously through HandleLogBlockWriteDone.
func (sm *StateMachine) ProposeLogBlock(block vrpb.LogBlock) error {
	if sm.state != vrpb.REPLICA_STATE_PRIMARY_OPERATIONAL {
		return ErrNotPrimary
	}
	if sm.transmitter == nil {
		return fmt.Errorf("%w: no LogTransmitter configured", ErrProtocol)
	}
	if _, exists := sm.backupAcks[block.EndSeq]; !exists {
		sm.backupAcks[block.EndSeq] = vrpb.NewBallot(sm.config.Quorum())
	}
	sm.backupAcks[block.EndSeq].Record(sm.id, true)
	sm.lastLogSeq = block.EndSeq
	return sm.transmitter.Transmit(block)
}

// HandleLogBlockWriteDone applies a peer's ack toward the commit rule
// from spec.md §4.4 "Commit rule": a block commits once Quorum
// distinct Active nodes (including the primary) have acked it in the
// current view. Duplicate and out-of-order acks are tolerated, per
// §4.5 "The state machine must tolerate duplicate acks (idempotent),
// out-of-order acks across peers (reorder-safe)".
func (sm *StateMachine) HandleLogBlockWriteDone(now time.Time, msg vrpb.LogBlockWriteDone) error {
	if sm.state == vrpb.REPLICA_STATE_STOPPED {
		return ErrStopped
	}
	ballot, ok := sm.backupAcks[msg.EndSeq]
	if !ok {
		ballot = vrpb.NewBallot(sm.config.Quorum())
		sm.backupAcks[msg.EndSeq] = ballot
	}
	// The commit rule's quorum is Active-only (spec.md §4.4), and
	// ballot.Exhausted's activeN budget counts only Active nodes too;
	// recording a Witness's ack here would inflate RespondedCount
	// against a budget it was never part of, tripping Exhausted early.
	if nd, ok := sm.config.Nodes[msg.From]; ok && nd.Flags.Active() {
		ballot.Record(msg.From, msg.WriteOk)
		sm.ackReadIndex(msg.From)
	}
	sm.lastAckAt = now

	if ballot.HasQuorum() && msg.EndSeq.Greater(sm.committedSeq) {
		sm.advanceCommit(msg.EndSeq)
	}
	return nil
}

// advanceCommit enforces Testable Property 1 "monotone commit":
// committedSeq only moves forward, and Testable Property 6 "no
// cross-view commit" is upheld because acks recorded in
// HandleLogBlockWriteDone only ever arrive for blocks this primary
// itself proposed in the current view.
func (sm *StateMachine) advanceCommit(seq logseq.LogSeq) {
	if seq.Less(sm.committedSeq) {
		return
	}
	sm.committedSeq = seq
	for endSeq := range sm.backupAcks {
		if endSeq.LessOrEqual(seq) {
			delete(sm.backupAcks, endSeq)
		}
	}
}

// HandleLogBlockFailed reports a peer's inability to persist a
// LogBlock. The primary does not itself retry here (that is the
// LogTransmitter's job per spec.md §4.5); it only steps down to
// ViewChange if the failure leaves quorum unreachable for an
// already-proposed block.
func (sm *StateMachine) HandleLogBlockFailed(now time.Time, msg vrpb.LogBlockFailed) error {
	if sm.state != vrpb.REPLICA_STATE_PRIMARY_OPERATIONAL {
		return nil
	}
	nd, known := sm.config.Nodes[msg.From]
	for endSeq, ballot := range sm.backupAcks {
		if !endSeq.Greater(sm.committedSeq) {
			continue
		}
		// Only Active nodes count toward a commit ballot; the sender
		// holds nothing past msg.LastLogSeq, so every pending block
		// ending after it is recorded as not granted by the sender.
		if known && nd.Flags.Active() && endSeq.Greater(msg.LastLogSeq) {
			ballot.Record(msg.From, false)
		}
		if ballot.Exhausted(sm.config.ActiveCount()) {
			sm.stepDownOnQuorumLoss(now)
			return fmt.Errorf("%w: block ending %s cannot reach quorum after failure from %d (%s)", ErrQuorumLost, endSeq, msg.From, msg.Reason)
		}
	}
	return nil
}

// stepDownOnQuorumLoss implements spec.md §4.4 "PrimaryOperational ->
// ViewChange on loss of quorum acks within backupTimeout_s" triggered
// early by an explicit failure report rather than by timer expiry.
func (sm *StateMachine) stepDownOnQuorumLoss(now time.Time) {
	sm.enterViewChange(now, sm.epoch, sm.view+1)
}

// InstallConfig atomically swaps in a new Configuration at a log
// record's commit boundary, per spec.md §4.4 "Reconfiguration": "When
// a config record commits, the state machine installs the new config
// atomically at the commit boundary, then evaluates whether the local
// node remains Active." Concurrent view changes keep using the old
// config's quorum until this call runs.
func (sm *StateMachine) InstallConfig(newConfig *vrconfig.Configuration) error {
	if err := newConfig.Validate(); err != nil {
		return err
	}
	sm.config = newConfig.Clone()
	sm.primaryTimeout = timeDuration(sm.config.PrimaryTimeoutSec)
	sm.backupTimeout = timeDuration(sm.config.BackupTimeoutSec)

	nd, stillPresent := sm.config.Nodes[sm.id]
	if !stillPresent || !nd.Flags.Active() {
		sm.state = vrpb.REPLICA_STATE_RECONFIGURATION
		vrLogger.Warningf("node %d: reconfiguration removed it from the Active set, draining", sm.id)
	}
	return nil
}

func timeDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}

// LogTransmitterCallback adapts logxmit's ack callbacks into the
// state machine's Handle* surface, used by the driving loop to wire a
// concrete LogTransmitter implementation without it depending on the
// vr package directly (spec.md §9 "Cyclic observers": a one-way
// ownership edge plus a back-reference callback interface).
type LogTransmitterCallback struct {
	SM *StateMachine
}

var _ logxmit.AckSink = (*LogTransmitterCallback)(nil)

func (c *LogTransmitterCallback) OnLogBlockWriteDone(from vrconfig.NodeId, startSeq, endSeq, committedSeq, lastViewEndSeq logseq.LogSeq, writeOk bool) {
	c.SM.enqueueInbound(func(now time.Time) {
		c.SM.HandleLogBlockWriteDone(now, vrpb.LogBlockWriteDone{
			From:           from,
			StartSeq:       startSeq,
			EndSeq:         endSeq,
			CommittedSeq:   committedSeq,
			LastViewEndSeq: lastViewEndSeq,
			WriteOk:        writeOk,
		})
	})
}

func (c *LogTransmitterCallback) OnLogBlockFailed(from vrconfig.NodeId, lastLogSeq logseq.LogSeq, reason string) {
	c.SM.enqueueInbound(func(now time.Time) {
		c.SM.HandleLogBlockFailed(now, vrpb.LogBlockFailed{From: from, LastLogSeq: lastLogSeq, Reason: reason})
	})
}
